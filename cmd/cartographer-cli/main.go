// Command cartographer-cli is a small operator tool that opens its own
// short-lived Observer against a cluster's ZooKeeper ensemble and
// renders one query's result as a table, in the spirit of the
// teacher's tempo-cli direct-backend-read commands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-kit/log"
	"github.com/olekukonko/tablewriter"

	"github.com/grafana/dskit/services"
	"github.com/grafana/kafka-cartographer/clusterobserver"
)

type globalOptions struct {
	ZooKeeperServers string        `help:"Comma-separated ZooKeeper ensemble (host:port,...)." required:""`
	ZooKeeperChroot  string        `help:"ZooKeeper chroot path, if the cluster's znodes are not at the root."`
	ClusterName      string        `help:"Cluster name to report in logs." default:"cartographer-cli"`
	Timeout          time.Duration `help:"Overall command timeout." default:"30s"`
}

type cli struct {
	globalOptions

	Topics    topicsCmd    `cmd:"" help:"List topics known to the cluster."`
	Topic     topicCmd     `cmd:"" help:"Describe one topic's per-partition latest offsets."`
	Consumers consumersCmd `cmd:"" help:"List consumer groups known to the cluster."`
	Consumer  consumerCmd  `cmd:"" help:"Describe one consumer group's per-topic consumed state."`
	Brokers   brokersCmd   `cmd:"" help:"List brokers registered in the cluster."`
}

func main() {
	var c cli
	ktx := kong.Parse(&c, kong.Name("cartographer-cli"), kong.Description("Inspect a mirrored Kafka cluster's state."))
	ktx.FatalIfErrorf(ktx.Run(&c.globalOptions))
}

func (o *globalOptions) openObserver() (*clusterobserver.Observer, func(), error) {
	cfg := clusterobserver.Config{}
	cfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("cartographer-cli", flag.ContinueOnError))
	cfg.ClusterName = o.ClusterName
	cfg.ZooKeeperServersCSV = o.ZooKeeperServers
	cfg.ZooKeeperChroot = o.ZooKeeperChroot

	logger := log.NewLogfmtLogger(os.Stderr)
	obs, err := clusterobserver.New(cfg, logger, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("constructing observer: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.Timeout)
	defer cancel()
	if err := services.StartAndAwaitRunning(ctx, obs); err != nil {
		return nil, nil, fmt.Errorf("starting observer: %w", err)
	}

	cleanup := func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = services.StopAndAwaitTerminated(stopCtx, obs)
	}
	return obs, cleanup, nil
}

type topicsCmd struct{}

func (*topicsCmd) Run(o *globalOptions) error {
	obs, cleanup, err := o.openObserver()
	if err != nil {
		return err
	}
	defer cleanup()

	resp, _ := obs.Handle(context.Background(), clusterobserver.GetTopics{}).(clusterobserver.GetTopicsResponse)

	w := tablewriter.NewWriter(os.Stdout)
	w.Header([]string{"topic"})
	for _, t := range resp.Topics {
		_ = w.Append([]string{t})
	}
	for _, t := range resp.PendingDeleteTopics {
		_ = w.Append([]string{t + " (pending delete)"})
	}
	return w.Render()
}

type topicCmd struct {
	Name string `arg:"" help:"Topic name."`
}

func (c *topicCmd) Run(o *globalOptions) error {
	obs, cleanup, err := o.openObserver()
	if err != nil {
		return err
	}
	defer cleanup()

	resp, _ := obs.Handle(context.Background(), clusterobserver.GetTopicDescription{Topic: c.Name}).(clusterobserver.GetTopicDescriptionResponse)
	if resp.Description == nil {
		return fmt.Errorf("topic %q not found", c.Name)
	}

	w := tablewriter.NewWriter(os.Stdout)
	w.Header([]string{"partition", "latest offset"})
	for pid, offset := range resp.Description.PerPartitionLatestOffset {
		val := "unresolved"
		if offset.Ok {
			val = fmt.Sprintf("%d", offset.Value)
		}
		_ = w.Append([]string{fmt.Sprintf("%d", pid), val})
	}
	return w.Render()
}

type consumersCmd struct{}

func (*consumersCmd) Run(o *globalOptions) error {
	obs, cleanup, err := o.openObserver()
	if err != nil {
		return err
	}
	defer cleanup()

	resp, _ := obs.Handle(context.Background(), clusterobserver.GetConsumers{}).(clusterobserver.GetConsumersResponse)

	w := tablewriter.NewWriter(os.Stdout)
	w.Header([]string{"consumer group"})
	for _, g := range resp.Groups {
		_ = w.Append([]string{g})
	}
	return w.Render()
}

type consumerCmd struct {
	Group string `arg:"" help:"Consumer group name."`
}

func (c *consumerCmd) Run(o *globalOptions) error {
	obs, cleanup, err := o.openObserver()
	if err != nil {
		return err
	}
	defer cleanup()

	resp, _ := obs.Handle(context.Background(), clusterobserver.GetConsumerDescription{Group: c.Group}).(clusterobserver.GetConsumerDescriptionResponse)
	if resp.Description == nil {
		return fmt.Errorf("consumer group %q not found", c.Group)
	}

	w := tablewriter.NewWriter(os.Stdout)
	w.Header([]string{"topic", "partition", "committed", "owner"})
	for topic, state := range resp.Description.PerTopicConsumedState {
		for pid, committed := range state.ConsumerCommittedOffsets {
			owner := state.PartitionOwners[pid]
			_ = w.Append([]string{topic, fmt.Sprintf("%d", pid), fmt.Sprintf("%d", committed), owner})
		}
	}
	return w.Render()
}

type brokersCmd struct{}

func (*brokersCmd) Run(o *globalOptions) error {
	obs, cleanup, err := o.openObserver()
	if err != nil {
		return err
	}
	defer cleanup()

	resp, _ := obs.Handle(context.Background(), clusterobserver.GetBrokers{}).(clusterobserver.GetBrokersResponse)

	w := tablewriter.NewWriter(os.Stdout)
	w.Header([]string{"id", "host", "port"})
	for _, b := range resp.Brokers {
		_ = w.Append([]string{fmt.Sprintf("%d", b.ID), b.Host, fmt.Sprintf("%d", b.Port)})
	}
	return w.Render()
}
