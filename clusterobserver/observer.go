// Package clusterobserver implements the per-cluster observer actor: it
// owns six PathMirrors, the two freshness clocks, the admin event
// router and its trackers, and an OffsetFetcher, and serves the closed
// set of query/command messages described by this repository's spec by
// composing those collaborators. Every mirror event and every request
// is processed by a single goroutine, following the same
// single-writer-actor discipline as the teacher's
// modules/backendscheduler.BackendScheduler.
package clusterobserver

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samuel/go-zookeeper/zk"

	"github.com/grafana/dskit/services"
	"github.com/grafana/kafka-cartographer/clusterobserver/model"
	"github.com/grafana/kafka-cartographer/internal/admin"
	"github.com/grafana/kafka-cartographer/internal/freshness"
	"github.com/grafana/kafka-cartographer/internal/mirror"
	"github.com/grafana/kafka-cartographer/internal/offsets"
	"github.com/grafana/kafka-cartographer/internal/zkpayload"
)

const (
	brokersIDsPath       = "/brokers/ids"
	brokersTopicsPath    = "/brokers/topics"
	configTopicsPath     = "/config/topics"
	consumersPath        = "/consumers"
	adminPath            = "/admin"
	adminDeleteTopicsPath = "/admin/delete_topics"
)

// zkConnector abstracts zk.Connect for testability.
type zkConnector func(servers []string, sessionTimeout time.Duration) (*zk.Conn, <-chan zk.Event, error)

// Observer mirrors and serves queries for one Kafka cluster.
type Observer struct {
	services.Service

	cfg    Config
	logger log.Logger
	connect zkConnector

	zkConn *zk.Conn

	topicsClock    *freshness.Clock
	consumersClock *freshness.Clock

	idsMirror          *mirror.Mirror
	topicsMirror       *mirror.Mirror
	topicConfigMirror  *mirror.Mirror
	consumersMirror    *mirror.Mirror
	adminMirror        *mirror.Mirror
	deleteTopicsMirror *mirror.Mirror

	electionTracker     *admin.ElectionTracker
	reassignmentTracker *admin.ReassignmentTracker
	adminRouter         *admin.Router

	offsetFetcher *offsets.Fetcher

	requests chan func()
	closed   chan struct{}
}

// New constructs an Observer. It does not connect to ZooKeeper until
// started, per dskit/services.Service lifecycle conventions.
func New(cfg Config, logger log.Logger, reg prometheus.Registerer) (*Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observer config: %w", err)
	}

	logger = log.With(logger, "cluster", cfg.ClusterName)

	o := &Observer{
		cfg:                 cfg,
		logger:              logger,
		connect:             zk.Connect,
		topicsClock:         &freshness.Clock{},
		consumersClock:      &freshness.Clock{},
		electionTracker:     admin.NewElectionTracker(logger),
		reassignmentTracker: admin.NewReassignmentTracker(logger),
		offsetFetcher:       offsets.New(logger, offsets.NewMetrics(reg), offsets.WithSocketTimeout(cfg.OffsetFetchSocketTimeout)),
		requests:            make(chan func(), 64),
		closed:              make(chan struct{}),
	}
	o.adminRouter = admin.NewRouter(logger, o.electionTracker, o.reassignmentTracker)

	o.Service = services.NewBasicService(o.starting, o.running, o.stopping)
	return o, nil
}

func (o *Observer) chroot(path string) string {
	if o.cfg.ZooKeeperChroot == "" {
		return path
	}
	return o.cfg.ZooKeeperChroot + path
}

func (o *Observer) starting(ctx context.Context) error {
	conn, _, err := o.connect(o.cfg.ZooKeeperServers(), o.cfg.ZooKeeperSessionTimeout)
	if err != nil {
		return fmt.Errorf("connecting to zookeeper: %w", err)
	}
	o.zkConn = conn

	o.idsMirror = mirror.New(conn, o.chroot(brokersIDsPath), mirror.SingleLevel, &freshness.Clock{}, o.logger, nil)
	o.topicsMirror = mirror.New(conn, o.chroot(brokersTopicsPath), mirror.Subtree, o.topicsClock, o.logger, o.enqueueTopicsEvent)
	o.topicConfigMirror = mirror.New(conn, o.chroot(configTopicsPath), mirror.SingleLevel, o.topicsClock, o.logger, nil)
	o.consumersMirror = mirror.New(conn, o.chroot(consumersPath), mirror.Subtree, o.consumersClock, o.logger, nil)
	o.adminMirror = mirror.New(conn, o.chroot(adminPath), mirror.SingleLevel, &freshness.Clock{}, o.logger, o.enqueueAdminEvent)

	mirrors := []*mirror.Mirror{o.idsMirror, o.topicsMirror, o.topicConfigMirror, o.consumersMirror, o.adminMirror}

	if o.cfg.DeleteTopicsSupported {
		o.deleteTopicsMirror = mirror.New(conn, o.chroot(adminDeleteTopicsPath), mirror.SingleLevel, &freshness.Clock{}, o.logger, nil)
		mirrors = append(mirrors, o.deleteTopicsMirror)
	}

	for _, m := range mirrors {
		if err := m.Start(); err != nil {
			return fmt.Errorf("starting mirror: %w", err)
		}
	}

	return nil
}

func (o *Observer) running(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-o.requests:
			fn()
		}
	}
}

func (o *Observer) stopping(failureCase error) error {
	close(o.closed)
	for _, m := range []*mirror.Mirror{o.idsMirror, o.topicsMirror, o.topicConfigMirror, o.consumersMirror, o.adminMirror, o.deleteTopicsMirror} {
		if m != nil {
			m.Stop()
		}
	}
	o.offsetFetcher.Close()
	if o.zkConn != nil {
		o.zkConn.Close()
	}
	if failureCase != nil {
		level.Error(o.logger).Log("msg", "observer stopped after failure", "err", failureCase)
	}
	return nil
}

// enqueueTopicsEvent and enqueueAdminEvent are the mirrors' onEvent
// callbacks: they run on the mirror's own watch goroutines and must not
// touch observer state directly. enqueueAdminEvent enqueues a closure
// onto the actor's request queue; enqueueTopicsEvent ignores the event.
func (o *Observer) enqueueTopicsEvent(ev mirror.Event) {
	// Topic mirror changes only need the freshness clock, which the
	// mirror itself already advances; nothing further to serialise.
	_ = ev
}

// enqueueAdminEvent blocks until the event is accepted onto the actor's
// request queue (or the observer is stopping). Unlike a best-effort
// send, this never silently drops an admin mutation: the election and
// reassignment trackers learn of a change exclusively through this
// callback, so a dropped event would mean permanently missing state,
// not merely late state. The queue still drains promptly even while a
// query blocks the actor on OffsetFetcher I/O, since that blocking is
// bounded by the socket timeout.
func (o *Observer) enqueueAdminEvent(ev mirror.Event) {
	select {
	case o.requests <- func() { o.handleAdminEvent(ev) }:
	case <-o.closed:
		level.Debug(o.logger).Log("msg", "observer stopping, dropping admin event", "path", ev.Path)
	}
}

func (o *Observer) handleAdminEvent(ev mirror.Event) {
	vb, ok := o.adminMirror.CurrentDataAt(ev.Path)
	mtime := int64(0)
	var payload []byte
	if ok {
		mtime = vb.MtimeMillis
		payload = vb.Data
	}

	switch ev.Kind {
	case mirror.ChildAdded, mirror.ChildUpdated:
		o.adminRouter.ChildAddedOrUpdated(ev.Path, mtime, payload)
	case mirror.ChildRemoved:
		o.adminRouter.ChildRemoved(ev.Path, time.Now().UnixMilli())
	default:
		level.Warn(o.logger).Log("msg", "unhandled admin mirror event kind", "kind", ev.Kind)
	}
}

// do enqueues fn onto the actor's request queue and blocks until it has
// run, giving query/command callers the same serialisation guarantee as
// mirror events.
func (o *Observer) do(fn func()) {
	done := make(chan struct{})
	o.requests <- func() {
		fn()
		close(done)
	}
	<-done
}

// Handle dispatches one message from the closed set defined in
// messages.go. Unrecognised message types are logged at warning and
// produce a nil response, per spec §4.5 / §7.
func (o *Observer) Handle(ctx context.Context, msg interface{}) interface{} {
	var resp interface{}
	switch m := msg.(type) {
	case GetTopics:
		o.do(func() { resp = o.handleGetTopics() })
	case GetTopicDescription:
		o.do(func() { resp = o.handleGetTopicDescription(ctx, m) })
	case GetTopicDescriptions:
		o.do(func() { resp = o.handleGetTopicDescriptions(ctx, m) })
	case GetAllTopicDescriptions:
		o.do(func() { resp = o.handleGetAllTopicDescriptions(ctx, m) })
	case GetTopicConfig:
		o.do(func() { resp = o.handleGetTopicConfig(m) })
	case GetConsumers:
		o.do(func() { resp = o.handleGetConsumers() })
	case GetConsumerDescription:
		o.do(func() { resp = o.handleGetConsumerDescription(m) })
	case GetConsumerDescriptions:
		o.do(func() { resp = o.handleGetConsumerDescriptions(m) })
	case GetAllConsumerDescriptions:
		o.do(func() { resp = o.handleGetAllConsumerDescriptions(m) })
	case GetConsumedTopicState:
		o.do(func() { resp = o.handleGetConsumedTopicState(m) })
	case GetBrokers:
		o.do(func() { resp = o.handleGetBrokers() })
	case GetPreferredLeaderElection:
		o.do(func() { resp = GetPreferredLeaderElectionResponse{Election: o.electionTracker.Current()} })
	case GetReassignPartition:
		o.do(func() { resp = GetReassignPartitionResponse{Reassignment: o.reassignmentTracker.Current()} })
	case GetTopicsLastUpdateMillis:
		o.do(func() { resp = GetTopicsLastUpdateMillisResponse{Millis: o.topicsClock.Value()} })
	default:
		level.Warn(o.logger).Log("msg", "unknown message kind", "type", fmt.Sprintf("%T", msg))
		return nil
	}
	return resp
}

// allBrokers parses every currently mirrored broker registration,
// dropping (and logging) any that fail to parse.
func allBrokers(m *mirror.Mirror, logger log.Logger) map[model.BrokerId]model.BrokerIdentity {
	out := make(map[model.BrokerId]model.BrokerIdentity)
	for _, entry := range m.Snapshot() {
		id, err := strconv.Atoi(entry.Path)
		if err != nil {
			level.Warn(logger).Log("msg", "non-numeric broker id in mirror", "path", entry.Path)
			continue
		}
		identity, ok := zkpayload.ParseBrokerIdentity(model.BrokerId(id), entry.Data)
		if !ok {
			level.Error(logger).Log("msg", "failed to parse broker registration", "broker_id", id)
			continue
		}
		out[identity.ID] = identity
	}
	return out
}
