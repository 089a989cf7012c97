// Package offsets implements OffsetFetcher: given a topic and a
// partition->leader map, it opens one synchronous connection per leader
// broker and asks for the latest (log-end) offset of each partition that
// broker leads. Grounded on the teacher's own Kafka offset-fetching code
// (pkg/ingest's PartitionOffsetClient, built on twmb/franz-go), adapted
// from "ask the cluster" metadata-driven routing to the spec's
// direct-to-leader connection model.
package offsets

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/grafana/kafka-cartographer/clusterobserver/model"
)

const (
	// ClientID is the identifier this component presents to brokers,
	// matching the spec's "partitionOffsetGetter".
	ClientID = "partitionOffsetGetter"

	// DefaultSocketTimeout and DefaultReadBufferBytes match the spec's
	// stated SimpleConsumer parameters (10s timeout, 100 000-byte buffer).
	DefaultSocketTimeout   = 10 * time.Second
	DefaultReadBufferBytes = 100 * 1000
)

// Metrics are the Fetcher's prometheus instrumentation.
type Metrics struct {
	fetchDuration *prometheus.HistogramVec
	fetchFailures *prometheus.CounterVec
}

// NewMetrics registers Fetcher metrics with reg. reg may be nil in
// tests, in which case metrics are tracked but never exposed.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kafka_cartographer",
			Name:      "offset_fetch_duration_seconds",
			Help:      "Time spent fetching the latest offsets from one broker.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"broker"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kafka_cartographer",
			Name:      "offset_fetch_failures_total",
			Help:      "Count of failed per-broker offset fetch attempts.",
		}, []string{"broker"}),
	}
	if reg != nil {
		reg.MustRegister(m.fetchDuration, m.fetchFailures)
	}
	return m
}

// Fetcher issues OffsetsBefore(-1)-equivalent requests directly against
// partition leaders.
type Fetcher struct {
	logger  log.Logger
	metrics *Metrics

	socketTimeout time.Duration
	readBuffer    int

	mu      sync.Mutex
	clients map[string]*kgo.Client // brokerAddr -> cached client
}

// Option configures a Fetcher at construction.
type Option func(*Fetcher)

// WithSocketTimeout overrides the default per-broker socket timeout.
func WithSocketTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.socketTimeout = d
		}
	}
}

// New creates a Fetcher. Brokers are dialed lazily and connections are
// cached for reuse across calls; Close releases them all.
func New(logger log.Logger, metrics *Metrics, opts ...Option) *Fetcher {
	f := &Fetcher{
		logger:        logger,
		metrics:       metrics,
		socketTimeout: DefaultSocketTimeout,
		readBuffer:    DefaultReadBufferBytes,
		clients:       make(map[string]*kgo.Client),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Close closes every cached broker connection.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for addr, c := range f.clients {
		c.Close()
		delete(f.clients, addr)
	}
}

func (f *Fetcher) clientFor(broker model.BrokerIdentity) (*kgo.Client, error) {
	addr := fmt.Sprintf("%s:%d", broker.Host, broker.Port)

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[addr]; ok {
		return c, nil
	}

	c, err := kgo.NewClient(
		kgo.SeedBrokers(addr),
		kgo.ClientID(ClientID),
		kgo.DialTimeout(f.socketTimeout),
		kgo.RequestTimeoutOverhead(f.socketTimeout),
		kgo.BrokerMaxReadBytes(int32(f.readBuffer)),
		// kgo rejects fetch limits larger than the broker read limit, and
		// its defaults are far above readBuffer.
		kgo.FetchMaxBytes(int32(f.readBuffer)),
		kgo.FetchMaxPartitionBytes(int32(f.readBuffer)),
		kgo.DisableClientMetrics(),
	)
	if err != nil {
		return nil, err
	}
	f.clients[addr] = c
	return c, nil
}

// FetchLatestOffsets resolves each partition's leader against brokers,
// groups resolved partitions by leader, and issues one ListOffsets
// (latest) call per leader. Every failure — unresolved leader,
// connection error, Kafka error code, parse error — yields Offset{} for
// just that partition; the call itself never returns an error.
func (f *Fetcher) FetchLatestOffsets(ctx context.Context, topic string, partitionLeaders map[model.PartitionId]model.BrokerId, brokers map[model.BrokerId]model.BrokerIdentity) map[model.PartitionId]model.Offset {
	result := make(map[model.PartitionId]model.Offset, len(partitionLeaders))

	byLeader := make(map[model.BrokerId][]model.PartitionId)
	for partition, leader := range partitionLeaders {
		if _, ok := brokers[leader]; !ok {
			level.Debug(f.logger).Log("msg", "partition leader not resolvable", "topic", topic, "partition", partition, "leader", leader)
			continue
		}
		byLeader[leader] = append(byLeader[leader], partition)
	}

	for leader, partitions := range byLeader {
		broker := brokers[leader]
		offsets, err := f.fetchFromBroker(ctx, broker, topic, partitions)
		if err != nil {
			level.Warn(f.logger).Log("msg", "failed to fetch offsets from broker", "topic", topic, "broker", leader, "err", err)
			continue
		}
		for partition, offset := range offsets {
			result[partition] = offset
		}
	}

	return result
}

func (f *Fetcher) fetchFromBroker(ctx context.Context, broker model.BrokerIdentity, topic string, partitions []model.PartitionId) (map[model.PartitionId]model.Offset, error) {
	start := time.Now()
	brokerLabel := fmt.Sprintf("%d", broker.ID)
	defer func() {
		if f.metrics != nil {
			f.metrics.fetchDuration.WithLabelValues(brokerLabel).Observe(time.Since(start).Seconds())
		}
	}()

	client, err := f.clientFor(broker)
	if err != nil {
		f.countFailure(brokerLabel)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.socketTimeout)
	defer cancel()

	// kadm.Client.Close also closes the underlying kgo.Client, which is
	// cached and reused across calls here, so the kadm wrapper is never
	// closed — only the cached kgo.Client is, in Fetcher.Close.
	adm := kadm.NewClient(client)

	listed, err := adm.ListEndOffsets(ctx, topic)
	if err != nil {
		f.countFailure(brokerLabel)
		return nil, err
	}

	wanted := make(map[int32]bool, len(partitions))
	for _, p := range partitions {
		wanted[int32(p)] = true
	}

	out := make(map[model.PartitionId]model.Offset, len(partitions))
	listed.Each(func(o kadm.ListedOffset) {
		if !wanted[o.Partition] {
			return
		}
		if o.Err != nil {
			level.Debug(f.logger).Log("msg", "broker returned error for partition", "topic", topic, "partition", o.Partition, "err", o.Err)
			return
		}
		out[model.PartitionId(o.Partition)] = model.SomeOffset(o.Offset)
	})
	return out, nil
}

func (f *Fetcher) countFailure(brokerLabel string) {
	if f.metrics != nil {
		f.metrics.fetchFailures.WithLabelValues(brokerLabel).Inc()
	}
}

// SortedPartitionIDs returns the keys of a partition->offset map in
// ascending order, for callers that need deterministic presentation
// ordering.
func SortedPartitionIDs(offsets map[model.PartitionId]model.Offset) []model.PartitionId {
	ids := make([]model.PartitionId, 0, len(offsets))
	for id := range offsets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
