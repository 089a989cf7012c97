package clusterobserver

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/kafka-cartographer/clusterobserver/model"
	"github.com/grafana/kafka-cartographer/internal/admin"
	"github.com/grafana/kafka-cartographer/internal/freshness"
	"github.com/grafana/kafka-cartographer/internal/mirror"
	"github.com/grafana/kafka-cartographer/internal/offsets"
	"github.com/grafana/kafka-cartographer/internal/zktest"
)

// waitForClockPast polls clock until it reports a value strictly
// greater than after, or fails the test once the deadline passes.
// Mirror watch delivery runs on its own goroutine, so tests that
// mutate a FakeConn and then immediately expect the clock to reflect
// it need to wait rather than read it synchronously.
func waitForClockPast(t *testing.T, clock *freshness.Clock, after int64) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if clock.Value() > after {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for clock to advance past %d", after)
		case <-time.After(time.Millisecond):
		}
	}
}

// newTestObserver wires an Observer directly against in-memory zktest
// conns, bypassing the ZooKeeper-connect services.Service lifecycle
// (starting/stopping) entirely: only the actor loop and the mirrors it
// reads from are under test here.
func newTestObserver(t *testing.T, cfg Config, ids, topics, topicConfig, consumers *zktest.FakeConn) *Observer {
	t.Helper()
	logger := log.NewNopLogger()

	o := &Observer{
		cfg:                 cfg,
		logger:              logger,
		topicsClock:         &freshness.Clock{},
		consumersClock:      &freshness.Clock{},
		electionTracker:     admin.NewElectionTracker(logger),
		reassignmentTracker: admin.NewReassignmentTracker(logger),
		offsetFetcher:       offsets.New(logger, nil),
		requests:            make(chan func(), 64),
	}
	o.adminRouter = admin.NewRouter(logger, o.electionTracker, o.reassignmentTracker)

	o.idsMirror = mirror.New(ids, "", mirror.SingleLevel, &freshness.Clock{}, logger, nil)
	o.topicsMirror = mirror.New(topics, "", mirror.Subtree, o.topicsClock, logger, nil)
	o.topicConfigMirror = mirror.New(topicConfig, "", mirror.SingleLevel, o.topicsClock, logger, nil)
	o.consumersMirror = mirror.New(consumers, "", mirror.Subtree, o.consumersClock, logger, nil)

	for _, m := range []*mirror.Mirror{o.idsMirror, o.topicsMirror, o.topicConfigMirror, o.consumersMirror} {
		require.NoError(t, m.Start())
	}

	go func() {
		for fn := range o.requests {
			fn()
		}
	}()
	t.Cleanup(func() {
		o.idsMirror.Stop()
		o.topicsMirror.Stop()
		o.topicConfigMirror.Stop()
		o.consumersMirror.Stop()
		o.offsetFetcher.Close()
		close(o.requests)
	})

	return o
}

func seedBrokers(conn *zktest.FakeConn) {
	conn.Create("/1", []byte(`{"host":"broker1","port":9092,"jmx_port":-1,"version":1}`))
}

func seedSingleTopic(conn *zktest.FakeConn) {
	conn.Create("/t", []byte(`{"version":1,"partitions":{"0":[1]}}`))
	conn.Create("/t/partitions", nil)
	conn.Create("/t/partitions/0", nil)
	conn.Create("/t/partitions/0/state", []byte(`{"leader":1,"isr":[1]}`))
}

func TestHandleGetTopics(t *testing.T) {
	ids, topics, cfgConn, consumers := zktest.New(), zktest.New(), zktest.New(), zktest.New()
	seedBrokers(ids)
	seedSingleTopic(topics)

	o := newTestObserver(t, Config{ClusterName: "c"}, ids, topics, cfgConn, consumers)

	resp := o.Handle(context.Background(), GetTopics{}).(GetTopicsResponse)
	assert.Equal(t, []string{"t"}, resp.Topics)
	assert.Empty(t, resp.PendingDeleteTopics)
}

func TestHandleGetBrokers(t *testing.T) {
	ids, topics, cfgConn, consumers := zktest.New(), zktest.New(), zktest.New(), zktest.New()
	seedBrokers(ids)

	o := newTestObserver(t, Config{ClusterName: "c"}, ids, topics, cfgConn, consumers)

	resp := o.Handle(context.Background(), GetBrokers{}).(GetBrokersResponse)
	require.Len(t, resp.Brokers, 1)
	assert.Equal(t, "broker1", resp.Brokers[0].Host)
	assert.EqualValues(t, 9092, resp.Brokers[0].Port)
}

func TestHandleGetTopicDescription(t *testing.T) {
	ids, topics, cfgConn, consumers := zktest.New(), zktest.New(), zktest.New(), zktest.New()
	seedBrokers(ids)
	seedSingleTopic(topics)

	o := newTestObserver(t, Config{ClusterName: "c"}, ids, topics, cfgConn, consumers)

	resp := o.Handle(context.Background(), GetTopicDescription{Topic: "t"}).(GetTopicDescriptionResponse)
	require.NotNil(t, resp.Description)
	assert.Equal(t, "t", resp.Description.Topic)
	assert.Contains(t, resp.Description.PerPartitionStateJSON, model.PartitionId(0))

	missing := o.Handle(context.Background(), GetTopicDescription{Topic: "nope"}).(GetTopicDescriptionResponse)
	assert.Nil(t, missing.Description)
}

// TestGetAllTopicDescriptions_FreshnessGate is scenario S6: a caller
// already at or ahead of the topics clock gets Produced=false instead
// of a full re-render.
func TestGetAllTopicDescriptions_FreshnessGate(t *testing.T) {
	ids, topics, cfgConn, consumers := zktest.New(), zktest.New(), zktest.New(), zktest.New()
	seedBrokers(ids)
	seedSingleTopic(topics)

	o := newTestObserver(t, Config{ClusterName: "c"}, ids, topics, cfgConn, consumers)

	first := o.Handle(context.Background(), GetAllTopicDescriptions{SinceMillis: 0}).(GetAllTopicDescriptionsResponse)
	require.True(t, first.Produced)
	require.Len(t, first.Descriptions, 1)

	stale := o.Handle(context.Background(), GetAllTopicDescriptions{SinceMillis: first.TopicsClockMillis}).(GetAllTopicDescriptionsResponse)
	assert.False(t, stale.Produced)

	topics.SetData("/t", []byte(`{"version":2,"partitions":{"0":[1]}}`))
	waitForClockPast(t, o.topicsClock, first.TopicsClockMillis)

	fresh := o.Handle(context.Background(), GetAllTopicDescriptions{SinceMillis: first.TopicsClockMillis}).(GetAllTopicDescriptionsResponse)
	assert.True(t, fresh.Produced)
}

// TestHandleGetConsumers_InactiveFiltering is scenario S4: a consumer
// group znode with too few children is excluded from GetConsumers when
// filtering is enabled.
func TestHandleGetConsumers_InactiveFiltering(t *testing.T) {
	ids, topics, cfgConn, consumers := zktest.New(), zktest.New(), zktest.New(), zktest.New()

	consumers.Create("/active-group", nil)
	consumers.Create("/active-group/ids", nil)
	consumers.Create("/active-group/offsets", nil)
	consumers.Create("/active-group/owners", nil)

	consumers.Create("/stale-group", nil)
	consumers.Create("/stale-group/ids", nil)

	cfg := Config{ClusterName: "c", FilterInactiveConsumers: true, InactiveConsumerMinChildren: 2}
	o := newTestObserver(t, cfg, ids, topics, cfgConn, consumers)

	resp := o.Handle(context.Background(), GetConsumers{}).(GetConsumersResponse)
	assert.Equal(t, []string{"active-group"}, resp.Groups)
}

func TestHandleGetConsumers_NoFiltering(t *testing.T) {
	ids, topics, cfgConn, consumers := zktest.New(), zktest.New(), zktest.New(), zktest.New()

	consumers.Create("/stale-group", nil)
	consumers.Create("/stale-group/ids", nil)

	cfg := Config{ClusterName: "c", FilterInactiveConsumers: false}
	o := newTestObserver(t, cfg, ids, topics, cfgConn, consumers)

	resp := o.Handle(context.Background(), GetConsumers{}).(GetConsumersResponse)
	assert.Equal(t, []string{"stale-group"}, resp.Groups)
}

// TestHandleGetConsumerDescription is scenario S3: a consumer group's
// committed offsets, partition owners and partition count are combined
// from /consumers and the topic's own mirrored state.
func TestHandleGetConsumerDescription(t *testing.T) {
	ids, topics, cfgConn, consumers := zktest.New(), zktest.New(), zktest.New(), zktest.New()
	seedBrokers(ids)
	seedSingleTopic(topics)

	consumers.Create("/g", nil)
	consumers.Create("/g/offsets", nil)
	consumers.Create("/g/offsets/t", nil)
	consumers.Create("/g/offsets/t/0", []byte("42"))
	consumers.Create("/g/owners", nil)
	consumers.Create("/g/owners/t", nil)
	consumers.Create("/g/owners/t/0", []byte("g-consumer-1"))

	o := newTestObserver(t, Config{ClusterName: "c"}, ids, topics, cfgConn, consumers)

	resp := o.Handle(context.Background(), GetConsumerDescription{Group: "g"}).(GetConsumerDescriptionResponse)
	require.NotNil(t, resp.Description)
	require.Contains(t, resp.Description.PerTopicConsumedState, "t")

	cts := resp.Description.PerTopicConsumedState["t"]
	assert.Equal(t, int64(42), cts.ConsumerCommittedOffsets[0])
	assert.Equal(t, "g-consumer-1", cts.PartitionOwners[0])
	assert.Equal(t, 1, cts.PartitionCount)

	missing := o.Handle(context.Background(), GetConsumerDescription{Group: "ghost"}).(GetConsumerDescriptionResponse)
	assert.Nil(t, missing.Description)
}

func TestHandleUnknownMessage(t *testing.T) {
	ids, topics, cfgConn, consumers := zktest.New(), zktest.New(), zktest.New(), zktest.New()
	o := newTestObserver(t, Config{ClusterName: "c"}, ids, topics, cfgConn, consumers)

	assert.Nil(t, o.Handle(context.Background(), struct{ Unused int }{}))
}
