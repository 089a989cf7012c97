package offsets_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/grafana/kafka-cartographer/clusterobserver/model"
	"github.com/grafana/kafka-cartographer/internal/offsets"
)

const testTopic = "cartographer-offsets-test"

func fakeBroker(t *testing.T, id model.BrokerId, addr string) model.BrokerIdentity {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return model.BrokerIdentity{ID: id, Host: host, Port: port}
}

func produce(t *testing.T, addr, topic string, partition int32, count int) {
	t.Helper()
	client, err := kgo.NewClient(
		kgo.SeedBrokers(addr),
		kgo.RecordPartitioner(kgo.ManualPartitioner()),
		kgo.DisableClientMetrics(),
	)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := 0; i < count; i++ {
		res := client.ProduceSync(ctx, &kgo.Record{Topic: topic, Partition: partition, Value: []byte("v")})
		require.NoError(t, res.FirstErr())
	}
}

// TestFetchLatestOffsets_TwoPartitionsSameLeader is scenario S1 from the spec:
// a topic with two partitions, both led by the same broker.
func TestFetchLatestOffsets_TwoPartitionsSameLeader(t *testing.T) {
	cluster, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(2, testTopic))
	require.NoError(t, err)
	t.Cleanup(cluster.Close)
	addr := cluster.ListenAddrs()[0]

	broker := fakeBroker(t, 1, addr)
	produce(t, addr, testTopic, 0, 100)
	produce(t, addr, testTopic, 1, 250)

	fetcher := offsets.New(log.NewNopLogger(), nil)
	defer fetcher.Close()

	leaders := map[model.PartitionId]model.BrokerId{0: broker.ID, 1: broker.ID}
	brokers := map[model.BrokerId]model.BrokerIdentity{broker.ID: broker}

	result := fetcher.FetchLatestOffsets(context.Background(), testTopic, leaders, brokers)
	require.Contains(t, result, model.PartitionId(0))
	require.Contains(t, result, model.PartitionId(1))
	assert.True(t, result[0].Ok)
	assert.True(t, result[1].Ok)
	assert.EqualValues(t, 100, result[0].Value)
	assert.EqualValues(t, 250, result[1].Value)

	assert.Equal(t, []model.PartitionId{0, 1}, offsets.SortedPartitionIDs(result))
}

// TestFetchLatestOffsets_UnresolvableLeaderYieldsNoOffset is scenario S2: a
// partition whose leader cannot be resolved against the broker-ids mirror
// never fails the call, it is simply absent from the result.
func TestFetchLatestOffsets_UnresolvableLeaderYieldsNoOffset(t *testing.T) {
	cluster, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, testTopic))
	require.NoError(t, err)
	t.Cleanup(cluster.Close)

	fetcher := offsets.New(log.NewNopLogger(), nil)
	defer fetcher.Close()

	leaders := map[model.PartitionId]model.BrokerId{0: 7}
	brokers := map[model.BrokerId]model.BrokerIdentity{}

	result := fetcher.FetchLatestOffsets(context.Background(), testTopic, leaders, brokers)
	_, present := result[0]
	assert.False(t, present, "unresolved leader must not appear in the result map")
}

func TestFetchLatestOffsets_BrokerUnreachableYieldsNoOffset(t *testing.T) {
	fetcher := offsets.New(log.NewNopLogger(), nil, offsets.WithSocketTimeout(500*time.Millisecond))
	defer fetcher.Close()

	broker := model.BrokerIdentity{ID: 9, Host: "127.0.0.1", Port: 1}
	leaders := map[model.PartitionId]model.BrokerId{0: 9}
	brokers := map[model.BrokerId]model.BrokerIdentity{9: broker}

	result := fetcher.FetchLatestOffsets(context.Background(), testTopic, leaders, brokers)
	assert.Empty(t, result)
}
