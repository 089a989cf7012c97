package zkpayload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/kafka-cartographer/clusterobserver/model"
)

func TestParseBrokerIdentity(t *testing.T) {
	id, ok := ParseBrokerIdentity(1, []byte(`{"host":"b1","port":9092,"jmx_port":-1,"version":1}`))
	require.True(t, ok)
	assert.Equal(t, model.BrokerIdentity{ID: 1, Host: "b1", Port: 9092}, id)

	_, ok = ParseBrokerIdentity(2, []byte(`not json`))
	assert.False(t, ok)

	_, ok = ParseBrokerIdentity(3, []byte(`{"port":9092}`))
	assert.False(t, ok, "missing host must be rejected")
}

func TestParsePartitionState(t *testing.T) {
	s := ParsePartitionState([]byte(`{"leader":1,"isr":[1]}`))
	assert.True(t, s.LeaderOk)
	assert.Equal(t, model.BrokerId(1), s.Leader)

	malformed := ParsePartitionState([]byte(`{"leader": "not-a-number"}`))
	assert.False(t, malformed.LeaderOk, "malformed leader must never yield a sentinel broker id")

	missing := ParsePartitionState([]byte(`{"isr":[1]}`))
	assert.False(t, missing.LeaderOk)
}

func TestParseElectionPayload(t *testing.T) {
	set, ok := ParseElectionPayload([]byte(`{"version":1,"partitions":[{"topic":"t","partition":0},{"topic":"t","partition":1}]}`))
	require.True(t, ok)
	assert.Len(t, set, 2)
	_, present := set[model.TopicPartition{Topic: "t", Partition: 0}]
	assert.True(t, present)

	_, ok = ParseElectionPayload([]byte(`{`))
	assert.False(t, ok)
}

func TestParseReassignmentPayload(t *testing.T) {
	assignments, ok := ParseReassignmentPayload([]byte(`{"version":1,"partitions":[{"topic":"t","partition":0,"replicas":[1,2,3]}]}`))
	require.True(t, ok)
	require.Contains(t, assignments, model.TopicPartition{Topic: "t", Partition: 0})
	assert.Equal(t, model.ReplicaAssignment{1, 2, 3}, assignments[model.TopicPartition{Topic: "t", Partition: 0}])
}

func TestParseCommittedOffset(t *testing.T) {
	v, ok := ParseCommittedOffset([]byte(" 42\n"))
	require.True(t, ok)
	assert.Equal(t, int64(42), v)

	_, ok = ParseCommittedOffset([]byte("not-a-number"))
	assert.False(t, ok)
}
