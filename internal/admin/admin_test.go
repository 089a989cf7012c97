package admin

import (
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/kafka-cartographer/clusterobserver/model"
)

func tp(topic string, partition int32) model.TopicPartition {
	return model.TopicPartition{Topic: topic, Partition: model.PartitionId(partition)}
}

// TestElectionTracker_Lifecycle is scenario S5 from the spec.
func TestElectionTracker_Lifecycle(t *testing.T) {
	tr := NewElectionTracker(log.NewNopLogger())
	assert.Nil(t, tr.Current())

	tr.Update(1000, []byte(`{"partitions":[{"topic":"t","partition":0},{"topic":"t","partition":1}]}`))
	cur := tr.Current()
	require.NotNil(t, cur)
	assert.Equal(t, int64(1000), cur.StartTimeMillis)
	assert.False(t, cur.Ended)
	assert.Len(t, cur.TopicPartitions, 2)

	// In-progress update at 1500 merges rather than replacing.
	tr.Update(1500, []byte(`{"partitions":[{"topic":"t","partition":2}]}`))
	cur = tr.Current()
	require.NotNil(t, cur)
	assert.Equal(t, int64(1000), cur.StartTimeMillis, "startTime must not move on merge")
	assert.Len(t, cur.TopicPartitions, 3)
	assert.Contains(t, cur.TopicPartitions, tp("t", 0))
	assert.Contains(t, cur.TopicPartitions, tp("t", 1))
	assert.Contains(t, cur.TopicPartitions, tp("t", 2))

	tr.End(2000)
	cur = tr.Current()
	require.NotNil(t, cur)
	assert.True(t, cur.Ended)
	assert.Equal(t, int64(2000), cur.EndTimeMillis)
	assert.Len(t, cur.TopicPartitions, 3, "ending must not touch the tracked set")

	// A new add after an ended election starts a fresh one.
	tr.Update(2500, []byte(`{"partitions":[{"topic":"u","partition":0}]}`))
	cur = tr.Current()
	require.NotNil(t, cur)
	assert.Equal(t, int64(2500), cur.StartTimeMillis)
	assert.False(t, cur.Ended)
	assert.Len(t, cur.TopicPartitions, 1)
	assert.Contains(t, cur.TopicPartitions, tp("u", 0))
}

func TestElectionTracker_EndWithNoCurrentIsIgnored(t *testing.T) {
	tr := NewElectionTracker(log.NewNopLogger())
	tr.End(999)
	assert.Nil(t, tr.Current())
}

func TestElectionTracker_MalformedPayloadIsDropped(t *testing.T) {
	tr := NewElectionTracker(log.NewNopLogger())
	tr.Update(100, []byte(`not json`))
	assert.Nil(t, tr.Current())
}

func TestElectionTracker_CurrentIsNotASharedReference(t *testing.T) {
	tr := NewElectionTracker(log.NewNopLogger())
	tr.Update(1, []byte(`{"partitions":[{"topic":"t","partition":0}]}`))

	snap := tr.Current()
	snap.TopicPartitions[tp("u", 9)] = struct{}{}

	fresh := tr.Current()
	assert.Len(t, fresh.TopicPartitions, 1, "mutating a snapshot must not affect tracker state")
}

func TestReassignmentTracker_MergeHasRightHandPrecedence(t *testing.T) {
	tr := NewReassignmentTracker(log.NewNopLogger())

	tr.Update(100, []byte(`{"partitions":[{"topic":"t","partition":0,"replicas":[1,2]}]}`))
	tr.Update(200, []byte(`{"partitions":[{"topic":"t","partition":0,"replicas":[3,4]},{"topic":"t","partition":1,"replicas":[1]}]}`))

	cur := tr.Current()
	require.NotNil(t, cur)
	assert.Equal(t, int64(100), cur.StartTimeMillis)
	assert.Equal(t, model.ReplicaAssignment{3, 4}, cur.Assignments[tp("t", 0)], "newest write wins on key collision")
	assert.Equal(t, model.ReplicaAssignment{1}, cur.Assignments[tp("t", 1)])

	tr.End(300)
	cur = tr.Current()
	assert.True(t, cur.Ended)
	assert.Equal(t, int64(300), cur.EndTimeMillis)
}

func TestRouter_DispatchesBySuffix(t *testing.T) {
	elections := NewElectionTracker(log.NewNopLogger())
	reassignment := NewReassignmentTracker(log.NewNopLogger())
	r := NewRouter(log.NewNopLogger(), elections, reassignment)

	r.ChildAddedOrUpdated("preferred_replica_election", 10, []byte(`{"partitions":[{"topic":"t","partition":0}]}`))
	assert.NotNil(t, elections.Current())
	assert.Nil(t, reassignment.Current())

	r.ChildAddedOrUpdated("reassign_partitions", 20, []byte(`{"partitions":[{"topic":"t","partition":0,"replicas":[1]}]}`))
	assert.NotNil(t, reassignment.Current())

	// Unrecognised children are ignored, not fatal.
	r.ChildAddedOrUpdated("some_future_admin_command", 30, []byte(`{}`))
	r.ChildRemoved("some_future_admin_command", 40)

	r.ChildRemoved("preferred_replica_election", 50)
	assert.True(t, elections.Current().Ended)
}
