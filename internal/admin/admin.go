// Package admin implements the admin-path event router and the two
// stateful operation trackers (preferred-replica election, partition
// reassignment) it drives. Both trackers are single-writer: the
// observer's actor loop is the only caller, so neither type takes a
// lock of its own — mirroring the teacher's "single-writer, own the
// state" actor discipline.
package admin

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/kafka-cartographer/clusterobserver/model"
	"github.com/grafana/kafka-cartographer/internal/zkpayload"
)

// Admin path child-name suffixes the router dispatches on.
const (
	PreferredReplicaElectionNode = "preferred_replica_election"
	ReassignPartitionsNode       = "reassign_partitions"
)

// ElectionTracker holds the lifecycle of at most one in-flight (or most
// recently completed) preferred-replica-leader-election.
type ElectionTracker struct {
	logger  log.Logger
	current *model.PreferredReplicaElection
}

func NewElectionTracker(logger log.Logger) *ElectionTracker {
	return &ElectionTracker{logger: logger}
}

// Update handles a CHILD_ADDED/CHILD_UPDATED event on the election node,
// observed at mtimeMillis with the given raw payload. A malformed
// payload is logged and dropped: the tracker's state is unchanged.
func (t *ElectionTracker) Update(mtimeMillis int64, payload []byte) {
	set, ok := zkpayload.ParseElectionPayload(payload)
	if !ok {
		level.Error(t.logger).Log("msg", "failed to parse preferred replica election payload")
		return
	}

	if t.current == nil || t.current.Ended {
		t.current = &model.PreferredReplicaElection{
			StartTimeMillis: mtimeMillis,
			TopicPartitions: set,
		}
		return
	}

	// In-progress election: merge the controller's intermediate write
	// into the existing set, startTime unchanged.
	for tp := range set {
		t.current.TopicPartitions[tp] = struct{}{}
	}
}

// End handles a CHILD_REMOVED event on the election node. If there is
// no current election, it is ignored.
func (t *ElectionTracker) End(mtimeMillis int64) {
	if t.current == nil {
		return
	}
	t.current.EndTimeMillis = mtimeMillis
	t.current.Ended = true
}

// Current returns a snapshot copy of the tracked election, or nil if
// none has ever been observed. The returned value is never a shared
// reference into the tracker's own state.
func (t *ElectionTracker) Current() *model.PreferredReplicaElection {
	if t.current == nil {
		return nil
	}
	cp := *t.current
	cp.TopicPartitions = make(map[model.TopicPartition]struct{}, len(t.current.TopicPartitions))
	for tp := range t.current.TopicPartitions {
		cp.TopicPartitions[tp] = struct{}{}
	}
	return &cp
}

// ReassignmentTracker holds the lifecycle of at most one in-flight (or
// most recently completed) partition reassignment.
type ReassignmentTracker struct {
	logger  log.Logger
	current *model.ReassignPartitions
}

func NewReassignmentTracker(logger log.Logger) *ReassignmentTracker {
	return &ReassignmentTracker{logger: logger}
}

// Update is the reassignment analogue of ElectionTracker.Update; merge
// is a mapping union with right-hand (newly observed) precedence on key
// collision.
func (t *ReassignmentTracker) Update(mtimeMillis int64, payload []byte) {
	assignments, ok := zkpayload.ParseReassignmentPayload(payload)
	if !ok {
		level.Error(t.logger).Log("msg", "failed to parse reassign partitions payload")
		return
	}

	if t.current == nil || t.current.Ended {
		t.current = &model.ReassignPartitions{
			StartTimeMillis: mtimeMillis,
			Assignments:     assignments,
		}
		return
	}

	for tp, replicas := range assignments {
		t.current.Assignments[tp] = replicas
	}
}

// End is the reassignment analogue of ElectionTracker.End.
func (t *ReassignmentTracker) End(mtimeMillis int64) {
	if t.current == nil {
		return
	}
	t.current.EndTimeMillis = mtimeMillis
	t.current.Ended = true
}

// Current returns a snapshot copy of the tracked reassignment, or nil.
func (t *ReassignmentTracker) Current() *model.ReassignPartitions {
	if t.current == nil {
		return nil
	}
	cp := *t.current
	cp.Assignments = make(map[model.TopicPartition]model.ReplicaAssignment, len(t.current.Assignments))
	for tp, replicas := range t.current.Assignments {
		out := make(model.ReplicaAssignment, len(replicas))
		copy(out, replicas)
		cp.Assignments[tp] = out
	}
	return &cp
}

// Router dispatches admin-path mirror events to the appropriate tracker
// by child-path suffix, ignoring everything else.
type Router struct {
	logger       log.Logger
	elections    *ElectionTracker
	reassignment *ReassignmentTracker
}

func NewRouter(logger log.Logger, elections *ElectionTracker, reassignment *ReassignmentTracker) *Router {
	return &Router{logger: logger, elections: elections, reassignment: reassignment}
}

// ChildAddedOrUpdated routes a CHILD_ADDED/CHILD_UPDATED event for path
// (the admin mirror's relative child path) to its tracker.
func (r *Router) ChildAddedOrUpdated(path string, mtimeMillis int64, payload []byte) {
	switch childSuffix(path) {
	case PreferredReplicaElectionNode:
		r.elections.Update(mtimeMillis, payload)
	case ReassignPartitionsNode:
		r.reassignment.Update(mtimeMillis, payload)
	default:
		level.Debug(r.logger).Log("msg", "ignoring unrecognised admin child", "path", path)
	}
}

// ChildRemoved routes a CHILD_REMOVED event for path to its tracker.
func (r *Router) ChildRemoved(path string, mtimeMillis int64) {
	switch childSuffix(path) {
	case PreferredReplicaElectionNode:
		r.elections.End(mtimeMillis)
	case ReassignPartitionsNode:
		r.reassignment.End(mtimeMillis)
	default:
		level.Debug(r.logger).Log("msg", "ignoring unrecognised admin child", "path", path)
	}
}

func childSuffix(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
