// Package zkpayload decodes the JSON and ASCII payloads the observer
// finds stored in ZooKeeper znodes. Every function here follows the
// same contract: a malformed payload never returns an error to the
// caller, it returns ok=false and lets the caller log and drop the
// record, per the drop-and-log policy the spec requires.
package zkpayload

import (
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/grafana/kafka-cartographer/clusterobserver/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type brokerRegistration struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ParseBrokerIdentity decodes a /brokers/ids/<id> znode body.
func ParseBrokerIdentity(id model.BrokerId, data []byte) (model.BrokerIdentity, bool) {
	var reg brokerRegistration
	if err := json.Unmarshal(data, &reg); err != nil {
		return model.BrokerIdentity{}, false
	}
	if reg.Host == "" {
		return model.BrokerIdentity{}, false
	}
	return model.BrokerIdentity{ID: id, Host: reg.Host, Port: reg.Port}, true
}

type partitionStateDoc struct {
	Leader *int32 `json:"leader"`
}

// ParsePartitionState decodes a .../partitions/<p>/state znode body.
// Only the leader field is interpreted; everything else is opaque to
// this component. A missing or unparsable leader yields an unresolved
// PartitionState rather than a sentinel broker id.
func ParsePartitionState(data []byte) model.PartitionState {
	var doc partitionStateDoc
	if err := json.Unmarshal(data, &doc); err != nil || doc.Leader == nil {
		return model.PartitionState{}
	}
	return model.PartitionState{Leader: model.BrokerId(*doc.Leader), LeaderOk: true}
}

type preferredReplicaElectionDoc struct {
	Partitions []struct {
		Topic     string `json:"topic"`
		Partition int32  `json:"partition"`
	} `json:"partitions"`
}

// ParseElectionPayload decodes a preferred-replica-election admin
// command payload into the set of (topic, partition) it names.
func ParseElectionPayload(data []byte) (map[model.TopicPartition]struct{}, bool) {
	var doc preferredReplicaElectionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}
	set := make(map[model.TopicPartition]struct{}, len(doc.Partitions))
	for _, p := range doc.Partitions {
		set[model.TopicPartition{Topic: p.Topic, Partition: model.PartitionId(p.Partition)}] = struct{}{}
	}
	return set, true
}

type reassignPartitionsDoc struct {
	Partitions []struct {
		Topic     string  `json:"topic"`
		Partition int32   `json:"partition"`
		Replicas  []int32 `json:"replicas"`
	} `json:"partitions"`
}

// ParseReassignmentPayload decodes a reassign-partitions admin command
// payload into a mapping from (topic, partition) to its desired ordered
// replica list.
func ParseReassignmentPayload(data []byte) (map[model.TopicPartition]model.ReplicaAssignment, bool) {
	var doc reassignPartitionsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}
	out := make(map[model.TopicPartition]model.ReplicaAssignment, len(doc.Partitions))
	for _, p := range doc.Partitions {
		replicas := make(model.ReplicaAssignment, len(p.Replicas))
		for i, r := range p.Replicas {
			replicas[i] = model.BrokerId(r)
		}
		out[model.TopicPartition{Topic: p.Topic, Partition: model.PartitionId(p.Partition)}] = replicas
	}
	return out, true
}

// ParseCommittedOffset decodes the ASCII decimal long stored at
// /consumers/<group>/offsets/<topic>/<partition>.
func ParseCommittedOffset(data []byte) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
