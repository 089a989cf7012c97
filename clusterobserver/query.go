package clusterobserver

import (
	"context"
	"sort"
	"strconv"

	"github.com/go-kit/log/level"

	"github.com/grafana/kafka-cartographer/clusterobserver/model"
	"github.com/grafana/kafka-cartographer/internal/zkpayload"
)

// All functions in this file run exclusively inside the observer's
// actor loop (invoked through Observer.do), so they may read mirror
// snapshots and tracker state without additional synchronisation.

func (o *Observer) handleGetTopics() GetTopicsResponse {
	children, _ := o.topicsMirror.CurrentChildrenOf("")

	topics := make([]string, 0, len(children))
	for name := range children {
		topics = append(topics, name)
	}
	sort.Strings(topics)

	var pending []string
	if o.cfg.DeleteTopicsSupported && o.deleteTopicsMirror != nil {
		for _, s := range o.deleteTopicsMirror.Snapshot() {
			pending = append(pending, s.Path)
		}
		sort.Strings(pending)
	}

	return GetTopicsResponse{Topics: topics, PendingDeleteTopics: pending}
}

// buildTopicDescription assembles a TopicDescription for topic, or nil
// if the topic znode does not exist in the mirror.
func (o *Observer) buildTopicDescription(ctx context.Context, topic string) *model.TopicDescription {
	rawState, ok := o.topicsMirror.CurrentDataAt(topic)
	if !ok {
		return nil
	}

	desc := &model.TopicDescription{
		Topic:                 topic,
		RawState:              rawState,
		PerPartitionStateJSON: make(map[model.PartitionId]string),
		DeleteSupported:       o.cfg.DeleteTopicsSupported,
	}

	partitionChildren, _ := o.topicsMirror.CurrentChildrenOf(topic + "/partitions")
	leaders := make(map[model.PartitionId]model.BrokerId, len(partitionChildren))

	for name := range partitionChildren {
		pid, err := strconv.Atoi(name)
		if err != nil {
			level.Warn(o.logger).Log("msg", "non-numeric partition id in mirror", "topic", topic, "child", name)
			continue
		}
		partitionID := model.PartitionId(pid)

		stateBytes, ok := o.topicsMirror.CurrentDataAt(topic + "/partitions/" + name + "/state")
		if !ok {
			// No state znode yet for this partition: skip it from the
			// state map, per spec §4.5.
			continue
		}
		desc.PerPartitionStateJSON[partitionID] = string(stateBytes.Data)

		state := zkpayload.ParsePartitionState(stateBytes.Data)
		if !state.LeaderOk {
			level.Error(o.logger).Log("msg", "failed to parse partition state leader", "topic", topic, "partition", partitionID)
			continue
		}
		leaders[partitionID] = state.Leader
	}

	brokers := allBrokers(o.idsMirror, o.logger)
	desc.PerPartitionLatestOffset = o.offsetFetcher.FetchLatestOffsets(ctx, topic, leaders, brokers)

	if cfgBytes, ok := o.topicConfigMirror.CurrentDataAt(topic); ok {
		desc.RawConfig = &cfgBytes
	}

	return desc
}

func (o *Observer) handleGetTopicDescription(ctx context.Context, req GetTopicDescription) GetTopicDescriptionResponse {
	return GetTopicDescriptionResponse{Description: o.buildTopicDescription(ctx, req.Topic)}
}

func (o *Observer) handleGetTopicDescriptions(ctx context.Context, req GetTopicDescriptions) GetTopicDescriptionsResponse {
	out := make([]model.TopicDescription, 0, len(req.Topics))
	for _, t := range req.Topics {
		if d := o.buildTopicDescription(ctx, t); d != nil {
			out = append(out, *d)
		}
	}
	return GetTopicDescriptionsResponse{Descriptions: out, TopicsClockMillis: o.topicsClock.Value()}
}

func (o *Observer) handleGetAllTopicDescriptions(ctx context.Context, req GetAllTopicDescriptions) GetAllTopicDescriptionsResponse {
	if !o.topicsClock.HasNoveltySince(req.SinceMillis) {
		return GetAllTopicDescriptionsResponse{Produced: false}
	}

	children, _ := o.topicsMirror.CurrentChildrenOf("")
	out := make([]model.TopicDescription, 0, len(children))
	for name := range children {
		if d := o.buildTopicDescription(ctx, name); d != nil {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })

	return GetAllTopicDescriptionsResponse{Produced: true, Descriptions: out, TopicsClockMillis: o.topicsClock.Value()}
}

func (o *Observer) handleGetTopicConfig(req GetTopicConfig) GetTopicConfigResponse {
	vb, ok := o.topicConfigMirror.CurrentDataAt(req.Topic)
	if !ok {
		return GetTopicConfigResponse{}
	}
	return GetTopicConfigResponse{Config: &vb}
}

func (o *Observer) handleGetConsumers() GetConsumersResponse {
	children, _ := o.consumersMirror.CurrentChildrenOf("")

	groups := make([]string, 0, len(children))
	for group := range children {
		if o.cfg.FilterInactiveConsumers && !o.isActiveConsumerGroup(group) {
			continue
		}
		groups = append(groups, group)
	}
	sort.Strings(groups)
	return GetConsumersResponse{Groups: groups}
}

// isActiveConsumerGroup applies the spec's approximate active-consumer
// heuristic: a group counts as active when its znode has more children
// than InactiveConsumerMinChildren (an active group typically has
// ids/, offsets/, and owners/).
func (o *Observer) isActiveConsumerGroup(group string) bool {
	children, ok := o.consumersMirror.CurrentChildrenOf(group)
	if !ok {
		return false
	}
	return len(children) > o.cfg.InactiveConsumerMinChildren
}

func (o *Observer) buildConsumedTopicState(ctx context.Context, group, topic string) *model.ConsumedTopicState {
	offsetsByPartition, offsetsOk := o.consumersMirror.CurrentChildrenOf(group + "/offsets/" + topic)
	ownersByPartition, ownersOk := o.consumersMirror.CurrentChildrenOf(group + "/owners/" + topic)
	if !offsetsOk && !ownersOk {
		return nil
	}

	committed := make(map[model.PartitionId]int64)
	for name, vb := range offsetsByPartition {
		pid, err := strconv.Atoi(name)
		if err != nil {
			level.Warn(o.logger).Log("msg", "non-numeric partition id under offsets", "group", group, "topic", topic, "child", name)
			continue
		}
		offset, ok := zkpayload.ParseCommittedOffset(vb.Data)
		if !ok {
			level.Error(o.logger).Log("msg", "failed to parse committed offset", "group", group, "topic", topic, "partition", pid)
			continue
		}
		committed[model.PartitionId(pid)] = offset
	}

	owners := make(map[model.PartitionId]string)
	for name, vb := range ownersByPartition {
		pid, err := strconv.Atoi(name)
		if err != nil {
			level.Warn(o.logger).Log("msg", "non-numeric partition id under owners", "group", group, "topic", topic, "child", name)
			continue
		}
		owners[model.PartitionId(pid)] = string(vb.Data)
	}

	known := make(map[model.PartitionId]model.Offset)
	statePartitionCount := 0
	if topicDesc := o.buildTopicDescription(ctx, topic); topicDesc != nil {
		known = topicDesc.PerPartitionLatestOffset
		statePartitionCount = len(topicDesc.PerPartitionStateJSON)
	}

	partitionCount := len(committed)
	if statePartitionCount > partitionCount {
		partitionCount = statePartitionCount
	}

	return &model.ConsumedTopicState{
		ConsumerGroup:              group,
		Topic:                      topic,
		PartitionCount:             partitionCount,
		KnownTopicPartitionOffsets: known,
		PartitionOwners:            owners,
		ConsumerCommittedOffsets:   committed,
	}
}

func (o *Observer) handleGetConsumerDescription(req GetConsumerDescription) GetConsumerDescriptionResponse {
	ctx := context.Background()
	topics, ok := o.consumersMirror.CurrentChildrenOf(req.Group + "/offsets")
	if !ok {
		return GetConsumerDescriptionResponse{}
	}

	desc := &model.ConsumerDescription{
		ConsumerGroup:         req.Group,
		PerTopicConsumedState: make(map[string]model.ConsumedTopicState),
	}
	for topic := range topics {
		if cts := o.buildConsumedTopicState(ctx, req.Group, topic); cts != nil {
			desc.PerTopicConsumedState[topic] = *cts
		}
	}
	return GetConsumerDescriptionResponse{Description: desc}
}

func (o *Observer) handleGetConsumerDescriptions(req GetConsumerDescriptions) GetConsumerDescriptionsResponse {
	out := make([]model.ConsumerDescription, 0, len(req.Groups))
	for _, g := range req.Groups {
		if r := o.handleGetConsumerDescription(GetConsumerDescription{Group: g}); r.Description != nil {
			out = append(out, *r.Description)
		}
	}
	return GetConsumerDescriptionsResponse{Descriptions: out, ConsumersClockMillis: o.consumersClock.Value()}
}

func (o *Observer) handleGetAllConsumerDescriptions(req GetAllConsumerDescriptions) GetAllConsumerDescriptionsResponse {
	if !o.consumersClock.HasNoveltySince(req.SinceMillis) {
		return GetAllConsumerDescriptionsResponse{Produced: false}
	}

	groups, _ := o.consumersMirror.CurrentChildrenOf("")
	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}

	r := o.handleGetConsumerDescriptions(GetConsumerDescriptions{Groups: names})
	return GetAllConsumerDescriptionsResponse{Produced: true, Descriptions: r.Descriptions, ConsumersClockMillis: o.consumersClock.Value()}
}

func (o *Observer) handleGetConsumedTopicState(req GetConsumedTopicState) GetConsumedTopicStateResponse {
	return GetConsumedTopicStateResponse{State: o.buildConsumedTopicState(context.Background(), req.Group, req.Topic)}
}

func (o *Observer) handleGetBrokers() GetBrokersResponse {
	byID := allBrokers(o.idsMirror, o.logger)
	out := make([]model.BrokerIdentity, 0, len(byID))
	for _, b := range byID {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return GetBrokersResponse{Brokers: out}
}

