package clusterobserver

import "github.com/grafana/kafka-cartographer/clusterobserver/model"

// This file enumerates the closed set of query message kinds the
// observer accepts, per spec §4.5. Handle's type switch is the single
// place that set is interpreted; anything else is an UnknownMessage,
// logged at warning and otherwise ignored. The election and
// reassignment commands have no message type here: they reach the
// trackers as admin mirror events (Observer.handleAdminEvent).

type GetTopics struct{}

type GetTopicsResponse struct {
	Topics             []string
	PendingDeleteTopics []string
}

type GetTopicDescription struct{ Topic string }

type GetTopicDescriptionResponse struct {
	Description *model.TopicDescription
}

type GetTopicDescriptions struct{ Topics []string }

type GetTopicDescriptionsResponse struct {
	Descriptions   []model.TopicDescription
	TopicsClockMillis int64
}

type GetAllTopicDescriptions struct{ SinceMillis int64 }

type GetAllTopicDescriptionsResponse struct {
	Produced          bool
	Descriptions      []model.TopicDescription
	TopicsClockMillis int64
}

type GetTopicConfig struct{ Topic string }

type GetTopicConfigResponse struct {
	Config *model.VersionedBytes
}

type GetConsumers struct{}

type GetConsumersResponse struct {
	Groups []string
}

type GetConsumerDescription struct{ Group string }

type GetConsumerDescriptionResponse struct {
	Description *model.ConsumerDescription
}

type GetConsumerDescriptions struct{ Groups []string }

type GetConsumerDescriptionsResponse struct {
	Descriptions         []model.ConsumerDescription
	ConsumersClockMillis int64
}

type GetAllConsumerDescriptions struct{ SinceMillis int64 }

type GetAllConsumerDescriptionsResponse struct {
	Produced             bool
	Descriptions         []model.ConsumerDescription
	ConsumersClockMillis int64
}

type GetConsumedTopicState struct {
	Group string
	Topic string
}

type GetConsumedTopicStateResponse struct {
	State *model.ConsumedTopicState
}

type GetBrokers struct{}

type GetBrokersResponse struct {
	Brokers []model.BrokerIdentity
}

type GetPreferredLeaderElection struct{}

type GetPreferredLeaderElectionResponse struct {
	Election *model.PreferredReplicaElection
}

type GetReassignPartition struct{}

type GetReassignPartitionResponse struct {
	Reassignment *model.ReassignPartitions
}

type GetTopicsLastUpdateMillis struct{}

type GetTopicsLastUpdateMillisResponse struct {
	Millis int64
}
