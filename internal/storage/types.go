// Package storage implements the C3 log storage engine: per-partition
// append-only logs, watermarks, consumer-group offsets, and the producer
// epoch/transaction coordinator, over a relational backend.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tansu-io/tansu/internal/model"
)

// ErrTopicAlreadyExists, ErrUnknownTopicOrPartition and friends are the
// sentinel conditions spec.md §4.3 calls out by name; engines translate
// backend-specific errors (unique violations, missing rows) into these so
// the control plane can map them onto kerr codes without knowing the
// backend.
var (
	ErrTopicAlreadyExists      = errors.New("storage: topic already exists")
	ErrUnknownTopicOrPartition = errors.New("storage: unknown topic or partition")
	ErrUnknownProducerID       = errors.New("storage: unknown producer id")
	ErrInvalidRecord           = errors.New("storage: invalid record")
)

// RegisterBrokerRequest is register_broker's input.
type RegisterBrokerRequest struct {
	Cluster   string
	NodeID    int32
	Host      string
	Port      int32
	Rack      *string
	Listeners []model.Listener
}

// CreatableTopic is create_topic's input.
type CreatableTopic struct {
	Cluster           string
	Name              string
	NumPartitions     int32
	ReplicationFactor int32
	Configs           map[string]*string
	ValidateOnly      bool
}

// TopicRef names a topic by either its name or its id, as the Kafka wire
// protocol allows both for delete_topic.
type TopicRef struct {
	Name *string
	ID   *uuid.UUID
}

// DeleteRecordsRequest identifies one partition's truncation point.
type DeleteRecordsRequest struct {
	Topition model.Topition
	Offset   int64
}

// DeleteRecordsResult is delete_records' per-partition outcome.
type DeleteRecordsResult struct {
	Topition     model.Topition
	LowWatermark int64
	Err          error
}

// OffsetCommitRequest is one partition's entry in an offset_commit call.
type OffsetCommitRequest struct {
	Topition    model.Topition
	Offset      int64
	LeaderEpoch *int32
	Metadata    *string
}

// ListOffsetsRequest names a partition and which well-known (or literal
// timestamp) position is being asked for.
type ListOffsetsRequest struct {
	Topition  model.Topition
	Timestamp int64 // model.Unset = Latest sentinel, -2 = Earliest, else literal timestamp millis
}

const (
	ListOffsetsLatest   = -1
	ListOffsetsEarliest = -2
)

// ListOffsetsResult is one partition's (timestamp, offset) answer.
type ListOffsetsResult struct {
	Topition  model.Topition
	Timestamp int64
	Offset    int64
}

// MetadataBroker is one entry of metadata's brokers[] result.
type MetadataBroker struct {
	NodeID int32
	Host   string
	Port   int32
	Rack   *string
}

// MetadataPartition is one partition entry within a MetadataTopic.
type MetadataPartition struct {
	Partition       int32
	LeaderID        int32
	LeaderEpoch     int32
	ReplicaNodes    []int32
	OfflineReplicas []int32
}

// MetadataTopic is one topic entry of metadata's result.
type MetadataTopic struct {
	TopicID    uuid.UUID
	Name       string
	Partitions []MetadataPartition
}

// MetadataResult is metadata's full result.
type MetadataResult struct {
	Cluster        string
	ControllerNode int32
	Brokers        []MetadataBroker
	Topics         []MetadataTopic
}

// ConfigEntry is one name/value row of describe_config's result.
type ConfigEntry struct {
	Name      string
	Value     *string
	ReadOnly  bool
	IsDefault bool
	Source    string
	Type      string
}

// GroupVersion identifies the e-tag a CAS update_group call expects.
type GroupVersion struct {
	ETag uuid.UUID
}

// UpdateGroupResult is update_group's result: exactly one of Version or
// Outdated is populated, matching spec.md's invariant that a CAS either
// succeeds and returns a fresh version, or reports Outdated with the
// current state — never both, never neither.
type UpdateGroupResult struct {
	Version  *GroupVersion
	Outdated *model.Group
}

// InitProducerRequest is init_producer's input.
type InitProducerRequest struct {
	Cluster       string
	TransactionID *string
	Timeout       time.Duration
	ProducerID    int64 // -1 to allocate fresh
	ProducerEpoch int16 // -1 to allocate fresh
}

// InitProducerResult is init_producer's result.
type InitProducerResult struct {
	ProducerID    int64
	ProducerEpoch int16
}

// TxnAddPartitionsRequest names the partitions a transaction now touches.
type TxnAddPartitionsRequest struct {
	TransactionID string
	ProducerID    int64
	ProducerEpoch int16
	Topitions     []model.Topition
}

// TxnOffsetCommitRequest is txn_offset_commit's input: an offset_commit
// performed under a transaction, visible only once the transaction commits.
type TxnOffsetCommitRequest struct {
	TransactionID string
	ProducerID    int64
	ProducerEpoch int16
	Group         string
	Offsets       []OffsetCommitRequest
}

// TxnEndRequest is txn_end's input.
type TxnEndRequest struct {
	TransactionID string
	ProducerID    int64
	ProducerEpoch int16
	Committed     bool
}

// Engine is the C3 trait spec.md §4.3 describes: the single narrow surface
// the control plane (C4) calls. Every method may block on the backend and
// takes a context for cancellation, per spec.md §5's suspension-point rule.
type Engine interface {
	RegisterBroker(ctx context.Context, req RegisterBrokerRequest) (int64, error)
	Brokers(ctx context.Context, cluster string) ([]MetadataBroker, error)

	CreateTopic(ctx context.Context, req CreatableTopic) (uuid.UUID, error)
	DeleteTopic(ctx context.Context, cluster string, ref TopicRef) error
	DeleteRecords(ctx context.Context, cluster string, reqs []DeleteRecordsRequest) []DeleteRecordsResult
	DescribeConfig(ctx context.Context, cluster, name string, keys []string) ([]ConfigEntry, error)

	Produce(ctx context.Context, cluster string, topition model.Topition, batch model.DeflatedBatch) (int64, error)
	Fetch(ctx context.Context, cluster string, topition model.Topition, offset int64, minBytes, maxBytes int32) (model.DeflatedBatch, error)
	OffsetStage(ctx context.Context, cluster string, topition model.Topition) (model.Watermark, error)
	ListOffsets(ctx context.Context, cluster string, reqs []ListOffsetsRequest) []ListOffsetsResult

	OffsetCommit(ctx context.Context, cluster, group string, retention *time.Duration, reqs []OffsetCommitRequest) error
	OffsetFetch(ctx context.Context, cluster, group string, topitions []model.Topition, requireStable bool) ([]model.ConsumerOffsetValue, error)

	Metadata(ctx context.Context, cluster string, topics []TopicRef) (MetadataResult, error)

	UpdateGroup(ctx context.Context, cluster, groupID string, detail []byte, version *GroupVersion) (UpdateGroupResult, error)

	InitProducer(ctx context.Context, req InitProducerRequest) (InitProducerResult, error)
	TxnAddPartitions(ctx context.Context, req TxnAddPartitionsRequest) error
	TxnAddOffsets(ctx context.Context, transactionID string, producerID int64, producerEpoch int16, group string) error
	TxnOffsetCommit(ctx context.Context, req TxnOffsetCommitRequest) error
	TxnEnd(ctx context.Context, req TxnEndRequest) error
}
