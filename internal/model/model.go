// Package model holds the plain data types shared by the cache, schema,
// storage, and control packages. Nothing here does I/O.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Unset is the sentinel watermark/offset/producer-id/epoch value meaning
// "not yet assigned". Deliberately untyped so it compares/assigns cleanly
// against whichever sized integer field (int64 offsets, int16 epochs) the
// call site holds.
const Unset = -1

// Listener is one advertised (name, host, port) triple for a broker.
type Listener struct {
	Name string
	Host string
	Port int32
}

// Broker is a registered cluster member. Re-registration under the same
// (Cluster, NodeID) keeps NodeID but replaces IncarnationID and Listeners.
type Broker struct {
	Cluster       string
	NodeID        int32
	Host          string
	Port          int32
	Rack          *string
	IncarnationID uuid.UUID
	Listeners     []Listener
}

// Topic is immutable in Cluster, Name, and ID once created.
type Topic struct {
	ID                uuid.UUID
	Name              string
	Cluster           string
	NumPartitions     int32
	ReplicationFactor int32
	Configs           map[string]*string
}

// Topition identifies a single partition of a topic. The zero value is not
// meaningful; Partition is always >= 0.
type Topition struct {
	Topic     string
	Partition int32
}

// Watermark is the (low, high, stable) triple for one Topition. An unset
// field holds model.Unset.
type Watermark struct {
	Low    int64
	High   int64
	Stable int64
}

// Header is a record header; either Key or Value (or both) may be nil.
type Header struct {
	Key   []byte
	Value []byte
}

// Record is one materialised (inflated) record within a partition.
type Record struct {
	Offset       int64
	Timestamp    time.Time
	Key          []byte
	Value        []byte
	Headers      []Header
	ProducerID   *int64
	BaseSequence *int32
}

// BatchRecord is a record as it appears inside an inflated Batch, carrying
// deltas relative to the batch's base offset/timestamp rather than absolute
// values.
type BatchRecord struct {
	OffsetDelta    int32
	TimestampDelta time.Duration
	Key            []byte
	Value          []byte
	Headers        []Header
}

// Batch is the inflated (structured) form of a produce/fetch batch.
type Batch struct {
	BaseOffset    int64
	BaseTimestamp time.Time
	ProducerID    int64
	ProducerEpoch int16
	BaseSequence  int32
	Records       []BatchRecord
}

// DeflatedBatch is the wire-serialised form of a Batch: opaque bytes plus
// the CRC that guards them. Data is produced and consumed by
// storage.DeflateBatch/DeflateBatchWithCodec and storage.InflateBatch, which
// frame it as a codec tag byte followed by the serialised batch.
type DeflatedBatch struct {
	CRC  uint32
	Data []byte
}

// ConsumerOffsetKey identifies one committed offset row.
type ConsumerOffsetKey struct {
	Cluster   string
	Topic     string
	Partition int32
	Group     string
}

// ConsumerOffsetValue is the most-recent commit for a ConsumerOffsetKey.
type ConsumerOffsetValue struct {
	Offset      int64
	LeaderEpoch *int32
	Metadata    *string
	CommitTime  time.Time
}

// Producer is a transactional or idempotent producer identity.
type Producer struct {
	ID    int64
	Epoch int16
}

// TxnState is the transaction coordinator's state machine position.
type TxnState int

const (
	TxnEmpty TxnState = iota
	TxnOngoing
	TxnPrepareCommit
	TxnPrepareAbort
	TxnCompleted
)

func (s TxnState) String() string {
	switch s {
	case TxnEmpty:
		return "Empty"
	case TxnOngoing:
		return "Ongoing"
	case TxnPrepareCommit:
		return "PrepareCommit"
	case TxnPrepareAbort:
		return "PrepareAbort"
	case TxnCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// Transaction is the coordinator's row for one transactional.id.
type Transaction struct {
	TransactionID string
	ProducerID    int64
	ProducerEpoch int16
	Timeout       time.Duration
	State         TxnState
}

// TxnMember enumerates one partition touched by a transaction since Begin.
type TxnMember struct {
	TransactionID string
	Topition      Topition
}

// Group is an opaque consumer-group blob guarded by an e-tag for CAS
// updates.
type Group struct {
	GroupID string
	Cluster string
	Detail  json.RawMessage
	ETag    uuid.UUID
}

// CacheEntry is C1's in-memory record for one object-store path.
type CacheEntry struct {
	Path     string
	ETag     *string
	Version  *string
	TaggedAt time.Time
}
