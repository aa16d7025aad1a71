package storage

import (
	"sync"
	"time"

	"github.com/tansu-io/tansu/internal/model"
)

// AssignedRecord is one inflated record after offsets/timestamps have been
// resolved against the partition's current high watermark.
type AssignedRecord struct {
	Offset    int64
	Timestamp time.Time
	Key       []byte
	Value     []byte
	Headers   []model.Header
}

// AssignOffsets implements produce's offset/timestamp assignment rule:
// offset = high + delta + 1, or delta when high is unset (model.Unset),
// exactly as spec.md §4.3 describes. It is pure so the rule can be tested
// without a database, and shared by every Engine implementation.
func AssignOffsets(high int64, base model.Batch) []AssignedRecord {
	out := make([]AssignedRecord, 0, len(base.Records))
	for _, r := range base.Records {
		var offset int64
		if high == model.Unset {
			offset = int64(r.OffsetDelta)
		} else {
			offset = high + int64(r.OffsetDelta) + 1
		}
		out = append(out, AssignedRecord{
			Offset:    offset,
			Timestamp: base.BaseTimestamp.Add(r.TimestampDelta),
			Key:       r.Key,
			Value:     r.Value,
			Headers:   r.Headers,
		})
	}
	return out
}

// StableAfterProduce implements the "stable advances with high, in an
// unset log" edge the same way AssignOffsets resolves offsets.
func StableAfterProduce(stable, n int64) int64 {
	if stable == model.Unset {
		return n - 1
	}
	return stable + n
}

// normalizeWatermark applies offset_stage's "unset -1 normalises to 0 for
// high/stable" rule.
func normalizeWatermark(w model.Watermark) model.Watermark {
	out := w
	if out.High == model.Unset {
		out.High = 0
	}
	if out.Stable == model.Unset {
		out.Stable = 0
	}
	return out
}

// CycleReplicas implements metadata's pseudo-random replica cycling: given
// the full set of broker node ids (in a stable, caller-supplied order) and
// a per-call seed, returns replicationFactor distinct broker ids for
// partition index idx, cycling so that successive partitions get different
// leaders when replicationFactor <= len(brokerIDs).
func CycleReplicas(brokerIDs []int32, idx, replicationFactor int, seed int64) []int32 {
	n := len(brokerIDs)
	if n == 0 || replicationFactor <= 0 {
		return nil
	}
	if replicationFactor > n {
		replicationFactor = n
	}
	start := int((seed + int64(idx)) % int64(n))
	if start < 0 {
		start += n
	}
	out := make([]int32, replicationFactor)
	for i := 0; i < replicationFactor; i++ {
		out[i] = brokerIDs[(start+i)%n]
	}
	return out
}

// casMatches implements update_group's compare-and-set rule: a nil expected
// version matches only the absence of an existing row; otherwise the
// existing row's e-tag must equal the expected one.
func casMatches(existing *model.Group, expected *GroupVersion) bool {
	if expected == nil {
		return existing == nil
	}
	if existing == nil {
		return false
	}
	return existing.ETag == expected.ETag
}

// AbortIndex is the in-memory abort-set used by the abort-masking
// implementation of transaction abort (spec.md §9 option b): rather than
// physically deleting a transaction's records, fetch consults this index
// to skip them within the recorded offset range. Indexed per (cluster, topic, partition); not persisted, matching
// the "per-engine-instance" scope spec_full.md documents.
type AbortIndex struct {
	mu   sync.RWMutex
	sets map[abortKey][]abortRange
}

type abortKey struct {
	cluster, topic string
	partition      int32
}

type abortRange struct {
	producerID  int64
	fromOffset  int64
	throughHigh int64
}

func NewAbortIndex() *AbortIndex {
	return &AbortIndex{sets: make(map[abortKey][]abortRange)}
}

// Record marks producerID's writes to topition, from the transaction's
// first written offset through the partition's high watermark at abort
// time, as excluded from fetches.
func (a *AbortIndex) Record(cluster string, t model.Topition, producerID, fromOffset, throughHigh int64) {
	k := abortKey{cluster: cluster, topic: t.Topic, partition: t.Partition}
	a.mu.Lock()
	a.sets[k] = append(a.sets[k], abortRange{producerID: producerID, fromOffset: fromOffset, throughHigh: throughHigh})
	a.mu.Unlock()
}

// Excluded reports whether offset o in topition was written by producerID
// under a transaction that aborted. The producer filter keeps committed
// writes interleaved into the same offset window by other producers
// visible.
func (a *AbortIndex) Excluded(cluster string, t model.Topition, producerID, o int64) bool {
	k := abortKey{cluster: cluster, topic: t.Topic, partition: t.Partition}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, r := range a.sets[k] {
		if r.producerID == producerID && o >= r.fromOffset && o <= r.throughHigh {
			return true
		}
	}
	return false
}
