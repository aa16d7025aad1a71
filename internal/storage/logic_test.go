package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tansu-io/tansu/internal/model"
)

func TestAssignOffsets_EmptyLogStartsAtDelta(t *testing.T) {
	batch := model.Batch{
		BaseTimestamp: time.Unix(1000, 0),
		Records: []model.BatchRecord{
			{OffsetDelta: 0, Key: []byte("k0")},
			{OffsetDelta: 1, Key: []byte("k1")},
		},
	}
	got := AssignOffsets(model.Unset, batch)
	require.Equal(t, int64(0), got[0].Offset)
	require.Equal(t, int64(1), got[1].Offset)
}

func TestAssignOffsets_ContinuesFromHigh(t *testing.T) {
	batch := model.Batch{
		BaseTimestamp: time.Unix(1000, 0),
		Records: []model.BatchRecord{
			{OffsetDelta: 0},
			{OffsetDelta: 1},
			{OffsetDelta: 2},
		},
	}
	got := AssignOffsets(3, batch)
	require.Equal(t, []int64{4, 5, 6}, []int64{got[0].Offset, got[1].Offset, got[2].Offset})
}

func TestNormalizeWatermark_UnsetHighAndStableBecomeZero(t *testing.T) {
	w := normalizeWatermark(model.Watermark{Low: model.Unset, High: model.Unset, Stable: model.Unset})
	require.Equal(t, int64(model.Unset), w.Low)
	require.Equal(t, int64(0), w.High)
	require.Equal(t, int64(0), w.Stable)
}

func TestCycleReplicas_DistinctAcrossPartitionsWhenPossible(t *testing.T) {
	brokers := []int32{1, 2, 3}
	p0 := CycleReplicas(brokers, 0, 2, 7)
	p1 := CycleReplicas(brokers, 1, 2, 7)
	require.Len(t, p0, 2)
	require.Len(t, p1, 2)
	require.NotEqual(t, p0[0], p1[0])
}

func TestCycleReplicas_CapsAtBrokerCount(t *testing.T) {
	got := CycleReplicas([]int32{1, 2}, 0, 5, 0)
	require.Len(t, got, 2)
}

func TestCasMatches_NoExpectedVersionRequiresNoRow(t *testing.T) {
	require.True(t, casMatches(nil, nil))
	require.False(t, casMatches(&model.Group{ETag: uuid.New()}, nil))
}

func TestCasMatches_ExpectedVersionRequiresMatchingETag(t *testing.T) {
	tag := uuid.New()
	require.True(t, casMatches(&model.Group{ETag: tag}, &GroupVersion{ETag: tag}))
	require.False(t, casMatches(&model.Group{ETag: uuid.New()}, &GroupVersion{ETag: tag}))
	require.False(t, casMatches(nil, &GroupVersion{ETag: tag}))
}

func TestAbortIndex_ExcludesOnlyRecordedRange(t *testing.T) {
	idx := NewAbortIndex()
	topition := model.Topition{Topic: "t", Partition: 0}
	idx.Record("c", topition, 42, 10, 20)

	require.False(t, idx.Excluded("c", topition, 42, 9))
	require.True(t, idx.Excluded("c", topition, 42, 10))
	require.True(t, idx.Excluded("c", topition, 42, 20))
	require.False(t, idx.Excluded("c", topition, 42, 21))
	require.False(t, idx.Excluded("c", model.Topition{Topic: "other", Partition: 0}, 42, 15))
}

func TestAbortIndex_ScopedToTheAbortingProducer(t *testing.T) {
	idx := NewAbortIndex()
	topition := model.Topition{Topic: "t", Partition: 0}
	idx.Record("c", topition, 42, 10, 20)

	// A different producer's committed writes interleaved into the same
	// offset window stay visible.
	require.False(t, idx.Excluded("c", topition, 7, 15))
	require.True(t, idx.Excluded("c", topition, 42, 15))
}
