package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tansu-io/tansu/internal/model"
)

func TestDeflateInflateBatch_RoundTrips(t *testing.T) {
	b := model.Batch{
		BaseOffset:    7,
		BaseTimestamp: time.Unix(1_700_000_000, 0).UTC(),
		ProducerID:    42,
		ProducerEpoch: 3,
		BaseSequence:  0,
		Records: []model.BatchRecord{
			{
				OffsetDelta:    0,
				TimestampDelta: 0,
				Key:            []byte("k0"),
				Value:          []byte("v0"),
				Headers:        []model.Header{{Key: []byte("h"), Value: []byte("1")}},
			},
			{
				OffsetDelta:    1,
				TimestampDelta: time.Second,
				Key:            nil,
				Value:          []byte("v1"),
			},
		},
	}

	deflated := DeflateBatch(b)
	got, err := InflateBatch(deflated)
	require.NoError(t, err)
	require.Equal(t, b.BaseOffset, got.BaseOffset)
	require.True(t, b.BaseTimestamp.Equal(got.BaseTimestamp))
	require.Equal(t, b.ProducerID, got.ProducerID)
	require.Equal(t, b.ProducerEpoch, got.ProducerEpoch)
	require.Len(t, got.Records, 2)
	require.Equal(t, []byte("k0"), got.Records[0].Key)
	require.Nil(t, got.Records[1].Key)
	require.Equal(t, []byte("v1"), got.Records[1].Value)
	require.Len(t, got.Records[0].Headers, 1)
}

func TestInflateBatch_RejectsCorruptedCRC(t *testing.T) {
	deflated := DeflateBatch(model.Batch{BaseTimestamp: time.Now()})
	deflated.CRC ^= 0xffffffff
	_, err := InflateBatch(deflated)
	require.Error(t, err)
}

func TestDeflateBatchWithCodec_RoundTripsUnderEveryCompressionCodec(t *testing.T) {
	b := model.Batch{
		BaseTimestamp: time.Unix(1_700_000_000, 0).UTC(),
		Records: []model.BatchRecord{
			{Key: []byte("k0"), Value: []byte("a long enough value to make compression meaningful")},
			{OffsetDelta: 1, Key: []byte("k1"), Value: []byte("another long enough value to compress")},
		},
	}

	for _, codec := range []CompressionCodec{CompressionNone, CompressionGzip, CompressionLZ4, CompressionZstd} {
		deflated, err := DeflateBatchWithCodec(b, codec)
		require.NoError(t, err)

		got, err := InflateBatch(deflated)
		require.NoError(t, err)
		require.Len(t, got.Records, 2)
		require.Equal(t, b.Records[0].Value, got.Records[0].Value)
		require.Equal(t, b.Records[1].Value, got.Records[1].Value)
	}
}
