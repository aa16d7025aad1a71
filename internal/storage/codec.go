package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/tansu-io/tansu/internal/model"
)

// CompressionCodec selects how DeflateBatchWithCodec/InflateBatch
// compress/decompress a batch's serialised record payload. The codec is
// recorded as a single leading byte of the deflated frame (the CRC covers
// this byte as well as the body), the same "codec tag in the envelope" approach the
// Kafka RecordBatch v2 wire format uses for its own attributes field,
// simplified to the one bit that matters here: which codec decoded the
// rest of the frame.
type CompressionCodec uint8

const (
	CompressionNone CompressionCodec = iota
	CompressionGzip
	CompressionLZ4
	CompressionZstd
)

// InflateBatch and DeflateBatch convert between the wire-serialised
// (DeflatedBatch) and structured (Batch) forms of a produce/fetch batch.
// spec.md §6 treats the Kafka wire protocol's own framing as an external
// collaborator; what storage itself persists and reconstructs is this
// narrower internal representation (base offset/timestamp/producer
// identity plus per-record deltas), which is all produce/fetch actually
// need. The format is a small fixed binary layout guarded by a CRC32,
// deliberately not the full Kafka RecordBatch v2 wire format.
//
// DeflateBatch always uses CompressionNone; DeflateBatchWithCodec lets a
// caller pick one of the batch compression codecs a produce request can
// arrive compressed under.
func DeflateBatch(b model.Batch) model.DeflatedBatch {
	d, err := DeflateBatchWithCodec(b, CompressionNone)
	if err != nil {
		// CompressionNone never fails to "compress" (it's a passthrough),
		// so this path is unreachable; guard it rather than swallow it.
		panic(fmt.Sprintf("storage: uncompressed deflate failed: %v", err))
	}
	return d
}

// DeflateBatchWithCodec serialises b the same way DeflateBatch does, then
// compresses the serialised body under codec, prepends the codec tag byte,
// and computes the CRC over the resulting frame.
func DeflateBatchWithCodec(b model.Batch, codec CompressionCodec) (model.DeflatedBatch, error) {
	var buf bytes.Buffer
	var scratch [8]byte

	putInt64 := func(v int64) {
		binary.BigEndian.PutUint64(scratch[:], uint64(v))
		buf.Write(scratch[:])
	}
	putInt32 := func(v int32) {
		binary.BigEndian.PutUint32(scratch[:4], uint32(v))
		buf.Write(scratch[:4])
	}
	putBytes := func(b []byte) {
		if b == nil {
			putInt32(-1)
			return
		}
		putInt32(int32(len(b)))
		buf.Write(b)
	}

	putInt64(b.BaseOffset)
	putInt64(b.BaseTimestamp.UnixNano())
	putInt64(b.ProducerID)
	putInt32(int32(b.ProducerEpoch))
	putInt32(b.BaseSequence)
	putInt32(int32(len(b.Records)))
	for _, r := range b.Records {
		putInt32(r.OffsetDelta)
		putInt64(int64(r.TimestampDelta))
		putBytes(r.Key)
		putBytes(r.Value)
		putInt32(int32(len(r.Headers)))
		for _, h := range r.Headers {
			putBytes(h.Key)
			putBytes(h.Value)
		}
	}

	compressed, err := compress(codec, buf.Bytes())
	if err != nil {
		return model.DeflatedBatch{}, fmt.Errorf("storage: compress batch: %w", err)
	}
	framed := append([]byte{byte(codec)}, compressed...)
	return model.DeflatedBatch{CRC: crc32.ChecksumIEEE(framed), Data: framed}, nil
}

// compress compresses payload under codec, or returns it unchanged for
// CompressionNone.
func compress(codec CompressionCodec, payload []byte) ([]byte, error) {
	switch codec {
	case CompressionNone:
		return payload, nil
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(payload, nil), nil
	default:
		return nil, fmt.Errorf("storage: unknown compression codec %d", codec)
	}
}

// decompress is compress's inverse.
func decompress(codec CompressionCodec, payload []byte) ([]byte, error) {
	switch codec {
	case CompressionNone:
		return payload, nil
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(payload)))
	case CompressionZstd:
		dec, err := zstd.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return io.ReadAll(dec)
	default:
		return nil, fmt.Errorf("storage: unknown compression codec %d", codec)
	}
}

// InflateBatch reverses DeflateBatch/DeflateBatchWithCodec: it verifies the
// frame's CRC, reads the leading codec tag, decompresses the body under
// that codec, and parses the fixed binary layout into a structured Batch.
func InflateBatch(d model.DeflatedBatch) (model.Batch, error) {
	if crc32.ChecksumIEEE(d.Data) != d.CRC {
		return model.Batch{}, fmt.Errorf("storage: batch CRC mismatch")
	}
	if len(d.Data) < 1 {
		return model.Batch{}, fmt.Errorf("storage: empty deflated batch")
	}
	codec := CompressionCodec(d.Data[0])
	payload, err := decompress(codec, d.Data[1:])
	if err != nil {
		return model.Batch{}, fmt.Errorf("storage: decompress batch: %w", err)
	}
	r := bytes.NewReader(payload)

	getInt64 := func() (int64, error) {
		var b [8]byte
		if _, err := readFull(r, b[:]); err != nil {
			return 0, err
		}
		return int64(binary.BigEndian.Uint64(b[:])), nil
	}
	getInt32 := func() (int32, error) {
		var b [4]byte
		if _, err := readFull(r, b[:]); err != nil {
			return 0, err
		}
		return int32(binary.BigEndian.Uint32(b[:])), nil
	}
	getBytes := func() ([]byte, error) {
		n, err := getInt32()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, nil
		}
		b := make([]byte, n)
		if _, err := readFull(r, b); err != nil {
			return nil, err
		}
		return b, nil
	}

	var b model.Batch
	if b.BaseOffset, err = getInt64(); err != nil {
		return model.Batch{}, err
	}
	ns, err := getInt64()
	if err != nil {
		return model.Batch{}, err
	}
	b.BaseTimestamp = time.Unix(0, ns).UTC()
	if b.ProducerID, err = getInt64(); err != nil {
		return model.Batch{}, err
	}
	epoch, err := getInt32()
	if err != nil {
		return model.Batch{}, err
	}
	b.ProducerEpoch = int16(epoch)
	if b.BaseSequence, err = getInt32(); err != nil {
		return model.Batch{}, err
	}
	count, err := getInt32()
	if err != nil {
		return model.Batch{}, err
	}

	b.Records = make([]model.BatchRecord, 0, count)
	for i := int32(0); i < count; i++ {
		var rec model.BatchRecord
		if rec.OffsetDelta, err = getInt32(); err != nil {
			return model.Batch{}, err
		}
		deltaNs, err := getInt64()
		if err != nil {
			return model.Batch{}, err
		}
		rec.TimestampDelta = time.Duration(deltaNs)
		if rec.Key, err = getBytes(); err != nil {
			return model.Batch{}, err
		}
		if rec.Value, err = getBytes(); err != nil {
			return model.Batch{}, err
		}
		hcount, err := getInt32()
		if err != nil {
			return model.Batch{}, err
		}
		rec.Headers = make([]model.Header, 0, hcount)
		for j := int32(0); j < hcount; j++ {
			var h model.Header
			if h.Key, err = getBytes(); err != nil {
				return model.Batch{}, err
			}
			if h.Value, err = getBytes(); err != nil {
				return model.Batch{}, err
			}
			rec.Headers = append(rec.Headers, h)
		}
		b.Records = append(b.Records, rec)
	}
	return b, nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		m, err := r.Read(b[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
