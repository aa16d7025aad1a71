package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tansu-io/tansu/internal/model"
	"github.com/tansu-io/tansu/internal/storage"
)

// Produce begins a transaction, locks the partition's watermark row,
// inflates the batch, assigns offsets/timestamps against the current high
// watermark, inserts record and header rows, advances the watermark by the
// number of records appended, and commits. The returned value is the first
// assigned offset, or 0 if the log was empty before this call.
func (e *Engine) Produce(ctx context.Context, cluster string, topition model.Topition, deflated model.DeflatedBatch) (int64, error) {
	batch, err := storage.InflateBatch(deflated)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", storage.ErrInvalidRecord, err)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage/pg: begin: %w", err)
	}
	defer tx.Rollback()

	topicID, err := e.resolveTopicID(ctx, tx, cluster, storage.TopicRef{Name: &topition.Topic})
	if err != nil {
		return 0, err
	}

	var low, high, stable int64
	err = tx.QueryRowContext(ctx, `
		SELECT low, high, stable FROM watermark
		WHERE cluster = $1 AND topic = $2 AND partition = $3
		FOR UPDATE
	`, cluster, topicID, topition.Partition).Scan(&low, &high, &stable)
	if err == sql.ErrNoRows {
		return 0, storage.ErrUnknownTopicOrPartition
	}
	if err != nil {
		return 0, fmt.Errorf("storage/pg: lock watermark: %w", err)
	}

	assigned := storage.AssignOffsets(high, batch)

	for _, rec := range assigned {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO record (cluster, topic, partition, id, producer_id, base_sequence, timestamp, key, value)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, cluster, topicID, topition.Partition, rec.Offset, batch.ProducerID, batch.BaseSequence, rec.Timestamp, rec.Key, rec.Value); err != nil {
			return 0, fmt.Errorf("%w: %v", storage.ErrInvalidRecord, err)
		}
		for _, h := range rec.Headers {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO header (cluster, topic, partition, record, key, value) VALUES ($1, $2, $3, $4, $5, $6)
			`, cluster, topicID, topition.Partition, rec.Offset, h.Key, h.Value); err != nil {
				return 0, fmt.Errorf("storage/pg: insert header: %w", err)
			}
		}
	}

	n := int64(len(assigned))
	newHigh := high
	if newHigh == model.Unset {
		newHigh = n - 1
	} else {
		newHigh += n
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE watermark SET high = $4, stable = $5 WHERE cluster = $1 AND topic = $2 AND partition = $3
	`, cluster, topicID, topition.Partition, newHigh, storage.StableAfterProduce(stable, n)); err != nil {
		return 0, fmt.Errorf("storage/pg: update watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage/pg: commit: %w", err)
	}

	if len(assigned) == 0 {
		return 0, nil
	}
	return assigned[0].Offset, nil
}

// OffsetStage returns the raw watermark with unset -1 normalised to 0 for
// high/stable.
func (e *Engine) OffsetStage(ctx context.Context, cluster string, topition model.Topition) (model.Watermark, error) {
	topicID, err := e.resolveTopicID(ctx, e.db, cluster, storage.TopicRef{Name: &topition.Topic})
	if err != nil {
		return model.Watermark{}, err
	}
	var w model.Watermark
	err = e.db.QueryRowContext(ctx, `
		SELECT low, high, stable FROM watermark WHERE cluster = $1 AND topic = $2 AND partition = $3
	`, cluster, topicID, topition.Partition).Scan(&w.Low, &w.High, &w.Stable)
	if err == sql.ErrNoRows {
		return model.Watermark{}, storage.ErrUnknownTopicOrPartition
	}
	if err != nil {
		return model.Watermark{}, fmt.Errorf("storage/pg: offset stage: %w", err)
	}
	if w.High == model.Unset {
		w.High = 0
	}
	if w.Stable == model.Unset {
		w.Stable = 0
	}
	return w, nil
}

// Fetch reads records with id >= offset ordered by id, skipping any offset
// the abort index marks as written by a rolled-back transaction (spec.md
// §9 option b), accumulating key + value + header bytes until the running
// total exceeds minBytes; maxBytes doubles as the server-side row cap via
// the query's LIMIT. The result is re-encoded as a deflated batch. An
// empty result is an empty batch, not an error.
func (e *Engine) Fetch(ctx context.Context, cluster string, topition model.Topition, offset int64, minBytes, maxBytes int32) (model.DeflatedBatch, error) {
	topicID, err := e.resolveTopicID(ctx, e.db, cluster, storage.TopicRef{Name: &topition.Topic})
	if err != nil {
		return model.DeflatedBatch{}, err
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT id, producer_id, base_sequence, timestamp, key, value
		FROM record
		WHERE cluster = $1 AND topic = $2 AND partition = $3 AND id >= $4
		ORDER BY id
		LIMIT $5
	`, cluster, topicID, topition.Partition, offset, maxBytes)
	if err != nil {
		return model.DeflatedBatch{}, fmt.Errorf("storage/pg: fetch: %w", err)
	}
	defer rows.Close()

	var batch model.Batch
	var baseSet bool
	var bytesSeen int32

	for rows.Next() {
		var id int64
		var producerID sql.NullInt64
		var baseSequence sql.NullInt32
		var ts time.Time
		var key, value []byte
		if err := rows.Scan(&id, &producerID, &baseSequence, &ts, &key, &value); err != nil {
			return model.DeflatedBatch{}, fmt.Errorf("storage/pg: scan record: %w", err)
		}
		if producerID.Valid && e.abort.Excluded(cluster, topition, producerID.Int64, id) {
			continue
		}

		headerBytes, headers, err := e.loadHeaders(ctx, cluster, topicID, topition.Partition, id)
		if err != nil {
			return model.DeflatedBatch{}, err
		}

		if !baseSet {
			batch.BaseOffset = id
			batch.BaseTimestamp = ts
			batch.ProducerID = producerID.Int64
			batch.BaseSequence = baseSequence.Int32
			baseSet = true
		}

		batch.Records = append(batch.Records, model.BatchRecord{
			OffsetDelta:    int32(id - batch.BaseOffset),
			TimestampDelta: ts.Sub(batch.BaseTimestamp),
			Key:            key,
			Value:          value,
			Headers:        headers,
		})

		bytesSeen += int32(len(key)+len(value)) + headerBytes
		if bytesSeen > minBytes {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return model.DeflatedBatch{}, fmt.Errorf("storage/pg: fetch rows: %w", err)
	}

	return storage.DeflateBatch(batch), nil
}

func (e *Engine) loadHeaders(ctx context.Context, cluster string, topicID uuid.UUID, partition int32, offset int64) (int32, []model.Header, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT key, value FROM header
		WHERE cluster = $1 AND topic = $2 AND partition = $3 AND record = $4
	`, cluster, topicID, partition, offset)
	if err != nil {
		return 0, nil, fmt.Errorf("storage/pg: load headers: %w", err)
	}
	defer rows.Close()

	var out []model.Header
	var total int32
	for rows.Next() {
		var h model.Header
		if err := rows.Scan(&h.Key, &h.Value); err != nil {
			return 0, nil, fmt.Errorf("storage/pg: scan header: %w", err)
		}
		total += int32(len(h.Key) + len(h.Value))
		out = append(out, h)
	}
	return total, out, rows.Err()
}

// ListOffsets answers each request's well-known or literal-timestamp
// lookup. Earliest is the minimum record id; Latest is the partition's
// next offset derived from its high watermark (a stable upper bound
// independent of deletions, since high never decreases); a literal
// timestamp resolves to the minimum record id whose timestamp is >= it.
// Empty partitions return (now, 0).
func (e *Engine) ListOffsets(ctx context.Context, cluster string, reqs []storage.ListOffsetsRequest) []storage.ListOffsetsResult {
	out := make([]storage.ListOffsetsResult, 0, len(reqs))
	for _, req := range reqs {
		res, err := e.listOffsetsOne(ctx, cluster, req)
		if err != nil {
			res = storage.ListOffsetsResult{Topition: req.Topition, Timestamp: time.Now().UnixMilli(), Offset: 0}
		}
		out = append(out, res)
	}
	return out
}

func (e *Engine) listOffsetsOne(ctx context.Context, cluster string, req storage.ListOffsetsRequest) (storage.ListOffsetsResult, error) {
	topicID, err := e.resolveTopicID(ctx, e.db, cluster, storage.TopicRef{Name: &req.Topition.Topic})
	if err != nil {
		return storage.ListOffsetsResult{}, err
	}

	switch req.Timestamp {
	case storage.ListOffsetsEarliest:
		var id sql.NullInt64
		err := e.db.QueryRowContext(ctx, `
			SELECT min(id) FROM record WHERE cluster = $1 AND topic = $2 AND partition = $3
		`, cluster, topicID, req.Topition.Partition).Scan(&id)
		if err != nil {
			return storage.ListOffsetsResult{}, err
		}
		if !id.Valid {
			return storage.ListOffsetsResult{Topition: req.Topition, Timestamp: time.Now().UnixMilli(), Offset: 0}, nil
		}
		return storage.ListOffsetsResult{Topition: req.Topition, Timestamp: req.Timestamp, Offset: id.Int64}, nil

	case storage.ListOffsetsLatest:
		var high int64
		err := e.db.QueryRowContext(ctx, `
			SELECT high FROM watermark WHERE cluster = $1 AND topic = $2 AND partition = $3
		`, cluster, topicID, req.Topition.Partition).Scan(&high)
		if err == sql.ErrNoRows {
			return storage.ListOffsetsResult{}, storage.ErrUnknownTopicOrPartition
		}
		if err != nil {
			return storage.ListOffsetsResult{}, err
		}
		if high == model.Unset {
			return storage.ListOffsetsResult{Topition: req.Topition, Timestamp: time.Now().UnixMilli(), Offset: 0}, nil
		}
		return storage.ListOffsetsResult{Topition: req.Topition, Timestamp: req.Timestamp, Offset: high + 1}, nil

	default:
		var id sql.NullInt64
		err := e.db.QueryRowContext(ctx, `
			SELECT min(id) FROM record
			WHERE cluster = $1 AND topic = $2 AND partition = $3 AND timestamp >= to_timestamp($4 / 1000.0)
		`, cluster, topicID, req.Topition.Partition, req.Timestamp).Scan(&id)
		if err != nil {
			return storage.ListOffsetsResult{}, err
		}
		if !id.Valid {
			return storage.ListOffsetsResult{Topition: req.Topition, Timestamp: time.Now().UnixMilli(), Offset: 0}, nil
		}
		return storage.ListOffsetsResult{Topition: req.Topition, Timestamp: req.Timestamp, Offset: id.Int64}, nil
	}
}
