package pg

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/tansu-io/tansu/internal/model"
	"github.com/tansu-io/tansu/internal/storage"
)

// InitProducer allocates a fresh producer id at epoch 0 when (ProducerID,
// ProducerEpoch) is (-1,-1); otherwise it bumps the existing producer's
// epoch. An epoch already at its int16 maximum cannot be bumped further and
// is reported as storage.ErrUnknownProducerID, the same sentinel an unknown
// id maps to, so callers treat both as "reinitialise with a fresh id".
// When TransactionID is set, the txn row is upserted to bind it to the
// resulting producer and timeout.
func (e *Engine) InitProducer(ctx context.Context, req storage.InitProducerRequest) (storage.InitProducerResult, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.InitProducerResult{}, fmt.Errorf("storage/pg: begin: %w", err)
	}
	defer tx.Rollback()

	var result storage.InitProducerResult
	switch {
	case req.ProducerID == model.Unset && req.ProducerEpoch == model.Unset:
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO producer (cluster, epoch) VALUES ($1, 0) RETURNING id, epoch
		`, req.Cluster).Scan(&result.ProducerID, &result.ProducerEpoch); err != nil {
			return storage.InitProducerResult{}, fmt.Errorf("storage/pg: allocate producer: %w", err)
		}

	default:
		var epoch int16
		err := tx.QueryRowContext(ctx, `
			SELECT epoch FROM producer WHERE id = $1 AND cluster = $2 FOR UPDATE
		`, req.ProducerID, req.Cluster).Scan(&epoch)
		if err == sql.ErrNoRows {
			return storage.InitProducerResult{}, storage.ErrUnknownProducerID
		}
		if err != nil {
			return storage.InitProducerResult{}, fmt.Errorf("storage/pg: read producer: %w", err)
		}
		if epoch >= math.MaxInt16 {
			return storage.InitProducerResult{}, storage.ErrUnknownProducerID
		}
		epoch++
		if _, err := tx.ExecContext(ctx, `UPDATE producer SET epoch = $2 WHERE id = $1`, req.ProducerID, epoch); err != nil {
			return storage.InitProducerResult{}, fmt.Errorf("storage/pg: bump epoch: %w", err)
		}
		result = storage.InitProducerResult{ProducerID: req.ProducerID, ProducerEpoch: epoch}
	}

	if req.TransactionID != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO txn (id, cluster, timeout_ms, producer, state) VALUES ($1, $2, $3, $4, 0)
			ON CONFLICT (id) DO UPDATE SET timeout_ms = EXCLUDED.timeout_ms, producer = EXCLUDED.producer, state = 0
		`, *req.TransactionID, req.Cluster, req.Timeout.Milliseconds(), result.ProducerID); err != nil {
			return storage.InitProducerResult{}, fmt.Errorf("storage/pg: upsert txn: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.InitProducerResult{}, fmt.Errorf("storage/pg: commit: %w", err)
	}
	return result, nil
}

// TxnAddPartitions idempotently records every partition as participating in
// the transaction and advances its state to Ongoing.
func (e *Engine) TxnAddPartitions(ctx context.Context, req storage.TxnAddPartitionsRequest) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage/pg: begin: %w", err)
	}
	defer tx.Rollback()

	var cluster string
	if err := tx.QueryRowContext(ctx, `SELECT cluster FROM txn WHERE id = $1`, req.TransactionID).Scan(&cluster); err != nil {
		return fmt.Errorf("storage/pg: read txn: %w", err)
	}

	for _, t := range req.Topitions {
		topicID, err := e.resolveTopicID(ctx, tx, cluster, storage.TopicRef{Name: &t.Topic})
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO txn_partition (txn, topic, partition) VALUES ($1, $2, $3)
			ON CONFLICT (txn, topic, partition) DO NOTHING
		`, req.TransactionID, topicID, t.Partition); err != nil {
			return fmt.Errorf("storage/pg: add partition: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE txn SET state = 1 WHERE id = $1 AND state = 0
	`, req.TransactionID); err != nil {
		return fmt.Errorf("storage/pg: advance txn state: %w", err)
	}
	return tx.Commit()
}

// TxnAddOffsets idempotently records that group participates in the
// transaction, so txn_offset_commit's staged rows are scoped to a group the
// transaction is known to own.
func (e *Engine) TxnAddOffsets(ctx context.Context, transactionID string, producerID int64, producerEpoch int16, group string) error {
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO txn_group (txn, "group") VALUES ($1, $2) ON CONFLICT (txn, "group") DO NOTHING
	`, transactionID, group)
	if err != nil {
		return fmt.Errorf("storage/pg: add offsets: %w", err)
	}
	return nil
}

// TxnOffsetCommit stages offsets under the transaction; they become visible
// in consumer_offset only once TxnEnd commits.
func (e *Engine) TxnOffsetCommit(ctx context.Context, req storage.TxnOffsetCommitRequest) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage/pg: begin: %w", err)
	}
	defer tx.Rollback()

	var cluster string
	if err := tx.QueryRowContext(ctx, `SELECT cluster FROM txn WHERE id = $1`, req.TransactionID).Scan(&cluster); err != nil {
		return fmt.Errorf("storage/pg: read txn: %w", err)
	}

	for _, off := range req.Offsets {
		topicID, err := e.resolveTopicID(ctx, tx, cluster, storage.TopicRef{Name: &off.Topition.Topic})
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO txn_offset_commit (txn, "group", topic, partition, "offset", leader_epoch, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (txn, "group", topic, partition) DO UPDATE SET
				"offset" = EXCLUDED."offset", leader_epoch = EXCLUDED.leader_epoch, metadata = EXCLUDED.metadata
		`, req.TransactionID, req.Group, topicID, off.Topition.Partition, off.Offset, off.LeaderEpoch, off.Metadata); err != nil {
			return fmt.Errorf("storage/pg: stage txn offset: %w", err)
		}
	}
	return tx.Commit()
}

// TxnEnd resolves the transaction. On commit, every participating
// partition's stable watermark advances to its current high and every
// staged offset is applied to consumer_offset. On abort, this engine uses
// visibility masking (spec.md §9 option b): for every participating
// partition the producer's writes, from its first written offset there
// through the partition's current high, are recorded in the in-memory
// abort index, and staged offsets are simply discarded. Either way txn_partition,
// txn_group, and txn_offset_commit rows are cleared by the cascade from the
// deleted txn row.
func (e *Engine) TxnEnd(ctx context.Context, req storage.TxnEndRequest) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage/pg: begin: %w", err)
	}
	defer tx.Rollback()

	var cluster string
	if err := tx.QueryRowContext(ctx, `SELECT cluster FROM txn WHERE id = $1`, req.TransactionID).Scan(&cluster); err != nil {
		return fmt.Errorf("storage/pg: read txn: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT tp.topic, t.name, tp.partition FROM txn_partition tp
		JOIN topic t ON t.id = tp.topic WHERE tp.txn = $1
	`, req.TransactionID)
	if err != nil {
		return fmt.Errorf("storage/pg: list txn partitions: %w", err)
	}
	type topart struct {
		topicID   string
		topicName string
		partition int32
	}
	var parts []topart
	for rows.Next() {
		var p topart
		if err := rows.Scan(&p.topicID, &p.topicName, &p.partition); err != nil {
			rows.Close()
			return fmt.Errorf("storage/pg: scan txn partition: %w", err)
		}
		parts = append(parts, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range parts {
		var low, high, stable int64
		if err := tx.QueryRowContext(ctx, `
			SELECT low, high, stable FROM watermark WHERE cluster = $1 AND topic = $2 AND partition = $3 FOR UPDATE
		`, cluster, p.topicID, p.partition).Scan(&low, &high, &stable); err != nil {
			return fmt.Errorf("storage/pg: lock watermark: %w", err)
		}

		if req.Committed {
			if _, err := tx.ExecContext(ctx, `
				UPDATE watermark SET stable = $4 WHERE cluster = $1 AND topic = $2 AND partition = $3
			`, cluster, p.topicID, p.partition, high); err != nil {
				return fmt.Errorf("storage/pg: advance stable: %w", err)
			}
		} else {
			// Mask every record this producer wrote into the partition, from
			// its first written offset through the current high; a partition
			// the transaction joined but never produced into has nothing to
			// mask.
			var first sql.NullInt64
			if err := tx.QueryRowContext(ctx, `
				SELECT min(id) FROM record
				WHERE cluster = $1 AND topic = $2 AND partition = $3 AND producer_id = $4
			`, cluster, p.topicID, p.partition, req.ProducerID).Scan(&first); err != nil {
				return fmt.Errorf("storage/pg: find aborted records: %w", err)
			}
			if first.Valid {
				e.abort.Record(cluster, model.Topition{Topic: p.topicName, Partition: p.partition}, req.ProducerID, first.Int64, high)
			}
		}
	}

	if req.Committed {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO consumer_offset (cluster, "group", topic, partition, "offset", leader_epoch, timestamp, metadata)
			SELECT $1, toc."group", toc.topic, toc.partition, toc."offset", toc.leader_epoch, now(), toc.metadata
			FROM txn_offset_commit toc WHERE toc.txn = $2
			ON CONFLICT (cluster, "group", topic, partition) DO UPDATE SET
				"offset" = EXCLUDED."offset", leader_epoch = EXCLUDED.leader_epoch,
				timestamp = now(), metadata = EXCLUDED.metadata
		`, cluster, req.TransactionID); err != nil {
			return fmt.Errorf("storage/pg: apply staged offsets: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM txn WHERE id = $1`, req.TransactionID); err != nil {
		return fmt.Errorf("storage/pg: delete txn: %w", err)
	}
	return tx.Commit()
}
