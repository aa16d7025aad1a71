package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tansu-io/tansu/internal/model"
	"github.com/tansu-io/tansu/internal/storage"
)

// RegisterBroker upserts the broker by (cluster, node_id), replacing its
// incarnation id and listeners atomically.
func (e *Engine) RegisterBroker(ctx context.Context, req storage.RegisterBrokerRequest) (int64, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage/pg: begin: %w", err)
	}
	defer tx.Rollback()

	incarnation := uuid.New()
	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO broker (cluster, node, rack, incarnation, last_updated)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (cluster, node) DO UPDATE SET
			rack = EXCLUDED.rack, incarnation = EXCLUDED.incarnation, last_updated = now()
		RETURNING id
	`, req.Cluster, req.NodeID, req.Rack, incarnation).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage/pg: register broker: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM listener WHERE broker = $1`, id); err != nil {
		return 0, fmt.Errorf("storage/pg: clear listeners: %w", err)
	}
	for _, l := range req.Listeners {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO listener (broker, name, host, port) VALUES ($1, $2, $3, $4)
		`, id, l.Name, l.Host, l.Port); err != nil {
			return 0, fmt.Errorf("storage/pg: insert listener: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage/pg: commit: %w", err)
	}
	return id, nil
}

// Brokers lists (node_id, host, port, rack) for the "broker" listener of
// every broker in cluster.
func (e *Engine) Brokers(ctx context.Context, cluster string) ([]storage.MetadataBroker, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT b.node, l.host, l.port, b.rack
		FROM broker b JOIN listener l ON l.broker = b.id
		WHERE b.cluster = $1 AND l.name = 'broker'
		ORDER BY b.node
	`, cluster)
	if err != nil {
		return nil, fmt.Errorf("storage/pg: brokers: %w", err)
	}
	defer rows.Close()

	var out []storage.MetadataBroker
	for rows.Next() {
		var b storage.MetadataBroker
		if err := rows.Scan(&b.NodeID, &b.Host, &b.Port, &b.Rack); err != nil {
			return nil, fmt.Errorf("storage/pg: scan broker: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CreateTopic atomically inserts the topic row, its partitions' watermark
// rows (all at (-1,-1,-1)), and its configs. A unique violation on
// (cluster, name) maps to storage.ErrTopicAlreadyExists. When ValidateOnly
// is set, the transaction is always rolled back regardless of success.
func (e *Engine) CreateTopic(ctx context.Context, req storage.CreatableTopic) (uuid.UUID, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage/pg: begin: %w", err)
	}
	defer tx.Rollback()

	id := uuid.New()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO topic (id, cluster, name, partitions, replication_factor)
		VALUES ($1, $2, $3, $4, $5)
	`, id, req.Cluster, req.Name, req.NumPartitions, req.ReplicationFactor)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return uuid.Nil, storage.ErrTopicAlreadyExists
		}
		return uuid.Nil, fmt.Errorf("storage/pg: insert topic: %w", err)
	}

	for p := int32(0); p < req.NumPartitions; p++ {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO topition (cluster, topic, partition) VALUES ($1, $2, $3)
		`, req.Cluster, id, p); err != nil {
			return uuid.Nil, fmt.Errorf("storage/pg: insert topition: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO watermark (cluster, topic, partition, low, high, stable) VALUES ($1, $2, $3, $4, $4, $4)
		`, req.Cluster, id, p, model.Unset); err != nil {
			return uuid.Nil, fmt.Errorf("storage/pg: insert watermark: %w", err)
		}
	}

	for name, value := range req.Configs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO topic_configuration (topic, name, value) VALUES ($1, $2, $3)
		`, id, name, value); err != nil {
			return uuid.Nil, fmt.Errorf("storage/pg: insert config: %w", err)
		}
	}

	if req.ValidateOnly {
		return id, nil // rollback via the deferred tx.Rollback(); nothing committed.
	}
	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("storage/pg: commit: %w", err)
	}
	return id, nil
}

func (e *Engine) resolveTopicID(ctx context.Context, q queryer, cluster string, ref storage.TopicRef) (uuid.UUID, error) {
	switch {
	case ref.ID != nil:
		var exists bool
		err := q.QueryRowContext(ctx, `SELECT true FROM topic WHERE cluster = $1 AND id = $2`, cluster, ref.ID).Scan(&exists)
		if err == sql.ErrNoRows {
			return uuid.Nil, storage.ErrUnknownTopicOrPartition
		}
		if err != nil {
			return uuid.Nil, fmt.Errorf("storage/pg: resolve topic by id: %w", err)
		}
		return *ref.ID, nil
	case ref.Name != nil:
		var id uuid.UUID
		err := q.QueryRowContext(ctx, `SELECT id FROM topic WHERE cluster = $1 AND name = $2`, cluster, *ref.Name).Scan(&id)
		if err == sql.ErrNoRows {
			return uuid.Nil, storage.ErrUnknownTopicOrPartition
		}
		if err != nil {
			return uuid.Nil, fmt.Errorf("storage/pg: resolve topic by name: %w", err)
		}
		return id, nil
	default:
		return uuid.Nil, storage.ErrUnknownTopicOrPartition
	}
}

// queryer is the subset of *sql.DB/*sql.Tx this package's helpers need,
// letting the same resolve/scan logic run inside or outside a transaction.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DeleteTopic cascade-deletes a topic's consumer offsets, watermarks,
// headers, records, partitions, and finally the topic row, all in one
// transaction. An unresolvable ref maps to storage.ErrUnknownTopicOrPartition.
func (e *Engine) DeleteTopic(ctx context.Context, cluster string, ref storage.TopicRef) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage/pg: begin: %w", err)
	}
	defer tx.Rollback()

	id, err := e.resolveTopicID(ctx, tx, cluster, ref)
	if err != nil {
		return err
	}

	// ON DELETE CASCADE on topic handles topic_configuration, topition,
	// watermark, record, header, consumer_offset, txn_partition; header rows
	// cascade from record. One statement suffices.
	if _, err := tx.ExecContext(ctx, `DELETE FROM topic WHERE cluster = $1 AND id = $2`, cluster, id); err != nil {
		return fmt.Errorf("storage/pg: delete topic: %w", err)
	}
	return tx.Commit()
}

// DeleteRecords deletes records with id >= offset for each requested
// partition and re-derives low_watermark as the minimum remaining record
// id (or the partition's next offset, from its high watermark, when the
// partition is now empty).
func (e *Engine) DeleteRecords(ctx context.Context, cluster string, reqs []storage.DeleteRecordsRequest) []storage.DeleteRecordsResult {
	out := make([]storage.DeleteRecordsResult, 0, len(reqs))
	for _, req := range reqs {
		low, err := e.deleteRecordsOne(ctx, cluster, req)
		out = append(out, storage.DeleteRecordsResult{Topition: req.Topition, LowWatermark: low, Err: err})
	}
	return out
}

func (e *Engine) deleteRecordsOne(ctx context.Context, cluster string, req storage.DeleteRecordsRequest) (int64, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage/pg: begin: %w", err)
	}
	defer tx.Rollback()

	id, err := e.resolveTopicID(ctx, tx, cluster, storage.TopicRef{Name: &req.Topition.Topic})
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM record WHERE cluster = $1 AND topic = $2 AND partition = $3 AND id >= $4
	`, cluster, id, req.Topition.Partition, req.Offset); err != nil {
		return 0, fmt.Errorf("storage/pg: delete records: %w", err)
	}

	var low sql.NullInt64
	if err := tx.QueryRowContext(ctx, `
		SELECT min(id) FROM record WHERE cluster = $1 AND topic = $2 AND partition = $3
	`, cluster, id, req.Topition.Partition).Scan(&low); err != nil {
		return 0, fmt.Errorf("storage/pg: min record id: %w", err)
	}

	var newLow int64
	if low.Valid {
		newLow = low.Int64
	} else {
		var high int64
		if err := tx.QueryRowContext(ctx, `
			SELECT high FROM watermark WHERE cluster = $1 AND topic = $2 AND partition = $3
		`, cluster, id, req.Topition.Partition).Scan(&high); err != nil {
			return 0, fmt.Errorf("storage/pg: read watermark: %w", err)
		}
		newLow = high + 1
		if high == model.Unset {
			newLow = 0
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE watermark SET low = $4 WHERE cluster = $1 AND topic = $2 AND partition = $3
	`, cluster, id, req.Topition.Partition, newLow); err != nil {
		return 0, fmt.Errorf("storage/pg: update watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage/pg: commit: %w", err)
	}
	return newLow, nil
}

// DescribeConfig returns the configs stored for a topic. A missing topic
// returns storage.ErrUnknownTopicOrPartition with an empty slice.
func (e *Engine) DescribeConfig(ctx context.Context, cluster, name string, keys []string) ([]storage.ConfigEntry, error) {
	id, err := e.resolveTopicID(ctx, e.db, cluster, storage.TopicRef{Name: &name})
	if err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, `SELECT name, value FROM topic_configuration WHERE topic = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("storage/pg: describe config: %w", err)
	}
	defer rows.Close()

	wanted := map[string]bool{}
	for _, k := range keys {
		wanted[k] = true
	}

	var out []storage.ConfigEntry
	for rows.Next() {
		var c storage.ConfigEntry
		if err := rows.Scan(&c.Name, &c.Value); err != nil {
			return nil, fmt.Errorf("storage/pg: scan config: %w", err)
		}
		if len(wanted) > 0 && !wanted[c.Name] {
			continue
		}
		c.ReadOnly = false
		c.IsDefault = false
		c.Source = "DefaultConfig"
		c.Type = "String"
		out = append(out, c)
	}
	return out, rows.Err()
}
