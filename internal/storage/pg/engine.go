// Package pg implements internal/storage's Engine interface over
// database/sql + github.com/lib/pq against the relational schema
// spec.md §6 lays out (cluster, broker, listener, topic, topition,
// watermark, record, header, consumer_offset, consumer_group, producer,
// txn, txn_partition).
package pg

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/tansu-io/tansu/internal/logging"
	"github.com/tansu-io/tansu/internal/storage"
)

// Opt configures an Engine at construction, following the teacher's
// functional-option pattern.
type Opt func(*Engine)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l logging.Logger) Opt {
	return func(e *Engine) { e.log = l }
}

// WithMaxOpenConns caps the underlying connection pool.
func WithMaxOpenConns(n int) Opt {
	return func(e *Engine) { e.db.SetMaxOpenConns(n) }
}

// Engine is the Postgres-backed storage.Engine implementation.
type Engine struct {
	db  *sql.DB
	log logging.Logger

	abort *storage.AbortIndex
}

// New opens dsn (a libpq connection string) and applies opts. It does not
// run the schema migration; call Migrate explicitly once at startup.
func New(dsn string, opts ...Opt) (*Engine, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage/pg: open: %w", err)
	}
	e := &Engine{db: db, log: logging.Nop{}, abort: storage.NewAbortIndex()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Close releases the connection pool.
func (e *Engine) Close() error { return e.db.Close() }

var _ storage.Engine = (*Engine)(nil)

// Migrate creates every table spec.md §6 names if it does not already
// exist. Idempotent; safe to call on every startup.
func (e *Engine) Migrate(ctx context.Context) error {
	_, err := e.db.ExecContext(ctx, schemaDDL)
	return err
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS cluster (
	id SERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS broker (
	id SERIAL PRIMARY KEY,
	cluster TEXT NOT NULL,
	node INTEGER NOT NULL,
	rack TEXT,
	incarnation UUID NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (cluster, node)
);

CREATE TABLE IF NOT EXISTS listener (
	id SERIAL PRIMARY KEY,
	broker INTEGER NOT NULL REFERENCES broker(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	host TEXT NOT NULL,
	port INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS topic (
	id UUID PRIMARY KEY,
	cluster TEXT NOT NULL,
	name TEXT NOT NULL,
	partitions INTEGER NOT NULL,
	replication_factor INTEGER NOT NULL,
	UNIQUE (cluster, name)
);

CREATE TABLE IF NOT EXISTS topic_configuration (
	topic UUID NOT NULL REFERENCES topic(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	value TEXT,
	PRIMARY KEY (topic, name)
);

CREATE TABLE IF NOT EXISTS topition (
	cluster TEXT NOT NULL,
	topic UUID NOT NULL REFERENCES topic(id) ON DELETE CASCADE,
	partition INTEGER NOT NULL,
	PRIMARY KEY (cluster, topic, partition)
);

CREATE TABLE IF NOT EXISTS watermark (
	cluster TEXT NOT NULL,
	topic UUID NOT NULL REFERENCES topic(id) ON DELETE CASCADE,
	partition INTEGER NOT NULL,
	low BIGINT NOT NULL,
	high BIGINT NOT NULL,
	stable BIGINT NOT NULL,
	PRIMARY KEY (cluster, topic, partition)
);

CREATE TABLE IF NOT EXISTS record (
	cluster TEXT NOT NULL,
	topic UUID NOT NULL REFERENCES topic(id) ON DELETE CASCADE,
	partition INTEGER NOT NULL,
	id BIGINT NOT NULL,
	producer_id BIGINT,
	base_sequence INTEGER,
	timestamp TIMESTAMPTZ NOT NULL,
	key BYTEA,
	value BYTEA,
	PRIMARY KEY (cluster, topic, partition, id)
);

CREATE TABLE IF NOT EXISTS header (
	cluster TEXT NOT NULL,
	topic UUID NOT NULL,
	partition INTEGER NOT NULL,
	record BIGINT NOT NULL,
	key BYTEA,
	value BYTEA,
	FOREIGN KEY (cluster, topic, partition, record)
		REFERENCES record (cluster, topic, partition, id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS consumer_offset (
	cluster TEXT NOT NULL,
	"group" TEXT NOT NULL,
	topic UUID NOT NULL REFERENCES topic(id) ON DELETE CASCADE,
	partition INTEGER NOT NULL,
	"offset" BIGINT NOT NULL,
	leader_epoch INTEGER,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
	metadata TEXT,
	PRIMARY KEY (cluster, "group", topic, partition)
);

CREATE TABLE IF NOT EXISTS consumer_group (
	cluster TEXT NOT NULL,
	"group" TEXT NOT NULL,
	e_tag UUID NOT NULL,
	detail JSONB NOT NULL,
	PRIMARY KEY (cluster, "group")
);

CREATE SEQUENCE IF NOT EXISTS producer_id_seq;

CREATE TABLE IF NOT EXISTS producer (
	id BIGINT PRIMARY KEY DEFAULT nextval('producer_id_seq'),
	cluster TEXT NOT NULL,
	epoch SMALLINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS txn (
	id TEXT PRIMARY KEY,
	cluster TEXT NOT NULL,
	timeout_ms BIGINT NOT NULL,
	producer BIGINT NOT NULL REFERENCES producer(id),
	state SMALLINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS txn_partition (
	txn TEXT NOT NULL REFERENCES txn(id) ON DELETE CASCADE,
	topic UUID NOT NULL REFERENCES topic(id) ON DELETE CASCADE,
	partition INTEGER NOT NULL,
	PRIMARY KEY (txn, topic, partition)
);

CREATE TABLE IF NOT EXISTS txn_group (
	txn TEXT NOT NULL REFERENCES txn(id) ON DELETE CASCADE,
	"group" TEXT NOT NULL,
	PRIMARY KEY (txn, "group")
);

CREATE TABLE IF NOT EXISTS txn_offset_commit (
	txn TEXT NOT NULL REFERENCES txn(id) ON DELETE CASCADE,
	"group" TEXT NOT NULL,
	topic UUID NOT NULL REFERENCES topic(id) ON DELETE CASCADE,
	partition INTEGER NOT NULL,
	"offset" BIGINT NOT NULL,
	leader_epoch INTEGER,
	metadata TEXT,
	PRIMARY KEY (txn, "group", topic, partition)
);
`
