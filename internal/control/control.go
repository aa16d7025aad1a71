// Package control implements the C4 broker/topic control plane: the
// operation surface a wire-protocol front end calls, wiring together the
// C1 cached metadata store, the C2 schema registry, and the C3 storage
// engine. spec.md §4.4 describes this as routing requests to C2/C3, owning
// topic-schema lookup, applying validation before produce, and propagating
// create/delete-topic notifications so the registry invalidates cached
// schemas.
package control

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kerr"

	"github.com/tansu-io/tansu/internal/logging"
	"github.com/tansu-io/tansu/internal/model"
	"github.com/tansu-io/tansu/internal/schema"
	"github.com/tansu-io/tansu/internal/storage"
)

// Opt configures a Broker at construction, following the teacher's
// functional-option pattern.
type Opt func(*Broker)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l logging.Logger) Opt {
	return func(b *Broker) { b.log = l }
}

// Broker is C4: the single entry point a wire-protocol front end drives.
// It holds no state of its own beyond what it needs to route — the engine
// and registry are the sources of truth.
type Broker struct {
	Cluster string

	engine   storage.Engine
	registry *schema.Registry
	log      logging.Logger
}

// New builds a Broker for cluster, wired to engine and registry.
func New(cluster string, engine storage.Engine, registry *schema.Registry, opts ...Opt) *Broker {
	b := &Broker{Cluster: cluster, engine: engine, registry: registry, log: logging.Nop{}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// asKerr translates a storage/schema sentinel error into the Kafka
// protocol error kerr.ErrorForCode consumers expect, per spec.md §7's
// taxonomy. A nil error stays nil (kerr.None has no payload to carry).
// Anything unrecognized — including downcast/shape errors, which spec.md
// §7 says must never escape — becomes kerr.UnknownServerError, never
// leaking internal detail to the wire layer.
func asKerr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrTopicAlreadyExists):
		return kerr.TopicAlreadyExists
	case errors.Is(err, storage.ErrUnknownTopicOrPartition):
		return kerr.UnknownTopicOrPartition
	case errors.Is(err, storage.ErrUnknownProducerID):
		return kerr.UnknownProducerID
	case errors.Is(err, storage.ErrInvalidRecord):
		return kerr.InvalidRecord
	default:
		var invalid *schema.InvalidRecordError
		if errors.As(err, &invalid) {
			return kerr.InvalidRecord
		}
		return kerr.UnknownServerError
	}
}

// RegisterBroker upserts a broker in the control plane's cluster.
func (b *Broker) RegisterBroker(ctx context.Context, nodeID int32, host string, port int32, rack *string, listeners []model.Listener) (int64, error) {
	id, err := b.engine.RegisterBroker(ctx, storage.RegisterBrokerRequest{
		Cluster: b.Cluster, NodeID: nodeID, Host: host, Port: port, Rack: rack, Listeners: listeners,
	})
	if err != nil {
		b.log.Log(logging.LevelError, "register broker failed", "node_id", nodeID, "err", err)
		return 0, asKerr(err)
	}
	return id, nil
}

// CreateTopic validates and creates a topic, invalidating any stale cached
// schema for its name so the next produce re-resolves it.
func (b *Broker) CreateTopic(ctx context.Context, req storage.CreatableTopic) (uuid.UUID, error) {
	req.Cluster = b.Cluster
	id, err := b.engine.CreateTopic(ctx, req)
	if err != nil {
		return uuid.Nil, asKerr(err)
	}
	if !req.ValidateOnly {
		b.registry.Invalidate(req.Name)
	}
	return id, nil
}

// DeleteTopic cascade-deletes a topic and invalidates its cached schema.
// name, when non-nil, is passed through to Invalidate even though the
// engine resolves by either name or id, because the registry only ever
// keys schemas by topic name.
func (b *Broker) DeleteTopic(ctx context.Context, ref storage.TopicRef) error {
	if err := b.engine.DeleteTopic(ctx, b.Cluster, ref); err != nil {
		return asKerr(err)
	}
	if ref.Name != nil {
		b.registry.Invalidate(*ref.Name)
	}
	return nil
}

// DeleteRecords truncates each requested partition to its new low
// watermark. Per-partition errors are reported inline rather than failing
// the whole call, matching spec.md §4.3's per-partition result shape.
func (b *Broker) DeleteRecords(ctx context.Context, reqs []storage.DeleteRecordsRequest) []storage.DeleteRecordsResult {
	results := b.engine.DeleteRecords(ctx, b.Cluster, reqs)
	for i := range results {
		results[i].Err = asKerr(results[i].Err)
	}
	return results
}

// DescribeConfig returns the stored configs for a topic.
func (b *Broker) DescribeConfig(ctx context.Context, resource, name string, keys []string) ([]storage.ConfigEntry, error) {
	entries, err := b.engine.DescribeConfig(ctx, b.Cluster, name, keys)
	if err != nil {
		return nil, asKerr(err)
	}
	return entries, nil
}

// Metadata answers a metadata request for topics (or every topic in the
// cluster when topics is empty).
func (b *Broker) Metadata(ctx context.Context, topics []storage.TopicRef) (storage.MetadataResult, error) {
	result, err := b.engine.Metadata(ctx, b.Cluster, topics)
	if err != nil {
		return storage.MetadataResult{}, asKerr(err)
	}
	return result, nil
}

// OffsetStage returns a partition's raw watermark triple.
func (b *Broker) OffsetStage(ctx context.Context, topition model.Topition) (model.Watermark, error) {
	w, err := b.engine.OffsetStage(ctx, b.Cluster, topition)
	if err != nil {
		return model.Watermark{}, asKerr(err)
	}
	return w, nil
}

// ListOffsets answers earliest/latest/timestamp offset lookups.
func (b *Broker) ListOffsets(ctx context.Context, reqs []storage.ListOffsetsRequest) []storage.ListOffsetsResult {
	return b.engine.ListOffsets(ctx, b.Cluster, reqs)
}

// OffsetCommit upserts committed offsets for a consumer group.
func (b *Broker) OffsetCommit(ctx context.Context, group string, retention *time.Duration, reqs []storage.OffsetCommitRequest) error {
	if err := b.engine.OffsetCommit(ctx, b.Cluster, group, retention, reqs); err != nil {
		return asKerr(err)
	}
	return nil
}

// OffsetFetch resolves a consumer group's committed offsets for the given
// topitions, defaulting to model.Unset where nothing has been committed.
func (b *Broker) OffsetFetch(ctx context.Context, group string, topitions []model.Topition, requireStable bool) ([]model.ConsumerOffsetValue, error) {
	values, err := b.engine.OffsetFetch(ctx, b.Cluster, group, topitions, requireStable)
	if err != nil {
		return nil, asKerr(err)
	}
	return values, nil
}

// UpdateGroup performs a CAS update of a consumer group's opaque detail
// blob, per spec.md §4.3/§8's liveness invariant: it either succeeds with a
// fresh version or reports the current state as Outdated, never both.
func (b *Broker) UpdateGroup(ctx context.Context, groupID string, detail []byte, version *storage.GroupVersion) (storage.UpdateGroupResult, error) {
	result, err := b.engine.UpdateGroup(ctx, b.Cluster, groupID, detail, version)
	if err != nil {
		return storage.UpdateGroupResult{}, asKerr(err)
	}
	return result, nil
}
