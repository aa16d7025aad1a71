package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kerr"

	"github.com/tansu-io/tansu/internal/cache"
	"github.com/tansu-io/tansu/internal/model"
	"github.com/tansu-io/tansu/internal/schema"
	"github.com/tansu-io/tansu/internal/storage"
)

// fakeObjectStore is a minimal in-memory cache.ObjectStore, the same shape
// schema's own tests use, so control's tests can exercise schema
// invalidation without a live object store.
type fakeObjectStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore { return &fakeObjectStore{data: map[string][]byte{}} }

func (f *fakeObjectStore) PutOpts(_ context.Context, path string, payload []byte, _ cache.PutOpts) (cache.ObjectMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[path] = payload
	etag := path
	return cache.ObjectMeta{ETag: &etag}, nil
}
func (f *fakeObjectStore) GetOpts(_ context.Context, path string, _ cache.GetOpts) ([]byte, cache.ObjectMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.data[path]
	if !ok {
		return nil, cache.ObjectMeta{}, cache.ErrNotFound
	}
	etag := path
	return b, cache.ObjectMeta{ETag: &etag}, nil
}
func (f *fakeObjectStore) Delete(context.Context, string) error { return nil }
func (f *fakeObjectStore) List(context.Context, string) ([]string, error) {
	return nil, nil
}
func (f *fakeObjectStore) ListWithDelimiter(context.Context, string) (cache.ListResult, error) {
	return cache.ListResult{}, nil
}
func (f *fakeObjectStore) Copy(context.Context, string, string) error            { return nil }
func (f *fakeObjectStore) CopyIfNotExists(context.Context, string, string) error { return nil }

// fakeEngine is a minimal in-memory storage.Engine, enough to exercise the
// control plane's routing/error-mapping/invalidation behavior without a
// Postgres backend.
type fakeEngine struct {
	mu sync.Mutex

	topics  map[string]uuid.UUID
	configs map[string]map[string]*string
	parts   map[string]int32
	water   map[model.Topition]model.Watermark
	records map[model.Topition][]model.Record
	groups  map[string]model.Group
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		topics:  map[string]uuid.UUID{},
		configs: map[string]map[string]*string{},
		parts:   map[string]int32{},
		water:   map[model.Topition]model.Watermark{},
		records: map[model.Topition][]model.Record{},
		groups:  map[string]model.Group{},
	}
}

func (f *fakeEngine) RegisterBroker(context.Context, storage.RegisterBrokerRequest) (int64, error) {
	return 1, nil
}
func (f *fakeEngine) Brokers(context.Context, string) ([]storage.MetadataBroker, error) {
	return []storage.MetadataBroker{{NodeID: 0}}, nil
}

func (f *fakeEngine) CreateTopic(_ context.Context, req storage.CreatableTopic) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.topics[req.Name]; ok {
		return uuid.Nil, storage.ErrTopicAlreadyExists
	}
	id := uuid.New()
	if req.ValidateOnly {
		return id, nil
	}
	f.topics[req.Name] = id
	f.parts[req.Name] = req.NumPartitions
	f.configs[req.Name] = req.Configs
	for p := int32(0); p < req.NumPartitions; p++ {
		f.water[model.Topition{Topic: req.Name, Partition: p}] = model.Watermark{Low: model.Unset, High: model.Unset, Stable: model.Unset}
	}
	return id, nil
}

func (f *fakeEngine) DeleteTopic(_ context.Context, _ string, ref storage.TopicRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ref.Name == nil {
		return storage.ErrUnknownTopicOrPartition
	}
	if _, ok := f.topics[*ref.Name]; !ok {
		return storage.ErrUnknownTopicOrPartition
	}
	delete(f.topics, *ref.Name)
	delete(f.configs, *ref.Name)
	return nil
}

func (f *fakeEngine) DeleteRecords(_ context.Context, _ string, reqs []storage.DeleteRecordsRequest) []storage.DeleteRecordsResult {
	out := make([]storage.DeleteRecordsResult, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, storage.DeleteRecordsResult{Topition: r.Topition, LowWatermark: r.Offset})
	}
	return out
}

func (f *fakeEngine) DescribeConfig(_ context.Context, _ string, name string, _ []string) ([]storage.ConfigEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[name]
	if !ok {
		return nil, storage.ErrUnknownTopicOrPartition
	}
	var out []storage.ConfigEntry
	for k, v := range cfg {
		out = append(out, storage.ConfigEntry{Name: k, Value: v, Source: "DefaultConfig", Type: "String"})
	}
	return out, nil
}

func (f *fakeEngine) Produce(_ context.Context, _ string, topition model.Topition, deflated model.DeflatedBatch) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch, err := storage.InflateBatch(deflated)
	if err != nil {
		return 0, storage.ErrInvalidRecord
	}
	w := f.water[topition]
	assigned := storage.AssignOffsets(w.High, batch)
	for _, rec := range assigned {
		f.records[topition] = append(f.records[topition], model.Record{
			Offset: rec.Offset, Timestamp: rec.Timestamp, Key: rec.Key, Value: rec.Value, Headers: rec.Headers,
		})
	}
	n := int64(len(assigned))
	if w.High == model.Unset {
		w.High = n - 1
	} else {
		w.High += n
	}
	w.Stable = storage.StableAfterProduce(w.Stable, n)
	f.water[topition] = w
	if n == 0 {
		return 0, nil
	}
	return assigned[0].Offset, nil
}

func (f *fakeEngine) Fetch(_ context.Context, _ string, topition model.Topition, offset int64, _ int32, _ int32) (model.DeflatedBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b model.Batch
	first := true
	for _, rec := range f.records[topition] {
		if rec.Offset < offset {
			continue
		}
		if first {
			b.BaseOffset = rec.Offset
			b.BaseTimestamp = rec.Timestamp
			first = false
		}
		b.Records = append(b.Records, model.BatchRecord{
			OffsetDelta:    int32(rec.Offset - b.BaseOffset),
			TimestampDelta: rec.Timestamp.Sub(b.BaseTimestamp),
			Key:            rec.Key,
			Value:          rec.Value,
		})
	}
	return storage.DeflateBatch(b), nil
}

func (f *fakeEngine) OffsetStage(_ context.Context, _ string, topition model.Topition) (model.Watermark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.water[topition]
	if !ok {
		return model.Watermark{}, storage.ErrUnknownTopicOrPartition
	}
	if w.High == model.Unset {
		w.High = 0
	}
	if w.Stable == model.Unset {
		w.Stable = 0
	}
	return w, nil
}

func (f *fakeEngine) ListOffsets(_ context.Context, _ string, reqs []storage.ListOffsetsRequest) []storage.ListOffsetsResult {
	out := make([]storage.ListOffsetsResult, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, storage.ListOffsetsResult{Topition: r.Topition, Offset: int64(len(f.records[r.Topition]))})
	}
	return out
}

func (f *fakeEngine) OffsetCommit(context.Context, string, string, *time.Duration, []storage.OffsetCommitRequest) error {
	return nil
}
func (f *fakeEngine) OffsetFetch(_ context.Context, _ string, _ string, topitions []model.Topition, _ bool) ([]model.ConsumerOffsetValue, error) {
	out := make([]model.ConsumerOffsetValue, len(topitions))
	for i := range out {
		out[i] = model.ConsumerOffsetValue{Offset: model.Unset}
	}
	return out, nil
}

func (f *fakeEngine) Metadata(_ context.Context, cluster string, _ []storage.TopicRef) (storage.MetadataResult, error) {
	return storage.MetadataResult{Cluster: cluster, ControllerNode: 0, Brokers: []storage.MetadataBroker{{NodeID: 0}}}, nil
}

func (f *fakeEngine) UpdateGroup(_ context.Context, cluster, groupID string, detail []byte, version *storage.GroupVersion) (storage.UpdateGroupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.groups[groupID]
	var existingPtr *model.Group
	if ok {
		existingPtr = &existing
	}
	matches := (version == nil && !ok) || (ok && version != nil && existing.ETag == version.ETag)
	if !matches {
		return storage.UpdateGroupResult{Outdated: existingPtr}, nil
	}
	fresh := uuid.New()
	f.groups[groupID] = model.Group{GroupID: groupID, Cluster: cluster, Detail: detail, ETag: fresh}
	return storage.UpdateGroupResult{Version: &storage.GroupVersion{ETag: fresh}}, nil
}

func (f *fakeEngine) InitProducer(context.Context, storage.InitProducerRequest) (storage.InitProducerResult, error) {
	return storage.InitProducerResult{ProducerID: 1, ProducerEpoch: 0}, nil
}
func (f *fakeEngine) TxnAddPartitions(context.Context, storage.TxnAddPartitionsRequest) error {
	return nil
}
func (f *fakeEngine) TxnAddOffsets(context.Context, string, int64, int16, string) error { return nil }
func (f *fakeEngine) TxnOffsetCommit(context.Context, storage.TxnOffsetCommitRequest) error {
	return nil
}
func (f *fakeEngine) TxnEnd(context.Context, storage.TxnEndRequest) error { return nil }

var _ storage.Engine = (*fakeEngine)(nil)

func deflateFor(t *testing.T, keys, values [][]byte) model.DeflatedBatch {
	t.Helper()
	batch := model.Batch{BaseTimestamp: time.Unix(0, 0).UTC()}
	for i := range keys {
		batch.Records = append(batch.Records, model.BatchRecord{OffsetDelta: int32(i), Key: keys[i], Value: values[i]})
	}
	return storage.DeflateBatch(batch)
}

func newTestBroker() (*Broker, *fakeEngine, *fakeObjectStore) {
	engine := newFakeEngine()
	backend := newFakeObjectStore()
	registry := schema.New(cache.New(backend, cache.WithRegisterer(nil)))
	return New("test-cluster", engine, registry), engine, backend
}

func TestBroker_CreateTopicThenDuplicateIsTopicAlreadyExists(t *testing.T) {
	b, _, _ := newTestBroker()
	ctx := context.Background()

	id, err := b.CreateTopic(ctx, storage.CreatableTopic{Name: "orders", NumPartitions: 3, ReplicationFactor: 1})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	_, err = b.CreateTopic(ctx, storage.CreatableTopic{Name: "orders", NumPartitions: 3, ReplicationFactor: 1})
	require.ErrorIs(t, err, kerr.TopicAlreadyExists)
}

func TestBroker_ProduceAndFetchRoundTripsWithoutSchema(t *testing.T) {
	b, _, _ := newTestBroker()
	ctx := context.Background()

	_, err := b.CreateTopic(ctx, storage.CreatableTopic{Name: "t", NumPartitions: 1, ReplicationFactor: 1})
	require.NoError(t, err)

	topition := model.Topition{Topic: "t", Partition: 0}
	deflated := deflateFor(t, [][]byte{[]byte("k1"), []byte("k2")}, [][]byte{[]byte("v1"), []byte("v2")})

	result, err := b.Produce(ctx, topition, deflated)
	require.NoError(t, err)
	require.Equal(t, int64(0), result.BaseOffset)
	require.Nil(t, result.KeyBatch) // no schema registered: no columnar materialisation

	fetched, err := b.Fetch(ctx, topition, 0, 0, 1<<20)
	require.NoError(t, err)
	batch, err := storage.InflateBatch(fetched)
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	require.Equal(t, []byte("v1"), batch.Records[0].Value)
	require.Equal(t, []byte("v2"), batch.Records[1].Value)
}

func TestBroker_ProduceWithRegisteredSchemaRejectsInvalidRecord(t *testing.T) {
	b, _, backend := newTestBroker()
	ctx := context.Background()

	_, err := backend.PutOpts(ctx, "t.avsc", []byte(`{
		"type": "record", "name": "t", "fields": [
			{"name": "key", "type": "long"},
			{"name": "value", "type": "long"}
		]
	}`), cache.PutOpts{})
	require.NoError(t, err)

	_, err = b.CreateTopic(ctx, storage.CreatableTopic{Name: "t", NumPartitions: 1, ReplicationFactor: 1})
	require.NoError(t, err)

	topition := model.Topition{Topic: "t", Partition: 0}
	// key's schema is registered but this record's key bytes are absent:
	// spec.md §4.2.1 requires that to fail as InvalidRecord.
	deflated := deflateFor(t, [][]byte{nil}, [][]byte{[]byte("x")})

	_, err = b.Produce(ctx, topition, deflated)
	require.ErrorIs(t, err, kerr.InvalidRecord)
}

func TestBroker_DeleteTopicUnknownMapsToUnknownTopicOrPartition(t *testing.T) {
	b, _, _ := newTestBroker()
	name := "missing"
	err := b.DeleteTopic(context.Background(), storage.TopicRef{Name: &name})
	require.ErrorIs(t, err, kerr.UnknownTopicOrPartition)
}

func TestBroker_DeleteTopicInvalidatesCachedSchema(t *testing.T) {
	b, _, backend := newTestBroker()
	ctx := context.Background()

	_, err := backend.PutOpts(ctx, "t.avsc", []byte(`{"type":"record","name":"t","fields":[{"name":"value","type":"long"}]}`), cache.PutOpts{})
	require.NoError(t, err)
	_, err = b.CreateTopic(ctx, storage.CreatableTopic{Name: "t", NumPartitions: 1, ReplicationFactor: 1})
	require.NoError(t, err)

	_, err = b.registry.AsArrow(ctx, "t", "value", [][]byte{})
	require.NoError(t, err)

	name := "t"
	require.NoError(t, b.DeleteTopic(ctx, storage.TopicRef{Name: &name}))

	// Replace the schema object with one that has no value side. A registry
	// still holding the old schema would keep answering from it (the object's
	// e-tag is unchanged, so the cache reports it not modified); after the
	// invalidation the next lookup reads the new object and finds no value schema.
	_, err = backend.PutOpts(ctx, "t.avsc", []byte(`{"type":"record","name":"t","fields":[{"name":"key","type":"long"}]}`), cache.PutOpts{})
	require.NoError(t, err)
	_, err = b.registry.AsArrow(ctx, "t", "value", [][]byte{})
	require.Error(t, err)
}

func TestBroker_UpdateGroupCASNeverSucceedsAndOutdatedTogether(t *testing.T) {
	b, _, _ := newTestBroker()
	ctx := context.Background()

	first, err := b.UpdateGroup(ctx, "g1", []byte(`{}`), nil)
	require.NoError(t, err)
	require.NotNil(t, first.Version)
	require.Nil(t, first.Outdated)

	stale, err := b.UpdateGroup(ctx, "g1", []byte(`{}`), nil)
	require.NoError(t, err)
	require.Nil(t, stale.Version)
	require.NotNil(t, stale.Outdated)

	fresh, err := b.UpdateGroup(ctx, "g1", []byte(`{"x":1}`), first.Version)
	require.NoError(t, err)
	require.NotNil(t, fresh.Version)
	require.Nil(t, fresh.Outdated)
}

func TestBroker_TxnLifecycleRoutesThroughEngine(t *testing.T) {
	b, _, _ := newTestBroker()
	ctx := context.Background()
	txnID := "txn-1"

	initRes, err := b.InitProducer(ctx, &txnID, time.Second, model.Unset, model.Unset)
	require.NoError(t, err)

	require.NoError(t, b.TxnAddPartitions(ctx, txnID, initRes.ProducerID, initRes.ProducerEpoch, []model.Topition{{Topic: "t", Partition: 0}}))
	require.NoError(t, b.TxnAddOffsets(ctx, txnID, initRes.ProducerID, initRes.ProducerEpoch, "g1"))
	require.NoError(t, b.TxnOffsetCommit(ctx, txnID, initRes.ProducerID, initRes.ProducerEpoch, "g1", nil))
	require.NoError(t, b.TxnEnd(ctx, txnID, initRes.ProducerID, initRes.ProducerEpoch, true))
}
