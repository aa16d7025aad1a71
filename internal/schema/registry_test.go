package schema

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tansu-io/tansu/internal/cache"
)

// fakeStore is an in-memory cache.ObjectStore backing a cache.Store, used
// only to exercise the registry's path-candidate resolution and schema
// caching without a live object store.
type fakeStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeStore(files map[string]string) *fakeStore {
	s := &fakeStore{data: map[string][]byte{}}
	for k, v := range files {
		s.data[k] = []byte(v)
	}
	return s
}

func (f *fakeStore) PutOpts(context.Context, string, []byte, cache.PutOpts) (cache.ObjectMeta, error) {
	return cache.ObjectMeta{}, nil
}

func (f *fakeStore) GetOpts(_ context.Context, path string, _ cache.GetOpts) ([]byte, cache.ObjectMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.data[path]
	if !ok {
		return nil, cache.ObjectMeta{}, cache.ErrNotFound
	}
	etag := path
	return b, cache.ObjectMeta{ETag: &etag}, nil
}

func (f *fakeStore) Delete(context.Context, string) error { return nil }
func (f *fakeStore) List(context.Context, string) ([]string, error) {
	return nil, nil
}
func (f *fakeStore) ListWithDelimiter(context.Context, string) (cache.ListResult, error) {
	return cache.ListResult{}, nil
}
func (f *fakeStore) Copy(context.Context, string, string) error            { return nil }
func (f *fakeStore) CopyIfNotExists(context.Context, string, string) error { return nil }

const combinedAvroSchema = `{
	"type": "record",
	"name": "t",
	"fields": [
		{"name": "key", "type": "long"},
		{"name": "value", "type": {"type": "record", "name": "v", "fields": [
			{"name": "a", "type": "string"}
		]}}
	]
}`

func TestRegistry_ResolvesCombinedAvroSchemaAndValidates(t *testing.T) {
	backend := newFakeStore(map[string]string{"orders.avsc": combinedAvroSchema})
	reg := New(cache.New(backend, cache.WithRegisterer(nil)))

	ts, err := reg.resolve(context.Background(), "orders")
	require.NoError(t, err)
	require.NotNil(t, ts.key)
	require.NotNil(t, ts.value)

	keyWire, err := ts.key.encode(int64(12321))
	require.NoError(t, err)
	valueWire, err := ts.value.encode(recordValue{{Name: "a", Value: "hello"}})
	require.NoError(t, err)

	require.NoError(t, reg.Validate(context.Background(), "orders", 0, keyWire, valueWire))
}

const combinedJSONSchema = `{
	"type": "object",
	"properties": {
		"key": {"type": "number"},
		"value": {
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"email": {"type": "string"}
			},
			"required": ["name", "email"]
		}
	}
}`

func TestRegistry_CombinedJSONSchemaAsKafkaRecordAndAsJSON(t *testing.T) {
	backend := newFakeStore(map[string]string{"people.json": combinedJSONSchema})
	reg := New(cache.New(backend, cache.WithRegisterer(nil)))

	keyWire, err := reg.AsKafkaRecord(context.Background(), "people", "key", []byte("12321"))
	require.NoError(t, err)
	require.Equal(t, "12321", string(keyWire))

	valueWire, err := reg.AsKafkaRecord(context.Background(), "people", "value",
		[]byte(`{"name":"alice","email":"alice@example.com"}`))
	require.NoError(t, err)

	rendered, err := reg.AsJSON(context.Background(), "people", "value", valueWire)
	require.NoError(t, err)
	m, ok := rendered.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "alice", m["name"])
	require.Equal(t, "alice@example.com", m["email"])
}

func TestRegistry_ResolvesSplitAvroSchemaBothSides(t *testing.T) {
	backend := newFakeStore(map[string]string{
		"orders/key.avsc":   `"long"`,
		"orders/value.avsc": `{"type":"record","name":"v","fields":[{"name":"a","type":"string"}]}`,
	})
	reg := New(cache.New(backend, cache.WithRegisterer(nil)))

	ts, err := reg.resolve(context.Background(), "orders")
	require.NoError(t, err)
	require.NotNil(t, ts.key)
	require.NotNil(t, ts.value)

	keyWire, err := ts.key.encode(int64(12321))
	require.NoError(t, err)
	valueWire, err := ts.value.encode(recordValue{{Name: "a", Value: "hello"}})
	require.NoError(t, err)

	require.NoError(t, reg.Validate(context.Background(), "orders", 0, keyWire, valueWire))
}

func TestRegistry_MissingSchemaIsNotValidated(t *testing.T) {
	backend := newFakeStore(map[string]string{})
	reg := New(cache.New(backend, cache.WithRegisterer(nil)))

	require.NoError(t, reg.Validate(context.Background(), "untracked", 0, []byte("anything"), []byte("anything")))
}

func TestRegistry_InvalidateForcesReresolve(t *testing.T) {
	backend := newFakeStore(map[string]string{"orders.avsc": combinedAvroSchema})
	reg := New(cache.New(backend, cache.WithRegisterer(nil)))

	_, err := reg.resolve(context.Background(), "orders")
	require.NoError(t, err)

	reg.Invalidate("orders")
	reg.mu.Lock()
	_, ok := reg.topics["orders"]
	reg.mu.Unlock()
	require.False(t, ok)
}
