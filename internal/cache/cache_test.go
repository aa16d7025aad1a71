package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory ObjectStore used only to exercise Store's
// caching logic without a live object store.
type fakeBackend struct {
	mu    sync.Mutex
	data  map[string][]byte
	etags map[string]string
	seq   int
	calls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: map[string][]byte{}, etags: map[string]string{}}
}

func (f *fakeBackend) PutOpts(_ context.Context, path string, payload []byte, _ PutOpts) (ObjectMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	etag := itoa(f.seq)
	f.data[path] = payload
	f.etags[path] = etag
	return ObjectMeta{ETag: &etag}, nil
}

func (f *fakeBackend) GetOpts(_ context.Context, path string, opts GetOpts) ([]byte, ObjectMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	etag, ok := f.etags[path]
	if !ok {
		return nil, ObjectMeta{}, ErrNotFound
	}
	if opts.IfNoneMatch != nil && *opts.IfNoneMatch == etag {
		return nil, ObjectMeta{ETag: &etag}, ErrNotModified
	}
	return f.data[path], ObjectMeta{ETag: &etag}, nil
}

func (f *fakeBackend) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, path)
	delete(f.etags, path)
	return nil
}

func (f *fakeBackend) List(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeBackend) ListWithDelimiter(context.Context, string) (ListResult, error) {
	return ListResult{}, nil
}
func (f *fakeBackend) Copy(context.Context, string, string) error            { return nil }
func (f *fakeBackend) CopyIfNotExists(context.Context, string, string) error { return nil }

func itoa(n int) string {
	digits := "0123456789"
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{digits[n%10]}, b...)
		n /= 10
	}
	return string(b)
}

func TestCache_PutThenGetWithinRetentionIsNotModifiedWithoutBackendCall(t *testing.T) {
	backend := newFakeBackend()
	store := New(backend, WithRetention(50*time.Millisecond), WithRegisterer(nil))

	meta, err := store.Put(context.Background(), "t.avsc", []byte(`{}`), PutOpts{})
	require.NoError(t, err)
	require.NotNil(t, meta.ETag)

	callsBefore := backend.calls
	_, _, err = store.Get(context.Background(), "t.avsc", GetOpts{IfNoneMatch: meta.ETag})
	require.ErrorIs(t, err, ErrNotModified)
	require.Equal(t, callsBefore, backend.calls, "cache hit must not call the backend")
}

func TestCache_GetAfterRetentionElapsedCallsBackendExactlyOnce(t *testing.T) {
	backend := newFakeBackend()
	store := New(backend, WithRetention(10*time.Millisecond), WithRegisterer(nil))

	meta, err := store.Put(context.Background(), "t.avsc", []byte(`{}`), PutOpts{})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	callsBefore := backend.calls
	_, _, err = store.Get(context.Background(), "t.avsc", GetOpts{IfNoneMatch: meta.ETag})
	// The expired entry no longer answers, so the conditional get goes to the
	// backend, which still holds the same e-tag and reports it unchanged.
	require.ErrorIs(t, err, ErrNotModified)
	require.Equal(t, callsBefore+1, backend.calls)
}

func TestCache_GetErrorEvictsExistingEntry(t *testing.T) {
	backend := newFakeBackend()
	store := New(backend, WithRegisterer(nil))

	meta, err := store.Put(context.Background(), "p", []byte("x"), PutOpts{})
	require.NoError(t, err)

	// Corrupt the backend so the next Get fails, and confirm the entry
	// was evicted (a subsequent Get with the old e-tag must hit the
	// backend rather than returning a stale NotModified).
	backend.mu.Lock()
	delete(backend.etags, "p")
	backend.mu.Unlock()

	_, _, err = store.Get(context.Background(), "p", GetOpts{})
	require.ErrorIs(t, err, ErrNotFound)

	_, ok := store.lookup("p")
	require.False(t, ok)
	_ = meta
}
