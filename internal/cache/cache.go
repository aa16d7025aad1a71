// Package cache implements the C1 cached metadata store: a thin wrapper
// around an object-store backend that maintains a small in-process e-tag
// cache with TTL eviction, so that repeated conditional reads of the same
// path (schema files, topic metadata blobs) avoid a backend round trip.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tansu-io/tansu/internal/logging"
	"github.com/tansu-io/tansu/internal/model"
)

const defaultRetention = 100 * time.Millisecond

// Opt configures a Store at construction.
type Opt func(*Store)

// WithRetention overrides the default 100ms cache-entry TTL.
func WithRetention(d time.Duration) Opt {
	return func(s *Store) { s.retention = d }
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l logging.Logger) Opt {
	return func(s *Store) { s.log = l }
}

// WithRegisterer registers the cache's metric counters with reg instead of
// the default registry. Pass nil to disable metrics entirely.
func WithRegisterer(reg prometheus.Registerer) Opt {
	return func(s *Store) { s.metrics = newMetrics(reg) }
}

// Store is the C1 cached metadata store. The mutex guards only the entries
// map; it is never held across a backend call.
type Store struct {
	backend   ObjectStore
	retention time.Duration
	log       logging.Logger

	mu      sync.Mutex
	entries map[string]model.CacheEntry

	metrics *metrics
}

// New wraps backend with an e-tag cache.
func New(backend ObjectStore, opts ...Opt) *Store {
	s := &Store{
		backend:   backend,
		retention: defaultRetention,
		log:       logging.Nop{},
		entries:   make(map[string]model.CacheEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = newMetrics(prometheus.DefaultRegisterer)
	}
	return s
}

// evictExpired discards every entry whose age has reached retention. Called
// at the top of every mutating/read call, holding s.mu.
func (s *Store) evictExpired(now time.Time) {
	for path, e := range s.entries {
		if now.Sub(e.TaggedAt) >= s.retention {
			delete(s.entries, path)
		}
	}
}

func (s *Store) lookup(path string) (model.CacheEntry, bool) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpired(now)
	e, ok := s.entries[path]
	return e, ok
}

func (s *Store) store(path string, e model.CacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpired(time.Now())
	s.entries[path] = e
}

func (s *Store) evict(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
}

// Put forwards to the backend and, on success, records the returned e-tag;
// on error it evicts any existing entry for path.
func (s *Store) Put(ctx context.Context, path string, payload []byte, opts PutOpts) (ObjectMeta, error) {
	meta, err := s.backend.PutOpts(ctx, path, payload, opts)
	if err != nil {
		s.evict(path)
		s.metrics.record("put", outcomeEvict, errKind(err))
		return ObjectMeta{}, err
	}

	_, existed := s.lookup(path)
	s.store(path, model.CacheEntry{Path: path, ETag: meta.ETag, Version: meta.Version, TaggedAt: time.Now()})
	if existed {
		s.metrics.record("put", outcomeReplace, "")
	} else {
		s.metrics.record("put", outcomeAdd, "")
	}
	return meta, nil
}

// Get returns ErrNotModified without calling the backend when opts.IfNoneMatch
// matches the cached e-tag and the entry is still within retention. Otherwise
// it forwards to the backend, refreshing (or evicting, on error) the entry.
func (s *Store) Get(ctx context.Context, path string, opts GetOpts) ([]byte, ObjectMeta, error) {
	if opts.IfNoneMatch != nil {
		if e, ok := s.lookup(path); ok && e.ETag != nil && *e.ETag == *opts.IfNoneMatch {
			// Refresh tagged_at so a hot path's TTL keeps sliding forward.
			s.store(path, model.CacheEntry{Path: path, ETag: e.ETag, Version: e.Version, TaggedAt: time.Now()})
			s.metrics.record("get", outcomeNoMatch, "")
			return nil, ObjectMeta{ETag: e.ETag, Version: e.Version}, ErrNotModified
		}
	}

	payload, meta, err := s.backend.GetOpts(ctx, path, opts)
	if err != nil {
		s.evict(path)
		s.metrics.record("get", outcomeEvict, errKind(err))
		return nil, ObjectMeta{}, err
	}

	_, existed := s.lookup(path)
	s.store(path, model.CacheEntry{Path: path, ETag: meta.ETag, Version: meta.Version, TaggedAt: time.Now()})
	if existed {
		s.metrics.record("get", outcomeHit, "")
	} else {
		s.metrics.record("get", outcomeMiss, "")
	}
	return payload, meta, nil
}

// Delete forwards to the backend and, on success, evicts the path.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.backend.Delete(ctx, path); err != nil {
		s.evict(path)
		s.metrics.record("delete", outcomeEvict, errKind(err))
		return err
	}
	s.evict(path)
	s.metrics.record("delete", outcomeDelete, "")
	return nil
}

// List is a pass-through; it never touches the cache map.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	out, err := s.backend.List(ctx, prefix)
	s.metrics.record("list", outcomeFor(err), errKind(err))
	return out, err
}

// ListWithDelimiter is a pass-through; it never touches the cache map.
func (s *Store) ListWithDelimiter(ctx context.Context, prefix string) (ListResult, error) {
	out, err := s.backend.ListWithDelimiter(ctx, prefix)
	s.metrics.record("list_with_delimiter", outcomeFor(err), errKind(err))
	return out, err
}

// Copy is a pass-through; it never touches the cache map.
func (s *Store) Copy(ctx context.Context, from, to string) error {
	err := s.backend.Copy(ctx, from, to)
	s.metrics.record("copy", outcomeFor(err), errKind(err))
	return err
}

// CopyIfNotExists is a pass-through; it never touches the cache map.
func (s *Store) CopyIfNotExists(ctx context.Context, from, to string) error {
	err := s.backend.CopyIfNotExists(ctx, from, to)
	s.metrics.record("copy_if_not_exists", outcomeFor(err), errKind(err))
	return err
}

func outcomeFor(err error) string {
	if err != nil {
		return outcomeError
	}
	return outcomeExisting
}

func errKind(err error) string {
	switch {
	case err == nil:
		return ""
	case err == ErrNotFound:
		return "not_found"
	case err == ErrPreconditionFailed:
		return "precondition_failed"
	default:
		return "backend"
	}
}
