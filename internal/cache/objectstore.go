package cache

import "context"

// PutOpts carries the subset of per-object options the cache passes through
// to the backend on a put.
type PutOpts struct {
	ContentType string
}

// GetOpts carries the caller's conditional-get request. IfNoneMatch, when
// set, asks the cache (and, on a miss, the backend) to return ErrNotModified
// instead of the payload when the stored e-tag already matches.
type GetOpts struct {
	IfNoneMatch *string
}

// ObjectMeta is what a backend returns about a stored object.
type ObjectMeta struct {
	ETag    *string
	Version *string
}

// ListResult is the result of a delimited listing: Objects directly under
// the prefix plus CommonPrefixes one level below it.
type ListResult struct {
	Objects        []string
	CommonPrefixes []string
}

// ObjectStore is the backend an object-store-based Store wraps: put/get with
// options, delete, list (flat and delimited), and the two copy variants the
// control plane uses for schema-file and metadata bookkeeping. Implementations
// must return ErrNotFound for a missing path and ErrPreconditionFailed when a
// conditional write/copy loses its race.
type ObjectStore interface {
	PutOpts(ctx context.Context, path string, payload []byte, opts PutOpts) (ObjectMeta, error)
	GetOpts(ctx context.Context, path string, opts GetOpts) ([]byte, ObjectMeta, error)
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
	ListWithDelimiter(ctx context.Context, prefix string) (ListResult, error)
	Copy(ctx context.Context, from, to string) error
	CopyIfNotExists(ctx context.Context, from, to string) error
}
