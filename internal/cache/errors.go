package cache

import "errors"

// ErrNotModified is returned by Get when the caller's IfNoneMatch matches
// the cached e-tag within retention: a cache hit that saves a backend round
// trip. It never crosses further than the C2 schema registry that calls
// into this package.
var ErrNotModified = errors.New("cache: not modified")

// ErrNotFound is returned by backends for a missing path.
var ErrNotFound = errors.New("cache: object not found")

// ErrPreconditionFailed is returned by CopyIfNotExists when the destination
// already exists.
var ErrPreconditionFailed = errors.New("cache: precondition failed")
