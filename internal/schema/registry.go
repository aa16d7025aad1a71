// Package schema implements the C2 schema registry and validator: looking
// up per-topic Avro/JSON-Schema documents in the C1 cached metadata store,
// validating produced record batches against them, and converting decoded
// records to/from columnar (Arrow) batches and neutral JSON.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/apache/arrow/go/v12/arrow"

	"github.com/tansu-io/tansu/internal/cache"
)

// Registry is C2's entry point: it owns no object-store access of its own,
// going through a cache.Store exactly the way spec.md §6 describes schema
// files as metadata-store objects subject to C1's e-tag/TTL rules.
type Registry struct {
	store *cache.Store

	mu     sync.Mutex
	topics map[string]*topicSchema
}

// topicSchema is the resolved pair of sides for one topic; either may be
// nil, meaning that side is unvalidated. sources tracks the e-tag of every
// object path that contributed to this resolution (one combined path, or
// up to two split paths) so re-resolution can pass each its own
// IfNoneMatch.
type topicSchema struct {
	sources map[string]*string
	key     side
	value   side
}

// New builds a Registry over an already-constructed cache.Store.
func New(store *cache.Store) *Registry {
	return &Registry{store: store, topics: make(map[string]*topicSchema)}
}

// Invalidate drops any cached schema for topic; the control plane (C4) calls
// this on create_topic, and on delete_topic when the topic is named. A
// delete_topic by topic id alone does not call it, so a schema cached under
// that topic's name stays cached.
func (r *Registry) Invalidate(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.topics, topic)
}

// combinedPaths enumerates the single-object schema locations for topic,
// in the order spec.md §6 lists them: either covers both key and value, so
// the first one found wins outright.
func combinedPaths(topic string) []string {
	return []string{
		topic + ".avsc",
		topic + ".json",
		topic + "/.avsc",
	}
}

// splitPaths enumerates the per-side schema object locations for topic.
// Unlike combinedPaths, both may exist at once, so resolve probes every
// one of them rather than stopping at the first hit.
func splitPaths(topic string) []string {
	return []string{
		topic + "/key.avsc",
		topic + "/value.avsc",
	}
}

// resolve loads (or returns the cached) topicSchema for topic, re-resolving
// any path whose e-tag has changed. A combined path, if present, wins
// outright; otherwise every split path is probed and the sides found are
// merged into one topicSchema, since key.avsc and value.avsc are
// independent objects that may both exist.
func (r *Registry) resolve(ctx context.Context, topic string) (*topicSchema, error) {
	r.mu.Lock()
	cached, ok := r.topics[topic]
	r.mu.Unlock()
	var prevEtags map[string]*string
	if ok {
		prevEtags = cached.sources
	}

	for _, candidate := range combinedPaths(topic) {
		payload, meta, err := r.store.Get(ctx, candidate, cache.GetOpts{IfNoneMatch: prevEtags[candidate]})
		switch {
		case err == cache.ErrNotModified:
			return cached, nil
		case err == cache.ErrNotFound:
			continue
		case err != nil:
			return nil, fmt.Errorf("schema: load %s: %w", candidate, err)
		}

		ts, err := buildTopicSchema(candidate, payload)
		if err != nil {
			return nil, fmt.Errorf("schema: parse %s: %w", candidate, err)
		}
		ts.sources = map[string]*string{candidate: meta.ETag}

		r.mu.Lock()
		r.topics[topic] = ts
		r.mu.Unlock()
		return ts, nil
	}

	merged := &topicSchema{sources: map[string]*string{}}
	found := false
	for _, candidate := range splitPaths(topic) {
		payload, meta, err := r.store.Get(ctx, candidate, cache.GetOpts{IfNoneMatch: prevEtags[candidate]})
		switch {
		case err == cache.ErrNotModified:
			found = true
			merged.sources[candidate] = prevEtags[candidate]
			if cached != nil {
				mergeSide(merged, candidate, cached.key, cached.value)
			}
			continue
		case err == cache.ErrNotFound:
			continue
		case err != nil:
			return nil, fmt.Errorf("schema: load %s: %w", candidate, err)
		}

		ts, err := buildTopicSchema(candidate, payload)
		if err != nil {
			return nil, fmt.Errorf("schema: parse %s: %w", candidate, err)
		}
		found = true
		merged.sources[candidate] = meta.ETag
		mergeSide(merged, candidate, ts.key, ts.value)
	}

	if found {
		r.mu.Lock()
		r.topics[topic] = merged
		r.mu.Unlock()
		return merged, nil
	}

	if cached != nil {
		return cached, nil
	}
	return &topicSchema{}, nil // no schema registered for this topic: neither side validated.
}

// mergeSide copies whichever of key/value a split candidate contributed
// into dst, keyed by which file the candidate is.
func mergeSide(dst *topicSchema, candidate string, key, value side) {
	switch {
	case hasSuffix(candidate, "/key.avsc"):
		dst.key = key
	case hasSuffix(candidate, "/value.avsc"):
		dst.value = value
	}
}

func buildTopicSchema(path string, payload []byte) (*topicSchema, error) {
	switch {
	case hasSuffix(path, ".avsc"):
		return buildAvroTopicSchema(path, payload)
	case hasSuffix(path, ".json"):
		return buildJSONTopicSchema(path, payload)
	default:
		return nil, fmt.Errorf("schema: unrecognized schema path %q", path)
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// buildAvroTopicSchema handles both the combined form (a single record
// schema with optional "key"/"value" fields) and the split forms
// (<topic>/key.avsc, <topic>/value.avsc, each a standalone schema for one
// side). <topic>/.avsc is treated as combined, the same as <topic>.avsc.
func buildAvroTopicSchema(path string, payload []byte) (*topicSchema, error) {
	s, err := parseAvroSchema(string(payload))
	if err != nil {
		return nil, err
	}
	ts := &topicSchema{}
	switch {
	case hasSuffix(path, "/key.avsc"):
		ts.key = s
	case hasSuffix(path, "/value.avsc"):
		ts.value = s
	default:
		root := s.arena_.Get(s.root_)
		if root.Kind != KindRecord {
			return nil, fmt.Errorf("combined avro schema must be a record, got kind %d", root.Kind)
		}
		for _, f := range root.Fields {
			sub := &avroSide{arena_: s.arena_, root_: f.Node}
			switch f.Name {
			case "key":
				ts.key = sub
			case "value":
				ts.value = sub
			}
		}
	}
	return ts, nil
}

// buildJSONTopicSchema handles the combined JSON Schema form: an object
// schema with properties.key/properties.value, each re-serialized and
// compiled standalone since jsonSide couples a compiled validator to its
// own root document.
func buildJSONTopicSchema(path string, payload []byte) (*topicSchema, error) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("parse combined json schema: %w", err)
	}
	props, _ := doc["properties"].(map[string]any)
	ts := &topicSchema{}
	for _, name := range []string{"key", "value"} {
		sub, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		raw, err := json.Marshal(sub)
		if err != nil {
			return nil, err
		}
		js, err := parseJSONSchema(path+"/"+name, string(raw))
		if err != nil {
			return nil, err
		}
		if name == "key" {
			ts.key = js
		} else {
			ts.value = js
		}
	}
	return ts, nil
}

func (ts *topicSchema) sideFor(which string) side {
	if ts == nil {
		return nil
	}
	if which == "key" {
		return ts.key
	}
	return ts.value
}

// Validate decodes key and/or value against their registered schema sides,
// failing with an InvalidRecordError identifying which side and record
// index misbehaved. A nil payload for a side with no registered schema is
// not an error; a nil payload for a side that IS registered is.
func (r *Registry) Validate(ctx context.Context, topic string, index int, key, value []byte) error {
	ts, err := r.resolve(ctx, topic)
	if err != nil {
		return err
	}
	if err := validateSide(ts.key, key, index, "key"); err != nil {
		return err
	}
	return validateSide(ts.value, value, index, "value")
}

func validateSide(s side, data []byte, index int, name string) error {
	if s == nil {
		return nil
	}
	if data == nil {
		return &InvalidRecordError{Index: index, Side: name, Cause: &ErrMissingRequired{Side: name}}
	}
	if _, err := s.decode(data); err != nil {
		return &InvalidRecordError{Index: index, Side: name, Cause: err}
	}
	return nil
}

// AsJSON decodes one side's wire payload and renders it as a plain JSON
// value (map[string]any/[]any/scalars), per spec.md §4.2.3's as_json.
func (r *Registry) AsJSON(ctx context.Context, topic, which string, data []byte) (any, error) {
	ts, err := r.resolve(ctx, topic)
	if err != nil {
		return nil, err
	}
	s := ts.sideFor(which)
	if s == nil {
		return nil, fmt.Errorf("schema: no %s schema registered for topic %q", which, topic)
	}
	v, err := s.decode(data)
	if err != nil {
		return nil, err
	}
	return valueToJSON(s.arena(), s.root(), v, 0)
}

// AsKafkaRecord converts a JSON document into the wire bytes for one side,
// per spec.md §4.2.3's as_kafka_record.
func (r *Registry) AsKafkaRecord(ctx context.Context, topic, which string, doc []byte) ([]byte, error) {
	ts, err := r.resolve(ctx, topic)
	if err != nil {
		return nil, err
	}
	s := ts.sideFor(which)
	if s == nil {
		return nil, fmt.Errorf("schema: no %s schema registered for topic %q", which, topic)
	}
	var raw any
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("parse json document: %w", err)
	}
	value, err := jsonInputToValue(s.arena(), s.root(), raw, 0)
	if err != nil {
		return nil, err
	}
	return s.encode(value)
}

// AsArrow decodes a batch of one side's wire payloads into a single Arrow
// record batch with one nullable column named after the side ("key" or
// "value"), per spec.md §4.2.2 — a record-shaped schema becomes one struct
// column, never one column per record field.
func (r *Registry) AsArrow(ctx context.Context, topic, which string, payloads [][]byte) (arrow.Record, error) {
	ts, err := r.resolve(ctx, topic)
	if err != nil {
		return nil, err
	}
	s := ts.sideFor(which)
	if s == nil {
		return nil, fmt.Errorf("schema: no %s schema registered for topic %q", which, topic)
	}
	rb, err := NewRecordBuilder(s.arena(), s.root(), which)
	if err != nil {
		return nil, err
	}
	defer rb.Release()
	for i, payload := range payloads {
		v, err := s.decode(payload)
		if err != nil {
			return nil, &InvalidRecordError{Index: i, Side: which, Cause: err}
		}
		if err := AppendRecord(rb, s.arena(), s.root(), v); err != nil {
			return nil, &InvalidRecordError{Index: i, Side: which, Cause: err}
		}
	}
	return rb.NewRecord(), nil
}
