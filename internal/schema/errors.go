package schema

import "fmt"

// InvalidRecordError identifies exactly where a produced record failed
// validation or conversion: which side of the record (key/value), which
// record index within the batch, and the dotted path into the schema where
// the mismatch occurred.
type InvalidRecordError struct {
	Index int    // record index within the batch
	Side  string // "key" or "value"
	Path  string // dotted path into the schema, e.g. "value.items[2].name"
	Cause error
}

func (e *InvalidRecordError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid record %d (%s): %v", e.Index, e.Side, e.Cause)
	}
	return fmt.Sprintf("invalid record %d (%s) at %s: %v", e.Index, e.Side, e.Path, e.Cause)
}

func (e *InvalidRecordError) Unwrap() error { return e.Cause }

// ErrMissingRequired is the Cause used when a schema side is present but
// the record's bytes for that side are absent.
type ErrMissingRequired struct{ Side string }

func (e *ErrMissingRequired) Error() string {
	return fmt.Sprintf("%s schema is registered but record %s is absent", e.Side, e.Side)
}

// ErrUnsupported is the Cause used for logical types that fail explicitly
// rather than silently coerce when a JSON value is converted to a record
// (decimal, duration, time-millis/time-micros). Local-timestamp fields are
// not refused: their JSON values are read as UTC timestamps.
type ErrUnsupported struct{ What string }

func (e *ErrUnsupported) Error() string { return "unsupported: " + e.What }
