package schema

import (
	"testing"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/stretchr/testify/require"
)

// TestArrow_NestedObjectBatch exercises spec.md §8 scenario 6's as_arrow
// leg: a record-shaped value side materialises as ONE struct column named
// "value" whose children are alphabetically ordered, one row appended from
// a decoded JSON-Schema value.
func TestArrow_NestedObjectBatch(t *testing.T) {
	s, err := parseJSONSchema("value.json", `{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"email": {"type": "string"}
		}
	}`)
	require.NoError(t, err)

	dt, err := dataTypeFor(s.arena(), s.root())
	require.NoError(t, err)
	st, ok := dt.(*arrow.StructType)
	require.True(t, ok)
	require.Equal(t, "email", st.Field(0).Name)
	require.Equal(t, "name", st.Field(1).Name)

	rb, err := NewRecordBuilder(s.arena(), s.root(), "value")
	require.NoError(t, err)
	defer rb.Release()

	decoded, err := s.decode([]byte(`{"name":"alice","email":"alice@example.com"}`))
	require.NoError(t, err)

	require.NoError(t, AppendRecord(rb, s.arena(), s.root(), decoded))
	rec := rb.NewRecord()
	defer rec.Release()

	require.EqualValues(t, 1, rec.NumRows())
	require.EqualValues(t, 1, rec.NumCols())
	require.Equal(t, "value", rec.Schema().Field(0).Name)
	_, ok = rec.Column(0).(*array.Struct)
	require.True(t, ok)
}

func TestArrow_NullableUnionFlattensToNullableColumn(t *testing.T) {
	s, err := parseAvroSchema(`{"type": ["null", "float"]}`)
	require.NoError(t, err)

	field, err := fieldFor(s.arena(), s.root(), "value")
	require.NoError(t, err)
	require.True(t, field.Nullable)
	require.Equal(t, arrow.PrimitiveTypes.Float32, field.Type)
}

// TestArrow_UUIDMapsToUtf8 guards against the uuid-typed column regressing
// to a 16-byte fixed-size binary: spec.md §4.2.2 maps uuid to utf8, and the
// decoded Avro value is the canonical 36-byte dashed string, which panics a
// FixedSizeBinaryBuilder on append.
func TestArrow_UUIDMapsToUtf8(t *testing.T) {
	s, err := parseAvroSchema(`{"type":"string","logicalType":"uuid"}`)
	require.NoError(t, err)

	dt, err := dataTypeFor(s.arena(), s.root())
	require.NoError(t, err)
	require.Equal(t, arrow.BinaryTypes.String, dt)

	rb, err := NewRecordBuilder(s.arena(), s.root(), "value")
	require.NoError(t, err)
	defer rb.Release()

	wire, err := s.encode("936da01f-9abd-4d9d-80c7-02af85c822a8")
	require.NoError(t, err)
	decoded, err := s.decode(wire)
	require.NoError(t, err)
	require.NoError(t, AppendRecord(rb, s.arena(), s.root(), decoded))

	rec := rb.NewRecord()
	defer rec.Release()
	require.EqualValues(t, 1, rec.NumRows())
}

func TestArrow_EnumMapsToDictionary(t *testing.T) {
	s, err := parseAvroSchema(`{"type":"enum","name":"suit","symbols":["SPADES","HEARTS","DIAMONDS","CLUBS"]}`)
	require.NoError(t, err)

	dt, err := dataTypeFor(s.arena(), s.root())
	require.NoError(t, err)
	_, ok := dt.(*arrow.DictionaryType)
	require.True(t, ok)
}
