package schema

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

const fullPrimitiveSchema = `{
  "type": "record",
  "name": "value",
  "fields": [
    {"name": "a", "type": "null"},
    {"name": "b", "type": "boolean"},
    {"name": "c", "type": "int"},
    {"name": "d", "type": "long"},
    {"name": "e", "type": "float"},
    {"name": "f", "type": "double"},
    {"name": "g", "type": "bytes"},
    {"name": "h", "type": "string"}
  ]
}`

// TestAvro_FullPrimitiveRecordRoundTrips exercises spec.md §8 scenario 3: a
// record covering every primitive, encoded then decoded back unchanged.
func TestAvro_FullPrimitiveRecordRoundTrips(t *testing.T) {
	s, err := parseAvroSchema(fullPrimitiveSchema)
	require.NoError(t, err)

	rv := recordValue{
		{Name: "a", Value: nil},
		{Name: "b", Value: false},
		{Name: "c", Value: int32(math.MaxInt32)},
		{Name: "d", Value: int64(math.MaxInt64)},
		{Name: "e", Value: float32(math.MaxFloat32)},
		{Name: "f", Value: float64(math.MaxFloat64)},
		{Name: "g", Value: []byte("abcdef")},
		{Name: "h", Value: "pqr"},
	}

	wire, err := s.encode(rv)
	require.NoError(t, err)

	decoded, err := s.decode(wire)
	require.NoError(t, err)
	require.Equal(t, rv, decoded)
}

// TestAvro_NullableFloatUnionFlattens exercises spec.md §8 scenario 4: a
// [null, float] union decodes to a plain nullable float32, not a tagged
// unionValue.
func TestAvro_NullableFloatUnionFlattens(t *testing.T) {
	s, err := parseAvroSchema(`{"type": ["null", "float"]}`)
	require.NoError(t, err)

	for _, v := range []any{float32(-math.MaxFloat32), nil, float32(math.MaxFloat32)} {
		wire, err := s.encode(v)
		require.NoError(t, err)
		decoded, err := s.decode(wire)
		require.NoError(t, err)
		require.Equal(t, v, decoded)
	}
}

// TestAvro_EnumSymbolsRoundTrip exercises spec.md §8 scenario 5.
func TestAvro_EnumSymbolsRoundTrip(t *testing.T) {
	s, err := parseAvroSchema(`{"type":"enum","name":"suit","symbols":["SPADES","HEARTS","DIAMONDS","CLUBS"]}`)
	require.NoError(t, err)

	for _, sym := range []string{"CLUBS", "HEARTS"} {
		wire, err := s.encode(sym)
		require.NoError(t, err)
		decoded, err := s.decode(wire)
		require.NoError(t, err)
		require.Equal(t, sym, decoded)
	}
}

func TestAvro_CyclicRecordResolvesViaRef(t *testing.T) {
	s, err := parseAvroSchema(`{
		"type": "record",
		"name": "node",
		"fields": [
			{"name": "value", "type": "long"},
			{"name": "next", "type": ["null", "node"]}
		]
	}`)
	require.NoError(t, err)

	leaf := recordValue{{Name: "value", Value: int64(2)}, {Name: "next", Value: nil}}
	root := recordValue{{Name: "value", Value: int64(1)}, {Name: "next", Value: leaf}}

	wire, err := s.encode(root)
	require.NoError(t, err)
	decoded, err := s.decode(wire)
	require.NoError(t, err)
	require.Equal(t, root, decoded)
}

func TestAvro_DecimalEncodeFailsExplicitly(t *testing.T) {
	s, err := parseAvroSchema(`{"type":"bytes","logicalType":"decimal","precision":10,"scale":2}`)
	require.NoError(t, err)

	_, err = s.encode(decimalValue{})
	require.Error(t, err)
	var unsupported *ErrUnsupported
	require.ErrorAs(t, err, &unsupported)
}
