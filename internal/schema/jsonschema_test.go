package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestJSONSchema_NestedObjectValidatesAndDecodes exercises spec.md §8
// scenario 6's value side: an object schema with a nested object property,
// fields ordered alphabetically in the arena regardless of declaration order.
func TestJSONSchema_NestedObjectValidatesAndDecodes(t *testing.T) {
	doc := `{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"email": {"type": "string"}
		},
		"required": ["name", "email"]
	}`

	s, err := parseJSONSchema("value.json", doc)
	require.NoError(t, err)

	root := s.arena().Get(s.root())
	require.Len(t, root.Fields, 2)
	require.Equal(t, "email", root.Fields[0].Name) // alphabetical
	require.Equal(t, "name", root.Fields[1].Name)

	wire := []byte(`{"name":"alice","email":"alice@example.com"}`)
	decoded, err := s.decode(wire)
	require.NoError(t, err)

	rv, ok := decoded.(recordValue)
	require.True(t, ok)
	require.Equal(t, "alice@example.com", rv[0].Value)
	require.Equal(t, "alice", rv[1].Value)
}

func TestJSONSchema_NumberKeyValidates(t *testing.T) {
	s, err := parseJSONSchema("key.json", `{"type":"number"}`)
	require.NoError(t, err)

	decoded, err := s.decode([]byte("12321"))
	require.NoError(t, err)
	require.Equal(t, float64(12321), decoded)
}

func TestJSONSchema_RejectsWrongType(t *testing.T) {
	s, err := parseJSONSchema("key.json", `{"type":"number"}`)
	require.NoError(t, err)

	_, err = s.decode([]byte(`"not a number"`))
	require.Error(t, err)
}
