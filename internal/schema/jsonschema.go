package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// jsonSide is one of a topic's two schema sides backed by a JSON Schema
// document. Validation is delegated to santhosh-tekuri/jsonschema, the
// validator the schema-registry branch of the corpus depends on; the Node
// arena used for columnar materialisation and JSON round-tripping is built
// from the same raw document, since JSON Schema carries far less type
// richness than Avro (no enum/fixed/decimal/logical types) and santhosh-tekuri's
// compiled representation is only guaranteed to answer Validate.
type jsonSide struct {
	validator *jsonschema.Schema
	arena_    *Arena
	root_     NodeID
}

func parseJSONSchema(name, doc string) (*jsonSide, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add json schema resource: %w", err)
	}
	validator, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile json schema: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		return nil, fmt.Errorf("parse json schema document: %w", err)
	}
	arena := NewArena()
	root, err := buildJSONSchemaNode(arena, raw)
	if err != nil {
		return nil, err
	}
	return &jsonSide{validator: validator, arena_: arena, root_: root}, nil
}

func buildJSONSchemaNode(arena *Arena, doc map[string]any) (NodeID, error) {
	if props, ok := doc["properties"].(map[string]any); ok {
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names) // JSON objects have no declared field order; spec.md §8 scenario 6 requires alphabetical.

		fields := make([]RecordField, 0, len(names))
		for _, name := range names {
			sub, ok := props[name].(map[string]any)
			if !ok {
				return 0, fmt.Errorf("json schema: property %q has no object schema", name)
			}
			fid, err := buildJSONSchemaNode(arena, sub)
			if err != nil {
				return 0, err
			}
			fields = append(fields, RecordField{Name: name, Node: fid})
		}
		return arena.add(Node{Kind: KindRecord, Fields: fields}), nil
	}

	typ, _ := doc["type"].(string)
	switch typ {
	case "object", "":
		return arena.add(Node{Kind: KindRecord}), nil
	case "string":
		return arena.add(Node{Kind: KindString}), nil
	case "number":
		return arena.add(Node{Kind: KindFloat64}), nil
	case "integer":
		return arena.add(Node{Kind: KindInt64}), nil
	case "boolean":
		return arena.add(Node{Kind: KindBoolean}), nil
	case "array":
		items, _ := doc["items"].(map[string]any)
		elem, err := buildJSONSchemaNode(arena, items)
		if err != nil {
			return 0, err
		}
		return arena.add(Node{Kind: KindArray, Element: elem}), nil
	default:
		return 0, fmt.Errorf("json schema: unsupported type %q", typ)
	}
}

// jsonNativeToValue lowers a decoded JSON value (as produced by
// encoding/json: map[string]any, []any, float64, string, bool, nil) into
// the canonical recordValue/[]any shape the arrow/json converters expect,
// ordering record fields per the arena's (alphabetical) field order.
func jsonNativeToValue(arena *Arena, id NodeID, v any, depth int) (any, error) {
	if depth > maxDecodeDepth {
		return nil, fmt.Errorf("json: max depth exceeded")
	}
	n := arena.Get(id)
	switch n.Kind {
	case KindRecord:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("json: expected object, got %T", v)
		}
		rv := make(recordValue, 0, len(n.Fields))
		for _, f := range n.Fields {
			child, err := jsonNativeToValue(arena, f.Node, obj[f.Name], depth+1)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			rv = append(rv, fieldValue{Name: f.Name, Value: child})
		}
		return rv, nil
	case KindArray:
		arr, ok := v.([]any)
		if !ok {
			if v == nil {
				return []any(nil), nil
			}
			return nil, fmt.Errorf("json: expected array, got %T", v)
		}
		out := make([]any, 0, len(arr))
		for _, item := range arr {
			child, err := jsonNativeToValue(arena, n.Element, item, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, child)
		}
		return out, nil
	default:
		return v, nil
	}
}
