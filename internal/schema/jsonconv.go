package schema

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

const timestampLayout = "2006-01-02T15:04:05.999999999"

// jsonInputToValue implements spec.md §4.2.3's as_kafka_record encode
// rules: lower a decoded JSON value (map[string]any/[]any/float64/string/
// bool/nil, as produced by encoding/json) into the canonical value shape
// the Avro/JSON-Schema binary encoders expect, applying each logical
// type's JSON convention. It is shared by both schema systems since the
// canonical shapes (recordValue, unionValue, []any, scalars) are identical.
func jsonInputToValue(arena *Arena, id NodeID, raw any, depth int) (any, error) {
	if depth > maxDecodeDepth {
		return nil, fmt.Errorf("json: max depth exceeded")
	}
	n := arena.Get(id)
	switch n.Kind {
	case KindNull:
		if raw != nil {
			return nil, fmt.Errorf("expected null, got %T", raw)
		}
		return nil, nil
	case KindBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", raw)
		}
		return b, nil
	case KindInt32, KindInt64:
		f, ok := raw.(float64)
		if !ok || f != float64(int64(f)) {
			return nil, fmt.Errorf("expected integral number, got %v", raw)
		}
		if n.Kind == KindInt32 {
			return int32(f), nil
		}
		return int64(f), nil
	case KindFloat32, KindFloat64:
		f, ok := raw.(float64)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", raw)
		}
		if n.Kind == KindFloat32 {
			return float32(f), nil
		}
		return f, nil
	case KindBytes:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected base64 string for bytes, got %T", raw)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode bytes: %w", err)
		}
		return b, nil
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return s, nil
	case KindUUID:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected canonical UUID string, got %T", raw)
		}
		return s, nil
	case KindEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected enum symbol string, got %T", raw)
		}
		for _, sym := range n.Symbols {
			if sym == s {
				return s, nil
			}
		}
		return nil, fmt.Errorf("unknown enum symbol %q", s)
	case KindFixed:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected base64 string for fixed, got %T", raw)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil || len(b) != n.FixedSize {
			return nil, fmt.Errorf("expected %d-byte fixed, got %d", n.FixedSize, len(b))
		}
		return b, nil
	case KindDecimal:
		return nil, &ErrUnsupported{What: "decimal in as_kafka_record"}
	case KindDuration:
		return nil, &ErrUnsupported{What: "duration in as_kafka_record"}
	case KindDate:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected YYYY-MM-DD date string, got %T", raw)
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, fmt.Errorf("parse date: %w", err)
		}
		return int32(t.Unix() / 86400), nil
	case KindTimeMillis, KindTimeMicros:
		return nil, &ErrUnsupported{What: "time-millis/time-micros literal input in as_kafka_record"}
	case KindTimestamp:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected %s timestamp string, got %T", timestampLayout, raw)
		}
		t, err := time.Parse(timestampLayout, s)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		switch n.Unit {
		case UnitMillis:
			return t.UnixMilli(), nil
		case UnitMicros:
			return t.UnixMicro(), nil
		default:
			ns := t.UnixNano()
			if t.Year() > 2262 || t.Year() < 1678 {
				return nil, fmt.Errorf("timestamp %s out of range for nanosecond precision", s)
			}
			return ns, nil
		}
	case KindArray:
		arr, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("expected array, got %T", raw)
		}
		out := make([]any, 0, len(arr))
		for i, item := range arr {
			v, err := jsonInputToValue(arena, n.Element, item, depth+1)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out = append(out, v)
		}
		return out, nil
	case KindMap:
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object for map, got %T", raw)
		}
		out := map[string]any{}
		for k, item := range obj {
			v, err := jsonInputToValue(arena, n.Element, item, depth+1)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = v
		}
		return out, nil
	case KindRecord:
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object for record %s, got %T", n.Name, raw)
		}
		rv := make(recordValue, 0, len(n.Fields))
		for _, f := range n.Fields {
			fv, present := obj[f.Name]
			if !present {
				return nil, fmt.Errorf("missing required field %q", f.Name)
			}
			v, err := jsonInputToValue(arena, f.Node, fv, depth+1)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			rv = append(rv, fieldValue{Name: f.Name, Value: v})
		}
		return rv, nil
	case KindUnion:
		if n.Nullable {
			if raw == nil {
				return nil, nil
			}
			return jsonInputToValue(arena, n.NullableOf, raw, depth+1)
		}
		obj, ok := raw.(map[string]any)
		if !ok || len(obj) != 1 {
			return nil, fmt.Errorf("expected single-key object naming the union variant")
		}
		for key, val := range obj {
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 1 || idx > len(n.Variants) {
				return nil, fmt.Errorf("unknown union variant key %q", key)
			}
			v, err := jsonInputToValue(arena, n.Variants[idx-1], val, depth+1)
			if err != nil {
				return nil, err
			}
			return unionValue{TypeIndex: idx, Value: v}, nil
		}
		return nil, fmt.Errorf("empty union object")
	case KindRef:
		return jsonInputToValue(arena, n.Ref, raw, depth+1)
	default:
		return nil, fmt.Errorf("json: unhandled kind %d", n.Kind)
	}
}

// valueToJSON implements as_json: render a decoded canonical value back to
// a plain JSON-marshalable Go value. Bytes render via UTF-8-lossy decode
// per spec.md §4.2.3.
func valueToJSON(arena *Arena, id NodeID, v any, depth int) (any, error) {
	if depth > maxDecodeDepth {
		return nil, fmt.Errorf("json: max depth exceeded")
	}
	n := arena.Get(id)
	if v == nil {
		return nil, nil
	}
	switch n.Kind {
	case KindNull, KindBoolean, KindInt32, KindInt64, KindFloat32, KindFloat64, KindString, KindUUID, KindEnum:
		return v, nil
	case KindBytes, KindFixed:
		b, _ := v.([]byte)
		return string(b), nil
	case KindDecimal:
		dv, _ := v.(decimalValue)
		return dv.Unscaled.String(), nil
	case KindDuration:
		d, _ := v.(durationValue)
		return map[string]any{"month": d.Months, "days": d.Days, "milliseconds": d.Millis}, nil
	case KindDate:
		days, _ := v.(int32)
		return time.Unix(int64(days)*86400, 0).UTC().Format("2006-01-02"), nil
	case KindTimeMillis:
		ms, _ := v.(int32)
		return time.Unix(0, int64(ms)*int64(time.Millisecond)).UTC().Format("15:04:05.999"), nil
	case KindTimeMicros:
		us, _ := v.(int64)
		return time.Unix(0, us*int64(time.Microsecond)).UTC().Format("15:04:05.999999"), nil
	case KindTimestamp:
		ts, _ := v.(int64)
		var t time.Time
		switch n.Unit {
		case UnitMillis:
			t = time.UnixMilli(ts).UTC()
		case UnitMicros:
			t = time.UnixMicro(ts).UTC()
		default:
			t = time.Unix(0, ts).UTC()
		}
		return t.Format(timestampLayout), nil
	case KindArray:
		arr, _ := v.([]any)
		out := make([]any, 0, len(arr))
		for _, item := range arr {
			rv, err := valueToJSON(arena, n.Element, item, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, rv)
		}
		return out, nil
	case KindMap:
		m, _ := v.(map[string]any)
		out := map[string]any{}
		for k, item := range m {
			rv, err := valueToJSON(arena, n.Element, item, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case KindRecord:
		rv, _ := v.(recordValue)
		out := map[string]any{}
		for i, f := range n.Fields {
			fv, err := valueToJSON(arena, f.Node, rv[i].Value, depth+1)
			if err != nil {
				return nil, err
			}
			out[f.Name] = fv
		}
		return out, nil
	case KindUnion:
		if n.Nullable {
			return valueToJSON(arena, n.NullableOf, v, depth+1)
		}
		uv, _ := v.(unionValue)
		rv, err := valueToJSON(arena, n.Variants[uv.TypeIndex-1], uv.Value, depth+1)
		if err != nil {
			return nil, err
		}
		return map[string]any{strconv.Itoa(uv.TypeIndex): rv}, nil
	case KindRef:
		return valueToJSON(arena, n.Ref, v, depth+1)
	default:
		return nil, fmt.Errorf("json: unhandled kind %d", n.Kind)
	}
}

// valueToJSONNative is an alias kept for the jsonSide.encode path, which
// starts from a canonical value and must produce a plain JSON-able Go
// value exactly like valueToJSON.
func valueToJSONNative(arena *Arena, id NodeID, v any, depth int) (any, error) {
	return valueToJSON(arena, id, v, depth)
}
