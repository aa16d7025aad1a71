package schema

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	"github.com/hamba/avro/v2"
)

// avroSide is one of a topic's two schema sides (key/value) backed by an
// Avro document, parsed once via hamba/avro and lowered into our own Node
// arena. hamba/avro supplies the parsed, named-type-resolved schema tree;
// the binary codec below is hand-rolled against that tree the same way the
// original tansu-schema-registry's avro.rs hand-rolls its own codec rather
// than trusting a generic marshaller to know our columnar/JSON mapping
// rules.
type avroSide struct {
	arena_ *Arena
	root_  NodeID
}

// parseAvroSchema parses a standalone Avro schema document (the body of
// either the combined schema's "key"/"value" field, or a split
// key.avsc/value.avsc file) into an avroSide.
func parseAvroSchema(doc string) (*avroSide, error) {
	sc, err := avro.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("parse avro schema: %w", err)
	}
	arena := NewArena()
	named := map[string]NodeID{}
	root, err := buildAvroNode(arena, sc, named)
	if err != nil {
		return nil, err
	}
	return &avroSide{arena_: arena, root_: root}, nil
}

func buildAvroNode(arena *Arena, sc avro.Schema, named map[string]NodeID) (NodeID, error) {
	switch sc.Type() {
	case avro.Null:
		return arena.add(Node{Kind: KindNull}), nil
	case avro.Boolean:
		return arena.add(Node{Kind: KindBoolean}), nil
	case avro.Int:
		return buildLogicalOrPrimitive(arena, sc, KindInt32)
	case avro.Long:
		return buildLogicalOrPrimitive(arena, sc, KindInt64)
	case avro.Float:
		return arena.add(Node{Kind: KindFloat32}), nil
	case avro.Double:
		return arena.add(Node{Kind: KindFloat64}), nil
	case avro.Bytes:
		return buildLogicalOrPrimitive(arena, sc, KindBytes)
	case avro.String:
		return buildLogicalOrPrimitive(arena, sc, KindString)
	case avro.Enum:
		es := sc.(*avro.EnumSchema)
		return arena.add(Node{Kind: KindEnum, Name: es.Name(), Symbols: es.Symbols()}), nil
	case avro.Fixed:
		fs := sc.(*avro.FixedSchema)
		if d, ok := fs.Logical().(*avro.DecimalLogicalSchema); ok {
			return arena.add(Node{Kind: KindDecimal, Precision: d.Precision(), Scale: d.Scale(), FixedSize: fs.Size()}), nil
		}
		return arena.add(Node{Kind: KindFixed, Name: fs.Name(), FixedSize: fs.Size()}), nil
	case avro.Array:
		as := sc.(*avro.ArraySchema)
		elem, err := buildAvroNode(arena, as.Items(), named)
		if err != nil {
			return 0, err
		}
		return arena.add(Node{Kind: KindArray, Element: elem}), nil
	case avro.Map:
		ms := sc.(*avro.MapSchema)
		val, err := buildAvroNode(arena, ms.Values(), named)
		if err != nil {
			return 0, err
		}
		return arena.add(Node{Kind: KindMap, Element: val}), nil
	case avro.Record:
		rs := sc.(*avro.RecordSchema)
		id := arena.reserve()
		named[rs.FullName()] = id
		fields := make([]RecordField, 0, len(rs.Fields()))
		for _, f := range rs.Fields() {
			fid, err := buildAvroNode(arena, f.Type(), named)
			if err != nil {
				return 0, err
			}
			fields = append(fields, RecordField{Name: f.Name(), Node: fid})
		}
		arena.set(id, Node{Kind: KindRecord, Name: rs.FullName(), Fields: fields})
		return id, nil
	case avro.Ref:
		rf := sc.(*avro.RefSchema)
		name := rf.Schema().(avro.NamedSchema).FullName()
		target, ok := named[name]
		if !ok {
			return 0, fmt.Errorf("avro: unresolved reference %q", name)
		}
		return arena.add(Node{Kind: KindRef, Ref: target}), nil
	case avro.Union:
		us := sc.(*avro.UnionSchema)
		types := us.Types()
		if len(types) == 2 && (types[0].Type() == avro.Null || types[1].Type() == avro.Null) {
			var nullIdx, otherIdx int
			if types[0].Type() == avro.Null {
				nullIdx, otherIdx = 0, 1
			} else {
				nullIdx, otherIdx = 1, 0
			}
			other, err := buildAvroNode(arena, types[otherIdx], named)
			if err != nil {
				return 0, err
			}
			variants := make([]NodeID, 2)
			variants[nullIdx] = arena.add(Node{Kind: KindNull})
			variants[otherIdx] = other
			return arena.add(Node{Kind: KindUnion, Nullable: true, NullableOf: other, Variants: variants}), nil
		}
		variants := make([]NodeID, 0, len(types))
		for _, t := range types {
			vid, err := buildAvroNode(arena, t, named)
			if err != nil {
				return 0, err
			}
			variants = append(variants, vid)
		}
		return arena.add(Node{Kind: KindUnion, Variants: variants}), nil
	default:
		return 0, fmt.Errorf("avro: unsupported schema type %v", sc.Type())
	}
}

func buildLogicalOrPrimitive(arena *Arena, sc avro.Schema, fallback Kind) (NodeID, error) {
	ps, ok := sc.(*avro.PrimitiveSchema)
	if !ok || ps.Logical() == nil {
		return arena.add(Node{Kind: fallback}), nil
	}
	l := ps.Logical()
	switch l.Type() {
	case avro.Decimal:
		d, ok := l.(*avro.DecimalLogicalSchema)
		if !ok {
			return arena.add(Node{Kind: fallback}), nil
		}
		return arena.add(Node{Kind: KindDecimal, Precision: d.Precision(), Scale: d.Scale()}), nil
	case avro.UUID:
		return arena.add(Node{Kind: KindUUID}), nil
	case avro.Date:
		return arena.add(Node{Kind: KindDate}), nil
	case avro.TimeMillis:
		return arena.add(Node{Kind: KindTimeMillis}), nil
	case avro.TimeMicros:
		return arena.add(Node{Kind: KindTimeMicros}), nil
	case avro.TimestampMillis:
		return arena.add(Node{Kind: KindTimestamp, Unit: UnitMillis}), nil
	case avro.TimestampMicros:
		return arena.add(Node{Kind: KindTimestamp, Unit: UnitMicros}), nil
	case "timestamp-nanos":
		return arena.add(Node{Kind: KindTimestamp, Unit: UnitNanos}), nil
	// Local-timestamp logical types render identically to UTC timestamps
	// here (spec.md §9 open question); the original's struct appender
	// crossed LocalTimestampMicros into TimeMicros, which spec.md calls
	// out as a bug we must not reproduce.
	case "local-timestamp-millis":
		return arena.add(Node{Kind: KindTimestamp, Unit: UnitMillis}), nil
	case "local-timestamp-micros":
		return arena.add(Node{Kind: KindTimestamp, Unit: UnitMicros}), nil
	case "local-timestamp-nanos":
		return arena.add(Node{Kind: KindTimestamp, Unit: UnitNanos}), nil
	case avro.Duration:
		return arena.add(Node{Kind: KindDuration}), nil
	default:
		return arena.add(Node{Kind: fallback}), nil
	}
}

// ---- hand-rolled Avro binary codec over the resolved Node arena ----

type recordValue []fieldValue

type fieldValue struct {
	Name  string
	Value any
}

type unionValue struct {
	TypeIndex int // 1-based, matching the columnar dense-union convention
	Value     any
}

type decimalValue struct {
	Unscaled  *big.Int
	Precision int
	Scale     int
}

type durationValue struct {
	Months, Days, Millis uint32
}

func decodeZigzag(buf *bytes.Reader) (int64, error) {
	var result uint64
	var shift uint
	for {
		b, err := buf.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return int64(result>>1) ^ -(int64(result) & 1), nil
}

func encodeZigzag(n int64, buf *bytes.Buffer) {
	u := uint64((n << 1) ^ (n >> 63))
	for {
		if u&^0x7f == 0 {
			buf.WriteByte(byte(u))
			return
		}
		buf.WriteByte(byte(u&0x7f) | 0x80)
		u >>= 7
	}
}

func decodeAvroBytes(buf *bytes.Reader) ([]byte, error) {
	n, err := decodeZigzag(buf)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("avro: negative length %d", n)
	}
	b := make([]byte, n)
	if _, err := readFull(buf, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readFull(buf *bytes.Reader, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := buf.Read(b[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func encodeAvroBytes(b []byte, buf *bytes.Buffer) {
	encodeZigzag(int64(len(b)), buf)
	buf.Write(b)
}

// decodeAvroValue decodes one value of node id's type from buf.
func decodeAvroValue(arena *Arena, id NodeID, buf *bytes.Reader, depth int) (any, error) {
	if depth > maxDecodeDepth {
		return nil, fmt.Errorf("avro: max decode depth exceeded")
	}
	n := arena.Get(id)
	switch n.Kind {
	case KindNull:
		return nil, nil
	case KindBoolean:
		b, err := buf.ReadByte()
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case KindInt32:
		v, err := decodeZigzag(buf)
		return int32(v), err
	case KindInt64, KindTimeMicros, KindTimestamp:
		v, err := decodeZigzag(buf)
		return v, err
	case KindTimeMillis, KindDate:
		v, err := decodeZigzag(buf)
		return int32(v), err
	case KindFloat32:
		var b [4]byte
		if _, err := readFull(buf, b[:]); err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(b[:])), nil
	case KindFloat64:
		var b [8]byte
		if _, err := readFull(buf, b[:]); err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b[:])), nil
	case KindBytes:
		return decodeAvroBytes(buf)
	case KindString, KindUUID:
		b, err := decodeAvroBytes(buf)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case KindEnum:
		idx, err := decodeZigzag(buf)
		if err != nil {
			return nil, err
		}
		if idx < 0 || int(idx) >= len(n.Symbols) {
			return nil, fmt.Errorf("avro: enum index %d out of range", idx)
		}
		return n.Symbols[idx], nil
	case KindFixed:
		b := make([]byte, n.FixedSize)
		if _, err := readFull(buf, b); err != nil {
			return nil, err
		}
		return b, nil
	case KindDecimal:
		var raw []byte
		var err error
		if n.FixedSize > 0 {
			raw = make([]byte, n.FixedSize)
			_, err = readFull(buf, raw)
		} else {
			raw, err = decodeAvroBytes(buf)
		}
		if err != nil {
			return nil, err
		}
		return decimalValue{Unscaled: bigIntFromTwosComplement(raw), Precision: n.Precision, Scale: n.Scale}, nil
	case KindDuration:
		b := make([]byte, 12)
		if _, err := readFull(buf, b); err != nil {
			return nil, err
		}
		return durationValue{
			Months: binary.LittleEndian.Uint32(b[0:4]),
			Days:   binary.LittleEndian.Uint32(b[4:8]),
			Millis: binary.LittleEndian.Uint32(b[8:12]),
		}, nil
	case KindArray:
		var out []any
		for {
			count, err := decodeZigzag(buf)
			if err != nil {
				return nil, err
			}
			if count == 0 {
				break
			}
			blockCount := count
			if blockCount < 0 {
				blockCount = -blockCount
				if _, err := decodeZigzag(buf); err != nil { // block byte size, unused
					return nil, err
				}
			}
			for i := int64(0); i < blockCount; i++ {
				v, err := decodeAvroValue(arena, n.Element, buf, depth+1)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
		}
		return out, nil
	case KindMap:
		out := map[string]any{}
		for {
			count, err := decodeZigzag(buf)
			if err != nil {
				return nil, err
			}
			if count == 0 {
				break
			}
			blockCount := count
			if blockCount < 0 {
				blockCount = -blockCount
				if _, err := decodeZigzag(buf); err != nil {
					return nil, err
				}
			}
			for i := int64(0); i < blockCount; i++ {
				kb, err := decodeAvroBytes(buf)
				if err != nil {
					return nil, err
				}
				v, err := decodeAvroValue(arena, n.Element, buf, depth+1)
				if err != nil {
					return nil, err
				}
				out[string(kb)] = v
			}
		}
		return out, nil
	case KindRecord:
		rv := make(recordValue, 0, len(n.Fields))
		for _, f := range n.Fields {
			v, err := decodeAvroValue(arena, f.Node, buf, depth+1)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			rv = append(rv, fieldValue{Name: f.Name, Value: v})
		}
		return rv, nil
	case KindUnion:
		idx, err := decodeZigzag(buf)
		if err != nil {
			return nil, err
		}
		if idx < 0 || int(idx) >= len(n.Variants) {
			return nil, fmt.Errorf("avro: union index %d out of range", idx)
		}
		variant := n.Variants[idx]
		if n.Nullable {
			if arena.Get(variant).Kind == KindNull {
				return nil, nil
			}
			return decodeAvroValue(arena, variant, buf, depth+1)
		}
		v, err := decodeAvroValue(arena, variant, buf, depth+1)
		if err != nil {
			return nil, err
		}
		return unionValue{TypeIndex: int(idx) + 1, Value: v}, nil
	case KindRef:
		return decodeAvroValue(arena, n.Ref, buf, depth+1)
	default:
		return nil, fmt.Errorf("avro: unhandled kind %d", n.Kind)
	}
}

// encodeAvroValue encodes v, whose shape must match id's type (as produced
// by decodeAvroValue or by the JSON-side converters in jsonconv.go), into
// buf.
func encodeAvroValue(arena *Arena, id NodeID, v any, buf *bytes.Buffer, depth int) error {
	if depth > maxDecodeDepth {
		return fmt.Errorf("avro: max encode depth exceeded")
	}
	n := arena.Get(id)
	switch n.Kind {
	case KindNull:
		return nil
	case KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("avro: expected bool, got %T", v)
		}
		if b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		return nil
	case KindInt32:
		i, err := asInt64(v)
		if err != nil {
			return err
		}
		encodeZigzag(i, buf)
		return nil
	case KindInt64, KindTimeMicros, KindTimestamp, KindTimeMillis, KindDate:
		i, err := asInt64(v)
		if err != nil {
			return err
		}
		encodeZigzag(i, buf)
		return nil
	case KindFloat32:
		f, err := asFloat64(v)
		if err != nil {
			return err
		}
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(f)))
		buf.Write(b[:])
		return nil
	case KindFloat64:
		f, err := asFloat64(v)
		if err != nil {
			return err
		}
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
		buf.Write(b[:])
		return nil
	case KindBytes:
		b, ok := v.([]byte)
		if !ok {
			return fmt.Errorf("avro: expected []byte, got %T", v)
		}
		encodeAvroBytes(b, buf)
		return nil
	case KindString, KindUUID:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("avro: expected string, got %T", v)
		}
		encodeAvroBytes([]byte(s), buf)
		return nil
	case KindEnum:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("avro: expected string symbol, got %T", v)
		}
		idx := -1
		for i, sym := range n.Symbols {
			if sym == s {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("avro: unknown enum symbol %q", s)
		}
		encodeZigzag(int64(idx), buf)
		return nil
	case KindFixed:
		b, ok := v.([]byte)
		if !ok || len(b) != n.FixedSize {
			return fmt.Errorf("avro: expected %d-byte fixed, got %T", n.FixedSize, v)
		}
		buf.Write(b)
		return nil
	case KindDecimal:
		return &ErrUnsupported{What: "decimal encoding in as_kafka_record"}
	case KindDuration:
		return &ErrUnsupported{What: "duration encoding in as_kafka_record"}
	case KindArray:
		arr, ok := v.([]any)
		if !ok {
			return fmt.Errorf("avro: expected array, got %T", v)
		}
		if len(arr) > 0 {
			encodeZigzag(int64(len(arr)), buf)
			for _, item := range arr {
				if err := encodeAvroValue(arena, n.Element, item, buf, depth+1); err != nil {
					return err
				}
			}
		}
		encodeZigzag(0, buf)
		return nil
	case KindMap:
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("avro: expected map, got %T", v)
		}
		if len(m) > 0 {
			encodeZigzag(int64(len(m)), buf)
			for k, item := range m {
				encodeAvroBytes([]byte(k), buf)
				if err := encodeAvroValue(arena, n.Element, item, buf, depth+1); err != nil {
					return err
				}
			}
		}
		encodeZigzag(0, buf)
		return nil
	case KindRecord:
		rv, ok := v.(recordValue)
		if !ok {
			return fmt.Errorf("avro: expected record, got %T", v)
		}
		if len(rv) != len(n.Fields) {
			return fmt.Errorf("avro: record %s expects %d fields, got %d", n.Name, len(n.Fields), len(rv))
		}
		for i, f := range n.Fields {
			if err := encodeAvroValue(arena, f.Node, rv[i].Value, buf, depth+1); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
		return nil
	case KindUnion:
		if n.Nullable {
			if v == nil {
				nullIdx := 0
				for i, vid := range n.Variants {
					if arena.Get(vid).Kind == KindNull {
						nullIdx = i
					}
				}
				encodeZigzag(int64(nullIdx), buf)
				return nil
			}
			otherIdx := 0
			for i, vid := range n.Variants {
				if arena.Get(vid).Kind != KindNull {
					otherIdx = i
				}
			}
			encodeZigzag(int64(otherIdx), buf)
			return encodeAvroValue(arena, n.NullableOf, v, buf, depth+1)
		}
		uv, ok := v.(unionValue)
		if !ok {
			return fmt.Errorf("avro: expected union value, got %T", v)
		}
		idx := uv.TypeIndex - 1
		if idx < 0 || idx >= len(n.Variants) {
			return fmt.Errorf("avro: union type index %d out of range", uv.TypeIndex)
		}
		encodeZigzag(int64(idx), buf)
		return encodeAvroValue(arena, n.Variants[idx], uv.Value, buf, depth+1)
	case KindRef:
		return encodeAvroValue(arena, n.Ref, v, buf, depth+1)
	default:
		return fmt.Errorf("avro: unhandled kind %d", n.Kind)
	}
}

func asInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int32:
		return int64(t), nil
	case int:
		return int64(t), nil
	default:
		return 0, fmt.Errorf("avro: expected integer, got %T", v)
	}
}

func asFloat64(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	default:
		return 0, fmt.Errorf("avro: expected float, got %T", v)
	}
}

func bigIntFromTwosComplement(b []byte) *big.Int {
	if len(b) == 0 {
		return big.NewInt(0)
	}
	neg := b[0]&0x80 != 0
	magnitude := make([]byte, len(b))
	copy(magnitude, b)
	if neg {
		for i := range magnitude {
			magnitude[i] = ^magnitude[i]
		}
		tmp := new(big.Int).SetBytes(magnitude)
		tmp.Add(tmp, big.NewInt(1))
		tmp.Neg(tmp)
		return tmp
	}
	return new(big.Int).SetBytes(magnitude)
}
