package schema

import (
	"fmt"
	"math/big"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/decimal128"
	"github.com/apache/arrow/go/v12/arrow/decimal256"
	"github.com/apache/arrow/go/v12/arrow/memory"
)

// This file implements spec.md §4.2.2's columnar materialisation: lowering
// a resolved Node arena into an Arrow schema, and appending decoded
// canonical values into the matching builders. Dense unions use 1-based
// type codes matching unionValue.TypeIndex; nullable ([null, T]) unions are
// flattened to a plain nullable column of T rather than surfaced as a
// union, per the same flattening rule the JSON/Avro sides apply.

// dataTypeFor maps one arena node to its Arrow physical type.
func dataTypeFor(arena *Arena, id NodeID) (arrow.DataType, error) {
	n := arena.Get(id)
	switch n.Kind {
	case KindNull:
		return arrow.Null, nil
	case KindBoolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case KindInt32:
		return arrow.PrimitiveTypes.Int32, nil
	case KindInt64:
		return arrow.PrimitiveTypes.Int64, nil
	case KindFloat32:
		return arrow.PrimitiveTypes.Float32, nil
	case KindFloat64:
		return arrow.PrimitiveTypes.Float64, nil
	case KindBytes:
		return arrow.BinaryTypes.Binary, nil
	case KindString:
		return arrow.BinaryTypes.String, nil
	case KindUUID:
		return arrow.BinaryTypes.String, nil
	case KindEnum:
		return &arrow.DictionaryType{
			IndexType: arrow.PrimitiveTypes.Uint32,
			ValueType: arrow.BinaryTypes.String,
			Ordered:   false,
		}, nil
	case KindFixed:
		return &arrow.FixedSizeBinaryType{ByteWidth: n.FixedSize}, nil
	case KindDecimal:
		if n.Precision > 16 {
			return &arrow.Decimal256Type{Precision: int32(n.Precision), Scale: int32(n.Scale)}, nil
		}
		return &arrow.Decimal128Type{Precision: int32(n.Precision), Scale: int32(n.Scale)}, nil
	case KindDate:
		return arrow.FixedWidthTypes.Date32, nil
	case KindTimeMillis:
		return arrow.FixedWidthTypes.Time32ms, nil
	case KindTimeMicros:
		return arrow.FixedWidthTypes.Time64us, nil
	case KindTimestamp:
		switch n.Unit {
		case UnitMillis:
			return &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}, nil
		case UnitMicros:
			return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, nil
		default:
			return &arrow.TimestampType{Unit: arrow.Nanosecond, TimeZone: "UTC"}, nil
		}
	case KindDuration:
		return arrow.StructOf(
			arrow.Field{Name: "month", Type: arrow.PrimitiveTypes.Uint32},
			arrow.Field{Name: "days", Type: arrow.PrimitiveTypes.Uint32},
			arrow.Field{Name: "milliseconds", Type: arrow.PrimitiveTypes.Uint32},
		), nil
	case KindArray:
		elem, err := dataTypeFor(arena, n.Element)
		if err != nil {
			return nil, err
		}
		return arrow.ListOf(elem), nil
	case KindMap:
		val, err := dataTypeFor(arena, n.Element)
		if err != nil {
			return nil, err
		}
		mt := arrow.MapOf(arrow.BinaryTypes.String, val)
		mt.KeysSorted = false
		return mt, nil
	case KindRecord:
		fields := make([]arrow.Field, 0, len(n.Fields))
		for _, f := range n.Fields {
			field, err := fieldFor(arena, f.Node, f.Name)
			if err != nil {
				return nil, err
			}
			fields = append(fields, field)
		}
		return arrow.StructOf(fields...), nil
	case KindUnion:
		if n.Nullable {
			return dataTypeFor(arena, n.NullableOf)
		}
		fields := make([]arrow.Field, 0, len(n.Variants))
		codes := make([]arrow.UnionTypeCode, 0, len(n.Variants))
		for i, v := range n.Variants {
			dt, err := dataTypeFor(arena, v)
			if err != nil {
				return nil, err
			}
			// 1-based, matching unionValue.TypeIndex.
			fields = append(fields, arrow.Field{Name: fmt.Sprintf("field%d", i+1), Type: dt, Nullable: true})
			codes = append(codes, arrow.UnionTypeCode(i+1))
		}
		return arrow.DenseUnionOf(fields, codes), nil
	case KindRef:
		return dataTypeFor(arena, n.Ref)
	default:
		return nil, fmt.Errorf("arrow: unhandled kind %d", n.Kind)
	}
}

// fieldFor wraps dataTypeFor in a named field. Every field is nullable:
// top-level columns and struct children alike admit null in the columnar
// form regardless of what the source schema says, so an absent optional
// side never forces a second schema variant.
func fieldFor(arena *Arena, id NodeID, name string) (arrow.Field, error) {
	dt, err := dataTypeFor(arena, id)
	if err != nil {
		return arrow.Field{}, err
	}
	return arrow.Field{Name: name, Type: dt, Nullable: true}, nil
}

// SchemaFor builds the Arrow schema for one side of a topic: a single
// nullable column named name ("key" or "value") whose type lowers the
// arena root — a record root becomes one struct column, matching spec.md
// §4.2.2's "up to two top-level columns" batch shape.
func SchemaFor(arena *Arena, root NodeID, name string) (*arrow.Schema, error) {
	field, err := fieldFor(arena, root, name)
	if err != nil {
		return nil, err
	}
	return arrow.NewSchema([]arrow.Field{field}, nil), nil
}

// NewRecordBuilder allocates a RecordBuilder over SchemaFor(arena, root,
// name) using the default Go allocator, the way the examples' Arrow
// consumers do for short-lived batches.
func NewRecordBuilder(arena *Arena, root NodeID, name string) (*array.RecordBuilder, error) {
	sc, err := SchemaFor(arena, root, name)
	if err != nil {
		return nil, err
	}
	return array.NewRecordBuilder(memory.NewGoAllocator(), sc), nil
}

// AppendRecord appends one decoded canonical value into the builder's
// single side column.
func AppendRecord(rb *array.RecordBuilder, arena *Arena, root NodeID, v any) error {
	return appendValue(rb.Field(0), arena, root, v, 0)
}

func appendValue(b array.Builder, arena *Arena, id NodeID, v any, depth int) error {
	if depth > maxDecodeDepth {
		return fmt.Errorf("arrow: max depth exceeded")
	}
	n := arena.Get(id)

	if n.Kind == KindUnion && n.Nullable {
		return appendValue(b, arena, n.NullableOf, v, depth+1)
	}
	if n.Kind == KindRef {
		return appendValue(b, arena, n.Ref, v, depth+1)
	}

	if v == nil {
		b.AppendNull()
		return nil
	}

	switch n.Kind {
	case KindNull:
		b.AppendNull()
		return nil
	case KindBoolean:
		b.(*array.BooleanBuilder).Append(v.(bool))
		return nil
	case KindInt32:
		b.(*array.Int32Builder).Append(v.(int32))
		return nil
	case KindInt64:
		b.(*array.Int64Builder).Append(v.(int64))
		return nil
	case KindFloat32:
		b.(*array.Float32Builder).Append(v.(float32))
		return nil
	case KindFloat64:
		b.(*array.Float64Builder).Append(v.(float64))
		return nil
	case KindBytes:
		b.(*array.BinaryBuilder).Append(v.([]byte))
		return nil
	case KindString:
		b.(*array.StringBuilder).Append(v.(string))
		return nil
	case KindUUID:
		b.(*array.StringBuilder).Append(v.(string))
		return nil
	case KindEnum:
		db := b.(*array.BinaryDictionaryBuilder)
		return db.AppendString(v.(string))
	case KindFixed:
		b.(*array.FixedSizeBinaryBuilder).Append(v.([]byte))
		return nil
	case KindDecimal:
		dv := v.(decimalValue)
		if n.Precision > 16 {
			b.(*array.Decimal256Builder).Append(decimal256FromBigInt(dv.Unscaled))
		} else {
			b.(*array.Decimal128Builder).Append(decimal128FromBigInt(dv.Unscaled))
		}
		return nil
	case KindDate:
		b.(*array.Date32Builder).Append(arrow.Date32(v.(int32)))
		return nil
	case KindTimeMillis:
		b.(*array.Time32Builder).Append(arrow.Time32(v.(int32)))
		return nil
	case KindTimeMicros:
		b.(*array.Time64Builder).Append(arrow.Time64(v.(int64)))
		return nil
	case KindTimestamp:
		b.(*array.TimestampBuilder).Append(arrow.Timestamp(v.(int64)))
		return nil
	case KindDuration:
		dv := v.(durationValue)
		sb := b.(*array.StructBuilder)
		sb.Append(true)
		sb.FieldBuilder(0).(*array.Uint32Builder).Append(dv.Months)
		sb.FieldBuilder(1).(*array.Uint32Builder).Append(dv.Days)
		sb.FieldBuilder(2).(*array.Uint32Builder).Append(dv.Millis)
		return nil
	case KindArray:
		lb := b.(*array.ListBuilder)
		lb.Append(true)
		items, _ := v.([]any)
		for i, item := range items {
			if err := appendValue(lb.ValueBuilder(), arena, n.Element, item, depth+1); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return nil
	case KindMap:
		mb := b.(*array.MapBuilder)
		mb.Append(true)
		m, _ := v.(map[string]any)
		for k, item := range m {
			mb.KeyBuilder().(*array.StringBuilder).Append(k)
			if err := appendValue(mb.ItemBuilder(), arena, n.Element, item, depth+1); err != nil {
				return fmt.Errorf("[%q]: %w", k, err)
			}
		}
		return nil
	case KindRecord:
		sb := b.(*array.StructBuilder)
		sb.Append(true)
		rv, ok := v.(recordValue)
		if !ok {
			return fmt.Errorf("arrow: expected recordValue for %s, got %T", n.Name, v)
		}
		for i, f := range n.Fields {
			if err := appendValue(sb.FieldBuilder(i), arena, f.Node, rv[i].Value, depth+1); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
		return nil
	case KindUnion:
		ub := b.(*array.DenseUnionBuilder)
		uv, ok := v.(unionValue)
		if !ok {
			return fmt.Errorf("arrow: expected unionValue, got %T", v)
		}
		code := arrow.UnionTypeCode(uv.TypeIndex)
		ub.Append(code)
		child := ub.Child(uv.TypeIndex - 1)
		return appendValue(child, arena, n.Variants[uv.TypeIndex-1], uv.Value, depth+1)
	default:
		return fmt.Errorf("arrow: unhandled kind %d (field %s)", n.Kind, n.Name)
	}
}

func decimal128FromBigInt(v *big.Int) decimal128.Num {
	return decimal128.FromBigInt(v)
}

func decimal256FromBigInt(v *big.Int) decimal256.Num {
	return decimal256.FromBigInt(v)
}
