package schema

import (
	"bytes"
	"encoding/json"
)

// side is the common surface both Avro- and JSON-Schema-backed schema
// halves present to the registry: decode wire bytes into the canonical
// value shape (recordValue/unionValue/[]any/scalars) used by the columnar
// and JSON converters, and the inverse.
type side interface {
	arena() *Arena
	root() NodeID
	decode(data []byte) (any, error)
	encode(v any) ([]byte, error)
}

func (s *avroSide) arena() *Arena { return s.arena_ }
func (s *avroSide) root() NodeID  { return s.root_ }

var _ side = (*avroSide)(nil)
var _ side = (*jsonSide)(nil)

func (s *avroSide) decode(data []byte) (any, error) {
	r := bytes.NewReader(data)
	v, err := decodeAvroValue(s.arena_, s.root_, r, 0)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *avroSide) encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeAvroValue(s.arena_, s.root_, v, &buf, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *jsonSide) arena() *Arena { return s.arena_ }
func (s *jsonSide) root() NodeID  { return s.root_ }

func (s *jsonSide) decode(data []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if err := s.validator.Validate(raw); err != nil {
		return nil, err
	}
	return jsonNativeToValue(s.arena_, s.root_, raw, 0)
}

func (s *jsonSide) encode(v any) ([]byte, error) {
	plain, err := valueToJSONNative(s.arena_, s.root_, v, 0)
	if err != nil {
		return nil, err
	}
	return json.Marshal(plain)
}
