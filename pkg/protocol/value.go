package protocol

import (
	"errors"
	"fmt"
	"sort"
)

// ValueType tags a dynamically typed payload value on the wire.
type ValueType uint8

const (
	ValueNull   ValueType = 0x00
	ValueBool   ValueType = 0x01
	ValueInt    ValueType = 0x02
	ValueFloat  ValueType = 0x03
	ValueString ValueType = 0x04
	ValueArray  ValueType = 0x05
	ValueObject ValueType = 0x06
)

// MaxValueDepth is the maximum nesting depth of payload values.
const MaxValueDepth = 64

var (
	ErrMaxDepthExceeded = errors.New("protocol: maximum nesting depth exceeded")
	ErrInvalidValueType = errors.New("protocol: invalid value type")
)

// EncodeMap encodes a string-keyed map of payload values. Keys are written
// in sorted order so equal maps encode identically.
func EncodeMap(e *Encoder, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e.WriteUvarint(uint64(len(keys)))
	for _, k := range keys {
		e.WriteString(k)
		EncodeValue(e, m[k])
	}
}

// EncodeValue encodes a single payload value. Integers of any width become
// ValueInt, and unknown types are encoded as null.
func EncodeValue(e *Encoder, v any) {
	switch val := v.(type) {
	case nil:
		e.WriteByte(byte(ValueNull))
	case bool:
		e.WriteByte(byte(ValueBool))
		e.WriteBool(val)
	case int:
		e.WriteByte(byte(ValueInt))
		e.WriteSvarint(int64(val))
	case int32:
		e.WriteByte(byte(ValueInt))
		e.WriteSvarint(int64(val))
	case int64:
		e.WriteByte(byte(ValueInt))
		e.WriteSvarint(val)
	case float32:
		e.WriteByte(byte(ValueFloat))
		e.WriteFloat64(float64(val))
	case float64:
		e.WriteByte(byte(ValueFloat))
		e.WriteFloat64(val)
	case string:
		e.WriteByte(byte(ValueString))
		e.WriteString(val)
	case []any:
		e.WriteByte(byte(ValueArray))
		e.WriteUvarint(uint64(len(val)))
		for _, item := range val {
			EncodeValue(e, item)
		}
	case []string:
		e.WriteByte(byte(ValueArray))
		e.WriteUvarint(uint64(len(val)))
		for _, item := range val {
			EncodeValue(e, item)
		}
	case map[string]any:
		e.WriteByte(byte(ValueObject))
		EncodeMap(e, val)
	default:
		e.WriteByte(byte(ValueNull))
	}
}

// DecodeMap decodes a map written by EncodeMap. Integers decode as int64.
func DecodeMap(d *Decoder) (map[string]any, error) {
	return decodeMap(d, 0)
}

// DecodeValue decodes a single payload value.
func DecodeValue(d *Decoder) (any, error) {
	return decodeValue(d, 0)
}

func decodeMap(d *Decoder, depth int) (map[string]any, error) {
	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	m := make(map[string]any, count)
	for i := 0; i < count; i++ {
		key, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		val, err := decodeValue(d, depth)
		if err != nil {
			return nil, err
		}
		m[key] = val
	}
	return m, nil
}

func decodeValue(d *Decoder, depth int) (any, error) {
	if depth > MaxValueDepth {
		return nil, ErrMaxDepthExceeded
	}

	tb, err := d.ReadByte()
	if err != nil {
		return nil, err
	}

	switch ValueType(tb) {
	case ValueNull:
		return nil, nil
	case ValueBool:
		return d.ReadBool()
	case ValueInt:
		return d.ReadSvarint()
	case ValueFloat:
		return d.ReadFloat64()
	case ValueString:
		return d.ReadString()
	case ValueArray:
		count, err := d.ReadCollectionCount()
		if err != nil {
			return nil, err
		}
		arr := make([]any, count)
		for i := range arr {
			if arr[i], err = decodeValue(d, depth+1); err != nil {
				return nil, err
			}
		}
		return arr, nil
	case ValueObject:
		return decodeMap(d, depth+1)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrInvalidValueType, tb)
	}
}
