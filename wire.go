package xrv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Wire layout (big endian):
//
//	version u8 | send subject u16+bytes | reply subject u16+bytes |
//	time limit ns u64 | field count u32 | fields...
//
// Each field is name u16+bytes | type u8 | value u32+bytes. MSG values hold
// a complete nested encoding.
const wireVersion uint8 = 1

var (
	ErrShortWire       = errors.New("xrv: short wire message")
	ErrWireVersion     = errors.New("xrv: unsupported wire version")
	ErrWireFieldLength = errors.New("xrv: invalid wire field length")
)

// MarshalBinary encodes m in the xrv wire format used by network drivers.
func (m *Msg) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, 64)
	return m.appendWire(out, 0)
}

// UnmarshalBinary decodes data produced by MarshalBinary into m.
func (m *Msg) UnmarshalBinary(data []byte) error {
	dec, n, err := decodeWire(data, 0)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrWireFieldLength, len(data)-n)
	}
	*m = *dec
	return nil
}

// DecodeMsg is a convenience wrapper over UnmarshalBinary.
func DecodeMsg(data []byte) (*Msg, error) {
	m := NewMsg()
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return m, nil
}

const maxWireDepth = 32

func (m *Msg) appendWire(out []byte, depth int) ([]byte, error) {
	if depth > maxWireDepth {
		return nil, fmt.Errorf("xrv: message nesting deeper than %d", maxWireDepth)
	}
	var err error
	out = append(out, wireVersion)
	if out, err = appendStr16(out, m.sendSubject); err != nil {
		return nil, err
	}
	if out, err = appendStr16(out, m.replySubject); err != nil {
		return nil, err
	}
	out = binary.BigEndian.AppendUint64(out, uint64(m.timeLimit))
	out = binary.BigEndian.AppendUint32(out, uint32(len(m.fields)))
	for _, f := range m.fields {
		if out, err = appendStr16(out, f.Name); err != nil {
			return nil, err
		}
		out = append(out, uint8(f.Type))
		val, err := encodeValue(f, depth)
		if err != nil {
			return nil, err
		}
		if uint64(len(val)) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: field %q", ErrWireFieldLength, f.Name)
		}
		out = binary.BigEndian.AppendUint32(out, uint32(len(val)))
		out = append(out, val...)
	}
	return out, nil
}

func encodeValue(f Field, depth int) ([]byte, error) {
	switch f.Type {
	case TypeString:
		return []byte(f.Value.(string)), nil
	case TypeOpaque:
		return f.Value.([]byte), nil
	case TypeMsg:
		return f.Value.(*Msg).appendWire(nil, depth+1)
	case TypeU64:
		return binary.BigEndian.AppendUint64(nil, f.Value.(uint64)), nil
	case TypeI64:
		return binary.BigEndian.AppendUint64(nil, uint64(f.Value.(int64))), nil
	case TypeBool:
		if f.Value.(bool) {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	default:
		return nil, fmt.Errorf("xrv: unsupported field type %s", f.Type)
	}
}

func decodeWire(data []byte, depth int) (*Msg, int, error) {
	if depth > maxWireDepth {
		return nil, 0, fmt.Errorf("xrv: message nesting deeper than %d", maxWireDepth)
	}
	if len(data) < 1 {
		return nil, 0, ErrShortWire
	}
	if data[0] != wireVersion {
		return nil, 0, fmt.Errorf("%w: %d", ErrWireVersion, data[0])
	}
	i := 1
	m := NewMsg()
	var err error
	if m.sendSubject, i, err = readStr16(data, i); err != nil {
		return nil, 0, err
	}
	if m.replySubject, i, err = readStr16(data, i); err != nil {
		return nil, 0, err
	}
	if len(data)-i < 12 {
		return nil, 0, ErrShortWire
	}
	m.timeLimit = time.Duration(binary.BigEndian.Uint64(data[i : i+8]))
	count := binary.BigEndian.Uint32(data[i+8 : i+12])
	i += 12
	for n := uint32(0); n < count; n++ {
		var name string
		if name, i, err = readStr16(data, i); err != nil {
			return nil, 0, err
		}
		if len(data)-i < 5 {
			return nil, 0, ErrShortWire
		}
		t := FieldType(data[i])
		l := binary.BigEndian.Uint32(data[i+1 : i+5])
		i += 5
		if uint32(len(data)-i) < l {
			return nil, 0, ErrShortWire
		}
		raw := data[i : i+int(l)]
		i += int(l)
		v, err := decodeValue(t, raw, depth)
		if err != nil {
			return nil, 0, fmt.Errorf("field %q: %w", name, err)
		}
		m.fields = append(m.fields, Field{Name: name, Type: t, Value: v})
	}
	return m, i, nil
}

func decodeValue(t FieldType, raw []byte, depth int) (any, error) {
	switch t {
	case TypeString:
		return string(raw), nil
	case TypeOpaque:
		b := make([]byte, len(raw))
		copy(b, raw)
		return b, nil
	case TypeMsg:
		sub, n, err := decodeWire(raw, depth+1)
		if err != nil {
			return nil, err
		}
		if n != len(raw) {
			return nil, ErrWireFieldLength
		}
		return sub, nil
	case TypeU64, TypeI64:
		if len(raw) != 8 {
			return nil, ErrWireFieldLength
		}
		u := binary.BigEndian.Uint64(raw)
		if t == TypeI64 {
			return int64(u), nil
		}
		return u, nil
	case TypeBool:
		if len(raw) != 1 {
			return nil, ErrWireFieldLength
		}
		return raw[0] != 0, nil
	default:
		return nil, fmt.Errorf("xrv: unsupported field type %s", t)
	}
}

func appendStr16(out []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: string of %d bytes", ErrWireFieldLength, len(s))
	}
	out = binary.BigEndian.AppendUint16(out, uint16(len(s)))
	return append(out, s...), nil
}

func readStr16(data []byte, i int) (string, int, error) {
	if len(data)-i < 2 {
		return "", 0, ErrShortWire
	}
	l := int(binary.BigEndian.Uint16(data[i : i+2]))
	i += 2
	if len(data)-i < l {
		return "", 0, ErrShortWire
	}
	return string(data[i : i+l]), i + l, nil
}
