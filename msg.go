package xrv

import (
	"fmt"
	"strings"
	"time"
)

// FieldType identifies the wire type of a Msg field.
type FieldType uint8

const (
	TypeString FieldType = iota + 1
	TypeOpaque
	TypeMsg
	TypeU64
	TypeI64
	TypeBool
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "STRING"
	case TypeOpaque:
		return "OPAQUE"
	case TypeMsg:
		return "MSG"
	case TypeU64:
		return "U64"
	case TypeI64:
		return "I64"
	case TypeBool:
		return "BOOL"
	default:
		return fmt.Sprintf("FieldType(%d)", uint8(t))
	}
}

// Field is one named, typed entry of a Msg.
type Field struct {
	Name  string
	Type  FieldType
	Value any
}

// Msg is the vendor message: an ordered collection of named typed fields
// plus routing subjects. Field names are not required to be unique; Get
// returns the first match.
type Msg struct {
	sendSubject  string
	replySubject string
	fields       []Field

	// certified delivery attribute, never encoded as a field
	timeLimit time.Duration
}

// NewMsg returns an empty message.
func NewMsg() *Msg { return &Msg{} }

func (m *Msg) SendSubject() string      { return m.sendSubject }
func (m *Msg) SetSendSubject(s string)  { m.sendSubject = s }
func (m *Msg) ReplySubject() string     { return m.replySubject }
func (m *Msg) SetReplySubject(s string) { m.replySubject = s }
func (m *Msg) NumFields() int           { return len(m.fields) }

// Add appends a field after checking that v matches t.
func (m *Msg) Add(name string, v any, t FieldType) error {
	if name == "" {
		return argError("name", "empty field name")
	}
	if err := checkFieldValue(v, t); err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}
	m.fields = append(m.fields, Field{Name: name, Type: t, Value: v})
	return nil
}

func (m *Msg) AddString(name, v string) error        { return m.Add(name, v, TypeString) }
func (m *Msg) AddOpaque(name string, v []byte) error { return m.Add(name, v, TypeOpaque) }
func (m *Msg) AddMsg(name string, v *Msg) error      { return m.Add(name, v, TypeMsg) }
func (m *Msg) AddU64(name string, v uint64) error    { return m.Add(name, v, TypeU64) }

// Get returns the first field called name.
func (m *Msg) Get(name string) (Field, bool) {
	for _, f := range m.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldByIndex returns the i-th field in insertion order.
func (m *Msg) FieldByIndex(i int) (Field, error) {
	if i < 0 || i >= len(m.fields) {
		return Field{}, fmt.Errorf("xrv: field index %d out of range [0,%d)", i, len(m.fields))
	}
	return m.fields[i], nil
}

// Fields returns a copy of the field list.
func (m *Msg) Fields() []Field {
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Remove deletes every field called name and reports whether any existed.
func (m *Msg) Remove(name string) bool {
	kept := m.fields[:0]
	removed := false
	for _, f := range m.fields {
		if f.Name == name {
			removed = true
			continue
		}
		kept = append(kept, f)
	}
	m.fields = kept
	return removed
}

// Clone deep-copies the message, including nested messages and opaque data.
func (m *Msg) Clone() *Msg {
	if m == nil {
		return nil
	}
	out := &Msg{
		sendSubject:  m.sendSubject,
		replySubject: m.replySubject,
		timeLimit:    m.timeLimit,
		fields:       make([]Field, len(m.fields)),
	}
	for i, f := range m.fields {
		switch v := f.Value.(type) {
		case []byte:
			b := make([]byte, len(v))
			copy(b, v)
			f.Value = b
		case *Msg:
			f.Value = v.Clone()
		}
		out.fields[i] = f
	}
	return out
}

func (m *Msg) String() string {
	var b strings.Builder
	b.WriteString("{")
	for i, f := range m.fields {
		if i > 0 {
			b.WriteString(" ")
		}
		switch v := f.Value.(type) {
		case []byte:
			fmt.Fprintf(&b, "%s=[%d bytes]", f.Name, len(v))
		case *Msg:
			fmt.Fprintf(&b, "%s=%s", f.Name, v.String())
		default:
			fmt.Fprintf(&b, "%s=%v", f.Name, v)
		}
	}
	b.WriteString("}")
	return b.String()
}

// SetTimeLimit sets the certified delivery time limit carried by m.
// A zero limit means the message never expires.
func SetTimeLimit(m *Msg, d time.Duration) error {
	if m == nil {
		return argError("msg", "nil")
	}
	if d < 0 {
		return argError("time limit", "negative")
	}
	m.timeLimit = d
	return nil
}

// TimeLimit reports the certified delivery time limit of m.
func TimeLimit(m *Msg) time.Duration {
	if m == nil {
		return 0
	}
	return m.timeLimit
}

func checkFieldValue(v any, t FieldType) error {
	ok := false
	switch t {
	case TypeString:
		_, ok = v.(string)
	case TypeOpaque:
		_, ok = v.([]byte)
	case TypeMsg:
		var sub *Msg
		sub, ok = v.(*Msg)
		ok = ok && sub != nil
	case TypeU64:
		_, ok = v.(uint64)
	case TypeI64:
		_, ok = v.(int64)
	case TypeBool:
		_, ok = v.(bool)
	default:
		return fmt.Errorf("xrv: unsupported field type %s", t)
	}
	if !ok {
		return fmt.Errorf("xrv: value %T does not match field type %s", v, t)
	}
	return nil
}
