package xrv

import (
	"github.com/google/uuid"
)

// Message is the generic envelope exchanged with consumers and producers.
// The content encoding is optional: absent is distinct from "".
type Message struct {
	id       string
	payload  []byte
	encoding string
	hasEnc   bool
	metadata Metadata
}

func (m *Message) ID() string          { return m.id }
func (m *Message) SetID(id string)     { m.id = id }
func (m *Message) Payload() []byte     { return m.payload }
func (m *Message) SetPayload(p []byte) { m.payload = p }

// ContentEncoding returns the character encoding and whether one is set.
func (m *Message) ContentEncoding() (string, bool) { return m.encoding, m.hasEnc }

func (m *Message) SetContentEncoding(enc string) {
	m.encoding = enc
	m.hasEnc = true
}

func (m *Message) ClearContentEncoding() {
	m.encoding = ""
	m.hasEnc = false
}

// Metadata returns the live metadata of m.
func (m *Message) Metadata() *Metadata { return &m.metadata }

// AddMetadata sets key to value, overwriting an existing entry in place.
func (m *Message) AddMetadata(key, value string) { m.metadata.Set(key, value) }

// MessageFactory creates empty messages for inbound translation.
type MessageFactory interface {
	NewMessage() *Message
}

// MessageFactoryFunc is an Adapter that lets a plain function satisfy MessageFactory.
type MessageFactoryFunc func() *Message

func (f MessageFactoryFunc) NewMessage() *Message { return f() }

// DefaultFactory creates messages with a random UUID as id.
var DefaultFactory MessageFactory = MessageFactoryFunc(func() *Message {
	return &Message{id: uuid.NewString()}
})

// NewMessage builds an outbound message with a fresh id.
func NewMessage(payload []byte) *Message {
	m := DefaultFactory.NewMessage()
	m.payload = payload
	return m
}
