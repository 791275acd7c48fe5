package xrv

import (
	"errors"
	"fmt"
	"sync"
)

// Translator maps generic messages to vendor messages and back.
type Translator interface {
	ToVendor(m *Message, subject string) (*Msg, error)
	FromVendor(vm *Msg) (*Message, error)
	RegisterMessageFactory(f MessageFactory)
}

// FieldNames are the vendor field names used by StandardTranslator.
// They form the compatibility contract with other bus participants.
type FieldNames struct {
	UniqueID     string
	Payload      string
	CharEncoding string
	Metadata     string
}

// DefaultFieldNames returns the stock field names.
func DefaultFieldNames() FieldNames {
	return FieldNames{
		UniqueID:     "unique-id",
		Payload:      "payload",
		CharEncoding: "char-enc",
		Metadata:     "metadata",
	}
}

// Validate requires every name to be set.
func (n FieldNames) Validate() error {
	switch {
	case n.UniqueID == "":
		return configError("unique_id_name", "required")
	case n.Payload == "":
		return configError("payload_name", "required")
	case n.CharEncoding == "":
		return configError("char_encoding_name", "required")
	case n.Metadata == "":
		return configError("metadata_name", "required")
	}
	return nil
}

// StandardTranslator writes the unique id, payload, encoding and a nested
// metadata message as separate named fields.
type StandardTranslator struct {
	names FieldNames

	mu      sync.RWMutex
	factory MessageFactory
}

var _ Translator = (*StandardTranslator)(nil)

// NewStandardTranslator validates names and builds the translator.
func NewStandardTranslator(names FieldNames) (*StandardTranslator, error) {
	if err := names.Validate(); err != nil {
		return nil, err
	}
	return &StandardTranslator{names: names, factory: DefaultFactory}, nil
}

// RegisterMessageFactory sets the factory used by FromVendor. A nil factory
// restores DefaultFactory.
func (t *StandardTranslator) RegisterMessageFactory(f MessageFactory) {
	if f == nil {
		f = DefaultFactory
	}
	t.mu.Lock()
	t.factory = f
	t.mu.Unlock()
}

// ToVendor builds a fresh vendor message addressed to subject. Payload,
// encoding and metadata fields are written only when present.
func (t *StandardTranslator) ToVendor(m *Message, subject string) (*Msg, error) {
	if m == nil {
		return nil, argError("message", "nil")
	}
	if subject == "" {
		return nil, argError("subject", "empty")
	}
	vm := NewMsg()
	vm.SetSendSubject(subject)
	if err := vm.AddString(t.names.UniqueID, m.ID()); err != nil {
		return nil, err
	}
	if p := m.Payload(); len(p) > 0 {
		if err := vm.AddOpaque(t.names.Payload, p); err != nil {
			return nil, err
		}
	}
	if enc, ok := m.ContentEncoding(); ok {
		if err := vm.AddString(t.names.CharEncoding, enc); err != nil {
			return nil, err
		}
	}
	if md := m.Metadata(); md.Len() > 0 {
		sub := NewMsg()
		var err error
		md.Range(func(k, v string) bool {
			err = sub.AddString(k, v)
			return err == nil
		})
		if err != nil {
			return nil, err
		}
		if err := vm.AddMsg(t.names.Metadata, sub); err != nil {
			return nil, err
		}
	}
	return vm, nil
}

// FromVendor builds a message with the registered factory. Absent fields
// leave the defaults: empty id, no encoding, empty payload, no metadata.
func (t *StandardTranslator) FromVendor(vm *Msg) (*Message, error) {
	if vm == nil {
		return nil, argError("msg", "nil")
	}
	t.mu.RLock()
	f := t.factory
	t.mu.RUnlock()

	m := f.NewMessage()
	if m == nil {
		return nil, errors.New("xrv: message factory returned nil")
	}

	id, _, err := stringField(vm, t.names.UniqueID)
	if err != nil {
		return nil, err
	}
	m.SetID(id)

	if enc, ok, err := stringField(vm, t.names.CharEncoding); err != nil {
		return nil, err
	} else if ok {
		m.SetContentEncoding(enc)
	}

	payload := []byte{}
	if fld, ok := vm.Get(t.names.Payload); ok {
		p, isOpaque := fld.Value.([]byte)
		if !isOpaque {
			return nil, &TranslationError{Field: t.names.Payload, Reason: fmt.Sprintf("expected OPAQUE, got %s", fld.Type)}
		}
		payload = p
	}
	m.SetPayload(payload)

	if fld, ok := vm.Get(t.names.Metadata); ok {
		sub, isMsg := fld.Value.(*Msg)
		if !isMsg {
			return nil, &TranslationError{Field: t.names.Metadata, Reason: fmt.Sprintf("expected MSG, got %s", fld.Type)}
		}
		for _, mf := range sub.fields {
			v, isStr := mf.Value.(string)
			if !isStr {
				return nil, &TranslationError{Field: t.names.Metadata + "." + mf.Name, Reason: fmt.Sprintf("expected STRING, got %s", mf.Type)}
			}
			m.AddMetadata(mf.Name, v)
		}
	}
	return m, nil
}

// Names returns the configured field names.
func (t *StandardTranslator) Names() FieldNames { return t.names }

func (t *StandardTranslator) String() string {
	return fmt.Sprintf("StandardTranslator{unique id name [%s] payload name [%s] char encoding name [%s] metadata name [%s]}",
		t.names.UniqueID, t.names.Payload, t.names.CharEncoding, t.names.Metadata)
}

func stringField(vm *Msg, name string) (string, bool, error) {
	fld, ok := vm.Get(name)
	if !ok {
		return "", false, nil
	}
	s, isStr := fld.Value.(string)
	if !isStr {
		return "", false, &TranslationError{Field: name, Reason: fmt.Sprintf("expected STRING, got %s", fld.Type)}
	}
	return s, true, nil
}

// TranslatorFactory constructs translators from a config blob.
type TranslatorFactory func(cfg map[string]any) (Translator, error)

// StandardTranslatorName is the registry name of StandardTranslator.
const StandardTranslatorName = "standard"

var (
	translatorRegistryMu sync.RWMutex
	translatorRegistry   = map[string]TranslatorFactory{}
)

func init() {
	if err := RegisterTranslator(StandardTranslatorName, func(cfg map[string]any) (Translator, error) {
		return NewStandardTranslator(FieldNamesFromMap(cfg))
	}); err != nil {
		panic(err)
	}
}

// RegisterTranslator registers a translator under name.
func RegisterTranslator(name string, factory TranslatorFactory) error {
	if name == "" {
		return errors.New("translator name must not be empty")
	}
	if factory == nil {
		return errors.New("translator factory must not be nil")
	}
	translatorRegistryMu.Lock()
	translatorRegistry[name] = factory
	translatorRegistryMu.Unlock()
	return nil
}

// NewTranslator constructs a translator by name with config.
func NewTranslator(name string, cfg map[string]any) (Translator, error) {
	translatorRegistryMu.RLock()
	f, ok := translatorRegistry[name]
	translatorRegistryMu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{Field: "translator", Reason: fmt.Sprintf("unknown translator %q", name)}
	}
	return f(cfg)
}

// FieldNamesFromMap reads field names from cfg, defaulting missing keys.
func FieldNamesFromMap(cfg map[string]any) FieldNames {
	n := DefaultFieldNames()
	getString := func(k, def string) string {
		if v, ok := cfg[k].(string); ok {
			return v
		}
		return def
	}
	n.UniqueID = getString("unique_id_name", n.UniqueID)
	n.Payload = getString("payload_name", n.Payload)
	n.CharEncoding = getString("char_encoding_name", n.CharEncoding)
	n.Metadata = getString("metadata_name", n.Metadata)
	return n
}
