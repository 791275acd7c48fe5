package xrv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTranslator(t *testing.T) *StandardTranslator {
	t.Helper()
	tr, err := NewStandardTranslator(DefaultFieldNames())
	require.NoError(t, err)
	tr.RegisterMessageFactory(DefaultFactory)
	return tr
}

func TestStandardTranslator_ToVendor(t *testing.T) {
	tr := newTranslator(t)
	m := NewMessage([]byte("hello"))
	m.SetID("u1")
	m.SetContentEncoding("UTF-8")
	m.AddMetadata("key", "val")

	vm, err := tr.ToVendor(m, "over-there")
	require.NoError(t, err)
	assert.Equal(t, "over-there", vm.SendSubject())
	require.Equal(t, 4, vm.NumFields())

	names := make([]string, 0, 4)
	for _, f := range vm.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"unique-id", "payload", "char-enc", "metadata"}, names)

	f, _ := vm.Get("unique-id")
	assert.Equal(t, TypeString, f.Type)
	assert.Equal(t, "u1", f.Value)
	f, _ = vm.Get("payload")
	assert.Equal(t, TypeOpaque, f.Type)
	assert.Equal(t, []byte("hello"), f.Value)
	f, _ = vm.Get("metadata")
	require.Equal(t, TypeMsg, f.Type)
	sub := f.Value.(*Msg)
	kv, ok := sub.Get("key")
	require.True(t, ok)
	assert.Equal(t, "val", kv.Value)
}

func TestStandardTranslator_ToVendorMetadataFieldPerPair(t *testing.T) {
	tr := newTranslator(t)
	m := NewMessage([]byte("x"))
	m.AddMetadata("tenant", "acme")
	m.AddMetadata("region", "eu")

	vm, err := tr.ToVendor(m, "a.b")
	require.NoError(t, err)
	f, ok := vm.Get("metadata")
	require.True(t, ok)
	sub := f.Value.(*Msg)
	require.Equal(t, 2, sub.NumFields())
	for i, want := range [][2]string{{"tenant", "acme"}, {"region", "eu"}} {
		kv, err := sub.FieldByIndex(i)
		require.NoError(t, err)
		assert.Equal(t, want[0], kv.Name)
		assert.Equal(t, TypeString, kv.Type)
		assert.Equal(t, want[1], kv.Value)
	}
}

func TestStandardTranslator_ToVendorOmitsAbsentFields(t *testing.T) {
	tr := newTranslator(t)
	m := NewMessage(nil)
	m.SetID("u2")

	vm, err := tr.ToVendor(m, "a.b")
	require.NoError(t, err)
	require.Equal(t, 1, vm.NumFields())
	f, err := vm.FieldByIndex(0)
	require.NoError(t, err)
	assert.Equal(t, "unique-id", f.Name)

	_, err = tr.ToVendor(nil, "a.b")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = tr.ToVendor(m, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStandardTranslator_FromVendor(t *testing.T) {
	tr := newTranslator(t)
	m, err := tr.FromVendor(vendorMsg(t, "over-there", "u1", "hello", "UTF-8", map[string]string{"key": "val"}))
	require.NoError(t, err)

	assert.Equal(t, "u1", m.ID())
	assert.Equal(t, []byte("hello"), m.Payload())
	enc, ok := m.ContentEncoding()
	assert.True(t, ok)
	assert.Equal(t, "UTF-8", enc)
	v, ok := m.Metadata().Get("key")
	assert.True(t, ok)
	assert.Equal(t, "val", v)
}

func TestStandardTranslator_FromVendorDefaults(t *testing.T) {
	tr := newTranslator(t)
	m, err := tr.FromVendor(NewMsg())
	require.NoError(t, err)
	assert.Equal(t, "", m.ID())
	assert.NotNil(t, m.Payload())
	assert.Empty(t, m.Payload())
	_, ok := m.ContentEncoding()
	assert.False(t, ok)
	assert.Equal(t, 0, m.Metadata().Len())

	_, err = tr.FromVendor(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStandardTranslator_FromVendorDuplicateMetadataKey(t *testing.T) {
	tr := newTranslator(t)
	sub := NewMsg()
	require.NoError(t, sub.AddString("k", "first"))
	require.NoError(t, sub.AddString("other", "o"))
	require.NoError(t, sub.AddString("k", "second"))
	vm := NewMsg()
	require.NoError(t, vm.AddMsg("metadata", sub))

	m, err := tr.FromVendor(vm)
	require.NoError(t, err)
	md := m.Metadata()
	assert.Equal(t, []string{"k", "other"}, md.Keys())
	v, _ := md.Get("k")
	assert.Equal(t, "second", v)
}

func TestStandardTranslator_FromVendorTypeMismatch(t *testing.T) {
	tr := newTranslator(t)
	nested := func(vm *Msg) error {
		sub := NewMsg()
		if err := sub.AddU64("n", 7); err != nil {
			return err
		}
		return vm.AddMsg("metadata", sub)
	}
	cases := map[string]func(*Msg) error{
		"unique-id":  func(vm *Msg) error { return vm.AddU64("unique-id", 1) },
		"char-enc":   func(vm *Msg) error { return vm.AddOpaque("char-enc", []byte("x")) },
		"payload":    func(vm *Msg) error { return vm.AddString("payload", "text") },
		"metadata":   func(vm *Msg) error { return vm.AddString("metadata", "k=v") },
		"metadata.n": nested,
	}
	for field, build := range cases {
		t.Run(field, func(t *testing.T) {
			vm := NewMsg()
			require.NoError(t, build(vm))
			_, err := tr.FromVendor(vm)
			var te *TranslationError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, field, te.Field)
		})
	}
}

func TestStandardTranslator_CustomNames(t *testing.T) {
	names := FieldNamesFromMap(map[string]any{"payload_name": "body", "metadata_name": "headers"})
	assert.Equal(t, "unique-id", names.UniqueID)
	assert.Equal(t, "body", names.Payload)

	tr, err := NewStandardTranslator(names)
	require.NoError(t, err)
	m := NewMessage([]byte("x"))
	m.AddMetadata("a", "1")
	vm, err := tr.ToVendor(m, "s")
	require.NoError(t, err)
	_, ok := vm.Get("body")
	assert.True(t, ok)
	_, ok = vm.Get("headers")
	assert.True(t, ok)

	back, err := tr.FromVendor(vm)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), back.Payload())
	assert.Equal(t, []string{"a"}, back.Metadata().Keys())
}

func TestFieldNames_Validate(t *testing.T) {
	n := DefaultFieldNames()
	n.CharEncoding = ""
	_, err := NewStandardTranslator(n)
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "char_encoding_name", cerr.Field)
}

func TestStandardTranslator_Factory(t *testing.T) {
	tr := newTranslator(t)
	tr.RegisterMessageFactory(MessageFactoryFunc(func() *Message {
		m := NewMessage(nil)
		m.AddMetadata("origin", "factory")
		return m
	}))
	m, err := tr.FromVendor(vendorMsg(t, "s", "u1", "", "", nil))
	require.NoError(t, err)
	v, _ := m.Metadata().Get("origin")
	assert.Equal(t, "factory", v)

	tr.RegisterMessageFactory(MessageFactoryFunc(func() *Message { return nil }))
	_, err = tr.FromVendor(NewMsg())
	assert.Error(t, err)
}

func TestTranslatorRegistry(t *testing.T) {
	tr, err := NewTranslator(StandardTranslatorName, map[string]any{"unique_id_name": "id"})
	require.NoError(t, err)
	assert.Equal(t, "id", tr.(*StandardTranslator).Names().UniqueID)

	_, err = NewTranslator("nope", nil)
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "translator", cerr.Field)
}
