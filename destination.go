package xrv

// Destination resolves the subject a message is produced to.
type Destination interface {
	Subject(m *Message) (string, error)
}

// ConstantDestination sends every message to the same subject.
type ConstantDestination string

func (d ConstantDestination) Subject(*Message) (string, error) {
	if d == "" {
		return "", argError("subject", "empty")
	}
	return string(d), nil
}

// MetadataDestination reads the subject from a metadata key, falling back
// to Fallback when the key is absent or empty.
type MetadataDestination struct {
	Key      string
	Fallback string
}

func (d MetadataDestination) Subject(m *Message) (string, error) {
	if m != nil {
		if s, ok := m.Metadata().Get(d.Key); ok && s != "" {
			return s, nil
		}
	}
	if d.Fallback == "" {
		return "", argError("subject", "metadata key "+d.Key+" not set and no fallback")
	}
	return d.Fallback, nil
}
