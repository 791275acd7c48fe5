package xrv

// Metadata is an insertion-ordered string map with unique keys.
// The zero value is ready to use.
type Metadata struct {
	keys   []string
	values map[string]string
}

// Set stores value under key. An existing key keeps its position.
func (md *Metadata) Set(key, value string) {
	if md.values == nil {
		md.values = make(map[string]string)
	}
	if _, ok := md.values[key]; !ok {
		md.keys = append(md.keys, key)
	}
	md.values[key] = value
}

func (md *Metadata) Get(key string) (string, bool) {
	v, ok := md.values[key]
	return v, ok
}

// Delete removes key and reports whether it existed.
func (md *Metadata) Delete(key string) bool {
	if _, ok := md.values[key]; !ok {
		return false
	}
	delete(md.values, key)
	for i, k := range md.keys {
		if k == key {
			md.keys = append(md.keys[:i], md.keys[i+1:]...)
			break
		}
	}
	return true
}

func (md *Metadata) Len() int { return len(md.keys) }

// Keys returns the keys in insertion order.
func (md *Metadata) Keys() []string {
	out := make([]string, len(md.keys))
	copy(out, md.keys)
	return out
}

// Range calls fn for every entry in insertion order until fn returns false.
func (md *Metadata) Range(fn func(key, value string) bool) {
	for _, k := range md.keys {
		if !fn(k, md.values[k]) {
			return
		}
	}
}

// Map returns an unordered copy.
func (md *Metadata) Map() map[string]string {
	out := make(map[string]string, len(md.keys))
	for k, v := range md.values {
		out[k] = v
	}
	return out
}
