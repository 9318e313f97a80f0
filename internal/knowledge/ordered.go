package knowledge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/elliotchance/orderedmap/v3"
)

// OrderedMap is a string-keyed map that remembers insertion order.
// The zero value is an empty map ready to use.
type OrderedMap[V any] struct {
	m *orderedmap.OrderedMap[string, V]
}

// Fields maps a field or entry key to its text.
type Fields = OrderedMap[string]

// NewFields builds Fields from alternating key/value pairs.
func NewFields(pairs ...string) Fields {
	var f Fields
	for i := 0; i+1 < len(pairs); i += 2 {
		f.Set(pairs[i], pairs[i+1])
	}
	return f
}

// Get returns the value stored under key.
func (m *OrderedMap[V]) Get(key string) (V, bool) {
	if m.m == nil {
		var zero V
		return zero, false
	}
	return m.m.Get(key)
}

// Set stores value under key. A new key is appended; an existing key keeps its position.
func (m *OrderedMap[V]) Set(key string, value V) {
	if m.m == nil {
		m.m = orderedmap.NewOrderedMap[string, V]()
	}
	m.m.Set(key, value)
}

// Has reports whether key is present.
func (m *OrderedMap[V]) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Len returns the number of entries.
func (m *OrderedMap[V]) Len() int {
	if m.m == nil {
		return 0
	}
	return m.m.Len()
}

// Keys returns a copy of the keys in insertion order.
func (m *OrderedMap[V]) Keys() []string {
	out := make([]string, 0, m.Len())
	for k := range m.All() {
		out = append(out, k)
	}
	return out
}

// All iterates entries in insertion order.
func (m *OrderedMap[V]) All() iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		if m.m == nil {
			return
		}
		for el := m.m.Front(); el != nil; el = el.Next() {
			if !yield(el.Key, el.Value) {
				return
			}
		}
	}
}

// Clone returns a copy whose values are produced by copyValue.
func (m *OrderedMap[V]) Clone(copyValue func(V) V) OrderedMap[V] {
	var out OrderedMap[V]
	for k, v := range m.All() {
		out.Set(k, copyValue(v))
	}
	return out
}

// MarshalJSON writes the entries as a JSON object in insertion order.
// An empty map is written as {}.
func (m OrderedMap[V]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	i := 0
	for k, v := range m.All() {
		if i > 0 {
			buf.WriteByte(',')
		}
		i++
		key, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("failed to encode key %q: %w", k, err)
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode value for key %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func identity[V any](v V) V { return v }
