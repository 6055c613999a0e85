package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
)

// Number is the set of sample value types a Series can hold.
type Number interface {
	~float64 | ~int64
}

// Series is an insertion-ordered mapping from metric name to value.
//
// The zero value is an empty series ready to use. Overwriting an existing
// name keeps its original position so that render output stays stable while
// a caller updates values in place.
//
// A Series is a value: copies made by assignment never observe each other's
// writes. Storage is shared until a copy is first written through, at which
// point that copy takes its own. Like a map, a Series must not be written
// while another goroutine reads it or a copy of it.
type Series[V Number] struct {
	entries []entry[V]
	// index maps a name to its position in entries. It may be shared with
	// copies, so a hit only counts when the position is inside entries and
	// names the same key.
	index map[string]int
	// owner is the address of the Series that last took ownership of the
	// storage. It differs from the receiver after a copy.
	owner *Series[V]
}

type entry[V Number] struct {
	name  string
	value V
}

// Gauges holds point-in-time measurements.
type Gauges = Series[float64]

// Counters holds monotonic measurements.
type Counters = Series[int64]

// own gives s storage no other Series writes to.
func (s *Series[V]) own() {
	if s.owner == s {
		return
	}
	entries := make([]entry[V], len(s.entries), len(s.entries)+1)
	copy(entries, s.entries)
	index := make(map[string]int, len(entries)+1)
	for i, e := range entries {
		index[e.name] = i
	}
	s.entries, s.index, s.owner = entries, index, s
}

func (s Series[V]) lookup(name string) (int, bool) {
	i, ok := s.index[name]
	if !ok || i >= len(s.entries) || s.entries[i].name != name {
		return 0, false
	}
	return i, true
}

// Set stores v under name.
func (s *Series[V]) Set(name string, v V) {
	s.own()
	if i, ok := s.lookup(name); ok {
		// Copies may still read this backing array.
		entries := slices.Clone(s.entries)
		entries[i].value = v
		s.entries = entries
		return
	}
	// Appending past the length of any copy is invisible to it.
	s.index[name] = len(s.entries)
	s.entries = append(s.entries, entry[V]{name: name, value: v})
}

// Add increments the value stored under name by delta, creating it at delta
// when absent.
func (s *Series[V]) Add(name string, delta V) {
	current, _ := s.Get(name)
	s.Set(name, current+delta)
}

// Get returns the value stored under name.
func (s Series[V]) Get(name string) (V, bool) {
	i, ok := s.lookup(name)
	if !ok {
		var zero V
		return zero, false
	}
	return s.entries[i].value, true
}

// Delete removes name from the series.
func (s *Series[V]) Delete(name string) {
	if _, ok := s.lookup(name); !ok {
		return
	}
	entries := make([]entry[V], 0, len(s.entries))
	index := make(map[string]int, len(s.entries))
	for _, e := range s.entries {
		if e.name == name {
			continue
		}
		index[e.name] = len(entries)
		entries = append(entries, e)
	}
	s.entries, s.index, s.owner = entries, index, s
}

// Len reports the number of entries.
func (s Series[V]) Len() int {
	return len(s.entries)
}

// IsZero reports whether the series is empty. It lets encoding/json omit
// empty series with the omitzero option.
func (s Series[V]) IsZero() bool {
	return len(s.entries) == 0
}

// Keys returns the names in insertion order.
func (s Series[V]) Keys() []string {
	keys := make([]string, len(s.entries))
	for i, e := range s.entries {
		keys[i] = e.name
	}
	return keys
}

// All iterates over the entries in insertion order.
func (s Series[V]) All() iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		for _, e := range s.entries {
			if !yield(e.name, e.value) {
				return
			}
		}
	}
}

// Clone returns an independent copy.
func (s Series[V]) Clone() Series[V] {
	if len(s.entries) == 0 {
		return Series[V]{}
	}
	out := Series[V]{
		entries: slices.Clone(s.entries),
		index:   make(map[string]int, len(s.entries)),
	}
	for i, e := range out.entries {
		out.index[e.name] = i
	}
	return out
}

// Equal reports whether both series hold the same entries in the same order.
func (s Series[V]) Equal(other Series[V]) bool {
	if len(s.entries) != len(other.entries) {
		return false
	}
	for i, e := range s.entries {
		if o := other.entries[i]; e.name != o.name || e.value != o.value {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the series as a JSON object in insertion order.
func (s Series[V]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.value)
		if err != nil {
			return nil, fmt.Errorf("series entry %q: %w", e.name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the document order of its
// members. A repeated member overwrites the earlier value in place.
func (s *Series[V]) UnmarshalJSON(data []byte) error {
	*s = Series[V]{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("series: expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("series: expected member name, got %v", tok)
		}
		var v V
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("series entry %q: %w", name, err)
		}
		s.Set(name, v)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
