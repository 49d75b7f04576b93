package interp

import (
	"iter"

	"github.com/elliotchance/orderedmap/v3"

	"github.com/twinfer/tre-plugin/pkg/field"
)

// Store holds the fields of one extension in traversal order.
type Store struct {
	m *orderedmap.OrderedMap[string, *field.Field]
}

func NewStore() *Store {
	return &Store{m: orderedmap.NewOrderedMap[string, *field.Field]()}
}

// Get returns the field stored under name.
func (s *Store) Get(name string) (*field.Field, bool) {
	return s.m.Get(name)
}

func (s *Store) Has(name string) bool {
	_, ok := s.m.Get(name)
	return ok
}

// Put stores f under its name. A new name goes to the end; an existing one
// keeps its position.
func (s *Store) Put(f *field.Field) {
	s.m.Set(f.Name(), f)
}

func (s *Store) Delete(name string) bool {
	return s.m.Delete(name)
}

func (s *Store) Len() int {
	return s.m.Len()
}

// All yields every field in order. The sequence can be ranged over more than
// once.
func (s *Store) All() iter.Seq2[string, *field.Field] {
	return func(yield func(string, *field.Field) bool) {
		for el := s.m.Front(); el != nil; el = el.Next() {
			if !yield(el.Key, el.Value) {
				return
			}
		}
	}
}

// Names returns the stored names in order.
func (s *Store) Names() []string {
	names := make([]string, 0, s.m.Len())
	for name := range s.All() {
		names = append(names, name)
	}
	return names
}

// Clone deep-copies every field.
func (s *Store) Clone() *Store {
	c := NewStore()
	for _, f := range s.All() {
		c.Put(f.Clone())
	}
	return c
}
