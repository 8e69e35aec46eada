// Package orderedmap stellt eine generische Map mit Einfuege-Reihenfolge bereit.
// Sie kapselt github.com/wk8/go-ordered-map/v2.
package orderedmap

import (
	"iter"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Map ist eine generische Map, die die Einfuege-Reihenfolge beibehaelt.
type Map[K comparable, V any] struct {
	om *orderedmap.OrderedMap[K, V]
}

// New erstellt eine leere Map
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		om: orderedmap.New[K, V](),
	}
}

// Get liest einen Wert
func (m *Map[K, V]) Get(key K) (V, bool) {
	if m == nil || m.om == nil {
		var zero V
		return zero, false
	}
	return m.om.Get(key)
}

// Set setzt einen Wert. Existierende Keys behalten ihre Position,
// neue Keys werden angehaengt.
func (m *Map[K, V]) Set(key K, value V) {
	if m.om == nil {
		m.om = orderedmap.New[K, V]()
	}
	m.om.Set(key, value)
}

// Delete entfernt einen Key
func (m *Map[K, V]) Delete(key K) {
	if m == nil || m.om == nil {
		return
	}
	m.om.Delete(key)
}

// Len gibt die Anzahl der Eintraege zurueck
func (m *Map[K, V]) Len() int {
	if m == nil || m.om == nil {
		return 0
	}
	return m.om.Len()
}

// All iteriert in Einfuege-Reihenfolge ueber alle Paare
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		if m == nil || m.om == nil {
			return
		}
		for pair := m.om.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}

// Keys gibt die Keys in Einfuege-Reihenfolge zurueck
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, m.Len())
	for k := range m.All() {
		keys = append(keys, k)
	}
	return keys
}
