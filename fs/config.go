// config.go - Config-Interface fuer Modell-Metadaten
// Dieses Modul definiert den lesenden Zugriff auf Key-Value Hyperparameter.
package fs

import "iter"

// Config liefert typisierte Werte aus den Metadaten eines Checkpoints.
// Keys ohne "general."-Prefix werden relativ zur Architektur aufgeloest.
type Config interface {
	Architecture() string
	String(string, ...string) string
	Uint(string, ...uint32) uint32
	Float(string, ...float32) float32
	Bool(string, ...bool) bool

	Strings(string, ...[]string) []string
	Ints(string, ...[]int32) []int32
	Floats(string, ...[]float32) []float32

	Len() int
	Keys() iter.Seq[string]
	Value(key string) any
}
