// backend.go - Backend-Interface und Registrierung fuer ML-Modelle
// Dieses Modul definiert das Backend-Interface und die Backend-Factory-Funktionen.
package ml

import (
	"fmt"
	"maps"
	"slices"

	"github.com/ollama/vqtok/fs"
)

// Backend represents a model execution backend (e.g., the pure Go CPU backend).
type Backend interface {
	// Close frees all memory associated with this backend
	Close()

	Config() fs.Config
	Get(name string) Tensor
	NewContext() Context
}

// BackendParams controls how the backend loads and executes models
type BackendParams struct {
	// Backend selects a registered backend by name. Empty selects "cpu".
	Backend string

	// NumThreads sets the number of threads to use if running on the CPU
	NumThreads int
}

var backends = make(map[string]func(string, BackendParams) (Backend, error))

// RegisterBackend registers a backend factory function.
func RegisterBackend(name string, f func(string, BackendParams) (Backend, error)) {
	if _, ok := backends[name]; ok {
		panic("backend: backend already registered")
	}

	backends[name] = f
}

// NewBackend creates a new backend instance for the given model path.
// An empty path yields a backend without stored tensors.
func NewBackend(modelPath string, params BackendParams) (Backend, error) {
	name := params.Backend
	if name == "" {
		name = "cpu"
	}

	if backend, ok := backends[name]; ok {
		return backend(modelPath, params)
	}

	return nil, fmt.Errorf("unsupported backend %q (available: %v)", name, slices.Sorted(maps.Keys(backends)))
}
