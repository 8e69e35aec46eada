// registry.go - Registry fuer Quantisierer-Varianten
// Enthaelt: Registry, RegistryError, Register(), New(), Names()
package quantizer

import (
	"errors"
	"maps"
	"slices"
	"sync"
)

// ErrNotRegistered wird zurueckgegeben wenn eine Variante unbekannt ist
var ErrNotRegistered = errors.New("quantizer: not registered")

// Factory erzeugt einen Quantisierer aus Options
type Factory func(Options) (Quantizer, error)

// RegistryError repraesentiert einen Registry-spezifischen Fehler.
type RegistryError struct {
	Op   string // Operation (z.B. "create")
	Name string // Name der Variante
	Err  error  // Urspruenglicher Fehler
}

// Error implementiert das error Interface.
func (e *RegistryError) Error() string {
	return "quantizer: " + e.Op + " '" + e.Name + "': " + e.Err.Error()
}

// Unwrap gibt den urspruenglichen Fehler zurueck.
func (e *RegistryError) Unwrap() error {
	return e.Err
}

// ============================================================================
// Registry
// ============================================================================

// Registry verwaltet Quantisierer-Factories. Thread-sicher durch RWMutex.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry erstellt eine neue leere Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register registriert eine Factory. Existierende Eintraege werden ersetzt.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[name] = f
}

// Get gibt die Factory fuer name zurueck
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[name]
	return f, ok
}

// Names gibt die registrierten Namen sortiert zurueck
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.factories))
}

// Create erstellt einen Quantisierer mit der registrierten Factory
func (r *Registry) Create(name string, opts Options) (Quantizer, error) {
	f, ok := r.Get(name)
	if !ok {
		return nil, &RegistryError{Op: "create", Name: name, Err: ErrNotRegistered}
	}

	q, err := f(opts)
	if err != nil {
		return nil, &RegistryError{Op: "create", Name: name, Err: err}
	}
	return q, nil
}

// ============================================================================
// Globale Registry
// ============================================================================

// DefaultRegistry enthaelt die eingebauten Varianten vq und fsq
var DefaultRegistry = NewRegistry()

func init() {
	Register("vq", func(o Options) (Quantizer, error) { return NewVectorQuantizer(o) })
	Register("fsq", func(o Options) (Quantizer, error) { return NewFiniteScalarQuantizer(o) })
}

// Register registriert eine Factory in der DefaultRegistry
func Register(name string, f Factory) {
	DefaultRegistry.Register(name, f)
}

// New erstellt einen Quantisierer aus der DefaultRegistry
func New(name string, opts Options) (Quantizer, error) {
	return DefaultRegistry.Create(name, opts)
}

// Names listet die Varianten der DefaultRegistry
func Names() []string {
	return DefaultRegistry.Names()
}
