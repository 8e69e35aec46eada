// Package model - Model-Interface, Registrierung und Initialisierung
//
// Dieses Paket definiert das Model-Interface und stellt Funktionen
// zum Laden, Erzeugen und Speichern von Tokenizer-Modellen bereit.
//
// Hauptkomponenten:
// - Model: Interface fuer alle Modell-Architekturen
// - Base: Basis-Implementierung fuer gemeinsame Funktionalitaet
// - New: Laedt ein Modell aus einem GGUF-Checkpoint
// - NewInit: Erzeugt ein Modell mit frisch initialisierten Parametern
// - Register: Registriert Modell-Konstruktoren

package model

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"reflect"
	"slices"

	"github.com/ollama/vqtok/fs"
	"github.com/ollama/vqtok/ml"
	_ "github.com/ollama/vqtok/ml/backend/cpu"
)

// Fehler-Definitionen
var (
	ErrUnsupportedModel = errors.New("model not supported")
	ErrNoInit           = errors.New("model does not support initialization")
)

// Model definiert das Interface fuer spezifische Modell-Architekturen
type Model interface {
	Backend() ml.Backend
	Config() fs.Config
}

// Validator ist ein optionales Interface fuer Post-Load-Validierung
type Validator interface {
	Validate() error
}

// Initializer wird von Modellen implementiert, die ohne Checkpoint
// erzeugt werden koennen
type Initializer interface {
	Init(ctx ml.Context, rng *rand.Rand) error
}

// Base implementiert gemeinsame Felder und Methoden fuer alle Modelle
type Base struct {
	b      ml.Backend
	config fs.Config
}

// Backend gibt das Backend zurueck, das das Modell ausfuehrt
func (m *Base) Backend() ml.Backend {
	return m.b
}

// Config gibt die Metadaten zurueck, aus denen das Modell gebaut wurde
func (m *Base) Config() fs.Config {
	return m.config
}

// models speichert registrierte Modell-Konstruktoren
var models = make(map[string]func(fs.Config) (Model, error))

// Register registriert einen Modell-Konstruktor fuer eine Architektur
func Register(name string, f func(fs.Config) (Model, error)) {
	if _, ok := models[name]; ok {
		panic("model: model already registered")
	}

	models[name] = f
}

// Architectures listet alle registrierten Architekturen
func Architectures() []string {
	return slices.Sorted(maps.Keys(models))
}

// New laedt eine Model-Instanz aus einem GGUF-Checkpoint
func New(modelPath string, params ml.BackendParams) (Model, error) {
	b, err := ml.NewBackend(modelPath, params)
	if err != nil {
		return nil, err
	}

	m, err := modelForArch(b.Config())
	if err != nil {
		b.Close()
		return nil, err
	}

	base := Base{b: b, config: b.Config()}
	v := reflect.ValueOf(m)
	v.Elem().Set(populateFields(base, v.Elem()))

	if validator, ok := m.(Validator); ok {
		if err := validator.Validate(); err != nil {
			b.Close()
			return nil, fmt.Errorf("%s: %w", modelPath, err)
		}
	}

	slog.Debug("model loaded", "path", modelPath, "architecture", b.Config().Architecture())
	return m, nil
}

// NewInit erzeugt ein Modell der Architektur aus c mit zufaelligen,
// durch seed reproduzierbaren Parametern
func NewInit(c fs.Config, seed uint64, params ml.BackendParams) (Model, error) {
	b, err := ml.NewBackend("", params)
	if err != nil {
		return nil, err
	}

	m, err := modelForArch(c)
	if err != nil {
		return nil, err
	}

	init, ok := m.(Initializer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoInit, c.Architecture())
	}

	base := Base{b: b, config: c}
	v := reflect.ValueOf(m)
	v.Elem().Set(populateFields(base, v.Elem()))

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	if err := init.Init(b.NewContext(), rng); err != nil {
		return nil, err
	}

	if validator, ok := m.(Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// modelForArch erstellt ein Model basierend auf der Architektur
func modelForArch(c fs.Config) (Model, error) {
	arch := c.Architecture()

	f, ok := models[arch]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, arch)
	}

	return f(c)
}
