// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"VQTOK_DEBUG":          {"VQTOK_DEBUG", LogLevel(), "Show additional debug information (e.g. VQTOK_DEBUG=1)"},
		"VQTOK_HOST":           {"VQTOK_HOST", Host(), "IP Address for the vqtok server (default 127.0.0.1:11500)"},
		"VQTOK_ORIGINS":        {"VQTOK_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"VQTOK_MODEL":          {"VQTOK_MODEL", Model(), "Checkpoint served by the tokenizer server"},
		"VQTOK_STORE":          {"VQTOK_STORE", Store(), "Path to the token cache database"},
		"VQTOK_NOCACHE":        {"VQTOK_NOCACHE", NoCache(), "Do not cache tokenized images"},
		"VQTOK_NUM_PARALLEL":   {"VQTOK_NUM_PARALLEL", NumParallel(), "Maximum number of parallel requests"},
		"VQTOK_NUM_THREADS":    {"VQTOK_NUM_THREADS", NumThreads(), "Worker threads per tensor operation (default: all cores)"},
		"VQTOK_COMPRESSION":    {"VQTOK_COMPRESSION", Compression(), "Compression for token files: none, zstd or lz4 (default: zstd)"},
		"VQTOK_MAX_IMAGE_SIZE": {"VQTOK_MAX_IMAGE_SIZE", MaxImageSize(), "Maximum image side accepted by the server (default: 1024)"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
