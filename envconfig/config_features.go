// config_features.go - Feature-Flags und Laufzeit-Einstellungen
//
// Dieses Modul enthaelt:
// - Parallelitaets-Einstellungen (NumParallel, NumThreads)
// - Token-Kompression und Cache-Flag
// - Grenzen fuer Server-Eingaben
package envconfig

// =============================================================================
// Parallelitaet
// =============================================================================

var (
	// NumParallel ist die maximale Anzahl paralleler Forward-Passes im Server
	NumParallel = Uint("VQTOK_NUM_PARALLEL", 1)

	// NumThreads ist die Anzahl der CPU-Worker pro Operation (0 = alle Kerne)
	NumThreads = Uint("VQTOK_NUM_THREADS", 0)
)

// =============================================================================
// Feature-Flags
// =============================================================================

var (
	// NoCache deaktiviert die Token-Datenbank im Server
	NoCache = Bool("VQTOK_NOCACHE")

	// MaxImageSize begrenzt die laengere Bildseite im Server (Pixel)
	MaxImageSize = Uint("VQTOK_MAX_IMAGE_SIZE", 1024)
)

// Compression gibt die Kompression fuer Token-Dateien zurueck
// Konfigurierbar via VQTOK_COMPRESSION (none, zstd, lz4)
// Default: zstd
func Compression() string {
	if s := Var("VQTOK_COMPRESSION"); s != "" {
		return s
	}

	return "zstd"
}
