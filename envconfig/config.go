// config.go - Haupt-Konfigurationsfunktionen fuer vqtok
//
// Dieses Modul enthaelt:
// - Host: Gibt Scheme und Host zurueck (VQTOK_HOST)
// - AllowedOrigins: Gibt erlaubte Origins zurueck (VQTOK_ORIGINS)
// - Model: Gibt den Standard-Checkpoint zurueck (VQTOK_MODEL)
// - Store: Gibt den Pfad der Token-Datenbank zurueck (VQTOK_STORE)
// - LogLevel: Gibt Log-Level zurueck (VQTOK_DEBUG)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Parallelitaet, Kompression und Feature-Flags
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Host gibt Scheme und Host zurueck
// Konfigurierbar via VQTOK_HOST
// Default: http://127.0.0.1:11500
func Host() *url.URL {
	defaultPort := "11500"

	s := strings.TrimSpace(Var("VQTOK_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins gibt erlaubte Origins zurueck
// Konfigurierbar via VQTOK_ORIGINS (komma-separiert)
// Enthaelt Standard-Origins fuer localhost
func AllowedOrigins() (origins []string) {
	if s := Var("VQTOK_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	return origins
}

// home gibt das vqtok-Verzeichnis im Home-Verzeichnis zurueck
func home() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}

	return filepath.Join(dir, ".vqtok")
}

// Model gibt den Checkpoint zurueck, den der Server laedt
// Konfigurierbar via VQTOK_MODEL
// Default: $HOME/.vqtok/model.gguf
func Model() string {
	if s := Var("VQTOK_MODEL"); s != "" {
		return s
	}

	return filepath.Join(home(), "model.gguf")
}

// Store gibt den Pfad der Token-Datenbank zurueck
// Konfigurierbar via VQTOK_STORE
// Default: $HOME/.vqtok/tokens.db
func Store() string {
	if s := Var("VQTOK_STORE"); s != "" {
		return s
	}

	return filepath.Join(home(), "tokens.db")
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via VQTOK_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("VQTOK_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
