// routes_serve.go - Server-Start und Lifecycle-Management
// Enthaelt: Serve() - laedt Checkpoint und Token-Cache und startet den HTTP-Server

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ollama/vqtok/envconfig"
	"github.com/ollama/vqtok/logutil"
	"github.com/ollama/vqtok/ml"
	"github.com/ollama/vqtok/model/models/maskgit"
	"github.com/ollama/vqtok/store"
	"github.com/ollama/vqtok/version"
)

// Serve laedt den Checkpoint unter modelPath (leer: VQTOK_MODEL) und
// bedient ihn auf ln bis SIGINT/SIGTERM
func Serve(ln net.Listener, modelPath string) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	slog.Info("server config", "env", envconfig.Values())

	if modelPath == "" {
		modelPath = envconfig.Model()
	}

	digest, err := store.DigestFile(modelPath)
	if err != nil {
		return err
	}

	m, err := maskgit.Load(modelPath, ml.BackendParams{NumThreads: int(envconfig.NumThreads())})
	if err != nil {
		return fmt.Errorf("load %s: %w", modelPath, err)
	}
	defer m.Backend().Close()

	var st *store.Store
	if !envconfig.NoCache() {
		st, err = store.Open(envconfig.Store())
		if err != nil {
			return err
		}
		defer st.Close()
	}

	s := New(m, digest, st)
	s.addr = ln.Addr()

	srvr := &http.Server{Handler: s.GenerateRoutes()}

	ctx, done := context.WithCancel(context.Background())
	defer done()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			srvr.Close()
		case <-ctx.Done():
		}
	}()

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version), "model", modelPath, "digest", digest, "cache", st != nil)
	if err := srvr.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
