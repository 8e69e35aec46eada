// cmd_cache.go - Verwaltung des Token-Caches
// Hauptfunktionen: CacheListHandler, CacheRemoveHandler
package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ollama/vqtok/envconfig"
	"github.com/ollama/vqtok/store"
)

// shortDigest - Kuerzt einen sha256-Digest fuer die Tabellenansicht
func shortDigest(d string) string {
	d = strings.TrimPrefix(d, "sha256:")
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// CacheListHandler - Listet gespeicherte Tokenisierungen
func CacheListHandler(cmd *cobra.Command, args []string) error {
	st, err := store.Open(envconfig.Store())
	if err != nil {
		return err
	}
	defer st.Close()

	var modelDigest string
	if len(args) > 0 {
		modelDigest = args[0]
	}

	entries, err := st.List(cmd.Context(), modelDigest)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		dims := make([]string, len(e.Shape))
		for i, d := range e.Shape {
			dims[i] = strconv.Itoa(d)
		}

		rows = append(rows, []string{
			e.ID,
			shortDigest(e.ModelDigest),
			shortDigest(e.ImageDigest),
			strings.Join(dims, "x"),
			strconv.Itoa(e.Hits),
			e.CreatedAt.Local().Format(time.DateTime),
		})
	}

	renderTable(cmd.OutOrStdout(), "", []string{"ID", "MODEL", "IMAGE", "SHAPE", "HITS", "CREATED"}, rows)
	return nil
}

// CacheRemoveHandler - Entfernt Eintraege oder alle Eintraege eines Modells
func CacheRemoveHandler(cmd *cobra.Command, args []string) error {
	byModel, err := cmd.Flags().GetBool("model")
	if err != nil {
		return err
	}

	st, err := store.Open(envconfig.Store())
	if err != nil {
		return err
	}
	defer st.Close()

	for _, arg := range args {
		if byModel {
			err = st.DeleteModel(cmd.Context(), arg)
		} else {
			err = st.Delete(cmd.Context(), arg)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", arg, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "deleted '%s'\n", arg)
	}

	return nil
}
