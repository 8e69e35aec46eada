// cmd_show.go - Show Command und Checkpoint-Info Anzeige
// Hauptfunktionen: ShowHandler, showInfo
package cmd

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ollama/vqtok/fs/gguf"
)

// ShowHandler - Zeigt Metadaten und Tensoren eines Checkpoints an
func ShowHandler(cmd *cobra.Command, args []string) error {
	tensors, err := cmd.Flags().GetBool("tensors")
	if err != nil {
		return err
	}

	f, err := gguf.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	return showInfo(f, tensors, cmd.OutOrStdout())
}

// showInfo - Gibt Checkpoint-Informationen als Tabellen aus
func showInfo(f *gguf.File, verbose bool, w io.Writer) error {
	tableRender := func(header string, rows func() [][]string) {
		fmt.Fprintln(w, " ", header)
		table := tablewriter.NewWriter(w)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		table.SetNoWhiteSpace(true)
		table.SetTablePadding("    ")
		table.SetAutoWrapText(false)

		table.AppendBulk(rows())
		table.Render()
		fmt.Fprintln(w)
	}

	var params int64
	for _, t := range f.Tensors {
		params += t.NumValues()
	}

	tableRender("Model", func() (rows [][]string) {
		arch := f.KV.Architecture()
		rows = append(rows, []string{"", "architecture", arch})
		rows = append(rows, []string{"", "parameters", strconv.FormatInt(params, 10)})
		rows = append(rows, []string{"", "tensors", strconv.Itoa(len(f.Tensors))})
		rows = append(rows, []string{"", "quantizer", f.KV.String(arch + ".quantizer")})
		return rows
	})

	tableRender("Parameters", func() (rows [][]string) {
		arch := f.KV.Architecture()
		for _, k := range slices.Sorted(maps.Keys(f.KV)) {
			name, ok := strings.CutPrefix(k, arch+".")
			if !ok {
				continue
			}
			rows = append(rows, []string{"", name, formatValue(f.KV[k])})
		}
		return rows
	})

	if verbose {
		tableRender("Tensors", func() (rows [][]string) {
			for _, t := range f.Tensors {
				rows = append(rows, []string{"", t.Name, t.Type.String(), formatShape(t.Dims())})
			}
			return rows
		})
	}

	return nil
}

// formatValue - Kompakte Darstellung eines KV-Werts
func formatValue(v any) string {
	switch v := v.(type) {
	case []int32:
		s := make([]string, len(v))
		for i, n := range v {
			s[i] = strconv.Itoa(int(n))
		}
		return "[" + strings.Join(s, " ") + "]"
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

func formatShape(dims []int) string {
	s := make([]string, len(dims))
	for i, d := range dims {
		s[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(s, ", ") + ")"
}
