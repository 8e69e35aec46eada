// cmd_display.go - Tabellen und Balken fuer die Terminal-Ausgabe
// Hauptfunktionen: renderTable, bar
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"
)

// renderTable - Schlichte Tabelle ohne Rahmen im Stil von show
func renderTable(w io.Writer, title string, header []string, rows [][]string) {
	if title != "" {
		fmt.Fprintln(w, " ", title)
	}

	table := tablewriter.NewWriter(w)
	if len(header) > 0 {
		table.SetHeader(header)
		table.SetAutoFormatHeaders(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetHeaderLine(false)
	}
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows)
	table.Render()
	fmt.Fprintln(w)
}

// bar - Balken fuer n von total, hoechstens width Zeichen breit.
// Ohne Terminal wird ASCII benutzt.
func bar(n, total, width int) string {
	if total <= 0 || n <= 0 {
		return ""
	}

	if tw, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && tw > 0 {
		width = min(width, max(tw/3, 1))
	}

	cells := max(n*width/total, 1)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return strings.Repeat("█", cells)
	}
	return strings.Repeat("#", cells)
}
