// cmd_tokens.go - Tokenisierung auf der Kommandozeile
// Hauptfunktionen: EncodeHandler, DecodeHandler, ReconstructHandler
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ollama/vqtok/codes"
	"github.com/ollama/vqtok/envconfig"
	"github.com/ollama/vqtok/ml"
	"github.com/ollama/vqtok/model/models/maskgit"
	"github.com/ollama/vqtok/vision"
)

// loadModel - Laedt den Checkpoint aus --model oder VQTOK_MODEL
func loadModel(cmd *cobra.Command) (*maskgit.Model, error) {
	path, err := cmd.Flags().GetString("model")
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = envconfig.Model()
	}

	return maskgit.Load(path, backendParams())
}

// outputPath - Ersetzt die Dateiendung wenn kein Ziel angegeben ist
func outputPath(args []string, ext string) string {
	if len(args) > 1 {
		return args[1]
	}
	return strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ext
}

// encodeImage - Bild laden, zuschneiden und in Indizes uebersetzen
func encodeImage(ctx ml.Context, m *maskgit.Model, path string, maxSize int) (*codes.Tokens, error) {
	img, err := vision.Load(path)
	if err != nil {
		return nil, err
	}

	opts := m.Options()
	fitted, err := vision.Fit(img, maxSize, opts.Downsampling())
	if err != nil {
		return nil, err
	}
	if fitted != img {
		slog.Info("image resized", "from", fmt.Sprintf("%dx%d", img.Width(), img.Height()), "to", fmt.Sprintf("%dx%d", fitted.Width(), fitted.Height()))
	}

	x, err := vision.ToTensor(ctx, fitted)
	if err != nil {
		return nil, err
	}

	ids, err := m.EncodeToIndices(ctx, x)
	if err != nil {
		return nil, err
	}

	return codes.FromTensor(ids, m.Quantizer.CodebookSize())
}

// writePNG - Schreibt das erste Bild eines (B, H, W, 3) Tensors
func writePNG(path string, t ml.Tensor) error {
	imgs, err := vision.FromTensor(t)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := vision.EncodePNG(f, imgs[0]); err != nil {
		return err
	}
	return f.Close()
}

// EncodeHandler - Bild nach .vqt
func EncodeHandler(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	compression, err := flags.GetString("compression")
	if err != nil {
		return err
	}
	if compression == "" {
		compression = envconfig.Compression()
	}

	c, err := codes.ParseCompression(compression)
	if err != nil {
		return err
	}

	maxSize, err := flags.GetInt("max-size")
	if err != nil {
		return err
	}

	stats, err := flags.GetBool("stats")
	if err != nil {
		return err
	}

	top, err := flags.GetInt("top")
	if err != nil {
		return err
	}

	dump, err := flags.GetBool("dump")
	if err != nil {
		return err
	}

	m, err := loadModel(cmd)
	if err != nil {
		return err
	}
	defer m.Backend().Close()

	ctx := m.Backend().NewContext()
	defer ctx.Close()

	start := time.Now()
	t, err := encodeImage(ctx, m, args[0], maxSize)
	if err != nil {
		return err
	}
	slog.Debug("encoded image", "path", args[0], "shape", t.Shape, "duration", time.Since(start))

	out := outputPath(args, ".vqt")
	if err := codes.WriteFile(out, t, c); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "wrote %s %v (%s)\n", out, t.Shape, c)

	if dump {
		fmt.Fprintln(w, ml.Dump(ctx, t.Tensor(ctx), ml.DumpWithThreshold(1<<16)))
	}

	if stats {
		return showUsage(w, t, top)
	}
	return nil
}

// DecodeHandler - .vqt nach PNG
func DecodeHandler(cmd *cobra.Command, args []string) error {
	t, err := codes.ReadFile(args[0])
	if err != nil {
		return err
	}

	m, err := loadModel(cmd)
	if err != nil {
		return err
	}
	defer m.Backend().Close()

	if t.CodebookSize != m.Quantizer.CodebookSize() {
		return fmt.Errorf("%s was written for %d codes, model has %d", args[0], t.CodebookSize, m.Quantizer.CodebookSize())
	}

	ctx := m.Backend().NewContext()
	defer ctx.Close()

	image, err := m.DecodeFromIndices(ctx, t.Tensor(ctx))
	if err != nil {
		return err
	}

	out := outputPath(args, ".png")
	if err := writePNG(out, image); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s %v\n", out, image.Shape()[1:3])
	return nil
}

// ReconstructHandler - Bild durch Encoder und Decoder schicken
func ReconstructHandler(cmd *cobra.Command, args []string) error {
	maxSize, err := cmd.Flags().GetInt("max-size")
	if err != nil {
		return err
	}

	m, err := loadModel(cmd)
	if err != nil {
		return err
	}
	defer m.Backend().Close()

	ctx := m.Backend().NewContext()
	defer ctx.Close()

	t, err := encodeImage(ctx, m, args[0], maxSize)
	if err != nil {
		return err
	}

	image, err := m.DecodeFromIndices(ctx, t.Tensor(ctx))
	if err != nil {
		return err
	}

	out := outputPath(args, ".recon.png")
	if err := writePNG(out, image); err != nil {
		return err
	}

	_, usage := t.Usage()
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d tokens, %.1f%% of codebook)\n", out, len(t.Indices), usage*100)
	return nil
}

// showUsage - Codebook-Auslastung und haeufigste Codes
func showUsage(w io.Writer, t *codes.Tokens, top int) error {
	used, ratio := t.Usage()

	rows := [][]string{
		{"", "tokens", fmt.Sprint(len(t.Indices))},
		{"", "codebook", fmt.Sprint(t.CodebookSize)},
		{"", "used", fmt.Sprintf("%d (%.2f%%)", used.GetCardinality(), ratio*100)},
	}
	renderTable(w, "Usage", nil, rows)

	var hist [][]string
	for _, c := range codes.Histogram(t.Indices, top) {
		hist = append(hist, []string{"", fmt.Sprint(c.ID), fmt.Sprint(c.N), bar(c.N, len(t.Indices), 30)})
	}
	renderTable(w, "Top codes", []string{"", "code", "count", ""}, hist)
	return nil
}
