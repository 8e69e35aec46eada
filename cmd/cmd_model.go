// cmd_model.go - Checkpoint-Befehle
// Hauptfunktionen: InitHandler, ConvertHandler, modelOptions
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/ollama/vqtok/convert"
	"github.com/ollama/vqtok/envconfig"
	"github.com/ollama/vqtok/ml"
	"github.com/ollama/vqtok/ml/nn"
	"github.com/ollama/vqtok/model"
	"github.com/ollama/vqtok/model/models/maskgit"
)

// modelOptions - Liest die Hyperparameter-Flags. Bei all=false werden nur
// explizit gesetzte Flags uebernommen.
func modelOptions(cmd *cobra.Command, all bool) ([]maskgit.Option, error) {
	flags := cmd.Flags()
	set := func(name string) bool { return all || flags.Changed(name) }

	var opts []maskgit.Option
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if set("filters") {
		n, err := flags.GetInt("filters")
		check(err)
		opts = append(opts, maskgit.WithFilters(n))
	}

	if set("res-blocks") {
		n, err := flags.GetInt("res-blocks")
		check(err)
		opts = append(opts, maskgit.WithNumResBlocks(n))
	}

	if set("multipliers") {
		m, err := flags.GetIntSlice("multipliers")
		check(err)
		opts = append(opts, maskgit.WithChannelMultipliers(m...))
	}

	dim, err := flags.GetInt("embedding-dim")
	check(err)
	if set("embedding-dim") {
		opts = append(opts, maskgit.WithEmbeddingDim(dim))
	}

	if set("quantizer") {
		q, err := flags.GetString("quantizer")
		check(err)
		opts = append(opts, maskgit.WithQuantizer(q))
	}

	if flags.Changed("codebook-size") {
		n, err := flags.GetInt("codebook-size")
		check(err)
		opts = append(opts, maskgit.WithCodebookSize(n))
	}

	levels, err := flags.GetIntSlice("levels")
	check(err)
	switch {
	case len(levels) > 0:
		opts = append(opts, maskgit.WithLevels(levels...))
	case all || flags.Changed("embedding-dim"):
		opts = append(opts, maskgit.WithLevels(slices.Repeat([]int{2}, dim)...))
	}

	if set("norm") || set("groups") {
		s, err := flags.GetString("norm")
		check(err)
		groups, err := flags.GetInt("groups")
		check(err)

		kind, err := nn.ParseNormKind(s)
		check(err)
		if kind != nn.GroupNorm && !flags.Changed("groups") {
			groups = 0
		}
		opts = append(opts, maskgit.WithNorm(kind, groups))
	}

	if set("activation") {
		s, err := flags.GetString("activation")
		check(err)
		opts = append(opts, maskgit.WithActivation(s))
	}

	if set("upsample") {
		s, err := flags.GetString("upsample")
		check(err)
		mode, ok := ml.ParseSamplingMode(s)
		if !ok {
			check(fmt.Errorf("unknown upsampling mode %q", s))
		}
		opts = append(opts, maskgit.WithUpsample(mode))
	}

	if set("conv-downsample") {
		b, err := flags.GetBool("conv-downsample")
		check(err)
		opts = append(opts, maskgit.WithConvDownsample(b))
	}

	if set("conv-shortcut") {
		b, err := flags.GetBool("conv-shortcut")
		check(err)
		opts = append(opts, maskgit.WithConvShortcut(b))
	}

	return opts, errors.Join(errs...)
}

// InitHandler - Erstellt einen zufaellig initialisierten Checkpoint
func InitHandler(cmd *cobra.Command, args []string) error {
	opts, err := modelOptions(cmd, true)
	if err != nil {
		return err
	}

	seed, err := cmd.Flags().GetUint64("seed")
	if err != nil {
		return err
	}

	f16, err := cmd.Flags().GetBool("f16")
	if err != nil {
		return err
	}

	m, err := maskgit.NewInit(seed, backendParams(), opts...)
	if err != nil {
		return err
	}
	defer m.Backend().Close()

	if err := model.Save(args[0], m, model.SaveOptions{F16: f16}); err != nil {
		return err
	}

	o := m.Options()
	fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s, %d codes, downsampling %d)\n", args[0], o.Quantizer, m.Quantizer.CodebookSize(), o.Downsampling())
	return nil
}

// ConvertHandler - Konvertiert einen flax msgpack Checkpoint nach GGUF
func ConvertHandler(cmd *cobra.Command, args []string) error {
	opts, err := modelOptions(cmd, false)
	if err != nil {
		return err
	}

	f16, err := cmd.Flags().GetBool("f16")
	if err != nil {
		return err
	}

	in, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(args[1])
	if err != nil {
		return err
	}
	defer out.Close()

	if err := convert.Convert(in, out, convert.Options{Model: opts, F16: f16}); err != nil {
		out.Close()
		os.Remove(args[1])
		return err
	}

	slog.Debug("converted checkpoint", "src", args[0], "dst", args[1])
	fmt.Fprintf(cmd.OutOrStdout(), "converted %s to %s\n", args[0], args[1])
	return out.Close()
}

// backendParams - Backend-Parameter aus der Umgebung
func backendParams() ml.BackendParams {
	return ml.BackendParams{NumThreads: int(envconfig.NumThreads())}
}
