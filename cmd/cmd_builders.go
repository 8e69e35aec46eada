// cmd_builders.go - Command-Builder Funktionen
// Hauptfunktionen: newInitCmd, newConvertCmd, newEncodeCmd, etc.
package cmd

import (
	"github.com/spf13/cobra"
)

// addModelFlags - Registriert die Hyperparameter-Flags fuer init und convert
func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().Int("filters", 128, "Base number of convolution filters")
	cmd.Flags().Int("res-blocks", 2, "Residual blocks per resolution")
	cmd.Flags().IntSlice("multipliers", []int{1, 1, 2, 2, 4}, "Channel multipliers per resolution")
	cmd.Flags().Int("embedding-dim", 10, "Dimension of the quantized features")
	cmd.Flags().String("quantizer", "fsq", "Quantizer: vq or fsq")
	cmd.Flags().Int("codebook-size", 0, "Codebook size (vq default 1024, fsq uses the product of the levels)")
	cmd.Flags().IntSlice("levels", nil, "Levels per dimension for fsq (default 2 per dimension)")
	cmd.Flags().String("norm", "GN", "Normalization: GN, LN or BN")
	cmd.Flags().Int("groups", 32, "Groups for GN")
	cmd.Flags().String("activation", "swish", "Activation: swish, relu, gelu, sigmoid or tanh")
	cmd.Flags().String("upsample", "nearest", "Decoder upsampling: nearest or bilinear")
	cmd.Flags().Bool("conv-downsample", false, "Downsample with strided convolutions")
	cmd.Flags().Bool("conv-shortcut", false, "Use 3x3 convolutions for residual shortcuts")
}

// newInitCmd - Erstellt den init Command
func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init CHECKPOINT",
		Short: "Create a randomly initialized tokenizer",
		Args:  cobra.ExactArgs(1),
		RunE:  InitHandler,
	}

	addModelFlags(cmd)
	cmd.Flags().Uint64("seed", 0, "Seed for parameter initialization")
	cmd.Flags().Bool("f16", false, "Store convolution kernels as f16")
	return cmd
}

// newConvertCmd - Erstellt den convert Command
func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert MSGPACK CHECKPOINT",
		Short: "Convert a flax msgpack checkpoint to gguf",
		Long: `Convert a flax msgpack checkpoint to gguf.

Most hyperparameters are inferred from the checkpoint. Flags that cannot be
inferred (e.g. --levels, --res-blocks, --norm for BN) must match the
checkpoint.`,
		Args: cobra.ExactArgs(2),
		RunE: ConvertHandler,
	}

	addModelFlags(cmd)
	cmd.Flags().Bool("f16", false, "Store convolution kernels as f16")
	return cmd
}

// newShowCmd - Erstellt den show Command
func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show CHECKPOINT",
		Short: "Show checkpoint metadata and tensors",
		Args:  cobra.ExactArgs(1),
		RunE:  ShowHandler,
	}

	cmd.Flags().Bool("tensors", false, "List all tensors")
	return cmd
}

// newEncodeCmd - Erstellt den encode Command
func newEncodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode IMAGE [TOKENS]",
		Short: "Tokenize an image into a .vqt file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  EncodeHandler,
	}

	cmd.Flags().StringP("model", "m", "", "Checkpoint (default $VQTOK_MODEL)")
	cmd.Flags().String("compression", "", "Token file compression: none, zstd or lz4 (default $VQTOK_COMPRESSION)")
	cmd.Flags().Int("max-size", 0, "Downscale images whose longer side exceeds this size")
	cmd.Flags().Bool("stats", false, "Print codebook usage statistics")
	cmd.Flags().Int("top", 10, "Number of most frequent codes printed with --stats")
	cmd.Flags().Bool("dump", false, "Print the index grid")
	return cmd
}

// newDecodeCmd - Erstellt den decode Command
func newDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode TOKENS [IMAGE]",
		Short: "Reconstruct a PNG image from a .vqt file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  DecodeHandler,
	}

	cmd.Flags().StringP("model", "m", "", "Checkpoint (default $VQTOK_MODEL)")
	return cmd
}

// newReconstructCmd - Erstellt den reconstruct Command
func newReconstructCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconstruct IMAGE [OUTPUT]",
		Short: "Encode and decode an image",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  ReconstructHandler,
	}

	cmd.Flags().StringP("model", "m", "", "Checkpoint (default $VQTOK_MODEL)")
	cmd.Flags().Int("max-size", 0, "Downscale images whose longer side exceeds this size")
	return cmd
}

// newCacheCmd - Erstellt den cache Command mit Unterbefehlen
func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the token cache of the server",
	}

	listCmd := &cobra.Command{
		Use:     "list [MODEL_DIGEST]",
		Aliases: []string{"ls"},
		Short:   "List cached tokenizations",
		Args:    cobra.MaximumNArgs(1),
		RunE:    CacheListHandler,
	}

	rmCmd := &cobra.Command{
		Use:     "rm ID...",
		Aliases: []string{"delete"},
		Short:   "Remove cached tokenizations",
		Args:    cobra.MinimumNArgs(1),
		RunE:    CacheRemoveHandler,
	}
	rmCmd.Flags().Bool("model", false, "Arguments are model digests; remove all of their entries")

	cmd.AddCommand(listCmd, rmCmd)
	return cmd
}
