// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ollama/vqtok/envconfig"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:           "vqtok",
		Short:         "Image tokenizer (VQ/FSQ autoencoder)",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	initCmd := newInitCmd()
	convertCmd := newConvertCmd()
	showCmd := newShowCmd()
	encodeCmd := newEncodeCmd()
	decodeCmd := newDecodeCmd()
	reconstructCmd := newReconstructCmd()
	serveCmd := newServeCmd()
	cacheCmd := newCacheCmd()

	envVars := envconfig.AsMap()
	threads := envVars["VQTOK_NUM_THREADS"]

	for _, cmd := range []*cobra.Command{
		encodeCmd,
		decodeCmd,
		reconstructCmd,
		serveCmd,
		cacheCmd,
	} {
		switch cmd {
		case encodeCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{threads, envVars["VQTOK_MODEL"], envVars["VQTOK_COMPRESSION"]})
		case serveCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["VQTOK_DEBUG"],
				envVars["VQTOK_HOST"],
				envVars["VQTOK_MODEL"],
				envVars["VQTOK_ORIGINS"],
				envVars["VQTOK_STORE"],
				envVars["VQTOK_NOCACHE"],
				envVars["VQTOK_NUM_PARALLEL"],
				envVars["VQTOK_NUM_THREADS"],
				envVars["VQTOK_MAX_IMAGE_SIZE"],
			})
		case cacheCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["VQTOK_STORE"]})
		default:
			appendEnvDocs(cmd, []envconfig.EnvVar{threads, envVars["VQTOK_MODEL"]})
		}
	}

	rootCmd.AddCommand(
		serveCmd,
		initCmd,
		convertCmd,
		showCmd,
		encodeCmd,
		decodeCmd,
		reconstructCmd,
		cacheCmd,
	)

	return rootCmd
}
