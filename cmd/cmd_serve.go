// cmd_serve.go - Server-Start und Versionsanzeige
// Hauptfunktionen: RunServer, versionHandler, newServeCmd
package cmd

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ollama/vqtok/api"
	"github.com/ollama/vqtok/envconfig"
	"github.com/ollama/vqtok/server"
	"github.com/ollama/vqtok/version"
)

// RunServer - Startet den Tokenizer-Server
func RunServer(_ *cobra.Command, args []string) error {
	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	var modelPath string
	if len(args) > 0 {
		modelPath = args[0]
	}

	err = server.Serve(ln, modelPath)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// versionHandler - Zeigt Client- und Server-Version
func versionHandler(cmd *cobra.Command, _ []string) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return
	}

	serverVersion, err := client.Version(cmd.Context())
	if err != nil {
		fmt.Println("Warning: could not connect to a running vqtok server")
	}

	if serverVersion != "" {
		fmt.Printf("vqtok server version is %s\n", serverVersion)
	}

	if serverVersion != version.Version {
		fmt.Printf("Warning: client version is %s\n", version.Version)
	}
}

// newServeCmd - Erstellt den serve Command
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve [CHECKPOINT]",
		Aliases: []string{"start"},
		Short:   "Start the tokenizer server",
		Args:    cobra.MaximumNArgs(1),
		RunE:    RunServer,
	}
}
