// Package cli implements the wamcp command line: the webhook server and the
// maintenance commands that share its configuration and storage.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tbourn/wamcp-ingest/internal/config"
	"github.com/tbourn/wamcp-ingest/internal/sysutil"
)

// Version is stamped at build time:
//
//	go build -ldflags "-X github.com/tbourn/wamcp-ingest/internal/cli.Version=v1.0.0"
var Version = "dev"

var (
	envFile  string
	logLevel string

	// loaded by the root PersistentPreRunE
	cfg config.Config
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wamcp",
		Short: "WhatsApp Cloud API webhook ingestion",
		Long:  "wamcp receives WhatsApp Cloud API webhooks, stores every delivery verbatim and normalizes it into conversations, participants and messages.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			path := sysutil.FirstNonEmpty(envFile, os.Getenv("WAMCP_ENV_FILE"), ".env")
			if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", path, err)
			}

			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if logLevel != "" {
				loaded.LogLevel = logLevel
			}
			sysutil.SetupLogger(cmd.ErrOrStderr(), loaded.LogPretty)
			sysutil.SetLogLevel(loaded.LogLevel)
			cfg = loaded
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env, or $WAMCP_ENV_FILE)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newReplayCmd())
	cmd.AddCommand(newStatsCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
