package cmd

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Execute is the entry point to running the CLI.
func Execute(ctx context.Context, version string) {
	input := new(Input)
	rootCmd := &cobra.Command{
		Use:          "cachew",
		Short:        "Save and restore build artifact directories to a workflow cache service",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return input.startUp()
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&input.verbose, "verbose", "v", false, "verbose output")
	flags.BoolVar(&input.jsonLogs, "json", false, "log in JSON format")
	flags.StringVarP(&input.workdir, "directory", "C", "", "working directory (defaults to GITHUB_WORKSPACE)")
	flags.StringVar(&input.configPath, "config", "", "path to a config file (defaults to .cachew.yml in the working directory)")
	flags.StringVar(&input.envFile, "env-file", "", "environment file to load before reading inputs")

	rootCmd.AddCommand(newRestoreCommand(ctx, input))
	rootCmd.AddCommand(newSaveCommand(ctx, input))
	rootCmd.AddCommand(newDeleteCommand(ctx, input))
	rootCmd.AddCommand(newListCommand(ctx, input))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func (i *Input) startUp() error {
	if i.envFile != "" {
		if err := godotenv.Load(i.resolve(i.envFile)); err != nil {
			return err
		}
	}
	if i.verbose || os.Getenv("RUNNER_DEBUG") == "1" {
		log.SetLevel(log.DebugLevel)
	}
	if i.jsonLogs {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{
			DisableColors: !isatty.IsTerminal(os.Stderr.Fd()),
		})
	}
	return nil
}

func addEntryFlags(cmd *cobra.Command, input *Input) {
	cmd.Flags().StringArrayVarP(&input.paths, "path", "p", nil, "path pattern to cache (repeatable)")
	cmd.Flags().StringVarP(&input.key, "key", "k", "", "primary cache key")
	cmd.Flags().Int64Var(&input.chunkSize, "chunk-size", 0, "upload chunk size in bytes")
	cmd.Flags().BoolVar(&input.crossOS, "cross-os", false, "allow saving and restoring across differing OS images")
}
