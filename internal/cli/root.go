// Package cli implements the listsync command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Cameron64/HoneyDo-sub002/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config    *config.Config
	Verbose   bool
	Format    string // "text" | "json" | "yaml"
	ListID    string
	Ephemeral bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command. cfg supplies flag defaults.
func NewRootCommand(cfg *config.Config) *cobra.Command {
	opts := &RootOptions{Config: cfg}

	cmd := &cobra.Command{
		Use:   "listsync",
		Short: "Shared shopping lists that keep working offline",
		Long: `listsync edits a shared list against the list service. Changes show
immediately, are rolled back if the server rejects them, and are queued on
disk while the server cannot be reached.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVarP(&opts.ListID, "list", "l", cfg.ListID, "list id")
	cmd.PersistentFlags().StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "list service base URL")
	cmd.PersistentFlags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the local SQLite database")
	cmd.PersistentFlags().BoolVar(&opts.Ephemeral, "ephemeral", false, "keep the offline queue in memory only")

	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewListsCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts, true))
	cmd.AddCommand(NewCheckCommand(opts, false))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewReorderCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewRelayCommand(opts))

	return cmd
}
