package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Cameron64/HoneyDo-sub002/internal/api"
	"github.com/Cameron64/HoneyDo-sub002/internal/offline"
)

// NewQueueCommand creates the queue command and its clear subcommand.
func NewQueueCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Print changes waiting to be sent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer e.close(cmd.Context())

			actions := e.session.QueuedActions()
			if actions == nil {
				actions = []offline.QueuedAction{}
			}
			f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return f.Print(actions, func(w io.Writer) { writeActions(w, actions) })
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Discard every queued change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer e.close(cmd.Context())

			n := len(e.session.QueuedActions())
			e.session.ClearQueue(cmd.Context())
			f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return f.Print(map[string]int{"discarded": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Discarded %d queued change(s).\n", n)
			})
		},
	})
	return cmd
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Send queued changes now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer e.close(cmd.Context())

			if !e.session.Status().Online {
				return NewExitError(ExitFailure, "server unreachable, nothing sent")
			}
			res, err := e.session.Sync(cmd.Context())
			f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			if perr := f.Print(res, func(w io.Writer) {
				fmt.Fprintf(w, "Replayed %d, dropped %d, %d still queued.\n", res.Replayed, res.Dropped, res.Remaining)
			}); perr != nil {
				return perr
			}
			if err != nil {
				if api.IsRetryable(err) {
					return WrapExitError(ExitFailure, "server went away during sync", err)
				}
				return WrapExitError(ExitFailure, "sync", err)
			}
			return nil
		},
	}
}
