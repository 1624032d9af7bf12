package cli

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Cameron64/HoneyDo-sub002/internal/model"
)

// NewShowCommand creates the show command.
func NewShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the selected list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireList(opts); err != nil {
				return err
			}
			e, err := openEnv(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer e.close(cmd.Context())

			l, err := e.list(opts)
			if err != nil {
				return err
			}
			view := ListView{List: l, Status: e.session.Status()}
			f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return f.Print(view, func(w io.Writer) {
				writeList(w, view.List)
				writeStatus(w, view.Status)
			})
		},
	}
}

// NewListsCommand creates the lists command.
func NewListsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lists",
		Short: "Print the lists this account can see",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer e.close(cmd.Context())

			lists := e.session.Lists()
			if lists == nil {
				lists = []model.ListMeta{}
			}
			f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return f.Print(lists, func(w io.Writer) {
				for _, m := range lists {
					fmt.Fprintf(w, "%s  %s\n", m.ID, m.Name)
				}
			})
		},
	}
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the selected list live until interrupted",
		Long: `Connect to the event stream and print the list every time it changes.
Queued offline changes are replayed whenever the stream reconnects.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireList(opts); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := openEnv(ctx, opts, true)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			changes := make(chan struct{}, 1)
			e.session.OnChange(func() {
				select {
				case changes <- struct{}{}:
				default:
				}
			})

			f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			render := func() error {
				l, ok := e.session.List()
				if !ok {
					return nil
				}
				view := ListView{List: l, Status: e.session.Status()}
				return f.Print(view, func(w io.Writer) {
					fmt.Fprintln(w)
					writeList(w, view.List)
					writeStatus(w, view.Status)
				})
			}

			if err := render(); err != nil {
				return err
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-changes:
					if err := render(); err != nil {
						return err
					}
				}
			}
		},
	}
}
