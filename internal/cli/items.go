package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Cameron64/HoneyDo-sub002/internal/aisle"
	"github.com/Cameron64/HoneyDo-sub002/internal/api"
	"github.com/Cameron64/HoneyDo-sub002/internal/model"
)

// mutate opens a session, runs fn against the cached list, and reports
// whether the change was sent or queued.
func mutate(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, e *env, l model.List) (any, error)) error {
	if err := requireList(opts); err != nil {
		return err
	}
	ctx := cmd.Context()
	e, err := openEnv(ctx, opts, false)
	if err != nil {
		return err
	}
	defer e.close(ctx)

	l, err := e.list(opts)
	if err != nil {
		return err
	}
	before := e.session.Status().Pending
	result, err := fn(ctx, e, l)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		if api.IsRetryable(err) {
			return WrapExitError(ExitFailure, "server unreachable, change rolled back", err)
		}
		return WrapExitError(ExitFailure, "change rejected", err)
	}

	status := e.session.Status()
	outcome := "saved"
	if status.Pending > before {
		outcome = "queued"
	}
	f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return f.Print(map[string]any{"outcome": outcome, "result": result, "status": status}, func(w io.Writer) {
		if it, ok := result.(model.Item); ok {
			writeItem(w, it)
		}
		fmt.Fprintf(w, "%s; ", outcome)
		writeStatus(w, status)
	})
}

// NewAddCommand creates the add command.
func NewAddCommand(opts *RootOptions) *cobra.Command {
	var qty float64
	var unit, category, note string

	cmd := &cobra.Command{
		Use:   "add NAME...",
		Short: "Add an item",
		Example: `  listsync add milk --qty 1 --unit gallon --category Dairy
  listsync add "paper towels" --note "the big pack"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := model.ItemInput{Name: strings.Join(args, " ")}
			if cmd.Flags().Changed("qty") {
				in.Quantity = &qty
			}
			if unit != "" {
				in.Unit = &unit
			}
			c := model.Category(category)
			if category == "" {
				c = aisle.Guess(in.Name)
			}
			in.Category = &c
			if note != "" {
				in.Note = &note
			}
			return mutate(cmd, opts, func(ctx context.Context, e *env, l model.List) (any, error) {
				return e.session.Mutations().Add(ctx, l.ID, in)
			})
		},
	}
	cmd.Flags().Float64Var(&qty, "qty", 0, "quantity")
	cmd.Flags().StringVar(&unit, "unit", "", "unit for the quantity")
	cmd.Flags().StringVar(&category, "category", "", "aisle category (guessed from the name when omitted)")
	cmd.Flags().StringVar(&note, "note", "", "free-form note")
	return cmd
}

// NewCheckCommand creates the check command, or uncheck when checked is false.
func NewCheckCommand(opts *RootOptions, checked bool) *cobra.Command {
	use, short := "check", "Check items off"
	if !checked {
		use, short = "uncheck", "Mark items as still needed"
	}
	return &cobra.Command{
		Use:   use + " ITEM...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, opts, func(ctx context.Context, e *env, l model.List) (any, error) {
				ids, err := resolveItems(l, args)
				if err != nil {
					return nil, err
				}
				if len(ids) == 1 {
					return ids, e.session.Mutations().Check(ctx, l.ID, ids[0], checked)
				}
				return ids, e.session.Mutations().CheckBulk(ctx, l.ID, ids, checked)
			})
		},
	}
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm ITEM",
		Aliases: []string{"remove"},
		Short:   "Delete an item",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, opts, func(ctx context.Context, e *env, l model.List) (any, error) {
				it, err := resolveItem(l, args[0])
				if err != nil {
					return nil, err
				}
				return it, e.session.Mutations().Delete(ctx, l.ID, it.ID)
			})
		},
	}
}

// NewReorderCommand creates the reorder command.
func NewReorderCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder ITEM...",
		Short: "Set the item order; unlisted items keep their order after these",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, opts, func(ctx context.Context, e *env, l model.List) (any, error) {
				ids, err := resolveItems(l, args)
				if err != nil {
					return nil, err
				}
				return ids, e.session.Mutations().Reorder(ctx, l.ID, ids)
			})
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every checked item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, opts, func(ctx context.Context, e *env, l model.List) (any, error) {
				return nil, e.session.Mutations().ClearChecked(ctx, l.ID)
			})
		},
	}
}
