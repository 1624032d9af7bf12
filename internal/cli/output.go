package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/Cameron64/HoneyDo-sub002/internal/model"
	"github.com/Cameron64/HoneyDo-sub002/internal/offline"
	"github.com/Cameron64/HoneyDo-sub002/internal/session"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the server rejected the change
	ExitCommandError = 2 // bad arguments, unreadable database, unknown list
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error, ExitFailure by default.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Formatter writes command results as text, JSON or YAML.
type Formatter struct {
	Format string
	Writer io.Writer
}

// Print writes v in the structured formats, or calls text for plain output.
func (f *Formatter) Print(v any, text func(w io.Writer)) error {
	switch f.Format {
	case "json":
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// Go through JSON so keys keep their wire names.
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		out, err := yaml.Marshal(generic)
		if err != nil {
			return err
		}
		_, err = f.Writer.Write(out)
		return err
	default:
		text(f.Writer)
		return nil
	}
}

// ListView is the structured form of show.
type ListView struct {
	List   model.List     `json:"list"`
	Status session.Status `json:"status"`
}

func writeList(w io.Writer, l model.List) {
	checked := 0
	for _, it := range l.Items {
		if it.Checked {
			checked++
		}
	}
	fmt.Fprintf(w, "%s (%d items, %d checked)\n", l.Name, len(l.Items), checked)
	for _, it := range l.Items {
		writeItem(w, it)
	}
}

func writeItem(w io.Writer, it model.Item) {
	box := "[ ]"
	if it.Checked {
		box = "[x]"
	}
	line := fmt.Sprintf("  %s %s", box, it.Name)
	if it.Quantity != nil {
		line += " " + strconv.FormatFloat(*it.Quantity, 'f', -1, 64)
		if it.Unit != nil {
			line += " " + *it.Unit
		}
	}
	if it.Category != nil {
		line += " #" + string(*it.Category)
	}
	if it.Note != nil && *it.Note != "" {
		line += fmt.Sprintf(" (%s)", *it.Note)
	}
	fmt.Fprintf(w, "%s  [%s]\n", line, it.ID)
}

func writeStatus(w io.Writer, st session.Status) {
	state := "online"
	if !st.Online {
		state = "offline"
	}
	storage := "on disk"
	if !st.Persistent {
		storage = "in memory"
	}
	fmt.Fprintf(w, "%s, %d pending (%s)\n", state, st.Pending, storage)
}

func writeActions(w io.Writer, actions []offline.QueuedAction) {
	if len(actions) == 0 {
		fmt.Fprintln(w, "No queued actions.")
		return
	}
	for _, a := range actions {
		fmt.Fprintf(w, "%s  %-7s  %s  %s\n", a.Timestamp.Format("2006-01-02 15:04:05"), a.Type, a.ID, a.Payload)
	}
}
