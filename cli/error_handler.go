package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/grovetools/statesync/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

// NewErrorHandler creates a new error handler writing to stderr.
func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
		Out:     os.Stderr,
	}
}

// Handle prints a message tailored to the error's code and returns err.
func (h *ErrorHandler) Handle(err error) error {
	if err == nil {
		return nil
	}
	out := h.Out

	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(out, "❌ Configuration not found. Create statesync.yml or pass --config.\n")

	case errors.ErrCodeConfigInvalid, errors.ErrCodeConfigValidation:
		fmt.Fprintf(out, "❌ Invalid configuration: %v\n", err)
		if path, ok := errors.Detail(err, "path"); ok {
			fmt.Fprintf(out, "Check %s, or run 'statesync schema' for the expected format.\n", path)
		}

	case errors.ErrCodeDaemonAbsent:
		fmt.Fprintf(out, "❌ %v\n", err)
		fmt.Fprintf(out, "Start the daemon with 'statesync serve'.\n")

	case errors.ErrCodeSessionGone:
		session, _ := errors.Detail(err, "session")
		fmt.Fprintf(out, "❌ Session '%v' not found\n", session)
		fmt.Fprintf(out, "Run 'statesync sessions' to see live sessions.\n")

	case errors.ErrCodeTemplateSyntax:
		fmt.Fprintf(out, "❌ Template error: %v\n", err)
		if fragment, ok := errors.Detail(err, "fragment"); ok {
			fmt.Fprintf(out, "Near: %v\n", fragment)
		}

	case errors.ErrCodeUnknownNode, errors.ErrCodeIndexOutOfRange, errors.ErrCodeNotAList,
		errors.ErrCodeNodeAttached, errors.ErrCodeNodeCycle, errors.ErrCodeUnsupportedType:
		fmt.Fprintf(out, "❌ Operation rejected: %v\n", err)
		if op, ok := errors.Detail(err, "operation"); ok {
			fmt.Fprintf(out, "Failed at operation %v; no changes were applied.\n", op)
		}

	default:
		fmt.Fprintf(out, "❌ Error: %v\n", err)
	}

	if h.Verbose {
		if syncErr, ok := err.(*errors.SyncError); ok {
			fmt.Fprintf(out, "\nError details:\n%s\n", syncErr.ToJSON())
		}
	}
	return err
}
