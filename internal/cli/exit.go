package cli

import "fmt"

// Process exit codes beyond the generic 1.
const (
	exitConfig   = 2
	exitManifest = 3
)

// ExitError carries the exit code a command wants the process to end with.
type ExitError struct {
	code int
	err  error
}

func exitErrorf(code int, format string, args ...any) *ExitError {
	return &ExitError{code: code, err: fmt.Errorf(format, args...)}
}

func (e *ExitError) Error() string {
	if msg := e.Message(); msg != "" {
		return msg
	}
	return fmt.Sprintf("exit status %d", e.Code())
}

func (e *ExitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *ExitError) Code() int {
	if e == nil || e.code == 0 {
		return 1
	}
	return e.code
}

// Message is the text printed to stderr before exiting, possibly empty.
func (e *ExitError) Message() string {
	if e == nil || e.err == nil {
		return ""
	}
	return e.err.Error()
}
