package cli

import "errors"

// Process exit codes. A fatal error before any change is the generic
// failure; a failure after changes started is distinct so callers can
// tell a partially applied run from a clean abort.
const (
	ExitOK          = 0
	ExitFatal       = 1
	ExitPartial     = 2
	ExitNothingToDo = 3
)

// ExitError carries an explicit process exit code out of a command. A nil
// Err means the condition was already reported on stdout.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps a command error onto the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFatal
}
