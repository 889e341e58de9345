// Package harnesserr defines the error taxonomy shared by the device,
// transport, session, and lifecycle packages. Callers classify failures with
// errors.Is against the sentinels and errors.As against RemoteOperationError.
package harnesserr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration reports a bad or missing transport configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrDeviceUnavailable reports a device-only capability requested on a
	// session that is not backed by a physical or emulated device.
	ErrDeviceUnavailable = errors.New("device manager only available for devices")

	// ErrStartup reports that no mechanism exists to start the system under test.
	ErrStartup = errors.New("unable to start")

	// ErrShutdown reports that no mechanism exists to stop the system under test.
	ErrShutdown = errors.New("unable to stop")
)

// Configuration returns an error wrapping ErrConfiguration with a formatted
// description of the offending value.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// RemoteOperationError is any failure surfaced by a remote endpoint: script
// execution, file push, or shell command.
type RemoteOperationError struct {
	Op     string // "shell", "push", "execute_script", ...
	Target string // remote path, command line, or script excerpt
	Output string // remote output, if any
	Err    error
}

// Error implements error.
func (e *RemoteOperationError) Error() string {
	var b strings.Builder

	b.WriteString(e.Op)
	if e.Target != "" {
		b.WriteString(" ")
		b.WriteString(e.Target)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		b.WriteString(" (")
		b.WriteString(out)
		b.WriteString(")")
	}

	return b.String()
}

// Unwrap returns the underlying cause.
func (e *RemoteOperationError) Unwrap() error {
	return e.Err
}

// Remote builds a RemoteOperationError.
func Remote(op, target string, err error) *RemoteOperationError {
	return &RemoteOperationError{Op: op, Target: target, Err: err}
}

// IsRemote reports whether err carries a RemoteOperationError.
func IsRemote(err error) bool {
	var re *RemoteOperationError
	return errors.As(err, &re)
}
