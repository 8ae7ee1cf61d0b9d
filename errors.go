package habitat

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by habitat operations
var (
	// ErrProbe marks a soft failure reading service state or style
	ErrProbe = errors.New("habitat: probe")

	// ErrConfigFetch indicates the service configuration could not be read
	ErrConfigFetch = errors.New("habitat: config fetch failed")

	// ErrSupervisorCommand indicates a hab command exited unsuccessfully
	ErrSupervisorCommand = errors.New("habitat: supervisor command failed")

	// ErrUnsupported indicates an operation this library refuses to perform
	ErrUnsupported = errors.New("habitat: unsupported operation")

	// ErrSettleTimeout indicates the service did not become ready in time
	ErrSettleTimeout = errors.New("habitat: timeout waiting for service")

	// ErrInvalidDesired indicates the desired state is incomplete or malformed
	ErrInvalidDesired = errors.New("habitat: invalid desired state")
)

// OpError represents an error from a habitat operation
type OpError struct {
	// Op is the operation that failed
	Op Operation
	// Target is the service or group the operation addressed
	Target string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *OpError) Error() string {
	return fmt.Sprintf("habitat %s %q: %v", e.Op.String(), e.Target, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *OpError) Unwrap() error {
	return e.Err
}

// CommandError captures a hab invocation that did not exit cleanly
type CommandError struct {
	// Args is the full command line, binary first
	Args []string
	// ExitCode is the process exit code, or -1 if the process never ran
	ExitCode int
	// Stdout is the captured standard output
	Stdout string
	// Stderr is the captured standard error
	Stderr string
	// Err is the error reported by the runner, if any
	Err error
}

// Error returns a formatted error message
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s exited %d", strings.Join(e.Args, " "), e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += " (stderr: " + stderr + ")"
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both ErrSupervisorCommand and the runner error
func (e *CommandError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSupervisorCommand}
	}
	return []error{ErrSupervisorCommand, e.Err}
}

// ProbeKind classifies why a probe did not yield a value
type ProbeKind int

const (
	// ProbeAbsent means the endpoint answered but the service or field
	// does not exist
	ProbeAbsent ProbeKind = iota
	// ProbeTransport means the request failed or returned a non-2xx status
	ProbeTransport
	// ProbeMalformed means the payload could not be decoded or held an
	// unexpected value
	ProbeMalformed
)

// String returns the string representation of the ProbeKind
func (k ProbeKind) String() string {
	switch k {
	case ProbeAbsent:
		return "absent"
	case ProbeTransport:
		return "transport"
	case ProbeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// ProbeError is returned alongside StateUnknown or StyleUnknown when a
// read-only query did not produce a value
type ProbeError struct {
	// Kind classifies the failure
	Kind ProbeKind
	// URL is the endpoint that was queried
	URL string
	// Field is the JSON field being read, if any
	Field string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *ProbeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("probe %s field %q: %s: %v", e.URL, e.Field, e.Kind, e.Err)
	}
	return fmt.Sprintf("probe %s: %s: %v", e.URL, e.Kind, e.Err)
}

// Unwrap exposes both ErrProbe and the underlying error
func (e *ProbeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProbe}
	}
	return []error{ErrProbe, e.Err}
}

// IsProbeKind reports whether err is a ProbeError of the given kind
func IsProbeKind(err error, kind ProbeKind) bool {
	var pe *ProbeError
	return errors.As(err, &pe) && pe.Kind == kind
}
