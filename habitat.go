package habitat

import (
	"os"
	"time"
)

// Supervisor endpoint and binary constants
const (
	// DefaultAPIURL is the base URL of the supervisor's local HTTP gateway
	DefaultAPIURL = "http://127.0.0.1:9631"

	// DefaultBinary is the name of the hab binary looked up on PATH
	DefaultBinary = "hab"

	// DefaultOrigin is the origin used when the caller does not name one
	DefaultOrigin = "core"

	// DefaultGroup is the service group used when the caller does not name one
	DefaultGroup = "default"
)

// Timing defaults
const (
	// DefaultBootstrapSettle is the wait after starting a service that was
	// down or unregistered, before its configuration is queried
	DefaultBootstrapSettle = 5 * time.Second

	// DefaultToggleSettle is the wait after switching start style before
	// a configuration is applied
	DefaultToggleSettle = 1 * time.Second

	// DefaultHTTPTimeout bounds a single request against the supervisor API
	DefaultHTTPTimeout = 5 * time.Second

	// DefaultPollInterval is the interval between readiness polls
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultPollTimeout bounds a readiness poll
	DefaultPollTimeout = 30 * time.Second
)

// Exit codes documented for `hab sup status`
const (
	// exitSupervisorRunning means the supervisor is up
	exitSupervisorRunning = 0

	// exitSupervisorNotRunning means the supervisor is not running
	exitSupervisorNotRunning = 3
)

// ConfigFileMode is the mode of the rendered configuration file handed to
// `hab config apply`
const ConfigFileMode os.FileMode = 0o600

// Operation represents a supervisor command or query
type Operation int

const (
	// OpUnknown represents an unknown operation
	OpUnknown Operation = iota
	// OpStart starts a service without persisting it (hab sup start)
	OpStart
	// OpLoad loads a service persistently (hab sup load)
	OpLoad
	// OpStop stops a transient service (hab sup stop)
	OpStop
	// OpUnload unloads a persistent service (hab sup unload)
	OpUnload
	// OpConfigApply applies a configuration (hab config apply)
	OpConfigApply
	// OpSupStatus queries the supervisor process (hab sup status)
	OpSupStatus
	// OpSupTerm terminates the supervisor process (hab sup term)
	OpSupTerm
	// OpSupRun starts the supervisor process (unsupported)
	OpSupRun
	// OpProbe is a read-only query against the HTTP gateway
	OpProbe
)

// Operation string constants
const (
	opUnknownStr     = "unknown"
	opStartStr       = "start"
	opLoadStr        = "load"
	opStopStr        = "stop"
	opUnloadStr      = "unload"
	opConfigApplyStr = "config-apply"
	opSupStatusStr   = "sup-status"
	opSupTermStr     = "sup-term"
	opSupRunStr      = "sup-run"
	opProbeStr       = "probe"
)

// String returns the string representation of an Operation
func (op Operation) String() string {
	switch op {
	case OpStart:
		return opStartStr
	case OpLoad:
		return opLoadStr
	case OpStop:
		return opStopStr
	case OpUnload:
		return opUnloadStr
	case OpConfigApply:
		return opConfigApplyStr
	case OpSupStatus:
		return opSupStatusStr
	case OpSupTerm:
		return opSupTermStr
	case OpSupRun:
		return opSupRunStr
	case OpProbe:
		return opProbeStr
	default:
		return opUnknownStr
	}
}

// args returns the hab arguments that precede the operation's target, or
// nil for operations that are not a single hab subcommand
func (op Operation) args() []string {
	switch op {
	case OpStart:
		return []string{"sup", "start"}
	case OpLoad:
		return []string{"sup", "load"}
	case OpStop:
		return []string{"sup", "stop"}
	case OpUnload:
		return []string{"sup", "unload"}
	case OpConfigApply:
		return []string{"config", "apply"}
	case OpSupStatus:
		return []string{"sup", "status"}
	case OpSupTerm:
		return []string{"sup", "term"}
	case OpSupRun:
		return []string{"sup", "run"}
	default:
		return nil
	}
}
