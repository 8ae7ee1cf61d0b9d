package habitat

import (
	"fmt"
	"strings"
)

// ServiceIdentity names one supervised service and the configuration
// group it belongs to
type ServiceIdentity struct {
	// Origin is the package origin (e.g. "core")
	Origin string
	// Name is the package and service name (e.g. "redis")
	Name string
	// Group is the service group (e.g. "default")
	Group string
}

// NewServiceIdentity fills empty origin and group with their defaults
func NewServiceIdentity(origin, name, group string) ServiceIdentity {
	id := ServiceIdentity{
		Origin: strings.TrimSpace(origin),
		Name:   strings.TrimSpace(name),
		Group:  strings.TrimSpace(group),
	}
	if id.Origin == "" {
		id.Origin = DefaultOrigin
	}
	if id.Group == "" {
		id.Group = DefaultGroup
	}
	return id
}

// Ident returns the package identifier used by `hab sup` commands
func (id ServiceIdentity) Ident() string {
	return id.Origin + "/" + id.Name
}

// ServiceGroup returns the `{name}.{group}` key used by the census and
// `hab config apply`
func (id ServiceIdentity) ServiceGroup() string {
	return id.Name + "." + id.Group
}

// Validate reports whether the identity is usable
func (id ServiceIdentity) Validate() error {
	if id.Name == "" {
		return fmt.Errorf("%w: service name is required", ErrInvalidDesired)
	}
	if id.Origin == "" || id.Group == "" {
		return fmt.Errorf("%w: origin and group are required for %q", ErrInvalidDesired, id.Name)
	}
	if strings.ContainsAny(id.Name, "/ ") || strings.ContainsAny(id.Group, "/ ") {
		return fmt.Errorf("%w: invalid service %q group %q", ErrInvalidDesired, id.Name, id.Group)
	}
	return nil
}

// String returns the identity as origin/name.group
func (id ServiceIdentity) String() string {
	return id.Origin + "/" + id.Name + "." + id.Group
}

// ServiceState is the process state reported by the supervisor
type ServiceState int

const (
	// StateUnknown means the service is not registered with the supervisor
	// or its state could not be read
	StateUnknown ServiceState = iota
	// StateDown means the service is registered but stopped
	StateDown
	// StateUp means the service is running
	StateUp
)

// ServiceState string constants
const (
	stateUnknownStr = "unknown"
	stateDownStr    = "down"
	stateUpStr      = "up"
)

// String returns the string representation of the ServiceState
func (s ServiceState) String() string {
	switch s {
	case StateDown:
		return stateDownStr
	case StateUp:
		return stateUpStr
	default:
		return stateUnknownStr
	}
}

// ParseServiceState parses a state as reported by the supervisor.
// Matching is case-insensitive.
func ParseServiceState(raw string) (ServiceState, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case stateUpStr:
		return StateUp, true
	case stateDownStr:
		return StateDown, true
	default:
		return StateUnknown, false
	}
}

// StartStyle controls whether a service survives supervisor restarts
type StartStyle int

const (
	// StyleUnknown means the style could not be determined
	StyleUnknown StartStyle = iota
	// StylePersistent services are loaded durably (hab sup load)
	StylePersistent
	// StyleTransient services are started for this supervisor run only
	StyleTransient
)

// StartStyle string constants
const (
	styleUnknownStr    = "unknown"
	stylePersistentStr = "persistent"
	styleTransientStr  = "transient"
)

// String returns the string representation of the StartStyle
func (s StartStyle) String() string {
	switch s {
	case StylePersistent:
		return stylePersistentStr
	case StyleTransient:
		return styleTransientStr
	default:
		return styleUnknownStr
	}
}

// ParseStartStyle parses a start style case-insensitively
func ParseStartStyle(raw string) (StartStyle, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case stylePersistentStr:
		return StylePersistent, true
	case styleTransientStr:
		return StyleTransient, true
	default:
		return StyleUnknown, false
	}
}

// SupervisorState is the desired state of the supervisor process itself
type SupervisorState int

const (
	// SupervisorIgnore leaves the supervisor process alone
	SupervisorIgnore SupervisorState = iota
	// SupervisorUp requires the supervisor to be running
	SupervisorUp
	// SupervisorDown requires the supervisor to be stopped
	SupervisorDown
)

// String returns the string representation of the SupervisorState
func (s SupervisorState) String() string {
	switch s {
	case SupervisorUp:
		return stateUpStr
	case SupervisorDown:
		return stateDownStr
	default:
		return "ignore"
	}
}

// ParseSupervisorState parses "up", "down" or "ignore" (empty means ignore)
func ParseSupervisorState(raw string) (SupervisorState, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case stateUpStr:
		return SupervisorUp, true
	case stateDownStr:
		return SupervisorDown, true
	case "", "ignore":
		return SupervisorIgnore, true
	default:
		return SupervisorIgnore, false
	}
}

// Desired is the caller-declared target for one service
type Desired struct {
	Identity ServiceIdentity
	// State is StateUp or StateDown
	State ServiceState
	// Style is the start style the service should end up with
	Style StartStyle
	// Config is the desired configuration tree, possibly empty
	Config Tree
}

// Validate checks the desired state before any command is issued
func (d Desired) Validate() error {
	if err := d.Identity.Validate(); err != nil {
		return err
	}
	if d.State != StateUp && d.State != StateDown {
		return fmt.Errorf("%w: desired state must be up or down, got %s", ErrInvalidDesired, d.State)
	}
	if d.Style != StylePersistent && d.Style != StyleTransient {
		return fmt.Errorf("%w: desired style must be persistent or transient, got %s", ErrInvalidDesired, d.Style)
	}
	return nil
}

// Outcome is the result of one reconciliation
type Outcome struct {
	// Changed reports whether any supervisor command mutated state
	Changed bool `json:"changed"`
	// Message describes the last action taken
	Message string `json:"msg"`
}

// String returns a human-readable outcome
func (o Outcome) String() string {
	if o.Message == "" {
		return fmt.Sprintf("changed=%t", o.Changed)
	}
	return fmt.Sprintf("changed=%t: %s", o.Changed, o.Message)
}
