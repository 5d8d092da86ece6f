package security

import "fmt"

// SecurityConfig holds the persisted system flags. It is owned by Machine,
// which is the only writer.
type SecurityConfig struct {
	SystemArmed    bool `yaml:"system_armed" json:"system_armed" db:"system_armed"`
	CamerasLive    bool `yaml:"cameras_live" json:"cameras_live" db:"cameras_live"`
	SystemBreached bool `yaml:"system_breached" json:"system_breached" db:"system_breached"`
}

// Normalize repairs a record that violates breached => armed. A breach
// without an armed system is dropped rather than promoted to armed.
func (c SecurityConfig) Normalize() SecurityConfig {
	if !c.SystemArmed {
		c.SystemBreached = false
	}
	return c
}

// Valid reports whether the flags satisfy the machine invariants.
func (c SecurityConfig) Valid() bool {
	return c.SystemArmed || !c.SystemBreached
}

// State derives the top level state from the flags.
func (c SecurityConfig) State() State {
	switch {
	case c.SystemBreached:
		return StateBreached
	case c.SystemArmed:
		return StateArmed
	default:
		return StateDisarmed
	}
}

// State is the top level security state. Live streaming is an overlay
// tracked by SecurityConfig.CamerasLive.
type State int

const (
	StateDisarmed State = iota
	StateArmed
	StateBreached
)

func (s State) String() string {
	switch s {
	case StateDisarmed:
		return "disarmed"
	case StateArmed:
		return "armed"
	case StateBreached:
		return "breached"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point in time view of the machine.
type Status struct {
	State          State    `json:"state"`
	SystemArmed    bool     `json:"system_armed"`
	CamerasLive    bool     `json:"cameras_live"`
	SystemBreached bool     `json:"system_breached"`
	Streaming      []string `json:"streaming,omitempty"`
	NoHardware     bool     `json:"no_hardware"`
}
