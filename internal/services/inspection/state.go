package inspection

import "fmt"

// State is the inspection state machine position.
type State int32

const (
	StateIdle State = iota
	StateWakingDevice
	StatePerPlant
	StateReporting
	StateReturning
	StateShuttingDown
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateWakingDevice: "waking_device",
	StatePerPlant:     "per_plant",
	StateReporting:    "reporting",
	StateReturning:    "returning",
	StateShuttingDown: "shutting_down",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown inspection state %q", b)
}
