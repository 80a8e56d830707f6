package background

import "fmt"

// Status is the phase of background acquisition.
type Status int

const (
	// Idle means nothing is being fetched. A decoded image may or may not be
	// cached.
	Idle Status = iota
	// Fetching means a remote background is being retrieved.
	Fetching
	// Failed means the last remote fetch or its decode failed.
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is the observable fetch state. Locator is set for Fetching and
// Failed.
type State struct {
	Status  Status `json:"status"`
	Locator string `json:"locator,omitempty"`
}

func (s State) String() string {
	if s.Status == Idle {
		return s.Status.String()
	}
	return fmt.Sprintf("%s(%s)", s.Status, s.Locator)
}
