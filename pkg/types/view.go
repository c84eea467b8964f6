package types

import "time"

// ViewState is the lifecycle state of a derived view within a session.
type ViewState int

const (
	ViewUnregistered ViewState = iota
	ViewBuilding
	ViewRegistered
	ViewStale
)

func (s ViewState) String() string {
	switch s {
	case ViewBuilding:
		return "building"
	case ViewRegistered:
		return "registered"
	case ViewStale:
		return "stale"
	default:
		return "unregistered"
	}
}

// RegisteredView records a successful materialization.
type RegisteredView struct {
	Name        string        `json:"name"`
	BuiltAt     time.Time     `json:"built_at"`
	Fingerprint string        `json:"fingerprint"`
	Rows        int64         `json:"rows"`
	Duration    time.Duration `json:"duration"`
}
