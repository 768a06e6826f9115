package assignment

import "time"

// WindowStatus is the lifecycle state of an assignment window.
type WindowStatus string

const (
	WindowActive WindowStatus = "active"
	WindowClosed WindowStatus = "closed"
)

// Window is a time-bounded interval during which one sitter is the routing
// target for a thread.
type Window struct {
	ID        string
	ThreadID  string
	SitterID  string
	StartsAt  time.Time
	EndsAt    time.Time
	Status    WindowStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Target is where an inbound message is delivered.
type Target string

const (
	TargetSitter     Target = "sitter"
	TargetOwnerInbox Target = "owner_inbox"
)

// Reason explains a routing decision.
type Reason string

const (
	ReasonActiveWindow       Reason = "active_window"
	ReasonNoActiveWindow     Reason = "no_active_window"
	ReasonOverlappingWindows Reason = "overlapping_windows"
)

// Decision is the outcome of resolving responsibility at an instant.
type Decision struct {
	Target   Target
	SitterID string
	Reason   Reason
}

// Decide applies the exactly-one rule: one active window covering the instant
// routes to that sitter; zero or several fail safe to the owner inbox.
func Decide(windows []Window, at time.Time) Decision {
	var covering []Window
	for _, w := range windows {
		if w.Status != WindowActive {
			continue
		}
		if !at.Before(w.StartsAt) && at.Before(w.EndsAt) {
			covering = append(covering, w)
		}
	}
	switch len(covering) {
	case 0:
		return Decision{Target: TargetOwnerInbox, Reason: ReasonNoActiveWindow}
	case 1:
		return Decision{Target: TargetSitter, SitterID: covering[0].SitterID, Reason: ReasonActiveWindow}
	default:
		return Decision{Target: TargetOwnerInbox, Reason: ReasonOverlappingWindows}
	}
}

// Buffer returns the pre/post padding applied around a booking when its
// assignment window is computed. Overnight care gets a wider margin.
func Buffer(serviceType string) time.Duration {
	switch serviceType {
	case "Housesitting", "24/7 Care":
		return 120 * time.Minute
	default:
		return 60 * time.Minute
	}
}

// ComputeSpan widens a booking interval by the service-type buffer.
func ComputeSpan(serviceType string, startsAt, endsAt time.Time) (time.Time, time.Time) {
	buffer := Buffer(serviceType)
	return startsAt.Add(-buffer), endsAt.Add(buffer)
}
