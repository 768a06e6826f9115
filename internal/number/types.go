package number

import (
	"errors"
	"time"
)

// Class is the operational class governing how a number routes.
type Class string

const (
	ClassFrontDesk Class = "front_desk"
	ClassSitter    Class = "sitter"
	ClassPool      Class = "pool"
)

// Status is the lifecycle state of a provisioned number.
type Status string

const (
	StatusActive      Status = "active"
	StatusQuarantined Status = "quarantined"
	StatusInactive    Status = "inactive"
)

var (
	// ErrNotFound means the number is not owned by any tenant or is not active.
	ErrNotFound = errors.New("number not found")
	// ErrPoolExhausted means a pool number has no remaining thread capacity.
	ErrPoolExhausted = errors.New("pool number at capacity")
)

// Number is a provisioned phone number.
type Number struct {
	ID                   string
	OrgID                string
	E164                 string
	Class                Class
	Status               Status
	AssignedSitterID     string
	MaxConcurrentThreads int
	ActiveThreadCount    int
	FailureCount         int
	QuarantinedAt        time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DecideClass picks the number class for a new thread. Meet-and-greets always
// go through the front desk; a thread with an assigned sitter uses a dedicated
// sitter number; one-time clients are served from the shared pool.
func DecideClass(receiving Class, sitterAssigned, meetAndGreet, oneTimeClient bool) Class {
	if meetAndGreet {
		return ClassFrontDesk
	}
	if sitterAssigned {
		return ClassSitter
	}
	if oneTimeClient {
		return ClassPool
	}
	return receiving
}
