package thread

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a thread. Threads are archived, never
// deleted.
type Status string

const (
	StatusOpen     Status = "open"
	StatusArchived Status = "archived"
)

// Role names a participant's part in a thread.
type Role string

const (
	RoleClient Role = "client"
	RoleSitter Role = "sitter"
	RoleOwner  Role = "owner"
	RoleSystem Role = "system"
)

// ErrNotFound means no matching thread exists.
var ErrNotFound = errors.New("thread not found")

// Thread is a conversation container between a client and the business.
type Thread struct {
	ID               string
	OrgID            string
	ClientID         string
	NumberID         string
	NumberClass      string
	AssignedSitterID string
	Status           Status
	IsOwnerInbox     bool
	IsOneTimeClient  bool
	OwnerUnreadCount int
	LastInboundAt    time.Time
	LastMessageAt    time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Participant is a named party in a thread.
type Participant struct {
	ID             string
	ThreadID       string
	Role           Role
	E164           string
	MaskedIdentity string
	CreatedAt      time.Time
}

// CreateInput carries the fields fixed at thread creation.
type CreateInput struct {
	OrgID            string
	ClientID         string
	NumberID         string
	NumberClass      string
	AssignedSitterID string
	IsOneTimeClient  bool
}
