package event

import "time"

// Direction of a message event.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Actor identifies who produced an event.
type Actor string

const (
	ActorClient Actor = "client"
	ActorSitter Actor = "sitter"
	ActorOwner  Actor = "owner"
	ActorSystem Actor = "system"
)

// StatusBlocked marks an event withheld by the policy filter. Delivery
// statuses for normal traffic come from the provider package.
const StatusBlocked = "blocked"

// Event is an immutable record of one message or delivery-status change.
// ResponsibleSitterID is a snapshot taken at creation; later reassignment
// never rewrites it.
type Event struct {
	ID                  string
	OrgID               string
	ThreadID            string
	Direction           Direction
	ActorType           Actor
	Body                string
	RedactedBody        string
	ProviderMessageID   string
	DeliveryStatus      string
	FailureCode         string
	FailureDetail       string
	ResponsibleSitterID string
	AttemptNo           int
	Unverified          bool
	CreatedAt           time.Time
}

// RecordInput carries the fields for a new event.
type RecordInput struct {
	OrgID               string
	ThreadID            string
	Direction           Direction
	ActorType           Actor
	Body                string
	RedactedBody        string
	ProviderMessageID   string
	DeliveryStatus      string
	ResponsibleSitterID string
	Unverified          bool
}
