// Package notify pushes real-time events to connected user sessions. The
// bridge treats delivery as fire-and-forget: a notification failure is
// logged and never affects the processing outcome.
package notify

import "time"

// Event is one live-update event delivered to a session.
type Event struct {
	Type           string    `json:"type"`
	OrganizationID string    `json:"organizationId"`
	UserID         string    `json:"userId,omitempty"`
	Payload        any       `json:"payload"`
	EmittedAt      time.Time `json:"emittedAt"`
}

// Event types emitted by the processing pipeline.
const (
	EventMessageStatus = "message.status"
	EventMessageNew    = "message.new"
)

// Notifier delivers events to users within an organization.
type Notifier interface {
	// SendToUser delivers event to every session of userID within orgID.
	SendToUser(orgID, userID string, event Event) error

	// SendToOrg delivers event to every session within orgID.
	SendToOrg(orgID string, event Event) error
}
