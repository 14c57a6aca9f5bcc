package storage

import "time"

// Conversation is one chat thread owned by a user within an organization.
type Conversation struct {
	ID             string
	OrganizationID string
	UserID         string
	Title          string
	CreatedAt      time.Time
}

// Message is one row in a conversation. Status moves pending -> completed
// when the asynchronous job result arrives.
type Message struct {
	ID              string
	ConversationID  string
	OrganizationID  string
	Role            string
	Content         string
	Metadata        string // JSON, empty when absent
	ResponseGroupID string
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message statuses.
const (
	MessageStatusPending   = "pending"
	MessageStatusCompleted = "completed"
)

// AuditEntry links an original inbound message to the response written for
// it.
type AuditEntry struct {
	ID                string
	OrganizationID    string
	UserID            string
	Action            string
	OriginalMessageID string
	ResponseMessageID string
	CreatedAt         time.Time
}
