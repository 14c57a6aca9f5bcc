package reliability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FailureStatus is the lifecycle status of a failure record.
type FailureStatus string

const (
	// StatusFailed marks a transient processing failure eligible for
	// operator replay.
	StatusFailed FailureStatus = "failed"
	// StatusDeadLetter marks a structurally invalid message that must never
	// be retried.
	StatusDeadLetter FailureStatus = "dead_letter"
)

// FailureRecord is one immutable entry in the failure ledger. Records are
// created once, on a terminal non-success outcome, and persist indefinitely
// for operator inspection and replay.
type FailureRecord struct {
	ID         string        `json:"id"`
	TenantID   string        `json:"tenantId,omitempty"` // empty when the payload carried none
	MessageID  string        `json:"messageId"`          // generated when the payload carried none
	Queue      string        `json:"queue"`
	Payload    []byte        `json:"payload"`
	Error      string        `json:"error"`
	ErrorType  string        `json:"errorType"`
	Status     FailureStatus `json:"status"`
	RetryCount int           `json:"retryCount"`
	ReceivedAt time.Time     `json:"receivedAt"`
}

// Ledger persists failure records.
type Ledger interface {
	Append(ctx context.Context, record FailureRecord) error
	Get(ctx context.Context, id string) (*FailureRecord, error)
	List(ctx context.Context, filter Filter) ([]FailureRecord, error)
	Delete(ctx context.Context, id string) error
}

// Filter narrows a ledger listing.
type Filter struct {
	Queue      string
	Status     FailureStatus
	MaxResults int
}

// NewFailureRecord builds a record from the original payload, extracting the
// message and tenant ids from the payload where possible.
func NewFailureRecord(queue string, payload []byte, cause error, errorType string, status FailureStatus, retries int) FailureRecord {
	messageID, tenantID := extractIdentifiers(payload)
	if messageID == "" {
		messageID = uuid.New().String()
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	return FailureRecord{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		MessageID:  messageID,
		Queue:      queue,
		Payload:    payload,
		Error:      msg,
		ErrorType:  errorType,
		Status:     status,
		RetryCount: retries,
		ReceivedAt: time.Now().UTC(),
	}
}

// extractIdentifiers pulls message and tenant ids from a JSON payload.
// Malformed payloads yield empty ids; the record is still written.
func extractIdentifiers(payload []byte) (messageID, tenantID string) {
	var probe struct {
		MessageID string `json:"message_id"`
		TenantID  string `json:"tenant_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", ""
	}
	return probe.MessageID, probe.TenantID
}
