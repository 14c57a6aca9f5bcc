package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedPayload marks a payload that could not be parsed as JSON.
var ErrMalformedPayload = errors.New("pipeline: malformed payload")

// MissingFieldsError marks a payload lacking required identifiers. This is a
// structural defect: the message can never succeed and is never retried.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("pipeline: payload missing required fields: %s", strings.Join(e.Fields, ", "))
}

// InboundMessage is one job result delivered by the broker. The wire payload
// carries the tenant under tenant_id; it is remapped to OrganizationID here
// so nothing downstream depends on the external naming.
type InboundMessage struct {
	MessageID       string
	ConversationID  string
	OrganizationID  string
	Response        string
	Metadata        map[string]any
	ResponseGroupID string
}

type wireMessage struct {
	MessageID       string         `json:"message_id"`
	ConversationID  string         `json:"conversation_id"`
	TenantID        string         `json:"tenant_id"`
	Response        string         `json:"response"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ResponseGroupID string         `json:"response_group_id,omitempty"`
}

// ParseInbound decodes and validates a raw payload. All three identifiers
// are mandatory; absence of any is structural, not transient.
func ParseInbound(body []byte) (*InboundMessage, error) {
	var wire wireMessage
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var missing []string
	if wire.MessageID == "" {
		missing = append(missing, "message_id")
	}
	if wire.ConversationID == "" {
		missing = append(missing, "conversation_id")
	}
	if wire.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if len(missing) > 0 {
		return nil, &MissingFieldsError{Fields: missing}
	}

	return &InboundMessage{
		MessageID:       wire.MessageID,
		ConversationID:  wire.ConversationID,
		OrganizationID:  wire.TenantID,
		Response:        wire.Response,
		Metadata:        wire.Metadata,
		ResponseGroupID: wire.ResponseGroupID,
	}, nil
}
