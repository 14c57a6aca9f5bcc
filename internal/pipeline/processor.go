package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/threadline/threadline/internal/notify"
)

// Outcome classifies one processing attempt.
type Outcome int

const (
	// OutcomeSuccess: the transaction committed and notifications were sent.
	OutcomeSuccess Outcome = iota
	// OutcomeStructuralFailure: the payload itself is defective and can
	// never succeed. Never retried.
	OutcomeStructuralFailure
	// OutcomeTransientFailure: the lookup or the transaction failed; the
	// payload may succeed on operator replay.
	OutcomeTransientFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeStructuralFailure:
		return "structural_failure"
	case OutcomeTransientFailure:
		return "transient_failure"
	default:
		return "unknown"
	}
}

// ErrConversationNotFound is returned by ConversationStore when no
// conversation matches the id within the organization.
var ErrConversationNotFound = errors.New("pipeline: conversation not found")

// Completion is the unit of work committed when a job result arrives.
type Completion struct {
	OriginalMessageID string
	ConversationID    string
	Response          string
	Metadata          map[string]any
	ResponseGroupID   string
}

// ConversationStore is the bridge's boundary to the primary data store. Both
// operations are scoped to an organization; implementations must bind every
// statement to the organization id so a pooled connection can never leak one
// tenant's write into another's transaction context.
type ConversationStore interface {
	// ConversationOwner resolves the owning user of a conversation within
	// an organization. It returns ErrConversationNotFound on a miss.
	ConversationOwner(ctx context.Context, conversationID, organizationID string) (string, error)

	// CompleteInbound runs one atomic transaction: mark the original
	// inbound message completed, insert the assistant response message, and
	// insert one audit row linking the two. It returns the new message id.
	CompleteInbound(ctx context.Context, userID, organizationID string, c Completion) (string, error)
}

// Processor executes the per-message business transaction and the follow-up
// live-update notifications.
type Processor struct {
	store    ConversationStore
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewProcessor creates a processor over the store and notifier boundaries.
func NewProcessor(store ConversationStore, notifier notify.Notifier, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: store, notifier: notifier, logger: logger}
}

// Handle processes one raw payload and returns the outcome that drives
// acknowledgment. The owning user is always resolved from the conversation
// row, never from the payload: a user identifier carried on the wire may
// belong to a different identity namespace than the one used for live-update
// routing.
func (p *Processor) Handle(ctx context.Context, body []byte) (Outcome, error) {
	msg, err := ParseInbound(body)
	if err != nil {
		return OutcomeStructuralFailure, err
	}

	userID, err := p.store.ConversationOwner(ctx, msg.ConversationID, msg.OrganizationID)
	if err != nil {
		return OutcomeTransientFailure, fmt.Errorf("resolving conversation owner: %w", err)
	}

	newMessageID, err := p.store.CompleteInbound(ctx, userID, msg.OrganizationID, Completion{
		OriginalMessageID: msg.MessageID,
		ConversationID:    msg.ConversationID,
		Response:          msg.Response,
		Metadata:          msg.Metadata,
		ResponseGroupID:   msg.ResponseGroupID,
	})
	if err != nil {
		return OutcomeTransientFailure, fmt.Errorf("completing inbound message: %w", err)
	}

	p.logger.Info("message processed",
		"messageId", msg.MessageID,
		"conversationId", msg.ConversationID,
		"organizationId", msg.OrganizationID,
		"responseMessageId", newMessageID)

	p.emit(msg, userID, newMessageID)

	return OutcomeSuccess, nil
}

// emit sends the two live-update events in order: the status update for the
// original message, then the new assistant message. Delivery is best-effort;
// failures are logged and never reverse the committed transaction.
func (p *Processor) emit(msg *InboundMessage, userID, newMessageID string) {
	statusEvent := notify.Event{
		Type: notify.EventMessageStatus,
		Payload: map[string]any{
			"messageId":      msg.MessageID,
			"conversationId": msg.ConversationID,
			"status":         "completed",
		},
	}
	if err := p.notifier.SendToUser(msg.OrganizationID, userID, statusEvent); err != nil {
		p.logger.Error("failed to send status notification",
			"error", err,
			"messageId", msg.MessageID,
			"userId", userID)
	}

	newEvent := notify.Event{
		Type: notify.EventMessageNew,
		Payload: map[string]any{
			"messageId":       newMessageID,
			"conversationId":  msg.ConversationID,
			"response":        msg.Response,
			"metadata":        msg.Metadata,
			"responseGroupId": msg.ResponseGroupID,
		},
	}
	if err := p.notifier.SendToUser(msg.OrganizationID, userID, newEvent); err != nil {
		p.logger.Error("failed to send new-message notification",
			"error", err,
			"messageId", newMessageID,
			"userId", userID)
	}
}
