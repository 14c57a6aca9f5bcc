package pipeline

import (
	"context"
	"sync"

	"github.com/threadline/threadline/internal/notify"
)

// fakeStore records calls and returns scripted results.
type fakeStore struct {
	mu sync.Mutex

	ownerByConversation map[string]string
	ownerErr            error
	completeErr         error
	newMessageID        string

	ownerCalls    int
	completions   []completionCall
}

type completionCall struct {
	userID         string
	organizationID string
	completion     Completion
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ownerByConversation: make(map[string]string),
		newMessageID:        "new-message-id",
	}
}

func (s *fakeStore) ConversationOwner(ctx context.Context, conversationID, organizationID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownerCalls++
	if s.ownerErr != nil {
		return "", s.ownerErr
	}
	userID, ok := s.ownerByConversation[organizationID+"/"+conversationID]
	if !ok {
		return "", ErrConversationNotFound
	}
	return userID, nil
}

func (s *fakeStore) CompleteInbound(ctx context.Context, userID, organizationID string, c Completion) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return "", s.completeErr
	}
	s.completions = append(s.completions, completionCall{
		userID:         userID,
		organizationID: organizationID,
		completion:     c,
	})
	return s.newMessageID, nil
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completions)
}

// fakeNotifier records events in delivery order.
type fakeNotifier struct {
	mu     sync.Mutex
	events []sentEvent
	err    error
}

type sentEvent struct {
	orgID  string
	userID string
	event  notify.Event
}

func (n *fakeNotifier) SendToUser(orgID, userID string, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{orgID: orgID, userID: userID, event: event})
	return n.err
}

func (n *fakeNotifier) SendToOrg(orgID string, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{orgID: orgID, event: event})
	return n.err
}

func (n *fakeNotifier) sent() []sentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentEvent(nil), n.events...)
}

// fakeAcknowledger implements amqp.Acknowledger and counts calls.
type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	rejects int
	requeue bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = a.requeue || requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejects++
	a.requeue = a.requeue || requeue
	return nil
}
