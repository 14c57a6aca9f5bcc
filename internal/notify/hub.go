package notify

import (
	"log/slog"
	"sync"
	"time"
)

// subscription keys sessions by organization and user.
type subKey struct {
	orgID  string
	userID string
}

// Hub is an in-process Notifier fanning events out to subscribed session
// channels. Sends never block: a session whose buffer is full has the event
// dropped and logged rather than stalling the processing pipeline.
type Hub struct {
	logger *slog.Logger
	buffer int

	mu   sync.RWMutex
	subs map[subKey][]chan Event
}

// NewHub creates a hub with the given per-session buffer size.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		buffer: buffer,
		subs:   make(map[subKey][]chan Event),
	}
}

// Subscribe registers a session for a user within an organization. The
// returned cancel function removes the subscription and closes the channel.
func (h *Hub) Subscribe(orgID, userID string) (<-chan Event, func()) {
	key := subKey{orgID: orgID, userID: userID}
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	h.subs[key] = append(h.subs[key], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		sessions := h.subs[key]
		for i, s := range sessions {
			if s == ch {
				h.subs[key] = append(sessions[:i], sessions[i+1:]...)
				break
			}
		}
		if len(h.subs[key]) == 0 {
			delete(h.subs, key)
		}
		h.mu.Unlock()
		close(ch)
	}

	return ch, cancel
}

// SendToUser implements Notifier.
func (h *Hub) SendToUser(orgID, userID string, event Event) error {
	event.OrganizationID = orgID
	event.UserID = userID
	if event.EmittedAt.IsZero() {
		event.EmittedAt = time.Now().UTC()
	}

	h.mu.RLock()
	sessions := h.subs[subKey{orgID: orgID, userID: userID}]
	h.deliver(sessions, event)
	h.mu.RUnlock()
	return nil
}

// SendToOrg implements Notifier.
func (h *Hub) SendToOrg(orgID string, event Event) error {
	event.OrganizationID = orgID
	if event.EmittedAt.IsZero() {
		event.EmittedAt = time.Now().UTC()
	}

	h.mu.RLock()
	for key, sessions := range h.subs {
		if key.orgID == orgID {
			h.deliver(sessions, event)
		}
	}
	h.mu.RUnlock()
	return nil
}

func (h *Hub) deliver(sessions []chan Event, event Event) {
	for _, ch := range sessions {
		select {
		case ch <- event:
		default:
			h.logger.Warn("dropping event for slow session",
				"type", event.Type,
				"organizationId", event.OrganizationID,
				"userId", event.UserID)
		}
	}
}
