// Package notify delivers per-user events to live server-sent event streams.
//
// Hub keeps the subscribers of one process. RedisBus fans events out across
// processes so a worker can notify streams held by an API instance.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Publisher sends an event to every live stream of a user. It reports
// whether anyone received it; delivery is best effort and never fails the
// caller.
type Publisher interface {
	Publish(ctx context.Context, userID string, event any) bool
}

var (
	ErrHubClosed   = errors.New("notification hub closed")
	ErrEmptyUserID = errors.New("user id is required")
)

const defaultBuffer = 16

// Subscriber is one open stream. C is closed when the stream ends.
type Subscriber struct {
	ID     string
	UserID string
	C      <-chan []byte

	ch chan []byte
}

// Hub maps user ids to their open streams.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscriber]struct{}
	closed bool
	buffer int
	log    zerolog.Logger
}

// NewHub returns a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*Subscriber]struct{}),
		buffer: buffer,
		log:    log.With().Str("component", "notify.hub").Logger(),
	}
}

// Subscribe opens a stream for userID.
func (h *Hub) Subscribe(userID string) (*Subscriber, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	ch := make(chan []byte, h.buffer)
	s := &Subscriber{ID: uuid.NewString(), UserID: userID, C: ch, ch: ch}
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[userID] = set
	}
	set[s] = struct{}{}

	h.log.Debug().Str("user_id", userID).Str("subscriber_id", s.ID).Msg("stream subscribed")
	return s, nil
}

// Unsubscribe ends one stream. Calling it twice is harmless.
func (h *Hub) Unsubscribe(s *Subscriber) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[s.UserID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	close(s.ch)
	if len(set) == 0 {
		delete(h.subs, s.UserID)
	}
}

// Publish marshals event once and delivers it to userID's streams.
func (h *Hub) Publish(_ context.Context, userID string, event any) bool {
	raw, err := json.Marshal(event)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("encode event")
		return false
	}
	return h.Deliver(userID, raw)
}

// Deliver sends an already encoded event. Slow streams whose buffer is full
// miss the event instead of blocking the sender.
func (h *Hub) Deliver(userID string, raw []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := false
	for s := range h.subs[userID] {
		select {
		case s.ch <- raw:
			delivered = true
		default:
			h.log.Warn().Str("user_id", userID).Str("subscriber_id", s.ID).Msg("dropping event; stream buffer full")
		}
	}
	return delivered
}

// Subscribers returns the number of open streams for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// CloseUser ends every stream of userID.
func (h *Hub) CloseUser(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[userID] {
		close(s.ch)
	}
	delete(h.subs, userID)
}

// Close ends all streams. Later subscriptions fail with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for userID, set := range h.subs {
		for s := range set {
			close(s.ch)
		}
		delete(h.subs, userID)
	}
}

var _ Publisher = (*Hub)(nil)
