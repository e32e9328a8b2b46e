package payment

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/yogaspace/yogaspace-api/internal/pkg/metrics"
)

// StatusChannel carries settled-session updates between instances.
const StatusChannel = "payments:status"

const statusUpdateType = "payment_status"

// StatusUpdate tells a waiting success page that a session has settled.
// It carries no amounts; the page calls verify for those.
type StatusUpdate struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

type StatusPublisher interface {
	PublishStatus(ctx context.Context, u StatusUpdate) error
}

type subscriber struct {
	sessionID string
	send      chan []byte
}

// Hub fans status updates out to websocket subscribers on this instance.
// With Redis, updates published anywhere (including the reconcile worker)
// reach every instance running Run.
type Hub struct {
	mu    sync.RWMutex
	subs  map[string]map[*subscriber]struct{}
	redis *redis.Client
}

func NewHub(c *redis.Client) *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{}), redis: c}
}

// Run relays Redis updates to local subscribers until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	if h.redis == nil {
		return
	}
	sub := h.redis.Subscribe(ctx, StatusChannel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var u StatusUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil || u.SessionID == "" {
				continue
			}
			h.deliver(u.SessionID, []byte(msg.Payload))
		}
	}
}

// PublishStatus sends u to every subscriber of its session. A failed Redis
// publish falls back to local delivery.
func (h *Hub) PublishStatus(ctx context.Context, u StatusUpdate) error {
	u.Type = statusUpdateType
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}

	if h.redis != nil {
		err := h.redis.Publish(ctx, StatusChannel, data).Err()
		if err == nil {
			metrics.StatusEvent("published")
			return nil
		}
		log.Warn().Err(err).Str("session_id", u.SessionID).Msg("status publish failed, delivering locally")
	}
	h.deliver(u.SessionID, data)
	return nil
}

func (h *Hub) deliver(sessionID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs[sessionID] {
		select {
		case s.send <- data:
			metrics.StatusEvent("sent")
		default:
			metrics.StatusEvent("dropped")
		}
	}
}

func (h *Hub) subscribe(sessionID string) *subscriber {
	s := &subscriber{sessionID: sessionID, send: make(chan []byte, 4)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscriber]struct{})
	}
	h.subs[sessionID][s] = struct{}{}
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subs[s.sessionID]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	close(s.send)
	if len(subs) == 0 {
		delete(h.subs, s.sessionID)
	}
}

func (h *Hub) subscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// notifySettled publishes a settled status. Ignored sessions are not settled.
func notifySettled(ctx context.Context, p StatusPublisher, sessionID, status string) {
	if p == nil || sessionID == "" || status == StatusIgnored {
		return
	}
	if err := p.PublishStatus(ctx, StatusUpdate{SessionID: sessionID, Status: status}); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("status update not published")
	}
}
