package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/yogaspace/yogaspace-api/internal/domain/ledger"
	"github.com/yogaspace/yogaspace-api/internal/pkg/metrics"
	"github.com/yogaspace/yogaspace-api/internal/pkg/response"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxClientFrame = 512
	streamMaxAge   = 15 * time.Minute
	lookupTimeout  = 2 * time.Second
)

// StatusLookup answers for sessions that settled before the page subscribed.
type StatusLookup interface {
	PaymentState(ctx context.Context, paymentID string) (ledger.PaymentState, error)
}

// WithStream enables the status websocket. An empty origin list accepts any
// origin.
func (h *Handler) WithStream(hub *Hub, allowedOrigins []string) *Handler {
	h.hub = hub
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			log.Warn().Str("origin", origin).Msg("status stream origin rejected")
			return false
		},
	}
	return h
}

// WithStatusLookup makes Stream answer at once for already settled sessions.
func (h *Handler) WithStatusLookup(l StatusLookup) *Handler {
	h.lookup = l
	return h
}

// Stream pushes the settled status of one checkout session, then closes.
// The session id is the only credential, as with claim redemption.
// GET /api/v1/payments/stream?session_id=cs_...
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		response.NotFound(w, "Status stream is not enabled")
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" || len(sessionID) > 255 {
		response.BadRequest(w, "session_id is required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("status stream upgrade failed")
		return
	}

	// Subscribe before looking up so a settlement in between is not lost.
	sub := h.hub.subscribe(sessionID)
	metrics.StreamOpened()
	h.sendCurrent(r.Context(), sub)

	go h.streamReader(conn, sub)
	go streamWriter(conn, sub)
}

func (h *Handler) sendCurrent(ctx context.Context, sub *subscriber) {
	if h.lookup == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	state, err := h.lookup.PaymentState(ctx, sub.sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sub.sessionID).Msg("status stream lookup failed")
		return
	}
	var status string
	switch state {
	case ledger.PaymentApplied:
		status = StatusApplied
	case ledger.PaymentParked:
		status = StatusDeferred
	default:
		return
	}

	data, err := json.Marshal(StatusUpdate{Type: statusUpdateType, SessionID: sub.sessionID, Status: status})
	if err != nil {
		return
	}
	select {
	case sub.send <- data:
		metrics.StatusEvent("sent")
	default:
	}
}

// streamReader only services control frames; the client has nothing to say.
func (h *Handler) streamReader(conn *websocket.Conn, sub *subscriber) {
	defer func() {
		h.hub.unsubscribe(sub)
		_ = conn.Close()
		metrics.StreamClosed()
	}()

	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("session_id", sub.sessionID).Msg("status stream read error")
			}
			return
		}
	}
}

func streamWriter(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	expire := time.NewTimer(streamMaxAge)
	defer func() {
		ticker.Stop()
		expire.Stop()
		_ = conn.Close()
	}()

	closeWith := func(code int, text string) {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
	}

	for {
		select {
		case msg, ok := <-sub.send:
			if !ok {
				closeWith(websocket.CloseGoingAway, "")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			closeWith(websocket.CloseNormalClosure, "settled")
			return
		case <-expire.C:
			closeWith(websocket.CloseNormalClosure, "timeout")
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
