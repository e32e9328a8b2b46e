package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yogaspace/yogaspace-api/internal/domain/ledger"
)

type recordingPublisher struct {
	mu      sync.Mutex
	updates []StatusUpdate
}

func (p *recordingPublisher) PublishStatus(_ context.Context, u StatusUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
	return nil
}

func TestHub_LocalDelivery(t *testing.T) {
	hub := NewHub(nil)
	a := hub.subscribe("cs_a")
	other := hub.subscribe("cs_b")

	if err := hub.PublishStatus(context.Background(), StatusUpdate{SessionID: "cs_a", Status: StatusApplied}); err != nil {
		t.Fatalf("PublishStatus: %v", err)
	}

	select {
	case raw := <-a.send:
		var got StatusUpdate
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Type != statusUpdateType || got.SessionID != "cs_a" || got.Status != StatusApplied {
			t.Fatalf("update = %+v", got)
		}
	default:
		t.Fatal("subscriber got nothing")
	}
	if len(other.send) != 0 {
		t.Fatal("update leaked to another session")
	}

	hub.unsubscribe(a)
	hub.unsubscribe(a)
	if hub.subscriberCount("cs_a") != 0 {
		t.Fatal("subscriber still registered")
	}
	if _, ok := <-a.send; ok {
		t.Fatal("send channel should be closed")
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	s := hub.subscribe("cs_slow")

	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(s.send)+10; i++ {
			_ = hub.PublishStatus(context.Background(), StatusUpdate{SessionID: "cs_slow", Status: StatusDeferred})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if len(s.send) != cap(s.send) {
		t.Fatalf("buffered = %d", len(s.send))
	}
}

func TestWebhook_PublishesSettledSessions(t *testing.T) {
	user := uuid.New()
	sess := paidSession("sess_pub", user)
	p := newStubProvider(sess)
	p.event = checkoutEvent(sess)
	pub := &recordingPublisher{}
	svc := NewWebhookService(p, testResolver(), newFakeLedger(user)).WithPublisher(pub)

	for i := 0; i < 2; i++ {
		if _, err := svc.Handle(context.Background(), []byte(`{}`), "sig"); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	if _, err := svc.Handle(context.Background(), []byte(`{}`), ""); err == nil {
		t.Fatal("expected signature error")
	}

	if len(pub.updates) != 2 {
		t.Fatalf("updates = %+v", pub.updates)
	}
	if pub.updates[0].Status != StatusApplied || pub.updates[1].Status != StatusAlreadyApplied {
		t.Fatalf("updates = %+v", pub.updates)
	}
	if pub.updates[0].SessionID != "sess_pub" {
		t.Fatalf("session = %s", pub.updates[0].SessionID)
	}
}

func TestStream_RequiresSessionID(t *testing.T) {
	h := NewHandler(nil, nil, nil).WithStream(NewHub(nil), nil)

	rr := httptest.NewRecorder()
	h.Stream(rr, httptest.NewRequest(http.MethodGet, "/stream", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestStream_DisabledWithoutHub(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHandler(nil, nil, nil).Stream(rr, httptest.NewRequest(http.MethodGet, "/stream?session_id=cs_1", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestStream_DeliversAndCloses(t *testing.T) {
	hub := NewHub(nil)
	h := NewHandler(nil, nil, nil).WithStream(hub, []string{"https://app.example"})
	srv := httptest.NewServer(http.HandlerFunc(h.Stream))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session_id=cs_live"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		t.Fatal("foreign origin should be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp = %+v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://app.example"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.subscriberCount("cs_live") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := hub.PublishStatus(context.Background(), StatusUpdate{SessionID: "cs_live", Status: StatusApplied}); err != nil {
		t.Fatalf("PublishStatus: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got StatusUpdate
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Status != StatusApplied || got.SessionID != "cs_live" {
		t.Fatalf("update = %+v", got)
	}

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

type stateLookup map[string]ledger.PaymentState

func (m stateLookup) PaymentState(_ context.Context, id string) (ledger.PaymentState, error) {
	return m[id], nil
}

func TestStream_SettledBeforeSubscribe(t *testing.T) {
	hub := NewHub(nil)
	h := NewHandler(nil, nil, nil).WithStream(hub, nil).WithStatusLookup(stateLookup{
		"cs_done":   ledger.PaymentApplied,
		"cs_parked": ledger.PaymentParked,
	})
	srv := httptest.NewServer(http.HandlerFunc(h.Stream))
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session_id="

	for session, want := range map[string]string{"cs_done": StatusApplied, "cs_parked": StatusDeferred} {
		conn, _, err := websocket.DefaultDialer.Dial(base+session, nil)
		if err != nil {
			t.Fatalf("dial %s: %v", session, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got StatusUpdate
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("read %s: %v", session, err)
		}
		if got.Type != statusUpdateType || got.SessionID != session || got.Status != want {
			t.Fatalf("update = %+v, want %s", got, want)
		}
		_, _, err = conn.ReadMessage()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Fatalf("expected normal close, got %v", err)
		}
		conn.Close()
	}

	// An unseen session waits for a live update.
	conn, _, err := websocket.DefaultDialer.Dial(base+"cs_open", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("unsettled session got a frame")
	}
}
