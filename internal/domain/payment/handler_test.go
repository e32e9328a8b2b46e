package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/yogaspace/yogaspace-api/internal/domain/ledger"
	"github.com/yogaspace/yogaspace-api/internal/middleware"
	"github.com/yogaspace/yogaspace-api/internal/pkg/jwt"
	provider "github.com/yogaspace/yogaspace-api/internal/pkg/payment"
)

type testServer struct {
	router   chi.Router
	provider *stubProvider
	ledger   *fakeLedger
	jwt      *jwt.Service
}

func newTestServer(p *stubProvider, l *fakeLedger) *testServer {
	jwtSvc := jwt.NewService("secret", time.Minute)
	resolver := testResolver()
	h := NewHandler(
		NewWebhookService(p, resolver, l),
		NewVerifyService(p, resolver, l, nil),
		l,
	)
	r := chi.NewRouter()
	r.Mount("/api/v1/payments", h.Routes(middleware.Auth(jwtSvc), middleware.OptionalAuth(jwtSvc)))
	return &testServer{router: r, provider: p, ledger: l, jwt: jwtSvc}
}

func (s *testServer) do(t *testing.T, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) bearer(t *testing.T, user uuid.UUID) map[string]string {
	t.Helper()
	token, _, err := s.jwt.GenerateAccessToken(user, "student", false)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestWebhookHandler(t *testing.T) {
	user := uuid.New()

	tests := []struct {
		name       string
		signature  string
		event      *provider.Event
		eventErr   error
		ledgerErr  error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "applied",
			signature:  "sig",
			event:      checkoutEvent(paidSession("sess_1", user)),
			wantStatus: http.StatusOK,
			wantBody:   `"status":"applied"`,
		},
		{
			name:       "missing signature",
			wantStatus: http.StatusBadRequest,
			wantBody:   `"message":"Invalid signature"`,
		},
		{
			name:       "malformed event",
			signature:  "sig",
			eventErr:   fmt.Errorf("%w: bad json", provider.ErrMalformedEvent),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "ignored type",
			signature:  "sig",
			event:      &provider.Event{ID: "evt_x", Type: "customer.updated"},
			wantStatus: http.StatusOK,
			wantBody:   `"status":"ignored"`,
		},
		{
			name:      "unmapped price",
			signature: "sig",
			event: func() *provider.Event {
				s := paidSession("sess_2", user)
				s.Lines = []provider.SessionLine{{PriceID: "price_missing", Quantity: 1}}
				return checkoutEvent(s)
			}(),
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "database down",
			signature:  "sig",
			event:      checkoutEvent(paidSession("sess_3", user)),
			ledgerErr:  fmt.Errorf("%w: timeout", ledger.ErrPersistence),
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newStubProvider()
			p.event = tt.event
			p.eventErr = tt.eventErr
			l := newFakeLedger(user)
			l.err = tt.ledgerErr
			s := newTestServer(p, l)

			rec := s.do(t, "/api/v1/payments/webhook", `{"id":"evt"}`, map[string]string{"Stripe-Signature": tt.signature})
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body = %s, want %s", rec.Body.String(), tt.wantBody)
			}
			if rec.Code == http.StatusOK && !strings.Contains(rec.Body.String(), `"received":true`) {
				t.Fatalf("ack body = %s", rec.Body.String())
			}
		})
	}
}

func TestWebhookHandler_BodyLimit(t *testing.T) {
	s := newTestServer(newStubProvider(), newFakeLedger())
	big := strings.Repeat("a", maxWebhookBody+1)

	rec := s.do(t, "/api/v1/payments/webhook", big, map[string]string{"Stripe-Signature": "sig"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestVerifyHandler(t *testing.T) {
	owner := uuid.New()
	other := uuid.New()

	tests := []struct {
		name       string
		body       string
		caller     uuid.UUID
		wantStatus int
		check      func(t *testing.T, resp VerifyResponse)
	}{
		{
			name:       "owner applies",
			body:       `{"sessionId":"sess_owned"}`,
			caller:     owner,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, resp VerifyResponse) {
				if !resp.Success || !resp.Verified || resp.Credits != 500 || resp.Outcome != ledger.OutcomeApplied {
					t.Fatalf("resp = %+v", resp)
				}
			},
		},
		{
			name:       "anonymous guest gets a claim",
			body:       `{"sessionId":"sess_guest"}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, resp VerifyResponse) {
				if !resp.Verified || resp.ClaimID == "" {
					t.Fatalf("resp = %+v", resp)
				}
			},
		},
		{name: "another user", body: `{"sessionId":"sess_owned"}`, caller: other, wantStatus: http.StatusForbidden},
		{name: "unknown session", body: `{"sessionId":"sess_nope"}`, caller: owner, wantStatus: http.StatusNotFound},
		{name: "missing session id", body: `{}`, wantStatus: http.StatusUnprocessableEntity},
		{name: "bad json", body: `{`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newStubProvider(paidSession("sess_owned", owner), paidSession("sess_guest", uuid.Nil))
			s := newTestServer(p, newFakeLedger(owner, other))

			var header map[string]string
			if tt.caller != uuid.Nil {
				header = s.bearer(t, tt.caller)
			}
			rec := s.do(t, "/api/v1/payments/verify", tt.body, header)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.check != nil {
				var resp VerifyResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode: %v", err)
				}
				tt.check(t, resp)
			}
		})
	}
}

func TestRedeemHandler(t *testing.T) {
	user := uuid.New()
	p := newStubProvider(paidSession("sess_guest", uuid.Nil))
	l := newFakeLedger(user)
	s := newTestServer(p, l)

	rec := s.do(t, "/api/v1/payments/claims/redeem", `{"sessionId":"sess_guest"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous redeem status = %d", rec.Code)
	}

	rec = s.do(t, "/api/v1/payments/claims/redeem", `{"sessionId":"sess_guest"}`, s.bearer(t, user))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("redeem before claim status = %d", rec.Code)
	}

	if rec := s.do(t, "/api/v1/payments/verify", `{"sessionId":"sess_guest"}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d", rec.Code)
	}

	rec = s.do(t, "/api/v1/payments/claims/redeem", `{"sessionId":"sess_guest"}`, s.bearer(t, user))
	if rec.Code != http.StatusOK {
		t.Fatalf("redeem status = %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"credits":500`) {
		t.Fatalf("body = %s", rec.Body.String())
	}

	rec = s.do(t, "/api/v1/payments/claims/redeem", `{"sessionId":"sess_guest"}`, s.bearer(t, uuid.New()))
	if rec.Code != http.StatusConflict {
		t.Fatalf("second user redeem status = %d", rec.Code)
	}
}
