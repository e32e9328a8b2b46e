package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yogaspace/yogaspace-api/internal/domain/catalog"
	"github.com/yogaspace/yogaspace-api/internal/domain/ledger"
	provider "github.com/yogaspace/yogaspace-api/internal/pkg/payment"
)

type stubProvider struct {
	provider.Provider

	mu       sync.Mutex
	sessions map[string]*provider.Session
	event    *provider.Event
	eventErr error
	getErr   error
	listErr  error
	gets     int
}

func newStubProvider(sessions ...*provider.Session) *stubProvider {
	p := &stubProvider{sessions: map[string]*provider.Session{}}
	for _, s := range sessions {
		p.sessions[s.ID] = s
	}
	return p
}

func (p *stubProvider) GetCheckoutSession(_ context.Context, id string) (*provider.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gets++
	if p.getErr != nil {
		return nil, p.getErr
	}
	s, ok := p.sessions[id]
	if !ok {
		return nil, provider.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (p *stubProvider) ListCompletedSessions(_ context.Context, since time.Time, limit int) ([]*provider.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	var out []*provider.Session
	for _, s := range p.sessions {
		if s.Status != provider.SessionComplete || s.CreatedAt.Before(since) {
			continue
		}
		cp := *s
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (p *stubProvider) ConstructEvent(_ []byte, signature string) (*provider.Event, error) {
	if signature == "" {
		return nil, provider.ErrSignatureInvalid
	}
	if p.eventErr != nil {
		return nil, p.eventErr
	}
	return p.event, nil
}

// fakeLedger keeps the exactly-once contract of ledger.Applier in memory.
type fakeLedger struct {
	mu      sync.Mutex
	applied map[string]ledger.Grant
	claims  map[string]*ledger.Claim
	cancels []ledger.Cancellation
	users   map[uuid.UUID]bool
	err     error
	expired int
}

func newFakeLedger(users ...uuid.UUID) *fakeLedger {
	l := &fakeLedger{
		applied: map[string]ledger.Grant{},
		claims:  map[string]*ledger.Claim{},
		users:   map[uuid.UUID]bool{},
	}
	for _, u := range users {
		l.users[u] = true
	}
	return l
}

func (l *fakeLedger) Apply(_ context.Context, g ledger.Grant) (ledger.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", l.err
	}
	if _, ok := l.applied[g.PaymentID]; ok {
		return ledger.OutcomeAlreadyApplied, nil
	}
	if !l.users[g.UserID] {
		return "", ledger.ErrUserNotFound
	}
	l.applied[g.PaymentID] = g
	return ledger.OutcomeApplied, nil
}

func (l *fakeLedger) Cancel(_ context.Context, c ledger.Cancellation) (ledger.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", l.err
	}
	l.cancels = append(l.cancels, c)
	return ledger.OutcomeApplied, nil
}

func (l *fakeLedger) Defer(_ context.Context, g ledger.Grant, reason string) (*ledger.Claim, ledger.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, "", l.err
	}
	if _, ok := l.applied[g.PaymentID]; ok {
		return nil, ledger.OutcomeAlreadyApplied, nil
	}
	if c, ok := l.claims[g.PaymentID]; ok {
		return c, ledger.OutcomeAlreadyApplied, nil
	}
	c := &ledger.Claim{
		ID:        "01TESTCLAIM" + g.PaymentID,
		SessionID: g.PaymentID,
		Kind:      g.Kind,
		Credits:   g.Credits,
		TierID:    g.TierID,
		Months:    g.Months,
		Status:    ledger.ClaimPending,
		Reason:    reason,
	}
	l.claims[g.PaymentID] = c
	return c, ledger.OutcomeApplied, nil
}

func (l *fakeLedger) Redeem(_ context.Context, sessionID string, userID uuid.UUID) (*ledger.Claim, ledger.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.claims[sessionID]
	if !ok {
		return nil, "", ledger.ErrClaimNotFound
	}
	if c.Status == ledger.ClaimRedeemed {
		if c.RedeemedBy.UUID == userID {
			return c, ledger.OutcomeAlreadyApplied, nil
		}
		return c, "", ledger.ErrClaimUnavailable
	}
	c.Status = ledger.ClaimRedeemed
	c.RedeemedBy = uuid.NullUUID{UUID: userID, Valid: true}
	l.applied[sessionID] = c.Grant(userID, time.Now())
	return c, ledger.OutcomeApplied, nil
}

func (l *fakeLedger) ExpireClaims(context.Context) (int, error) {
	return l.expired, nil
}

func (l *fakeLedger) appliedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.applied)
}

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) NotifyPending(_ context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, id)
	return nil
}

func testResolver() *Resolver {
	return NewResolver(catalog.Default())
}

// paidSession is a completed payment-mode session for the standard package.
func paidSession(id string, payer uuid.UUID) *provider.Session {
	s := &provider.Session{
		ID:            id,
		Mode:          provider.ModePayment,
		Status:        provider.SessionComplete,
		PaymentStatus: provider.PaymentPaid,
		Lines:         []provider.SessionLine{{PriceID: "price_credits_standard", Quantity: 1}},
		AmountTotal:   4500,
		Currency:      "usd",
		Metadata:      map[string]string{"purchase_kind": "credit_package", "package_id": "standard"},
		CreatedAt:     time.Now().Add(-time.Hour),
	}
	if payer != uuid.Nil {
		s.ClientReferenceID = payer.String()
		s.Metadata["user_id"] = payer.String()
	}
	return s
}
