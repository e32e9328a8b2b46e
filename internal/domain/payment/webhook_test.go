package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/yogaspace/yogaspace-api/internal/domain/ledger"
	provider "github.com/yogaspace/yogaspace-api/internal/pkg/payment"
)

func checkoutEvent(s *provider.Session) *provider.Event {
	return &provider.Event{ID: "evt_" + s.ID, Type: provider.EventCheckoutCompleted, Session: s}
}

func TestWebhook_DuplicateDeliveryAppliesOnce(t *testing.T) {
	user := uuid.New()
	sess := paidSession("sess_1", user)
	p := newStubProvider(sess)
	p.event = checkoutEvent(sess)
	l := newFakeLedger(user)
	svc := NewWebhookService(p, testResolver(), l)

	first, err := svc.Handle(context.Background(), []byte(`{}`), "t=1,v1=sig")
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	second, err := svc.Handle(context.Background(), []byte(`{}`), "t=1,v1=sig")
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if first != StatusApplied || second != StatusAlreadyApplied {
		t.Fatalf("statuses = %s, %s", first, second)
	}
	if l.appliedCount() != 1 || l.applied["sess_1"].Credits != 500 {
		t.Fatalf("applied = %+v", l.applied)
	}
	if l.applied["sess_1"].Source != ledger.SourceWebhook {
		t.Fatalf("source = %s", l.applied["sess_1"].Source)
	}
}

func TestWebhook_SignatureRejected(t *testing.T) {
	l := newFakeLedger()
	svc := NewWebhookService(newStubProvider(), testResolver(), l)

	_, err := svc.Handle(context.Background(), []byte(`{}`), "")
	if !errors.Is(err, provider.ErrSignatureInvalid) {
		t.Fatalf("err = %v", err)
	}
	if l.appliedCount() != 0 {
		t.Fatal("ledger must not change on a bad signature")
	}
}

func TestWebhook_RefetchesSessionWithoutLines(t *testing.T) {
	user := uuid.New()
	stored := paidSession("sess_2", user)
	p := newStubProvider(stored)

	bare := *stored
	bare.Lines = nil
	p.event = checkoutEvent(&bare)

	l := newFakeLedger(user)
	status, err := NewWebhookService(p, testResolver(), l).Handle(context.Background(), nil, "sig")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if status != StatusApplied || p.gets != 1 {
		t.Fatalf("status = %s, gets = %d", status, p.gets)
	}
}

func TestWebhook_Outcomes(t *testing.T) {
	user := uuid.New()

	tests := []struct {
		name       string
		event      func() *provider.Event
		users      []uuid.UUID
		ledgerErr  error
		wantStatus string
		wantErr    error
	}{
		{
			name: "unpaid async session is acknowledged",
			event: func() *provider.Event {
				s := paidSession("sess_async", user)
				s.PaymentStatus = provider.PaymentUnpaid
				return checkoutEvent(s)
			},
			users:      []uuid.UUID{user},
			wantStatus: StatusIgnored,
		},
		{
			name:       "unknown event type is acknowledged",
			event:      func() *provider.Event { return &provider.Event{ID: "evt_x", Type: "charge.refunded"} },
			wantStatus: StatusIgnored,
		},
		{
			name:       "anonymous session becomes a claim",
			event:      func() *provider.Event { return checkoutEvent(paidSession("sess_anon", uuid.Nil)) },
			wantStatus: StatusDeferred,
		},
		{
			name:       "missing user becomes a claim",
			event:      func() *provider.Event { return checkoutEvent(paidSession("sess_gone", user)) },
			wantStatus: StatusDeferred,
		},
		{
			name: "unmapped price is surfaced",
			event: func() *provider.Event {
				s := paidSession("sess_unmapped", user)
				s.Lines = []provider.SessionLine{{PriceID: "price_nope", Quantity: 1}}
				return checkoutEvent(s)
			},
			users:   []uuid.UUID{user},
			wantErr: ErrUnmappedPrice,
		},
		{
			name:      "persistence failure is retryable",
			event:     func() *provider.Event { return checkoutEvent(paidSession("sess_db", user)) },
			users:     []uuid.UUID{user},
			ledgerErr: fmt.Errorf("%w: connection refused", ledger.ErrPersistence),
			wantErr:   ledger.ErrPersistence,
		},
		{
			name: "subscription cancelled",
			event: func() *provider.Event {
				return &provider.Event{ID: "evt_cancel", Type: provider.EventSubscriptionDeleted,
					Subscription: &provider.Subscription{ID: "sub_1"}}
			},
			wantStatus: StatusApplied,
		},
		{
			name: "renewal invoice extends membership",
			event: func() *provider.Event {
				return &provider.Event{ID: "evt_renew", Type: provider.EventInvoicePaid, Invoice: &provider.Invoice{
					ID: "in_1", BillingReason: "subscription_cycle", SubscriptionID: "sub_1",
					PriceIDs: []string{"price_membership_monthly"},
					Metadata: map[string]string{"user_id": user.String()},
				}}
			},
			users:      []uuid.UUID{user},
			wantStatus: StatusApplied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newStubProvider()
			p.event = tt.event()
			l := newFakeLedger(tt.users...)
			l.err = tt.ledgerErr

			status, err := NewWebhookService(p, testResolver(), l).Handle(context.Background(), nil, "sig")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if status != tt.wantStatus {
				t.Fatalf("status = %s, want %s", status, tt.wantStatus)
			}
		})
	}
}

func TestWebhookAndVerifierRaceAppliesOnce(t *testing.T) {
	user := uuid.New()
	sess := paidSession("sess_race", user)
	p := newStubProvider(sess)
	p.event = checkoutEvent(sess)
	l := newFakeLedger(user)

	webhook := NewWebhookService(p, testResolver(), l)
	verify := NewVerifyService(p, testResolver(), l, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := webhook.Handle(context.Background(), nil, "sig")
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := verify.Verify(context.Background(), sess.ID, user)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent apply: %v", err)
		}
	}
	if l.appliedCount() != 1 {
		t.Fatalf("applied %d times", l.appliedCount())
	}
}
