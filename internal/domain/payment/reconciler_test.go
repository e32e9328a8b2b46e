package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yogaspace/yogaspace-api/internal/domain/ledger"
	"github.com/yogaspace/yogaspace-api/internal/pkg/lock"
	provider "github.com/yogaspace/yogaspace-api/internal/pkg/payment"
)

type busyLocker struct{}

func (busyLocker) TryLock(context.Context, string, time.Duration) (string, error) {
	return "", lock.ErrNotAcquired
}
func (busyLocker) Unlock(context.Context, string, string) error { return nil }

func TestReconciler_RunOnce(t *testing.T) {
	user := uuid.New()

	missed := paidSession("sess_missed", user)
	seen := paidSession("sess_seen", user)
	guest := paidSession("sess_guest", uuid.Nil)
	unpaid := paidSession("sess_unpaid", user)
	unpaid.PaymentStatus = provider.PaymentUnpaid
	old := paidSession("sess_old", user)
	old.CreatedAt = time.Now().Add(-30 * 24 * time.Hour)
	broken := paidSession("sess_broken", user)
	broken.Lines = []provider.SessionLine{{PriceID: "price_gone", Quantity: 1}}

	p := newStubProvider(missed, seen, guest, unpaid, old, broken)
	l := newFakeLedger(user)
	l.applied["sess_seen"] = ledger.Grant{PaymentID: "sess_seen", UserID: user}
	l.expired = 2

	r := NewReconciler(p, testResolver(), l, nil, ReconcilerConfig{Lookback: 48 * time.Hour})
	stats, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	want := ReconcileStats{Examined: 5, Applied: 1, AlreadyApplied: 1, Deferred: 1, Skipped: 1, Failed: 1, ClaimsExpired: 2}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
	if g := l.applied["sess_missed"]; g.Source != ledger.SourceReconciler {
		t.Fatalf("missed grant = %+v", g)
	}
	if _, ok := l.applied["sess_old"]; ok {
		t.Fatal("session outside lookback was applied")
	}

	again, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if again.Applied != 0 || again.AlreadyApplied != 2 {
		t.Fatalf("second pass = %+v", again)
	}
}

func TestReconciler_LockHeldElsewhere(t *testing.T) {
	p := newStubProvider(paidSession("sess_1", uuid.Nil))
	r := NewReconciler(p, testResolver(), newFakeLedger(), busyLocker{}, ReconcilerConfig{})

	_, err := r.RunOnce(context.Background())
	if !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("err = %v", err)
	}
}

func TestReconciler_StartStop(t *testing.T) {
	user := uuid.New()
	p := newStubProvider(paidSession("sess_loop", user))
	l := newFakeLedger(user)

	r := NewReconciler(p, testResolver(), l, nil, ReconcilerConfig{Interval: time.Hour})
	r.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for l.appliedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	r.Wake()
	r.Stop()
	r.Stop()

	if l.appliedCount() != 1 {
		t.Fatalf("applied = %d", l.appliedCount())
	}
}

func TestReconciler_Replay(t *testing.T) {
	owner := uuid.New()
	operatorPick := uuid.New()
	unpaid := paidSession("sess_unpaid", owner)
	unpaid.PaymentStatus = provider.PaymentUnpaid

	p := newStubProvider(
		paidSession("sess_owned", owner),
		paidSession("sess_guest", uuid.Nil),
		paidSession("sess_assign", uuid.Nil),
		unpaid,
	)
	l := newFakeLedger(owner, operatorPick)
	r := NewReconciler(p, testResolver(), l, nil, ReconcilerConfig{})
	ctx := context.Background()

	tests := []struct {
		name    string
		session string
		payer   uuid.UUID
		want    string
		wantErr error
	}{
		{name: "session payer", session: "sess_owned", want: StatusApplied},
		{name: "replay is idempotent", session: "sess_owned", want: StatusAlreadyApplied},
		{name: "guest deferred", session: "sess_guest", want: StatusDeferred},
		{name: "operator assigns payer", session: "sess_assign", payer: operatorPick, want: StatusApplied},
		{name: "unknown operator payer", session: "sess_guest", payer: uuid.New(), wantErr: ledger.ErrUserNotFound},
		{name: "unpaid ignored", session: "sess_unpaid", want: StatusIgnored},
		{name: "missing session", session: "sess_nope", wantErr: provider.ErrSessionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Replay(ctx, tt.session, tt.payer)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("Replay = %q, %v; want %q", got, err, tt.want)
			}
		})
	}

	if g := l.applied["sess_assign"]; g.UserID != operatorPick || g.Source != ledger.SourceManual {
		t.Fatalf("assigned grant = %+v", g)
	}
}
