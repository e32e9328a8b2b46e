package payment

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	provider "github.com/yogaspace/yogaspace-api/internal/pkg/payment"
)

func TestClassify(t *testing.T) {
	user := uuid.New()

	tests := []struct {
		name    string
		evt     *provider.Event
		want    string
		wantErr error
	}{
		{
			name: "checkout completed",
			evt:  &provider.Event{ID: "evt_1", Type: provider.EventCheckoutCompleted, Session: &provider.Session{ID: "cs_1"}},
			want: "CheckoutCompleted",
		},
		{
			name: "async payment succeeded",
			evt:  &provider.Event{ID: "evt_2", Type: provider.EventCheckoutAsyncSucceeded, Session: &provider.Session{ID: "cs_2"}},
			want: "CheckoutCompleted",
		},
		{
			name:    "checkout without session",
			evt:     &provider.Event{ID: "evt_3", Type: provider.EventCheckoutCompleted},
			wantErr: provider.ErrMalformedEvent,
		},
		{
			name: "subscription deleted",
			evt: &provider.Event{ID: "evt_4", Type: provider.EventSubscriptionDeleted, Subscription: &provider.Subscription{
				ID: "sub_1", Metadata: map[string]string{"user_id": user.String()},
			}},
			want: "SubscriptionCancelled",
		},
		{
			name:    "subscription deleted without object",
			evt:     &provider.Event{ID: "evt_5", Type: provider.EventSubscriptionDeleted},
			wantErr: provider.ErrMalformedEvent,
		},
		{
			name: "renewal invoice",
			evt: &provider.Event{ID: "evt_6", Type: provider.EventInvoicePaid, Invoice: &provider.Invoice{
				ID: "in_1", BillingReason: "subscription_cycle", SubscriptionID: "sub_1", PriceIDs: []string{"price_membership_monthly"},
			}},
			want: "MembershipRenewed",
		},
		{
			name: "first invoice is left to checkout",
			evt: &provider.Event{ID: "evt_7", Type: provider.EventInvoicePaid, Invoice: &provider.Invoice{
				ID: "in_2", BillingReason: "subscription_create", SubscriptionID: "sub_1",
			}},
			wantErr: ErrUnsupportedEvent,
		},
		{
			name: "renewal without subscription",
			evt: &provider.Event{ID: "evt_8", Type: provider.EventInvoicePaid, Invoice: &provider.Invoice{
				ID: "in_3", BillingReason: "subscription_cycle",
			}},
			wantErr: provider.ErrMalformedEvent,
		},
		{
			name:    "unknown type",
			evt:     &provider.Event{ID: "evt_9", Type: "customer.created"},
			wantErr: ErrUnsupportedEvent,
		},
		{
			name:    "nil event",
			wantErr: provider.ErrMalformedEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.evt)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if got.ID() != tt.evt.ID {
				t.Fatalf("ID() = %q, want %q", got.ID(), tt.evt.ID)
			}

			var kind string
			switch e := got.(type) {
			case CheckoutCompleted:
				kind = "CheckoutCompleted"
			case SubscriptionCancelled:
				kind = "SubscriptionCancelled"
				if e.UserID != user {
					t.Fatalf("user = %s, want %s", e.UserID, user)
				}
			case MembershipRenewed:
				kind = "MembershipRenewed"
				if e.InvoiceID != "in_1" || e.SubscriptionID != "sub_1" {
					t.Fatalf("renewal = %+v", e)
				}
			}
			if kind != tt.want {
				t.Fatalf("kind = %s, want %s", kind, tt.want)
			}
		})
	}
}
