package payment

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/yogaspace/yogaspace-api/internal/domain/checkout"
	provider "github.com/yogaspace/yogaspace-api/internal/pkg/payment"
)

const billingReasonCycle = "subscription_cycle"

// PaymentEvent is the closed set of provider events the ledger reacts to.
type PaymentEvent interface {
	ID() string
	paymentEvent()
}

// CheckoutCompleted carries a finished checkout session.
type CheckoutCompleted struct {
	EventID string
	Session *provider.Session
}

// SubscriptionCancelled ends a membership.
type SubscriptionCancelled struct {
	EventID        string
	SubscriptionID string
	UserID         uuid.UUID
}

// MembershipRenewed is a paid invoice for a later billing cycle.
type MembershipRenewed struct {
	EventID        string
	InvoiceID      string
	SubscriptionID string
	PriceIDs       []string
	UserID         uuid.UUID
}

func (e CheckoutCompleted) ID() string     { return e.EventID }
func (e SubscriptionCancelled) ID() string { return e.EventID }
func (e MembershipRenewed) ID() string     { return e.EventID }

func (CheckoutCompleted) paymentEvent()     {}
func (SubscriptionCancelled) paymentEvent() {}
func (MembershipRenewed) paymentEvent()     {}

// Classify maps a verified provider event onto a PaymentEvent.
func Classify(evt *provider.Event) (PaymentEvent, error) {
	if evt == nil {
		return nil, fmt.Errorf("%w: empty event", provider.ErrMalformedEvent)
	}

	switch evt.Type {
	case provider.EventCheckoutCompleted, provider.EventCheckoutAsyncSucceeded:
		if evt.Session == nil || evt.Session.ID == "" {
			return nil, fmt.Errorf("%w: %s without session", provider.ErrMalformedEvent, evt.Type)
		}
		return CheckoutCompleted{EventID: evt.ID, Session: evt.Session}, nil

	case provider.EventSubscriptionDeleted:
		if evt.Subscription == nil || evt.Subscription.ID == "" {
			return nil, fmt.Errorf("%w: %s without subscription", provider.ErrMalformedEvent, evt.Type)
		}
		return SubscriptionCancelled{
			EventID:        evt.ID,
			SubscriptionID: evt.Subscription.ID,
			UserID:         checkout.PayerFromMetadata(evt.Subscription.Metadata),
		}, nil

	case provider.EventInvoicePaid:
		inv := evt.Invoice
		if inv == nil || inv.ID == "" {
			return nil, fmt.Errorf("%w: %s without invoice", provider.ErrMalformedEvent, evt.Type)
		}
		// The first invoice is covered by checkout.session.completed.
		if inv.BillingReason != billingReasonCycle {
			return nil, fmt.Errorf("%w: invoice billing reason %q", ErrUnsupportedEvent, inv.BillingReason)
		}
		if inv.SubscriptionID == "" {
			return nil, fmt.Errorf("%w: renewal invoice %s without subscription", provider.ErrMalformedEvent, inv.ID)
		}
		return MembershipRenewed{
			EventID:        evt.ID,
			InvoiceID:      inv.ID,
			SubscriptionID: inv.SubscriptionID,
			PriceIDs:       inv.PriceIDs,
			UserID:         checkout.PayerFromMetadata(inv.Metadata),
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, evt.Type)
}
