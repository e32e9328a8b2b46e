package payment

import (
	"context"
	"errors"
	"time"
)

const ProviderStripe = "stripe"

var (
	// ErrProviderUnavailable covers network failures, timeouts, 429 and 5xx answers.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrSignatureInvalid    = errors.New("webhook signature invalid")
	ErrMalformedEvent      = errors.New("malformed provider event")
	ErrSessionNotFound     = errors.New("checkout session not found")
	ErrInvalidRequest      = errors.New("payment provider rejected request")
)

// Mode is the checkout session mode.
type Mode string

const (
	ModePayment      Mode = "payment"
	ModeSubscription Mode = "subscription"
)

type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionComplete SessionStatus = "complete"
	SessionExpired  SessionStatus = "expired"
)

type PaymentStatus string

const (
	PaymentPaid              PaymentStatus = "paid"
	PaymentUnpaid            PaymentStatus = "unpaid"
	PaymentNoPaymentRequired PaymentStatus = "no_payment_required"
)

// Provider event types handled by the webhook receiver.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventSubscriptionDeleted    = "customer.subscription.deleted"
	EventInvoicePaid            = "invoice.paid"
)

// Provider is the subset of the payment provider API the service relies on.
type Provider interface {
	// CreateCheckoutSession creates a hosted checkout page.
	CreateCheckoutSession(ctx context.Context, req CreateSessionRequest) (*Session, error)

	// GetCheckoutSession fetches the authoritative session state, line items included.
	GetCheckoutSession(ctx context.Context, id string) (*Session, error)

	// ListCompletedSessions returns completed sessions created at or after since.
	ListCompletedSessions(ctx context.Context, since time.Time, limit int) ([]*Session, error)

	// ConstructEvent verifies the signature header and decodes the event.
	ConstructEvent(payload []byte, signature string) (*Event, error)
}

// LineItem is one purchased line. Either PriceID or UnitAmount+Currency is set.
type LineItem struct {
	Name       string
	PriceID    string
	UnitAmount int64
	Currency   string
	Quantity   int64
}

type CreateSessionRequest struct {
	Mode              Mode
	LineItems         []LineItem
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	Metadata          map[string]string
	IdempotencyKey    string
}

// SessionLine is a line item as reported back by the provider.
type SessionLine struct {
	PriceID  string
	Quantity int64
}

type Session struct {
	ID                string
	URL               string
	Mode              Mode
	Status            SessionStatus
	PaymentStatus     PaymentStatus
	ClientReferenceID string
	Metadata          map[string]string
	Lines             []SessionLine
	AmountTotal       int64
	Currency          string
	SubscriptionID    string
	CustomerID        string
	CreatedAt         time.Time
}

// IsPaid reports whether the provider considers the session settled.
func (s *Session) IsPaid() bool {
	return s.Status == SessionComplete &&
		(s.PaymentStatus == PaymentPaid || s.PaymentStatus == PaymentNoPaymentRequired)
}

type Subscription struct {
	ID         string
	Status     string
	CustomerID string
	Metadata   map[string]string
	PriceIDs   []string
}

type Invoice struct {
	ID             string
	BillingReason  string
	SubscriptionID string
	Metadata       map[string]string
	PriceIDs       []string
}

// Event is a verified provider event. At most one of the payload pointers is set.
type Event struct {
	ID           string
	Type         string
	Session      *Session
	Subscription *Subscription
	Invoice      *Invoice
}
