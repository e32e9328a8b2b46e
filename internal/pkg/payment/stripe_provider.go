package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/yogaspace/yogaspace-api/internal/pkg/metrics"
)

const defaultTimeout = 10 * time.Second

// StripeConfig configures the Stripe-backed Provider.
type StripeConfig struct {
	SecretKey         string
	WebhookSecret     string
	Timeout           time.Duration
	MaxNetworkRetries int64
	// APIURL overrides the API host, used against a local fake in tests.
	APIURL string
}

// StripeProvider implements Provider on top of stripe-go.
type StripeProvider struct {
	sessions      *session.Client
	webhookSecret string
	timeout       time.Duration
}

// NewStripeProvider builds a client with its own backend; no package globals are touched.
func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
		LeveledLogger:     zerologLeveled{},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(cfg.APIURL, "/"))
	}

	return &StripeProvider{
		sessions: &session.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
		webhookSecret: cfg.WebhookSecret,
		timeout:       timeout,
	}
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(req.Mode)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata:   req.Metadata,
	}
	params.Context = ctx
	if req.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(req.ClientReferenceID)
	}
	if req.Mode == ModeSubscription {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		}
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	for _, li := range req.LineItems {
		item := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(li.Quantity),
		}
		if li.PriceID != "" {
			item.Price = stripe.String(li.PriceID)
		} else {
			item.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(li.Currency),
				UnitAmount: stripe.Int64(li.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(li.Name),
				},
			}
		}
		params.LineItems = append(params.LineItems, item)
	}

	start := time.Now()
	s, err := p.sessions.New(params)
	metrics.ObserveProvider("create_session", start, err)
	if err != nil {
		return nil, classifyError(ctx, "create checkout session", err)
	}
	return sessionFromStripe(s), nil
}

func (p *StripeProvider) GetCheckoutSession(ctx context.Context, id string) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")

	start := time.Now()
	s, err := p.sessions.Get(id, params)
	metrics.ObserveProvider("get_session", start, err)
	if err != nil {
		return nil, classifyError(ctx, "get checkout session", err)
	}
	return sessionFromStripe(s), nil
}

func (p *StripeProvider) ListCompletedSessions(ctx context.Context, since time.Time, limit int) ([]*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout*3)
	defer cancel()

	params := &stripe.CheckoutSessionListParams{
		Status: stripe.String(string(stripe.CheckoutSessionStatusComplete)),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(100)
	params.Filters.AddFilter("created", "gte", strconv.FormatInt(since.Unix(), 10))
	params.AddExpand("data.line_items")

	start := time.Now()
	out := make([]*Session, 0)
	it := p.sessions.List(params)
	for it.Next() {
		out = append(out, sessionFromStripe(it.CheckoutSession()))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	err := it.Err()
	metrics.ObserveProvider("list_sessions", start, err)
	if err != nil {
		return nil, classifyError(ctx, "list checkout sessions", err)
	}
	return out, nil
}

func (p *StripeProvider) ConstructEvent(payload []byte, signature string) (*Event, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, fmt.Errorf("%w: missing signature header", ErrSignatureInvalid)
	}

	evt, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	out := &Event{ID: evt.ID, Type: string(evt.Type)}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return out, nil
	}

	switch out.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncSucceeded:
		var s webhookSession
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("%w: decode checkout.session: %v", ErrMalformedEvent, err)
		}
		out.Session = s.toSession()
	case EventSubscriptionDeleted:
		var sub webhookSubscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: decode subscription: %v", ErrMalformedEvent, err)
		}
		out.Subscription = sub.toSubscription()
	case EventInvoicePaid:
		var inv webhookInvoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: decode invoice: %v", ErrMalformedEvent, err)
		}
		out.Invoice = inv.toInvoice()
	}
	return out, nil
}

func sessionFromStripe(s *stripe.CheckoutSession) *Session {
	if s == nil {
		return nil
	}
	out := &Session{
		ID:                s.ID,
		URL:               s.URL,
		Mode:              Mode(s.Mode),
		Status:            SessionStatus(s.Status),
		PaymentStatus:     PaymentStatus(s.PaymentStatus),
		ClientReferenceID: s.ClientReferenceID,
		Metadata:          s.Metadata,
		AmountTotal:       s.AmountTotal,
		Currency:          string(s.Currency),
		CreatedAt:         time.Unix(s.Created, 0).UTC(),
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.LineItems != nil {
		for _, li := range s.LineItems.Data {
			if li == nil || li.Price == nil {
				continue
			}
			out.Lines = append(out.Lines, SessionLine{PriceID: li.Price.ID, Quantity: li.Quantity})
		}
	}
	return out
}

// Webhook payloads carry unexpanded references as plain ids, so they are
// decoded into local shapes rather than the API types.
type webhookSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Created           int64             `json:"created"`
	Metadata          map[string]string `json:"metadata"`
	LineItems         *struct {
		Data []struct {
			Quantity int64 `json:"quantity"`
			Price    struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"line_items"`
}

func (s webhookSession) toSession() *Session {
	out := &Session{
		ID:                s.ID,
		Mode:              Mode(s.Mode),
		Status:            SessionStatus(s.Status),
		PaymentStatus:     PaymentStatus(s.PaymentStatus),
		ClientReferenceID: s.ClientReferenceID,
		Metadata:          s.Metadata,
		AmountTotal:       s.AmountTotal,
		Currency:          s.Currency,
		SubscriptionID:    s.Subscription,
		CustomerID:        s.Customer,
		CreatedAt:         time.Unix(s.Created, 0).UTC(),
	}
	if s.LineItems != nil {
		for _, li := range s.LineItems.Data {
			out.Lines = append(out.Lines, SessionLine{PriceID: li.Price.ID, Quantity: li.Quantity})
		}
	}
	return out
}

type webhookSubscription struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Customer string            `json:"customer"`
	Metadata map[string]string `json:"metadata"`
	Items    struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s webhookSubscription) toSubscription() *Subscription {
	out := &Subscription{ID: s.ID, Status: s.Status, CustomerID: s.Customer, Metadata: s.Metadata}
	for _, item := range s.Items.Data {
		if item.Price.ID != "" {
			out.PriceIDs = append(out.PriceIDs, item.Price.ID)
		}
	}
	return out
}

// Newer API versions moved the subscription reference under parent; both shapes are accepted.
type webhookInvoice struct {
	ID            string `json:"id"`
	BillingReason string `json:"billing_reason"`
	Subscription  string `json:"subscription"`
	Parent        struct {
		SubscriptionDetails struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Price *struct {
				ID string `json:"id"`
			} `json:"price"`
			Pricing *struct {
				PriceDetails struct {
					Price string `json:"price"`
				} `json:"price_details"`
			} `json:"pricing"`
		} `json:"data"`
	} `json:"lines"`
}

func (i webhookInvoice) toInvoice() *Invoice {
	out := &Invoice{
		ID:             i.ID,
		BillingReason:  i.BillingReason,
		SubscriptionID: i.Subscription,
		Metadata:       i.Parent.SubscriptionDetails.Metadata,
	}
	if out.SubscriptionID == "" {
		out.SubscriptionID = i.Parent.SubscriptionDetails.Subscription
	}
	for _, line := range i.Lines.Data {
		switch {
		case line.Price != nil && line.Price.ID != "":
			out.PriceIDs = append(out.PriceIDs, line.Price.ID)
		case line.Pricing != nil && line.Pricing.PriceDetails.Price != "":
			out.PriceIDs = append(out.PriceIDs, line.Pricing.PriceDetails.Price)
		}
	}
	return out
}

func classifyError(ctx context.Context, op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s: %s", ErrSessionNotFound, op, stripeErr.Msg)
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %s: status=%d %s", ErrProviderUnavailable, op, stripeErr.HTTPStatusCode, stripeErr.Msg)
		default:
			return fmt.Errorf("%w: %s: status=%d %s", ErrInvalidRequest, op, stripeErr.HTTPStatusCode, stripeErr.Msg)
		}
	}
	if isTimeoutError(ctx, err) {
		return fmt.Errorf("%w: %s timeout: %v", ErrProviderUnavailable, op, err)
	}
	if isNetworkError(err) {
		return fmt.Errorf("%w: %s network error: %v", ErrProviderUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, op, err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}

// zerologLeveled bridges stripe-go's logger into zerolog.
type zerologLeveled struct{}

func (zerologLeveled) Debugf(format string, v ...interface{}) {
	log.Debug().Str("component", "stripe").Msgf(format, v...)
}

func (zerologLeveled) Infof(format string, v ...interface{}) {
	log.Debug().Str("component", "stripe").Msgf(format, v...)
}

func (zerologLeveled) Warnf(format string, v ...interface{}) {
	log.Warn().Str("component", "stripe").Msgf(format, v...)
}

func (zerologLeveled) Errorf(format string, v ...interface{}) {
	log.Error().Str("component", "stripe").Msgf(format, v...)
}
