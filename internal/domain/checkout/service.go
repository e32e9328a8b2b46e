package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yogaspace/yogaspace-api/internal/domain/catalog"
	"github.com/yogaspace/yogaspace-api/internal/pkg/logger"
	"github.com/yogaspace/yogaspace-api/internal/pkg/metrics"
	"github.com/yogaspace/yogaspace-api/internal/pkg/payment"
)

// Config holds the return URLs. {CHECKOUT_SESSION_ID} is substituted by the provider.
type Config struct {
	SuccessURL string
	CancelURL  string
}

// Result is the created hosted checkout page.
type Result struct {
	URL       string
	SessionID string
	Mode      payment.Mode
}

// Service is the checkout initiator. It holds no state of its own.
type Service struct {
	provider payment.Provider
	catalog  *catalog.Catalog
	cfg      Config
}

func NewService(provider payment.Provider, c *catalog.Catalog, cfg Config) *Service {
	return &Service{provider: provider, catalog: c, cfg: cfg}
}

// Start checks the intent against the catalog and creates a provider session.
// requestedMode may be empty; when set it must match the intent.
func (s *Service) Start(ctx context.Context, intent PurchaseIntent, requestedMode payment.Mode, payer uuid.UUID, idempotencyKey string) (*Result, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if intent.Currency == "" {
		intent.Currency = s.catalog.Currency
	}
	if !strings.EqualFold(intent.Currency, s.catalog.Currency) {
		return nil, fmt.Errorf("%w: currency %q not accepted", ErrInvalidIntent, intent.Currency)
	}

	req, err := s.buildRequest(intent, payer)
	if err != nil {
		return nil, err
	}
	if requestedMode != "" && requestedMode != req.Mode {
		return nil, fmt.Errorf("%w: %s cannot be bought in %s mode", ErrInvalidIntent, intent.Kind, requestedMode)
	}
	req.IdempotencyKey = idempotencyKey

	sess, err := s.provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		metrics.CheckoutSession(string(req.Mode), "error")
		logger.FromContext(ctx).Error().Err(err).
			Str("item_id", intent.ItemID).
			Str("kind", string(intent.Kind)).
			Msg("create checkout session failed")
		return nil, err
	}

	metrics.CheckoutSession(string(req.Mode), "created")
	logger.FromContext(ctx).Info().
		Str("session_id", sess.ID).
		Str("item_id", intent.ItemID).
		Str("kind", string(intent.Kind)).
		Int("quantity", intent.Quantity).
		Str("user_id", payer.String()).
		Msg("checkout session created")

	return &Result{URL: sess.URL, SessionID: sess.ID, Mode: req.Mode}, nil
}

func (s *Service) buildRequest(intent PurchaseIntent, payer uuid.UUID) (payment.CreateSessionRequest, error) {
	req := payment.CreateSessionRequest{
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
	}
	if payer != uuid.Nil {
		req.ClientReferenceID = payer.String()
	}

	switch intent.Kind {
	case catalog.KindCreditPackage:
		pkg, err := s.catalog.Package(intent.ItemID)
		if err != nil {
			return req, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
		}
		if !pkg.Price.Equal(intent.UnitPrice) {
			return req, fmt.Errorf("%w: price %s does not match package %s", ErrInvalidIntent, intent.UnitPrice, pkg.ID)
		}
		req.Mode = payment.ModePayment
		req.LineItems = []payment.LineItem{{Name: pkg.Name, PriceID: pkg.PriceID, Quantity: int64(intent.Quantity)}}
		req.Metadata = intent.Metadata(payer, intent.Credits(pkg.Credits))

	case catalog.KindMembershipTier:
		tier, err := s.catalog.Tier(intent.ItemID)
		if err != nil {
			return req, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
		}
		if !tier.Price.Equal(intent.UnitPrice) {
			return req, fmt.Errorf("%w: price %s does not match tier %s", ErrInvalidIntent, intent.UnitPrice, tier.ID)
		}
		req.Mode = payment.ModeSubscription
		req.LineItems = []payment.LineItem{{Name: tier.Name, PriceID: tier.PriceID, Quantity: 1}}
		req.Metadata = intent.Metadata(payer, 0)

	case catalog.KindCustomCredits:
		if !s.catalog.AllowsCustom(intent.Quantity) {
			return req, fmt.Errorf("%w: %d credits outside the allowed range", ErrInvalidIntent, intent.Quantity)
		}
		if !s.catalog.Custom.UnitPrice.Equal(intent.UnitPrice) {
			return req, fmt.Errorf("%w: unit price %s does not match", ErrInvalidIntent, intent.UnitPrice)
		}
		intent.ItemID = "custom"
		total := intent.UnitPrice.Mul(decimal.NewFromInt(int64(intent.Quantity)))
		req.Mode = payment.ModePayment
		req.LineItems = []payment.LineItem{{
			Name:       fmt.Sprintf("%d class credits", intent.Quantity),
			UnitAmount: catalog.MinorUnits(total),
			Currency:   s.catalog.Currency,
			Quantity:   1,
		}}
		req.Metadata = intent.Metadata(payer, intent.Quantity)
	}
	return req, nil
}
