package payment

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yogaspace/yogaspace-api/internal/domain/catalog"
	"github.com/yogaspace/yogaspace-api/internal/domain/checkout"
	"github.com/yogaspace/yogaspace-api/internal/domain/ledger"
	provider "github.com/yogaspace/yogaspace-api/internal/pkg/payment"
)

// Resolver turns provider sessions into ledger grants using the catalog.
// Amounts always come from the provider record, never from the client.
type Resolver struct {
	catalog *catalog.Catalog
}

func NewResolver(c *catalog.Catalog) *Resolver {
	return &Resolver{catalog: c}
}

// Payer returns the user the session was started for, or uuid.Nil.
func (r *Resolver) Payer(s *provider.Session) uuid.UUID {
	if id, err := uuid.Parse(strings.TrimSpace(s.ClientReferenceID)); err == nil {
		return id
	}
	return checkout.PayerFromMetadata(s.Metadata)
}

// Grant maps a paid session. Sessions whose lines are not in the catalog
// fail with ErrUnmappedPrice and must not touch the ledger.
func (r *Resolver) Grant(s *provider.Session) (ledger.Grant, error) {
	g := ledger.Grant{
		PaymentID:      s.ID,
		UserID:         r.Payer(s),
		SubscriptionID: s.SubscriptionID,
	}

	if catalog.Kind(s.Metadata[checkout.MetaPurchaseKind]) == catalog.KindCustomCredits {
		credits, err := r.customCredits(s)
		if err != nil {
			return g, err
		}
		g.Kind = ledger.KindCredits
		g.Credits = credits
		g.Description = fmt.Sprintf("purchase of %d credits", credits)
		return g, nil
	}

	if len(s.Lines) == 0 {
		return g, fmt.Errorf("%w: session %s has no line items", ErrUnmappedPrice, s.ID)
	}

	var (
		credits int
		names   []string
		tier    *catalog.Tier
	)
	for _, line := range s.Lines {
		entry, ok := r.catalog.ByPriceID(line.PriceID)
		if !ok {
			return g, fmt.Errorf("%w: %s", ErrUnmappedPrice, line.PriceID)
		}
		switch entry.Kind {
		case catalog.KindCreditPackage:
			qty := int(line.Quantity)
			if qty <= 0 {
				qty = 1
			}
			credits += entry.Package.Credits * qty
			names = append(names, entry.Package.ID)
		case catalog.KindMembershipTier:
			if tier != nil {
				return g, fmt.Errorf("%w: session %s has more than one membership", ErrUnmappedPrice, s.ID)
			}
			tier = entry.Tier
		}
	}

	switch {
	case tier != nil && credits > 0:
		return g, fmt.Errorf("%w: session %s mixes credits and membership", ErrUnmappedPrice, s.ID)
	case tier != nil:
		g.Kind = ledger.KindMembership
		g.TierID = tier.ID
		g.Months = tier.Period.Months()
		g.Description = "membership " + tier.ID
	default:
		g.Kind = ledger.KindCredits
		g.Credits = credits
		g.Description = fmt.Sprintf("purchase of %d credits (%s)", credits, strings.Join(names, ", "))
	}
	return g, nil
}

// customCredits trusts the metadata credit amount only when the charged
// total matches the catalog unit price for that amount.
func (r *Resolver) customCredits(s *provider.Session) (int, error) {
	_, credits, err := checkout.IntentFromMetadata(s.Metadata)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnmappedPrice, err)
	}
	if !r.catalog.AllowsCustom(credits) {
		return 0, fmt.Errorf("%w: custom amount %d not allowed", ErrUnmappedPrice, credits)
	}
	if s.Currency != "" && !strings.EqualFold(s.Currency, r.catalog.Currency) {
		return 0, fmt.Errorf("%w: currency %s", ErrUnmappedPrice, s.Currency)
	}

	want := catalog.MinorUnits(r.catalog.Custom.UnitPrice.Mul(decimal.NewFromInt(int64(credits))))
	if s.AmountTotal != want {
		return 0, fmt.Errorf("%w: charged %d for %d credits, expected %d", ErrUnmappedPrice, s.AmountTotal, credits, want)
	}
	return credits, nil
}

// RenewalGrant maps a subscription-cycle invoice onto a membership extension.
func (r *Resolver) RenewalGrant(e MembershipRenewed) (ledger.Grant, error) {
	g := ledger.Grant{
		PaymentID:      e.InvoiceID,
		UserID:         e.UserID,
		Kind:           ledger.KindMembership,
		Renewal:        true,
		SubscriptionID: e.SubscriptionID,
	}
	for _, priceID := range e.PriceIDs {
		entry, ok := r.catalog.ByPriceID(priceID)
		if !ok || entry.Kind != catalog.KindMembershipTier {
			continue
		}
		g.TierID = entry.Tier.ID
		g.Months = entry.Tier.Period.Months()
		g.Description = "membership renewal " + entry.Tier.ID
		return g, nil
	}
	return g, fmt.Errorf("%w: invoice %s has no membership price", ErrUnmappedPrice, e.InvoiceID)
}
