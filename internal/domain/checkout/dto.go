package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/yogaspace/yogaspace-api/internal/domain/catalog"
)

// CreateRequest is the checkout request body. Price is per package, per
// membership period, or per credit for custom amounts.
type CreateRequest struct {
	PackageID    string          `json:"packageId" validate:"omitempty,max=64"`
	PackageName  string          `json:"packageName" validate:"omitempty,max=128"`
	TierID       string          `json:"tierId" validate:"omitempty,max=64"`
	CreditAmount int             `json:"creditAmount" validate:"gte=0"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency" validate:"omitempty,len=3"`
	Mode         string          `json:"mode" validate:"checkout_mode"`
	Quantity     int             `json:"quantity" validate:"gte=0,lte=100"`
}

// ToIntent maps the request onto a PurchaseIntent.
func (r CreateRequest) ToIntent() PurchaseIntent {
	intent := PurchaseIntent{
		UnitPrice: r.Price,
		Currency:  r.Currency,
		Quantity:  r.Quantity,
	}

	switch {
	case r.TierID != "":
		intent.Kind = catalog.KindMembershipTier
		intent.ItemID = r.TierID
		if intent.Quantity == 0 {
			intent.Quantity = 1
		}
	case r.PackageID == "custom" || (r.PackageID == "" && r.CreditAmount > 0):
		intent.Kind = catalog.KindCustomCredits
		intent.ItemID = "custom"
		intent.Quantity = r.CreditAmount
	default:
		intent.Kind = catalog.KindCreditPackage
		intent.ItemID = r.PackageID
		if intent.Quantity == 0 {
			intent.Quantity = 1
		}
	}
	return intent
}

// CreateResponse is returned as the raw body.
type CreateResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}
