package checkout

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yogaspace/yogaspace-api/internal/domain/catalog"
)

// Session metadata keys. They survive the redirect round-trip and are read
// back by the webhook and verifier.
const (
	MetaPurchaseKind = "purchase_kind"
	MetaPackageID    = "package_id"
	MetaTierID       = "tier_id"
	MetaCreditAmount = "credit_amount"
	MetaUnitPrice    = "unit_price"
	MetaCurrency     = "currency"
	MetaUserID       = "user_id"
)

// PurchaseIntent is what the buyer asked for. Quantity is the number of
// packages for credit_package and the number of credits for custom amounts.
type PurchaseIntent struct {
	ItemID    string
	Kind      catalog.Kind
	Quantity  int
	UnitPrice decimal.Decimal
	Currency  string
}

func (i PurchaseIntent) Validate() error {
	switch {
	case strings.TrimSpace(i.ItemID) == "" && i.Kind != catalog.KindCustomCredits:
		return fmt.Errorf("%w: item id is required", ErrInvalidIntent)
	case !i.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidIntent, i.Kind)
	case i.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidIntent)
	case !i.UnitPrice.IsPositive():
		return fmt.Errorf("%w: price must be positive", ErrInvalidIntent)
	case i.Kind == catalog.KindMembershipTier && i.Quantity != 1:
		return fmt.Errorf("%w: membership quantity must be 1", ErrInvalidIntent)
	}
	return nil
}

// Credits is the number of credits the intent buys for a given package size.
func (i PurchaseIntent) Credits(perPackage int) int {
	if i.Kind == catalog.KindCustomCredits {
		return i.Quantity
	}
	return perPackage * i.Quantity
}

// Metadata encodes the intent for the provider session.
func (i PurchaseIntent) Metadata(payer uuid.UUID, credits int) map[string]string {
	md := map[string]string{
		MetaPurchaseKind: string(i.Kind),
		MetaUnitPrice:    i.UnitPrice.String(),
		MetaCurrency:     strings.ToLower(i.Currency),
	}
	switch i.Kind {
	case catalog.KindMembershipTier:
		md[MetaTierID] = i.ItemID
	default:
		md[MetaPackageID] = i.ItemID
		md[MetaCreditAmount] = strconv.Itoa(credits)
	}
	if payer != uuid.Nil {
		md[MetaUserID] = payer.String()
	}
	return md
}

// IntentFromMetadata decodes what Metadata wrote. credits is the stored
// credit total, 0 for memberships.
func IntentFromMetadata(md map[string]string) (intent PurchaseIntent, credits int, err error) {
	intent.Kind = catalog.Kind(md[MetaPurchaseKind])
	if !intent.Kind.Valid() {
		return intent, 0, fmt.Errorf("%w: metadata purchase kind %q", ErrInvalidIntent, md[MetaPurchaseKind])
	}

	intent.Currency = md[MetaCurrency]
	if raw := md[MetaUnitPrice]; raw != "" {
		if intent.UnitPrice, err = decimal.NewFromString(raw); err != nil {
			return intent, 0, fmt.Errorf("%w: metadata unit price %q", ErrInvalidIntent, raw)
		}
	}

	if intent.Kind == catalog.KindMembershipTier {
		intent.ItemID = md[MetaTierID]
		intent.Quantity = 1
		return intent, 0, nil
	}

	intent.ItemID = md[MetaPackageID]
	credits, err = strconv.Atoi(md[MetaCreditAmount])
	if err != nil || credits <= 0 {
		return intent, 0, fmt.Errorf("%w: metadata credit amount %q", ErrInvalidIntent, md[MetaCreditAmount])
	}
	if intent.Kind == catalog.KindCustomCredits {
		intent.Quantity = credits
	}
	return intent, credits, nil
}

// PayerFromMetadata returns the user id recorded at checkout, or uuid.Nil.
func PayerFromMetadata(md map[string]string) uuid.UUID {
	id, err := uuid.Parse(md[MetaUserID])
	if err != nil {
		return uuid.Nil
	}
	return id
}
