package catalog

import "github.com/shopspring/decimal"

// Kind is what a purchase buys.
type Kind string

const (
	KindCreditPackage  Kind = "credit_package"
	KindMembershipTier Kind = "membership_tier"
	KindCustomCredits  Kind = "custom_credit_amount"
)

func (k Kind) Valid() bool {
	switch k {
	case KindCreditPackage, KindMembershipTier, KindCustomCredits:
		return true
	}
	return false
}

// Period is a membership billing period.
type Period string

const (
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
)

// Months returns the membership length for the period, 0 if unknown.
func (p Period) Months() int {
	switch p {
	case PeriodMonthly:
		return 1
	case PeriodYearly:
		return 12
	}
	return 0
}

// Package is a fixed bundle of class credits.
type Package struct {
	ID      string          `yaml:"id" json:"id"`
	Name    string          `yaml:"name" json:"name"`
	Credits int             `yaml:"credits" json:"credits"`
	PriceID string          `yaml:"price_id" json:"-"`
	Price   decimal.Decimal `yaml:"price" json:"price"`
}

// Tier is a recurring membership plan.
type Tier struct {
	ID      string          `yaml:"id" json:"id"`
	Name    string          `yaml:"name" json:"name"`
	PriceID string          `yaml:"price_id" json:"-"`
	Price   decimal.Decimal `yaml:"price" json:"price"`
	Period  Period          `yaml:"period" json:"period"`
}

// CustomCredits configures arbitrary credit amounts billed per credit.
type CustomCredits struct {
	Enabled    bool            `yaml:"enabled" json:"enabled"`
	UnitPrice  decimal.Decimal `yaml:"unit_price" json:"unitPrice"`
	MinCredits int             `yaml:"min_credits" json:"minCredits"`
	MaxCredits int             `yaml:"max_credits" json:"maxCredits"`
}

// Entry is the result of a price id lookup.
type Entry struct {
	Kind    Kind
	Package *Package
	Tier    *Tier
}

// MinorUnits converts a major-unit price to the smallest currency unit.
func MinorUnits(price decimal.Decimal) int64 {
	return price.Shift(2).Round(0).IntPart()
}
