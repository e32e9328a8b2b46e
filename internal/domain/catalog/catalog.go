package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	ErrInvalidCatalog = errors.New("invalid catalog")
	ErrUnknownItem    = errors.New("unknown catalog item")
)

// Catalog maps sellable items to provider price ids. It is immutable after Parse.
type Catalog struct {
	Currency string        `yaml:"currency"`
	Packages []Package     `yaml:"packages"`
	Tiers    []Tier        `yaml:"tiers"`
	Custom   CustomCredits `yaml:"custom_credits"`

	packages map[string]*Package
	tiers    map[string]*Tier
	byPrice  map[string]Entry
}

// Load reads a YAML catalog from path; an empty path loads the built-in one.
// ${VAR} references are expanded from the environment first.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

func Parse(data []byte) (*Catalog, error) {
	expanded := os.ExpandEnv(string(data))

	var c Catalog
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) index() error {
	c.Currency = strings.ToLower(strings.TrimSpace(c.Currency))
	if c.Currency == "" {
		c.Currency = "usd"
	}

	c.packages = make(map[string]*Package, len(c.Packages))
	c.tiers = make(map[string]*Tier, len(c.Tiers))
	c.byPrice = make(map[string]Entry, len(c.Packages)+len(c.Tiers))

	addPrice := func(priceID, owner string, e Entry) error {
		if strings.TrimSpace(priceID) == "" {
			return fmt.Errorf("%w: %s has no price_id", ErrInvalidCatalog, owner)
		}
		if _, dup := c.byPrice[priceID]; dup {
			return fmt.Errorf("%w: price_id %s used twice", ErrInvalidCatalog, priceID)
		}
		c.byPrice[priceID] = e
		return nil
	}

	for i := range c.Packages {
		p := &c.Packages[i]
		switch {
		case p.ID == "":
			return fmt.Errorf("%w: package #%d has no id", ErrInvalidCatalog, i)
		case c.packages[p.ID] != nil:
			return fmt.Errorf("%w: duplicate package %s", ErrInvalidCatalog, p.ID)
		case p.Credits <= 0:
			return fmt.Errorf("%w: package %s credits must be positive", ErrInvalidCatalog, p.ID)
		case !p.Price.IsPositive():
			return fmt.Errorf("%w: package %s price must be positive", ErrInvalidCatalog, p.ID)
		}
		if err := addPrice(p.PriceID, "package "+p.ID, Entry{Kind: KindCreditPackage, Package: p}); err != nil {
			return err
		}
		c.packages[p.ID] = p
	}

	for i := range c.Tiers {
		t := &c.Tiers[i]
		switch {
		case t.ID == "":
			return fmt.Errorf("%w: tier #%d has no id", ErrInvalidCatalog, i)
		case c.tiers[t.ID] != nil || c.packages[t.ID] != nil:
			return fmt.Errorf("%w: duplicate item %s", ErrInvalidCatalog, t.ID)
		case t.Period.Months() == 0:
			return fmt.Errorf("%w: tier %s has unknown period %q", ErrInvalidCatalog, t.ID, t.Period)
		case !t.Price.IsPositive():
			return fmt.Errorf("%w: tier %s price must be positive", ErrInvalidCatalog, t.ID)
		}
		if err := addPrice(t.PriceID, "tier "+t.ID, Entry{Kind: KindMembershipTier, Tier: t}); err != nil {
			return err
		}
		c.tiers[t.ID] = t
	}

	if c.Custom.Enabled {
		if !c.Custom.UnitPrice.IsPositive() {
			return fmt.Errorf("%w: custom credits unit_price must be positive", ErrInvalidCatalog)
		}
		if c.Custom.MinCredits <= 0 {
			c.Custom.MinCredits = 1
		}
		if c.Custom.MaxCredits != 0 && c.Custom.MaxCredits < c.Custom.MinCredits {
			return fmt.Errorf("%w: custom credits max below min", ErrInvalidCatalog)
		}
	}
	return nil
}

func (c *Catalog) Package(id string) (*Package, error) {
	if p, ok := c.packages[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: package %q", ErrUnknownItem, id)
}

func (c *Catalog) Tier(id string) (*Tier, error) {
	if t, ok := c.tiers[id]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: tier %q", ErrUnknownItem, id)
}

// ByPriceID resolves a provider price id.
func (c *Catalog) ByPriceID(priceID string) (Entry, bool) {
	e, ok := c.byPrice[priceID]
	return e, ok
}

// AllowsCustom reports whether n credits may be bought as a custom amount.
func (c *Catalog) AllowsCustom(n int) bool {
	if !c.Custom.Enabled || n < c.Custom.MinCredits {
		return false
	}
	return c.Custom.MaxCredits == 0 || n <= c.Custom.MaxCredits
}
