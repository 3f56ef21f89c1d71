package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CreditPackageCatalog is the read-only list of purchasable bundles.
type CreditPackageCatalog struct {
	packages []CreditPackage
	byID     map[string]int
}

// NewCreditPackageCatalog validates packages and keeps their order.
func NewCreditPackageCatalog(packages []CreditPackage) (*CreditPackageCatalog, error) {
	catalog := &CreditPackageCatalog{
		packages: make([]CreditPackage, 0, len(packages)),
		byID:     make(map[string]int, len(packages)),
	}

	for _, pkg := range packages {
		if pkg.ID == "" {
			return nil, invalidArgument("package id cannot be empty")
		}
		if _, exists := catalog.byID[pkg.ID]; exists {
			return nil, invalidArgument("package %s defined twice", pkg.ID)
		}
		if pkg.BaseCredits <= 0 {
			return nil, invalidArgument("package %s must grant base credits", pkg.ID)
		}
		if pkg.BonusCredits < 0 {
			return nil, invalidArgument("package %s has negative bonus credits", pkg.ID)
		}
		if !pkg.PriceUSD.IsPositive() {
			return nil, invalidArgument("package %s must have a positive price", pkg.ID)
		}

		catalog.byID[pkg.ID] = len(catalog.packages)
		catalog.packages = append(catalog.packages, pkg)
	}

	return catalog, nil
}

// List returns packages in display order.
func (c *CreditPackageCatalog) List() []CreditPackage {
	out := make([]CreditPackage, len(c.packages))
	copy(out, c.packages)
	return out
}

// Get returns the package with the given id.
func (c *CreditPackageCatalog) Get(id string) (CreditPackage, error) {
	idx, ok := c.byID[id]
	if !ok {
		return CreditPackage{}, fmt.Errorf("%w: %s", ErrPackageNotFound, id)
	}
	return c.packages[idx], nil
}

// SmallestCovering returns the package with the fewest total credits that
// still grants at least the requested amount. Ties keep catalog order.
func (c *CreditPackageCatalog) SmallestCovering(credits decimal.Decimal) (CreditPackage, bool) {
	var (
		best  CreditPackage
		found bool
	)

	for _, pkg := range c.packages {
		total := TotalCredits(pkg)
		if decimal.NewFromInt(total).LessThan(credits) {
			continue
		}
		if !found || total < TotalCredits(best) {
			best = pkg
			found = true
		}
	}

	return best, found
}

// TotalCredits returns base plus bonus credits.
func TotalCredits(pkg CreditPackage) int64 {
	return pkg.BaseCredits + pkg.BonusCredits
}

// PricePerCredit returns the USD price of one credit in the package.
func PricePerCredit(pkg CreditPackage) decimal.Decimal {
	total := TotalCredits(pkg)
	if total <= 0 {
		return decimal.Zero
	}
	return pkg.PriceUSD.Div(decimal.NewFromInt(total))
}

// DefaultCreditPackages returns the built-in catalog.
func DefaultCreditPackages() []CreditPackage {
	return []CreditPackage{
		{ID: "starter", Name: "Starter Pack", BaseCredits: 100, BonusCredits: 0, PriceUSD: decimal.NewFromInt(10)},
		{ID: "medium", Name: "Medium Pack", BaseCredits: 250, BonusCredits: 25, PriceUSD: decimal.NewFromInt(25)},
		{ID: "large", Name: "Large Pack", BaseCredits: 500, BonusCredits: 75, PriceUSD: decimal.NewFromInt(50)},
		{ID: "mega", Name: "Mega Pack", BaseCredits: 1000, BonusCredits: 200, PriceUSD: decimal.NewFromInt(100)},
	}
}
