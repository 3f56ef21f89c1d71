package domain_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/creditmeter/internal/domain"
)

func newTestCatalog(t *testing.T) *domain.CreditPackageCatalog {
	t.Helper()

	catalog, err := domain.NewCreditPackageCatalog(domain.DefaultCreditPackages())
	require.NoError(t, err)
	return catalog
}

func TestCreditPackageCatalog_List(t *testing.T) {
	catalog := newTestCatalog(t)

	packages := catalog.List()
	ids := make([]string, 0, len(packages))
	for _, pkg := range packages {
		ids = append(ids, pkg.ID)
	}
	require.Equal(t, []string{"starter", "medium", "large", "mega"}, ids)
}

func TestCreditPackageCatalog_DerivedFields(t *testing.T) {
	for _, pkg := range newTestCatalog(t).List() {
		t.Run(pkg.ID, func(t *testing.T) {
			total := domain.TotalCredits(pkg)
			require.Equal(t, pkg.BaseCredits+pkg.BonusCredits, total)

			perCredit := domain.PricePerCredit(pkg)
			require.True(t, perCredit.IsPositive())
			require.True(t, perCredit.Equal(pkg.PriceUSD.Div(decimal.NewFromInt(total))))
		})
	}
}

func TestCreditPackageCatalog_Get(t *testing.T) {
	catalog := newTestCatalog(t)

	large, err := catalog.Get("large")
	require.NoError(t, err)
	require.Equal(t, "Large Pack", large.Name)
	require.Equal(t, int64(575), domain.TotalCredits(large))
	require.True(t, large.PriceUSD.Equal(decimal.NewFromInt(50)))

	_, err = catalog.Get("platinum")
	require.True(t, errors.Is(err, domain.ErrPackageNotFound))
}

func TestCreditPackageCatalog_SmallestCovering(t *testing.T) {
	catalog := newTestCatalog(t)

	pkg, ok := catalog.SmallestCovering(decimal.NewFromInt(101))
	require.True(t, ok)
	require.Equal(t, "medium", pkg.ID)

	pkg, ok = catalog.SmallestCovering(decimal.NewFromInt(100))
	require.True(t, ok)
	require.Equal(t, "starter", pkg.ID)

	_, ok = catalog.SmallestCovering(decimal.NewFromInt(5000))
	require.False(t, ok)
}

func TestNewCreditPackageCatalog_Validation(t *testing.T) {
	price := decimal.NewFromInt(10)

	tests := []struct {
		name     string
		packages []domain.CreditPackage
	}{
		{name: "empty id", packages: []domain.CreditPackage{{BaseCredits: 10, PriceUSD: price}}},
		{name: "no base credits", packages: []domain.CreditPackage{{ID: "a", PriceUSD: price}}},
		{name: "negative bonus", packages: []domain.CreditPackage{{ID: "a", BaseCredits: 10, BonusCredits: -1, PriceUSD: price}}},
		{name: "free package", packages: []domain.CreditPackage{{ID: "a", BaseCredits: 10}}},
		{name: "duplicate id", packages: []domain.CreditPackage{
			{ID: "a", BaseCredits: 10, PriceUSD: price},
			{ID: "a", BaseCredits: 20, PriceUSD: price},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.NewCreditPackageCatalog(tt.packages)
			require.True(t, errors.Is(err, domain.ErrInvalidArgument))
		})
	}
}
