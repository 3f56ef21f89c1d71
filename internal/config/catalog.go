package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/davidbz/creditmeter/internal/domain"
)

// Catalog holds the static pricing tables: packages, operation assumptions and tier grants.
type Catalog struct {
	Packages   []domain.CreditPackage
	Operations []domain.OperationProfile
	Tiers      domain.TierGrants
}

type catalogFile struct {
	Packages   []packageEntry     `yaml:"packages"`
	Operations []operationEntry   `yaml:"operations"`
	Tiers      map[string]float64 `yaml:"tiers"`
}

type packageEntry struct {
	ID           string  `yaml:"id"`
	Name         string  `yaml:"name"`
	BaseCredits  int64   `yaml:"base_credits"`
	BonusCredits int64   `yaml:"bonus_credits"`
	PriceUSD     float64 `yaml:"price_usd"`
}

type operationEntry struct {
	Name         string `yaml:"name"`
	DisplayName  string `yaml:"display_name"`
	InputTokens  int    `yaml:"input_tokens"`
	OutputTokens int    `yaml:"output_tokens"`
}

// LoadCatalog reads the catalog file named in cfg. Sections the file leaves
// out, or the whole catalog when no file is configured, use built-in defaults.
func LoadCatalog(cfg *CreditsConfig) (*Catalog, error) {
	catalog := &Catalog{
		Packages:   domain.DefaultCreditPackages(),
		Operations: domain.DefaultOperationProfiles(),
		Tiers:      domain.DefaultTierGrants(),
	}

	if cfg == nil || cfg.CatalogFile == "" {
		return catalog, nil
	}

	raw, err := os.ReadFile(cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	if len(file.Packages) > 0 {
		catalog.Packages = make([]domain.CreditPackage, 0, len(file.Packages))
		for _, p := range file.Packages {
			catalog.Packages = append(catalog.Packages, domain.CreditPackage{
				ID:           p.ID,
				Name:         p.Name,
				BaseCredits:  p.BaseCredits,
				BonusCredits: p.BonusCredits,
				PriceUSD:     decimal.NewFromFloat(p.PriceUSD),
			})
		}
	}

	if len(file.Operations) > 0 {
		catalog.Operations = make([]domain.OperationProfile, 0, len(file.Operations))
		for _, op := range file.Operations {
			catalog.Operations = append(catalog.Operations, domain.OperationProfile{
				Name:         op.Name,
				DisplayName:  op.DisplayName,
				InputTokens:  op.InputTokens,
				OutputTokens: op.OutputTokens,
			})
		}
	}

	if len(file.Tiers) > 0 {
		catalog.Tiers = make(domain.TierGrants, len(file.Tiers))
		for tier, grant := range file.Tiers {
			catalog.Tiers[domain.Tier(tier)] = decimal.NewFromFloat(grant)
		}
	}

	return catalog, nil
}

// Pricing converts the configured rates.
func (c *CreditsConfig) Pricing() domain.PricingConfig {
	return domain.PricingConfig{
		InputRatePer1K:  c.InputRatePer1K,
		OutputRatePer1K: c.OutputRatePer1K,
	}
}
