package http

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidbz/creditmeter/internal/domain"
)

// credits renders a credit amount with exactly two decimal places.
func credits(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type packageView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	BaseCredits    int64  `json:"base_credits"`
	BonusCredits   int64  `json:"bonus_credits"`
	TotalCredits   int64  `json:"total_credits"`
	PriceUSD       string `json:"price_usd"`
	PricePerCredit string `json:"price_per_credit"`
}

func newPackageView(pkg domain.CreditPackage) packageView {
	return packageView{
		ID:             pkg.ID,
		Name:           pkg.Name,
		BaseCredits:    pkg.BaseCredits,
		BonusCredits:   pkg.BonusCredits,
		TotalCredits:   domain.TotalCredits(pkg),
		PriceUSD:       pkg.PriceUSD.StringFixed(2),
		PricePerCredit: domain.PricePerCredit(pkg).StringFixed(4),
	}
}

type operationView struct {
	Name          string `json:"name"`
	DisplayName   string `json:"display_name"`
	InputTokens   int    `json:"input_tokens"`
	OutputTokens  int    `json:"output_tokens"`
	EstimatedCost string `json:"estimated_cost"`
}

type balanceView struct {
	UserID              string `json:"user_id"`
	PersonalCredits     string `json:"personal_credits"`
	OrganizationID      string `json:"organization_id,omitempty"`
	OrganizationCredits string `json:"organization_credits"`
	TotalCredits        string `json:"total_credits"`
}

func newBalanceView(b domain.CreditBalance) balanceView {
	return balanceView{
		UserID:              b.UserID,
		PersonalCredits:     credits(b.PersonalCredits),
		OrganizationID:      b.OrganizationID,
		OrganizationCredits: credits(b.OrganizationCredits),
		TotalCredits:        credits(b.Total()),
	}
}

type transactionView struct {
	ID               string             `json:"id"`
	Amount           string             `json:"amount"`
	Kind             string             `json:"kind"`
	RelatedOperation string             `json:"related_operation,omitempty"`
	Usage            *domain.TokenUsage `json:"usage,omitempty"`
	BalanceAfter     string             `json:"balance_after"`
	Timestamp        time.Time          `json:"timestamp"`
}

func newTransactionView(tx domain.Transaction) transactionView {
	return transactionView{
		ID:               tx.ID,
		Amount:           credits(tx.Amount),
		Kind:             string(tx.Kind),
		RelatedOperation: tx.RelatedOperation,
		Usage:            tx.Usage,
		BalanceAfter:     credits(tx.BalanceAfter),
		Timestamp:        tx.Timestamp,
	}
}

type estimateLineView struct {
	Operation   string `json:"operation"`
	DisplayName string `json:"display_name"`
	Count       int    `json:"count"`
	Cost        string `json:"cost"`
}

type estimateView struct {
	Total     string             `json:"total"`
	Breakdown []estimateLineView `json:"breakdown"`
}

type shortfallView struct {
	NeedsMore         bool         `json:"needs_more"`
	Required          string       `json:"required"`
	Available         string       `json:"available"`
	Deficit           string       `json:"deficit"`
	SuggestedPurchase string       `json:"suggested_purchase"`
	SuggestedPackage  *packageView `json:"suggested_package,omitempty"`
}

func newShortfallView(s domain.Shortfall) shortfallView {
	view := shortfallView{
		NeedsMore:         s.NeedsMore,
		Required:          credits(s.Required),
		Available:         credits(s.Available),
		Deficit:           credits(s.Deficit),
		SuggestedPurchase: credits(s.SuggestedPurchase),
	}
	if s.SuggestedPackage != nil {
		pkg := newPackageView(*s.SuggestedPackage)
		view.SuggestedPackage = &pkg
	}
	return view
}

type chargeView struct {
	Cost    string      `json:"cost"`
	Balance balanceView `json:"balance"`
}

type completionView struct {
	Completion    *domain.CompletionResponse `json:"completion"`
	EstimatedCost string                     `json:"estimated_cost"`
	ChargedCost   string                     `json:"charged_cost"`
	Balance       balanceView                `json:"balance"`
}

type purchaseView struct {
	Package      packageView `json:"package"`
	CreditsAdded string      `json:"credits_added"`
	Balance      balanceView `json:"balance"`
}

type organizationView struct {
	OrganizationID string `json:"organization_id"`
	Credits        string `json:"credits"`
}
