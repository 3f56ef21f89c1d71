package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenUsage is the measured resource consumption of one AI call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CreditPackage is a purchasable bundle of credits.
type CreditPackage struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	BaseCredits  int64           `json:"base_credits"`
	BonusCredits int64           `json:"bonus_credits"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
}

// OperationProfile is the assumed average usage of a named AI operation.
type OperationProfile struct {
	Name         string
	DisplayName  string
	InputTokens  int
	OutputTokens int
}

// Tier identifies a subscription tier.
type Tier string

const (
	TierFree   Tier = "free"
	TierPro    Tier = "pro"
	TierSchool Tier = "school"
)

// CreditBalance is a user's spending power.
type CreditBalance struct {
	UserID              string          `json:"user_id"`
	PersonalCredits     decimal.Decimal `json:"personal_credits"`
	OrganizationID      string          `json:"organization_id,omitempty"`
	OrganizationCredits decimal.Decimal `json:"organization_credits"`
}

// Total returns personal plus organization credits.
func (b CreditBalance) Total() decimal.Decimal {
	return b.PersonalCredits.Add(b.OrganizationCredits)
}

// TransactionKind classifies a ledger entry.
type TransactionKind string

const (
	KindPurchase  TransactionKind = "purchase"
	KindAIUsage   TransactionKind = "ai_usage"
	KindTierGrant TransactionKind = "tier_grant"
	KindRefund    TransactionKind = "refund"
)

// Valid reports whether k is a known kind.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindPurchase, KindAIUsage, KindTierGrant, KindRefund:
		return true
	}
	return false
}

// Transaction is an append-only ledger entry. Amount is positive for credits
// added and negative for credits consumed.
type Transaction struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Amount           decimal.Decimal `json:"amount"`
	Kind             TransactionKind `json:"kind"`
	RelatedOperation string          `json:"related_operation,omitempty"`
	Usage            *TokenUsage     `json:"usage,omitempty"`
	BalanceAfter     decimal.Decimal `json:"balance_after"`
	Timestamp        time.Time       `json:"timestamp"`
}

// PlanItem is one step of a multi-operation plan.
type PlanItem struct {
	Operation string `json:"operation"`
	Count     int    `json:"count"`
}

// EstimateLine is the projected cost of one plan item.
type EstimateLine struct {
	Operation string          `json:"operation"`
	Count     int             `json:"count"`
	Cost      decimal.Decimal `json:"cost"`
}

// Estimate is the projected cost of a whole plan.
type Estimate struct {
	Total     decimal.Decimal `json:"total"`
	Breakdown []EstimateLine  `json:"breakdown"`
}

// Shortfall describes how far a user is from affording a plan.
type Shortfall struct {
	NeedsMore         bool            `json:"needs_more"`
	Required          decimal.Decimal `json:"required"`
	Available         decimal.Decimal `json:"available"`
	Deficit           decimal.Decimal `json:"deficit"`
	SuggestedPurchase decimal.Decimal `json:"suggested_purchase"`
	SuggestedPackage  *CreditPackage  `json:"suggested_package,omitempty"`
}

// CompletionRequest represents a unified LLM request.
type CompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	Temperature float64           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// CompletionResponse represents a unified LLM response.
type CompletionResponse struct {
	ID         string     `json:"id"`
	Model      string     `json:"model"`
	Provider   string     `json:"provider"`
	Content    string     `json:"content"`
	Usage      TokenUsage `json:"usage"`
	FinishTime time.Time  `json:"finish_time"`
}

// MeteredResponse is a completion together with what it was billed.
type MeteredResponse struct {
	Completion    *CompletionResponse `json:"completion"`
	EstimatedCost decimal.Decimal     `json:"estimated_cost"`
	ChargedCost   decimal.Decimal     `json:"charged_cost"`
	Balance       CreditBalance       `json:"balance"`
}
