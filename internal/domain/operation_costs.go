package domain

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Known AI operations.
const (
	OpGenerateQuestion    = "generate_question"
	OpGradeSubmission     = "grade_submission"
	OpGenerateDistractors = "generate_distractors"
	OpGenerateExplanation = "generate_explanation"
	OpGenerateRubric      = "generate_rubric"
	OpGenerateFeedback    = "generate_feedback"
)

var operationNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

//nolint:gochecknoglobals // cases.Caser is not safe for concurrent use
var (
	titleCaser   = cases.Title(language.English)
	titleCaserMu sync.Mutex
)

type operationEntry struct {
	profile OperationProfile
	cost    decimal.Decimal
}

// OperationCostTable maps named operations to estimated per-use costs.
// It is static configuration; estimates are never used for billing.
type OperationCostTable struct {
	entries map[string]operationEntry
	order   []string
}

// NewOperationCostTable prices each profile with the cost model.
func NewOperationCostTable(model *TokenCostModel, profiles []OperationProfile) (*OperationCostTable, error) {
	if model == nil {
		return nil, invalidArgument("cost model cannot be nil")
	}

	table := &OperationCostTable{
		entries: make(map[string]operationEntry, len(profiles)),
		order:   make([]string, 0, len(profiles)),
	}

	for _, profile := range profiles {
		if err := validateOperationName(profile.Name); err != nil {
			return nil, err
		}
		if _, exists := table.entries[profile.Name]; exists {
			return nil, invalidArgument("operation %s registered twice", profile.Name)
		}

		cost, err := model.Cost(profile.InputTokens, profile.OutputTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to price operation %s: %w", profile.Name, err)
		}

		table.entries[profile.Name] = operationEntry{profile: profile, cost: cost}
		table.order = append(table.order, profile.Name)
	}

	return table, nil
}

// EstimatedCost returns the assumed per-use cost of an operation.
func (t *OperationCostTable) EstimatedCost(operation string) (decimal.Decimal, error) {
	entry, err := t.lookup(operation)
	if err != nil {
		return decimal.Zero, err
	}
	return entry.cost, nil
}

// Profile returns the assumed usage of an operation.
func (t *OperationCostTable) Profile(operation string) (OperationProfile, error) {
	entry, err := t.lookup(operation)
	if err != nil {
		return OperationProfile{}, err
	}
	return entry.profile, nil
}

// Operations lists registered operation names in registration order.
func (t *OperationCostTable) Operations() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// DisplayName returns a human-readable label for an operation. Unmapped
// identifiers are title-cased with underscores turned into spaces.
func (t *OperationCostTable) DisplayName(operation string) string {
	if entry, ok := t.entries[operation]; ok && entry.profile.DisplayName != "" {
		return entry.profile.DisplayName
	}

	titleCaserMu.Lock()
	defer titleCaserMu.Unlock()
	return titleCaser.String(strings.ReplaceAll(operation, "_", " "))
}

func (t *OperationCostTable) lookup(operation string) (operationEntry, error) {
	if err := validateOperationName(operation); err != nil {
		return operationEntry{}, err
	}

	entry, ok := t.entries[operation]
	if !ok {
		return operationEntry{}, fmt.Errorf("%w: %s", ErrUnknownOperation, operation)
	}
	return entry, nil
}

func validateOperationName(operation string) error {
	if !operationNamePattern.MatchString(operation) {
		return invalidArgument("malformed operation identifier %q", operation)
	}
	return nil
}

// DefaultOperationProfiles returns the built-in usage assumptions.
func DefaultOperationProfiles() []OperationProfile {
	return []OperationProfile{
		{Name: OpGenerateQuestion, DisplayName: "Question Generation", InputTokens: 2000, OutputTokens: 500},
		{Name: OpGradeSubmission, DisplayName: "AI Grading", InputTokens: 2500, OutputTokens: 400},
		{Name: OpGenerateDistractors, DisplayName: "Distractor Generation", InputTokens: 1200, OutputTokens: 300},
		{Name: OpGenerateExplanation, DisplayName: "Answer Explanation", InputTokens: 800, OutputTokens: 400},
		{Name: OpGenerateRubric, DisplayName: "Rubric Generation", InputTokens: 1500, OutputTokens: 800},
		{Name: OpGenerateFeedback, DisplayName: "Feedback Generation", InputTokens: 1000, OutputTokens: 600},
	}
}
