package domain

import (
	"fmt"
	"strings"
)

// TradeStatus is the canonical trade state. Both external status vocabularies map onto it.
type TradeStatus string

const (
	TradeInitiated  TradeStatus = "initiated"
	TradePending    TradeStatus = "pending"
	TradeCompleted  TradeStatus = "completed"
	TradeCancelled  TradeStatus = "cancelled"
	TradeConfirmed  TradeStatus = "confirmed"
	TradeInProgress TradeStatus = "in_progress"
	TradeDisputed   TradeStatus = "disputed"
	// TradeFinalized is "completed" as reported by the dispute-resolution path.
	TradeFinalized TradeStatus = "finalized"
)

var tradeTransitions = map[TradeStatus][]TradeStatus{
	TradeInitiated:  {TradePending},
	TradePending:    {TradeCompleted, TradeCancelled},
	TradeCompleted:  {TradeConfirmed, TradeDisputed},
	TradeConfirmed:  {TradeInProgress},
	TradeInProgress: {TradeFinalized},
	TradeDisputed:   {},
	TradeCancelled:  {},
	TradeFinalized:  {},
}

// AllTradeStatuses lists every canonical state.
var AllTradeStatuses = []TradeStatus{
	TradeInitiated, TradePending, TradeCompleted, TradeCancelled,
	TradeConfirmed, TradeInProgress, TradeDisputed, TradeFinalized,
}

// Valid reports whether s is a canonical state.
func (s TradeStatus) Valid() bool {
	_, ok := tradeTransitions[s]
	return ok
}

// Terminal reports whether no transition leaves s. Besides cancelled and finalized this
// includes disputed, which is resolved outside the marketplace.
func (s TradeStatus) Terminal() bool {
	next, ok := tradeTransitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether to is reachable from s in exactly one step.
func (s TradeStatus) CanTransition(to TradeStatus) bool {
	for _, next := range tradeTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Next returns the states reachable from s in one step.
func (s TradeStatus) Next() []TradeStatus {
	out := make([]TradeStatus, len(tradeTransitions[s]))
	copy(out, tradeTransitions[s])
	return out
}

// Vocabulary names one of the external status enumerations used against trades.
type Vocabulary string

const (
	// VocabularyLifecycle is initiated/pending/completed/cancelled (buyer and seller facing).
	VocabularyLifecycle Vocabulary = "lifecycle"
	// VocabularyDispute is confirmed/in_progress/completed/disputed (dispute resolution).
	VocabularyDispute Vocabulary = "dispute"
)

var vocabularies = map[Vocabulary]map[string]TradeStatus{
	VocabularyLifecycle: {
		"initiated": TradeInitiated,
		"pending":   TradePending,
		"completed": TradeCompleted,
		"cancelled": TradeCancelled,
	},
	VocabularyDispute: {
		"confirmed":   TradeConfirmed,
		"in_progress": TradeInProgress,
		"completed":   TradeFinalized,
		"disputed":    TradeDisputed,
	},
}

// ParseTradeStatus maps an external status value onto the canonical state. Input is
// case-insensitive so "IN_PROGRESS" and "in_progress" are equal.
func ParseTradeStatus(v Vocabulary, raw string) (TradeStatus, error) {
	terms, ok := vocabularies[v]
	if !ok {
		return "", NewValidationError("vocabulary", fmt.Sprintf("unknown status vocabulary %q", v))
	}
	s, ok := terms[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", NewValidationError("status", fmt.Sprintf("invalid status value %q. Allowed values are: %s", raw, strings.Join(VocabularyTerms(v), ", ")))
	}
	return s, nil
}

// VocabularyTerms lists the accepted values of a vocabulary in a stable order.
func VocabularyTerms(v Vocabulary) []string {
	switch v {
	case VocabularyLifecycle:
		return []string{"initiated", "pending", "completed", "cancelled"}
	case VocabularyDispute:
		return []string{"confirmed", "in_progress", "completed", "disputed"}
	}
	return nil
}

// External returns the vocabulary and term a caller sees for s. Only finalized differs from
// its canonical name: it is "completed" in the dispute vocabulary.
func (s TradeStatus) External() (Vocabulary, string) {
	switch s {
	case TradeConfirmed, TradeInProgress, TradeDisputed:
		return VocabularyDispute, string(s)
	case TradeFinalized:
		return VocabularyDispute, "completed"
	}
	return VocabularyLifecycle, string(s)
}
