package compactor

import (
	"math"
	"strings"

	"github.com/haasonsaas/spiritd/pkg/models"
)

// ScoringConfig parameterizes Score. Not part of the default compaction
// path — exposed for callers (e.g. an alternative chunk-selection strategy)
// that want to weigh messages by estimated importance rather than strict
// recency order.
type ScoringConfig struct {
	RoleWeight          map[string]float64
	Decay               float64
	QuestionBonus       float64
	ToolCallBonus       float64
	KeywordBonus        map[string]float64
	ContentLengthWeight float64
}

// DefaultScoringConfig returns reasonable weights: assistant and user
// messages weighed evenly, tool messages discounted, recency favored via
// exponential decay.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		RoleWeight: map[string]float64{
			"user":      1.0,
			"assistant": 1.0,
			"tool":      0.5,
			"system":    0.75,
		},
		Decay:               0.98,
		QuestionBonus:       0.5,
		ToolCallBonus:       0.3,
		ContentLengthWeight: 1.0,
	}
}

// Score rates a message's estimated importance among total messages at the
// given zero-based index:
//
//	role_weight × decay^(total-1-index) + question_bonus + tool_call_bonus
//	  + sum(keyword_bonus) + min(len/100 × content_length_weight, 3.0)
func Score(msg models.ConversationMessage, index, total int, cfg ScoringConfig) float64 {
	roleWeight := cfg.RoleWeight[string(msg.Role)]
	decayExp := float64(total - 1 - index)
	score := roleWeight * math.Pow(cfg.Decay, decayExp)

	if strings.Contains(msg.Content, "?") {
		score += cfg.QuestionBonus
	}
	if len(msg.ToolCalls) > 0 {
		score += cfg.ToolCallBonus
	}
	for keyword, bonus := range cfg.KeywordBonus {
		if keyword != "" && strings.Contains(strings.ToLower(msg.Content), strings.ToLower(keyword)) {
			score += bonus
		}
	}

	lengthBonus := float64(len(msg.Content)) / 100 * cfg.ContentLengthWeight
	if lengthBonus > 3.0 {
		lengthBonus = 3.0
	}
	score += lengthBonus

	return score
}
