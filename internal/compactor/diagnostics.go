package compactor

import "github.com/haasonsaas/spiritd/pkg/models"

// ScoredMessage pairs a history entry with its estimated importance score.
type ScoredMessage struct {
	Message models.ConversationMessage
	Score   float64
}

// ScoreHistory applies Score across an entire history, in order. It does
// not affect the default compaction algorithm's chunk selection; it exists
// for callers that want to drive chunk selection differently (e.g. an
// operator inspection subcommand).
func ScoreHistory(history []models.ConversationMessage, cfg ScoringConfig) []ScoredMessage {
	total := len(history)
	out := make([]ScoredMessage, total)
	for i, msg := range history {
		out[i] = ScoredMessage{Message: msg, Score: Score(msg, i, total, cfg)}
	}
	return out
}

// UsageDiagnostics reports how close a conversation is to its compression
// trigger: the running token estimate, the configured budget, and the
// resulting percentage, independent of whether compaction actually fires.
type UsageDiagnostics struct {
	UsedTokens   int
	BudgetTokens int
	Percent      float64
}

// DiagnoseUsage computes a threshold-first usage view of the same token
// estimate the agent loop's compression trigger walks, without triggering
// compaction itself. budgetTokens is context_budget × model_max_tokens,
// computed by the caller from configuration.
func DiagnoseUsage(history []models.ConversationMessage, budgetTokens int) UsageDiagnostics {
	used := estimateTokens(history)
	percent := 0.0
	if budgetTokens > 0 {
		percent = float64(used) / float64(budgetTokens) * 100
	}
	return UsageDiagnostics{UsedTokens: used, BudgetTokens: budgetTokens, Percent: percent}
}
