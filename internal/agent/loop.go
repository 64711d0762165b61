// Package agent implements the agent loop: the composition root that drives
// a bounded multi-round protocol between the model, the tool registry, the
// code sandbox, and persistent conversation history. It owns conversation
// identity, context construction per round, the compression trigger, and
// the special-cased routing of the execute_code and compact_context tools.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/spiritd/internal/compactor"
	"github.com/haasonsaas/spiritd/internal/memory"
	"github.com/haasonsaas/spiritd/internal/modelport"
	"github.com/haasonsaas/spiritd/internal/observability"
	"github.com/haasonsaas/spiritd/internal/sandbox"
	"github.com/haasonsaas/spiritd/internal/store"
	"github.com/haasonsaas/spiritd/internal/tools"
	"github.com/haasonsaas/spiritd/pkg/models"
)

// Config tunes the round loop and compression trigger.
type Config struct {
	// MaxToolRounds bounds the model<->tool round-trip count per
	// process_message call.
	MaxToolRounds int
	// ContextBudget is the fraction (0..1) of ModelMaxTokens at which the
	// compression trigger fires.
	ContextBudget float64
	// ModelMaxTokens is the model's context window, used with
	// ContextBudget to derive the token budget the trigger walks history
	// against.
	ModelMaxTokens int
}

// DefaultConfig returns the configuration surface's documented defaults.
func DefaultConfig() Config {
	return Config{MaxToolRounds: 20, ContextBudget: 0.8, ModelMaxTokens: 200000}
}

// Loop is the composition root: one Loop instance serves one conversation.
// Distinct conversations (e.g. the REPL conversation and an event-sourced
// one) run independent Loop instances sharing the same memory manager, tool
// registry, and sandbox executor.
type Loop struct {
	conversationID string
	owner          string

	model     modelport.Model
	modelName string
	registry  *tools.Registry
	mem       *memory.Manager
	messages  *store.MessageStore
	compactor *compactor.Compactor
	sandbox   *sandbox.Executor

	cfg              Config
	compactorCfg     compactor.Config
	executionContext map[string]string

	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option mutates a Loop during construction.
type Option func(*Loop)

func WithCompactor(c *compactor.Compactor, cfg compactor.Config) Option {
	return func(l *Loop) { l.compactor = c; l.compactorCfg = cfg }
}

func WithSandbox(s *sandbox.Executor) Option {
	return func(l *Loop) { l.sandbox = s }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

func WithConfig(cfg Config) Option {
	return func(l *Loop) { l.cfg = cfg }
}

func WithModelName(name string) Option {
	return func(l *Loop) { l.modelName = name }
}

func WithExecutionContext(ec map[string]string) Option {
	return func(l *Loop) { l.executionContext = ec }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// New constructs a Loop bound to a single conversation id. conversationID,
// when empty, is replaced with a fresh random one per conversation_id's
// "constructed with an id used verbatim, else fresh random one" contract.
func New(conversationID, owner string, model modelport.Model, registry *tools.Registry, mem *memory.Manager, messages *store.MessageStore, opts ...Option) *Loop {
	if conversationID == "" {
		conversationID = NewConversationID()
	}
	l := &Loop{
		conversationID: conversationID,
		owner:          owner,
		model:          model,
		registry:       registry,
		mem:            mem,
		messages:       messages,
		cfg:            DefaultConfig(),
		compactorCfg:   compactor.DefaultConfig(),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ConversationID returns this Loop's stable opaque conversation identifier.
func (l *Loop) ConversationID() string { return l.conversationID }

// GetConversationHistory returns the conversation's persisted messages,
// ordered ascending by creation time.
func (l *Loop) GetConversationHistory(ctx context.Context) ([]models.ConversationMessage, error) {
	return l.messages.ListByConversation(ctx, l.conversationID)
}

// ProcessMessage persists a user message, loads history, runs the
// compression trigger, drives the bounded round loop, and returns the
// final assistant text. Model and persistence failures propagate; tool and
// compaction failures never do.
func (l *Loop) ProcessMessage(ctx context.Context, text string) (string, error) {
	ctx = contextWithOwner(ctx, l.owner)
	userMsg := models.ConversationMessage{
		ConversationID: l.conversationID,
		Role:           models.ConversationRoleUser,
		Content:        text,
	}
	if _, err := l.messages.Insert(ctx, userMsg); err != nil {
		return "", fmt.Errorf("persist user message: %w", err)
	}

	history, err := l.messages.ListByConversation(ctx, l.conversationID)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	history = l.maybeCompress(ctx, history)

	return l.runRounds(ctx, history)
}

// ProcessEvent formats an ExternalEvent into the structured user-message
// text per the external event formatting contract, then delegates to
// ProcessMessage.
func (l *Loop) ProcessEvent(ctx context.Context, event models.ExternalEvent) (string, error) {
	return l.ProcessMessage(ctx, formatExternalEvent(event))
}

// maybeCompress diagnoses history's token usage against context_budget *
// model_max_tokens; if over budget, it invokes the compactor once over the
// full history and returns the compressed result in its place. With no
// compactor configured, or no overflow, history is returned unchanged.
func (l *Loop) maybeCompress(ctx context.Context, history []models.ConversationMessage) []models.ConversationMessage {
	if l.compactor == nil {
		return history
	}
	budgetTokens := int(l.cfg.ContextBudget * float64(l.cfg.ModelMaxTokens))
	diag := compactor.DiagnoseUsage(history, budgetTokens)
	if l.metrics != nil {
		l.metrics.ContextUsage(diag.Percent)
	}
	if diag.UsedTokens <= budgetTokens {
		return history
	}
	result := l.compactor.Compact(ctx, l.owner, l.conversationID, history, l.compactorCfg)
	if l.metrics != nil {
		l.metrics.CompactionBatch(result.BatchesCreated)
	}
	return result.History
}

// runRounds drives the bounded model<->tool round loop starting from the
// given local history, returning the final assistant text.
func (l *Loop) runRounds(ctx context.Context, history []models.ConversationMessage) (string, error) {
	rounds := 0
	for rounds < l.cfg.MaxToolRounds {
		rounds++
		if l.metrics != nil {
			l.metrics.RoundStarted()
		}

		req, err := l.buildRequest(ctx, history)
		if err != nil {
			return "", fmt.Errorf("build request: %w", err)
		}

		resp, err := l.model.Complete(ctx, req)
		if err != nil {
			return "", fmt.Errorf("model completion: %w", err)
		}

		switch resp.StopReason {
		case modelport.StopEndTurn, modelport.StopMaxTokens:
			assistantMsg := models.ConversationMessage{
				ConversationID: l.conversationID,
				Role:           models.ConversationRoleAssistant,
				Content:        resp.Text,
			}
			if _, err := l.messages.Insert(ctx, assistantMsg); err != nil {
				return "", fmt.Errorf("persist assistant message: %w", err)
			}
			return resp.Text, nil

		case modelport.StopToolUse:
			assistantContent := resp.Text
			if assistantContent == "" {
				assistantContent = "[Tool calls]"
			}
			assistantMsg := models.ConversationMessage{
				ConversationID: l.conversationID,
				Role:           models.ConversationRoleAssistant,
				Content:        assistantContent,
				ToolCalls:      fromModelToolUses(resp.ToolCalls),
			}
			assistantID, err := l.messages.Insert(ctx, assistantMsg)
			if err != nil {
				return "", fmt.Errorf("persist assistant message: %w", err)
			}
			assistantMsg.ID = assistantID
			history = append(history, assistantMsg)

			if rounds == l.cfg.MaxToolRounds {
				warning := fmt.Sprintf("I've reached the max tool rounds limit (%d) for this turn and must stop here.", l.cfg.MaxToolRounds)
				warnMsg := models.ConversationMessage{
					ConversationID: l.conversationID,
					Role:           models.ConversationRoleAssistant,
					Content:        warning,
				}
				if _, err := l.messages.Insert(ctx, warnMsg); err != nil {
					return "", fmt.Errorf("persist max tool rounds warning: %w", err)
				}
				return warning, nil
			}

			for _, call := range resp.ToolCalls {
				resultText := l.dispatchTool(ctx, call, &history)
				toolMsg := models.ConversationMessage{
					ConversationID: l.conversationID,
					Role:           models.ConversationRoleTool,
					Content:        resultText,
					ToolCallID:     call.ID,
				}
				toolID, err := l.messages.Insert(ctx, toolMsg)
				if err != nil {
					return "", fmt.Errorf("persist tool result: %w", err)
				}
				toolMsg.ID = toolID
				history = append(history, toolMsg)
			}

		default:
			return "", nil
		}
	}
	return "", nil
}

// dispatchTool routes one tool call per §4.1's special-casing: execute_code
// invokes the sandbox directly, compact_context invokes the compactor and
// rewrites history in place, and every other name goes through the
// registry. Any failure is translated to tool-result text; nothing here
// ever returns a Go error to the caller.
func (l *Loop) dispatchTool(ctx context.Context, call modelport.ToolUse, history *[]models.ConversationMessage) string {
	start := time.Now()
	defer func() {
		if l.metrics != nil {
			l.metrics.ToolDispatched(call.Name, time.Since(start))
		}
	}()

	switch call.Name {
	case "execute_code":
		return l.dispatchExecuteCode(ctx, call)
	case "compact_context":
		return l.dispatchCompactContext(ctx, call, history)
	default:
		result := l.registry.Dispatch(ctx, call.Name, call.Input)
		if !result.Success {
			return fmt.Sprintf("Error executing tool %s: %s", call.Name, result.Error)
		}
		return result.Output
	}
}

func (l *Loop) dispatchExecuteCode(ctx context.Context, call modelport.ToolUse) string {
	if l.sandbox == nil {
		return fmt.Sprintf("Error executing tool %s: sandbox executor not configured", call.Name)
	}
	code, _ := call.Input["code"].(string)
	stubs := l.registry.GenerateStubs()

	start := time.Now()
	result := l.sandbox.Execute(ctx, code, stubs, l.executionContext)
	if l.metrics != nil {
		l.metrics.SandboxExecuted(time.Since(start), result.Success)
	}
	if !result.Success {
		return "Error: " + result.Error
	}
	return result.Output
}

func (l *Loop) dispatchCompactContext(ctx context.Context, call modelport.ToolUse, history *[]models.ConversationMessage) string {
	if l.compactor == nil {
		payload, _ := json.Marshal(map[string]string{"error": ErrNoCompactor.Error()})
		return string(payload)
	}

	result := l.compactor.Compact(ctx, l.owner, l.conversationID, *history, l.compactorCfg)
	*history = result.History
	if l.metrics != nil {
		l.metrics.CompactionBatch(result.BatchesCreated)
	}

	payload, err := json.Marshal(map[string]int{
		"messagesCompressed":   result.MessagesCompressed,
		"batchesCreated":       result.BatchesCreated,
		"tokensEstimateBefore": result.TokensEstimateBefore,
		"tokensEstimateAfter":  result.TokensEstimateAfter,
	})
	if err != nil {
		errPayload, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(errPayload)
	}
	return string(payload)
}

// buildRequest assembles one round's CompletionRequest: the system prompt
// from core-tier memory, an optional working-memory pseudo-message, the
// converted history, and the registry's model-facing tool descriptors.
func (l *Loop) buildRequest(ctx context.Context, history []models.ConversationMessage) (modelport.CompletionRequest, error) {
	system, err := l.mem.BuildSystemPrompt(ctx, l.owner)
	if err != nil {
		return modelport.CompletionRequest{}, fmt.Errorf("build system prompt: %w", err)
	}

	var messages []modelport.Message
	working, err := l.mem.GetWorkingBlocks(ctx, l.owner)
	if err != nil {
		return modelport.CompletionRequest{}, fmt.Errorf("load working memory: %w", err)
	}
	if len(working) > 0 {
		var sb strings.Builder
		sb.WriteString("[Working Memory Context]\n")
		for _, b := range working {
			fmt.Fprintf(&sb, "### %s\n%s\n\n", b.Label, b.Content)
		}
		messages = append(messages, modelport.Message{Role: "user", Content: strings.TrimRight(sb.String(), "\n")})
	}
	messages = append(messages, convertHistory(history)...)

	return modelport.CompletionRequest{
		System:    system,
		Messages:  messages,
		Tools:     l.registry.ToModelTools(),
		Model:     l.modelName,
		MaxTokens: l.cfg.ModelMaxTokens,
	}, nil
}

// convertHistory renders stored messages into the model port's wire shape
// per the per-role conversion rules: user/assistant-no-tools/
// assistant-with-tools/tool/system.
func convertHistory(history []models.ConversationMessage) []modelport.Message {
	out := make([]modelport.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case models.ConversationRoleUser:
			out = append(out, modelport.Message{Role: "user", Content: m.Content})
		case models.ConversationRoleAssistant:
			out = append(out, modelport.Message{
				Role:      "assistant",
				Content:   m.Content,
				ToolCalls: toModelToolUses(m.ToolCalls),
			})
		case models.ConversationRoleTool:
			out = append(out, modelport.Message{
				Role:       "user",
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
				IsError:    strings.Contains(strings.ToLower(m.Content), "error"),
			})
		case models.ConversationRoleSystem:
			out = append(out, modelport.Message{Role: "user", Content: m.Content})
		}
	}
	return out
}

func toModelToolUses(calls []models.ToolUse) []modelport.ToolUse {
	if len(calls) == 0 {
		return nil
	}
	out := make([]modelport.ToolUse, len(calls))
	for i, c := range calls {
		out[i] = modelport.ToolUse{ID: c.ID, Name: c.Name, Input: c.Input}
	}
	return out
}

func fromModelToolUses(calls []modelport.ToolUse) []models.ToolUse {
	if len(calls) == 0 {
		return nil
	}
	out := make([]models.ToolUse, len(calls))
	for i, c := range calls {
		out[i] = models.ToolUse{ID: c.ID, Name: c.Name, Input: c.Input}
	}
	return out
}
