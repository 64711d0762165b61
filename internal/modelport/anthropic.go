package modelport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures AnthropicModel.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicModel implements Model against the Anthropic Messages API using a
// single non-streaming call per round.
type AnthropicModel struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

var _ Model = (*AnthropicModel)(nil)

// NewAnthropic constructs an AnthropicModel.
func NewAnthropic(cfg AnthropicConfig) (*AnthropicModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicModel{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

func (m *AnthropicModel) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	params, err := m.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}

	var resp *anthropic.Message
	var lastErr error
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, lastErr = m.client.Messages.New(ctx, params)
		if lastErr == nil {
			break
		}
		if !isRetryableAnthropicError(lastErr) || attempt >= m.maxRetries {
			return nil, fmt.Errorf("anthropic: %w", lastErr)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.retryDelay * time.Duration(attempt)):
		}
	}
	if resp == nil {
		return nil, fmt.Errorf("anthropic: no response after retries: %w", lastErr)
	}

	return m.convertResponse(resp), nil
}

func (m *AnthropicModel) buildParams(req CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	model := req.Model
	if model == "" {
		model = m.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params, nil
}

func convertMessages(messages []Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Role == "tool" {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError))
			result = append(result, anthropic.NewUserMessage(content...))
			continue
		}

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			content = append(content, anthropic.NewToolUseBlock(tc.ID, tc.Input, tc.Name))
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertTools(tools []ToolDescriptor) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		props, _ := t.Parameters["properties"].(map[string]any)
		var required []string
		if r, ok := t.Parameters["required"].([]string); ok {
			required = r
		} else if r, ok := t.Parameters["required"].([]any); ok {
			for _, v := range r {
				if s, ok := v.(string); ok {
					required = append(required, s)
				}
			}
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   required,
				},
			},
		})
	}
	return out
}

func (m *AnthropicModel) convertResponse(resp *anthropic.Message) *CompletionResponse {
	out := &CompletionResponse{}

	var text strings.Builder
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			var input map[string]any
			_ = json.Unmarshal(variant.Input, &input)
			out.ToolCalls = append(out.ToolCalls, ToolUse{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: input,
			})
		}
	}
	out.Text = text.String()

	switch resp.StopReason {
	case anthropic.StopReasonToolUse:
		out.StopReason = StopToolUse
	case anthropic.StopReasonMaxTokens:
		out.StopReason = StopMaxTokens
	default:
		out.StopReason = StopEndTurn
	}
	if len(out.ToolCalls) > 0 {
		out.StopReason = StopToolUse
	}
	return out
}

func isRetryableAnthropicError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "529")
}
