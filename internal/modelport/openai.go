package modelport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures OpenAIModel.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAIModel implements Model against the Chat Completions API using a
// single non-streaming call per round.
type OpenAIModel struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

var _ Model = (*OpenAIModel)(nil)

// NewOpenAI constructs an OpenAIModel.
func NewOpenAI(cfg OpenAIConfig) (*OpenAIModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIModel{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

func (m *OpenAIModel) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	chatReq, err := m.buildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}

	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, lastErr = m.client.CreateChatCompletion(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryableOpenAIError(lastErr) || attempt >= m.maxRetries {
			return nil, fmt.Errorf("openai: %w", lastErr)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.retryDelay * time.Duration(attempt)):
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: no response after retries: %w", lastErr)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}

	return convertOpenAIResponse(resp.Choices[0]), nil
}

func (m *OpenAIModel) buildRequest(req CompletionRequest) (openai.ChatCompletionRequest, error) {
	model := req.Model
	if model == "" {
		model = m.defaultModel
	}

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case "tool":
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case "assistant":
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				args, err := json.Marshal(tc.Input)
				if err != nil {
					return openai.ChatCompletionRequest{}, fmt.Errorf("marshal tool call input: %w", err)
				}
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			messages = append(messages, oaiMsg)
		default:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}
	return chatReq, nil
}

func convertOpenAITools(tools []ToolDescriptor) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}

func convertOpenAIResponse(choice openai.ChatCompletionChoice) *CompletionResponse {
	out := &CompletionResponse{Text: choice.Message.Content}

	for _, tc := range choice.Message.ToolCalls {
		var input map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		out.ToolCalls = append(out.ToolCalls, ToolUse{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}

	switch {
	case len(out.ToolCalls) > 0:
		out.StopReason = StopToolUse
	case choice.FinishReason == openai.FinishReasonLength:
		out.StopReason = StopMaxTokens
	default:
		out.StopReason = StopEndTurn
	}
	return out
}

func isRetryableOpenAIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "502")
}
