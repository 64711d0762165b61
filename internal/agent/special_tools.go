package agent

import (
	"context"

	"github.com/haasonsaas/spiritd/internal/tools"
)

// RegisterSpecialTools registers execute_code and compact_context with the
// registry so they appear in the model-facing tool list, even though the
// round loop intercepts and routes both by name before the registry's
// dispatch ever runs (their handlers here are never actually invoked).
func RegisterSpecialTools(registry *tools.Registry) error {
	if err := registry.Register(tools.Tool{
		Definition: tools.Definition{
			Name:        "execute_code",
			Description: "Run a snippet of code in a sandboxed subprocess. Tool calls made from inside the code are dispatched back through the host's tool registry.",
			Parameters: []tools.Parameter{
				{Name: "code", Type: tools.TypeString, Description: "Source code to execute.", Required: true},
			},
		},
		Handler: notRoutedHandler,
	}); err != nil {
		return err
	}

	return registry.Register(tools.Tool{
		Definition: tools.Definition{
			Name:        "compact_context",
			Description: "Compress the current conversation history into a summarized clip-archive, freeing context budget.",
			Parameters:  nil,
		},
		Handler: notRoutedHandler,
	})
}

// notRoutedHandler is never invoked: the agent loop routes execute_code and
// compact_context before dispatch ever reaches the registry.
func notRoutedHandler(ctx context.Context, params map[string]any) (string, error) {
	return "", nil
}
