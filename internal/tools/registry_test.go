package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func echoTool() Tool {
	return Tool{
		Definition: Definition{
			Name:        "echo",
			Description: "echoes the message parameter",
			Parameters: []Parameter{
				{Name: "message", Type: TypeString, Required: true},
				{Name: "volume", Type: TypeNumber, Required: false},
				{Name: "mode", Type: TypeString, EnumValues: []string{"loud", "quiet"}},
			},
		},
		Handler: func(_ context.Context, params map[string]any) (string, error) {
			return params["message"].(string), nil
		},
	}
}

func TestRegistry_DuplicateRegistrationFails(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(echoTool()); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestRegistry_DispatchUnknownTool(t *testing.T) {
	r := NewRegistry()
	result := r.Dispatch(context.Background(), "nope", nil)
	if result.Success || result.Error != "unknown tool: nope" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRegistry_DispatchMissingRequiredParam(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoTool())
	result := r.Dispatch(context.Background(), "echo", map[string]any{})
	if result.Success || result.Error != "missing required parameter: message" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRegistry_DispatchTypeMismatch(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoTool())
	result := r.Dispatch(context.Background(), "echo", map[string]any{"message": 42})
	if result.Success || result.Error != "invalid type for parameter message: expected string, got number" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRegistry_DispatchEnumMismatch(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoTool())
	result := r.Dispatch(context.Background(), "echo", map[string]any{"message": "hi", "mode": "medium"})
	if result.Success || result.Error != "invalid value for mode" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRegistry_DispatchSuccess(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoTool())
	result := r.Dispatch(context.Background(), "echo", map[string]any{"message": "hi"})
	if !result.Success || result.Output != "hi" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRegistry_HandlerErrorWrapped(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Tool{
		Definition: Definition{Name: "boom"},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			return "", errors.New("disk full")
		},
	})
	result := r.Dispatch(context.Background(), "boom", map[string]any{})
	if result.Success || result.Error != "handler error: disk full" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRegistry_HandlerPanicWrapped(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Tool{
		Definition: Definition{Name: "panics"},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			panic("kaboom")
		},
	})
	result := r.Dispatch(context.Background(), "panics", map[string]any{})
	if result.Success {
		t.Fatalf("expected panic to produce a failed result")
	}
}

func TestRegistry_GetDefinitionsPreservesOrder(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Tool{Definition: Definition{Name: "first"}, Handler: noop})
	_ = r.Register(Tool{Definition: Definition{Name: "second"}, Handler: noop})
	_ = r.Register(Tool{Definition: Definition{Name: "third"}, Handler: noop})

	defs := r.GetDefinitions()
	if len(defs) != 3 || defs[0].Name != "first" || defs[1].Name != "second" || defs[2].Name != "third" {
		t.Fatalf("expected insertion order preserved, got %+v", defs)
	}
}

func TestRegistry_ToModelToolsShapesJSONSchema(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoTool())
	modelTools := r.ToModelTools()
	if len(modelTools) != 1 {
		t.Fatalf("expected 1 model tool, got %d", len(modelTools))
	}
	params := modelTools[0].Parameters
	if params["type"] != "object" {
		t.Fatalf("expected object schema type, got %v", params["type"])
	}
	required, ok := params["required"].([]string)
	if !ok || len(required) != 1 || required[0] != "message" {
		t.Fatalf("expected required=[message], got %v", params["required"])
	}
}

func TestRegistry_GenerateStubsForwardsToCallTool(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoTool())
	stubs := r.GenerateStubs()
	if !strings.Contains(stubs, `__callTool__("echo", params)`) {
		t.Fatalf("expected echo stub to forward to __callTool__, got %q", stubs)
	}
}

func noop(_ context.Context, _ map[string]any) (string, error) { return "", nil }
