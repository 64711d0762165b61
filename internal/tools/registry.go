// Package tools implements the tool registry: typed parameter definitions,
// registration, validated dispatch, the model-facing JSON-Schema view, and
// sandbox-loadable stub generation.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/spiritd/internal/modelport"
)

// ParamType is one of the parameter kinds the registry validates against.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

// Parameter describes one named argument a tool accepts.
type Parameter struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	EnumValues  []string // optional; value must be one of these if non-empty
}

// Definition is a tool's model-facing and validation-facing shape.
type Definition struct {
	Name        string
	Description string
	Parameters  []Parameter
}

// HandlerFunc executes a tool's behavior given validated parameters.
type HandlerFunc func(ctx context.Context, params map[string]any) (string, error)

// Tool pairs a definition with its implementation.
type Tool struct {
	Definition Definition
	Handler    HandlerFunc
}

// Result is what Dispatch returns: either a successful textual output or a
// descriptive error, never both.
type Result struct {
	Success bool
	Output  string
	Error   string
}

// Registry holds registered tools keyed by name, preserving insertion
// order for GetDefinitions and ToModelTools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool under its definition's name. A duplicate name is
// rejected. The definition's generated JSON Schema is compiled once here,
// purely to catch authoring mistakes (malformed enum values, inconsistent
// types) before the tool ever reaches a model; dispatch-time validation
// below does not depend on this compiled schema, since its exact error
// wording can't be recovered from a generic schema validation error.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Definition.Name
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	if err := validateSchemaCompiles(tool.Definition); err != nil {
		return fmt.Errorf("tool %s: invalid parameter schema: %w", name, err)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

func validateSchemaCompiles(def Definition) error {
	schema := definitionSchema(def)
	raw, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(def.Name+".json", bytes.NewReader(raw)); err != nil {
		return err
	}
	_, err = compiler.Compile(def.Name + ".json")
	return err
}

func definitionSchema(def Definition) map[string]any {
	properties := make(map[string]any, len(def.Parameters))
	var required []string
	for _, p := range def.Parameters {
		prop := map[string]any{"type": string(p.Type), "description": p.Description}
		if len(p.EnumValues) > 0 {
			prop["enum"] = p.EnumValues
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// GetDefinitions returns every registered tool's definition in the order it
// was registered.
func (r *Registry) GetDefinitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Dispatch validates params against the tool's definition, then invokes its
// handler, converting any returned error or handler panic into a Result
// rather than propagating.
func (r *Registry) Dispatch(ctx context.Context, name string, params map[string]any) (result Result) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Result{Success: false, Error: "unknown tool: " + name}
	}

	if errMsg := validateParams(tool.Definition.Parameters, params); errMsg != "" {
		return Result{Success: false, Error: errMsg}
	}

	defer func() {
		if p := recover(); p != nil {
			result = Result{Success: false, Error: fmt.Sprintf("handler error: %v", p)}
		}
	}()

	output, err := tool.Handler(ctx, params)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("handler error: %s", err.Error())}
	}
	return Result{Success: true, Output: output}
}

func validateParams(defs []Parameter, params map[string]any) string {
	for _, p := range defs {
		value, present := params[p.Name]
		if !present {
			if p.Required {
				return "missing required parameter: " + p.Name
			}
			continue
		}

		typeName, ok := matchesType(value, p.Type)
		if !ok {
			return fmt.Sprintf("invalid type for parameter %s: expected %s, got %s", p.Name, p.Type, typeName)
		}

		if len(p.EnumValues) > 0 {
			if s, isString := value.(string); !isString || !contains(p.EnumValues, s) {
				return "invalid value for " + p.Name
			}
		}
	}
	return ""
}

// matchesType reports whether value satisfies want, and returns the
// observed typeof-style name for error messages regardless of outcome.
func matchesType(value any, want ParamType) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "null", want == TypeObject
	case string:
		return "string", want == TypeString
	case bool:
		return "boolean", want == TypeBoolean
	case float64, int, int64, float32:
		return "number", want == TypeNumber
	case []any:
		return "array", want == TypeArray
	case map[string]any:
		return "object", want == TypeObject
	default:
		_ = v
		return "unknown", false
	}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// ToModelTools renders every registered definition into the JSON-Schema
// shaped descriptor the model port consumes.
func (r *Registry) ToModelTools() []modelport.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]modelport.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		def := r.tools[name].Definition
		properties := make(map[string]any, len(def.Parameters))
		var required []string
		for _, p := range def.Parameters {
			prop := map[string]any{
				"type":        string(p.Type),
				"description": p.Description,
			}
			if len(p.EnumValues) > 0 {
				prop["enum"] = p.EnumValues
			}
			properties[p.Name] = prop
			if p.Required {
				required = append(required, p.Name)
			}
		}
		out = append(out, modelport.ToolDescriptor{
			Name:        def.Name,
			Description: def.Description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		})
	}
	return out
}
