package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/omegacore/agentrun/internal/loop"
)

// jsonObjectSchema mirrors the shape BuildSchema produces, enough to recover
// per-parameter type, description and required-ness from a Tool's raw JSON
// Schema InputSchema.
type jsonObjectSchema struct {
	Properties map[string]struct {
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"properties"`
	Required []string `json:"required"`
}

// ToSchema converts one Tool's JSON Schema InputSchema into the flat
// ParamSchema view the Agent Loop Engine's Response Parser and Prompt
// Builder consume.
func ToSchema(t Tool) loop.ToolSchema {
	var js jsonObjectSchema
	_ = json.Unmarshal(t.InputSchema(), &js)

	required := make(map[string]bool, len(js.Required))
	for _, r := range js.Required {
		required[r] = true
	}

	params := make([]loop.ParamSchema, 0, len(js.Properties))
	for name, prop := range js.Properties {
		params = append(params, loop.ParamSchema{
			Name:        name,
			Type:        prop.Type,
			Description: prop.Description,
			Required:    required[name],
		})
	}
	return loop.ToolSchema{Name: t.Name(), Description: t.Description(), Params: params}
}

// Schemas returns the ToolSchema view of every tool visible through r
// (parent tools plus any view extras).
func (r *Registry) Schemas() []loop.ToolSchema {
	tools := r.List()
	out := make([]loop.ToolSchema, len(tools))
	for i, t := range tools {
		out[i] = ToSchema(t)
	}
	return out
}

// Names returns the ordered list of tool names visible through r, suitable
// for LoopConfig.Tools.
func (r *Registry) Names() []string {
	tools := r.List()
	out := make([]string, len(tools))
	for i, t := range tools {
		out[i] = t.Name()
	}
	return out
}

// RegistryInvoker adapts a Registry to loop.ToolInvoker: the Engine calls
// Invoke with the tool name and decoded parameters from the Response
// Parser, and RegistryInvoker marshals them into the Tool.Execute JSON
// argument contract.
type RegistryInvoker struct {
	Registry *Registry
}

// Invoke implements loop.ToolInvoker.
func (r RegistryInvoker) Invoke(ctx context.Context, name string, input map[string]any) (string, error) {
	t, ok := r.Registry.Get(name)
	if !ok {
		return "", fmt.Errorf("tool %q is not registered", name)
	}
	args, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal tool input: %w", err)
	}
	result, err := t.Execute(ctx, args)
	if err != nil {
		return "", err
	}
	if result.Error != "" {
		return "", errors.New(result.Error)
	}
	return result.Output, nil
}
