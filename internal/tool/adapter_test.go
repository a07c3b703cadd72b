package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/omegacore/agentrun/internal/loop"
)

type schemaTool struct {
	name   string
	schema json.RawMessage
}

func (s *schemaTool) Name() string                 { return s.name }
func (s *schemaTool) Description() string          { return "a schema-bearing tool" }
func (s *schemaTool) InputSchema() json.RawMessage { return s.schema }
func (s *schemaTool) Execute(_ context.Context, args json.RawMessage) (ToolResult, error) {
	return ToolResult{Output: string(args)}, nil
}
func (s *schemaTool) Init(_ context.Context) error { return nil }
func (s *schemaTool) Close() error                 { return nil }

func TestToSchema_ConvertsRequiredAndTypes(t *testing.T) {
	raw := BuildSchema(
		SchemaParam{Name: "path", Type: "string", Description: "file path", Required: true},
		SchemaParam{Name: "count", Type: "integer", Description: "repeat count", Required: false},
	)
	tool := &schemaTool{name: "write", schema: raw}
	schema := ToSchema(tool)

	if schema.Name != "write" {
		t.Errorf("got name %q", schema.Name)
	}
	found := map[string]loop.ParamSchema{}
	for _, p := range schema.Params {
		found[p.Name] = loop.ParamSchema{Name: p.Name, Type: p.Type, Required: p.Required}
	}
	if !found["path"].Required || found["path"].Type != "string" {
		t.Errorf("path param = %+v, want required string", found["path"])
	}
	if found["count"].Required {
		t.Error("count should not be required")
	}
}

func TestRegistryInvoker_InvokesRegisteredTool(t *testing.T) {
	r := NewRegistry()
	r.Register(&dummyEchoTool{})
	invoker := RegistryInvoker{Registry: r}

	out, err := invoker.Invoke(context.Background(), "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"text":"hi"}` {
		t.Errorf("got %q", out)
	}
}

func TestRegistryInvoker_UnknownToolErrors(t *testing.T) {
	invoker := RegistryInvoker{Registry: NewRegistry()}
	_, err := invoker.Invoke(context.Background(), "nope", nil)
	if err == nil {
		t.Fatal("expected an error for an unregistered tool")
	}
}

type dummyEchoTool struct{}

func (dummyEchoTool) Name() string                 { return "echo" }
func (dummyEchoTool) Description() string          { return "echoes its raw arguments" }
func (dummyEchoTool) InputSchema() json.RawMessage { return BuildSchema() }
func (dummyEchoTool) Execute(_ context.Context, args json.RawMessage) (ToolResult, error) {
	return ToolResult{Output: string(args)}, nil
}
func (dummyEchoTool) Init(_ context.Context) error { return nil }
func (dummyEchoTool) Close() error                 { return nil }
