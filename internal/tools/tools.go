// Package tools turns caller-declared function tools into capabilities the
// model instance can dispatch tool calls to.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"llmgateway/internal/core"
	"llmgateway/internal/engine"
)

// Tool is an invocable function-calling target.
type Tool interface {
	Name() string
	Definition() core.FunctionDefinition
	// Call accepts a tool call from the model and returns its normalized form.
	Call(ctx context.Context, call core.ToolCall) (core.ToolCall, error)
}

// GatewayTool is a tool declared by the caller. The gateway does not execute
// it; calling it validates and normalizes the model's request so the caller
// can run it.
type GatewayTool struct {
	def core.FunctionDefinition
}

// NewGatewayTool wraps a declared tool.
func NewGatewayTool(t core.Tool) (*GatewayTool, error) {
	if t.Type != "" && t.Type != "function" {
		return nil, fmt.Errorf("unsupported tool type %q", t.Type)
	}
	if strings.TrimSpace(t.Function.Name) == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	return &GatewayTool{def: t.Function}, nil
}

func (g *GatewayTool) Name() string { return g.def.Name }

func (g *GatewayTool) Definition() core.FunctionDefinition { return g.def }

// Call normalizes the call: type is always "function", the name defaults to
// the tool's and empty arguments become "{}". Arguments that are not valid
// JSON are rejected.
func (g *GatewayTool) Call(_ context.Context, call core.ToolCall) (core.ToolCall, error) {
	call.Type = "function"
	call.Index = nil
	if call.Function.Name == "" {
		call.Function.Name = g.def.Name
	}
	if strings.TrimSpace(call.Function.Arguments) == "" {
		call.Function.Arguments = "{}"
	}
	if !json.Valid([]byte(call.Function.Arguments)) {
		return call, fmt.Errorf("tool %q: arguments are not valid JSON", g.def.Name)
	}
	return call, nil
}

// Set holds the two views of a request's tools: the ordered descriptor list
// (duplicates kept, for telemetry) and the name to capability mapping
// (last declaration wins, for dispatch).
type Set struct {
	descriptors engine.ModelTools
	byName      *orderedmap.OrderedMap[string, Tool]
}

// NewSet builds the tool set of one request. Duplicate names are accepted:
// the later definition replaces the earlier one in the mapping, and a warning
// is logged.
func NewSet(declared []core.Tool) (*Set, error) {
	s := &Set{
		descriptors: make(engine.ModelTools, 0, len(declared)),
		byName:      orderedmap.New[string, Tool](),
	}
	for i, t := range declared {
		tool, err := NewGatewayTool(t)
		if err != nil {
			return nil, core.NewInvalidRequestError(fmt.Sprintf("tools[%d]: %v", i, err), err)
		}
		s.descriptors = append(s.descriptors, engine.ModelTool{
			Name:        tool.Name(),
			Description: t.Function.Description,
			PassedArgs:  parameterNames(t.Function.Parameters),
		})
		if _, replaced := s.byName.Set(tool.Name(), tool); replaced {
			slog.Warn("duplicate tool name, last definition wins", "tool", tool.Name(), "index", i)
		}
	}
	return s, nil
}

// Descriptors returns a copy of the ordered descriptor list.
func (s *Set) Descriptors() engine.ModelTools {
	if s == nil {
		return nil
	}
	return append(engine.ModelTools(nil), s.descriptors...)
}

// Get returns the capability registered under name.
func (s *Set) Get(name string) (Tool, bool) {
	if s == nil {
		return nil, false
	}
	return s.byName.Get(name)
}

// Len is the number of distinct tool names.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return s.byName.Len()
}

// Definitions returns one definition per distinct name, in first-declared order.
func (s *Set) Definitions() []core.FunctionDefinition {
	if s.Len() == 0 {
		return nil
	}
	defs := make([]core.FunctionDefinition, 0, s.byName.Len())
	for pair := s.byName.Oldest(); pair != nil; pair = pair.Next() {
		defs = append(defs, pair.Value.Definition())
	}
	return defs
}

// Resolve normalizes a tool call through its capability. Calls to names the
// caller never declared are returned with type and arguments normalized and
// ok set to false.
func (s *Set) Resolve(ctx context.Context, call core.ToolCall) (core.ToolCall, bool, error) {
	tool, found := s.Get(call.Function.Name)
	if !found {
		call.Type = "function"
		call.Index = nil
		if strings.TrimSpace(call.Function.Arguments) == "" {
			call.Function.Arguments = "{}"
		}
		return call, false, nil
	}
	normalized, err := tool.Call(ctx, call)
	return normalized, true, err
}

func parameterNames(params map[string]any) []string {
	props, ok := params["properties"].(map[string]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
