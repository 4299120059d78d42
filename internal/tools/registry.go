// Package tools implements the function-calling tools exposed to the
// reply loop, and the registry that dispatches model tool calls onto
// them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bkern/chime/internal/llm"
)

// Tool defines the interface that all tools must implement.
// A tool represents a function that can be called by the LLM agent.
type Tool interface {
	// Name returns the unique name of the tool.
	Name() string

	// Description returns a human-readable description of what the
	// tool does, shown to the model.
	Description() string

	// Parameters returns a JSON Schema object describing the tool's
	// input parameters, in OpenAI function calling format.
	Parameters() map[string]interface{}

	// Execute runs the tool. args is the JSON-encoded argument string
	// from the model's tool call.
	Execute(ctx context.Context, args string) (string, error)
}

// Registry manages the collection of available tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry. A tool with the same name is
// replaced.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("cannot register nil tool")
	}
	if tool.Name() == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Definitions returns the registered tools as provider tool
// definitions.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	return defs
}

// failureResult is the JSON shape fed back to the model when a tool
// call cannot be completed.
type failureResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Execute dispatches a model tool call. Errors never propagate: an
// unknown tool or a failing execution becomes a structured
// {success:false, error} result so the conversation can continue.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) string {
	tool, ok := r.Get(call.Name)
	if !ok {
		return failure(fmt.Sprintf("unknown tool: %s", call.Name))
	}

	result, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		return failure(err.Error())
	}
	return result
}

func failure(msg string) string {
	data, err := json.Marshal(failureResult{Success: false, Error: msg})
	if err != nil {
		return `{"success":false,"error":"internal error"}`
	}
	return string(data)
}
