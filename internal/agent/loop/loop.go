// Package loop produces an agent's reply to a conversation, letting
// the model call tools across a bounded number of rounds before
// finalizing a plain-text answer.
package loop

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bkern/chime/internal/llm"
	"github.com/bkern/chime/internal/logger"
	"github.com/bkern/chime/internal/store"
	"github.com/bkern/chime/internal/tools"
)

const (
	// MaxToolIterations bounds tool-calling rounds per reply.
	MaxToolIterations = 5

	defaultTemperature = 0.7
	defaultMaxTokens   = 1024
)

// ProviderFactory builds an LLM provider for an agent, using the
// agent's own credential and model.
type ProviderFactory func(agent *store.Agent) llm.Provider

// RegistryFactory builds the tool registry bound to an agent.
type RegistryFactory func(agent *store.Agent, provider llm.Provider) *tools.Registry

// Loop runs the tool-augmented reply cycle.
type Loop struct {
	providers  ProviderFactory
	registries RegistryFactory
	logger     *logger.Logger
}

// New creates a reply loop.
func New(providers ProviderFactory, registries RegistryFactory, log *logger.Logger) *Loop {
	return &Loop{
		providers:  providers,
		registries: registries,
		logger:     log,
	}
}

// Reply generates a display-ready reply to the given history. history
// is the chronological list of rendered conversation entries. Errors
// propagate to the caller, which supplies its own fallback text; the
// one checked precondition is the agent credential, which fails fast
// before any provider call.
func (l *Loop) Reply(ctx stdcontext.Context, agent *store.Agent, history []string) (string, error) {
	if agent.APIKey == "" {
		return "", fmt.Errorf("agent %s has no API credential configured", agent.Name)
	}

	provider := l.providers(agent)
	registry := l.registries(agent, provider)

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: buildSystemPrompt(agent),
	})
	for _, line := range history {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: line})
	}

	defs := registry.Definitions()

	for iteration := 0; iteration < MaxToolIterations; iteration++ {
		resp, err := provider.Chat(ctx, llm.ChatRequest{
			Messages:    messages,
			Model:       agent.Model,
			Temperature: defaultTemperature,
			MaxTokens:   defaultMaxTokens,
			Tools:       defs,
		})
		if err != nil {
			l.logger.ErrorCtx(ctx, "reply completion failed", err,
				logger.Field{Key: "agent_id", Value: agent.ID},
				logger.Field{Key: "iteration", Value: iteration})
			return "", fmt.Errorf("reply completion failed: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			return extractMessage(resp.Content), nil
		}

		l.logger.DebugCtx(ctx, "executing tool calls",
			logger.Field{Key: "agent_id", Value: agent.ID},
			logger.Field{Key: "iteration", Value: iteration},
			logger.Field{Key: "calls", Value: len(resp.ToolCalls)})

		// Echo the assistant turn, then append one result per call in
		// call order so rounds stay deterministic.
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    registry.Execute(ctx, call),
				ToolCallID: call.ID,
			})
		}
	}

	// Budget exhausted with tool calls still coming: force one final
	// completion without tools.
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: "You have used all available tool calls for this reply. Respond now with plain text only, briefly summarizing what you did.",
	})
	resp, err := provider.Chat(ctx, llm.ChatRequest{
		Messages:    messages,
		Model:       agent.Model,
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("final completion failed: %w", err)
	}
	return extractMessage(resp.Content), nil
}

// extractMessage guarantees display-ready text: if the raw output
// parses as a JSON object with a "message" field, that field is
// returned; anything else passes through verbatim.
func extractMessage(raw string) string {
	candidate := strings.TrimSpace(raw)
	if fenced := strings.TrimPrefix(candidate, "```json"); fenced != candidate {
		candidate = strings.TrimSuffix(strings.TrimSpace(fenced), "```")
	} else if fenced := strings.TrimPrefix(candidate, "```"); fenced != candidate {
		candidate = strings.TrimSuffix(strings.TrimSpace(fenced), "```")
	}
	candidate = strings.TrimSpace(candidate)

	if !strings.HasPrefix(candidate, "{") {
		return raw
	}

	var payload struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil || payload.Message == nil {
		return raw
	}
	return *payload.Message
}

// buildSystemPrompt assembles the steering instructions for a reply.
func buildSystemPrompt(agent *store.Agent) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s, a participant in a group chat.\n", agent.Name)
	if agent.Context != "" {
		sb.WriteString(agent.Context)
		sb.WriteString("\n")
	}
	if agent.DocSummaries != "" {
		sb.WriteString("\nBackground knowledge from uploaded documents:\n")
		sb.WriteString(agent.DocSummaries)
		sb.WriteString("\n")
	}

	sb.WriteString(`
Conversation entries are JSON objects with timestamp, name and message fields. Reply as yourself, in plain conversational text.

Tools:
- You may call several tools in one turn and across several turns before answering.
- createTask schedules a future message. Always pass an explicit date.
- For relative engagement changes, read the current value first. Example: if asked to be "a bit more talkative" and getCurrentEngagement returns 0.4, call changeEngagementFactor with 0.5, not with 1.0.
- After your tools finish, confirm the outcome in your reply.

Dates and times:
- Phrase dates and times naturally ("tomorrow at 3 pm", "on Friday morning").
- Use the local phrasing of the conversation and never append timezone abbreviations.`)

	return sb.String()
}
