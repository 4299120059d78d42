package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bkern/chime/internal/logger"
	"github.com/bkern/chime/internal/store"
)

// ChangeEngagementArgs represents the arguments for the
// changeEngagementFactor tool.
type ChangeEngagementArgs struct {
	EngagementFactor *float64 `json:"engagementFactor"`
	Reason           string   `json:"reason,omitempty"`
}

// ChangeEngagementTool updates an agent's engagement factor.
type ChangeEngagementTool struct {
	store   store.Store
	agentID string
	logger  *logger.Logger
}

func NewChangeEngagementTool(st store.Store, agentID string, log *logger.Logger) *ChangeEngagementTool {
	return &ChangeEngagementTool{store: st, agentID: agentID, logger: log}
}

func (t *ChangeEngagementTool) Name() string {
	return "changeEngagementFactor"
}

func (t *ChangeEngagementTool) Description() string {
	return "Set how often you join the conversation unprompted. 0 is silent, 1 answers everything. For relative requests, read the current value with getCurrentEngagement first and adjust from there."
}

func (t *ChangeEngagementTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"engagementFactor": map[string]interface{}{
				"type":        "number",
				"description": "New engagement factor between 0 and 1",
			},
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Why the factor is being changed",
			},
		},
		"required": []string{"engagementFactor"},
	}
}

func (t *ChangeEngagementTool) Execute(ctx context.Context, args string) (string, error) {
	var parsed ChangeEngagementArgs
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		return "", fmt.Errorf("invalid changeEngagementFactor arguments: %w", err)
	}
	if parsed.EngagementFactor == nil {
		return "", fmt.Errorf("changeEngagementFactor requires engagementFactor")
	}

	factor := *parsed.EngagementFactor
	if err := store.ValidateEngagementFactor(factor); err != nil {
		return "", err
	}
	if err := t.store.UpdateAgent(ctx, t.agentID, store.AgentPatch{EngagementFactor: &factor}); err != nil {
		return "", fmt.Errorf("failed to update engagement factor: %w", err)
	}

	t.logger.InfoCtx(ctx, "engagement factor changed",
		logger.Field{Key: "agent_id", Value: t.agentID},
		logger.Field{Key: "factor", Value: factor},
		logger.Field{Key: "reason", Value: parsed.Reason})

	data, err := json.Marshal(map[string]any{
		"success":          true,
		"engagementFactor": factor,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}

// GetEngagementTool reads the agent's current engagement factor.
type GetEngagementTool struct {
	store   store.Store
	agentID string
}

func NewGetEngagementTool(st store.Store, agentID string) *GetEngagementTool {
	return &GetEngagementTool{store: st, agentID: agentID}
}

func (t *GetEngagementTool) Name() string {
	return "getCurrentEngagement"
}

func (t *GetEngagementTool) Description() string {
	return "Read your current engagement factor and its qualitative band (silent, low, medium, high)."
}

func (t *GetEngagementTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
		"required":   []string{},
	}
}

func (t *GetEngagementTool) Execute(ctx context.Context, args string) (string, error) {
	agent, err := t.store.GetAgent(ctx, t.agentID)
	if err != nil {
		return "", fmt.Errorf("failed to load agent: %w", err)
	}

	data, err := json.Marshal(map[string]any{
		"success":          true,
		"engagementFactor": agent.EngagementFactor,
		"band":             EngagementBand(agent.EngagementFactor),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}

// EngagementBand maps a factor to its qualitative band.
func EngagementBand(factor float64) string {
	switch {
	case factor < 0.05:
		return "silent"
	case factor < 0.35:
		return "low"
	case factor < 0.7:
		return "medium"
	default:
		return "high"
	}
}
