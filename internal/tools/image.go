package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bkern/chime/internal/llm"
	"github.com/bkern/chime/internal/logger"
	"github.com/bkern/chime/internal/scheduler"
	"github.com/bkern/chime/internal/store"
)

// GenerateImageArgs represents the arguments for the generateImage tool.
type GenerateImageArgs struct {
	Prompt string `json:"prompt"`
}

// GenerateImageTool generates an image from a prompt. If the agent has
// a linked chat the image is pushed there directly, independent of the
// textual reply.
type GenerateImageTool struct {
	provider  llm.Provider
	transport scheduler.Transport
	store     store.Store
	agentID   string
	logger    *logger.Logger
}

func NewGenerateImageTool(provider llm.Provider, transport scheduler.Transport, st store.Store, agentID string, log *logger.Logger) *GenerateImageTool {
	return &GenerateImageTool{
		provider:  provider,
		transport: transport,
		store:     st,
		agentID:   agentID,
		logger:    log,
	}
}

func (t *GenerateImageTool) Name() string {
	return "generateImage"
}

func (t *GenerateImageTool) Description() string {
	return "Generate an image from a text prompt and send it to the chat."
}

func (t *GenerateImageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"prompt": map[string]interface{}{
				"type":        "string",
				"description": "Description of the image to generate",
			},
		},
		"required": []string{"prompt"},
	}
}

func (t *GenerateImageTool) Execute(ctx context.Context, args string) (string, error) {
	var parsed GenerateImageArgs
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		return "", fmt.Errorf("invalid generateImage arguments: %w", err)
	}
	if parsed.Prompt == "" {
		return "", fmt.Errorf("generateImage requires a prompt")
	}

	url, err := t.provider.GenerateImage(ctx, parsed.Prompt)
	if err != nil {
		return "", fmt.Errorf("image generation failed: %w", err)
	}

	delivered := false
	agent, err := t.store.GetAgent(ctx, t.agentID)
	if err == nil && agent.LinkedChatID != "" {
		if err := t.transport.SendPhoto(ctx, agent.LinkedChatID, url); err != nil {
			t.logger.ErrorCtx(ctx, "failed to push generated image", err,
				logger.Field{Key: "agent_id", Value: t.agentID})
		} else {
			delivered = true
		}
	}

	data, err := json.Marshal(map[string]any{
		"success":   true,
		"url":       url,
		"delivered": delivered,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}
