// Package context assembles conversation history for the reply loop
// and the engagement engine.
package context

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bkern/chime/internal/store"
)

// HistoryLimit is the maximum number of messages loaded for a reply.
const HistoryLimit = 100

// Entry is one rendered history line. The reply loop feeds the JSON
// form of these to the model so it can attribute every turn.
type Entry struct {
	Timestamp string `json:"timestamp"` // RFC3339
	Name      string `json:"name"`      // author display name
	Message   string `json:"message"`
}

// Builder renders stored messages into model-ready history.
type Builder struct {
	store store.Store
}

// NewBuilder creates a context builder.
func NewBuilder(st store.Store) *Builder {
	return &Builder{store: st}
}

// History returns up to HistoryLimit messages for the agent in
// chronological order, each rendered as a JSON envelope.
func (b *Builder) History(ctx stdcontext.Context, agent *store.Agent) ([]string, error) {
	msgs, err := b.window(ctx, agent.ID, HistoryLimit)
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		line, err := renderEntry(msg, agent.Name)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Window returns the last k messages for the agent in chronological
// order, unrendered. The engagement engine works on these directly.
func (b *Builder) Window(ctx stdcontext.Context, agentID string, k int) ([]store.Message, error) {
	return b.window(ctx, agentID, k)
}

func (b *Builder) window(ctx stdcontext.Context, agentID string, limit int) ([]store.Message, error) {
	msgs, err := b.store.FindMessages(ctx, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	// Store order is newest first; conversations read oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// renderEntry renders one message as a JSON envelope. Author name falls
// back to the agent's name for assistant turns, then to "User".
func renderEntry(msg store.Message, agentName string) (string, error) {
	name := msg.Name
	if name == "" {
		if msg.Role == store.RoleAssistant {
			name = agentName
		} else {
			name = "User"
		}
	}

	entry := Entry{
		Timestamp: msg.CreatedAt.Format(time.RFC3339),
		Name:      name,
		Message:   msg.Content,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to render history entry: %w", err)
	}
	return string(data), nil
}
