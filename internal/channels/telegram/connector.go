package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	agentcontext "github.com/bkern/chime/internal/agent/context"
	"github.com/bkern/chime/internal/engagement"
	"github.com/bkern/chime/internal/llm"
	"github.com/bkern/chime/internal/logger"
	"github.com/bkern/chime/internal/store"
	"github.com/bkern/chime/internal/tools"
)

// FallbackReply is sent when the reply loop fails after the agent
// decided to engage.
const FallbackReply = "Sorry, I could not generate a response."

// Decider is the engagement gate consumed by the connector.
type Decider interface {
	Decide(ctx context.Context, agent *store.Agent, text string) engagement.Decision
}

// Replier produces the agent's reply to a conversation.
type Replier interface {
	Reply(ctx context.Context, agent *store.Agent, history []string) (string, error)
}

// ProviderFactory builds an LLM provider for an agent. The connector
// uses it for photo captioning.
type ProviderFactory func(agent *store.Agent) llm.Provider

// Connector long-polls Telegram updates and drives the
// persist/engage/reply pipeline for linked chats.
type Connector struct {
	bot       BotInterface
	sender    *Sender
	store     store.Store
	builder   *agentcontext.Builder
	decider   Decider
	replier   Replier
	providers ProviderFactory
	logger    *logger.Logger
	token     string

	done chan struct{}
}

// NewConnector creates a Connector.
func NewConnector(bot BotInterface, sender *Sender, st store.Store, builder *agentcontext.Builder, decider Decider, replier Replier, providers ProviderFactory, log *logger.Logger, token string) *Connector {
	return &Connector{
		bot:       bot,
		sender:    sender,
		store:     st,
		builder:   builder,
		decider:   decider,
		replier:   replier,
		providers: providers,
		logger:    log,
		token:     token,
		done:      make(chan struct{}),
	}
}

// Start begins long polling. It returns once polling is established;
// update handling runs until ctx is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	updates, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: 30,
	})
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	c.logger.Info("telegram connector started")

	go func() {
		defer close(c.done)
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("telegram connector stopped")
				return
			case update, ok := <-updates:
				if !ok {
					c.logger.Info("telegram updates channel closed")
					return
				}
				c.handleUpdate(ctx, update)
			}
		}
	}()
	return nil
}

// Wait blocks until the update loop has exited.
func (c *Connector) Wait() {
	<-c.done
}

func (c *Connector) handleUpdate(ctx context.Context, update telego.Update) {
	if update.Message == nil {
		return
	}
	msg := update.Message
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	if strings.HasPrefix(msg.Text, "/") {
		c.handleCommand(ctx, chatID, msg.Text)
		return
	}

	agent, err := c.store.FindAgentByChat(ctx, chatID)
	if err == store.ErrNotFound {
		return
	}
	if err != nil {
		c.logger.ErrorCtx(ctx, "failed to look up agent for chat", err,
			logger.Field{Key: "chat_id", Value: chatID})
		return
	}

	if len(msg.Photo) > 0 {
		c.handlePhoto(ctx, agent, msg)
		return
	}
	if msg.Text == "" {
		return
	}
	c.handleText(ctx, agent, chatID, msg)
}

// handleText runs the persist/engage/reply pipeline for one inbound
// text message.
func (c *Connector) handleText(ctx context.Context, agent *store.Agent, chatID string, msg *telego.Message) {
	author := authorName(msg)

	if err := c.store.CreateMessage(ctx, &store.Message{
		Role:    store.RoleUser,
		Content: fmt.Sprintf("%s: %s", author, msg.Text),
		Name:    author,
		AgentID: agent.ID,
	}); err != nil {
		c.logger.ErrorCtx(ctx, "failed to persist inbound message", err,
			logger.Field{Key: "agent_id", Value: agent.ID})
		return
	}

	decision := c.decider.Decide(ctx, agent, msg.Text)
	if !decision.Engage {
		return
	}

	c.sender.Typing(ctx, chatID)

	history, err := c.builder.History(ctx, agent)
	if err != nil {
		c.logger.ErrorCtx(ctx, "failed to build history", err,
			logger.Field{Key: "agent_id", Value: agent.ID})
		c.reply(ctx, chatID, FallbackReply)
		return
	}

	text, err := c.replier.Reply(ctx, agent, history)
	if err != nil {
		c.logger.ErrorCtx(ctx, "reply generation failed", err,
			logger.Field{Key: "agent_id", Value: agent.ID})
		c.reply(ctx, chatID, FallbackReply)
		return
	}

	if err := c.store.CreateMessage(ctx, &store.Message{
		Role:    store.RoleAssistant,
		Content: text,
		Name:    agent.Name,
		AgentID: agent.ID,
	}); err != nil {
		c.logger.ErrorCtx(ctx, "failed to persist reply", err,
			logger.Field{Key: "agent_id", Value: agent.ID})
	}
	c.reply(ctx, chatID, text)
}

// handlePhoto captions an inbound photo and records the description so
// later replies can refer to it.
func (c *Connector) handlePhoto(ctx context.Context, agent *store.Agent, msg *telego.Message) {
	// Sizes come smallest first; caption the largest.
	photo := msg.Photo[len(msg.Photo)-1]
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: photo.FileID})
	if err != nil {
		c.logger.ErrorCtx(ctx, "failed to fetch photo file", err,
			logger.Field{Key: "agent_id", Value: agent.ID})
		return
	}

	provider := c.providers(agent)
	caption, err := provider.Caption(ctx, fileDownloadURL(c.token, file.FilePath), msg.Caption)
	if err != nil {
		c.logger.ErrorCtx(ctx, "photo captioning failed", err,
			logger.Field{Key: "agent_id", Value: agent.ID})
		return
	}

	author := authorName(msg)
	if err := c.store.CreateMessage(ctx, &store.Message{
		Role:    store.RoleUser,
		Content: fmt.Sprintf("image_description: %s", caption),
		Name:    author,
		AgentID: agent.ID,
	}); err != nil {
		c.logger.ErrorCtx(ctx, "failed to persist image description", err,
			logger.Field{Key: "agent_id", Value: agent.ID})
		return
	}
	if msg.Caption != "" {
		if err := c.store.CreateMessage(ctx, &store.Message{
			Role:    store.RoleUser,
			Content: fmt.Sprintf("%s: %s", author, msg.Caption),
			Name:    author,
			AgentID: agent.ID,
		}); err != nil {
			c.logger.ErrorCtx(ctx, "failed to persist photo caption", err,
				logger.Field{Key: "agent_id", Value: agent.ID})
		}
	}
}

func (c *Connector) handleCommand(ctx context.Context, chatID, text string) {
	command := strings.Fields(text)[0]
	switch command {
	case "/link":
		c.commandLink(ctx, chatID)
	case "/stats":
		c.commandStats(ctx, chatID)
	}
}

// commandLink binds the chat to the first unlinked active agent.
func (c *Connector) commandLink(ctx context.Context, chatID string) {
	if agent, err := c.store.FindAgentByChat(ctx, chatID); err == nil {
		c.reply(ctx, chatID, fmt.Sprintf("This chat is already linked to %s.", agent.Name))
		return
	}

	agent, err := c.store.FirstUnlinkedAgent(ctx)
	if err == store.ErrNotFound {
		c.reply(ctx, chatID, "No agent is available to link.")
		return
	}
	if err != nil {
		c.logger.ErrorCtx(ctx, "failed to find unlinked agent", err)
		return
	}

	if err := c.store.UpdateAgent(ctx, agent.ID, store.AgentPatch{LinkedChatID: &chatID}); err != nil {
		c.logger.ErrorCtx(ctx, "failed to link agent", err,
			logger.Field{Key: "agent_id", Value: agent.ID})
		return
	}

	c.logger.Info("agent linked to chat",
		logger.Field{Key: "agent_id", Value: agent.ID},
		logger.Field{Key: "chat_id", Value: chatID})
	c.reply(ctx, chatID, fmt.Sprintf("Linked %s to this chat.", agent.Name))
}

// commandStats summarizes the linked agent.
func (c *Connector) commandStats(ctx context.Context, chatID string) {
	agent, err := c.store.FindAgentByChat(ctx, chatID)
	if err == store.ErrNotFound {
		c.reply(ctx, chatID, "No agent is linked to this chat.")
		return
	}
	if err != nil {
		c.logger.ErrorCtx(ctx, "failed to look up agent for stats", err)
		return
	}

	active := true
	jobs, err := c.store.FindJobs(ctx, store.JobFilter{Active: &active, AgentID: &agent.ID})
	if err != nil {
		c.logger.ErrorCtx(ctx, "failed to count jobs for stats", err)
		return
	}

	c.reply(ctx, chatID, fmt.Sprintf(
		"%s\nEngagement: %.2f (%s)\nPending tasks: %d",
		agent.Name,
		agent.EngagementFactor,
		tools.EngagementBand(agent.EngagementFactor),
		len(jobs),
	))
}

func (c *Connector) reply(ctx context.Context, chatID, text string) {
	if err := c.sender.SendText(ctx, chatID, text); err != nil {
		c.logger.ErrorCtx(ctx, "failed to send reply", err,
			logger.Field{Key: "chat_id", Value: chatID})
	}
}

// authorName picks a display name for the message sender.
func authorName(msg *telego.Message) string {
	if msg.From == nil {
		return "User"
	}
	name := strings.TrimSpace(msg.From.FirstName)
	if msg.From.LastName != "" {
		name = strings.TrimSpace(name + " " + msg.From.LastName)
	}
	if name == "" {
		name = msg.From.Username
	}
	if name == "" {
		name = "User"
	}
	return name
}
