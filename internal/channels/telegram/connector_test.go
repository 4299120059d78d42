package telegram

import (
	"context"
	"fmt"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentcontext "github.com/bkern/chime/internal/agent/context"
	"github.com/bkern/chime/internal/engagement"
	"github.com/bkern/chime/internal/llm"
	"github.com/bkern/chime/internal/logger"
	"github.com/bkern/chime/internal/store"
)

// mockBot records outbound API calls.
type mockBot struct {
	messages []string
	chats    []int64
	actions  int
	sendErr  error
}

func (b *mockBot) GetMe(ctx context.Context) (*telego.User, error) {
	return &telego.User{Username: "chime_bot"}, nil
}

func (b *mockBot) SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	b.messages = append(b.messages, params.Text)
	b.chats = append(b.chats, params.ChatID.ID)
	return &telego.Message{}, nil
}

func (b *mockBot) SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error) {
	return &telego.Message{}, nil
}

func (b *mockBot) SendVideo(ctx context.Context, params *telego.SendVideoParams) (*telego.Message, error) {
	return &telego.Message{}, nil
}

func (b *mockBot) SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error {
	b.actions++
	return nil
}

func (b *mockBot) GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error) {
	return &telego.File{FilePath: "photos/file_1.jpg"}, nil
}

func (b *mockBot) UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, opts ...telego.LongPollingOption) (<-chan telego.Update, error) {
	ch := make(chan telego.Update)
	close(ch)
	return ch, nil
}

type fixedDecider struct {
	decision engagement.Decision
	texts    []string
}

func (d *fixedDecider) Decide(ctx context.Context, agent *store.Agent, text string) engagement.Decision {
	d.texts = append(d.texts, text)
	return d.decision
}

type fixedReplier struct {
	reply string
	err   error
	calls int
}

func (r *fixedReplier) Reply(ctx context.Context, agent *store.Agent, history []string) (string, error) {
	r.calls++
	return r.reply, r.err
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	return log
}

type connectorFixture struct {
	connector *Connector
	bot       *mockBot
	db        *store.DB
	agent     *store.Agent
	decider   *fixedDecider
	replier   *fixedReplier
	provider  *llm.MockProvider
}

func newConnectorFixture(t *testing.T, engage bool) *connectorFixture {
	t.Helper()

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	agent := &store.Agent{
		Name:             "Ava",
		EngagementFactor: 0.5,
		LinkedChatID:     "100",
		APIKey:           "test-key",
		Active:           true,
	}
	require.NoError(t, db.UpsertAgent(context.Background(), agent))

	bot := &mockBot{}
	log := testLogger(t)
	decider := &fixedDecider{decision: engagement.Decision{Engage: engage}}
	replier := &fixedReplier{reply: "Hello from Ava!"}
	provider := llm.NewMockProvider().ScriptCaption("a cat on a desk")

	connector := NewConnector(
		bot,
		NewSender(bot, log),
		db,
		agentcontext.NewBuilder(db),
		decider,
		replier,
		func(a *store.Agent) llm.Provider { return provider },
		log,
		"test-token",
	)

	return &connectorFixture{
		connector: connector,
		bot:       bot,
		db:        db,
		agent:     agent,
		decider:   decider,
		replier:   replier,
		provider:  provider,
	}
}

func textUpdate(chatID int64, first, text string) telego.Update {
	return telego.Update{
		Message: &telego.Message{
			Chat: telego.Chat{ID: chatID},
			From: &telego.User{FirstName: first},
			Text: text,
		},
	}
}

func TestInboundMessagePersistedAndReplied(t *testing.T) {
	f := newConnectorFixture(t, true)
	ctx := context.Background()

	f.connector.handleUpdate(ctx, textUpdate(100, "Kim", "hello Ava"))

	msgs, err := f.db.FindMessages(ctx, f.agent.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	// Newest first: assistant reply, then the user turn.
	assert.Equal(t, store.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "Hello from Ava!", msgs[0].Content)
	assert.Equal(t, store.RoleUser, msgs[1].Role)
	assert.Equal(t, "Kim: hello Ava", msgs[1].Content)
	assert.Equal(t, "Kim", msgs[1].Name)

	require.Equal(t, []string{"Hello from Ava!"}, f.bot.messages)
	assert.Equal(t, []int64{100}, f.bot.chats)
	assert.Equal(t, 1, f.bot.actions, "typing action precedes the reply")
}

func TestInboundMessageNotEngagedStaysSilent(t *testing.T) {
	f := newConnectorFixture(t, false)
	ctx := context.Background()

	f.connector.handleUpdate(ctx, textUpdate(100, "Kim", "talking amongst ourselves"))

	msgs, err := f.db.FindMessages(ctx, f.agent.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "the message is persisted even when the agent stays silent")
	assert.Equal(t, store.RoleUser, msgs[0].Role)

	assert.Empty(t, f.bot.messages)
	assert.Equal(t, 0, f.replier.calls)
}

func TestReplyErrorSendsFallback(t *testing.T) {
	f := newConnectorFixture(t, true)
	f.replier.err = fmt.Errorf("provider exploded")
	ctx := context.Background()

	f.connector.handleUpdate(ctx, textUpdate(100, "Kim", "hello Ava"))

	require.Equal(t, []string{FallbackReply}, f.bot.messages)

	msgs, err := f.db.FindMessages(ctx, f.agent.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "no assistant turn is persisted for a failed reply")
	assert.Equal(t, store.RoleUser, msgs[0].Role)
}

func TestUnlinkedChatIgnored(t *testing.T) {
	f := newConnectorFixture(t, true)
	ctx := context.Background()

	f.connector.handleUpdate(ctx, textUpdate(999, "Kim", "hello?"))

	assert.Empty(t, f.bot.messages)
	msgs, err := f.db.FindMessages(ctx, f.agent.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestPhotoCaptionPersisted(t *testing.T) {
	f := newConnectorFixture(t, true)
	ctx := context.Background()

	update := telego.Update{
		Message: &telego.Message{
			Chat:    telego.Chat{ID: 100},
			From:    &telego.User{FirstName: "Kim"},
			Caption: "look at this",
			Photo:   []telego.PhotoSize{{FileID: "small"}, {FileID: "big"}},
		},
	}
	f.connector.handleUpdate(ctx, update)

	msgs, err := f.db.FindMessages(ctx, f.agent.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	// Newest first: the user's caption, then the image description.
	assert.Equal(t, "Kim: look at this", msgs[0].Content)
	assert.Equal(t, "image_description: a cat on a desk", msgs[1].Content)
}

func TestLinkCommandBindsFirstFreeAgent(t *testing.T) {
	f := newConnectorFixture(t, true)
	ctx := context.Background()

	free := &store.Agent{Name: "Ben", EngagementFactor: 0.5, Active: true}
	require.NoError(t, f.db.UpsertAgent(ctx, free))

	f.connector.handleUpdate(ctx, textUpdate(200, "Kim", "/link"))

	linked, err := f.db.FindAgentByChat(ctx, "200")
	require.NoError(t, err)
	assert.Equal(t, "Ben", linked.Name)
	require.Len(t, f.bot.messages, 1)
	assert.Contains(t, f.bot.messages[0], "Linked Ben")
}

func TestLinkCommandOnLinkedChat(t *testing.T) {
	f := newConnectorFixture(t, true)
	f.connector.handleUpdate(context.Background(), textUpdate(100, "Kim", "/link"))

	require.Len(t, f.bot.messages, 1)
	assert.Contains(t, f.bot.messages[0], "already linked to Ava")
}

func TestStatsCommand(t *testing.T) {
	f := newConnectorFixture(t, true)
	ctx := context.Background()

	job := store.Job{Kind: store.JobKindText, Payload: "x", AgentID: f.agent.ID}
	require.NoError(t, f.db.CreateJob(ctx, &job))

	f.connector.handleUpdate(ctx, textUpdate(100, "Kim", "/stats"))

	require.Len(t, f.bot.messages, 1)
	assert.Contains(t, f.bot.messages[0], "Ava")
	assert.Contains(t, f.bot.messages[0], "0.50 (medium)")
	assert.Contains(t, f.bot.messages[0], "Pending tasks: 1")
}

func TestAuthorNameFallbacks(t *testing.T) {
	tests := []struct {
		name string
		from *telego.User
		want string
	}{
		{"first and last", &telego.User{FirstName: "Kim", LastName: "Lee"}, "Kim Lee"},
		{"first only", &telego.User{FirstName: "Kim"}, "Kim"},
		{"username only", &telego.User{Username: "kim42"}, "kim42"},
		{"nothing", &telego.User{}, "User"},
		{"no sender", nil, "User"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, authorName(&telego.Message{From: tc.from}))
		})
	}
}
