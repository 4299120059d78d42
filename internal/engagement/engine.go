// Package engagement decides whether an agent should reply to an
// inbound group message. The decision combines a name-mention fast
// path, a cached LLM relevance analysis and a per-agent probability
// gate. Every failure mode degrades to silence.
package engagement

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/wasilibs/go-re2"
	"golang.org/x/text/unicode/norm"

	agentcontext "github.com/bkern/chime/internal/agent/context"
	"github.com/bkern/chime/internal/llm"
	"github.com/bkern/chime/internal/logger"
	"github.com/bkern/chime/internal/metrics"
	"github.com/bkern/chime/internal/store"
)

const (
	// historyWindow is how many recent messages the analysis sees.
	historyWindow = 10
	// cacheKeyWindow is how many of those feed the cache key.
	cacheKeyWindow = 5
)

const analysisSystemPrompt = `You decide whether a chat bot persona should join an ongoing group conversation.
Given the recent conversation and the persona description, answer with a single JSON object:
{"shouldEngage": <bool>, "reason": "<short explanation>", "relevance": <number 0..1>}
relevance is how directly the conversation concerns the persona. Use 1.0 only when the persona is being addressed or is clearly the subject.`

// Decision is the outcome of one engagement check.
type Decision struct {
	Engage    bool
	Reason    string
	Relevance float64
}

// ProviderFactory builds the LLM provider for an agent. Agents carry
// their own credentials, so analysis runs on a per-agent provider.
type ProviderFactory func(agent *store.Agent) llm.Provider

// Engine evaluates inbound messages against an agent.
type Engine struct {
	providers ProviderFactory
	builder   *agentcontext.Builder
	cache     *cache
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand

	nameMu      sync.Mutex
	namePattern map[string]*re2.Regexp
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock substitutes the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
		e.cache.now = now
	}
}

// WithRand substitutes the random source. Used by tests.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rand = r }
}

// WithCacheTTL overrides the analysis cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.cache.ttl = ttl }
}

// New creates an engagement engine.
func New(providers ProviderFactory, builder *agentcontext.Builder, log *logger.Logger, m *metrics.Metrics, opts ...Option) *Engine {
	e := &Engine{
		providers:   providers,
		builder:     builder,
		cache:       newCache(DefaultCacheTTL, time.Now),
		logger:      log,
		metrics:     m,
		now:         time.Now,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		namePattern: make(map[string]*re2.Regexp),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide reports whether the agent should reply to text. It never
// returns an error: anything that goes wrong degrades to silence.
func (e *Engine) Decide(ctx stdcontext.Context, agent *store.Agent, text string) Decision {
	// Fast path: a whole-word mention of the agent's name engages
	// unconditionally, with no LLM call.
	if e.mentionsName(agent.Name, text) {
		e.metrics.RecordDecision(true)
		return Decision{Engage: true, Reason: "mentioned by name", Relevance: 1}
	}

	window, err := e.builder.Window(ctx, agent.ID, historyWindow)
	if err != nil {
		e.logger.ErrorCtx(ctx, "engagement history load failed", err,
			logger.Field{Key: "agent_id", Value: agent.ID})
		e.metrics.RecordDecision(false)
		return Decision{Engage: false, Reason: "history unavailable"}
	}
	if len(window) == 0 {
		e.metrics.RecordDecision(false)
		return Decision{Engage: false, Reason: "no history"}
	}

	key := cacheKey(agent.ID, window)
	analysis, cached := e.cache.get(key)
	e.metrics.RecordCache(cached)
	if !cached {
		analysis = e.analyze(ctx, agent, window)
		// Failures are cached too: a transient LLM outage must not be
		// re-probed on every group message within the TTL.
		e.cache.put(key, analysis)
	}

	decision := e.gate(agent, analysis)
	e.metrics.RecordDecision(decision.Engage)

	e.logger.DebugCtx(ctx, "engagement decision",
		logger.Field{Key: "agent_id", Value: agent.ID},
		logger.Field{Key: "engage", Value: decision.Engage},
		logger.Field{Key: "reason", Value: decision.Reason},
		logger.Field{Key: "relevance", Value: decision.Relevance},
		logger.Field{Key: "cached", Value: cached})
	return decision
}

// mentionsName reports a case-insensitive whole-word match of the
// agent's name in text.
func (e *Engine) mentionsName(name, text string) bool {
	if name == "" {
		return false
	}

	e.nameMu.Lock()
	pattern, ok := e.namePattern[name]
	if !ok {
		pattern = re2.MustCompile(`(?i)\b` + re2.QuoteMeta(name) + `\b`)
		e.namePattern[name] = pattern
	}
	e.nameMu.Unlock()

	return pattern.MatchString(text)
}

// analyze asks the LLM whether the conversation concerns the agent.
func (e *Engine) analyze(ctx stdcontext.Context, agent *store.Agent, window []store.Message) Analysis {
	var sb strings.Builder
	sb.WriteString("Persona:\n")
	sb.WriteString(agent.Name)
	if agent.Context != "" {
		sb.WriteString("\n")
		sb.WriteString(agent.Context)
	}
	sb.WriteString("\n\nConversation:\n")
	for _, msg := range window {
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}

	raw, err := e.providers(agent).Analyze(ctx, llm.AnalyzeRequest{
		System: analysisSystemPrompt,
		User:   sb.String(),
		Model:  agent.Model,
	})
	if err != nil {
		e.metrics.RecordAnalysis("error")
		e.logger.ErrorCtx(ctx, "engagement analysis failed", err,
			logger.Field{Key: "agent_id", Value: agent.ID})
		return Analysis{ShouldEngage: false, Reason: "analysis failed", Relevance: 0}
	}

	analysis, err := parseAnalysis(raw)
	if err != nil {
		e.metrics.RecordAnalysis("parse_error")
		e.logger.WarnCtx(ctx, "engagement analysis unparseable",
			logger.Field{Key: "agent_id", Value: agent.ID},
			logger.Field{Key: "raw", Value: raw})
		return Analysis{ShouldEngage: false, Reason: "failed to parse analysis", Relevance: 0}
	}

	e.metrics.RecordAnalysis("ok")
	return analysis
}

// gate converts a binary analysis into a probabilistic decision. Full
// relevance engages unconditionally; anything less rolls against the
// agent's engagement factor.
func (e *Engine) gate(agent *store.Agent, analysis Analysis) Decision {
	if !analysis.ShouldEngage {
		return Decision{Engage: false, Reason: analysis.Reason, Relevance: analysis.Relevance}
	}
	if analysis.Relevance == 1.0 {
		return Decision{Engage: true, Reason: analysis.Reason, Relevance: analysis.Relevance}
	}

	e.randMu.Lock()
	draw := e.rand.Float64()
	e.randMu.Unlock()

	if draw < agent.EngagementFactor {
		return Decision{Engage: true, Reason: analysis.Reason, Relevance: analysis.Relevance}
	}
	return Decision{
		Engage:    false,
		Reason:    fmt.Sprintf("below engagement factor (%.2f)", agent.EngagementFactor),
		Relevance: analysis.Relevance,
	}
}

// parseAnalysis parses the analysis JSON, tolerating code-fence
// wrapping around the object.
func parseAnalysis(raw string) (Analysis, error) {
	cleaned := stripCodeFences(raw)

	var analysis Analysis
	if err := json.Unmarshal([]byte(cleaned), &analysis); err != nil {
		return Analysis{}, fmt.Errorf("failed to parse analysis response: %w", err)
	}
	return analysis, nil
}

// stripCodeFences removes a surrounding ``` or ```json fence, if any.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line (e.g. "json").
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// cacheKey builds the analysis cache key from the agent and the most
// recent messages. Content is NFC-normalized so visually identical
// strings with different codepoint sequences key identically.
func cacheKey(agentID string, window []store.Message) string {
	start := len(window) - cacheKeyWindow
	if start < 0 {
		start = 0
	}

	var sb strings.Builder
	sb.WriteString(agentID)
	for _, msg := range window[start:] {
		sb.WriteString("-")
		sb.WriteString(norm.NFC.String(msg.Content))
	}
	return sb.String()
}
