package llm

import (
	"bytes"
	stdcontext "context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bkern/chime/internal/logger"
)

const (
	// OpenAIEndpoint is the default base URL for OpenAI-compatible APIs
	OpenAIEndpoint = "https://api.openai.com/v1"
	// OpenAIRequestTimeout is the default timeout for API requests
	OpenAIRequestTimeout = 60 * time.Second
	// OpenAIDefaultModel is used when no model is configured
	OpenAIDefaultModel = "gpt-4o-mini"
	// OpenAIImageSize is the size requested for generated images
	OpenAIImageSize = "512x512"

	// analyzeTemperature and analyzeMaxTokens bound the structured
	// analysis calls; analysis answers are small JSON objects.
	analyzeTemperature = 0.3
	analyzeMaxTokens   = 200
)

// OpenAIConfig contains configuration for the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`         // API key for authentication
	BaseURL        string `json:"base_url"`        // API base URL (optional, defaults to OpenAI)
	Model          string `json:"model"`           // Default model to use
	TimeoutSeconds int    `json:"timeout_seconds"` // Timeout for HTTP requests in seconds
}

// OpenAIProvider implements the Provider interface against any
// OpenAI-compatible chat completions API.
type OpenAIProvider struct {
	client  *http.Client // HTTP client for API requests
	config  OpenAIConfig // Provider configuration
	baseURL string       // API base URL
	logger  *logger.Logger
}

// oaRequest represents the chat completions request body.
type oaRequest struct {
	Messages       []oaMessage       `json:"messages"`                  // Conversation messages
	Model          string            `json:"model"`                     // Model identifier
	Temperature    float64           `json:"temperature,omitempty"`     // Sampling temperature
	MaxTokens      int               `json:"max_tokens,omitempty"`      // Maximum tokens to generate
	Tools          []oaTool          `json:"tools,omitempty"`           // Available tools/functions
	ToolChoice     string            `json:"tool_choice,omitempty"`     // Tool selection mode (auto)
	ResponseFormat *oaResponseFormat `json:"response_format,omitempty"` // Output format constraint
}

// oaMessage represents a message in the API format. Content is any
// because vision requests use an array of content parts instead of a
// plain string.
type oaMessage struct {
	Role       string       `json:"role"`
	Content    any          `json:"content"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
}

// oaContentPart is one element of a vision message content array.
type oaContentPart struct {
	Type     string      `json:"type"` // "text" or "image_url"
	Text     string      `json:"text,omitempty"`
	ImageURL *oaImageURL `json:"image_url,omitempty"`
}

type oaImageURL struct {
	URL string `json:"url"`
}

// oaResponseFormat constrains the output format of a completion.
type oaResponseFormat struct {
	Type string `json:"type"` // "json_object"
}

// oaTool represents a tool definition in the API format.
type oaTool struct {
	Type     string                 `json:"type"`     // Always "function"
	Function map[string]interface{} `json:"function"` // Function definition
}

// oaResponse represents the chat completions response body.
type oaResponse struct {
	ID      string      `json:"id"`
	Object  string      `json:"object"`
	Created int64       `json:"created"`
	Model   string      `json:"model"`
	Choices []oaChoice  `json:"choices"`
	Usage   oaUsage     `json:"usage"`
	Error   *oaAPIError `json:"error,omitempty"`
}

// oaChoice represents a choice in the response.
type oaChoice struct {
	Index        int             `json:"index"`
	Message      oaResultMessage `json:"message"`
	FinishReason string          `json:"finish_reason,omitempty"`
}

// oaResultMessage is the generated message; unlike oaMessage its
// content is always a plain string.
type oaResultMessage struct {
	Role      string       `json:"role"`
	Content   string       `json:"content"`
	ToolCalls []oaToolCall `json:"tool_calls,omitempty"`
}

// oaToolCall represents a tool call in the response.
type oaToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// oaUsage represents token usage information.
type oaUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// oaAPIError represents an error response from the API.
type oaAPIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// oaImageRequest represents the image generation request body.
type oaImageRequest struct {
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
	Model  string `json:"model,omitempty"`
}

// oaImageResponse represents the image generation response body.
type oaImageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *oaAPIError `json:"error,omitempty"`
}

// NewOpenAIProvider creates a new OpenAIProvider instance.
func NewOpenAIProvider(cfg OpenAIConfig, log *logger.Logger) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = OpenAIDefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenAIEndpoint
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = OpenAIRequestTimeout
	}

	return &OpenAIProvider{
		client: &http.Client{
			Timeout: timeout,
		},
		config:  cfg,
		baseURL: cfg.BaseURL,
		logger:  log,
	}
}

// oaHTTPError represents an HTTP error from the API.
type oaHTTPError struct {
	StatusCode int    // HTTP status code
	Body       string // Response body
}

func (e *oaHTTPError) Error() string {
	return fmt.Sprintf("HTTP error: status=%d, body=%s", e.StatusCode, e.Body)
}

// doRequest executes a single HTTP POST to the given API path and
// returns the raw response body.
func (p *OpenAIProvider) doRequest(ctx stdcontext.Context, path string, reqBody []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.config.APIKey))

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		p.logger.ErrorCtx(ctx, "Failed to execute LLM API request", err,
			logger.Field{Key: "path", Value: path})
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		p.logger.ErrorCtx(ctx, "Failed to read response body", err)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		p.logger.ErrorCtx(ctx, "LLM API returned error status", nil,
			logger.Field{Key: "path", Value: path},
			logger.Field{Key: "status_code", Value: httpResp.StatusCode},
			logger.Field{Key: "response_body", Value: string(respBody)})

		return nil, &oaHTTPError{
			StatusCode: httpResp.StatusCode,
			Body:       string(respBody),
		}
	}

	return respBody, nil
}

// doChat posts a chat completions request and parses the response.
func (p *OpenAIProvider) doChat(ctx stdcontext.Context, reqBody []byte) (*oaResponse, error) {
	respBody, err := p.doRequest(ctx, "/chat/completions", reqBody)
	if err != nil {
		return nil, err
	}

	var oaResp oaResponse
	if err := json.Unmarshal(respBody, &oaResp); err != nil {
		p.logger.ErrorCtx(ctx, "Failed to unmarshal LLM response", err,
			logger.Field{Key: "response_body", Value: string(respBody)})
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if oaResp.Error != nil {
		p.logger.ErrorCtx(ctx, "LLM API returned error", nil,
			logger.Field{Key: "error_type", Value: oaResp.Error.Type},
			logger.Field{Key: "error_message", Value: oaResp.Error.Message})
		return nil, fmt.Errorf("API error: %s: %s", oaResp.Error.Type, oaResp.Error.Message)
	}

	return &oaResp, nil
}

// mapChatRequest maps an internal ChatRequest to the API format.
func (p *OpenAIProvider) mapChatRequest(req ChatRequest) oaRequest {
	messages := make([]oaMessage, len(req.Messages))
	for i, msg := range req.Messages {
		m := oaMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		if len(msg.ToolCalls) > 0 {
			m.ToolCalls = make([]oaToolCall, len(msg.ToolCalls))
			for j, tc := range msg.ToolCalls {
				call := oaToolCall{ID: tc.ID, Type: "function"}
				call.Function.Name = tc.Name
				call.Function.Arguments = tc.Arguments
				m.ToolCalls[j] = call
			}
		}
		messages[i] = m
	}

	oaReq := oaRequest{
		Messages:    messages,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if oaReq.Model == "" {
		oaReq.Model = p.config.Model
	}

	if len(req.Tools) > 0 {
		oaReq.Tools = make([]oaTool, len(req.Tools))
		for i, tool := range req.Tools {
			oaReq.Tools[i] = oaTool{
				Type: "function",
				Function: map[string]interface{}{
					"name":        tool.Name,
					"description": tool.Description,
					"parameters":  tool.Parameters,
				},
			}
		}
		oaReq.ToolChoice = "auto"
	}

	return oaReq
}

// mapChatResponse maps the API response to the internal ChatResponse format.
func (p *OpenAIProvider) mapChatResponse(oaResp *oaResponse) *ChatResponse {
	usage := Usage{
		PromptTokens:     oaResp.Usage.PromptTokens,
		CompletionTokens: oaResp.Usage.CompletionTokens,
		TotalTokens:      oaResp.Usage.TotalTokens,
	}

	if len(oaResp.Choices) == 0 {
		return &ChatResponse{
			Content:      "",
			FinishReason: FinishReasonError,
			ToolCalls:    []ToolCall{},
			Usage:        usage,
			Model:        oaResp.Model,
		}
	}

	choice := oaResp.Choices[0]

	toolCalls := make([]ToolCall, len(choice.Message.ToolCalls))
	for i, tc := range choice.Message.ToolCalls {
		toolCalls[i] = ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}
	}

	return &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: FinishReason(choice.FinishReason),
		ToolCalls:    toolCalls,
		Usage:        usage,
		Model:        oaResp.Model,
	}
}

// Chat sends a chat completion request.
func (p *OpenAIProvider) Chat(ctx stdcontext.Context, req ChatRequest) (*ChatResponse, error) {
	p.logger.DebugCtx(ctx, "Sending chat request",
		logger.Field{Key: "model", Value: req.Model},
		logger.Field{Key: "messages_count", Value: len(req.Messages)},
		logger.Field{Key: "tools_count", Value: len(req.Tools)})

	jsonBody, err := json.Marshal(p.mapChatRequest(req))
	if err != nil {
		p.logger.ErrorCtx(ctx, "Failed to marshal request", err)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	oaResp, err := p.doChat(ctx, jsonBody)
	if err != nil {
		return nil, err
	}

	return p.mapChatResponse(oaResp), nil
}

// Analyze sends a completion request with output constrained to a JSON
// object and returns the raw content string.
func (p *OpenAIProvider) Analyze(ctx stdcontext.Context, req AnalyzeRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	oaReq := oaRequest{
		Messages: []oaMessage{
			{Role: string(RoleSystem), Content: req.System},
			{Role: string(RoleUser), Content: req.User},
		},
		Model:          model,
		Temperature:    analyzeTemperature,
		MaxTokens:      analyzeMaxTokens,
		ResponseFormat: &oaResponseFormat{Type: "json_object"},
	}

	jsonBody, err := json.Marshal(oaReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	oaResp, err := p.doChat(ctx, jsonBody)
	if err != nil {
		return "", err
	}
	if len(oaResp.Choices) == 0 {
		return "", fmt.Errorf("analysis response contained no choices")
	}

	return oaResp.Choices[0].Message.Content, nil
}

// GenerateImage produces an image from a text prompt and returns the
// URL of the first result.
func (p *OpenAIProvider) GenerateImage(ctx stdcontext.Context, prompt string) (string, error) {
	p.logger.DebugCtx(ctx, "Sending image generation request",
		logger.Field{Key: "prompt_length", Value: len(prompt)})

	jsonBody, err := json.Marshal(oaImageRequest{
		Prompt: prompt,
		N:      1,
		Size:   OpenAIImageSize,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	respBody, err := p.doRequest(ctx, "/images/generations", jsonBody)
	if err != nil {
		return "", err
	}

	var imgResp oaImageResponse
	if err := json.Unmarshal(respBody, &imgResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if imgResp.Error != nil {
		return "", fmt.Errorf("API error: %s: %s", imgResp.Error.Type, imgResp.Error.Message)
	}
	if len(imgResp.Data) == 0 || imgResp.Data[0].URL == "" {
		return "", fmt.Errorf("image response contained no data")
	}

	return imgResp.Data[0].URL, nil
}

// Caption describes an image using vision content parts. userText, when
// present, steers the description toward what the user asked about.
func (p *OpenAIProvider) Caption(ctx stdcontext.Context, imageURL, userText string) (string, error) {
	prompt := "Describe this image briefly."
	if userText != "" {
		prompt = fmt.Sprintf("Describe this image briefly. The sender wrote: %s", userText)
	}

	oaReq := oaRequest{
		Messages: []oaMessage{
			{
				Role: string(RoleUser),
				Content: []oaContentPart{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &oaImageURL{URL: imageURL}},
				},
			},
		},
		Model:     p.config.Model,
		MaxTokens: 300,
	}

	jsonBody, err := json.Marshal(oaReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	oaResp, err := p.doChat(ctx, jsonBody)
	if err != nil {
		return "", err
	}
	if len(oaResp.Choices) == 0 {
		return "", fmt.Errorf("caption response contained no choices")
	}

	return oaResp.Choices[0].Message.Content, nil
}

// SupportsToolCalling returns true; chat completions tool calling is
// part of the OpenAI-compatible surface this provider targets.
func (p *OpenAIProvider) SupportsToolCalling() bool {
	return true
}
