package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a scripted implementation of the Provider interface
// for tests. Chat responses are consumed in order; when the script runs
// out the last response repeats.
type MockProvider struct {
	mu sync.Mutex

	chatScript    []*ChatResponse // Scripted chat responses, consumed in order
	chatIndex     int             // Current position in the script
	chatErr       error           // Error returned by every Chat call
	chatRequests  []ChatRequest   // Recorded Chat requests
	analyzeScript []string        // Scripted Analyze responses
	analyzeIndex  int
	analyzeErr    error
	analyzeCalls  int
	imageURL      string // URL returned by GenerateImage
	imageErr      error
	captionText   string // Text returned by Caption
	captionErr    error
}

// NewMockProvider creates an empty mock provider. Configure it with the
// Script* methods before use.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// NewFixedProvider creates a mock provider whose Chat always returns
// the given plain-text response.
func NewFixedProvider(response string) *MockProvider {
	m := NewMockProvider()
	m.ScriptChat(&ChatResponse{
		Content:      response,
		FinishReason: FinishReasonStop,
	})
	return m
}

// NewErrorProvider creates a mock provider whose every call fails.
func NewErrorProvider() *MockProvider {
	err := fmt.Errorf("mock provider error")
	return &MockProvider{
		chatErr:    err,
		analyzeErr: err,
		imageErr:   err,
		captionErr: err,
	}
}

// ScriptChat appends responses to the chat script.
func (m *MockProvider) ScriptChat(responses ...*ChatResponse) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatScript = append(m.chatScript, responses...)
	return m
}

// ScriptAnalyze appends responses to the analyze script.
func (m *MockProvider) ScriptAnalyze(responses ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyzeScript = append(m.analyzeScript, responses...)
	return m
}

// ScriptImage sets the URL returned by GenerateImage.
func (m *MockProvider) ScriptImage(url string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imageURL = url
	return m
}

// ScriptCaption sets the text returned by Caption.
func (m *MockProvider) ScriptCaption(text string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captionText = text
	return m
}

// FailAnalyze makes every Analyze call return err.
func (m *MockProvider) FailAnalyze(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyzeErr = err
	return m
}

// Chat implements the Provider interface.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.chatRequests = append(m.chatRequests, req)

	if m.chatErr != nil {
		return nil, m.chatErr
	}
	if len(m.chatScript) == 0 {
		return nil, fmt.Errorf("mock provider: no chat responses scripted")
	}

	idx := m.chatIndex
	if idx >= len(m.chatScript) {
		idx = len(m.chatScript) - 1
	} else {
		m.chatIndex++
	}
	return m.chatScript[idx], nil
}

// Analyze implements the Provider interface.
func (m *MockProvider) Analyze(ctx context.Context, req AnalyzeRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.analyzeCalls++

	if m.analyzeErr != nil {
		return "", m.analyzeErr
	}
	if len(m.analyzeScript) == 0 {
		return "", fmt.Errorf("mock provider: no analyze responses scripted")
	}

	idx := m.analyzeIndex
	if idx >= len(m.analyzeScript) {
		idx = len(m.analyzeScript) - 1
	} else {
		m.analyzeIndex++
	}
	return m.analyzeScript[idx], nil
}

// GenerateImage implements the Provider interface.
func (m *MockProvider) GenerateImage(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.imageErr != nil {
		return "", m.imageErr
	}
	if m.imageURL == "" {
		return "", fmt.Errorf("mock provider: no image URL scripted")
	}
	return m.imageURL, nil
}

// Caption implements the Provider interface.
func (m *MockProvider) Caption(ctx context.Context, imageURL, userText string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.captionErr != nil {
		return "", m.captionErr
	}
	if m.captionText == "" {
		return "", fmt.Errorf("mock provider: no caption scripted")
	}
	return m.captionText, nil
}

// SupportsToolCalling implements the Provider interface.
func (m *MockProvider) SupportsToolCalling() bool {
	return true
}

// ChatCallCount returns the number of Chat calls made.
func (m *MockProvider) ChatCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chatRequests)
}

// AnalyzeCallCount returns the number of Analyze calls made.
func (m *MockProvider) AnalyzeCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.analyzeCalls
}

// LastChatRequest returns the most recent Chat request, or nil.
func (m *MockProvider) LastChatRequest() *ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.chatRequests) == 0 {
		return nil
	}
	req := m.chatRequests[len(m.chatRequests)-1]
	return &req
}
