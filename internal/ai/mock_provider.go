package ai

import (
	"context"
	"sync"
)

// MockProvider is a scripted Provider for tests. Queued replies are served
// in order; once the queue is empty every call answers "Mock response".
type MockProvider struct {
	name string

	mu      sync.Mutex
	replies []mockReply
	calls   []MockCall
}

type mockReply struct {
	resp *GenerateResponse
	err  error
}

// MockCall records one GenerateResponse call.
type MockCall struct {
	Request *GenerateRequest
}

// NewMockProvider creates an empty mock provider.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

func (m *MockProvider) Name() string {
	return m.name
}

// GenerateResponse records the request and pops the next queued reply.
func (m *MockProvider) GenerateResponse(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{Request: req})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(m.replies) == 0 {
		return &GenerateResponse{Content: "Mock response"}, nil
	}
	next := m.replies[0]
	m.replies = m.replies[1:]
	return next.resp, next.err
}

func (m *MockProvider) enqueue(r mockReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, r)
}

// AddResponse queues a plain text reply.
func (m *MockProvider) AddResponse(content string) {
	m.enqueue(mockReply{resp: &GenerateResponse{Content: content}})
}

// AddToolCallResponse queues a reply carrying one function call.
func (m *MockProvider) AddToolCallResponse(name, arguments string) {
	m.enqueue(mockReply{resp: &GenerateResponse{
		ToolCalls: []ToolCall{{ID: "call_1", Name: name, Arguments: arguments}},
	}})
}

// AddErrorResponse queues a failed call.
func (m *MockProvider) AddErrorResponse(err error) {
	m.enqueue(mockReply{err: err})
}

// GetCallCount returns how many calls were made.
func (m *MockProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastCall returns the most recent call, or nil before the first one.
func (m *MockProvider) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	c := m.calls[len(m.calls)-1]
	return &c
}
