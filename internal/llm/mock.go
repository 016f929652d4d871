package llm

import (
	"context"
	"sync"
)

// MockClient is a deterministic, substitutable Client for tests: each
// call to Chat returns the next entry from Responses, cycling on the
// last entry once exhausted.
type MockClient struct {
	mu        sync.Mutex
	Responses []Response
	calls     int
	Requests  [][]Message
}

func NewMockClient(responses ...Response) *MockClient {
	return &MockClient{Responses: responses}
}

func (m *MockClient) Chat(_ context.Context, messages []Message) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, messages)
	if len(m.Responses) == 0 {
		m.calls++
		return &Response{Content: ""}, nil
	}
	idx := m.calls
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.calls++
	resp := m.Responses[idx]
	return &resp, nil
}

// CallCount returns how many times Chat has been invoked.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ Client = (*MockClient)(nil)
