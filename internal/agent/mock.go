package agent

import (
	"context"
	"fmt"
	"sync"
)

// MockGenerator returns scripted responses in order and records every call.
// Once the script is exhausted it falls back to Fallback, or an error when
// Fallback is empty.
type MockGenerator struct {
	mu        sync.Mutex
	responses []string
	index     int
	calls     []MockCall

	// Fallback is returned after scripted responses run out.
	Fallback string
	// Err, when set, is returned by every call.
	Err error
	// TokensPerCall fakes usage accounting. Zero values default to 1000/500.
	InputTokens  int
	OutputTokens int
}

type MockCall struct {
	SystemMsg string
	UserMsg   string
	Params    Params
}

func NewMockGenerator(responses ...string) *MockGenerator {
	return &MockGenerator{responses: responses}
}

func (m *MockGenerator) Generate(_ context.Context, systemMsg, userMsg string, params Params) (*Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{SystemMsg: systemMsg, UserMsg: userMsg, Params: params})

	if m.Err != nil {
		return nil, m.Err
	}

	var text string
	switch {
	case m.index < len(m.responses):
		text = m.responses[m.index]
		m.index++
	case m.Fallback != "":
		text = m.Fallback
	default:
		return nil, fmt.Errorf("mock generator: no response scripted for call %d", len(m.calls))
	}

	in, out := m.InputTokens, m.OutputTokens
	if in == 0 {
		in = 1000
	}
	if out == 0 {
		out = 500
	}

	return &Generation{
		Text:         text,
		InputTokens:  in,
		OutputTokens: out,
		Model:        "mock",
	}, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockGenerator) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount reports how many times Generate has been invoked.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
