package agent

import (
	"context"
	"sync"
)

// MockInvoker is a test implementation of Invoker.
//
// It returns configured responses in order (repeating the last one once
// consumed), optionally injects an error, and records every call for
// assertions. Safe for concurrent use.
//
// Example:
//
//	mock := &MockInvoker{Responses: []Response{{Text: "first"}, {Text: "second"}}}
//	resp, _ := mock.Invoke(ctx, Request{Prompt: "hi"})
//	// resp.Text == "first"; a later call returns "second", then repeats.
type MockInvoker struct {
	// Responses is the sequence of responses to return. When exhausted,
	// the last response repeats. Empty means an empty Response.
	Responses []Response

	// Err, if set, is returned by Invoke instead of a response.
	Err error

	// Respond, if set, computes the response per request and takes
	// precedence over Responses.
	Respond func(req Request) (*Response, error)

	mu        sync.Mutex
	calls     []Request
	callIndex int
}

// Invoke implements Invoker.
func (m *MockInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	if m.Err != nil {
		return nil, m.Err
	}
	if m.Respond != nil {
		return m.Respond(req)
	}
	if len(m.Responses) == 0 {
		return &Response{}, nil
	}
	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	resp := m.Responses[idx]
	return &resp, nil
}

// Calls returns a copy of the recorded requests in invocation order.
func (m *MockInvoker) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Invoke was called.
func (m *MockInvoker) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears recorded calls and rewinds the response sequence.
func (m *MockInvoker) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callIndex = 0
}
