// Package mocks provides configurable fakes for the engine's collaborators:
// the oracle, code runners, action executors and approval policies. All
// fakes are safe for concurrent use and record their calls for assertions.
package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/taskflowhq/taskflow/oracle"
)

// ErrOracleFault is the default error injected by a faulting MockOracle.
var ErrOracleFault = errors.New("mock oracle fault")

// OracleCall records one Complete invocation with its outcome.
type OracleCall struct {
	Request  oracle.Request
	Response *oracle.Response
	Err      error
}

// MockOracle is a scriptable Oracle for tests. The zero value is not usable;
// construct it with NewMockOracle or one of the preset factories and shape
// the behavior with the With* builders:
//
//	back := mocks.NewMockOracle().
//		WithScript("plan the work", "do the work").
//		WithDelay(5 * time.Millisecond)
//
// A script is consumed one reply per call; once exhausted the last reply
// repeats, so an over-long run never turns into a surprise failure.
type MockOracle struct {
	mu       sync.Mutex
	name     string
	reply    string
	tokens   int
	script   []string
	err      error
	failAt   int
	delay    time.Duration
	complete oracle.CompleteFunc
	count    int
	calls    []OracleCall
}

// NewMockOracle returns a mock that answers every request with a fixed
// default reply.
func NewMockOracle() *MockOracle {
	return &MockOracle{name: "mock", reply: "mock reply", tokens: 10}
}

// NewSuccessOracle returns a mock that always answers with the given reply.
func NewSuccessOracle(reply string) *MockOracle {
	return NewMockOracle().WithReply(reply)
}

// NewErrorOracle returns a mock that fails every call with the given error.
func NewErrorOracle(err error) *MockOracle {
	return NewMockOracle().WithError(err)
}

// NewScriptedOracle returns a mock that answers with the given replies in
// order, repeating the last one once the script runs out.
func NewScriptedOracle(replies ...string) *MockOracle {
	return NewMockOracle().WithScript(replies...)
}

// NewFlakyOracle returns a mock that succeeds for the first n calls and
// fails with ErrOracleFault afterwards.
func NewFlakyOracle(n int) *MockOracle {
	return NewMockOracle().WithFailAfter(n)
}

// WithName sets the name reported to logs and metrics.
func (m *MockOracle) WithName(name string) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// WithReply sets the fixed reply for every call. A configured script takes
// precedence.
func (m *MockOracle) WithReply(reply string) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply = reply
	return m
}

// WithTokens sets the token count stamped on every response.
func (m *MockOracle) WithTokens(n int) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = n
	return m
}

// WithScript sets per-call replies consumed in order; the last one repeats.
func (m *MockOracle) WithScript(replies ...string) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append([]string(nil), replies...)
	return m
}

// WithError makes every call fail with err.
func (m *MockOracle) WithError(err error) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithFailAfter makes calls beyond the first n fail with ErrOracleFault.
func (m *MockOracle) WithFailAfter(n int) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt = n
	return m
}

// WithDelay stalls every call for d before answering, honoring context
// cancellation.
func (m *MockOracle) WithDelay(d time.Duration) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithCompleteFunc replaces the canned behavior entirely; calls are still
// recorded.
func (m *MockOracle) WithCompleteFunc(fn oracle.CompleteFunc) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.complete = fn
	return m
}

// Name implements oracle.Oracle.
func (m *MockOracle) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// Complete implements oracle.Oracle.
func (m *MockOracle) Complete(ctx context.Context, req oracle.Request) (*oracle.Response, error) {
	m.mu.Lock()
	seq := m.count
	m.count++
	delay := m.delay
	custom := m.complete
	content := m.reply
	if len(m.script) > 0 {
		i := seq
		if i >= len(m.script) {
			i = len(m.script) - 1
		}
		content = m.script[i]
	}
	err := m.err
	if err == nil && m.failAt > 0 && seq >= m.failAt {
		err = ErrOracleFault
	}
	tokens := m.tokens
	name := m.name
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			m.record(req, nil, ctx.Err())
			return nil, ctx.Err()
		}
	}

	if custom != nil {
		resp, cerr := custom(ctx, req)
		m.record(req, resp, cerr)
		return resp, cerr
	}
	if err != nil {
		m.record(req, nil, err)
		return nil, err
	}

	resp := &oracle.Response{
		Content: content,
		Tokens:  tokens,
		Meta:    map[string]any{"oracle": name, "call": seq + 1},
	}
	m.record(req, resp, nil)
	return resp, nil
}

func (m *MockOracle) record(req oracle.Request, resp *oracle.Response, err error) {
	m.mu.Lock()
	m.calls = append(m.calls, OracleCall{Request: req, Response: resp, Err: err})
	m.mu.Unlock()
}

// Calls returns a copy of all recorded calls.
func (m *MockOracle) Calls() []OracleCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OracleCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Complete ran.
func (m *MockOracle) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastCall returns the most recent call, if any.
func (m *MockOracle) LastCall() (OracleCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return OracleCall{}, false
	}
	return m.calls[len(m.calls)-1], true
}

// Prompts returns the prompt of every recorded call, in order.
func (m *MockOracle) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Request.Prompt
	}
	return out
}

// Reset clears the recorded calls and the call counter; the configured
// behavior stays.
func (m *MockOracle) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count = 0
	m.calls = nil
}
