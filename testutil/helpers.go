package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/taskflowhq/taskflow/workflow"
)

// pollInterval is how often the waiting helpers re-check their condition.
const pollInterval = 10 * time.Millisecond

// TestContext returns a context bounded to 30 seconds and cancelled when the
// test finishes, so a hanging call fails the test instead of the suite.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout returns a context with the given timeout, cancelled
// when the test finishes.
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext returns a context that is already cancelled, for testing
// cancellation paths.
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// WaitFor polls the condition until it holds or the timeout passes and
// reports whether it held.
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(pollInterval)
	}
	return false
}

// WaitForChannel receives one value from the channel or gives up after the
// timeout.
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}

// AwaitStatus polls the manager until the workflow reaches the wanted status
// and fails the test when it does not within the timeout.
func AwaitStatus(t *testing.T, m *workflow.Manager, id string, want workflow.Status, timeout time.Duration) {
	t.Helper()
	var last workflow.Status
	ok := WaitFor(func() bool {
		w, found := m.Workflow(id)
		if !found {
			return false
		}
		last = w.Status()
		return last == want
	}, timeout)
	if !ok {
		t.Fatalf("workflow %s did not reach status %q within %v, last status %q", id, want, timeout, last)
	}
}

// MustJSON marshals the value or panics; for building test inputs inline.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// MustParseJSON unmarshals the string into T or panics.
func MustParseJSON[T any](s string) T {
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(err)
	}
	return v
}
