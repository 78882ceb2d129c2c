package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

// echoDef declares a tool with input {msg: string} and output string.
func echoDef(name string) Definition {
	return Definition{
		Name:        name,
		Description: "echoes msg back",
		Input: map[string]*jsonschema.Schema{
			"msg": {Type: "string"},
		},
		Required: []string{"msg"},
		Output:   &jsonschema.Schema{Type: "string"},
	}
}

// echoHandler returns input["msg"] unchanged.
func echoHandler(_ context.Context, input map[string]any) (any, error) {
	return input["msg"], nil
}

// sleepHandler sleeps for delay, honouring ctx cancellation.
func sleepHandler(delay time.Duration) Handler {
	return func(ctx context.Context, _ map[string]any) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
			return "done", nil
		}
	}
}

// mustRuntime builds a runtime or fails the test.
func mustRuntime(t *testing.T, defs []Definition, handlers map[string]Handler, policy *TimeoutPolicy) *Runtime {
	t.Helper()
	rt, err := New(defs, handlers, policy)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rt
}

// ──────────────────────────────────────────────────────────────────────────────
// Registration
// ──────────────────────────────────────────────────────────────────────────────

// TestNew verifies that a valid definition set with a complete handler map
// registers successfully.
func TestNew(t *testing.T) {
	t.Parallel()

	rt := mustRuntime(t,
		[]Definition{echoDef("echo"), echoDef("echo2")},
		map[string]Handler{"echo": echoHandler, "echo2": echoHandler},
		nil,
	)
	if got := len(rt.Definitions()); got != 2 {
		t.Errorf("Definitions() returned %d entries, want 2", got)
	}
}

// TestNewDuplicateName verifies that two definitions sharing a name fail
// registration deterministically.
func TestNewDuplicateName(t *testing.T) {
	t.Parallel()

	_, err := New(
		[]Definition{echoDef("echo"), echoDef("echo")},
		map[string]Handler{"echo": echoHandler},
		nil,
	)
	var dup *DuplicateToolError
	if !errors.As(err, &dup) {
		t.Fatalf("New with duplicate name: got %v, want *DuplicateToolError", err)
	}
	if dup.Name != "echo" {
		t.Errorf("DuplicateToolError.Name = %q, want %q", dup.Name, "echo")
	}
}

// TestNewMissingHandler verifies that a definition without a handler fails
// registration.
func TestNewMissingHandler(t *testing.T) {
	t.Parallel()

	_, err := New([]Definition{echoDef("echo")}, map[string]Handler{}, nil)
	var missing *MissingHandlerError
	if !errors.As(err, &missing) {
		t.Fatalf("New without handler: got %v, want *MissingHandlerError", err)
	}
}

// TestNewStrayHandler verifies that a handler naming no definition fails
// registration.
func TestNewStrayHandler(t *testing.T) {
	t.Parallel()

	_, err := New(
		[]Definition{echoDef("echo")},
		map[string]Handler{"echo": echoHandler, "ghost": echoHandler},
		nil,
	)
	if err == nil {
		t.Error("expected error for handler without definition, got nil")
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Invocation
// ──────────────────────────────────────────────────────────────────────────────

// TestInvokeEcho verifies the end-to-end success envelope: the validated
// result is JSON-serialised into a single text content item.
func TestInvokeEcho(t *testing.T) {
	t.Parallel()

	rt := mustRuntime(t, []Definition{echoDef("echo")}, map[string]Handler{"echo": echoHandler}, nil)

	env, err := rt.Invoke(context.Background(), "echo", json.RawMessage(`{"msg":"hi"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(env.Content) != 1 {
		t.Fatalf("envelope has %d content items, want 1", len(env.Content))
	}
	if env.Content[0].Type != "text" {
		t.Errorf("content type = %q, want %q", env.Content[0].Type, "text")
	}
	if env.Content[0].Text != `"hi"` {
		t.Errorf("content text = %q, want %q", env.Content[0].Text, `"hi"`)
	}
}

// TestInvokeUnknownTool verifies the unknown-name failure and its
// nearest-name suggestion.
func TestInvokeUnknownTool(t *testing.T) {
	t.Parallel()

	rt := mustRuntime(t, []Definition{echoDef("echo")}, map[string]Handler{"echo": echoHandler}, nil)

	_, err := rt.Invoke(context.Background(), "ecoh", nil)
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("Invoke unknown tool: got %v, want *UnknownToolError", err)
	}
	if unknown.Name != "ecoh" {
		t.Errorf("name = %q, want %q", unknown.Name, "ecoh")
	}
	if unknown.Suggestion != "echo" {
		t.Errorf("suggestion = %q, want %q", unknown.Suggestion, "echo")
	}
}

// TestInvokeInputValidation verifies that schema-violating arguments fail
// before the handler runs: the handler's counter must stay at zero.
func TestInvokeInputValidation(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	counting := func(_ context.Context, input map[string]any) (any, error) {
		calls.Add(1)
		return input["msg"], nil
	}
	rt := mustRuntime(t, []Definition{echoDef("echo")}, map[string]Handler{"echo": counting}, nil)

	cases := []struct {
		name string
		raw  string
	}{
		{"wrong type", `{"msg": 42}`},
		{"missing required", `{}`},
		{"unknown field", `{"msg":"hi","extra":1}`},
		{"not an object", `[1,2]`},
	}
	for _, tc := range cases {
		_, err := rt.Invoke(context.Background(), "echo", json.RawMessage(tc.raw))
		var verr *InputValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: got %v, want *InputValidationError", tc.name, err)
		}
	}

	if n := calls.Load(); n != 0 {
		t.Errorf("handler ran %d times on invalid input, want 0", n)
	}
}

// TestInvokeExecutionError verifies that a failing handler surfaces as an
// ExecutionError wrapping the original cause.
func TestInvokeExecutionError(t *testing.T) {
	t.Parallel()

	cause := errors.New("upstream unavailable")
	failing := func(_ context.Context, _ map[string]any) (any, error) { return nil, cause }
	rt := mustRuntime(t, []Definition{echoDef("echo")}, map[string]Handler{"echo": failing}, nil)

	_, err := rt.Invoke(context.Background(), "echo", json.RawMessage(`{"msg":"hi"}`))
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("got %v, want *ExecutionError", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("ExecutionError does not wrap the original cause: %v", err)
	}
}

// TestInvokeHandlerPanic verifies that a panicking handler fails its own
// call instead of the process.
func TestInvokeHandlerPanic(t *testing.T) {
	t.Parallel()

	panicking := func(_ context.Context, _ map[string]any) (any, error) { panic("boom") }
	rt := mustRuntime(t, []Definition{echoDef("echo")}, map[string]Handler{"echo": panicking}, nil)

	_, err := rt.Invoke(context.Background(), "echo", json.RawMessage(`{"msg":"hi"}`))
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("got %v, want *ExecutionError", err)
	}
}

// TestInvokeOutputValidation verifies that a handler returning a value
// violating its declared output schema fails with OutputValidationError and
// the caller never receives the invalid value.
func TestInvokeOutputValidation(t *testing.T) {
	t.Parallel()

	wrongType := func(_ context.Context, _ map[string]any) (any, error) {
		return 12345, nil // output schema says string
	}
	rt := mustRuntime(t, []Definition{echoDef("echo")}, map[string]Handler{"echo": wrongType}, nil)

	env, err := rt.Invoke(context.Background(), "echo", json.RawMessage(`{"msg":"hi"}`))
	var oerr *OutputValidationError
	if !errors.As(err, &oerr) {
		t.Fatalf("got %v, want *OutputValidationError", err)
	}
	if env != nil {
		t.Errorf("caller received an envelope alongside the failure: %+v", env)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Timeouts
// ──────────────────────────────────────────────────────────────────────────────

// TestInvokeTimeout verifies that a handler exceeding its effective budget
// fails with TimeoutError within the budget plus a small epsilon.
func TestInvokeTimeout(t *testing.T) {
	t.Parallel()

	const budget = 50 * time.Millisecond
	rt := mustRuntime(t,
		[]Definition{echoDef("slow")},
		map[string]Handler{"slow": sleepHandler(10 * time.Second)},
		&TimeoutPolicy{PerTool: map[string]time.Duration{"slow": budget}},
	)

	start := time.Now()
	_, err := rt.Invoke(context.Background(), "slow", json.RawMessage(`{"msg":"x"}`))
	elapsed := time.Since(start)

	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("got %v, want *TimeoutError", err)
	}
	if terr.Tool != "slow" || terr.Budget != budget {
		t.Errorf("TimeoutError = %+v, want tool %q budget %s", terr, "slow", budget)
	}
	if elapsed > budget+200*time.Millisecond {
		t.Errorf("Invoke settled after %s, want within %s + epsilon", elapsed, budget)
	}
}

// TestTimeoutResolution verifies the effective-timeout lookup: per-tool
// override wins, the default covers the rest, and unknown names report zero.
func TestTimeoutResolution(t *testing.T) {
	t.Parallel()

	rt := mustRuntime(t,
		[]Definition{echoDef("echo"), echoDef("slow")},
		map[string]Handler{"echo": echoHandler, "slow": echoHandler},
		&TimeoutPolicy{
			Default: time.Second,
			PerTool: map[string]time.Duration{"slow": 50 * time.Millisecond},
		},
	)

	if got := rt.Timeout("slow"); got != 50*time.Millisecond {
		t.Errorf("Timeout(slow) = %s, want 50ms", got)
	}
	if got := rt.Timeout("echo"); got != time.Second {
		t.Errorf("Timeout(echo) = %s, want 1s", got)
	}
	if got := rt.Timeout("nope"); got != 0 {
		t.Errorf("Timeout(nope) = %s, want 0", got)
	}
}

// TestInvokeNoTimeout verifies that without any configured timeout a slow
// handler still completes successfully.
func TestInvokeNoTimeout(t *testing.T) {
	t.Parallel()

	rt := mustRuntime(t,
		[]Definition{echoDef("slow")},
		map[string]Handler{"slow": sleepHandler(50 * time.Millisecond)},
		nil,
	)

	env, err := rt.Invoke(context.Background(), "slow", json.RawMessage(`{"msg":"x"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if env.Content[0].Text != `"done"` {
		t.Errorf("content text = %q, want %q", env.Content[0].Text, `"done"`)
	}
}

// TestInvokeDefaultTimeout verifies that the policy default applies to tools
// without a per-tool override.
func TestInvokeDefaultTimeout(t *testing.T) {
	t.Parallel()

	rt := mustRuntime(t,
		[]Definition{echoDef("slow")},
		map[string]Handler{"slow": sleepHandler(10 * time.Second)},
		&TimeoutPolicy{Default: 50 * time.Millisecond},
	)

	_, err := rt.Invoke(context.Background(), "slow", json.RawMessage(`{"msg":"x"}`))
	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("got %v, want *TimeoutError", err)
	}
}

// TestInvokeCallerCancellation verifies that caller-context cancellation is
// reported as the context's own error, not a TimeoutError.
func TestInvokeCallerCancellation(t *testing.T) {
	t.Parallel()

	rt := mustRuntime(t,
		[]Definition{echoDef("slow")},
		map[string]Handler{"slow": sleepHandler(10 * time.Second)},
		&TimeoutPolicy{Default: time.Minute},
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := rt.Invoke(ctx, "slow", json.RawMessage(`{"msg":"x"}`))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	var terr *TimeoutError
	if errors.As(err, &terr) {
		t.Errorf("caller cancellation misreported as TimeoutError")
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Concurrency and stats
// ──────────────────────────────────────────────────────────────────────────────

// TestInvokeConcurrent verifies that concurrent invocations of the same tool
// run independently.
func TestInvokeConcurrent(t *testing.T) {
	t.Parallel()

	rt := mustRuntime(t, []Definition{echoDef("echo")}, map[string]Handler{"echo": echoHandler}, nil)

	const n = 32
	errs := make(chan error, n)
	for i := range n {
		go func(i int) {
			raw := json.RawMessage(fmt.Sprintf(`{"msg":"m%d"}`, i))
			env, err := rt.Invoke(context.Background(), "echo", raw)
			if err == nil && env.Content[0].Text != fmt.Sprintf("%q", fmt.Sprintf("m%d", i)) {
				err = fmt.Errorf("wrong echo for %d: %q", i, env.Content[0].Text)
			}
			errs <- err
		}(i)
	}
	for range n {
		if err := <-errs; err != nil {
			t.Error(err)
		}
	}
}

// TestStats verifies that invocations show up in the per-tool health
// snapshot, including the error rate.
func TestStats(t *testing.T) {
	t.Parallel()

	failing := func(_ context.Context, _ map[string]any) (any, error) {
		return nil, errors.New("nope")
	}
	rt := mustRuntime(t,
		[]Definition{echoDef("ok"), echoDef("bad")},
		map[string]Handler{"ok": echoHandler, "bad": failing},
		nil,
	)

	for range 4 {
		if _, err := rt.Invoke(context.Background(), "ok", json.RawMessage(`{"msg":"x"}`)); err != nil {
			t.Fatalf("Invoke ok: %v", err)
		}
	}
	_, _ = rt.Invoke(context.Background(), "bad", json.RawMessage(`{"msg":"x"}`))

	stats := rt.Stats()
	if len(stats) != 2 {
		t.Fatalf("Stats() returned %d entries, want 2", len(stats))
	}
	// Sorted by name: "bad" first.
	if stats[0].Name != "bad" || stats[0].Calls != 1 || stats[0].ErrorRate != 1 {
		t.Errorf("bad stats = %+v, want 1 call, error rate 1", stats[0])
	}
	if stats[1].Name != "ok" || stats[1].Calls != 4 || stats[1].ErrorRate != 0 {
		t.Errorf("ok stats = %+v, want 4 calls, error rate 0", stats[1])
	}
}
