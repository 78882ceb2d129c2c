// Package dispatch implements the tool-invocation runtime at the core of
// augur.
//
// A [Runtime] is built once at startup from a set of tool [Definition]s, a
// matching [Handler] map, and an optional [TimeoutPolicy]. Each call to
// [Runtime.Invoke] validates the caller's untrusted arguments against the
// tool's declared input schema, executes the handler under the tool's
// effective timeout with cooperative cancellation, validates the handler's
// output against the declared output schema, and wraps the serialised result
// into a transport-agnostic [Envelope].
//
// The registry table is immutable after [New] returns, so concurrent Invoke
// calls (including for the same tool) run independently with no locking
// beyond each tool's measurement window.
//
// Typical usage:
//
//	rt, err := dispatch.New(defs, handlers, &dispatch.TimeoutPolicy{
//	    Default: 30 * time.Second,
//	})
//	if err != nil { ... } // fatal: misconfigured registration
//
//	env, err := rt.Invoke(ctx, "web_search", rawArgs)
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/google/jsonschema-go/jsonschema"
)

// maxSuggestDistance is the largest Levenshtein distance at which an unknown
// tool name still earns a "did you mean" suggestion.
const maxSuggestDistance = 3

// Definition declares one tool: its name, human description, and the schemas
// its inputs and output must satisfy. Definitions are immutable once passed
// to [New].
type Definition struct {
	// Name uniquely identifies the tool within a runtime.
	Name string

	// Description is the human/LLM-facing explanation of what the tool does.
	Description string

	// Input maps each accepted field name to the schema its value must
	// satisfy. Fields not listed here are rejected.
	Input map[string]*jsonschema.Schema

	// Required lists the Input fields that must be present.
	Required []string

	// Output is the schema the handler's return value must satisfy after
	// JSON serialisation.
	Output *jsonschema.Schema
}

// InputSchema composes the field map into the closed JSON-Schema object that
// callers' arguments are validated against. This is also the schema the
// server layer advertises over the wire.
func (d Definition) InputSchema() *jsonschema.Schema {
	props := make(map[string]*jsonschema.Schema, len(d.Input))
	for name, s := range d.Input {
		props[name] = s
	}
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   append([]string(nil), d.Required...),
		// A "false" subschema: no additional properties validate.
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
}

// Handler executes one tool. input has already been validated against the
// tool's input schema. Implementations must respect ctx cancellation: when
// the effective timeout elapses the runtime abandons the call, and a handler
// that ignores ctx keeps running in the background (see [Runtime.Invoke]).
type Handler func(ctx context.Context, input map[string]any) (any, error)

// TimeoutPolicy bounds handler execution time. Supplied once at runtime
// construction; immutable thereafter.
type TimeoutPolicy struct {
	// Default applies to every tool without a PerTool override.
	// Zero means no default: such tools run unbounded.
	Default time.Duration

	// PerTool overrides Default for the named tools.
	PerTool map[string]time.Duration
}

// effective resolves the timeout for one tool. Zero means unbounded.
func (p *TimeoutPolicy) effective(name string) time.Duration {
	if p == nil {
		return 0
	}
	if d, ok := p.PerTool[name]; ok {
		return d
	}
	return p.Default
}

// TextContent is one text item in an [Envelope].
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Envelope is the transport-agnostic success wrapper returned by
// [Runtime.Invoke]: a single text content item carrying the JSON-serialised,
// schema-validated handler result.
type Envelope struct {
	Content []TextContent `json:"content"`
}

// ToolStats is a point-in-time health snapshot for one tool, computed over
// its rolling measurement window.
type ToolStats struct {
	// Name is the tool name.
	Name string `json:"name"`

	// Calls is the total number of invocations since startup.
	Calls int `json:"calls"`

	// ErrorRate is the fraction of windowed invocations that failed (0–1).
	ErrorRate float64 `json:"error_rate"`

	// P50Ms and P99Ms are windowed latency percentiles in milliseconds.
	P50Ms int64 `json:"p50_ms"`
	P99Ms int64 `json:"p99_ms"`
}

// entry holds everything the runtime needs to serve one tool. Built once by
// [New]; read-only afterwards except for the measurement window.
type entry struct {
	def     Definition
	fields  map[string]*jsonschema.Resolved // per-field input validators
	output  *jsonschema.Resolved
	handler Handler
	timeout time.Duration // 0 = unbounded
	window  *window
}

// Runtime dispatches tool invocations. Create instances with [New]; the zero
// value is not usable. Safe for concurrent use.
type Runtime struct {
	tools map[string]*entry
	names []string // sorted, for deterministic listings and suggestions
}

// New builds a Runtime from definitions, handlers, and an optional timeout
// policy.
//
// It fails with [*DuplicateToolError] when two definitions share a name, with
// [*MissingHandlerError] when a definition has no handler, and with a plain
// error when a handler names no definition or a schema does not resolve.
// All of these are startup misconfiguration and should abort the process.
func New(defs []Definition, handlers map[string]Handler, policy *TimeoutPolicy) (*Runtime, error) {
	rt := &Runtime{tools: make(map[string]*entry, len(defs))}

	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("dispatch: tool definition with empty name")
		}
		if _, ok := rt.tools[def.Name]; ok {
			return nil, &DuplicateToolError{Name: def.Name}
		}
		h, ok := handlers[def.Name]
		if !ok || h == nil {
			return nil, &MissingHandlerError{Name: def.Name}
		}

		e := &entry{
			def:     def,
			fields:  make(map[string]*jsonschema.Resolved, len(def.Input)),
			handler: h,
			timeout: policy.effective(def.Name),
			window:  newWindow(defaultWindowSize),
		}
		for field, s := range def.Input {
			resolved, err := s.Resolve(nil)
			if err != nil {
				return nil, fmt.Errorf("dispatch: tool %q: resolve input schema for field %q: %w", def.Name, field, err)
			}
			e.fields[field] = resolved
		}
		if def.Output != nil {
			resolved, err := def.Output.Resolve(nil)
			if err != nil {
				return nil, fmt.Errorf("dispatch: tool %q: resolve output schema: %w", def.Name, err)
			}
			e.output = resolved
		}

		rt.tools[def.Name] = e
		rt.names = append(rt.names, def.Name)
	}

	// A stray handler with no definition is misconfiguration too.
	for name := range handlers {
		if _, ok := rt.tools[name]; !ok {
			return nil, fmt.Errorf("dispatch: handler %q has no matching tool definition", name)
		}
	}

	sort.Strings(rt.names)
	return rt, nil
}

// Definitions returns the registered tool definitions sorted by name.
func (r *Runtime) Definitions() []Definition {
	out := make([]Definition, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.tools[name].def)
	}
	return out
}

// Timeout returns the effective timeout for the named tool (zero when the
// tool runs unbounded or is unknown).
func (r *Runtime) Timeout(name string) time.Duration {
	e, ok := r.tools[name]
	if !ok {
		return 0
	}
	return e.timeout
}

// Stats returns a health snapshot for every registered tool, sorted by name.
func (r *Runtime) Stats() []ToolStats {
	out := make([]ToolStats, 0, len(r.names))
	for _, name := range r.names {
		calls, errRate, p50, p99 := r.tools[name].window.snapshot()
		out = append(out, ToolStats{
			Name:      name,
			Calls:     calls,
			ErrorRate: errRate,
			P50Ms:     p50,
			P99Ms:     p99,
		})
	}
	return out
}

// Invoke runs the named tool with the caller's raw JSON arguments.
//
// Exactly one of the following occurs per call: input-validation failure
// ([*InputValidationError], handler never runs), timeout
// ([*TimeoutError]), execution failure ([*ExecutionError]), output-validation
// failure ([*OutputValidationError]), or success with a complete [Envelope].
// An unknown name fails with [*UnknownToolError] before any of the above.
//
// Cancellation is cooperative: when the effective timeout elapses, the
// handler's context is cancelled and Invoke returns, but a handler that
// ignores its context keeps running in the background. Leaked background work
// is possible with misbehaving handlers; the runtime only guarantees that
// Invoke itself settles on schedule. When the caller's own ctx is cancelled
// first, ctx.Err() is returned unwrapped.
func (r *Runtime) Invoke(ctx context.Context, name string, raw json.RawMessage) (*Envelope, error) {
	e, ok := r.tools[name]
	if !ok {
		return nil, &UnknownToolError{Name: name, Suggestion: r.nearest(name)}
	}

	start := time.Now()
	env, err := r.invoke(ctx, e, raw)
	e.window.record(time.Since(start), err != nil)
	return env, err
}

func (r *Runtime) invoke(ctx context.Context, e *entry, raw json.RawMessage) (*Envelope, error) {
	input, verr := e.validateInput(raw)
	if verr != nil {
		return nil, verr
	}

	result, err := r.run(ctx, e, input)
	if err != nil {
		return nil, err
	}

	text, oerr := e.validateOutput(result)
	if oerr != nil {
		return nil, oerr
	}

	return &Envelope{Content: []TextContent{{Type: "text", Text: text}}}, nil
}

// run executes the handler under the tool's effective timeout. The handler
// goroutine writes into a buffered channel so it can finish (and be collected)
// even after the timeout has already settled the call.
func (r *Runtime) run(ctx context.Context, e *entry, input map[string]any) (any, error) {
	if e.timeout <= 0 {
		result, err := callHandler(ctx, e.handler, input)
		if err != nil {
			return nil, &ExecutionError{Tool: e.def.Name, Cause: err}
		}
		return result, nil
	}

	hctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := callHandler(hctx, e.handler, input)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, &ExecutionError{Tool: e.def.Name, Cause: o.err}
		}
		return o.result, nil

	case <-hctx.Done():
		// Distinguish the runtime's own deadline from caller cancellation.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TimeoutError{Tool: e.def.Name, Budget: e.timeout}
	}
}

// callHandler invokes h, converting a panic into an ordinary error so a
// buggy handler fails its own call instead of the process.
func callHandler(ctx context.Context, h Handler, input map[string]any) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(ctx, input)
}

// validateInput decodes raw and checks it field-by-field against the tool's
// input schema. All violations are collected before failing.
func (e *entry) validateInput(raw json.RawMessage) (map[string]any, *InputValidationError) {
	input := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &input); err != nil {
			return nil, &InputValidationError{
				Tool:       e.def.Name,
				Violations: []FieldViolation{{Message: "arguments are not a JSON object: " + err.Error()}},
			}
		}
	}

	var violations []FieldViolation

	for _, req := range e.def.Required {
		if _, ok := input[req]; !ok {
			violations = append(violations, FieldViolation{Field: req, Message: "required field is missing"})
		}
	}

	for field, value := range input {
		resolved, ok := e.fields[field]
		if !ok {
			violations = append(violations, FieldViolation{Field: field, Message: "unknown field"})
			continue
		}
		if err := resolved.Validate(value); err != nil {
			violations = append(violations, FieldViolation{Field: field, Message: err.Error()})
		}
	}

	if len(violations) > 0 {
		sort.Slice(violations, func(i, j int) bool { return violations[i].Field < violations[j].Field })
		return nil, &InputValidationError{Tool: e.def.Name, Violations: violations}
	}
	return input, nil
}

// validateOutput serialises the handler result and checks it against the
// output schema. The serialised form is what goes on the wire, so it is also
// what gets validated.
func (e *entry) validateOutput(result any) (string, *OutputValidationError) {
	data, err := json.Marshal(result)
	if err != nil {
		return "", &OutputValidationError{Tool: e.def.Name, Cause: fmt.Errorf("serialise result: %w", err)}
	}

	if e.output != nil {
		var roundTripped any
		if err := json.Unmarshal(data, &roundTripped); err != nil {
			return "", &OutputValidationError{Tool: e.def.Name, Cause: err}
		}
		if err := e.output.Validate(roundTripped); err != nil {
			return "", &OutputValidationError{Tool: e.def.Name, Cause: err}
		}
	}

	return string(data), nil
}

// nearest returns the registered name closest to name, or "" when nothing is
// within [maxSuggestDistance].
func (r *Runtime) nearest(name string) string {
	best, bestDist := "", maxSuggestDistance+1
	for _, candidate := range r.names {
		if d := matchr.Levenshtein(name, candidate); d < bestDist {
			best, bestDist = candidate, d
		}
	}
	return best
}
