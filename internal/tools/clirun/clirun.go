// Package clirun provides the "cli_ask" tool: it forwards a prompt to a
// locally installed AI command-line binary and returns its output.
//
// The binary and its fixed leading arguments come from server configuration;
// the caller supplies only the prompt, which is appended as the final
// argument. The subprocess inherits the invocation context, so the dispatch
// runtime's timeout kills it instead of merely abandoning it.
package clirun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/shuymn/augur/internal/dispatch"
	"github.com/shuymn/augur/internal/tools"
)

// defaultMaxOutputBytes caps captured stdout and stderr, each.
const defaultMaxOutputBytes = 256 << 10 // 256 KiB

// Config holds the CLI tool settings.
type Config struct {
	// Command is the binary to run. Must not be empty.
	Command string

	// Args are fixed arguments placed before the prompt.
	Args []string

	// MaxOutputBytes caps captured stdout and stderr, each. Zero means
	// [defaultMaxOutputBytes].
	MaxOutputBytes int
}

// Runner executes the configured CLI. Safe for concurrent use; each call
// spawns its own subprocess.
type Runner struct {
	command  string
	args     []string
	maxBytes int
}

// New constructs a Runner. The command must not be empty.
func New(cfg Config) (*Runner, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("clirun: command must not be empty")
	}
	maxBytes := cfg.MaxOutputBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxOutputBytes
	}
	return &Runner{
		command:  cfg.Command,
		args:     append([]string(nil), cfg.Args...),
		maxBytes: maxBytes,
	}, nil
}

// askArgs is the validated input for the "cli_ask" tool.
type askArgs struct {
	// Prompt is passed to the CLI as its final argument.
	Prompt string `json:"prompt"`
}

// askResult is the JSON-encoded output of the "cli_ask" tool.
type askResult struct {
	// Output is the captured stdout, possibly truncated.
	Output string `json:"output"`

	// Stderr is the captured stderr, possibly truncated. Present even on
	// success since some CLIs log progress there.
	Stderr string `json:"stderr,omitempty"`

	// ExitCode is the subprocess exit code. Zero on success.
	ExitCode int `json:"exit_code"`

	// Truncated reports whether either stream hit the capture budget.
	Truncated bool `json:"truncated,omitempty"`
}

// capWriter keeps at most max bytes and records overflow.
type capWriter struct {
	buf      bytes.Buffer
	max      int
	overflow bool
}

func (w *capWriter) Write(p []byte) (int, error) {
	if room := w.max - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
			w.overflow = true
		} else {
			w.buf.Write(p)
		}
	} else if len(p) > 0 {
		w.overflow = true
	}
	// Report everything consumed so the subprocess never sees a write error.
	return len(p), nil
}

// askHandler implements the "cli_ask" tool.
func (r *Runner) askHandler(ctx context.Context, input map[string]any) (any, error) {
	var a askArgs
	if err := tools.Decode(input, &a); err != nil {
		return nil, err
	}

	args := append(append([]string(nil), r.args...), a.Prompt)
	cmd := exec.CommandContext(ctx, r.command, args...)

	stdout := &capWriter{max: r.maxBytes}
	stderr := &capWriter{max: r.maxBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	res := askResult{
		Output:    stdout.buf.String(),
		Stderr:    stderr.buf.String(),
		Truncated: stdout.overflow || stderr.overflow,
	}

	if err != nil {
		// A killed subprocess also surfaces as an ExitError, so cancellation
		// must be checked first.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// A non-zero exit is still a result: the CLI ran and reported
			// failure, and its stderr is usually the useful part.
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("clirun: run %s: %w", r.command, err)
	}

	return res, nil
}

// Tools returns the CLI tool bound to r, ready for registration with the
// dispatch runtime.
func (r *Runner) Tools() []tools.Tool {
	return []tools.Tool{
		{
			Definition: dispatch.Definition{
				Name:        "cli_ask",
				Description: fmt.Sprintf("Ask the locally installed %s CLI a question and return its output.", r.command),
				Input: map[string]*jsonschema.Schema{
					"prompt": {
						Type:        "string",
						Description: "The prompt to forward to the CLI.",
					},
				},
				Required: []string{"prompt"},
				Output: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"output":    {Type: "string"},
						"stderr":    {Type: "string"},
						"exit_code": {Type: "integer"},
						"truncated": {Type: "boolean"},
					},
					Required: []string{"output", "exit_code"},
				},
			},
			Handler: r.askHandler,
		},
	}
}
