// Package demo provides the built-in demonstration tools shipped with augur.
//
// Three tools are exported via [Tools]:
//   - "greet"     — returns a greeting for a given name.
//   - "calculate" — performs one basic arithmetic operation.
//   - "get_time"  — returns the server's current time in RFC 3339 form.
//
// All handlers are pure apart from get_time's clock read and are safe for
// concurrent use.
package demo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/shuymn/augur/internal/dispatch"
	"github.com/shuymn/augur/internal/tools"
)

// greetArgs is the validated input for the "greet" tool.
type greetArgs struct {
	// Name is the name of the person to greet.
	Name string `json:"name"`
}

// calculateArgs is the validated input for the "calculate" tool.
type calculateArgs struct {
	A         float64 `json:"a"`
	B         float64 `json:"b"`
	Operation string  `json:"operation"`
}

// now is replaceable in tests.
var now = time.Now

// greetHandler implements the "greet" tool.
func greetHandler(_ context.Context, input map[string]any) (any, error) {
	var a greetArgs
	if err := tools.Decode(input, &a); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Hello, %s! Welcome to augur!", a.Name), nil
}

// calculateHandler implements the "calculate" tool. Division by zero fails
// the call; the unknown-operation branch is unreachable through the runtime
// because the input schema constrains operation to the four known values.
func calculateHandler(_ context.Context, input map[string]any) (any, error) {
	var a calculateArgs
	if err := tools.Decode(input, &a); err != nil {
		return nil, err
	}

	var result float64
	var op string
	switch a.Operation {
	case "add":
		result, op = a.A+a.B, "+"
	case "subtract":
		result, op = a.A-a.B, "-"
	case "multiply":
		result, op = a.A*a.B, "*"
	case "divide":
		if a.B == 0 {
			return nil, fmt.Errorf("demo: division by zero")
		}
		result, op = a.A/a.B, "/"
	default:
		return nil, fmt.Errorf("demo: unknown operation %q", a.Operation)
	}

	return fmt.Sprintf("%.2f %s %.2f = %.2f", a.A, op, a.B, result), nil
}

// getTimeHandler implements the "get_time" tool.
func getTimeHandler(_ context.Context, _ map[string]any) (any, error) {
	return fmt.Sprintf("Current time: %s", now().Format(time.RFC3339)), nil
}

// stringOutput is the shared output schema for all demo tools.
var stringOutput = &jsonschema.Schema{Type: "string"}

// Tools returns the demonstration tools ready for registration with the
// dispatch runtime.
func Tools() []tools.Tool {
	return []tools.Tool{
		{
			Definition: dispatch.Definition{
				Name:        "greet",
				Description: "Say hello to someone.",
				Input: map[string]*jsonschema.Schema{
					"name": {
						Type:        "string",
						Description: "The name of the person to greet.",
					},
				},
				Required: []string{"name"},
				Output:   stringOutput,
			},
			Handler: greetHandler,
		},
		{
			Definition: dispatch.Definition{
				Name:        "calculate",
				Description: "Perform a basic math operation on two numbers.",
				Input: map[string]*jsonschema.Schema{
					"a": {
						Type:        "number",
						Description: "First operand.",
					},
					"b": {
						Type:        "number",
						Description: "Second operand.",
					},
					"operation": {
						Type:        "string",
						Description: "Operation to perform.",
						Enum:        []any{"add", "subtract", "multiply", "divide"},
					},
				},
				Required: []string{"a", "b", "operation"},
				Output:   stringOutput,
			},
			Handler: calculateHandler,
		},
		{
			Definition: dispatch.Definition{
				Name:        "get_time",
				Description: "Get the server's current time in RFC 3339 format.",
				Output:      stringOutput,
			},
			Handler: getTimeHandler,
		},
	}
}
