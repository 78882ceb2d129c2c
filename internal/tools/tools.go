// Package tools defines the shared [Tool] type used by all built-in tool
// packages in augur. Each sub-package exports a constructor function that
// returns a slice of [Tool] values ready for registration with the dispatch
// runtime.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/shuymn/augur/internal/dispatch"
)

// Tool pairs a tool's schema declaration with the handler that implements it.
//
// Handlers receive input already validated against Definition's input schema
// and must be safe for concurrent use and respect context cancellation.
type Tool struct {
	// Definition is the tool's declared name, description, and schemas.
	Definition dispatch.Definition

	// Handler executes the tool.
	Handler dispatch.Handler
}

// Decode converts the runtime's validated input map into a typed args struct
// by round-tripping through JSON. Fields absent from input keep their zero
// value in v.
func Decode(input map[string]any, v any) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("tools: encode input: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("tools: decode input: %w", err)
	}
	return nil
}

// Split separates a slice of tools into the definition list and handler map
// the dispatch runtime's constructor expects.
func Split(ts []Tool) ([]dispatch.Definition, map[string]dispatch.Handler) {
	defs := make([]dispatch.Definition, 0, len(ts))
	handlers := make(map[string]dispatch.Handler, len(ts))
	for _, t := range ts {
		defs = append(defs, t.Definition)
		handlers[t.Definition.Name] = t.Handler
	}
	return defs, handlers
}
