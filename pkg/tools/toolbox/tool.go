package toolbox

import (
	"context"
	"encoding/json"
)

// Handler executes a tool with the given JSON arguments and returns a text
// result. A returned error marks the result as failed; its message is what
// the caller sees.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Tool is an executable operation with a name, description, JSON Schema for
// its arguments, and a handler.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler
}

// KindError is implemented by errors that carry a machine-readable failure
// kind. Transports surface the kind next to the error text.
type KindError interface {
	error
	Operation() string
	ErrorKind() string
}
