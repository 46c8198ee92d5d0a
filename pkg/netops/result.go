package netops

import "errors"

// Operation names, shared with the tool catalog.
const (
	OpGetConfig      = "get_config"
	OpRunShowCommand = "run_show_command"
	OpPing           = "ping"
	OpApplyConfig    = "apply_config"
)

// Kind classifies a failed operation.
type Kind string

const (
	KindInventory       Kind = "inventory"
	KindUnknownDevice   Kind = "unknown_device"
	KindConnect         Kind = "connect"
	KindCommand         Kind = "command"
	KindParse           Kind = "parse"
	KindConfigure       Kind = "configure"
	KindUnreachable     Kind = "unreachable"
	KindInvalidArgument Kind = "invalid_argument"
)

var labels = map[string]string{
	OpGetConfig:      "Error getting config:",
	OpRunShowCommand: "Error running command:",
	OpPing:           "Error performing ping:",
	OpApplyConfig:    "Error applying config:",
}

// Error is a failed operation. Its message is the operation's label followed
// by the cause, e.g. "Error getting config: inventory: unknown device ...".
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	label, ok := labels[e.Op]
	if !ok {
		label = "Error:"
	}
	if e.Err == nil {
		return label + " " + string(e.Kind)
	}
	return label + " " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Operation returns the failed operation's name.
func (e *Error) Operation() string { return e.Op }

// ErrorKind returns the failure kind as a string.
func (e *Error) ErrorKind() string { return string(e.Kind) }

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Result is the outcome of one operation: Output on success, Err otherwise.
type Result struct {
	Output string
	Err    *Error
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Err == nil }

// String renders the result the way tool callers see it: the output, or the
// labelled error message.
func (r Result) String() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return r.Output
}

// Unwrap returns the result as (output, error) with a nil interface error on
// success.
func (r Result) Unwrap() (string, error) {
	if r.Err != nil {
		return "", r.Err
	}
	return r.Output, nil
}

func fail(op string, kind Kind, err error) Result {
	return Result{Err: &Error{Op: op, Kind: kind, Err: err}}
}
