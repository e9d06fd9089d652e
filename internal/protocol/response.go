package protocol

import (
	"fmt"
	"strings"
)

// Reserved top-level response keys.
const (
	KeyLog       = "log"
	KeyError     = "error"
	KeyException = "exception"
	KeyValues    = "values"
)

// Keys of a serialized Exception.
const (
	exceptionClass   = "class"
	exceptionMessage = "message"
	exceptionTrace   = "trace"
)

// Exception is the structured error payload of a response.
type Exception struct {
	Class   string
	Message string
	Trace   []string
}

func (e *Exception) Error() string {
	if e.Class == "" {
		return e.Message
	}
	return e.Class + ": " + e.Message
}

// Detail returns the message followed by the remote trace, one frame per line.
func (e *Exception) Detail() string {
	if len(e.Trace) == 0 {
		return e.Error()
	}
	return e.Error() + "\n\t" + strings.Join(e.Trace, "\n\t")
}

// Response is the decoded four-slot reply of a dispatcher operation.
type Response struct {
	Log       string
	Error     string
	Exception *Exception
	Values    any
}

// Failed reports whether the response carries an error or exception. An
// exception marks failure even when values are present.
func (r *Response) Failed() bool {
	return r.Exception != nil || r.Error != ""
}

// Map converts the response into its wire shape.
func (r *Response) Map() map[string]any {
	m := map[string]any{
		KeyLog:       r.Log,
		KeyError:     nil,
		KeyException: nil,
		KeyValues:    r.Values,
	}
	switch {
	case r.Exception != nil:
		trace := make([]any, len(r.Exception.Trace))
		for i, frame := range r.Exception.Trace {
			trace[i] = frame
		}
		m[KeyException] = map[string]any{
			exceptionClass:   r.Exception.Class,
			exceptionMessage: r.Exception.Message,
			exceptionTrace:   trace,
		}
	case r.Error != "":
		m[KeyError] = r.Error
	}
	return m
}

// ResponseFromMap reads a decoded response map. Unknown keys are ignored.
func ResponseFromMap(m map[string]any) (*Response, error) {
	if m == nil {
		return nil, fmt.Errorf("protocol: empty response")
	}
	resp := &Response{Values: m[KeyValues]}

	switch v := m[KeyLog].(type) {
	case nil:
	case string:
		resp.Log = v
	default:
		return nil, fmt.Errorf("protocol: response %q slot is %T, not string", KeyLog, v)
	}

	switch v := m[KeyError].(type) {
	case nil:
	case string:
		resp.Error = v
	default:
		return nil, fmt.Errorf("protocol: response %q slot is %T, not string", KeyError, v)
	}

	switch v := m[KeyException].(type) {
	case nil:
	case string:
		resp.Exception = &Exception{Message: v}
	case map[string]any:
		ex := &Exception{}
		ex.Class, _ = v[exceptionClass].(string)
		ex.Message, _ = v[exceptionMessage].(string)
		if trace, ok := v[exceptionTrace].([]any); ok {
			for _, frame := range trace {
				if s, ok := frame.(string); ok {
					ex.Trace = append(ex.Trace, s)
				}
			}
		}
		resp.Exception = ex
	default:
		return nil, fmt.Errorf("protocol: response %q slot is %T", KeyException, v)
	}

	return resp, nil
}

// NewException builds an exception from an error, recording the chain of
// wrapped causes as the trace.
func NewException(class string, err error) *Exception {
	ex := &Exception{Class: class, Message: err.Error()}
	for cause := unwrap(err); cause != nil; cause = unwrap(cause) {
		ex.Trace = append(ex.Trace, "caused by: "+cause.Error())
	}
	return ex
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}
