package codec

import "fmt"

// Arg is one named argument of a request.
type Arg struct {
	Key   string
	Value any
}

// Args is an ordered argument list with unique keys.
type Args []Arg

// NewArgs builds an argument list from alternating keys and values.
func NewArgs(keyvals ...any) (Args, error) {
	if len(keyvals)%2 != 0 {
		return nil, fmt.Errorf("codec: odd number of key/value arguments (%d)", len(keyvals))
	}
	var args Args
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			return nil, fmt.Errorf("codec: argument key at position %d is %T, not string", i, keyvals[i])
		}
		if err := args.Add(key, keyvals[i+1]); err != nil {
			return nil, err
		}
	}
	return args, nil
}

// Add appends a key/value pair. Duplicate keys are rejected.
func (a *Args) Add(key string, value any) error {
	if _, exists := a.Get(key); exists {
		return fmt.Errorf("codec: duplicate argument key %q", key)
	}
	*a = append(*a, Arg{Key: key, Value: value})
	return nil
}

// Get returns the value stored under key.
func (a Args) Get(key string) (any, bool) {
	for _, arg := range a {
		if arg.Key == key {
			return arg.Value, true
		}
	}
	return nil, false
}

// Map returns the arguments as a map, or nil when the list is empty. An
// empty list travels as null, matching requests without arguments.
func (a Args) Map() map[string]any {
	if len(a) == 0 {
		return nil
	}
	m := make(map[string]any, len(a))
	for _, arg := range a {
		m[arg.Key] = arg.Value
	}
	return m
}
