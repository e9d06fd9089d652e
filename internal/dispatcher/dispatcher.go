package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"mxdeploy/internal/codec"
	"mxdeploy/internal/logger"
	"mxdeploy/internal/protocol"
)

// argError marks a malformed request; it is reported in the error slot
// rather than as an exception.
type argError struct{ msg string }

func (e *argError) Error() string { return e.msg }

func argErrorf(format string, args ...any) error {
	return &argError{msg: fmt.Sprintf(format, args...)}
}

// call is one decoded dispatcher invocation.
type call struct {
	params map[string]any
	args   map[string]any
	log    strings.Builder
}

func (c *call) logf(format string, args ...any) {
	fmt.Fprintf(&c.log, format, args...)
	c.log.WriteByte('\n')
}

func (c *call) str(key string) (string, error) {
	switch v := c.args[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", argErrorf("argument '%s' must be a string, got %T", key, v)
	}
}

func (c *call) list(key string) ([]string, error) {
	switch v := c.args[key].(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, argErrorf("argument '%s' must be a list of strings, item %d is %T", key, i, item)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, argErrorf("argument '%s' must be a list, got %T", key, v)
	}
}

func (c *call) compile() bool {
	switch v := c.params[protocol.ParamCompile].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

type operation func(d *Dispatcher, c *call) (any, error)

var operations = map[string]operation{
	protocol.OpExport:          (*Dispatcher).export,
	protocol.OpUpdate:          (*Dispatcher).update,
	protocol.OpSearch:          (*Dispatcher).search,
	protocol.OpExecute:         (*Dispatcher).execute,
	protocol.OpGetVersion:      (*Dispatcher).version,
	protocol.OpGetProperty:     (*Dispatcher).property,
	protocol.OpTypeDefTreeList: (*Dispatcher).typeDefTree,
}

// Dispatcher runs named operations against a Backend.
type Dispatcher struct {
	backend Backend
	log     *log.Logger

	mu sync.Mutex
}

// New returns a dispatcher for backend.
func New(backend Backend) *Dispatcher {
	return &Dispatcher{backend: backend, log: logger.NewStyledLogger("Dispatcher")}
}

// Backend returns the backend the dispatcher operates on.
func (d *Dispatcher) Backend() Backend { return d.backend }

// EnsureConnected connects the backend unless it already is. It reports
// whether this call established the connection.
func (d *Dispatcher) EnsureConnected(ctx context.Context) (bool, error) {
	if d.backend.Connected() {
		return false, nil
	}
	if err := d.backend.Connect(ctx); err != nil {
		return false, fmt.Errorf("connect backend: %w", err)
	}
	d.log.Debug("Backend connected")
	return true, nil
}

// Dispatch decodes the three request tokens, runs the operation and returns
// the encoded response. It never fails: every problem is reported inside the
// response.
func (d *Dispatcher) Dispatch(ctx context.Context, paramsToken, methodToken, argsToken string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp := d.run(ctx, paramsToken, methodToken, argsToken)
	token, err := codec.Encode(resp.Map())
	if err != nil {
		d.log.Error("Cannot encode response", "error", err)
		fallback := &protocol.Response{Log: resp.Log, Exception: protocol.NewException("Dispatcher", err)}
		token, _ = codec.Encode(fallback.Map())
	}
	return token
}

func (d *Dispatcher) run(ctx context.Context, paramsToken, methodToken, argsToken string) *protocol.Response {
	c := &call{}
	var err error
	if c.params, err = codec.DecodeMap(paramsToken); err != nil {
		return &protocol.Response{Exception: protocol.NewException("Dispatcher", fmt.Errorf("decode parameters: %w", err))}
	}
	method, err := codec.DecodeString(methodToken)
	if err != nil {
		return &protocol.Response{Exception: protocol.NewException("Dispatcher", fmt.Errorf("decode method: %w", err))}
	}
	if c.args, err = codec.DecodeMap(argsToken); err != nil {
		return &protocol.Response{Exception: protocol.NewException("Dispatcher", fmt.Errorf("decode arguments: %w", err))}
	}

	op, ok := operations[method]
	if !ok {
		d.log.Warn("Unknown method", "method", method)
		return &protocol.Response{Exception: &protocol.Exception{
			Class:   "Dispatcher",
			Message: fmt.Sprintf("unknown plug-in method '%s'", method),
		}}
	}

	if _, err := d.EnsureConnected(ctx); err != nil {
		return &protocol.Response{Exception: protocol.NewException(method, err)}
	}

	d.log.Debug("Dispatching", "method", method)
	values, err := op(d, c)
	resp := &protocol.Response{Log: c.log.String()}
	var ae *argError
	switch {
	case errors.As(err, &ae):
		resp.Error = ae.msg
	case err != nil:
		resp.Exception = protocol.NewException(method, err)
	default:
		resp.Values = values
	}
	return resp
}

func itemMap(it Item, withCode bool) map[string]any {
	m := map[string]any{
		protocol.ItemTypeDef:  it.TypeDef,
		protocol.ItemName:     it.Name,
		protocol.ItemFileName: it.FileName,
		protocol.ItemFilePath: it.FilePath,
	}
	if withCode {
		m[protocol.ItemCode] = it.Code
	}
	return m
}

func (d *Dispatcher) export(c *call) (any, error) {
	fileName, err := c.str(protocol.ArgFileName)
	if err != nil {
		return nil, err
	}
	typeDef, err := c.str(protocol.ArgTypeDef)
	if err != nil {
		return nil, err
	}
	name, err := c.str(protocol.ArgName)
	if err != nil {
		return nil, err
	}

	var it *Item
	switch {
	case fileName != "":
		it, err = d.backend.ExportFile(fileName)
	case typeDef != "" && name != "":
		it, err = d.backend.Export(typeDef, name)
	default:
		return nil, argErrorf("export needs '%s' or '%s' and '%s'", protocol.ArgFileName, protocol.ArgTypeDef, protocol.ArgName)
	}
	if err != nil {
		return nil, err
	}
	return itemMap(*it, true), nil
}

func (d *Dispatcher) update(c *call) (any, error) {
	var res *UpdateResult
	switch v := c.args[protocol.ArgFileContents].(type) {
	case map[string]any:
		files := make(map[string]string, len(v))
		for p, content := range v {
			s, ok := content.(string)
			if !ok {
				return nil, argErrorf("content of '%s' must be a string, got %T", p, content)
			}
			files[p] = s
		}
		res = d.backend.UpdateContents(files, c.compile(), c.logf)
	case nil:
		names, err := c.list(protocol.ArgFileNames)
		if err != nil {
			return nil, err
		}
		if names == nil {
			return nil, argErrorf("update needs '%s' or '%s'", protocol.ArgFileContents, protocol.ArgFileNames)
		}
		res = d.backend.UpdateFiles(names, c.compile(), c.logf)
	default:
		return nil, argErrorf("argument '%s' must be a map, got %T", protocol.ArgFileContents, v)
	}

	updated := make([]any, len(res.Updated))
	for i, p := range res.Updated {
		updated[i] = p
	}
	failed := make(map[string]any, len(res.Failed))
	keys := make([]string, 0, len(res.Failed))
	for p, msg := range res.Failed {
		failed[p] = msg
		keys = append(keys, p)
	}
	sort.Strings(keys)
	for _, p := range keys {
		c.logf("update of %s failed: %s", p, res.Failed[p])
	}
	return map[string]any{
		protocol.UpdateUpdated: updated,
		protocol.UpdateFailed:  failed,
	}, nil
}

func (d *Dispatcher) search(c *call) (any, error) {
	typeDefs, err := c.list(protocol.ArgTypeDefList)
	if err != nil {
		return nil, err
	}
	match, err := c.str(protocol.ArgMatch)
	if err != nil {
		return nil, err
	}
	items, err := d.backend.Search(typeDefs, match)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = itemMap(it, false)
	}
	return out, nil
}

func (d *Dispatcher) execute(c *call) (any, error) {
	command, err := c.str(protocol.ArgCommand)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(command) == "" {
		return nil, argErrorf("execute needs '%s'", protocol.ArgCommand)
	}
	return d.backend.Execute(command)
}

func (d *Dispatcher) version(*call) (any, error) {
	return d.backend.Version()
}

func (d *Dispatcher) property(*call) (any, error) {
	return d.backend.Properties()
}

func (d *Dispatcher) typeDefTree(*call) (any, error) {
	tree, err := d.backend.TypeDefTree()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(tree))
	for id, n := range tree {
		out[id] = map[string]any{
			protocol.TreeLabel:       n.Label,
			protocol.TreeTypeDefList: n.TypeDefs,
			protocol.TreeChildren:    n.Children,
		}
	}
	return out, nil
}
