// Package adapter is the client side of the dispatcher protocol. An Adapter
// owns at most one transport per project, connects lazily, and turns the
// dispatcher operations into typed calls.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jellydator/ttlcache/v3"

	"mxdeploy/internal/codec"
	"mxdeploy/internal/logger"
	"mxdeploy/internal/protocol"
	"mxdeploy/internal/testutils"
	"mxdeploy/internal/transport"
	"mxdeploy/internal/version"
)

// DefaultTreeTTL is how long a fetched type definition tree is reused.
const DefaultTreeTTL = 10 * time.Minute

// jpoSuffix marks Java program files whose database name includes the
// package declared inside the file.
const jpoSuffix = "_mxJPO.java"

var packagePattern = regexp.MustCompile(`package[ \t]+([A-Za-z0-9._]*)[ \t]*;`)

// State is the connection state of an Adapter.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DialFunc opens the transport of a project.
type DialFunc func(ctx context.Context) (transport.Transport, error)

// PropertyStore keeps the plug-in properties text reported by the server.
type PropertyStore interface {
	PluginProperties() string
	StorePluginProperties(text string) error
}

// Options configure an Adapter.
type Options struct {
	Project string
	Dial    DialFunc
	// ClientVersion is compared with the server version after connecting.
	// Defaults to version.Version.
	ClientVersion string
	// Properties receives changed plug-in properties; may be nil.
	Properties PropertyStore
	TreeTTL    time.Duration
	// RequestTimeout bounds each request when the caller's context has no
	// earlier deadline. Zero means no bound.
	RequestTimeout time.Duration
	TestMode       bool
}

// RemoteFailure is a response whose error or exception slot was set. The
// full response is kept so callers can show the remote diagnostics.
type RemoteFailure struct {
	Op       string
	Response *protocol.Response
}

func (e *RemoteFailure) Error() string {
	if e.Response.Exception != nil {
		return fmt.Sprintf("%s failed: %s", e.Op, e.Response.Exception.Error())
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Response.Error)
}

func (e *RemoteFailure) Unwrap() error {
	if e.Response.Exception != nil {
		return e.Response.Exception
	}
	return nil
}

// ExportItem is an exported configuration item with its update code.
type ExportItem struct {
	TypeDef  string
	Name     string
	FileName string
	FilePath string
	Content  string
}

// SearchItem is one search hit.
type SearchItem struct {
	TypeDef  string
	Name     string
	FileName string
	FilePath string
}

// UpdateReport is the outcome of an update. Unreadable lists local files
// that were never sent.
type UpdateReport struct {
	Updated    []string
	Failed     map[string]string
	Unreadable map[string]error
}

// TypeDefNode is a node of the type definition tree.
type TypeDefNode struct {
	Label    string
	TypeDefs []string
	Children []*TypeDefNode
}

// Adapter is the connection of one project. All methods are safe for
// concurrent use; requests are serialized.
type Adapter struct {
	opts Options
	log  *log.Logger

	mu            sync.Mutex
	state         State
	tr            transport.Transport
	session       string
	serverVersion string

	tree *ttlcache.Cache[string, *TypeDefNode]
}

// New returns a disconnected adapter.
func New(opts Options) *Adapter {
	if opts.ClientVersion == "" {
		opts.ClientVersion = version.Version
	}
	if opts.TreeTTL <= 0 {
		opts.TreeTTL = DefaultTreeTTL
	}
	return &Adapter{
		opts: opts,
		log:  logger.NewStyledLogger("Adapter").With("project", opts.Project),
		tree: ttlcache.New[string, *TypeDefNode](
			ttlcache.WithTTL[string, *TypeDefNode](opts.TreeTTL),
			ttlcache.WithDisableTouchOnHit[string, *TypeDefNode](),
		),
	}
}

// Project returns the project name.
func (a *Adapter) Project() string { return a.opts.Project }

// State returns the current connection state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SessionID identifies the current connection; empty when disconnected.
func (a *Adapter) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// ServerVersion is the version reported by the server at connect time.
func (a *Adapter) ServerVersion() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.serverVersion
}

// Connect opens the transport unless already connected. After connecting
// the server version is checked and the plug-in properties are refreshed.
// Their failures are only logged unless the connection was lost meanwhile.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == Connected {
		a.log.Info("Already connected", "session", a.session)
		return nil
	}
	return a.connect(ctx)
}

func (a *Adapter) connect(ctx context.Context) error {
	if a.opts.Dial == nil {
		return errors.New("no transport configured")
	}

	a.state = Connecting
	tr, err := a.opts.Dial(ctx)
	if err != nil {
		a.state = Disconnected
		return fmt.Errorf("connect: %w", err)
	}
	a.tr = tr
	a.state = Connected
	a.session = testutils.GenerateSessionID(a.opts.TestMode)
	a.log.Info("Connected", "session", a.session)

	if err := a.checkVersion(ctx); err != nil && a.state != Connected {
		return fmt.Errorf("connect: %w", err)
	}
	if err := a.refreshProperties(ctx); err != nil && a.state != Connected {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (a *Adapter) checkVersion(ctx context.Context) error {
	resp, err := a.call(ctx, protocol.OpGetVersion, nil, nil)
	if err != nil {
		a.log.Error("Cannot read server version", "error", err)
		return err
	}
	server, _ := resp.Values.(string)
	a.serverVersion = server
	if err := version.CheckCompatible(a.opts.ClientVersion, server); err != nil {
		a.log.Error("Version check failed", "error", err)
	}
	return nil
}

func (a *Adapter) refreshProperties(ctx context.Context) error {
	resp, err := a.call(ctx, protocol.OpGetProperty, nil, nil)
	if err != nil {
		a.log.Error("Cannot read plug-in properties", "error", err)
		return err
	}
	props, _ := resp.Values.(string)
	if a.opts.Properties == nil || props == a.opts.Properties.PluginProperties() {
		return nil
	}
	if err := a.opts.Properties.StorePluginProperties(props); err != nil {
		a.log.Error("Cannot store plug-in properties", "error", err)
		return nil
	}
	a.log.Info("Plug-in properties changed")
	return nil
}

// Disconnect closes the transport. It is a no-op when disconnected.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == Disconnected {
		a.log.Debug("Already disconnected")
		return nil
	}
	return a.disconnect()
}

func (a *Adapter) disconnect() error {
	err := a.tr.Close()
	a.tr = nil
	a.state = Disconnected
	a.session = ""
	a.tree.DeleteAll()
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	a.log.Info("Disconnected")
	return nil
}

func (a *Adapter) ensureConnected(ctx context.Context) error {
	if a.state == Connected {
		return nil
	}
	return a.connect(ctx)
}

// call issues one request on the open transport. A transport that can no
// longer be used is dropped so the next operation reconnects.
func (a *Adapter) call(ctx context.Context, op string, params, args codec.Args) (*protocol.Response, error) {
	if a.tr == nil {
		return nil, fmt.Errorf("%s: %w", op, transport.ErrClosed)
	}
	p, err := codec.Encode(params)
	if err != nil {
		return nil, err
	}
	m, err := codec.Encode(op)
	if err != nil {
		return nil, err
	}
	g, err := codec.Encode(args)
	if err != nil {
		return nil, err
	}

	if a.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.RequestTimeout)
		defer cancel()
	}

	a.log.Debug("Request", "op", op)
	token, err := a.tr.Request(ctx, p, m, g)
	if err != nil {
		var pe *transport.ProtocolError
		if errors.As(err, &pe) || errors.Is(err, transport.ErrClosed) {
			a.log.Warn("Dropping unusable connection", "error", err)
			_ = a.disconnect()
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	raw, err := codec.DecodeMap(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := protocol.ResponseFromMap(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	logger.AppendLog(a.log, resp.Log, "op", op)
	if resp.Failed() {
		return resp, &RemoteFailure{Op: op, Response: resp}
	}
	return resp, nil
}

// do connects if needed and runs one request under the adapter lock.
func (a *Adapter) do(ctx context.Context, op string, params, args codec.Args) (*protocol.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureConnected(ctx); err != nil {
		return nil, err
	}
	return a.call(ctx, op, params, args)
}

// ExportItem exports a configuration item by type definition and name.
func (a *Adapter) ExportItem(ctx context.Context, typeDef, name string) (*ExportItem, error) {
	var args codec.Args
	_ = args.Add(protocol.ArgTypeDef, typeDef)
	_ = args.Add(protocol.ArgName, name)
	return a.export(ctx, args)
}

// ExportFile exports the configuration item a local file stands for. Java
// program files are exported by their package qualified name.
func (a *Adapter) ExportFile(ctx context.Context, path string) (*ExportItem, error) {
	base := filepath.Base(path)
	if strings.HasSuffix(base, jpoSuffix) {
		name, err := programName(path)
		if err != nil {
			return nil, err
		}
		return a.ExportItem(ctx, "JPO", name)
	}

	var args codec.Args
	_ = args.Add(protocol.ArgFileName, base)
	it, err := a.export(ctx, args)
	if err != nil {
		return nil, err
	}
	a.log.Info("Exported", "file", it.FileName)
	return it, nil
}

func (a *Adapter) export(ctx context.Context, args codec.Args) (*ExportItem, error) {
	resp, err := a.do(ctx, protocol.OpExport, nil, args)
	if err != nil {
		return nil, err
	}
	v, ok := resp.Values.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected values of type %T", protocol.OpExport, resp.Values)
	}
	return &ExportItem{
		TypeDef:  str(v, protocol.ItemTypeDef),
		Name:     str(v, protocol.ItemName),
		FileName: str(v, protocol.ItemFileName),
		FilePath: str(v, protocol.ItemFilePath),
		Content:  str(v, protocol.ItemCode),
	}, nil
}

// programName derives the database name of a Java program file: the file
// name without suffix, qualified by the first package declaration.
func programName(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), jpoSuffix)
	for _, line := range strings.Split(string(data), "\n") {
		if m := packagePattern.FindStringSubmatch(line); m != nil {
			if m[1] != "" {
				name = m[1] + "." + name
			}
			break
		}
	}
	return name, nil
}

// Search lists configuration items of the given type definitions whose
// names match.
func (a *Adapter) Search(ctx context.Context, typeDefs []string, match string) ([]SearchItem, error) {
	var args codec.Args
	_ = args.Add(protocol.ArgTypeDefList, typeDefs)
	_ = args.Add(protocol.ArgMatch, match)

	resp, err := a.do(ctx, protocol.OpSearch, nil, args)
	if err != nil {
		return nil, err
	}
	list, _ := resp.Values.([]any)
	items := make([]SearchItem, 0, len(list))
	for _, e := range list {
		v, ok := e.(map[string]any)
		if !ok {
			continue
		}
		items = append(items, SearchItem{
			TypeDef:  str(v, protocol.ItemTypeDef),
			Name:     str(v, protocol.ItemName),
			FileName: str(v, protocol.ItemFileName),
			FilePath: str(v, protocol.ItemFilePath),
		})
	}
	return items, nil
}

// Update deploys local files. Depending on the transport the server gets the
// file contents or only the paths. Files that cannot be read are reported in
// the Unreadable map and skipped.
func (a *Adapter) Update(ctx context.Context, paths []string, compile bool) (*UpdateReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureConnected(ctx); err != nil {
		return nil, err
	}

	report := &UpdateReport{Failed: map[string]string{}, Unreadable: map[string]error{}}
	var params codec.Args
	_ = params.Add(protocol.ParamCompile, compile)
	var args codec.Args

	if a.tr.UpdateByFileContent() {
		contents := make(map[string]string, len(paths))
		for _, p := range paths {
			abs := absPath(p)
			data, err := os.ReadFile(abs)
			if err != nil {
				a.log.Error("Cannot read file", "file", abs, "error", err)
				report.Unreadable[abs] = err
				continue
			}
			contents[abs] = string(data)
		}
		if len(contents) == 0 {
			return report, nil
		}
		_ = args.Add(protocol.ArgFileContents, contents)
	} else {
		names := make([]string, 0, len(paths))
		for _, p := range paths {
			names = append(names, absPath(p))
		}
		sort.Strings(names)
		_ = args.Add(protocol.ArgFileNames, names)
	}

	resp, err := a.call(ctx, protocol.OpUpdate, params, args)
	if err != nil {
		return report, err
	}
	if v, ok := resp.Values.(map[string]any); ok {
		if updated, ok := v[protocol.UpdateUpdated].([]any); ok {
			for _, u := range updated {
				if s, ok := u.(string); ok {
					report.Updated = append(report.Updated, s)
				}
			}
		}
		if failed, ok := v[protocol.UpdateFailed].(map[string]any); ok {
			for p, msg := range failed {
				report.Failed[p] = fmt.Sprint(msg)
			}
		}
	}
	return report, nil
}

// Execute runs a command on the server and returns its output.
func (a *Adapter) Execute(ctx context.Context, command string) (string, error) {
	var args codec.Args
	_ = args.Add(protocol.ArgCommand, command)

	resp, err := a.do(ctx, protocol.OpExecute, nil, args)
	if err != nil {
		return "", err
	}
	out, _ := resp.Values.(string)
	return out, nil
}

// TypeDefTree returns the type definition tree rooted at the "All" node.
// The tree is cached until it expires or the adapter disconnects.
func (a *Adapter) TypeDefTree(ctx context.Context) (*TypeDefNode, error) {
	if item := a.tree.Get(protocol.TreeRoot); item != nil {
		return item.Value(), nil
	}

	resp, err := a.do(ctx, protocol.OpTypeDefTreeList, nil, nil)
	if err != nil {
		return nil, err
	}
	nodes, ok := resp.Values.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected values of type %T", protocol.OpTypeDefTreeList, resp.Values)
	}
	root, err := buildNode(nodes, protocol.TreeRoot, map[string]bool{})
	if err != nil {
		return nil, err
	}
	a.tree.Set(protocol.TreeRoot, root, ttlcache.DefaultTTL)
	return root, nil
}

func buildNode(nodes map[string]any, id string, path map[string]bool) (*TypeDefNode, error) {
	raw, ok := nodes[id].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("type definition tree: missing node '%s'", id)
	}
	if path[id] {
		return nil, fmt.Errorf("type definition tree: cycle at node '%s'", id)
	}
	path[id] = true
	defer delete(path, id)

	n := &TypeDefNode{Label: str(raw, protocol.TreeLabel), TypeDefs: strList(raw[protocol.TreeTypeDefList])}
	for _, child := range strList(raw[protocol.TreeChildren]) {
		if child == "" {
			continue
		}
		c, err := buildNode(nodes, child, path)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, c)
	}
	return n, nil
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func strList(v any) []string {
	list, _ := v.([]any)
	var out []string
	for _, e := range list {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
