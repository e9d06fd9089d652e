// Package dispatcher is the peer side of the mxdeploy protocol. A Dispatcher
// decodes the three request parts, runs the named operation against a
// Backend and encodes the four-slot response. Server speaks the framed
// process protocol on standard streams; Console emulates the remote console
// used by the line transport.
package dispatcher

import "context"

// Item is one configuration item as exported or found by a search.
type Item struct {
	TypeDef  string
	Name     string
	FileName string
	FilePath string
	// Code is only filled by exports.
	Code string
}

// UpdateResult reports a batched update per file.
type UpdateResult struct {
	Updated []string
	Failed  map[string]string
}

// TreeNode is one node of the type definition tree.
type TreeNode struct {
	Label    string
	TypeDefs []string
	Children []string
}

// Backend is the database session the dispatcher operates on.
type Backend interface {
	Connect(ctx context.Context) error
	Connected() bool
	Disconnect() error

	// Authenticate checks the credentials of a console login.
	Authenticate(user, password string) error
	// Vault names the storage area printed in the console context line.
	Vault() string

	Version() (string, error)
	Properties() (string, error)
	// TypeDefTree returns all nodes keyed by id; the root id is "All".
	TypeDefTree() (map[string]TreeNode, error)

	Export(typeDef, name string) (*Item, error)
	ExportFile(fileName string) (*Item, error)
	// UpdateContents writes items from file name -> content pairs.
	UpdateContents(files map[string]string, compile bool, log Logf) *UpdateResult
	// UpdateFiles updates items from files readable by the backend.
	UpdateFiles(paths []string, compile bool, log Logf) *UpdateResult
	Search(typeDefs []string, match string) ([]Item, error)
	Execute(command string) (string, error)
}

// Logf appends one line to the log slot of the current response.
type Logf func(format string, args ...any)
