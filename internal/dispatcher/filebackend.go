package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// CatalogFile is the name of the catalog inside a FileBackend root.
const CatalogFile = "mxdeploy-catalog.yaml"

// ErrNotConnected is returned by FileBackend operations before Connect.
var ErrNotConnected = errors.New("dispatcher: backend not connected")

// TypeDef describes how items of one type definition are stored.
type TypeDef struct {
	Name   string `yaml:"name"`
	Prefix string `yaml:"prefix"`
	Suffix string `yaml:"suffix"`
	Dir    string `yaml:"dir"`
}

// Catalog is the YAML description of a FileBackend.
type Catalog struct {
	Version    string              `yaml:"version"`
	Vault      string              `yaml:"vault"`
	Properties string              `yaml:"properties"`
	Users      map[string]string   `yaml:"users"`
	TypeDefs   []TypeDef           `yaml:"typeDefs"`
	Tree       map[string]treeYAML `yaml:"tree"`
}

type treeYAML struct {
	Label    string   `yaml:"label"`
	TypeDefs []string `yaml:"typeDefs"`
	Children []string `yaml:"children"`
}

// LoadCatalog reads and validates the catalog of root.
func LoadCatalog(root string) (*Catalog, error) {
	data, err := os.ReadFile(filepath.Join(root, CatalogFile))
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if cat.Version == "" {
		return nil, fmt.Errorf("catalog %s: missing version", CatalogFile)
	}
	seen := make(map[string]bool)
	for _, td := range cat.TypeDefs {
		if td.Name == "" || td.Prefix+td.Suffix == "" {
			return nil, fmt.Errorf("catalog %s: type definition %q needs a name and a prefix or suffix", CatalogFile, td.Name)
		}
		if seen[td.Name] {
			return nil, fmt.Errorf("catalog %s: duplicate type definition %q", CatalogFile, td.Name)
		}
		seen[td.Name] = true
	}
	return &cat, nil
}

// FileBackend stores configuration items as files below a root directory.
// It stands in for the database session of the dispatcher peer.
type FileBackend struct {
	root string

	mu  sync.Mutex
	cat *Catalog
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend returns a backend rooted at root. The catalog is read on
// Connect.
func NewFileBackend(root string) *FileBackend {
	return &FileBackend{root: root}
}

// Connect implements Backend.
func (b *FileBackend) Connect(_ context.Context) error {
	cat, err := LoadCatalog(b.root)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.cat = cat
	b.mu.Unlock()
	return nil
}

// Connected implements Backend.
func (b *FileBackend) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cat != nil
}

// Disconnect implements Backend.
func (b *FileBackend) Disconnect() error {
	b.mu.Lock()
	b.cat = nil
	b.mu.Unlock()
	return nil
}

func (b *FileBackend) catalog() (*Catalog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cat == nil {
		return nil, ErrNotConnected
	}
	return b.cat, nil
}

// Authenticate implements Backend. A catalog without users accepts anyone.
func (b *FileBackend) Authenticate(user, password string) error {
	cat, err := b.catalog()
	if err != nil {
		return err
	}
	if len(cat.Users) == 0 {
		return nil
	}
	if want, ok := cat.Users[user]; !ok || want != password {
		return fmt.Errorf("authentication failed for user '%s'", user)
	}
	return nil
}

// Vault implements Backend.
func (b *FileBackend) Vault() string {
	cat, err := b.catalog()
	if err != nil || cat.Vault == "" {
		return "eService Production"
	}
	return cat.Vault
}

// Version implements Backend.
func (b *FileBackend) Version() (string, error) {
	cat, err := b.catalog()
	if err != nil {
		return "", err
	}
	return cat.Version, nil
}

// Properties implements Backend.
func (b *FileBackend) Properties() (string, error) {
	cat, err := b.catalog()
	if err != nil {
		return "", err
	}
	return cat.Properties, nil
}

// TypeDefTree implements Backend. Without a tree in the catalog every type
// definition hangs below the root.
func (b *FileBackend) TypeDefTree() (map[string]TreeNode, error) {
	cat, err := b.catalog()
	if err != nil {
		return nil, err
	}
	tree := make(map[string]TreeNode, len(cat.Tree)+1)
	for id, n := range cat.Tree {
		tree[id] = TreeNode{Label: n.Label, TypeDefs: n.TypeDefs, Children: n.Children}
	}
	if _, ok := tree["All"]; !ok {
		root := TreeNode{Label: "All"}
		for _, td := range cat.TypeDefs {
			root.TypeDefs = append(root.TypeDefs, td.Name)
		}
		tree["All"] = root
	}
	return tree, nil
}

func (cat *Catalog) typeDef(name string) (TypeDef, bool) {
	for _, td := range cat.TypeDefs {
		if td.Name == name {
			return td, true
		}
	}
	return TypeDef{}, false
}

// matchFile finds the type definition whose prefix and suffix enclose base,
// preferring the most specific one.
func (cat *Catalog) matchFile(base string) (TypeDef, string, bool) {
	var best TypeDef
	bestLen := -1
	for _, td := range cat.TypeDefs {
		if len(base) <= len(td.Prefix)+len(td.Suffix) {
			continue
		}
		if !strings.HasPrefix(base, td.Prefix) || !strings.HasSuffix(base, td.Suffix) {
			continue
		}
		if l := len(td.Prefix) + len(td.Suffix); l > bestLen {
			best, bestLen = td, l
		}
	}
	if bestLen < 0 {
		return TypeDef{}, "", false
	}
	return best, base[len(best.Prefix) : len(base)-len(best.Suffix)], true
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid item name '%s'", name)
	}
	return nil
}

func (b *FileBackend) item(td TypeDef, name string) Item {
	fileName := td.Prefix + name + td.Suffix
	return Item{
		TypeDef:  td.Name,
		Name:     name,
		FileName: fileName,
		FilePath: path.Join(td.Dir, fileName),
	}
}

// Export implements Backend.
func (b *FileBackend) Export(typeDef, name string) (*Item, error) {
	cat, err := b.catalog()
	if err != nil {
		return nil, err
	}
	td, ok := cat.typeDef(typeDef)
	if !ok {
		return nil, fmt.Errorf("unknown type definition '%s'", typeDef)
	}
	if err := validName(name); err != nil {
		return nil, err
	}

	it := b.item(td, name)
	code, err := os.ReadFile(filepath.Join(b.root, filepath.FromSlash(it.FilePath)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s '%s' does not exist", typeDef, name)
		}
		return nil, fmt.Errorf("export %s '%s': %w", typeDef, name, err)
	}
	it.Code = string(code)
	return &it, nil
}

// ExportFile implements Backend.
func (b *FileBackend) ExportFile(fileName string) (*Item, error) {
	cat, err := b.catalog()
	if err != nil {
		return nil, err
	}
	td, name, ok := cat.matchFile(filepath.Base(fileName))
	if !ok {
		return nil, fmt.Errorf("no type definition matches file '%s'", fileName)
	}
	return b.Export(td.Name, name)
}

// UpdateContents implements Backend.
func (b *FileBackend) UpdateContents(files map[string]string, compile bool, log Logf) *UpdateResult {
	res := &UpdateResult{Failed: map[string]string{}}
	for _, p := range sortedKeys(files) {
		if err := b.update(p, files[p], compile, log); err != nil {
			res.Failed[p] = err.Error()
			continue
		}
		res.Updated = append(res.Updated, p)
	}
	return res
}

// UpdateFiles implements Backend.
func (b *FileBackend) UpdateFiles(paths []string, compile bool, log Logf) *UpdateResult {
	res := &UpdateResult{Failed: map[string]string{}}
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			res.Failed[p] = fmt.Sprintf("read %s: %v", p, err)
			continue
		}
		if err := b.update(p, string(content), compile, log); err != nil {
			res.Failed[p] = err.Error()
			continue
		}
		res.Updated = append(res.Updated, p)
	}
	return res
}

func (b *FileBackend) update(p, content string, compile bool, log Logf) error {
	cat, err := b.catalog()
	if err != nil {
		return err
	}
	base := path.Base(filepath.ToSlash(p))
	td, name, ok := cat.matchFile(base)
	if !ok {
		return fmt.Errorf("no type definition matches file '%s'", base)
	}
	if err := validName(name); err != nil {
		return err
	}

	it := b.item(td, name)
	target := filepath.Join(b.root, filepath.FromSlash(it.FilePath))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("update %s '%s': %w", td.Name, name, err)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return fmt.Errorf("update %s '%s': %w", td.Name, name, err)
	}
	log("updated %s '%s' from %s", td.Name, name, base)
	if compile && strings.HasSuffix(td.Suffix, ".java") {
		log("compiled %s '%s'", td.Name, name)
	}
	return nil
}

// Search implements Backend. An empty match or "*" matches every name; an
// empty type definition list or "*" searches all type definitions.
func (b *FileBackend) Search(typeDefs []string, match string) ([]Item, error) {
	cat, err := b.catalog()
	if err != nil {
		return nil, err
	}
	if match == "" {
		match = "*"
	}
	if _, err := path.Match(match, ""); err != nil {
		return nil, fmt.Errorf("invalid match pattern '%s': %w", match, err)
	}

	var tds []TypeDef
	if len(typeDefs) == 0 || (len(typeDefs) == 1 && typeDefs[0] == "*") {
		tds = cat.TypeDefs
	} else {
		for _, name := range typeDefs {
			td, ok := cat.typeDef(name)
			if !ok {
				return nil, fmt.Errorf("unknown type definition '%s'", name)
			}
			tds = append(tds, td)
		}
	}

	var items []Item
	for _, td := range tds {
		entries, err := os.ReadDir(filepath.Join(b.root, filepath.FromSlash(td.Dir)))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", td.Name, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			base := e.Name()
			if !strings.HasPrefix(base, td.Prefix) || !strings.HasSuffix(base, td.Suffix) || len(base) <= len(td.Prefix)+len(td.Suffix) {
				continue
			}
			name := base[len(td.Prefix) : len(base)-len(td.Suffix)]
			if ok, _ := path.Match(match, name); ok {
				items = append(items, b.item(td, name))
			}
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].TypeDef != items[j].TypeDef {
			return items[i].TypeDef < items[j].TypeDef
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

// Execute implements Backend. Supported commands:
//
//	list <TypeDef> [match]
//	print <TypeDef> <Name>
//	version
//
// Words are quoted as on the console.
func (b *FileBackend) Execute(command string) (string, error) {
	stmts, err := splitStatements(command)
	if err != nil {
		return "", err
	}
	switch len(stmts) {
	case 0:
		return "", errors.New("empty command")
	case 1:
	default:
		return "", errors.New("only one command can be executed at a time")
	}
	fields := stmts[0]

	switch strings.ToLower(fields[0]) {
	case "version":
		return b.Version()
	case "list":
		if len(fields) < 2 || len(fields) > 3 {
			return "", errors.New("usage: list <TypeDef> [match]")
		}
		match := ""
		if len(fields) == 3 {
			match = fields[2]
		}
		items, err := b.Search([]string{fields[1]}, match)
		if err != nil {
			return "", err
		}
		names := make([]string, len(items))
		for i, it := range items {
			names[i] = it.Name
		}
		return strings.Join(names, "\n"), nil
	case "print":
		if len(fields) != 3 {
			return "", errors.New("usage: print <TypeDef> <Name>")
		}
		it, err := b.Export(fields[1], fields[2])
		if err != nil {
			return "", err
		}
		return it.Code, nil
	default:
		return "", fmt.Errorf("unknown command '%s'", fields[0])
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
