package adapter

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Comparison is the line diff between the database version of an item and
// a local file.
type Comparison struct {
	Path  string
	Item  *ExportItem
	Local string
	Diffs []diffmatchpatch.Diff
}

// Equal reports whether both sides are identical.
func (c *Comparison) Equal() bool {
	for _, d := range c.Diffs {
		if d.Type != diffmatchpatch.DiffEqual {
			return false
		}
	}
	return true
}

// Unified renders the diff with "-" for database lines and "+" for local
// lines.
func (c *Comparison) Unified() string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- database %s '%s'\n", c.Item.TypeDef, c.Item.Name)
	fmt.Fprintf(&b, "+++ local %s\n", c.Path)
	for _, d := range c.Diffs {
		mark := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			mark = "-"
		case diffmatchpatch.DiffInsert:
			mark = "+"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			b.WriteString(mark)
			b.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				b.WriteString("\n\\ No newline at end of file\n")
			}
		}
	}
	return b.String()
}

// Compare exports the database counterpart of a local file and diffs it
// line by line against the file.
func (a *Adapter) Compare(ctx context.Context, path string) (*Comparison, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	it, err := a.ExportFile(ctx, path)
	if err != nil {
		return nil, err
	}

	dmp := diffmatchpatch.New()
	remote, local, lines := dmp.DiffLinesToChars(it.Content, string(data))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(remote, local, false), lines)

	return &Comparison{Path: path, Item: it, Local: string(data), Diffs: diffs}, nil
}
