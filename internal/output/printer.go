package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Printer writes CLI output. It is safe for concurrent use.
type Printer struct {
	styleProvider StyleProvider
	writer        io.Writer
	mode          Mode
	silent        bool

	mu sync.Mutex
}

// NewPrinter creates a printer writing to os.Stdout in ModeAuto.
func NewPrinter(options ...Option) *Printer {
	p := &Printer{
		writer: os.Stdout,
		mode:   ModeAuto,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// IsJSON reports whether the printer emits JSON records.
func (p *Printer) IsJSON() bool { return p.mode == ModeJSON }

// Print writes text as is.
func (p *Printer) Print(text string) { p.output(SemanticPlain, text, false) }

// Printf writes formatted text as is.
func (p *Printer) Printf(format string, args ...any) {
	p.output(SemanticPlain, fmt.Sprintf(format, args...), false)
}

// Println writes text and a newline.
func (p *Printer) Println(text string) { p.output(SemanticPlain, text, true) }

// Info writes an informational line.
func (p *Printer) Info(text string) { p.output(SemanticInfo, text, true) }

// Success writes a completion line.
func (p *Printer) Success(text string) { p.output(SemanticSuccess, text, true) }

// Warning writes a warning line.
func (p *Printer) Warning(text string) { p.output(SemanticWarning, text, true) }

// Error writes an error line.
func (p *Printer) Error(text string) { p.output(SemanticError, text, true) }

// Header writes a block title.
func (p *Printer) Header(text string) { p.output(SemanticHeader, text, true) }

// Item writes one configuration item line: type, name and the local file.
func (p *Printer) Item(typeDef, name, file string) {
	if p.IsJSON() {
		p.Record("item", map[string]string{"type": typeDef, "name": name, "file": file})
		return
	}
	line := p.render(SemanticItem, fmt.Sprintf("%s '%s'", typeDef, name))
	if file != "" {
		line += "  " + file
	}
	p.write(line + "\n")
}

// Diff writes a unified diff, styling each line by its marker.
func (p *Printer) Diff(unified string) {
	if p.IsJSON() {
		p.Record("diff", unified)
		return
	}
	var b strings.Builder
	for _, line := range strings.SplitAfter(unified, "\n") {
		if line == "" {
			continue
		}
		text := strings.TrimSuffix(line, "\n")
		semantic := SemanticPlain
		switch {
		case strings.HasPrefix(text, "+++"), strings.HasPrefix(text, "---"):
			semantic = SemanticHeader
		case strings.HasPrefix(text, "@@"):
			semantic = SemanticHunk
		case strings.HasPrefix(text, "+"):
			semantic = SemanticAdded
		case strings.HasPrefix(text, "-"):
			semantic = SemanticRemoved
		}
		b.WriteString(p.render(semantic, text))
		b.WriteString("\n")
	}
	p.write(b.String())
}

// Record writes a structured value. In JSON mode it is one object
// {"type": kind, "data": v}; otherwise v is printed with %v.
func (p *Printer) Record(kind string, v any) {
	if !p.IsJSON() {
		p.output(SemanticPlain, fmt.Sprintf("%v", v), true)
		return
	}
	data, err := json.Marshal(map[string]any{"type": kind, "data": v})
	if err != nil {
		data, _ = json.Marshal(map[string]any{"type": "error", "message": err.Error()})
	}
	p.write(string(data) + "\n")
}

func (p *Printer) output(semantic SemanticType, text string, newline bool) {
	if p.IsJSON() {
		if semantic == SemanticPlain {
			semantic = "text"
		}
		data, _ := json.Marshal(map[string]any{"type": semantic, "message": text})
		p.write(string(data) + "\n")
		return
	}
	out := p.render(semantic, text)
	if newline && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	p.write(out)
}

func (p *Printer) write(s string) {
	if p.silent {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.writer, s)
}

func (p *Printer) render(semantic SemanticType, text string) string {
	if p.styled() {
		return p.styleProvider.GetStyle(semantic).Render(text)
	}
	return NewPlainStyleProvider().GetStyle(semantic).Render(text)
}

func (p *Printer) styled() bool {
	if p.styleProvider == nil || !p.styleProvider.IsAvailable() {
		return false
	}
	switch p.mode {
	case ModeStyled:
		return true
	case ModeAuto:
		return SupportsColor(p.writer)
	}
	return false
}

// SupportsColor reports whether w is a terminal that accepts colors.
func SupportsColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
