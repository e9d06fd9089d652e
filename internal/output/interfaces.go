// Package output renders command results of the mxdeploy CLI. A Printer
// writes plain text, styled text or JSON records; styling is supplied by a
// StyleProvider so tests and pipes get stable plain output.
package output

// StyleProvider supplies a TextStyle per semantic type.
type StyleProvider interface {
	GetStyle(semantic SemanticType) TextStyle
	// IsAvailable reports whether styles can be rendered at all.
	IsAvailable() bool
}

// TextStyle renders a piece of text. lipgloss.Style implements it.
type TextStyle interface {
	Render(text ...string) string
}

// Mode selects how a Printer renders.
type Mode int

const (
	// ModeAuto styles output when the writer is a color terminal.
	ModeAuto Mode = iota
	// ModeStyled always uses the style provider.
	ModeStyled
	// ModePlain never styles.
	ModePlain
	// ModeJSON writes one JSON object per line.
	ModeJSON
)

// ParseMode maps a --output flag value to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "auto":
		return ModeAuto, true
	case "styled", "color":
		return ModeStyled, true
	case "plain", "text":
		return ModePlain, true
	case "json":
		return ModeJSON, true
	}
	return ModeAuto, false
}

// SemanticType is the meaning of a piece of output.
type SemanticType string

const (
	SemanticPlain   SemanticType = "plain"
	SemanticInfo    SemanticType = "info"
	SemanticSuccess SemanticType = "success"
	SemanticWarning SemanticType = "warning"
	SemanticError   SemanticType = "error"
	// SemanticHeader titles a block such as a diff or a tree.
	SemanticHeader SemanticType = "header"
	// SemanticItem is a configuration item reference.
	SemanticItem SemanticType = "item"
	// Diff lines.
	SemanticAdded   SemanticType = "added"
	SemanticRemoved SemanticType = "removed"
	SemanticHunk    SemanticType = "hunk"
)
