package output

import "github.com/charmbracelet/lipgloss"

// LipglossStyles is the terminal palette of the CLI.
type LipglossStyles struct {
	styles map[SemanticType]lipgloss.Style
}

// NewLipglossStyles returns the default palette.
func NewLipglossStyles() *LipglossStyles {
	return &LipglossStyles{styles: map[SemanticType]lipgloss.Style{
		SemanticInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		SemanticSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		SemanticWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		SemanticError:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		SemanticHeader:  lipgloss.NewStyle().Bold(true),
		SemanticItem:    lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		SemanticAdded:   lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		SemanticRemoved: lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		SemanticHunk:    lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
	}}
}

// GetStyle implements StyleProvider. Unknown types render unstyled.
func (l *LipglossStyles) GetStyle(semantic SemanticType) TextStyle {
	if s, ok := l.styles[semantic]; ok {
		return s
	}
	return lipgloss.NewStyle()
}

// IsAvailable implements StyleProvider.
func (l *LipglossStyles) IsAvailable() bool { return l != nil }
