package output

// PlainTextStyle prefixes text with a marker.
type PlainTextStyle struct {
	prefix string
}

// Render implements TextStyle.
func (p PlainTextStyle) Render(text ...string) string {
	out := p.prefix
	for _, t := range text {
		out += t
	}
	return out
}

// PlainStyleProvider marks semantic output with ASCII prefixes only.
type PlainStyleProvider struct{}

// NewPlainStyleProvider returns the plain provider.
func NewPlainStyleProvider() *PlainStyleProvider { return &PlainStyleProvider{} }

// GetStyle implements StyleProvider.
func (PlainStyleProvider) GetStyle(semantic SemanticType) TextStyle {
	switch semantic {
	case SemanticSuccess:
		return PlainTextStyle{prefix: "ok: "}
	case SemanticWarning:
		return PlainTextStyle{prefix: "warning: "}
	case SemanticError:
		return PlainTextStyle{prefix: "error: "}
	default:
		return PlainTextStyle{}
	}
}

// IsAvailable implements StyleProvider.
func (PlainStyleProvider) IsAvailable() bool { return true }
