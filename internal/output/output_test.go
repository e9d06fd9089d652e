package output

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrinter_PlainOutput(t *testing.T) {
	out := CaptureOutput(func(p *Printer) {
		p.Print("hello ")
		p.Println("world")
		p.Printf("count: %d\n", 3)
		p.Info("connecting")
		p.Success("updated")
		p.Warning("stale")
		p.Error("failed")
		p.Item("Type", "Part", "datamodel/type/TYPE_Part.mxu")
		p.Item("JPO", "org.example.Helper", "")
	})

	assert.Equal(t, "hello world\n"+
		"count: 3\n"+
		"connecting\n"+
		"ok: updated\n"+
		"warning: stale\n"+
		"error: failed\n"+
		"Type 'Part'  datamodel/type/TYPE_Part.mxu\n"+
		"JPO 'org.example.Helper'\n", out)
}

func TestPrinter_DiffPlain(t *testing.T) {
	diff := "--- database Type 'Part'\n+++ local TYPE_Part.mxu\n-old\n+new\n same\n"
	out := CaptureOutput(func(p *Printer) { p.Diff(diff) })
	assert.Equal(t, diff, out)
}

func TestPrinter_JSON(t *testing.T) {
	buf := NewCaptureBuffer()
	p := NewPrinter(WithWriter(buf), JSON())
	require.True(t, p.IsJSON())

	p.Success("updated")
	p.Item("Type", "Part", "a.mxu")
	p.Record("version", map[string]string{"server": "0.9.2"})

	lines := buf.Lines()
	require.Len(t, lines, 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, map[string]any{"type": "success", "message": "updated"}, rec)

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "item", rec["type"])
	assert.Equal(t, map[string]any{"type": "Type", "name": "Part", "file": "a.mxu"}, rec["data"])

	require.NoError(t, json.Unmarshal([]byte(lines[2]), &rec))
	assert.Equal(t, map[string]any{"server": "0.9.2"}, rec["data"])
}

func TestPrinter_StyledUsesProvider(t *testing.T) {
	buf := NewCaptureBuffer()
	p := NewPrinter(WithWriter(buf), WithMode(ModeStyled), WithStyles(tagStyles{}))

	p.Error("boom")
	p.Diff("+added\n")
	assert.Equal(t, "[error]boom\n[added]+added\n", buf.String())
}

func TestPrinter_AutoModeIsPlainOffTerminal(t *testing.T) {
	buf := NewCaptureBuffer()
	p := NewPrinter(WithWriter(buf), WithStyles(tagStyles{}))

	p.Error("boom")
	assert.Equal(t, "error: boom\n", buf.String())
}

func TestPrinter_Silent(t *testing.T) {
	buf := NewCaptureBuffer()
	NewPrinter(WithWriter(buf), Silent()).Println("hidden")
	assert.Empty(t, buf.String())
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeAuto, "json": ModeJSON, "plain": ModePlain, "color": ModeStyled} {
		got, ok := ParseMode(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseMode("xml")
	assert.False(t, ok)
}

func TestLipglossStyles(t *testing.T) {
	s := NewLipglossStyles()
	assert.True(t, s.IsAvailable())
	assert.Contains(t, s.GetStyle(SemanticAdded).Render("+x"), "+x")
	assert.Equal(t, "plain", s.GetStyle("unknown").Render("plain"))
}

type tagStyles struct{}

type tagStyle string

func (t tagStyle) Render(text ...string) string {
	out := "[" + string(t) + "]"
	for _, s := range text {
		out += s
	}
	return out
}

func (tagStyles) GetStyle(semantic SemanticType) TextStyle { return tagStyle(semantic) }
func (tagStyles) IsAvailable() bool                         { return true }
