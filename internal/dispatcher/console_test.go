package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mxdeploy/internal/codec"
	"mxdeploy/internal/protocol"
	"mxdeploy/internal/testutils"
)

func runConsole(t *testing.T, input string) (string, string) {
	t.Helper()
	d := New(NewFileBackend(testutils.NewCatalogDir(t)))
	var out, errOut bytes.Buffer
	require.NoError(t, NewConsole(d, strings.NewReader(input), &out, &errOut).Serve(context.Background()))
	return out.String(), errOut.String()
}

func TestConsole_LoginAndDispatch(t *testing.T) {
	params, err := codec.Encode(nil)
	require.NoError(t, err)
	method, err := codec.Encode(protocol.OpGetVersion)
	require.NoError(t, err)

	input := `escape set context user "creator" pass "secret";print context;` + "\n" +
		fmt.Sprintf(`exec prog %s "%s" "%s" "%s";print context;`, protocol.DispatcherProgram, params, method, params) + "\n" +
		"quit;\n" +
		"print context;\n"

	out, errOut := runConsole(t, input)
	assert.Empty(t, errOut)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "context vault eService Production user creator", lines[0])
	assert.Equal(t, lines[0], lines[2])

	m, err := codec.DecodeMap(lines[1])
	require.NoError(t, err)
	resp, err := protocol.ResponseFromMap(m)
	require.NoError(t, err)
	assert.Equal(t, "0.9.2", resp.Values)
}

func TestConsole_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantOut string
		wantErr string
	}{
		{name: "wrong password", input: `set context user creator pass wrong;print context;`, wantOut: "context vault eService Production\n", wantErr: "set context failed"},
		{name: "not logged in", input: `exec prog org.mxupdate.plugin.Dispatcher a b c;`, wantErr: "no user context"},
		{name: "unknown program", input: `set context user creator pass secret;exec prog Other a b c;`, wantErr: "program 'Other' does not exist"},
		{name: "unknown command", input: `drop vault;`, wantErr: "unknown command 'drop vault'"},
		{name: "unterminated quote", input: `print "context;`, wantErr: "unterminated quote"},
		{name: "missing clause value", input: `set context user;`, wantErr: "missing value for 'user'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut := runConsole(t, tt.input+"\n")
			assert.Equal(t, tt.wantOut, out)
			assert.True(t, strings.HasPrefix(errOut, "Error: #1900068: "), errOut)
			assert.Contains(t, errOut, tt.wantErr)
		})
	}
}

func TestConsole_ConnectFailure(t *testing.T) {
	d := New(NewFileBackend(t.TempDir()))
	var out, errOut bytes.Buffer

	err := NewConsole(d, strings.NewReader("print context;\n"), &out, &errOut).Serve(context.Background())
	assert.Error(t, err)
	assert.Contains(t, errOut.String(), "connect backend")
	assert.Empty(t, out.String())
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		line string
		want [][]string
	}{
		{line: "", want: nil},
		{line: "print context;", want: [][]string{{"print", "context"}}},
		{line: "a b; c ;; d", want: [][]string{{"a", "b"}, {"c"}, {"d"}}},
		{line: `x "a b;c" 'd\e'`, want: [][]string{{"x", "a b;c", `d\e`}}},
		{line: `x "q\"uote\\d"`, want: [][]string{{"x", `q"uote\d`}}},
		{line: `x ""`, want: [][]string{{"x", ""}}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := splitStatements(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := splitStatements(`x 'open`)
	assert.Error(t, err)
}
