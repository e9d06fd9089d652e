package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mxdeploy/internal/codec"
	"mxdeploy/internal/frame"
	"mxdeploy/internal/protocol"
	"mxdeploy/internal/testutils"
)

func frameRequest(t *testing.T, buf *bytes.Buffer, method string) {
	t.Helper()
	token, err := codec.Encode(map[string]any{protocol.FrameKeyMethod: method})
	require.NoError(t, err)
	require.NoError(t, frame.Write(buf, token))
}

func TestServe_LoginFromEnvironment(t *testing.T) {
	root := testutils.NewCatalogDir(t)

	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{name: "accepted", password: "secret"},
		{name: "rejected", password: "wrong", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MXDISPATCH_USER", "creator")
			t.Setenv("MXDISPATCH_PASSWORD", tt.password)

			var in, out, errOut bytes.Buffer
			frameRequest(t, &in, protocol.MethodTest)
			frameRequest(t, &in, protocol.MethodExit)

			cmd := NewApp(&in, &out, &errOut).CreateRootCommand()
			cmd.SetArgs([]string{"serve", "--root", root})
			err := cmd.Execute()

			if tt.wantErr {
				assert.ErrorContains(t, err, "login as creator")
				assert.Contains(t, errOut.String(), "login as creator")
				assert.Empty(t, out.String())
				return
			}
			require.NoError(t, err)
			assert.Empty(t, errOut.String())
			token, err := frame.NewReader(&out).Next()
			require.NoError(t, err)
			reply, err := codec.DecodeMap(token)
			require.NoError(t, err)
			assert.Equal(t, protocol.ReplyConnect, reply[protocol.FrameKeyReturn])
		})
	}
}

func TestConsole(t *testing.T) {
	root := testutils.NewCatalogDir(t)
	in := strings.NewReader("set context user creator password secret; print context\nfrobnicate\nquit\n")
	var out, errOut bytes.Buffer

	cmd := NewApp(in, &out, &errOut).CreateRootCommand()
	cmd.SetArgs([]string{"console", "--root", root})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "context vault eService Production user creator\n", out.String())
	assert.Equal(t, "Error: #1900068: unknown command 'frobnicate'\n", errOut.String())
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	cmd := NewApp(strings.NewReader(""), &out, &out).CreateRootCommand()
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "mxdispatch v0.9.0\n", out.String())
}
