package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mxdeploy/internal/codec"
	"mxdeploy/internal/frame"
	"mxdeploy/internal/protocol"
	"mxdeploy/internal/testutils"
)

func writeRequest(t *testing.T, w io.Writer, method string, args ...string) {
	t.Helper()
	req := map[string]any{protocol.FrameKeyMethod: method}
	keys := []string{protocol.FrameKeyArg1, protocol.FrameKeyArg2, protocol.FrameKeyArg3}
	for i, a := range args {
		req[keys[i]] = a
	}
	token, err := codec.Encode(req)
	require.NoError(t, err)
	require.NoError(t, frame.Write(w, token))
}

func readReplies(t *testing.T, r io.Reader) []string {
	t.Helper()
	var out []string
	fr := frame.NewReader(r)
	for {
		token, err := fr.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		m, err := codec.DecodeMap(token)
		require.NoError(t, err)
		out = append(out, m[protocol.FrameKeyReturn].(string))
	}
}

func TestServer_Session(t *testing.T) {
	d := New(NewFileBackend(testutils.NewCatalogDir(t)))

	params, err := codec.Encode(nil)
	require.NoError(t, err)
	method, err := codec.Encode(protocol.OpGetVersion)
	require.NoError(t, err)

	var in, out, errOut bytes.Buffer
	writeRequest(t, &in, protocol.MethodTest)
	writeRequest(t, &in, protocol.MethodTest)
	writeRequest(t, &in, "reboot")
	writeRequest(t, &in, protocol.MethodDispatch, params, method, params)
	writeRequest(t, &in, protocol.MethodExit)
	writeRequest(t, &in, protocol.MethodTest)

	require.NoError(t, NewServer(d, &in, &out, &errOut).Serve(context.Background()))

	replies := readReplies(t, &out)
	require.Len(t, replies, 3)
	assert.Equal(t, protocol.ReplyConnect, replies[0])
	assert.Equal(t, protocol.ReplyConnected, replies[1])

	m, err := codec.DecodeMap(replies[2])
	require.NoError(t, err)
	resp, err := protocol.ResponseFromMap(m)
	require.NoError(t, err)
	assert.Equal(t, "0.9.2", resp.Values)

	assert.Equal(t, "unknown method 'reboot'\n", errOut.String())
	assert.False(t, d.Backend().Connected())
}

func TestServer_EndOfInput(t *testing.T) {
	d := New(NewFileBackend(testutils.NewCatalogDir(t)))
	var out, errOut bytes.Buffer

	err := NewServer(d, strings.NewReader(""), &out, &errOut).Serve(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestServer_InvalidFrame(t *testing.T) {
	d := New(NewFileBackend(testutils.NewCatalogDir(t)))
	var out, errOut bytes.Buffer

	err := NewServer(d, strings.NewReader("12 abc "), &out, &errOut).Serve(context.Background())
	var le *frame.LengthError
	assert.ErrorAs(t, err, &le)
	assert.Contains(t, errOut.String(), "invalid frame")
}

func TestServer_InvalidRequestIsSkipped(t *testing.T) {
	d := New(NewFileBackend(testutils.NewCatalogDir(t)))
	var in, out, errOut bytes.Buffer
	require.NoError(t, frame.Write(&in, "bm90LWpzb24="))
	writeRequest(t, &in, protocol.MethodTest)

	require.NoError(t, NewServer(d, &in, &out, &errOut).Serve(context.Background()))
	assert.Equal(t, []string{protocol.ReplyConnect}, readReplies(t, &out))
	assert.Contains(t, errOut.String(), "invalid request")
}

func TestServer_ConnectFailure(t *testing.T) {
	d := New(NewFileBackend(t.TempDir()))
	var in, out, errOut bytes.Buffer
	writeRequest(t, &in, protocol.MethodTest)

	err := NewServer(d, &in, &out, &errOut).Serve(context.Background())
	assert.ErrorContains(t, err, "connect backend")
	assert.Contains(t, errOut.String(), "read catalog")
	assert.Empty(t, out.String())
}
