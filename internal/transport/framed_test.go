package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mxdeploy/internal/codec"
	"mxdeploy/internal/frame"
	"mxdeploy/internal/protocol"
)

// TestHelperProcess is not a real test. It is re-executed by the framed
// transport tests as the helper process and behaves according to
// MXDEPLOY_HELPER_MODE.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("MXDEPLOY_HELPER_PROCESS") != "1" {
		return
	}
	if pidFile := os.Getenv("MXDEPLOY_HELPER_PIDFILE"); pidFile != "" {
		_ = os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0600)
	}
	runHelperPeer(os.Getenv("MXDEPLOY_HELPER_MODE"))
	os.Exit(0)
}

func runHelperPeer(mode string) {
	if mode == "silent" {
		time.Sleep(time.Hour)
		return
	}

	reply := func(ret string) {
		token, _ := codec.Encode(map[string]any{protocol.FrameKeyReturn: ret})
		_ = frame.Write(os.Stdout, token)
	}

	connected := false
	fr := frame.NewReader(os.Stdin)
	for {
		token, err := fr.Next()
		if err != nil {
			if mode == "stubborn" {
				time.Sleep(time.Hour)
			}
			return
		}
		req, err := codec.DecodeMap(token)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad request:", err)
			continue
		}
		method, _ := req[protocol.FrameKeyMethod].(string)
		arg1, _ := req[protocol.FrameKeyArg1].(string)
		arg2, _ := req[protocol.FrameKeyArg2].(string)
		arg3, _ := req[protocol.FrameKeyArg3].(string)

		switch method {
		case protocol.MethodTest:
			switch {
			case mode == "bad-handshake":
				reply("hello")
			case connected:
				reply(protocol.ReplyConnected)
			default:
				connected = true
				reply(protocol.ReplyConnect)
			}
		case protocol.MethodExit:
			if mode == "stubborn" {
				continue
			}
			return
		case protocol.MethodDispatch:
			switch arg2 {
			case "stderr":
				fmt.Fprintln(os.Stderr, "boom: no database session")
			case "badlen":
				_, _ = io.WriteString(os.Stdout, "99 abc ")
			case "hang":
			default:
				reply(arg1 + "|" + arg2 + "|" + arg3)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown method %q\n", method)
		}
	}
}

func helperConfig(mode string) FramedConfig {
	return FramedConfig{
		Executable:       os.Args[0],
		Args:             []string{"-test.run=^TestHelperProcess$"},
		Env:              []string{"MXDEPLOY_HELPER_PROCESS=1", "MXDEPLOY_HELPER_MODE=" + mode},
		HandshakeTimeout: 5 * time.Second,
		ExitRetries:      3,
		ExitPollInterval: 50 * time.Millisecond,
	}
}

func openHelper(t *testing.T, mode string) *Framed {
	t.Helper()
	tr, err := OpenFramed(context.Background(), helperConfig(mode))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func waitExited(t *testing.T, tr *Framed) {
	t.Helper()
	select {
	case <-tr.Exited():
	case <-time.After(5 * time.Second):
		t.Fatalf("helper process %d still running", tr.Pid())
	}
}

func TestFramed_HandshakeAndRequest(t *testing.T) {
	tr := openHelper(t, "peer")

	got, err := tr.Request(context.Background(), "params", "GetVersion", "args")
	require.NoError(t, err)
	assert.Equal(t, "params|GetVersion|args", got)

	reply, err := tr.Call(context.Background(), protocol.MethodTest, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, protocol.ReplyConnected, reply)

	require.NoError(t, tr.Close())
	waitExited(t, tr)
	assert.NoError(t, tr.Close(), "second close")

	_, err = tr.Request(context.Background(), "", "GetVersion", "")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFramed_SequentialRequestsKeepOrder(t *testing.T) {
	tr := openHelper(t, "peer")

	for i := 0; i < 20; i++ {
		arg := strconv.Itoa(i)
		got, err := tr.Request(context.Background(), arg, "Echo", arg)
		require.NoError(t, err)
		assert.Equal(t, arg+"|Echo|"+arg, got)
	}
}

func TestFramed_SpawnError(t *testing.T) {
	cfg := helperConfig("peer")
	cfg.Executable = filepath.Join(t.TempDir(), "no-such-helper")

	_, err := OpenFramed(context.Background(), cfg)
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, cfg.Executable, spawnErr.Executable)
}

func TestFramed_HandshakeRejected(t *testing.T) {
	_, err := OpenFramed(context.Background(), helperConfig("bad-handshake"))
	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, "hello", hsErr.Reply)
}

func TestFramed_HandshakeTimeout(t *testing.T) {
	cfg := helperConfig("silent")
	cfg.HandshakeTimeout = 200 * time.Millisecond

	start := time.Now()
	_, err := OpenFramed(context.Background(), cfg)
	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFramed_RemoteErrorKeepsTransportUsable(t *testing.T) {
	tr := openHelper(t, "peer")

	_, err := tr.Request(context.Background(), "", "stderr", "")
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Contains(t, remoteErr.Text, "boom: no database session")

	got, err := tr.Request(context.Background(), "a", "Echo", "b")
	require.NoError(t, err)
	assert.Equal(t, "a|Echo|b", got)
}

func TestFramed_UnknownMethodIsRemoteError(t *testing.T) {
	tr := openHelper(t, "peer")

	_, err := tr.Call(context.Background(), "bogus", "", "", "")
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Contains(t, remoteErr.Text, `unknown method "bogus"`)
}

func TestFramed_LengthMismatch(t *testing.T) {
	tr := openHelper(t, "peer")

	_, err := tr.Request(context.Background(), "", "badlen", "")
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	var lenErr *frame.LengthError
	require.ErrorAs(t, err, &lenErr)
	assert.Equal(t, 99, lenErr.Declared)
	assert.Equal(t, 3, lenErr.Actual)

	_, err = tr.Request(context.Background(), "", "Echo", "")
	assert.ErrorAs(t, err, &protoErr, "transport must refuse requests after a framing error")
}

func TestFramed_RequestDeadline(t *testing.T) {
	tr := openHelper(t, "peer")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := tr.Request(ctx, "", "hang", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	_, err = tr.Request(context.Background(), "", "Echo", "")
	var protoErr *ProtocolError
	assert.ErrorAs(t, err, &protoErr)
}

func TestFramed_CloseKillsStubbornPeer(t *testing.T) {
	tr := openHelper(t, "stubborn")

	start := time.Now()
	require.NoError(t, tr.Close())
	elapsed := time.Since(start)

	waitExited(t, tr)
	// Three polls of 50ms plus the kill.
	assert.Less(t, elapsed, 3*time.Second)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

func TestFramed_UpdateByFileContent(t *testing.T) {
	cfg := helperConfig("peer")
	cfg.UpdateByFileContent = true
	tr, err := OpenFramed(context.Background(), cfg)
	require.NoError(t, err)
	defer tr.Close()

	assert.True(t, tr.UpdateByFileContent())
}
