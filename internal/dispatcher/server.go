package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"

	"mxdeploy/internal/codec"
	"mxdeploy/internal/frame"
	"mxdeploy/internal/protocol"
)

// Server answers framed requests read from in. Replies are written to out,
// diagnostics for requests that get no reply are written to errOut.
type Server struct {
	d      *Dispatcher
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

// NewServer returns a framed peer for d.
func NewServer(d *Dispatcher, in io.Reader, out, errOut io.Writer) *Server {
	return &Server{d: d, in: in, out: out, errOut: errOut}
}

// Serve handles requests until an exit request, the end of the input or a
// framing error. The first test request connects the backend; a backend
// that cannot connect ends the loop with an error.
func (s *Server) Serve(ctx context.Context) error {
	fr := frame.NewReader(s.in)
	for {
		token, err := fr.Next()
		if errors.Is(err, io.EOF) {
			s.d.log.Debug("Input closed")
			return nil
		}
		if err != nil {
			fmt.Fprintf(s.errOut, "invalid frame: %v\n", err)
			return err
		}

		req, err := codec.DecodeMap(token)
		if err != nil {
			fmt.Fprintf(s.errOut, "invalid request: %v\n", err)
			continue
		}
		method, _ := req[protocol.FrameKeyMethod].(string)
		s.d.log.Debug("Request", "method", method)

		switch method {
		case protocol.MethodTest:
			established, err := s.d.EnsureConnected(ctx)
			if err != nil {
				fmt.Fprintf(s.errOut, "%v\n", err)
				return err
			}
			reply := protocol.ReplyConnected
			if established {
				reply = protocol.ReplyConnect
			}
			if err := s.reply(reply); err != nil {
				return err
			}

		case protocol.MethodExit:
			s.d.log.Debug("Exit requested")
			return s.d.backend.Disconnect()

		case protocol.MethodDispatch:
			arg1, _ := req[protocol.FrameKeyArg1].(string)
			arg2, _ := req[protocol.FrameKeyArg2].(string)
			arg3, _ := req[protocol.FrameKeyArg3].(string)
			if err := s.reply(s.d.Dispatch(ctx, arg1, arg2, arg3)); err != nil {
				return err
			}

		default:
			fmt.Fprintf(s.errOut, "unknown method '%s'\n", method)
		}
	}
}

func (s *Server) reply(ret string) error {
	token, err := codec.Encode(map[string]any{protocol.FrameKeyReturn: ret})
	if err != nil {
		return err
	}
	if err := frame.Write(s.out, token); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	if f, ok := s.out.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}
