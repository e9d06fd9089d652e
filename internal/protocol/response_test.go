package protocol

import (
	"errors"
	"fmt"
	"testing"

	"mxdeploy/internal/codec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponse_MapRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
	}{
		{
			name: "values only",
			resp: &Response{Log: "exported", Values: map[string]any{ItemName: "Part"}},
		},
		{
			name: "error",
			resp: &Response{Log: "", Error: "no such type"},
		},
		{
			name: "exception with trace",
			resp: &Response{Exception: &Exception{Class: "Dispatcher", Message: "boom", Trace: []string{"a", "b"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := codec.Encode(tt.resp.Map())
			require.NoError(t, err)
			m, err := codec.DecodeMap(token)
			require.NoError(t, err)

			got, err := ResponseFromMap(m)
			require.NoError(t, err)
			assert.Equal(t, tt.resp, got)
		})
	}
}

func TestResponse_Failed(t *testing.T) {
	assert.False(t, (&Response{Values: "x"}).Failed())
	assert.True(t, (&Response{Error: "bad"}).Failed())
	assert.True(t, (&Response{Exception: &Exception{Message: "bad"}, Values: "still here"}).Failed())
}

func TestResponse_MapKeepsExceptionOverError(t *testing.T) {
	resp := &Response{Error: "ignored", Exception: &Exception{Message: "wins"}}
	m := resp.Map()
	assert.Nil(t, m[KeyError])
	assert.NotNil(t, m[KeyException])
}

func TestResponseFromMap_Invalid(t *testing.T) {
	_, err := ResponseFromMap(nil)
	assert.Error(t, err)

	_, err = ResponseFromMap(map[string]any{KeyLog: int64(1)})
	assert.Error(t, err)

	_, err = ResponseFromMap(map[string]any{KeyError: true})
	assert.Error(t, err)

	_, err = ResponseFromMap(map[string]any{KeyException: []any{"x"}})
	assert.Error(t, err)
}

func TestResponseFromMap_StringException(t *testing.T) {
	resp, err := ResponseFromMap(map[string]any{KeyException: "unknown plug-in method 'X'"})
	require.NoError(t, err)
	require.NotNil(t, resp.Exception)
	assert.Equal(t, "unknown plug-in method 'X'", resp.Exception.Error())
}

func TestNewException(t *testing.T) {
	root := errors.New("disk full")
	err := fmt.Errorf("write TYPE_Part.mxu: %w", root)

	ex := NewException("Update", err)
	assert.Equal(t, "Update: write TYPE_Part.mxu: disk full", ex.Error())
	assert.Equal(t, []string{"caused by: disk full"}, ex.Trace)
	assert.Contains(t, ex.Detail(), "\n\tcaused by: disk full")
}
