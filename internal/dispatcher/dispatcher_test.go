package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mxdeploy/internal/codec"
	"mxdeploy/internal/protocol"
	"mxdeploy/internal/testutils"
)

func dispatch(t *testing.T, d *Dispatcher, method string, params, args map[string]any) *protocol.Response {
	t.Helper()
	p, err := codec.Encode(params)
	require.NoError(t, err)
	m, err := codec.Encode(method)
	require.NoError(t, err)
	a, err := codec.Encode(args)
	require.NoError(t, err)

	m2, err := codec.DecodeMap(d.Dispatch(context.Background(), p, m, a))
	require.NoError(t, err)
	resp, err := protocol.ResponseFromMap(m2)
	require.NoError(t, err)
	return resp
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	return New(NewFileBackend(testutils.NewCatalogDir(t)))
}

func TestDispatcher_AutoConnects(t *testing.T) {
	d := newTestDispatcher(t)
	require.False(t, d.Backend().Connected())

	resp := dispatch(t, d, protocol.OpGetVersion, nil, nil)
	require.False(t, resp.Failed())
	assert.Equal(t, "0.9.2", resp.Values)
	assert.True(t, d.Backend().Connected())
}

func TestDispatcher_UnknownMethod(t *testing.T) {
	d := newTestDispatcher(t)

	resp := dispatch(t, d, "Drop", nil, nil)
	require.NotNil(t, resp.Exception)
	assert.Equal(t, "unknown plug-in method 'Drop'", resp.Exception.Message)
	assert.Nil(t, resp.Values)
}

func TestDispatcher_UndecodableTokens(t *testing.T) {
	d := newTestDispatcher(t)
	method, err := codec.Encode(protocol.OpGetVersion)
	require.NoError(t, err)

	token := d.Dispatch(context.Background(), "%%%", method, "")
	m, err := codec.DecodeMap(token)
	require.NoError(t, err)
	resp, err := protocol.ResponseFromMap(m)
	require.NoError(t, err)
	require.NotNil(t, resp.Exception)
	assert.Contains(t, resp.Exception.Message, "decode parameters")
}

func TestDispatcher_BackendConnectFailure(t *testing.T) {
	d := New(NewFileBackend(t.TempDir()))

	resp := dispatch(t, d, protocol.OpGetVersion, nil, nil)
	require.NotNil(t, resp.Exception)
	assert.Contains(t, resp.Exception.Message, "connect backend")
}

func TestDispatcher_Export(t *testing.T) {
	d := newTestDispatcher(t)

	tests := []struct {
		name     string
		args     map[string]any
		wantName string
		wantErr  string
		wantExc  string
	}{
		{name: "by type and name", args: map[string]any{protocol.ArgTypeDef: "Type", protocol.ArgName: "Part"}, wantName: "Part"},
		{name: "by file name", args: map[string]any{protocol.ArgFileName: "ATTRIBUTE_Weight.mxu"}, wantName: "Weight"},
		{name: "missing arguments", args: map[string]any{protocol.ArgTypeDef: "Type"}, wantErr: "export needs"},
		{name: "wrong argument type", args: map[string]any{protocol.ArgFileName: int64(3)}, wantErr: "must be a string"},
		{name: "missing item", args: map[string]any{protocol.ArgTypeDef: "Type", protocol.ArgName: "Nope"}, wantExc: "does not exist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := dispatch(t, d, protocol.OpExport, nil, tt.args)
			switch {
			case tt.wantErr != "":
				assert.Contains(t, resp.Error, tt.wantErr)
				assert.Nil(t, resp.Exception)
			case tt.wantExc != "":
				require.NotNil(t, resp.Exception)
				assert.Contains(t, resp.Exception.Message, tt.wantExc)
				assert.Empty(t, resp.Error)
			default:
				require.False(t, resp.Failed())
				values := resp.Values.(map[string]any)
				assert.Equal(t, tt.wantName, values[protocol.ItemName])
				assert.NotEmpty(t, values[protocol.ItemCode])
			}
		})
	}
}

func TestDispatcher_UpdateByContents(t *testing.T) {
	d := newTestDispatcher(t)

	resp := dispatch(t, d, protocol.OpUpdate,
		map[string]any{protocol.ParamCompile: true},
		map[string]any{protocol.ArgFileContents: map[string]any{
			"TYPE_Bolt.mxu": "mql mod type \"Bolt\";\n",
			"bogus.txt":     "x",
		}})
	require.False(t, resp.Failed())

	values := resp.Values.(map[string]any)
	assert.Equal(t, []any{"TYPE_Bolt.mxu"}, values[protocol.UpdateUpdated])
	failed := values[protocol.UpdateFailed].(map[string]any)
	assert.Contains(t, failed, "bogus.txt")
	assert.Contains(t, resp.Log, "updated Type 'Bolt' from TYPE_Bolt.mxu")
	assert.Contains(t, resp.Log, "update of bogus.txt failed")

	export := dispatch(t, d, protocol.OpExport, nil, map[string]any{protocol.ArgTypeDef: "Type", protocol.ArgName: "Bolt"})
	require.False(t, export.Failed())
}

func TestDispatcher_UpdateByNames(t *testing.T) {
	d := newTestDispatcher(t)
	local := testutils.NewFileHelpers().CreateTempFile(t, "TYPE_Nut.mxu", "mql mod type \"Nut\";\n")

	resp := dispatch(t, d, protocol.OpUpdate, nil, map[string]any{protocol.ArgFileNames: []any{local}})
	require.False(t, resp.Failed())
	values := resp.Values.(map[string]any)
	assert.Equal(t, []any{local}, values[protocol.UpdateUpdated])

	resp = dispatch(t, d, protocol.OpUpdate, nil, map[string]any{})
	assert.Contains(t, resp.Error, "update needs")
}

func TestDispatcher_Search(t *testing.T) {
	d := newTestDispatcher(t)

	resp := dispatch(t, d, protocol.OpSearch, nil, map[string]any{
		protocol.ArgTypeDefList: []any{"Type"},
		protocol.ArgMatch:       "*",
	})
	require.False(t, resp.Failed())
	items := resp.Values.([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, "Document", first[protocol.ItemName])
	assert.Equal(t, "datamodel/type/TYPE_Document.mxu", first[protocol.ItemFilePath])
	assert.NotContains(t, first, protocol.ItemCode)
}

func TestDispatcher_ExecuteVersionPropertyTree(t *testing.T) {
	d := newTestDispatcher(t)

	resp := dispatch(t, d, protocol.OpExecute, nil, map[string]any{protocol.ArgCommand: "list Attribute"})
	require.False(t, resp.Failed())
	assert.Equal(t, "Weight", resp.Values)

	resp = dispatch(t, d, protocol.OpExecute, nil, map[string]any{protocol.ArgCommand: "explode"})
	require.NotNil(t, resp.Exception)

	resp = dispatch(t, d, protocol.OpExecute, nil, nil)
	assert.Contains(t, resp.Error, "execute needs")

	resp = dispatch(t, d, protocol.OpGetProperty, nil, nil)
	assert.Contains(t, resp.Values, "mxupdate.plugin.version")

	resp = dispatch(t, d, protocol.OpTypeDefTreeList, nil, nil)
	require.False(t, resp.Failed())
	tree := resp.Values.(map[string]any)
	root := tree[protocol.TreeRoot].(map[string]any)
	assert.Equal(t, "All", root[protocol.TreeLabel])
	assert.Equal(t, []any{"DataModel", "Program"}, root[protocol.TreeChildren])
}
