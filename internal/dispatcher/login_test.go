package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mxdeploy/internal/testutils"
)

func TestWithLogin(t *testing.T) {
	root := testutils.NewCatalogDir(t)
	ctx := context.Background()

	plain := NewFileBackend(root)
	assert.Same(t, Backend(plain), WithLogin(plain, "", ""))

	ok := WithLogin(NewFileBackend(root), "creator", "secret")
	require.NoError(t, ok.Connect(ctx))
	assert.True(t, ok.Connected())

	bad := WithLogin(NewFileBackend(root), "creator", "wrong")
	err := bad.Connect(ctx)
	assert.ErrorContains(t, err, "login as creator")
	assert.False(t, bad.Connected())
}
