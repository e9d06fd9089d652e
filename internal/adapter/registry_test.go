package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mxdeploy/internal/dispatcher"
	"mxdeploy/internal/testutils"
	"mxdeploy/internal/transport"
)

func TestRegistry_GetCreatesOncePerProject(t *testing.T) {
	created := map[string]int{}
	var mu sync.Mutex
	r := NewRegistry(func(project string) (*Adapter, error) {
		mu.Lock()
		created[project]++
		mu.Unlock()
		return New(Options{Project: project}), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Get(fmt.Sprintf("p%d", i%2))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, map[string]int{"p0": 1, "p1": 1}, created)
	assert.Equal(t, []string{"p0", "p1"}, r.Projects())

	a1, err := r.Get("p0")
	require.NoError(t, err)
	a2, err := r.Get("p0")
	require.NoError(t, err)
	assert.Same(t, a1, a2)
}

func TestRegistry_FactoryError(t *testing.T) {
	r := NewRegistry(func(project string) (*Adapter, error) {
		return nil, errors.New("no such project")
	})

	_, err := r.Get("x")
	assert.ErrorContains(t, err, "failed to create adapter for project x")
	assert.Empty(t, r.Projects())
}

func TestRegistry_DisconnectAllAndRemove(t *testing.T) {
	root := testutils.NewCatalogDir(t)
	var transports []*loopback
	r := NewRegistry(func(project string) (*Adapter, error) {
		lb := &loopback{d: dispatcher.New(dispatcher.NewFileBackend(root))}
		transports = append(transports, lb)
		return New(Options{
			Project: project,
			Dial:    func(context.Context) (transport.Transport, error) { return lb, nil },
		}), nil
	})
	ctx := context.Background()

	for _, p := range []string{"a", "b"} {
		a, err := r.Get(p)
		require.NoError(t, err)
		require.NoError(t, a.Connect(ctx))
	}

	require.NoError(t, r.DisconnectAll())
	for _, lb := range transports {
		assert.Equal(t, 1, lb.closed)
	}

	require.NoError(t, r.Remove("a"))
	assert.Equal(t, []string{"b"}, r.Projects())
	assert.Error(t, r.Remove("a"))
}
