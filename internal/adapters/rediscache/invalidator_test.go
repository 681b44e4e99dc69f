package rediscache

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pteroca-com/pluginhost/internal/adapters/logging"
	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
)

func newServer(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestInvalidator_Invalidate(t *testing.T) {
	t.Parallel()

	mr, client := newServer(t)
	for i := 0; i < 1200; i++ {
		require.NoError(t, mr.Set(fmt.Sprintf("%sroutes:%d", DefaultPrefix, i), "x"))
	}
	require.NoError(t, mr.Set("session:abc", "keep"))

	inv := NewWithClient(client, "", logging.NewNopLogger())
	require.NoError(t, inv.Invalidate(context.Background(), &plugin.Plugin{Name: "hello"}))

	assert.Equal(t, []string{"session:abc"}, mr.Keys())
}

func TestInvalidator_CustomPrefix(t *testing.T) {
	t.Parallel()

	mr, client := newServer(t)
	require.NoError(t, mr.Set("panel:routes", "x"))
	require.NoError(t, mr.Set(DefaultPrefix+"routes", "y"))

	inv := NewWithClient(client, "panel:", nil)
	require.NoError(t, inv.Invalidate(context.Background(), nil))

	assert.False(t, mr.Exists("panel:routes"))
	assert.True(t, mr.Exists(DefaultPrefix+"routes"))
}

func TestInvalidator_EmptyKeyspace(t *testing.T) {
	t.Parallel()

	_, client := newServer(t)
	inv := NewWithClient(client, "", nil)
	assert.NoError(t, inv.Invalidate(context.Background(), &plugin.Plugin{Name: "hello"}))
}

func TestInvalidator_ServerDown(t *testing.T) {
	t.Parallel()

	mr, client := newServer(t)
	mr.Close()

	inv := NewWithClient(client, "", nil)
	assert.Error(t, inv.Invalidate(context.Background(), &plugin.Plugin{Name: "hello"}))
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{}, nil)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	inv, err := New(context.Background(), Config{Addr: mr.Addr(), Prefix: "p:"}, nil)
	require.NoError(t, err)
	assert.NoError(t, inv.Close())
}
