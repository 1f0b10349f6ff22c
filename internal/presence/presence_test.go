package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mossy-p/signconnect/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMirror(t *testing.T) (*Mirror, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	m := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil)
	t.Cleanup(func() { m.Close() })
	return m, mr
}

func TestJoinedLeftCount(t *testing.T) {
	m, mr := newMirror(t)
	ctx := context.Background()

	require.NoError(t, m.Joined(ctx, "r1", "alice"))
	require.NoError(t, m.Joined(ctx, "r1", "bob"))
	require.NoError(t, m.Joined(ctx, "r1", "bob"))

	n, err := m.Count(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, peersTTL, mr.TTL("room:r1:peers"))

	require.NoError(t, m.Left(ctx, "r1", "alice"))
	members, err := m.Members(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, members)

	require.NoError(t, m.Left(ctx, "r1", "bob"))
	assert.False(t, mr.Exists("room:r1:peers"))

	n, err = m.Count(ctx, "unknown")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRefreshRenewsTTL(t *testing.T) {
	m, mr := newMirror(t)
	ctx := context.Background()

	require.NoError(t, m.Joined(ctx, "r1", "alice"))
	mr.FastForward(23 * time.Hour)

	require.NoError(t, m.Refresh(ctx, map[string][]string{"r1": {"alice", "carol"}, "empty": nil}))
	assert.Equal(t, peersTTL, mr.TTL("room:r1:peers"))
	assert.False(t, mr.Exists("room:empty:peers"))

	members, err := m.Members(ctx, "r1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "carol"}, members)

	require.NoError(t, m.Remove(ctx, "r1"))
	assert.False(t, mr.Exists("room:r1:peers"))
}

func TestStartRefresh(t *testing.T) {
	m, mr := newMirror(t)

	var mu sync.Mutex
	calls := 0
	r, err := m.StartRefresh("@every 1s", time.Second, func() map[string][]string {
		mu.Lock()
		calls++
		mu.Unlock()
		return map[string][]string{"r1": {"alice"}}
	})
	require.NoError(t, err)
	defer r.Stop()

	require.Eventually(t, func() bool { return mr.Exists("room:r1:peers") }, 5*time.Second, 50*time.Millisecond)
	mu.Lock()
	assert.GreaterOrEqual(t, calls, 1)
	mu.Unlock()
}

func TestStartRefreshRejectsBadSpec(t *testing.T) {
	m, _ := newMirror(t)
	_, err := m.StartRefresh("not a schedule", time.Second, func() map[string][]string { return nil })
	assert.Error(t, err)
}

func TestConnectFailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Connect(ctx, config.RedisConfig{Host: "127.0.0.1", Port: "1"}, nil)
	assert.Error(t, err)
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	m, err := Connect(context.Background(), config.RedisConfig{Host: mr.Host(), Port: mr.Port()}, nil)
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.Joined(context.Background(), "r1", "alice"))
	assert.True(t, mr.Exists("room:r1:peers"))
}
