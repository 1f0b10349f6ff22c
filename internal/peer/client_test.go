package peer

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mossy-p/signconnect/config"
	"github.com/mossy-p/signconnect/internal/auth"
	"github.com/mossy-p/signconnect/internal/handlers"
	"github.com/mossy-p/signconnect/internal/signaling"
	"github.com/mossy-p/signconnect/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relay struct {
	url    string
	tokens *auth.TokenService
	hub    *signaling.Hub
}

func newRelay(t *testing.T) *relay {
	t.Helper()
	s, err := store.Open(config.DatabaseConfig{Type: "buntdb", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	hub := signaling.NewHub(config.RelayConfig{SendBuffer: 32, MaxMessageBytes: 64 * 1024, MalformedPerSecond: 5, MalformedBurst: 20}, nil)
	tokens := auth.NewTokenService("secret", time.Hour)

	srv := httptest.NewServer(handlers.NewRouter(handlers.Deps{
		AllowedOrigins: []string{"*"},
		Store:          s,
		Tokens:         tokens,
		Hub:            hub,
	}))
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	return &relay{url: srv.URL + "/ws", tokens: tokens, hub: hub}
}

func (r *relay) connect(t *testing.T, userID, name string) *Client {
	t.Helper()
	token, err := r.tokens.Issue(auth.Identity{UserID: userID, Name: name})
	require.NoError(t, err)
	c := NewClient(r.url, token, nil)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestMeshOverRelay(t *testing.T) {
	r := newRelay(t)

	aliceFactory := newFakeFactory()
	alice := r.connect(t, "alice", "Alice")
	aliceMesh := NewMesh("r1", alice, aliceFactory, nil)
	require.NoError(t, aliceMesh.Join(""))
	require.Eventually(t, func() bool { return len(r.hub.Tracker().Members("r1")) == 1 }, 2*time.Second, 10*time.Millisecond)

	bobFactory := newFakeFactory()
	bob := r.connect(t, "bob", "Bob")
	bobMesh := NewMesh("r1", bob, bobFactory, nil)
	require.NoError(t, bobMesh.Join(""))

	// alice offers, bob answers; alice's candidate reaches bob before the offer
	require.Eventually(t, func() bool {
		c := aliceFactory.get("bob")
		if c == nil {
			return false
		}
		remoteSet, _, _ := c.snapshot()
		return remoteSet
	}, 2*time.Second, 10*time.Millisecond)

	fromAlice := bobFactory.get("alice")
	require.NotNil(t, fromAlice)
	remoteSet, candidates, _ := fromAlice.snapshot()
	assert.True(t, remoteSet)
	assert.Equal(t, []string{"local-bob"}, candidates)
	assert.JSONEq(t, `{"type":"offer","sdp":"to-bob"}`, string(fromAlice.offer()))
	assert.Equal(t, []string{"alice"}, bobMesh.Peers())

	require.NoError(t, bob.Close())
	select {
	case <-bob.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop")
	}
	require.Eventually(t, func() bool { return len(aliceMesh.Peers()) == 0 }, 2*time.Second, 10*time.Millisecond)
	_, _, closed := aliceFactory.get("bob").snapshot()
	assert.True(t, closed)
}

func TestClientRejectedWithoutValidToken(t *testing.T) {
	r := newRelay(t)
	err := NewClient(r.url, "forged", nil).Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestClientConnectsOnce(t *testing.T) {
	r := newRelay(t)
	token, err := r.tokens.Issue(auth.Identity{UserID: "alice", Name: "Alice"})
	require.NoError(t, err)
	c := NewClient(r.url, token, nil)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, c.Connect(cancelled))

	// a failed dial leaves the client usable
	require.NoError(t, c.Connect(context.Background()))
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)

	require.NoError(t, c.Close())
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop")
	}
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)
}

func TestClientEmitBeforeConnect(t *testing.T) {
	c := NewClient("http://127.0.0.1:1/ws", "t", nil)
	assert.ErrorIs(t, c.Emit("join-room", nil), ErrNotConnected)
	assert.NoError(t, c.Close())
}
