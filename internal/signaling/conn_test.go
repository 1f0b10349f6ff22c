package signaling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/signconnect/internal/auth"
	"github.com/mossy-p/signconnect/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relayServer serves the hub with the identity taken from the query string.
func relayServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Serve(conn, auth.Identity{UserID: r.URL.Query().Get("user"), Name: r.URL.Query().Get("name")})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server, user, name string) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user + "&name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(event string, data any) {
	c.t.Helper()
	frame, err := models.EncodeFrame(event, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
}

func (c *wsClient) read() models.Frame {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	var f models.Frame
	require.NoError(c.t, json.Unmarshal(raw, &f))
	return f
}

func (c *wsClient) expect(event string, v any) {
	c.t.Helper()
	f := c.read()
	require.Equal(c.t, event, f.Event, string(f.Data))
	if v != nil {
		require.NoError(c.t, json.Unmarshal(f.Data, v))
	}
}

func TestTwoPeerScenario(t *testing.T) {
	h := NewHub(testRelayConfig, nil)
	srv := relayServer(t, h)

	a := dial(t, srv, "A", "Alice")
	b := dial(t, srv, "B", "Bob")

	a.send(models.EventJoinRoom, models.JoinRoom{RoomID: "r1", UserID: "A", UserName: "Alice"})
	var rj models.RoomJoined
	a.expect(models.EventRoomJoined, &rj)
	assert.Len(t, rj.Participants, 1)

	b.send(models.EventJoinRoom, models.JoinRoom{RoomID: "r1", UserID: "B", UserName: "Bob"})
	var uj models.UserJoined
	a.expect(models.EventUserJoined, &uj)
	assert.Equal(t, "B", uj.UserID)
	b.expect(models.EventRoomJoined, &rj)
	assert.Equal(t, []models.Member{{UserID: "A", UserName: "Alice"}, {UserID: "B", UserName: "Bob"}}, rj.Participants)

	// B was the newcomer, so A initiates
	a.send(models.EventOffer, models.Signal{Offer: json.RawMessage(`{"type":"offer","sdp":"o"}`), To: "B", RoomID: "r1"})
	var of models.OfferForward
	b.expect(models.EventOffer, &of)
	assert.Equal(t, "A", of.UserID)
	assert.Equal(t, "Alice", of.UserName)

	b.send(models.EventAnswer, models.Signal{Answer: json.RawMessage(`{"type":"answer","sdp":"a"}`), To: "A", RoomID: "r1"})
	var af models.AnswerForward
	a.expect(models.EventAnswer, &af)
	assert.Equal(t, "B", af.UserID)

	a.send(models.EventICECandidate, models.Signal{Candidate: json.RawMessage(`{"candidate":"c1"}`), To: "B", RoomID: "r1"})
	var cf models.CandidateForward
	b.expect(models.EventICECandidate, &cf)
	assert.JSONEq(t, `{"candidate":"c1"}`, string(cf.Candidate))

	a.send(models.EventChatMessage, models.ChatMessage{RoomID: "r1", Message: json.RawMessage(`{"text":"hi","userId":"A"}`)})
	f := b.read()
	assert.Equal(t, models.EventChatMessage, f.Event)
	assert.JSONEq(t, `{"text":"hi","userId":"A"}`, string(f.Data))

	// A's own chat never comes back: the next thing A sees is its detection echo
	a.send(models.EventSignDetected, models.SignDetected{RoomID: "r1", Text: "hello"})
	var sf models.SignForward
	a.expect(models.EventSignDetected, &sf)
	assert.Equal(t, "hello", sf.Text)
	b.expect(models.EventSignDetected, &sf)
	assert.Equal(t, "A", sf.UserID)

	require.NoError(t, a.conn.Close())
	var ul models.UserLeft
	b.expect(models.EventUserLeft, &ul)
	assert.Equal(t, "A", ul.UserID)
	require.Eventually(t, func() bool {
		ms := h.Members("r1")
		return len(ms) == 1 && ms[0].UserID == "B"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedFloodClosesConnection(t *testing.T) {
	cfg := testRelayConfig
	cfg.MalformedPerSecond = 0
	cfg.MalformedBurst = 2
	h := NewHub(cfg, nil)
	srv := relayServer(t, h)

	c := dial(t, srv, "A", "Alice")
	for i := 0; i < 2; i++ {
		require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte(`garbage`)))
	}
	// still usable after tolerated malformed events
	c.send(models.EventJoinRoom, models.JoinRoom{RoomID: "r1"})
	c.expect(models.EventRoomJoined, nil)

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte(`garbage`)))
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)

	require.Eventually(t, func() bool { return h.Tracker().Rooms() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOversizedFrameDisconnects(t *testing.T) {
	cfg := testRelayConfig
	cfg.MaxMessageBytes = 512
	h := NewHub(cfg, nil)
	srv := relayServer(t, h)

	a := dial(t, srv, "A", "Alice")
	b := dial(t, srv, "B", "Bob")
	a.send(models.EventJoinRoom, models.JoinRoom{RoomID: "r1"})
	a.expect(models.EventRoomJoined, nil)
	b.send(models.EventJoinRoom, models.JoinRoom{RoomID: "r1"})
	b.expect(models.EventRoomJoined, nil)
	a.expect(models.EventUserJoined, nil)

	b.send(models.EventChatMessage, models.ChatMessage{RoomID: "r1", Message: json.RawMessage(`"` + strings.Repeat("x", 1024) + `"`)})
	var ul models.UserLeft
	a.expect(models.EventUserLeft, &ul)
	assert.Equal(t, "B", ul.UserID)
}
