package peer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/mossy-p/signconnect/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnector struct {
	mu          sync.Mutex
	remote      string
	onCandidate func(json.RawMessage)
	remoteSet   bool
	offered     json.RawMessage
	candidates  []string
	closed      bool
}

func (c *fakeConnector) CreateOffer() (json.RawMessage, error) {
	c.onCandidate(json.RawMessage(`{"candidate":"local-` + c.remote + `"}`))
	return json.RawMessage(`{"type":"offer","sdp":"to-` + c.remote + `"}`), nil
}

func (c *fakeConnector) AcceptOffer(offer json.RawMessage) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offered = offer
	c.remoteSet = true
	return json.RawMessage(`{"type":"answer","sdp":"to-` + c.remote + `"}`), nil
}

func (c *fakeConnector) AcceptAnswer(json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteSet = true
	return nil
}

func (c *fakeConnector) AddCandidate(candidate json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.remoteSet {
		return errors.New("remote description not set")
	}
	var v struct{ Candidate string }
	if err := json.Unmarshal(candidate, &v); err != nil {
		return err
	}
	c.candidates = append(c.candidates, v.Candidate)
	return nil
}

func (c *fakeConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConnector) offer() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offered
}

func (c *fakeConnector) snapshot() (remoteSet bool, candidates []string, closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteSet, append([]string(nil), c.candidates...), c.closed
}

type fakeFactory struct {
	mu    sync.Mutex
	peers map[string]*fakeConnector
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{peers: make(map[string]*fakeConnector)}
}

func (f *fakeFactory) NewPeer(remoteID string, onCandidate func(json.RawMessage)) (PeerConnector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConnector{remote: remoteID, onCandidate: onCandidate}
	f.peers[remoteID] = c
	return c, nil
}

func (f *fakeFactory) get(remoteID string) *fakeConnector {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[remoteID]
}

type emitted struct {
	event string
	data  any
}

type fakeSignaler struct {
	mu       sync.Mutex
	handlers map[string]Handler
	sent     []emitted
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{handlers: make(map[string]Handler)}
}

func (s *fakeSignaler) On(event string, h Handler) { s.handlers[event] = h }

func (s *fakeSignaler) Emit(event string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, emitted{event, data})
	return nil
}

func (s *fakeSignaler) receive(t *testing.T, event string, data any) error {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	h, ok := s.handlers[event]
	require.True(t, ok, "no handler for %s", event)
	return h(context.Background(), raw)
}

func (s *fakeSignaler) events() []emitted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]emitted(nil), s.sent...)
}

func candidate(s string) json.RawMessage {
	return json.RawMessage(`{"candidate":"` + s + `"}`)
}

func TestMeshOffersToNewcomer(t *testing.T) {
	sig, factory := newFakeSignaler(), newFakeFactory()
	m := NewMesh("r1", sig, factory, nil)

	require.NoError(t, sig.receive(t, models.EventUserJoined, models.UserJoined{UserID: "bob", UserName: "Bob"}))
	assert.Equal(t, []string{"bob"}, m.Peers())

	sent := sig.events()
	require.Len(t, sent, 2)
	assert.Equal(t, emitted{models.EventICECandidate, models.Signal{Candidate: candidate("local-bob"), To: "bob", RoomID: "r1"}}, sent[0])
	assert.Equal(t, emitted{models.EventOffer, models.Signal{
		Offer:  json.RawMessage(`{"type":"offer","sdp":"to-bob"}`),
		To:     "bob",
		RoomID: "r1",
	}}, sent[1])
}

func TestMeshBuffersCandidatesUntilAnswer(t *testing.T) {
	sig, factory := newFakeSignaler(), newFakeFactory()
	NewMesh("r1", sig, factory, nil)

	require.NoError(t, sig.receive(t, models.EventUserJoined, models.UserJoined{UserID: "bob"}))
	require.NoError(t, sig.receive(t, models.EventICECandidate, models.CandidateForward{Candidate: candidate("c1"), UserID: "bob"}))

	bob := factory.get("bob")
	_, got, _ := bob.snapshot()
	assert.Empty(t, got)

	require.NoError(t, sig.receive(t, models.EventAnswer, models.AnswerForward{Answer: json.RawMessage(`{"type":"answer"}`), UserID: "bob"}))
	require.NoError(t, sig.receive(t, models.EventICECandidate, models.CandidateForward{Candidate: candidate("c2"), UserID: "bob"}))

	remoteSet, got, _ := bob.snapshot()
	assert.True(t, remoteSet)
	assert.Equal(t, []string{"c1", "c2"}, got)
}

func TestMeshAnswersOfferAndAppliesEarlyCandidates(t *testing.T) {
	sig, factory := newFakeSignaler(), newFakeFactory()
	m := NewMesh("r1", sig, factory, nil)

	// the candidate overtakes the offer
	require.NoError(t, sig.receive(t, models.EventICECandidate, models.CandidateForward{Candidate: candidate("early"), UserID: "alice"}))
	assert.Empty(t, m.Peers())

	offer := json.RawMessage(`{"type":"offer","sdp":"x"}`)
	require.NoError(t, sig.receive(t, models.EventOffer, models.OfferForward{Offer: offer, UserID: "alice", UserName: "Alice"}))

	alice := factory.get("alice")
	require.NotNil(t, alice)
	assert.JSONEq(t, string(offer), string(alice.offer()))
	_, got, _ := alice.snapshot()
	assert.Equal(t, []string{"early"}, got)

	sent := sig.events()
	require.Len(t, sent, 1)
	assert.Equal(t, emitted{models.EventAnswer, models.Signal{
		Answer: json.RawMessage(`{"type":"answer","sdp":"to-alice"}`),
		To:     "alice",
		RoomID: "r1",
	}}, sent[0])
}

func TestMeshRenegotiationReplacesPeer(t *testing.T) {
	sig, factory := newFakeSignaler(), newFakeFactory()
	m := NewMesh("r1", sig, factory, nil)

	offer := models.OfferForward{Offer: json.RawMessage(`{"type":"offer"}`), UserID: "alice"}
	require.NoError(t, sig.receive(t, models.EventOffer, offer))
	first := factory.get("alice")
	require.NoError(t, sig.receive(t, models.EventOffer, offer))

	_, _, closed := first.snapshot()
	assert.True(t, closed)
	assert.NotSame(t, first, factory.get("alice"))
	assert.Equal(t, []string{"alice"}, m.Peers())
}

func TestMeshUserLeftClosesPeer(t *testing.T) {
	sig, factory := newFakeSignaler(), newFakeFactory()
	m := NewMesh("r1", sig, factory, nil)

	require.NoError(t, sig.receive(t, models.EventUserJoined, models.UserJoined{UserID: "bob"}))
	require.NoError(t, sig.receive(t, models.EventUserLeft, models.UserLeft{UserID: "bob"}))

	_, _, closed := factory.get("bob").snapshot()
	assert.True(t, closed)
	assert.Empty(t, m.Peers())

	// unknown peers are ignored
	assert.NoError(t, sig.receive(t, models.EventUserLeft, models.UserLeft{UserID: "nobody"}))
}

func TestMeshAnswerFromUnknownPeer(t *testing.T) {
	sig := newFakeSignaler()
	NewMesh("r1", sig, newFakeFactory(), nil)
	err := sig.receive(t, models.EventAnswer, models.AnswerForward{Answer: json.RawMessage(`{}`), UserID: "ghost"})
	assert.Error(t, err)
}

func TestMeshJoinAndLeave(t *testing.T) {
	sig, factory := newFakeSignaler(), newFakeFactory()
	m := NewMesh("r1", sig, factory, nil)

	require.NoError(t, m.Join("Alice"))
	require.NoError(t, sig.receive(t, models.EventUserJoined, models.UserJoined{UserID: "bob"}))
	require.NoError(t, m.Leave())

	sent := sig.events()
	assert.Equal(t, emitted{models.EventJoinRoom, models.JoinRoom{RoomID: "r1", UserName: "Alice"}}, sent[0])
	assert.Equal(t, emitted{models.EventLeaveRoom, models.LeaveRoom{RoomID: "r1"}}, sent[len(sent)-1])
	_, _, closed := factory.get("bob").snapshot()
	assert.True(t, closed)
	assert.Empty(t, m.Peers())
}
