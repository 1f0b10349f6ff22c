package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mossy-p/signconnect/internal/models"
)

// PeerConnector is one WebRTC session with a remote participant. Descriptions
// and candidates are carried as the JSON the relay forwards untouched.
type PeerConnector interface {
	CreateOffer() (json.RawMessage, error)
	// AcceptOffer applies a remote offer and returns the local answer.
	AcceptOffer(offer json.RawMessage) (json.RawMessage, error)
	AcceptAnswer(answer json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error
	Close() error
}

// PeerFactory creates connectors. onCandidate is called for every local ICE
// candidate and may be called from any goroutine.
type PeerFactory interface {
	NewPeer(remoteID string, onCandidate func(json.RawMessage)) (PeerConnector, error)
}

// Signaler is the relay side of a mesh: Client satisfies it.
type Signaler interface {
	On(event string, h Handler)
	Emit(event string, data any) error
}

type remotePeer struct {
	conn      PeerConnector
	name      string
	remoteSet bool
	pending   []json.RawMessage
}

// Mesh keeps one peer connection per remote member of a room. Existing
// members initiate towards newcomers, so the newcomer only ever answers.
type Mesh struct {
	roomID   string
	signaler Signaler
	factory  PeerFactory
	logger   hclog.Logger

	mu    sync.Mutex
	peers map[string]*remotePeer
	// candidates that arrived before the offer that creates their peer
	early map[string][]json.RawMessage
}

func NewMesh(roomID string, s Signaler, f PeerFactory, logger hclog.Logger) *Mesh {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	m := &Mesh{
		roomID:   roomID,
		signaler: s,
		factory:  f,
		logger:   logger.Named("mesh").With("room", roomID),
		peers:    make(map[string]*remotePeer),
		early:    make(map[string][]json.RawMessage),
	}
	s.On(models.EventRoomJoined, m.handleRoomJoined)
	s.On(models.EventUserJoined, m.handleUserJoined)
	s.On(models.EventOffer, m.handleOffer)
	s.On(models.EventAnswer, m.handleAnswer)
	s.On(models.EventICECandidate, m.handleCandidate)
	s.On(models.EventUserLeft, m.handleUserLeft)
	return m
}

// Join asks the relay to put this connection into the mesh's room.
func (m *Mesh) Join(userName string) error {
	return m.signaler.Emit(models.EventJoinRoom, models.JoinRoom{RoomID: m.roomID, UserName: userName})
}

// Leave leaves the room and closes every peer connection.
func (m *Mesh) Leave() error {
	err := m.signaler.Emit(models.EventLeaveRoom, models.LeaveRoom{RoomID: m.roomID})
	m.Close()
	return err
}

// Peers lists the remote user IDs with an open connector.
func (m *Mesh) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes all peer connections without telling the relay.
func (m *Mesh) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.peers {
		if err := p.conn.Close(); err != nil {
			m.logger.Debug("failed to close peer", "peer", id, "error", err)
		}
	}
	clear(m.peers)
	clear(m.early)
}

func (m *Mesh) newPeer(remoteID, name string) (*remotePeer, error) {
	conn, err := m.factory.NewPeer(remoteID, func(candidate json.RawMessage) {
		err := m.signaler.Emit(models.EventICECandidate, models.Signal{Candidate: candidate, To: remoteID, RoomID: m.roomID})
		if err != nil {
			m.logger.Warn("failed to send candidate", "peer", remoteID, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer for %s: %w", remoteID, err)
	}
	p := &remotePeer{conn: conn, name: name}
	if old, ok := m.peers[remoteID]; ok {
		old.conn.Close()
	}
	m.peers[remoteID] = p
	return p, nil
}

// flush applies candidates held back until the remote description was set.
func (m *Mesh) flush(remoteID string, p *remotePeer) {
	p.remoteSet = true
	pending := append(m.early[remoteID], p.pending...)
	delete(m.early, remoteID)
	p.pending = nil
	for _, c := range pending {
		if err := p.conn.AddCandidate(c); err != nil {
			m.logger.Warn("failed to add candidate", "peer", remoteID, "error", err)
		}
	}
}

func (m *Mesh) handleRoomJoined(_ context.Context, data json.RawMessage) error {
	var msg models.RoomJoined
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	m.logger.Info("joined room", "participants", len(msg.Participants))
	return nil
}

func (m *Mesh) handleUserJoined(_ context.Context, data json.RawMessage) error {
	var msg models.UserJoined
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.newPeer(msg.UserID, msg.UserName)
	if err != nil {
		return err
	}
	offer, err := p.conn.CreateOffer()
	if err != nil {
		return fmt.Errorf("failed to create offer for %s: %w", msg.UserID, err)
	}
	m.logger.Debug("sending offer", "peer", msg.UserID, "name", msg.UserName)
	return m.signaler.Emit(models.EventOffer, models.Signal{Offer: offer, To: msg.UserID, RoomID: m.roomID})
}

func (m *Mesh) handleOffer(_ context.Context, data json.RawMessage) error {
	var msg models.OfferForward
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.newPeer(msg.UserID, msg.UserName)
	if err != nil {
		return err
	}
	answer, err := p.conn.AcceptOffer(msg.Offer)
	if err != nil {
		return fmt.Errorf("failed to answer %s: %w", msg.UserID, err)
	}
	m.flush(msg.UserID, p)
	m.logger.Debug("sending answer", "peer", msg.UserID)
	return m.signaler.Emit(models.EventAnswer, models.Signal{Answer: answer, To: msg.UserID, RoomID: m.roomID})
}

func (m *Mesh) handleAnswer(_ context.Context, data json.RawMessage) error {
	var msg models.AnswerForward
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[msg.UserID]
	if !ok {
		return fmt.Errorf("answer from unknown peer %s", msg.UserID)
	}
	if err := p.conn.AcceptAnswer(msg.Answer); err != nil {
		return fmt.Errorf("failed to apply answer from %s: %w", msg.UserID, err)
	}
	m.flush(msg.UserID, p)
	return nil
}

func (m *Mesh) handleCandidate(_ context.Context, data json.RawMessage) error {
	var msg models.CandidateForward
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[msg.UserID]
	switch {
	case !ok:
		m.early[msg.UserID] = append(m.early[msg.UserID], msg.Candidate)
	case !p.remoteSet:
		p.pending = append(p.pending, msg.Candidate)
	default:
		return p.conn.AddCandidate(msg.Candidate)
	}
	return nil
}

func (m *Mesh) handleUserLeft(_ context.Context, data json.RawMessage) error {
	var msg models.UserLeft
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.early, msg.UserID)
	p, ok := m.peers[msg.UserID]
	if !ok {
		return nil
	}
	delete(m.peers, msg.UserID)
	m.logger.Info("peer left", "peer", msg.UserID, "name", p.name)
	return p.conn.Close()
}
