package signaling

import (
	"sync"

	"github.com/google/uuid"
)

// Participant is one authenticated relay connection. It outlives a room
// membership but not its connection.
type Participant struct {
	ID     string
	UserID string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.RWMutex
	name   string
	roomID string
}

func NewParticipant(userID, name string, buffer int) *Participant {
	if buffer <= 0 {
		buffer = 256
	}
	return &Participant{
		ID:     uuid.New().String(),
		UserID: userID,
		name:   name,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// Deliver queues frame without blocking.
func (p *Participant) Deliver(frame []byte) error {
	select {
	case <-p.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case p.send <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Outbound is drained by the connection's write loop.
func (p *Participant) Outbound() <-chan []byte { return p.send }

// Done is closed once the participant is disconnected.
func (p *Participant) Done() <-chan struct{} { return p.done }

// Close marks the participant gone. The send channel stays open so that late
// Deliver calls never panic.
func (p *Participant) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *Participant) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

func (p *Participant) setName(name string) {
	p.mu.Lock()
	p.name = name
	p.mu.Unlock()
}

// RoomID is the room the participant is currently joined to, or "".
func (p *Participant) RoomID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.roomID
}

func (p *Participant) setRoom(roomID string) {
	p.mu.Lock()
	p.roomID = roomID
	p.mu.Unlock()
}

// clearRoom unsets the room only if it is still roomID.
func (p *Participant) clearRoom(roomID string) {
	p.mu.Lock()
	if p.roomID == roomID {
		p.roomID = ""
	}
	p.mu.Unlock()
}
