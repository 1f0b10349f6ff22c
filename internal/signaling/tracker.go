package signaling

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Tracker holds live room membership. A room is tracked exactly while it has
// at least one participant.
//
// The registry lock only guards the rooms map. Membership changes take the
// room's own lock, so rooms never contend with each other. Lock order is
// room then registry; the registry lock is never held while acquiring a room.
type Tracker struct {
	mu    sync.Mutex
	rooms map[string]*room
	seq   atomic.Uint64
}

type room struct {
	id        string
	createdAt time.Time

	mu      sync.Mutex
	members map[string]member // by connection ID
	// set once the last member left; a closed room is never reused
	closed bool
}

type member struct {
	p   *Participant
	seq uint64
}

// JoinResult describes the room right after a join.
type JoinResult struct {
	RoomID string
	// Participants is the full membership in join order, the joiner included.
	Participants []*Participant
	// Others are the members to tell about the joiner.
	Others []*Participant
	// Joined is false when the participant was already in the room.
	Joined bool
	// Previous is set when the join implicitly left another room.
	Previous *LeaveResult
}

type LeaveResult struct {
	RoomID string
	// Remaining are the members left behind, to be told about the departure.
	Remaining []*Participant
	// Removed is false when the participant was not in the room.
	Removed bool
	// Discarded is true when the room became empty and was dropped.
	Discarded bool
}

func NewTracker() *Tracker {
	return &Tracker{rooms: make(map[string]*room)}
}

func (t *Tracker) getOrCreate(roomID string) *room {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[roomID]
	if !ok {
		r = &room{id: roomID, createdAt: time.Now(), members: make(map[string]member)}
		t.rooms[roomID] = r
	}
	return r
}

func (t *Tracker) lookup(roomID string) *room {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rooms[roomID]
}

// sorted returns members in join order. Caller holds r.mu.
func (r *room) sorted() []*Participant {
	ms := make([]member, 0, len(r.members))
	for _, m := range r.members {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].seq < ms[j].seq })
	out := make([]*Participant, len(ms))
	for i, m := range ms {
		out[i] = m.p
	}
	return out
}

func without(ps []*Participant, p *Participant) []*Participant {
	out := make([]*Participant, 0, len(ps))
	for _, q := range ps {
		if q != p {
			out = append(out, q)
		}
	}
	return out
}

// Join registers p in roomID. Joining the current room again changes nothing;
// joining a different room leaves the old one first.
func (t *Tracker) Join(roomID string, p *Participant) JoinResult {
	var res JoinResult
	if current := p.RoomID(); current != "" && current != roomID {
		left := t.Leave(current, p)
		res.Previous = &left
	}

	for {
		r := t.getOrCreate(roomID)
		r.mu.Lock()
		if r.closed {
			// lost a race with the last leaver; the registry no longer
			// holds this room
			r.mu.Unlock()
			continue
		}
		if _, ok := r.members[p.ID]; !ok {
			r.members[p.ID] = member{p: p, seq: t.seq.Add(1)}
			p.setRoom(roomID)
			res.Joined = true
		}
		res.RoomID = roomID
		res.Participants = r.sorted()
		res.Others = without(res.Participants, p)
		r.mu.Unlock()
		return res
	}
}

// Leave removes p from roomID and discards the room when it empties.
func (t *Tracker) Leave(roomID string, p *Participant) LeaveResult {
	res := LeaveResult{RoomID: roomID}
	r := t.lookup(roomID)
	if r == nil {
		return res
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[p.ID]; !ok {
		return res
	}
	delete(r.members, p.ID)
	p.clearRoom(roomID)
	res.Removed = true
	res.Remaining = r.sorted()

	if len(r.members) == 0 {
		r.closed = true
		res.Discarded = true
		t.mu.Lock()
		if t.rooms[roomID] == r {
			delete(t.rooms, roomID)
		}
		t.mu.Unlock()
	}
	return res
}

// Disconnect is Leave for whatever room p is in.
func (t *Tracker) Disconnect(p *Participant) LeaveResult {
	roomID := p.RoomID()
	if roomID == "" {
		return LeaveResult{}
	}
	return t.Leave(roomID, p)
}

// Lookup finds the connection of userID in roomID. With several connections
// of the same user the most recent join wins.
func (t *Tracker) Lookup(roomID, userID string) (*Participant, bool) {
	r := t.lookup(roomID)
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var found member
	for _, m := range r.members {
		if m.p.UserID == userID && m.seq > found.seq {
			found = m
		}
	}
	return found.p, found.p != nil
}

// Members returns the participants of roomID in join order.
func (t *Tracker) Members(roomID string) []*Participant {
	r := t.lookup(roomID)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted()
}

// RoomState is a point-in-time view of a live room.
type RoomState struct {
	ID           string
	CreatedAt    time.Time
	Participants []*Participant
}

// State reports the live room roomID, if any.
func (t *Tracker) State(roomID string) (RoomState, bool) {
	r := t.lookup(roomID)
	if r == nil {
		return RoomState{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return RoomState{}, false
	}
	return RoomState{ID: r.id, CreatedAt: r.createdAt, Participants: r.sorted()}, true
}

// Contains reports whether p is tracked in roomID.
func (t *Tracker) Contains(roomID string, p *Participant) bool {
	r := t.lookup(roomID)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[p.ID]
	return ok
}

// Rooms returns the number of live rooms.
func (t *Tracker) Rooms() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}

// Snapshot maps every live room to the user IDs in it.
func (t *Tracker) Snapshot() map[string][]string {
	t.mu.Lock()
	rooms := make([]*room, 0, len(t.rooms))
	for _, r := range t.rooms {
		rooms = append(rooms, r)
	}
	t.mu.Unlock()

	out := make(map[string][]string, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		if !r.closed {
			ids := make([]string, 0, len(r.members))
			for _, p := range r.sorted() {
				ids = append(ids, p.UserID)
			}
			out[r.id] = ids
		}
		r.mu.Unlock()
	}
	return out
}

// HasUser reports whether any connection of userID remains in ps.
func HasUser(ps []*Participant, userID string) bool {
	for _, p := range ps {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
