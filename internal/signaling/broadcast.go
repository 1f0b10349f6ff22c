package signaling

import "github.com/mossy-p/signconnect/internal/models"

// PublishResult counts per-recipient outcomes of a broadcast.
type PublishResult struct {
	Delivered int
	Dropped   int
}

// Broadcast sends event to every member of roomID except exclude, which may
// be nil. A recipient whose queue is full or closed is skipped.
func (h *Hub) Broadcast(roomID, event string, data any, exclude *Participant) PublishResult {
	frame, err := models.EncodeFrame(event, data)
	if err != nil {
		h.logger.Error("failed to encode frame", "event", event, "room", roomID, "error", err)
		return PublishResult{}
	}
	return h.deliver(h.tracker.Members(roomID), frame, exclude)
}

func (h *Hub) deliver(recipients []*Participant, frame []byte, exclude *Participant) PublishResult {
	var res PublishResult
	for _, p := range recipients {
		if p == exclude {
			continue
		}
		if err := p.Deliver(frame); err != nil {
			res.Dropped++
			h.logger.Debug("dropped frame for recipient", "conn", p.ID, "user", p.UserID, "error", err)
			continue
		}
		res.Delivered++
	}
	return res
}
