package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/mossy-p/signconnect/internal/models"
)

// SignalEnvelope is one offer, answer or ICE candidate on its way from one
// peer to another in the same room.
type SignalEnvelope struct {
	Kind        string
	SenderID    string
	SenderName  string
	RecipientID string
	RoomID      string
	Payload     json.RawMessage
}

// Relay forwards env to the recipient's connection in env.RoomID. Signals to
// users that are not (or no longer) in the room return ErrUnroutable; a full
// or closed recipient queue returns the delivery error. Nothing is queued
// for later.
func (h *Hub) Relay(env SignalEnvelope) error {
	target, ok := h.tracker.Lookup(env.RoomID, env.RecipientID)
	if !ok || target.UserID == env.SenderID {
		return ErrUnroutable
	}

	var data any
	switch env.Kind {
	case models.EventOffer:
		data = models.OfferForward{Offer: env.Payload, UserID: env.SenderID, UserName: env.SenderName}
	case models.EventAnswer:
		data = models.AnswerForward{Answer: env.Payload, UserID: env.SenderID}
	case models.EventICECandidate:
		data = models.CandidateForward{Candidate: env.Payload, UserID: env.SenderID}
	default:
		return fmt.Errorf("%w: not a signal: %q", ErrMalformedEvent, env.Kind)
	}

	frame, err := models.EncodeFrame(env.Kind, data)
	if err != nil {
		return err
	}
	return target.Deliver(frame)
}
