package models

import (
	"bytes"
	"encoding/json"
)

// Event names of the relay protocol.
const (
	EventJoinRoom     = "join-room"
	EventRoomJoined   = "room-joined"
	EventUserJoined   = "user-joined"
	EventLeaveRoom    = "leave-room"
	EventUserLeft     = "user-left"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
	EventChatMessage  = "chat-message"
	EventSignDetected = "sign-detected"
)

// Frame is one websocket text message: an event name and its data.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Present reports whether raw carries a value other than null.
func Present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// EncodeFrame marshals data and wraps it under event.
func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// Client to relay payloads.

type JoinRoom struct {
	RoomID   string `json:"roomId" validate:"required,max=128"`
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty" validate:"max=128"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId" validate:"required"`
}

// Signal covers offer, answer and ice-candidate; exactly the field matching
// the event is expected to be set. The relay never looks inside it.
type Signal struct {
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	To        string          `json:"to" validate:"required"`
	RoomID    string          `json:"roomId" validate:"required"`
}

// Payload returns the opaque field for the given signal event.
func (s *Signal) Payload(event string) json.RawMessage {
	switch event {
	case EventOffer:
		return s.Offer
	case EventAnswer:
		return s.Answer
	case EventICECandidate:
		return s.Candidate
	}
	return nil
}

type ChatMessage struct {
	RoomID  string          `json:"roomId" validate:"required"`
	Message json.RawMessage `json:"message"`
}

// ChatContent is the part of a chat message that gets recorded.
type ChatContent struct {
	Text   string `mapstructure:"text"`
	IsSign bool   `mapstructure:"isSign"`
	UserID string `mapstructure:"userId"`
}

type SignDetected struct {
	RoomID     string   `json:"roomId" validate:"required"`
	Text       string   `json:"text" validate:"required"`
	UserID     string   `json:"userId,omitempty"`
	Confidence *float64 `json:"confidence,omitempty" validate:"omitempty,min=0,max=1"`
}

// Relay to client payloads.

type Member struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type UserJoined = Member

type RoomJoined struct {
	RoomID       string   `json:"roomId"`
	Participants []Member `json:"participants"`
}

type UserLeft struct {
	UserID string `json:"userId"`
}

type OfferForward struct {
	Offer    json.RawMessage `json:"offer"`
	UserID   string          `json:"userId"`
	UserName string          `json:"userName"`
}

type AnswerForward struct {
	Answer json.RawMessage `json:"answer"`
	UserID string          `json:"userId"`
}

type CandidateForward struct {
	Candidate json.RawMessage `json:"candidate"`
	UserID    string          `json:"userId"`
}

type SignForward struct {
	Text     string `json:"text"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}
