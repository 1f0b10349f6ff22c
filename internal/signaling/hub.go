// Package signaling is the real-time side of the service: it tracks who is in
// which room, forwards WebRTC offers, answers and ICE candidates between
// peers, and fans chat and sign-detection events out to a room.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/folkengine/goname"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	"github.com/mossy-p/signconnect/config"
	"github.com/mossy-p/signconnect/internal/models"
	"github.com/mossy-p/signconnect/internal/persistence"
	"github.com/mossy-p/signconnect/internal/store"
)

const defaultConfidence = 0.8

// Recorder receives the side effects of relay events. Calls must not block.
type Recorder interface {
	RecordJoin(roomID, userID string) bool
	RecordMessage(roomID, senderID, text string, kind store.MessageKind) bool
	RecordDetection(roomID, userID, label string, confidence float64) bool
	Submit(key, name string, fn persistence.Job) bool
}

// Presence is told about users entering and leaving rooms.
type Presence interface {
	Joined(ctx context.Context, roomID, userID string) error
	Left(ctx context.Context, roomID, userID string) error
}

type Hub struct {
	tracker   *Tracker
	recorder  Recorder
	presence  Presence
	cfg       config.RelayConfig
	logger    hclog.Logger
	validate  *validator.Validate
	guestName func() string
}

type Option func(*Hub)

func WithRecorder(r Recorder) Option { return func(h *Hub) { h.recorder = r } }

func WithPresence(p Presence) Option { return func(h *Hub) { h.presence = p } }

// WithGuestNames replaces the generator used for participants without a name.
func WithGuestNames(fn func() string) Option { return func(h *Hub) { h.guestName = fn } }

func NewHub(cfg config.RelayConfig, logger hclog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	h := &Hub{
		tracker:  NewTracker(),
		cfg:      cfg,
		logger:   logger.Named("relay"),
		validate: validator.New(),
		guestName: func() string {
			return goname.New(goname.FantasyMap).FirstLast() + " (guest)"
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Tracker() *Tracker { return h.tracker }

func (h *Hub) decode(data json.RawMessage, v any) error {
	if !models.Present(data) {
		return fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// HandleEvent processes one inbound frame from p. Only ErrMalformedEvent is
// ever returned; routing failures are dropped here.
func (h *Hub) HandleEvent(p *Participant, raw []byte) error {
	var frame models.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch frame.Event {
	case models.EventJoinRoom:
		return h.handleJoin(p, frame.Data)
	case models.EventLeaveRoom:
		return h.handleLeave(p, frame.Data)
	case models.EventOffer, models.EventAnswer, models.EventICECandidate:
		return h.handleSignal(p, frame.Event, frame.Data)
	case models.EventChatMessage:
		return h.handleChat(p, frame.Data)
	case models.EventSignDetected:
		return h.handleSign(p, frame.Data)
	default:
		return fmt.Errorf("%w: unknown event %q", ErrMalformedEvent, frame.Event)
	}
}

func (h *Hub) handleJoin(p *Participant, data json.RawMessage) error {
	var req models.JoinRoom
	if err := h.decode(data, &req); err != nil {
		return err
	}
	if req.UserID != "" && req.UserID != p.UserID {
		h.logger.Debug("ignoring client supplied user id", "conn", p.ID, "user", p.UserID, "claimed", req.UserID)
	}

	name := strings.TrimSpace(req.UserName)
	if name == "" {
		name = p.Name()
	}
	if name == "" {
		name = h.guestName()
	}
	p.setName(name)

	res := h.tracker.Join(req.RoomID, p)
	if res.Previous != nil {
		h.announceLeave(p, *res.Previous)
	}
	if res.Joined {
		frame, err := models.EncodeFrame(models.EventUserJoined, models.UserJoined{UserID: p.UserID, UserName: name})
		if err == nil {
			h.deliver(res.Others, frame, nil)
		}
	}
	h.sendTo(p, models.EventRoomJoined, models.RoomJoined{RoomID: req.RoomID, Participants: members(res.Participants)})

	if res.Joined {
		h.logger.Info("participant joined", "room", req.RoomID, "user", p.UserID, "conn", p.ID, "members", len(res.Participants))
		if h.recorder != nil {
			h.recorder.RecordJoin(req.RoomID, p.UserID)
		}
		userID, roomID := p.UserID, req.RoomID
		h.background(roomID, "presence-join", func(ctx context.Context) error {
			return h.presence.Joined(ctx, roomID, userID)
		})
	}
	return nil
}

func (h *Hub) handleLeave(p *Participant, data json.RawMessage) error {
	var req models.LeaveRoom
	if err := h.decode(data, &req); err != nil {
		return err
	}
	h.announceLeave(p, h.tracker.Leave(req.RoomID, p))
	return nil
}

func (h *Hub) handleSignal(p *Participant, event string, data json.RawMessage) error {
	var req models.Signal
	if err := h.decode(data, &req); err != nil {
		return err
	}
	payload := req.Payload(event)
	if !models.Present(payload) {
		return fmt.Errorf("%w: %s without payload", ErrMalformedEvent, event)
	}
	if p.RoomID() != req.RoomID {
		h.logger.Debug("dropping signal from non-member", "event", event, "room", req.RoomID, "user", p.UserID)
		return nil
	}

	err := h.Relay(SignalEnvelope{
		Kind:        event,
		SenderID:    p.UserID,
		SenderName:  p.Name(),
		RecipientID: req.To,
		RoomID:      req.RoomID,
		Payload:     payload,
	})
	if err != nil {
		h.logger.Debug("signal dropped", "event", event, "room", req.RoomID, "from", p.UserID, "to", req.To, "reason", err)
	}
	return nil
}

func (h *Hub) handleChat(p *Participant, data json.RawMessage) error {
	var req models.ChatMessage
	if err := h.decode(data, &req); err != nil {
		return err
	}
	if !models.Present(req.Message) {
		return fmt.Errorf("%w: chat-message without message", ErrMalformedEvent)
	}
	if p.RoomID() != req.RoomID {
		h.logger.Debug("dropping chat from non-member", "room", req.RoomID, "user", p.UserID)
		return nil
	}

	h.Broadcast(req.RoomID, models.EventChatMessage, req.Message, p)

	content, ok := chatContent(req.Message)
	if !ok || content.Text == "" || h.recorder == nil {
		return nil
	}
	kind := store.MessageText
	if content.IsSign {
		kind = store.MessageSignTranslation
	}
	h.recorder.RecordMessage(req.RoomID, p.UserID, content.Text, kind)
	return nil
}

// chatContent pulls the recordable part out of an opaque chat message, which
// clients send either as a bare string or as an object with a text field.
func chatContent(raw json.RawMessage) (models.ChatContent, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return models.ChatContent{}, false
	}
	switch m := v.(type) {
	case string:
		return models.ChatContent{Text: m}, true
	case map[string]any:
		var c models.ChatContent
		if err := mapstructure.WeakDecode(m, &c); err != nil {
			return models.ChatContent{}, false
		}
		return c, true
	}
	return models.ChatContent{}, false
}

func (h *Hub) handleSign(p *Participant, data json.RawMessage) error {
	var req models.SignDetected
	if err := h.decode(data, &req); err != nil {
		return err
	}
	if p.RoomID() != req.RoomID {
		h.logger.Debug("dropping detection from non-member", "room", req.RoomID, "user", p.UserID)
		return nil
	}

	h.Broadcast(req.RoomID, models.EventSignDetected, models.SignForward{
		Text:     req.Text,
		UserID:   p.UserID,
		UserName: p.Name(),
	}, nil)

	if h.recorder != nil {
		confidence := defaultConfidence
		if req.Confidence != nil {
			confidence = *req.Confidence
		}
		h.recorder.RecordMessage(req.RoomID, p.UserID, req.Text, store.MessageSignTranslation)
		h.recorder.RecordDetection(req.RoomID, p.UserID, req.Text, confidence)
	}
	return nil
}

// Disconnect removes p from its room, tells the room and closes p. It is
// safe to call more than once.
func (h *Hub) Disconnect(p *Participant) {
	res := h.tracker.Disconnect(p)
	p.Close()
	h.announceLeave(p, res)
	h.logger.Info("participant disconnected", "conn", p.ID, "user", p.UserID)
}

func (h *Hub) announceLeave(p *Participant, res LeaveResult) {
	if !res.Removed {
		return
	}
	frame, err := models.EncodeFrame(models.EventUserLeft, models.UserLeft{UserID: p.UserID})
	if err == nil {
		h.deliver(res.Remaining, frame, nil)
	}
	h.logger.Info("participant left", "room", res.RoomID, "user", p.UserID, "conn", p.ID, "discarded", res.Discarded)

	if HasUser(res.Remaining, p.UserID) {
		return
	}
	userID, roomID := p.UserID, res.RoomID
	h.background(roomID, "presence-leave", func(ctx context.Context) error {
		return h.presence.Left(ctx, roomID, userID)
	})
}

// background hands presence work to the recorder's queue.
func (h *Hub) background(key, name string, fn persistence.Job) {
	if h.presence == nil || h.recorder == nil {
		return
	}
	h.recorder.Submit(key, name, fn)
}

func (h *Hub) sendTo(p *Participant, event string, data any) {
	frame, err := models.EncodeFrame(event, data)
	if err != nil {
		h.logger.Error("failed to encode frame", "event", event, "error", err)
		return
	}
	if err := p.Deliver(frame); err != nil {
		h.logger.Debug("failed to send frame", "event", event, "conn", p.ID, "error", err)
	}
}

func members(ps []*Participant) []models.Member {
	out := make([]models.Member, len(ps))
	for i, p := range ps {
		out[i] = models.Member{UserID: p.UserID, UserName: p.Name()}
	}
	return out
}

// Members lists the live participants of roomID.
func (h *Hub) Members(roomID string) []models.Member {
	return members(h.tracker.Members(roomID))
}

func (h *Hub) dispatch(p *Participant, raw []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event handler panicked", "conn", p.ID, "user", p.UserID, "panic", fmt.Sprint(r))
			err = fmt.Errorf("%w: handler panic", ErrMalformedEvent)
		}
	}()
	return h.HandleEvent(p, raw)
}

func isMalformed(err error) bool {
	return errors.Is(err, ErrMalformedEvent)
}
