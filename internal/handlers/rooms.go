package handlers

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mossy-p/signconnect/internal/middleware"
	"github.com/mossy-p/signconnect/internal/models"
	"github.com/mossy-p/signconnect/internal/signaling"
	"github.com/mossy-p/signconnect/internal/store"
)

const (
	roomCodeLength = 6
	historyLimit   = 20
	codeChars      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

// Occupancy reports and clears cross-instance presence.
type Occupancy interface {
	Count(ctx context.Context, roomID string) (int64, error)
	Remove(ctx context.Context, roomID string) error
}

// RoomCache is told when a room is deleted.
type RoomCache interface {
	Forget(roomID string)
}

type RoomHandlers struct {
	Store     store.Store
	Hub       *signaling.Hub
	Occupancy Occupancy // nil when the presence mirror is disabled
	Cache     RoomCache
	Logger    hclog.Logger
}

// CreateRoom creates a new room owned by the caller
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	userID := middleware.UserID(c)

	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room := &store.Room{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Code:        generateRoomCode(),
		CreatorID:   userID,
	}
	ctx := c.Request.Context()
	if err := h.Store.CreateRoom(ctx, room); err != nil {
		h.Logger.Error("failed to store room", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}
	if err := h.Store.AddParticipant(ctx, room.ID, userID); err != nil {
		h.Logger.Error("failed to add room creator", "room", room.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	h.Logger.Info("room created", "room", room.ID, "code", room.Code, "user", userID)
	c.JSON(http.StatusCreated, models.CreateRoomResponse{RoomID: room.ID, Code: room.Code, Room: *room})
}

// RoomHistory lists the rooms the caller took part in, newest first, with
// their creator and participants
func (h *RoomHandlers) RoomHistory(c *gin.Context) {
	ctx := c.Request.Context()
	rooms, err := h.Store.RoomsForUser(ctx, middleware.UserID(c), historyLimit)
	if err != nil {
		h.Logger.Error("failed to load room history", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load rooms"})
		return
	}

	users := map[string]*store.User{}
	lookup := func(id string) (*store.User, error) {
		if u, ok := users[id]; ok {
			return u, nil
		}
		u, err := h.Store.UserByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			// guests and deleted accounts have no record
			u, err = nil, nil
		}
		if err != nil {
			return nil, err
		}
		users[id] = u
		return u, nil
	}

	history := make([]models.RoomHistoryEntry, 0, len(rooms))
	for _, room := range rooms {
		entry := models.RoomHistoryEntry{Room: room, Participants: []models.HistoryParticipant{}}
		if entry.Creator, err = lookup(room.CreatorID); err != nil {
			h.Logger.Error("failed to load room creator", "room", room.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load rooms"})
			return
		}
		members, err := h.Store.RoomParticipants(ctx, room.ID)
		if err != nil {
			h.Logger.Error("failed to load room participants", "room", room.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load rooms"})
			return
		}
		for _, m := range members {
			u, err := lookup(m.UserID)
			if err != nil {
				h.Logger.Error("failed to load room participant", "room", room.ID, "user", m.UserID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load rooms"})
				return
			}
			entry.Participants = append(entry.Participants, models.HistoryParticipant{RoomParticipant: m, User: u})
		}
		history = append(history, entry)
	}
	c.JSON(http.StatusOK, history)
}

// findRoom resolves a room by ID or by its short code.
func (h *RoomHandlers) findRoom(ctx context.Context, identifier string) (*store.Room, error) {
	if len(identifier) == roomCodeLength {
		if room, err := h.Store.RoomByCode(ctx, identifier); err == nil {
			return room, nil
		}
	}
	return h.Store.GetRoom(ctx, identifier)
}

func (h *RoomHandlers) roomOr404(c *gin.Context) (*store.Room, bool) {
	room, err := h.findRoom(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		} else {
			h.Logger.Error("failed to load room", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		}
		return nil, false
	}
	return room, true
}

// GetRoom gets room information by code or ID, with who is in it right now
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	room, ok := h.roomOr404(c)
	if !ok {
		return
	}

	details := models.RoomDetails{Room: *room, Participants: []models.Member{}}
	if state, live := h.Hub.Tracker().State(room.ID); live {
		details.Participants = h.Hub.Members(room.ID)
		since := state.CreatedAt
		details.LiveSince = &since
	}
	details.OnlineCount = int64(len(details.Participants))
	if h.Occupancy != nil {
		count, err := h.Occupancy.Count(c.Request.Context(), room.ID)
		if err != nil {
			h.Logger.Warn("failed to read presence", "room", room.ID, "error", err)
		} else if count > details.OnlineCount {
			details.OnlineCount = count
		}
	}
	c.JSON(http.StatusOK, details)
}

// RoomMessages returns the chat history of a room, oldest first
func (h *RoomHandlers) RoomMessages(c *gin.Context) {
	room, ok := h.roomOr404(c)
	if !ok {
		return
	}
	messages, err := h.Store.RoomMessages(c.Request.Context(), room.ID)
	if err != nil {
		h.Logger.Error("failed to load messages", "room", room.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, messages)
}

// DeleteRoom deletes a room (creator only)
func (h *RoomHandlers) DeleteRoom(c *gin.Context) {
	userID := middleware.UserID(c)
	room, ok := h.roomOr404(c)
	if !ok {
		return
	}

	if room.CreatorID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
		return
	}

	ctx := c.Request.Context()
	if err := h.Store.DeleteRoom(ctx, room.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.Logger.Error("failed to delete room", "room", room.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
		return
	}
	if h.Cache != nil {
		h.Cache.Forget(room.ID)
	}
	if h.Occupancy != nil {
		if err := h.Occupancy.Remove(ctx, room.ID); err != nil {
			h.Logger.Warn("failed to clear presence", "room", room.ID, "error", err)
		}
	}

	h.Logger.Info("room deleted", "room", room.ID, "user", userID)
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

// generateRoomCode generates a random room code
func generateRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}
