package models

import (
	"time"

	"github.com/mossy-p/signconnect/internal/store"
)

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	Name        string `json:"name" binding:"required,max=255"`
	Description string `json:"description" binding:"max=2000"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID string     `json:"roomId"`
	Code   string     `json:"code"` // short, shareable room code
	Room   store.Room `json:"room"`
}

// RoomDetails combines the stored room with its live state.
type RoomDetails struct {
	store.Room
	Participants []Member   `json:"participants"`
	LiveSince    *time.Time `json:"liveSince,omitempty"`
	OnlineCount  int64      `json:"onlineCount"` // across all relay instances
}

// HistoryParticipant is one member of a past room.
type HistoryParticipant struct {
	store.RoomParticipant
	User *store.User `json:"user,omitempty"`
}

// RoomHistoryEntry is a past room with its creator and everyone who joined.
type RoomHistoryEntry struct {
	store.Room
	Creator      *store.User          `json:"creator"`
	Participants []HistoryParticipant `json:"participants"`
}

type RegisterRequest struct {
	Name     string `json:"name" binding:"required,max=128"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}
