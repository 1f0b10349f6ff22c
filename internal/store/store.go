package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mossy-p/signconnect/config"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// Store is the durable side of the service: accounts, rooms and the chat and
// sign-detection history. The relay only ever reaches it through the
// persistence bridge.
type Store interface {
	CreateUser(ctx context.Context, user *User) error
	UserByID(ctx context.Context, id string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, id string, update ProfileUpdate) (*User, error)

	CreateRoom(ctx context.Context, room *Room) error
	// EnsureRoom creates room unless a room with the same ID exists. It
	// reports whether a new record was written.
	EnsureRoom(ctx context.Context, room *Room) (bool, error)
	GetRoom(ctx context.Context, id string) (*Room, error)
	RoomByCode(ctx context.Context, code string) (*Room, error)
	DeleteRoom(ctx context.Context, id string) error
	AddParticipant(ctx context.Context, roomID, userID string) error
	RoomsForUser(ctx context.Context, userID string, limit int) ([]Room, error)
	// RoomParticipants lists everyone who ever joined roomID, earliest first.
	RoomParticipants(ctx context.Context, roomID string) ([]RoomParticipant, error)

	CreateMessage(ctx context.Context, msg *Message) error
	RoomMessages(ctx context.Context, roomID string) ([]Message, error)
	CreateDetection(ctx context.Context, det *SignDetection) error
	RoomDetections(ctx context.Context, roomID string) ([]SignDetection, error)

	Close() error
}

// Open returns the backend selected by cfg.Type.
func Open(cfg config.DatabaseConfig, logger hclog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite", "postgres":
		return NewGormStore(cfg, logger)
	case "buntdb":
		return NewBuntStore(cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

// sequentialID returns a time-ordered ID so that history rows created within
// the same clock tick still sort in insertion order.
func sequentialID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
