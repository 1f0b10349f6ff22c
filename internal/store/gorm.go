package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mossy-p/signconnect/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// GormStore implements Store on sqlite or postgres.
type GormStore struct {
	db     *gorm.DB
	logger hclog.Logger
}

// NewGormStore opens the database and migrates the schema.
func NewGormStore(cfg config.DatabaseConfig, logger hclog.Logger) (*GormStore, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	var dial gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dial = postgres.Open(cfg.DSN)
	case "sqlite":
		dial = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("invalid gorm database type %q", cfg.Type)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Type == "sqlite" {
		// a single connection keeps ":memory:" databases shared and
		// serializes writers the way sqlite wants them anyway
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database instance: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	s := &GormStore{db: db, logger: logger.Named("store")}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	s.logger.Info("database opened", "type", cfg.Type)
	return s, nil
}

// Migrate brings the schema up to date.
func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(&User{}, &Room{}, &RoomParticipant{}, &Message{}, &SignDetection{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}

func (s *GormStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	// the unique index on email decides between concurrent signups
	return translate(s.db.WithContext(ctx).Create(user).Error)
}

func (s *GormStore) UserByID(ctx context.Context, id string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *GormStore) UserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *GormStore) UpdateUser(ctx context.Context, id string, update ProfileUpdate) (*User, error) {
	updates := map[string]any{}
	if update.FirstName != nil {
		updates["first_name"] = *update.FirstName
	}
	if update.LastName != nil {
		updates["last_name"] = *update.LastName
	}
	if update.Avatar != nil {
		updates["avatar"] = *update.Avatar
	}
	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrNotFound
		}
	}
	return s.UserByID(ctx, id)
}

func (s *GormStore) CreateRoom(ctx context.Context, room *Room) error {
	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	return translate(s.db.WithContext(ctx).Create(room).Error)
}

func (s *GormStore) EnsureRoom(ctx context.Context, room *Room) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(room)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) GetRoom(ctx context.Context, id string) (*Room, error) {
	var room Room
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&room).Error; err != nil {
		return nil, translate(err)
	}
	return &room, nil
}

func (s *GormStore) RoomByCode(ctx context.Context, code string) (*Room, error) {
	var room Room
	if err := s.db.WithContext(ctx).Where("code = ?", strings.ToUpper(code)).First(&room).Error; err != nil {
		return nil, translate(err)
	}
	return &room, nil
}

func (s *GormStore) DeleteRoom(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&Room{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("room_id = ?", id).Delete(&RoomParticipant{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", id).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Where("room_id = ?", id).Delete(&SignDetection{}).Error
	})
}

func (s *GormStore) AddParticipant(ctx context.Context, roomID, userID string) error {
	p := RoomParticipant{RoomID: roomID, UserID: userID, JoinedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error
}

func (s *GormStore) RoomsForUser(ctx context.Context, userID string, limit int) ([]Room, error) {
	rooms := make([]Room, 0)
	q := s.db.WithContext(ctx).
		Joins("JOIN room_participants ON room_participants.room_id = rooms.id").
		Where("room_participants.user_id = ?", userID).
		Order("rooms.created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

func (s *GormStore) RoomParticipants(ctx context.Context, roomID string) ([]RoomParticipant, error) {
	out := make([]RoomParticipant, 0)
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("joined_at ASC, user_id ASC").Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) CreateMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = sequentialID()
	}
	return s.db.WithContext(ctx).Create(msg).Error
}

func (s *GormStore) RoomMessages(ctx context.Context, roomID string) ([]Message, error) {
	messages := make([]Message, 0)
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("created_at ASC, id ASC").Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *GormStore) CreateDetection(ctx context.Context, det *SignDetection) error {
	if det.ID == "" {
		det.ID = sequentialID()
	}
	return s.db.WithContext(ctx).Create(det).Error
}

func (s *GormStore) RoomDetections(ctx context.Context, roomID string) ([]SignDetection, error) {
	out := make([]SignDetection, 0)
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("created_at ASC, id ASC").Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.logger.Info("database closed")
	return nil
}
