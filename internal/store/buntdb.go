package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tidwall/buntdb"
)

// BuntStore implements Store on an embedded buntdb file. Use ":memory:" for
// a throwaway database.
type BuntStore struct {
	db     *buntdb.DB
	logger hclog.Logger
}

// buntUser keeps the password hash, which User hides from JSON.
type buntUser struct {
	User
	Password string `json:"password"`
}

func NewBuntStore(path string, logger hclog.Logger) (*BuntStore, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb %s: %w", path, err)
	}
	s := &BuntStore{db: db, logger: logger.Named("store")}
	s.logger.Info("database opened", "type", "buntdb", "path", path)
	return s, nil
}

func userKey(id string) string { return "user:" + id }

func emailKey(email string) string { return "email:" + email }

func roomKey(id string) string { return "room:" + id }

func codeKey(code string) string { return "code:" + strings.ToUpper(code) }

func participantKey(roomID, userID string) string {
	return "participant:" + roomID + ":" + userID
}

func messageKey(m *Message) string {
	return fmt.Sprintf("message:%s:%020d:%s", m.RoomID, m.CreatedAt.UnixNano(), m.ID)
}

func detectionKey(d *SignDetection) string {
	return "detection:" + d.RoomID + ":" + d.ID
}

func notFound(err error) error {
	if errors.Is(err, buntdb.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func setJSON(tx *buntdb.Tx, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _, err = tx.Set(key, string(b), nil)
	return err
}

func getJSON(tx *buntdb.Tx, key string, v any) error {
	val, err := tx.Get(key)
	if err != nil {
		return notFound(err)
	}
	return json.Unmarshal([]byte(val), v)
}

func readUser(tx *buntdb.Tx, id string) (*User, error) {
	var w buntUser
	if err := getJSON(tx, userKey(id), &w); err != nil {
		return nil, err
	}
	u := w.User
	u.Password = w.Password
	return &u, nil
}

func (s *BuntStore) CreateUser(_ context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	return s.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(emailKey(user.Email)); err == nil {
			return ErrDuplicate
		} else if !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		if _, _, err := tx.Set(emailKey(user.Email), user.ID, nil); err != nil {
			return err
		}
		return setJSON(tx, userKey(user.ID), buntUser{User: *user, Password: user.Password})
	})
}

func (s *BuntStore) UserByID(_ context.Context, id string) (*User, error) {
	var user *User
	err := s.db.View(func(tx *buntdb.Tx) error {
		var err error
		user, err = readUser(tx, id)
		return err
	})
	return user, err
}

func (s *BuntStore) UserByEmail(_ context.Context, email string) (*User, error) {
	var user *User
	email = strings.ToLower(strings.TrimSpace(email))
	err := s.db.View(func(tx *buntdb.Tx) error {
		id, err := tx.Get(emailKey(email))
		if err != nil {
			return notFound(err)
		}
		user, err = readUser(tx, id)
		return err
	})
	return user, err
}

func (s *BuntStore) UpdateUser(_ context.Context, id string, update ProfileUpdate) (*User, error) {
	var user *User
	err := s.db.Update(func(tx *buntdb.Tx) error {
		var err error
		user, err = readUser(tx, id)
		if err != nil {
			return err
		}
		if update.FirstName != nil {
			user.FirstName = *update.FirstName
		}
		if update.LastName != nil {
			user.LastName = *update.LastName
		}
		if update.Avatar != nil {
			user.Avatar = *update.Avatar
		}
		user.UpdatedAt = time.Now()
		return setJSON(tx, userKey(id), buntUser{User: *user, Password: user.Password})
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func stampRoom(room *Room) {
	now := time.Now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now
}

func (s *BuntStore) CreateRoom(_ context.Context, room *Room) error {
	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	stampRoom(room)
	return s.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(roomKey(room.ID)); err == nil {
			return ErrDuplicate
		}
		if room.Code != "" {
			if _, _, err := tx.Set(codeKey(room.Code), room.ID, nil); err != nil {
				return err
			}
		}
		return setJSON(tx, roomKey(room.ID), room)
	})
}

func (s *BuntStore) EnsureRoom(_ context.Context, room *Room) (bool, error) {
	created := false
	err := s.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(roomKey(room.ID)); err == nil {
			return nil
		} else if !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		stampRoom(room)
		created = true
		return setJSON(tx, roomKey(room.ID), room)
	})
	return created, err
}

func (s *BuntStore) GetRoom(_ context.Context, id string) (*Room, error) {
	var room Room
	err := s.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, roomKey(id), &room)
	})
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *BuntStore) RoomByCode(ctx context.Context, code string) (*Room, error) {
	var id string
	err := s.db.View(func(tx *buntdb.Tx) error {
		var err error
		id, err = tx.Get(codeKey(code))
		return notFound(err)
	})
	if err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, id)
}

func (s *BuntStore) DeleteRoom(_ context.Context, id string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		var room Room
		if err := getJSON(tx, roomKey(id), &room); err != nil {
			return err
		}
		if _, err := tx.Delete(roomKey(id)); err != nil {
			return notFound(err)
		}
		if room.Code != "" {
			if _, err := tx.Delete(codeKey(room.Code)); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
				return err
			}
		}
		// buntdb forbids mutation while iterating
		var keys []string
		for _, prefix := range []string{"participant:", "message:", "detection:"} {
			err := tx.AscendKeys(prefix+id+":*", func(key, _ string) bool {
				keys = append(keys, key)
				return true
			})
			if err != nil {
				return err
			}
		}
		for _, key := range keys {
			if _, err := tx.Delete(key); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
				return err
			}
		}
		return nil
	})
}

func (s *BuntStore) AddParticipant(_ context.Context, roomID, userID string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		key := participantKey(roomID, userID)
		if _, err := tx.Get(key); err == nil {
			return nil
		}
		return setJSON(tx, key, RoomParticipant{RoomID: roomID, UserID: userID, JoinedAt: time.Now()})
	})
}

func (s *BuntStore) RoomsForUser(_ context.Context, userID string, limit int) ([]Room, error) {
	rooms := make([]Room, 0)
	err := s.db.View(func(tx *buntdb.Tx) error {
		var roomIDs []string
		err := tx.AscendKeys("participant:*:"+userID, func(_, val string) bool {
			var p RoomParticipant
			if json.Unmarshal([]byte(val), &p) == nil && p.UserID == userID {
				roomIDs = append(roomIDs, p.RoomID)
			}
			return true
		})
		if err != nil {
			return err
		}
		for _, id := range roomIDs {
			var room Room
			if err := getJSON(tx, roomKey(id), &room); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			rooms = append(rooms, room)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.After(rooms[j].CreatedAt) })
	if limit > 0 && len(rooms) > limit {
		rooms = rooms[:limit]
	}
	return rooms, nil
}

func (s *BuntStore) RoomParticipants(_ context.Context, roomID string) ([]RoomParticipant, error) {
	out := make([]RoomParticipant, 0)
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("participant:"+roomID+":*", func(_, val string) bool {
			var p RoomParticipant
			if json.Unmarshal([]byte(val), &p) == nil && p.RoomID == roomID {
				out = append(out, p)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (s *BuntStore) CreateMessage(_ context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = sequentialID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, messageKey(msg), msg)
	})
}

func (s *BuntStore) RoomMessages(_ context.Context, roomID string) ([]Message, error) {
	messages := make([]Message, 0)
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("message:"+roomID+":*", func(key, val string) bool {
			var m Message
			if err := json.Unmarshal([]byte(val), &m); err != nil {
				s.logger.Warn("skipping unreadable message", "key", key, "error", err)
				return true
			}
			if m.RoomID == roomID {
				messages = append(messages, m)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *BuntStore) CreateDetection(_ context.Context, det *SignDetection) error {
	if det.ID == "" {
		det.ID = sequentialID()
	}
	if det.CreatedAt.IsZero() {
		det.CreatedAt = time.Now()
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, detectionKey(det), det)
	})
}

func (s *BuntStore) RoomDetections(_ context.Context, roomID string) ([]SignDetection, error) {
	out := make([]SignDetection, 0)
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("detection:"+roomID+":*", func(_, val string) bool {
			var d SignDetection
			if json.Unmarshal([]byte(val), &d) == nil {
				out = append(out, d)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *BuntStore) Close() error {
	return s.db.Close()
}
