package store

import "time"

// MessageKind mirrors the message types the web client renders differently.
type MessageKind string

const (
	MessageText            MessageKind = "TEXT"
	MessageSignTranslation MessageKind = "SIGN_TRANSLATION"
)

type User struct {
	ID        string    `json:"id" gorm:"type:varchar(64);primaryKey"`
	Email     string    `json:"email" gorm:"type:varchar(255);uniqueIndex"`
	Username  string    `json:"username" gorm:"type:varchar(128)"`
	FirstName string    `json:"firstName" gorm:"type:varchar(128)"`
	LastName  string    `json:"lastName" gorm:"type:varchar(128)"`
	Avatar    string    `json:"avatar"`
	Password  string    `json:"-"`
	IsOnline  bool      `json:"isOnline"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DisplayName is what other participants see when the user joins a call.
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Username
}

// ProfileUpdate carries the fields a user may change on their own profile.
// Nil fields are left untouched.
type ProfileUpdate struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Avatar    *string `json:"avatar"`
}

type Room struct {
	ID          string    `json:"id" gorm:"type:varchar(64);primaryKey"`
	Name        string    `json:"name" gorm:"type:varchar(255)"`
	Code        string    `json:"code,omitempty" gorm:"type:varchar(16);index"`
	Description string    `json:"description"`
	CreatorID   string    `json:"creatorId" gorm:"type:varchar(64);index"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type RoomParticipant struct {
	RoomID   string    `json:"roomId" gorm:"type:varchar(64);primaryKey"`
	UserID   string    `json:"userId" gorm:"type:varchar(64);primaryKey;index"`
	JoinedAt time.Time `json:"joinedAt"`
}

type Message struct {
	ID        string      `json:"id" gorm:"type:varchar(64);primaryKey"`
	Content   string      `json:"content"`
	Type      MessageKind `json:"type" gorm:"type:varchar(32)"`
	SenderID  string      `json:"senderId" gorm:"type:varchar(64);index"`
	RoomID    string      `json:"roomId" gorm:"type:varchar(64);index"`
	CreatedAt time.Time   `json:"createdAt" gorm:"index"`
}

type SignDetection struct {
	ID          string    `json:"id" gorm:"type:varchar(64);primaryKey"`
	UserID      string    `json:"userId" gorm:"type:varchar(64);index"`
	RoomID      string    `json:"roomId" gorm:"type:varchar(64);index"`
	SignData    string    `json:"signData"`
	Translation string    `json:"translation"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"createdAt"`
}
