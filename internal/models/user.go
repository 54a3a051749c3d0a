package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type User struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	DisplayName  string    `gorm:"type:varchar(255)" json:"display_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Preferences     *UserPreferences      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	ReadingHistory  []ReadingHistoryEntry `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Sessions        []ScanSession         `gorm:"foreignKey:UserID;constraint:OnDelete:SET NULL" json:"-"`
	Recommendations []Recommendation      `gorm:"foreignKey:UserID;constraint:OnDelete:SET NULL" json:"-"`
	Feedback        []UserFeedback        `gorm:"foreignKey:UserID;constraint:OnDelete:SET NULL" json:"-"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// UserPreferences steer recommendation generation.
type UserPreferences struct {
	UserID          string                       `gorm:"type:varchar(36);primaryKey" json:"-"`
	FavoriteGenres  datatypes.JSONType[[]string] `json:"favorite_genres"`
	FavoriteAuthors datatypes.JSONType[[]string] `json:"favorite_authors"`
	ReadingGoal     string                       `gorm:"type:varchar(512)" json:"reading_goal,omitempty"`
	UpdatedAt       time.Time                    `json:"updated_at"`
}

// Reading list states.
const (
	ReadingStatusRead       = "read"
	ReadingStatusReading    = "reading"
	ReadingStatusWantToRead = "want_to_read"
)

type ReadingHistoryEntry struct {
	ID         string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID     string     `gorm:"type:varchar(36);index;not null" json:"-"`
	Title      string     `gorm:"type:varchar(512);not null" json:"title"`
	Author     string     `gorm:"type:varchar(512)" json:"author,omitempty"`
	Rating     *int       `json:"rating,omitempty"`
	Status     string     `gorm:"type:varchar(32);not null;default:read" json:"status"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}

func (e *ReadingHistoryEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = ReadingStatusRead
	}
	return nil
}
