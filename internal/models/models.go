package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ScanSession is one image-upload-to-results lifecycle.
type ScanSession struct {
	ID           string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID       *string           `gorm:"type:varchar(36);index" json:"user_id,omitempty"`
	SessionToken string            `gorm:"type:varchar(255)" json:"-"`
	Status       Status            `gorm:"type:varchar(32);index;not null" json:"status"`
	ErrorMessage string            `gorm:"type:text" json:"error,omitempty"`
	Metadata     datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt    time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ExpiresAt    time.Time         `gorm:"index" json:"expires_at"`

	DetectedBooks   []DetectedBook   `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"-"`
	Recommendations []Recommendation `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"-"`
	Feedback        []UserFeedback   `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"-"`
}

func (s *ScanSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = StatusProcessing
	}
	return nil
}

// DetectedBook is a single spine the vision model found on the shelf.
type DetectedBook struct {
	ID         string                           `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID  string                           `gorm:"type:varchar(36);index;not null" json:"session_id"`
	Ordinal    int                              `gorm:"not null" json:"-"`
	Title      string                           `gorm:"type:varchar(512);not null" json:"title"`
	Author     string                           `gorm:"type:varchar(512)" json:"author,omitempty"`
	ISBN       string                           `gorm:"type:varchar(32)" json:"isbn,omitempty"`
	Confidence float64                          `json:"confidence"`
	Position   string                           `gorm:"type:varchar(255)" json:"position,omitempty"`
	Metadata   datatypes.JSONType[BookMetadata] `json:"metadata"`
	DetectedAt time.Time                        `gorm:"autoCreateTime" json:"detected_at"`

	Recommendations []Recommendation `gorm:"foreignKey:DetectedBookID;constraint:OnDelete:SET NULL" json:"-"`
	Feedback        []UserFeedback   `gorm:"foreignKey:DetectedBookID;constraint:OnDelete:SET NULL" json:"-"`
}

func (b *DetectedBook) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// Recommendation is a ranked suggestion generated for a session.
type Recommendation struct {
	ID             string                           `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID      string                           `gorm:"type:varchar(36);not null;uniqueIndex:idx_recommendation_session_rank" json:"session_id"`
	DetectedBookID *string                          `gorm:"type:varchar(36);index" json:"detected_book_id,omitempty"`
	UserID         *string                          `gorm:"type:varchar(36);index" json:"-"`
	Title          string                           `gorm:"type:varchar(512);not null" json:"title"`
	Author         string                           `gorm:"type:varchar(512)" json:"author"`
	Score          float64                          `json:"score"`
	Reasoning      string                           `gorm:"type:text" json:"reasoning"`
	Metadata       datatypes.JSONType[BookMetadata] `json:"metadata"`
	Rank           int                              `gorm:"not null;uniqueIndex:idx_recommendation_session_rank" json:"rank"`
	CreatedAt      time.Time                        `json:"created_at"`
}

func (r *Recommendation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// UserFeedback records a correction or rating against a session or one of its books.
type UserFeedback struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID       string    `gorm:"type:varchar(36);index;not null" json:"session_id"`
	DetectedBookID  *string   `gorm:"type:varchar(36);index" json:"detected_book_id,omitempty"`
	UserID          *string   `gorm:"type:varchar(36);index" json:"user_id,omitempty"`
	FeedbackType    string    `gorm:"type:varchar(32);not null" json:"feedback_type"`
	IsCorrect       *bool     `json:"is_correct,omitempty"`
	CorrectedTitle  string    `gorm:"type:varchar(512)" json:"corrected_title,omitempty"`
	CorrectedAuthor string    `gorm:"type:varchar(512)" json:"corrected_author,omitempty"`
	Rating          *int      `json:"rating,omitempty"`
	Comments        string    `gorm:"type:text" json:"comments,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func (f *UserFeedback) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// BookMetadata is the descriptive record returned by the book-metadata service.
type BookMetadata struct {
	ISBN          string   `json:"isbn,omitempty"`
	Description   string   `json:"description,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	Publisher     string   `json:"publisher,omitempty"`
	PublishedDate string   `json:"published_date,omitempty"`
	PageCount     int      `json:"page_count,omitempty"`
	AverageRating float64  `json:"average_rating,omitempty"`
	CoverURL      string   `json:"cover_url,omitempty"`
	InfoURL       string   `json:"info_url,omitempty"`
	Source        string   `json:"source,omitempty"`
}

// IsEmpty reports whether no lookup has populated the metadata.
func (m BookMetadata) IsEmpty() bool {
	return m.Source == "" && m.ISBN == "" && m.Description == "" && len(m.Categories) == 0 &&
		m.Publisher == "" && m.PublishedDate == "" && m.PageCount == 0 && m.CoverURL == ""
}

// NormalizeTitle folds a title or author for equality checks.
func NormalizeTitle(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r > 127:
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
