package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/lehigh-university-libraries/shelfscan/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", translate(err))
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// UpdateUser saves the profile fields of user.
func (s *Store) UpdateUser(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	res := s.db.WithContext(ctx).Model(user).Select("email", "display_name").Updates(user)
	if res.Error != nil {
		return fmt.Errorf("failed to update user: %w", translate(res.Error))
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetPreferences(ctx context.Context, userID string) (*models.UserPreferences, error) {
	var prefs models.UserPreferences
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&prefs).Error; err != nil {
		return nil, translate(err)
	}
	return &prefs, nil
}

func (s *Store) UpsertPreferences(ctx context.Context, prefs *models.UserPreferences) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(prefs).Error
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", translate(err))
	}
	return nil
}

func (s *Store) AddReadingHistory(ctx context.Context, entry *models.ReadingHistoryEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to add reading history: %w", translate(err))
	}
	return nil
}

// ListReadingHistory returns the most recent entries first.
func (s *Store) ListReadingHistory(ctx context.Context, userID string, limit int) ([]models.ReadingHistoryEntry, error) {
	entries := []models.ReadingHistoryEntry{}
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list reading history: %w", err)
	}
	return entries, nil
}

// DeleteUserData removes a user together with their sessions, history,
// preferences and feedback.
func (s *Store) DeleteUserData(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}

		for _, model := range []any{
			&models.UserFeedback{},
			&models.Recommendation{},
			&models.ScanSession{},
			&models.ReadingHistoryEntry{},
			&models.UserPreferences{},
		} {
			if err := tx.Where("user_id = ?", userID).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to delete user data: %w", err)
			}
		}
		if err := tx.Where("id = ?", userID).Delete(&models.User{}).Error; err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		return nil
	})
}
