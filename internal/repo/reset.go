package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Skotchmaster/claims_auth/internal/models"
)

func (r *GormRepo) AddReset(ctx context.Context, token string, userID uint, expiresAt time.Time) error {
	row := models.PasswordResetToken{
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt.UTC(),
		Used:      false,
	}
	if err := r.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("add reset token: %w", err)
	}
	return nil
}

func (r *GormRepo) FindReset(ctx context.Context, token string) (*models.PasswordResetToken, error) {
	var row models.PasswordResetToken
	if err := r.DB.WithContext(ctx).Where("token = ?", token).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

// ConsumeReset marks an unused, unexpired reset token as used. used is
// terminal, so a second call for the same token returns ErrTokenInactive.
func (r *GormRepo) ConsumeReset(ctx context.Context, token string, now time.Time) (*models.PasswordResetToken, error) {
	res := r.DB.WithContext(ctx).Model(&models.PasswordResetToken{}).
		Where("token = ? AND used = ? AND expires_at > ?", token, false, now.UTC()).
		Update("used", true)
	if res.Error != nil {
		return nil, fmt.Errorf("consume reset token: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, ErrTokenInactive
	}
	return r.FindReset(ctx, token)
}
