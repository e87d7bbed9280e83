package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Skotchmaster/claims_auth/internal/models"
)

func (r *GormRepo) AddRefresh(ctx context.Context, token string, userID uint, expiresAt time.Time) error {
	row := models.RefreshToken{
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt.UTC(),
		Revoked:   false,
	}
	if err := r.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("add refresh token: %w", err)
	}
	return nil
}

func (r *GormRepo) FindRefresh(ctx context.Context, token string) (*models.RefreshToken, error) {
	var row models.RefreshToken
	if err := r.DB.WithContext(ctx).Where("token = ?", token).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

// ConsumeRefresh flips an active row to revoked with a single conditional
// update. Of several callers racing on the same token only the one whose
// update affects the row gets it back; the rest get ErrTokenInactive.
func (r *GormRepo) ConsumeRefresh(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	res := r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token = ? AND revoked = ? AND expires_at > ?", token, false, now.UTC()).
		Update("revoked", true)
	if res.Error != nil {
		return nil, fmt.Errorf("consume refresh token: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, ErrTokenInactive
	}
	return r.FindRefresh(ctx, token)
}

// RevokeRefresh is idempotent: unknown or already revoked tokens are not
// an error.
func (r *GormRepo) RevokeRefresh(ctx context.Context, token string, userID uint) error {
	err := r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token = ? AND user_id = ? AND revoked = ?", token, userID, false).
		Update("revoked", true).Error
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (r *GormRepo) RevokeAllRefresh(ctx context.Context, userID uint) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true)
	if res.Error != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}
