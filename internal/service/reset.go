package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/Skotchmaster/claims_auth/internal/errs"
	"github.com/Skotchmaster/claims_auth/internal/events"
	"github.com/Skotchmaster/claims_auth/internal/logging"
	"github.com/Skotchmaster/claims_auth/internal/metrics"
	"github.com/Skotchmaster/claims_auth/internal/repo"
)

const (
	ResetAcknowledgement = "If the email exists, a reset link has been sent"

	resetTokenBytes = 32
)

var errResetToken = errs.Invalid("invalid or expired reset token")

// newResetToken returns 256 random bits, URL-safe encoded.
func newResetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *AuthService) resetTTL() time.Duration {
	if s.ResetTTL > 0 {
		return s.ResetTTL
	}
	return DefaultResetTTL
}

// RequestReset answers the same way whether or not email belongs to a
// user. Failures after the user lookup are logged and not returned so
// they cannot reveal which addresses exist.
func (s *AuthService) RequestReset(ctx context.Context, email string) (string, error) {
	l := logging.FromContext(ctx).With("svc", "auth.request_reset")

	lim := s.limiter()
	if err := lim.Check(ctx, scopeReset, email); err != nil {
		if errors.Is(err, errs.ErrRateLimited) {
			l.Warn("reset_request_rejected", "status", 429, "reason", "too many attempts")
			return "", errResetLimited
		}
		l.Warn("rate_limit_unavailable", "error", err)
	}
	if err := lim.Fail(ctx, scopeReset, email); err != nil {
		l.Warn("rate_limit_unavailable", "error", err)
	}
	s.Metrics.ResetRequest()

	user, err := s.Repo.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Info("reset_requested")
			return ResetAcknowledgement, nil
		}
		l.Error("reset_request_failed", "status", 500, "error", err)
		return "", err
	}

	token, err := newResetToken()
	if err != nil {
		l.Error("reset_request_failed", "reason", "cannot generate token", "error", err)
		return ResetAcknowledgement, nil
	}
	if err := s.Repo.AddReset(ctx, token, user.ID, s.now().Add(s.resetTTL())); err != nil {
		l.Error("reset_request_failed", "reason", "cannot store token", "error", err)
		return ResetAcknowledgement, nil
	}

	l.Info("reset_requested")
	s.publish(ctx, l, events.Event{
		Type:       events.TypeResetRequested,
		UserID:     user.ID,
		Email:      user.Email,
		ResetToken: token,
	})
	return ResetAcknowledgement, nil
}

// Reset sets a new password using a one-time reset token. The new hash is
// computed before the token row is touched so no transaction spans the
// bcrypt call. Existing refresh tokens stay valid unless RevokeOnReset is
// set.
func (s *AuthService) Reset(ctx context.Context, token, newPassword string) error {
	l := logging.FromContext(ctx).With("svc", "auth.reset")

	if token == "" {
		l.Warn("reset_failed", "status", 400, "reason", "empty token")
		s.Metrics.Reset(metrics.ResultFailure)
		return errResetToken
	}
	if err := checkPassword(newPassword); err != nil {
		l.Warn("reset_failed", "status", 400, "reason", err.Error())
		s.Metrics.Reset(metrics.ResultFailure)
		return err
	}

	row, err := s.Repo.FindReset(ctx, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("reset_failed", "status", 400, "reason", "unknown token")
			s.Metrics.Reset(metrics.ResultFailure)
			return errResetToken
		}
		l.Error("reset_failed", "status", 500, "error", err)
		return err
	}
	if row.Used || !row.ExpiresAt.After(s.now()) {
		l.Warn("reset_failed", "status", 400, "reason", "token used or expired")
		s.Metrics.Reset(metrics.ResultFailure)
		return errResetToken
	}

	pwHash, err := s.Vault.HashPassword(newPassword)
	if err != nil {
		l.Error("reset_failed", "status", 500, "reason", "cannot hash the password", "error", err)
		return err
	}

	var revoked int64
	err = s.Repo.WithTx(ctx, func(tx *repo.GormRepo) error {
		consumed, err := tx.ConsumeReset(ctx, token, s.now())
		if err != nil {
			return err
		}
		if err := tx.UpdatePasswordHash(ctx, consumed.UserID, pwHash); err != nil {
			return err
		}
		if s.RevokeOnReset {
			revoked, err = tx.RevokeAllRefresh(ctx, consumed.UserID)
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrTokenInactive) || errors.Is(err, repo.ErrNotFound) {
			l.Warn("reset_failed", "status", 400, "reason", "token consumed concurrently or user missing")
			s.Metrics.Reset(metrics.ResultFailure)
			return errResetToken
		}
		l.Error("reset_failed", "status", 500, "error", err)
		return err
	}

	s.Metrics.Reset(metrics.ResultSuccess)
	s.Metrics.Revoked(revoked)
	l.Info("reset_successful", "user_id", row.UserID, "sessions_revoked", revoked)
	s.publish(ctx, l, events.Event{Type: events.TypePasswordReset, UserID: row.UserID})
	return nil
}
