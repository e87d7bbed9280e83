package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Skotchmaster/claims_auth/internal/errs"
	"github.com/Skotchmaster/claims_auth/internal/events"
	"github.com/Skotchmaster/claims_auth/internal/gate"
	"github.com/Skotchmaster/claims_auth/internal/hash"
	"github.com/Skotchmaster/claims_auth/internal/logging"
	"github.com/Skotchmaster/claims_auth/internal/metrics"
	"github.com/Skotchmaster/claims_auth/internal/models"
	"github.com/Skotchmaster/claims_auth/internal/ratelimit"
	"github.com/Skotchmaster/claims_auth/internal/repo"
	"github.com/Skotchmaster/claims_auth/internal/tokens"
)

const (
	TokenTypeBearer = "bearer"

	DefaultResetTTL = time.Hour

	passwordRule     = "required,min=6,max=72,bcrypt"
	maxPasswordBytes = 72

	scopeLogin = "login"
	scopeReset = "reset"
)

var (
	errCredentials   = errs.Unauthenticated("incorrect username or password")
	errRefresh       = errs.Unauthenticated("invalid or expired refresh token")
	errDuplicateUser = errs.Invalid("email or username already registered")
	errInvalidRole   = errs.Invalid("invalid role, must be one of: " + roleList())
	errLoginLimited  = &errs.Error{Kind: errs.ErrRateLimited, Msg: "too many login attempts, try again later"}
	errResetLimited  = &errs.Error{Kind: errs.ErrRateLimited, Msg: "too many reset requests, try again later"}
)

// AuthService is the session manager. Repo, Vault and Codec are required;
// Events, Limiter and Metrics may be left nil.
type AuthService struct {
	Repo    *repo.GormRepo
	Vault   *hash.Vault
	Codec   *tokens.Codec
	Events  events.Publisher
	Limiter ratelimit.Limiter
	Metrics *metrics.Auth

	Now           func() time.Time
	ResetTTL      time.Duration
	RevokeOnReset bool
}

func roleList() string {
	names := make([]string, len(models.Roles))
	for i, r := range models.Roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}

type RegisterInput struct {
	Email    string `json:"email"     validate:"required,email,max=255"`
	Username string `json:"username"  validate:"required,min=3,max=64"`
	Password string `json:"password"  validate:"required,min=6,max=72,bcrypt"`
	FullName string `json:"full_name" validate:"required,max=255"`
	Role     string `json:"role"`
}

type LoginResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	AccessExp    time.Time
	RefreshExp   time.Time
	Role         models.Role
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *AuthService) limiter() ratelimit.Limiter {
	if s.Limiter == nil {
		return ratelimit.Nop{}
	}
	return s.Limiter
}

func (s *AuthService) publish(ctx context.Context, l *slog.Logger, ev events.Event) {
	if s.Events == nil {
		return
	}
	ev.OccurredAt = s.now()
	if err := s.Events.PublishEvent(ctx, events.TopicFor(ev.Type), events.KeyFromID(ev.UserID), ev); err != nil {
		l.Error("publish_failed", "event", ev.Type, "error", err)
	}
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	if err := checkInput(in); err != nil {
		l.Warn("register_error", "status", 400, "reason", err.Error())
		s.Metrics.Register(metrics.ResultFailure)
		return nil, err
	}

	role := models.RolePatient
	if in.Role != "" {
		r, ok := models.ParseRole(in.Role)
		if !ok {
			l.Warn("register_error", "status", 400, "reason", "invalid role")
			s.Metrics.Register(metrics.ResultFailure)
			return nil, errInvalidRole
		}
		role = r
	}

	taken, err := s.Repo.UsernameOrEmailTaken(ctx, in.Username, in.Email)
	if err != nil {
		l.Error("register_error", "status", 500, "error", err)
		return nil, err
	}
	if taken {
		l.Warn("register_error", "status", 400, "reason", "user already exist")
		s.Metrics.Register(metrics.ResultFailure)
		return nil, errDuplicateUser
	}

	pwHash, err := s.Vault.HashPassword(in.Password)
	if err != nil {
		l.Error("register_error", "status", 500, "reason", "cannot hash the password", "error", err)
		return nil, err
	}

	user := &models.User{
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: pwHash,
		FullName:     in.FullName,
		Role:         role,
		IsActive:     true,
		IsVerified:   false,
	}
	if err := s.Repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repo.ErrUserAlreadyExist) {
			l.Warn("register_error", "status", 400, "reason", "user already exist")
			s.Metrics.Register(metrics.ResultFailure)
			return nil, errDuplicateUser
		}
		l.Error("register_error", "status", 500, "error", err)
		return nil, err
	}

	s.Metrics.Register(metrics.ResultSuccess)
	l.Info("register_successful", "user_id", user.ID, "role", user.Role)
	s.publish(ctx, l, events.Event{Type: events.TypeRegistered, UserID: user.ID, Username: user.Username, Email: user.Email})
	return user, nil
}

// Login fails with the same error for an unknown username, a wrong
// password and a disabled account.
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login", "username", username)

	if username == "" || password == "" {
		l.Warn("login_failed", "status", 401, "reason", "empty credentials")
		s.Metrics.Login(metrics.ResultFailure)
		return nil, errCredentials
	}

	lim := s.limiter()
	if err := lim.Check(ctx, scopeLogin, username); err != nil {
		if errors.Is(err, errs.ErrRateLimited) {
			l.Warn("login_failed", "status", 429, "reason", "too many attempts")
			s.Metrics.Login(metrics.ResultRateLimited)
			return nil, errLoginLimited
		}
		l.Warn("rate_limit_unavailable", "error", err)
	}

	user, err := s.Repo.UserByUsername(ctx, username)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		l.Error("login_failed", "status", 500, "error", err)
		return nil, err
	}

	var ok bool
	if user == nil {
		s.Vault.Burn(password)
	} else {
		ok = s.Vault.CheckPassword(user.PasswordHash, password) && user.IsActive
	}
	if !ok {
		reason := "invalid username or password"
		if user != nil && !user.IsActive {
			reason = "account disabled"
		}
		l.Warn("login_failed", "status", 401, "reason", reason)
		s.Metrics.Login(metrics.ResultFailure)
		if err := lim.Fail(ctx, scopeLogin, username); err != nil {
			l.Warn("rate_limit_unavailable", "error", err)
		}
		return nil, errCredentials
	}

	if err := s.Repo.TouchLastLogin(ctx, user.ID, s.now()); err != nil {
		l.Error("login_failed", "status", 500, "reason", "cannot update last login", "error", err)
		return nil, err
	}

	res, err := s.issuePair(ctx, s.Repo, user)
	if err != nil {
		l.Error("login_failed", "status", 500, "error", err)
		return nil, err
	}

	if err := lim.Reset(ctx, scopeLogin, username); err != nil {
		l.Warn("rate_limit_unavailable", "error", err)
	}
	s.Metrics.Login(metrics.ResultSuccess)
	l.Info("login_successful", "user_id", user.ID)
	s.publish(ctx, l, events.Event{Type: events.TypeLoggedIn, UserID: user.ID, Username: user.Username})
	return res, nil
}

// issuePair signs a new access/refresh pair for user and records the
// refresh token through r, which may be a transaction.
func (s *AuthService) issuePair(ctx context.Context, r *repo.GormRepo, user *models.User) (*LoginResult, error) {
	access, accessExp, err := s.Codec.IssueAccess(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.Codec.IssueRefresh(user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	if err := r.AddRefresh(ctx, refresh, user.ID, refreshExp); err != nil {
		return nil, err
	}
	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    TokenTypeBearer,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
		Role:         user.Role,
	}, nil
}

// Refresh rotates a refresh token. The ledger row decides validity: the
// token's signature is not consulted, and a token whose row is missing,
// revoked or expired is rejected. Consuming the old row and recording the
// new one happen in one transaction.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	if refreshToken == "" {
		l.Warn("refresh_rejected", "status", 401, "reason", "empty token")
		s.Metrics.Refresh(metrics.ResultFailure)
		return nil, errRefresh
	}

	var res *LoginResult
	err := s.Repo.WithTx(ctx, func(tx *repo.GormRepo) error {
		row, err := tx.ConsumeRefresh(ctx, refreshToken, s.now())
		if err != nil {
			return err
		}
		user, err := tx.UserByID(ctx, row.UserID)
		if err != nil {
			return err
		}
		if !user.IsActive {
			return repo.ErrTokenInactive
		}
		res, err = s.issuePair(ctx, tx, user)
		return err
	})
	if err != nil {
		if errors.Is(err, repo.ErrTokenInactive) || errors.Is(err, repo.ErrNotFound) {
			l.Warn("refresh_rejected", "status", 401, "reason", "token revoked, expired, unknown or user inactive")
			s.Metrics.Refresh(metrics.ResultFailure)
			return nil, errRefresh
		}
		l.Error("refresh_failed", "status", 500, "error", err)
		return nil, err
	}

	s.Metrics.Refresh(metrics.ResultSuccess)
	l.Info("refresh_successful")
	return res, nil
}

// LogOut revokes refreshToken when it belongs to id. Unknown and already
// revoked tokens are not an error.
func (s *AuthService) LogOut(ctx context.Context, refreshToken string, id gate.Identity) error {
	l := logging.FromContext(ctx).With("svc", "auth.logout", "user_id", id.UserID)

	if refreshToken != "" {
		if err := s.Repo.RevokeRefresh(ctx, refreshToken, id.UserID); err != nil {
			l.Error("logout_failed", "status", 500, "reason", "cannot revoke refreshToken", "error", err)
			return err
		}
	}

	s.Metrics.Logout()
	l.Info("successful_logout")
	s.publish(ctx, l, events.Event{Type: events.TypeLoggedOut, UserID: id.UserID, Username: id.Username})
	return nil
}

// CurrentIdentity resolves an "Authorization: Bearer <token>" value for
// collaborators such as the claims workflow.
func (s *AuthService) CurrentIdentity(bearer string) (gate.Identity, error) {
	return gate.New(s.Codec).Authenticate(bearer)
}

func (s *AuthService) Me(ctx context.Context, id gate.Identity) (*models.User, error) {
	user, err := s.Repo.UserByID(ctx, id.UserID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			logging.FromContext(ctx).Error("me_failed", "status", 500, "user_id", id.UserID, "error", err)
		}
		return nil, err
	}
	return user, nil
}

// RevokeSessions revokes every active refresh token of userID. Only admins
// may call it.
func (s *AuthService) RevokeSessions(ctx context.Context, actor gate.Identity, userID uint) (int64, error) {
	l := logging.FromContext(ctx).With("svc", "auth.revoke_sessions", "actor_id", actor.UserID, "user_id", userID)

	if _, err := gate.RequireRole(models.RoleAdmin).Require(actor); err != nil {
		l.Warn("revoke_sessions_denied", "status", 403)
		return 0, err
	}
	if _, err := s.Repo.UserByID(ctx, userID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			l.Error("revoke_sessions_failed", "status", 500, "error", err)
		}
		return 0, err
	}

	n, err := s.Repo.RevokeAllRefresh(ctx, userID)
	if err != nil {
		l.Error("revoke_sessions_failed", "status", 500, "error", err)
		return 0, err
	}

	s.Metrics.Revoked(n)
	l.Info("sessions_revoked", "count", n)
	s.publish(ctx, l, events.Event{Type: events.TypeSessionsRevoked, UserID: userID})
	return n, nil
}
