package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Skotchmaster/claims_auth/internal/errs"
	"github.com/Skotchmaster/claims_auth/internal/events"
	"github.com/Skotchmaster/claims_auth/internal/gate"
	"github.com/Skotchmaster/claims_auth/internal/hash"
	"github.com/Skotchmaster/claims_auth/internal/metrics"
	"github.com/Skotchmaster/claims_auth/internal/models"
	"github.com/Skotchmaster/claims_auth/internal/ratelimit"
	"github.com/Skotchmaster/claims_auth/internal/repo"
	"github.com/Skotchmaster/claims_auth/internal/testdb"
	"github.com/Skotchmaster/claims_auth/internal/tokens"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
	topics []string
}

func (r *recorder) PublishEvent(_ context.Context, topic, _ string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev, ok := event.(events.Event); ok {
		r.events = append(r.events, ev)
		r.topics = append(r.topics, topic)
	}
	return nil
}

func (r *recorder) topicsOf(typ string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for i, ev := range r.events {
		if ev.Type == typ {
			out = append(out, r.topics[i])
		}
	}
	return out
}

func (r *recorder) ofType(typ string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	svc   *AuthService
	clock *clock
	rec   *recorder
	codec *tokens.Codec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec, err := tokens.NewCodec([]byte("test-secret"), 0, 0)
	require.NoError(t, err)
	codec = codec.WithClock(clk.Now)

	vault, err := hash.NewVault(bcrypt.MinCost)
	require.NoError(t, err)

	rec := &recorder{}
	return &fixture{
		svc: &AuthService{
			Repo:    repo.New(testdb.Open(t)),
			Vault:   vault,
			Codec:   codec,
			Events:  rec,
			Metrics: metrics.New(prometheus.NewRegistry()),
			Now:     clk.Now,
		},
		clock: clk,
		rec:   rec,
		codec: codec,
	}
}

func (f *fixture) register(t *testing.T, username, email, password string, role models.Role) *models.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    email,
		Username: username,
		Password: password,
		FullName: "Test " + username,
		Role:     string(role),
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) seedAdmin(t *testing.T) *models.User {
	t.Helper()
	return f.register(t, "admin", "admin@healthcare.com", "secret", models.RoleAdmin)
}

func TestAuthService_Register(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Register(ctx, RegisterInput{
		Email:    "pat@example.com",
		Username: "pat",
		Password: "secret",
		FullName: "Pat Patient",
	})
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	assert.Equal(t, models.RolePatient, u.Role)
	assert.True(t, u.IsActive)
	assert.False(t, u.IsVerified)
	assert.NotEqual(t, "secret", u.PasswordHash)
	assert.True(t, f.svc.Vault.CheckPassword(u.PasswordHash, "secret"))

	reg := f.rec.ofType(events.TypeRegistered)
	require.Len(t, reg, 1)
	assert.Equal(t, u.ID, reg[0].UserID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.svc.Metrics.Registrations.WithLabelValues(metrics.ResultSuccess)))
	assert.Equal(t, []string{events.TopicUserEvents}, f.rec.topicsOf(events.TypeRegistered))
}

func TestAuthService_Register_MultiBytePassword(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pw := strings.Repeat("é", 36)
	require.Len(t, pw, 72)

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    "multi@example.com",
		Username: "multi",
		Password: pw,
		FullName: "Multi Byte",
	})
	require.NoError(t, err)

	_, err = f.svc.Login(context.Background(), "multi", pw)
	assert.NoError(t, err)
}

func TestAuthService_Register_Rejects(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.register(t, "taken", "taken@example.com", "secret", models.RoleHospital)

	valid := RegisterInput{Email: "new@example.com", Username: "newuser", Password: "secret", FullName: "New User"}

	tests := []struct {
		name    string
		mutate  func(in *RegisterInput)
		message string
	}{
		{name: "duplicate username", mutate: func(in *RegisterInput) { in.Username = "taken" }, message: "email or username already registered"},
		{name: "duplicate email", mutate: func(in *RegisterInput) { in.Email = "taken@example.com" }, message: "email or username already registered"},
		{name: "unknown role", mutate: func(in *RegisterInput) { in.Role = "superuser" }, message: "invalid role, must be one of: patient, hospital, insurer, admin"},
		{name: "bad email", mutate: func(in *RegisterInput) { in.Email = "not-an-email" }, message: "field 'email' must be a valid email address"},
		{name: "empty username", mutate: func(in *RegisterInput) { in.Username = "" }, message: "field 'username' is required"},
		{name: "empty password", mutate: func(in *RegisterInput) { in.Password = "" }, message: "field 'password' is required"},
		{name: "empty full name", mutate: func(in *RegisterInput) { in.FullName = "" }, message: "field 'full_name' is required"},
		{name: "short password", mutate: func(in *RegisterInput) { in.Password = "abc" }},
		{name: "password over 72 bytes", mutate: func(in *RegisterInput) { in.Password = strings.Repeat("é", 40) }, message: "field 'password' must be at most 72 bytes long"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)

			u, err := f.svc.Register(context.Background(), in)
			require.Error(t, err)
			assert.Nil(t, u)
			assert.ErrorIs(t, err, errs.ErrValidation)
			if tt.message != "" {
				assert.Equal(t, tt.message, err.Error())
			}
		})
	}
}

func TestAuthService_Login(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	admin := f.seedAdmin(t)

	res, err := f.svc.Login(ctx, "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, TokenTypeBearer, res.TokenType)
	assert.Equal(t, models.RoleAdmin, res.Role)
	assert.NotEqual(t, res.AccessToken, res.RefreshToken)

	access, err := f.codec.ParseAndVerify(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, tokens.TypeAccess, access.Type)
	assert.Equal(t, "admin", access.Subject)
	assert.Equal(t, admin.ID, access.UserID)
	assert.Equal(t, models.RoleAdmin, access.Role)
	assert.WithinDuration(t, f.clock.Now().Add(15*time.Minute), access.ExpiresAt.Time, time.Second)

	refresh, err := f.codec.ParseAndVerify(res.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, tokens.TypeRefresh, refresh.Type)
	assert.WithinDuration(t, f.clock.Now().Add(7*24*time.Hour), refresh.ExpiresAt.Time, time.Second)

	row, err := f.svc.Repo.FindRefresh(ctx, res.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, res.RefreshToken, row.Token)
	assert.Equal(t, admin.ID, row.UserID)
	assert.False(t, row.Revoked)

	user, err := f.svc.Repo.UserByID(ctx, admin.ID)
	require.NoError(t, err)
	require.NotNil(t, user.LastLogin)
	assert.WithinDuration(t, f.clock.Now(), *user.LastLogin, time.Second)

	assert.Len(t, f.rec.ofType(events.TypeLoggedIn), 1)
}

func TestAuthService_Login_UniformFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.seedAdmin(t)

	disabled := f.register(t, "disabled", "disabled@example.com", "secret", models.RolePatient)
	require.NoError(t, f.svc.Repo.DB.Model(&models.User{}).Where("id = ?", disabled.ID).Update("is_active", false).Error)

	tests := []struct {
		name     string
		username string
		password string
	}{
		{name: "unknown user", username: "nobody", password: "secret"},
		{name: "wrong password", username: "admin", password: "wrong-password"},
		{name: "inactive user", username: "disabled", password: "secret"},
		{name: "empty username", username: "", password: "secret"},
		{name: "empty password", username: "admin", password: ""},
	}

	var messages []string
	for _, tt := range tests {
		res, err := f.svc.Login(ctx, tt.username, tt.password)
		require.Error(t, err, tt.name)
		assert.Nil(t, res, tt.name)
		assert.ErrorIs(t, err, errs.ErrAuthentication, tt.name)
		messages = append(messages, err.Error())
	}
	for _, m := range messages {
		assert.Equal(t, messages[0], m)
	}
	assert.Equal(t, float64(len(tests)), testutil.ToFloat64(f.svc.Metrics.Logins.WithLabelValues(metrics.ResultFailure)))
}

func TestAuthService_Login_RateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.seedAdmin(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f.svc.Limiter = ratelimit.NewRedis(client, 2, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := f.svc.Login(ctx, "admin", "wrong-password")
		require.ErrorIs(t, err, errs.ErrAuthentication)
	}

	_, err := f.svc.Login(ctx, "admin", "secret")
	require.ErrorIs(t, err, errs.ErrRateLimited)

	mr.FastForward(2 * time.Minute)
	res, err := f.svc.Login(ctx, "admin", "secret")
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
}

func TestAuthService_Refresh_RotationAndReplay(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.seedAdmin(t)

	first, err := f.svc.Login(ctx, "admin", "secret")
	require.NoError(t, err)

	second, err := f.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	_, err = f.codec.ParseAndVerify(second.AccessToken)
	require.NoError(t, err)

	old, err := f.svc.Repo.FindRefresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.True(t, old.Revoked)

	_, err = f.svc.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, errs.ErrAuthentication)

	third, err := f.svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
	_, err = f.svc.Refresh(ctx, second.RefreshToken)
	require.ErrorIs(t, err, errs.ErrAuthentication)

	_, err = f.svc.Refresh(ctx, third.RefreshToken)
	require.NoError(t, err)
}

func TestAuthService_Refresh_Rejects(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	admin := f.seedAdmin(t)

	t.Run("empty", func(t *testing.T) {
		_, err := f.svc.Refresh(ctx, "")
		assert.ErrorIs(t, err, errs.ErrAuthentication)
	})

	t.Run("signed but never recorded", func(t *testing.T) {
		forged, _, err := f.codec.IssueRefresh(admin.ID, admin.Username)
		require.NoError(t, err)
		_, err = f.svc.Refresh(ctx, forged)
		assert.ErrorIs(t, err, errs.ErrAuthentication)
	})

	t.Run("expired row", func(t *testing.T) {
		res, err := f.svc.Login(ctx, "admin", "secret")
		require.NoError(t, err)

		f.clock.Advance(8 * 24 * time.Hour)
		defer f.clock.Advance(-8 * 24 * time.Hour)

		_, err = f.svc.Refresh(ctx, res.RefreshToken)
		assert.ErrorIs(t, err, errs.ErrAuthentication)
	})

	t.Run("inactive user", func(t *testing.T) {
		u := f.register(t, "leaver", "leaver@example.com", "secret", models.RoleInsurer)
		res, err := f.svc.Login(ctx, "leaver", "secret")
		require.NoError(t, err)

		require.NoError(t, f.svc.Repo.DB.Model(&models.User{}).Where("id = ?", u.ID).Update("is_active", false).Error)

		_, err = f.svc.Refresh(ctx, res.RefreshToken)
		assert.ErrorIs(t, err, errs.ErrAuthentication)
	})
}

func TestAuthService_Refresh_LedgerIsAuthoritative(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	admin := f.seedAdmin(t)

	require.NoError(t, f.svc.Repo.AddRefresh(ctx, "opaque-ledger-token", admin.ID, f.clock.Now().Add(time.Hour)))

	res, err := f.svc.Refresh(ctx, "opaque-ledger-token")
	require.NoError(t, err)
	assert.NotEmpty(t, res.RefreshToken)
}

func TestAuthService_Refresh_Concurrent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.seedAdmin(t)

	login, err := f.svc.Login(ctx, "admin", "secret")
	require.NoError(t, err)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []*LoginResult
		failures int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := f.svc.Refresh(ctx, login.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, res)
				return
			}
			assert.ErrorIs(t, err, errs.ErrAuthentication)
			failures++
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, workers-1, failures)

	var active int64
	require.NoError(t, f.svc.Repo.DB.Model(&models.RefreshToken{}).Where("revoked = ?", false).Count(&active).Error)
	assert.EqualValues(t, 1, active)
}

func TestAuthService_LogOut(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	admin := f.seedAdmin(t)
	other := f.register(t, "nurse", "nurse@example.com", "secret", models.RoleHospital)

	adminSession, err := f.svc.Login(ctx, "admin", "secret")
	require.NoError(t, err)
	nurseSession, err := f.svc.Login(ctx, "nurse", "secret")
	require.NoError(t, err)

	adminID := gate.Identity{UserID: admin.ID, Username: admin.Username, Role: admin.Role}
	nurseID := gate.Identity{UserID: other.ID, Username: other.Username, Role: other.Role}

	require.NoError(t, f.svc.LogOut(ctx, adminSession.RefreshToken, nurseID))
	row, err := f.svc.Repo.FindRefresh(ctx, adminSession.RefreshToken)
	require.NoError(t, err)
	assert.False(t, row.Revoked, "a user cannot revoke someone else's token")

	require.NoError(t, f.svc.LogOut(ctx, adminSession.RefreshToken, adminID))
	row, err = f.svc.Repo.FindRefresh(ctx, adminSession.RefreshToken)
	require.NoError(t, err)
	assert.True(t, row.Revoked)

	require.NoError(t, f.svc.LogOut(ctx, adminSession.RefreshToken, adminID))
	require.NoError(t, f.svc.LogOut(ctx, "unknown-token", adminID))
	require.NoError(t, f.svc.LogOut(ctx, "", adminID))

	_, err = f.svc.Refresh(ctx, adminSession.RefreshToken)
	assert.ErrorIs(t, err, errs.ErrAuthentication)
	_, err = f.svc.Refresh(ctx, nurseSession.RefreshToken)
	assert.NoError(t, err)
}

func TestAuthService_CurrentIdentity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	admin := f.seedAdmin(t)

	res, err := f.svc.Login(ctx, "admin", "secret")
	require.NoError(t, err)

	id, err := f.svc.CurrentIdentity("Bearer " + res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, gate.Identity{UserID: admin.ID, Username: "admin", Role: models.RoleAdmin}, id)

	_, err = f.svc.CurrentIdentity("Bearer " + res.RefreshToken)
	assert.ErrorIs(t, err, errs.ErrAuthentication)

	_, err = f.svc.CurrentIdentity(res.AccessToken)
	assert.ErrorIs(t, err, errs.ErrAuthentication)

	f.clock.Advance(16 * time.Minute)
	_, err = f.svc.CurrentIdentity("Bearer " + res.AccessToken)
	assert.ErrorIs(t, err, errs.ErrAuthentication)
}

func TestAuthService_Me(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	admin := f.seedAdmin(t)

	u, err := f.svc.Me(ctx, gate.Identity{UserID: admin.ID})
	require.NoError(t, err)
	assert.Equal(t, "admin@healthcare.com", u.Email)
	assert.Equal(t, "Test admin", u.FullName)

	_, err = f.svc.Me(ctx, gate.Identity{UserID: 9999})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestAuthService_RevokeSessions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	admin := f.seedAdmin(t)
	patient := f.register(t, "pat", "pat@example.com", "secret", models.RolePatient)

	s1, err := f.svc.Login(ctx, "pat", "secret")
	require.NoError(t, err)
	s2, err := f.svc.Login(ctx, "pat", "secret")
	require.NoError(t, err)

	patientID := gate.Identity{UserID: patient.ID, Username: "pat", Role: models.RolePatient}
	_, err = f.svc.RevokeSessions(ctx, patientID, patient.ID)
	require.ErrorIs(t, err, errs.ErrAuthorization)
	assert.Equal(t, "requires admin role", err.Error())

	adminID := gate.Identity{UserID: admin.ID, Username: "admin", Role: models.RoleAdmin}
	n, err := f.svc.RevokeSessions(ctx, adminID, patient.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, tok := range []string{s1.RefreshToken, s2.RefreshToken} {
		_, err = f.svc.Refresh(ctx, tok)
		assert.ErrorIs(t, err, errs.ErrAuthentication)
	}

	_, err = f.svc.RevokeSessions(ctx, adminID, 9999)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.svc.Metrics.Revocations))
}
