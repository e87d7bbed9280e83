package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Skotchmaster/claims_auth/internal/errs"
	"github.com/Skotchmaster/claims_auth/internal/tokens"
)

type Config struct {
	ServiceName string
	ServerAddr  string
	LogLevel    string

	DatabaseURL string

	JWTSecret       []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ResetTokenTTL   time.Duration
	BcryptCost      int

	RevokeSessionsOnReset bool

	KafkaBrokers []string

	RedisAddr          string
	LoginMaxAttempts   int
	LoginAttemptWindow time.Duration
}

// Load reads .env when present, then the process environment. A missing
// JWT_SECRET is a configuration error; the server must not start.
func Load() (Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Notice: .env file not loaded: %v. Using system environment variables", err)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	cfg := Config{
		ServiceName: EnvDefault("SERVICE_NAME", "auth"),
		ServerAddr:  EnvDefault("SERVER_ADDR", ":8080"),
		LogLevel:    EnvDefault("LOG_LEVEL", "info"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		JWTSecret:       []byte(os.Getenv("JWT_SECRET")),
		AccessTokenTTL:  EnvDurationDefault("ACCESS_TOKEN_TTL", tokens.DefaultAccessTTL),
		RefreshTokenTTL: EnvDurationDefault("REFRESH_TOKEN_TTL", tokens.DefaultRefreshTTL),
		ResetTokenTTL:   EnvDurationDefault("RESET_TOKEN_TTL", time.Hour),
		BcryptCost:      EnvIntDefault("BCRYPT_COST", 0),

		RevokeSessionsOnReset: EnvBoolDefault("REVOKE_SESSIONS_ON_RESET", false),

		KafkaBrokers: CSV(os.Getenv("KAFKA_BROKERS")),

		RedisAddr:          os.Getenv("REDIS_ADDR"),
		LoginMaxAttempts:   EnvIntDefault("LOGIN_MAX_ATTEMPTS", 5),
		LoginAttemptWindow: EnvDurationDefault("LOGIN_ATTEMPT_WINDOW", time.Minute),
	}

	if len(cfg.JWTSecret) == 0 {
		return Config{}, errs.Misconfigured("missing required env %s", "JWT_SECRET")
	}
	return cfg, nil
}

func CSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func EnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func EnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func EnvBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func EnvDurationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
