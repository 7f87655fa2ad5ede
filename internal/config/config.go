package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Call     CallConfig
	Presence PresenceConfig
	Media    MediaConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// CallConfig tunes the call session lifecycle.
type CallConfig struct {
	// RingTimeout bounds how long a call may stay RINGING before it is MISSED.
	RingTimeout time.Duration
	// ProbeTimeout bounds the presence check done before placing a call.
	ProbeTimeout time.Duration
	// ConnectGrace is the fallback delay after negotiation starts before the call
	// is treated as CONNECTED when the engine never reports connectivity.
	// Zero disables the fallback.
	ConnectGrace time.Duration
	// SweepInterval is how often stale RINGING sessions are reconciled.
	SweepInterval time.Duration
	// WriteRetries bounds mid-call session store write attempts.
	WriteRetries int
	// SignalTTL is the lifetime of call-scoped signaling keys.
	SignalTTL time.Duration
}

type PresenceConfig struct {
	TTL time.Duration
}

type MediaConfig struct {
	STUNURLs []string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Call.RingTimeout = mustDuration("CALL_RING_TIMEOUT")
	c.Call.ProbeTimeout = mustDuration("CALL_PROBE_TIMEOUT")
	c.Call.SweepInterval = mustDuration("CALL_SWEEP_INTERVAL")
	c.Call.SignalTTL = mustDuration("CALL_SIGNAL_TTL")
	if v, ok := os.LookupEnv("CALL_CONNECT_GRACE"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("CALL_CONNECT_GRACE must be a duration, got %q", v))
		}
		c.Call.ConnectGrace = d
	} else {
		c.Call.ConnectGrace = -1
	}
	if v := strings.TrimSpace(os.Getenv("CALL_WRITE_RETRIES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("CALL_WRITE_RETRIES must be an integer, got %q", v))
		}
		c.Call.WriteRetries = n
	}

	c.Presence.TTL = mustDuration("PRESENCE_TTL")
	c.Media.STUNURLs = splitList(os.Getenv("MEDIA_STUN_URLS"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ApplyDefaults fills optional values. A negative ConnectGrace means "unset".
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.DB.SSLMode) == "" && !c.IsProduction() {
		// Local-friendly default; production must be explicit.
		c.DB.SSLMode = "disable"
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Call.RingTimeout <= 0 {
		c.Call.RingTimeout = 30 * time.Second
	}
	if c.Call.ProbeTimeout <= 0 {
		c.Call.ProbeTimeout = 2 * time.Second
	}
	if c.Call.ConnectGrace < 0 {
		c.Call.ConnectGrace = 5 * time.Second
	}
	if c.Call.SweepInterval <= 0 {
		c.Call.SweepInterval = 15 * time.Second
	}
	if c.Call.WriteRetries <= 0 {
		c.Call.WriteRetries = 3
	}
	if c.Call.SignalTTL <= 0 {
		c.Call.SignalTTL = 10 * time.Minute
	}
	if c.Presence.TTL <= 0 {
		c.Presence.TTL = 30 * time.Second
	}
	if len(c.Media.STUNURLs) == 0 {
		c.Media.STUNURLs = []string{"stun:stun.l.google.com:19302"}
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	} else if !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Call.RingTimeout <= 0 {
		errs = append(errs, errors.New("CALL_RING_TIMEOUT must be positive"))
	}
	if c.Call.ProbeTimeout <= 0 || c.Call.ProbeTimeout >= c.Call.RingTimeout {
		errs = append(errs, fmt.Errorf("CALL_PROBE_TIMEOUT must be positive and shorter than the ring timeout, got %s", c.Call.ProbeTimeout))
	}
	if c.Call.ConnectGrace < 0 {
		errs = append(errs, errors.New("CALL_CONNECT_GRACE must not be negative"))
	}
	if c.Call.WriteRetries <= 0 {
		errs = append(errs, errors.New("CALL_WRITE_RETRIES must be > 0"))
	}
	if c.Presence.TTL <= 0 {
		errs = append(errs, errors.New("PRESENCE_TTL must be positive"))
	}
	for _, u := range c.Media.STUNURLs {
		if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "turn:") && !strings.HasPrefix(u, "turns:") {
			errs = append(errs, fmt.Errorf("MEDIA_STUN_URLS entry must start with stun:, turn: or turns:, got %q", u))
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
