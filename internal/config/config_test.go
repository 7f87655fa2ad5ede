package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(env string) Config {
	c := Config{
		App:   AppConfig{Env: env, Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "calls"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
		Call:  CallConfig{ConnectGrace: -1},
	}
	return c
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	require.Error(t, c.Validate())
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig("production")
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	c.ApplyDefaults()
	require.Error(t, c.Validate(), "expected error for production without DB_SSLMODE")
}

func TestApplyDefaults_LocalDefaultsSSLModeAndCallTimings(t *testing.T) {
	c := validConfig("local")
	c.ApplyDefaults()
	require.NoError(t, c.Validate())

	assert.Equal(t, "disable", c.DB.SSLMode)
	assert.Equal(t, 30*time.Second, c.Call.RingTimeout)
	assert.Equal(t, 2*time.Second, c.Call.ProbeTimeout)
	assert.Equal(t, 5*time.Second, c.Call.ConnectGrace)
	assert.Equal(t, 3, c.Call.WriteRetries)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, c.Media.STUNURLs)
}

func TestApplyDefaults_KeepsExplicitZeroGrace(t *testing.T) {
	c := validConfig("dev")
	c.Call.ConnectGrace = 0
	c.ApplyDefaults()
	require.NoError(t, c.Validate())
	assert.Zero(t, c.Call.ConnectGrace)
}

func TestValidate_ProbeMustBeShorterThanRing(t *testing.T) {
	c := validConfig("local")
	c.Call.RingTimeout = time.Second
	c.Call.ProbeTimeout = 2 * time.Second
	c.ApplyDefaults()
	require.Error(t, c.Validate())
}

func TestValidate_RejectsBadICEServerURL(t *testing.T) {
	c := validConfig("local")
	c.Media.STUNURLs = []string{"http://example.com"}
	c.ApplyDefaults()
	require.Error(t, c.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_NAME", "calls")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CALL_RING_TIMEOUT", "45s")
	t.Setenv("CALL_CONNECT_GRACE", "0s")
	t.Setenv("MEDIA_STUN_URLS", "stun:a.example:3478, stun:b.example:3478")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, c.Call.RingTimeout)
	assert.Zero(t, c.Call.ConnectGrace)
	assert.Equal(t, []string{"stun:a.example:3478", "stun:b.example:3478"}, c.Media.STUNURLs)
	assert.Equal(t, "localhost:6379", c.RedisAddr())
}
