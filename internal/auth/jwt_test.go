package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-platform/internal/config"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	require.NoError(t, err)
	return m
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m := newManager(t)

	now := time.Unix(1700000000, 0).UTC()
	pair, err := m.IssuePair(now, "user-1", "Alice")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "Alice", claims.Name)

	refresh, err := m.Verify(pair.RefreshToken, TokenTypeRefresh, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, refresh.Name)
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	p, err := m.IssuePair(time.Now(), "u", "U")
	require.NoError(t, err)
	_, err = m.Verify(p.RefreshToken, TokenTypeAccess, time.Now())
	assert.Error(t, err)
}

func TestRefresh(t *testing.T) {
	m := newManager(t)
	now := time.Unix(1700000000, 0).UTC()
	p, err := m.IssuePair(now, "user-1", "Alice")
	require.NoError(t, err)

	next, err := m.Refresh(now.Add(time.Hour), p.RefreshToken, "Alice B")
	require.NoError(t, err)
	claims, err := m.Verify(next.AccessToken, TokenTypeAccess, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "Alice B", claims.Name)

	_, err = m.Refresh(now, p.AccessToken, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := newManager(t)
	now := time.Unix(1700000000, 0).UTC()
	p, err := m.IssuePair(now, "u", "U")
	require.NoError(t, err)
	_, err = m.Verify(p.AccessToken, TokenTypeAccess, now.Add(time.Hour))
	assert.Error(t, err)
}

func TestRequireAccessToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newManager(t)
	pair, err := m.IssuePair(time.Now(), "alice", "Alice")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", RequireAccessToken(m), func(c *gin.Context) {
		uid, _ := UserID(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user_id": uid, "name": Name(c.Request.Context())})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"alice","name":"Alice"}`, w.Body.String())

	// Query tokens are only honoured on websocket upgrades.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?access_token="+pair.AccessToken, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/me?access_token="+pair.AccessToken, nil)
	req.Header.Set("Connection", "upgrade")
	req.Header.Set("Upgrade", "websocket")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
