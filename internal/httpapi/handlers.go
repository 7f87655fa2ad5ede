package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"call-platform/internal/audit"
	"call-platform/internal/auth"
	"call-platform/internal/calls"
	"call-platform/internal/history"
	"call-platform/internal/reporting"
	"call-platform/internal/session"
	"call-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Calls    *session.Manager
	History  *history.Recorder
	Reports  *reporting.Service
	Timeline *audit.Service

	// AllowLogin enables the credential-free login used outside production.
	AllowLogin bool
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	Name         string `json:"name"`
}

// Login issues a JWT token pair for any user id.
//
// NOTE: real deployments put an identity provider in front of this.
func (h Handlers) Login(c *gin.Context) {
	if !h.AllowLogin {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	h.issue(c, req.UserID, req.Name)
}

// Refresh trades a refresh token for a new pair.
func (h Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(time.Now(), req.RefreshToken, req.Name)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		logger.FromGin(c).Error("token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) issue(c *gin.Context, userID, name string) {
	pair, err := h.Auth.IssuePair(time.Now(), userID, name)
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type placeCallRequest struct {
	ReceiverID string         `json:"receiver_id"`
	CallType   calls.CallType `json:"call_type"`
}

type hangUpRequest struct {
	DurationSeconds int `json:"duration_seconds"`
}

func (h Handlers) PlaceCall(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, err := h.Calls.PlaceCall(c.Request.Context(), session.Actor{ID: userID, Name: auth.Name(c.Request.Context())}, req.ReceiverID, req.CallType)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h Handlers) Answer(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	h.command(c, h.Calls.Answer(c.Request.Context(), userID, c.Param("call_id")))
}

func (h Handlers) Reject(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	h.command(c, h.Calls.Reject(c.Request.Context(), userID, c.Param("call_id")))
}

func (h Handlers) HangUp(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	var req hangUpRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	if req.DurationSeconds < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "duration_seconds must not be negative"})
		return
	}
	h.command(c, h.Calls.HangUp(c.Request.Context(), userID, c.Param("call_id"), req.DurationSeconds))
}

// command answers with the record as it stands after the command.
func (h Handlers) command(c *gin.Context, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	h.GetCall(c)
}

func (h Handlers) GetCall(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	s, err := h.Calls.Get(c.Request.Context(), userID, c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// CallEvents returns the transition timeline of a call the user took part in.
func (h Handlers) CallEvents(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	callID := c.Param("call_id")
	if _, err := h.Calls.Get(c.Request.Context(), userID, callID); err != nil {
		writeError(c, err)
		return
	}
	evs, err := h.Timeline.Timeline(c.Request.Context(), callID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

// --- History ---

func (h Handlers) ListHistory(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	recs, err := h.History.List(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": recs})
}

// Summary aggregates the user's history over [from, to). Both bounds are
// RFC 3339; to defaults to now and from to thirty days before to.
func (h Handlers) Summary(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	to := time.Now().UTC()
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
		to = t
	}
	from := to.Add(-30 * 24 * time.Hour)
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
		from = t
	}
	sum, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		UserID: userID,
		Range:  reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrInvalidArgument),
		errors.Is(err, history.ErrInvalidRecord),
		errors.Is(err, reporting.ErrInvalidRequest),
		errors.Is(err, audit.ErrInvalidEvent):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNotParticipant), errors.Is(err, session.ErrWrongRole):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case errors.Is(err, session.ErrClosed):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
