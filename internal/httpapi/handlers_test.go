package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-platform/internal/alert"
	"call-platform/internal/audit"
	"call-platform/internal/auth"
	"call-platform/internal/calls"
	"call-platform/internal/config"
	"call-platform/internal/conversation"
	"call-platform/internal/history"
	"call-platform/internal/media/mediatest"
	"call-platform/internal/presence"
	"call-platform/internal/reporting"
	"call-platform/internal/session"
	"call-platform/internal/signaling"
	"call-platform/pkg/logger"
)

type apiFixture struct {
	srv      *httptest.Server
	auth     *auth.Manager
	store    *calls.MemoryStore
	presence *presence.MemoryStore
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := calls.NewMemoryStore()
	media := mediatest.NewFactory("api")
	media.ConnectOnNegotiated = true
	hist := history.NewMemoryRepo()
	auditRepo := audit.NewMemoryRepo()
	auditSvc := audit.NewService(auditRepo)

	mgr, err := session.NewManager(session.Config{RingTimeout: 5 * time.Second}, session.Deps{
		Store:     store,
		Transport: signaling.NewMemoryTransport(),
		Media:     media.New,
		History:   history.NewRecorder(hist),
		Notifier:  conversation.NewNotifier(conversation.NewMemoryStore(), logger.Discard(), nil),
		Audit:     auditSvc,
		Log:       logger.Discard(),
	})
	require.NoError(t, err)
	watcher, err := alert.NewWatcher(store, mgr, logger.Discard(), nil)
	require.NoError(t, err)

	am, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	require.NoError(t, err)

	fx := &apiFixture{auth: am, store: store, presence: presence.NewMemoryStore()}
	h := Handlers{
		Auth:       am,
		Calls:      mgr,
		History:    history.NewRecorder(hist),
		Reports:    reporting.NewService(hist),
		Timeline:   auditSvc,
		AllowLogin: true,
	}
	ev := &Events{Store: store, Watcher: watcher, Sessions: mgr, Presence: fx.presence, PresenceInterval: time.Second}

	r := gin.New()
	r.Use(logger.Middleware(logger.Discard()))
	Register(r.Group("/v1"), r.Group("/v1", auth.RequireAccessToken(am)), h, ev)

	fx.srv = httptest.NewServer(r)
	t.Cleanup(func() {
		fx.srv.Close()
		mgr.Close()
		store.Close()
	})
	return fx
}

func (fx *apiFixture) token(t *testing.T, userID, name string) string {
	t.Helper()
	p, err := fx.auth.IssuePair(time.Now(), userID, name)
	require.NoError(t, err)
	return p.AccessToken
}

func (fx *apiFixture) do(t *testing.T, token, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, fx.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (fx *apiFixture) place(t *testing.T, token, receiver string) string {
	t.Helper()
	code, body := fx.do(t, token, http.MethodPost, "/v1/calls", gin.H{"receiver_id": receiver, "call_type": calls.CallTypeAudio})
	require.Equal(t, http.StatusCreated, code, body)
	id, _ := body["call_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func (fx *apiFixture) waitStatus(t *testing.T, callID string, want calls.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := fx.store.Get(context.Background(), callID)
		return err == nil && s.Status == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLoginAndRefresh(t *testing.T) {
	fx := newAPI(t)

	code, _ := fx.do(t, "", http.MethodPost, "/v1/auth/login", gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := fx.do(t, "", http.MethodPost, "/v1/auth/login", gin.H{"user_id": "alice", "name": "Alice"})
	require.Equal(t, http.StatusOK, code)
	access, _ := body["access_token"].(string)
	refresh, _ := body["refresh_token"].(string)
	require.NotEmpty(t, access)

	claims, err := fx.auth.Verify(access, auth.TokenTypeAccess, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Alice", claims.Name)

	code, body = fx.do(t, "", http.MethodPost, "/v1/auth/refresh", gin.H{"refresh_token": refresh, "name": "Alice"})
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["access_token"])

	code, _ = fx.do(t, "", http.MethodPost, "/v1/auth/refresh", gin.H{"refresh_token": access})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestLoginDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/login", Handlers{}.Login)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"user_id":"a"}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCallLifecycleOverHTTP(t *testing.T) {
	fx := newAPI(t)
	alice := fx.token(t, "alice", "Alice")
	bob := fx.token(t, "bob", "Bob")

	id := fx.place(t, alice, "bob")

	code, body := fx.do(t, bob, http.MethodGet, "/v1/calls/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "RINGING", body["status"])
	assert.Equal(t, "Alice", body["caller_name"])

	code, _ = fx.do(t, bob, http.MethodPost, "/v1/calls/"+id+"/answer", nil)
	require.Equal(t, http.StatusOK, code)
	fx.waitStatus(t, id, calls.StatusConnected)

	code, _ = fx.do(t, alice, http.MethodPost, "/v1/calls/"+id+"/hangup", gin.H{"duration_seconds": 42})
	require.Equal(t, http.StatusOK, code)
	fx.waitStatus(t, id, calls.StatusEnded)

	s, err := fx.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 42, s.DurationSeconds)

	require.Eventually(t, func() bool {
		code, body := fx.do(t, bob, http.MethodGet, "/v1/history?limit=10", nil)
		list, _ := body["calls"].([]any)
		return code == http.StatusOK && len(list) == 1
	}, 2*time.Second, 10*time.Millisecond)

	code, body = fx.do(t, alice, http.MethodGet, "/v1/history/summary", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["total_calls"])
	assert.EqualValues(t, 1, body["outgoing_calls"])
	assert.EqualValues(t, 1, body["completed_calls"])

	require.Eventually(t, func() bool {
		code, body := fx.do(t, alice, http.MethodGet, "/v1/calls/"+id+"/events", nil)
		evs, _ := body["events"].([]any)
		if code != http.StatusOK || len(evs) == 0 {
			return false
		}
		last, _ := evs[len(evs)-1].(map[string]any)
		return last["to_status"] == "ENDED"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRejectOverHTTP(t *testing.T) {
	fx := newAPI(t)
	alice := fx.token(t, "alice", "Alice")
	bob := fx.token(t, "bob", "Bob")

	id := fx.place(t, alice, "bob")
	code, body := fx.do(t, bob, http.MethodPost, "/v1/calls/"+id+"/reject", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "REJECTED", body["status"])

	// Hanging up a finished call is not an error.
	code, _ = fx.do(t, alice, http.MethodPost, "/v1/calls/"+id+"/hangup", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestErrorMapping(t *testing.T) {
	fx := newAPI(t)
	alice := fx.token(t, "alice", "Alice")
	carol := fx.token(t, "carol", "Carol")

	code, _ := fx.do(t, "", http.MethodGet, "/v1/history", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = fx.do(t, alice, http.MethodPost, "/v1/calls", gin.H{"receiver_id": "bob", "call_type": "fax"})
	assert.Equal(t, http.StatusBadRequest, code)

	// Call types are matched exactly.
	code, _ = fx.do(t, alice, http.MethodPost, "/v1/calls", gin.H{"receiver_id": "bob", "call_type": "audio"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = fx.do(t, alice, http.MethodPost, "/v1/calls", gin.H{"receiver_id": "alice", "call_type": "AUDIO"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = fx.do(t, alice, http.MethodGet, "/v1/calls/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)

	id := fx.place(t, alice, "bob")

	code, _ = fx.do(t, carol, http.MethodGet, "/v1/calls/"+id, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = fx.do(t, carol, http.MethodGet, "/v1/calls/"+id+"/events", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = fx.do(t, alice, http.MethodPost, "/v1/calls/"+id+"/answer", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = fx.do(t, alice, http.MethodPost, "/v1/calls/"+id+"/hangup", gin.H{"duration_seconds": -1})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = fx.do(t, alice, http.MethodGet, "/v1/history?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = fx.do(t, alice, http.MethodGet, "/v1/history/summary?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func dialEvents(t *testing.T, fx *apiFixture, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(fx.srv.URL, "http") + "/v1/calls/events?access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads events until match accepts one or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(serverEvent) bool) serverEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var ev serverEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if match(ev) {
			return ev
		}
	}
}

func TestEventStream_AlertAndAnswer(t *testing.T) {
	fx := newAPI(t)
	alice := fx.token(t, "alice", "Alice")
	bobConn := dialEvents(t, fx, fx.token(t, "bob", "Bob"))

	require.Eventually(t, func() bool {
		return fx.presence.State("bob") == presence.StateOnline
	}, 2*time.Second, 5*time.Millisecond)

	id := fx.place(t, alice, "bob")

	ev := readUntil(t, bobConn, func(ev serverEvent) bool { return ev.Event == EventIncomingCall })
	require.NotNil(t, ev.Alert)
	assert.Equal(t, id, ev.Alert.CallID)
	assert.Equal(t, "Alice", ev.Alert.CallerName)

	require.NoError(t, bobConn.WriteJSON(clientAction{Action: ActionAnswer, CallID: id}))
	readUntil(t, bobConn, func(ev serverEvent) bool {
		return ev.Event == EventCallStatus && ev.Call != nil && ev.Call.CallID == id && ev.Call.Status == calls.StatusConnected
	})

	require.NoError(t, bobConn.WriteJSON(clientAction{Action: ActionEndCall, CallID: id}))
	fx.waitStatus(t, id, calls.StatusEnded)
}

func TestEventStream_BadActionReportsError(t *testing.T) {
	fx := newAPI(t)
	conn := dialEvents(t, fx, fx.token(t, "bob", "Bob"))

	require.NoError(t, conn.WriteJSON(clientAction{Action: "dance", CallID: "c1"}))
	ev := readUntil(t, conn, func(ev serverEvent) bool { return ev.Event == EventError })
	assert.Equal(t, "c1", ev.CallID)
	assert.NotEmpty(t, ev.Error)
}

func TestEventStream_RequiresToken(t *testing.T) {
	fx := newAPI(t)
	u := "ws" + strings.TrimPrefix(fx.srv.URL, "http") + "/v1/calls/events"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
