package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/halaqah-id/halaqah-realtime/internal/database"
	"github.com/halaqah-id/halaqah-realtime/internal/testutil"
	"github.com/halaqah-id/halaqah-realtime/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func authedRequest(t *testing.T, method, target, userId string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer "+sessionToken(t, userId))
	return req
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v))
	return v
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockRepository{}
			db.On("Ping", mock.Anything).Return(tc.mockErr).Once()
			defer db.AssertExpectations(t)

			app := &App{log: testutil.TestLogger(t), db: db, requestTimeout: time.Second}
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			app.healthCheck(rr, req)

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func TestApp_session(t *testing.T) {
	db, _ := newTestRepository(aisyah)
	app, _ := newTestApp(t, db)

	tcases := []struct {
		name   string
		userId string
		code   int
	}{
		{name: "known user", userId: "u1", code: http.StatusOK},
		{name: "unknown user", userId: "u404", code: http.StatusNotFound},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			app.Handler().ServeHTTP(rr, authedRequest(t, http.MethodGet, "/api/auth/session", tc.userId))

			assert.Equal(t, tc.code, rr.Code)
			if tc.code != http.StatusOK {
				errResp := decodeBody[ApiError](t, rr)
				assert.Equal(t, tc.code, errResp.Status)
				assert.Equal(t, codeNotFound, errResp.Code)
				return
			}

			resp := decodeBody[SessionResponse](t, rr)
			assert.Equal(t, types.User{Id: "u1", Name: "Aisyah", Role: types.RoleMember}, resp.User)
			assert.Equal(t, int64(10000), resp.HeartbeatIntervalMs)
			assert.Equal(t, int64(60000), resp.PresenceTTLMs)
		})
	}

	t.Run("unauthenticated", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestApp_listPresence(t *testing.T) {
	db, _ := newTestRepository(aisyah)
	app, store := newTestApp(t, db)
	ctx := context.Background()

	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, authedRequest(t, http.MethodGet, "/api/presence", "u1"))
	require.Equal(t, http.StatusOK, rr.Code)
	empty := decodeBody[PresenceListResponse](t, rr)
	assert.Equal(t, 0, empty.Count)
	assert.Empty(t, empty.Users)

	_, err := store.AddConnection(ctx, types.PresenceUser{UserId: "u2", Name: "Bilal", Role: types.RoleMentor}, "c1")
	require.NoError(t, err)
	_, err = store.AddConnection(ctx, types.PresenceUser{UserId: "u3", Name: "Yusuf", Role: types.RoleAdmin}, "c2")
	require.NoError(t, err)

	rr = httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, authedRequest(t, http.MethodGet, "/api/presence", "u1"))
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeBody[PresenceListResponse](t, rr)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, []string{"u2", "u3"}, []string{resp.Users[0].UserId, resp.Users[1].UserId})
}

func TestApp_getPresence(t *testing.T) {
	seen := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	db, _ := newTestRepository(aisyah)
	db.On("GetLastSeen", mock.Anything, "u2").Return(&seen, nil)
	db.On("GetLastSeen", mock.Anything, "u3").Return(nil, nil)
	db.On("GetLastSeen", mock.Anything, "u404").Return(nil, database.ErrUserNotFound)
	app, store := newTestApp(t, db)

	_, err := store.AddConnection(context.Background(), types.PresenceUser{UserId: "u3", Name: "Yusuf"}, "c1")
	require.NoError(t, err)

	tcases := []struct {
		name     string
		userId   string
		code     int
		online   bool
		lastSeen *time.Time
	}{
		{name: "offline with last seen", userId: "u2", code: http.StatusOK, lastSeen: &seen},
		{name: "online never seen", userId: "u3", code: http.StatusOK, online: true},
		{name: "unknown user", userId: "u404", code: http.StatusNotFound},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			app.Handler().ServeHTTP(rr, authedRequest(t, http.MethodGet, "/api/presence/"+tc.userId, "u1"))

			require.Equal(t, tc.code, rr.Code)
			if tc.code != http.StatusOK {
				return
			}

			resp := decodeBody[UserPresenceResponse](t, rr)
			assert.Equal(t, tc.userId, resp.UserId)
			assert.Equal(t, tc.online, resp.Online)
			if tc.lastSeen == nil {
				assert.Nil(t, resp.LastSeen)
			} else {
				require.NotNil(t, resp.LastSeen)
				assert.True(t, tc.lastSeen.Equal(*resp.LastSeen))
			}
		})
	}
}

func TestApp_serveWs(t *testing.T) {
	db, _ := newTestRepository(aisyah)
	app, _ := newTestApp(t, db)
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	tcases := []struct {
		name   string
		userId string
		origin string
		code   int
	}{
		{name: "no origin", userId: "u1", code: http.StatusSwitchingProtocols},
		{name: "allowed origin", userId: "u1", origin: "http://localhost:3000", code: http.StatusSwitchingProtocols},
		{name: "foreign origin", userId: "u1", origin: "http://evil.example", code: http.StatusForbidden},
		{name: "unknown user", userId: "u404", code: http.StatusNotFound},
		{name: "no session", code: http.StatusUnauthorized},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			header := http.Header{}
			if tc.userId != "" {
				header.Set("Authorization", "Bearer "+sessionToken(t, tc.userId))
			}
			if tc.origin != "" {
				header.Set("Origin", tc.origin)
			}

			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
			require.NotNil(t, resp)
			assert.Equal(t, tc.code, resp.StatusCode)
			if tc.code != http.StatusSwitchingProtocols {
				assert.ErrorIs(t, err, websocket.ErrBadHandshake)
				return
			}
			require.NoError(t, err)
			conn.Close()
		})
	}
}
