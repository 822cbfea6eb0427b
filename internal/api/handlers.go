package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/halaqah-id/halaqah-realtime/internal/database"
	"github.com/halaqah-id/halaqah-realtime/internal/server"
	"github.com/halaqah-id/halaqah-realtime/internal/types"
)

type SessionResponse struct {
	User types.User `json:"user"`
	// HeartbeatIntervalMs is how often clients should send presence:ping.
	HeartbeatIntervalMs int64 `json:"heartbeatIntervalMs"`
	PresenceTTLMs       int64 `json:"presenceTtlMs"`
}

type PresenceListResponse struct {
	Count int                  `json:"count"`
	Users []types.PresenceUser `json:"users"`
}

type UserPresenceResponse struct {
	UserId   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen"`
}

func (a *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Printf("json encode: %v", err)
	}
}

func (a *App) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.Err != nil {
		a.log.Println(errResp.Error())
	}
	a.writeJson(w, errResp.Status, errResp)
}

func (a *App) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), a.requestTimeout)
}

// sessionUser resolves the authenticated user id to its session identity.
func (a *App) sessionUser(r *http.Request) (types.User, *ApiError) {
	userId, ok := UserId(r.Context())
	if !ok {
		return types.User{}, NewUnauthorizedError()
	}

	ctx, cancel := a.requestContext(r)
	defer cancel()

	user, err := a.db.GetUserById(ctx, userId)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return types.User{}, NewNotFoundError("user")
		}
		return types.User{}, NewInternalServerError(err)
	}

	return types.User{
		Id:       user.Id,
		Name:     user.Name,
		Role:     user.Role,
		LastSeen: user.LastSeen,
	}, nil
}

func (a *App) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		a.writeError(w, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (a *App) session(w http.ResponseWriter, r *http.Request) {
	user, errResp := a.sessionUser(r)
	if errResp != nil {
		a.writeError(w, errResp)
		return
	}

	a.writeJson(w, http.StatusOK, SessionResponse{
		User:                user,
		HeartbeatIntervalMs: a.heartbeatInterval.Milliseconds(),
		PresenceTTLMs:       a.presenceTTL.Milliseconds(),
	})
}

func (a *App) listPresence(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	users, err := a.store.OnlineUsers(ctx)
	if err != nil {
		a.writeError(w, NewPresenceUnavailableError(err))
		return
	}

	a.writeJson(w, http.StatusOK, PresenceListResponse{
		Count: len(users),
		Users: users,
	})
}

func (a *App) getPresence(w http.ResponseWriter, r *http.Request) {
	userId := r.PathValue("userId")
	if userId == "" {
		a.writeError(w, NewBadRequestError("missing user id"))
		return
	}

	ctx, cancel := a.requestContext(r)
	defer cancel()

	online, err := a.store.IsOnline(ctx, userId)
	if err != nil {
		a.writeError(w, NewPresenceUnavailableError(err))
		return
	}

	lastSeen, err := a.db.GetLastSeen(ctx, userId)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			a.writeError(w, NewNotFoundError("user"))
			return
		}
		a.writeError(w, NewInternalServerError(err))
		return
	}

	a.writeJson(w, http.StatusOK, UserPresenceResponse{
		UserId:   userId,
		Online:   online,
		LastSeen: lastSeen,
	})
}

func (a *App) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients
		return true
	}

	return slices.Contains(a.allowedOrigins, origin)
}

func (a *App) serveWs(w http.ResponseWriter, r *http.Request) {
	user, errResp := a.sessionUser(r)
	if errResp != nil {
		a.writeError(w, errResp)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: a.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Println("error upgrading connection:", err)
		return
	}

	client, err := server.NewClient(user, conn, a.cs, a.log)
	if err != nil {
		a.log.Println("new client:", err)
		conn.Close()
		return
	}

	if !a.cs.Register(client) {
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
