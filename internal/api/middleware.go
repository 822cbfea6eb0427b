package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt"
)

// errorHandler turns a panicking handler into a 500 and closes the
// connection, since the response may be half written.
func (a *App) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			a.log.Printf("panic: %v (%s %s)", err, r.Method, r.URL.Path)

			w.Header().Set("Connection", "close")
			a.writeError(w, NewInternalServerError(err))
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the session token to a user id and stores it in
// the request context.
func (a *App) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		tokenString, err := tokenFromRequest(r)
		if err != nil {
			a.unauthorized(w, NewUnauthorizedError())
			return
		}

		userId, err := a.extractUserIdFromToken(tokenString)
		if err != nil {
			if tokenExpired(err) {
				a.unauthorized(w, NewSessionExpiredError())
				return
			}
			a.log.Printf("failed to extract user id from token: %v", err)
			a.unauthorized(w, NewUnauthorizedError())
			return
		}

		next(w, r.WithContext(WithUserId(r.Context(), userId)))
	}
}

func (a *App) unauthorized(w http.ResponseWriter, errResp *ApiError) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="halaqah"`)
	a.writeError(w, errResp)
}

func tokenExpired(err error) bool {
	var ve *jwt.ValidationError
	return errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0
}
