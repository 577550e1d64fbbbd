package api

import (
	"context"
	"net/http"
	"strings"

	"skillswap-backend/internal/models"
)

// contextKey is private so other packages cannot collide with it
type contextKey string

const userContextKey = contextKey("user")

// actorID returns the authenticated user, or "" when the request carries no
// token and authentication is optional
func actorID(r *http.Request) string {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok || user == nil {
		return ""
	}
	return user.ID
}

// bearerToken reads "Authorization: Bearer <token>" or, for the WebSocket
// upgrade where browsers cannot set headers, the token query parameter
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		token := r.URL.Query().Get("token")
		return token, token != ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware validates the bearer token and stores its user in the
// request context. Without AuthRequired a request may omit the token and
// then acts on behalf of nobody in particular.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		present := r.Header.Get("Authorization") != "" || r.URL.Query().Get("token") != ""
		if !present {
			if h.options.AuthRequired {
				h.respondWithError(w, http.StatusUnauthorized, kindUnauthorized, "authorization token not provided")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if h.tokenService == nil {
			h.respondWithError(w, http.StatusUnauthorized, kindUnauthorized, "tokens are not accepted by this server")
			return
		}

		tokenString, ok := bearerToken(r)
		if !ok {
			h.respondWithError(w, http.StatusUnauthorized, kindUnauthorized, "malformed authorization header")
			return
		}

		userID, err := h.tokenService.UserIDFromBearer(tokenString)
		if err != nil {
			h.respondWithError(w, http.StatusUnauthorized, kindUnauthorized, "invalid token")
			return
		}

		// the directory may have dropped the user since the token was issued
		user, err := h.userService.GetUserByID(r.Context(), userID)
		if err != nil {
			h.respondWithError(w, http.StatusUnauthorized, kindUnauthorized, "token user not found")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
