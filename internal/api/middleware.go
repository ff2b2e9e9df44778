package api

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/hollowtree/bookreader-go-server/internal/auth"
	"github.com/hollowtree/bookreader-go-server/internal/db"
)

type contextKey string

const UserIDKey contextKey = "userID"

type Middleware struct {
	DB *db.DB
}

func (m *Middleware) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			JSONError(w, "Access denied. No token provided.", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			JSONError(w, "Invalid authorization header", http.StatusUnauthorized)
			return
		}

		claims, err := auth.ValidateToken(parts[1])
		if err != nil {
			JSONError(w, "Invalid token", http.StatusForbidden)
			return
		}

		// Verify user exists; a valid token can outlive a wiped registry.
		exists, err := m.DB.UserExists(claims.UserID)
		if err != nil {
			log.Printf("AuthMiddleware: DB error checking user %s: %v", claims.UserID, err)
			JSONError(w, "Database error", http.StatusInternalServerError)
			return
		}
		if !exists {
			JSONError(w, "User not found", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetUserID(r *http.Request) (string, bool) {
	userID, ok := r.Context().Value(UserIDKey).(string)
	return userID, ok
}
