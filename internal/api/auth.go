package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/hollowtree/bookreader-go-server/internal/auth"
	"github.com/hollowtree/bookreader-go-server/internal/db"
	"github.com/hollowtree/bookreader-go-server/internal/library"
)

type AuthHandler struct {
	DB      *db.DB
	Library *library.Library
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		JSONError(w, "Username and password are required", http.StatusBadRequest)
		return
	}
	if len(req.Username) < 3 {
		JSONError(w, "Username must be at least 3 characters", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 6 {
		JSONError(w, "Password must be at least 6 characters", http.StatusBadRequest)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		JSONError(w, "Registration failed", http.StatusInternalServerError)
		return
	}

	user, err := h.DB.CreateUser(req.Username, hash)
	if err != nil {
		if errors.Is(err, db.ErrUserExists) {
			JSONError(w, "Username already taken", http.StatusBadRequest)
			return
		}
		log.Printf("Registration error: %v", err)
		JSONError(w, "Registration failed", http.StatusInternalServerError)
		return
	}

	if err := h.Library.EnsureUserDirs(user.ID); err != nil {
		log.Printf("Failed to create library dirs for %s: %v", user.ID, err)
	}

	token, err := auth.GenerateToken(user.ID, user.Username)
	if err != nil {
		JSONError(w, "Registration failed", http.StatusInternalServerError)
		return
	}

	JSON(w, tokenResponse{Token: token, Username: user.Username, UserID: user.ID})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		JSONError(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.DB.GetUserByUsername(req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			JSONError(w, "Invalid username or password", http.StatusUnauthorized)
			return
		}
		log.Printf("Login error: %v", err)
		JSONError(w, "Login failed", http.StatusInternalServerError)
		return
	}

	match, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !match {
		JSONError(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Username)
	if err != nil {
		JSONError(w, "Login failed", http.StatusInternalServerError)
		return
	}

	JSON(w, tokenResponse{Token: token, Username: user.Username, UserID: user.ID})
}

func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := h.DB.GetUserByID(userID)
	if err != nil {
		JSONError(w, "User not found", http.StatusNotFound)
		return
	}

	JSON(w, map[string]string{"userId": user.ID, "username": user.Username})
}
