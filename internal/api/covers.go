package api

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hollowtree/bookreader-go-server/internal/covers"
	"github.com/hollowtree/bookreader-go-server/internal/library"
	"github.com/hollowtree/bookreader-go-server/internal/model"
)

type CoversHandler struct {
	Library *library.Library
	Covers  *covers.Store
}

// GetCover returns the configured cover page for a book, defaulting to 1.
func (h *CoversHandler) GetCover(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	JSON(w, model.CoverSetting{PageNumber: h.Covers.Get(userID, r.PathValue("bookId"))})
}

type setCoverRequest struct {
	PageNumber int `json:"pageNumber"`
}

// SetCover records which page to use as a book's cover.
func (h *CoversHandler) SetCover(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req setCoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PageNumber < 1 {
		JSONError(w, "Valid page number is required", http.StatusBadRequest)
		return
	}

	bookID := r.PathValue("bookId")
	if _, err := h.Library.Resolve(userID, bookID); err != nil {
		writeResolveError(w, err)
		return
	}

	if err := h.Covers.Set(userID, bookID, req.PageNumber); err != nil {
		log.Printf("Error setting cover page: %v", err)
		JSONError(w, "Failed to set cover page", http.StatusInternalServerError)
		return
	}

	JSON(w, map[string]any{
		"success":    true,
		"message":    "Cover page set successfully",
		"pageNumber": req.PageNumber,
	})
}

// DeleteCover resets a book's cover page to the default.
func (h *CoversHandler) DeleteCover(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.Covers.Clear(userID, r.PathValue("bookId")); err != nil {
		log.Printf("Error deleting cover page: %v", err)
		JSONError(w, "Failed to reset cover page", http.StatusInternalServerError)
		return
	}

	JSON(w, map[string]any{"success": true, "message": "Cover page reset to default"})
}

// Thumbnail renders the configured cover page of a manga directory as a
// small JPEG. Single-file books have no server-side thumbnail.
func (h *CoversHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	bookID := r.PathValue("bookId")
	abs, err := h.Library.Resolve(userID, bookID)
	if err != nil {
		writeResolveError(w, err)
		return
	}

	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		JSONError(w, "No thumbnail for this book", http.StatusNotFound)
		return
	}

	listing, err := library.ListPages(abs, "")
	if err != nil || listing.TotalPages == 0 {
		JSONError(w, "No thumbnail for this book", http.StatusNotFound)
		return
	}

	page := h.Covers.Get(userID, bookID)
	if page > listing.TotalPages {
		page = 1
	}

	thumb, err := makeThumb(filepath.Join(abs, listing.Pages[page-1].Filename), 256)
	if err != nil {
		log.Printf("Error rendering thumbnail for %s: %v", abs, err)
		JSONError(w, "Failed to render thumbnail", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(thumb)
}
