package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hollowtree/bookreader-go-server/internal/covers"
	"github.com/hollowtree/bookreader-go-server/internal/db"
	"github.com/hollowtree/bookreader-go-server/internal/library"
	"github.com/hollowtree/bookreader-go-server/internal/model"
)

type BooksHandler struct {
	DB      *db.DB
	Library *library.Library
	Covers  *covers.Store
}

// ListBooks returns the user's full library: private categories plus the
// shared pool.
func (h *BooksHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Category folders are created lazily so first-time users get an empty
	// list instead of an error.
	if err := h.Library.EnsureUserDirs(userID); err != nil {
		log.Printf("Error preparing library for %s: %v", userID, err)
		JSONError(w, "Failed to read books directory", http.StatusInternalServerError)
		return
	}

	JSON(w, h.Library.Scan(userID))
}

// GetPages lists the pages of a manga-leaf directory. Single-file books
// return zero pages; the client renders those natively.
func (h *BooksHandler) GetPages(w http.ResponseWriter, r *http.Request) {
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
	if err != nil {
		JSONError(w, "File not found", http.StatusNotFound)
		return
	}

	if !info.IsDir() {
		JSON(w, model.PageListing{TotalPages: 0, Pages: []model.Page{}, Message: "PDF/EPUB pages are rendered client-side"})
		return
	}

	// Page paths embed the decoded book path (including any shared/ prefix)
	// so the image endpoint can resolve them as-is.
	bookRel, err := library.DecodeRaw(bookID)
	if err != nil {
		JSONError(w, "Invalid book identifier", http.StatusBadRequest)
		return
	}

	listing, err := library.ListPages(abs, bookRel)
	if err != nil {
		log.Printf("Error getting pages for %s: %v", abs, err)
		JSONError(w, "Failed to get book pages", http.StatusInternalServerError)
		return
	}
	JSON(w, listing)
}

// ServeFile streams a single-file book with cache headers.
func (h *BooksHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	abs, err := h.Library.Resolve(userID, r.PathValue("bookId"))
	if err != nil {
		writeResolveError(w, err)
		return
	}

	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		JSONError(w, "Not a file", http.StatusBadRequest)
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Header().Set("ETag", fmt.Sprintf("\"%d-%d\"", info.ModTime().UnixMilli(), info.Size()))
	http.ServeFile(w, r, abs)
}

// ServeImage streams one page image from a manga-leaf directory.
func (h *BooksHandler) ServeImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	abs, err := h.Library.ResolveRel(userID, r.PathValue("path"))
	if err != nil {
		JSONError(w, "Image not found", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, abs)
}

type renameRequest struct {
	NewName string `json:"newName"`
}

// Rename renames a private book, preserving the file extension.
func (h *BooksHandler) Rename(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.NewName) == "" {
		JSONError(w, "New name is required", http.StatusBadRequest)
		return
	}

	bookID := r.PathValue("bookId")
	ns, category, rel, err := library.DecodeID(bookID)
	if err != nil {
		writeResolveError(w, err)
		return
	}
	if ns == library.NamespaceShared {
		JSONError(w, "Shared books are read-only", http.StatusForbidden)
		return
	}

	oldAbs, err := h.Library.Resolve(userID, bookID)
	if err != nil {
		writeResolveError(w, err)
		return
	}

	info, err := os.Stat(oldAbs)
	if err != nil {
		JSONError(w, "Book not found", http.StatusNotFound)
		return
	}

	newName := filepath.Base(strings.TrimSpace(req.NewName))
	if ext := path.Ext(rel); !info.IsDir() && !strings.HasSuffix(newName, ext) {
		newName += ext
	}

	newRel := newName
	if dir := path.Dir(rel); dir != "." {
		newRel = dir + "/" + newName
	}
	newAbs := filepath.Join(filepath.Dir(oldAbs), newName)

	if _, err := os.Stat(newAbs); err == nil {
		JSONError(w, "A book with this name already exists", http.StatusBadRequest)
		return
	}

	if err := os.Rename(oldAbs, newAbs); err != nil {
		log.Printf("Error renaming book: %v", err)
		JSONError(w, "Failed to rename book", http.StatusInternalServerError)
		return
	}

	JSON(w, map[string]any{
		"success": true,
		"message": "Book renamed successfully",
		"newId":   library.EncodeID(library.NamespacePrivate, category, newRel),
		"newName": newName,
	})
}

type changeCategoryRequest struct {
	Category string `json:"category"`
}

// ChangeCategory moves a private book into another category directory.
func (h *BooksHandler) ChangeCategory(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req changeCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !library.ValidCategory(req.Category) {
		JSONError(w, "Valid category is required (novels, manga, textbooks)", http.StatusBadRequest)
		return
	}

	bookID := r.PathValue("bookId")
	ns, _, rel, err := library.DecodeID(bookID)
	if err != nil {
		writeResolveError(w, err)
		return
	}
	if ns == library.NamespaceShared {
		JSONError(w, "Shared books are read-only", http.StatusForbidden)
		return
	}

	oldAbs, err := h.Library.Resolve(userID, bookID)
	if err != nil {
		writeResolveError(w, err)
		return
	}

	fileName := path.Base(rel)
	targetDir := filepath.Join(h.Library.UserDir(userID), req.Category)
	newAbs := filepath.Join(targetDir, fileName)

	if _, err := os.Stat(newAbs); err == nil {
		JSONError(w, "A book with this name already exists in the target category", http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		JSONError(w, "Failed to change category", http.StatusInternalServerError)
		return
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		log.Printf("Error changing category: %v", err)
		JSONError(w, "Failed to change category", http.StatusInternalServerError)
		return
	}

	JSON(w, map[string]any{
		"success": true,
		"message": "Book category changed successfully",
		"newId":   library.EncodeID(library.NamespacePrivate, req.Category, fileName),
	})
}

// Delete removes a private book (file or manga directory) and its cover
// setting.
func (h *BooksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	bookID := r.PathValue("bookId")
	ns, _, _, err := library.DecodeID(bookID)
	if err != nil {
		writeResolveError(w, err)
		return
	}
	if ns == library.NamespaceShared {
		JSONError(w, "Shared books are read-only", http.StatusForbidden)
		return
	}

	abs, err := h.Library.Resolve(userID, bookID)
	if err != nil {
		writeResolveError(w, err)
		return
	}

	info, err := os.Stat(abs)
	if err != nil {
		JSONError(w, "Book not found", http.StatusNotFound)
		return
	}

	if info.IsDir() {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		log.Printf("Error deleting book: %v", err)
		JSONError(w, "Failed to delete book", http.StatusInternalServerError)
		return
	}

	if err := h.Covers.Clear(userID, bookID); err != nil {
		log.Printf("Error clearing cover setting: %v", err)
	}

	JSON(w, map[string]any{"success": true, "message": "Book deleted successfully"})
}

// ListUsers returns the other registered users, for browsing their
// libraries.
func (h *BooksHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	users, err := h.DB.ListUsers(userID)
	if err != nil {
		log.Printf("Error getting users: %v", err)
		JSONError(w, "Failed to get users", http.StatusInternalServerError)
		return
	}

	out := make([]map[string]string, 0, len(users))
	for _, u := range users {
		out = append(out, map[string]string{"id": u.ID, "username": u.Username})
	}
	JSON(w, out)
}

// GetUserBooks lists the top level of another user's library.
func (h *BooksHandler) GetUserBooks(w http.ResponseWriter, r *http.Request) {
	if _, ok := GetUserID(r); !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	targetID := r.PathValue("userId")
	userDir := h.Library.UserDir(targetID)

	entries, err := os.ReadDir(userDir)
	if err != nil {
		// Unknown user or empty library both read as no books.
		JSON(w, []model.SharedBook{})
		return
	}

	books := []model.SharedBook{}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.IsDir() && library.SupportedExt(e.Name()) {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			books = append(books, model.SharedBook{
				ID:      library.EncodeRaw(e.Name()),
				Name:    e.Name(),
				Type:    ext[1:],
				Size:    info.Size(),
				OwnerID: targetID,
			})
		} else if info.IsDir() {
			if hasImages(filepath.Join(userDir, e.Name())) {
				books = append(books, model.SharedBook{
					ID:      library.EncodeRaw(e.Name()),
					Name:    e.Name(),
					Type:    "manga",
					Size:    info.Size(),
					OwnerID: targetID,
				})
			}
		}
	}
	JSON(w, books)
}

// CopyBook copies a book from another user's library into the caller's.
func (h *BooksHandler) CopyBook(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sourceID := r.PathValue("userId")
	name, err := library.DecodeRaw(r.PathValue("bookId"))
	if err != nil {
		JSONError(w, "Invalid book identifier", http.StatusBadRequest)
		return
	}
	name = filepath.Base(name)

	srcPath := filepath.Join(h.Library.UserDir(sourceID), name)
	dstPath := filepath.Join(h.Library.UserDir(userID), name)

	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		JSONError(w, "Book not found", http.StatusNotFound)
		return
	}

	if _, err := os.Stat(dstPath); err == nil {
		JSONError(w, "You already have this book in your library", http.StatusBadRequest)
		return
	}

	if srcInfo.IsDir() {
		err = os.CopyFS(dstPath, os.DirFS(srcPath))
	} else {
		err = copyFile(srcPath, dstPath)
	}
	if err != nil {
		log.Printf("Error copying book: %v", err)
		JSONError(w, "Failed to copy book", http.StatusInternalServerError)
		return
	}

	JSON(w, map[string]any{"success": true, "message": "Book added to your library!"})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func hasImages(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && library.IsImage(e.Name()) {
			return true
		}
	}
	return false
}

// writeResolveError maps library resolution errors onto HTTP statuses.
func writeResolveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, library.ErrInvalidIdentifier):
		JSONError(w, "Invalid book identifier", http.StatusBadRequest)
	case errors.Is(err, library.ErrUnknownCategory):
		JSONError(w, "Unknown category", http.StatusBadRequest)
	case errors.Is(err, library.ErrNotFound):
		JSONError(w, "Book not found", http.StatusNotFound)
	default:
		JSONError(w, "Internal server error", http.StatusInternalServerError)
	}
}
