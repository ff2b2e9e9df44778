package model

import "time"

type User struct {
	ID           string `json:"id" db:"id"`
	Username     string `json:"username" db:"username"`
	PasswordHash string `json:"-" db:"password_hash"`
	CreatedAt    int64  `json:"created_at" db:"created_at"`
}

// Book categories. The canonical form is always lowercase; the shared pool
// stores each category in a capitalized folder on disk.
const (
	CategoryNovels    = "novels"
	CategoryManga     = "manga"
	CategoryTextbooks = "textbooks"
)

// Categories lists the fixed category set in scan order.
var Categories = []string{CategoryNovels, CategoryManga, CategoryTextbooks}

// Book is one addressable entry in a user's view of the library: a supported
// file, or a directory of page images ("manga" type). Path is relative to the
// namespace root and always uses the lowercase category segment.
type Book struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Path        string    `json:"path"`
	Category    string    `json:"category"`
	IsDirectory bool      `json:"isDirectory"`
	IsShared    bool      `json:"isShared"`
	Size        int64     `json:"size"`
	Modified    time.Time `json:"modified"`
}

// SharedBook is the reduced shape returned when browsing another user's
// library (top level only, no shared pool).
type SharedBook struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Size    int64  `json:"size"`
	OwnerID string `json:"ownerId"`
}

type Page struct {
	PageNumber int    `json:"pageNumber"`
	Filename   string `json:"filename"`
	Path       string `json:"path"`
}

type PageListing struct {
	TotalPages int    `json:"totalPages"`
	Pages      []Page `json:"pages"`
	Message    string `json:"message,omitempty"`
}

// CoverSetting is the per-book value stored in .cover-settings.json.
type CoverSetting struct {
	PageNumber int `json:"pageNumber"`
}
