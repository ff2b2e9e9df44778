package covers

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/hollowtree/bookreader-go-server/internal/model"
)

const settingsFile = ".cover-settings.json"

// Store persists per-user cover page selections as one flat JSON object per
// user, mapping book ids to {pageNumber}. Every call is a read-modify-write
// of the backing file; a missing or corrupt file means empty settings, never
// an error.
type Store struct {
	UserRoot string
}

func NewStore(userRoot string) *Store {
	return &Store{UserRoot: userRoot}
}

func (s *Store) path(userID string) string {
	return filepath.Join(s.UserRoot, userID, settingsFile)
}

func (s *Store) load(userID string) map[string]model.CoverSetting {
	settings := map[string]model.CoverSetting{}
	data, err := os.ReadFile(s.path(userID))
	if err != nil {
		return settings
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return map[string]model.CoverSetting{}
	}
	return settings
}

func (s *Store) save(userID string, settings map[string]model.CoverSetting) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path(userID)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path(userID), data, 0o644)
}

// Get returns the configured cover page for a book, defaulting to 1.
func (s *Store) Get(userID, bookID string) int {
	if setting, ok := s.load(userID)[bookID]; ok && setting.PageNumber >= 1 {
		return setting.PageNumber
	}
	return 1
}

// Set records the cover page for a book.
func (s *Store) Set(userID, bookID string, pageNumber int) error {
	settings := s.load(userID)
	settings[bookID] = model.CoverSetting{PageNumber: pageNumber}
	return s.save(userID, settings)
}

// Clear removes a book's cover setting, restoring the default. Clearing an
// unset book is a no-op.
func (s *Store) Clear(userID, bookID string) error {
	settings := s.load(userID)
	if _, ok := settings[bookID]; !ok {
		return nil
	}
	delete(settings, bookID)
	return s.save(userID, settings)
}
