package upload

import (
	"path/filepath"

	"github.com/hollowtree/bookreader-go-server/internal/library"
	"github.com/hollowtree/bookreader-go-server/internal/model"
)

// MaxFileSize caps a single uploaded file.
const MaxFileSize = 500 << 20 // 500 MB

// SaveDirect stores a complete (non-chunked) upload under the user's category
// directory and returns the stored path. It shares the extension filter and
// overwrite policy with chunked commits.
func (a *Assembler) SaveDirect(userID, category, filename string, data []byte) (string, error) {
	filename = filepath.Base(filename)
	if userID == "" || filename == "" || filename == "." {
		return "", ErrMissingMetadata
	}
	if !library.SupportedExt(filename) {
		return "", ErrUnsupportedType
	}
	if category == "" || !library.ValidCategory(category) {
		category = model.CategoryNovels
	}
	return saveBook(a.lib.UserDir(userID), category, filename, data, a.policy)
}
