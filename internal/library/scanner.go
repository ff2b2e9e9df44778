package library

import (
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hollowtree/bookreader-go-server/internal/model"
)

// supportedExts are the book file types served from category directories.
var supportedExts = map[string]bool{
	".pdf":  true,
	".epub": true,
	".cbz":  true,
	".cbr":  true,
	".mobi": true,
}

// imageExts mark a directory as a manga leaf when any immediate child
// matches.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// SupportedExt reports whether name has one of the accepted book extensions.
func SupportedExt(name string) bool {
	return supportedExts[strings.ToLower(filepath.Ext(name))]
}

// IsImage reports whether name has a raster image extension.
func IsImage(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// Library addresses books across two namespaces: per-user private storage
// under UserRoot/<userId>/<category>/, and the operator-provided shared pool
// under SharedRoot/<Category>/. Scans for different users are independent;
// Library itself holds no mutable state.
type Library struct {
	UserRoot   string
	SharedRoot string
}

func New(userRoot, sharedRoot string) *Library {
	return &Library{UserRoot: userRoot, SharedRoot: sharedRoot}
}

// UserDir returns the private storage root for a user.
func (l *Library) UserDir(userID string) string {
	return filepath.Join(l.UserRoot, userID)
}

// EnsureUserDirs creates a user's category directories.
func (l *Library) EnsureUserDirs(userID string) error {
	for _, category := range model.Categories {
		folder, _ := DiskFolder(NamespacePrivate, category)
		if err := os.MkdirAll(filepath.Join(l.UserDir(userID), folder), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// EnsureSharedDirs creates the shared pool's capitalized category folders.
func (l *Library) EnsureSharedDirs() error {
	for _, category := range model.Categories {
		folder, _ := DiskFolder(NamespaceShared, category)
		if err := os.MkdirAll(filepath.Join(l.SharedRoot, folder), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Scan walks the user's private categories and the shared pool and returns
// the flat list of books. For each category (novels, manga, textbooks)
// private entries come first, then shared ones, each in directory listing
// order. Missing category directories and unreadable subtrees contribute
// zero entries.
func (l *Library) Scan(userID string) []model.Book {
	books := []model.Book{}
	for _, category := range model.Categories {
		privFolder, _ := DiskFolder(NamespacePrivate, category)
		books = append(books, l.scanDir(l.UserDir(userID), privFolder, category, NamespacePrivate, "")...)

		sharedFolder, _ := DiskFolder(NamespaceShared, category)
		books = append(books, l.scanDir(l.SharedRoot, sharedFolder, category, NamespaceShared, "")...)
	}
	return books
}

// dirKind classifies a directory as either a manga leaf (contains at least
// one image directly) or a plain container to recurse into. A directory is
// never both.
type dirKind int

const (
	dirContainer dirKind = iota
	dirLeaf
)

func classifyDir(absPath string) (dirKind, error) {
	entries, err := os.ReadDir(absPath)
	if err != nil {
		return dirContainer, err
	}
	for _, e := range entries {
		if !e.IsDir() && IsImage(e.Name()) {
			return dirLeaf, nil
		}
	}
	return dirContainer, nil
}

// scanDir lists root/diskFolder/relSub and emits books for supported files
// and manga-leaf directories, recursing into plain subdirectories. Any I/O
// failure degrades to an empty contribution for that subtree so one broken
// entry cannot blank the whole library.
func (l *Library) scanDir(root, diskFolder, category string, ns Namespace, relSub string) []model.Book {
	dirPath := filepath.Join(root, diskFolder, filepath.FromSlash(relSub))
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("library: skipping %s: %v", dirPath, err)
		}
		return nil
	}

	var books []model.Book
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			log.Printf("library: skipping %s: %v", filepath.Join(dirPath, e.Name()), err)
			continue
		}

		relPath := e.Name()
		if relSub != "" {
			relPath = relSub + "/" + e.Name()
		}
		// Ids and paths always carry the canonical lowercase category,
		// regardless of the on-disk folder casing.
		bookPath := category + "/" + relPath

		if !info.IsDir() {
			if !SupportedExt(e.Name()) {
				continue
			}
			ext := strings.ToLower(filepath.Ext(e.Name()))
			books = append(books, model.Book{
				ID:          EncodeID(ns, category, relPath),
				Name:        e.Name(),
				Type:        ext[1:],
				Path:        bookPath,
				Category:    category,
				IsDirectory: false,
				IsShared:    ns == NamespaceShared,
				Size:        info.Size(),
				Modified:    info.ModTime(),
			})
			continue
		}

		kind, err := classifyDir(filepath.Join(dirPath, e.Name()))
		if err != nil {
			log.Printf("library: skipping %s: %v", filepath.Join(dirPath, e.Name()), err)
			continue
		}
		if kind == dirLeaf {
			books = append(books, model.Book{
				ID:          EncodeID(ns, category, relPath),
				Name:        e.Name(),
				Type:        "manga",
				Path:        bookPath,
				Category:    category,
				IsDirectory: true,
				IsShared:    ns == NamespaceShared,
				Size:        info.Size(),
				Modified:    info.ModTime(),
			})
		} else {
			books = append(books, l.scanDir(root, diskFolder, category, ns, relPath)...)
		}
	}
	return books
}

// Resolve turns a book id into an absolute filesystem path, applying the
// category casing bridge for the shared namespace. Returns ErrNotFound when
// the path does not exist.
func (l *Library) Resolve(userID, id string) (string, error) {
	ns, category, relPath, err := DecodeID(id)
	if err != nil {
		return "", err
	}
	folder, err := DiskFolder(ns, category)
	if err != nil {
		return "", err
	}

	var base string
	if ns == NamespaceShared {
		base = l.SharedRoot
	} else {
		base = l.UserDir(userID)
	}
	abs, err := joinWithinRoot(base, folder+"/"+relPath)
	if err != nil {
		return "", ErrInvalidIdentifier
	}
	if _, err := os.Stat(abs); err != nil {
		return "", ErrNotFound
	}
	return abs, nil
}

// ResolveRel resolves a slash-separated relative path (as used by the image
// endpoint), honoring the "shared/" prefix and the casing bridge.
func (l *Library) ResolveRel(userID, rel string) (string, error) {
	base := l.UserDir(userID)
	if strings.HasPrefix(rel, sharedPrefix) {
		rel = strings.TrimPrefix(rel, sharedPrefix)
		category, rest, ok := strings.Cut(rel, "/")
		if !ok {
			return "", ErrInvalidIdentifier
		}
		canonical, valid := CanonicalCategory(category)
		if !valid {
			return "", ErrUnknownCategory
		}
		folder, _ := DiskFolder(NamespaceShared, canonical)
		rel = folder + "/" + rest
		base = l.SharedRoot
	}
	abs, err := joinWithinRoot(base, rel)
	if err != nil {
		return "", ErrInvalidIdentifier
	}
	if _, err := os.Stat(abs); err != nil {
		return "", ErrNotFound
	}
	return abs, nil
}

// joinWithinRoot joins a slash-based relative path under root and rejects
// traversal outside it.
func joinWithinRoot(root, rel string) (string, error) {
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	if rel == "" || strings.Contains(rel, "\x00") {
		return "", os.ErrInvalid
	}
	abs := filepath.Clean(filepath.Join(root, filepath.FromSlash(rel)))
	rootClean := filepath.Clean(root)
	if abs != rootClean && !strings.HasPrefix(abs, rootClean+string(filepath.Separator)) {
		return "", os.ErrInvalid
	}
	return abs, nil
}
