package library

import (
	"encoding/base64"
	"errors"
	"strings"
)

// Book ids are opaque to clients but fully reversible: the base64 encoding of
// "category/relativePath" for private books and "shared/category/relativePath"
// for books from the shared pool. The category segment inside an id is always
// the canonical lowercase name, regardless of how the namespace spells its
// folders on disk.

type Namespace int

const (
	NamespacePrivate Namespace = iota
	NamespaceShared
)

const sharedPrefix = "shared/"

var (
	ErrInvalidIdentifier = errors.New("invalid book identifier")
	ErrUnknownCategory   = errors.New("unknown category")
	ErrNotFound          = errors.New("book not found")
)

// categoryFolders maps canonical category names to on-disk folder names per
// namespace. The shared pool capitalizes its folders; private user libraries
// are all lowercase.
var categoryFolders = map[string]struct{ private, shared string }{
	"novels":    {"novels", "Novels"},
	"manga":     {"manga", "Manga"},
	"textbooks": {"textbooks", "Textbooks"},
}

// DiskFolder returns the on-disk folder name for a canonical category in the
// given namespace.
func DiskFolder(ns Namespace, category string) (string, error) {
	f, ok := categoryFolders[category]
	if !ok {
		return "", ErrUnknownCategory
	}
	if ns == NamespaceShared {
		return f.shared, nil
	}
	return f.private, nil
}

// CanonicalCategory maps an on-disk folder name from either namespace back to
// the canonical lowercase category.
func CanonicalCategory(folder string) (string, bool) {
	for name, f := range categoryFolders {
		if folder == f.private || folder == f.shared {
			return name, true
		}
	}
	return "", false
}

// ValidCategory reports whether category is one of the three canonical names.
func ValidCategory(category string) bool {
	_, ok := categoryFolders[category]
	return ok
}

// EncodeID derives the external id for a book at category/relPath in the
// given namespace. It is a pure function of its inputs.
func EncodeID(ns Namespace, category, relPath string) string {
	p := category + "/" + relPath
	if ns == NamespaceShared {
		p = sharedPrefix + p
	}
	return EncodeRaw(p)
}

// DecodeID reverses EncodeID. The category must be one of the fixed set.
func DecodeID(id string) (ns Namespace, category, relPath string, err error) {
	p, err := DecodeRaw(id)
	if err != nil {
		return 0, "", "", err
	}
	ns = NamespacePrivate
	if strings.HasPrefix(p, sharedPrefix) {
		ns = NamespaceShared
		p = strings.TrimPrefix(p, sharedPrefix)
	}
	category, relPath, ok := strings.Cut(p, "/")
	if !ok || relPath == "" {
		return 0, "", "", ErrInvalidIdentifier
	}
	if !ValidCategory(category) {
		return 0, "", "", ErrUnknownCategory
	}
	return ns, category, relPath, nil
}

// EncodeRaw base64-encodes an arbitrary relative path. Used directly for the
// top-level ids handed out when browsing another user's library.
func EncodeRaw(p string) string {
	return base64.StdEncoding.EncodeToString([]byte(p))
}

// DecodeRaw reverses EncodeRaw.
func DecodeRaw(id string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(id)
	if err != nil {
		return "", ErrInvalidIdentifier
	}
	return string(b), nil
}
