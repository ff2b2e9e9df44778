package library

import (
	"os"
	"sort"
	"unicode"

	"github.com/hollowtree/bookreader-go-server/internal/model"
)

// ListPages returns the image pages of a manga-leaf directory, sorted with
// numeric-aware comparison ("p2.jpg" before "p10.jpg"), numbered from 1.
// bookRel is the id-decoded relative path used to build per-page paths for
// the image endpoint.
func ListPages(absDir, bookRel string) (model.PageListing, error) {
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return model.PageListing{}, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && IsImage(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return naturalLess(names[i], names[j])
	})

	pages := make([]model.Page, len(names))
	for i, name := range names {
		pages[i] = model.Page{
			PageNumber: i + 1,
			Filename:   name,
			Path:       bookRel + "/" + name,
		}
	}
	return model.PageListing{TotalPages: len(pages), Pages: pages}, nil
}

// naturalLess compares strings case-insensitively, treating digit runs as
// numbers.
func naturalLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		if isDigit(a[0]) && isDigit(b[0]) {
			na, a2 := takeNumber(a)
			nb, b2 := takeNumber(b)
			if na != nb {
				return na < nb
			}
			a, b = a2, b2
			continue
		}
		ra := unicode.ToLower(rune(a[0]))
		rb := unicode.ToLower(rune(b[0]))
		if ra != rb {
			return ra < rb
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func takeNumber(s string) (int64, string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	// Leading zeros are fine; overflow is not a concern for filenames.
	var n int64
	for _, c := range []byte(s[:i]) {
		n = n*10 + int64(c-'0')
	}
	return n, s[i:]
}
