package upload

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hollowtree/bookreader-go-server/internal/library"
	"github.com/hollowtree/bookreader-go-server/internal/model"
)

var (
	ErrMissingMetadata   = errors.New("missing chunk information")
	ErrInvalidChunkIndex = errors.New("chunk index out of range")
	ErrUnsupportedType   = errors.New("unsupported file type")
	ErrExists            = errors.New("file already exists")
)

// OverwritePolicy decides what happens when a committed upload collides with
// an existing file of the same name.
type OverwritePolicy string

const (
	Overwrite OverwritePolicy = "overwrite"
	Reject    OverwritePolicy = "reject"
)

const sweepInterval = 5 * time.Minute

// Key identifies one in-flight chunked transfer. Two users, or two filenames
// for the same user, never contend.
type Key struct {
	UserID   string
	Filename string
}

// pending holds the buffered chunks of one transfer. All chunks stay in
// memory until commit, so total buffered bytes per transfer equal the file
// size; that is the accepted trade-off of this protocol.
type pending struct {
	mu        sync.Mutex
	slots     [][]byte
	received  int
	category  string
	lastChunk time.Time
	done      bool
	path      string
}

// Assembler accumulates file chunks per (user, filename) key and commits the
// reassembled file to the user's category directory exactly once. The table
// lock only guards entry lookup; each entry has its own mutex covering the
// fill-count-commit critical section, so concurrent transfers for different
// keys never serialize against each other.
type Assembler struct {
	lib    *library.Library
	policy OverwritePolicy
	ttl    time.Duration

	mu      sync.Mutex
	pending map[Key]*pending
}

func NewAssembler(lib *library.Library, policy OverwritePolicy, ttl time.Duration) *Assembler {
	if policy != Reject {
		policy = Overwrite
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Assembler{
		lib:     lib,
		policy:  policy,
		ttl:     ttl,
		pending: make(map[Key]*pending),
	}
}

// ChunkResult reports the outcome of one AddChunk call: either the chunk was
// accepted and the transfer continues, or this chunk completed the set and
// the file was committed to Path.
type ChunkResult struct {
	Completed bool
	Received  int
	Total     int
	Path      string
}

// AddChunk records one chunk of a transfer. Chunks may arrive in any order;
// re-sending an index overwrites that slot without inflating the received
// count. The chunk that fills the last empty slot triggers the commit; commit
// failure leaves the entry in place so a retry of the last chunk can
// re-attempt it.
func (a *Assembler) AddChunk(userID, filename string, chunkIndex, totalChunks int, category string, data []byte) (ChunkResult, error) {
	filename = filepath.Base(filename)
	if userID == "" || filename == "" || filename == "." || totalChunks <= 0 {
		return ChunkResult{}, ErrMissingMetadata
	}
	if !library.SupportedExt(filename) {
		return ChunkResult{}, ErrUnsupportedType
	}
	if chunkIndex < 0 || chunkIndex >= totalChunks {
		return ChunkResult{}, ErrInvalidChunkIndex
	}
	if category == "" || !library.ValidCategory(category) {
		category = model.CategoryNovels
	}
	if data == nil {
		// A nil slot marks "not yet received"; an empty chunk still fills it.
		data = []byte{}
	}

	key := Key{UserID: userID, Filename: filename}

	a.mu.Lock()
	p, ok := a.pending[key]
	if !ok {
		// The first chunk fixes the slot count and target category for the
		// whole transfer; later chunks cannot change either.
		p = &pending{
			slots:    make([][]byte, totalChunks),
			category: category,
		}
		a.pending[key] = p
	}
	p.mu.Lock()
	a.mu.Unlock()
	defer p.mu.Unlock()

	if p.done {
		// A concurrent retry of the final chunk lost the race; the file is
		// already committed.
		return ChunkResult{Completed: true, Received: p.received, Total: len(p.slots), Path: p.path}, nil
	}

	if chunkIndex < 0 || chunkIndex >= len(p.slots) {
		return ChunkResult{}, ErrInvalidChunkIndex
	}

	if p.slots[chunkIndex] == nil {
		p.received++
	}
	p.slots[chunkIndex] = data
	p.lastChunk = time.Now()

	if p.received < len(p.slots) {
		return ChunkResult{Received: p.received, Total: len(p.slots)}, nil
	}

	// All slots filled: concatenate in index order and commit. Still under
	// the entry lock, so completion happens exactly once.
	var buf bytes.Buffer
	for _, chunk := range p.slots {
		buf.Write(chunk)
	}
	path, err := saveBook(a.lib.UserDir(userID), p.category, filename, buf.Bytes(), a.policy)
	if err != nil {
		// Entry stays so the client can retry the final chunk.
		return ChunkResult{}, err
	}

	p.done = true
	p.path = path
	p.slots = nil
	a.mu.Lock()
	delete(a.pending, key)
	a.mu.Unlock()

	return ChunkResult{Completed: true, Received: totalChunks, Total: totalChunks, Path: path}, nil
}

// PendingCount reports the number of in-flight transfers.
func (a *Assembler) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// StartSweep evicts transfers that have not received a chunk within the TTL,
// until ctx is cancelled. Without it an abandoned transfer would hold its
// buffered chunks for the life of the process.
func (a *Assembler) StartSweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.sweep(time.Now())
			}
		}
	}()
}

func (a *Assembler) sweep(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, p := range a.pending {
		p.mu.Lock()
		expired := !p.done && now.Sub(p.lastChunk) > a.ttl
		p.mu.Unlock()
		if expired {
			delete(a.pending, key)
			log.Printf("upload: evicted stale transfer %s/%s", key.UserID, key.Filename)
		}
	}
}

// saveBook writes data as filename under the user's category directory,
// creating it if needed and honoring the overwrite policy.
func saveBook(userDir, category, filename string, data []byte, policy OverwritePolicy) (string, error) {
	categoryDir := filepath.Join(userDir, category)
	if err := os.MkdirAll(categoryDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(categoryDir, filename)
	if policy == Reject {
		if _, err := os.Stat(path); err == nil {
			return "", ErrExists
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
