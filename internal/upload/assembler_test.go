package upload

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hollowtree/bookreader-go-server/internal/library"
)

func newTestAssembler(t *testing.T, policy OverwritePolicy) *Assembler {
	t.Helper()
	lib := library.New(t.TempDir(), t.TempDir())
	return NewAssembler(lib, policy, time.Minute)
}

func readStored(t *testing.T, a *Assembler, userID, category, filename string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(a.lib.UserDir(userID), category, filename))
	if err != nil {
		t.Fatalf("reading committed file: %v", err)
	}
	return data
}

func TestChunksInOrder(t *testing.T) {
	a := newTestAssembler(t, Overwrite)

	chunks := [][]byte{[]byte("aaa"), []byte("bbb"), []byte("cc")}
	for i, chunk := range chunks {
		result, err := a.AddChunk("u1", "book.pdf", i, 3, "novels", chunk)
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if i < 2 {
			if result.Completed {
				t.Fatalf("chunk %d completed early", i)
			}
			if result.Received != i+1 || result.Total != 3 {
				t.Errorf("chunk %d: received %d/%d", i, result.Received, result.Total)
			}
		} else if !result.Completed {
			t.Fatal("final chunk did not complete the transfer")
		}
	}

	if got := readStored(t, a, "u1", "novels", "book.pdf"); !bytes.Equal(got, []byte("aaabbbcc")) {
		t.Errorf("committed bytes = %q", got)
	}
	if a.PendingCount() != 0 {
		t.Error("pending entry not removed after commit")
	}
}

func TestChunkOrderIndependence(t *testing.T) {
	a := newTestAssembler(t, Overwrite)

	chunks := [][]byte{[]byte("first-"), []byte("second-"), []byte("third")}
	for _, i := range []int{2, 0, 1} {
		if _, err := a.AddChunk("u1", "book.pdf", i, 3, "manga", chunks[i]); err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
	}

	if got := readStored(t, a, "u1", "manga", "book.pdf"); !bytes.Equal(got, []byte("first-second-third")) {
		t.Errorf("out-of-order delivery corrupted file: %q", got)
	}
}

func TestResendChunkIdempotent(t *testing.T) {
	a := newTestAssembler(t, Overwrite)

	if _, err := a.AddChunk("u1", "book.pdf", 0, 2, "novels", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	// Re-sending index 0 overwrites the slot without inflating the count, so
	// the transfer must not complete here.
	result, err := a.AddChunk("u1", "book.pdf", 0, 2, "novels", []byte("v2"))
	if err != nil {
		t.Fatal(err)
	}
	if result.Completed {
		t.Fatal("duplicate chunk completed a half-done transfer")
	}
	if result.Received != 1 {
		t.Errorf("received = %d after resend, want 1", result.Received)
	}

	result, err = a.AddChunk("u1", "book.pdf", 1, 2, "novels", []byte("-end"))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Completed {
		t.Fatal("transfer should complete")
	}
	if got := readStored(t, a, "u1", "novels", "book.pdf"); !bytes.Equal(got, []byte("v2-end")) {
		t.Errorf("resent slot not overwritten: %q", got)
	}
}

func TestCompletionExactlyOnce(t *testing.T) {
	a := newTestAssembler(t, Overwrite)

	if _, err := a.AddChunk("u1", "book.pdf", 0, 2, "novels", []byte("head-")); err != nil {
		t.Fatal(err)
	}

	// Two concurrent deliveries of the final chunk: exactly one commit and
	// one table removal, no corrupted double write.
	var wg sync.WaitGroup
	completed := make([]bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := a.AddChunk("u1", "book.pdf", 1, 2, "novels", []byte("tail"))
			if err != nil {
				t.Errorf("concurrent final chunk: %v", err)
				return
			}
			completed[i] = result.Completed
		}(i)
	}
	wg.Wait()

	if !completed[0] || !completed[1] {
		t.Error("both callers should observe completion")
	}
	if got := readStored(t, a, "u1", "novels", "book.pdf"); !bytes.Equal(got, []byte("head-tail")) {
		t.Errorf("committed bytes = %q", got)
	}
	if a.PendingCount() != 0 {
		t.Errorf("pending count = %d after completion", a.PendingCount())
	}
}

func TestIndependentKeys(t *testing.T) {
	a := newTestAssembler(t, Overwrite)

	// Same filename for two users, two filenames for one user: three
	// disjoint transfers.
	if _, err := a.AddChunk("u1", "book.pdf", 0, 2, "novels", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := a.AddChunk("u2", "book.pdf", 0, 2, "novels", []byte("y")); err != nil {
		t.Fatal(err)
	}
	if _, err := a.AddChunk("u1", "other.pdf", 0, 2, "novels", []byte("z")); err != nil {
		t.Fatal(err)
	}
	if a.PendingCount() != 3 {
		t.Errorf("pending count = %d, want 3", a.PendingCount())
	}
}

func TestFirstChunkWinsCategory(t *testing.T) {
	a := newTestAssembler(t, Overwrite)

	if _, err := a.AddChunk("u1", "book.pdf", 0, 2, "textbooks", []byte("a")); err != nil {
		t.Fatal(err)
	}
	// A different category on a later chunk is ignored.
	result, err := a.AddChunk("u1", "book.pdf", 1, 2, "novels", []byte("b"))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Completed {
		t.Fatal("transfer should complete")
	}
	if got := readStored(t, a, "u1", "textbooks", "book.pdf"); !bytes.Equal(got, []byte("ab")) {
		t.Errorf("committed bytes = %q", got)
	}
}

func TestChunkValidation(t *testing.T) {
	a := newTestAssembler(t, Overwrite)

	if _, err := a.AddChunk("u1", "", 0, 2, "novels", []byte("x")); !errors.Is(err, ErrMissingMetadata) {
		t.Errorf("empty filename: got %v", err)
	}
	if _, err := a.AddChunk("u1", "book.pdf", 0, 0, "novels", []byte("x")); !errors.Is(err, ErrMissingMetadata) {
		t.Errorf("zero total: got %v", err)
	}
	if _, err := a.AddChunk("u1", "book.pdf", 2, 2, "novels", []byte("x")); !errors.Is(err, ErrInvalidChunkIndex) {
		t.Errorf("index == total: got %v", err)
	}
	if _, err := a.AddChunk("u1", "book.pdf", -1, 2, "novels", []byte("x")); !errors.Is(err, ErrInvalidChunkIndex) {
		t.Errorf("negative index: got %v", err)
	}
	if _, err := a.AddChunk("u1", "malware.exe", 0, 1, "novels", []byte("x")); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("unsupported extension: got %v", err)
	}
}

func TestRejectedChunkLeavesNoState(t *testing.T) {
	a := newTestAssembler(t, Overwrite)

	// A first chunk that fails validation must not register a transfer.
	if _, err := a.AddChunk("u1", "book.pdf", 5, 3, "novels", []byte("x")); !errors.Is(err, ErrInvalidChunkIndex) {
		t.Fatalf("out-of-range first chunk: got %v", err)
	}
	if got := a.PendingCount(); got != 0 {
		t.Errorf("pending count = %d after rejected chunk, want 0", got)
	}

	// Nor must an invalid index disturb an existing transfer.
	if _, err := a.AddChunk("u1", "book.pdf", 0, 3, "novels", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := a.AddChunk("u1", "book.pdf", 7, 3, "novels", []byte("x")); !errors.Is(err, ErrInvalidChunkIndex) {
		t.Fatalf("out-of-range later chunk: got %v", err)
	}
	if got := a.PendingCount(); got != 1 {
		t.Errorf("pending count = %d, want the one valid transfer", got)
	}
}

func TestNilChunkData(t *testing.T) {
	a := newTestAssembler(t, Overwrite)

	// A nil payload still fills its slot exactly once.
	result, err := a.AddChunk("u1", "book.pdf", 0, 2, "novels", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Received != 1 {
		t.Errorf("received = %d, want 1", result.Received)
	}
	result, err = a.AddChunk("u1", "book.pdf", 0, 2, "novels", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Completed || result.Received != 1 {
		t.Errorf("nil resend inflated progress: %+v", result)
	}

	result, err = a.AddChunk("u1", "book.pdf", 1, 2, "novels", []byte("tail"))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Completed {
		t.Fatal("transfer should complete")
	}
	if got := readStored(t, a, "u1", "novels", "book.pdf"); !bytes.Equal(got, []byte("tail")) {
		t.Errorf("committed bytes = %q", got)
	}
}

func TestRejectPolicyKeepsPendingEntry(t *testing.T) {
	a := newTestAssembler(t, Reject)

	// Pre-existing file with the same name.
	dir := filepath.Join(a.lib.UserDir("u1"), "novels")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "book.pdf"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := a.AddChunk("u1", "book.pdf", 0, 1, "novels", []byte("new")); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	// Commit failed, so the entry stays for a retry.
	if a.PendingCount() != 1 {
		t.Errorf("pending count = %d, want 1 after failed commit", a.PendingCount())
	}
	if got, _ := os.ReadFile(filepath.Join(dir, "book.pdf")); !bytes.Equal(got, []byte("old")) {
		t.Errorf("existing file was overwritten: %q", got)
	}

	// After the obstacle is removed, retrying the final chunk commits.
	if err := os.Remove(filepath.Join(dir, "book.pdf")); err != nil {
		t.Fatal(err)
	}
	result, err := a.AddChunk("u1", "book.pdf", 0, 1, "novels", []byte("new"))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Completed {
		t.Fatal("retry after failed commit should complete")
	}
	if a.PendingCount() != 0 {
		t.Error("entry not removed after successful retry")
	}
}

func TestSweepEvictsStaleTransfers(t *testing.T) {
	a := newTestAssembler(t, Overwrite)

	if _, err := a.AddChunk("u1", "book.pdf", 0, 3, "novels", []byte("x")); err != nil {
		t.Fatal(err)
	}

	a.sweep(time.Now())
	if a.PendingCount() != 1 {
		t.Error("fresh transfer swept too early")
	}

	a.sweep(time.Now().Add(a.ttl + time.Second))
	if a.PendingCount() != 0 {
		t.Error("stale transfer not evicted")
	}
}

func TestSaveDirect(t *testing.T) {
	a := newTestAssembler(t, Overwrite)

	path, err := a.SaveDirect("u1", "novels", "novel.pdf", []byte("content"))
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(a.lib.UserDir("u1"), "novels", "novel.pdf")
	if path != want {
		t.Errorf("stored path = %q, want %q", path, want)
	}
	if got := readStored(t, a, "u1", "novels", "novel.pdf"); !bytes.Equal(got, []byte("content")) {
		t.Errorf("stored bytes = %q", got)
	}

	// Unknown categories fall back to novels, matching direct-upload
	// behavior for missing form fields.
	if _, err := a.SaveDirect("u1", "", "fallback.epub", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(a.lib.UserDir("u1"), "novels", "fallback.epub")); err != nil {
		t.Error("empty category should store under novels")
	}

	if _, err := a.SaveDirect("u1", "novels", "bad.txt", []byte("x")); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("unsupported type: got %v", err)
	}
}
