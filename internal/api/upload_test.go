package api

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hollowtree/bookreader-go-server/internal/model"
	"github.com/hollowtree/bookreader-go-server/internal/testutil"
	"github.com/hollowtree/bookreader-go-server/internal/upload"
)

func newUploadHandler(t *testing.T) (*UploadHandler, *BooksHandler) {
	t.Helper()
	lib := testutil.SetupLibrary(t)
	assembler := upload.NewAssembler(lib, upload.Overwrite, time.Minute)
	return &UploadHandler{Assembler: assembler}, &BooksHandler{Library: lib}
}

func multipartUpload(t *testing.T, category string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if category != "" {
		if err := mw.WriteField("category", category); err != nil {
			t.Fatal(err)
		}
	}
	for name, content := range files {
		part, err := mw.CreateFormFile("books", name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestDirectUpload(t *testing.T) {
	uh, bh := newUploadHandler(t)

	body, contentType := multipartUpload(t, "novels", map[string][]byte{
		"novel.pdf": []byte("pdf-content"),
	})
	req, _ := http.NewRequest("POST", "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	uh.Upload(rr, authed(req, "u1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	stored := filepath.Join(bh.Library.UserDir("u1"), "novels", "novel.pdf")
	data, err := os.ReadFile(stored)
	if err != nil || string(data) != "pdf-content" {
		t.Fatalf("stored file: %q, %v", data, err)
	}

	// The uploaded book shows up in the library listing.
	listReq, _ := http.NewRequest("GET", "/api/books", nil)
	listRR := httptest.NewRecorder()
	bh.ListBooks(listRR, authed(listReq, "u1"))
	var books []model.Book
	decodeBody(t, listRR, &books)
	if len(books) != 1 {
		t.Fatalf("expected 1 book after upload, got %d", len(books))
	}
	b := books[0]
	if b.Name != "novel.pdf" || b.Type != "pdf" || b.Category != "novels" || b.IsShared {
		t.Errorf("unexpected listing entry: %+v", b)
	}
}

func TestDirectUploadPartialSuccess(t *testing.T) {
	uh, bh := newUploadHandler(t)

	body, contentType := multipartUpload(t, "novels", map[string][]byte{
		"good.epub": []byte("epub"),
		"bad.txt":   []byte("txt"),
	})
	req, _ := http.NewRequest("POST", "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	uh.Upload(rr, authed(req, "u1"))

	// One file stored means overall success.
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Success bool           `json:"success"`
		Files   []uploadedFile `json:"files"`
	}
	decodeBody(t, rr, &resp)
	if !resp.Success || len(resp.Files) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	for _, f := range resp.Files {
		switch f.Name {
		case "good.epub":
			if f.Error != "" {
				t.Errorf("good.epub reported error %q", f.Error)
			}
		case "bad.txt":
			if f.Error == "" {
				t.Error("bad.txt should carry a per-file error")
			}
		}
	}

	if _, err := os.Stat(filepath.Join(bh.Library.UserDir("u1"), "novels", "good.epub")); err != nil {
		t.Errorf("good.epub missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(bh.Library.UserDir("u1"), "novels", "bad.txt")); !os.IsNotExist(err) {
		t.Error("bad.txt should not be stored")
	}
}

func TestDirectUploadAllRejected(t *testing.T) {
	uh, _ := newUploadHandler(t)

	body, contentType := multipartUpload(t, "novels", map[string][]byte{
		"bad.txt": []byte("txt"),
	})
	req, _ := http.NewRequest("POST", "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	uh.Upload(rr, authed(req, "u1"))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 when nothing stored", rr.Code)
	}
}

func TestDirectUploadNoFiles(t *testing.T) {
	uh, _ := newUploadHandler(t)

	body, contentType := multipartUpload(t, "novels", nil)
	req, _ := http.NewRequest("POST", "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	uh.Upload(rr, authed(req, "u1"))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func chunkForm(t *testing.T, fields map[string]string, chunk []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if chunk != nil {
		part, err := mw.CreateFormFile("chunk", "blob")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(chunk); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestChunkedUpload(t *testing.T) {
	uh, bh := newUploadHandler(t)

	sendChunk := func(index int, data []byte) *httptest.ResponseRecorder {
		body, contentType := chunkForm(t, map[string]string{
			"filename":    "big.cbz",
			"chunkIndex":  fmt.Sprint(index),
			"totalChunks": "3",
			"category":    "manga",
		}, data)
		req, _ := http.NewRequest("POST", "/api/upload-chunk", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		uh.UploadChunk(rr, authed(req, "u1"))
		return rr
	}

	// Deliver out of order; intermediate chunks report progress.
	rr := sendChunk(2, []byte("-tail"))
	if rr.Code != http.StatusOK {
		t.Fatalf("chunk 2 status = %d, body %s", rr.Code, rr.Body.String())
	}
	var progress struct {
		Success        bool `json:"success"`
		ChunksReceived int  `json:"chunksReceived"`
	}
	decodeBody(t, rr, &progress)
	if !progress.Success || progress.ChunksReceived != 1 {
		t.Errorf("unexpected progress: %+v", progress)
	}

	if rr := sendChunk(0, []byte("head")); rr.Code != http.StatusOK {
		t.Fatalf("chunk 0 status = %d", rr.Code)
	}

	rr = sendChunk(1, []byte("-mid"))
	if rr.Code != http.StatusOK {
		t.Fatalf("final chunk status = %d, body %s", rr.Code, rr.Body.String())
	}
	var final struct {
		Success  bool   `json:"success"`
		Filename string `json:"filename"`
	}
	decodeBody(t, rr, &final)
	if !final.Success || final.Filename != "big.cbz" {
		t.Errorf("unexpected completion response: %+v", final)
	}

	data, err := os.ReadFile(filepath.Join(bh.Library.UserDir("u1"), "manga", "big.cbz"))
	if err != nil || string(data) != "head-mid-tail" {
		t.Errorf("assembled file: %q, %v", data, err)
	}
}

func TestChunkedUploadValidation(t *testing.T) {
	uh, _ := newUploadHandler(t)

	send := func(fields map[string]string, chunk []byte) *httptest.ResponseRecorder {
		body, contentType := chunkForm(t, fields, chunk)
		req, _ := http.NewRequest("POST", "/api/upload-chunk", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		uh.UploadChunk(rr, authed(req, "u1"))
		return rr
	}

	// Missing metadata fields.
	rr := send(map[string]string{"chunkIndex": "0", "totalChunks": "2"}, []byte("x"))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing filename status = %d, want 400", rr.Code)
	}

	// Index outside the declared total.
	rr = send(map[string]string{"filename": "a.pdf", "chunkIndex": "5", "totalChunks": "2"}, []byte("x"))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("out-of-range index status = %d, want 400", rr.Code)
	}

	// Non-numeric index.
	rr = send(map[string]string{"filename": "a.pdf", "chunkIndex": "one", "totalChunks": "2"}, []byte("x"))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("non-numeric index status = %d, want 400", rr.Code)
	}

	// Missing chunk part.
	rr = send(map[string]string{"filename": "a.pdf", "chunkIndex": "0", "totalChunks": "2"}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing chunk status = %d, want 400", rr.Code)
	}

	// Unsupported extension.
	rr = send(map[string]string{"filename": "a.txt", "chunkIndex": "0", "totalChunks": "1"}, []byte("x"))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unsupported type status = %d, want 400", rr.Code)
	}

	// A body that is not multipart at all fails cleanly too.
	req, _ := http.NewRequest("POST", "/api/upload-chunk", bytes.NewBufferString("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	rr = httptest.NewRecorder()
	uh.UploadChunk(rr, authed(req, "u1"))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("non-multipart status = %d, want 400", rr.Code)
	}
}
