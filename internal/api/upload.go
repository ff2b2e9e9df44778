package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/hollowtree/bookreader-go-server/internal/upload"
)

type UploadHandler struct {
	Assembler *upload.Assembler
}

type uploadedFile struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Error string `json:"error,omitempty"`
}

const maxDirectFiles = 10

// Upload stores complete files sent as multipart field "books". Files are
// processed independently so a batch can partially succeed.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		JSONError(w, "Invalid multipart request", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["books"]
	if len(files) == 0 {
		JSONError(w, "No files uploaded", http.StatusBadRequest)
		return
	}
	if len(files) > maxDirectFiles {
		files = files[:maxDirectFiles]
	}

	category := r.FormValue("category")

	results := make([]uploadedFile, 0, len(files))
	stored := 0
	for _, fh := range files {
		result := uploadedFile{Name: fh.Filename, Size: fh.Size}
		if fh.Size > upload.MaxFileSize {
			result.Error = "File too large. Maximum file size is 500MB."
		} else if data, err := readMultipartFile(fh); err != nil {
			result.Error = "Failed to read file"
		} else if _, err := h.Assembler.SaveDirect(userID, category, fh.Filename, data); err != nil {
			result.Error = uploadErrorMessage(err)
		} else {
			stored++
		}
		results = append(results, result)
	}

	if stored == 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
	}
	JSON(w, map[string]any{
		"success": stored > 0,
		"message": fmt.Sprintf("Successfully uploaded %d file(s)", stored),
		"files":   results,
	})
}

// chunkRequest is the typed form of one chunk-upload request, validated once
// at the boundary before it reaches the assembler.
type chunkRequest struct {
	Filename    string
	ChunkIndex  int
	TotalChunks int
	Category    string
	Data        []byte
}

func parseChunkRequest(r *http.Request) (chunkRequest, error) {
	var req chunkRequest

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return req, upload.ErrMissingMetadata
	}

	req.Filename = r.FormValue("filename")
	req.Category = r.FormValue("category")
	indexStr := r.FormValue("chunkIndex")
	totalStr := r.FormValue("totalChunks")
	if req.Filename == "" || indexStr == "" || totalStr == "" {
		return req, upload.ErrMissingMetadata
	}

	var err error
	if req.ChunkIndex, err = strconv.Atoi(indexStr); err != nil {
		return req, upload.ErrMissingMetadata
	}
	if req.TotalChunks, err = strconv.Atoi(totalStr); err != nil || req.TotalChunks <= 0 {
		return req, upload.ErrMissingMetadata
	}
	if req.ChunkIndex < 0 || req.ChunkIndex >= req.TotalChunks {
		return req, upload.ErrInvalidChunkIndex
	}

	file, _, err := r.FormFile("chunk")
	if err != nil {
		return req, upload.ErrMissingMetadata
	}
	defer file.Close()

	req.Data, err = io.ReadAll(file)
	if err != nil {
		return req, upload.ErrMissingMetadata
	}
	return req, nil
}

// UploadChunk receives one chunk of a large file. When the final chunk
// arrives the assembled file is committed to the category chosen by the
// transfer's first chunk.
func (h *UploadHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	req, err := parseChunkRequest(r)
	if r.MultipartForm != nil {
		// The chunk is already in memory; drop the form's temp files even
		// when validation failed after a successful parse.
		defer r.MultipartForm.RemoveAll()
	}
	if err != nil {
		JSONError(w, uploadErrorMessage(err), http.StatusBadRequest)
		return
	}

	result, err := h.Assembler.AddChunk(userID, req.Filename, req.ChunkIndex, req.TotalChunks, req.Category, req.Data)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrMissingMetadata),
			errors.Is(err, upload.ErrInvalidChunkIndex),
			errors.Is(err, upload.ErrUnsupportedType),
			errors.Is(err, upload.ErrExists):
			JSONError(w, uploadErrorMessage(err), http.StatusBadRequest)
		default:
			log.Printf("Error committing chunked upload: %v", err)
			JSONError(w, "Failed to upload chunk", http.StatusInternalServerError)
		}
		return
	}

	if result.Completed {
		JSON(w, map[string]any{
			"success":  true,
			"message":  "File uploaded successfully",
			"filename": req.Filename,
		})
		return
	}

	JSON(w, map[string]any{
		"success":        true,
		"message":        fmt.Sprintf("Chunk %d/%d received", req.ChunkIndex+1, result.Total),
		"chunksReceived": result.Received,
	})
}

func readMultipartFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, upload.MaxFileSize+1))
}

func uploadErrorMessage(err error) string {
	switch {
	case errors.Is(err, upload.ErrMissingMetadata):
		return "Missing chunk information"
	case errors.Is(err, upload.ErrInvalidChunkIndex):
		return "Invalid chunk index"
	case errors.Is(err, upload.ErrUnsupportedType):
		return "Invalid file type. Only PDF, EPUB, CBZ, CBR, and MOBI files are allowed."
	case errors.Is(err, upload.ErrExists):
		return "A book with this name already exists"
	default:
		return "Failed to upload file"
	}
}
