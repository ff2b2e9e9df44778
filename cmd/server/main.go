package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/hollowtree/bookreader-go-server/internal/api"
	"github.com/hollowtree/bookreader-go-server/internal/auth"
	"github.com/hollowtree/bookreader-go-server/internal/covers"
	"github.com/hollowtree/bookreader-go-server/internal/db"
	"github.com/hollowtree/bookreader-go-server/internal/library"
	"github.com/hollowtree/bookreader-go-server/internal/upload"
)

func main() {
	// Initialize Auth
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	auth.Init(jwtSecret)

	// Initialize Database (user registry)
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "data/bookreader.db"
	}
	database, err := db.New(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	// Storage roots
	userRoot := os.Getenv("USER_BOOKS_DIR")
	if userRoot == "" {
		userRoot = "user_books"
	}
	sharedRoot := os.Getenv("SHARED_BOOKS_DIR")
	if sharedRoot == "" {
		sharedRoot = "Books"
	}

	lib := library.New(userRoot, sharedRoot)
	if err := os.MkdirAll(userRoot, 0o755); err != nil {
		log.Fatalf("Failed to create user books dir: %v", err)
	}
	if err := lib.EnsureSharedDirs(); err != nil {
		log.Fatalf("Failed to create shared books dirs: %v", err)
	}

	// Upload assembler
	policy := upload.OverwritePolicy(os.Getenv("UPLOAD_OVERWRITE"))
	ttl := 30 * time.Minute
	if v := os.Getenv("UPLOAD_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			ttl = d
		}
	}
	assembler := upload.NewAssembler(lib, policy, ttl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assembler.StartSweep(ctx)

	coverStore := covers.NewStore(userRoot)

	// Initialize Handlers
	authHandler := &api.AuthHandler{DB: database, Library: lib}
	booksHandler := &api.BooksHandler{DB: database, Library: lib, Covers: coverStore}
	uploadHandler := &api.UploadHandler{Assembler: assembler}
	coversHandler := &api.CoversHandler{Library: lib, Covers: coverStore}
	mw := &api.Middleware{DB: database}

	// Router
	mux := http.NewServeMux()

	// Public Routes
	mux.HandleFunc("GET /healthz", api.Health)
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Protected Routes
	protect := func(h http.HandlerFunc) http.Handler {
		return mw.AuthMiddleware(h)
	}
	mux.Handle("GET /api/auth/me", protect(authHandler.GetMe))

	mux.Handle("GET /api/books", protect(booksHandler.ListBooks))
	mux.Handle("GET /api/books/{bookId}/pages", protect(booksHandler.GetPages))
	mux.Handle("GET /api/books/{bookId}/file", protect(booksHandler.ServeFile))
	mux.Handle("GET /api/images/{path...}", protect(booksHandler.ServeImage))
	mux.Handle("POST /api/books/{bookId}/rename", protect(booksHandler.Rename))
	mux.Handle("POST /api/books/{bookId}/category", protect(booksHandler.ChangeCategory))
	mux.Handle("DELETE /api/books/{bookId}", protect(booksHandler.Delete))

	mux.Handle("POST /api/upload", protect(uploadHandler.Upload))
	mux.Handle("POST /api/upload-chunk", protect(uploadHandler.UploadChunk))

	mux.Handle("GET /api/users", protect(booksHandler.ListUsers))
	mux.Handle("GET /api/users/{userId}/books", protect(booksHandler.GetUserBooks))
	mux.Handle("POST /api/users/{userId}/books/{bookId}/copy", protect(booksHandler.CopyBook))

	mux.Handle("GET /api/books/{bookId}/cover", protect(coversHandler.GetCover))
	mux.Handle("POST /api/books/{bookId}/cover", protect(coversHandler.SetCover))
	mux.Handle("DELETE /api/books/{bookId}/cover", protect(coversHandler.DeleteCover))
	mux.Handle("GET /api/books/{bookId}/thumbnail", protect(coversHandler.Thumbnail))

	// Static reading UI, when present
	staticDir := os.Getenv("STATIC_DIR")
	if staticDir == "" {
		staticDir = "public"
	}
	if info, err := os.Stat(staticDir); err == nil && info.IsDir() {
		mux.Handle("GET /", http.FileServer(http.Dir(staticDir)))
	}

	// Start Server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8669"
	}
	log.Printf("BookReader server starting on port %s (user books: %s, shared: %s)", port, userRoot, sharedRoot)
	if err := http.ListenAndServe(":"+port, api.LoggingMiddleware(mux)); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
