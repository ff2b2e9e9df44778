package db

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hollowtree/bookreader-go-server/internal/model"
)

//go:embed schema.sql
var schemaSQLite string

//go:embed schema_mysql.sql
var schemaMySQL string

// ErrUserExists is returned when registering an already-taken username.
var ErrUserExists = errors.New("user already exists")

type DB struct {
	*sql.DB
}

func New(dsn string) (*DB, error) {
	var db *sql.DB
	var err error
	var dbType string

	// Determine database type based on DSN format.
	// MySQL DSN examples: user:password@tcp(host:port)/dbname
	// SQLite DSN: file path (e.g., data/bookreader.db, :memory:)
	isMySQL := strings.Contains(dsn, "@")

	if isMySQL {
		dbType = "mysql"
		db, err = sql.Open("mysql", dsn)
	} else {
		dbType = "sqlite"
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file::memory:") {
			dir := filepath.Dir(dsn)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}

		// Apply pragmas via DSN so they hold for every connection.
		if !strings.Contains(dsn, "?") {
			dsn += "?"
		} else {
			dsn += "&"
		}
		pragmas := []string{
			"_pragma=foreign_keys(1)",
			"_pragma=journal_mode(WAL)",
			"_pragma=busy_timeout(30000)",
			"_pragma=synchronous(NORMAL)",
		}
		dsn += strings.Join(pragmas, "&")

		db, err = sql.Open("sqlite", dsn)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dbType == "sqlite" {
		db.SetMaxOpenConns(25)
	}

	if err := initSchema(db, dbType); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB, dbType string) error {
	schema := schemaSQLite
	if dbType == "mysql" {
		schema = schemaMySQL
	}

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateUser registers a new user and returns it. Usernames are unique.
func (db *DB) CreateUser(username, passwordHash string) (*model.User, error) {
	var exists bool
	if err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)", username).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrUserExists
	}

	user := &model.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().Unix(),
	}
	_, err := db.Exec("INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)",
		user.ID, user.Username, user.PasswordHash, user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (db *DB) GetUserByUsername(username string) (*model.User, error) {
	var user model.User
	row := db.QueryRow("SELECT id, username, password_hash, created_at FROM users WHERE username = ?", username)
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt); err != nil {
		return nil, err
	}
	return &user, nil
}

func (db *DB) GetUserByID(id string) (*model.User, error) {
	var user model.User
	row := db.QueryRow("SELECT id, username, password_hash, created_at FROM users WHERE id = ?", id)
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt); err != nil {
		return nil, err
	}
	return &user, nil
}

func (db *DB) UserExists(id string) (bool, error) {
	var exists bool
	err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", id).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ListUsers returns all users except the given one, for shared-library
// browsing.
func (db *DB) ListUsers(excludeID string) ([]model.User, error) {
	rows, err := db.Query("SELECT id, username, created_at FROM users WHERE id != ? ORDER BY username", excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
