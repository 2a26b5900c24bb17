package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // Import for side-effects only

	"mspro-labs/koredoko/internal/models"
)

// Connect opens a connection to the SQLite database and ensures the schema exists.
// It automatically applies recommended settings for concurrency (WAL mode).
func Connect(dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Use robust connection settings to prevent "database locked" errors
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each new connection would get its own empty in-memory database.
		db.SetMaxOpenConns(1)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err = createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return db, nil
}

// createSchema is private as it's only called by Connect.
func createSchema(db *sql.DB) error {
	// Extraction history (one row per upload)
	extractionsTable := `
	CREATE TABLE IF NOT EXISTS extractions (
	  id TEXT PRIMARY KEY,
	  filename TEXT,
	  filepath TEXT,
	  mime_type TEXT,
	  record_count INTEGER NOT NULL DEFAULT 0,
	  degraded INTEGER NOT NULL DEFAULT 0,
	  store_info TEXT NOT NULL,
	  created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_extractions_created_at ON extractions(created_at);
	`
	if _, err := db.Exec(extractionsTable); err != nil {
		return err
	}

	// Map URL cache (saves a model round trip for repeat lookups)
	cacheTable := `
	CREATE TABLE IF NOT EXISTS map_url_cache (
		query_text TEXT PRIMARY KEY,
		map_url TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(cacheTable); err != nil {
		return err
	}

	return nil
}

// Extraction is one row of the extraction history.
type Extraction struct {
	ID          string
	Filename    string
	Filepath    string
	MIMEType    string
	RecordCount int
	Degraded    bool
	StoreInfo   []models.StoreRecord
	CreatedAt   time.Time
}

// SaveExtraction inserts a history row and returns its id.
func SaveExtraction(ctx context.Context, db *sql.DB, e Extraction) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.StoreInfo == nil {
		e.StoreInfo = []models.StoreRecord{}
	}
	blob, err := json.Marshal(e.StoreInfo)
	if err != nil {
		return "", fmt.Errorf("failed to encode store info: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO extractions (id, filename, filepath, mime_type, record_count, degraded, store_info)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		sql.NullString{String: e.Filename, Valid: e.Filename != ""},
		sql.NullString{String: e.Filepath, Valid: e.Filepath != ""},
		sql.NullString{String: e.MIMEType, Valid: e.MIMEType != ""},
		len(e.StoreInfo),
		e.Degraded,
		string(blob),
	)
	if err != nil {
		return "", fmt.Errorf("failed to save extraction: %w", err)
	}
	return e.ID, nil
}

// ListExtractions returns the most recent extractions, newest first.
func ListExtractions(ctx context.Context, db *sql.DB, limit int) ([]Extraction, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, filename, filepath, mime_type, record_count, degraded, store_info, created_at
		FROM extractions
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Extraction
	for rows.Next() {
		var (
			e                    Extraction
			filename, path, mime sql.NullString
			storeInfo            string
		)
		if err := rows.Scan(&e.ID, &filename, &path, &mime, &e.RecordCount, &e.Degraded, &storeInfo, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Filename, e.Filepath, e.MIMEType = filename.String, path.String, mime.String
		if err := json.Unmarshal([]byte(storeInfo), &e.StoreInfo); err != nil {
			return nil, fmt.Errorf("corrupt store_info for %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearExtractions wipes the extraction history.
func ClearExtractions(ctx context.Context, db *sql.DB) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM extractions")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Map URL cache ---

// CacheKey normalizes a search query for cache lookups.
func CacheKey(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// GetCachedMapURL tries to find a previously generated map URL.
// It returns sql.ErrNoRows on a miss.
func GetCachedMapURL(ctx context.Context, db *sql.DB, query string) (string, error) {
	var mapURL string
	err := db.QueryRowContext(ctx, "SELECT map_url FROM map_url_cache WHERE query_text = ?", CacheKey(query)).Scan(&mapURL)
	return mapURL, err
}

// SaveCachedMapURL saves a query and its URL to the cache. The latest write wins.
func SaveCachedMapURL(ctx context.Context, db *sql.DB, query, mapURL string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO map_url_cache (query_text, map_url) VALUES (?, ?)
		ON CONFLICT(query_text) DO UPDATE SET map_url = excluded.map_url, created_at = CURRENT_TIMESTAMP`,
		CacheKey(query), mapURL)
	return err
}

// ClearMapURLCache wipes the entire cache.
func ClearMapURLCache(ctx context.Context, db *sql.DB) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM map_url_cache")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Store adapts a *sql.DB to the interfaces used by the extractor and server.
type Store struct {
	DB *sql.DB
}

// GetMapURL implements extractor.MapURLCache.
func (s Store) GetMapURL(ctx context.Context, query string) (string, bool, error) {
	u, err := GetCachedMapURL(ctx, s.DB, query)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return u, true, nil
}

// PutMapURL implements extractor.MapURLCache.
func (s Store) PutMapURL(ctx context.Context, query, mapURL string) error {
	return SaveCachedMapURL(ctx, s.DB, query, mapURL)
}

// RecordExtraction appends to the history.
func (s Store) RecordExtraction(ctx context.Context, e Extraction) error {
	_, err := SaveExtraction(ctx, s.DB, e)
	return err
}
