package history

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one finished download. Only terminal outcomes are stored;
// live task state stays in memory and dies with the process.
type Record struct {
	TaskID     string    `json:"task_id"`
	URL        string    `json:"url"`
	Host       string    `json:"host"`
	Status     string    `json:"status"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type Store struct {
	db *sql.DB
}

// Open creates dataDir if needed and opens the history database inside it.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filepath.Join(dataDir, "history.db"))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	// WAL keeps writers from blocking the history endpoint.
	if _, err := db.Exec(`
		PRAGMA busy_timeout = 5000;
		PRAGMA journal_mode = WAL;
	`); err != nil {
		db.Close()
		return nil, err
	}

	query := `
	CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		url TEXT NOT NULL,
		host TEXT,
		status TEXT NOT NULL,
		filename TEXT,
		size INTEGER,
		error TEXT,
		created_time DATETIME,
		finished_time DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_downloads_finished ON downloads(finished_time);
	`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Add(r Record) error {
	query := `INSERT INTO downloads (task_id, url, host, status, filename, size, error, created_time, finished_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, r.TaskID, r.URL, r.Host, r.Status, r.Filename, r.Size, r.Error, r.CreatedAt, r.FinishedAt)
	return err
}

// List returns the most recent records, newest first.
func (s *Store) List(limit int) ([]Record, error) {
	query := `SELECT task_id, url, host, status, filename, size, error, created_time, finished_time
		FROM downloads ORDER BY finished_time DESC LIMIT ?`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.TaskID, &r.URL, &r.Host, &r.Status, &r.Filename, &r.Size, &r.Error, &r.CreatedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
