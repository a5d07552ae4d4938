package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type Database struct {
	db *sql.DB
}

// PipelineRecord is one settled recognition pipeline.
type PipelineRecord struct {
	ID                  int64     `json:"id"`
	SessionID           string    `json:"session_id"`
	InputMode           string    `json:"input_mode"`
	Source              string    `json:"source"`
	Recognized          bool      `json:"recognized"`
	Title               string    `json:"title,omitempty"`
	Artist              string    `json:"artist,omitempty"`
	Album               string    `json:"album,omitempty"`
	Reason              string    `json:"reason,omitempty"`
	Recommendations     []string  `json:"recommendations"`
	RecommendationCount int       `json:"recommendation_count"`
	CreatedAt           time.Time `json:"created_at"`
}

// RecognizedTrackRecord aggregates how often a track was identified.
type RecognizedTrackRecord struct {
	Title           string    `json:"title"`
	Artist          string    `json:"artist"`
	TimesRecognized int       `json:"times_recognized"`
	LastRecognized  time.Time `json:"last_recognized"`
}

// New opens (and migrates) the history database at dbPath.
func New(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	d := &Database{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Infof("Database initialized at %s", dbPath)
	return d, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			input_mode TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			recognized INTEGER NOT NULL DEFAULT 0,
			title TEXT NOT NULL DEFAULT '',
			artist TEXT NOT NULL DEFAULT '',
			album TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			recommendations TEXT NOT NULL DEFAULT '[]',
			recommendation_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_history_session ON pipeline_history(session_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_history_track ON pipeline_history(title, artist)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	return nil
}

// RecordPipeline inserts a settled pipeline.
func (d *Database) RecordPipeline(record PipelineRecord) error {
	recommendations := record.Recommendations
	if recommendations == nil {
		recommendations = []string{}
	}
	encoded, err := json.Marshal(recommendations)
	if err != nil {
		return fmt.Errorf("failed to encode recommendations: %w", err)
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = d.db.Exec(
		`INSERT INTO pipeline_history (session_id, input_mode, source, recognized, title, artist, album, reason, recommendations, recommendation_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.SessionID, record.InputMode, record.Source, record.Recognized,
		record.Title, record.Artist, record.Album, record.Reason,
		string(encoded), record.RecommendationCount,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record pipeline: %w", err)
	}
	return nil
}

// GetSessionHistory returns the most recent pipelines of a session, newest first.
func (d *Database) GetSessionHistory(sessionID string, limit int) ([]PipelineRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := d.db.Query(
		`SELECT id, session_id, input_mode, source, recognized, title, artist, album, reason, recommendations, recommendation_count, created_at
		 FROM pipeline_history
		 WHERE session_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records := []PipelineRecord{}
	for rows.Next() {
		var r PipelineRecord
		var recommendations, createdAt string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.InputMode, &r.Source, &r.Recognized,
			&r.Title, &r.Artist, &r.Album, &r.Reason, &recommendations, &r.RecommendationCount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if err := json.Unmarshal([]byte(recommendations), &r.Recommendations); err != nil {
			log.Warnf("failed to decode recommendations for history row %d: %v", r.ID, err)
		}
		r.CreatedAt = parseTimestamp(createdAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetMostRecognized returns the tracks identified most often across sessions.
func (d *Database) GetMostRecognized(limit int) ([]RecognizedTrackRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := d.db.Query(
		`SELECT title, artist, COUNT(*) as times_recognized, MAX(created_at) as last_recognized
		 FROM pipeline_history
		 WHERE recognized = 1
		 GROUP BY title, artist
		 ORDER BY times_recognized DESC, last_recognized DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query most recognized: %w", err)
	}
	defer rows.Close()

	records := []RecognizedTrackRecord{}
	for rows.Next() {
		var r RecognizedTrackRecord
		var lastRecognized string
		if err := rows.Scan(&r.Title, &r.Artist, &r.TimesRecognized, &lastRecognized); err != nil {
			return nil, fmt.Errorf("failed to scan most recognized row: %w", err)
		}
		r.LastRecognized = parseTimestamp(lastRecognized)
		records = append(records, r)
	}
	return records, rows.Err()
}

func parseTimestamp(value string) time.Time {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			return t
		}
	}
	log.Warnf("failed to parse timestamp '%s' with all known formats", value)
	return time.Time{}
}
