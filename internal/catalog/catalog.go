// Package catalog stores per-file download metadata in sqlite. The
// tracker answers "was this done"; the catalog answers "what exactly was
// downloaded, where, and how big" for the stats and cleanup modes.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"tgmusic/internal/domain"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// Record is one downloaded file.
type Record struct {
	Key          domain.Key
	FileName     string
	Path         string
	Size         int64
	MimeType     string
	SHA256       string
	PublishedAt  time.Time
	DownloadedAt time.Time
}

// Stats aggregates the catalog contents.
type Stats struct {
	Files      int64
	TotalBytes int64
}

func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("catalog path is required")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
		dbPath = filepath.Clean(dbPath)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS downloads (
	channel_id INTEGER NOT NULL,
	msg_id INTEGER NOT NULL,
	file_name TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER NOT NULL,
	mime_type TEXT NOT NULL DEFAULT '',
	sha256 TEXT NOT NULL DEFAULT '',
	published_at INTEGER NOT NULL DEFAULT 0,
	downloaded_at INTEGER NOT NULL,
	PRIMARY KEY (channel_id, msg_id)
);

CREATE INDEX IF NOT EXISTS idx_downloads_downloaded_at ON downloads(downloaded_at DESC);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Add upserts a download record.
func (s *Store) Add(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO downloads (channel_id, msg_id, file_name, path, size, mime_type, sha256, published_at, downloaded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(channel_id, msg_id) DO UPDATE SET
	file_name = excluded.file_name,
	path = excluded.path,
	size = excluded.size,
	mime_type = excluded.mime_type,
	sha256 = excluded.sha256,
	published_at = excluded.published_at,
	downloaded_at = excluded.downloaded_at`,
		rec.Key.ChannelID, rec.Key.MessageID, rec.FileName, rec.Path, rec.Size,
		rec.MimeType, rec.SHA256, unixOrZero(rec.PublishedAt), rec.DownloadedAt.Unix())
	return err
}

// ListRecent returns up to limit records, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT channel_id, msg_id, file_name, path, size, mime_type, sha256, published_at, downloaded_at
FROM downloads ORDER BY downloaded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var published, downloaded int64
		if err := rows.Scan(&rec.Key.ChannelID, &rec.Key.MessageID, &rec.FileName, &rec.Path,
			&rec.Size, &rec.MimeType, &rec.SHA256, &published, &downloaded); err != nil {
			return nil, err
		}
		if published > 0 {
			rec.PublishedAt = time.Unix(published, 0).UTC()
		}
		rec.DownloadedAt = time.Unix(downloaded, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM downloads`).Scan(&st.Files, &st.TotalBytes)
	return st, err
}

// CleanupMissing drops records whose file no longer exists on disk and
// returns how many were removed.
func (s *Store) CleanupMissing(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id, msg_id, path FROM downloads`)
	if err != nil {
		return 0, err
	}

	type entry struct {
		channelID, msgID int64
	}
	var missing []entry
	for rows.Next() {
		var e entry
		var path string
		if err := rows.Scan(&e.channelID, &e.msgID, &path); err != nil {
			rows.Close()
			return 0, err
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			missing = append(missing, e)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, e := range missing {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM downloads WHERE channel_id = ? AND msg_id = ?`, e.channelID, e.msgID); err != nil {
			return 0, err
		}
	}
	return len(missing), nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
