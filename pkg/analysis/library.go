package analysis

import (
	"database/sql"
	"os"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Library is the SQLite-backed store of batch analysis results, keyed by
// file path and invalidated by modification time. It complements the JSON
// sidecars: sidecars travel with the files, the library answers bulk
// queries for the whole collection.
type Library struct {
	db  *sql.DB
	log *zap.Logger
}

const librarySchema = `
CREATE TABLE IF NOT EXISTS tracks (
	path        TEXT PRIMARY KEY,
	mod_time    INTEGER NOT NULL,
	size        INTEGER NOT NULL,
	uid         TEXT NOT NULL,
	bpm         REAL,
	confidence  REAL,
	key_name    TEXT,
	camelot     TEXT,
	method      TEXT,
	analyzed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tracks_uid ON tracks(uid);
`

// OpenLibrary opens (creating if needed) the library database at path.
func OpenLibrary(path string, log *zap.Logger) (*Library, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(librarySchema); err != nil {
		db.Close()
		return nil, err
	}
	return &Library{db: db, log: log}, nil
}

// Close closes the underlying database.
func (l *Library) Close() error { return l.db.Close() }

// LibraryEntry is one stored analysis row.
type LibraryEntry struct {
	Path       string
	ModTime    int64
	Size       int64
	UID        string
	BPM        float64
	Confidence float64
	KeyName    string
	Camelot    string
	Method     string
	AnalyzedAt time.Time
}

// Get returns the entry for path if it is present and still matches the
// file's modification time.
func (l *Library) Get(path string, modTime int64) (LibraryEntry, bool) {
	var e LibraryEntry
	var analyzedAt int64
	err := l.db.QueryRow(
		`SELECT path, mod_time, size, uid, COALESCE(bpm,0), COALESCE(confidence,0),
		        COALESCE(key_name,''), COALESCE(camelot,''), COALESCE(method,''), analyzed_at
		 FROM tracks WHERE path = ? AND mod_time = ?`,
		path, modTime,
	).Scan(&e.Path, &e.ModTime, &e.Size, &e.UID, &e.BPM, &e.Confidence,
		&e.KeyName, &e.Camelot, &e.Method, &analyzedAt)
	if err != nil {
		return LibraryEntry{}, false
	}
	e.AnalyzedAt = time.Unix(analyzedAt, 0)
	return e, true
}

// Put upserts an entry.
func (l *Library) Put(e LibraryEntry) error {
	if e.AnalyzedAt.IsZero() {
		e.AnalyzedAt = time.Now()
	}
	_, err := l.db.Exec(
		`INSERT INTO tracks (path, mod_time, size, uid, bpm, confidence, key_name, camelot, method, analyzed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   mod_time = excluded.mod_time,
		   size = excluded.size,
		   uid = excluded.uid,
		   bpm = excluded.bpm,
		   confidence = excluded.confidence,
		   key_name = excluded.key_name,
		   camelot = excluded.camelot,
		   method = excluded.method,
		   analyzed_at = excluded.analyzed_at`,
		e.Path, e.ModTime, e.Size, e.UID, nullFloat(e.BPM), nullFloat(e.Confidence),
		nullStr(e.KeyName), nullStr(e.Camelot), nullStr(e.Method), e.AnalyzedAt.Unix(),
	)
	return err
}

// All returns every stored entry.
func (l *Library) All() ([]LibraryEntry, error) {
	rows, err := l.db.Query(
		`SELECT path, mod_time, size, uid, COALESCE(bpm,0), COALESCE(confidence,0),
		        COALESCE(key_name,''), COALESCE(camelot,''), COALESCE(method,''), analyzed_at
		 FROM tracks ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LibraryEntry
	for rows.Next() {
		var e LibraryEntry
		var analyzedAt int64
		if err := rows.Scan(&e.Path, &e.ModTime, &e.Size, &e.UID, &e.BPM, &e.Confidence,
			&e.KeyName, &e.Camelot, &e.Method, &analyzedAt); err != nil {
			return nil, err
		}
		e.AnalyzedAt = time.Unix(analyzedAt, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup removes entries whose files no longer exist on disk.
func (l *Library) Cleanup() int {
	rows, err := l.db.Query(`SELECT path FROM tracks`)
	if err != nil {
		l.log.Warn("library cleanup query failed", zap.Error(err))
		return 0
	}
	var toDelete []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			toDelete = append(toDelete, path)
		}
	}
	rows.Close()

	for _, path := range toDelete {
		if _, err := l.db.Exec(`DELETE FROM tracks WHERE path = ?`, path); err != nil {
			l.log.Warn("library cleanup delete failed", zap.String("path", path), zap.Error(err))
		}
	}
	if len(toDelete) > 0 {
		l.log.Info("library cleanup", zap.Int("removed", len(toDelete)))
	}
	return len(toDelete)
}

func nullFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
