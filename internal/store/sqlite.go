package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"github.com/twiddli/happypanda/internal/gallery"
	"github.com/twiddli/happypanda/internal/logging"
	"github.com/twiddli/happypanda/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// DB is the sqlite persistence layer behind the store. It only round-trips
// gallery records; search state is derived in memory and never persisted.
type DB struct {
	db     *sql.DB
	dbPath string
}

// OpenDB opens (creating if needed) the gallery database. dbPath must be the
// full path to the database file and its parent directory must exist.
func OpenDB(ctx context.Context, dbPath string) (*DB, error) {
	logging.Info("Database path: %s", dbPath)

	// busy_timeout helps prevent "database is locked" errors
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000&_foreign_keys=on", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	d := &DB{db: db, dbPath: dbPath}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

func (d *DB) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS galleries (
		signature TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		path TEXT NOT NULL,
		kind TEXT NOT NULL,
		page_count INTEGER NOT NULL DEFAULT 0,
		first_page TEXT NOT NULL DEFAULT '',
		added_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_galleries_path ON galleries(path);
	CREATE INDEX IF NOT EXISTS idx_galleries_title ON galleries(title COLLATE NOCASE);

	CREATE TABLE IF NOT EXISTS gallery_tags (
		signature TEXT NOT NULL REFERENCES galleries(signature) ON DELETE CASCADE,
		namespace TEXT NOT NULL,
		tag TEXT NOT NULL,
		PRIMARY KEY (signature, namespace, tag)
	);

	CREATE INDEX IF NOT EXISTS idx_gallery_tags_ns_tag ON gallery_tags(namespace, tag);
	`

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := d.db.ExecContext(ctx, schema)
	return err
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// BeginBatch starts a transaction for batch operations. The caller is
// responsible for calling EndBatch when done.
func (d *DB) BeginBatch() (*sql.Tx, error) {
	// Transaction lifetime is managed by EndBatch, not a timeout.
	return d.db.BeginTx(context.Background(), nil)
}

// EndBatch commits or rolls back a transaction depending on err.
func (d *DB) EndBatch(tx *sql.Tx, err error) error {
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}
	return tx.Commit()
}

// upsertRecord writes one record within a transaction. Tags are replaced
// wholesale; the record carries the full desired tag set.
func (d *DB) upsertRecord(tx *sql.Tx, r *gallery.Record) error {
	start := time.Now()
	query := `
	INSERT INTO galleries (signature, title, path, kind, page_count, first_page, added_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(signature) DO UPDATE SET
		title = excluded.title,
		path = excluded.path,
		kind = excluded.kind,
		page_count = excluded.page_count,
		first_page = excluded.first_page,
		updated_at = excluded.updated_at
	`
	_, err := tx.ExecContext(context.Background(), query,
		string(r.Signature),
		r.Title,
		r.Path,
		string(r.Kind),
		r.PageCount,
		r.FirstPage,
		r.AddedAt.Unix(),
		r.UpdatedAt.Unix(),
	)
	if err != nil {
		recordQuery("upsert_gallery", start, err)
		return err
	}

	if _, err = tx.ExecContext(context.Background(),
		"DELETE FROM gallery_tags WHERE signature = ?", string(r.Signature)); err != nil {
		recordQuery("upsert_gallery", start, err)
		return err
	}
	for ns, tags := range r.Tags {
		for _, tag := range tags {
			if _, err = tx.ExecContext(context.Background(),
				"INSERT OR IGNORE INTO gallery_tags (signature, namespace, tag) VALUES (?, ?, ?)",
				string(r.Signature), ns, tag); err != nil {
				recordQuery("upsert_gallery", start, err)
				return err
			}
		}
	}
	recordQuery("upsert_gallery", start, nil)
	return nil
}

// deleteRecord removes one record within a transaction. Unknown signatures
// are a no-op.
func (d *DB) deleteRecord(tx *sql.Tx, sig gallery.Signature) error {
	start := time.Now()
	_, err := tx.ExecContext(context.Background(),
		"DELETE FROM galleries WHERE signature = ?", string(sig))
	recordQuery("delete_gallery", start, err)
	return err
}

// LoadAll reads every persisted record, tags included.
func (d *DB) LoadAll(ctx context.Context) ([]*gallery.Record, error) {
	start := time.Now()

	rows, err := d.db.QueryContext(ctx,
		"SELECT signature, title, path, kind, page_count, first_page, added_at, updated_at FROM galleries")
	if err != nil {
		recordQuery("load_all", start, err)
		return nil, err
	}
	defer rows.Close()

	bysig := make(map[gallery.Signature]*gallery.Record)
	var records []*gallery.Record
	for rows.Next() {
		var (
			sig, title, path, kind, firstPage string
			pageCount                         int
			addedAt, updatedAt                int64
		)
		if err := rows.Scan(&sig, &title, &path, &kind, &pageCount, &firstPage, &addedAt, &updatedAt); err != nil {
			recordQuery("load_all", start, err)
			return nil, err
		}
		r := &gallery.Record{
			Signature: gallery.Signature(sig),
			Title:     title,
			Path:      path,
			Kind:      gallery.Kind(kind),
			PageCount: pageCount,
			FirstPage: firstPage,
			Tags:      gallery.Tags{},
			AddedAt:   time.Unix(addedAt, 0),
			UpdatedAt: time.Unix(updatedAt, 0),
		}
		bysig[r.Signature] = r
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		recordQuery("load_all", start, err)
		return nil, err
	}

	tagRows, err := d.db.QueryContext(ctx,
		"SELECT signature, namespace, tag FROM gallery_tags")
	if err != nil {
		recordQuery("load_all", start, err)
		return nil, err
	}
	defer tagRows.Close()

	for tagRows.Next() {
		var sig, ns, tag string
		if err := tagRows.Scan(&sig, &ns, &tag); err != nil {
			recordQuery("load_all", start, err)
			return nil, err
		}
		if r, ok := bysig[gallery.Signature(sig)]; ok {
			r.Tags.Add(ns, tag)
		}
	}
	if err := tagRows.Err(); err != nil {
		recordQuery("load_all", start, err)
		return nil, err
	}

	recordQuery("load_all", start, nil)
	return records, nil
}

// UpdateDBMetrics refreshes the database file size gauges.
func (d *DB) UpdateDBMetrics() {
	for _, f := range []struct{ label, suffix string }{
		{"main", ""},
		{"wal", "-wal"},
		{"shm", "-shm"},
	} {
		if info, err := os.Stat(d.dbPath + f.suffix); err == nil {
			metrics.DBSizeBytes.WithLabelValues(f.label).Set(float64(info.Size()))
		}
	}
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}
