package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "agenthub/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the persistence contract the notification pipeline consumes.
type Store interface {
	Store(ctx context.Context, n Notification) (int64, error)
	GetByID(ctx context.Context, id int64) (Notification, error)
	MarkProcessed(ctx context.Context, id int64, score float64, decision, rationale string) error
	GetRecent(ctx context.Context, f Filters) ([]Notification, error)
	SummaryStats(ctx context.Context, since time.Time) (SummaryStats, error)
	Close() error
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite store, creating the file and schema as needed.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("notification store ready", logx.String("path", cfg.Path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Store(ctx context.Context, n Notification) (int64, error) {
	if n.IngestedAt.IsZero() {
		n.IngestedAt = time.Now().UTC()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = n.IngestedAt
	}
	var raw any
	if len(n.Raw) > 0 {
		raw = string(n.Raw)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications
		 (device_id, app_id, app_name, title, body, sender,
		  conversation_hint, timestamp, ingested_at, raw_data)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		n.DeviceID, n.AppID, nullStr(n.AppName), n.Title, nullStr(n.Body),
		nullStr(n.Sender), nullStr(n.ConversationHint),
		n.Timestamp.UTC().Format(time.RFC3339Nano),
		n.IngestedAt.UTC().Format(time.RFC3339Nano),
		raw,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const selectCols = `id, device_id, app_id, app_name, title, body, sender,
	conversation_hint, timestamp, ingested_at, processed,
	relevance_score, decision, rationale, raw_data`

func (s *sqliteStore) GetByID(ctx context.Context, id int64) (Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectCols+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	return n, err
}

func (s *sqliteStore) MarkProcessed(ctx context.Context, id int64, score float64, decision, rationale string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications
		 SET processed = TRUE, relevance_score = ?, decision = ?, rationale = ?
		 WHERE id = ?`,
		score, decision, rationale, id,
	)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) GetRecent(ctx context.Context, f Filters) ([]Notification, error) {
	query := `SELECT ` + selectCols + ` FROM notifications WHERE 1=1`
	var params []any

	if f.DeviceID != "" {
		query += " AND device_id = ?"
		params = append(params, f.DeviceID)
	}
	if f.AppID != "" {
		query += " AND app_id = ?"
		params = append(params, f.AppID)
	}
	if !f.Since.IsZero() {
		query += " AND timestamp >= ?"
		params = append(params, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if f.UnprocessedOnly {
		query += " AND processed = FALSE"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	params = append(params, limit)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SummaryStats(ctx context.Context, since time.Time) (SummaryStats, error) {
	if since.IsZero() {
		since = time.Now().UTC().Add(-24 * time.Hour)
	}
	cutoff := since.UTC().Format(time.RFC3339Nano)
	stats := SummaryStats{Since: since}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE timestamp >= ?`, cutoff,
	).Scan(&stats.Total); err != nil {
		return stats, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT app_id, COALESCE(app_name, ''), COUNT(*) AS count
		 FROM notifications WHERE timestamp >= ?
		 GROUP BY app_id ORDER BY count DESC`, cutoff)
	if err != nil {
		return stats, err
	}
	for rows.Next() {
		var ac AppCount
		if err := rows.Scan(&ac.AppID, &ac.AppName, &ac.Count); err != nil {
			_ = rows.Close()
			return stats, err
		}
		stats.ByApp = append(stats.ByApp, ac)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return stats, err
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT device_id, COUNT(*) AS count
		 FROM notifications WHERE timestamp >= ?
		 GROUP BY device_id ORDER BY count DESC`, cutoff)
	if err != nil {
		return stats, err
	}
	for rows.Next() {
		var dc DeviceCount
		if err := rows.Scan(&dc.DeviceID, &dc.Count); err != nil {
			_ = rows.Close()
			return stats, err
		}
		stats.ByDevice = append(stats.ByDevice, dc)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return stats, err
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT processed, COUNT(*) AS count
		 FROM notifications WHERE timestamp >= ?
		 GROUP BY processed`, cutoff)
	if err != nil {
		return stats, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var processed bool
		var count int
		if err := rows.Scan(&processed, &count); err != nil {
			return stats, err
		}
		if processed {
			stats.Processed = count
		} else {
			stats.Unprocessed = count
		}
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (Notification, error) {
	var n Notification
	var appName, body, sender, hint, decision, rationale, raw sql.NullString
	var score sql.NullFloat64
	var ts, ingested string

	err := row.Scan(
		&n.ID, &n.DeviceID, &n.AppID, &appName, &n.Title, &body, &sender,
		&hint, &ts, &ingested, &n.Processed, &score, &decision, &rationale, &raw,
	)
	if err != nil {
		return Notification{}, err
	}

	n.AppName = appName.String
	n.Body = body.String
	n.Sender = sender.String
	n.ConversationHint = hint.String
	n.RelevanceScore = score.Float64
	n.Decision = decision.String
	n.Rationale = rationale.String
	if raw.Valid && raw.String != "" {
		n.Raw = []byte(raw.String)
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		n.Timestamp = t
	}
	if t, err := time.Parse(time.RFC3339Nano, ingested); err == nil {
		n.IngestedAt = t
	}
	return n, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
