package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/aadegtyarev/go2wb/internal/wb"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// timestampLayout sorts lexicographically in time order.
	timestampLayout = "2006-01-02T15:04:05.000Z"

	observerWriteTimeout = 2 * time.Second
)

// SQLiteJournal implements Journal on the control_history table.
type SQLiteJournal struct {
	db *sql.DB
}

// New creates a journal backed by an open, migrated database.
func New(db *sql.DB) *SQLiteJournal {
	return &SQLiteJournal{db: db}
}

// Record inserts a history entry. Kind is derived from Value; an Unknown
// value is stored as an erasure with an empty text.
func (j *SQLiteJournal) Record(ctx context.Context, entry Entry) error {
	if entry.Device == "" || entry.Control == "" {
		return fmt.Errorf("device and control are required")
	}
	if entry.Source == "" {
		entry.Source = wb.SourceMQTT
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO control_history (device, control, value, kind, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Device,
		entry.Control,
		entry.Value.Encode(),
		entry.Value.Kind().String(),
		entry.Source,
		entry.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting control history: %w", err)
	}
	return nil
}

// History returns recent entries for a concrete path, newest first.
// limit defaults to 50 and is clamped to 200.
func (j *SQLiteJournal) History(ctx context.Context, path wb.ControlPath, limit int) ([]Entry, error) {
	if path.Device == "" || path.Control == "" {
		return nil, fmt.Errorf("device and control are required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, device, control, value, kind, source, created_at
		 FROM control_history
		 WHERE device = ? AND control = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		path.Device,
		path.Control,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying control history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var raw, createdAt string

		if err := rows.Scan(&entry.ID, &entry.Device, &entry.Control, &raw, &entry.Kind, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning control history: %w", err)
		}

		entry.Value = restoreValue(entry.Kind, raw)

		timestamp, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating control history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than the given duration.
func (j *SQLiteJournal) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timestampLayout)
	result, err := j.db.ExecContext(ctx,
		"DELETE FROM control_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting control history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// Observer returns a session observer that journals every recorded value.
// Write failures are logged and dropped.
func (j *SQLiteJournal) Observer(ctx context.Context, logger Logger) wb.ChangeObserver {
	return func(path wb.ControlPath, value wb.Value, source string) {
		writeCtx, cancel := context.WithTimeout(ctx, observerWriteTimeout)
		defer cancel()

		err := j.Record(writeCtx, Entry{
			Device:  path.Device,
			Control: path.Control,
			Value:   value,
			Source:  source,
		})
		if err != nil && logger != nil {
			logger.Warn("journal write failed", "path", path.String(), "error", err)
		}
	}
}

// restoreValue rebuilds a Value from its stored kind, so a text "12" stays text.
func restoreValue(kind, raw string) wb.Value {
	switch kind {
	case wb.KindInteger.String():
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return wb.IntValue(i)
		}
	case wb.KindFloat.String():
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return wb.FloatValue(f)
		}
	case wb.KindText.String():
		return wb.TextValue(raw)
	default:
		return wb.Value{}
	}
	return wb.Decode(raw)
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339Nano, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse(timestampLayout, value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
