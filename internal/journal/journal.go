package journal

import (
	"context"
	"time"

	"github.com/aadegtyarev/go2wb/internal/wb"
)

// Entry is one journaled control value.
type Entry struct {
	ID        int64     `json:"id"`
	Device    string    `json:"device"`
	Control   string    `json:"control"`
	Value     wb.Value  `json:"value"`
	Kind      string    `json:"kind"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Path returns the control path of the entry.
func (e Entry) Path() wb.ControlPath {
	return wb.Path(e.Device, e.Control)
}

// Journal stores and retrieves control value history.
//
// Implementations must be safe for concurrent use and store UTC timestamps.
type Journal interface {
	// Record appends an entry. A zero CreatedAt means now.
	Record(ctx context.Context, entry Entry) error

	// History returns the most recent entries for a path, newest first.
	History(ctx context.Context, path wb.ControlPath, limit int) ([]Entry, error)
}

// Logger is the logging interface used by Observer.
type Logger interface {
	Warn(msg string, args ...any)
}
