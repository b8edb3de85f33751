package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/d1nch8g/linecue/events"
)

const defaultBusyTimeout = 5 * time.Second

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS slot_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL,
		at TEXT NOT NULL,
		slot INTEGER NOT NULL,
		kind TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		item_index INTEGER NOT NULL DEFAULT -1,
		item_id TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		label TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_slot_events_slot ON slot_events(slot, id)`,
}

// Entry is one journaled slot event.
type Entry struct {
	ID      int64     `json:"id"`
	Session string    `json:"session"`
	At      time.Time `json:"at"`
	Slot    int       `json:"slot"`
	Kind    string    `json:"kind"`
	Reason  string    `json:"reason,omitempty"`
	State   string    `json:"state,omitempty"`
	Index   int       `json:"currentIndex"`
	ItemID  string    `json:"itemId,omitempty"`
	Source  string    `json:"source,omitempty"`
	Label   string    `json:"label,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Journal persists slot events to SQLite so shifts can be reviewed later.
type Journal struct {
	db      *sql.DB
	session string
	logger  *log.Logger
}

// Open opens (creating if needed) the journal database at path.
func Open(ctx context.Context, path string, logger *log.Logger) (*Journal, error) {
	if logger == nil {
		logger = log.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", int(defaultBusyTimeout.Milliseconds())),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range append(pragmas, schemaStatements...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: exec %q: %w", firstLine(stmt), err)
		}
	}

	return &Journal{db: db, session: uuid.NewString(), logger: logger}, nil
}

// Session identifies this process run in journaled rows.
func (j *Journal) Session() string {
	return j.session
}

// Record stores one event. Trigger events are skipped; their effect shows
// up as the state change that follows.
func (j *Journal) Record(ctx context.Context, ev events.Event) error {
	if ev.Kind == events.KindTrigger {
		return nil
	}

	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	var itemID, source, label string
	if ev.Item != nil {
		itemID, source, label = ev.Item.ID, ev.Item.Source, ev.Item.Label
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO slot_events (session, at, slot, kind, reason, state, item_index, item_id, source, label, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.session, at.UTC().Format(time.RFC3339Nano), ev.Slot, string(ev.Kind), ev.Reason, ev.State,
		ev.Index, itemID, source, label, ev.Message,
	)
	if err != nil {
		return fmt.Errorf("journal: insert event: %w", err)
	}
	return nil
}

// Run records events from sub until ctx is cancelled or sub is closed.
func (j *Journal) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := j.Record(ctx, ev); err != nil {
				j.logger.Printf("[Journal] %v", err)
			}
		}
	}
}

// Recent returns up to limit entries for slot, newest first. Slot 0 means all slots.
func (j *Journal) Recent(ctx context.Context, slot, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, session, at, slot, kind, reason, state, item_index, item_id, source, label, message
		FROM slot_events`
	args := []any{}
	if slot > 0 {
		query += ` WHERE slot = ?`
		args = append(args, slot)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			at string
		)
		if err := rows.Scan(&e.ID, &e.Session, &at, &e.Slot, &e.Kind, &e.Reason, &e.State,
			&e.Index, &e.ItemID, &e.Source, &e.Label, &e.Message); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		if e.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("journal: parse time %q: %w", at, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate events: %w", err)
	}
	return out, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
