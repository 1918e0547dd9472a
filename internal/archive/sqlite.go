package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS closed_tickets (
			id               TEXT PRIMARY KEY,
			ticket_id        TEXT NOT NULL,
			type             TEXT NOT NULL,
			channel_name     TEXT NOT NULL DEFAULT '',
			owner_user_id    TEXT NOT NULL,
			owner_name       TEXT NOT NULL DEFAULT '',
			claimed_by       TEXT NOT NULL DEFAULT '',
			reason           TEXT NOT NULL,
			closed_by        TEXT NOT NULL DEFAULT '',
			summary          TEXT NOT NULL DEFAULT '',
			summary_fallback INTEGER NOT NULL DEFAULT 0,
			created_at       TEXT NOT NULL,
			closed_at        TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS closed_ticket_messages (
			entry_id    TEXT NOT NULL REFERENCES closed_tickets(id),
			seq         INTEGER NOT NULL,
			author_id   TEXT NOT NULL,
			author_name TEXT NOT NULL,
			is_bot      INTEGER NOT NULL DEFAULT 0,
			content     TEXT NOT NULL,
			timestamp   TEXT NOT NULL,
			PRIMARY KEY (entry_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_closed_ticket_id ON closed_tickets(ticket_id);
		CREATE INDEX IF NOT EXISTS idx_closed_owner ON closed_tickets(owner_user_id);
		CREATE INDEX IF NOT EXISTS idx_closed_at ON closed_tickets(closed_at);
	`)
	if err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ClosedAt.IsZero() {
		e.ClosedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO closed_tickets (id, ticket_id, type, channel_name, owner_user_id, owner_name, claimed_by,
			reason, closed_by, summary, summary_fallback, created_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TicketID, string(e.Type), e.ChannelName, e.OwnerUserID, e.OwnerName, e.ClaimedBy,
		string(e.Reason), e.ClosedBy, e.Summary, e.SummaryFallback,
		e.CreatedAt.UTC().Format(time.RFC3339Nano), e.ClosedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("archive: save: %w", err)
	}

	for i, m := range e.Messages {
		_, err := tx.ExecContext(ctx, `INSERT INTO closed_ticket_messages (entry_id, seq, author_id, author_name, is_bot, content, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, i, m.AuthorID, m.AuthorName, m.IsBot, m.Content, m.Timestamp.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("archive: save message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

const entryColumns = `id, ticket_id, type, channel_name, owner_user_id, owner_name, claimed_by,
	reason, closed_by, summary, summary_fallback, created_at, closed_at`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM closed_tickets WHERE id = ? OR ticket_id = ? ORDER BY closed_at DESC LIMIT 1`, id, id)

	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("archive: %q: %w", id, protocol.ErrNotFound)
		}
		return nil, fmt.Errorf("archive: get: %w", err)
	}

	msgs, err := s.loadMessages(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	e.Messages = msgs
	return e, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	where, args := filter.where()
	query := `SELECT ` + entryColumns + ` FROM closed_tickets` + where + ` ORDER BY closed_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("archive: list scan: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := filter.where()
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM closed_tickets`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("archive: count: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- helpers ---

func (f Filter) where() (string, []any) {
	clause := " WHERE 1=1"
	var args []any
	if f.Type != "" {
		clause += " AND type = ?"
		args = append(args, string(f.Type))
	}
	if f.Reason != "" {
		clause += " AND reason = ?"
		args = append(args, string(f.Reason))
	}
	if f.OwnerID != "" {
		clause += " AND owner_user_id = ?"
		args = append(args, f.OwnerID)
	}
	if f.Query != "" {
		clause += " AND (summary LIKE ? OR channel_name LIKE ?)"
		pattern := fmt.Sprintf("%%%s%%", f.Query)
		args = append(args, pattern, pattern)
	}
	return clause, args
}

func (s *SQLiteStore) loadMessages(ctx context.Context, entryID string) ([]protocol.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT author_id, author_name, is_bot, content, timestamp FROM closed_ticket_messages WHERE entry_id = ? ORDER BY seq`, entryID)
	if err != nil {
		return nil, fmt.Errorf("archive: load messages: %w", err)
	}
	defer rows.Close()

	var msgs []protocol.Message
	for rows.Next() {
		var m protocol.Message
		var ts string
		if err := rows.Scan(&m.AuthorID, &m.AuthorName, &m.IsBot, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("archive: scan message: %w", err)
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(s scannable) (*Entry, error) {
	var e Entry
	var typ, reason, createdAt, closedAt string

	err := s.Scan(&e.ID, &e.TicketID, &typ, &e.ChannelName, &e.OwnerUserID, &e.OwnerName, &e.ClaimedBy,
		&reason, &e.ClosedBy, &e.Summary, &e.SummaryFallback, &createdAt, &closedAt)
	if err != nil {
		return nil, err
	}

	e.Type = protocol.TicketType(typ)
	e.Reason = protocol.CloseReason(reason)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.ClosedAt, _ = time.Parse(time.RFC3339Nano, closedAt)
	return &e, nil
}
