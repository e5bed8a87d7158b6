package relay

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists board documents as base64 automerge saves in sqlite.
type Store struct {
	database *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{database: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.database.Close()
}

func (s *Store) init() error {
	if _, err := s.database.Exec(
		`CREATE TABLE IF NOT EXISTS boards (
    	id text not null primary key,
        content text not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create boards table: %w", err)
	}
	slog.Info("Ensured initial tables exist")
	return nil
}

// Ensure inserts the board with the given content unless it already exists.
func (s *Store) Ensure(ctx context.Context, id string, content []byte) error {
	if _, err := s.database.ExecContext(
		ctx, `INSERT OR IGNORE INTO boards (id, content) VALUES (?, ?)`,
		id, base64.StdEncoding.EncodeToString(content),
	); err != nil {
		return fmt.Errorf("failed to ensure board %s: %w", id, err)
	}
	return nil
}

// LoadAll returns the saved content of every board.
func (s *Store) LoadAll(ctx context.Context) (map[string][]byte, error) {
	res, err := s.database.QueryContext(ctx, `SELECT id, content FROM boards`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(res *sql.Rows) {
		if err := res.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(res)

	out := make(map[string][]byte)
	for res.Next() {
		var id, rawSave string
		if err := res.Scan(&id, &rawSave); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(rawSave)
		if err != nil {
			return nil, fmt.Errorf("failed to decode board %s: %w", id, err)
		}
		out[id] = raw
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate: %w", err)
	}
	return out, nil
}

// Backup writes the content if it differs from what is stored and reports whether it did.
func (s *Store) Backup(ctx context.Context, id string, content []byte) (bool, error) {
	encoded := base64.StdEncoding.EncodeToString(content)
	res, err := s.database.ExecContext(
		ctx, `UPDATE boards SET content = ? WHERE id = ? AND content != ?`,
		encoded, id, encoded,
	)
	if err != nil {
		return false, fmt.Errorf("failed to back up board %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count rows affected: %w", err)
	}
	return n > 0, nil
}
