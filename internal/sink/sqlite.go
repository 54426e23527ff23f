package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/skit-ai/callsample/internal/model"
)

// SQLite persists turns into a single-table SQLite file, convenient for
// downstream notebooks that prefer SQL over CSV. Nested fields are stored as
// JSON text so json_extract works on them directly.
type SQLite struct {
	db   *sql.DB
	stmt *sql.Stmt
	path string
}

// NewSQLite opens (or creates) the database and prepares the turns table.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sink: open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sink: enable WAL: %w", err)
	}

	columns := model.Columns()
	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = col + " TEXT"
	}
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS turns (%s);`, strings.Join(defs, ", "))
	if _, err := db.Exec(create); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sink: create turns table: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	insert := fmt.Sprintf(`INSERT INTO turns (%s) VALUES (%s);`,
		strings.Join(columns, ", "), placeholders)
	stmt, err := db.Prepare(insert)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sink: prepare insert: %w", err)
	}

	return &SQLite{db: db, stmt: stmt, path: path}, nil
}

func (s *SQLite) Write(ctx context.Context, turn model.Turn) error {
	record := turn.Record()
	args := make([]any, len(record))
	for i, cell := range record {
		args[i] = cell
	}
	if _, err := s.stmt.ExecContext(ctx, args...); err != nil {
		return fmt.Errorf("sink: insert turn: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	_ = s.stmt.Close()
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }
