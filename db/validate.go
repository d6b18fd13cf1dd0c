package db

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrNotDatabase = errors.New("not a worklog database")

// Header is the magic string every SQLite 3 database file starts with.
var Header = []byte("SQLite format 3\x00")

var requiredTables = []string{"users", "projects", "entries"}

// ValidateFile checks that path holds an intact SQLite database with the
// worklog tables. It never modifies the file.
func ValidateFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open candidate: %w", err)
	}
	head := make([]byte, len(Header))
	_, err = io.ReadFull(f, head)
	f.Close()
	if err != nil || !bytes.Equal(head, Header) {
		return fmt.Errorf("%w: missing sqlite header", ErrNotDatabase)
	}

	conn, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotDatabase, err)
	}
	defer conn.Close()

	var result string
	if err := conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("%w: %v", ErrNotDatabase, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity check: %s", ErrNotDatabase, result)
	}

	for _, table := range requiredTables {
		var n int
		err := conn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotDatabase, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: table %s missing", ErrNotDatabase, table)
		}
	}
	return nil
}
