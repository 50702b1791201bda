package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedEvent inserts a minimal parent row directly and returns its generated
// id. Used by constraint tests that need a valid foreign key target.
func seedEvent(t *testing.T, s *Store, message string) int64 {
	t.Helper()
	res, err := s.db.ExecContext(context.Background(), `
		INSERT INTO logging_event
		(timestmp, formatted_message, logger_name, level_string, thread_name, reference_flag)
		VALUES (?, ?, ?, ?, ?, ?)
	`, int64(1724572800000), message, "test.logger", "INFO", "main", 0)
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("seed event id: %v", err)
	}
	return id
}
