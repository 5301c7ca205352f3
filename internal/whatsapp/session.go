package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultSessionsDir holds one sqlite file per Number.
const DefaultSessionsDir = "./sessions"

// sqlite side files removed together with the main database.
var sideFiles = []string{"-journal", "-wal", "-shm"}

// LocalState manages the on-disk working state the protocol library reads
// and writes while a Number is connected. The persistent copy lives in the
// credential store; this is its materialised form.
type LocalState struct {
	dir string
}

// NewLocalState ensures dir exists.
func NewLocalState(dir string) (*LocalState, error) {
	if dir == "" {
		dir = DefaultSessionsDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &LocalState{dir: dir}, nil
}

// Dir returns the sessions directory.
func (s *LocalState) Dir() string { return s.dir }

// Path returns the sqlite file for a Number.
func (s *LocalState) Path(number string) string {
	return filepath.Join(s.dir, number+".db")
}

// Exists reports whether local state is present for a Number.
func (s *LocalState) Exists(number string) bool {
	_, err := os.Stat(s.Path(number))
	return err == nil
}

// Reset removes any local state for a Number.
func (s *LocalState) Reset(number string) error {
	path := s.Path(number)
	for _, p := range append([]string{path}, suffixed(path)...) {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete session file %s: %w", p, err)
		}
	}
	return nil
}

// Restore replaces the local state for a Number with blob.
func (s *LocalState) Restore(number string, blob []byte) error {
	if len(blob) == 0 {
		return fmt.Errorf("empty credentials for %s", number)
	}
	if err := s.Reset(number); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, number+".*.restore")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.Path(number))
}

// Snapshot returns a consistent copy of the Number's database. The copy is
// made by sqlite itself, so pages the live client is writing are never read
// half-way.
func (s *LocalState) Snapshot(ctx context.Context, number string) ([]byte, error) {
	path := s.Path(number)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, number+".*.snapshot")
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot file: %w", err)
	}
	out := tmp.Name()
	tmp.Close()
	// VACUUM INTO refuses to overwrite
	os.Remove(out)
	defer os.Remove(out)

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", out); err != nil {
		return nil, fmt.Errorf("failed to snapshot session database: %w", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("failed to read session snapshot: %w", err)
	}
	return b, nil
}

// Open opens the whatsmeow device container backed by the Number's file.
func (s *LocalState) Open(ctx context.Context, number string, log waLog.Logger) (*sqlstore.Container, error) {
	dbURI := fmt.Sprintf("file:%s?_foreign_keys=on", s.Path(number))
	container, err := sqlstore.New(ctx, "sqlite3", dbURI, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	return container, nil
}

func suffixed(path string) []string {
	out := make([]string, 0, len(sideFiles))
	for _, s := range sideFiles {
		out = append(out, path+s)
	}
	return out
}
