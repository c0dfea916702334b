// Package history persists per-project selection and expansion state in a
// local SQLite database so a project reopens the way it was left.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("history store is closed")

// Path set kinds.
const (
	KindSelected = "selected"
	KindExpanded = "expanded"
)

// Config configures the store.
type Config struct {
	// Path is the database file. ":memory:" keeps history in process.
	Path string `json:"path" koanf:"path"`
}

// DefaultConfig stores history under the user config directory.
func DefaultConfig() Config {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return Config{Path: filepath.Join(dir, "ctxpack", "history.db")}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return errors.New("path is required")
	}
	return nil
}

// Project is a project with saved state.
type Project struct {
	Path      string    `json:"path"`
	Selected  int       `json:"selected"`
	Expanded  int       `json:"expanded"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is a SQLite-backed history store. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens or creates the database at cfg.Path.
func Open(cfg Config, opts ...Option) (*Store, error) {
	dbPath := strings.TrimSpace(cfg.Path)
	if dbPath == "" {
		return nil, fmt.Errorf("history db path is empty")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	s := &Store{db: db, path: dbPath, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		path       TEXT PRIMARY KEY,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS paths (
		project  TEXT NOT NULL REFERENCES projects(path) ON DELETE CASCADE,
		kind     TEXT NOT NULL,
		position INTEGER NOT NULL,
		path     TEXT NOT NULL,
		PRIMARY KEY(project, kind, position)
	);

	CREATE INDEX IF NOT EXISTS idx_paths_project ON paths(project, kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// SaveSelection replaces the saved selection of project. Order is kept.
func (s *Store) SaveSelection(ctx context.Context, project string, paths []string) error {
	return s.save(ctx, project, KindSelected, paths)
}

// LoadSelection returns the saved selection of project, oldest first.
// A project with no history returns an empty slice.
func (s *Store) LoadSelection(ctx context.Context, project string) ([]string, error) {
	return s.load(ctx, project, KindSelected)
}

// SaveExpanded replaces the saved expanded directories of project.
func (s *Store) SaveExpanded(ctx context.Context, project string, paths []string) error {
	return s.save(ctx, project, KindExpanded, paths)
}

// LoadExpanded returns the saved expanded directories of project.
func (s *Store) LoadExpanded(ctx context.Context, project string) ([]string, error) {
	return s.load(ctx, project, KindExpanded)
}

func (s *Store) save(ctx context.Context, project, kind string, paths []string) (err error) {
	if s.db == nil {
		return ErrClosed
	}
	project = filepath.Clean(project)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO projects (path, updated_at) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET updated_at = excluded.updated_at`,
		project, s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM paths WHERE project = ? AND kind = ?`, project, kind); err != nil {
		return fmt.Errorf("clear %s paths: %w", kind, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO paths (project, kind, position, path) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for i, p := range paths {
		if _, err = stmt.ExecContext(ctx, project, kind, i, p); err != nil {
			return fmt.Errorf("insert %s path: %w", kind, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("history saved", zap.String("project", project), zap.String("kind", kind), zap.Int("paths", len(paths)))
	return nil
}

func (s *Store) load(ctx context.Context, project, kind string) ([]string, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM paths WHERE project = ? AND kind = ? ORDER BY position`,
		filepath.Clean(project), kind)
	if err != nil {
		return nil, fmt.Errorf("query %s paths: %w", kind, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan %s path: %w", kind, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Projects lists projects with saved state, most recently updated first.
func (s *Store) Projects(ctx context.Context) ([]Project, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.path, p.updated_at,
			(SELECT COUNT(*) FROM paths WHERE project = p.path AND kind = ?),
			(SELECT COUNT(*) FROM paths WHERE project = p.path AND kind = ?)
		FROM projects p
		ORDER BY p.updated_at DESC, p.path`, KindSelected, KindExpanded)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var (
			p       Project
			updated string
		)
		if err := rows.Scan(&p.Path, &updated, &p.Selected, &p.Expanded); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			s.logger.Warn("bad project timestamp", zap.String("project", p.Path), zap.String("updated_at", updated))
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Forget removes all saved state of project.
func (s *Store) Forget(ctx context.Context, project string) error {
	if s.db == nil {
		return ErrClosed
	}
	project = filepath.Clean(project)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// PRAGMA foreign_keys is per connection, so the cascade is not relied on.
	if _, err := tx.ExecContext(ctx, `DELETE FROM paths WHERE project = ?`, project); err != nil {
		return fmt.Errorf("forget paths: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE path = ?`, project); err != nil {
		return fmt.Errorf("forget project: %w", err)
	}
	return tx.Commit()
}
