package knowledge_store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const (
	reinforceStep = 0.1
	minConfidence = 0.05
)

type sqliteImpl struct {
	db     *sql.DB
	mu     sync.Mutex
	now    func() time.Time
	logger *zap.Logger
}

type Config struct {
	// Path of the database file; parent directories are created.
	Path   string
	Now    func() time.Time
	Logger *zap.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Path == "" {
		return nil, fmt.Errorf("path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, storeErr("create database directory", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, storeErr("open", err)
	}

	// One writer; the mutex below serializes callers on top of this.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, storeErr("configure", err)
		}
	}

	s := &sqliteImpl{
		db:     db,
		now:    cfg.Now,
		logger: cfg.Logger,
	}

	if s.now == nil {
		s.now = time.Now
	}

	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("knowledge")

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, storeErr("migrate", err)
	}

	return s, nil
}

func (s *sqliteImpl) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS patterns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_phrase TEXT NOT NULL,
		to_entity TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL,
		usage_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (from_phrase, to_entity)
	);

	CREATE INDEX IF NOT EXISTS idx_patterns_from_phrase ON patterns(from_phrase);

	CREATE TABLE IF NOT EXISTS goals (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS milestones (
		id TEXT PRIMARY KEY,
		goal_id TEXT NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_milestones_goal_id ON milestones(goal_id);

	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		goal_id TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL,
		rationale TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON decisions(created_at DESC);

	CREATE TABLE IF NOT EXISTS context (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)

	return err
}

func (s *sqliteImpl) Close() error {
	return s.db.Close()
}

func (s *sqliteImpl) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

const patternColumns = `id, from_phrase, to_entity, context, confidence, usage_count, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPattern(row scanner) (Pattern, error) {
	var (
		p                    Pattern
		createdAt, updatedAt string
	)

	if err := row.Scan(&p.ID, &p.FromPhrase, &p.ToEntity, &p.Context, &p.Confidence, &p.UsageCount, &createdAt, &updatedAt); err != nil {
		return Pattern{}, err
	}

	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)

	return p, nil
}

func (s *sqliteImpl) Lookup(ctx context.Context, phrase string) (*Match, error) {
	key := NormalizePhrase(phrase)
	if key == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
	SELECT `+patternColumns+` FROM patterns
	WHERE from_phrase = ?
	ORDER BY confidence DESC, usage_count DESC, updated_at DESC
	LIMIT 1`, key)

	p, err := scanPattern(row)
	switch {
	case err == nil:
		return &Match{Pattern: p, Exact: true}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, storeErr("lookup", err)
	}

	all, err := s.bestPerPhrase(ctx)
	if err != nil {
		return nil, storeErr("lookup", err)
	}

	return fuzzyMatch(key, all), nil
}

// bestPerPhrase returns the winning row for every known phrase.
func (s *sqliteImpl) bestPerPhrase(ctx context.Context) ([]Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+patternColumns+` FROM patterns
	ORDER BY from_phrase, confidence DESC, usage_count DESC, updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}

		if len(out) > 0 && out[len(out)-1].FromPhrase == p.FromPhrase {
			continue
		}

		out = append(out, p)
	}

	return out, rows.Err()
}

func (s *sqliteImpl) Patterns(ctx context.Context) ([]Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
	SELECT `+patternColumns+` FROM patterns
	ORDER BY usage_count DESC, confidence DESC, id`)
	if err != nil {
		return nil, storeErr("list patterns", err)
	}
	defer rows.Close()

	var out []Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, storeErr("list patterns", err)
		}
		out = append(out, p)
	}

	return out, storeErr("list patterns", rows.Err())
}

func (s *sqliteImpl) patternByID(ctx context.Context, id int64) (Pattern, error) {
	return scanPattern(s.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id))
}

func (s *sqliteImpl) Learn(ctx context.Context, from, to, hint string, confidence float64) (Pattern, error) {
	key := NormalizePhrase(from)
	if key == "" || to == "" {
		return Pattern{}, storeErr("learn", fmt.Errorf("empty phrase or entity"))
	}

	confidence = clamp(confidence)
	now := s.stamp()

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
	INSERT INTO patterns (from_phrase, to_entity, context, confidence, usage_count, created_at, updated_at)
	VALUES (?, ?, ?, ?, 1, ?, ?)
	ON CONFLICT(from_phrase, to_entity) DO UPDATE SET
		context = CASE WHEN excluded.context != '' THEN excluded.context ELSE patterns.context END,
		confidence = MAX(patterns.confidence, excluded.confidence),
		usage_count = patterns.usage_count + 1,
		updated_at = excluded.updated_at
	RETURNING `+patternColumns, key, to, hint, confidence, now, now)

	p, err := scanPattern(row)
	if err != nil {
		return Pattern{}, storeErr("learn", err)
	}

	s.logger.Debug("pattern learned",
		zap.String("from", p.FromPhrase),
		zap.String("to", p.ToEntity),
		zap.Float64("confidence", p.Confidence),
		zap.Int64("usage", p.UsageCount))

	return p, nil
}

func (s *sqliteImpl) Reinforce(ctx context.Context, id int64) (Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
	UPDATE patterns SET
		usage_count = usage_count + 1,
		confidence = MIN(1.0, confidence + (1.0 - confidence) * ?),
		updated_at = ?
	WHERE id = ?`, reinforceStep, s.stamp(), id)
	if err != nil {
		return Pattern{}, storeErr("reinforce", err)
	}

	if err := expectOne(res); err != nil {
		return Pattern{}, storeErr("reinforce", err)
	}

	p, err := s.patternByID(ctx, id)

	return p, storeErr("reinforce", err)
}

func (s *sqliteImpl) Demote(ctx context.Context, id int64, factor float64) (Pattern, error) {
	if factor <= 0 || factor >= 1 {
		return Pattern{}, storeErr("demote", fmt.Errorf("factor %v outside (0,1)", factor))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
	UPDATE patterns SET
		confidence = MAX(?, confidence * ?),
		updated_at = ?
	WHERE id = ?`, minConfidence, factor, s.stamp(), id)
	if err != nil {
		return Pattern{}, storeErr("demote", err)
	}

	if err := expectOne(res); err != nil {
		return Pattern{}, storeErr("demote", err)
	}

	p, err := s.patternByID(ctx, id)

	return p, storeErr("demote", err)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n != 1 {
		return sql.ErrNoRows
	}

	return nil
}

func clamp(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	}

	return v
}
