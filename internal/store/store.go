// Package store persists the question/answer bank in SQLite and resolves
// noisy question text against it with an exact-then-fuzzy lookup.
//
// One Store owns the database file. Each worker checks out its own Handle (a
// dedicated connection) so concurrent lookups never contend on a shared
// connection; writes are serialized per handle.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/LampLure/taoshiwan-auto-answer/internal/similarity"
)

// QuestionType discriminates how an answer is applied on the page.
type QuestionType string

const (
	TypeChoice     QuestionType = "choice"
	TypeSubjective QuestionType = "subjective"
)

// Question is one stored record. Content is the canonical matching key;
// Keywords holds auxiliary option text for choice questions.
type Question struct {
	ID       int64
	Content  string
	Answer   string
	Type     QuestionType
	Keywords string
}

// StorageError wraps database failures so callers can distinguish them from
// page-interaction errors and decide whether to retry or abort the account.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("question store: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Config holds the fuzzy lookup thresholds. The values are empirical; see
// DefaultConfig.
type Config struct {
	// MinScore is the strict lower bound a fuzzy candidate must exceed to be
	// returned at all.
	MinScore float64
	// EarlyExit stops the candidate scan as soon as a score beats it.
	EarlyExit float64
}

// DefaultConfig returns the thresholds tuned against the production bank.
func DefaultConfig() Config {
	return Config{
		MinScore:  0.3,
		EarlyExit: 0.9,
	}
}

// Store owns the SQLite question bank.
type Store struct {
	db     *sql.DB
	path   string
	cfg    Config
	logger *zap.Logger

	mu sync.Mutex // serializes writes issued directly on the Store
}

// Open initializes the database at path, creating the schema if needed.
func Open(path string, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinScore == 0 {
		cfg.MinScore = DefaultConfig().MinScore
	}
	if cfg.EarlyExit == 0 {
		cfg.EarlyExit = DefaultConfig().EarlyExit
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storageErr("create directory", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("open database", err)
	}

	// WAL keeps concurrent worker lookups from blocking on each other;
	// synchronous=NORMAL is safe under WAL and much faster.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	s := &Store{db: db, path: path, cfg: cfg, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("question store ready", zap.String("path", path))
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		answer TEXT NOT NULL,
		type TEXT NOT NULL,
		keywords TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_questions_content ON questions(content);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return storageErr("initialize schema", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// querier is satisfied by both *sql.DB and *sql.Conn so the lookup logic is
// shared between the Store and per-worker Handles.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AddQuestion inserts a new record.
func (s *Store) AddQuestion(ctx context.Context, content, answer string, qt QuestionType, keywords string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addQuestion(ctx, s.db, content, answer, qt, keywords)
}

func addQuestion(ctx context.Context, q querier, content, answer string, qt QuestionType, keywords string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO questions (content, answer, type, keywords) VALUES (?, ?, ?, ?)`,
		content, answer, string(qt), keywords)
	if err != nil {
		return storageErr("add question", err)
	}
	return nil
}

// UpdateQuestion rewrites answer and type for an existing record; keywords
// are left untouched when nil.
func (s *Store) UpdateQuestion(ctx context.Context, id int64, answer string, qt QuestionType, keywords *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if keywords != nil {
		_, err = s.db.ExecContext(ctx,
			`UPDATE questions SET answer = ?, type = ?, keywords = ? WHERE id = ?`,
			answer, string(qt), *keywords, id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE questions SET answer = ?, type = ? WHERE id = ?`,
			answer, string(qt), id)
	}
	if err != nil {
		return storageErr("update question", err)
	}
	return nil
}

// UpsertQuestion adds the record, or updates answer/type/keywords in place
// when a record with identical content already exists. Reimporting a bank
// therefore never duplicates content.
func (s *Store) UpsertQuestion(ctx context.Context, content, answer string, qt QuestionType, keywords string) (created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM questions WHERE content = ? LIMIT 1`, content).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := addQuestion(ctx, s.db, content, answer, qt, keywords); err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, storageErr("upsert lookup", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE questions SET answer = ?, type = ?, keywords = ? WHERE id = ?`,
		answer, string(qt), keywords, id); err != nil {
		return false, storageErr("upsert update", err)
	}
	return false, nil
}

// DeleteQuestion removes a record by id.
func (s *Store) DeleteQuestion(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = ?`, id); err != nil {
		return storageErr("delete question", err)
	}
	return nil
}

// QuestionExists reports whether a record with this exact content exists.
func (s *Store) QuestionExists(ctx context.Context, content string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions WHERE content = ?`, content).Scan(&n)
	if err != nil {
		return false, storageErr("question exists", err)
	}
	return n > 0, nil
}

// GetAll returns every stored record.
func (s *Store) GetAll(ctx context.Context) ([]Question, error) {
	return getAll(ctx, s.db)
}

func getAll(ctx context.Context, q querier) ([]Question, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, content, answer, type, COALESCE(keywords, '') FROM questions`)
	if err != nil {
		return nil, storageErr("get all", err)
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		var rec Question
		var qt string
		if err := rows.Scan(&rec.ID, &rec.Content, &rec.Answer, &qt, &rec.Keywords); err != nil {
			return nil, storageErr("scan question", err)
		}
		rec.Type = QuestionType(qt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate questions", err)
	}
	return out, nil
}

// FindAnswer resolves question text against the bank. ok is false when no
// candidate scores strictly above the configured minimum.
func (s *Store) FindAnswer(ctx context.Context, questionText string) (answer string, ok bool, err error) {
	return findAnswer(ctx, s.db, s.cfg, questionText)
}

// findAnswer implements the shared lookup: exact content match first, then a
// token-prefiltered fuzzy scan over the whole bank.
func findAnswer(ctx context.Context, q querier, cfg Config, questionText string) (string, bool, error) {
	var exact string
	err := q.QueryRowContext(ctx, `SELECT answer FROM questions WHERE content = ? LIMIT 1`, questionText).Scan(&exact)
	switch {
	case err == nil:
		return exact, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", false, storageErr("exact lookup", err)
	}

	query := similarity.Normalize(questionText)
	queryTokens := similarity.Tokens(query)

	rows, err := q.QueryContext(ctx, `SELECT answer, content FROM questions`)
	if err != nil {
		return "", false, storageErr("fuzzy scan", err)
	}
	defer rows.Close()

	best := ""
	bestScore := 0.0
	for rows.Next() {
		var candAnswer, candContent string
		if err := rows.Scan(&candAnswer, &candContent); err != nil {
			return "", false, storageErr("scan candidate", err)
		}

		content := similarity.Normalize(candContent)
		contentTokens := similarity.Tokens(content)
		if !overlaps(queryTokens, contentTokens) {
			continue
		}

		score := similarity.ScoreTokens(query, content, queryTokens, contentTokens)
		if score > bestScore {
			bestScore = score
			best = candAnswer
			if score > cfg.EarlyExit {
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return "", false, storageErr("iterate candidates", err)
	}

	if bestScore > cfg.MinScore {
		return best, true, nil
	}
	return "", false, nil
}

func overlaps(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}
