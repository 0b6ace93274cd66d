package store

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handle is a per-worker view of the Store backed by a dedicated connection,
// so one worker's lookups never contend on another worker's connection.
// A Handle must not be shared across goroutines; its writes are serialized.
type Handle struct {
	s    *Store
	conn dedicatedConn
	mu   sync.Mutex
}

// dedicatedConn is the subset of *sql.Conn the handle uses.
type dedicatedConn interface {
	querier
	Close() error
}

// Handle checks out a dedicated connection for one worker. Callers must
// Close it when the worker finishes.
func (s *Store) Handle(ctx context.Context) (*Handle, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, storageErr("acquire connection", err)
	}
	// busy_timeout is per-connection state; the Open pragmas only covered the
	// pooled connection they happened to run on.
	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		s.logger.Debug("handle pragma failed", zap.Error(err))
	}
	return &Handle{s: s, conn: conn}, nil
}

// Close returns the dedicated connection to the pool.
func (h *Handle) Close() error {
	return h.conn.Close()
}

// FindAnswer resolves question text using this handle's connection.
func (h *Handle) FindAnswer(ctx context.Context, questionText string) (string, bool, error) {
	return findAnswer(ctx, h.conn, h.s.cfg, questionText)
}

// AddQuestion inserts a record through this handle.
func (h *Handle) AddQuestion(ctx context.Context, content, answer string, qt QuestionType, keywords string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return addQuestion(ctx, h.conn, content, answer, qt, keywords)
}

// GetAll returns every record through this handle.
func (h *Handle) GetAll(ctx context.Context) ([]Question, error) {
	return getAll(ctx, h.conn)
}
