package session

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrorLog appends durable per-account failure records to a plain text file.
// The file outlives the process so failed accounts can be re-run later with
// the page URL that broke them.
type ErrorLog struct {
	mu    sync.Mutex
	path  string
	runID string
}

func NewErrorLog(path string) *ErrorLog {
	return &ErrorLog{path: path, runID: uuid.NewString()}
}

// RunID identifies this process run in every record it writes.
func (l *ErrorLog) RunID() string { return l.runID }

// Record writes one failure entry with a full stack trace. Write errors are
// returned but callers generally only log them; a failed error record must
// not fail the run.
func (l *ErrorLog) Record(account, pageURL string, cause error) error {
	entry := fmt.Sprintf("[%s] run=%s account=%s url=%s\nerror: %v\nstack:\n%s\n\n",
		time.Now().Format("2006-01-02 15:04:05"),
		l.runID, account, pageURL, cause, debug.Stack())
	return l.append(entry)
}

// RecordLoginFailure writes a credential failure entry. These are expected
// operator-facing outcomes, so the record carries no stack trace.
func (l *ErrorLog) RecordLoginFailure(account string, cause error) error {
	entry := fmt.Sprintf("[%s] run=%s account=%s\nlogin failure: %v\n\n",
		time.Now().Format("2006-01-02 15:04:05"),
		l.runID, account, cause)
	return l.append(entry)
}

func (l *ErrorLog) append(entry string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open error log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("write error log: %w", err)
	}
	return nil
}
