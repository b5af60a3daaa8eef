// Package audit keeps an append-only JSON-lines trail of every state-changing
// skillhub operation.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"skillhub/internal/skillerr"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

type Logger struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

type Event struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	Operation string            `json:"operation"`
	Skill     string            `json:"skill,omitempty"`
	Product   string            `json:"product,omitempty"`
	Status    string            `json:"status"`
	Code      string            `json:"code,omitempty"`
	Message   string            `json:"message,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

func New(path string) *Logger {
	return &Logger{path: path, now: time.Now}
}

func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Log appends ev, filling in its id and timestamp.
func (l *Logger) Log(ev Event) error {
	if l == nil || l.path == "" {
		return nil
	}
	ev.ID = uuid.NewString()
	ev.Timestamp = l.now().UTC().Format(time.RFC3339Nano)
	if ev.Status == "" {
		ev.Status = StatusOK
	}
	blob, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(blob, '\n')); err != nil {
		return err
	}
	return nil
}

// Outcome logs the result of operation on skill/product. A non-nil opErr
// marks the event failed and carries its code and message.
func (l *Logger) Outcome(operation, skill, product string, opErr error, fields map[string]string) error {
	ev := Event{Operation: operation, Skill: skill, Product: product, Status: StatusOK, Fields: fields}
	if opErr != nil {
		ev.Status = StatusFailed
		ev.Message = opErr.Error()
		var se *skillerr.Error
		if errors.As(opErr, &se) {
			ev.Code = se.Code
		}
	}
	return l.Log(ev)
}

// Tail returns up to limit of the most recent events, oldest first. A
// missing log yields no events. limit <= 0 returns everything.
func (l *Logger) Tail(limit int) ([]Event, error) {
	if l == nil || l.path == "" {
		return nil, nil
	}
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var out []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
