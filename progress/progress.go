// Package progress writes the append-only, timestamped run log.
package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aluiziolira/go-etl-banks/models"
)

// TimestampFormat is the layout of progress line timestamps.
const TimestampFormat = "02/Jan/2006—15:04:05"

const separator = " — "

// Formatter renders entries as a timestamp, the separator and the message.
type Formatter struct{}

// Format implements logrus.Formatter.
func (Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(entry.Time.Format(TimestampFormat) + separator + entry.Message + "\n"), nil
}

// Log is the progress sink. Every line is flushed to stable storage before
// Log returns.
type Log struct {
	logger *logrus.Logger
	out    *syncWriter
	now    func() time.Time

	mu     sync.Mutex
	events []models.ProgressEvent
}

// Open opens path for appending, creating it and its directory if needed.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open progress log: %w", err)
	}
	return New(f), nil
}

// New builds a Log over w. If w is an *os.File it is synced after each line.
func New(w io.Writer) *Log {
	out := &syncWriter{w: w}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(Formatter{})
	logger.SetLevel(logrus.InfoLevel)
	return &Log{
		logger: logger,
		out:    out,
		now:    time.Now,
	}
}

// Log appends message with the current time.
func (l *Log) Log(message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now()
	l.logger.WithTime(ts).Info(message)
	if err := l.out.takeErr(); err != nil {
		return fmt.Errorf("write progress log: %w", err)
	}
	l.events = append(l.events, models.ProgressEvent{
		Timestamp: ts.Format(TimestampFormat),
		Message:   message,
	})
	return nil
}

// Events returns the events written through this handle.
func (l *Log) Events() []models.ProgressEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.ProgressEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Close closes the underlying writer when it is closable.
func (l *Log) Close() error {
	if c, ok := l.out.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type syncer interface {
	Sync() error
}

type syncWriter struct {
	w   io.Writer
	err error
}

func (s *syncWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err == nil {
		if f, ok := s.w.(syncer); ok {
			err = f.Sync()
		}
	}
	if err != nil && s.err == nil {
		s.err = err
	}
	return n, err
}

func (s *syncWriter) takeErr() error {
	err := s.err
	s.err = nil
	return err
}
