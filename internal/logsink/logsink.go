// Package logsink implements the day-rotating, size-rotating, optionally
// asynchronous log writer that backs the reactor's logging front.
package logsink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/reactorhttpd/reactorhttpd/internal/blockqueue"
)

// Level mirrors the original logger's four levels.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

const maxLines = 50000

// Config configures a Sink.
type Config struct {
	Level         Level
	Dir           string
	Suffix        string
	QueueCapacity int
}

// Sink is an async, line- and day-rotating log writer. A zero Sink is not
// usable; construct with New.
type Sink struct {
	mu       sync.Mutex
	dir      string
	suffix   string
	level    Level
	file     *os.File
	today    int
	lineCnt  int
	isAsync  bool
	deque    *blockqueue.Deque[string]
	wg       sync.WaitGroup
	closeOne sync.Once
}

// New opens (creating the directory if necessary) today's log file and, if
// cfg.QueueCapacity > 0, starts the background writer goroutine.
func New(cfg Config) (*Sink, error) {
	if cfg.Dir == "" {
		cfg.Dir = "./log"
	}
	if cfg.Suffix == "" {
		cfg.Suffix = ".log"
	}
	s := &Sink{
		dir:    cfg.Dir,
		suffix: cfg.Suffix,
		level:  cfg.Level,
	}

	now := time.Now()
	s.today = now.Day()
	if err := s.openFile(s.fileName(now, -1)); err != nil {
		return nil, err
	}

	if cfg.QueueCapacity > 0 {
		s.isAsync = true
		s.deque = blockqueue.New[string](cfg.QueueCapacity)
		s.wg.Add(1)
		go s.drain()
	}
	return s, nil
}

func (s *Sink) fileName(t time.Time, sizeRotation int) string {
	base := fmt.Sprintf("%04d_%02d_%02d", t.Year(), int(t.Month()), t.Day())
	if sizeRotation >= 0 {
		base = fmt.Sprintf("%s-%d", base, sizeRotation)
	}
	return filepath.Join(s.dir, base+s.suffix)
}

// openFile opens name for appending, best-effort creating the directory if
// the first attempt fails, matching the original's mkdir-then-retry policy.
// A second failure is a fatal assertion per spec.md §7 and panics.
func (s *Sink) openFile(name string) error {
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		if mkErr := os.MkdirAll(s.dir, 0777); mkErr != nil {
			panic(fmt.Sprintf("logsink: cannot create log directory %q: %v", s.dir, mkErr))
		}
		f, err = os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			panic(fmt.Sprintf("logsink: cannot open log file %q: %v", name, err))
		}
	}
	if s.file != nil {
		s.file.Close()
	}
	s.file = f
	return nil
}

// Level returns the configured minimum level.
func (s *Sink) Level() Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// SetLevel updates the minimum level.
func (s *Sink) SetLevel(level Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
}

// Write formats and emits one log line at the given level. Rotation is
// checked before every write: a day rollover opens a new dated file and
// resets the line counter; every maxLines-th line opens a new
// size-suffixed file for the same day.
func (s *Sink) Write(level Level, msg string) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.today != now.Day() {
		s.today = now.Day()
		s.lineCnt = 0
		s.openFile(s.fileName(now, -1))
	} else if s.lineCnt > 0 && s.lineCnt%maxLines == 0 {
		s.openFile(s.fileName(now, s.lineCnt/maxLines))
	}
	s.lineCnt++

	line := fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%06d [%s] : %s\n",
		now.Year(), int(now.Month()), now.Day(), now.Hour(), now.Minute(), now.Second(),
		now.Nanosecond()/1000, levelTitle(level), msg)

	if s.isAsync && !s.deque.Full() {
		s.deque.PushBack(line)
		return
	}
	s.file.WriteString(line)
}

func levelTitle(level Level) string {
	switch level {
	case Debug:
		return "debug"
	case Info:
		return "info "
	case Warn:
		return "warn "
	case Error:
		return "error"
	default:
		return "info "
	}
}

// Flush wakes the async drain loop (if any) and flushes the current file.
func (s *Sink) Flush() {
	if s.isAsync {
		s.deque.Flush()
	}
	s.mu.Lock()
	if s.file != nil {
		s.file.Sync()
	}
	s.mu.Unlock()
}

func (s *Sink) drain() {
	defer s.wg.Done()
	for {
		line, ok := s.deque.Pop()
		if !ok {
			return
		}
		s.mu.Lock()
		s.file.WriteString(line)
		s.mu.Unlock()
	}
}

// Close drains and stops the async writer (if running) and closes the
// current file. Idempotent.
func (s *Sink) Close() error {
	s.closeOne.Do(func() {
		if s.isAsync {
			for !s.deque.Empty() {
				s.deque.Flush()
			}
			s.deque.Close()
			s.wg.Wait()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.file != nil {
			s.file.Sync()
			s.file.Close()
			s.file = nil
		}
	})
	return nil
}
