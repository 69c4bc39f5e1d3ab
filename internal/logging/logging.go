package logging

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gluk-w/claworc/tunneling/internal/config"
	"github.com/gluk-w/claworc/tunneling/internal/logutil"
)

// Level is a log severity. Trace sits below Debug for the chatty
// per-command lines; Critical is reserved for failures an operator must act on.
type Level int32

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
	LevelOff
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	case LevelOff:
		return "OFF"
	default:
		return fmt.Sprintf("LEVEL(%d)", int32(l))
	}
}

// ParseLevel accepts level names case-insensitively. "warn" is an alias for
// warning and "deactivate"/"off" silences everything.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	case "critical", "fatal":
		return LevelCritical, nil
	case "off", "deactivate", "deactivated":
		return LevelOff, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Fields are structured key/value pairs appended to a log line.
type Fields map[string]any

var (
	logFile *os.File
	mu      sync.Mutex
	level   atomic.Int32
)

func init() {
	level.Store(int32(LevelInfo))
}

// Init sets up dual logging to stdout and a log file and applies the
// configured level. Must be called after config.Load().
func Init() {
	if lvl, err := ParseLevel(config.Cfg.LogLevel); err == nil {
		SetLevel(lvl)
	} else {
		log.Printf("WARNING: %v, using INFO", err)
	}

	path := config.Cfg.LogPath
	if path == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Printf("WARNING: cannot create log directory: %v", err)
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("WARNING: cannot open log file %s: %v", path, err)
		return
	}

	logFile = f
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.Printf("Logging to file: %s", path)
}

// SetLevel changes the minimum level that is written.
func SetLevel(l Level) {
	level.Store(int32(l))
}

// CurrentLevel returns the minimum level that is written.
func CurrentLevel() Level {
	return Level(level.Load())
}

// Enabled reports whether a line at l would be written.
func Enabled(l Level) bool {
	return l >= CurrentLevel() && l < LevelOff
}

// Logf writes msg at the given level followed by the sorted fields.
func Logf(l Level, msg string, fields Fields) {
	if !Enabled(l) {
		return
	}
	log.Print(format(l, msg, fields))
}

func format(l Level, msg string, fields Fields) string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(l.String())
	b.WriteString("] ")
	b.WriteString(logutil.SanitizeForLog(msg))

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(logutil.FieldValue(fmt.Sprint(fields[k])))
	}
	return b.String()
}

func Trace(msg string, fields Fields)    { Logf(LevelTrace, msg, fields) }
func Debug(msg string, fields Fields)    { Logf(LevelDebug, msg, fields) }
func Info(msg string, fields Fields)     { Logf(LevelInfo, msg, fields) }
func Warn(msg string, fields Fields)     { Logf(LevelWarning, msg, fields) }
func Error(msg string, fields Fields)    { Logf(LevelError, msg, fields) }
func Critical(msg string, fields Fields) { Logf(LevelCritical, msg, fields) }

// Alert logs at Critical when alertAdmins is set and at Warning otherwise.
func Alert(alertAdmins bool, msg string, fields Fields) {
	if alertAdmins {
		Critical(msg, fields)
		return
	}
	Warn(msg, fields)
}

// ReadTail returns the last n lines from the log file.
func ReadTail(n int) (string, error) {
	mu.Lock()
	defer mu.Unlock()

	path := config.Cfg.LogPath
	if path == "" {
		return "", nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan log file: %w", err)
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return strings.Join(lines, "\n"), nil
}

// Clear truncates the log file.
func Clear() error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		if err := logFile.Truncate(0); err != nil {
			return fmt.Errorf("truncate log file: %w", err)
		}
		if _, err := logFile.Seek(0, 0); err != nil {
			return fmt.Errorf("seek log file: %w", err)
		}
		return nil
	}

	if config.Cfg.LogPath == "" {
		return nil
	}
	return os.Truncate(config.Cfg.LogPath, 0)
}
