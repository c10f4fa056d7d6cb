package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level is the severity of a log line.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarningLevel
	ErrorLevel
	disabledLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarningLevel:
		return "WARNING"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name (case-insensitive) into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarningLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Format selects the line encoding.
type Format string

const (
	HumanFormat Format = "human"
	JSONFormat  Format = "json"
)

const logFileName = "httpserve.log"

// Config configures a Logger. When Dir is set the logger writes to
// Dir/httpserve.log and rotates it once it grows past MaxSize.
type Config struct {
	Format     Format
	Level      Level
	Output     io.Writer
	Dir        string
	MaxSize    int64
	MaxBackups int
}

// Logger writes leveled lines with structured fields.
type Logger struct {
	cfg  Config
	out  io.Writer
	file *os.File
	mu   sync.Mutex

	levelColors map[Level]*color.Color
}

// NewLogger creates a logger. Output defaults to stdout.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 100 * 1024 * 1024 // 100MB
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 10
	}

	l := &Logger{
		cfg: cfg,
		out: cfg.Output,
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(cfg.Dir, logFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
		l.out = f
	}
	if l.out == nil {
		// only the terminal gets colours; color.Output drops them when
		// stdout is not a tty
		l.out = color.Output
		l.levelColors = map[Level]*color.Color{
			DebugLevel:   color.New(color.FgCyan),
			InfoLevel:    color.New(color.FgGreen),
			WarningLevel: color.New(color.FgYellow),
			ErrorLevel:   color.New(color.FgRed, color.Bold),
		}
	}

	return l, nil
}

// NewDiscard returns a logger that drops everything.
func NewDiscard() *Logger {
	return &Logger{
		cfg: Config{Level: disabledLevel},
		out: io.Discard,
	}
}

func (l *Logger) Debug(msg string, fields map[string]interface{}) {
	l.log(DebugLevel, msg, fields)
}

func (l *Logger) Info(msg string, fields map[string]interface{}) {
	l.log(InfoLevel, msg, fields)
}

func (l *Logger) Warning(msg string, fields map[string]interface{}) {
	l.log(WarningLevel, msg, fields)
}

func (l *Logger) Error(msg string, fields map[string]interface{}) {
	l.log(ErrorLevel, msg, fields)
}

// Enabled reports whether lines at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.cfg.Level
}

func (l *Logger) log(level Level, msg string, fields map[string]interface{}) {
	if !l.Enabled(level) {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02T15:04:05.000Z07:00")

	if l.cfg.Format == JSONFormat {
		l.writeJSONLog(timestamp, level, msg, fields)
	} else {
		l.writeTextLog(timestamp, level, msg, fields)
	}
}

func (l *Logger) writeJSONLog(timestamp string, level Level, msg string, fields map[string]interface{}) {
	entry := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		entry[k] = v
	}
	entry["timestamp"] = timestamp
	entry["level"] = level.String()
	entry["message"] = msg

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal log entry: %v\n", err)
		return
	}
	l.out.Write(append(data, '\n'))
}

func (l *Logger) writeTextLog(timestamp string, level Level, msg string, fields map[string]interface{}) {
	var b strings.Builder
	b.WriteString(timestamp)
	b.WriteString(" ")
	tag := "[" + level.String() + "]"
	if c, ok := l.levelColors[level]; ok {
		tag = c.Sprint(tag)
	}
	b.WriteString(tag)
	b.WriteString(" ")
	b.WriteString(msg)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%q", k, fmt.Sprint(fields[k]))
	}
	b.WriteString("\n")

	io.WriteString(l.out, b.String())
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.out = io.Discard
	return err
}

// StartAutoRotate checks the log file size every interval until done is
// closed. It does nothing when logging to a plain writer.
func (l *Logger) StartAutoRotate(interval time.Duration, done <-chan struct{}) {
	if l.cfg.Dir == "" {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				l.rotateIfNeeded()
			}
		}
	}()
}

func (l *Logger) rotateIfNeeded() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}

	info, err := l.file.Stat()
	if err != nil || info.Size() < l.cfg.MaxSize {
		return
	}

	l.rotate()
}

// rotate must be called with l.mu held.
func (l *Logger) rotate() {
	l.file.Close()

	current := filepath.Join(l.cfg.Dir, logFileName)
	backup := filepath.Join(l.cfg.Dir,
		fmt.Sprintf("httpserve.%s.log", time.Now().Format("20060102-150405")))

	if err := os.Rename(current, backup); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate log file: %v\n", err)
	}

	f, err := os.OpenFile(current, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create new log file: %v\n", err)
		l.file = nil
		l.out = io.Discard
		return
	}
	l.file = f
	l.out = f

	l.cleanupOldBackups()
}

func (l *Logger) cleanupOldBackups() {
	files, err := os.ReadDir(l.cfg.Dir)
	if err != nil {
		return
	}

	var backups []string
	for _, f := range files {
		if !f.IsDir() && isBackupFile(f.Name()) {
			backups = append(backups, filepath.Join(l.cfg.Dir, f.Name()))
		}
	}
	// timestamped names sort oldest first
	sort.Strings(backups)

	for i := 0; i < len(backups)-l.cfg.MaxBackups; i++ {
		os.Remove(backups[i])
	}
}

func isBackupFile(name string) bool {
	return name != logFileName && strings.HasPrefix(name, "httpserve.") && strings.HasSuffix(name, ".log")
}

// WithFields returns a logger that adds fields to every line.
func (l *Logger) WithFields(fields map[string]interface{}) *LoggerWithFields {
	return &LoggerWithFields{logger: l, fields: fields}
}

// LoggerWithFields is a Logger with preset fields.
type LoggerWithFields struct {
	logger *Logger
	fields map[string]interface{}
}

func (l *LoggerWithFields) Debug(msg string, fields map[string]interface{}) {
	l.logger.Debug(msg, mergeFields(l.fields, fields))
}

func (l *LoggerWithFields) Info(msg string, fields map[string]interface{}) {
	l.logger.Info(msg, mergeFields(l.fields, fields))
}

func (l *LoggerWithFields) Warning(msg string, fields map[string]interface{}) {
	l.logger.Warning(msg, mergeFields(l.fields, fields))
}

func (l *LoggerWithFields) Error(msg string, fields map[string]interface{}) {
	l.logger.Error(msg, mergeFields(l.fields, fields))
}

func mergeFields(base, additional map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(base)+len(additional))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range additional {
		result[k] = v
	}
	return result
}
