package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (lv Level) String() string {
	if lv < DEBUG || lv > FATAL {
		return "INFO"
	}
	return levelNames[lv]
}

// ParseLevel accepts the level names case-insensitively and defaults to INFO.
func ParseLevel(s string) Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range levelNames {
		if name == s {
			return Level(i)
		}
	}
	return INFO
}

type palette struct {
	level, category *color.Color
}

var palettes = map[Level]palette{
	DEBUG: {color.New(color.FgCyan), color.New(color.FgCyan, color.Bold)},
	INFO:  {color.New(color.FgGreen), color.New(color.FgGreen, color.Bold)},
	WARN:  {color.New(color.FgYellow), color.New(color.FgYellow, color.Bold)},
	ERROR: {color.New(color.FgRed, color.Bold), color.New(color.FgRed, color.Bold)},
	FATAL: {color.New(color.FgRed, color.Bold, color.ReverseVideo), color.New(color.FgRed, color.Bold)},
}

var (
	timeColor = color.New(color.FgBlue)
	fileColor = color.New(color.FgMagenta)
)

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
}

type Logger struct {
	mu       sync.Mutex
	terminal io.Writer
	jsonOut  io.Writer
	file     *os.File
	minLevel Level
}

// NewLogger writes colored lines to stdout and JSON lines to
// $LOG_DIR/checkin-service-<date>.log. When the file cannot be opened the
// logger keeps going on stdout alone. fatih/color already honours NO_COLOR
// and non-terminal stdout.
func NewLogger() *Logger {
	l := &Logger{
		terminal: os.Stdout,
		minLevel: ParseLevel(os.Getenv("LOG_LEVEL")),
	}

	dir := os.Getenv("LOG_DIR")
	if dir == "" {
		dir = "logs"
	}
	name := filepath.Join(dir, fmt.Sprintf("checkin-service-%s.log", time.Now().Format(time.DateOnly)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		l.Warn("LOGGER", fmt.Sprintf("JSON log disabled: %v", err))
		return l
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.Warn("LOGGER", fmt.Sprintf("JSON log disabled: %v", err))
		return l
	}
	l.file = f
	l.jsonOut = f
	l.Info("LOGGER", fmt.Sprintf("Log file: %s", name))
	return l
}

// NewWithWriter writes JSON lines only to w. Used by tests and tooling.
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{jsonOut: w, minLevel: DEBUG}
}

// Discard drops everything.
func Discard() *Logger {
	return &Logger{minLevel: FATAL + 1}
}

// log must be called directly from an exported method so Caller(2) lands
// on the method's caller.
func (l *Logger) log(level Level, category, message string) {
	if l == nil || level < l.minLevel {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Level:     level.String(),
		Category:  strings.ToUpper(category),
		Message:   message,
		File:      file,
		Line:      line,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.terminal != nil {
		fmt.Fprint(l.terminal, formatTerminal(level, entry))
	}
	if l.jsonOut != nil {
		b, _ := json.Marshal(entry)
		l.jsonOut.Write(append(b, '\n'))
	}
}

func formatTerminal(level Level, entry LogEntry) string {
	p, ok := palettes[level]
	if !ok {
		p = palettes[INFO]
	}

	var b strings.Builder
	b.WriteString(timeColor.Sprint(entry.Timestamp[11:19]))
	b.WriteByte(' ')
	b.WriteString(p.level.Sprintf("%-5s", entry.Level))
	b.WriteByte(' ')
	b.WriteString(p.category.Sprintf("[%-10s]", entry.Category))
	b.WriteByte(' ')
	b.WriteString(entry.Message)
	if entry.File != "" && entry.Line > 0 {
		b.WriteString(fileColor.Sprintf(" (%s:%d)", entry.File, entry.Line))
	}
	b.WriteByte('\n')
	return b.String()
}

func (l *Logger) Debug(category, message string) { l.log(DEBUG, category, message) }
func (l *Logger) Info(category, message string) { l.log(INFO, category, message) }
func (l *Logger) Warn(category, message string) { l.log(WARN, category, message) }
func (l *Logger) Error(category, message string) { l.log(ERROR, category, message) }

func (l *Logger) Fatal(category, message string) {
	l.log(FATAL, category, message)
	l.Close()
	os.Exit(1)
}

// Component helpers. Each formats its own prefix so grep on the JSON log
// finds every line for one ticket, cache key, breaker or topic.

func (l *Logger) LogCheckin(action string, eventID int64, ticketCode, message string) {
	l.log(INFO, "CHECKIN", fmt.Sprintf("[%s] %d/%s - %s", action, eventID, ticketCode, message))
}

func (l *Logger) LogCache(action, key, message string) {
	l.log(DEBUG, "CACHE", fmt.Sprintf("[%s] %s - %s", action, key, message))
}

func (l *Logger) LogBreaker(name, from, to string) {
	l.log(WARN, "BREAKER", fmt.Sprintf("[%s] %s -> %s", name, from, to))
}

func (l *Logger) LogSync(eventID int64, message string) {
	l.log(INFO, "SYNC", fmt.Sprintf("[event %d] %s", eventID, message))
}

func (l *Logger) LogAPI(method, path, status, duration string) {
	l.log(INFO, "API", fmt.Sprintf("%s %s - %s (%s)", method, path, status, duration))
}

func (l *Logger) LogKafka(action, topic, message string) {
	l.log(INFO, "KAFKA", fmt.Sprintf("[%s] %s - %s", action, topic, message))
}

func (l *Logger) LogDatabase(operation, table, message string) {
	l.log(INFO, "DATABASE", fmt.Sprintf("[%s] %s - %s", operation, table, message))
}

func (l *Logger) Close() {
	if l == nil || l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.file.Close()
	l.file = nil
	l.jsonOut = nil
}
