package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig controls the structured console logger.
type SlogConfig struct {
	Level      Level
	Format     Format
	Color      bool
	TimeStamps bool
	Source     bool
}

// FileConfig describes the rotated per-agent log files.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string // base directory for logs
	MaxSizeMB  int    // megabytes before rotation (default 10)
	MaxBackups int    // number of backups to keep (default 3)
	MaxAgeDays int    // days to keep (default 7)
	Compress   bool   // Gzip rotated files
}

type Config struct {
	Slog SlogConfig
	File FileConfig
}

func DefaultConfig() Config {
	return Config{
		Slog: SlogConfig{Level: LevelInfo, Format: FormatText, Color: true, TimeStamps: true},
		File: FileConfig{
			MaxSizeMB:  DefaultMaxSizeMB,
			MaxBackups: DefaultMaxBackups,
			MaxAgeDays: DefaultMaxAgeDays,
		},
	}
}

// ParseLevel maps a level name to slog; unknown names fall back to info.
func ParseLevel(l Level) slog.Level {
	switch Level(strings.ToLower(string(l))) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "warning":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Handler builds an slog handler writing to w.
func (c SlogConfig) Handler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level), AddSource: c.Source}
	if !c.TimeStamps {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		}
	}
	if c.Format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	if c.Color {
		return NewColorTextHandler(w, opts, c.TimeStamps)
	}
	return slog.NewTextHandler(w, opts)
}

// NewSlogger returns the console logger on stderr.
func (c Config) NewSlogger() *slog.Logger {
	return slog.New(c.Slog.Handler(os.Stderr))
}

// Writer returns a rotating writer for <Dir>/<name>.log, or nil when Dir is empty.
func (c FileConfig) Writer(name string) io.WriteCloser {
	if c.Dir == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   c.Path(name),
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// Path is the log file of name.
func (c FileConfig) Path(name string) string {
	return filepath.Join(c.Dir, name+".log")
}

// AgentLogger is the dedicated logger of one agent worker. Records go to the
// rotated agent log file (plain text, no color) and, when console is non-nil,
// to console as well.
type AgentLogger struct {
	*slog.Logger
	file io.WriteCloser
}

// NewAgentLogger builds the dedicated sink of agent name.
func (c Config) NewAgentLogger(name string, console io.Writer) *AgentLogger {
	l := c.NewFileLogger(name, console)
	l.Logger = l.With("agent", name)
	return l
}

// NewFileLogger is NewAgentLogger without the agent attribute, for the
// supervisor's own <name>.log.
func (c Config) NewFileLogger(name string, console io.Writer) *AgentLogger {
	var handlers []slog.Handler
	file := c.File.Writer(name)
	if file != nil {
		fc := c.Slog
		fc.Color = false
		fc.TimeStamps = true
		handlers = append(handlers, fc.Handler(file))
	}
	if console != nil {
		handlers = append(handlers, c.Slog.Handler(console))
	}
	var h slog.Handler
	switch len(handlers) {
	case 0:
		h = slog.NewTextHandler(io.Discard, nil)
	case 1:
		h = handlers[0]
	default:
		h = &fanout{handlers: handlers}
	}
	return &AgentLogger{Logger: slog.New(h), file: file}
}

// Close flushes and closes the log file.
func (l *AgentLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
