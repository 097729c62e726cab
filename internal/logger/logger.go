package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

const timestampLayout = "2006-01-02 15:04:05"

var (
	mu            sync.Mutex
	currentLevel  = LevelInfo
	currentFormat = FormatText
	output        io.Writer = os.Stdout
	outputCloser  io.Closer
)

// Config mirrors the logging section of the server configuration.
type Config struct {
	Level    string
	Format   string
	Output   string
	Rotation RotationConfig
}

// RotationConfig controls file rotation when a log goes to a file path.
// Zero values fall back to the lumberjack defaults.
type RotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel = LevelDebug
	case "INFO":
		currentLevel = LevelInfo
	case "WARN":
		currentLevel = LevelWarn
	case "ERROR":
		currentLevel = LevelError
	}
}

// SetFormat switches between "text" and "json" lines. Unknown values are ignored.
func SetFormat(format string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(format) {
	case FormatText:
		currentFormat = FormatText
	case FormatJSON:
		currentFormat = FormatJSON
	}
}

// SetOutput redirects log lines to w. A previously opened log file is not
// closed; use Configure for that.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// Configure applies level, format and destination in one go.
//
// Output is "stdout", "stderr" or a file path. File outputs are rotated.
func Configure(cfg Config) error {
	w, err := OpenWriter(cfg.Output, cfg.Rotation)
	if err != nil {
		return err
	}

	SetLevel(cfg.Level)
	SetFormat(cfg.Format)

	mu.Lock()
	prev := outputCloser
	output = w
	outputCloser = nil
	if c, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
		outputCloser = c
	}
	mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// OpenWriter resolves an output destination.
//
// "stdout" and "stderr" (or an empty string, meaning stdout) map to the
// process streams. Anything else is treated as a file path and wrapped in a
// rotating writer.
func OpenWriter(dest string, rot RotationConfig) (io.Writer, error) {
	switch strings.ToLower(dest) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %q: %w", dest, err)
	}
	_ = f.Close()

	return &lumberjack.Logger{
		Filename:   dest,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   rot.Compress,
	}, nil
}

// Close releases a log file opened by Configure and reverts to stdout.
func Close() error {
	mu.Lock()
	c := outputCloser
	outputCloser = nil
	output = os.Stdout
	mu.Unlock()

	if c != nil {
		return c.Close()
	}
	return nil
}

// IsEnabled reports whether messages at level would be written.
func IsEnabled(level Level) bool {
	mu.Lock()
	defer mu.Unlock()
	return level >= currentLevel
}

type jsonLine struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"msg"`
}

func log(level Level, format string, v ...any) {
	mu.Lock()
	defer mu.Unlock()

	if level < currentLevel {
		return
	}

	timestamp := time.Now().Format(timestampLayout)
	message := fmt.Sprintf(format, v...)

	if currentFormat == FormatJSON {
		line, err := json.Marshal(jsonLine{Time: timestamp, Level: level.String(), Message: message})
		if err == nil {
			_, _ = output.Write(append(line, '\n'))
			return
		}
	}

	_, _ = fmt.Fprintf(output, "[%s] [%s] %s\n", timestamp, level.String(), message)
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
