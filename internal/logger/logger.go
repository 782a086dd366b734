package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

const TimeFormat = "2006-01-02 15:04:05"

// Config controls where log lines go and how files rotate
type Config struct {
	Level      string `json:"level" toml:"level"`             // debug, info, warn, error
	File       string `json:"file" toml:"file"`               // main log file, empty disables file output
	ErrorFile  string `json:"error_file" toml:"error_file"`   // optional warn+ file
	MaxSize    int    `json:"max_size" toml:"max_size"`       // MB before rotation
	MaxBackups int    `json:"max_backups" toml:"max_backups"` // rotated files kept
	MaxAge     int    `json:"max_age" toml:"max_age"`         // days
	Compress   bool   `json:"compress" toml:"compress"`
	Console    bool   `json:"console" toml:"console"`
}

// DefaultConfig returns file + console logging at info level
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		File:       "logs/signal-bot.log",
		ErrorFile:  "logs/signal-bot.err.log",
		MaxSize:    20,
		MaxBackups: 30,
		MaxAge:     7,
		Console:    true,
	}
}

var (
	mu      sync.Mutex
	writers []*lumberjack.Logger
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: TimeFormat}).
		With().Timestamp().Logger()
}

// Init replaces the global logger. It may be called again to reconfigure.
func Init(config Config) error {
	mu.Lock()
	defer mu.Unlock()

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.SetGlobalLevel(parseLevel(config.Level))

	closeWriters()

	outputs := make([]io.Writer, 0, 3)
	if config.File != "" {
		lj, err := newRotatingWriter(config.File, config)
		if err != nil {
			return err
		}
		outputs = append(outputs, lj)
	}
	if config.ErrorFile != "" {
		lj, err := newRotatingWriter(config.ErrorFile, config)
		if err != nil {
			return err
		}
		outputs = append(outputs, &minLevelWriter{min: zerolog.WarnLevel, Writer: lj})
	}
	if config.Console || len(outputs) == 0 {
		outputs = append(outputs, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: TimeFormat})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(outputs...)).With().Timestamp().Logger()
	return nil
}

// Close flushes and closes rotating files
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeWriters()
}

func newRotatingWriter(path string, config Config) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
	writers = append(writers, lj)
	return lj, nil
}

func closeWriters() {
	for _, lj := range writers {
		_ = lj.Close()
	}
	writers = nil
}

// minLevelWriter drops events below min
type minLevelWriter struct {
	min zerolog.Level
	io.Writer
}

func (w *minLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < w.min {
		return len(p), nil
	}
	return w.Writer.Write(p)
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// L returns the global logger
func L() zerolog.Logger {
	return log.Logger
}

// Component returns a sub-logger tagged with a component name
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

func Debug() *zerolog.Event {
	return log.Logger.Debug()
}

func Info() *zerolog.Event {
	return log.Logger.Info()
}

func Warn() *zerolog.Event {
	return log.Logger.Warn()
}

func Error() *zerolog.Event {
	return log.Logger.Error()
}

// Trade logs an order lifecycle event at info level
func Trade() *zerolog.Event {
	return log.Logger.Info().Str("kind", "trade")
}
