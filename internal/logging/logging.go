// Package logging configures the process logger and the per-unit worker log files.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"
)

// TimestampLayout names log files, fixed once at process start.
const TimestampLayout = "20060102_150405"

// Setup configures the standard logrus logger.
func Setup(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

// UnitLogger writes one unit's info and error streams to their own files.
type UnitLogger struct {
	*logrus.Entry

	files []*os.File
}

// NewUnitLogger creates <root>/<unit>/info/info_<ts>.log for info and warning entries and
// <root>/<unit>/error/error_<ts>.log for errors. Warnings and errors are echoed to parent when
// it is not nil.
func NewUnitLogger(root, unitKey string, startedAt time.Time, parent *logrus.Logger) (*UnitLogger, error) {
	ts := startedAt.Format(TimestampLayout)

	infoFile, err := openLog(filepath.Join(root, unitKey, "info"), fmt.Sprintf("info_%s.log", ts))
	if err != nil {
		return nil, err
	}
	errorFile, err := openLog(filepath.Join(root, unitKey, "error"), fmt.Sprintf("error_%s.log", ts))
	if err != nil {
		infoFile.Close()
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	if parent != nil {
		logger.SetLevel(parent.GetLevel())
	}

	logger.AddHook(&writer.Hook{
		Writer:    infoFile,
		LogLevels: []logrus.Level{logrus.InfoLevel, logrus.WarnLevel},
	})
	logger.AddHook(&writer.Hook{
		Writer:    errorFile,
		LogLevels: []logrus.Level{logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel},
	})
	if parent != nil {
		logger.AddHook(&echoHook{parent: parent})
	}

	return &UnitLogger{
		Entry: logger.WithField("unit", unitKey),
		files: []*os.File{infoFile, errorFile},
	}, nil
}

func (l *UnitLogger) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openLog(dir, name string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// echoHook forwards warnings and errors to the process logger.
type echoHook struct {
	parent *logrus.Logger
}

func (h *echoHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.WarnLevel, logrus.ErrorLevel}
}

func (h *echoHook) Fire(entry *logrus.Entry) error {
	h.parent.WithFields(entry.Data).Log(entry.Level, entry.Message)
	return nil
}
