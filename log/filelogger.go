package log

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Config describes a named logger from the configuration files.
type Config struct {
	Name             string `json:"name"`
	Level            string `json:"level"`
	OutputPathPrefix string `json:"output_path_prefix"`
	Console          bool   `json:"console"`
}

// FileLogger is a Logger bound to a log file for the duration of one
// pipeline run.
type FileLogger struct {
	Logger
	Path string

	f *os.File
}

// NewFileLogger builds a Logger writing to
// {outputDir}/{prefix}{pipeline}_{YYYYmmdd}_{HHMMSS}.log. An absolute
// prefix overrides outputDir. The ref time stamps the filename.
func NewFileLogger(cfg Config, outputDir, pipeline string, ref time.Time) (*FileLogger, error) {
	prefix := cfg.OutputPathPrefix
	base := prefix + pipeline + "_" + ref.Format("20060102_150405") + ".log"
	path := base
	if !filepath.IsAbs(prefix) {
		path = filepath.Join(outputDir, base)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.Formatter = &logrus.TextFormatter{DisableColors: true}
	if cfg.Console {
		l.Out = io.MultiWriter(f, os.Stderr)
	} else {
		l.Out = f
	}
	if cfg.Level != "" {
		lvl, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			f.Close()
			return nil, err
		}
		l.Level = lvl
	}

	return &FileLogger{
		Logger: logger{entry: logrus.NewEntry(l)},
		Path:   path,
		f:      f,
	}, nil
}

// Close flushes and closes the underlying log file.
func (l *FileLogger) Close() error {
	return l.f.Close()
}
