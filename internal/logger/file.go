package logger

import (
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation settings used when the logging config leaves them unset.
const (
	defaultMaxSizeMB = 100
	defaultMaxFiles  = 5
)

// FileConfig controls the rotating log file used for logging.output "file".
type FileConfig struct {
	Path      string
	MaxSizeMB int
	MaxFiles  int
	// MaxAgeDays removes rotated files older than this. Zero keeps them.
	MaxAgeDays int
	// Compress gzips rotated files.
	Compress bool
}

func (c FileConfig) withDefaults() FileConfig {
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = defaultMaxSizeMB
	}
	if c.MaxFiles <= 0 {
		c.MaxFiles = defaultMaxFiles
	}
	if c.MaxAgeDays < 0 {
		c.MaxAgeDays = 0
	}
	return c
}

// NewFileWriter opens cfg.Path for appending, rotating it once it reaches
// MaxSizeMB. Missing directories are created on the first write.
func NewFileWriter(cfg FileConfig) *lumberjack.Logger {
	cfg = cfg.withDefaults()
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxFiles,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}
