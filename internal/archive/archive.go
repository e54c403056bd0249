// Package archive keeps a copy of every rendered message handed to a
// transport. Archiving is best effort: a failed Put never fails a send.
package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatch/internal/config"
)

// ErrNotFound is returned when a requested message does not exist.
var ErrNotFound = errors.New("archive: message not found")

// Store is a message archive backend.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Key returns the archive key for a message: a UTC date directory
// followed by the message ID with an .eml extension.
func Key(messageID string, at time.Time) string {
	return at.UTC().Format("2006/01/02") + "/" + messageID + ".eml"
}

// New creates a Store for the configured archive type. "none" or an empty
// type disables archiving.
func New(ctx context.Context, cfg config.ArchiveConfig, logger zerolog.Logger) (Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "none":
		return Nop{}, nil
	case "local":
		if cfg.Path == "" {
			return nil, errors.New("archive: path is required for local archive")
		}
		logger.Info().Str("path", cfg.Path).Msg("archiving messages to local disk")
		return NewLocalStore(cfg.Path)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, errors.New("archive: s3_bucket is required for s3 archive")
		}
		logger.Info().Str("bucket", cfg.S3Bucket).Str("prefix", cfg.S3Prefix).Msg("archiving messages to s3")
		return NewS3StoreFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("archive: unsupported type %q", cfg.Type)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Put(context.Context, string, []byte) error { return nil }

func (Nop) Get(context.Context, string) ([]byte, error) { return nil, ErrNotFound }

func (Nop) Delete(context.Context, string) error { return nil }
