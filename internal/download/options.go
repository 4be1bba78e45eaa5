package download

import (
	"time"

	"github.com/handiism/download-manager/internal/engine"
	"github.com/handiism/download-manager/internal/model"
)

// Errors returned by the Engine. They are the engine package sentinels so
// they keep their meaning across the HTTP transport.
var (
	ErrNotFound   = engine.ErrNotFound
	ErrFileExists = engine.ErrFileExists
	ErrInvalid    = engine.ErrInvalid
)

// Options configures an Engine.
type Options struct {
	// DownloadDir is where files are saved.
	DownloadDir string

	// StatePath is the JSON file the engine persists to; empty disables
	// persistence.
	StatePath string

	MaxConcurrentDownloads int
	MaxRetries             int

	// Retry n (0-based) waits RetryCooldown * RetryExponent^n.
	RetryCooldown time.Duration
	RetryExponent float64

	SpeedLimit model.SpeedLimit

	// RequestTimeout bounds connection setup and headers of a transfer.
	RequestTimeout time.Duration

	// ProgressInterval is the minimum time between two progress signals
	// of a running transfer.
	ProgressInterval time.Duration
}

// DefaultOptions returns options with default values.
func DefaultOptions() *Options {
	return &Options{
		DownloadDir:            ".",
		MaxConcurrentDownloads: 3,
		MaxRetries:             10,
		RetryCooldown:          time.Second,
		RetryExponent:          2,
		SpeedLimit:             model.Unlimited(),
		RequestTimeout:         60 * time.Second,
		ProgressInterval:       250 * time.Millisecond,
	}
}
