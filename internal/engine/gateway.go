package engine

import (
	"context"
	"errors"

	"github.com/handiism/download-manager/internal/model"
)

// SignalDownloadProgress is the name of the push signal an engine emits
// whenever any download changes. The signal carries no payload.
const SignalDownloadProgress = "download-progress"

var (
	// ErrNotFound is returned when no download has the given id.
	ErrNotFound = errors.New("download not found")

	// ErrFileExists is returned when an enqueue targets a tracked file and
	// neither overwrite nor resume was requested.
	ErrFileExists = errors.New("file already exists")

	// ErrInvalid is returned for arguments the engine refuses.
	ErrInvalid = errors.New("invalid argument")

	// ErrRemote wraps failures reported by a remote engine.
	ErrRemote = errors.New("remote engine error")
)

// EnqueueOptions control how Enqueue treats an existing target file.
// At most one of Overwrite, Resume and SaveAs is expected to be set.
type EnqueueOptions struct {
	Overwrite bool   `json:"overwrite"`
	Resume    bool   `json:"resume"`
	SaveAs    string `json:"saveAs"`
}

// Gateway is the command surface of a download engine.
//
// Implementations:
//   - *download.Engine runs downloads in-process
//   - *Client talks to an engine served by Server over HTTP
//   - *enginetest.Fake is a scriptable engine for tests
type Gateway interface {
	// Downloads returns every known download.
	Downloads(ctx context.Context) ([]model.Download, error)

	// Queue returns the waiting downloads in admission order.
	Queue(ctx context.Context) ([]model.Download, error)

	SpeedLimit(ctx context.Context) (model.SpeedLimit, error)

	// SetSpeedLimit sets the global limit in KB/s; 0 removes it.
	SetSpeedLimit(ctx context.Context, kbps float64) error

	// CheckFileExistence reports whether the file url would be saved to
	// already exists, and the path it would be saved to.
	CheckFileExistence(ctx context.Context, url string) (bool, string, error)

	// Enqueue adds url to the queue and returns the download id.
	Enqueue(ctx context.Context, url string, opts EnqueueOptions) (uint64, error)

	Pause(ctx context.Context, id uint64) error
	Resume(ctx context.Context, id uint64) error

	// Remove drops the download, deleting its file if removeFromDisk is set.
	Remove(ctx context.Context, id uint64, removeFromDisk bool) error

	// RemoveFromQueue takes a waiting download out of the queue.
	RemoveFromQueue(ctx context.Context, id uint64) error

	DownloadDir(ctx context.Context) (string, error)
	SetDownloadDir(ctx context.Context, dir string) error
	MaxConcurrentDownloads(ctx context.Context) (int, error)
	SetMaxConcurrentDownloads(ctx context.Context, n int) error
	MaxRetries(ctx context.Context) (int, error)
	SetMaxRetries(ctx context.Context, n int) error

	// Subscribe registers for the download-progress signal. The returned
	// channel receives one value per signal (signals may coalesce while
	// the receiver is busy) and is closed after unsubscribe returns.
	// unsubscribe is safe to call more than once.
	Subscribe(ctx context.Context) (signals <-chan struct{}, unsubscribe func(), err error)
}
