// Package enginetest provides a scriptable in-memory engine for tests.
package enginetest

import (
	"context"
	"path"
	"slices"
	"sync"

	"github.com/handiism/download-manager/internal/engine"
	ioutils "github.com/handiism/download-manager/internal/io"
	"github.com/handiism/download-manager/internal/model"
)

// Call records one Gateway invocation.
type Call struct {
	Method string
	Args   []any
}

// Fake is an engine.Gateway keeping its state in memory. Every call is
// recorded; any method can be made to fail with FailWith.
type Fake struct {
	mu sync.Mutex

	downloads     []model.Download
	queue         []uint64
	speedLimit    model.SpeedLimit
	exists        bool
	existingPath  string
	nextID        uint64
	downloadDir   string
	maxConcurrent int
	maxRetries    int

	failures    map[string]error
	calls       []Call
	subscribers map[int]chan struct{}
	nextSub     int
}

var _ engine.Gateway = (*Fake)(nil)

// New returns an empty Fake with ids starting at 1.
func New() *Fake {
	return &Fake{
		speedLimit:    model.Unlimited(),
		nextID:        1,
		downloadDir:   "/downloads",
		maxConcurrent: 3,
		maxRetries:    10,
		failures:      make(map[string]error),
		subscribers:   make(map[int]chan struct{}),
	}
}

// SetDownloads replaces the download list. Queued entries are put in the
// queue in the order given.
func (f *Fake) SetDownloads(downloads ...model.Download) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.downloads = slices.Clone(downloads)
	f.queue = f.queue[:0]
	for _, d := range downloads {
		if d.Status.Kind == model.KindQueued {
			f.queue = append(f.queue, d.ID)
		}
	}
}

// SetQueue replaces the queue order.
func (f *Fake) SetQueue(ids ...uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = slices.Clone(ids)
}

// SetExistence scripts the result of CheckFileExistence.
func (f *Fake) SetExistence(exists bool, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exists, f.existingPath = exists, path
}

// SetNextID sets the id the next Enqueue returns.
func (f *Fake) SetNextID(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID = id
}

// FailWith makes method return err until cleared with a nil err.
func (f *Fake) FailWith(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, method)
		return
	}
	f.failures[method] = err
}

// Calls returns the recorded calls of method, or all calls if method is "".
func (f *Fake) Calls(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Call
	for _, c := range f.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns how many times method was called.
func (f *Fake) CallCount(method string) int {
	return len(f.Calls(method))
}

// Emit sends the download-progress signal to every subscriber.
func (f *Fake) Emit() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (f *Fake) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

// record logs the call and returns the scripted failure, if any.
// f.mu must be held.
func (f *Fake) record(method string, args ...any) error {
	f.calls = append(f.calls, Call{Method: method, Args: args})
	return f.failures[method]
}

func (f *Fake) index(id uint64) int {
	return slices.IndexFunc(f.downloads, func(d model.Download) bool { return d.ID == id })
}

func (f *Fake) Downloads(ctx context.Context) ([]model.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Downloads"); err != nil {
		return nil, err
	}
	return slices.Clone(f.downloads), nil
}

func (f *Fake) Queue(ctx context.Context) ([]model.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Queue"); err != nil {
		return nil, err
	}
	queue := make([]model.Download, 0, len(f.queue))
	for _, id := range f.queue {
		if i := f.index(id); i >= 0 {
			queue = append(queue, f.downloads[i])
		}
	}
	return queue, nil
}

func (f *Fake) SpeedLimit(ctx context.Context) (model.SpeedLimit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SpeedLimit"); err != nil {
		return model.Unlimited(), err
	}
	return f.speedLimit, nil
}

func (f *Fake) SetSpeedLimit(ctx context.Context, kbps float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetSpeedLimit", kbps); err != nil {
		return err
	}
	if kbps > 0 {
		f.speedLimit = model.LimitKBps(kbps)
	} else {
		f.speedLimit = model.Unlimited()
	}
	return nil
}

func (f *Fake) CheckFileExistence(ctx context.Context, url string) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CheckFileExistence", url); err != nil {
		return false, "", err
	}
	return f.exists, f.existingPath, nil
}

// Enqueue appends a queued download for url, named like the engine names
// its files.
func (f *Fake) Enqueue(ctx context.Context, url string, opts engine.EnqueueOptions) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Enqueue", url, opts); err != nil {
		return 0, err
	}

	name := opts.SaveAs
	if name == "" {
		name = ioutils.FileNameFromURL(url)
	}

	id := f.nextID
	f.nextID++
	f.downloads = append(f.downloads, model.Download{
		ID:       id,
		URL:      url,
		FilePath: path.Join(f.downloadDir, name),
		Status:   model.StatusQueued,
	})
	f.queue = append(f.queue, id)
	return id, nil
}

func (f *Fake) Pause(ctx context.Context, id uint64) error {
	return f.setStatus("Pause", id, model.StatusPaused)
}

func (f *Fake) Resume(ctx context.Context, id uint64) error {
	return f.setStatus("Resume", id, model.StatusQueued)
}

func (f *Fake) setStatus(method string, id uint64, status model.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(method, id); err != nil {
		return err
	}
	i := f.index(id)
	if i < 0 {
		return engine.ErrNotFound
	}
	f.downloads[i].Status = status
	return nil
}

func (f *Fake) Remove(ctx context.Context, id uint64, removeFromDisk bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Remove", id, removeFromDisk); err != nil {
		return err
	}
	i := f.index(id)
	if i < 0 {
		return engine.ErrNotFound
	}
	f.downloads = slices.Delete(f.downloads, i, i+1)
	f.queue = slices.DeleteFunc(f.queue, func(q uint64) bool { return q == id })
	return nil
}

func (f *Fake) RemoveFromQueue(ctx context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RemoveFromQueue", id); err != nil {
		return err
	}
	f.queue = slices.DeleteFunc(f.queue, func(q uint64) bool { return q == id })
	if i := f.index(id); i >= 0 && f.downloads[i].Status.Kind == model.KindQueued {
		f.downloads[i].Status = model.StatusPaused
	}
	return nil
}

func (f *Fake) DownloadDir(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DownloadDir"); err != nil {
		return "", err
	}
	return f.downloadDir, nil
}

func (f *Fake) SetDownloadDir(ctx context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetDownloadDir", dir); err != nil {
		return err
	}
	f.downloadDir = dir
	return nil
}

func (f *Fake) MaxConcurrentDownloads(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("MaxConcurrentDownloads"); err != nil {
		return 0, err
	}
	return f.maxConcurrent, nil
}

func (f *Fake) SetMaxConcurrentDownloads(ctx context.Context, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetMaxConcurrentDownloads", n); err != nil {
		return err
	}
	f.maxConcurrent = n
	return nil
}

func (f *Fake) MaxRetries(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("MaxRetries"); err != nil {
		return 0, err
	}
	return f.maxRetries, nil
}

func (f *Fake) SetMaxRetries(ctx context.Context, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetMaxRetries", n); err != nil {
		return err
	}
	f.maxRetries = n
	return nil
}

// Subscribe registers a subscriber; unsubscribe closes its channel.
func (f *Fake) Subscribe(ctx context.Context) (<-chan struct{}, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Subscribe"); err != nil {
		return nil, nil, err
	}

	key := f.nextSub
	f.nextSub++
	ch := make(chan struct{}, 1)
	f.subscribers[key] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subscribers, key)
			close(ch)
		})
	}
	return ch, unsubscribe, nil
}
