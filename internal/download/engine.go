package download

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/handiism/download-manager/internal/engine"
	httpclient "github.com/handiism/download-manager/internal/http"
	ioutils "github.com/handiism/download-manager/internal/io"
	"github.com/handiism/download-manager/internal/model"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	statusPartialContent = 206

	// speedWindow is the sampling window of the transfer speed.
	speedWindow = 500 * time.Millisecond
)

// worker is a running transfer.
type worker struct {
	cancel context.CancelFunc
	done   chan struct{}

	windowStart time.Time
	windowBytes int64
	lastWritten int64
	lastSignal  time.Time
}

// Engine runs downloads in-process. It implements engine.Gateway.
//
// Queued downloads are admitted in FIFO order while fewer than the
// configured maximum are running. Every change emits the download-progress
// signal to subscribers; running transfers emit it at most once per
// progress interval.
type Engine struct {
	opts       Options
	logger     *log.Logger
	httpClient *httpclient.Client
	limiter    *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu            sync.Mutex
	downloads     []*model.Download
	queue         []uint64
	active        map[uint64]*worker
	nextID        uint64
	downloadDir   string
	maxConcurrent int
	maxRetries    int
	speedLimit    model.SpeedLimit
	closed        bool

	subMu       sync.Mutex
	subscribers map[int]chan struct{}
	nextSub     int

	saveMu sync.Mutex
}

var _ engine.Gateway = (*Engine)(nil)

// NewEngine creates an Engine and starts any downloads left queued in the
// state file. Settings stored in the state file take precedence over opts,
// so changes made at runtime survive a restart.
func NewEngine(opts *Options, logger *log.Logger) (*Engine, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = log.Default()
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultOptions().ProgressInterval
	}
	if opts.RetryExponent <= 0 {
		opts.RetryExponent = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:          *opts,
		logger:        logger.WithPrefix("download"),
		httpClient:    httpclient.NewClient(opts.RequestTimeout),
		ctx:           ctx,
		cancel:        cancel,
		active:        make(map[uint64]*worker),
		nextID:        1,
		downloadDir:   opts.DownloadDir,
		maxConcurrent: max(opts.MaxConcurrentDownloads, 1),
		maxRetries:    max(opts.MaxRetries, 0),
		speedLimit:    opts.SpeedLimit,
		subscribers:   make(map[int]chan struct{}),
	}

	if opts.StatePath != "" {
		st, err := loadState(opts.StatePath)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("load state: %w", err)
		}
		if st != nil {
			e.restore(st)
			e.logger.Info("state restored", "downloads", len(e.downloads), "queued", len(e.queue))
		}
	}

	kbps, _ := e.speedLimit.KBps()
	e.limiter = newLimiter(kbps)

	e.mu.Lock()
	e.scheduleLocked()
	e.mu.Unlock()

	return e, nil
}

func (e *Engine) restore(st *persistedState) {
	for i := range st.Downloads {
		d := st.Downloads[i]
		e.downloads = append(e.downloads, &d)
		if d.ID >= e.nextID {
			e.nextID = d.ID + 1
		}
	}
	e.queue = st.Queue
	if st.DownloadDir != "" {
		e.downloadDir = st.DownloadDir
	}
	if st.HasSettings {
		e.maxConcurrent = max(st.MaxConcurrentDownloads, 1)
		e.maxRetries = max(st.MaxRetries, 0)
		e.speedLimit = st.SpeedLimit
		return
	}
	if st.MaxConcurrentDownloads > 0 {
		e.maxConcurrent = st.MaxConcurrentDownloads
	}
	if st.MaxRetries > 0 {
		e.maxRetries = st.MaxRetries
	}
	if !st.SpeedLimit.IsUnlimited() {
		e.speedLimit = st.SpeedLimit
	}
}

// Close stops all transfers, waits for them to exit and saves the state.
// Stopped transfers are restored as paused.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.group.Wait()

	e.subMu.Lock()
	for key, ch := range e.subscribers {
		delete(e.subscribers, key)
		close(ch)
	}
	e.subMu.Unlock()

	return e.save()
}

func (e *Engine) Downloads(ctx context.Context) ([]model.Download, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	downloads := make([]model.Download, len(e.downloads))
	for i, d := range e.downloads {
		downloads[i] = *d
	}
	return downloads, nil
}

func (e *Engine) Queue(ctx context.Context) ([]model.Download, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	queue := make([]model.Download, 0, len(e.queue))
	for _, id := range e.queue {
		if d := e.findLocked(id); d != nil {
			queue = append(queue, *d)
		}
	}
	return queue, nil
}

func (e *Engine) SpeedLimit(ctx context.Context) (model.SpeedLimit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speedLimit, nil
}

// SetSpeedLimit changes the global limit; running transfers follow it
// immediately.
func (e *Engine) SetSpeedLimit(ctx context.Context, kbps float64) error {
	if kbps < 0 || math.IsNaN(kbps) {
		return fmt.Errorf("%w: speed limit %v", ErrInvalid, kbps)
	}

	e.mu.Lock()
	if kbps == 0 {
		e.speedLimit = model.Unlimited()
	} else {
		e.speedLimit = model.LimitKBps(kbps)
	}
	applyLimit(e.limiter, kbps)
	e.mu.Unlock()

	e.logger.Info("speed limit changed", "kbps", kbps)
	return e.save()
}

// CheckFileExistence reports whether the file rawURL would be saved to
// already exists in the download directory.
func (e *Engine) CheckFileExistence(ctx context.Context, rawURL string) (bool, string, error) {
	if err := validateURL(rawURL); err != nil {
		return false, "", err
	}

	e.mu.Lock()
	path := filepath.Join(e.downloadDir, ioutils.FileNameFromURL(rawURL))
	e.mu.Unlock()

	return ioutils.FileExists(path), path, nil
}

// Enqueue adds rawURL to the back of the queue.
//
// The file name is opts.SaveAs (sanitized) if set, else derived from the
// URL. If a tracked download already targets that file, Overwrite deletes
// it and starts over, Resume continues from the file's current size, and
// otherwise ErrFileExists is returned.
func (e *Engine) Enqueue(ctx context.Context, rawURL string, opts engine.EnqueueOptions) (uint64, error) {
	if err := validateURL(rawURL); err != nil {
		return 0, err
	}

	name := ioutils.SanitizeFileName(opts.SaveAs)
	if name == "" {
		name = ioutils.FileNameFromURL(rawURL)
	}

	e.mu.Lock()
	path := filepath.Join(e.downloadDir, name)
	existing := e.findByPathLocked(path)
	e.mu.Unlock()

	if existing != 0 {
		if !opts.Overwrite && !opts.Resume {
			return 0, fmt.Errorf("%w: %s", ErrFileExists, path)
		}
		e.halt(existing)
		return existing, e.requeue(existing, rawURL, opts.Overwrite)
	}

	var offset uint64
	switch {
	case opts.Overwrite:
		if err := ioutils.RemoveFile(path); err != nil {
			return 0, fmt.Errorf("overwrite %s: %w", path, err)
		}
	case opts.Resume:
		offset = uint64(ioutils.FileSize(path))
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.downloads = append(e.downloads, &model.Download{
		ID:              id,
		URL:             rawURL,
		FilePath:        path,
		Status:          model.StatusQueued,
		DownloadedBytes: offset,
		RetriesLeft:     uint32(e.maxRetries),
	})
	e.queue = append(e.queue, id)
	e.scheduleLocked()
	e.mu.Unlock()

	e.logger.Info("enqueued", "id", id, "url", rawURL, "path", path)
	e.signal()
	return id, e.save()
}

// requeue resets a tracked download for Overwrite or Resume.
func (e *Engine) requeue(id uint64, rawURL string, overwrite bool) error {
	e.mu.Lock()
	d := e.findLocked(id)
	if d == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	path := d.FilePath
	e.mu.Unlock()

	var offset uint64
	if overwrite {
		if err := ioutils.RemoveFile(path); err != nil {
			return fmt.Errorf("overwrite %s: %w", path, err)
		}
	} else {
		offset = uint64(ioutils.FileSize(path))
	}

	e.mu.Lock()
	if d = e.findLocked(id); d != nil {
		d.URL = rawURL
		d.Status = model.StatusQueued
		d.Progress = 0
		d.DownloadedBytes = offset
		d.TotalBytes = 0
		d.SpeedKbps = 0
		d.ETASeconds = 0
		d.RetriesLeft = uint32(e.maxRetries)
		if !slices.Contains(e.queue, id) {
			e.queue = append(e.queue, id)
		}
		e.scheduleLocked()
	}
	e.mu.Unlock()

	e.logger.Info("requeued", "id", id, "overwrite", overwrite, "offset", offset)
	e.signal()
	return e.save()
}

// Pause stops a running transfer or takes a download out of the queue.
// Downloads in other states are left alone.
func (e *Engine) Pause(ctx context.Context, id uint64) error {
	e.mu.Lock()
	d := e.findLocked(id)
	if d == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	var done chan struct{}
	switch d.Status.Kind {
	case model.KindDownloading:
		d.Status = model.StatusPaused
		d.SpeedKbps = 0
		d.ETASeconds = 0
		if w := e.active[id]; w != nil {
			w.cancel()
			done = w.done
		}
	case model.KindQueued:
		d.Status = model.StatusPaused
		e.removeFromQueueLocked(id)
	default:
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if done != nil {
		<-done
	}
	e.logger.Info("paused", "id", id)
	e.signal()
	return e.save()
}

// Resume puts a paused or failed download at the front of the queue.
func (e *Engine) Resume(ctx context.Context, id uint64) error {
	e.mu.Lock()
	d := e.findLocked(id)
	if d == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if !d.Status.IsFailed() && d.Status.Kind != model.KindPaused {
		e.mu.Unlock()
		return nil
	}

	if d.Status.IsFailed() {
		d.RetriesLeft = uint32(e.maxRetries)
	}
	d.Status = model.StatusQueued
	e.removeFromQueueLocked(id)
	e.queue = slices.Insert(e.queue, 0, id)
	e.scheduleLocked()
	e.mu.Unlock()

	e.logger.Info("resumed", "id", id)
	e.signal()
	return e.save()
}

// Remove drops a download, stopping its transfer first. With
// removeFromDisk the file is deleted as well.
func (e *Engine) Remove(ctx context.Context, id uint64, removeFromDisk bool) error {
	e.mu.Lock()
	i := slices.IndexFunc(e.downloads, func(d *model.Download) bool { return d.ID == id })
	if i < 0 {
		e.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	path := e.downloads[i].FilePath
	e.downloads = slices.Delete(e.downloads, i, i+1)
	e.removeFromQueueLocked(id)

	var done chan struct{}
	if w := e.active[id]; w != nil {
		w.cancel()
		done = w.done
	}
	e.mu.Unlock()

	if done != nil {
		<-done
	}

	if removeFromDisk && path != "" {
		if err := ioutils.RemoveFile(path); err != nil {
			e.logger.Warn("could not delete file", "path", path, "err", err)
		}
	}

	e.logger.Info("removed", "id", id, "from_disk", removeFromDisk)
	e.signal()
	return e.save()
}

// RemoveFromQueue takes a waiting download out of the queue; it becomes
// paused.
func (e *Engine) RemoveFromQueue(ctx context.Context, id uint64) error {
	e.mu.Lock()
	d := e.findLocked(id)
	if d == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if !e.removeFromQueueLocked(id) {
		e.mu.Unlock()
		return nil
	}
	if d.Status.Kind == model.KindQueued {
		d.Status = model.StatusPaused
	}
	e.mu.Unlock()

	e.signal()
	return e.save()
}

func (e *Engine) DownloadDir(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.downloadDir, nil
}

// SetDownloadDir changes where new downloads are saved. dir must be an
// existing directory.
func (e *Engine) SetDownloadDir(ctx context.Context, dir string) error {
	dir = strings.TrimSpace(dir)
	if !ioutils.IsDir(dir) {
		return fmt.Errorf("%w: %q is not a directory", ErrInvalid, dir)
	}

	e.mu.Lock()
	e.downloadDir = dir
	e.mu.Unlock()

	e.logger.Info("download dir changed", "dir", dir)
	return e.save()
}

func (e *Engine) MaxConcurrentDownloads(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxConcurrent, nil
}

// SetMaxConcurrentDownloads changes the cap. Lowering it lets running
// transfers finish; raising it admits queued downloads right away.
func (e *Engine) SetMaxConcurrentDownloads(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("%w: max concurrent downloads %d", ErrInvalid, n)
	}

	e.mu.Lock()
	e.maxConcurrent = n
	e.scheduleLocked()
	e.mu.Unlock()

	e.signal()
	return e.save()
}

func (e *Engine) MaxRetries(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxRetries, nil
}

// SetMaxRetries applies to downloads enqueued or resumed afterwards.
func (e *Engine) SetMaxRetries(ctx context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("%w: max retries %d", ErrInvalid, n)
	}

	e.mu.Lock()
	e.maxRetries = n
	e.mu.Unlock()

	return e.save()
}

// Subscribe registers for the download-progress signal.
func (e *Engine) Subscribe(ctx context.Context) (<-chan struct{}, func(), error) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	key := e.nextSub
	e.nextSub++
	ch := make(chan struct{}, 1)
	e.subscribers[key] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			e.subMu.Lock()
			defer e.subMu.Unlock()
			if _, ok := e.subscribers[key]; ok {
				delete(e.subscribers, key)
				close(ch)
			}
		})
	}
	return ch, unsubscribe, nil
}

func (e *Engine) signal() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// scheduleLocked admits queued downloads up to the concurrency cap.
// e.mu must be held.
func (e *Engine) scheduleLocked() {
	for !e.closed && len(e.active) < e.maxConcurrent && len(e.queue) > 0 {
		id := e.queue[0]
		e.queue = e.queue[1:]

		d := e.findLocked(id)
		if d == nil || d.Status.Kind != model.KindQueued {
			continue
		}
		e.startLocked(d)
	}
}

func (e *Engine) startLocked(d *model.Download) {
	ctx, cancel := context.WithCancel(e.ctx)
	w := &worker{cancel: cancel, done: make(chan struct{})}
	e.active[d.ID] = w
	d.Status = model.StatusDownloading

	id := d.ID
	e.group.Go(func() error {
		defer close(w.done)
		defer cancel()
		e.run(ctx, id, w)
		return nil
	})
}

// run transfers one download, retrying failed attempts with an
// exponential cooldown until its retries are used up.
func (e *Engine) run(ctx context.Context, id uint64, w *worker) {
	e.signal()

	for tries := 0; ; tries++ {
		err := e.transfer(ctx, id, w)
		if err == nil {
			completed := model.StatusCompleted
			e.finish(id, &completed)
			return
		}
		if ctx.Err() != nil {
			e.finish(id, nil)
			return
		}

		e.mu.Lock()
		d := e.findLocked(id)
		if d == nil {
			e.mu.Unlock()
			e.finish(id, nil)
			return
		}
		if d.RetriesLeft == 0 {
			e.mu.Unlock()
			e.logger.Error("download failed", "id", id, "err", err)
			failed := model.Failed(err.Error())
			e.finish(id, &failed)
			return
		}
		d.RetriesLeft--
		d.SpeedKbps = 0
		d.ETASeconds = 0
		retriesLeft := d.RetriesLeft
		e.mu.Unlock()

		e.logger.Warn("transfer failed, retrying", "id", id, "try", tries+1, "retries_left", retriesLeft, "err", err)
		e.signal()
		if !e.waitForRetry(ctx, tries) {
			e.finish(id, nil)
			return
		}
	}
}

// finish releases the worker slot of id. A nil status leaves the
// download's status as set by whoever stopped the transfer.
func (e *Engine) finish(id uint64, status *model.Status) {
	completed := status != nil && status.Kind == model.KindCompleted

	e.mu.Lock()
	delete(e.active, id)
	if d := e.findLocked(id); d != nil {
		if status != nil {
			d.Status = *status
		}
		if completed {
			d.Progress = 100
			if d.TotalBytes == 0 {
				d.TotalBytes = d.DownloadedBytes
			}
		}
		d.SpeedKbps = 0
		d.ETASeconds = 0
	}
	e.scheduleLocked()
	e.mu.Unlock()

	if completed {
		e.logger.Info("download complete", "id", id)
	}
	e.signal()
	if err := e.save(); err != nil {
		e.logger.Error("save state", "err", err)
	}
}

// transfer runs one attempt: a ranged GET appended to the file.
func (e *Engine) transfer(ctx context.Context, id uint64, w *worker) error {
	e.mu.Lock()
	d := e.findLocked(id)
	if d == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	rawURL, path, offset := d.URL, d.FilePath, int64(d.DownloadedBytes)
	e.mu.Unlock()

	if size := ioutils.FileSize(path); offset > size {
		offset = size
	}

	resp, err := e.httpClient.OpenRange(ctx, rawURL, offset)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if resp.StatusCode != statusPartialContent {
		// server ignored the range
		offset = 0
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}

	var total int64
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	if err := ioutils.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return err
	}

	now := time.Now()
	w.windowStart, w.windowBytes, w.lastWritten = now, 0, offset

	pw := &httpclient.ProgressWriter{
		Writer:  file,
		Total:   total,
		Written: offset,
		OnUpdate: func(written, total int64) {
			e.progress(id, w, written, total)
		},
	}
	body := &throttledReader{ctx: ctx, r: resp.Body, limiter: e.limiter}

	_, copyErr := io.Copy(pw, body)
	closeErr := file.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return closeErr
	}
	if total > 0 && pw.Written < total {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// progress records transfer progress and emits a signal at most once per
// progress interval.
func (e *Engine) progress(id uint64, w *worker, written, total int64) {
	now := time.Now()

	e.mu.Lock()
	d := e.findLocked(id)
	if d == nil || d.Status.Kind != model.KindDownloading {
		e.mu.Unlock()
		return
	}

	w.windowBytes += written - w.lastWritten
	w.lastWritten = written
	if elapsed := now.Sub(w.windowStart); elapsed >= speedWindow {
		d.SpeedKbps = float64(w.windowBytes) / 1024 / elapsed.Seconds()
		w.windowStart, w.windowBytes = now, 0
	}

	d.DownloadedBytes = uint64(written)
	if total > 0 {
		d.TotalBytes = uint64(total)
		if p := float64(written) / float64(total) * 100; p > d.Progress {
			d.Progress = min(p, 100)
		}
		if d.SpeedKbps > 0 {
			remainingKB := float64(total-written) / 1024
			d.ETASeconds = uint64(math.Round(remainingKB / d.SpeedKbps))
		}
	}

	emit := now.Sub(w.lastSignal) >= e.opts.ProgressInterval
	if emit {
		w.lastSignal = now
	}
	e.mu.Unlock()

	if emit {
		e.signal()
	}
}

func (e *Engine) waitForRetry(ctx context.Context, tries int) bool {
	cooldown := float64(e.opts.RetryCooldown) * math.Pow(e.opts.RetryExponent, float64(tries))
	select {
	case <-ctx.Done():
		return false
	case <-time.After(time.Duration(cooldown)):
		return true
	}
}

// halt stops the transfer of id, if any, and waits for it to exit.
func (e *Engine) halt(id uint64) {
	e.mu.Lock()
	w := e.active[id]
	if w == nil {
		e.mu.Unlock()
		return
	}
	if d := e.findLocked(id); d != nil && d.Status.Kind == model.KindDownloading {
		d.Status = model.StatusPaused
	}
	w.cancel()
	e.mu.Unlock()
	<-w.done
}

func (e *Engine) save() error {
	if e.opts.StatePath == "" {
		return nil
	}

	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	st := &persistedState{
		Downloads:              make([]model.Download, len(e.downloads)),
		Queue:                  slices.Clone(e.queue),
		MaxConcurrentDownloads: e.maxConcurrent,
		SpeedLimit:             e.speedLimit,
		DownloadDir:            e.downloadDir,
		MaxRetries:             e.maxRetries,
		HasSettings:            true,
	}
	for i, d := range e.downloads {
		st.Downloads[i] = *d
	}
	e.mu.Unlock()

	if err := saveState(e.opts.StatePath, st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (e *Engine) findLocked(id uint64) *model.Download {
	for _, d := range e.downloads {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// findByPathLocked returns the id of the download saving to path, or 0.
func (e *Engine) findByPathLocked(path string) uint64 {
	for _, d := range e.downloads {
		if d.FilePath == path {
			return d.ID
		}
	}
	return 0
}

func (e *Engine) removeFromQueueLocked(id uint64) bool {
	n := len(e.queue)
	e.queue = slices.DeleteFunc(e.queue, func(q uint64) bool { return q == id })
	return len(e.queue) != n
}

func validateURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported URL %q", ErrInvalid, rawURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: URL %q has no host", ErrInvalid, rawURL)
	}
	return nil
}
