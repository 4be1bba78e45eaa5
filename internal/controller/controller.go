package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/handiism/download-manager/internal/engine"
	"github.com/handiism/download-manager/internal/model"
	"golang.org/x/sync/errgroup"
)

const maxNotices = 100

// NoticeLevel indicates the severity of a Notice.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeWarning
	NoticeError
	NoticeSuccess
)

// Notice is a short user-facing message about a controller operation.
type Notice struct {
	Time    time.Time
	Level   NoticeLevel
	Message string
}

// EngineSettings are the engine settings shown in the settings panel.
type EngineSettings struct {
	DownloadDir            string
	MaxConcurrentDownloads int
	MaxRetries             int
	SpeedLimit             model.SpeedLimit
}

// Options configures a Controller.
type Options struct {
	Logger   *log.Logger
	Notifier Notifier

	// DedupeNotifications announces each terminal download once instead
	// of on every refresh.
	DedupeNotifications bool
}

// Controller keeps the cache in sync with an engine and runs the user
// workflows on top of it.
//
// All engine calls run inside tea.Cmds. Their results come back as
// messages through Update, which is the only place state changes, so a
// Controller must be driven from a single goroutine (a Bubble Tea program's
// Update, or a test).
type Controller struct {
	gw     engine.Gateway
	logger *log.Logger
	ctx    context.Context

	syncer     *Synchronizer
	dispatcher *Dispatcher
	conflict   *ConflictWorkflow
	removal    *RemovalWorkflow

	settings       EngineSettings
	settingsLoaded bool
	notices        []Notice

	signals     <-chan struct{}
	unsubscribe func()
	stopOnce    sync.Once
	stopped     atomic.Bool
}

// New creates a Controller for gw.
func New(gw engine.Gateway, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("controller")

	return &Controller{
		gw:         gw,
		logger:     logger,
		ctx:        context.Background(),
		syncer:     NewSynchronizer(gw, logger),
		dispatcher: NewDispatcher(opts.Notifier, opts.DedupeNotifications),
		conflict:   NewConflictWorkflow(gw, logger),
		removal:    NewRemovalWorkflow(gw, logger),
	}
}

// Start subscribes to the engine's download-progress signal. Engine calls
// issued afterwards use ctx. Call Stop to release the subscription.
func (c *Controller) Start(ctx context.Context) error {
	c.ctx = ctx
	signals, unsubscribe, err := c.gw.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.signals = signals
	c.unsubscribe = unsubscribe
	return nil
}

// Stop releases the subscription. No signal is acted on afterwards.
// It is safe to call more than once.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
	})
}

// Init returns the startup commands: the first refresh, the settings load
// and, when subscribed, the wait for the first signal.
func (c *Controller) Init() tea.Cmd {
	return tea.Batch(c.Refresh(), c.LoadSettings(), c.waitForSignal())
}

// Update applies a message and returns the follow-up command.
func (c *Controller) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case RefreshedMsg:
		if c.syncer.Apply(msg) {
			c.dispatcher.Dispatch(msg.Downloads)
		}
		return nil

	case SignalMsg:
		if c.stopped.Load() {
			return nil
		}
		return tea.Batch(c.Refresh(), c.waitForSignal())

	case signalClosedMsg:
		if !c.stopped.Load() {
			c.logger.Warn("engine signal subscription closed")
		}
		return nil

	case ExistenceCheckedMsg:
		if msg.Err != nil {
			c.notice(NoticeError, "Could not check %s: %v", msg.URL, msg.Err)
		}
		return c.conflict.HandleChecked(c.ctx, msg)

	case EnqueuedMsg:
		if msg.Err != nil {
			c.notice(NoticeError, "Could not add %s: %v", msg.URL, msg.Err)
		} else {
			c.notice(NoticeSuccess, "Added %s", msg.URL)
		}
		if c.conflict.HandleEnqueued(msg) {
			return c.Refresh()
		}
		return nil

	case RemovedMsg:
		if msg.Err != nil {
			c.notice(NoticeError, "Could not remove download %d: %v", msg.ID, msg.Err)
		}
		if c.removal.HandleRemoved(msg) {
			return c.Refresh()
		}
		return nil

	case CommandDoneMsg:
		if msg.Err != nil {
			c.logger.Error(msg.Op+" failed", "id", msg.ID, "err", msg.Err)
			c.notice(NoticeError, "Could not %s download %d: %v", msg.Op, msg.ID, msg.Err)
		}
		return c.Refresh()

	case SettingsMsg:
		if msg.Err != nil {
			c.logger.Error("load settings failed", "err", msg.Err)
			return nil
		}
		c.settings = msg.Settings
		c.settingsLoaded = true
		return nil

	case SettingAppliedMsg:
		if msg.Err != nil {
			c.logger.Error("set "+msg.Name+" failed", "err", msg.Err)
			c.notice(NoticeError, "Could not change %s: %v", msg.Name, msg.Err)
		} else {
			c.notice(NoticeInfo, "Updated %s", msg.Name)
		}
		if msg.Name == "speed limit" {
			return tea.Batch(c.LoadSettings(), c.Refresh())
		}
		return c.LoadSettings()
	}

	return nil
}

// Refresh returns a command running one refresh cycle.
func (c *Controller) Refresh() tea.Cmd {
	return c.syncer.Refresh(c.ctx)
}

func (c *Controller) waitForSignal() tea.Cmd {
	signals := c.signals
	if signals == nil || c.stopped.Load() {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-signals; !ok {
			return signalClosedMsg{}
		}
		return SignalMsg{}
	}
}

// Cache returns the synchronized cache for reading.
func (c *Controller) Cache() *Cache {
	return c.syncer.Cache()
}

// Position returns the 1-based queue position of id.
func (c *Controller) Position(id uint64) (int, bool) {
	return c.syncer.Cache().Position(id)
}

// Filter returns the cached downloads whose display name contains term,
// ignoring case. A blank term returns all of them.
func (c *Controller) Filter(term string) []model.Download {
	downloads := c.syncer.Cache().Downloads()
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return downloads
	}

	filtered := downloads[:0]
	for _, d := range downloads {
		if strings.Contains(strings.ToLower(d.DisplayName()), term) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// Notices returns the recent notices, oldest first.
func (c *Controller) Notices() []Notice {
	return append([]Notice(nil), c.notices...)
}

func (c *Controller) notice(level NoticeLevel, format string, args ...any) {
	c.notices = append(c.notices, Notice{
		Time:    time.Now(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	})
	if len(c.notices) > maxNotices {
		c.notices = c.notices[len(c.notices)-maxNotices:]
	}
}

// URL returns the pending URL input.
func (c *Controller) URL() string {
	return c.conflict.URL()
}

// SetURL replaces the pending URL input.
func (c *Controller) SetURL(url string) {
	c.conflict.SetURL(url)
}

// Busy reports whether a submitted URL is still being processed.
func (c *Controller) Busy() bool {
	return c.conflict.Busy()
}

func (c *Controller) ConflictState() ConflictState {
	return c.conflict.State()
}

// Prompt returns the open conflict prompt, if any.
func (c *Controller) Prompt() (ConflictPrompt, bool) {
	return c.conflict.Prompt()
}

// Submit checks and enqueues the pending URL.
func (c *Controller) Submit() tea.Cmd {
	return c.conflict.Submit(c.ctx)
}

// Resolve answers the open conflict prompt.
func (c *Controller) Resolve(r Resolution, saveAs string) tea.Cmd {
	return c.conflict.Resolve(c.ctx, r, saveAs)
}

// RequestRemoval opens a removal confirmation for the cached download id.
func (c *Controller) RequestRemoval(id uint64) bool {
	d, ok := c.syncer.Cache().Find(id)
	if !ok {
		c.logger.Warn("removal requested for unknown download", "id", id)
		return false
	}
	return c.removal.Request(d)
}

// PendingRemoval returns the removal awaiting confirmation, if any.
func (c *Controller) PendingRemoval() (RemovalRequest, bool) {
	return c.removal.Pending()
}

func (c *Controller) SetRemoveFromDisk(v bool) {
	c.removal.SetRemoveFromDisk(v)
}

func (c *Controller) ToggleRemoveFromDisk() {
	c.removal.ToggleRemoveFromDisk()
}

// ConfirmRemoval issues the pending removal.
func (c *Controller) ConfirmRemoval() tea.Cmd {
	return c.removal.Confirm(c.ctx)
}

// AbortRemoval discards the pending removal.
func (c *Controller) AbortRemoval() {
	c.removal.Abort()
}

// CanDequeue reports whether the cached download id may leave the queue.
func (c *Controller) CanDequeue(id uint64) bool {
	d, ok := c.syncer.Cache().Find(id)
	return ok && CanDequeue(d, c.syncer.Cache().Queue())
}

// Dequeue takes a waiting download out of the queue.
func (c *Controller) Dequeue(id uint64) tea.Cmd {
	if !c.CanDequeue(id) {
		return nil
	}
	return c.command("dequeue", id, c.gw.RemoveFromQueue)
}

// Pause stops a download.
func (c *Controller) Pause(id uint64) tea.Cmd {
	return c.command("pause", id, c.gw.Pause)
}

// ResumeDownload re-queues a paused or failed download.
func (c *Controller) ResumeDownload(id uint64) tea.Cmd {
	return c.command("resume", id, c.gw.Resume)
}

func (c *Controller) command(op string, id uint64, fn func(context.Context, uint64) error) tea.Cmd {
	ctx := c.ctx
	return func() tea.Msg {
		return CommandDoneMsg{Op: op, ID: id, Err: fn(ctx, id)}
	}
}

// Settings returns the last loaded engine settings.
func (c *Controller) Settings() (EngineSettings, bool) {
	return c.settings, c.settingsLoaded
}

// LoadSettings fetches the engine settings concurrently.
func (c *Controller) LoadSettings() tea.Cmd {
	ctx, gw := c.ctx, c.gw
	return func() tea.Msg {
		var s EngineSettings
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			s.DownloadDir, err = gw.DownloadDir(gctx)
			return err
		})
		g.Go(func() (err error) {
			s.MaxConcurrentDownloads, err = gw.MaxConcurrentDownloads(gctx)
			return err
		})
		g.Go(func() (err error) {
			s.MaxRetries, err = gw.MaxRetries(gctx)
			return err
		})
		g.Go(func() (err error) {
			s.SpeedLimit, err = gw.SpeedLimit(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return SettingsMsg{Err: err}
		}
		return SettingsMsg{Settings: s}
	}
}

// SetSpeedLimit sets the global limit in KB/s; 0 removes it. Negative
// values are rejected without contacting the engine.
func (c *Controller) SetSpeedLimit(kbps float64) tea.Cmd {
	if kbps < 0 {
		c.logger.Warn("negative speed limit rejected", "kbps", kbps)
		return nil
	}
	return c.setting("speed limit", func(ctx context.Context) error {
		return c.gw.SetSpeedLimit(ctx, kbps)
	})
}

// SetDownloadDir changes the engine's download directory.
func (c *Controller) SetDownloadDir(dir string) tea.Cmd {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	return c.setting("download directory", func(ctx context.Context) error {
		return c.gw.SetDownloadDir(ctx, dir)
	})
}

// SetMaxConcurrentDownloads changes the concurrency cap; it must be >= 1.
func (c *Controller) SetMaxConcurrentDownloads(n int) tea.Cmd {
	if n < 1 {
		return nil
	}
	return c.setting("max concurrent downloads", func(ctx context.Context) error {
		return c.gw.SetMaxConcurrentDownloads(ctx, n)
	})
}

// SetMaxRetries changes the retry count; it must be >= 0.
func (c *Controller) SetMaxRetries(n int) tea.Cmd {
	if n < 0 {
		return nil
	}
	return c.setting("max retries", func(ctx context.Context) error {
		return c.gw.SetMaxRetries(ctx, n)
	})
}

func (c *Controller) setting(name string, fn func(context.Context) error) tea.Cmd {
	ctx := c.ctx
	return func() tea.Msg {
		return SettingAppliedMsg{Name: name, Err: fn(ctx)}
	}
}
