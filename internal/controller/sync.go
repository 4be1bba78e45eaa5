package controller

import (
	"context"
	"fmt"
	"slices"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/handiism/download-manager/internal/engine"
	"github.com/handiism/download-manager/internal/model"
	"golang.org/x/sync/errgroup"
)

// Cache is the latest snapshot fetched from the engine. It is written only
// by its Synchronizer; readers get copies.
type Cache struct {
	downloads  []model.Download
	queue      model.Queue
	speedLimit model.SpeedLimit
	loaded     bool
}

// Downloads returns the cached download list.
func (c *Cache) Downloads() []model.Download {
	return slices.Clone(c.downloads)
}

// Queue returns the cached queue order.
func (c *Cache) Queue() model.Queue {
	return slices.Clone(c.queue)
}

// SpeedLimit returns the cached speed limit.
func (c *Cache) SpeedLimit() model.SpeedLimit {
	return c.speedLimit
}

// Find returns the cached download with id.
func (c *Cache) Find(id uint64) (model.Download, bool) {
	return model.Find(c.downloads, id)
}

// Position returns the 1-based queue position of id.
func (c *Cache) Position(id uint64) (int, bool) {
	return c.queue.Position(id)
}

// Loaded reports whether at least one refresh succeeded.
func (c *Cache) Loaded() bool {
	return c.loaded
}

// Synchronizer keeps a Cache in line with the engine.
//
// Refresh cycles are neither serialized nor de-duplicated: results are
// applied in the order they arrive, so the last one applied wins.
type Synchronizer struct {
	gw     engine.Gateway
	logger *log.Logger
	cache  Cache
}

// NewSynchronizer creates a Synchronizer with an empty cache.
func NewSynchronizer(gw engine.Gateway, logger *log.Logger) *Synchronizer {
	return &Synchronizer{
		gw:     gw,
		logger: logger,
		cache:  Cache{speedLimit: model.Unlimited()},
	}
}

// Cache returns the cache for reading.
func (s *Synchronizer) Cache() *Cache {
	return &s.cache
}

// Refresh returns a command fetching downloads, queue and speed limit
// concurrently. A failing speed limit fetch resolves to unlimited; a
// failing downloads or queue fetch fails the whole cycle.
func (s *Synchronizer) Refresh(ctx context.Context) tea.Cmd {
	gw, logger := s.gw, s.logger
	return func() tea.Msg {
		return fetch(ctx, gw, logger)
	}
}

func fetch(ctx context.Context, gw engine.Gateway, logger *log.Logger) RefreshedMsg {
	var (
		downloads []model.Download
		queue     []model.Download
		limit     = model.Unlimited()
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := gw.Downloads(gctx)
		if err != nil {
			return fmt.Errorf("get downloads: %w", err)
		}
		downloads = d
		return nil
	})
	g.Go(func() error {
		q, err := gw.Queue(gctx)
		if err != nil {
			return fmt.Errorf("get queue: %w", err)
		}
		queue = q
		return nil
	})
	g.Go(func() error {
		l, err := gw.SpeedLimit(gctx)
		if err != nil {
			logger.Debug("speed limit unavailable", "err", err)
			return nil
		}
		limit = l
		return nil
	})

	if err := g.Wait(); err != nil {
		return RefreshedMsg{Err: err}
	}
	return RefreshedMsg{Downloads: downloads, Queue: queue, SpeedLimit: limit}
}

// Apply replaces the cache with a successful result. A failed result is
// logged and leaves the cache untouched. It reports whether the cache
// was replaced.
func (s *Synchronizer) Apply(msg RefreshedMsg) bool {
	if msg.Err != nil {
		s.logger.Error("refresh failed", "err", msg.Err)
		return false
	}

	s.cache = Cache{
		downloads:  slices.Clone(msg.Downloads),
		queue:      model.QueueOf(msg.Queue),
		speedLimit: msg.SpeedLimit,
		loaded:     true,
	}
	return true
}
