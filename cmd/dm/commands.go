package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/handiism/download-manager/internal/controller"
	"github.com/handiism/download-manager/internal/download"
	"github.com/handiism/download-manager/internal/engine"
	"github.com/handiism/download-manager/internal/model"
)

type idArgs struct {
	ID uint64 `positional-arg-name:"id" required:"yes"`
}

type serveCommand struct {
	Listen string `short:"l" long:"listen" description:"Address to listen on (overrides listen_addr)"`
}

func (c *serveCommand) Execute([]string) error {
	settings, logger, err := setup()
	if err != nil {
		return err
	}
	if settings.IsRemote() {
		return fmt.Errorf("serve runs the engine in-process; unset engine_url or --engine")
	}
	addr := settings.ListenAddr
	if c.Listen != "" {
		addr = c.Listen
	}

	ctx, cancel := signalContext()
	defer cancel()

	eng, err := download.NewEngine(settings.ToEngineOptions(), logger)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("close engine", "err", err)
		}
	}()

	logger.Info("engine listening", "addr", addr, "dir", settings.DownloadDir)
	return engine.NewServer(eng, logger).ListenAndServe(ctx, addr)
}

type listCommand struct {
	Search string `short:"s" long:"search" description:"Only show downloads whose name contains this text"`
}

func (c *listCommand) Execute([]string) error {
	settings, logger, err := setup()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	gw := settings.Dial(logger)
	downloads, err := gw.Downloads(ctx)
	if err != nil {
		return fmt.Errorf("list downloads: %w", err)
	}
	queue, err := gw.Queue(ctx)
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}
	positions := model.QueueOf(queue)

	search := strings.ToLower(strings.TrimSpace(c.Search))
	for _, d := range downloads {
		if search != "" && !strings.Contains(strings.ToLower(d.DisplayName()), search) {
			continue
		}
		fmt.Printf("%4d  %-40s  %s\n", d.ID, d.DisplayName(), describe(d, positions))
	}
	return nil
}

func describe(d model.Download, queue model.Queue) string {
	switch d.Status.Kind {
	case model.KindQueued:
		if pos, ok := queue.Position(d.ID); ok {
			return fmt.Sprintf("queued #%d", pos)
		}
		return "queued"
	case model.KindDownloading:
		line := fmt.Sprintf("downloading %5.1f%%  %s/s", d.Progress, humanize.IBytes(uint64(d.SpeedKbps*1024)))
		if d.TotalBytes > 0 {
			line += fmt.Sprintf("  %s / %s", humanize.IBytes(d.DownloadedBytes), humanize.IBytes(d.TotalBytes))
		}
		if d.ETASeconds > 0 {
			line += "  ETA " + (time.Duration(d.ETASeconds) * time.Second).String()
		}
		return line
	case model.KindCompleted:
		if d.TotalBytes > 0 {
			return "completed  " + humanize.IBytes(d.TotalBytes)
		}
		return "completed"
	case model.KindPaused:
		return fmt.Sprintf("paused %5.1f%%", d.Progress)
	}
	return d.Status.String()
}

type pauseCommand struct {
	Args idArgs `positional-args:"yes" required:"yes"`
}

func (c *pauseCommand) Execute([]string) error {
	return withGateway(func(ctx context.Context, gw engine.Gateway) error {
		if err := gw.Pause(ctx, c.Args.ID); err != nil {
			return fmt.Errorf("pause %d: %w", c.Args.ID, err)
		}
		fmt.Printf("paused %d\n", c.Args.ID)
		return nil
	})
}

type resumeCommand struct {
	Args idArgs `positional-args:"yes" required:"yes"`
}

func (c *resumeCommand) Execute([]string) error {
	return withGateway(func(ctx context.Context, gw engine.Gateway) error {
		if err := gw.Resume(ctx, c.Args.ID); err != nil {
			return fmt.Errorf("resume %d: %w", c.Args.ID, err)
		}
		fmt.Printf("resumed %d\n", c.Args.ID)
		return nil
	})
}

type removeCommand struct {
	DeleteFile bool   `short:"d" long:"delete-file" description:"Also delete the file from disk"`
	KeepFile   bool   `short:"k" long:"keep-file" description:"Keep the file on disk"`
	Args       idArgs `positional-args:"yes" required:"yes"`
}

func (c *removeCommand) Execute([]string) error {
	if c.DeleteFile && c.KeepFile {
		return fmt.Errorf("--delete-file and --keep-file are mutually exclusive")
	}
	return withGateway(func(ctx context.Context, gw engine.Gateway) error {
		d, err := find(ctx, gw, c.Args.ID)
		if err != nil {
			return err
		}

		// same default as the interactive confirmation
		removeFromDisk := d.Status.Kind == model.KindCompleted
		switch {
		case c.DeleteFile:
			removeFromDisk = true
		case c.KeepFile:
			removeFromDisk = false
		}

		if err := gw.Remove(ctx, d.ID, removeFromDisk); err != nil {
			return fmt.Errorf("remove %d: %w", d.ID, err)
		}
		if removeFromDisk {
			fmt.Printf("removed %s and deleted its file\n", d.DisplayName())
		} else {
			fmt.Printf("removed %s\n", d.DisplayName())
		}
		return nil
	})
}

type dequeueCommand struct {
	Args idArgs `positional-args:"yes" required:"yes"`
}

func (c *dequeueCommand) Execute([]string) error {
	return withGateway(func(ctx context.Context, gw engine.Gateway) error {
		d, err := find(ctx, gw, c.Args.ID)
		if err != nil {
			return err
		}
		queue, err := gw.Queue(ctx)
		if err != nil {
			return fmt.Errorf("list queue: %w", err)
		}
		if !controller.CanDequeue(d, model.QueueOf(queue)) {
			return fmt.Errorf("download %d is not waiting in the queue", d.ID)
		}
		if err := gw.RemoveFromQueue(ctx, d.ID); err != nil {
			return fmt.Errorf("dequeue %d: %w", d.ID, err)
		}
		fmt.Printf("dequeued %s\n", d.DisplayName())
		return nil
	})
}

type settingsCommand struct {
	DownloadDir   string `long:"download-dir" description:"Set the download directory"`
	MaxConcurrent string `long:"max-concurrent" description:"Set the number of simultaneous downloads"`
	MaxRetries    string `long:"max-retries" description:"Set the number of retries per download"`
	SpeedLimit    string `long:"speed-limit" description:"Set the speed limit in KB/s (0 = unlimited)"`
}

func (c *settingsCommand) Execute([]string) error {
	return withGateway(func(ctx context.Context, gw engine.Gateway) error {
		if c.DownloadDir != "" {
			if err := gw.SetDownloadDir(ctx, c.DownloadDir); err != nil {
				return fmt.Errorf("set download dir: %w", err)
			}
		}
		if c.MaxConcurrent != "" {
			n, err := strconv.Atoi(c.MaxConcurrent)
			if err != nil || n < 1 {
				return fmt.Errorf("--max-concurrent must be a number of at least 1")
			}
			if err := gw.SetMaxConcurrentDownloads(ctx, n); err != nil {
				return fmt.Errorf("set max concurrent downloads: %w", err)
			}
		}
		if c.MaxRetries != "" {
			n, err := strconv.Atoi(c.MaxRetries)
			if err != nil || n < 0 {
				return fmt.Errorf("--max-retries must be a number of at least 0")
			}
			if err := gw.SetMaxRetries(ctx, n); err != nil {
				return fmt.Errorf("set max retries: %w", err)
			}
		}
		if c.SpeedLimit != "" {
			kbps, err := strconv.ParseFloat(c.SpeedLimit, 64)
			if err != nil || kbps < 0 {
				return fmt.Errorf("--speed-limit must be a non-negative number")
			}
			if err := gw.SetSpeedLimit(ctx, kbps); err != nil {
				return fmt.Errorf("set speed limit: %w", err)
			}
		}

		return printSettings(ctx, gw)
	})
}

func printSettings(ctx context.Context, gw engine.Gateway) error {
	dir, err := gw.DownloadDir(ctx)
	if err != nil {
		return fmt.Errorf("get download dir: %w", err)
	}
	maxConcurrent, err := gw.MaxConcurrentDownloads(ctx)
	if err != nil {
		return fmt.Errorf("get max concurrent downloads: %w", err)
	}
	maxRetries, err := gw.MaxRetries(ctx)
	if err != nil {
		return fmt.Errorf("get max retries: %w", err)
	}
	limit, err := gw.SpeedLimit(ctx)
	if err != nil {
		return fmt.Errorf("get speed limit: %w", err)
	}

	fmt.Printf("Download directory:       %s\n", dir)
	fmt.Printf("Max concurrent downloads: %d\n", maxConcurrent)
	fmt.Printf("Max retries:              %d\n", maxRetries)
	fmt.Printf("Speed limit:              %s\n", limit)
	return nil
}

// withGateway runs fn against the configured engine.
func withGateway(fn func(context.Context, engine.Gateway) error) error {
	settings, logger, err := setup()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	return fn(ctx, settings.Dial(logger))
}

func find(ctx context.Context, gw engine.Gateway, id uint64) (model.Download, error) {
	downloads, err := gw.Downloads(ctx)
	if err != nil {
		return model.Download{}, fmt.Errorf("list downloads: %w", err)
	}
	d, ok := model.Find(downloads, id)
	if !ok {
		return model.Download{}, fmt.Errorf("download %d: %w", id, engine.ErrNotFound)
	}
	return d, nil
}
