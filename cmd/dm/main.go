package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/handiism/download-manager/internal/config"
	"github.com/jessevdk/go-flags"
)

// globalOptions apply to every command.
type globalOptions struct {
	Config  string `short:"c" long:"config" description:"Path to config file (JSON or YAML)"`
	Engine  string `short:"e" long:"engine" description:"Engine URL (overrides engine_url)"`
	Verbose bool   `short:"v" long:"verbose" description:"Show debug output"`
}

var global globalOptions

func main() {
	parser := flags.NewParser(&global, flags.Default)
	parser.Name = "dm"
	parser.LongDescription = "Download manager. Run \"dm serve\" to start the engine, or dm-tui for interactive mode."

	mustAdd(parser, "serve", "Run the download engine", "Runs the download engine and serves it over HTTP.", &serveCommand{})
	mustAdd(parser, "add", "Add a download", "Checks whether the target file exists, then enqueues the URL.", &addCommand{})
	mustAdd(parser, "list", "List downloads", "Lists downloads with their status and queue position.", &listCommand{})
	mustAdd(parser, "pause", "Pause a download", "Pauses a downloading or queued download.", &pauseCommand{})
	mustAdd(parser, "resume", "Resume a download", "Re-queues a paused or failed download.", &resumeCommand{})
	mustAdd(parser, "remove", "Remove a download", "Removes a download, optionally deleting its file.", &removeCommand{})
	mustAdd(parser, "dequeue", "Take a download out of the queue", "Moves a waiting download out of the queue without starting it.", &dequeueCommand{})
	mustAdd(parser, "settings", "Show or change engine settings", "Shows engine settings; any flag given changes that setting.", &settingsCommand{})

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			os.Exit(2)
		}
		// flags.Default already printed err
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

func mustAdd(parser *flags.Parser, name, short, long string, cmd any) {
	if _, err := parser.AddCommand(name, short, long, cmd); err != nil {
		panic(err)
	}
}

// setup loads the settings and builds the logger shared by all commands.
func setup() (*config.Settings, *log.Logger, error) {
	path := global.Config
	if path == "" {
		path = config.DefaultPath()
	}
	settings, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if global.Engine != "" {
		settings.EngineURL = global.Engine
	}

	logger := settings.NewLogger(os.Stderr)
	if global.Verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return settings, logger, nil
}

// signalContext returns a context cancelled on interrupt.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted, cancelling...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
