package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/handiism/download-manager/internal/config"
	"github.com/handiism/download-manager/internal/controller"
	ioutils "github.com/handiism/download-manager/internal/io"
	"github.com/handiism/download-manager/internal/tui"
	"github.com/jessevdk/go-flags"
)

type options struct {
	Config string `short:"c" long:"config" description:"Path to config file (JSON or YAML)"`
	Engine string `short:"e" long:"engine" description:"Engine URL (empty runs the engine in-process)"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Name = "dm-tui"
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	path := opts.Config
	if path == "" {
		path = config.DefaultPath()
	}
	settings, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.Engine != "" {
		settings.EngineURL = opts.Engine
	}

	// the terminal belongs to the UI, so logs go to a file
	var logOut io.Writer = io.Discard
	if settings.LogFile != "" {
		if err := ioutils.EnsureDir(filepath.Dir(settings.LogFile)); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		logFile, err := tea.LogToFile(settings.LogFile, "dm")
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer logFile.Close()
		logOut = logFile
	}
	logger := settings.NewLogger(logOut)

	gw, closeGateway, err := settings.OpenGateway(logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeGateway(); err != nil {
			logger.Error("close engine", "err", err)
		}
	}()

	ctl := controller.New(gw, controller.Options{
		Logger:              logger,
		Notifier:            controller.LogNotifier(logger),
		DedupeNotifications: settings.DedupeNotifications,
	})
	if err := ctl.Start(context.Background()); err != nil {
		logger.Warn("no push updates, refresh manually", "err", err)
	}
	defer ctl.Stop()

	return tui.Run(ctl)
}
