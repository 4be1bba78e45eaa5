package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/handiism/download-manager/internal/controller"
	"github.com/handiism/download-manager/internal/model"
)

const pollInterval = time.Second

var errCancelled = errors.New("cancelled: file already exists")

type addCommand struct {
	OnConflict string `long:"on-conflict" choice:"cancel" choice:"overwrite" choice:"resume" choice:"rename" default:"cancel" description:"What to do when the target file exists"`
	SaveAs     string `long:"save-as" description:"File name used with --on-conflict=rename"`
	Wait       bool   `short:"w" long:"wait" description:"Wait until the download completes or fails"`
	Args       struct {
		URL string `positional-arg-name:"url" required:"yes"`
	} `positional-args:"yes" required:"yes"`
}

func (c *addCommand) Execute([]string) error {
	resolution, err := parseResolution(c.OnConflict)
	if err != nil {
		return err
	}
	if resolution == controller.ResolveSaveAs && !controller.CanSaveAs(c.SaveAs) {
		return fmt.Errorf("--on-conflict=rename needs --save-as")
	}

	settings, logger, err := setup()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	ctl := controller.New(settings.Dial(logger), controller.Options{
		Logger:              logger,
		Notifier:            controller.LogNotifier(logger),
		DedupeNotifications: true,
	})
	if c.Wait {
		if err := ctl.Start(ctx); err != nil {
			logger.Warn("no push updates, polling", "err", err)
		}
		defer ctl.Stop()
	}

	m := &addModel{
		ctl:        ctl,
		logger:     logger,
		url:        c.Args.URL,
		resolution: resolution,
		saveAs:     c.SaveAs,
		wait:       c.Wait,
		out:        os.Stdout,
	}
	p := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithInput(nil),
		tea.WithoutRenderer(),
		tea.WithoutSignalHandler(),
	)
	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("add: %w", err)
	}
	return m.result
}

func parseResolution(s string) (controller.Resolution, error) {
	switch s {
	case "", "cancel":
		return controller.ResolveCancel, nil
	case "overwrite":
		return controller.ResolveOverwrite, nil
	case "resume":
		return controller.ResolveResume, nil
	case "rename":
		return controller.ResolveSaveAs, nil
	}
	return controller.ResolveCancel, fmt.Errorf("unknown conflict resolution %q", s)
}

type pollMsg struct{}

// addModel drives the controller's submit workflow without a terminal.
type addModel struct {
	ctl        *controller.Controller
	logger     *log.Logger
	url        string
	resolution controller.Resolution
	saveAs     string
	wait       bool
	out        io.Writer

	id     uint64
	result error
}

func (m *addModel) Init() tea.Cmd {
	m.ctl.SetURL(m.url)
	submit := m.ctl.Submit()
	if submit == nil {
		m.result = fmt.Errorf("url is empty")
		return tea.Quit
	}
	if m.wait {
		return tea.Batch(submit, m.ctl.Init())
	}
	return submit
}

func (m *addModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	cmd := m.ctl.Update(msg)

	switch msg := msg.(type) {
	case controller.ExistenceCheckedMsg:
		if msg.Err != nil {
			m.result = fmt.Errorf("check %s: %w", msg.URL, msg.Err)
			return m, tea.Quit
		}
		prompt, open := m.ctl.Prompt()
		if !open {
			return m, cmd
		}
		fmt.Fprintf(m.out, "%s already exists\n", prompt.ExistingFilePath)
		resolve := m.ctl.Resolve(m.resolution, m.saveAs)
		if m.resolution == controller.ResolveCancel {
			m.result = errCancelled
			return m, tea.Quit
		}
		return m, tea.Batch(cmd, resolve)

	case controller.EnqueuedMsg:
		if msg.Err != nil {
			m.result = fmt.Errorf("add %s: %w", msg.URL, msg.Err)
			return m, tea.Quit
		}
		m.id = msg.ID
		fmt.Fprintf(m.out, "added %s (id %d)\n", msg.URL, msg.ID)
		if !m.wait {
			return m, tea.Quit
		}
		return m, tea.Batch(cmd, m.poll())

	case pollMsg:
		return m, tea.Batch(m.ctl.Refresh(), m.poll())

	case controller.RefreshedMsg:
		if m.id == 0 || msg.Err != nil {
			return m, cmd
		}
		d, ok := m.ctl.Cache().Find(m.id)
		if !ok {
			// a refresh issued before the enqueue landed
			return m, cmd
		}
		switch d.Status.Kind {
		case model.KindCompleted:
			fmt.Fprintf(m.out, "%s completed\n", d.DisplayName())
			return m, tea.Quit
		case model.KindFailed:
			m.result = fmt.Errorf("%s failed: %s", d.DisplayName(), d.Status.Reason)
			return m, tea.Quit
		}
		m.logger.Debug("progress", "file", d.DisplayName(), "status", d.Status, "progress", d.Progress)
	}

	return m, cmd
}

func (m *addModel) View() string {
	return ""
}

func (m *addModel) poll() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		return pollMsg{}
	})
}
