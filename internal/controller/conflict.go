package controller

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/handiism/download-manager/internal/engine"
	"github.com/handiism/download-manager/internal/model"
)

// ConflictState is the phase of the conflict resolution workflow.
type ConflictState int

const (
	ConflictIdle ConflictState = iota
	ConflictChecking
	ConflictEnqueuing
	ConflictPromptOpen
	ConflictResolving
)

func (s ConflictState) String() string {
	switch s {
	case ConflictIdle:
		return "idle"
	case ConflictChecking:
		return "checking"
	case ConflictEnqueuing:
		return "enqueuing"
	case ConflictPromptOpen:
		return "prompt open"
	case ConflictResolving:
		return "resolving"
	default:
		return "unknown"
	}
}

// Resolution is the user's answer to a conflict prompt.
type Resolution int

const (
	ResolveOverwrite Resolution = iota
	ResolveResume
	ResolveSaveAs
	ResolveCancel
)

func (r Resolution) String() string {
	switch r {
	case ResolveOverwrite:
		return "overwrite"
	case ResolveResume:
		return "resume"
	case ResolveSaveAs:
		return "save as"
	case ResolveCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// ConflictPrompt describes a submitted URL whose target file exists.
type ConflictPrompt struct {
	URL              string
	ExistingFilePath string
	SuggestedName    string
}

// CanSaveAs reports whether name is acceptable for a save-as resolution.
func CanSaveAs(name string) bool {
	return strings.TrimSpace(name) != ""
}

// ConflictWorkflow takes a submitted URL through the existence check and,
// when the target exists, a single-slot prompt:
//
//	Idle -> Checking -> Enqueuing -> Idle
//	Idle -> Checking -> PromptOpen -> Resolving -> Idle
//
// A Submit while not Idle is rejected.
type ConflictWorkflow struct {
	gw     engine.Gateway
	logger *log.Logger

	state  ConflictState
	url    string
	prompt *ConflictPrompt
}

// NewConflictWorkflow creates an idle workflow.
func NewConflictWorkflow(gw engine.Gateway, logger *log.Logger) *ConflictWorkflow {
	return &ConflictWorkflow{gw: gw, logger: logger}
}

func (w *ConflictWorkflow) State() ConflictState { return w.state }

// Busy reports whether a submitted URL is still being processed.
func (w *ConflictWorkflow) Busy() bool { return w.state != ConflictIdle }

// URL returns the pending URL input.
func (w *ConflictWorkflow) URL() string { return w.url }

// SetURL replaces the pending URL input.
func (w *ConflictWorkflow) SetURL(url string) { w.url = url }

// Prompt returns the open conflict prompt, if any.
func (w *ConflictWorkflow) Prompt() (ConflictPrompt, bool) {
	if w.prompt == nil {
		return ConflictPrompt{}, false
	}
	return *w.prompt, true
}

// Submit starts the workflow for the pending URL. A blank URL or a busy
// workflow yields no command.
func (w *ConflictWorkflow) Submit(ctx context.Context) tea.Cmd {
	url := strings.TrimSpace(w.url)
	if url == "" {
		return nil
	}
	if w.Busy() {
		w.logger.Warn("submit rejected, previous URL still in progress", "state", w.state, "url", url)
		return nil
	}

	w.state = ConflictChecking
	gw := w.gw
	return func() tea.Msg {
		exists, path, err := gw.CheckFileExistence(ctx, url)
		return ExistenceCheckedMsg{URL: url, Exists: exists, Path: path, Err: err}
	}
}

// HandleChecked advances the workflow with an existence check result.
func (w *ConflictWorkflow) HandleChecked(ctx context.Context, msg ExistenceCheckedMsg) tea.Cmd {
	if w.state != ConflictChecking {
		w.logger.Debug("stale existence check dropped", "url", msg.URL)
		return nil
	}

	if msg.Err != nil {
		w.logger.Error("existence check failed", "url", msg.URL, "err", msg.Err)
		w.state = ConflictIdle
		return nil
	}

	if !msg.Exists {
		w.state = ConflictEnqueuing
		return w.enqueue(ctx, msg.URL, engine.EnqueueOptions{})
	}

	w.prompt = &ConflictPrompt{
		URL:              msg.URL,
		ExistingFilePath: msg.Path,
		SuggestedName:    model.BaseName(msg.Path),
	}
	w.state = ConflictPromptOpen
	return nil
}

// Resolve answers the open prompt. Overwrite, Resume and SaveAs enqueue
// with the matching option; Cancel discards the prompt and the URL. A
// SaveAs with a blank name is rejected and leaves the prompt open.
func (w *ConflictWorkflow) Resolve(ctx context.Context, r Resolution, saveAs string) tea.Cmd {
	if w.state != ConflictPromptOpen || w.prompt == nil {
		return nil
	}

	var opts engine.EnqueueOptions
	switch r {
	case ResolveOverwrite:
		opts.Overwrite = true
	case ResolveResume:
		opts.Resume = true
	case ResolveSaveAs:
		if !CanSaveAs(saveAs) {
			w.logger.Warn("save as rejected, empty file name")
			return nil
		}
		opts.SaveAs = strings.TrimSpace(saveAs)
	case ResolveCancel:
		w.prompt = nil
		w.url = ""
		w.state = ConflictIdle
		return nil
	default:
		return nil
	}

	w.state = ConflictResolving
	return w.enqueue(ctx, w.prompt.URL, opts)
}

// HandleEnqueued finishes the workflow and reports whether a refresh is
// due.
func (w *ConflictWorkflow) HandleEnqueued(msg EnqueuedMsg) bool {
	switch w.state {
	case ConflictEnqueuing:
		w.state = ConflictIdle
		if msg.Err != nil {
			w.logger.Error("enqueue failed", "url", msg.URL, "err", msg.Err)
			return false
		}
		w.url = ""
		return true

	case ConflictResolving:
		if msg.Err != nil {
			w.logger.Error("enqueue failed", "url", msg.URL, "err", msg.Err)
		}
		w.prompt = nil
		w.url = ""
		w.state = ConflictIdle
		return true

	default:
		w.logger.Debug("stale enqueue result dropped", "url", msg.URL)
		return false
	}
}

func (w *ConflictWorkflow) enqueue(ctx context.Context, url string, opts engine.EnqueueOptions) tea.Cmd {
	gw := w.gw
	return func() tea.Msg {
		id, err := gw.Enqueue(ctx, url, opts)
		return EnqueuedMsg{URL: url, Options: opts, ID: id, Err: err}
	}
}
