package controller

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/handiism/download-manager/internal/engine"
	"github.com/handiism/download-manager/internal/model"
)

// RemovalState is the phase of the removal workflow.
type RemovalState int

const (
	RemovalIdle RemovalState = iota
	RemovalPending
	RemovalRemoving
)

// RemovalRequest is a removal awaiting confirmation.
type RemovalRequest struct {
	Download       model.Download
	RemoveFromDisk bool
}

// RemovalWorkflow is the two-step removal: request, then confirm or abort.
type RemovalWorkflow struct {
	gw     engine.Gateway
	logger *log.Logger

	state   RemovalState
	request *RemovalRequest
}

// NewRemovalWorkflow creates an idle workflow.
func NewRemovalWorkflow(gw engine.Gateway, logger *log.Logger) *RemovalWorkflow {
	return &RemovalWorkflow{gw: gw, logger: logger}
}

func (w *RemovalWorkflow) State() RemovalState { return w.state }

// Pending returns the request awaiting confirmation, if any.
func (w *RemovalWorkflow) Pending() (RemovalRequest, bool) {
	if w.state != RemovalPending || w.request == nil {
		return RemovalRequest{}, false
	}
	return *w.request, true
}

// Request opens a confirmation for d, replacing any pending one. Files of
// completed downloads are removed from disk by default.
func (w *RemovalWorkflow) Request(d model.Download) bool {
	if w.state == RemovalRemoving {
		w.logger.Warn("removal rejected, previous removal in progress", "id", d.ID)
		return false
	}
	w.request = &RemovalRequest{
		Download:       d,
		RemoveFromDisk: d.Status.Kind == model.KindCompleted,
	}
	w.state = RemovalPending
	return true
}

func (w *RemovalWorkflow) SetRemoveFromDisk(v bool) {
	if w.state == RemovalPending && w.request != nil {
		w.request.RemoveFromDisk = v
	}
}

func (w *RemovalWorkflow) ToggleRemoveFromDisk() {
	if w.state == RemovalPending && w.request != nil {
		w.request.RemoveFromDisk = !w.request.RemoveFromDisk
	}
}

// Confirm issues the pending removal.
func (w *RemovalWorkflow) Confirm(ctx context.Context) tea.Cmd {
	if w.state != RemovalPending || w.request == nil {
		return nil
	}
	w.state = RemovalRemoving

	gw, id, fromDisk := w.gw, w.request.Download.ID, w.request.RemoveFromDisk
	return func() tea.Msg {
		err := gw.Remove(ctx, id, fromDisk)
		return RemovedMsg{ID: id, RemoveFromDisk: fromDisk, Err: err}
	}
}

// Abort discards the pending removal without contacting the engine.
func (w *RemovalWorkflow) Abort() {
	if w.state != RemovalPending {
		return
	}
	w.request = nil
	w.state = RemovalIdle
}

// HandleRemoved finishes the workflow and reports whether a refresh is due.
func (w *RemovalWorkflow) HandleRemoved(msg RemovedMsg) bool {
	if w.state != RemovalRemoving {
		return false
	}
	if msg.Err != nil {
		w.logger.Error("remove failed", "id", msg.ID, "err", msg.Err)
	}
	w.request = nil
	w.state = RemovalIdle
	return true
}

// CanDequeue reports whether d may be taken out of the queue: it must be
// queued and not downloading.
func CanDequeue(d model.Download, queue model.Queue) bool {
	return queue.Contains(d.ID) && d.Status.Kind != model.KindDownloading
}
