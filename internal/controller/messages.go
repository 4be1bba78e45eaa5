package controller

import (
	"github.com/handiism/download-manager/internal/engine"
	"github.com/handiism/download-manager/internal/model"
)

// RefreshedMsg carries the result of one refresh cycle.
type RefreshedMsg struct {
	Downloads  []model.Download
	Queue      []model.Download
	SpeedLimit model.SpeedLimit
	Err        error
}

// SignalMsg is delivered once per download-progress signal.
type SignalMsg struct{}

// signalClosedMsg is delivered when the subscription ends.
type signalClosedMsg struct{}

// ExistenceCheckedMsg is the result of the existence check of a submitted URL.
type ExistenceCheckedMsg struct {
	URL    string
	Exists bool
	Path   string
	Err    error
}

// EnqueuedMsg is the result of an enqueue issued by the conflict workflow.
type EnqueuedMsg struct {
	URL     string
	Options engine.EnqueueOptions
	ID      uint64
	Err     error
}

// RemovedMsg is the result of a confirmed removal.
type RemovedMsg struct {
	ID             uint64
	RemoveFromDisk bool
	Err            error
}

// CommandDoneMsg is the result of a pause, resume or dequeue command.
type CommandDoneMsg struct {
	Op  string
	ID  uint64
	Err error
}

// SettingsMsg carries engine settings fetched by LoadSettings.
type SettingsMsg struct {
	Settings EngineSettings
	Err      error
}

// SettingAppliedMsg is the result of a settings change.
type SettingAppliedMsg struct {
	Name string
	Err  error
}
