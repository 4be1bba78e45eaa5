// Package controller keeps a local view of an engine's downloads and runs
// the user workflows on top of it.
//
// The Controller follows the Bubble Tea model: every engine call runs in a
// tea.Cmd and its result comes back as a message to Update, the only place
// state changes. A terminal UI embeds the Controller in its own model; the
// CLI drives it with a headless program.
//
//	ctl := controller.New(gw, controller.Options{Logger: logger})
//	if err := ctl.Start(ctx); err != nil {
//	    logger.Warn("no push updates", "err", err)
//	}
//	defer ctl.Stop()
//
//	cmd := ctl.Init() // first refresh, settings, signal wait
//
// # Workflows
//
//   - Synchronizer: refreshes the Cache on start, on every engine signal
//     and after each command
//   - Dispatcher: announces completed and failed downloads after each refresh
//   - ConflictWorkflow: existence check, then enqueue or a conflict prompt
//     with overwrite, resume, save-as and cancel
//   - RemovalWorkflow: request, then confirm or abort, with an optional
//     file deletion
package controller
