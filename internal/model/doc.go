// Package model defines the core data structures shared by the engine,
// the controller and the user interfaces.
//
// # Download
//
// Download is one entry of the engine's list:
//
//	dl := model.Download{ID: 1, FilePath: "/tmp/a.zip", Status: model.StatusQueued}
//	fmt.Println(dl.DisplayName()) // "a.zip"
//
// # Status
//
// Status is a tagged variant with a single failure shape:
//
//	model.StatusDownloading
//	model.Failed("HTTP 404: 404 Not Found")
//
// It encodes as the engine does ("completed", {"failed": "..."}) and
// decodes the legacy "failed: ..." string form as well.
//
// # Queue
//
// Queue holds the ids awaiting admission in engine order:
//
//	pos, ok := queue.Position(dl.ID) // 1-based
package model
