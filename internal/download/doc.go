// Package download provides the in-process download engine.
//
// # Engine
//
// The Engine owns the download list and the queue:
//
//  1. Enqueue derives the target file from the URL (or a save-as name)
//  2. Queued downloads are admitted FIFO up to the concurrency cap
//  3. Each transfer is a ranged GET appended to the file, so paused and
//     failed downloads continue where they stopped
//  4. Failed attempts are retried with exponential backoff
//  5. State is persisted to a JSON file after every change
//
// # Basic Usage
//
//	eng, err := download.NewEngine(settings.ToEngineOptions(), logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
//	id, err := eng.Enqueue(ctx, "https://example.com/file.zip", engine.EnqueueOptions{})
//
// # Signals
//
// Subscribe returns a channel receiving the payload-free
// "download-progress" signal. Running transfers signal at most once per
// Options.ProgressInterval; every status change signals immediately.
//
// # Speed Limit
//
// A single token bucket (golang.org/x/time/rate) paces all transfers
// together. A limit of 0 removes it.
//
// # Retry Logic
//
// Retry n waits Options.RetryCooldown * Options.RetryExponent^n. Once
// RetriesLeft reaches zero the download becomes Failed with the last
// error as its reason.
package download
