// Package http provides the HTTP client shared by the download engine and
// the remote engine transport.
//
// The Client in this package handles:
//   - User-Agent headers
//   - JSON calls with decoded error bodies
//   - Ranged GET requests for resumable transfers
//   - Long-lived event streams
//
// # Basic Usage
//
//	client := http.NewClient(0) // DefaultTimeout
//
//	// JSON call
//	var queue []model.Download
//	err := client.GetJSON(ctx, baseURL+"/queue", &queue)
//
//	// Resume a transfer from byte 4096
//	resp, err := client.OpenRange(ctx, fileURL, 4096)
//
// # Progress Tracking
//
// The ProgressWriter type can be used to wrap any io.Writer for progress tracking:
//
//	pw := &http.ProgressWriter{
//	    Writer:   file,
//	    Total:    contentLength,
//	    OnUpdate: func(written, total int64) { /* update state */ },
//	}
package http
