package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds request/response calls. Streams and file transfers
// are not bounded by it.
const DefaultTimeout = 60 * time.Second

// Client wraps HTTP operations used by the engine and its remote transport.
//
// Client provides:
//   - Configured User-Agent header
//   - Timeout handling for short calls
//   - JSON request/response helpers with error body decoding
//   - Ranged GET requests for resumable file transfers
//   - Long-lived streams (server-sent events)
//
// Example usage:
//
//	client := NewClient(30 * time.Second)
//
//	var downloads []model.Download
//	err := client.GetJSON(ctx, "http://127.0.0.1:52345/downloads", &downloads)
//
//	resp, err := client.OpenRange(ctx, fileURL, 1024)
//	defer resp.Body.Close()
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	userAgent    string
}

// NewClient creates a new HTTP client.
//
// The client is configured with:
//   - timeout for JSON calls (DefaultTimeout if timeout <= 0)
//   - no timeout for streams and transfers; those are bounded by their context
//   - "DownloadManager" User-Agent header
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		streamClient: &http.Client{},
		userAgent:    "DownloadManager",
	}
}

// StatusError is returned when a server answers with a non-success status.
type StatusError struct {
	// Code is the HTTP status code.
	Code int

	// Status is the HTTP status line text.
	Status string

	// Message is the "error" field of a JSON error body, if any.
	Message string
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Status)
}

// ProgressWriter wraps a writer to track download progress.
//
// Use this to monitor large downloads by providing an OnUpdate callback
// that receives the current bytes written and total expected bytes.
//
// Example:
//
//	pw := &ProgressWriter{
//	    Writer: file,
//	    Written: alreadyOnDisk,
//	    Total:  alreadyOnDisk + contentLength,
//	    OnUpdate: func(written, total int64) {
//	        fmt.Printf("%d / %d bytes\n", written, total)
//	    },
//	}
//	io.Copy(pw, response.Body)
type ProgressWriter struct {
	// Writer is the underlying writer to write data to.
	Writer io.Writer

	// Total is the expected total bytes, 0 if unknown.
	Total int64

	// Written is the current number of bytes written. It may start above
	// zero when a transfer resumes.
	Written int64

	// OnUpdate is called after each Write with current progress.
	// Parameters are (bytesWritten, totalExpected).
	OnUpdate func(written, total int64)
}

// Write implements io.Writer, tracking progress and calling OnUpdate.
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.Written += int64(n)
	if pw.OnUpdate != nil {
		pw.OnUpdate(pw.Written, pw.Total)
	}
	return n, err
}

// GetJSON performs a GET request and decodes the JSON response into out.
//
// Example:
//
//	var limit model.SpeedLimit
//	err := client.GetJSON(ctx, baseURL+"/speed-limit", &limit)
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	return c.SendJSON(ctx, http.MethodGet, url, nil, out)
}

// SendJSON sends in (if non-nil) as a JSON body and decodes the response
// into out (if non-nil).
//
// Returns a *StatusError if the response status is not 2xx. When the body
// is a JSON object with an "error" field, its value becomes the message.
func (c *Client) SendJSON(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readStatusError(resp)
	}

	if out == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// OpenRange starts a GET request for url asking for bytes from offset on.
//
// The caller owns resp.Body. A 206 response continues at offset; a 200
// response means the server ignored the range and sends the whole file.
//
// Returns a *StatusError for any other status.
func (c *Client) OpenRange(ctx context.Context, url string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		defer resp.Body.Close()
		return nil, readStatusError(resp)
	}

	return resp, nil
}

// OpenStream starts a long-lived GET request, e.g. a server-sent event
// stream. The caller owns the returned body; cancel ctx to end the stream.
func (c *Client) OpenStream(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readStatusError(resp)
	}

	return resp.Body, nil
}

func readStatusError(resp *http.Response) error {
	statusErr := &StatusError{Code: resp.StatusCode, Status: resp.Status}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &body) == nil {
			statusErr.Message = body.Error
		}
	}

	return statusErr
}
