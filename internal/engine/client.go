package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	httpclient "github.com/handiism/download-manager/internal/http"
	"github.com/handiism/download-manager/internal/model"
)

// maxReconnectDelay caps the wait between event stream reconnects.
const maxReconnectDelay = 30 * time.Second

// RemoteError is a failure reported by the engine behind a Client.
// It matches ErrRemote and, depending on the status code, ErrNotFound,
// ErrFileExists or ErrInvalid.
type RemoteError struct {
	Code    int
	Message string
	kind    error
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote || (e.kind != nil && target == e.kind)
}

// Client is a Gateway backed by an engine served over HTTP.
type Client struct {
	baseURL string
	http    *httpclient.Client
	logger  *log.Logger
}

var _ Gateway = (*Client)(nil)

// NewClient creates a Client for the engine at baseURL.
// timeout bounds each call; the event stream is not bounded by it.
func NewClient(baseURL string, timeout time.Duration, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpclient.NewClient(timeout),
		logger:  logger.WithPrefix("engine"),
	}
}

func (c *Client) Downloads(ctx context.Context) ([]model.Download, error) {
	var downloads []model.Download
	if err := c.call(ctx, http.MethodGet, "/downloads", nil, &downloads); err != nil {
		return nil, err
	}
	return downloads, nil
}

func (c *Client) Queue(ctx context.Context) ([]model.Download, error) {
	var queue []model.Download
	if err := c.call(ctx, http.MethodGet, "/queue", nil, &queue); err != nil {
		return nil, err
	}
	return queue, nil
}

func (c *Client) SpeedLimit(ctx context.Context) (model.SpeedLimit, error) {
	var limit model.SpeedLimit
	if err := c.call(ctx, http.MethodGet, "/speed-limit", nil, &limit); err != nil {
		return model.Unlimited(), err
	}
	return limit, nil
}

func (c *Client) SetSpeedLimit(ctx context.Context, kbps float64) error {
	return c.call(ctx, http.MethodPut, "/speed-limit", speedLimitBody{KBps: kbps}, nil)
}

func (c *Client) CheckFileExistence(ctx context.Context, rawURL string) (bool, string, error) {
	var resp checkResponse
	if err := c.call(ctx, http.MethodPost, "/check", urlBody{URL: rawURL}, &resp); err != nil {
		return false, "", err
	}
	return resp.Exists, resp.Path, nil
}

func (c *Client) Enqueue(ctx context.Context, rawURL string, opts EnqueueOptions) (uint64, error) {
	var resp idBody
	req := enqueueRequest{URL: rawURL, EnqueueOptions: opts}
	if err := c.call(ctx, http.MethodPost, "/enqueue", req, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (c *Client) Pause(ctx context.Context, id uint64) error {
	return c.call(ctx, http.MethodPost, "/downloads/"+formatID(id)+"/pause", nil, nil)
}

func (c *Client) Resume(ctx context.Context, id uint64) error {
	return c.call(ctx, http.MethodPost, "/downloads/"+formatID(id)+"/resume", nil, nil)
}

func (c *Client) Remove(ctx context.Context, id uint64, removeFromDisk bool) error {
	query := url.Values{"remove_from_disk": {strconv.FormatBool(removeFromDisk)}}
	return c.call(ctx, http.MethodDelete, "/downloads/"+formatID(id)+"?"+query.Encode(), nil, nil)
}

func (c *Client) RemoveFromQueue(ctx context.Context, id uint64) error {
	return c.call(ctx, http.MethodDelete, "/queue/"+formatID(id), nil, nil)
}

func (c *Client) DownloadDir(ctx context.Context) (string, error) {
	var body downloadDirBody
	if err := c.call(ctx, http.MethodGet, "/settings/download-dir", nil, &body); err != nil {
		return "", err
	}
	return body.DownloadDir, nil
}

func (c *Client) SetDownloadDir(ctx context.Context, dir string) error {
	return c.call(ctx, http.MethodPut, "/settings/download-dir", downloadDirBody{DownloadDir: dir}, nil)
}

func (c *Client) MaxConcurrentDownloads(ctx context.Context) (int, error) {
	var body maxConcurrentBody
	if err := c.call(ctx, http.MethodGet, "/settings/max-concurrent", nil, &body); err != nil {
		return 0, err
	}
	return body.MaxConcurrentDownloads, nil
}

func (c *Client) SetMaxConcurrentDownloads(ctx context.Context, n int) error {
	return c.call(ctx, http.MethodPut, "/settings/max-concurrent", maxConcurrentBody{MaxConcurrentDownloads: n}, nil)
}

func (c *Client) MaxRetries(ctx context.Context) (int, error) {
	var body maxRetriesBody
	if err := c.call(ctx, http.MethodGet, "/settings/max-retries", nil, &body); err != nil {
		return 0, err
	}
	return body.MaxRetries, nil
}

func (c *Client) SetMaxRetries(ctx context.Context, n int) error {
	return c.call(ctx, http.MethodPut, "/settings/max-retries", maxRetriesBody{MaxRetries: n}, nil)
}

// Subscribe opens the engine's event stream. A dropped stream is reopened
// with a growing delay until unsubscribe is called; a signal is delivered
// after every reconnect since changes may have been missed meanwhile.
func (c *Client) Subscribe(ctx context.Context) (<-chan struct{}, func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	body, err := c.http.OpenStream(ctx, c.baseURL+"/events")
	if err != nil {
		cancel()
		return nil, nil, c.wrap(err)
	}

	signals := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(signals)

		for {
			err := readEvents(body, signals)
			body.Close()
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("event stream lost", "err", err)

			for attempt := 0; ; attempt++ {
				if !waitForReconnect(ctx, attempt) {
					return
				}
				body, err = c.http.OpenStream(ctx, c.baseURL+"/events")
				if err == nil {
					break
				}
				c.logger.Debug("event stream reconnect failed", "attempt", attempt+1, "err", err)
			}
			c.logger.Info("event stream reconnected")
			notify(signals)
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}

	return signals, unsubscribe, nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	if err := c.http.SendJSON(ctx, method, c.baseURL+path, in, out); err != nil {
		return c.wrap(err)
	}
	return nil
}

func (c *Client) wrap(err error) error {
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) {
		return fmt.Errorf("%w: %v", ErrRemote, err)
	}

	remote := &RemoteError{Code: statusErr.Code, Message: statusErr.Error()}
	switch statusErr.Code {
	case http.StatusNotFound:
		remote.kind = ErrNotFound
	case http.StatusConflict:
		remote.kind = ErrFileExists
	case http.StatusBadRequest:
		remote.kind = ErrInvalid
	}
	return remote
}

// readEvents parses a server-sent event stream and forwards every
// download-progress event until the stream ends.
func readEvents(r io.Reader, signals chan<- struct{}) error {
	scanner := bufio.NewScanner(r)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event == SignalDownloadProgress {
				notify(signals)
			}
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// notify delivers a signal unless one is already pending.
func notify(signals chan<- struct{}) {
	select {
	case signals <- struct{}{}:
	default:
	}
}

func waitForReconnect(ctx context.Context, attempt int) bool {
	delay := time.Second << min(attempt, 5)
	if delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
