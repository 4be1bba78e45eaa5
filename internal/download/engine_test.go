package download

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/handiism/download-manager/internal/engine"
	"github.com/handiism/download-manager/internal/model"
)

func newTestEngine(t *testing.T, configure func(*Options)) *Engine {
	t.Helper()

	opts := DefaultOptions()
	opts.DownloadDir = t.TempDir()
	opts.RetryCooldown = time.Millisecond
	opts.ProgressInterval = time.Millisecond
	if configure != nil {
		configure(opts)
	}

	e, err := NewEngine(opts, log.New(io.Discard))
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func fileServer(content []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "file", time.Time{}, bytes.NewReader(content))
	}))
}

// waitFor polls the engine until cond holds for the download with id.
func waitFor(t *testing.T, e *Engine, id uint64, cond func(model.Download) bool) model.Download {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		downloads, _ := e.Downloads(context.Background())
		if d, ok := model.Find(downloads, id); ok && cond(d) {
			return d
		}
		if time.Now().After(deadline) {
			d, _ := model.Find(downloads, id)
			t.Fatalf("condition not met for download %d, last state %+v", id, d)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func isCompleted(d model.Download) bool {
	return d.Status == model.StatusCompleted
}

func TestEngine_EnqueueCompletes(t *testing.T) {
	content := []byte(strings.Repeat("0123456789", 1000))
	srv := fileServer(content)
	defer srv.Close()

	e := newTestEngine(t, nil)
	id, err := e.Enqueue(context.Background(), srv.URL+"/files/a.zip", engine.EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	d := waitFor(t, e, id, isCompleted)
	if d.Progress != 100 {
		t.Errorf("Progress = %v, want 100", d.Progress)
	}
	if d.DownloadedBytes != uint64(len(content)) {
		t.Errorf("DownloadedBytes = %d, want %d", d.DownloadedBytes, len(content))
	}

	got, err := os.ReadFile(d.FilePath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("downloaded content differs")
	}
	if filepath.Base(d.FilePath) != "a.zip" {
		t.Errorf("file name = %q, want a.zip", filepath.Base(d.FilePath))
	}
}

func TestEngine_EnqueueSignals(t *testing.T) {
	srv := fileServer([]byte("data"))
	defer srv.Close()

	e := newTestEngine(t, nil)
	signals, unsubscribe, err := e.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer unsubscribe()

	if _, err := e.Enqueue(context.Background(), srv.URL+"/a.zip", engine.EnqueueOptions{}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-signals:
	case <-time.After(2 * time.Second):
		t.Fatal("no download-progress signal after enqueue")
	}
}

func TestEngine_ExistingTrackedFile(t *testing.T) {
	srv := fileServer([]byte("payload"))
	defer srv.Close()

	e := newTestEngine(t, nil)
	ctx := context.Background()
	rawURL := srv.URL + "/video.mp4"

	id, err := e.Enqueue(ctx, rawURL, engine.EnqueueOptions{})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, e, id, isCompleted)

	exists, path, err := e.CheckFileExistence(ctx, rawURL)
	if err != nil {
		t.Fatalf("CheckFileExistence() error = %v", err)
	}
	if !exists || filepath.Base(path) != "video.mp4" {
		t.Errorf("CheckFileExistence() = (%v, %q), want existing video.mp4", exists, path)
	}

	if _, err := e.Enqueue(ctx, rawURL, engine.EnqueueOptions{}); !errors.Is(err, ErrFileExists) {
		t.Errorf("Enqueue() error = %v, want ErrFileExists", err)
	}

	again, err := e.Enqueue(ctx, rawURL, engine.EnqueueOptions{Overwrite: true})
	if err != nil {
		t.Fatalf("Enqueue(overwrite) error = %v", err)
	}
	if again != id {
		t.Errorf("Enqueue(overwrite) = %d, want the tracked id %d", again, id)
	}
	waitFor(t, e, id, isCompleted)

	renamed, err := e.Enqueue(ctx, rawURL, engine.EnqueueOptions{SaveAs: "copy.mp4"})
	if err != nil {
		t.Fatalf("Enqueue(saveAs) error = %v", err)
	}
	d := waitFor(t, e, renamed, isCompleted)
	if filepath.Base(d.FilePath) != "copy.mp4" {
		t.Errorf("file name = %q, want copy.mp4", filepath.Base(d.FilePath))
	}
}

func TestEngine_ResumeContinuesFromFileSize(t *testing.T) {
	content := []byte("0123456789abcdef")
	var gotRange atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange.Store(r.Header.Get("Range"))
		http.ServeContent(w, r, "file", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	e := newTestEngine(t, nil)
	dir, _ := e.DownloadDir(context.Background())
	if err := os.WriteFile(filepath.Join(dir, "part.bin"), content[:6], 0644); err != nil {
		t.Fatal(err)
	}

	id, err := e.Enqueue(context.Background(), srv.URL+"/part.bin", engine.EnqueueOptions{Resume: true})
	if err != nil {
		t.Fatal(err)
	}
	d := waitFor(t, e, id, isCompleted)

	if r, _ := gotRange.Load().(string); r != "bytes=6-" {
		t.Errorf("Range = %q, want %q", r, "bytes=6-")
	}
	got, _ := os.ReadFile(d.FilePath)
	if !bytes.Equal(got, content) {
		t.Errorf("file = %q, want %q", got, content)
	}
}

func TestEngine_RetriesThenFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newTestEngine(t, func(o *Options) { o.MaxRetries = 2 })
	id, err := e.Enqueue(context.Background(), srv.URL+"/a.zip", engine.EnqueueOptions{})
	if err != nil {
		t.Fatal(err)
	}

	d := waitFor(t, e, id, func(d model.Download) bool { return d.Status.IsFailed() })
	if d.Status.Reason == "" {
		t.Error("failed status should carry a reason")
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("server hit %d times, want 3 (1 try + 2 retries)", n)
	}
}

func TestEngine_ConcurrencyCapAndQueue(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		w.Write([]byte("done"))
	}))
	defer srv.Close()
	defer close(release)

	e := newTestEngine(t, func(o *Options) { o.MaxConcurrentDownloads = 1 })
	ctx := context.Background()

	first, _ := e.Enqueue(ctx, srv.URL+"/1.bin", engine.EnqueueOptions{})
	second, _ := e.Enqueue(ctx, srv.URL+"/2.bin", engine.EnqueueOptions{})
	third, _ := e.Enqueue(ctx, srv.URL+"/3.bin", engine.EnqueueOptions{})

	waitFor(t, e, first, func(d model.Download) bool { return d.Status == model.StatusDownloading })

	queue, _ := e.Queue(ctx)
	if pos, ok := model.QueueOf(queue).Position(third); !ok || pos != 2 {
		t.Errorf("Position(third) = (%d, %v), want (2, true)", pos, ok)
	}

	if err := e.RemoveFromQueue(ctx, second); err != nil {
		t.Fatalf("RemoveFromQueue() error = %v", err)
	}
	waitFor(t, e, second, func(d model.Download) bool { return d.Status == model.StatusPaused })

	if err := e.Resume(ctx, second); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	queue, _ = e.Queue(ctx)
	if len(queue) != 2 || queue[0].ID != second {
		t.Errorf("Queue() after Resume = %v, want %d first", model.QueueOf(queue), second)
	}
}

func TestEngine_PauseAndRemove(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	e := newTestEngine(t, nil)
	ctx := context.Background()

	id, _ := e.Enqueue(ctx, srv.URL+"/big.iso", engine.EnqueueOptions{})
	d := waitFor(t, e, id, func(d model.Download) bool { return d.DownloadedBytes > 0 })

	if err := e.Pause(ctx, id); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	waitFor(t, e, id, func(d model.Download) bool { return d.Status == model.StatusPaused })

	if err := e.Remove(ctx, id, true); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	downloads, _ := e.Downloads(ctx)
	if _, ok := model.Find(downloads, id); ok {
		t.Error("download still listed after Remove")
	}
	if _, err := os.Stat(d.FilePath); !os.IsNotExist(err) {
		t.Errorf("file still on disk after Remove(removeFromDisk=true), stat err = %v", err)
	}

	if err := e.Pause(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Pause() on removed id error = %v, want ErrNotFound", err)
	}
}

func TestEngine_Settings(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	if err := e.SetSpeedLimit(ctx, -1); !errors.Is(err, ErrInvalid) {
		t.Errorf("SetSpeedLimit(-1) error = %v, want ErrInvalid", err)
	}
	if err := e.SetSpeedLimit(ctx, 64); err != nil {
		t.Fatal(err)
	}
	if limit, _ := e.SpeedLimit(ctx); limit.IsUnlimited() {
		t.Error("SpeedLimit() should be limited after SetSpeedLimit(64)")
	}

	if err := e.SetDownloadDir(ctx, filepath.Join(t.TempDir(), "missing")); !errors.Is(err, ErrInvalid) {
		t.Errorf("SetDownloadDir(missing) error = %v, want ErrInvalid", err)
	}
	if err := e.SetMaxConcurrentDownloads(ctx, 0); !errors.Is(err, ErrInvalid) {
		t.Errorf("SetMaxConcurrentDownloads(0) error = %v, want ErrInvalid", err)
	}
	if _, err := e.Enqueue(ctx, "ftp://h/a.zip", engine.EnqueueOptions{}); !errors.Is(err, ErrInvalid) {
		t.Errorf("Enqueue(ftp) error = %v, want ErrInvalid", err)
	}
}

func TestEngine_Persistence(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	dir := t.TempDir()

	st := &persistedState{
		Downloads: []model.Download{
			{ID: 4, URL: "http://h/a.zip", FilePath: filepath.Join(dir, "a.zip"), Status: model.StatusDownloading, SpeedKbps: 90},
			{ID: 9, URL: "http://h/b.zip", FilePath: filepath.Join(dir, "b.zip"), Status: model.StatusCompleted, Progress: 100},
		},
		Queue:                  []uint64{4, 4, 77},
		MaxConcurrentDownloads: 2,
		SpeedLimit:             model.LimitKBps(32),
		DownloadDir:            dir,
		MaxRetries:             5,
	}
	if err := saveState(statePath, st); err != nil {
		t.Fatal(err)
	}

	e := newTestEngine(t, func(o *Options) { o.StatePath = statePath })
	ctx := context.Background()

	downloads, _ := e.Downloads(ctx)
	d, ok := model.Find(downloads, 4)
	if !ok || d.Status != model.StatusPaused || d.SpeedKbps != 0 {
		t.Errorf("restored download 4 = %+v, want paused with no speed", d)
	}
	if queue, _ := e.Queue(ctx); len(queue) != 0 {
		t.Errorf("Queue() = %v, want empty", model.QueueOf(queue))
	}
	if n, _ := e.MaxConcurrentDownloads(ctx); n != 2 {
		t.Errorf("MaxConcurrentDownloads() = %d, want 2", n)
	}
	if got, _ := e.DownloadDir(ctx); got != dir {
		t.Errorf("DownloadDir() = %q, want %q", got, dir)
	}

	if err := e.RemoveFromQueue(ctx, 9); err != nil {
		t.Fatal(err)
	}
	if err := e.SetMaxRetries(ctx, 7); err != nil {
		t.Fatal(err)
	}
	reloaded, err := loadState(statePath)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.MaxRetries != 7 {
		t.Errorf("persisted MaxRetries = %d, want 7", reloaded.MaxRetries)
	}
}

func TestEngine_PersistsZeroSettings(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	configure := func(o *Options) {
		o.StatePath = statePath
		o.MaxRetries = 10
		o.SpeedLimit = model.LimitKBps(500)
	}
	ctx := context.Background()

	e := newTestEngine(t, configure)
	if err := e.SetMaxRetries(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := e.SetSpeedLimit(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	restarted := newTestEngine(t, configure)
	if n, _ := restarted.MaxRetries(ctx); n != 0 {
		t.Errorf("MaxRetries() = %d, want 0", n)
	}
	if limit, _ := restarted.SpeedLimit(ctx); !limit.IsUnlimited() {
		t.Errorf("SpeedLimit() = %s, want unlimited", limit)
	}
}

func TestThrottledReader(t *testing.T) {
	limiter := newLimiter(0)
	r := &throttledReader{ctx: context.Background(), r: strings.NewReader("abc"), limiter: limiter}
	got, err := io.ReadAll(r)
	if err != nil || string(got) != "abc" {
		t.Errorf("ReadAll() = (%q, %v), want abc", got, err)
	}

	applyLimit(limiter, 1)
	if limiter.Burst() != minBurst {
		t.Errorf("Burst() = %d, want %d", limiter.Burst(), minBurst)
	}
}
