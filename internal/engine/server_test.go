package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/handiism/download-manager/internal/engine"
	"github.com/handiism/download-manager/internal/engine/enginetest"
	"github.com/handiism/download-manager/internal/model"
)

func newTestClient(t *testing.T) (*enginetest.Fake, *engine.Client, *httptest.Server) {
	t.Helper()
	logger := log.New(io.Discard)
	fake := enginetest.New()
	srv := httptest.NewServer(engine.NewServer(fake, logger))
	t.Cleanup(srv.Close)
	return fake, engine.NewClient(srv.URL, 5*time.Second, logger), srv
}

func TestClient_Downloads(t *testing.T) {
	fake, client, _ := newTestClient(t)
	fake.SetDownloads(
		model.Download{ID: 1, URL: "http://h/a.zip", FilePath: "/d/a.zip", Status: model.StatusCompleted, Progress: 100},
		model.Download{ID: 2, URL: "http://h/b.zip", Status: model.Failed("timeout")},
		model.Download{ID: 3, URL: "http://h/c.zip", Status: model.StatusQueued},
	)

	downloads, err := client.Downloads(context.Background())
	if err != nil {
		t.Fatalf("Downloads() error = %v", err)
	}
	if len(downloads) != 3 {
		t.Fatalf("Downloads() returned %d entries, want 3", len(downloads))
	}
	if downloads[1].Status != model.Failed("timeout") {
		t.Errorf("Status = %v, want failed: timeout", downloads[1].Status)
	}

	queue, err := client.Queue(context.Background())
	if err != nil {
		t.Fatalf("Queue() error = %v", err)
	}
	if len(queue) != 1 || queue[0].ID != 3 {
		t.Errorf("Queue() = %+v, want only id 3", queue)
	}
}

func TestClient_EnqueueForwardsOptions(t *testing.T) {
	fake, client, _ := newTestClient(t)
	fake.SetNextID(42)

	opts := engine.EnqueueOptions{SaveAs: "renamed.mp4"}
	id, err := client.Enqueue(context.Background(), "http://h/video.mp4", opts)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if id != 42 {
		t.Errorf("Enqueue() = %d, want 42", id)
	}

	calls := fake.Calls("Enqueue")
	if len(calls) != 1 {
		t.Fatalf("Enqueue called %d times, want 1", len(calls))
	}
	if calls[0].Args[0] != "http://h/video.mp4" || calls[0].Args[1] != opts {
		t.Errorf("Enqueue args = %v", calls[0].Args)
	}
}

func TestClient_CheckFileExistence(t *testing.T) {
	fake, client, _ := newTestClient(t)
	fake.SetExistence(true, "/x/y/video.mp4")

	exists, path, err := client.CheckFileExistence(context.Background(), "http://h/video.mp4")
	if err != nil {
		t.Fatalf("CheckFileExistence() error = %v", err)
	}
	if !exists || path != "/x/y/video.mp4" {
		t.Errorf("CheckFileExistence() = (%v, %q), want (true, %q)", exists, path, "/x/y/video.mp4")
	}
}

func TestClient_Remove(t *testing.T) {
	fake, client, _ := newTestClient(t)
	fake.SetDownloads(model.Download{ID: 7, URL: "http://h/a.zip", Status: model.StatusCompleted})

	if err := client.Remove(context.Background(), 7, true); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	calls := fake.Calls("Remove")
	if len(calls) != 1 || calls[0].Args[0] != uint64(7) || calls[0].Args[1] != true {
		t.Errorf("Remove calls = %v, want [7 true]", calls)
	}
}

func TestClient_ErrorsKeepTheirKind(t *testing.T) {
	fake, client, _ := newTestClient(t)

	err := client.Pause(context.Background(), 99)
	if !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("Pause() error = %v, want ErrNotFound", err)
	}
	if !errors.Is(err, engine.ErrRemote) {
		t.Errorf("Pause() error = %v, want ErrRemote", err)
	}

	fake.FailWith("Enqueue", engine.ErrFileExists)
	_, err = client.Enqueue(context.Background(), "http://h/a.zip", engine.EnqueueOptions{})
	if !errors.Is(err, engine.ErrFileExists) {
		t.Errorf("Enqueue() error = %v, want ErrFileExists", err)
	}
	if err.Error() != engine.ErrFileExists.Error() {
		t.Errorf("Error() = %q, want %q", err.Error(), engine.ErrFileExists.Error())
	}

	fake.FailWith("Downloads", errors.New("disk on fire"))
	if _, err := client.Downloads(context.Background()); !errors.Is(err, engine.ErrRemote) {
		t.Errorf("Downloads() error = %v, want ErrRemote", err)
	}
}

func TestClient_Settings(t *testing.T) {
	_, client, _ := newTestClient(t)
	ctx := context.Background()

	if err := client.SetSpeedLimit(ctx, 128); err != nil {
		t.Fatalf("SetSpeedLimit() error = %v", err)
	}
	limit, err := client.SpeedLimit(ctx)
	if err != nil {
		t.Fatalf("SpeedLimit() error = %v", err)
	}
	if kbps, ok := limit.KBps(); !ok || kbps != 128 {
		t.Errorf("SpeedLimit() = %v, want 128 KB/s", limit)
	}

	if err := client.SetSpeedLimit(ctx, 0); err != nil {
		t.Fatalf("SetSpeedLimit(0) error = %v", err)
	}
	if limit, _ := client.SpeedLimit(ctx); !limit.IsUnlimited() {
		t.Errorf("SpeedLimit() = %v, want unlimited", limit)
	}

	if err := client.SetDownloadDir(ctx, "/data"); err != nil {
		t.Fatalf("SetDownloadDir() error = %v", err)
	}
	if dir, _ := client.DownloadDir(ctx); dir != "/data" {
		t.Errorf("DownloadDir() = %q, want %q", dir, "/data")
	}

	if err := client.SetMaxConcurrentDownloads(ctx, 5); err != nil {
		t.Fatalf("SetMaxConcurrentDownloads() error = %v", err)
	}
	if n, _ := client.MaxConcurrentDownloads(ctx); n != 5 {
		t.Errorf("MaxConcurrentDownloads() = %d, want 5", n)
	}

	if err := client.SetMaxRetries(ctx, 2); err != nil {
		t.Fatalf("SetMaxRetries() error = %v", err)
	}
	if n, _ := client.MaxRetries(ctx); n != 2 {
		t.Errorf("MaxRetries() = %d, want 2", n)
	}
}

func TestClient_Subscribe(t *testing.T) {
	fake, client, _ := newTestClient(t)

	signals, unsubscribe, err := client.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	fake.Emit()
	select {
	case <-signals:
	case <-time.After(2 * time.Second):
		t.Fatal("no signal received")
	}

	unsubscribe()
	unsubscribe()

	if _, ok := <-signals; ok {
		t.Error("signals channel should be closed after unsubscribe")
	}

	deadline := time.Now().Add(2 * time.Second)
	for fake.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("server still holds %d subscriptions", fake.Subscribers())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_Add(t *testing.T) {
	fake, _, srv := newTestClient(t)
	fake.SetNextID(5)

	resp, err := http.Post(srv.URL+"/add", "application/json", strings.NewReader(`{"url":"http://h/a.zip"}`))
	if err != nil {
		t.Fatalf("POST /add error = %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
		ID     uint64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.ID != 5 {
		t.Errorf("POST /add = %+v, want ok with id 5", body)
	}

	fake.FailWith("Enqueue", engine.ErrFileExists)
	resp2, err := http.Post(srv.URL+"/add", "application/json", strings.NewReader(`{"url":"http://h/a.zip"}`))
	if err != nil {
		t.Fatalf("POST /add error = %v", err)
	}
	defer resp2.Body.Close()

	var failed struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	json.NewDecoder(resp2.Body).Decode(&failed)
	if failed.Status != "error" || failed.Message != engine.ErrFileExists.Error() {
		t.Errorf("POST /add = %+v, want error %q", failed, engine.ErrFileExists.Error())
	}
}

func TestServer_BadID(t *testing.T) {
	_, _, srv := newTestClient(t)

	resp, err := http.Post(srv.URL+"/downloads/abc/pause", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}
