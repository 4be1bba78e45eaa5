package controller

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/handiism/download-manager/internal/download"
	"github.com/handiism/download-manager/internal/model"
)

func TestLocalEngine_SubmitEnqueues(t *testing.T) {
	// the transfer stays open until the test ends
	hold := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-hold:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(hold)

	opts := download.DefaultOptions()
	opts.DownloadDir = t.TempDir()
	opts.RetryCooldown = time.Minute
	eng, err := download.NewEngine(opts, log.New(io.Discard))
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	defer eng.Close()

	c := New(eng, Options{Logger: log.New(io.Discard)})
	c.SetURL(srv.URL + "/a.zip")
	run(c, c.Submit())

	downloads := c.Cache().Downloads()
	if len(downloads) != 1 {
		t.Fatalf("cache holds %d downloads, want 1", len(downloads))
	}
	d := downloads[0]
	if d.Status != model.StatusQueued && d.Status != model.StatusDownloading {
		t.Errorf("Status = %v, want queued or downloading", d.Status)
	}
	if d.DisplayName() != "a.zip" {
		t.Errorf("DisplayName() = %q, want a.zip", d.DisplayName())
	}
	if c.URL() != "" {
		t.Errorf("URL() = %q, want cleared", c.URL())
	}
}
