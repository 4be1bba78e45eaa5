package controller

import (
	"testing"

	"github.com/handiism/download-manager/internal/model"
)

func TestCompose(t *testing.T) {
	tests := []struct {
		name      string
		download  model.Download
		wantOK    bool
		wantTitle string
		wantBody  string
	}{
		{
			name:      "completed",
			download:  model.Download{ID: 1, FilePath: "/x/y/video.mp4", Status: model.StatusCompleted},
			wantOK:    true,
			wantTitle: "Download Complete",
			wantBody:  "video.mp4 has finished downloading!",
		},
		{
			name:      "failed with windows path",
			download:  model.Download{ID: 2, FilePath: `C:\d\a.zip`, Status: model.Failed("connection reset")},
			wantOK:    true,
			wantTitle: "Download Failed",
			wantBody:  "a.zip failed to download: connection reset",
		},
		{
			name:      "failed without path",
			download:  model.Download{ID: 3, Status: model.Failed("404")},
			wantOK:    true,
			wantTitle: "Download Failed",
			wantBody:  "Unknown File failed to download: 404",
		},
		{
			name:     "downloading",
			download: model.Download{ID: 4, FilePath: "/a", Status: model.StatusDownloading},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := Compose(tt.download)
			if ok != tt.wantOK {
				t.Fatalf("Compose() ok = %v, want %v", ok, tt.wantOK)
			}
			if n.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", n.Title, tt.wantTitle)
			}
			if n.Body != tt.wantBody {
				t.Errorf("Body = %q, want %q", n.Body, tt.wantBody)
			}
		})
	}
}

func TestDispatcher_RefiresByDefault(t *testing.T) {
	var got []Notification
	d := NewDispatcher(NotifierFunc(func(n Notification) { got = append(got, n) }), false)

	list := []model.Download{
		{ID: 1, FilePath: "/a.zip", Status: model.StatusCompleted},
		{ID: 2, FilePath: "/b.zip", Status: model.StatusQueued},
	}
	d.Dispatch(list)
	d.Dispatch(list)

	if len(got) != 2 {
		t.Errorf("got %d notifications, want 2 (one per refresh)", len(got))
	}
}

func TestDispatcher_Dedupe(t *testing.T) {
	var got []Notification
	d := NewDispatcher(NotifierFunc(func(n Notification) { got = append(got, n) }), true)

	failed := []model.Download{{ID: 1, FilePath: "/a.zip", Status: model.Failed("x")}}
	retrying := []model.Download{{ID: 1, FilePath: "/a.zip", Status: model.StatusDownloading}}

	d.Dispatch(failed)
	d.Dispatch(failed)
	if len(got) != 1 {
		t.Fatalf("got %d notifications, want 1", len(got))
	}

	d.Dispatch(retrying)
	d.Dispatch(failed)
	if len(got) != 2 {
		t.Errorf("got %d notifications, want a second one after the download re-entered a terminal state", len(got))
	}
}

func TestDispatcher_ForgetsRemovedDownloads(t *testing.T) {
	var got []Notification
	d := NewDispatcher(NotifierFunc(func(n Notification) { got = append(got, n) }), true)

	d.Dispatch([]model.Download{
		{ID: 1, FilePath: "/a.zip", Status: model.StatusCompleted},
		{ID: 2, FilePath: "/b.zip", Status: model.StatusCompleted},
	})
	d.Dispatch([]model.Download{{ID: 2, FilePath: "/b.zip", Status: model.StatusCompleted}})

	if len(d.notified) != 1 {
		t.Errorf("tracking %d ids, want 1", len(d.notified))
	}
	if _, ok := d.notified[1]; ok {
		t.Error("removed download 1 is still tracked")
	}
	if len(got) != 2 {
		t.Errorf("got %d notifications, want 2", len(got))
	}
}

func TestController_DispatchesAfterRefresh(t *testing.T) {
	var got []Notification
	c, fake := newTestController(t, Options{
		Notifier: NotifierFunc(func(n Notification) { got = append(got, n) }),
	})
	fake.SetDownloads(model.Download{ID: 1, FilePath: "/d/a.zip", Status: model.StatusCompleted})
	fake.FailWith("Downloads", errEngineDown)

	run(c, c.Refresh())
	if len(got) != 0 {
		t.Fatal("a failed refresh must not dispatch")
	}

	fake.FailWith("Downloads", nil)
	run(c, c.Refresh())
	if len(got) != 1 || got[0].Body != "a.zip has finished downloading!" {
		t.Errorf("notifications = %+v", got)
	}
}
