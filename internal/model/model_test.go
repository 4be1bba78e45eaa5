package model

import (
	"encoding/json"
	"testing"
)

func TestBaseName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"/x/y/video.mp4", "video.mp4"},
		{`C:\Users\me\Downloads\setup.exe`, "setup.exe"},
		{`mixed/path\to\file.tar.gz`, "file.tar.gz"},
		{"plain.txt", "plain.txt"},
		{"/trailing/slash/", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := BaseName(tt.input); got != tt.want {
				t.Errorf("BaseName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDownload_DisplayName(t *testing.T) {
	dl := Download{FilePath: "/home/me/Downloads/a.zip"}
	if got := dl.DisplayName(); got != "a.zip" {
		t.Errorf("DisplayName() = %q, want %q", got, "a.zip")
	}

	dl = Download{FilePath: "/home/me/Downloads/"}
	if got := dl.DisplayName(); got != UnknownFileName {
		t.Errorf("DisplayName() = %q, want %q", got, UnknownFileName)
	}

	dl = Download{}
	if got := dl.DisplayName(); got != UnknownFileName {
		t.Errorf("DisplayName() = %q, want %q", got, UnknownFileName)
	}
}

func TestQueue_Position(t *testing.T) {
	q := Queue{4, 9, 2}

	tests := []struct {
		id     uint64
		want   int
		wantOK bool
	}{
		{4, 1, true},
		{9, 2, true},
		{2, 3, true},
		{5, 0, false},
	}

	for _, tt := range tests {
		got, ok := q.Position(tt.id)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Position(%d) = (%d, %v), want (%d, %v)", tt.id, got, ok, tt.want, tt.wantOK)
		}
	}

	if _, ok := Queue(nil).Position(1); ok {
		t.Error("Position() on an empty queue should report absent")
	}
}

func TestQueue_PositionMatchesIndex(t *testing.T) {
	q := Queue{10, 20, 30, 40, 50}
	for i, id := range q {
		pos, ok := q.Position(id)
		if !ok || pos != i+1 {
			t.Errorf("Position(%d) = (%d, %v), want (%d, true)", id, pos, ok, i+1)
		}
	}
}

func TestQueueOf(t *testing.T) {
	q := QueueOf([]Download{{ID: 3}, {ID: 1}, {ID: 2}})
	want := Queue{3, 1, 2}
	if len(q) != len(want) {
		t.Fatalf("QueueOf() len = %d, want %d", len(q), len(want))
	}
	for i := range want {
		if q[i] != want[i] {
			t.Errorf("QueueOf()[%d] = %d, want %d", i, q[i], want[i])
		}
	}
}

func TestStatus_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input string
		want  Status
	}{
		{`"queued"`, StatusQueued},
		{`"downloading"`, StatusDownloading},
		{`"paused"`, StatusPaused},
		{`"completed"`, StatusCompleted},
		{`"failed"`, Failed("")},
		{`"failed: HTTP 404"`, Failed("HTTP 404")},
		{`{"failed":"connection reset"}`, Failed("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var got Status
			if err := json.Unmarshal([]byte(tt.input), &got); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Unmarshal(%s) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestStatus_UnmarshalJSONInvalid(t *testing.T) {
	for _, input := range []string{`"exploded"`, `{"paused":"x"}`, `42`} {
		var s Status
		if err := json.Unmarshal([]byte(input), &s); err == nil {
			t.Errorf("Unmarshal(%s) should fail", input)
		}
	}
}

func TestStatus_MarshalJSON(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusQueued, `"queued"`},
		{StatusCompleted, `"completed"`},
		{Failed("disk full"), `{"failed":"disk full"}`},
	}

	for _, tt := range tests {
		data, err := json.Marshal(tt.status)
		if err != nil {
			t.Fatalf("Marshal(%v) error = %v", tt.status, err)
		}
		if string(data) != tt.want {
			t.Errorf("Marshal(%v) = %s, want %s", tt.status, data, tt.want)
		}
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusQueued, false},
		{StatusDownloading, false},
		{StatusPaused, false},
		{StatusCompleted, true},
		{Failed("x"), true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("%v.IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestDownload_DecodeEngineRecord(t *testing.T) {
	data := `{"id":12,"url":"http://h/a.zip","file_path":"/d/a.zip","progress":40.5,
		"status":"downloading","downloaded_bytes":405,"speed_kbps":12.5,
		"eta_seconds":null,"total_bytes":null,"retries_left":10}`

	var dl Download
	if err := json.Unmarshal([]byte(data), &dl); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if dl.ID != 12 || dl.Status != StatusDownloading || dl.TotalBytes != 0 || dl.ETASeconds != 0 {
		t.Errorf("Unmarshal() = %+v", dl)
	}
	if dl.DisplayName() != "a.zip" {
		t.Errorf("DisplayName() = %q, want %q", dl.DisplayName(), "a.zip")
	}
}

func TestSpeedLimit_JSON(t *testing.T) {
	var s SpeedLimit
	if err := json.Unmarshal([]byte(`null`), &s); err != nil {
		t.Fatalf("Unmarshal(null) error = %v", err)
	}
	if _, ok := s.KBps(); ok {
		t.Error("null should decode as unlimited")
	}

	if err := json.Unmarshal([]byte(`256`), &s); err != nil {
		t.Fatalf("Unmarshal(256) error = %v", err)
	}
	if kbps, ok := s.KBps(); !ok || kbps != 256 {
		t.Errorf("KBps() = (%v, %v), want (256, true)", kbps, ok)
	}

	data, _ := json.Marshal(Unlimited())
	if string(data) != "null" {
		t.Errorf("Marshal(Unlimited()) = %s, want null", data)
	}
}

func TestSpeedLimit_IsUnlimited(t *testing.T) {
	if !Unlimited().IsUnlimited() {
		t.Error("Unlimited() should be unlimited")
	}
	if !LimitKBps(0).IsUnlimited() {
		t.Error("a zero cap should be treated as unlimited")
	}
	if LimitKBps(100).IsUnlimited() {
		t.Error("a 100 KB/s cap should be limited")
	}
	if kbps, _ := LimitKBps(-5).KBps(); kbps != 0 {
		t.Errorf("negative cap should clamp to 0, got %v", kbps)
	}
}
