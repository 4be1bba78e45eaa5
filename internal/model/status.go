package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StatusKind identifies which variant a Status holds.
type StatusKind int

const (
	// KindQueued means the download waits for a free slot.
	KindQueued StatusKind = iota

	// KindDownloading means bytes are being transferred.
	KindDownloading

	// KindPaused means the download was stopped and can be resumed.
	KindPaused

	// KindCompleted means the file was fully downloaded.
	KindCompleted

	// KindFailed means the engine gave up; Status.Reason says why.
	KindFailed
)

// String returns the lower-case wire name of the kind.
func (k StatusKind) String() string {
	switch k {
	case KindQueued:
		return "queued"
	case KindDownloading:
		return "downloading"
	case KindPaused:
		return "paused"
	case KindCompleted:
		return "completed"
	case KindFailed:
		return "failed"
	default:
		return fmt.Sprintf("StatusKind(%d)", int(k))
	}
}

// Status is the state of a download.
//
// Status is a tagged variant: Kind selects the variant and Reason is only
// meaningful for KindFailed. Use the package-level values for the unit
// variants and Failed for failures:
//
//	dl.Status = model.StatusCompleted
//	dl.Status = model.Failed("connection reset")
//
// Terminal states are Completed and Failed; no further transitions occur
// from them unless the user explicitly resumes or re-enqueues.
type Status struct {
	Kind   StatusKind
	Reason string
}

// Unit status values.
var (
	StatusQueued      = Status{Kind: KindQueued}
	StatusDownloading = Status{Kind: KindDownloading}
	StatusPaused      = Status{Kind: KindPaused}
	StatusCompleted   = Status{Kind: KindCompleted}
)

// Failed returns a failed status carrying reason.
func Failed(reason string) Status {
	return Status{Kind: KindFailed, Reason: reason}
}

// IsTerminal returns true for Completed and Failed.
func (s Status) IsTerminal() bool {
	return s.Kind == KindCompleted || s.Kind == KindFailed
}

// IsFailed returns true if the status is Failed.
func (s Status) IsFailed() bool {
	return s.Kind == KindFailed
}

// String returns "queued", "downloading", "paused", "completed" or
// "failed: <reason>".
func (s Status) String() string {
	if s.Kind == KindFailed && s.Reason != "" {
		return "failed: " + s.Reason
	}
	return s.Kind.String()
}

// MarshalJSON encodes unit variants as lower-case strings and failures as
// {"failed": "<reason>"}, which is the engine's wire shape.
func (s Status) MarshalJSON() ([]byte, error) {
	if s.Kind == KindFailed {
		return json.Marshal(map[string]string{"failed": s.Reason})
	}
	return json.Marshal(s.Kind.String())
}

// UnmarshalJSON accepts every shape engines have been seen to produce:
//
//	"queued" | "downloading" | "paused" | "completed"
//	"failed"
//	"failed: <reason>"
//	{"failed": "<reason>"}
func (s *Status) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		parsed, err := ParseStatus(text)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}

	var tagged map[string]string
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("invalid status %s: %w", string(data), err)
	}
	reason, ok := tagged["failed"]
	if !ok {
		return fmt.Errorf("invalid status %s", string(data))
	}
	*s = Failed(reason)
	return nil
}

// ParseStatus parses the string form of a status.
func ParseStatus(text string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "queued":
		return StatusQueued, nil
	case "downloading":
		return StatusDownloading, nil
	case "paused":
		return StatusPaused, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return Failed(""), nil
	}

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(strings.ToLower(trimmed), "failed:") {
		return Failed(strings.TrimSpace(trimmed[len("failed:"):])), nil
	}
	return Status{}, fmt.Errorf("unknown status %q", text)
}
