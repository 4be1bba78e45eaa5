package model

import (
	"encoding/json"
	"fmt"
)

// Queue is the ordered list of download ids waiting for admission.
// The engine owns the order; Queue is only ever replaced, never reordered
// locally.
type Queue []uint64

// QueueOf extracts the ids from the engine's queue listing, keeping order.
func QueueOf(downloads []Download) Queue {
	q := make(Queue, len(downloads))
	for i, dl := range downloads {
		q[i] = dl.ID
	}
	return q
}

// Position returns the 1-based position of id in the queue.
// The second return value is false if id is not queued.
//
// Example:
//
//	q := Queue{4, 9, 2}
//	q.Position(9) // 2, true
//	q.Position(5) // 0, false
func (q Queue) Position(id uint64) (int, bool) {
	for i, queued := range q {
		if queued == id {
			return i + 1, true
		}
	}
	return 0, false
}

// Contains reports whether id is queued.
func (q Queue) Contains(id uint64) bool {
	_, ok := q.Position(id)
	return ok
}

// SpeedLimit is an optional transfer cap in KB/s.
// The zero value means unlimited.
type SpeedLimit struct {
	kbps    float64
	limited bool
}

// Unlimited returns a SpeedLimit without a cap.
func Unlimited() SpeedLimit {
	return SpeedLimit{}
}

// LimitKBps returns a SpeedLimit capped at kbps. Negative values are
// clamped to 0.
func LimitKBps(kbps float64) SpeedLimit {
	if kbps < 0 {
		kbps = 0
	}
	return SpeedLimit{kbps: kbps, limited: true}
}

// KBps returns the cap and whether one is set.
func (s SpeedLimit) KBps() (float64, bool) {
	return s.kbps, s.limited
}

// IsUnlimited returns true when no positive cap applies. A cap of 0 is
// treated as unlimited by engines.
func (s SpeedLimit) IsUnlimited() bool {
	return !s.limited || s.kbps <= 0
}

// String returns "unlimited" or the cap, e.g. "512 KB/s".
func (s SpeedLimit) String() string {
	if !s.limited {
		return "unlimited"
	}
	return fmt.Sprintf("%.0f KB/s", s.kbps)
}

// MarshalJSON encodes the limit as a number, or null when unlimited.
func (s SpeedLimit) MarshalJSON() ([]byte, error) {
	if !s.limited {
		return []byte("null"), nil
	}
	return json.Marshal(s.kbps)
}

// UnmarshalJSON decodes a number or null.
func (s *SpeedLimit) UnmarshalJSON(data []byte) error {
	var kbps *float64
	if err := json.Unmarshal(data, &kbps); err != nil {
		return err
	}
	if kbps == nil {
		*s = Unlimited()
		return nil
	}
	*s = LimitKBps(*kbps)
	return nil
}
