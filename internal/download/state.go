package download

import (
	"encoding/json"
	"os"
	"slices"

	ioutils "github.com/handiism/download-manager/internal/io"
	"github.com/handiism/download-manager/internal/model"
)

// persistedState is the on-disk form of an Engine.
type persistedState struct {
	Downloads              []model.Download `json:"downloads"`
	Queue                  []uint64         `json:"queue"`
	MaxConcurrentDownloads int              `json:"max_concurrent_downloads"`
	SpeedLimit             model.SpeedLimit `json:"speed_limit"`
	DownloadDir            string           `json:"download_dir"`
	MaxRetries             int              `json:"max_retries"`

	// HasSettings marks files whose settings fields were all written by
	// an engine. Older files only override opts with non-zero values.
	HasSettings bool `json:"has_settings,omitempty"`
}

// loadState reads the state file. A missing file yields nil.
func loadState(path string) (*persistedState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	st.normalize()
	return &st, nil
}

func saveState(path string, st *persistedState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return ioutils.WriteFileAtomic(path, data)
}

// normalize repairs a state written by an engine that stopped mid-transfer:
// running downloads become paused and the queue only keeps known, queued
// ids, once each. Queued downloads missing from the queue are appended.
func (st *persistedState) normalize() {
	queued := make(map[uint64]bool)
	for i := range st.Downloads {
		d := &st.Downloads[i]
		switch d.Status.Kind {
		case model.KindDownloading:
			d.Status = model.StatusPaused
			d.SpeedKbps = 0
			d.ETASeconds = 0
		case model.KindQueued:
			queued[d.ID] = true
		}
	}

	seen := make(map[uint64]bool)
	queue := make([]uint64, 0, len(st.Queue))
	for _, id := range st.Queue {
		if queued[id] && !seen[id] {
			queue = append(queue, id)
			seen[id] = true
		}
	}
	for _, d := range st.Downloads {
		if queued[d.ID] && !seen[d.ID] {
			queue = append(queue, d.ID)
			seen[d.ID] = true
		}
	}
	st.Queue = slices.Clip(queue)
}
