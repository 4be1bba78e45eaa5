package model

import (
	"strings"
)

// UnknownFileName is shown for downloads that have no file path yet.
const UnknownFileName = "Unknown File"

// Download is one entry of the engine's download list.
//
// Download mirrors the engine's JSON record:
//   - ID is assigned by the engine and never reused
//   - FilePath is the destination on disk; empty means absent
//   - Progress is a percentage from 0 to 100
//   - TotalBytes and ETASeconds are 0 when unknown (the engine sends null)
//
// While Status is Downloading, Progress never decreases. Once Completed,
// Progress is 100.
//
// Example:
//
//	dl := model.Download{ID: 7, FilePath: "/home/me/Downloads/a.zip", Status: model.StatusCompleted, Progress: 100}
//	fmt.Println(dl.DisplayName()) // "a.zip"
type Download struct {
	// ID identifies the download within the engine.
	ID uint64 `json:"id"`

	// URL is the source the file is fetched from.
	URL string `json:"url"`

	// FilePath is the local destination; empty if the engine has not
	// assigned one.
	FilePath string `json:"file_path,omitempty"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Progress is the completed percentage, 0 to 100.
	Progress float64 `json:"progress"`

	// DownloadedBytes is the number of bytes on disk so far.
	DownloadedBytes uint64 `json:"downloaded_bytes"`

	// TotalBytes is the expected file size, 0 if unknown.
	TotalBytes uint64 `json:"total_bytes"`

	// SpeedKbps is the current transfer rate in KB/s.
	SpeedKbps float64 `json:"speed_kbps"`

	// ETASeconds is the estimated remaining time, 0 if unknown.
	ETASeconds uint64 `json:"eta_seconds"`

	// RetriesLeft is how many more attempts the engine will make.
	RetriesLeft uint32 `json:"retries_left,omitempty"`
}

// DisplayName returns the last segment of FilePath, treating both '/' and
// '\' as separators, or UnknownFileName when there is no path.
func (d Download) DisplayName() string {
	if name := BaseName(d.FilePath); name != "" {
		return name
	}
	return UnknownFileName
}

// BaseName returns the text after the last '/' or '\' in p. A path
// ending in a separator has an empty base name.
//
// Example:
//
//	BaseName("/x/y/video.mp4")        // "video.mp4"
//	BaseName(`C:\Users\me\video.mp4`) // "video.mp4"
//	BaseName("/x/y/")                 // ""
func BaseName(p string) string {
	return p[strings.LastIndexAny(p, `/\`)+1:]
}

// Find returns the download with the given id.
func Find(downloads []Download, id uint64) (Download, bool) {
	for _, dl := range downloads {
		if dl.ID == id {
			return dl, true
		}
	}
	return Download{}, false
}
