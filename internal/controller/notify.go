package controller

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/handiism/download-manager/internal/model"
)

// Notification is a user-visible completion or failure message.
type Notification struct {
	DownloadID uint64
	Kind       model.StatusKind
	Title      string
	Body       string
}

// Notifier delivers notifications, e.g. to the desktop or a log panel.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

// LogNotifier writes notifications to a logger.
func LogNotifier(logger *log.Logger) Notifier {
	return NotifierFunc(func(n Notification) {
		if n.Kind == model.KindFailed {
			logger.Warn(n.Title, "body", n.Body)
			return
		}
		logger.Info(n.Title, "body", n.Body)
	})
}

// Compose returns the notification for a download in a terminal state.
func Compose(d model.Download) (Notification, bool) {
	name := d.DisplayName()
	switch d.Status.Kind {
	case model.KindCompleted:
		return Notification{
			DownloadID: d.ID,
			Kind:       model.KindCompleted,
			Title:      "Download Complete",
			Body:       fmt.Sprintf("%s has finished downloading!", name),
		}, true
	case model.KindFailed:
		return Notification{
			DownloadID: d.ID,
			Kind:       model.KindFailed,
			Title:      "Download Failed",
			Body:       fmt.Sprintf("%s failed to download: %s", name, d.Status.Reason),
		}, true
	default:
		return Notification{}, false
	}
}

// Dispatcher turns refreshed download lists into notifications.
//
// Without de-duplication every terminal download is announced on every
// refresh. With it, a download is announced once per arrival in a
// terminal state; seeing it non-terminal again re-arms it.
type Dispatcher struct {
	notifier Notifier
	dedupe   bool
	notified map[uint64]struct{}
}

// NewDispatcher creates a Dispatcher. A nil notifier discards.
func NewDispatcher(notifier Notifier, dedupe bool) *Dispatcher {
	if notifier == nil {
		notifier = NotifierFunc(func(Notification) {})
	}
	return &Dispatcher{
		notifier: notifier,
		dedupe:   dedupe,
		notified: make(map[uint64]struct{}),
	}
}

// Dispatch emits a notification per terminal download and returns them.
// Ids missing from downloads are forgotten.
func (d *Dispatcher) Dispatch(downloads []model.Download) []Notification {
	for id := range d.notified {
		if _, ok := model.Find(downloads, id); !ok {
			delete(d.notified, id)
		}
	}

	var sent []Notification
	for _, dl := range downloads {
		n, ok := Compose(dl)
		if !ok {
			delete(d.notified, dl.ID)
			continue
		}
		if d.dedupe {
			if _, done := d.notified[dl.ID]; done {
				continue
			}
			d.notified[dl.ID] = struct{}{}
		}
		d.notifier.Notify(n)
		sent = append(sent, n)
	}
	return sent
}
