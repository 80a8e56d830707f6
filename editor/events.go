package editor

import (
	"github.com/sirupsen/logrus"

	"emojiart-server/background"
	"emojiart-server/emojiart"
)

// EventKind describes what an Event reports.
type EventKind int

const (
	// DocumentChanged means the document value changed.
	DocumentChanged EventKind = iota
	// FetchStateChanged means the background fetch state changed.
	FetchStateChanged
	// BackgroundImageChanged means the decoded background was set or
	// cleared.
	BackgroundImageChanged
)

func (k EventKind) String() string {
	switch k {
	case DocumentChanged:
		return "document-change"
	case FetchStateChanged:
		return "fetch-state-change"
	case BackgroundImageChanged:
		return "background-image-change"
	default:
		return "unknown"
	}
}

// Event is a change notification. Every event carries the full view at the
// time it was published.
type Event struct {
	Kind     EventKind
	Revision uint64
	Document emojiart.Document
	State    background.State
	Image    *background.Image
}

func (e *Editor) publish(kind EventKind, v *View) {
	if len(e.subs) == 0 {
		return
	}
	ev := Event{
		Kind:     kind,
		Revision: v.Revision,
		Document: v.Document,
		State:    v.FetchState,
		Image:    v.image,
	}
	for id, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.metrics.RecordDroppedEvent()
			e.logger.WithFields(logrus.Fields{
				"subscriber": id,
				"event":      kind.String(),
			}).Warn("Dropping event for slow subscriber")
		}
	}
}
