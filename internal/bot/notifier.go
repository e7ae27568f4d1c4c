package bot

import "sync"

// Notifier delivers output to the requester's chat.
type Notifier interface {
	// Status reports progress. percent is 0-100.
	Status(text string, percent int)
	// Text sends one message. Callers keep each message within the
	// transport's size limit.
	Text(text string)
	// Artifact sends an image with a caption.
	Artifact(data []byte, mediaType, caption string)
}

// Event is one recorded notification.
type Event struct {
	Kind      string `json:"kind"`
	Text      string `json:"text,omitempty"`
	Percent   int    `json:"percent,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      []byte `json:"data,omitempty"`
}

const (
	EventStatus   = "status"
	EventText     = "text"
	EventArtifact = "artifact"
)

// Recorder is a Notifier that keeps every event, for request/response
// transports.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Status(text string, percent int) {
	r.add(Event{Kind: EventStatus, Text: text, Percent: percent})
}

func (r *Recorder) Text(text string) {
	r.add(Event{Kind: EventText, Text: text})
}

func (r *Recorder) Artifact(data []byte, mediaType, caption string) {
	r.add(Event{Kind: EventArtifact, Text: caption, MediaType: mediaType, Data: data})
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of what was recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
