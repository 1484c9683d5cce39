package regen

// EventType tags one progress event in a regeneration job stream.
type EventType string

const (
	EventStart        EventType = "start"
	EventProgress     EventType = "progress"
	EventItemComplete EventType = "item_complete"
	EventItemError    EventType = "item_error"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
)

// ItemStatus is the terminal state of one work item.
type ItemStatus string

const (
	StatusSucceeded         ItemStatus = "succeeded"
	StatusSucceededFallback ItemStatus = "succeeded_fallback"
	StatusFailed            ItemStatus = "failed"
)

// Size is a pixel extent reported alongside item events.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ItemResult summarizes one processed section for the final complete event.
type ItemResult struct {
	SectionID   string     `json:"section_id"`
	Status      ItemStatus `json:"status"`
	NewImageID  string     `json:"new_image_id,omitempty"`
	NewImageURI string     `json:"new_image_uri,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Event is the wire shape of every stream event. Fields outside the event
// type's scope stay zero and are mostly omitted from the encoding;
// succeeded_count is always present so a complete event where every item
// failed still reports the zero explicitly.
type Event struct {
	Type           EventType    `json:"type"`
	Total          int          `json:"total,omitempty"`
	Current        int          `json:"current,omitempty"`
	Message        string       `json:"message,omitempty"`
	ItemID         string       `json:"item_id,omitempty"`
	BeforeSize     *Size        `json:"before_size,omitempty"`
	AfterSize      *Size        `json:"after_size,omitempty"`
	NewImageURI    string       `json:"new_image_uri,omitempty"`
	SucceededCount int          `json:"succeeded_count"`
	Results        []ItemResult `json:"results,omitempty"`
}

// EventSink receives job events in order. The HTTP layer provides an SSE
// adapter; tests use BufferSink.
type EventSink interface {
	Send(event Event) error
}

// BufferSink collects events in memory.
type BufferSink struct {
	Events []Event
}

func (b *BufferSink) Send(event Event) error {
	b.Events = append(b.Events, event)
	return nil
}

var _ EventSink = (*BufferSink)(nil)
