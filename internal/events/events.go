// Package events defines the notification port used to tell connected
// viewers that something changed on a page, plus the transports that carry
// those notifications. The engine only ever sees the Publisher interface.
package events

import "time"

// Event types published on a page's logical channel.
const (
	TypeEditorsUpdated    = "editors-updated"
	TypeDiscussionMessage = "discussion-message"
	TypeVersionUpdated    = "version-updated"
)

// Event is a notification on a per-page logical channel.
type Event struct {
	PageID    int64       `json:"page_id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher fans an event out to whoever is watching a page. Publishing is
// fire-and-forget: a lost notification degrades the UI, never correctness,
// so no Publish returns an error.
type Publisher interface {
	Publish(pageID int64, eventType string, payload interface{})
}

// NopPublisher discards all events. Used when no transport is configured
// and in tests.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(pageID int64, eventType string, payload interface{}) {}
