// Package callsource retrieves call records and transcripts from the
// external conversation-intelligence platform.
//
// The rest of the system treats these records as opaque units of work: only
// their serialized size and batch membership matter downstream. This
// package is the single place that understands the upstream API shape.
package callsource

import "time"

// Call is the metadata for one recorded call.
type Call struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Started         time.Time `json:"started"`
	DurationSeconds int       `json:"duration_seconds"`
	URL             string    `json:"url,omitempty"`
	Parties         []Party   `json:"parties,omitempty"`
}

// Party is one call participant.
type Party struct {
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	Affiliation string `json:"affiliation,omitempty"`
	SpeakerID   string `json:"speaker_id,omitempty"`
}

// Transcript is the raw transcript for one call, as delivered upstream:
// speaker turns in chronological order.
type Transcript struct {
	CallID   string    `json:"call_id"`
	Segments []Segment `json:"segments"`
}

// Segment is one uninterrupted speaker turn.
type Segment struct {
	SpeakerID string     `json:"speaker_id"`
	Topic     string     `json:"topic,omitempty"`
	Sentences []Sentence `json:"sentences"`
}

// Sentence is a single timed sentence within a segment.
type Sentence struct {
	StartMS int64  `json:"start_ms"`
	Text    string `json:"text"`
}
