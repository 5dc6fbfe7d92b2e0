// Package transcript merges call metadata and raw transcripts into
// analysis-ready documents.
//
// Documents are what the routing policy sizes, the planner batches, and
// the analysis API receives. Two renderings exist: the structured Document
// itself (serialized as JSON) and a plain-text form for human reading.
package transcript

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fathomtel/callsight/pkg/callsource"
)

// Participant is a cleaned-up call attendee.
type Participant struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Utterance is one attributed sentence in chronological order.
type Utterance struct {
	Timestamp   string `json:"timestamp"`
	Speaker     string `json:"speaker"`
	Affiliation string `json:"affiliation,omitempty"`
	Text        string `json:"text"`
}

// Document is one call prepared for analysis.
type Document struct {
	CallID            string        `json:"call_id"`
	Title             string        `json:"title"`
	Date              string        `json:"date,omitempty"`
	DateFormatted     string        `json:"date_formatted,omitempty"`
	DurationSeconds   int           `json:"duration_seconds"`
	DurationFormatted string        `json:"duration_formatted"`
	Internal          []Participant `json:"internal_participants"`
	External          []Participant `json:"external_participants"`
	Conversation      []Utterance   `json:"conversation"`
	// Error notes a call whose transcript could not be retrieved; the
	// call still appears in the workload so the analysis sees the gap.
	Error string `json:"error,omitempty"`
}

// noiseSpeakers are recording artifacts that must not appear as
// participants.
var noiseSpeakers = map[string]struct{}{
	"Merged Audio": {},
}

func isNoise(name string) bool {
	if _, ok := noiseSpeakers[name]; ok {
		return true
	}
	return strings.Contains(name, "Notetaker")
}

// Build merges one call and its raw transcript into a Document. A nil
// transcript produces a document with the error note set.
func Build(call callsource.Call, raw *callsource.Transcript) Document {
	doc := Document{
		CallID:            call.ID,
		Title:             call.Title,
		DurationSeconds:   call.DurationSeconds,
		DurationFormatted: FormatDuration(call.DurationSeconds),
	}
	if call.Title == "" {
		doc.Title = "Untitled Call"
	}
	if !call.Started.IsZero() {
		doc.Date = call.Started.UTC().Format(time.RFC3339)
		doc.DateFormatted = FormatDate(call.Started)
	}

	speakerNames := make(map[string]string)
	affiliations := make(map[string]string)
	for _, party := range call.Parties {
		name := party.Name
		if name == "" {
			name = party.Email
		}
		if name == "" {
			name = "Unknown"
		}
		if isNoise(name) {
			continue
		}

		if party.SpeakerID != "" {
			speakerNames[party.SpeakerID] = name
			affiliations[party.SpeakerID] = strings.ToLower(party.Affiliation)
		}

		p := Participant{Name: name, Email: party.Email}
		if strings.EqualFold(party.Affiliation, "internal") {
			doc.Internal = append(doc.Internal, p)
		} else {
			doc.External = append(doc.External, p)
		}
	}

	if raw == nil {
		doc.Error = "no transcript available"
		return doc
	}

	type timed struct {
		startMS int64
		u       Utterance
	}
	var sentences []timed
	for _, seg := range raw.Segments {
		name, ok := speakerNames[seg.SpeakerID]
		if !ok {
			name = anonymousSpeaker(seg.SpeakerID)
		}
		affiliation := affiliations[seg.SpeakerID]

		for _, s := range seg.Sentences {
			if s.Text == "" {
				continue
			}
			sentences = append(sentences, timed{
				startMS: s.StartMS,
				u: Utterance{
					Timestamp:   FormatTimestamp(s.StartMS),
					Speaker:     name,
					Affiliation: affiliation,
					Text:        s.Text,
				},
			})
		}
	}

	sort.SliceStable(sentences, func(i, j int) bool {
		return sentences[i].startMS < sentences[j].startMS
	})
	for _, s := range sentences {
		doc.Conversation = append(doc.Conversation, s.u)
	}
	return doc
}

// BuildAll merges a call listing with its transcripts, preserving call
// order. Calls without a transcript get an error-note document.
func BuildAll(calls []callsource.Call, transcripts []callsource.Transcript) []Document {
	byCall := make(map[string]*callsource.Transcript, len(transcripts))
	for i := range transcripts {
		byCall[transcripts[i].CallID] = &transcripts[i]
	}

	docs := make([]Document, 0, len(calls))
	for _, call := range calls {
		docs = append(docs, Build(call, byCall[call.ID]))
	}
	return docs
}

// Text renders the document as a readable plain-text transcript.
func (d Document) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", d.Title)
	if d.DateFormatted != "" {
		fmt.Fprintf(&b, "Date: %s\n", d.DateFormatted)
	}
	fmt.Fprintf(&b, "Duration: %s\n\n", d.DurationFormatted)

	if d.Error != "" {
		fmt.Fprintf(&b, "(%s)\n", d.Error)
		return b.String()
	}

	for _, u := range d.Conversation {
		fmt.Fprintf(&b, "[%s] %s: %s\n", u.Timestamp, u.Speaker, u.Text)
	}
	return b.String()
}

// anonymousSpeaker labels a speaker id with no roster entry.
func anonymousSpeaker(speakerID string) string {
	suffix := speakerID
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "Speaker " + suffix
}

// FormatDuration renders seconds as "1h 23m 45s", dropping leading zero
// units.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatTimestamp renders a millisecond offset as MM:SS, or HH:MM:SS past
// the hour.
func FormatTimestamp(ms int64) string {
	total := ms / 1000
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// FormatDate renders a call start time for humans.
func FormatDate(t time.Time) string {
	return t.UTC().Format("Jan 02, 2006 at 3:04 PM")
}
