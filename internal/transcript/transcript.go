// Package transcript merges incremental recognizer output into one transcript.
package transcript

import "strings"

// Segment is one unit of recognized speech. Final segments will not change
// again within the capture episode; interim ones may be revised.
type Segment struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Event is a single recognizer result callback.
type Event struct {
	Segments []Segment `json:"segments"`
}

// Interim builds an event carrying one interim segment.
func Interim(text string) Event {
	return Event{Segments: []Segment{{Text: text}}}
}

// Final builds an event carrying one final segment.
func Final(text string) Event {
	return Event{Segments: []Segment{{Text: text, Final: true}}}
}

// Transcript accumulates one capture episode. The zero value is the reset state.
type Transcript struct {
	Finalized        string `json:"finalized"`
	PendingInterim   string `json:"pending_interim"`
	LastFinalSegment string `json:"last_final_segment"`
}

// Apply returns the transcript after ev.
//
// A final segment is appended with a trailing space unless it repeats the
// immediately preceding final segment; recognizers re-fire the same final
// result across callbacks. Interim text from ev replaces PendingInterim.
func (t Transcript) Apply(ev Event) Transcript {
	var interim strings.Builder
	for _, seg := range ev.Segments {
		if !seg.Final {
			interim.WriteString(seg.Text)
			continue
		}
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		if seg.Text != t.LastFinalSegment {
			t.Finalized += seg.Text + " "
		}
		t.LastFinalSegment = seg.Text
	}
	t.PendingInterim = interim.String()
	return t
}

// Display is the live string shown while dictating.
func (t Transcript) Display() string {
	return t.Finalized + t.PendingInterim
}

// Submission is the text handed to the question dispatcher.
func (t Transcript) Submission() string {
	return strings.TrimSpace(t.Display())
}

// Empty reports whether there is nothing to submit.
func (t Transcript) Empty() bool {
	return t.Submission() == ""
}
