package transcript

import (
	"strings"
	"testing"
)

func TestRepeatedFinalIsNotDuplicated(t *testing.T) {
	var tr Transcript
	tr = tr.Apply(Final("What is your greatest weakness"))
	tr = tr.Apply(Final("What is your greatest weakness"))

	if tr.Finalized != "What is your greatest weakness " {
		t.Fatalf("unexpected finalized: %q", tr.Finalized)
	}
	if tr.Submission() != "What is your greatest weakness" {
		t.Fatalf("unexpected submission: %q", tr.Submission())
	}
}

func TestInterimReplacesInsteadOfAppending(t *testing.T) {
	var tr Transcript
	tr = tr.Apply(Interim("tell"))
	tr = tr.Apply(Interim("tell me"))
	tr = tr.Apply(Interim("tell me about"))

	if tr.PendingInterim != "tell me about" {
		t.Fatalf("unexpected interim: %q", tr.PendingInterim)
	}
	if tr.Display() != "tell me about" {
		t.Fatalf("unexpected display: %q", tr.Display())
	}
}

func TestFinalClearsInterimAndDisplayCombines(t *testing.T) {
	var tr Transcript
	tr = tr.Apply(Interim("tell me"))
	tr = tr.Apply(Final("Tell me about yourself"))
	if tr.PendingInterim != "" {
		t.Fatalf("expected interim cleared, got %q", tr.PendingInterim)
	}
	tr = tr.Apply(Event{Segments: []Segment{{Text: "and your"}, {Text: " goals"}}})
	if got := tr.Display(); got != "Tell me about yourself and your goals" {
		t.Fatalf("unexpected display: %q", got)
	}
}

func TestMixedEventKeepsOrder(t *testing.T) {
	var tr Transcript
	tr = tr.Apply(Event{Segments: []Segment{
		{Text: "first", Final: true},
		{Text: "second", Final: true},
		{Text: "thi"},
	}})
	if tr.Finalized != "first second " {
		t.Fatalf("unexpected finalized: %q", tr.Finalized)
	}
	if tr.LastFinalSegment != "second" {
		t.Fatalf("unexpected last final: %q", tr.LastFinalSegment)
	}
	if tr.Display() != "first second thi" {
		t.Fatalf("unexpected display: %q", tr.Display())
	}
}

func TestBlankFinalIgnored(t *testing.T) {
	var tr Transcript
	tr = tr.Apply(Final("   "))
	if !tr.Empty() || tr.Finalized != "" {
		t.Fatalf("expected empty transcript, got %+v", tr)
	}
}

func TestNonAdjacentRepeatIsKept(t *testing.T) {
	var tr Transcript
	for _, s := range []string{"yes", "no", "yes"} {
		tr = tr.Apply(Final(s))
	}
	if tr.Finalized != "yes no yes " {
		t.Fatalf("unexpected finalized: %q", tr.Finalized)
	}
}

func TestNoAdjacentDuplicateAcrossBatches(t *testing.T) {
	batches := [][]string{{"a"}, {"a"}, {"b"}, {"b", "b"}, {"c"}, {"c"}}
	var tr Transcript
	for _, batch := range batches {
		ev := Event{}
		for _, s := range batch {
			ev.Segments = append(ev.Segments, Segment{Text: s, Final: true})
		}
		tr = tr.Apply(ev)
	}
	words := strings.Fields(tr.Display())
	for i := 1; i < len(words); i++ {
		if words[i] == words[i-1] {
			t.Fatalf("adjacent duplicate %q in %q", words[i], tr.Display())
		}
	}
}
