package timerange

import (
	"testing"
	"time"
)

func TestParse_EmptyAndInvalid(t *testing.T) {
	if got := Parse(""); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
	if got := Parse("not-a-date"); got != nil {
		t.Errorf("expected nil for garbage input, got %v", got)
	}
	if got := Parse("2024-13-45T99:99"); got != nil {
		t.Errorf("expected nil for out-of-range input, got %v", got)
	}
}

func TestParse_ExplicitZone(t *testing.T) {
	got := Parse("2024-01-15T08:00:00Z")
	if got == nil {
		t.Fatal("expected instant for Z-suffixed input")
	}
	want := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	got = Parse("2024-01-15T08:00:00+02:00")
	if got == nil {
		t.Fatal("expected instant for offset input")
	}
	want = time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestParse_DateOnly(t *testing.T) {
	got := Parse("2024-01-15")
	if got == nil {
		t.Fatal("expected instant for date-only input")
	}
	want := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected midnight UTC %v, got %v", want, got)
	}
}

func TestParse_UnixSeconds(t *testing.T) {
	got := Parse("1705305600")
	if got == nil {
		t.Fatal("expected instant for unix-seconds input")
	}
	want := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestParse_NaiveInterpretedAsUTC(t *testing.T) {
	cases := map[string]time.Time{
		"2024-01-15T08:00:00": time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
		"2024-01-15T08:00":    time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
		"2024-01-15 08:30:15": time.Date(2024, 1, 15, 8, 30, 15, 0, time.UTC),
	}
	for in, want := range cases {
		got := Parse(in)
		if got == nil {
			t.Errorf("Parse(%q): expected instant, got nil", in)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("Parse(%q): expected %v, got %v", in, want, got)
		}
		if got.Location() != time.UTC {
			t.Errorf("Parse(%q): expected UTC location, got %v", in, got.Location())
		}
	}
}

func TestResolve_OpenBounds(t *testing.T) {
	w := Resolve("", "2024-01-15T08:00:00Z")
	if w.Start != nil {
		t.Error("expected open start bound")
	}
	if w.End == nil {
		t.Error("expected resolved end bound")
	}

	w = Resolve("bogus", "")
	if w.Start != nil || w.End != nil {
		t.Error("expected fully open window for bad/empty input")
	}
}

func TestResolve_ClampsStaleEndDate(t *testing.T) {
	w := Resolve("2024-01-15T08:00:00Z", "2024-02-20T09:00:00Z")

	if !w.Closed() {
		t.Fatal("expected closed window")
	}
	want := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	if !w.End.Equal(want) {
		t.Errorf("expected clamped end %v, got %v", want, w.End)
	}
}

func TestResolve_KeepsRangeWithinTrigger(t *testing.T) {
	w := Resolve("2024-01-15T08:00:00Z", "2024-01-16T07:00:00Z")

	want := time.Date(2024, 1, 16, 7, 0, 0, 0, time.UTC)
	if !w.End.Equal(want) {
		t.Errorf("expected untouched end %v, got %v", want, w.End)
	}
}

func TestResolve_RejectsInvertingCandidate(t *testing.T) {
	// Candidate would be 2024-01-15T05:00, before start; original end is kept.
	w := Resolve("2024-01-15T08:00:00Z", "2024-02-20T05:00:00Z")

	want := time.Date(2024, 2, 20, 5, 0, 0, 0, time.UTC)
	if !w.End.Equal(want) {
		t.Errorf("expected original end %v, got %v", want, w.End)
	}
	if w.End.Before(*w.Start) {
		t.Error("window must not invert after clamp")
	}
}
