package temporal

import (
	"testing"
	"time"
)

var now = time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC) // a Thursday

func TestParseAtIntentTypes(t *testing.T) {
	tests := []struct {
		query    string
		wantType string
		wantSort string
	}{
		{"first time I went hiking", TypeFirst, SortAsc},
		{"when did i first try sushi", TypeFirst, SortAsc},
		{"earliest photo of the dog", TypeFirst, SortAsc},
		{"last time we had dinner at Nopa", TypeLast, SortDesc},
		{"most recent trip to the beach", TypeLast, SortDesc},
		{"coffee before yesterday", TypeBefore, SortDesc},
		{"runs after March 2, 2026", TypeAfter, SortAsc},
		{"dinner around 2026-08-10", TypeAround, SortDesc},
		{"coffee last week", TypeBetween, SortDesc},
		{"photos from this month", TypeBetween, SortDesc},
		{"what have I been up to lately", TypeRecent, SortDesc},
		{"pizza", TypeNone, SortDesc},
		{"", TypeNone, SortDesc},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := ParseAt(tt.query, now)
			if got.Type != tt.wantType {
				t.Errorf("type = %q, want %q", got.Type, tt.wantType)
			}
			if got.Sort != tt.wantSort {
				t.Errorf("sort = %q, want %q", got.Sort, tt.wantSort)
			}
		})
	}
}

func TestParseAtLastWeekRange(t *testing.T) {
	got := ParseAt("coffee last week", now)
	if got.Type != TypeBetween {
		t.Fatalf("type = %q", got.Type)
	}
	if got.Start == nil || got.End == nil {
		t.Fatal("expected closed range")
	}
	wantStart := now.AddDate(0, 0, -7)
	if !got.Start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", got.Start, wantStart)
	}
	if !got.End.Equal(now) {
		t.Errorf("end = %v, want now", got.End)
	}
}

func TestParseAtLastNDays(t *testing.T) {
	got := ParseAt("walks in the last 30 days", now)
	if got.Type != TypeBetween {
		t.Fatalf("type = %q", got.Type)
	}
	wantStart := now.AddDate(0, 0, -30)
	if got.Start == nil || !got.Start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", got.Start, wantStart)
	}
}

func TestParseAtAroundWindow(t *testing.T) {
	got := ParseAt("dinner around 2026-08-10", now)
	if got.Reference == nil || got.Start == nil || got.End == nil {
		t.Fatal("expected reference and window")
	}
	ref := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	if !got.Reference.Equal(ref) {
		t.Errorf("reference = %v, want %v", got.Reference, ref)
	}
	if !got.Start.Equal(ref.Add(-3 * 24 * time.Hour)) {
		t.Errorf("start = %v", got.Start)
	}
	if !got.End.Equal(ref.Add(3 * 24 * time.Hour)) {
		t.Errorf("end = %v", got.End)
	}
}

func TestParseAtBeforeYesterday(t *testing.T) {
	got := ParseAt("coffee before yesterday", now)
	if got.End == nil {
		t.Fatal("expected end bound")
	}
	want := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	if !got.End.Equal(want) {
		t.Errorf("end = %v, want %v", got.End, want)
	}
}

func TestParseAtThisWeekStartsMonday(t *testing.T) {
	got := ParseAt("photos from this week", now)
	if got.Type != TypeBetween || got.Start == nil {
		t.Fatalf("intent = %+v", got)
	}
	// 2026-08-20 is a Thursday; the week starts Monday 2026-08-17.
	want := time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)
	if !got.Start.Equal(want) {
		t.Errorf("start = %v, want %v", got.Start, want)
	}
}

func TestParseAtRecentWindow(t *testing.T) {
	got := ParseAt("what have I done recently", now)
	if got.Type != TypeRecent {
		t.Fatalf("type = %q", got.Type)
	}
	wantStart := now.AddDate(0, 0, -7)
	if got.Start == nil || !got.Start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", got.Start, wantStart)
	}
}

func TestPriorityFirstBeatsRangePhrases(t *testing.T) {
	// "first time" wins even when the query also mentions a range phrase.
	got := ParseAt("first time we got coffee last week", now)
	if got.Type != TypeFirst {
		t.Errorf("type = %q, want first", got.Type)
	}
}
