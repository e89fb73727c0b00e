package store

import (
	"testing"
	"time"

	"playbackd/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate("../../migrations"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(title string, stopped time.Time) *models.HistoryEntry {
	return &models.HistoryEntry{
		RequestID:   "req-1",
		SourceURL:   "https://youtu.be/abc",
		PlayableURL: "https://svc/api/youtube/proxy?videoId=abc",
		SourceType:  models.SourceHTTP,
		Title:       title,
		Artist:      "playbackd",
		StartedAt:   stopped.Add(-3 * time.Minute),
		StoppedAt:   stopped,
		PositionMs:  180000,
		DurationMs:  200000,
	}
}

func TestInsertAndListHistory(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	e1 := entry("first", now.Add(-time.Hour))
	e2 := entry("second", now)
	if err := s.InsertHistory(e1); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertHistory(e2); err != nil {
		t.Fatal(err)
	}
	if e1.ID == 0 || e2.ID == 0 {
		t.Fatal("expected assigned IDs")
	}

	got, err := s.ListHistory(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Title != "second" || got[1].Title != "first" {
		t.Fatalf("expected newest first, got %q then %q", got[0].Title, got[1].Title)
	}
	if got[0].SourceType != models.SourceHTTP {
		t.Fatalf("source type round-trip: got %q", got[0].SourceType)
	}
}

func TestListHistoryDefaultLimit(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.ListHistory(-5); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ListHistory(100000); err != nil {
		t.Fatal(err)
	}
}

func TestPruneHistory(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		if err := s.InsertHistory(entry("t", now.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.PruneHistory(2); err != nil {
		t.Fatal(err)
	}
	got, err := s.ListHistory(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries after prune, got %d", len(got))
	}
}
