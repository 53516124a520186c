package history

import (
	"context"
	"testing"
	"time"
)

func newTestMemoryStore(start time.Time) *MemoryStore {
	s := NewMemoryStore()
	clock := start
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestMemoryStoreRecentReturnsNewestOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(time.Now())

	turns := []struct{ role, content string }{
		{RoleUser, "how many calories in an avocado"},
		{RoleAssistant, "About 240 calories."},
		{RoleUser, "and in a banana"},
		{RoleAssistant, "About 105 calories."},
	}
	for _, turn := range turns {
		if err := s.Record(ctx, "session-1", turn.role, turn.content); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := s.Record(ctx, "session-2", RoleUser, "unrelated"); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := s.Recent(ctx, "session-1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Content != "and in a banana" || got[1].Content != "About 105 calories." {
		t.Fatalf("wrong entries: %q, %q", got[0].Content, got[1].Content)
	}
	if !got[0].CreatedAt.Before(got[1].CreatedAt) {
		t.Fatal("entries not ordered oldest first")
	}
}

func TestMemoryStoreRecentUnknownSession(t *testing.T) {
	s := NewMemoryStore()
	got, err := s.Recent(context.Background(), "nope", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d entries, want 0", len(got))
	}
}

func TestMemoryStoreSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	s.Record(ctx, "session-1", RoleUser, "how many calories in an avocado")
	s.Record(ctx, "session-1", RoleAssistant, "About 240 calories.")
	s.Record(ctx, "session-2", RoleUser, "calories in a slice of bread")

	t.Run("matches across sessions", func(t *testing.T) {
		got, err := s.Search(ctx, "CALORIES", SearchOpts{})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("got %d entries, want 3", len(got))
		}
	})

	t.Run("session filter", func(t *testing.T) {
		got, err := s.Search(ctx, "calories", SearchOpts{SessionKey: "session-2"})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(got) != 1 || got[0].Content != "calories in a slice of bread" {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("limit", func(t *testing.T) {
		got, err := s.Search(ctx, "calories", SearchOpts{Limit: 1})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d entries, want 1", len(got))
		}
	})

	t.Run("time bounds", func(t *testing.T) {
		cut := time.Date(2026, 3, 1, 12, 0, 2, 500*1e6, time.UTC)
		got, err := s.Search(ctx, "calories", SearchOpts{After: cut})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(got) != 1 || got[0].SessionKey != "session-2" {
			t.Fatalf("got %v", got)
		}
	})
}
