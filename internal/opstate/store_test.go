package opstate

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPausedDefaultsFalse(t *testing.T) {
	s := newTestStore(t)
	paused, err := s.Paused()
	if err != nil {
		t.Fatalf("Paused: %v", err)
	}
	if paused {
		t.Error("fresh store should not be paused")
	}
}

func TestSetPausedRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetPaused(true); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}
	if paused, _ := s.Paused(); !paused {
		t.Error("expected paused after SetPaused(true)")
	}

	if err := s.SetPaused(false); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}
	if paused, _ := s.Paused(); paused {
		t.Error("expected not paused after SetPaused(false)")
	}
}

func TestPostLogCounts(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	entries := []struct {
		id   string
		kind string
		age  time.Duration
	}{
		{"1", KindText, 30 * time.Hour},
		{"2", KindText, 2 * time.Hour},
		{"3", KindImage, time.Hour},
		{"4", KindReply, 10 * time.Minute},
	}
	for _, e := range entries {
		if err := s.RecordPost(e.id, e.kind, "post "+e.id, now.Add(-e.age)); err != nil {
			t.Fatalf("RecordPost: %v", err)
		}
	}

	total, err := s.PostsSince(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PostsSince: %v", err)
	}
	if total != 3 {
		t.Errorf("PostsSince(24h) = %d, want 3", total)
	}

	replies, err := s.CountSinceByKind(KindReply, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CountSinceByKind: %v", err)
	}
	if replies != 1 {
		t.Errorf("replies in 24h = %d, want 1", replies)
	}

	texts, err := s.CountSinceByKind(KindText, now.Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("CountSinceByKind: %v", err)
	}
	if texts != 2 {
		t.Errorf("text posts in 48h = %d, want 2", texts)
	}

	ids, err := s.PostIDsSince(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PostIDsSince: %v", err)
	}
	if len(ids) != 3 || ids[0] != "2" || ids[2] != "4" {
		t.Errorf("ids = %v, want [2 3 4]", ids)
	}
}

func TestRecentPostsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	for i, id := range []string{"a", "b", "c"} {
		if err := s.RecordPost(id, KindText, "post "+id, now.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("RecordPost: %v", err)
		}
	}

	got, err := s.RecentPosts(2)
	if err != nil {
		t.Fatalf("RecentPosts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].TweetID != "c" || got[1].TweetID != "b" {
		t.Errorf("order = %s, %s; want c, b", got[0].TweetID, got[1].TweetID)
	}
	if got[0].PostedAt.IsZero() {
		t.Error("PostedAt not parsed")
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.SetPaused(true); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordPost("1", KindText, "hello", time.Now()); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if paused, _ := s2.Paused(); !paused {
		t.Error("paused flag lost across reopen")
	}
	if n, _ := s2.PostsSince(time.Now().Add(-time.Hour)); n != 1 {
		t.Errorf("post log lost across reopen: n = %d", n)
	}
}
