package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/permaboost370/x-posting-bot/internal/resilience"
	"github.com/permaboost370/x-posting-bot/internal/x"
)

type fakeSearcher struct {
	result   *x.SearchResult
	searches []string
	replies  []string
	targets  []string
}

func (f *fakeSearcher) SearchRecent(ctx context.Context, query string, start time.Time, maxResults int) (*x.SearchResult, error) {
	f.searches = append(f.searches, query)
	if f.result == nil {
		return &x.SearchResult{Users: map[string]x.User{}}, nil
	}
	return f.result, nil
}

func (f *fakeSearcher) Reply(ctx context.Context, text, toTweetID string) (string, error) {
	f.replies = append(f.replies, text)
	f.targets = append(f.targets, toTweetID)
	return "reply-" + toTweetID, nil
}

type fakeReplyMemory struct {
	recent   map[string]bool
	recorded []string
}

func (f *fakeReplyMemory) RecentlyRepliedTo(authorID string, cooldown time.Duration) bool {
	return f.recent[authorID]
}

func (f *fakeReplyMemory) RecordAuthorReplied(authorID string) {
	f.recorded = append(f.recorded, authorID)
}

func goodUser(id string) x.User {
	return x.User{
		ID:            id,
		Username:      "user_" + id,
		Verified:      true,
		PublicMetrics: x.UserMetrics{FollowersCount: 5000},
	}
}

func discoveryResult(now time.Time) *x.SearchResult {
	fresh := now.Add(-5 * time.Minute)
	return &x.SearchResult{
		Tweets: []x.Tweet{
			{ID: "good", Text: "a question about infra", AuthorID: "a1", CreatedAt: fresh,
				PublicMetrics: x.PublicMetrics{RetweetCount: 10}},
			{ID: "stale", Text: "old news", AuthorID: "a2", CreatedAt: now.Add(-3 * time.Hour),
				PublicMetrics: x.PublicMetrics{RetweetCount: 10}},
			{ID: "reply", Text: "nested thread", AuthorID: "a3", CreatedAt: fresh,
				PublicMetrics:    x.PublicMetrics{RetweetCount: 10},
				ReferencedTweets: []x.ReferencedTweet{{Type: "replied_to", ID: "parent"}}},
			{ID: "smallfry", Text: "tiny account", AuthorID: "a4", CreatedAt: fresh,
				PublicMetrics: x.PublicMetrics{RetweetCount: 10}},
			{ID: "quiet", Text: "no engagement", AuthorID: "a5", CreatedAt: fresh,
				PublicMetrics: x.PublicMetrics{RetweetCount: 0}},
			{ID: "cooled", Text: "repeat author", AuthorID: "a6", CreatedAt: fresh,
				PublicMetrics: x.PublicMetrics{RetweetCount: 10}},
		},
		Users: map[string]x.User{
			"a1": goodUser("a1"),
			"a2": goodUser("a2"),
			"a3": goodUser("a3"),
			"a4": {ID: "a4", Username: "user_a4", Verified: true, PublicMetrics: x.UserMetrics{FollowersCount: 3}},
			"a5": goodUser("a5"),
			"a6": goodUser("a6"),
		},
	}
}

func testDiscoveryLoop(t *testing.T, searcher *fakeSearcher, mem *fakeReplyMemory, cfg DiscoveryConfig) *DiscoveryLoop {
	t.Helper()
	if mem.recent == nil {
		mem.recent = map[string]bool{}
	}
	reply := func(ctx context.Context, sourceText, handle string) (string, error) {
		return "thoughtful reply", nil
	}
	gate := resilience.NewGate(time.Now)
	l := NewDiscoveryLoop(cfg, gate, searcher, reply, mem, &fakePauser{}, &fakePostLog{}, nil)
	l.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	l.randF = func() float64 { return 0 } // probability gate always passes
	return l
}

func baseDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		Enabled:         true,
		Queries:         []string{"golang"},
		Probability:     0.5,
		Lookback:        time.Hour,
		MaxPerRun:       10,
		MinFollowers:    100,
		MinRetweets:     1,
		RequireVerified: false,
		AuthorCooldown:  4 * time.Hour,
		DailyCap:        20,
	}
}

func TestDiscoveryFiltersCandidates(t *testing.T) {
	now := time.Now()
	mem := &fakeReplyMemory{recent: map[string]bool{"a6": true}}
	searcher := &fakeSearcher{result: discoveryResult(now)}
	l := testDiscoveryLoop(t, searcher, mem, baseDiscoveryConfig())

	if err := l.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if len(searcher.replies) != 1 {
		t.Fatalf("replied to %v, want exactly the one good candidate", searcher.targets)
	}
	if searcher.targets[0] != "good" {
		t.Errorf("replied to %q, want good", searcher.targets[0])
	}
	if len(mem.recorded) != 1 || mem.recorded[0] != "a1" {
		t.Errorf("recorded authors = %v", mem.recorded)
	}
}

func TestDiscoveryQueryShape(t *testing.T) {
	searcher := &fakeSearcher{}
	l := testDiscoveryLoop(t, searcher, &fakeReplyMemory{}, baseDiscoveryConfig())

	if err := l.runOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(searcher.searches) != 1 {
		t.Fatalf("searches = %v", searcher.searches)
	}
	if got, want := searcher.searches[0], "golang lang:en -is:retweet"; got != want {
		t.Errorf("query = %q, want %q", got, want)
	}
}

func TestDiscoveryProbabilityGate(t *testing.T) {
	searcher := &fakeSearcher{}
	l := testDiscoveryLoop(t, searcher, &fakeReplyMemory{}, baseDiscoveryConfig())
	l.randF = func() float64 { return 0.9 } // above the 0.5 probability

	if err := l.runOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(searcher.searches) != 0 {
		t.Error("probability gate should have skipped the search")
	}
}

func TestDiscoveryDailyCap(t *testing.T) {
	now := time.Now()
	cfg := baseDiscoveryConfig()
	cfg.DailyCap = 1
	searcher := &fakeSearcher{result: &x.SearchResult{
		Tweets: []x.Tweet{
			{ID: "t1", Text: "one", AuthorID: "a1", CreatedAt: now.Add(-time.Minute),
				PublicMetrics: x.PublicMetrics{RetweetCount: 5}},
			{ID: "t2", Text: "two", AuthorID: "a5", CreatedAt: now.Add(-time.Minute),
				PublicMetrics: x.PublicMetrics{RetweetCount: 5}},
		},
		Users: map[string]x.User{"a1": goodUser("a1"), "a5": goodUser("a5")},
	}}
	l := testDiscoveryLoop(t, searcher, &fakeReplyMemory{}, cfg)

	if err := l.runOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(searcher.replies) != 1 {
		t.Errorf("replies = %d, want 1 (daily cap)", len(searcher.replies))
	}

	// The next run stops before searching.
	searcher.searches = nil
	if err := l.runOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(searcher.searches) != 0 {
		t.Error("capped loop should not search again today")
	}
}

func TestDiscoveryDailyCapResetsNextDay(t *testing.T) {
	cfg := baseDiscoveryConfig()
	cfg.DailyCap = 1
	l := testDiscoveryLoop(t, &fakeSearcher{}, &fakeReplyMemory{}, cfg)

	day := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return day }
	l.countReply()
	if got := l.RepliesToday(); got != 1 {
		t.Fatalf("RepliesToday = %d, want 1", got)
	}

	day = day.AddDate(0, 0, 1)
	if got := l.RepliesToday(); got != 0 {
		t.Errorf("RepliesToday after day change = %d, want 0", got)
	}
}

func TestDiscoveryEmptyReplySkipsCandidate(t *testing.T) {
	now := time.Now()
	searcher := &fakeSearcher{result: &x.SearchResult{
		Tweets: []x.Tweet{{ID: "t1", Text: "one", AuthorID: "a1", CreatedAt: now.Add(-time.Minute),
			PublicMetrics: x.PublicMetrics{RetweetCount: 5}}},
		Users: map[string]x.User{"a1": goodUser("a1")},
	}}
	mem := &fakeReplyMemory{}
	l := testDiscoveryLoop(t, searcher, mem, baseDiscoveryConfig())
	l.reply = func(ctx context.Context, sourceText, handle string) (string, error) { return "", nil }

	if err := l.runOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(searcher.replies) != 0 {
		t.Error("empty generated reply must not be published")
	}
	if len(mem.recorded) != 0 {
		t.Error("skipped candidate must not record the author")
	}
	if l.RepliesToday() != 0 {
		t.Error("skipped candidate must not count against the cap")
	}
}

func TestDiscoveryRunDisabled(t *testing.T) {
	cfg := baseDiscoveryConfig()
	cfg.Enabled = false
	l := testDiscoveryLoop(t, &fakeSearcher{}, &fakeReplyMemory{}, cfg)

	if err := l.Run(context.Background()); err != nil {
		t.Errorf("disabled Run = %v, want nil", err)
	}

	cfg = baseDiscoveryConfig()
	cfg.Queries = nil
	l = testDiscoveryLoop(t, &fakeSearcher{}, &fakeReplyMemory{}, cfg)
	if err := l.Run(context.Background()); err != nil {
		t.Errorf("queryless Run = %v, want nil", err)
	}
}

func TestDiscoveryRequireVerified(t *testing.T) {
	now := time.Now()
	cfg := baseDiscoveryConfig()
	cfg.RequireVerified = true
	searcher := &fakeSearcher{result: &x.SearchResult{
		Tweets: []x.Tweet{{ID: "t1", Text: "one", AuthorID: "a1", CreatedAt: now.Add(-time.Minute),
			PublicMetrics: x.PublicMetrics{RetweetCount: 5}}},
		Users: map[string]x.User{"a1": {ID: "a1", Username: "u", Verified: false,
			PublicMetrics: x.UserMetrics{FollowersCount: 5000}}},
	}}
	l := testDiscoveryLoop(t, searcher, &fakeReplyMemory{}, cfg)

	if err := l.runOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(searcher.replies) != 0 {
		t.Error("unverified author should be filtered when verification is required")
	}
}
