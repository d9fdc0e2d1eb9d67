package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/permaboost370/x-posting-bot/internal/opstate"
	"github.com/permaboost370/x-posting-bot/internal/resilience"
	"github.com/permaboost370/x-posting-bot/internal/x"
)

// Searcher finds candidate posts and publishes replies. Implemented by
// the X API client.
type Searcher interface {
	SearchRecent(ctx context.Context, query string, start time.Time, maxResults int) (*x.SearchResult, error)
	Reply(ctx context.Context, text, toTweetID string) (string, error)
}

// ReplyMemory is the slice of the memory store the discovery loop
// needs for author cooldowns.
type ReplyMemory interface {
	RecentlyRepliedTo(authorID string, cooldown time.Duration) bool
	RecordAuthorReplied(authorID string)
}

// ReplyFunc generates one reply for a source post. An empty string
// with nil error means no usable reply came out (too short after
// trimming) and the candidate is skipped.
type ReplyFunc func(ctx context.Context, sourceText, authorHandle string) (string, error)

// DiscoveryConfig tunes the discovery loop.
type DiscoveryConfig struct {
	Enabled         bool
	Queries         []string
	Probability     float64 // chance a given run actually searches
	Lookback        time.Duration
	CheckMin        time.Duration // bounds of the randomized gap between runs
	CheckMax        time.Duration
	MaxPerRun       int
	MinFollowers    int
	MinRetweets     int
	RequireVerified bool
	AuthorCooldown  time.Duration
	DailyCap        int
}

// DiscoveryLoop searches for fresh candidate posts and replies to a
// bounded number of them per day.
type DiscoveryLoop struct {
	cfg      DiscoveryConfig
	gate     *resilience.CoolOffGate
	searcher Searcher
	reply    ReplyFunc
	memory   ReplyMemory
	paused   Pauser
	postLog  PostLog
	logger   *slog.Logger

	mu           sync.Mutex
	repliesToday int
	dayStamp     string

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	randF func() float64
}

func NewDiscoveryLoop(
	cfg DiscoveryConfig,
	gate *resilience.CoolOffGate,
	searcher Searcher,
	reply ReplyFunc,
	memory ReplyMemory,
	paused Pauser,
	postLog PostLog,
	logger *slog.Logger,
) *DiscoveryLoop {
	if cfg.MaxPerRun < 1 {
		cfg.MaxPerRun = 1
	}
	if cfg.CheckMin <= 0 {
		cfg.CheckMin = 10 * time.Minute
	}
	if cfg.CheckMax < cfg.CheckMin {
		cfg.CheckMax = cfg.CheckMin
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscoveryLoop{
		cfg:      cfg,
		gate:     gate,
		searcher: searcher,
		reply:    reply,
		memory:   memory,
		paused:   paused,
		postLog:  postLog,
		logger:   logger.With("component", "discovery"),
		sleep:    sleepCtx,
		now:      time.Now,
		randF:    rand.Float64,
	}
}

// Run drives the discovery loop until ctx is cancelled. Returns nil
// immediately when discovery is disabled or unconfigured.
func (l *DiscoveryLoop) Run(ctx context.Context) error {
	if !l.cfg.Enabled || len(l.cfg.Queries) == 0 {
		l.logger.Info("discovery disabled or no queries configured")
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if rem := l.gate.Remaining(); rem > 0 {
			l.logger.Info("provider cooling off", "remaining", rem)
			if err := l.sleep(ctx, maxDuration(gateRecheck, rem)); err != nil {
				return err
			}
			continue
		}

		if paused, err := l.paused.Paused(); err != nil {
			l.logger.Error("pause check failed", "error", err)
		} else if paused {
			if err := l.sleep(ctx, gateRecheck); err != nil {
				return err
			}
			continue
		}

		if err := l.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error("discovery run failed", "error", err)
		}

		delay := randBetween(l.cfg.CheckMin, l.cfg.CheckMax)
		l.logger.Info("sleeping until next discovery run", "duration", delay)
		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// runOnce performs one discovery pass: probability gate, search,
// filter, then reply to a shuffled subset.
func (l *DiscoveryLoop) runOnce(ctx context.Context) error {
	if n := l.RepliesToday(); n >= l.cfg.DailyCap {
		l.logger.Info("daily reply cap reached", "replies", n, "cap", l.cfg.DailyCap)
		return nil
	}
	if l.randF() >= l.cfg.Probability {
		l.logger.Debug("probability gate skipped this run")
		return nil
	}

	query := l.cfg.Queries[rand.Intn(len(l.cfg.Queries))] + " lang:en -is:retweet"
	since := l.now().Add(-l.cfg.Lookback)

	res, err := l.searcher.SearchRecent(ctx, query, since, 50)
	if err != nil {
		return err
	}

	candidates := l.filter(res, since)
	if len(candidates) == 0 {
		l.logger.Info("no suitable candidates this run", "query", query)
		return nil
	}

	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > l.cfg.MaxPerRun {
		candidates = candidates[:l.cfg.MaxPerRun]
	}

	for _, t := range candidates {
		if l.RepliesToday() >= l.cfg.DailyCap {
			break
		}

		handle := "user"
		if author, ok := res.Author(t); ok && author.Username != "" {
			handle = author.Username
		}

		text, err := l.reply(ctx, t.Text, handle)
		if err != nil {
			return err
		}
		if text == "" {
			continue
		}

		id, err := l.searcher.Reply(ctx, text, t.ID)
		if err != nil {
			return err
		}
		l.countReply()
		l.memory.RecordAuthorReplied(t.AuthorID)
		if l.postLog != nil {
			if err := l.postLog.RecordPost(id, opstate.KindReply, text, l.now()); err != nil {
				l.logger.Error("post log write failed", "tweetID", id, "error", err)
			}
		}
		l.logger.Info("replied", "to", handle, "sourceID", t.ID, "tweetID", id)

		// Spread replies out so they don't land in a burst.
		pause := 5*time.Second + time.Duration(rand.Int63n(int64(10*time.Second)))
		if err := l.sleep(ctx, pause); err != nil {
			return err
		}
	}
	return nil
}

// filter keeps fresh, top-level posts from sufficiently established
// authors that we haven't replied to recently.
func (l *DiscoveryLoop) filter(res *x.SearchResult, since time.Time) []x.Tweet {
	var out []x.Tweet
	for _, t := range res.Tweets {
		if t.ID == "" || t.AuthorID == "" {
			continue
		}
		if t.CreatedAt.Before(since) {
			continue
		}
		if len(t.ReferencedTweets) > 0 {
			continue
		}
		author, ok := res.Author(t)
		if !ok {
			continue
		}
		if author.PublicMetrics.FollowersCount < l.cfg.MinFollowers {
			continue
		}
		if l.cfg.RequireVerified && !author.Verified {
			continue
		}
		if t.PublicMetrics.RetweetCount < l.cfg.MinRetweets {
			continue
		}
		if l.memory.RecentlyRepliedTo(t.AuthorID, l.cfg.AuthorCooldown) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// RepliesToday returns the reply count for the current calendar day.
func (l *DiscoveryLoop) RepliesToday() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetDailyLocked()
	return l.repliesToday
}

func (l *DiscoveryLoop) countReply() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetDailyLocked()
	l.repliesToday++
}

func (l *DiscoveryLoop) resetDailyLocked() {
	day := l.now().UTC().Format("2006-01-02")
	if day != l.dayStamp {
		l.dayStamp = day
		l.repliesToday = 0
	}
}
