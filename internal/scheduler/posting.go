// Package scheduler runs the bot's long-lived loops: the posting loop
// that publishes persona posts on a randomized interval inside the
// active-hours window, and the discovery loop that finds fresh posts
// to reply to. Both loops respect the shared provider cool-off gate
// and the operator pause flag, and recover from per-cycle errors
// instead of exiting.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/permaboost370/x-posting-bot/internal/imagery"
	"github.com/permaboost370/x-posting-bot/internal/novelty"
	"github.com/permaboost370/x-posting-bot/internal/opstate"
	"github.com/permaboost370/x-posting-bot/internal/resilience"
)

// gateRecheck is the minimum sleep before re-checking the cool-off
// gate or the pause flag.
const gateRecheck = time.Minute

// Publisher publishes posts. Implemented by the X API client.
type Publisher interface {
	PostText(ctx context.Context, text string) (string, error)
	PostImage(ctx context.Context, image []byte, text, altText string) (string, error)
}

// ImagePipeline derives visual prompts and produces image bytes.
// Implemented by imagery.Pipeline.
type ImagePipeline interface {
	BuildVisualPrompt(ctx context.Context, caption string) string
	BuildAltText(ctx context.Context, caption, conceptHint string) string
	FinalPrompt(derived string) string
	Generate(ctx context.Context, derivedPrompt string) ([]byte, error)
}

// PostMemory is the slice of the memory store the posting loop needs.
type PostMemory interface {
	RecordPost(text string)
	SeenImagePrompt(prompt string) bool
	RecordImagePrompt(prompt string)
}

// Pauser reports the operator pause flag.
type Pauser interface {
	Paused() (bool, error)
}

// PostLog records published posts for operator stats.
type PostLog interface {
	RecordPost(tweetID, kind, text string, postedAt time.Time) error
}

// PostingConfig tunes the posting loop.
type PostingConfig struct {
	Window          ActiveWindow
	MinInterval     time.Duration // lower bound of the randomized gap between posts
	MaxInterval     time.Duration
	PostImmediately bool
	ImageEnabled    bool
	ImageEvery      int // every Nth cycle posts an image; 1 means every cycle
}

// PostingLoop publishes persona posts until its context is cancelled.
type PostingLoop struct {
	cfg      PostingConfig
	gate     *resilience.CoolOffGate
	novelty  *novelty.Gate
	generate novelty.GenerateFunc
	images   ImagePipeline
	memory   PostMemory
	pub      Publisher
	paused   Pauser
	postLog  PostLog
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewPostingLoop(
	cfg PostingConfig,
	gate *resilience.CoolOffGate,
	noveltyGate *novelty.Gate,
	generate novelty.GenerateFunc,
	images ImagePipeline,
	memory PostMemory,
	pub Publisher,
	paused Pauser,
	postLog PostLog,
	logger *slog.Logger,
) *PostingLoop {
	if cfg.ImageEvery < 1 {
		cfg.ImageEvery = 1
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 5 * time.Minute
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostingLoop{
		cfg:      cfg,
		gate:     gate,
		novelty:  noveltyGate,
		generate: generate,
		images:   images,
		memory:   memory,
		pub:      pub,
		paused:   paused,
		postLog:  postLog,
		logger:   logger.With("component", "posting"),
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

// Run drives the posting loop until ctx is cancelled. Per-cycle errors
// are logged and the loop keeps going.
func (l *PostingLoop) Run(ctx context.Context) error {
	if l.cfg.PostImmediately {
		if err := l.waitActive(ctx); err != nil {
			return err
		}
		withImage := l.cfg.ImageEnabled && l.cfg.ImageEvery == 1
		if _, err := l.Cycle(ctx, withImage); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error("immediate post failed", "error", err)
		}
	}

	cycleCount := 0
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

		if err := l.waitActive(ctx); err != nil {
			return err
		}

		cycleCount++
		withImage := l.cfg.ImageEnabled && cycleCount%l.cfg.ImageEvery == 0

		posted, err := l.Cycle(ctx, withImage)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error("cycle failed", "error", err)
		}
		if err == nil && posted == "" {
			// Novelty gate skipped the cycle. Retry sooner than the
			// full posting interval.
			recovery := minDuration(15*time.Minute, l.cfg.MinInterval)
			l.logger.Info("cycle skipped, sleeping", "duration", recovery)
			if err := l.sleep(ctx, recovery); err != nil {
				return err
			}
			continue
		}

		delay := randBetween(l.cfg.MinInterval, l.cfg.MaxInterval)
		l.logger.Info("sleeping until next post", "duration", delay)
		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Cycle runs one generate-and-publish cycle and returns the published
// tweet ID. An empty ID with nil error means the novelty gate skipped
// the cycle. Cycle is also invoked directly by the operator /post
// command.
func (l *PostingLoop) Cycle(ctx context.Context, withImage bool) (string, error) {
	caption, ok, err := l.novelty.EnsureNovel(ctx, l.generate)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}

	if withImage {
		return l.postWithImage(ctx, caption)
	}

	id, err := l.pub.PostText(ctx, caption)
	if err != nil {
		return "", err
	}
	l.memory.RecordPost(caption)
	l.record(id, opstate.KindText, caption)
	l.logger.Info("posted", "tweetID", id)
	return id, nil
}

func (l *PostingLoop) postWithImage(ctx context.Context, caption string) (string, error) {
	visual := l.images.BuildVisualPrompt(ctx, caption)
	if l.memory.SeenImagePrompt(visual) {
		visual = imagery.WithVariation(visual)
	}
	finalPrompt := l.images.FinalPrompt(visual)

	img, err := l.images.Generate(ctx, visual)
	if err != nil {
		return "", err
	}
	altText := l.images.BuildAltText(ctx, caption, finalPrompt)

	id, err := l.pub.PostImage(ctx, img, caption, altText)
	if err != nil {
		return "", err
	}
	l.memory.RecordImagePrompt(finalPrompt)
	l.memory.RecordPost(caption)
	l.record(id, opstate.KindImage, caption)
	l.logger.Info("posted image", "tweetID", id, "prompt", finalPrompt)
	return id, nil
}

func (l *PostingLoop) record(tweetID, kind, text string) {
	if l.postLog == nil {
		return
	}
	if err := l.postLog.RecordPost(tweetID, kind, text, l.now()); err != nil {
		l.logger.Error("post log write failed", "tweetID", tweetID, "error", err)
	}
}

func (l *PostingLoop) waitActive(ctx context.Context) error {
	wait := l.cfg.Window.UntilStart(l.now())
	if wait <= 0 {
		return nil
	}
	l.logger.Info("outside active hours, sleeping", "duration", wait)
	return l.sleep(ctx, wait)
}

// randBetween picks a uniform duration in [min, max].
func randBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
