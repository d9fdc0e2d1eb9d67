// Package novelty decides whether a freshly generated candidate post is
// allowed to go out, retrying generation a bounded number of times when
// memory rejects the draft as a duplicate or a cooling topic.
package novelty

import (
	"context"
	"log/slog"
)

// Checker is the subset of the memory store the gate consults.
type Checker interface {
	IsDuplicateText(text string) bool
	IsTopicCooling(text string) bool
}

// GenerateFunc produces one candidate. Each gate attempt calls it once.
type GenerateFunc func(ctx context.Context) (string, error)

// Gate enforces the regenerate-on-duplicate policy.
type Gate struct {
	memory          Checker
	maxTries        int
	skipOnDuplicate bool
	logger          *slog.Logger
}

// NewGate creates a novelty gate. maxTries below 1 is treated as 1.
func NewGate(memory Checker, maxTries int, skipOnDuplicate bool, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTries < 1 {
		maxTries = 1
	}
	return &Gate{
		memory:          memory,
		maxTries:        maxTries,
		skipOnDuplicate: skipOnDuplicate,
		logger:          logger.With("component", "novelty"),
	}
}

// EnsureNovel generates candidates until one passes both the duplicate
// and the topic-cooldown check, up to the configured attempt limit.
// The accepted candidate is returned with ok=true. When every attempt
// is rejected: with skip-on-duplicate the gate returns ok=false
// (skip this cycle); otherwise it returns the last candidate anyway,
// preferring repetition over stalling.
//
// Generation errors abort immediately; they are the caller's problem,
// not a novelty rejection.
func (g *Gate) EnsureNovel(ctx context.Context, generate GenerateFunc) (string, bool, error) {
	var last string
	for attempt := 1; attempt <= g.maxTries; attempt++ {
		draft, err := generate(ctx)
		if err != nil {
			return "", false, err
		}
		last = draft

		dup := g.memory.IsDuplicateText(draft)
		cooling := g.memory.IsTopicCooling(draft)
		if !dup && !cooling {
			return draft, true, nil
		}
		g.logger.Info("candidate rejected",
			"duplicate", dup,
			"topicCooling", cooling,
			"attempt", attempt,
			"maxTries", g.maxTries,
		)
	}

	if g.skipOnDuplicate {
		g.logger.Info("candidate still duplicate after retries, skipping cycle")
		return "", false, nil
	}
	g.logger.Info("candidate still duplicate after retries, posting anyway")
	return last, true, nil
}
