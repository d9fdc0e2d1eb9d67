package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/permaboost370/x-posting-bot/internal/buildinfo"
	"github.com/permaboost370/x-posting-bot/internal/memory"
	"github.com/permaboost370/x-posting-bot/internal/opstate"
	"github.com/permaboost370/x-posting-bot/internal/x"
)

// pollTimeout is the long-poll window for getUpdates.
const pollTimeout = 30 * time.Second

// handleTimeout bounds how long one command may run. /post goes
// through caption generation plus image generation, so this is
// generous.
const handleTimeout = 5 * time.Minute

// PostRunner triggers one posting cycle. Implemented by the posting
// loop.
type PostRunner interface {
	Cycle(ctx context.Context, withImage bool) (string, error)
}

// ImageComposer covers the image pipeline calls the /custom command
// needs.
type ImageComposer interface {
	Styled(prompt string) string
	Generate(ctx context.Context, derivedPrompt string) ([]byte, error)
	BuildAltText(ctx context.Context, caption, conceptHint string) string
}

// Publisher posts operator-supplied content directly.
type Publisher interface {
	PostImage(ctx context.Context, image []byte, text, altText string) (string, error)
}

// StateStore is the operator state the bridge reads and writes.
type StateStore interface {
	Paused() (bool, error)
	SetPaused(paused bool) error
	RecentPosts(n int) ([]opstate.PostEntry, error)
	PostsSince(cutoff time.Time) (int, error)
	PostIDsSince(cutoff time.Time) ([]string, error)
	CountSinceByKind(kind string, cutoff time.Time) (int, error)
}

// MetricsSource resolves tweet IDs to engagement metrics for /stats.
type MetricsSource interface {
	Lookup(ctx context.Context, ids []string) ([]x.Tweet, error)
}

// MemoryStats exposes memory store counters for /memstats.
type MemoryStats interface {
	Stats() memory.Stats
}

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Client  *Client
	ChatID  int64 // allowed chat; 0 allows any chat
	DryRun  bool
	MinGap  time.Duration // posting interval bounds, reported by /status
	MaxGap  time.Duration
	Poster  PostRunner
	Images  ImageComposer
	Pub     Publisher
	State   StateStore
	Metrics MetricsSource
	Memory  MemoryStats
	Logger  *slog.Logger
}

// Bridge long-polls Telegram for operator commands and dispatches
// them.
type Bridge struct {
	client  *Client
	chatID  int64
	dryRun  bool
	minGap  time.Duration
	maxGap  time.Duration
	poster  PostRunner
	images  ImageComposer
	pub     Publisher
	state   StateStore
	metrics MetricsSource
	memory  MemoryStats
	logger  *slog.Logger

	now func() time.Time
}

func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		client:  cfg.Client,
		chatID:  cfg.ChatID,
		dryRun:  cfg.DryRun,
		minGap:  cfg.MinGap,
		maxGap:  cfg.MaxGap,
		poster:  cfg.Poster,
		images:  cfg.Images,
		pub:     cfg.Pub,
		state:   cfg.State,
		metrics: cfg.Metrics,
		memory:  cfg.Memory,
		logger:  logger.With("component", "telegram"),
		now:     time.Now,
	}
}

// Run polls for commands until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("telegram bridge started")

	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := b.client.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn("getUpdates failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			if !b.allowed(u.Message.Chat.ID) {
				b.logger.Warn("command from unauthorized chat", "chatID", u.Message.Chat.ID)
				continue
			}

			cmdCtx, cancel := context.WithTimeout(ctx, handleTimeout)
			b.handle(cmdCtx, u.Message)
			cancel()
		}
	}
}

func (b *Bridge) allowed(chatID int64) bool {
	return b.chatID == 0 || chatID == b.chatID
}

func (b *Bridge) handle(ctx context.Context, msg *Message) {
	cmd, args, _ := strings.Cut(strings.TrimSpace(msg.Text), " ")
	args = strings.TrimSpace(args)

	var reply string
	switch cmd {
	case "/health":
		reply = "Bot is alive. " + buildinfo.String()
	case "/status":
		reply = b.statusText()
	case "/stats":
		reply = b.statsText(ctx, args)
	case "/log":
		reply = b.logText()
	case "/memstats":
		reply = b.memStatsText()
	case "/pause":
		reply = b.setPaused(true)
	case "/resume":
		reply = b.setPaused(false)
	case "/post":
		reply = b.postNow(ctx)
	case "/custom":
		reply = b.customPost(ctx, args)
	default:
		return
	}

	if err := b.client.SendMessage(ctx, msg.Chat.ID, reply); err != nil {
		b.logger.Warn("reply send failed", "error", err)
	}
}

func (b *Bridge) statusText() string {
	paused, err := b.state.Paused()
	if err != nil {
		return "Error reading state: " + err.Error()
	}
	y, m, d := b.now().Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, b.now().Location())
	posts, err := b.state.PostsSince(dayStart)
	if err != nil {
		return "Error reading post log: " + err.Error()
	}

	up := buildinfo.Uptime().Round(time.Minute)
	return strings.Join([]string{
		"Status",
		fmt.Sprintf("Uptime: %dh %dm", int(up.Hours()), int(up.Minutes())%60),
		fmt.Sprintf("Paused: %v | Dry-run: %v", paused, b.dryRun),
		fmt.Sprintf("Posts today: %d", posts),
		fmt.Sprintf("Interval window: %d-%d min", int(b.minGap.Minutes()), int(b.maxGap.Minutes())),
	}, "\n")
}

func (b *Bridge) statsText(ctx context.Context, args string) string {
	days := 7
	if args != "" {
		if n, err := strconv.Atoi(args); err == nil {
			days = n
		}
	}
	if days < 1 {
		days = 1
	} else if days > 90 {
		days = 90
	}

	cutoff := b.now().Add(-time.Duration(days) * 24 * time.Hour)
	ids, err := b.state.PostIDsSince(cutoff)
	if err != nil {
		return "Error reading post log: " + err.Error()
	}
	if len(ids) == 0 {
		return fmt.Sprintf("No posts in the last %d days.", days)
	}

	tweets, err := b.metrics.Lookup(ctx, ids)
	if err != nil {
		return "Error fetching stats: " + err.Error()
	}

	var likes, retweets, replies, quotes int
	for _, t := range tweets {
		likes += t.PublicMetrics.LikeCount
		retweets += t.PublicMetrics.RetweetCount
		replies += t.PublicMetrics.ReplyCount
		quotes += t.PublicMetrics.QuoteCount
	}
	lines := []string{
		fmt.Sprintf("Stats (%dd)", days),
		fmt.Sprintf("Total posts: %d", len(tweets)),
	}
	if breakdown := b.kindBreakdown(cutoff); breakdown != "" {
		lines = append(lines, breakdown)
	}
	lines = append(lines, fmt.Sprintf("Likes %d | Retweets %d | Replies %d | Quotes %d", likes, retweets, replies, quotes))
	return strings.Join(lines, "\n")
}

// kindBreakdown counts published posts per kind since cutoff. Returns
// an empty string when the post log cannot be read; /stats still works
// from the engagement totals alone.
func (b *Bridge) kindBreakdown(cutoff time.Time) string {
	counts := make([]int, 0, 3)
	for _, kind := range []string{opstate.KindText, opstate.KindImage, opstate.KindReply} {
		n, err := b.state.CountSinceByKind(kind, cutoff)
		if err != nil {
			b.logger.Warn("post kind count failed", "kind", kind, "error", err)
			return ""
		}
		counts = append(counts, n)
	}
	return fmt.Sprintf("Text %d | Image %d | Reply %d", counts[0], counts[1], counts[2])
}

func (b *Bridge) logText() string {
	entries, err := b.state.RecentPosts(5)
	if err != nil {
		return "Error reading post log: " + err.Error()
	}
	if len(entries) == 0 {
		return "No recent posts."
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		text := e.Text
		if text == "" {
			text = "(no caption)"
		}
		lines = append(lines, fmt.Sprintf("%s | %s | tweetID=%s",
			e.PostedAt.Format(time.RFC3339), text, e.TweetID))
	}
	return strings.Join(lines, "\n")
}

func (b *Bridge) memStatsText() string {
	st := b.memory.Stats()
	pruned := "never"
	if !st.LastPruned.IsZero() && st.LastPruned.Unix() > 0 {
		pruned = st.LastPruned.Format(time.RFC3339)
	}
	return fmt.Sprintf("Memory: %d posts, %d image prompts, %d authors. Last pruned: %s",
		st.Posts, st.Images, st.Authors, pruned)
}

func (b *Bridge) setPaused(paused bool) string {
	if err := b.state.SetPaused(paused); err != nil {
		return "Error updating state: " + err.Error()
	}
	if paused {
		return "Autoposting paused."
	}
	return "Autoposting resumed."
}

func (b *Bridge) postNow(ctx context.Context) string {
	id, err := b.poster.Cycle(ctx, true)
	if err != nil {
		return "Error posting: " + err.Error()
	}
	if id == "" {
		return "Caption rejected as duplicate; nothing posted."
	}
	return "Posted: https://twitter.com/i/web/status/" + id
}

// customPost handles "/custom CAPTION | PROMPT". The prompt falls back
// to the caption when omitted.
func (b *Bridge) customPost(ctx context.Context, args string) string {
	caption, prompt, _ := strings.Cut(args, "|")
	caption = strings.TrimSpace(caption)
	prompt = strings.TrimSpace(prompt)
	if caption == "" {
		return "Usage:\n/custom CAPTION | PROMPT\n\nExample:\n/custom Under a starry sky | wide shot of a tranquil lake, lanterns, fireflies"
	}
	if prompt == "" {
		prompt = caption
	}

	finalPrompt := b.images.Styled(prompt)
	img, err := b.images.Generate(ctx, finalPrompt)
	if err != nil {
		return "Error generating image: " + err.Error()
	}
	altText := b.images.BuildAltText(ctx, caption, finalPrompt)

	id, err := b.pub.PostImage(ctx, img, caption, altText)
	if err != nil {
		return "Error posting: " + err.Error()
	}
	return "Custom posted: https://twitter.com/i/web/status/" + id
}
