// Xbot is an autonomous X posting agent.
//
// It generates persona-styled posts on a randomized schedule, optionally
// pairs them with generated images, replies to discovered posts that
// match configured queries, and takes operator commands over Telegram.
// Configuration comes from environment variables, with .env overlays for
// local development.
//
// Usage:
//
//	xbot serve             Run the posting, discovery, and Telegram loops
//	xbot post [-image]     Generate and publish a single post, then exit
//	xbot version           Print version and build information
//	xbot -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/permaboost370/x-posting-bot/internal/buildinfo"
	"github.com/permaboost370/x-posting-bot/internal/config"
	"github.com/permaboost370/x-posting-bot/internal/imagery"
	"github.com/permaboost370/x-posting-bot/internal/llm"
	"github.com/permaboost370/x-posting-bot/internal/memory"
	"github.com/permaboost370/x-posting-bot/internal/novelty"
	"github.com/permaboost370/x-posting-bot/internal/opstate"
	"github.com/permaboost370/x-posting-bot/internal/persona"
	"github.com/permaboost370/x-posting-bot/internal/resilience"
	"github.com/permaboost370/x-posting-bot/internal/scheduler"
	"github.com/permaboost370/x-posting-bot/internal/telegram"
	"github.com/permaboost370/x-posting-bot/internal/x"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the full
// startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the xbot command. Arguments are parsed
// by hand: the flag package relies on package-level globals, which makes
// it impossible to call run() concurrently from tests, and our argument
// surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stderr)
	case "post":
		withImage := false
		for _, a := range cmdArgs {
			if a == "-image" || a == "--image" {
				withImage = true
			}
		}
		return runPost(ctx, stdout, stderr, withImage)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "xbot - Autonomous X Posting Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: xbot [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve           Run the posting, discovery, and Telegram loops")
	fmt.Fprintln(w, "  post [-image]   Generate and publish a single post, then exit")
	fmt.Fprintln(w, "  version         Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration is read from the environment; .env and .env.dev")
	fmt.Fprintln(w, "are overlaid when present. See README for the variable list.")
	return nil
}

// bot holds every wired component. Built once per process by newBot and
// shared by the serve and post subcommands.
type bot struct {
	cfg       *config.Config
	logger    *slog.Logger
	closeLogs func() error

	memory  *memory.Store
	state   *opstate.Store
	xClient *x.Client
	images  *imagery.Pipeline
	gate    *resilience.CoolOffGate
	posting *scheduler.PostingLoop
	reply   scheduler.ReplyFunc
}

// newBot loads configuration and wires the full component graph. The
// returned bot owns the opstate database handle and the log file; call
// Close when done.
func newBot(stderr io.Writer) (*bot, error) {
	if loaded := config.LoadEnvFiles(); len(loaded) > 0 {
		fmt.Fprintf(stderr, "loaded env files: %s\n", strings.Join(loaded, ", "))
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger, closeLogs := config.SetupLogger(cfg.LogFile, level)

	p := persona.Default()
	if cfg.PersonaFile != "" {
		p, err = persona.Load(cfg.PersonaFile)
		if err != nil {
			closeLogs()
			return nil, fmt.Errorf("load persona %s: %w", cfg.PersonaFile, err)
		}
		logger.Info("persona loaded", "path", cfg.PersonaFile, "name", p.Name)
	}

	mem := memory.NewStore(memory.Options{
		File:                 cfg.Memory.File,
		MaxPosts:             cfg.Memory.MaxPosts,
		TTLDays:              cfg.Memory.TTLDays,
		SimilarityThreshold:  cfg.Memory.SimilarityThreshold,
		TopicCooldownMinutes: int(cfg.Memory.TopicCooldown.Minutes()),
		Enabled:              cfg.Memory.Enabled,
	}, logger)

	state, err := opstate.NewStore(cfg.StateDB)
	if err != nil {
		closeLogs()
		return nil, fmt.Errorf("open state database %s: %w", cfg.StateDB, err)
	}

	llmClient := llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, logger)
	gate := resilience.NewGate(nil)
	invoker := resilience.NewInvoker(resilience.InvokerConfig{
		Gate:      gate,
		RetryMax:  cfg.Retry.Max,
		BaseDelay: cfg.Retry.BaseDelay,
		CoolOff:   cfg.Retry.CoolOff,
		Logger:    logger,
	})

	images := imagery.NewPipeline(llmClient, invoker, imagery.Config{
		Size:            cfg.Image.Size,
		Style:           cfg.Image.Style,
		Mode:            imagery.PromptMode(cfg.Image.PromptMode),
		PersonaWeight:   cfg.Image.PersonaWeight,
		PromptMaxTokens: cfg.Image.PromptMaxTokens,
		PromptOverride:  cfg.Image.PromptOverride,
		PromptPrefix:    cfg.Image.PromptPrefix,
		PromptSuffix:    cfg.Image.PromptSuffix,
		RefURL:          cfg.Image.RefURL,
		RefPath:         cfg.Image.RefPath,
		MaskURL:         cfg.Image.MaskURL,
		MaskPath:        cfg.Image.MaskPath,
	}, logger)

	xClient := x.NewClient(x.Config{
		APIKey:       cfg.X.APIKey,
		APISecret:    cfg.X.APISecret,
		AccessToken:  cfg.X.AccessToken,
		AccessSecret: cfg.X.AccessSecret,
		DryRun:       cfg.DryRun,
	}, logger)

	window, err := scheduler.ParseActiveWindow(cfg.Posting.ActiveHoursStart, cfg.Posting.ActiveHoursEnd, cfg.Posting.Timezone)
	if err != nil {
		state.Close()
		closeLogs()
		return nil, fmt.Errorf("active hours: %w", err)
	}

	generate := newPostGenerator(p, llmClient, invoker, cfg.Posting.MaxLength)
	noveltyGate := novelty.NewGate(mem, cfg.Memory.MaxRegenTries, cfg.Memory.SkipOnDuplicate, logger)

	posting := scheduler.NewPostingLoop(scheduler.PostingConfig{
		Window:          window,
		MinInterval:     cfg.Posting.IntervalMin,
		MaxInterval:     cfg.Posting.IntervalMax,
		PostImmediately: cfg.Posting.PostImmediately,
		ImageEnabled:    cfg.Image.Enabled,
		ImageEvery:      cfg.Image.Frequency,
	}, gate, noveltyGate, generate, images, mem, xClient, state, state, logger)

	return &bot{
		cfg:       cfg,
		logger:    logger,
		closeLogs: closeLogs,
		memory:    mem,
		state:     state,
		xClient:   xClient,
		images:    images,
		gate:      gate,
		posting:   posting,
		reply:     newReplyGenerator(p, llmClient, invoker, cfg.Discovery.ReplyMinLen, cfg.Discovery.ReplyMaxLen),
	}, nil
}

func (b *bot) Close() {
	if err := b.state.Close(); err != nil {
		b.logger.Error("close state database", "error", err)
	}
	if b.closeLogs != nil {
		b.closeLogs()
	}
}

// newPostGenerator returns the caption generator used by the posting
// loop. Each call produces one candidate caption, trimmed to maxLen on
// a sentence or line boundary.
func newPostGenerator(p *persona.Persona, client llm.Client, invoker *resilience.Invoker, maxLen int) novelty.GenerateFunc {
	return func(ctx context.Context) (string, error) {
		prompt := p.BuildPostPrompt(maxLen)
		var raw string
		err := invoker.Do(ctx, "chat.generatePost", func(ctx context.Context) error {
			msgs := []llm.Message{{Role: "system", Content: prompt.System}}
			if prompt.Fewshot != "" {
				msgs = append(msgs, llm.Message{Role: "system", Content: prompt.Fewshot})
			}
			msgs = append(msgs, llm.Message{Role: "user", Content: prompt.User})

			out, err := client.ChatComplete(ctx, llm.ChatRequest{
				Messages:    msgs,
				Temperature: 0.8,
				MaxTokens:   200,
			})
			if err != nil {
				return err
			}
			raw = out
			return nil
		})
		if err != nil {
			return "", err
		}
		return persona.TrimPost(raw, maxLen), nil
	}
}

// newReplyGenerator returns the reply generator used by the discovery
// loop. An empty return with nil error means the candidate should be
// skipped (the model produced something too short to be worth posting).
func newReplyGenerator(p *persona.Persona, client llm.Client, invoker *resilience.Invoker, minLen, maxLen int) scheduler.ReplyFunc {
	return func(ctx context.Context, sourceText, authorHandle string) (string, error) {
		prompt := p.BuildReplyPrompt(sourceText, authorHandle, maxLen)
		var raw string
		err := invoker.Do(ctx, "chat.generateReply", func(ctx context.Context) error {
			out, err := client.ChatComplete(ctx, llm.ChatRequest{
				Messages: []llm.Message{
					{Role: "system", Content: prompt.System},
					{Role: "user", Content: prompt.User},
				},
				Temperature: 0.7,
				MaxTokens:   160,
			})
			if err != nil {
				return err
			}
			raw = out
			return nil
		})
		if err != nil {
			return "", err
		}
		trimmed := persona.TrimPost(raw, maxLen)
		if utf8.RuneCountInString(trimmed) < minLen {
			return "", nil
		}
		return trimmed, nil
	}
}

// runServe starts all long-lived loops and blocks until SIGINT/SIGTERM.
func runServe(ctx context.Context, stderr io.Writer) error {
	b, err := newBot(stderr)
	if err != nil {
		return err
	}
	defer b.Close()

	logger := b.logger.With("run_id", uuid.NewString()[:8])
	logger.Info("starting xbot",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
		"dry_run", b.cfg.DryRun,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	discovery := scheduler.NewDiscoveryLoop(scheduler.DiscoveryConfig{
		Enabled:         b.cfg.Discovery.Enabled,
		Queries:         b.cfg.Discovery.Queries,
		Probability:     b.cfg.Discovery.Probability,
		Lookback:        b.cfg.Discovery.Lookback,
		CheckMin:        b.cfg.Discovery.CheckMin,
		CheckMax:        b.cfg.Discovery.CheckMax,
		MaxPerRun:       b.cfg.Discovery.MaxPerRun,
		MinFollowers:    b.cfg.Discovery.MinFollowers,
		MinRetweets:     b.cfg.Discovery.MinRetweets,
		RequireVerified: b.cfg.Discovery.RequireVerified,
		AuthorCooldown:  b.cfg.Discovery.AuthorCooldown,
		DailyCap:        b.cfg.Discovery.ReplyDailyCap,
	}, b.gate, b.xClient, b.reply, b.memory, b.state, b.state, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := discovery.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("discovery loop failed", "error", err)
		}
	}()

	if b.cfg.Telegram.BotToken != "" {
		bridge := telegram.NewBridge(telegram.BridgeConfig{
			Client:  telegram.NewClient(b.cfg.Telegram.BotToken, logger),
			ChatID:  b.cfg.Telegram.ChatID,
			DryRun:  b.cfg.DryRun,
			MinGap:  b.cfg.Posting.IntervalMin,
			MaxGap:  b.cfg.Posting.IntervalMax,
			Poster:  b.posting,
			Images:  b.images,
			Pub:     b.xClient,
			State:   b.state,
			Metrics: b.xClient,
			Memory:  b.memory,
			Logger:  logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("telegram bridge failed", "error", err)
			}
		}()
		logger.Info("telegram bridge enabled", "chat_id", b.cfg.Telegram.ChatID)
	} else {
		logger.Info("telegram bridge disabled (no bot token)")
	}

	// The posting loop is the primary workload; run it on this goroutine
	// so a fatal error surfaces as the process exit status.
	runErr := b.posting.Run(ctx)
	cancel()
	wg.Wait()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("posting loop failed: %w", runErr)
	}
	logger.Info("xbot stopped")
	return nil
}

// runPost publishes a single post and exits. Useful for smoke tests and
// cron-style invocation without the long-lived loops.
func runPost(ctx context.Context, stdout io.Writer, stderr io.Writer, withImage bool) error {
	b, err := newBot(stderr)
	if err != nil {
		return err
	}
	defer b.Close()

	id, err := b.posting.Cycle(ctx, withImage)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	if id == "" {
		fmt.Fprintln(stdout, "skipped: caption rejected as duplicate")
		return nil
	}
	fmt.Fprintf(stdout, "posted: https://twitter.com/i/web/status/%s\n", id)
	return nil
}
