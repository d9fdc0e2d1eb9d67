// Package imagery turns post captions into image-generator prompts,
// produces images (fresh or edited from a reference), and writes ALT
// text. Every LLM call degrades gracefully: a failed prompt build
// falls back to a heuristic, a failed ALT text build falls back to a
// stock description.
package imagery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/permaboost370/x-posting-bot/internal/httpkit"
	"github.com/permaboost370/x-posting-bot/internal/llm"
	"github.com/permaboost370/x-posting-bot/internal/resilience"
)

const (
	defaultAltText = "Abstract visual aligned with caption; cinematic lighting; clean composition."
	maxAltTextLen  = 240
	maxRefBytes    = 8 << 20
)

// PromptMode selects how much persona flavor is mixed into derived
// image prompts.
type PromptMode string

const (
	ModeText    PromptMode = "text"
	ModeHybrid  PromptMode = "hybrid"
	ModePersona PromptMode = "persona"
)

// Config controls the image pipeline.
type Config struct {
	Size            string
	Style           string
	Mode            PromptMode
	PersonaWeight   float64
	PromptMaxTokens int
	PromptOverride  string
	PromptPrefix    string
	PromptSuffix    string
	RefURL          string
	RefPath         string
	MaskURL         string
	MaskPath        string
}

// Pipeline derives visual prompts from captions and generates images.
type Pipeline struct {
	llm     llm.Client
	invoker *resilience.Invoker
	cfg     Config
	logger  *slog.Logger
	http    *http.Client
}

func NewPipeline(client llm.Client, invoker *resilience.Invoker, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.Mode == "" {
		cfg.Mode = ModeHybrid
	}
	cfg.PersonaWeight = math.Max(0, math.Min(1, cfg.PersonaWeight))
	if cfg.PromptMaxTokens < 60 {
		cfg.PromptMaxTokens = 60
	} else if cfg.PromptMaxTokens > 300 {
		cfg.PromptMaxTokens = 300
	}
	if cfg.Size == "" {
		cfg.Size = "1024x1024"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		llm:     client,
		invoker: invoker,
		cfg:     cfg,
		logger:  logger,
		http:    httpkit.NewClient(httpkit.WithTimeout(60 * time.Second)),
	}
}

const promptSystem = "You write concise prompts for an image generator.\n" +
	"- Output 1-3 short lines, no more.\n" +
	"- Describe concrete subjects, setting, mood, lighting, camera.\n" +
	"- NO text overlays, logos, watermarks, or brand names.\n" +
	"- Keep it visually grounded; avoid abstract token-talk.\n"

const personaCue = "tone: minimalist, clean composition; cinematic lighting; subtle metallic accents; dark background optional."

// BuildVisualPrompt converts a caption into a concrete visual prompt.
// When the LLM is unavailable it falls back to a heuristic built from
// the caption text, so this never fails.
func (p *Pipeline) BuildVisualPrompt(ctx context.Context, caption string) string {
	safeCap := strings.Join(strings.Fields(caption), " ")

	var user string
	if p.cfg.Mode == ModeHybrid || p.cfg.Mode == ModePersona {
		user = fmt.Sprintf("Caption:\n%s\n\nStyle cues (optional, light): %s\n"+
			"Task: Convert the caption into a concrete visual scene, optionally seasoning with the style cues.\n"+
			"Return ONLY the visual prompt.", safeCap, personaCue)
	} else {
		user = fmt.Sprintf("Caption:\n%s\n\n"+
			"Task: Convert the caption into a concrete visual scene.\n"+
			"Return ONLY the visual prompt (no extra commentary).", safeCap)
	}

	var prompt string
	err := p.invoker.Do(ctx, "chat.buildImagePrompt", func(ctx context.Context) error {
		out, err := p.llm.ChatComplete(ctx, llm.ChatRequest{
			Messages: []llm.Message{
				{Role: "system", Content: promptSystem},
				{Role: "user", Content: user},
			},
			Temperature: 0.6,
			MaxTokens:   p.cfg.PromptMaxTokens,
		})
		if err != nil {
			return err
		}
		prompt = strings.TrimSpace(out)
		return nil
	})
	if err == nil {
		if p.cfg.Mode == ModePersona && p.cfg.PersonaWeight > 0 {
			look := "look: clean composition; cinematic lighting; no text"
			if p.cfg.PersonaWeight >= 0.66 {
				look = "look: high-contrast, cinematic; subtle metallic accents; dark minimalist set; no text"
			}
			prompt = prompt + "\n" + look
		}
		if len(prompt) >= 20 {
			return prompt + "\nStyle: " + p.cfg.Style
		}
	}
	p.logger.Warn("image prompt build failed, using heuristic", "error", err)
	return p.heuristicPrompt(safeCap)
}

var (
	urlRe     = regexp.MustCompile(`https?://\S+`)
	symbolsRe = regexp.MustCompile("[#\"*@`_~]")
)

func (p *Pipeline) heuristicPrompt(caption string) string {
	base := strings.TrimSpace(symbolsRe.ReplaceAllString(urlRe.ReplaceAllString(caption, ""), ""))
	parts := []string{
		fmt.Sprintf("Visual inspired by: %s.", base),
		"Describe concrete subjects and environment; cinematic lighting; clean composition; no text, no logos.",
	}
	if p.cfg.Mode != ModeText && p.cfg.PersonaWeight > 0 {
		parts = append(parts, "Subtle style: minimalist, high-contrast.")
	}
	return strings.Join(parts, " ") + "\nStyle: " + p.cfg.Style
}

// BuildAltText writes objective ALT text for the image, falling back
// to a stock description when the LLM call fails or returns noise.
func (p *Pipeline) BuildAltText(ctx context.Context, caption, conceptHint string) string {
	sys := "Write concise, objective ALT text for an image (<= 250 chars). No hashtags or emojis."
	user := fmt.Sprintf("Caption: %q\nConcept hint: %q\nDescribe the likely image contents concisely.", caption, conceptHint)

	var out string
	err := p.invoker.Do(ctx, "chat.altText", func(ctx context.Context) error {
		text, err := p.llm.ChatComplete(ctx, llm.ChatRequest{
			Messages: []llm.Message{
				{Role: "system", Content: sys},
				{Role: "user", Content: user},
			},
			Temperature: 0.3,
			MaxTokens:   120,
		})
		if err != nil {
			return err
		}
		out = strings.TrimSpace(text)
		return nil
	})
	if err != nil {
		p.logger.Warn("alt text build failed, using default", "error", err)
		return defaultAltText
	}
	if len(out) <= 10 {
		return defaultAltText
	}
	if len(out) > maxAltTextLen {
		out = out[:maxAltTextLen]
	}
	return out
}

// FinalPrompt applies the operator override or wraps the derived
// prompt with the configured prefix and suffix.
func (p *Pipeline) FinalPrompt(derived string) string {
	if o := strings.TrimSpace(p.cfg.PromptOverride); o != "" {
		return o
	}
	parts := make([]string, 0, 3)
	for _, s := range []string{p.cfg.PromptPrefix, derived, p.cfg.PromptSuffix} {
		if t := strings.TrimSpace(s); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// Styled appends the configured style line to an operator-supplied
// prompt, matching what BuildVisualPrompt does for derived prompts.
func (p *Pipeline) Styled(prompt string) string {
	if p.cfg.Style == "" {
		return prompt
	}
	return prompt + "\nStyle: " + p.cfg.Style
}

// WithVariation appends a variation hint so consecutive images from
// similar prompts don't come out near-identical.
func WithVariation(prompt string) string {
	return prompt + "\nVariation: different angle, altered lighting, distinct color palette."
}

// Generate produces image bytes for a derived prompt. When a reference
// image is configured it routes through the edit endpoint (with an
// optional mask); otherwise it generates from scratch. A missing or
// unreadable reference falls back to plain generation; a missing mask
// just proceeds without one.
func (p *Pipeline) Generate(ctx context.Context, derivedPrompt string) ([]byte, error) {
	finalPrompt := p.FinalPrompt(derivedPrompt)

	ref, err := p.resolveImage(ctx, p.cfg.RefURL, p.cfg.RefPath)
	if err != nil {
		p.logger.Warn("reference image unavailable, falling back to generate", "error", err)
		ref = nil
	}

	if ref != nil {
		mask, err := p.resolveImage(ctx, p.cfg.MaskURL, p.cfg.MaskPath)
		if err != nil {
			p.logger.Warn("mask image unavailable, continuing without mask", "error", err)
			mask = nil
		}
		var img []byte
		err = p.invoker.Do(ctx, "images.edit", func(ctx context.Context) error {
			var inner error
			img, inner = p.llm.EditImage(ctx, llm.ImageEditRequest{
				Prompt: finalPrompt,
				Size:   p.cfg.Size,
				Image:  ref,
				Mask:   mask,
			})
			return inner
		})
		if err != nil {
			return nil, fmt.Errorf("edit image: %w", err)
		}
		return img, nil
	}

	var img []byte
	err = p.invoker.Do(ctx, "images.generate", func(ctx context.Context) error {
		var inner error
		img, inner = p.llm.GenerateImage(ctx, llm.ImageRequest{Prompt: finalPrompt, Size: p.cfg.Size})
		return inner
	})
	if err != nil {
		return nil, fmt.Errorf("generate image: %w", err)
	}
	return img, nil
}

// resolveImage loads ref/mask bytes from a URL or a local path. Both
// empty means no image is configured, which is not an error.
func (p *Pipeline) resolveImage(ctx context.Context, url, path string) ([]byte, error) {
	switch {
	case url != "":
		return p.download(ctx, url)
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return b, nil
	default:
		return nil, nil
	}
}

func (p *Pipeline) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxRefBytes))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	return b, nil
}
