// Package persona defines the bot's voice: its name, bio, style rules,
// and example posts, loaded from a YAML file. Prompt construction for
// posts and replies lives here so scheduler code never assembles raw
// prompt strings.
package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona describes the character the bot writes as.
type Persona struct {
	Name string   `yaml:"name"`
	Bio  []string `yaml:"bio"`

	Style struct {
		All  []string `yaml:"all"`
		Post []string `yaml:"post"`
		Chat []string `yaml:"chat"`
	} `yaml:"style"`

	PostExamples []string `yaml:"post_examples"`
}

// Default returns a minimal built-in persona used when no persona file
// is configured.
func Default() *Persona {
	p := &Persona{
		Name: "xbot",
		Bio:  []string{"An observer of markets and builders."},
	}
	p.Style.All = []string{
		"concise, concrete, confident",
		"no hype, no filler",
	}
	p.Style.Post = []string{
		"one idea per post",
	}
	p.Style.Chat = []string{
		"short, human, value-adding",
	}
	return p
}

// Load reads a persona from a YAML file.
func Load(path string) (*Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	var p Persona
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse persona file: %w", err)
	}
	if p.Name == "" {
		p.Name = Default().Name
	}
	return &p, nil
}

// Prompt is a system/user prompt pair with optional few-shot examples.
type Prompt struct {
	System  string
	User    string
	Fewshot string
}

// BuildPostPrompt assembles the prompt for generating one scheduled post.
func (p *Persona) BuildPostPrompt(maxLen int) Prompt {
	style := append(append([]string{}, p.Style.All...), p.Style.Post...)

	var sys strings.Builder
	fmt.Fprintf(&sys, "%s, voice:\n", p.Name)
	for _, s := range style {
		fmt.Fprintf(&sys, "- %s\n", s)
	}
	sys.WriteString("\nConstraints:\n")
	sys.WriteString("- No hashtags or emojis unless explicitly on-brand.\n")
	sys.WriteString("- 1-3 lines total; each line must stand alone.\n")
	fmt.Fprintf(&sys, "- Must fit within %d characters.\n", maxLen)

	user := strings.Join([]string{
		"Bio/context: " + strings.Join(p.Bio, " "),
		"",
		"Write ONE post in this voice. Avoid links.",
		"Return ONLY the post text, no explanations.",
	}, "\n")

	var fewshot string
	if n := len(p.PostExamples); n > 0 {
		examples := p.PostExamples
		if n > 5 {
			examples = examples[:5]
		}
		parts := make([]string, 0, len(examples))
		for _, ex := range examples {
			parts = append(parts, "EXAMPLE:\n"+ex)
		}
		fewshot = strings.Join(parts, "\n\n")
	}

	return Prompt{System: sys.String(), User: user, Fewshot: fewshot}
}

// BuildReplyPrompt assembles the prompt for replying to someone else's
// post.
func (p *Persona) BuildReplyPrompt(sourceText, authorHandle string, maxLen int) Prompt {
	style := append(append([]string{}, p.Style.Chat...), p.Style.All...)

	var sys strings.Builder
	fmt.Fprintf(&sys, "%s, reply mode:\n", p.Name)
	for _, s := range style {
		fmt.Fprintf(&sys, "- %s\n", s)
	}
	sys.WriteString("\nConstraints:\n")
	sys.WriteString("- Short, human, value-adding. No hashtags or emojis.\n")
	sys.WriteString("- Add one lever, heuristic, or next action.\n")
	fmt.Fprintf(&sys, "- 1-3 lines; %d chars max.\n", maxLen)

	target := "a post"
	if authorHandle != "" {
		target = "@" + authorHandle
	}
	user := strings.Join([]string{
		fmt.Sprintf("You're replying to %s:", target),
		sourceText,
		"",
		"Write ONE reply in this voice. Return ONLY the reply text.",
	}, "\n")

	return Prompt{System: sys.String(), User: user}
}

// TrimPost trims s to limit characters, strips a wrapping quote pair,
// and prefers cutting at the last sentence or line boundary when one
// exists past the midpoint, so truncation doesn't end mid-thought.
func TrimPost(s string, limit int) string {
	t := strings.TrimSpace(s)
	t = strings.TrimPrefix(t, `"`)
	t = strings.TrimSuffix(t, `"`)
	t = strings.TrimSpace(t)

	runes := []rune(t)
	if len(runes) <= limit {
		return t
	}

	cut := string(runes[:limit-1])
	last := strings.LastIndex(cut, "\n")
	if i := strings.LastIndex(cut, ". "); i > last {
		last = i
	}
	if i := strings.LastIndex(cut, "."); i > last {
		last = i
	}
	if last > 50 {
		return strings.TrimSpace(cut[:last+1])
	}
	return strings.TrimSpace(cut)
}
