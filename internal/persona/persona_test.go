package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persona.yaml")
	data := `name: Vex
bio:
  - Systems thinker.
  - Allergic to hype.
style:
  all:
    - terse
  post:
    - one idea per post
  chat:
    - friendly
post_examples:
  - "shipping beats planning"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "Vex" {
		t.Errorf("Name = %q, want Vex", p.Name)
	}
	if len(p.Bio) != 2 {
		t.Errorf("Bio len = %d, want 2", len(p.Bio))
	}
	if len(p.Style.Post) != 1 || p.Style.Post[0] != "one idea per post" {
		t.Errorf("Style.Post = %v", p.Style.Post)
	}
	if len(p.PostExamples) != 1 {
		t.Errorf("PostExamples = %v", p.PostExamples)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestBuildPostPrompt(t *testing.T) {
	p := Default()
	p.PostExamples = []string{"one", "two", "three", "four", "five", "six", "seven"}

	pr := p.BuildPostPrompt(280)
	if !strings.Contains(pr.System, "280 characters") {
		t.Errorf("system prompt missing length constraint: %q", pr.System)
	}
	if !strings.Contains(pr.User, "Write ONE post") {
		t.Errorf("user prompt missing instruction: %q", pr.User)
	}
	// Few-shot uses at most five examples.
	if got := strings.Count(pr.Fewshot, "EXAMPLE:"); got != 5 {
		t.Errorf("fewshot example count = %d, want 5", got)
	}
	if strings.Contains(pr.Fewshot, "six") {
		t.Error("fewshot should not include sixth example")
	}
}

func TestBuildPostPromptNoExamples(t *testing.T) {
	pr := Default().BuildPostPrompt(280)
	if pr.Fewshot != "" {
		t.Errorf("fewshot = %q, want empty", pr.Fewshot)
	}
}

func TestBuildReplyPrompt(t *testing.T) {
	pr := Default().BuildReplyPrompt("interesting take on caching", "alice", 220)
	if !strings.Contains(pr.User, "@alice") {
		t.Errorf("user prompt missing author handle: %q", pr.User)
	}
	if !strings.Contains(pr.User, "interesting take on caching") {
		t.Errorf("user prompt missing source text: %q", pr.User)
	}
	if !strings.Contains(pr.System, "220 chars max") {
		t.Errorf("system prompt missing length constraint: %q", pr.System)
	}
}

func TestTrimPost(t *testing.T) {
	longTail := strings.Repeat("y", 300)

	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"short unchanged", "keep it simple", 280, "keep it simple"},
		{"wrapping quotes stripped", `"quoted thought"`, 280, "quoted thought"},
		{
			"cuts at sentence boundary",
			strings.Repeat("x", 60) + ". " + longTail,
			100,
			strings.Repeat("x", 60) + ".",
		},
		{
			"hard cut when no boundary",
			strings.Repeat("a", 200),
			100,
			strings.Repeat("a", 99),
		},
		{
			"early period ignored",
			"Hi. " + strings.Repeat("b", 200),
			100,
			"Hi. " + strings.Repeat("b", 95),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TrimPost(tt.in, tt.limit)
			if got != tt.want {
				t.Errorf("TrimPost = %q, want %q", got, tt.want)
			}
			if utf8.RuneCountInString(got) > tt.limit {
				t.Errorf("result exceeds limit: %d > %d", utf8.RuneCountInString(got), tt.limit)
			}
		})
	}
}
