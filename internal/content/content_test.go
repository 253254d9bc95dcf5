package content

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/chirpd/internal/llm"
	"github.com/kalambet/chirpd/internal/search"
	"github.com/kalambet/chirpd/internal/social"
)

func TestPostprocess_FencedJSON(t *testing.T) {
	raw := "```json\n{\"text\":\"Hello\\nWorld\"}\n```"
	got := Extract(Parse(Clean(raw)))
	if got != "Hello\nWorld" {
		t.Errorf("got %q, want %q", got, "Hello\nWorld")
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  plain  ", "plain"},
		{"```\nbody\n```", "body"},
		{"```markdown\nbody\n```", "body"},
		{"```json\n{\"a\":1}", `{"a":1}`},
		{"```hi```", "hi"},
	}
	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	if _, ok := Parse("").(Empty); !ok {
		t.Error("Parse(\"\") is not Empty")
	}
	if _, ok := Parse("   ").(Empty); !ok {
		t.Error("Parse(blank) is not Empty")
	}
	if p, ok := Parse("just words").(Plain); !ok || p.Text != "just words" {
		t.Errorf("Parse(words) = %#v", Parse("just words"))
	}
	if s, ok := Parse(`{"post":"x"}`).(Structured); !ok || s.Fields["post"] != "x" {
		t.Errorf("Parse(json) = %#v", Parse(`{"post":"x"}`))
	}
	if _, ok := Parse(`{not json`).(Plain); !ok {
		t.Error("broken JSON should parse as Plain")
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		in   Parsed
		want string
	}{
		{"canonical", Parse(`{"text":"a","post":"b"}`), "a"},
		{"alias post", Parse(`{"post":"b"}`), "b"},
		{"alias tweet", Parse(`{"tweet":"t"}`), "t"},
		{"alias response", Parse(`{"response":"r"}`), "r"},
		{"empty canonical falls to alias", Parse(`{"text":"","content":"c"}`), "c"},
		{"no known field keeps raw", Parse(`{"other":"o"}`), `{"other":"o"}`},
		{"non-string field ignored", Parse(`{"text":5,"message":"m"}`), "m"},
		{"plain with escapes", Plain{Text: `one\ntwo`}, "one\ntwo"},
		{"empty", Empty{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Extract(tt.in); got != tt.want {
				t.Errorf("Extract = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncate_SentenceBoundary(t *testing.T) {
	text := strings.Repeat("a", 50) + "." + strings.Repeat("b", 249)
	if len(text) != 300 {
		t.Fatalf("setup: len = %d", len(text))
	}
	got := Truncate(text, 100)
	if len(got) != 51 || !strings.HasSuffix(got, ".") {
		t.Errorf("len = %d, got %q; want 51 chars ending in period", len(got), got)
	}
}

func TestTruncate_WordBoundary(t *testing.T) {
	text := strings.Repeat("a", 90) + " " + strings.Repeat("b", 209)
	got := Truncate(text, 100)
	want := strings.Repeat("a", 90) + Ellipsis
	if got != want {
		t.Errorf("got %q (len %d), want first 90 chars + ellipsis", got, len(got))
	}
}

func TestTruncate_HardCut(t *testing.T) {
	text := strings.Repeat("x", 300)
	got := Truncate(text, 100)
	if len(got) != 100 {
		t.Errorf("len = %d, want 100", len(got))
	}
	if got != strings.Repeat("x", 97)+Ellipsis {
		t.Errorf("got %q", got)
	}
}

func TestTruncate_ShortTextUnchanged(t *testing.T) {
	if got := Truncate("short.", 280); got != "short." {
		t.Errorf("got %q", got)
	}
	if got := Truncate("héllo wörld", 11); got != "héllo wörld" {
		t.Errorf("multibyte text within limit changed: %q", got)
	}
}

type stubLLM struct {
	out  string
	err  error
	reqs []llm.Request
}

func (s *stubLLM) Generate(_ context.Context, req llm.Request) (string, error) {
	s.reqs = append(s.reqs, req)
	return s.out, s.err
}

type stubSearch struct {
	query   string
	results []search.Result
}

func (s *stubSearch) Search(_ context.Context, query string, _ search.Options) ([]search.Result, error) {
	s.query = query
	return s.results, nil
}

func TestGenerate_EndToEnd(t *testing.T) {
	svc := &stubLLM{out: "```json\n{\"text\":\"Hello\\nWorld\"}\n```"}
	g := NewGenerator(svc)

	got, err := g.Generate(context.Background(), Context{Character: Character{Name: "Ada"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "Hello\nWorld" {
		t.Errorf("got %q", got)
	}
	if len(svc.reqs) != 1 || svc.reqs[0].Class != llm.ClassLarge {
		t.Errorf("requests = %+v", svc.reqs)
	}
}

func TestGenerate_EmptyIsNoContent(t *testing.T) {
	for _, out := range []string{"", "```\n```", "  \n ", "```json\n```"} {
		g := NewGenerator(&stubLLM{out: out})
		if _, err := g.Generate(context.Background(), Context{}); !errors.Is(err, ErrNoContent) {
			t.Errorf("out %q: err = %v, want ErrNoContent", out, err)
		}
	}
}

func TestGenerate_LLMErrorWrapped(t *testing.T) {
	sentinel := errors.New("model offline")
	g := NewGenerator(&stubLLM{err: sentinel})
	if _, err := g.Generate(context.Background(), Context{}); !errors.Is(err, sentinel) {
		t.Errorf("err = %v", err)
	}
}

func TestGenerate_TruncatesToMaxLength(t *testing.T) {
	g := NewGenerator(&stubLLM{out: strings.Repeat("word ", 100)}, WithMaxLength(40))
	got, err := g.Generate(context.Background(), Context{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) > 40 || !strings.HasSuffix(got, Ellipsis) {
		t.Errorf("got %q (len %d)", got, len(got))
	}
}

func TestGenerateWithTemplate_Override(t *testing.T) {
	svc := &stubLLM{out: "ok"}
	g := NewGenerator(svc)
	_, err := g.GenerateWithTemplate(context.Background(), Context{Topic: "rust"}, "topic={{.Topic}}")
	if err != nil {
		t.Fatal(err)
	}
	if got := svc.reqs[0].Messages[1].Content; got != "topic=rust" {
		t.Errorf("prompt = %q", got)
	}
}

func TestGenerate_SearchEnrichment(t *testing.T) {
	svc := &stubLLM{out: "ok"}
	s := &stubSearch{results: []search.Result{{Title: "Launch", Content: "rocket went up", URL: "https://n.example"}}}
	g := NewGenerator(svc, WithSearch(s, 2))

	_, err := g.Generate(context.Background(), Context{Topic: "space", Character: Character{Name: "Ada"}})
	if err != nil {
		t.Fatal(err)
	}
	if s.query != "space" {
		t.Errorf("search query = %q", s.query)
	}
	if prompt := svc.reqs[0].Messages[1].Content; !strings.Contains(prompt, "Launch: rocket went up") {
		t.Errorf("prompt missing search result:\n%s", prompt)
	}
}

func TestRender_DefaultTemplates(t *testing.T) {
	c := Context{
		Username: "ada",
		Character: Character{
			Name:         "Ada",
			Bio:          []string{"Builds engines."},
			PostExamples: []string{"ex one"},
			Style:        Style{All: []string{"Be brief."}},
		},
		RecentPosts: []string{"old post"},
		Target:      &social.Item{Username: "bob", Text: "what do you think?"},
		Thread:      []social.Item{{Username: "carol", Text: "root"}},
		QuotedText:  "quoted bit",
	}

	post, err := Render(DefaultPostTemplate, c)
	if err != nil {
		t.Fatalf("post template: %v", err)
	}
	for _, want := range []string{"Builds engines.", "ex one", "old post", "Be brief."} {
		if !strings.Contains(post, want) {
			t.Errorf("post prompt missing %q", want)
		}
	}

	reply, err := Render(DefaultReplyTemplate, c)
	if err != nil {
		t.Fatalf("reply template: %v", err)
	}
	for _, want := range []string{"@carol: root", "by @bob", "what do you think?", "quoted bit"} {
		if !strings.Contains(reply, want) {
			t.Errorf("reply prompt missing %q:\n%s", want, reply)
		}
	}

	if _, err := Render(DefaultQuoteTemplate, c); err != nil {
		t.Fatalf("quote template: %v", err)
	}
	if _, err := Render("{{.Nope}}", c); err == nil {
		t.Error("expected error for unknown field")
	}
}
