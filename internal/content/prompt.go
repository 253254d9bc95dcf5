package content

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/kalambet/chirpd/internal/search"
	"github.com/kalambet/chirpd/internal/social"
)

// Context is everything a prompt template can reference.
type Context struct {
	AgentID     string
	Username    string
	Character   Character
	Topic       string
	RecentPosts []string
	Timeline    []social.Item
	Search      []search.Result

	// Set for replies and quotes.
	Target            *social.Item
	Thread            []social.Item
	MediaDescriptions []string
	QuotedText        string
}

const DefaultPostTemplate = `About {{.Character.Name}} (@{{.Username}}):
{{join .Character.Bio " "}}
{{- if .Character.Lore}}
{{join .Character.Lore " "}}{{end}}
{{- if .Character.Adjectives}}

Tone: {{join .Character.Adjectives ", "}}{{end}}
{{- if .Character.PostExamples}}

Example posts:
{{range .Character.PostExamples}}- {{.}}
{{end}}{{end}}
{{- if .RecentPosts}}
Your recent posts (do not repeat them):
{{range .RecentPosts}}- {{.}}
{{end}}{{end}}
{{- if .Timeline}}
From your timeline:
{{range .Timeline}}- @{{.Username}}: {{.Text}}
{{end}}{{end}}
{{- if .Search}}
In the news:
{{range .Search}}- {{.Title}}: {{.Content}} ({{.URL}})
{{end}}{{end}}
{{- if .Character.Style.All}}
Style: {{join .Character.Style.All " "}}{{end}}
{{- if .Character.Style.Post}} {{join .Character.Style.Post " "}}{{end}}

Write one new post{{if .Topic}} about {{.Topic}}{{end}} in the voice of {{.Character.Name}}.
Respond with JSON: {"text": "<post>"}. No hashtags, no emojis unless the examples use them.`

const DefaultReplyTemplate = `About {{.Character.Name}} (@{{.Username}}):
{{join .Character.Bio " "}}
{{- if .Thread}}

Conversation so far:
{{range .Thread}}- @{{.Username}}: {{.Text}}
{{end}}{{end}}
{{- with .Target}}
Post to reply to, by @{{.Username}}:
{{.Text}}{{end}}
{{- if .QuotedText}}
It quotes: {{.QuotedText}}{{end}}
{{- if .MediaDescriptions}}
Attached media:
{{range .MediaDescriptions}}- {{.}}
{{end}}{{end}}
{{- if .Character.Style.All}}
Style: {{join .Character.Style.All " "}}{{end}}

Write a short, direct reply in the voice of {{.Character.Name}}.
Respond with JSON: {"text": "<reply>"}.`

const DefaultQuoteTemplate = `About {{.Character.Name}} (@{{.Username}}):
{{join .Character.Bio " "}}
{{- with .Target}}

Post being quoted, by @{{.Username}}:
{{.Text}}{{end}}
{{- if .QuotedText}}
It quotes: {{.QuotedText}}{{end}}
{{- if .MediaDescriptions}}
Attached media:
{{range .MediaDescriptions}}- {{.}}
{{end}}{{end}}
{{- if .Character.Style.All}}
Style: {{join .Character.Style.All " "}}{{end}}

Write a quote post adding your own take, in the voice of {{.Character.Name}}.
Respond with JSON: {"text": "<post>"}.`

var funcs = template.FuncMap{"join": strings.Join}

// Render executes tmpl against c.
func Render(tmpl string, c Context) (string, error) {
	t, err := template.New("prompt").Funcs(funcs).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, c); err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return sb.String(), nil
}

func systemPrompt(c Character) string {
	if c.Name == "" {
		return "You write social media posts. Output only the post."
	}
	return fmt.Sprintf("You are %s. You write social media posts as %s. Output only the post.", c.Name, c.Name)
}
