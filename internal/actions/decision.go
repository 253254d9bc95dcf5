package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/chirpd/internal/content"
	"github.com/kalambet/chirpd/internal/llm"
)

// Action kinds, as recorded in ActionOutcome.
const (
	KindLike    = "like"
	KindRetweet = "retweet"
	KindQuote   = "quote"
	KindReply   = "reply"
)

const decisionTimeout = 30 * time.Second

// Decision holds the independent action flags for one item.
type Decision struct {
	Like    bool `json:"like"`
	Retweet bool `json:"retweet"`
	Quote   bool `json:"quote"`
	Reply   bool `json:"reply"`
}

// Kinds lists the flagged actions in execution order.
func (d Decision) Kinds() []string {
	var kinds []string
	if d.Like {
		kinds = append(kinds, KindLike)
	}
	if d.Retweet {
		kinds = append(kinds, KindRetweet)
	}
	if d.Quote {
		kinds = append(kinds, KindQuote)
	}
	if d.Reply {
		kinds = append(kinds, KindReply)
	}
	return kinds
}

// DefaultDecisionTemplate asks the model to classify one timeline item.
const DefaultDecisionTemplate = `You are {{.Character.Name}} (@{{.Username}}).
{{join .Character.Bio " "}}
{{- if .Character.Topics}}
You care about: {{join .Character.Topics ", "}}.{{end}}
{{- with .Target}}

A post on your timeline, by @{{.Username}}:
{{.Text}}{{end}}
{{- if .QuotedText}}
It quotes: {{.QuotedText}}{{end}}

Decide how to engage with this post. Each action is independent; choose none,
some or all. Reply or quote only when you have something worth saying.
Respond with JSON: {"like": bool, "retweet": bool, "quote": bool, "reply": bool}.`

func decisionSchema() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"like":    {Type: "boolean", Description: "Like the post"},
			"retweet": {Type: "boolean", Description: "Repost it unchanged"},
			"quote":   {Type: "boolean", Description: "Repost it with a comment"},
			"reply":   {Type: "boolean", Description: "Reply to it"},
		},
		Required: []string{"like", "retweet", "quote", "reply"},
	}
}

// ParseDecision reads a decision from model output. It reports false when the
// output holds no JSON object.
func ParseDecision(raw string) (Decision, bool) {
	s, ok := content.Parse(content.Clean(raw)).(content.Structured)
	if !ok {
		return Decision{}, false
	}
	var d Decision
	if err := json.Unmarshal([]byte(s.Raw), &d); err != nil {
		return Decision{}, false
	}
	return d, true
}

// decide runs the classification call for c.Target. A false result means no
// valid decision was produced.
func (p *Processor) decide(ctx context.Context, c content.Context) (Decision, bool, error) {
	tmpl := c.Character.Templates.Decision
	if tmpl == "" {
		tmpl = DefaultDecisionTemplate
	}
	prompt, err := content.Render(tmpl, c)
	if err != nil {
		return Decision{}, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, decisionTimeout)
	defer cancel()

	raw, err := p.llm.Generate(ctx, llm.Request{
		Class:    llm.ClassSmall,
		Messages: []llm.Message{{Role: "user", Content: prompt}},
		Schema:   decisionSchema(),
	})
	if err != nil {
		return Decision{}, false, fmt.Errorf("classifying item: %w", err)
	}
	d, ok := ParseDecision(raw)
	if !ok {
		p.logger.Warn("unparsable decision", "item_id", c.Target.ID, "response", raw)
	}
	return d, ok, nil
}
