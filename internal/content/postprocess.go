package content

import (
	"encoding/json"
	"strings"
)

// Ellipsis is appended when text is cut at a word boundary or hard-cut.
const Ellipsis = "..."

const fence = "```"

// Clean removes a surrounding markdown code fence, with or without a
// language tag, and trims whitespace. An unclosed opening fence is removed too.
func Clean(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, fence) {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimPrefix(s, fence)
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), fence)
	return strings.TrimSpace(s)
}

// Parsed is the result of Parse: Structured, Plain or Empty.
type Parsed interface {
	parsed()
}

// Structured is a JSON object payload. Raw is the cleaned input it came from.
type Structured struct {
	Fields map[string]any
	Raw    string
}

// Plain is free text.
type Plain struct {
	Text string
}

// Empty means nothing usable was produced.
type Empty struct{}

func (Structured) parsed() {}
func (Plain) parsed()      {}
func (Empty) parsed()      {}

// Parse classifies cleaned model output.
func Parse(cleaned string) Parsed {
	s := strings.TrimSpace(cleaned)
	if s == "" {
		return Empty{}
	}
	if strings.HasPrefix(s, "{") {
		var fields map[string]any
		if err := json.Unmarshal([]byte(s), &fields); err == nil {
			return Structured{Fields: fields, Raw: s}
		}
	}
	return Plain{Text: s}
}

// textFields are checked in order; the first non-empty string wins.
var textFields = []string{"text", "post", "content", "tweet", "message", "response"}

// Extract returns the post text carried by p, with literal \n sequences
// turned into newlines. It returns "" for Empty.
func Extract(p Parsed) string {
	var s string
	switch v := p.(type) {
	case Structured:
		s = v.Raw
		for _, k := range textFields {
			if str, ok := v.Fields[k].(string); ok && strings.TrimSpace(str) != "" {
				s = str
				break
			}
		}
	case Plain:
		s = v.Text
	default:
		return ""
	}
	s = strings.ReplaceAll(s, `\r\n`, "\n")
	s = strings.ReplaceAll(s, `\n`, "\n")
	return strings.TrimSpace(s)
}

// Truncate shortens text to at most limit runes. It prefers ending on the
// last sentence terminator within the limit, then the last space followed by
// Ellipsis, then a hard cut at limit-3 followed by Ellipsis.
func Truncate(text string, limit int) string {
	r := []rune(text)
	if limit <= 0 || len(r) <= limit {
		return text
	}

	window := r[:limit]
	for i := len(window) - 1; i > 0; i-- {
		switch window[i] {
		case '.', '!', '?':
			return string(r[:i+1])
		}
	}

	keep := limit - len(Ellipsis)
	if keep <= 0 {
		return string(r[:limit])
	}
	for i := keep; i > 0; i-- {
		if r[i] == ' ' {
			return strings.TrimRight(string(r[:i]), " ") + Ellipsis
		}
	}
	return string(r[:keep]) + Ellipsis
}
