package content

// Character describes the agent's persona. It is loaded from YAML.
type Character struct {
	Name         string    `yaml:"name" json:"name"`
	Bio          []string  `yaml:"bio" json:"bio"`
	Lore         []string  `yaml:"lore" json:"lore"`
	Topics       []string  `yaml:"topics" json:"topics"`
	Adjectives   []string  `yaml:"adjectives" json:"adjectives"`
	Style        Style     `yaml:"style" json:"style"`
	PostExamples []string  `yaml:"post_examples" json:"post_examples"`
	Templates    Templates `yaml:"templates" json:"templates"`
}

// Style holds writing directions.
type Style struct {
	All  []string `yaml:"all" json:"all"`
	Post []string `yaml:"post" json:"post"`
}

// Templates overrides the built-in prompt templates. Empty fields keep the
// defaults.
type Templates struct {
	Post     string `yaml:"post" json:"post,omitempty"`
	Reply    string `yaml:"reply" json:"reply,omitempty"`
	Quote    string `yaml:"quote" json:"quote,omitempty"`
	Decision string `yaml:"decision" json:"decision,omitempty"`
}
