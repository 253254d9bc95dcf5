package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/chirpd/internal/content"
)

// LoadCharacter reads a character definition from a YAML file.
func LoadCharacter(path string) (content.Character, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return content.Character{}, fmt.Errorf("reading character file: %w", err)
	}
	var c content.Character
	if err := yaml.Unmarshal(data, &c); err != nil {
		return content.Character{}, fmt.Errorf("parsing character file %s: %w", path, err)
	}
	if c.Name == "" {
		return content.Character{}, fmt.Errorf("character file %s: name is required", path)
	}
	return c, nil
}
