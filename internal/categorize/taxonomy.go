package categorize

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultCategory is returned when nothing else matches
const DefaultCategory = "Other"

//go:embed categories.yaml
var defaultTaxonomyYAML []byte

// Category is one entry of the spending taxonomy
type Category struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Taxonomy maps categories to the keywords used for rule-based matching.
// It is read-only after construction.
type Taxonomy struct {
	Fallback   string     `yaml:"fallback"`
	Categories []Category `yaml:"categories"`
}

// DefaultTaxonomy returns the built-in taxonomy
func DefaultTaxonomy() *Taxonomy {
	t, err := ParseTaxonomy(defaultTaxonomyYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in taxonomy is invalid: %v", err))
	}
	return t
}

// LoadTaxonomy reads a taxonomy from a YAML file
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading taxonomy: %w", err)
	}
	return ParseTaxonomy(data)
}

// ParseTaxonomy decodes and validates a YAML taxonomy
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshaling taxonomy: %w", err)
	}

	t.Fallback = strings.TrimSpace(t.Fallback)
	if t.Fallback == "" {
		t.Fallback = DefaultCategory
	}

	seen := make(map[string]bool, len(t.Categories))
	for i := range t.Categories {
		c := &t.Categories[i]
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			return nil, fmt.Errorf("category %d has no name", i)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate category %q", c.Name)
		}
		seen[c.Name] = true
		for j, kw := range c.Keywords {
			c.Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
	}
	if !seen[t.Fallback] {
		t.Categories = append(t.Categories, Category{Name: t.Fallback})
	}

	return &t, nil
}

// Names returns the category names in taxonomy order
func (t *Taxonomy) Names() []string {
	names := make([]string, 0, len(t.Categories))
	for _, c := range t.Categories {
		names = append(names, c.Name)
	}
	return names
}

// Contains reports whether name is a known category
func (t *Taxonomy) Contains(name string) bool {
	for _, c := range t.Categories {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Match scores each category by how many of its keywords occur in text
// (case-insensitive) and returns the best one. Ties go to the category
// listed first. The fallback category is returned when nothing matched.
func (t *Taxonomy) Match(text string) string {
	text = strings.ToLower(text)

	best, bestScore := t.Fallback, 0
	for _, c := range t.Categories {
		score := 0
		for _, kw := range c.Keywords {
			if kw != "" && strings.Contains(text, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = c.Name, score
		}
	}
	return best
}
