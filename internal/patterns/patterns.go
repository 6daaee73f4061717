// Package patterns classifies element values into coarse shapes (url,
// date, number, ...) so profiles can tell what kind of content a path holds.
package patterns

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ShapeText is reported for values that match no pattern.
const ShapeText = "text"

// Pattern represents a single value shape
type Pattern struct {
	Name        string `yaml:"name"`
	Regex       string `yaml:"regex"`
	Description string `yaml:"description"`
}

// PatternsConfig represents the patterns configuration file
type PatternsConfig struct {
	Patterns []Pattern `yaml:"patterns"`
}

// CompiledPattern is a pattern with compiled regex
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Description string
}

// LoadPatterns loads patterns from a YAML file. Regexes are anchored so a
// pattern has to match the whole value.
func LoadPatterns(filepath string) ([]CompiledPattern, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("reading patterns file: %w", err)
	}

	var config PatternsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing patterns YAML: %w", err)
	}

	compiled := make([]CompiledPattern, 0, len(config.Patterns))
	for _, p := range config.Patterns {
		regex, err := regexp.Compile(`^(?:` + p.Regex + `)$`)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %s: %w", p.Name, err)
		}

		compiled = append(compiled, CompiledPattern{
			Name:        p.Name,
			Regex:       regex,
			Description: p.Description,
		})
	}

	return compiled, nil
}

// DefaultPatterns returns the default compiled patterns (fallback if config file not found)
func DefaultPatterns() []CompiledPattern {
	return []CompiledPattern{
		{
			Name:        "url",
			Regex:       regexp.MustCompile(`^(?:https?|ftp)://[^\s]+$`),
			Description: "HTTP, HTTPS and FTP links",
		},
		{
			Name:        "uri",
			Regex:       regexp.MustCompile(`^(?:urn|info|doi|oai):[^\s]+$`),
			Description: "Non-web identifiers such as URNs and OAI identifiers",
		},
		{
			Name:        "email",
			Regex:       regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`),
			Description: "Email addresses",
		},
		{
			Name:        "uuid",
			Regex:       regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`),
			Description: "Standard UUID format",
		},
		{
			Name:        "datetime",
			Regex:       regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?$`),
			Description: "ISO 8601 timestamps",
		},
		{
			Name:        "date",
			Regex:       regexp.MustCompile(`^\d{4}-\d{2}(?:-\d{2})?$|^\d{1,2}[./-]\d{1,2}[./-]\d{4}$`),
			Description: "Calendar dates",
		},
		{
			Name:        "year",
			Regex:       regexp.MustCompile(`^\d{4}$`),
			Description: "Four digit years",
		},
		{
			Name:        "year_range",
			Regex:       regexp.MustCompile(`^\d{4}\s*[-/]\s*\d{4}$`),
			Description: "Ranges of years",
		},
		{
			Name:        "integer",
			Regex:       regexp.MustCompile(`^[+-]?\d+$`),
			Description: "Whole numbers",
		},
		{
			Name:        "decimal",
			Regex:       regexp.MustCompile(`^[+-]?\d+[.,]\d+$`),
			Description: "Decimal numbers",
		},
		{
			Name:        "language",
			Regex:       regexp.MustCompile(`^[a-z]{2,3}(?:-[A-Za-z]{2,4})?$`),
			Description: "ISO 639 language codes",
		},
	}
}

// Classify returns the name of the first pattern matching value, or
// ShapeText.
func Classify(patterns []CompiledPattern, value string) string {
	for _, p := range patterns {
		if p.Regex.MatchString(value) {
			return p.Name
		}
	}
	return ShapeText
}
