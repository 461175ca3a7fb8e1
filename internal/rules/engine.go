// Package rules provides the YAML-based keyword table used to suggest a
// category for a statement description.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/transform"
)

//go:embed rules.yaml
var embeddedRules []byte

// CategoryRule is one row of the keyword table.
type CategoryRule struct {
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// RuleSet represents the top-level YAML structure
type RuleSet struct {
	Categories []CategoryRule `yaml:"categories"`
}

// Engine classifies descriptions by ordered keyword matching.
// It is immutable after construction and safe for concurrent use.
type Engine struct {
	rules []CategoryRule // table order, keywords folded
}

// NewEngine creates an engine from YAML data.
//
// Validation:
//   - at least one category
//   - category names non-empty and unique
//   - the fallback category is never defined in the table
//   - every category has at least one non-blank keyword
func NewEngine(rulesData []byte) (*Engine, error) {
	var ruleSet RuleSet
	if err := yaml.Unmarshal(rulesData, &ruleSet); err != nil {
		return nil, fmt.Errorf("failed to parse YAML rules (check syntax, indentation, and field names): %w", err)
	}
	if len(ruleSet.Categories) == 0 {
		return nil, fmt.Errorf("rules define no categories")
	}

	seen := make(map[string]bool, len(ruleSet.Categories))
	rules := make([]CategoryRule, 0, len(ruleSet.Categories))
	for i, rule := range ruleSet.Categories {
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			return nil, fmt.Errorf("category %d: name cannot be empty", i)
		}
		if domain.Category(name) == domain.CategoryOther {
			return nil, fmt.Errorf("category %d (%s): fallback category cannot be redefined", i, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("category %d (%s): duplicate category name", i, name)
		}
		seen[name] = true

		if len(rule.Keywords) == 0 {
			return nil, fmt.Errorf("category %d (%s): at least one keyword is required", i, name)
		}
		keywords := make([]string, 0, len(rule.Keywords))
		for j, kw := range rule.Keywords {
			folded := transform.Fold(strings.TrimSpace(kw))
			if folded == "" {
				return nil, fmt.Errorf("category %d (%s): keyword %d cannot be empty", i, name, j)
			}
			keywords = append(keywords, folded)
		}

		rules = append(rules, CategoryRule{Name: name, Keywords: keywords})
	}

	return &Engine{rules: rules}, nil
}

// LoadEmbedded loads the embedded rules.yaml file
func LoadEmbedded() (*Engine, error) {
	engine, err := NewEngine(embeddedRules)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded rules (possible binary corruption): %w", err)
	}
	return engine, nil
}

// LoadFromFile loads rules from a filesystem path
func LoadFromFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	engine, err := NewEngine(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules from %q: %w", path, err)
	}
	return engine, nil
}

// Load returns the custom table at path, or the embedded table when path is empty.
func Load(path string) (*Engine, error) {
	if path == "" {
		return LoadEmbedded()
	}
	return LoadFromFile(path)
}

// Classify returns the first category, in table order, with a keyword
// contained in the folded description. Returns domain.CategoryOther when
// nothing matches. Never returns an empty category.
func (e *Engine) Classify(description string) domain.Category {
	folded := transform.Fold(description)
	if folded == "" {
		return domain.CategoryOther
	}
	for _, rule := range e.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(folded, kw) {
				return domain.Category(rule.Name)
			}
		}
	}
	return domain.CategoryOther
}

// Categories returns the category names in table order followed by the fallback.
func (e *Engine) Categories() []domain.Category {
	out := make([]domain.Category, 0, len(e.rules)+1)
	for _, rule := range e.rules {
		out = append(out, domain.Category(rule.Name))
	}
	return append(out, domain.CategoryOther)
}

// IsKnown reports whether category is in the table or is the fallback.
func (e *Engine) IsKnown(category domain.Category) bool {
	if category == domain.CategoryOther {
		return true
	}
	for _, rule := range e.rules {
		if domain.Category(rule.Name) == category {
			return true
		}
	}
	return false
}

// GetRules returns a copy of the table for inspection.
func (e *Engine) GetRules() []CategoryRule {
	result := make([]CategoryRule, len(e.rules))
	for i, rule := range e.rules {
		result[i] = CategoryRule{Name: rule.Name, Keywords: append([]string(nil), rule.Keywords...)}
	}
	return result
}
