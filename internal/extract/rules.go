package extract

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vitalsink/vitalsink/internal/apperror"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Candidate selects stored rows for a rule source. Exactly one of Metric
// (exact name) or Prefix (name prefix) must be set. Field names the JSON key
// to read from the row value; when empty the row must hold a single-key
// object and its sole value is used.
type Candidate struct {
	Metric string `yaml:"metric,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
	Field  string `yaml:"field,omitempty"`
}

// Cumulative resolves count-style metrics that arrive both as a daily total
// and as interval rows. The larger of the two readings wins, since a daily
// total written early in the day undercounts.
type Cumulative struct {
	Count     []Candidate `yaml:"count"`
	Intervals Candidate   `yaml:"intervals"`
}

// Rule derives one canonical daily metric from stored rows.
type Rule struct {
	Name       string      `yaml:"name"`
	Chain      []Candidate `yaml:"chain,omitempty"`
	Readings   []Candidate `yaml:"readings,omitempty"`
	Legacy     []Candidate `yaml:"legacy,omitempty"`
	Cumulative *Cumulative `yaml:"cumulative,omitempty"`
	Divisor    float64     `yaml:"divisor,omitempty"`
}

// Rules is a validated rule set.
type Rules struct {
	rules      []Rule
	configured map[string]bool
}

// DefaultRules parses the built-in rule set.
func DefaultRules() (*Rules, error) {
	return parseRules(defaultRulesYAML)
}

// LoadRules reads a rule set from a YAML file. An empty path falls back to
// the built-in rules.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read extraction rules: %w", err)
	}
	return parseRules(data)
}

func parseRules(data []byte) (*Rules, error) {
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrInvalidRules)
	}
	if len(doc.Rules) == 0 {
		return nil, apperror.Wrap(fmt.Errorf("no rules defined"), apperror.ErrInvalidRules)
	}

	rs := &Rules{
		rules:      doc.Rules,
		configured: make(map[string]bool),
	}

	seen := make(map[string]bool)
	for i, rule := range doc.Rules {
		if rule.Name == "" {
			return nil, apperror.Wrap(fmt.Errorf("rule %d has no name", i), apperror.ErrInvalidRules)
		}
		if seen[rule.Name] {
			return nil, apperror.Wrap(fmt.Errorf("duplicate rule %q", rule.Name), apperror.ErrInvalidRules)
		}
		seen[rule.Name] = true

		candidates := rule.sources()
		if len(candidates) == 0 {
			return nil, apperror.Wrap(fmt.Errorf("rule %q has no sources", rule.Name), apperror.ErrInvalidRules)
		}
		for _, c := range candidates {
			if err := c.validate(); err != nil {
				return nil, apperror.Wrap(fmt.Errorf("rule %q: %w", rule.Name, err), apperror.ErrInvalidRules)
			}
			rs.configured[c.dataType()] = true
		}
	}

	return rs, nil
}

// Names returns the metric columns the rule set produces, in rule order.
func (rs *Rules) Names() []string {
	names := make([]string, len(rs.rules))
	for i, r := range rs.rules {
		names[i] = r.Name
	}
	return names
}

// Configured reports whether any rule reads rows of the given data type.
func (rs *Rules) Configured(dataType string) bool {
	return rs.configured[dataType]
}

func (r Rule) sources() []Candidate {
	var out []Candidate
	if r.Cumulative != nil {
		out = append(out, r.Cumulative.Count...)
		out = append(out, r.Cumulative.Intervals)
	}
	out = append(out, r.Chain...)
	out = append(out, r.Readings...)
	out = append(out, r.Legacy...)
	return out
}

func (c Candidate) validate() error {
	if c.Metric == "" && c.Prefix == "" {
		return fmt.Errorf("candidate needs a metric or prefix")
	}
	if c.Metric != "" && c.Prefix != "" {
		return fmt.Errorf("candidate %q sets both metric and prefix", c.Metric)
	}
	return nil
}

// dataType returns the data type a candidate reads, the part of the metric
// name before the first dot.
func (c Candidate) dataType() string {
	name := c.Metric
	if name == "" {
		name = c.Prefix
	}
	if i := strings.Index(name, "."); i > 0 {
		return name[:i]
	}
	return name
}
