package classify

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dhcgn/parcelscan/model"
)

//go:embed organizations.yaml
var defaultRules []byte

// Rule assigns an organization when every substring is present.
type Rule struct {
	Organization model.Organization
	Contains     []string
}

// Organizations classifies addresses against an ordered rule table.
type Organizations struct {
	rules []Rule
}

type rulesFile struct {
	Rules []struct {
		Organization string   `yaml:"organization"`
		Contains     []string `yaml:"contains"`
	} `yaml:"rules"`
}

// DefaultOrganizations returns the built-in rule table.
func DefaultOrganizations() *Organizations {
	orgs, err := ParseOrganizations(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded organization rules: %v", err))
	}
	return orgs
}

// LoadOrganizations reads a rule table from a YAML file. An empty path
// returns the built-in table.
func LoadOrganizations(path string) (*Organizations, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultOrganizations(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read organization rules: %w", err)
	}
	orgs, err := ParseOrganizations(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return orgs, nil
}

// ParseOrganizations decodes and validates a YAML rule table.
func ParseOrganizations(data []byte) (*Organizations, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode organization rules: %w", err)
	}

	rules := make([]Rule, 0, len(file.Rules))
	for i, raw := range file.Rules {
		org, err := model.ParseOrganization(raw.Organization)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		contains := make([]string, 0, len(raw.Contains))
		for _, s := range raw.Contains {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s != "" {
				contains = append(contains, s)
			}
		}
		if len(contains) == 0 {
			return nil, fmt.Errorf("rule %d: no substrings for %s", i+1, org)
		}
		rules = append(rules, Rule{Organization: org, Contains: contains})
	}

	return &Organizations{rules: rules}, nil
}

// NewOrganizations builds a classifier from rules already in memory.
func NewOrganizations(rules []Rule) *Organizations {
	return &Organizations{rules: append([]Rule(nil), rules...)}
}

// Rules returns a copy of the rule table.
func (o *Organizations) Rules() []Rule {
	return append([]Rule(nil), o.rules...)
}

// Classify returns the organization of the first matching rule.
func (o *Organizations) Classify(addr model.Address) model.Organization {
	line1 := strings.ToUpper(addr.Line1)
	for _, rule := range o.rules {
		if containsAll(line1, rule.Contains) {
			return rule.Organization
		}
	}
	return model.OrganizationUnknown
}

func containsAll(s string, parts []string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
