// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intent

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRules holds the raw bytes of the built-in keyword rules.
//
//go:embed data/intent_rules.yaml
var DefaultRules []byte

// RuleFile is the YAML document holding keyword rules.
type RuleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Rule maps a set of keywords to an intent.
type Rule struct {
	Intent      Intent   `yaml:"intent"`
	Description string   `yaml:"description"`
	Priority    int      `yaml:"priority"`
	Keywords    []string `yaml:"keywords"`
}

// UnmarshalYAML accepts only the known intents.
func (i *Intent) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	in := Intent(strings.ToLower(strings.TrimSpace(s)))
	switch in {
	case Flight, Parking, Expense, General:
		*i = in
		return nil
	default:
		return fmt.Errorf("invalid intent: %q", s)
	}
}

// ParseRules decodes, validates and sorts a rule document.
//
// Keywords are lower-cased. Rules are sorted by descending priority; equal
// priorities keep file order. A document must hold at least one rule and
// every rule at least one non-empty keyword.
func ParseRules(data []byte) ([]Rule, error) {
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal intent rules: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("intent rules: no rules defined")
	}
	for i := range file.Rules {
		r := &file.Rules[i]
		if r.Intent == "" {
			return nil, fmt.Errorf("intent rules: rule %d has no intent", i)
		}
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				kws = append(kws, kw)
			}
		}
		if len(kws) == 0 {
			return nil, fmt.Errorf("intent rules: rule %d (%s) has no keywords", i, r.Intent)
		}
		r.Keywords = kws
	}
	sort.SliceStable(file.Rules, func(i, j int) bool {
		return file.Rules[i].Priority > file.Rules[j].Priority
	})
	return file.Rules, nil
}

// LoadRulesFile reads and parses a rule override file.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read intent rules %s: %w", path, err)
	}
	return ParseRules(data)
}

// MatchRules returns the intent of the first rule with a keyword contained
// in text, or General.
func MatchRules(rules []Rule, text string) Intent {
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, kw := range r.Keywords {
			if strings.Contains(lower, kw) {
				return r.Intent
			}
		}
	}
	return General
}
