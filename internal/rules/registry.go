package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/afwm/CCBP-pub/internal/errors"
)

// SchemaVersion is the rule file version this registry understands.
const SchemaVersion = "1.0"

// Raw rule-file schema. Validation happens in two passes: structural
// validation of the decoded file via validator tags, then semantic
// validation (unique ids, regex compilation, capture-group counts).

type ruleFile struct {
	Version             string        `json:"version" validate:"required"`
	PathRules           []rawPathRule `json:"path_rules" validate:"dive"`
	TextRules           []rawTextRule `json:"text_rules" validate:"dive"`
	SystemPathsToIgnore []string      `json:"system_paths_to_ignore"`
	JSONContentKeys     []string      `json:"json_content_keys"`
}

type rawPathRule struct {
	ID            string            `json:"id" validate:"required"`
	Description   string            `json:"description"`
	TargetKeys    []string          `json:"target_keys" validate:"required,min=1"`
	LookupMethods []rawLookupMethod `json:"lookup_methods" validate:"required,min=1,dive"`
	Enabled       *bool             `json:"enabled"`
	Priority      int               `json:"priority"`
}

type rawLookupMethod struct {
	Method  string `json:"method" validate:"required,oneof=extra_info path_stem field_value type_and_stem"`
	Pattern string `json:"pattern"`
	Field   string `json:"field"`
}

type rawTextRule struct {
	ID          string   `json:"id" validate:"required"`
	Description string   `json:"description"`
	TargetKeys  []string `json:"target_keys" validate:"required,min=1"`
	Pattern     string   `json:"pattern" validate:"required"`
	Source      string   `json:"source" validate:"required,oneof=material_map csv_row_data"`
	Enabled     *bool    `json:"enabled"`
	Priority    int      `json:"priority"`
}

// RuleSet is the immutable, validated rule configuration. It is loaded
// once at startup and shared read-only between jobs.
type RuleSet struct {
	Version             string
	PathRules           []PathRule
	TextRules           []TextRule
	SystemPathsToIgnore []string
	JSONContentKeys     map[string]struct{}
}

// IsSystemPath reports whether a path contains any of the configured
// system path fragments. Such paths belong to bundled resources and are
// never rewritten.
func (rs *RuleSet) IsSystemPath(path string) bool {
	for _, fragment := range rs.SystemPathsToIgnore {
		if fragment != "" && containsPath(path, fragment) {
			return true
		}
	}
	return false
}

// IsJSONContentKey reports whether the key's string value is embedded
// serialized JSON that must be treated as opaque text.
func (rs *RuleSet) IsJSONContentKey(key string) bool {
	_, ok := rs.JSONContentKeys[key]
	return ok
}

// PathRulesFor returns the enabled path rules targeting key, in
// ascending priority order.
func (rs *RuleSet) PathRulesFor(key string) []PathRule {
	var out []PathRule
	for _, r := range rs.PathRules {
		if r.AppliesTo(key) {
			out = append(out, r)
		}
	}
	return out
}

// TextRulesFor returns the enabled text rules targeting key, in
// ascending priority order.
func (rs *RuleSet) TextRulesFor(key string) []TextRule {
	var out []TextRule
	for _, r := range rs.TextRules {
		if r.AppliesTo(key) {
			out = append(out, r)
		}
	}
	return out
}

// Load reads and validates the rule file. Any structural problem is a
// ConfigError: loading happens before any job runs, so failing hard here
// is the only acceptable behavior.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: rule file %s: %v", apperrors.ErrConfig, path, err)
	}
	return Parse(data)
}

// Parse validates and compiles a rule file from raw bytes.
func Parse(data []byte) (*RuleSet, error) {
	var rf ruleFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("%w: rule file is not valid JSON: %v", apperrors.ErrConfig, err)
	}

	validate := validator.New()
	if err := validate.Struct(&rf); err != nil {
		return nil, fmt.Errorf("%w: rule file failed validation: %v", apperrors.ErrConfig, err)
	}

	if rf.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported rule file version %q (want %q)", apperrors.ErrConfig, rf.Version, SchemaVersion)
	}

	seen := make(map[string]struct{})
	uniqueID := func(id string) error {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate rule id %q", apperrors.ErrConfig, id)
		}
		seen[id] = struct{}{}
		return nil
	}

	rs := &RuleSet{
		Version:             rf.Version,
		SystemPathsToIgnore: rf.SystemPathsToIgnore,
		JSONContentKeys:     make(map[string]struct{}),
	}
	for _, k := range rf.JSONContentKeys {
		rs.JSONContentKeys[k] = struct{}{}
	}

	for _, raw := range rf.PathRules {
		if err := uniqueID(raw.ID); err != nil {
			return nil, err
		}
		if !enabled(raw.Enabled) {
			continue
		}
		rule, err := compilePathRule(raw)
		if err != nil {
			return nil, err
		}
		rs.PathRules = append(rs.PathRules, rule)
	}

	for _, raw := range rf.TextRules {
		if err := uniqueID(raw.ID); err != nil {
			return nil, err
		}
		if !enabled(raw.Enabled) {
			continue
		}
		rule, err := compileTextRule(raw)
		if err != nil {
			return nil, err
		}
		rs.TextRules = append(rs.TextRules, rule)
	}

	sort.SliceStable(rs.PathRules, func(i, j int) bool {
		return rs.PathRules[i].Priority < rs.PathRules[j].Priority
	})
	sort.SliceStable(rs.TextRules, func(i, j int) bool {
		return rs.TextRules[i].Priority < rs.TextRules[j].Priority
	})

	return rs, nil
}

// enabled treats a missing "enabled" field as true.
func enabled(b *bool) bool {
	return b == nil || *b
}

func compilePathRule(raw rawPathRule) (PathRule, error) {
	rule := PathRule{
		ID:          raw.ID,
		Description: raw.Description,
		TargetKeys:  raw.TargetKeys,
		Priority:    raw.Priority,
	}

	for _, rm := range raw.LookupMethods {
		method := LookupMethod{Kind: LookupKind(rm.Method)}
		switch method.Kind {
		case LookupExtraInfo:
			pattern := rm.Pattern
			if pattern == "" {
				pattern = defaultExtraInfoPattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return PathRule{}, fmt.Errorf("%w: rule %q: invalid extra_info pattern %q: %v", apperrors.ErrConfig, raw.ID, pattern, err)
			}
			if re.NumSubexp() < 1 {
				return PathRule{}, fmt.Errorf("%w: rule %q: extra_info pattern %q needs a capture group", apperrors.ErrConfig, raw.ID, pattern)
			}
			method.Pattern = re
		case LookupFieldValue:
			if rm.Field == "" {
				return PathRule{}, fmt.Errorf("%w: rule %q: field_value method requires a field name", apperrors.ErrConfig, raw.ID)
			}
			method.Field = rm.Field
		case LookupPathStem, LookupTypeAndStem:
			// No payload.
		}
		rule.LookupMethods = append(rule.LookupMethods, method)
	}

	return rule, nil
}

func compileTextRule(raw rawTextRule) (TextRule, error) {
	re, err := regexp.Compile(raw.Pattern)
	if err != nil {
		return TextRule{}, fmt.Errorf("%w: rule %q: invalid pattern %q: %v", apperrors.ErrConfig, raw.ID, raw.Pattern, err)
	}
	if re.NumSubexp() != 1 {
		return TextRule{}, fmt.Errorf("%w: rule %q: pattern %q must have exactly one capture group, has %d", apperrors.ErrConfig, raw.ID, raw.Pattern, re.NumSubexp())
	}

	return TextRule{
		ID:          raw.ID,
		Description: raw.Description,
		TargetKeys:  raw.TargetKeys,
		Pattern:     re,
		Source:      TextSource(raw.Source),
		Priority:    raw.Priority,
	}, nil
}

// containsPath uses substring containment, matching how bundled-resource
// paths are configured (e.g. "/Applications/CapCut" or "Resources/material").
func containsPath(path, fragment string) bool {
	return strings.Contains(path, fragment)
}
