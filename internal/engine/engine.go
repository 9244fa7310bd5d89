// Package engine applies path and text substitution rules to CapCut
// project documents.
//
// Apply walks a decoded JSON tree and, for every string field whose key
// a rule targets, rewrites the value: path rules replace the whole
// value via material-map lookups, text rules replace placeholder
// occurrences inside it. The engine returns per-rule rewrite counts and
// never logs; diagnostics are the caller's concern.
package engine

import (
	"strings"

	"github.com/afwm/CCBP-pub/internal/rules"
)

// Stats counts fields rewritten per rule id during one Apply call.
type Stats map[string]int

// Total returns the number of rewrites across all rules.
func (s Stats) Total() int {
	n := 0
	for _, c := range s {
		n += c
	}
	return n
}

// Merge adds other's counts into s.
func (s Stats) Merge(other Stats) {
	for id, c := range other {
		s[id] += c
	}
}

// Engine holds the rule set. It is stateless across Apply calls and
// safe for concurrent use.
type Engine struct {
	rules *rules.RuleSet
}

func New(rs *rules.RuleSet) *Engine {
	return &Engine{rules: rs}
}

type applyContext struct {
	materialMap map[string]string
	csvRow      map[string]string
	stats       Stats
}

// Apply rewrites doc in place and returns it together with per-rule
// stats. doc is a decoded JSON value (map[string]any, []any, or a
// primitive); non-container values are returned unchanged.
func (e *Engine) Apply(doc any, materialMap, csvRow map[string]string) (any, Stats) {
	ctx := &applyContext{
		materialMap: materialMap,
		csvRow:      csvRow,
		stats:       make(Stats),
	}
	return e.walk(doc, ctx), ctx.stats
}

func (e *Engine) walk(node any, ctx *applyContext) any {
	switch v := node.(type) {
	case map[string]any:
		for key, val := range v {
			switch inner := val.(type) {
			case string:
				// Path rules run first; text rules then see the
				// (possibly replaced) value.
				out := e.applyPathRules(key, inner, v, ctx)
				v[key] = e.applyTextRules(key, out, ctx)
			case map[string]any, []any:
				v[key] = e.walk(inner, ctx)
			}
		}
		return v
	case []any:
		for i, elem := range v {
			v[i] = e.walk(elem, ctx)
		}
		return v
	default:
		return node
	}
}

// applyPathRules tries the matching path rules in priority order; the
// first lookup method that yields a usable replacement wins. Fields
// holding embedded serialized JSON are never treated as paths, and
// bundled system resources are never rewritten.
func (e *Engine) applyPathRules(key, value string, parent map[string]any, ctx *applyContext) string {
	if value == "" || e.rules.IsJSONContentKey(key) {
		return value
	}
	matched := e.rules.PathRulesFor(key)
	if len(matched) == 0 || e.rules.IsSystemPath(value) {
		return value
	}

	for _, rule := range matched {
		for _, method := range rule.LookupMethods {
			derived := deriveKey(method, value, parent)
			if derived == "" {
				continue
			}
			replacement, ok := ctx.materialMap[derived]
			if !ok || replacement == "" {
				continue
			}
			// A looked-up system path counts as a miss: try the next
			// method instead of pointing the field at a bundled asset.
			if e.rules.IsSystemPath(replacement) {
				continue
			}
			if replacement != value {
				ctx.stats[rule.ID]++
			}
			return replacement
		}
	}
	return value
}

// deriveKey resolves one lookup method against the current value and
// its enclosing object. An empty result means the method did not apply.
func deriveKey(method rules.LookupMethod, value string, parent map[string]any) string {
	switch method.Kind {
	case rules.LookupExtraInfo:
		extra, _ := parent["extra_info"].(string)
		if extra == "" {
			return ""
		}
		m := method.Pattern.FindStringSubmatch(extra)
		if len(m) < 2 {
			return ""
		}
		return m[1]
	case rules.LookupPathStem:
		return pathStem(value)
	case rules.LookupFieldValue:
		field, _ := parent[method.Field].(string)
		return field
	case rules.LookupTypeAndStem:
		nodeType, _ := parent["type"].(string)
		stem := pathStem(value)
		if nodeType == "" || stem == "" {
			return ""
		}
		return nodeType + ":" + stem
	}
	return ""
}

// applyTextRules runs every matching text rule in priority order,
// replacing each placeholder whose captured key resolves in the rule's
// source. Unresolvable placeholders stay verbatim.
func (e *Engine) applyTextRules(key, value string, ctx *applyContext) string {
	for _, rule := range e.rules.TextRulesFor(key) {
		source := ctx.materialMap
		if rule.Source == rules.SourceCSVRowData {
			source = ctx.csvRow
		}
		if len(source) == 0 {
			continue
		}

		replaced := false
		out := rule.Pattern.ReplaceAllStringFunc(value, func(match string) string {
			sub := rule.Pattern.FindStringSubmatch(match)
			if len(sub) < 2 {
				return match
			}
			if repl, ok := source[strings.TrimSpace(sub[1])]; ok {
				replaced = true
				return repl
			}
			return match
		})
		if replaced && out != value {
			ctx.stats[rule.ID]++
			value = out
		}
	}
	return value
}

// pathStem returns the final path element without its extension. Both
// separator styles appear in CapCut projects, so split on either.
func pathStem(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		p = p[i+1:]
	}
	if i := strings.LastIndexByte(p, '.'); i > 0 {
		p = p[:i]
	}
	return p
}
