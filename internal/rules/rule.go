package rules

import "regexp"

// LookupKind discriminates the tagged LookupMethod variants. The
// resolution loop in the engine matches exhaustively over these.
type LookupKind string

const (
	// LookupExtraInfo extracts a token from the sibling "extra_info"
	// field using the method's regex and looks it up in the material map.
	LookupExtraInfo LookupKind = "extra_info"
	// LookupPathStem looks up the filename-without-extension of the
	// current value.
	LookupPathStem LookupKind = "path_stem"
	// LookupFieldValue reads a named sibling field (id or
	// local_material_id) and looks up its value directly.
	LookupFieldValue LookupKind = "field_value"
	// LookupTypeAndStem composes "{node_type}:{stem}" as the lookup key.
	LookupTypeAndStem LookupKind = "type_and_stem"
)

// TextSource identifies the data source a text rule substitutes from.
type TextSource string

const (
	SourceMaterialMap TextSource = "material_map"
	SourceCSVRowData  TextSource = "csv_row_data"
)

// defaultExtraInfoPattern extracts the leading token of an extra_info
// value, e.g. "img_01.png" -> "img_01".
const defaultExtraInfoPattern = `^([a-zA-Z0-9_-]+)`

// LookupMethod is one way of deriving a material-map key for a path
// field. Methods are tried in the order they appear in the rule.
type LookupMethod struct {
	Kind LookupKind
	// Pattern is only set for LookupExtraInfo; it has at least one
	// capture group, and group 1 is the derived key.
	Pattern *regexp.Regexp
	// Field is only set for LookupFieldValue.
	Field string
}

// PathRule rewrites path-valued fields via material-map lookups.
type PathRule struct {
	ID            string
	Description   string
	TargetKeys    []string
	LookupMethods []LookupMethod
	Priority      int
}

// AppliesTo reports whether the rule targets the given document key.
// "*" targets every key.
func (r PathRule) AppliesTo(key string) bool {
	return containsKey(r.TargetKeys, key)
}

// TextRule rewrites placeholder occurrences inside text-valued fields.
type TextRule struct {
	ID          string
	Description string
	TargetKeys  []string
	// Pattern has exactly one capture group; group 1 is the placeholder
	// key looked up in Source.
	Pattern  *regexp.Regexp
	Source   TextSource
	Priority int
}

// AppliesTo reports whether the rule targets the given document key.
func (r TextRule) AppliesTo(key string) bool {
	return containsKey(r.TargetKeys, key)
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == "*" || k == key {
			return true
		}
	}
	return false
}
