// Package rules loads and validates the declarative substitution rule
// file that drives the path/text rewrite engine.
//
// A rule file carries four sections: path_rules rewrite path-valued
// fields via material-map lookups, text_rules rewrite placeholder
// occurrences inside text fields, system_paths_to_ignore lists path
// fragments that must never be rewritten, and json_content_keys names
// fields whose string value is embedded serialized JSON that the engine
// treats as opaque text.
//
// The file is loaded once at startup. Any structural or semantic
// problem (duplicate ids, uncompilable patterns, wrong capture-group
// counts) is fatal before a job runs; the resulting RuleSet is
// immutable and safe for concurrent readers.
package rules
