// Package project loads, rewrites, and saves CapCut project files.
//
// A generated project directory carries two JSON documents,
// draft_meta_info.json and draft_info.json. The handler loads both,
// builds a material map from the draft's declared materials plus the
// per-row CSV overrides and the template/change material directories,
// runs the substitution engine over both documents, and writes them
// back atomically.
package project
