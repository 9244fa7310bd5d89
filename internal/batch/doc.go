// Package batch runs licensed batch jobs over CapCut projects.
//
// A job takes a CSV table (one row per project to generate), a template
// project, and the material directories. The runner authenticates the
// license first and refuses to touch any file when the check fails;
// only then does it copy the template per row, rewrite the project
// documents through the substitution engine, and write a completion
// report.
package batch
