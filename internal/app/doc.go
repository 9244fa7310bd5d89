// Package app wires the process together: configuration, logging,
// tracing, the license authenticator, the rule registry, the batch
// runner, and the local HTTP API. cmd/ccbp stays thin and delegates
// here.
package app
