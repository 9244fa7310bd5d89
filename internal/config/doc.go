// Package config loads and validates the application configuration.
//
// Configuration is sourced from an optional YAML file overlaid with
// CCBP_-prefixed environment variables. The resulting Config value is
// immutable by convention: it is constructed once in main and handed
// by reference to the license authenticator, the rule registry, and
// the batch runner. Validation failures are fatal at startup so that
// a misconfigured installation never gets as far as mutating a
// project file.
package config
