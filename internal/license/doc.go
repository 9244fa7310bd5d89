// Package license implements the two-tier license verification subsystem.
//
// Verification is online-first: the authenticator calls the configured
// license endpoint, verifies the HMAC signature over the response, and on
// success persists an encrypted LicenseRecord to disk. When the endpoint
// is unreachable or returns a tampered response, verification falls back
// to the cached record, which remains usable within a configured offline
// grace window. An explicit denial from the server is terminal and never
// falls back to the cache.
//
// The package is deliberately silent about failure detail at its
// boundary: every failure mode resolves to a terminal AuthResult and a
// human-readable message, and a cache blob that cannot be read for any
// reason is treated identically to no cache at all.
package license
