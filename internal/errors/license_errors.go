package errors

import "errors"

// License-subsystem sentinel errors. These classify every failure mode of
// the authenticator so the recovery policy at each call site is explicit:
// network and signature failures fall through to the offline path, a
// server denial is terminal, and cache failures always mean "no cache".
var (
	// ErrNetwork covers timeouts, DNS failures, connection refusals and
	// non-2xx responses from the license endpoint.
	ErrNetwork = errors.New("license server unreachable")

	// ErrSignatureMismatch marks a response whose HMAC signature did not
	// verify. The response is untrusted; recovery is identical to a
	// network failure.
	ErrSignatureMismatch = errors.New("response signature mismatch")

	// ErrServerDenied marks an explicit invalid/expired verdict from the
	// server. No offline fallback is attempted.
	ErrServerDenied = errors.New("license rejected by server")

	// ErrCacheMissing means no cache file exists on disk.
	ErrCacheMissing = errors.New("no cached license record")

	// ErrCacheCorrupt covers undecryptable, truncated or otherwise
	// unusable cache blobs. Callers must treat it exactly like
	// ErrCacheMissing.
	ErrCacheCorrupt = errors.New("cached license record unreadable")

	// ErrConfig marks malformed rule files or missing required
	// configuration. Fatal at startup.
	ErrConfig = errors.New("invalid configuration")
)

// IsCacheAbsent reports whether err means the cache should be treated as
// absent. Corrupt and missing blobs are deliberately indistinguishable to
// callers; this policy is part of the cache store contract.
func IsCacheAbsent(err error) bool {
	return errors.Is(err, ErrCacheMissing) || errors.Is(err, ErrCacheCorrupt)
}
