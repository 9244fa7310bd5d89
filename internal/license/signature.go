package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Signature canonicalization.
//
// The signer (the remote license endpoint) and this verifier run in
// different languages, so both sides serialize the signed fields in a
// fixed, documented order before HMAC computation. Any mismatch in field
// order, encoding or separators breaks verification, which is why the
// orderings below are constants rather than derived from map iteration.
//
// Response signature covers:   license_key | status | expires_at | timestamp
// Persistent signature covers: license_key | expires_at | status
//
// Fields are joined with '|' as raw string values; the signature is the
// lowercase hex encoding of HMAC-SHA256 over the joined bytes.

// signFields computes the HMAC-SHA256 signature over the given fields in
// the order supplied.
func signFields(secret string, fields ...string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

// verifyFields recomputes the signature and compares in constant time.
func verifyFields(secret, signature string, fields ...string) bool {
	expected := signFields(secret, fields...)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// SignResponse computes the signature the server attaches to a verification
// response. Exposed so tests can construct well-signed fixtures.
func SignResponse(secret, licenseKey, status, expiresAt, timestamp string) string {
	return signFields(secret, licenseKey, status, expiresAt, timestamp)
}

// VerifyResponse checks the response signature over the immediate API
// response payload.
func VerifyResponse(secret, licenseKey, status, expiresAt, timestamp, signature string) bool {
	return verifyFields(secret, signature, licenseKey, status, expiresAt, timestamp)
}

// SignPersistent computes the signature over the subset of fields that get
// cached. It is stored alongside the record; see the authenticator for the
// offline check-set actually enforced.
func SignPersistent(secret, licenseKey, expiresAt, status string) string {
	return signFields(secret, licenseKey, expiresAt, status)
}

// VerifyPersistent checks the persistent signature over the cached subset.
func VerifyPersistent(secret, licenseKey, expiresAt, status, signature string) bool {
	return verifyFields(secret, signature, licenseKey, expiresAt, status)
}
