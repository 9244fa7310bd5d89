package license

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	secret := "shared-secret"
	sig := SignResponse(secret, "KEY-1234", "valid", "2027-01-01T00:00:00Z", "2026-08-30T12:00:00Z")

	assert.True(t, VerifyResponse(secret, "KEY-1234", "valid", "2027-01-01T00:00:00Z", "2026-08-30T12:00:00Z", sig))
	assert.Len(t, sig, 64, "HMAC-SHA256 hex should be 64 chars")
}

func TestVerifyRejectsMutations(t *testing.T) {
	secret := "shared-secret"
	key, status, expires, ts := "KEY-1234", "valid", "2027-01-01T00:00:00Z", "2026-08-30T12:00:00Z"
	sig := SignResponse(secret, key, status, expires, ts)

	tests := []struct {
		name   string
		verify func() bool
	}{
		{"mutated key", func() bool {
			return VerifyResponse(secret, "KEY-1235", status, expires, ts, sig)
		}},
		{"mutated status", func() bool {
			return VerifyResponse(secret, key, "expired", expires, ts, sig)
		}},
		{"mutated expiry", func() bool {
			return VerifyResponse(secret, key, status, "2028-01-01T00:00:00Z", ts, sig)
		}},
		{"mutated timestamp", func() bool {
			return VerifyResponse(secret, key, status, expires, "2026-08-30T12:00:01Z", sig)
		}},
		{"wrong secret", func() bool {
			return VerifyResponse("other-secret", key, status, expires, ts, sig)
		}},
		{"truncated signature", func() bool {
			return VerifyResponse(secret, key, status, expires, ts, sig[:63])
		}},
		{"empty signature", func() bool {
			return VerifyResponse(secret, key, status, expires, ts, "")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, tt.verify())
		})
	}
}

func TestVerifyRejectsSingleBitFlips(t *testing.T) {
	secret := "shared-secret"
	sig := SignResponse(secret, "KEY-1234", "valid", "2027-01-01T00:00:00Z", "2026-08-30T12:00:00Z")

	for i := range sig {
		mutated := []byte(sig)
		if mutated[i] == '0' {
			mutated[i] = '1'
		} else {
			mutated[i] = '0'
		}
		assert.False(t,
			VerifyResponse(secret, "KEY-1234", "valid", "2027-01-01T00:00:00Z", "2026-08-30T12:00:00Z", string(mutated)),
			"flipped hex digit at position %d must not verify", i)
	}
}

func TestVerifyAcceptsUppercaseHex(t *testing.T) {
	secret := "shared-secret"
	sig := SignPersistent(secret, "KEY-1234", "2027-01-01T00:00:00Z", "valid")
	require.True(t, VerifyPersistent(secret, "KEY-1234", "2027-01-01T00:00:00Z", "valid", strings.ToUpper(sig)))
}

func TestFieldOrderIsLoadBearing(t *testing.T) {
	// The persistent signature covers key|expires_at|status; swapping the
	// last two fields must produce a different signature even when the
	// concatenated content is the same set of values.
	secret := "shared-secret"
	a := SignPersistent(secret, "K", "X", "Y")
	b := SignPersistent(secret, "K", "Y", "X")
	assert.NotEqual(t, a, b)
}

func TestPersistentAndResponseSignaturesDiffer(t *testing.T) {
	// Same values, different canonical orderings and field sets.
	secret := "shared-secret"
	resp := SignResponse(secret, "K", "valid", "2027-01-01T00:00:00Z", "2026-08-30T12:00:00Z")
	pers := SignPersistent(secret, "K", "2027-01-01T00:00:00Z", "valid")
	assert.NotEqual(t, resp, pers)
}
