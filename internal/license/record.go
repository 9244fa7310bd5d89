package license

import "time"

// Status classifies a license verdict.
type Status string

const (
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid"
	StatusExpired Status = "expired"
	StatusUnknown Status = "unknown"
)

// Record is the license record persisted (encrypted) between runs. It is
// created on a successful online check and overwritten wholesale on each
// subsequent one; there is never a partially updated record on disk.
type Record struct {
	Key                 string    `json:"key"`
	Status              Status    `json:"status"`
	ExpiresAt           time.Time `json:"expires_at"`
	LastCheckedAt       time.Time `json:"last_checked_at"`
	LastMessage         string    `json:"last_message"`
	PersistentSignature string    `json:"persistent_signature"`
}

// MaskKey masks a license key for display and logging.
// Shows the first 4 and last 4 characters.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
