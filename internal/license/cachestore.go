package license

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"

	apperrors "github.com/afwm/CCBP-pub/internal/errors"
)

// scrypt parameters for deriving the blob cipher key from the configured
// master key and the per-blob salt.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32

	gcmNonceSize = 12
	saltSize     = 32

	blobVersion = 1
)

// encryptedBlob is the on-disk envelope for the encrypted license record.
// Ciphertext includes the GCM authentication tag.
type encryptedBlob struct {
	Version    uint8  `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// CacheStore persists a single encrypted license record at a fixed path.
//
// Load never distinguishes the many ways a blob can be unusable: a missing
// file maps to ErrCacheMissing and everything else (wrong key, truncated
// file, failed authentication tag, bad envelope) maps to ErrCacheCorrupt.
// Callers treat both as "no prior cache".
type CacheStore struct {
	path   string
	key    []byte
	logger *slog.Logger
}

// NewCacheStore creates a cache store writing to path, encrypting with the
// given 32-byte key.
func NewCacheStore(path string, key []byte, logger *slog.Logger) (*CacheStore, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cache key must be 32 bytes, got %d", len(key))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheStore{
		path:   path,
		key:    key,
		logger: logger.With(slog.String("component", "license_cache")),
	}, nil
}

// Save serializes the record, encrypts it, and writes it atomically.
// The write goes to a temp file in the same directory followed by a
// rename, so a crash mid-write never leaves a half-written blob that
// could be read back as valid.
func (s *CacheStore) Save(record Record) error {
	plaintext, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize license record: %w", err)
	}

	blob, err := s.encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt license record: %w", err)
	}

	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to encode cache blob: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".license-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp cache file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set cache file permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace cache file: %w", err)
	}

	s.logger.Debug("license record cached",
		slog.String("path", s.path),
		slog.String("license_key_masked", MaskKey(record.Key)),
	)
	return nil
}

// Load reads and decrypts the cached record. On any failure it returns
// ErrCacheMissing or ErrCacheCorrupt; it never returns a partially
// decoded record.
func (s *CacheStore) Load() (Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, apperrors.ErrCacheMissing
		}
		return Record{}, fmt.Errorf("%w: %v", apperrors.ErrCacheCorrupt, err)
	}

	var blob encryptedBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		s.logger.Warn("cache blob has invalid envelope, treating as absent")
		return Record{}, fmt.Errorf("%w: invalid envelope", apperrors.ErrCacheCorrupt)
	}
	if blob.Version != blobVersion {
		s.logger.Warn("cache blob has unsupported version, treating as absent",
			slog.Int("version", int(blob.Version)),
		)
		return Record{}, fmt.Errorf("%w: unsupported version %d", apperrors.ErrCacheCorrupt, blob.Version)
	}

	plaintext, err := s.decrypt(&blob)
	if err != nil {
		s.logger.Warn("cache blob failed to decrypt, treating as absent")
		return Record{}, fmt.Errorf("%w: %v", apperrors.ErrCacheCorrupt, err)
	}

	var record Record
	if err := json.Unmarshal(plaintext, &record); err != nil {
		return Record{}, fmt.Errorf("%w: invalid record payload", apperrors.ErrCacheCorrupt)
	}

	return record, nil
}

// encrypt seals plaintext with AES-256-GCM under a key derived from the
// master key and a fresh random salt.
func (s *CacheStore) encrypt(plaintext []byte) (*encryptedBlob, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := s.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &encryptedBlob{
		Version:    blobVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// decrypt opens the blob, verifying the GCM authentication tag.
func (s *CacheStore) decrypt(blob *encryptedBlob) ([]byte, error) {
	if len(blob.Nonce) != gcmNonceSize {
		return nil, fmt.Errorf("invalid nonce length %d", len(blob.Nonce))
	}

	gcm, err := s.aead(blob.Salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, blob.Nonce, blob.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// aead derives the blob cipher key via scrypt and builds the AES-GCM AEAD.
func (s *CacheStore) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(s.key, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
