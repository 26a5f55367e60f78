package userstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2Iterations is the iteration count used to derive the database's
// AES-256 key from its passphrase, per §3 (200,000 iterations, HMAC-SHA-256).
const PBKDF2Iterations = 200_000

const saltSize = 32

// deriveKey turns a passphrase and a 32-byte salt into a 32-byte AES-256 key.
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, 32, sha256.New)
}

// newSalt returns fresh cryptographically-random salt bytes.
func newSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// seal AES-GCM encrypts plaintext under key, prefixing the nonce.
func seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// open reverses seal: nonce||ciphertext||tag under key.
func open(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}

// Password envelope: "$argon2id$<b64 salt>$<b64 hash>" or, for legacy
// imports, "$pbkdf2$<b64 salt>$<b64 hash>". HashPassword always produces
// the former; VerifyPassword accepts either.
const (
	argon2Prefix = "$argon2id$"
	pbkdf2Prefix = "$pbkdf2$"
)

// HashPassword produces an opaque Argon2id envelope for storage in
// Account.PasswordHash.
func HashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	sum := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	return argon2Prefix + base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(sum), nil
}

// VerifyPassword checks password against an envelope produced by
// HashPassword or a legacy PBKDF2 envelope.
func VerifyPassword(password, envelope string) bool {
	switch {
	case strings.HasPrefix(envelope, argon2Prefix):
		return verifyArgon2(password, strings.TrimPrefix(envelope, argon2Prefix))
	case strings.HasPrefix(envelope, pbkdf2Prefix):
		return verifyPBKDF2(password, strings.TrimPrefix(envelope, pbkdf2Prefix))
	default:
		return false
	}
}

func verifyArgon2(password, rest string) bool {
	parts := strings.SplitN(rest, "$", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err1 := base64.RawStdEncoding.DecodeString(parts[0])
	want, err2 := base64.RawStdEncoding.DecodeString(parts[1])
	if err1 != nil || err2 != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func verifyPBKDF2(password, rest string) bool {
	parts := strings.SplitN(rest, "$", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err1 := base64.RawStdEncoding.DecodeString(parts[0])
	want, err2 := base64.RawStdEncoding.DecodeString(parts[1])
	if err1 != nil || err2 != nil {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, 10_000, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
