package userstore

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"golang.org/x/crypto/pbkdf2"
)

func TestSealOpenRoundTrip(t *testing.T) {
	salt, err := newSalt()
	if err != nil {
		t.Fatalf("newSalt() error = %v", err)
	}
	key := deriveKey("hunter2", salt)

	ciphertext, err := seal(key, []byte("race to the top"))
	if err != nil {
		t.Fatalf("seal() error = %v", err)
	}
	plain, err := open(key, ciphertext)
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}
	if string(plain) != "race to the top" {
		t.Errorf("got %q, want %q", plain, "race to the top")
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	salt1, _ := newSalt()
	salt2, _ := newSalt()
	key1 := deriveKey("passphrase-one", salt1)
	key2 := deriveKey("passphrase-two", salt2)

	ciphertext, err := seal(key1, []byte("payload"))
	if err != nil {
		t.Fatalf("seal() error = %v", err)
	}
	if _, err := open(key2, ciphertext); err == nil {
		t.Error("expected open() with wrong key to fail")
	}
}

func TestHashPasswordVerify(t *testing.T) {
	envelope, err := HashPassword("s3cr3t")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !VerifyPassword("s3cr3t", envelope) {
		t.Error("VerifyPassword() = false, want true for correct password")
	}
	if VerifyPassword("wrong", envelope) {
		t.Error("VerifyPassword() = true, want false for incorrect password")
	}
}

func TestVerifyPasswordLegacyPBKDF2(t *testing.T) {
	salt := make([]byte, 16)
	copy(salt, "0123456789abcdef")
	derived := pbkdf2.Key([]byte("s3cr3t"), salt, 10_000, 32, sha256.New)
	envelope := "$pbkdf2$" + base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(derived)

	if !VerifyPassword("s3cr3t", envelope) {
		t.Error("VerifyPassword() = false, want true for legacy pbkdf2 envelope")
	}
	if VerifyPassword("wrong", envelope) {
		t.Error("VerifyPassword() = true, want false for incorrect password against legacy envelope")
	}
}

func TestVerifyPasswordRejectsUnknownScheme(t *testing.T) {
	if VerifyPassword("anything", "$plaintext$nope") {
		t.Error("VerifyPassword() = true for unrecognized envelope scheme")
	}
}
