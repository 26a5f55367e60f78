package userstore

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/lz4"
)

// snapshotMagic identifies a valid snapshot file per §3.
var snapshotMagic = [9]byte{'A', 'M', 'F', 'T', 'P', 'D', 'B', 'U', 'S'}

const snapshotVersion byte = 1
const snapshotReservedSize = 16

var (
	// ErrBadMagic is returned when a snapshot file's header doesn't match.
	ErrBadMagic = errors.New("userstore: bad snapshot magic")
	// ErrVersion is returned for an unsupported snapshot version.
	ErrVersion = errors.New("userstore: unsupported snapshot version")
)

func init() {
	gob.Register(Account{})
}

// writeSnapshot atomically (temp file + fsync + rename) writes accounts to
// path, encrypted under a key derived from passphrase and a freshly
// generated salt.
func writeSnapshot(path, passphrase string, accounts []Account) error {
	salt, err := newSalt()
	if err != nil {
		return err
	}
	key := deriveKey(passphrase, salt)

	var raw bytes.Buffer
	lw := lz4.NewWriter(&raw)
	if err := gob.NewEncoder(lw).Encode(accounts); err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}
	if err := lw.Close(); err != nil {
		return fmt.Errorf("flush compressor: %w", err)
	}

	ciphertext, err := seal(key, raw.Bytes())
	if err != nil {
		return fmt.Errorf("seal snapshot: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(snapshotMagic[:])
	buf.WriteByte(snapshotVersion)
	buf.Write(salt)
	buf.Write(make([]byte, snapshotReservedSize))
	buf.Write(ciphertext)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// readSnapshot loads and decrypts accounts from path. It returns
// (nil, os.ErrNotExist) if the file is absent so callers can synthesize a
// default store.
func readSnapshot(path, passphrase string) ([]Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	headerLen := len(snapshotMagic) + 1 + saltSize + snapshotReservedSize
	if len(data) < headerLen {
		return nil, ErrBadMagic
	}
	if !bytes.Equal(data[:len(snapshotMagic)], snapshotMagic[:]) {
		return nil, ErrBadMagic
	}
	offset := len(snapshotMagic)
	version := data[offset]
	offset++
	if version != snapshotVersion {
		return nil, ErrVersion
	}
	salt := data[offset : offset+saltSize]
	offset += saltSize
	offset += snapshotReservedSize

	key := deriveKey(passphrase, salt)
	plain, err := open(key, data[offset:])
	if err != nil {
		return nil, fmt.Errorf("decrypt snapshot: %w", err)
	}

	lr := lz4.NewReader(bytes.NewReader(plain))
	var accounts []Account
	if err := gob.NewDecoder(lr).Decode(&accounts); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return accounts, nil
}

// readOrCreateSaltFile returns the 32-byte salt stored alongside the
// database, creating it if absent. This salt file is independent of the
// per-snapshot salt embedded in the snapshot header; it seeds WAL entry
// encryption so the WAL remains decryptable without first replaying a
// snapshot.
func readOrCreateSaltFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != saltSize {
			return nil, fmt.Errorf("userstore: salt file %s has wrong size", path)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, err
	}
	return salt, nil
}
