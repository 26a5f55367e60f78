package userstore

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
)

// EntryType identifies the kind of mutation recorded in a WAL entry.
type EntryType uint8

const (
	EntryAddUser EntryType = iota
	EntryUpdateUser
	EntryDeleteUser
)

// walEntry is the gob-encoded payload sealed into each WAL record. Name is
// always populated (it is the CRUD key); Account is empty for deletes.
type walEntry struct {
	Name    string
	Account Account
}

// ErrWALCorrupted is returned when a WAL entry fails to decrypt or decode, or
// has an unknown entry type. Replay stops at that entry and returns the error,
// so opening the store fails; only a truncated final record is dropped
// without an error (see replay).
var ErrWALCorrupted = errors.New("userstore: corrupted wal entry")

// wal is an append-only, AES-GCM encrypted log of account mutations applied
// since the last snapshot compaction. Each record on disk is
// (type byte, payloadLen uint32, AES-GCM(nonce||ciphertext||tag)).
type wal struct {
	path string
	file *os.File
	key  []byte
	size int64 // current log size in bytes, for compaction-threshold checks
}

func openWAL(path string, key []byte) (*wal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &wal{path: path, file: f, key: key, size: info.Size()}, nil
}

func (w *wal) append(typ EntryType, name string, acct Account) error {
	payload, err := encodeGob(walEntry{Name: name, Account: acct})
	if err != nil {
		return fmt.Errorf("encode wal entry: %w", err)
	}
	sealed, err := seal(w.key, payload)
	if err != nil {
		return fmt.Errorf("seal wal entry: %w", err)
	}

	record := make([]byte, 1+4+len(sealed))
	record[0] = byte(typ)
	binary.LittleEndian.PutUint32(record[1:5], uint32(len(sealed)))
	copy(record[5:], sealed)

	n, err := w.file.Write(record)
	if err != nil {
		return fmt.Errorf("write wal entry: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync wal: %w", err)
	}
	w.size += int64(n)
	return nil
}

// replay reads every entry from the start of the WAL, applying each in order
// to accounts (keyed by NameKey). A truncated final record is treated as a
// partial write and silently dropped rather than failing the whole replay.
func (w *wal) replay(accounts map[string]Account) error {
	if _, err := w.file.Seek(0, 0); err != nil {
		return err
	}
	r := bufio.NewReader(w.file)

	for {
		header := make([]byte, 5)
		if _, err := readFull(r, header); err != nil {
			break // EOF or short read: end of log (possibly torn tail)
		}
		typ := EntryType(header[0])
		length := binary.LittleEndian.Uint32(header[1:5])

		sealed := make([]byte, length)
		if _, err := readFull(r, sealed); err != nil {
			break
		}

		payload, err := open(w.key, sealed)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrWALCorrupted, err)
		}
		var entry walEntry
		if err := decodeGob(payload, &entry); err != nil {
			return fmt.Errorf("%w: %v", ErrWALCorrupted, err)
		}

		switch typ {
		case EntryAddUser, EntryUpdateUser:
			accounts[entry.Name] = entry.Account
		case EntryDeleteUser:
			delete(accounts, entry.Name)
		default:
			return fmt.Errorf("%w: unknown entry type %d", ErrWALCorrupted, typ)
		}
	}

	if _, err := w.file.Seek(0, 2); err != nil {
		return err
	}
	return nil
}

func (w *wal) truncate() error {
	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, 0); err != nil {
		return err
	}
	w.size = 0
	return nil
}

func (w *wal) close() error {
	return w.file.Close()
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
