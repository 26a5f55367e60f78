// Package dupestore tracks completed upload filenames per section in a
// badger/v4 database, backing the upload-time dupe check (DOMAIN STACK:
// C6/C13 dupe-file store). Records are keyed by section plus lower-cased
// filename rather than by full path, so the same filename uploaded to
// another directory of the same section is still caught; the same filename
// in a different section is not.
package dupestore

import (
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Store records and looks up previously uploaded filenames.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the dupe-tracking database rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("dupestore: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying badger database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record record the file has been uploaded successfully under section,
// keyed by its lower-cased filename so lookups are case-insensitive, per
// convention with the scene-style dupe-check tools this mirrors.
type Record struct {
	Section     string
	VirtualPath string
	UploadedBy  string
	UploadedAt  time.Time
}

func dupeKey(section, filename string) []byte {
	return []byte("dupe:" + strings.ToLower(section) + ":" + strings.ToLower(filename))
}

// MarkUploaded records filename as uploaded to section by user, overwriting
// any prior record for the same section/filename pair.
func (s *Store) MarkUploaded(section, filename, virtualPath, user string) error {
	rec := fmt.Sprintf("%s|%s|%s", virtualPath, user, time.Now().UTC().Format(time.RFC3339))
	key := dupeKey(section, filename)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, []byte(rec))
	})
	if err != nil {
		return fmt.Errorf("dupestore: mark: %w", err)
	}
	return nil
}

// IsDupe reports whether filename has already been uploaded to section.
func (s *Store) IsDupe(section, filename string) (Record, bool, error) {
	key := dupeKey(section, filename)
	var rec Record
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			parts := strings.SplitN(string(val), "|", 3)
			if len(parts) != 3 {
				return nil
			}
			uploadedAt, _ := time.Parse(time.RFC3339, parts[2])
			rec = Record{Section: section, VirtualPath: parts[0], UploadedBy: parts[1], UploadedAt: uploadedAt}
			found = true
			return nil
		})
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("dupestore: lookup: %w", err)
	}
	return rec, found, nil
}

// Forget removes a dupe record so the filename can be uploaded to section
// again. SITE WIPE and SITE NUKE do not call it.
func (s *Store) Forget(section, filename string) error {
	key := dupeKey(section, filename)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("dupestore: forget: %w", err)
	}
	return nil
}

// GC runs one badger value-log garbage collection pass. Safe to call
// periodically from a maintenance loop; badger itself treats ErrNoRewrite
// as a no-op signal rather than a real failure.
func (s *Store) GC() error {
	err := s.db.RunValueLogGC(0.5)
	if err != nil && err != badger.ErrNoRewrite {
		return fmt.Errorf("dupestore: gc: %w", err)
	}
	return nil
}

// Search returns all filenames recorded for section whose name contains
// substr (case-insensitive). No SITE subcommand calls it.
func (s *Store) Search(section, substr string) ([]string, error) {
	prefix := []byte("dupe:" + strings.ToLower(section) + ":")
	substr = strings.ToLower(substr)

	var matches []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			filename := string(it.Item().Key()[len(prefix):])
			if substr == "" || strings.Contains(filename, substr) {
				matches = append(matches, filename)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dupestore: search: %w", err)
	}
	return matches, nil
}
