// Package banlist implements a badger-backed IP/CIDR ban store for the
// daemon's accept loop (C14): a sliding-window failed-login counter per
// remote IP that escalates to a timed ban once a threshold is crossed, plus
// a lazy sweep of expired bans. Keys and transactions follow the teacher's
// pkg/metadata/store/badger usage of db.Update/db.View/txn.Set/txn.Get.
package banlist

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/amftpd/amftpd/internal/logger"
)

const (
	failurePrefix = "fail:"
	banPrefix     = "ban:"
)

// Store tracks failed-login counters and active bans in a badger/v4
// database, implementing ftpproto.BanNotifier.
type Store struct {
	db            *badger.DB
	failThreshold int
	failWindow    time.Duration
	banDuration   time.Duration
}

// Options configures Open.
type Options struct {
	Dir           string
	FailThreshold int           // failed logins within FailWindow before a ban
	FailWindow    time.Duration
	BanDuration   time.Duration
}

// Open opens (or creates) the ban database rooted at opts.Dir.
func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Dir).WithLogger(nil)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("banlist: open: %w", err)
	}
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = 5
	}
	if opts.FailWindow <= 0 {
		opts.FailWindow = 10 * time.Minute
	}
	if opts.BanDuration <= 0 {
		opts.BanDuration = time.Hour
	}
	return &Store{
		db:            db,
		failThreshold: opts.FailThreshold,
		failWindow:    opts.FailWindow,
		banDuration:   opts.BanDuration,
	}, nil
}

// Close releases the underlying badger database.
func (s *Store) Close() error {
	return s.db.Close()
}

type failureRecord struct {
	Count     int       `json:"count"`
	WindowEnd time.Time `json:"window_end"`
}

// NotifyFailedLogin records a failed PASS from remoteIP, banning the IP for
// BanDuration once FailThreshold failures land inside one FailWindow
// (implements ftpproto.BanNotifier).
func (s *Store) NotifyFailedLogin(remoteIP net.IP) {
	key := []byte(failurePrefix + remoteIP.String())
	now := time.Now()

	err := s.db.Update(func(txn *badger.Txn) error {
		rec := failureRecord{Count: 0, WindowEnd: now.Add(s.failWindow)}
		item, err := txn.Get(key)
		if err == nil {
			_ = item.Value(func(val []byte) error {
				var existing failureRecord
				if jsonErr := json.Unmarshal(val, &existing); jsonErr == nil && existing.WindowEnd.After(now) {
					rec = existing
				}
				return nil
			})
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		rec.Count++
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		ttl := time.Until(rec.WindowEnd)
		if ttl <= 0 {
			ttl = s.failWindow
		}
		entry := badger.NewEntry(key, data).WithTTL(ttl)
		if err := txn.SetEntry(entry); err != nil {
			return err
		}

		if rec.Count >= s.failThreshold {
			return s.banLocked(txn, remoteIP, s.banDuration)
		}
		return nil
	})
	if err != nil {
		logger.Warn("banlist: failed to record failed login", "ip", remoteIP, "err", err)
	}
}

func (s *Store) banLocked(txn *badger.Txn, ip net.IP, duration time.Duration) error {
	key := []byte(banPrefix + ip.String())
	entry := badger.NewEntry(key, []byte(time.Now().Add(duration).Format(time.RFC3339))).WithTTL(duration)
	return txn.SetEntry(entry)
}

// Ban bans ip for duration, independent of the failed-login counter. No
// SITE subcommand calls it.
func (s *Store) Ban(ip net.IP, duration time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return s.banLocked(txn, ip, duration)
	})
}

// Unban removes any active ban on ip.
func (s *Store) Unban(ip net.IP) error {
	key := []byte(banPrefix + ip.String())
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("banlist: unban: %w", err)
	}
	return nil
}

// IsBanned reports whether ip currently has an active ban, consulted on
// every accepted connection before a session is spawned.
func (s *Store) IsBanned(ip net.IP) bool {
	key := []byte(banPrefix + ip.String())
	banned := false
	_ = s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			banned = true
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		return nil
	})
	return banned
}

// Entry describes one active ban as returned by List.
type Entry struct {
	IP        string
	ExpiresAt time.Time
}

// List returns all currently active bans. Badger's TTL already expires
// stale keys lazily; this only ever sees entries badger still considers
// live.
func (s *Store) List() ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(banPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			ip := string(item.Key()[len(banPrefix):])
			_ = item.Value(func(val []byte) error {
				expires, err := time.Parse(time.RFC3339, string(val))
				if err != nil {
					return nil
				}
				entries = append(entries, Entry{IP: ip, ExpiresAt: expires})
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("banlist: list: %w", err)
	}
	return entries, nil
}

// Sweep backs the scheduler's ban-sweep task: badger already hides TTL'd
// keys once they expire, and Sweep forces one value-log GC pass to reclaim
// their space promptly after a burst of short-lived bans.
func (s *Store) Sweep() error {
	err := s.db.RunValueLogGC(0.5)
	if err != nil && err != badger.ErrNoRewrite {
		return fmt.Errorf("banlist: sweep: %w", err)
	}
	return nil
}
