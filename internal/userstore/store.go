package userstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/amftpd/amftpd/internal/logger"
)

// Auth errors returned by TryAuthenticate.
var (
	ErrAuthFailed              = errors.New("userstore: invalid username or password")
	ErrAccountDisabled         = errors.New("userstore: account disabled")
	ErrExceedsConcurrentLogins = errors.New("userstore: exceeds concurrent login limit")
)

// ErrNotFound is returned by Find/TryUpdate/TryDelete for an unknown user.
var ErrNotFound = errors.New("userstore: account not found")

// ErrAlreadyExists is returned by TryAdd when the name is already taken.
var ErrAlreadyExists = errors.New("userstore: account already exists")

// defaultCompactionThreshold is the WAL size (bytes) that triggers a
// snapshot rewrite, per §4.3.
const defaultCompactionThreshold = 5 * 1024 * 1024

// Store is the durable, concurrency-safe account database described in
// §3/§4.3: a WAL of encrypted mutations layered over a compressed encrypted
// snapshot, with a single write mutex serializing CRUD and an fsnotify
// watcher for external snapshot changes.
type Store struct {
	snapshotPath string
	walPath      string
	passphrase   string
	key          []byte
	threshold    int64

	mu       sync.Mutex // serializes try_add/try_update/try_delete/compaction
	accounts map[string]Account
	wal      *wal

	concurrent sync.Map // NameKey -> *int32 active session count

	watcher *fsnotify.Watcher
	closeCh chan struct{}
}

// Options configures Open.
type Options struct {
	Dir                 string // directory holding snapshot.db, wal.log, salt
	Passphrase          string
	CompactionThreshold int64 // bytes; 0 uses the default
}

// Open loads (or bootstraps) the account database rooted at opts.Dir.
//
// If no snapshot exists yet, an empty one is synthesized with a default
// admin:admin administrator account, matching first-run expectations for a
// freshly deployed daemon.
func Open(opts Options) (*Store, error) {
	if opts.CompactionThreshold <= 0 {
		opts.CompactionThreshold = defaultCompactionThreshold
	}

	saltPath := filepath.Join(opts.Dir, "salt")
	salt, err := readOrCreateSaltFile(saltPath)
	if err != nil {
		return nil, fmt.Errorf("userstore salt: %w", err)
	}
	key := deriveKey(opts.Passphrase, salt)

	snapshotPath := filepath.Join(opts.Dir, "snapshot.db")
	walPath := filepath.Join(opts.Dir, "wal.log")

	accounts, err := loadOrBootstrap(snapshotPath, opts.Passphrase)
	if err != nil {
		return nil, err
	}

	w, err := openWAL(walPath, key)
	if err != nil {
		return nil, err
	}
	if err := w.replay(accounts); err != nil {
		return nil, fmt.Errorf("replay wal: %w", err)
	}

	s := &Store{
		snapshotPath: snapshotPath,
		walPath:      walPath,
		passphrase:   opts.Passphrase,
		key:          key,
		threshold:    opts.CompactionThreshold,
		accounts:     accounts,
		wal:          w,
		closeCh:      make(chan struct{}),
	}

	if watcher, err := fsnotify.NewWatcher(); err == nil {
		if err := watcher.Add(opts.Dir); err == nil {
			s.watcher = watcher
			go s.watchLoop()
		} else {
			watcher.Close()
		}
	}

	return s, nil
}

func loadOrBootstrap(path, passphrase string) (map[string]Account, error) {
	list, err := readSnapshot(path, passphrase)
	if err == nil {
		return toMap(list), nil
	}
	if !os.IsNotExist(err) && !errors.Is(err, ErrBadMagic) {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if !os.IsNotExist(err) {
		logger.Warn("userstore: snapshot unreadable, bootstrapping fresh store", "error", err)
	}

	hash, herr := HashPassword("admin")
	if herr != nil {
		return nil, herr
	}
	admin := Account{
		Name:         "admin",
		PasswordHash: hash,
		Home:         "/",
		Flags:        Flags{Admin: true, Siteop: true, AllowUpload: true, AllowDownload: true, AllowActive: true},
		PrimaryGroup: "admin",
	}
	accounts := map[string]Account{admin.NameKey(): admin}
	if err := writeSnapshot(path, passphrase, []Account{admin}); err != nil {
		return nil, fmt.Errorf("write bootstrap snapshot: %w", err)
	}
	return accounts, nil
}

func toMap(accounts []Account) map[string]Account {
	m := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		m[a.NameKey()] = a
	}
	return m
}

// TryAuthenticate verifies credentials and, on success, atomically
// increments the account's active-session counter.
func (s *Store) TryAuthenticate(name, password string) (Account, error) {
	acct, ok := s.Find(name)
	if !ok {
		return Account{}, ErrAuthFailed
	}
	if !VerifyPassword(password, acct.PasswordHash) {
		return Account{}, ErrAuthFailed
	}
	if acct.Disabled {
		return Account{}, ErrAccountDisabled
	}

	counterVal, _ := s.concurrent.LoadOrStore(acct.NameKey(), new(int32))
	counter := counterVal.(*int32)
	if acct.MaxConcurrent > 0 {
		for {
			cur := atomic.LoadInt32(counter)
			if uint32(cur) >= acct.MaxConcurrent {
				return Account{}, ErrExceedsConcurrentLogins
			}
			if atomic.CompareAndSwapInt32(counter, cur, cur+1) {
				break
			}
		}
	} else {
		atomic.AddInt32(counter, 1)
	}
	return acct, nil
}

// OnLogout decrements the account's active-session counter, saturating at 0.
func (s *Store) OnLogout(name string) {
	key := normalizeKey(name)
	counterVal, ok := s.concurrent.Load(key)
	if !ok {
		return
	}
	counter := counterVal.(*int32)
	for {
		cur := atomic.LoadInt32(counter)
		if cur <= 0 {
			return
		}
		if atomic.CompareAndSwapInt32(counter, cur, cur-1) {
			return
		}
	}
}

// Find returns the account for name, if any.
func (s *Store) Find(name string) (Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[normalizeKey(name)]
	return a, ok
}

// All returns a snapshot slice of every account, sorted by name for
// deterministic SITE USERS output.
func (s *Store) All() []Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NameKey() < out[j].NameKey() })
	return out
}

// TryAdd inserts a new account, failing if the name is taken.
func (s *Store) TryAdd(a Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := a.NameKey()
	if _, exists := s.accounts[key]; exists {
		return ErrAlreadyExists
	}
	if err := s.wal.append(EntryAddUser, key, a); err != nil {
		return err
	}
	s.accounts[key] = a
	return s.maybeCompactLocked()
}

// TryUpdate replaces an existing account's record.
func (s *Store) TryUpdate(a Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := a.NameKey()
	if _, exists := s.accounts[key]; !exists {
		return ErrNotFound
	}
	if err := s.wal.append(EntryUpdateUser, key, a); err != nil {
		return err
	}
	s.accounts[key] = a
	return s.maybeCompactLocked()
}

// TryDelete removes an account.
func (s *Store) TryDelete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizeKey(name)
	if _, exists := s.accounts[key]; !exists {
		return ErrNotFound
	}
	if err := s.wal.append(EntryDeleteUser, key, Account{}); err != nil {
		return err
	}
	delete(s.accounts, key)
	return s.maybeCompactLocked()
}

// maybeCompactLocked rewrites the snapshot and truncates the WAL once its
// size crosses the configured threshold. Caller must hold s.mu.
func (s *Store) maybeCompactLocked() error {
	if s.wal.size < s.threshold {
		return nil
	}
	return s.compactLocked()
}

func (s *Store) compactLocked() error {
	list := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		list = append(list, a)
	}
	if err := writeSnapshot(s.snapshotPath, s.passphrase, list); err != nil {
		return fmt.Errorf("compact: write snapshot: %w", err)
	}
	if err := s.wal.truncate(); err != nil {
		return fmt.Errorf("compact: truncate wal: %w", err)
	}
	return nil
}

// Compact forces an out-of-band snapshot rewrite and WAL truncation,
// exposed for the scheduler's periodic compaction task (§4.15).
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compactLocked()
}

// watchLoop reloads the in-memory map whenever the snapshot file changes
// underneath the store (e.g. restored from backup, edited out-of-band). A
// parse failure is logged and the previous map is left untouched.
func (s *Store) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != s.snapshotPath || (!ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create)) {
				continue
			}
			list, err := readSnapshot(s.snapshotPath, s.passphrase)
			if err != nil {
				logger.Warn("userstore: external snapshot reload failed, keeping previous state", "error", err)
				continue
			}
			s.mu.Lock()
			s.accounts = toMap(list)
			s.mu.Unlock()
			logger.Info("userstore: reloaded snapshot from external change")
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("userstore: watcher error", "error", err)
		case <-s.closeCh:
			return
		}
	}
}

// Close flushes a final snapshot and releases resources.
func (s *Store) Close() error {
	close(s.closeCh)
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.compactLocked(); err != nil {
		return err
	}
	return s.wal.close()
}

func normalizeKey(name string) string {
	a := Account{Name: name}
	return a.NameKey()
}
