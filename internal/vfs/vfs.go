// Package vfs maps virtual FTP paths onto a chrooted physical directory tree
// and renders directory listings in UNIX-ls and MLSD form.
package vfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/amftpd/amftpd/internal/pathutil"
)

// ErrPermissionDenied is returned when a mapped path would escape the root.
var ErrPermissionDenied = errors.New("permission denied")

// FS roots virtual paths at a fully-resolved physical directory.
type FS struct {
	root string
}

// New resolves root (symlinks included) and returns an FS chrooted there.
func New(root string) (*FS, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(root, 0o755); mkErr != nil {
				return nil, fmt.Errorf("create root: %w", mkErr)
			}
			resolved, err = filepath.EvalSymlinks(root)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve root: %w", err)
		}
	}
	return &FS{root: resolved}, nil
}

// Root returns the resolved physical root directory.
func (fs *FS) Root() string { return fs.root }

// MapToPhysical joins the root with a normalized virtual path and rejects
// the result unless it is the root itself or a descendant of it. This is
// the only path-escape guard in the system: even a symlink planted inside
// the tree cannot walk the caller out, because EvalSymlinks resolves the
// joined path before the containment check.
func (fs *FS) MapToPhysical(virt string) (string, error) {
	virt = pathutil.Normalize("/", virt)
	joined := filepath.Join(fs.root, filepath.FromSlash(virt))

	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if os.IsNotExist(err) {
			// Target doesn't exist yet (e.g. STOR destination, MKD target):
			// validate containment on the existing parent chain instead.
			resolved, err = fs.resolveMissing(joined)
			if err != nil {
				return "", err
			}
		} else {
			return "", err
		}
	}

	if !fs.withinRoot(resolved) {
		return "", ErrPermissionDenied
	}
	return resolved, nil
}

func (fs *FS) resolveMissing(joined string) (string, error) {
	parent := filepath.Dir(joined)
	base := filepath.Base(joined)
	for {
		resolved, err := filepath.EvalSymlinks(parent)
		if err == nil {
			return filepath.Join(resolved, base), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		if parent == fs.root || parent == string(filepath.Separator) || parent == "." {
			return filepath.Join(parent, base), nil
		}
		base = filepath.Join(filepath.Base(parent), base)
		parent = filepath.Dir(parent)
	}
}

func (fs *FS) withinRoot(resolved string) bool {
	rel, err := filepath.Rel(fs.root, resolved)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// Entry describes one directory entry for listing renderers.
type Entry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// ReadDir lists the physical directory behind virt, sorted by name.
func (fs *FS) ReadDir(virt string) ([]Entry, error) {
	phys, err := fs.MapToPhysical(virt)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(phys)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			IsDir:   de.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

var monthNames = [...]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// UnixListLine renders one C-locale `ls -l`-style line for an entry.
func UnixListLine(e Entry, owner, group string) string {
	perm := "-rw-r--r--"
	size := e.Size
	if e.IsDir {
		perm = "drwxr-xr-x"
		size = 0
	}
	t := e.ModTime.Local()
	return fmt.Sprintf("%s 1 %s %s %13d %s %2d %02d:%02d %s",
		perm, owner, group, size, monthNames[t.Month()-1], t.Day(), t.Hour(), t.Minute(), e.Name)
}

// MLSDLine renders one RFC 3659 machine-listing fact line for an entry.
func MLSDLine(e Entry) string {
	modify := e.ModTime.UTC().Format("20060102150405")
	if e.IsDir {
		return fmt.Sprintf("type=dir;modify=%s;perm=el; %s", modify, e.Name)
	}
	return fmt.Sprintf("type=file;modify=%s;size=%d;perm=rl; %s", modify, e.Size, e.Name)
}
