// Package xferlog writes one line per completed transfer in the standard
// wu-ftpd xferlog format, grounded on gonzalop/ftp's session.logTransfer:
// current-time transfer-time remote-host file-size filename transfer-type
// special-action-flag direction access-mode username service-name
// authentication-method authenticated-user-id completion-status.
package xferlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Direction classifies a completed transfer.
type Direction int

const (
	Outgoing Direction = iota // RETR
	Incoming                  // STOR/APPE
)

// Entry describes one completed transfer.
type Entry struct {
	RemoteHost    string
	Bytes         int64
	Filename      string
	ASCII         bool // false => binary ("b")
	Direction     Direction
	Anonymous     bool
	User          string
	IdentVerified bool // true => authentication-method "1" (rfc931/ident)
	IdentUser     string
	Duration      time.Duration
	Completed     bool // false => completion-status "i" (incomplete)
}

// Logger appends xferlog lines to an underlying writer, serialized by a
// mutex since multiple sessions share one log file.
type Logger struct {
	mu sync.Mutex
	w  io.Writer
	f  *os.File
}

// Open opens (creating/appending to) the xferlog file at path.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("xferlog: open: %w", err)
	}
	return &Logger{w: f, f: f}, nil
}

// Close closes the underlying file, if any.
func (l *Logger) Close() error {
	if l.f == nil {
		return nil
	}
	return l.f.Close()
}

// Log appends one formatted xferlog line for e.
func (l *Logger) Log(e Entry) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write([]byte(formatLine(e)))
}

func formatLine(e Entry) string {
	now := time.Now()

	transferTime := int64(e.Duration.Seconds())
	if transferTime == 0 {
		transferTime = 1
	}

	transferType := "b"
	if e.ASCII {
		transferType = "a"
	}

	direction := "o"
	if e.Direction == Incoming {
		direction = "i"
	}

	accessMode := "r"
	if e.Anonymous {
		accessMode = "a"
	}

	authMethod := "0"
	authUserID := "*"
	if e.IdentVerified {
		authMethod = "1"
		if e.IdentUser != "" {
			authUserID = e.IdentUser
		}
	}

	completionStatus := "c"
	if !e.Completed {
		completionStatus = "i"
	}

	return fmt.Sprintf("%s %d %s %d %s %s %s %s %s %s %s %s %s %s\n",
		now.Format("Mon Jan 02 15:04:05 2006"),
		transferTime,
		e.RemoteHost,
		e.Bytes,
		e.Filename,
		transferType,
		"_",
		direction,
		accessMode,
		e.User,
		"ftp",
		authMethod,
		authUserID,
		completionStatus,
	)
}
