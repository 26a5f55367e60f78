package ftpproto

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/amftpd/amftpd/internal/logger"
	"github.com/amftpd/amftpd/internal/race"
)

// appendRaceLog appends one line per completed race to logs/races.log,
// independent of logs/nukes.log (SITE RACELOG, see SPEC_FULL.md's
// supplemented-features section).
func appendRaceLog(r *Router, st race.State, outcome string) {
	var userParts []string
	for user, bytes := range st.UserBytes {
		userParts = append(userParts, fmt.Sprintf("%s:%dKB", user, bytes/1024))
	}
	line := fmt.Sprintf("%s | %s | %s | section=%s | total=%dKB | files=%d | %s\n",
		time.Now().UTC().Format(time.RFC3339), outcome, st.ReleasePath, st.Section,
		st.TotalBytes/1024, st.FileCount, strings.Join(userParts, " "))
	appendLogFile(r, "races.log", line)
}

// appendLogFile appends line to <logsDir>/name, creating the directory and
// file as needed.
func appendLogFile(r *Router, name, line string) {
	dir := r.LogsDir
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("failed to create logs dir", "err", err)
		return
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Warn("failed to open log file", "name", name, "err", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		logger.Warn("failed to append log file", "name", name, "err", err)
	}
}
