package commands

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/amftpd/amftpd/internal/config"
)

// configFileExists reports whether path names a readable file, mirroring
// config.DefaultConfigExists for an arbitrary path rather than only the
// conventional default.
func configFileExists(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// randomPassphrase generates a fresh hex-encoded user-store passphrase for
// `amftpd init`, analogous to the teacher's random JWT secret on first run.
func randomPassphrase() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "change-me"
	}
	return hex.EncodeToString(buf)
}

// getConfigSource describes where the config was loaded from, for the
// startup log line.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// GetDefaultStateDir returns the default state directory path for PID/log
// files in daemon mode.
func GetDefaultStateDir() string {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "/tmp"
		}
		stateDir = filepath.Join(homeDir, ".local", "state")
	}
	return filepath.Join(stateDir, "amftpd")
}

// GetDefaultPidFile returns the default PID file path.
func GetDefaultPidFile() string {
	return filepath.Join(GetDefaultStateDir(), "amftpd.pid")
}

// GetDefaultLogFile returns the default log file path for daemon mode.
func GetDefaultLogFile() string {
	return filepath.Join(GetDefaultStateDir(), "amftpd.log")
}
