package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)

	require.Equal(t, ":2121", cfg.Server.ListenAddress)
	require.Equal(t, "amftpd", cfg.Server.ServerName)
	require.Equal(t, 50000, cfg.Server.PassivePortLow)
	require.Equal(t, 50100, cfg.Server.PassivePortHigh)
	require.Equal(t, "INFO", cfg.Logging.Level)
	require.Equal(t, "text", cfg.Logging.Format)
	require.Len(t, cfg.Sections, 1)
	require.Equal(t, "DEFAULT", cfg.Sections[0].Name)
}

func TestValidateRejectsMissingListenAddress(t *testing.T) {
	cfg := &Config{
		UserStore: UserStoreConfig{Dir: "d", Passphrase: "p"},
		LogsDir:   "logs",
	}
	err := Validate(cfg)
	require.Error(t, err)
}

func TestValidateAcceptsDefaultedConfig(t *testing.T) {
	cfg := &Config{
		UserStore: UserStoreConfig{Dir: "d", Passphrase: "p"},
	}
	ApplyDefaults(cfg)
	err := Validate(cfg)
	require.NoError(t, err)
}

func TestValidateRequiresArchiveBucketWhenEnabled(t *testing.T) {
	cfg := &Config{
		UserStore: UserStoreConfig{Dir: "d", Passphrase: "p"},
		Archive:   ArchiveConfig{Enabled: true},
	}
	ApplyDefaults(cfg)
	err := Validate(cfg)
	require.Error(t, err)
}
