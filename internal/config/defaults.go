package config

// ApplyDefaults fills in zero-valued fields with the daemon's stock
// settings, following the teacher's per-section applyXDefaults style.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyUserStoreDefaults(&cfg.UserStore)
	applyBanListDefaults(&cfg.BanList)
	applyDupeStoreDefaults(&cfg.DupeStore)
	applySchedulerDefaults(&cfg.Scheduler)
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	if cfg.LogsDir == "" {
		cfg.LogsDir = "logs"
	}
	if cfg.RootDir == "" {
		cfg.RootDir = "data/ftproot"
	}
	if len(cfg.Sections) == 0 {
		cfg.Sections = []SectionConfig{{
			Name: "DEFAULT", VirtualRoot: "/", UploadUnit: 1, DownloadUnit: 1,
		}}
	}
}

func applyServerDefaults(s *ServerConfig) {
	if s.ListenAddress == "" {
		s.ListenAddress = ":2121"
	}
	if s.ServerName == "" {
		s.ServerName = "amftpd"
	}
	if s.PassivePortLow == 0 {
		s.PassivePortLow = 50000
	}
	if s.PassivePortHigh == 0 {
		s.PassivePortHigh = 50100
	}
	if s.IdleTimeout == "" {
		s.IdleTimeout = "5m"
	}
	if s.ShutdownTimeout == "" {
		s.ShutdownTimeout = "30s"
	}
}

func applyUserStoreDefaults(u *UserStoreConfig) {
	if u.Dir == "" {
		u.Dir = "data/users"
	}
	if u.CompactionThreshold == 0 {
		u.CompactionThreshold = 5 * 1024 * 1024
	}
}

func applyBanListDefaults(b *BanListConfig) {
	if b.Dir == "" {
		b.Dir = "data/bans"
	}
	if b.FailThreshold == 0 {
		b.FailThreshold = 5
	}
	if b.FailWindow == "" {
		b.FailWindow = "10m"
	}
	if b.BanDuration == "" {
		b.BanDuration = "1h"
	}
}

func applyDupeStoreDefaults(d *DupeStoreConfig) {
	if d.Dir == "" {
		d.Dir = "data/dupes"
	}
}

func applySchedulerDefaults(s *SchedulerConfig) {
	if s.CompactionInterval == "" {
		s.CompactionInterval = "1h"
	}
	if s.BanSweepInterval == "" {
		s.BanSweepInterval = "1m"
	}
	if s.RaceAgingInterval == "" {
		s.RaceAgingInterval = "10m"
	}
	if s.RaceAgingMaxAge == "" {
		s.RaceAgingMaxAge = "24h"
	}
}

func applyLoggingDefaults(l *LoggingConfig) {
	if l.Level == "" {
		l.Level = "INFO"
	}
	if l.Format == "" {
		l.Format = "text"
	}
	if l.Output == "" {
		l.Output = "stdout"
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.ServiceName == "" {
		t.ServiceName = "amftpd"
	}
	if t.ServiceVersion == "" {
		t.ServiceVersion = "dev"
	}
	if t.Endpoint == "" {
		t.Endpoint = "localhost:4317"
	}
	if t.SampleRate == 0 {
		t.SampleRate = 1.0
	}
}

func applyMetricsDefaults(m *MetricsConfig) {
	if m.Enabled && m.Port == 0 {
		m.Port = 9090
	}
}
