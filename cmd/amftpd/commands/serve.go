package commands

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/amftpd/amftpd/internal/archive"
	"github.com/amftpd/amftpd/internal/banlist"
	"github.com/amftpd/amftpd/internal/config"
	"github.com/amftpd/amftpd/internal/credit"
	"github.com/amftpd/amftpd/internal/dupestore"
	"github.com/amftpd/amftpd/internal/ftpproto"
	"github.com/amftpd/amftpd/internal/ident"
	"github.com/amftpd/amftpd/internal/logger"
	"github.com/amftpd/amftpd/internal/policy"
	"github.com/amftpd/amftpd/internal/race"
	"github.com/amftpd/amftpd/internal/rulescript"
	"github.com/amftpd/amftpd/internal/scheduler"
	"github.com/amftpd/amftpd/internal/server"
	"github.com/amftpd/amftpd/internal/telemetry"
	"github.com/amftpd/amftpd/internal/userstore"
	"github.com/amftpd/amftpd/internal/vfs"
	"github.com/amftpd/amftpd/internal/xferlog"
	"github.com/amftpd/amftpd/pkg/metrics"
	metricsprom "github.com/amftpd/amftpd/pkg/metrics/prometheus"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the amftpd daemon",
	Long: `Run the amftpd daemon.

By default the daemon runs in the background. Use --foreground to run
under a process supervisor or for debugging.

Examples:
  amftpd serve
  amftpd serve --foreground
  amftpd serve --config /etc/amftpd/amftpd.yaml
  AMFTPD_LOGGING_LEVEL=DEBUG amftpd serve --foreground`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	serveCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/amftpd/amftpd.pid)")
	serveCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/amftpd/amftpd.log)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("amftpd starting", "version", Version, "config", getConfigSource(GetConfigFile()))

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics.InitRegistry(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
		defer metricsServer.Close()
	} else {
		logger.Info("metrics disabled")
	}

	ftpMetrics := metricsprom.NewFTPMetrics()
	badgerMetrics := metricsprom.NewBadgerMetrics()

	userStore, err := userstore.Open(userstore.Options{
		Dir:                 cfg.UserStore.Dir,
		Passphrase:          cfg.UserStore.Passphrase,
		CompactionThreshold: int64(cfg.UserStore.CompactionThreshold),
	})
	if err != nil {
		return fmt.Errorf("failed to open user store: %w", err)
	}
	defer userStore.Close()

	banStore, err := banlist.Open(banlist.Options{
		Dir:           cfg.BanList.Dir,
		FailThreshold: cfg.BanList.FailThreshold,
		FailWindow:    mustParseDuration(cfg.BanList.FailWindow, time.Minute*10),
		BanDuration:   mustParseDuration(cfg.BanList.BanDuration, time.Hour),
	})
	if err != nil {
		return fmt.Errorf("failed to open ban list: %w", err)
	}
	defer banStore.Close()

	dupeStore, err := dupestore.Open(cfg.DupeStore.Dir)
	if err != nil {
		return fmt.Errorf("failed to open dupe store: %w", err)
	}
	defer dupeStore.Close()

	xferLogger, err := xferlog.Open(filepath.Join(cfg.LogsDir, "xferlog"))
	if err != nil {
		return fmt.Errorf("failed to open xferlog: %w", err)
	}
	defer xferLogger.Close()

	fs, err := vfs.New(cfg.RootDir)
	if err != nil {
		return fmt.Errorf("failed to initialize filesystem root: %w", err)
	}

	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		archiver, err = archive.New(ctx, archive.Config{
			Bucket:          cfg.Archive.Bucket,
			KeyPrefix:       cfg.Archive.KeyPrefix,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			ForcePathStyle:  cfg.Archive.ForcePathStyle,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize archive offload: %w", err)
		}
		logger.Info("archive offload enabled", "bucket", cfg.Archive.Bucket)
	}

	dirAccess := policy.NewDirectoryAccessEvaluator(toDirectoryRules(cfg.Rules))
	sections := policy.NewSectionManager(toSections(cfg.Sections))
	fxpPolicy := &policy.FxpPolicy{Rules: toFxpRules(cfg.Fxp.Rules)}
	creditEngine := &credit.Engine{}

	var host rulescript.Host
	if cfg.RuleScript.Enabled {
		logger.Warn("rule_script.enabled is set but no script host is wired in this build; falling back to NullHost")
	}
	if host == nil {
		host = rulescript.NullHost{}
	}
	creditEngine.Host = host

	raceEngine := race.NewEngine()

	identClient := ident.Client{Timeout: mustParseDuration(cfg.Ident.Timeout, ident.DefaultTimeout)}

	var tlsConfig *tls.Config
	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	router := &ftpproto.Router{
		Store:             userStore,
		FS:                fs,
		DirAccess:         dirAccess,
		Sections:          sections,
		Credit:            creditEngine,
		Race:              raceEngine,
		Fxp:               fxpPolicy,
		Host:              host,
		Site:              ftpproto.NewSiteRegistry(),
		Sessions:          ftpproto.NewSessionRegistry(),
		Ident:             identClient,
		IdentEnabled:      cfg.Ident.Enabled,
		Ban:               banStore,
		ServerName:        cfg.Server.ServerName,
		BindAddress:       cfg.Server.ListenAddress,
		PassiveHost:       cfg.Server.PassiveHost,
		PassiveRange:      ftpproto.PortRange{Low: cfg.Server.PassivePortLow, High: cfg.Server.PassivePortHigh},
		TLSConfig:         tlsConfig,
		RequireTLSForAuth: cfg.Server.RequireTLSForAuth,
		LogsDir:           cfg.LogsDir,
		Xferlog:           xferLogger,
		Dupes:             dupeStore,
	}
	if archiver != nil {
		router.Archive = archiver
	}

	srv := server.New(server.Config{
		ListenAddress:   cfg.Server.ListenAddress,
		ShutdownTimeout: mustParseDuration(cfg.Server.ShutdownTimeout, 30*time.Second),
		IdleTimeout:     mustParseDuration(cfg.Server.IdleTimeout, 5*time.Minute),
	}, router, banStore, ftpMetrics)

	sched := scheduler.New([]scheduler.Task{
		{
			Name:     "user-store-compaction",
			Interval: mustParseDuration(cfg.Scheduler.CompactionInterval, time.Hour),
			Run:      func(ctx context.Context) error { return userStore.Compact() },
		},
		{
			Name:     "ban-list-sweep",
			Interval: mustParseDuration(cfg.Scheduler.BanSweepInterval, time.Minute),
			Run: func(ctx context.Context) error {
				err := banStore.Sweep()
				if err == nil {
					badgerMetrics.RecordGCRun("banlist")
				}
				return err
			},
		},
		{
			Name:     "dupe-store-gc",
			Interval: mustParseDuration(cfg.Scheduler.BanSweepInterval, time.Minute),
			Run: func(ctx context.Context) error {
				err := dupeStore.GC()
				if err == nil {
					badgerMetrics.RecordGCRun("dupestore")
				}
				return err
			},
		},
		{
			Name:     "race-state-aging",
			Interval: mustParseDuration(cfg.Scheduler.RaceAgingInterval, 10*time.Minute),
			Run: func(ctx context.Context) error {
				raceEngine.PruneOlderThan(mustParseDuration(cfg.Scheduler.RaceAgingMaxAge, 24*time.Hour))
				return nil
			},
		},
	})
	sched.Start(ctx)
	defer sched.Stop()

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer os.Remove(pidFile)
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("amftpd is running", "listen_address", cfg.Server.ListenAddress)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("server shutdown error", "error", err)
			return err
		}
		logger.Info("server stopped gracefully")
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
		logger.Info("server stopped")
	}

	return nil
}

// startDaemon forks amftpd serve --foreground as a detached background
// process, following the teacher's startDaemon fork/Setsid pattern.
func startDaemon() error {
	stateDir := GetDefaultStateDir()
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = filepath.Join(stateDir, "amftpd.pid")
	}

	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("amftpd is already running (PID %d)", pid)
					}
				}
			}
		}
		os.Remove(pidPath)
	}

	logPath := logFile
	if logPath == "" {
		logPath = filepath.Join(stateDir, "amftpd.log")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"serve", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	cmd := exec.Command(executable, daemonArgs...)

	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	cmd.Stdout = logFileHandle
	cmd.Stderr = logFileHandle
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	logFileHandle.Close()

	fmt.Printf("amftpd started in background (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	return nil
}

func mustParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func toDirectoryRules(in []config.RuleConfig) []policy.DirectoryRule {
	out := make([]policy.DirectoryRule, 0, len(in))
	for _, r := range in {
		rule := policy.DirectoryRule{
			Prefix:       r.Prefix,
			CanList:      parseTri(r.CanList),
			CanUpload:    parseTri(r.CanUpload),
			CanDownload:  parseTri(r.CanDownload),
			IsFree:       r.IsFree,
			MultiplyCost: r.MultiplyCost,
			UploadBonus:  r.UploadBonus,
		}
		if r.RatioOverride != nil {
			rule.RatioOverride = &policy.Ratio{
				UploadUnit:   r.RatioOverride.UploadUnit,
				DownloadUnit: r.RatioOverride.DownloadUnit,
			}
		}
		out = append(out, rule)
	}
	return out
}

func parseTri(s string) policy.Tri {
	switch s {
	case "allow":
		return policy.Allow
	case "deny":
		return policy.Deny
	default:
		return policy.Inherit
	}
}

func toSections(in []config.SectionConfig) []policy.Section {
	out := make([]policy.Section, 0, len(in))
	for _, s := range in {
		out = append(out, policy.Section{
			Name:           s.Name,
			Aliases:        s.Aliases,
			VirtualRoot:    s.VirtualRoot,
			FreeLeech:      s.FreeLeech,
			Ratio:          policy.Ratio{UploadUnit: s.UploadUnit, DownloadUnit: s.DownloadUnit},
			NukeMultiplier: s.NukeMultiplier,
		})
	}
	return out
}

func toFxpRules(in []config.FxpRuleConfig) []policy.FxpRule {
	out := make([]policy.FxpRule, 0, len(in))
	for _, r := range in {
		rule := policy.FxpRule{
			Section:      r.Section,
			RequireTLS:   r.RequireTLS,
			Allow:        r.Allow,
			DenyReason:   r.DenyReason,
			ExemptAdmins: r.ExemptAdmins,
		}
		if r.CIDR != "" {
			if _, ipnet, err := net.ParseCIDR(r.CIDR); err == nil {
				rule.CIDR = ipnet
			}
		}
		if r.Direction != "" {
			dir := policy.Outgoing
			if r.Direction == "incoming" {
				dir = policy.Incoming
			}
			rule.Direction = &dir
		}
		out = append(out, rule)
	}
	return out
}
