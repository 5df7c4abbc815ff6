package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/machinehealth/cci/pkg"
	"github.com/machinehealth/cci/pkg/calibrate"
	"github.com/machinehealth/cci/pkg/daemon"
	"github.com/machinehealth/cci/pkg/logx"
	"github.com/machinehealth/cci/pkg/pidfile"
	"github.com/machinehealth/cci/pkg/store"
)

var (
	logLevel    = flag.String("log-level", "", "Log level (debug|info|warn|error|trace), overrides CCI_LOG_LEVEL")
	profilePath = flag.String("profile", "", "Calibration profile JSON path, overrides CCI_PROFILE_PATH")
	version     = flag.Bool("version", false, "Print version and exit")
)

const daemonVersion = "1.2.0"

func main() {
	flag.Parse()

	if *version {
		os.Stdout.WriteString("ccid " + daemonVersion + "\n")
		return
	}

	config, err := daemon.LoadConfig()
	if err != nil {
		logx.NewLogger("info", "ccid").Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		config.LogLevel = *logLevel
	}
	if *profilePath != "" {
		config.ProfilePath = *profilePath
	}

	logger := logx.NewLogger(config.LogLevel, "ccid")
	logger.Info("Starting condition index daemon", "version", daemonVersion)

	pf := pidfile.New(config.PIDFile)
	if err := pf.Create(); err != nil {
		logger.Error("Failed to create PID file", "path", pf.Path(), "error", err)
		os.Exit(1)
	}
	exit := func(code int) {
		if err := pf.Remove(); err != nil {
			logger.Warn("Failed to remove PID file", "error", err)
		}
		os.Exit(code)
	}

	profile, err := loadProfile(config, logger)
	if err != nil {
		logger.Error("Failed to load calibration profile", "error", err)
		exit(1)
	}

	d, err := daemon.New(config, profile, logger)
	if err != nil {
		logger.Error("Failed to initialize daemon", "error", err)
		exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", "signal", sig.String())
		cancel()
	}()

	if err := d.Run(ctx); err != nil {
		logger.Error("Daemon failed", "error", err)
		exit(1)
	}
	exit(0)
}

// loadProfile resolves the calibration profile: an explicit JSON artifact
// wins, otherwise the asset class is looked up in the profile store.
func loadProfile(config *daemon.Config, logger *logx.Logger) (*pkg.CalibrationProfile, error) {
	if config.ProfilePath != "" {
		logger.Info("Loading profile from file", "path", config.ProfilePath)
		return calibrate.LoadProfile(config.ProfilePath)
	}

	ps, err := store.OpenProfileStore(config.ProfileStorePath, logger.WithComponent("store"))
	if err != nil {
		return nil, err
	}
	defer ps.Close()

	logger.Info("Loading profile from store",
		"path", config.ProfileStorePath, "class", config.AssetClass)
	return ps.Load(config.AssetClass)
}
