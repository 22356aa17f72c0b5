package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"terminal-gateway/internal/api"
	"terminal-gateway/internal/archive"
	"terminal-gateway/internal/command"
	"terminal-gateway/internal/config"
	"terminal-gateway/internal/device"
	"terminal-gateway/internal/dispatcher"
	"terminal-gateway/internal/fetch"
	"terminal-gateway/internal/logging"
	"terminal-gateway/internal/publish"
	"terminal-gateway/internal/registry"
	"terminal-gateway/internal/scheduler"
	"terminal-gateway/internal/server"
	"terminal-gateway/internal/status"
	"terminal-gateway/internal/store"
	"terminal-gateway/internal/usersync"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "terminal-gateway",
	Short: "Terminal Gateway - Attendance terminal access point",
	Long: `A gateway that biometric attendance terminals connect to over
WebSocket. It authenticates devices, mirrors their user directories and
resource settings, collects attendance and admin logs, and exposes a
management API for queueing configuration changes back to the devices.`,
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runGateway() {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger := logging.Initialize(level)
	if err := logging.SetupFileLogging(logger, cfg.LogFile); err != nil {
		logger.WithError(err).Fatal("Failed to set up file logging")
	}

	logger.WithField("listen_addr", cfg.ListenAddr).Info("Gateway starting up")

	if err := gatewayMain(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Gateway execution failed")
	}
}

func gatewayMain(cfg *config.Config, logger *logrus.Logger) error {
	st, err := store.New(store.Config{
		DatabasePath:  cfg.DatabasePath,
		EncryptionKey: cfg.EncryptionKeyBytes(),
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	// Sessions are connection-scoped; any logged_in flag surviving from a
	// previous run is stale.
	if err := st.ResetSessions(); err != nil {
		return fmt.Errorf("failed to reset sessions: %w", err)
	}

	reg := registry.New(logging.NewComponentLogger(logger, "registry"))
	devices := device.NewService(st, logging.NewComponentLogger(logger, "device"))
	statusSvc := status.NewService(reg, st, logging.NewComponentLogger(logger, "status"))
	syncSvc := usersync.NewService(reg, st,
		time.Duration(cfg.StaleSyncReset)*time.Second,
		logging.NewComponentLogger(logger, "usersync"))
	fetchSvc := fetch.NewService(reg, st, logging.NewComponentLogger(logger, "fetch"))
	commands := command.NewService(reg, st,
		time.Duration(cfg.CommandExpiry)*time.Second,
		logging.NewComponentLogger(logger, "command"))

	var publisher *publish.Publisher
	if cfg.RedisAddr != "" {
		publisher = publish.NewPublisher(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			logging.NewComponentLogger(logger, "publish"))
		defer publisher.Close()
	}

	var arc *archive.Archive
	if cfg.PostgresDSN != "" {
		arc, err = archive.New(cfg.PostgresDSN, logging.NewComponentLogger(logger, "archive"))
		if err != nil {
			return err
		}
		defer arc.Close()
	}

	disp := dispatcher.New(reg, st, devices, statusSvc, syncSvc, commands,
		publisher, arc, logging.NewComponentLogger(logger, "dispatcher"))
	wsServer := server.New(disp, logging.NewComponentLogger(logger, "server"))

	mgmtAPI := api.New(api.Config{
		JWTSecret:     cfg.JWTSecret,
		AdminUser:     cfg.AdminUser,
		AdminPassword: cfg.AdminPassword,
	}, st, fetchSvc, commands, syncSvc, statusSvc, logging.NewComponentLogger(logger, "api"))

	sched := scheduler.New(commands, statusSvc, syncSvc, scheduler.Intervals{
		CommandSweep: time.Duration(cfg.CommandSweepInterval) * time.Second,
		StatusPoll:   time.Duration(cfg.StatusPollInterval) * time.Second,
		UserSync:     time.Duration(cfg.UserSyncInterval) * time.Second,
		Expiry:       time.Duration(cfg.CommandExpiry) * time.Second,
	}, logging.NewComponentLogger(logger, "scheduler"))
	sched.Start(context.Background())
	defer sched.Stop()

	router := mux.NewRouter()
	router.Handle("/ws", wsServer)
	router.PathPrefix("/api/").Handler(mgmtAPI.Router())

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("Listening for terminal connections")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown was not clean")
	}

	logger.Info("Gateway stopped")
	return nil
}
