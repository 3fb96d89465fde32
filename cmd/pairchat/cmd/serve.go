package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/pairchat/internal/attachment"
	"github.com/Tyrowin/pairchat/internal/auth"
	"github.com/Tyrowin/pairchat/internal/config"
	"github.com/Tyrowin/pairchat/internal/hub"
	"github.com/Tyrowin/pairchat/internal/logging"
	"github.com/Tyrowin/pairchat/internal/server"
	"github.com/Tyrowin/pairchat/internal/store"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat server",
	Long: `Run the HTTP and WebSocket server until SIGINT or SIGTERM.

Configuration comes from defaults, a .env file, the --config YAML file and
environment variables, later sources winning.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return err
	}

	db, err := store.Open(cfg.DataDir, store.WithLogger(logger), store.WithRetries(cfg.StoreRetries))
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("close store", "error", err)
		}
	}()

	attachments, err := attachment.NewStore(cfg.UploadDir)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	h := hub.New(db, attachments,
		hub.WithConfig(server.HubConfig(cfg)),
		hub.WithLogger(logger),
		hub.WithRegisterer(reg),
	)
	go h.Run()
	logger.Info("Hub started and ready to manage WebSocket connections")

	srv := server.New(server.Deps{
		Config:      cfg,
		Hub:         h,
		Tokens:      auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL),
		Passwords:   auth.NewPasswordHasher(auth.DefaultBcryptCost),
		Users:       db,
		Messages:    db,
		Attachments: attachments,
		Gatherer:    reg,
		Logger:      logger,
	})
	httpServer := server.CreateServer(cfg.Port, srv.Handler())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil && runErr == nil {
		runErr = err
	}
	if err := h.Shutdown(shutdownTimeout); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
