// Command streamd runs the Durable Streams HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/durable-streams/streamd/internal/config"
	"github.com/durable-streams/streamd/internal/cursor"
	"github.com/durable-streams/streamd/internal/handler"
	"github.com/durable-streams/streamd/internal/metrics"
	"github.com/durable-streams/streamd/internal/store"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "streamd",
		Short:         "Durable Streams server",
		Long:          "streamd serves durable, CDN-cacheable append-only streams over plain HTTP.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configFile string

	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the stream server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "path to config file")
	flags.String("listen", ":4437", "listen address")
	flags.String("data-dir", "", "data directory (empty = in-memory store)")
	flags.String("metadata-backend", "bbolt", "metadata index backend (bbolt or lmdb)")
	flags.Bool("watch-files", false, "wake readers on external segment writes")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	v.BindPFlag("listen_addr", flags.Lookup("listen"))
	v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	v.BindPFlag("metadata_backend", flags.Lookup("metadata-backend"))
	v.BindPFlag("watch_files", flags.Lookup("watch-files"))
	v.BindPFlag("log_level", flags.Lookup("log-level"))

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	cur := cursor.New(cfg.Epoch(), cfg.CursorInterval)
	h := handler.New(st, cur, handler.Options{
		LongPollTimeout:      cfg.LongPollTimeout,
		SSEReconnectInterval: cfg.SSEReconnectInterval,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("version", version),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openStore picks the file-backed store when a data directory is
// configured, otherwise an in-memory store for tests and scratch use.
func openStore(cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.DataDir == "" {
		logger.Warn("no data directory configured, streams will not survive restart")
		ms := store.NewMemoryStore()
		ms.Registry().OnChange(waiterGauge)
		return ms, nil
	}

	fs, err := store.NewFileStore(store.FileStoreConfig{
		DataDir:         cfg.DataDir,
		MetadataBackend: cfg.MetadataBackend,
		MaxFileHandles:  cfg.MaxFileHandles,
		CleanupInterval: cfg.CleanupInterval,
		WatchFiles:      cfg.WatchFiles,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	fs.Registry().OnChange(waiterGauge)
	return fs, nil
}

func waiterGauge(delta int) {
	metrics.ActiveWaiters.Add(float64(delta))
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
