package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rcwatch/rcwatch/internal/core/config"
	"github.com/rcwatch/rcwatch/internal/core/history"
	"github.com/rcwatch/rcwatch/internal/core/notify"
	"github.com/rcwatch/rcwatch/internal/core/server"
	"github.com/rcwatch/rcwatch/internal/core/service"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// notifyFlushTimeout bounds how long shutdown waits for queued notifications.
const notifyFlushTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen for feed events and deliver alerts",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("feed-host", "127.0.0.1", "feed listener host")
	serveCmd.Flags().Int("feed-port", 6667, "feed listener port")
	serveCmd.Flags().String("grpc-host", "0.0.0.0", "health endpoint host")
	serveCmd.Flags().Int("grpc-port", 50051, "health endpoint port (0 disables)")
	serveCmd.Flags().String("watches-file", "", "YAML file of preset watches")
	serveCmd.Flags().Int("max-buffer-bytes", 65536, "per-source reassembly buffer bound (0 = unbounded)")
	serveCmd.Flags().Bool("stdin", false, "read feed lines from standard input instead of listening")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if len(cfg.TrustedSources) == 0 {
		slog.Warn("no trusted sources configured, every feed line will be dropped")
	}

	var recorder *history.Recorder
	database, err := openDatabase(ctx, false)
	if err != nil {
		return err
	}
	if database != nil {
		defer database.Close()
		if err := requireMigrated(ctx, database); err != nil {
			return err
		}
		recorder, err = history.NewRecorder(database)
		if err != nil {
			return fmt.Errorf("failed to load queries: %w", err)
		}
	}

	svc, err := service.NewAlertService(cfg, notify.NewWriterSink(cmd.OutOrStdout()), recorder, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	if cfg.WatchesFile != "" {
		if _, err := svc.LoadPresets(cfg.WatchesFile); err != nil {
			// Broken presets are reported, the valid ones stay active
			slog.Error("some preset watches were not installed", "error", err)
		}
	}

	feedServer, err := svc.NewFeedServer()
	if err != nil {
		return fmt.Errorf("failed to create feed server: %w", err)
	}

	slog.Info("starting rcwatch",
		"version", Version,
		"feed", cfg.FeedAddr(),
		"watches", len(svc.Watches()),
		"history", recorder != nil)

	fromStdin, _ := cmd.Flags().GetBool("stdin")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if fromStdin {
			// End of input ends the process
			defer stop()
			return feedServer.ServeReader(gctx, os.Stdin)
		}
		return feedServer.ListenAndServe(gctx, cfg.FeedAddr())
	})

	if cfg.GRPC.Port != 0 {
		grpcServer, err := server.NewGRPCServer(cfg.GRPCAddr())
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}
		g.Go(func() error {
			slog.Info("health endpoint listening", "addr", cfg.GRPCAddr())
			return grpcServer.Start(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return grpcServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		slog.Info("shutting down gracefully")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), notifyFlushTimeout)
	defer cancel()
	if closeErr := svc.Close(flushCtx); closeErr != nil {
		slog.Warn("pending notifications dropped", "error", closeErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
