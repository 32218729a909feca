package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucy-a11y/shuffle/internal/api"
	"github.com/lucy-a11y/shuffle/internal/metrics"
	"github.com/lucy-a11y/shuffle/internal/scheduler"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and background scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		metrics.Init()

		var sched *scheduler.Service
		if cfg.Scheduler.Enabled {
			opts := []scheduler.Option{scheduler.WithCRMRetrier(env.Syncer)}
			if env.Checker != nil {
				opts = append(opts, scheduler.WithHealthChecker(env.Checker))
			}
			sched = scheduler.New(env.Store, env.Service, cfg.Scheduler, opts...)
			sched.Start(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		server := api.NewServer(env.Service, env.Store, api.Options{CORSOrigins: cfg.Server.CORSOrigins})
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- eris.Wrap(err, "server listen")
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return err
			}
		case <-ctx.Done():
		}

		zap.L().Info("shutting down server")
		timeout := time.Duration(cfg.Server.ShutdownTimeoutSecs) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("http shutdown", zap.Error(err))
		}
		if sched != nil {
			if err := sched.Stop(shutdownCtx); err != nil {
				zap.L().Warn("scheduler shutdown", zap.Error(err))
			}
		}
		if err := env.Service.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("sessions still running at shutdown; they resume on next start", zap.Error(err))
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
