package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quote-sourcing/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the quote API and voice webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port

		env, err := initApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store, env.Cache)
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env, cfg.Voice.WebhookSecret),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// startWebhookListener serves the API on the configured port so the voice
// platform can deliver call events while a command waits on them. The
// returned func shuts the listener down.
func startWebhookListener(env *appEnv) (func(), error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return nil, eris.Wrapf(err, "webhook listener on port %d", cfg.Server.Port)
	}
	srv := &http.Server{
		Handler:           newRouter(env, cfg.Voice.WebhookSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			zap.L().Error("webhook listener stopped", zap.Error(err))
		}
	}()
	zap.L().Info("webhook listener started", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
