package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mspro-labs/koredoko/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Web UI and JSON API server",
	Long: `Serves the upload page on / and the JSON API on /api/upload,
/api/generate-map-url and /api/health. The same handlers are mounted
without the /api prefix so another koredoko instance in remote mode can use
this one as its backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Setup
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.env.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 2. Build the HTTP server
	srv, err := server.New(server.Options{
		Service:  a.service,
		Backend:  a.backend,
		Storage:  a.store,
		History:  a.history(),
		Settings: a.settings,
		Logger:   a.logger,
	}).HTTPServer()
	if err != nil {
		return err
	}

	// 3. Start and wait for a signal
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("web UI started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
