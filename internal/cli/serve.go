package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/flaboy/aira-splitpay/pkg/database"
	"github.com/spf13/cobra"
)

var (
	listenAddr  string
	autoMigrate bool
	noWorkers   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the payment HTTP server and retry workers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "Run database migrations before serving")
	serveCmd.Flags().BoolVar(&noWorkers, "no-workers", false, "Do not start retry workers")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := startApp(ctx)
	if err != nil {
		return err
	}
	if autoMigrate {
		if err := database.Migrate(app.DB); err != nil {
			return err
		}
	}

	if !noWorkers {
		go app.RunWorkers(ctx)
	}

	srv := &http.Server{Addr: listenAddr, Handler: app.Server().Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("[Serve] Listening", "addr", listenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
