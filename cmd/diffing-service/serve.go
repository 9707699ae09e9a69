package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/webmonitoring/diffing-service/internal/config"
	"github.com/webmonitoring/diffing-service/internal/fetch"
	"github.com/webmonitoring/diffing-service/internal/logging"
	"github.com/webmonitoring/diffing-service/internal/server"
	"github.com/webmonitoring/diffing-service/internal/workerpool"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the diffing HTTP server",
	Example: "# diffing-service serve\n" +
		"# DIFFING_SERVICE_CONFIG=prod.yaml diffing-service serve",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}

		logging.SetOptions(logging.Options{Stdout: cfg.LogFile == "", Level: cfg.LogLevel, Filename: cfg.LogFile})

		pool, err := workerpool.New(workerpool.Config{
			WorkerCount:     cfg.WorkerCount,
			Spawn:           spawnWorker,
			RestartOnBroken: cfg.RestartOnBroken,
			OnBroken: func(code int) {
				logging.Errorf("diff worker pool permanently broken, shutting down (exit %d)", code)
				os.Exit(code)
			},
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start diff worker pool: %v\n", err)
			os.Exit(1)
		}

		srv := server.New(cfg, fetch.New(), pool)

		httpSrv := &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      srv.Handler(),
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 0,
		}

		go func() {
			logging.Infof("diffing-service listening on %s", cfg.ListenAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Errorf("http server error: %v", err)
				os.Exit(1)
			}
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(ctxShutdown)
		logging.Infof("diffing-service stopped")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
