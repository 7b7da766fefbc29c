package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"playbookd/internal/config"
	"playbookd/internal/coordinator"
	"playbookd/internal/handler"
	"playbookd/internal/history"
	"playbookd/internal/registry"
	"playbookd/internal/stats"
	"playbookd/internal/workspace"
)

// set via -ldflags at release time
var version = "dev"

var (
	flagConfigPath string
	flagVerbose    bool
)

var rootCmd = &cobra.Command{
	Use:          "playbookd",
	Short:        "HTTP service that runs Ansible playbooks and tracks their executions",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("playbookd", version)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "playbookd.yaml", "config file to load; defaults apply when absent")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "log with source locations")
	rootCmd.SilenceErrors = true
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "playbookd failed:", err)
		os.Exit(1)
	}
}

func serve() error {
	flags := log.LstdFlags | log.LUTC
	if flagVerbose {
		flags |= log.Lshortfile
	}
	logger := log.New(os.Stdout, "", flags)
	logger.Printf("Server is starting...")

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return err
	}

	hist, err := history.Open(cfg.HistoryDB)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer hist.Close()

	ws := workspace.New(cfg.BaseDir)
	reg := registry.New()
	coord := coordinator.New(logger, ws, reg, hist, coordinator.Options{
		PlaybookCommand: cfg.PlaybookCommand,
		Timeout:         cfg.JobTimeout.Std(),
		Retention:       cfg.RegistryRetention.Std(),
		HistoryLimit:    cfg.HistoryLimit,
	})
	api := handler.NewAPI(logger, ws, coord, reg, hist, stats.New(hist))

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      handler.Logging(logger)(api.Routes()),
		ErrorLog:     logger,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Printf("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(ctx); err != nil {
			logger.Printf("Could not gracefully shutdown the server: %v", err)
		}
		if err := coord.Shutdown(ctx); err != nil {
			logger.Printf("Jobs did not finish in time: %v", err)
		}
		close(done)
	}()

	logger.Println("Server is ready to handle requests at", cfg.Listen)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("could not listen on %s: %w", cfg.Listen, err)
	}

	<-done
	logger.Printf("Server stopped")
	return nil
}
