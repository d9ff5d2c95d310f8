package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/klubi/reagent/internal/apiserver"
	"github.com/klubi/reagent/internal/config"
	"github.com/klubi/reagent/internal/controller"
	"github.com/klubi/reagent/internal/llm"
	"github.com/klubi/reagent/internal/store"
	v1 "github.com/klubi/reagent/pkg/apis/v1"
)

func newServeCmd() *cobra.Command {
	var (
		port      int
		host      string
		dataDir   string
		storeType string
		workers   int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the reagent run server",
		Long: `Start the HTTP API and the run controller.

Runs submitted through the API are executed by a pool of workers, and their
progress is recorded in the run status as the loop advances.`,
		Example: `  reagent serve
  reagent serve --store bolt --workers 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// 1. Build configuration with CLI overrides.
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.Store.DataDir = dataDir
			}
			if cmd.Flags().Changed("store") {
				cfg.Store.Type = storeType
			}
			if cmd.Flags().Changed("workers") {
				cfg.Server.Workers = workers
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			// 2. Create logger.
			logger, err := newLogger(cfg.Log, zap.InfoLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			// 3. Open the run store.
			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			runs := store.NewRuns(s)

			// 4. Create the model backend.
			backend, err := llm.New(cfg, logger)
			if err != nil {
				return err
			}

			// 5. Create controller manager and register the run controller.
			mgr := controller.NewManager(s, logger)
			runCtrl := controller.NewRunController(runs, controller.ConfigBuilder(cfg, backend, logger), logger)
			mgr.Register("RunController", runCtrl, []string{v1.KindRun}, cfg.Server.Workers)

			// 6. Start controller manager.
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := mgr.Start(ctx); err != nil {
				return fmt.Errorf("starting controller manager: %w", err)
			}

			// 7. Create and start API server.
			apiSrv := apiserver.NewServer(cfg.ServerAddress(), runs, backend, logger)

			banner := color.New(color.FgCyan, color.Bold)
			banner.Println("reagent run server")
			fmt.Printf("   API Server: http://%s\n", cfg.ServerAddress())
			fmt.Printf("   Backend:    %s (%s)\n", cfg.Backend.Provider, cfg.Backend.Model)
			fmt.Printf("   Store:      %s\n", describeStore(cfg))
			fmt.Printf("   Workers:    %d\n", cfg.Server.Workers)
			fmt.Println()

			errCh := make(chan error, 1)
			go func() {
				if err := apiSrv.Start(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			// 8. Wait for interrupt signal for graceful shutdown.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			case err := <-errCh:
				logger.Error("API server error", zap.Error(err))
				cancel()
				mgr.Stop()
				return err
			}

			fmt.Println()
			logger.Info("shutting down gracefully...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			if err := apiSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("API server shutdown error", zap.Error(err))
			}

			// Cancelling the root context stops in-flight runs; Stop waits for them.
			cancel()
			mgr.Stop()

			logger.Info("reagent server stopped")
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 7118, "API server port")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "API server host")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory for the bolt store (default: ~/.reagent/data)")
	cmd.Flags().StringVar(&storeType, "store", "", "Run store: memory|bolt (default from config)")
	cmd.Flags().IntVar(&workers, "workers", 1, "Number of runs executed concurrently")

	return cmd
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Store.Type == config.StoreBolt {
		s, err := store.NewBoltStore(cfg.DBPath())
		if err != nil {
			return nil, fmt.Errorf("opening store at %s: %w", cfg.DBPath(), err)
		}
		return s, nil
	}
	return store.NewMemoryStore(), nil
}

func describeStore(cfg *config.Config) string {
	if cfg.Store.Type == config.StoreBolt {
		return "bolt " + cfg.DBPath()
	}
	return "memory"
}
