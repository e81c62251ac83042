package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kayz/maniflow/internal/config"
	"github.com/kayz/maniflow/internal/flow"
	"github.com/kayz/maniflow/internal/httpapi"
	"github.com/kayz/maniflow/internal/index"
	"github.com/kayz/maniflow/internal/llm"
	"github.com/kayz/maniflow/internal/logger"
	"github.com/kayz/maniflow/internal/reaper"
	"github.com/kayz/maniflow/internal/session"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the maniflow HTTP API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	engine, ix, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	if ix.Count() == 0 {
		logger.Info("[Serve] Empty index, building from %s", cfg.Manifests.Catalog)
		docs, err := index.LoadCatalog(cfg.Manifests.Catalog)
		if err != nil {
			return fmt.Errorf("failed to load manifest catalog: %w", err)
		}
		if err := ix.Build(cmd.Context(), docs); err != nil {
			return fmt.Errorf("failed to build index: %w", err)
		}
	}

	sweeper := reaper.New(engine.Store(), cfg.Reaper.Schedule, time.Duration(cfg.Reaper.TTLMinutes)*time.Minute)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start session reaper: %w", err)
	}
	defer sweeper.Stop()

	server := httpapi.NewServer(engine)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[Serve] Listening on http://127.0.0.1:%d", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		logger.Info("[Serve] Received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// buildEngine wires provider, oracle, retrieval index and session store
// into the conversation engine.
func buildEngine(cfg *config.Config) (*flow.Engine, *index.Index, error) {
	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	oracle := llm.NewOracle(provider, time.Duration(cfg.LLM.TimeoutSeconds)*time.Second)
	logger.Info("[Serve] LLM provider: %s", provider.Name())

	emb, err := index.NewOpenAIEmbeddingProvider(cfg.Embedding)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	ix, err := index.Open(cfg.Retrieval, emb)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open retrieval index: %w", err)
	}

	var store session.Store
	switch cfg.Store.Backend {
	case "sqlite":
		store, err = session.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session store: %w", err)
		}
		logger.Info("[Serve] Session store: sqlite (%s)", cfg.Store.Path)
	default:
		store = session.NewMemoryStore()
		logger.Info("[Serve] Session store: memory")
	}

	return flow.NewEngine(oracle, ix, store, cfg.Retrieval.SimilarityThreshold), ix, nil
}
