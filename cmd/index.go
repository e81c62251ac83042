package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kayz/maniflow/internal/index"
	"github.com/kayz/maniflow/internal/logger"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "(Re)build the manifest retrieval index from the catalog",
	RunE:  runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	emb, err := index.NewOpenAIEmbeddingProvider(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}

	ix, err := index.Open(cfg.Retrieval, emb)
	if err != nil {
		return fmt.Errorf("failed to open retrieval index: %w", err)
	}

	docs, err := index.LoadCatalog(cfg.Manifests.Catalog)
	if err != nil {
		return fmt.Errorf("failed to load manifest catalog: %w", err)
	}

	if err := ix.Build(cmd.Context(), docs); err != nil {
		return fmt.Errorf("failed to build index: %w", err)
	}

	logger.Info("[Index] Collection %q now holds %d documents", cfg.Retrieval.Collection, ix.Count())
	return nil
}
