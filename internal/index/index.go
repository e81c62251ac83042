// Package index builds and queries the semantic retrieval collection
// over the manifest template corpus.
package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/philippgille/chromem-go"

	"github.com/kayz/maniflow/internal/config"
	"github.com/kayz/maniflow/internal/logger"
)

// Hit is one nearest-neighbor result. Lower Distance means more
// similar; callers convert via similarity = 1 - Distance.
type Hit struct {
	Content  string
	Source   string
	Distance float64
}

// Index is the chromem-backed retrieval oracle.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	emb        EmbeddingProvider
}

// Open loads (or creates) the persistent collection.
func Open(cfg config.RetrievalConfig, emb EmbeddingProvider) (*Index, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "chromem.db")
	db, err := chromem.NewPersistentDB(dbPath, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem DB: %w", err)
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection: %w", err)
	}

	return &Index{db: db, collection: collection, emb: emb}, nil
}

// Count returns the number of indexed documents.
func (ix *Index) Count() int {
	return ix.collection.Count()
}

// Build (re)indexes the corpus. Existing entries for the same ids are
// overwritten, so rebuilding after a corpus change is safe.
func (ix *Index) Build(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return fmt.Errorf("no documents to index")
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}

	embeddings, err := ix.emb.CreateEmbedding(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed corpus: %w", err)
	}
	if len(embeddings) != len(docs) {
		return fmt.Errorf("embedding count mismatch: %d texts, %d vectors", len(docs), len(embeddings))
	}

	entries := make([]chromem.Document, 0, len(docs))
	for i, doc := range docs {
		entries = append(entries, chromem.Document{
			ID:        doc.Source,
			Embedding: embeddings[i],
			Content:   doc.Content,
			Metadata: map[string]string{
				"source":      doc.Source,
				"description": doc.Description,
				"keywords":    doc.Keywords,
			},
		})
	}

	if err := ix.collection.AddDocuments(ctx, entries, 1); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}

	logger.Info("[Index] Indexed %d manifest templates", len(entries))
	return nil
}

// Search returns the topK nearest templates for a query. chromem scores
// by cosine similarity; the hit carries the equivalent distance so the
// retrieval contract (lower = more similar) holds.
func (ix *Index) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 1
	}
	if n := ix.collection.Count(); n < topK {
		topK = n
	}
	if topK == 0 {
		return nil, nil
	}

	queryEmbedding, err := ix.emb.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := ix.collection.QueryEmbedding(ctx, queryEmbedding[0], topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		hits = append(hits, Hit{
			Content:  res.Content,
			Source:   res.Metadata["source"],
			Distance: 1 - float64(res.Similarity),
		})
	}
	return hits, nil
}
