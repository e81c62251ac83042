// Package flow drives the conversation: intent routing, manifest
// selection and the placeholder-filling dialogue.
package flow

import (
	"context"

	"github.com/kayz/maniflow/internal/index"
	"github.com/kayz/maniflow/internal/llm"
	"github.com/kayz/maniflow/internal/session"
)

// Oracle is the slice of the text-generation oracle the flow consumes.
// *llm.Oracle implements it; tests substitute a scripted fake.
type Oracle interface {
	InvokeOr(ctx context.Context, prompt, fallback string) string
	ClassifyIntent(ctx context.Context, text string) llm.Intent
	AssessSpecificity(ctx context.Context, text string) llm.Specificity
	DetectMetaIntent(ctx context.Context, text string) llm.MetaIntent
	DetectScenarioMeta(ctx context.Context, text string) llm.MetaIntent
	DetectGibberish(ctx context.Context, text string) bool
	RephraseHistory(ctx context.Context, messages []string) string
}

// Searcher is the retrieval oracle: top-K nearest manifest templates,
// lower distance = more similar.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]index.Hit, error)
}

// Action tells an API client what to do next.
type Action string

const (
	ActionCallGetManifests Action = "CALL_GET_MANIFESTS"
	ActionAskScenario      Action = "ASK_SCENARIO"
	ActionNone             Action = "NONE"
)

// ChatResult is the outcome of one conversational turn.
type ChatResult struct {
	Intent           llm.Intent
	Action           Action
	SuggestedPayload map[string]any
	Reply            string
	SessionID        string
}

// Engine wires the oracles and the session store into the per-turn
// decision logic.
type Engine struct {
	oracle    Oracle
	search    Searcher
	store     session.Store
	threshold float64
}

func NewEngine(oracle Oracle, search Searcher, store session.Store, similarityThreshold float64) *Engine {
	if similarityThreshold <= 0 {
		similarityThreshold = 0.4
	}
	return &Engine{
		oracle:    oracle,
		search:    search,
		store:     store,
		threshold: similarityThreshold,
	}
}

// Store exposes the session store for the admin surface.
func (e *Engine) Store() session.Store {
	return e.store
}

// Classify exposes bare intent classification for the diagnostic API.
func (e *Engine) Classify(ctx context.Context, text string) llm.Intent {
	return e.oracle.ClassifyIntent(ctx, text)
}
