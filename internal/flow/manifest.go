package flow

import (
	"context"
	"fmt"
	"os"

	"github.com/kayz/maniflow/internal/llm"
	"github.com/kayz/maniflow/internal/logger"
	"github.com/kayz/maniflow/internal/placeholder"
	"github.com/kayz/maniflow/internal/session"
)

// One user-visible text for every retrieval failure mode; logs tell
// them apart.
const msgNoManifestFound = "Unfortunately, I couldn't find a suitable manifest. Try a different query."

const msgNoParameters = "Manifest found; it contains no parameters to fill in."

func fallbackPrompt(name string) string {
	return fmt.Sprintf("Enter a value for placeholder `{{ $%s }}`:", name)
}

// StartFromQuery performs the vector search, applies the relevance
// gate, extracts placeholders and initializes the fill session. With a
// reuseSessionID the session keeps its external id (the
// ASK_SCENARIO -> MANIFEST transition).
func (e *Engine) StartFromQuery(ctx context.Context, query, reuseSessionID string) ChatResult {
	notFound := ChatResult{
		Intent:    llm.IntentGetManifests,
		Action:    ActionNone,
		Reply:     msgNoManifestFound,
		SessionID: reuseSessionID,
	}

	hits, err := e.search.Search(ctx, query, 1)
	if err != nil {
		logger.Error("[ManifestFlow] Vector search failed: %v", err)
		return notFound
	}
	if len(hits) == 0 {
		logger.Info("[ManifestFlow] No candidates for query %q", query)
		return notFound
	}

	hit := hits[0]
	logger.Debug("[ManifestFlow] Matched %s, raw distance = %v", hit.Source, hit.Distance)

	// Prefer the authoritative template file; the indexed copy may be a
	// stale or summarized version.
	docText := hit.Content
	if data, err := os.ReadFile(hit.Source); err == nil {
		docText = string(data)
	} else {
		logger.Warn("[ManifestFlow] Failed to load %s, falling back to indexed text: %v", hit.Source, err)
	}

	similarity := 1 - hit.Distance
	if similarity < e.threshold {
		logger.Info("[ManifestFlow] Best match below threshold: %.3f < %.3f", similarity, e.threshold)
		return notFound
	}

	placeholders := placeholder.Extract(docText)
	state := session.NewManifest(hit.Source, docText, placeholders)
	sessionID := e.store.Create(state, reuseSessionID)

	if len(placeholders) == 0 {
		logger.Info("[ManifestFlow] Session %s created, no parameters", sessionID)
		return ChatResult{
			Intent:    llm.IntentGetManifests,
			Action:    ActionNone,
			Reply:     msgNoParameters,
			SessionID: sessionID,
		}
	}

	first := placeholders[0]
	prompt := fmt.Sprintf(`You are an assistant that helps users assemble service-mesh integration manifests.
Greet the user and tell them you found the manifests they need to fill in: %s
List every field to fill with a one-sentence description of its purpose.
Help the user fill a YAML manifest that contains the placeholder `+"`{{ $%s }}`"+`.
Explain its purpose and ask a question to obtain its value.`,
		placeholder.FormatList(placeholders), first)

	reply := e.oracle.InvokeOr(ctx, prompt, fallbackPrompt(first))

	logger.Info("[ManifestFlow] New session created: %s (%s, %d placeholders)",
		sessionID, hit.Source, len(placeholders))

	return ChatResult{
		Intent:    llm.IntentGetManifests,
		Action:    ActionNone,
		Reply:     reply,
		SessionID: sessionID,
	}
}
