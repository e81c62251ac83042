package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/kayz/maniflow/internal/llm"
	"github.com/kayz/maniflow/internal/logger"
	"github.com/kayz/maniflow/internal/placeholder"
	"github.com/kayz/maniflow/internal/session"
)

const msgSessionNotFound = "Session not found. Please start a new session."

const msgManifestHelp = "You are filling in a YAML manifest.\n" +
	"- Enter a value for the current placeholder.\n" +
	"- Or type 'cancel' to quit.\n" +
	"- Or type 'list' to see all placeholders.\n" +
	"- Or type 'how many left' to see how many placeholders remain."

const msgCancelled = "Cancelling the process. You can start over any time."

// HandleReply runs one placeholder-filling turn while holding the
// session's turn lock. done=true means the session is finished and has
// been (or must be) removed.
func (e *Engine) HandleReply(ctx context.Context, sessionID, userInput string) (string, bool) {
	unlock := e.store.Lock(sessionID)
	defer unlock()
	return e.handleReply(ctx, sessionID, userInput)
}

// handleReply is the MANIFEST-mode state machine: one placeholder
// resolved per successful turn. Callers must hold the session lock.
func (e *Engine) handleReply(ctx context.Context, sessionID, userInput string) (string, bool) {
	state := e.store.Get(sessionID)
	if state == nil {
		return msgSessionNotFound, true
	}

	userInput = strings.TrimSpace(userInput)
	current := state.CurrentPlaceholder
	expectedType := placeholder.TypeOf(current)

	// Meta-intents take precedence over value validation: the user can
	// always ask for help or cancel instead of supplying a value.
	if intent := e.oracle.DetectMetaIntent(ctx, userInput); intent != llm.MetaOther {
		logger.Info("[Dialogue] Meta-intent detected: %s", intent)
		switch intent {
		case llm.MetaHowManyLeft:
			return progressText(state), false
		case llm.MetaListPlaceholders:
			return listPlaceholdersText(state), false
		case llm.MetaHelp:
			return msgManifestHelp, false
		case llm.MetaCancel:
			e.store.End(sessionID)
			return msgCancelled, true
		}
	}

	if !placeholder.Validate(userInput, expectedType) {
		return fmt.Sprintf("`{{ $%s }}` expects type `%s`. Try again:", current, expectedType), false
	}

	state.FilledValues[current] = userInput

	if next, ok := state.PopNext(); ok {
		e.store.Save(sessionID, state)

		prompt := fmt.Sprintf("Explain the purpose of the placeholder `{{ $%s }}` and ask the user to enter its value.", next)
		return e.oracle.InvokeOr(ctx, prompt, fallbackPrompt(next)), false
	}

	rendered := placeholder.Fill(state.OriginalDocText, state.FilledValues)
	return "All values filled! Final manifests:\n\n" + rendered, true
}

func progressText(state *session.State) string {
	filled, total := state.Progress()
	outstanding := state.Outstanding()

	names := "All filled!"
	if len(outstanding) > 0 {
		names = strings.Join(outstanding, ", ")
	}

	return fmt.Sprintf("You have filled %d of %d fields.\n%d remaining.\nOutstanding placeholders: %s",
		filled, total, total-filled, names)
}

func listPlaceholdersText(state *session.State) string {
	lines := []string{"All placeholders:"}
	for _, name := range placeholder.Extract(state.OriginalDocText) {
		if value, ok := state.FilledValues[name]; ok {
			lines = append(lines, fmt.Sprintf("- %s filled with %s", name, value))
		} else {
			lines = append(lines, fmt.Sprintf("- %s not filled", name))
		}
	}
	return strings.Join(lines, "\n")
}
