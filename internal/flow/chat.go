package flow

import (
	"context"
	"strings"

	"github.com/kayz/maniflow/internal/llm"
	"github.com/kayz/maniflow/internal/logger"
	"github.com/kayz/maniflow/internal/session"
)

const msgScenarioHelp = "You are at the request-clarification stage.\n" +
	"- Describe which integration you want to set up.\n" +
	"- Or type 'cancel' to finish the process."

const msgCapabilities = "I help generate YAML manifests for integrating the istio service mesh with other services."

const msgGibberish = "That looks like random or unintelligible text. Try again."

const msgUnknownState = "The session is in an unknown state. Please start over."

const msgFallbackGreeting = "Hi! Describe the scenario you are interested in."

// HandleChat is the top-level per-turn dispatcher: it decides by
// session existence and mode, classifying free-form messages when no
// session exists.
func (e *Engine) HandleChat(ctx context.Context, message, sessionID string) ChatResult {
	if sessionID == "" {
		return e.routeNewConversation(ctx, message)
	}

	unlock := e.store.Lock(sessionID)
	defer unlock()

	state := e.store.Get(sessionID)
	if state == nil {
		logger.Warn("[Router] Session %s not found, starting over", sessionID)
		// Releases the turn-lock entry allocated for the dead id.
		e.store.End(sessionID)
		restarted := "The previous session has ended. Let's start over.\n" + message
		// The recursive call always drops the session id, so this branch
		// cannot re-enter.
		return e.HandleChat(ctx, restarted, "")
	}

	switch state.Mode {
	case session.ModeAskScenario:
		return e.continueScenario(ctx, sessionID, state, message)

	case session.ModeManifest:
		text, done := e.handleReply(ctx, sessionID, message)
		resultSessionID := sessionID
		if done {
			e.store.End(sessionID)
			resultSessionID = ""
		}
		return ChatResult{
			Intent:    llm.IntentGetManifests,
			Action:    ActionNone,
			Reply:     text,
			SessionID: resultSessionID,
		}

	default:
		// Unreachable with the two-mode enum; a sighting means corrupt state.
		logger.Error("[Router] Session %s has unknown mode %q", sessionID, state.Mode)
		e.store.End(sessionID)
		return ChatResult{Intent: llm.IntentChat, Action: ActionNone, Reply: msgUnknownState}
	}
}

func (e *Engine) continueScenario(ctx context.Context, sessionID string, state *session.State, message string) ChatResult {
	switch e.oracle.DetectScenarioMeta(ctx, message) {
	case llm.MetaHelp:
		return ChatResult{
			Intent:    llm.IntentHelp,
			Action:    ActionNone,
			Reply:     msgScenarioHelp,
			SessionID: sessionID,
		}
	case llm.MetaCancel:
		e.store.End(sessionID)
		return ChatResult{
			Intent: llm.IntentCancel,
			Action: ActionNone,
			Reply:  "Okay, cancelling the process. You can start over any time.",
		}
	}

	if e.oracle.DetectGibberish(ctx, message) {
		return ChatResult{
			Intent:    llm.IntentGetManifests,
			Action:    ActionAskScenario,
			Reply:     msgGibberish,
			SessionID: sessionID,
		}
	}

	state.CollectedMessages = append(state.CollectedMessages, message)
	// Persist before retrieval: if the search rejects the query the
	// session stays ASK_SCENARIO and must keep this message.
	e.store.Save(sessionID, state)

	rephrased := e.oracle.RephraseHistory(ctx, state.CollectedMessages)
	assess := e.oracle.AssessSpecificity(ctx, rephrased)
	logger.Debug("[Router] Scenario rephrased to %q, specific=%v", rephrased, assess.IsSpecific)

	if !assess.IsSpecific {
		return ChatResult{
			Intent:    llm.IntentGetManifests,
			Action:    ActionAskScenario,
			Reply:     "Thanks. I need a few more details:\n" + bulletList(assess.Followups),
			SessionID: sessionID,
		}
	}

	query := assess.RephrasedQuery
	if query == "" {
		query = strings.TrimSpace(rephrased)
	}
	logger.Info("[Router] Scenario resolved to query: %s", query)

	res := e.StartFromQuery(ctx, query, sessionID)
	res.Action = ActionCallGetManifests
	res.SuggestedPayload = map[string]any{"query": query}
	return res
}

func (e *Engine) routeNewConversation(ctx context.Context, message string) ChatResult {
	switch e.oracle.ClassifyIntent(ctx, message) {
	case llm.IntentGetManifests:
		rephrased := e.oracle.RephraseHistory(ctx, []string{message})
		assess := e.oracle.AssessSpecificity(ctx, rephrased)
		logger.Info("[Router] GET_MANIFESTS query %q, specific=%v", rephrased, assess.IsSpecific)

		if !assess.IsSpecific {
			sessionID := e.store.Create(session.NewAskScenario(message), "")
			logger.Info("[Router] ASK_SCENARIO session created: %s", sessionID)
			return ChatResult{
				Intent:    llm.IntentGetManifests,
				Action:    ActionAskScenario,
				Reply:     "Could you clarify which integration you want to set up:\n" + bulletList(assess.Followups),
				SessionID: sessionID,
			}
		}

		query := strings.TrimSpace(rephrased)
		res := e.StartFromQuery(ctx, query, "")
		res.Action = ActionCallGetManifests
		res.SuggestedPayload = map[string]any{"query": query}
		return res

	case llm.IntentHelp:
		return ChatResult{Intent: llm.IntentHelp, Action: ActionNone, Reply: msgCapabilities}

	default:
		reply := e.oracle.InvokeOr(ctx, "Reply briefly and in a friendly tone: "+message, msgFallbackGreeting)
		return ChatResult{Intent: llm.IntentChat, Action: ActionNone, Reply: reply}
	}
}

func bulletList(items []string) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, "- "+item)
	}
	return strings.Join(lines, "\n")
}
