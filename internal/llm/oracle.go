package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kayz/maniflow/internal/logger"
)

// Intent is the top-level classification of a sessionless message.
type Intent string

const (
	IntentGetManifests Intent = "GET_MANIFESTS"
	IntentHelp         Intent = "HELP"
	IntentChat         Intent = "CHAT"
	IntentCancel       Intent = "CANCEL"
)

// MetaIntent classifies input during MANIFEST-mode placeholder filling.
type MetaIntent string

const (
	MetaHowManyLeft      MetaIntent = "HOW_MANY_LEFT"
	MetaListPlaceholders MetaIntent = "LIST_PLACEHOLDERS"
	MetaHelp             MetaIntent = "HELP"
	MetaCancel           MetaIntent = "CANCEL"
	MetaOther            MetaIntent = "OTHER"
)

// Specificity is the structured verdict on whether a query is concrete
// enough to search the manifest corpus.
type Specificity struct {
	IsSpecific     bool     `json:"is_specific"`
	RephrasedQuery string   `json:"rephrased_query"`
	Followups      []string `json:"followups"`
}

// Oracle applies one timeout and one failure policy to every provider
// call; structured calls fall back to their documented defaults on any
// failure instead of propagating errors into the conversation.
type Oracle struct {
	provider Provider
	timeout  time.Duration
}

func NewOracle(provider Provider, timeout time.Duration) *Oracle {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Oracle{provider: provider, timeout: timeout}
}

// Invoke runs one completion with the oracle timeout applied.
func (o *Oracle) Invoke(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	text, err := o.provider.Invoke(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// InvokeOr runs one completion and substitutes fallback on any failure
// or empty response.
func (o *Oracle) InvokeOr(ctx context.Context, prompt, fallback string) string {
	text, err := o.Invoke(ctx, prompt)
	if err != nil {
		logger.Warn("[Oracle] Completion failed, using fallback: %v", err)
		return fallback
	}
	if text == "" {
		return fallback
	}
	return text
}

// ClassifyIntent determines the purpose of a sessionless user message.
// Defaults to CHAT on any failure.
func (o *Oracle) ClassifyIntent(ctx context.Context, text string) Intent {
	prompt := fmt.Sprintf(`You classify user requests. Pick the user's intent from their message:
- GET_MANIFESTS: asks for manifests, YAML, an integration, a scenario or similar
- HELP: asks what you can do, how to work with you, or for usage instructions
- CHAT: any other request that does not need manifests

Return exactly one word: GET_MANIFESTS, HELP or CHAT

User: %s`, text)

	raw, err := o.Invoke(ctx, prompt)
	if err != nil {
		logger.Error("[Oracle] Intent classification failed: %v", err)
		return IntentChat
	}

	switch Intent(strings.ToUpper(strings.TrimSpace(raw))) {
	case IntentGetManifests:
		return IntentGetManifests
	case IntentHelp:
		return IntentHelp
	case IntentChat:
		return IntentChat
	default:
		logger.Debug("[Oracle] Unrecognized intent label %q, defaulting to CHAT", raw)
		return IntentChat
	}
}

// AssessSpecificity judges whether a query identifies the mesh and a
// concrete external service. On failure returns the canned follow-up.
func (o *Oracle) AssessSpecificity(ctx context.Context, text string) Specificity {
	prompt := fmt.Sprintf(`You are an assistant that helps users assemble service-mesh integration manifests.
Decide whether the user's request is specific enough to search for the right manifests (true/false).
If not, propose 2-4 short clarifying questions.
If yes, rephrase the request briefly and concretely.

Consider a request specific only when it contains both:
1) an explicit mention of istio/Istio, and
2) a concrete external service/database/system name (e.g. secman, postgres, kafka, redis).
Phrasings like "I want..." or "I need..." do not affect specificity.

Return strict JSON of the form:
{
    "is_specific": true|false,
    "rephrased_query": "string (may be empty)",
    "followups": ["question1", "question2", ...]
}

Request: %s`, text)

	fallback := Specificity{
		IsSpecific: false,
		Followups:  []string{"Which service do you want to integrate with the istio service mesh?"},
	}

	raw, err := o.Invoke(ctx, prompt)
	if err != nil {
		logger.Error("[Oracle] Specificity assessment failed: %v", err)
		return fallback
	}

	payload := extractJSONObject(raw)
	if payload == "" {
		logger.Warn("[Oracle] Specificity response carried no JSON: %q", raw)
		return fallback
	}

	var out Specificity
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		logger.Warn("[Oracle] Invalid specificity JSON: %v", err)
		return fallback
	}
	if !out.IsSpecific && len(out.Followups) == 0 {
		out.Followups = fallback.Followups
	}
	return out
}

// DetectMetaIntent classifies short messages typed while filling
// placeholders. Defaults to OTHER on any failure.
func (o *Oracle) DetectMetaIntent(ctx context.Context, text string) MetaIntent {
	prompt := fmt.Sprintf(`You classify short user messages typed while filling YAML placeholders.
Return strict JSON of exactly one of the following forms, nothing besides the JSON:

{"intent": "HOW_MANY_LEFT"} - the user asks how many placeholders or parameters are left
{"intent": "LIST_PLACEHOLDERS"} - the user asks which placeholders or parameters exist, or what must be filled
{"intent": "HELP"} - the user asks for help or what you can do
{"intent": "CANCEL"} - the user wants to cancel the filling, leave the session or stop (e.g. "cancel", "stop", "quit")
{"intent": "OTHER"} - any other message (including random text that is not a value)
Text: %s`, text)

	raw, err := o.Invoke(ctx, prompt)
	if err != nil {
		logger.Warn("[Oracle] Meta-intent detection failed: %v", err)
		return MetaOther
	}

	payload := extractJSONObject(raw)
	if payload == "" {
		return MetaOther
	}

	var parsed struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		logger.Warn("[Oracle] Invalid meta-intent JSON: %v", err)
		return MetaOther
	}

	switch MetaIntent(parsed.Intent) {
	case MetaHowManyLeft, MetaListPlaceholders, MetaHelp, MetaCancel:
		return MetaIntent(parsed.Intent)
	default:
		return MetaOther
	}
}

// DetectScenarioMeta classifies messages during the clarification phase.
// Recognition is deliberately loose: any response mentioning HELP or
// CANCEL counts. Defaults to OTHER.
func (o *Oracle) DetectScenarioMeta(ctx context.Context, text string) MetaIntent {
	prompt := fmt.Sprintf(`You classify user messages during the scenario-clarification phase.

Categories:
- HELP: the user asks who you are, what you can do, or wants help.
- CANCEL: the user wants to leave, interrupt or cancel the process.
- OTHER: any other message describing the scenario or task.

Analyze the following message:

"%s"

Answer with exactly one category: HELP, CANCEL or OTHER.`, text)

	raw, err := o.Invoke(ctx, prompt)
	if err != nil {
		logger.Warn("[Oracle] Scenario meta detection failed: %v", err)
		return MetaOther
	}

	upper := strings.ToUpper(raw)
	switch {
	case strings.Contains(upper, "HELP"):
		return MetaHelp
	case strings.Contains(upper, "CANCEL"):
		return MetaCancel
	default:
		return MetaOther
	}
}

// DetectGibberish reports whether the message is unparseable noise.
// Defaults to false so that oracle trouble never blocks real input.
func (o *Oracle) DetectGibberish(ctx context.Context, text string) bool {
	prompt := fmt.Sprintf(`Decide whether the following user message is random or meaningless text
(keyboard mashing, an accidental paste, unintelligible fragments) rather than a description of a task.
Answer with exactly one word: true or false.

Message: %s`, text)

	raw, err := o.Invoke(ctx, prompt)
	if err != nil {
		logger.Warn("[Oracle] Gibberish detection failed: %v", err)
		return false
	}
	return strings.EqualFold(strings.TrimSpace(raw), "true")
}

// RephraseHistory merges accumulated clarification messages into one
// concise query. Falls back to the last message on any failure.
func (o *Oracle) RephraseHistory(ctx context.Context, messages []string) string {
	var kept []string
	for _, m := range messages {
		if m = strings.TrimSpace(m); m != "" {
			kept = append(kept, m)
		}
	}

	last := ""
	if len(kept) > 0 {
		last = kept[len(kept)-1]
	}

	prompt := fmt.Sprintf(`You receive a history of user messages that refine one and the same request.
Rephrase them into a single short and unambiguous sentence that captures the essence; drop repetitions and filler.
Return ONLY the rephrased request with no explanations.

History:
%s`, strings.Join(kept, " | "))

	raw, err := o.Invoke(ctx, prompt)
	if err != nil || raw == "" {
		if err != nil {
			logger.Warn("[Oracle] Rephrase failed: %v", err)
		}
		return last
	}
	return raw
}

// extractJSONObject pulls the outermost {...} from a completion that may
// be wrapped in prose or code fences.
func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(content[start : end+1])
}
