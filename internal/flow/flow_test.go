package flow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kayz/maniflow/internal/index"
	"github.com/kayz/maniflow/internal/llm"
	"github.com/kayz/maniflow/internal/session"
)

// fakeOracle replays scripted verdicts instead of calling a model.
type fakeOracle struct {
	invokeReply  string
	intent       llm.Intent
	specificity  llm.Specificity
	metaIntent   llm.MetaIntent
	scenarioMeta llm.MetaIntent
	gibberish    bool
	rephrased    string
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		intent:       llm.IntentChat,
		metaIntent:   llm.MetaOther,
		scenarioMeta: llm.MetaOther,
	}
}

func (f *fakeOracle) InvokeOr(_ context.Context, _, fallback string) string {
	if f.invokeReply != "" {
		return f.invokeReply
	}
	return fallback
}

func (f *fakeOracle) ClassifyIntent(context.Context, string) llm.Intent { return f.intent }

func (f *fakeOracle) AssessSpecificity(context.Context, string) llm.Specificity {
	return f.specificity
}

func (f *fakeOracle) DetectMetaIntent(context.Context, string) llm.MetaIntent { return f.metaIntent }

func (f *fakeOracle) DetectScenarioMeta(context.Context, string) llm.MetaIntent {
	return f.scenarioMeta
}

func (f *fakeOracle) DetectGibberish(context.Context, string) bool { return f.gibberish }

func (f *fakeOracle) RephraseHistory(_ context.Context, messages []string) string {
	if f.rephrased != "" {
		return f.rephrased
	}
	if len(messages) > 0 {
		return messages[len(messages)-1]
	}
	return ""
}

type fakeSearcher struct {
	hits []index.Hit
	err  error
}

func (f *fakeSearcher) Search(context.Context, string, int) ([]index.Hit, error) {
	return f.hits, f.err
}

func writeTemplate(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "template.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return path
}

func newTestEngine(oracle *fakeOracle, search *fakeSearcher) (*Engine, *session.MemoryStore) {
	store := session.NewMemoryStore()
	return NewEngine(oracle, search, store, 0.4), store
}

func TestStartFromQueryFillsEndToEnd(t *testing.T) {
	path := writeTemplate(t, "host: {{ $serverHostDB1 }}\nport: {{ $serverPort }}\n")
	search := &fakeSearcher{hits: []index.Hit{{Source: path, Content: "stale", Distance: 0.1}}}
	engine, store := newTestEngine(newFakeOracle(), search)

	res := engine.StartFromQuery(context.Background(), "istio with postgres", "")
	if res.SessionID == "" {
		t.Fatalf("expected a session id")
	}

	state := store.Get(res.SessionID)
	if state == nil || state.Mode != session.ModeManifest {
		t.Fatalf("expected a MANIFEST session, got %+v", state)
	}
	if state.CurrentPlaceholder != "serverHostDB1" {
		t.Fatalf("placeholders must come alphabetically, current = %q", state.CurrentPlaceholder)
	}

	text, done := engine.HandleReply(context.Background(), res.SessionID, "db.internal")
	if done {
		t.Fatalf("one placeholder remains, turn must not finish: %q", text)
	}
	if !strings.Contains(text, "serverPort") {
		t.Fatalf("next prompt must name the next placeholder: %q", text)
	}

	text, done = engine.HandleReply(context.Background(), res.SessionID, "5432")
	if !done {
		t.Fatalf("all placeholders filled, expected done")
	}
	if !strings.Contains(text, "host: db.internal") || !strings.Contains(text, "port: 5432") {
		t.Fatalf("rendered manifest missing values: %q", text)
	}
}

func TestStartFromQueryBelowThreshold(t *testing.T) {
	path := writeTemplate(t, "host: {{ $serverHostDB1 }}\n")
	search := &fakeSearcher{hits: []index.Hit{{Source: path, Distance: 0.9}}}
	engine, store := newTestEngine(newFakeOracle(), search)

	res := engine.StartFromQuery(context.Background(), "weather", "")
	if res.Reply != msgNoManifestFound {
		t.Fatalf("expected not-found reply, got %q", res.Reply)
	}
	if len(store.ListIDs()) != 0 {
		t.Fatalf("no session must be created for a rejected match")
	}
}

func TestStartFromQuerySearchError(t *testing.T) {
	engine, _ := newTestEngine(newFakeOracle(), &fakeSearcher{err: errors.New("index down")})

	res := engine.StartFromQuery(context.Background(), "istio with kafka", "")
	if res.Reply != msgNoManifestFound {
		t.Fatalf("search failure must collapse into not-found, got %q", res.Reply)
	}
}

func TestStartFromQueryNoPlaceholders(t *testing.T) {
	path := writeTemplate(t, "kind: ServiceEntry\n")
	search := &fakeSearcher{hits: []index.Hit{{Source: path, Distance: 0.1}}}
	engine, store := newTestEngine(newFakeOracle(), search)

	res := engine.StartFromQuery(context.Background(), "istio with secman", "")
	if res.Reply != msgNoParameters {
		t.Fatalf("expected no-parameters reply, got %q", res.Reply)
	}
	if store.Get(res.SessionID) == nil {
		t.Fatalf("a session must still be created for a parameterless manifest")
	}
}

func TestHandleReplyValidationRetry(t *testing.T) {
	path := writeTemplate(t, "port: {{ $serverPort }}\n")
	search := &fakeSearcher{hits: []index.Hit{{Source: path, Distance: 0.1}}}
	engine, store := newTestEngine(newFakeOracle(), search)

	res := engine.StartFromQuery(context.Background(), "istio with postgres", "")

	text, done := engine.HandleReply(context.Background(), res.SessionID, "not-a-port")
	if done {
		t.Fatalf("invalid value must not finish the turn")
	}
	if !strings.Contains(text, "expects type `int`") {
		t.Fatalf("expected a type hint, got %q", text)
	}

	state := store.Get(res.SessionID)
	if len(state.FilledValues) != 0 {
		t.Fatalf("rejected value must not be recorded: %+v", state.FilledValues)
	}

	if _, done = engine.HandleReply(context.Background(), res.SessionID, "8080"); !done {
		t.Fatalf("valid retry must complete the single-placeholder manifest")
	}
}

func TestHandleReplyMetaIntents(t *testing.T) {
	path := writeTemplate(t, "host: {{ $serverHostDB1 }}\nport: {{ $serverPort }}\n")
	oracle := newFakeOracle()
	search := &fakeSearcher{hits: []index.Hit{{Source: path, Distance: 0.1}}}
	engine, store := newTestEngine(oracle, search)

	res := engine.StartFromQuery(context.Background(), "istio with postgres", "")
	if _, done := engine.HandleReply(context.Background(), res.SessionID, "db.internal"); done {
		t.Fatalf("unexpected completion")
	}

	oracle.metaIntent = llm.MetaHowManyLeft
	text, done := engine.HandleReply(context.Background(), res.SessionID, "how many left")
	if done || !strings.Contains(text, "1 of 2") {
		t.Fatalf("expected progress report, got done=%v %q", done, text)
	}

	oracle.metaIntent = llm.MetaListPlaceholders
	text, _ = engine.HandleReply(context.Background(), res.SessionID, "list")
	if !strings.Contains(text, "serverHostDB1 filled with db.internal") ||
		!strings.Contains(text, "serverPort not filled") {
		t.Fatalf("expected placeholder listing, got %q", text)
	}

	oracle.metaIntent = llm.MetaHelp
	if text, _ = engine.HandleReply(context.Background(), res.SessionID, "help"); text != msgManifestHelp {
		t.Fatalf("expected help text, got %q", text)
	}

	oracle.metaIntent = llm.MetaCancel
	text, done = engine.HandleReply(context.Background(), res.SessionID, "cancel")
	if !done || text != msgCancelled {
		t.Fatalf("expected cancellation, got done=%v %q", done, text)
	}
	if store.Get(res.SessionID) != nil {
		t.Fatalf("cancelled session must be removed")
	}
}

func TestHandleReplyUnknownSession(t *testing.T) {
	engine, _ := newTestEngine(newFakeOracle(), &fakeSearcher{})

	text, done := engine.HandleReply(context.Background(), "missing", "value")
	if !done || text != msgSessionNotFound {
		t.Fatalf("expected session-not-found, got done=%v %q", done, text)
	}
}

func TestHandleChatClassifiesWithoutSession(t *testing.T) {
	oracle := newFakeOracle()
	engine, _ := newTestEngine(oracle, &fakeSearcher{})

	oracle.intent = llm.IntentHelp
	res := engine.HandleChat(context.Background(), "what can you do?", "")
	if res.Intent != llm.IntentHelp || res.Reply != msgCapabilities {
		t.Fatalf("expected capabilities reply, got %+v", res)
	}

	oracle.intent = llm.IntentChat
	oracle.invokeReply = "hello there"
	res = engine.HandleChat(context.Background(), "hi", "")
	if res.Intent != llm.IntentChat || res.Reply != "hello there" {
		t.Fatalf("expected small-talk reply, got %+v", res)
	}
}

func TestHandleChatVagueRequestOpensScenarioSession(t *testing.T) {
	oracle := newFakeOracle()
	oracle.intent = llm.IntentGetManifests
	oracle.specificity = llm.Specificity{
		IsSpecific: false,
		Followups:  []string{"Which service?", "Which mesh?"},
	}
	engine, store := newTestEngine(oracle, &fakeSearcher{})

	res := engine.HandleChat(context.Background(), "I need an integration", "")
	if res.Action != ActionAskScenario {
		t.Fatalf("expected ASK_SCENARIO action, got %s", res.Action)
	}
	if !strings.Contains(res.Reply, "- Which service?") || !strings.Contains(res.Reply, "- Which mesh?") {
		t.Fatalf("follow-up questions missing: %q", res.Reply)
	}

	state := store.Get(res.SessionID)
	if state == nil || state.Mode != session.ModeAskScenario {
		t.Fatalf("expected an ASK_SCENARIO session, got %+v", state)
	}
}

func TestHandleChatScenarioBecomesManifestKeepingID(t *testing.T) {
	path := writeTemplate(t, "host: {{ $serverHostDB1 }}\n")
	oracle := newFakeOracle()
	oracle.intent = llm.IntentGetManifests
	oracle.specificity = llm.Specificity{IsSpecific: false, Followups: []string{"Which service?"}}
	search := &fakeSearcher{hits: []index.Hit{{Source: path, Distance: 0.1}}}
	engine, store := newTestEngine(oracle, search)

	first := engine.HandleChat(context.Background(), "I need an integration", "")
	sessionID := first.SessionID

	oracle.specificity = llm.Specificity{IsSpecific: true, RephrasedQuery: "istio with postgres"}
	second := engine.HandleChat(context.Background(), "istio with postgres please", sessionID)

	if second.SessionID != sessionID {
		t.Fatalf("session id must survive the mode switch: %q != %q", second.SessionID, sessionID)
	}
	if second.Action != ActionCallGetManifests {
		t.Fatalf("expected CALL_GET_MANIFESTS action, got %s", second.Action)
	}
	if second.SuggestedPayload["query"] != "istio with postgres" {
		t.Fatalf("suggested payload missing the executed query: %+v", second.SuggestedPayload)
	}
	state := store.Get(sessionID)
	if state == nil || state.Mode != session.ModeManifest {
		t.Fatalf("expected the session to become MANIFEST, got %+v", state)
	}
}

func TestHandleChatScenarioMetaAndGibberish(t *testing.T) {
	oracle := newFakeOracle()
	engine, store := newTestEngine(oracle, &fakeSearcher{})

	id := store.Create(session.NewAskScenario("first"), "")

	oracle.scenarioMeta = llm.MetaHelp
	res := engine.HandleChat(context.Background(), "who are you?", id)
	if res.Intent != llm.IntentHelp || res.Reply != msgScenarioHelp {
		t.Fatalf("expected scenario help, got %+v", res)
	}

	oracle.scenarioMeta = llm.MetaOther
	oracle.gibberish = true
	res = engine.HandleChat(context.Background(), "asdfgh", id)
	if res.Reply != msgGibberish {
		t.Fatalf("expected gibberish rejection, got %q", res.Reply)
	}
	if got := len(store.Get(id).CollectedMessages); got != 1 {
		t.Fatalf("gibberish must not be collected, have %d messages", got)
	}

	oracle.gibberish = false
	oracle.scenarioMeta = llm.MetaCancel
	res = engine.HandleChat(context.Background(), "cancel", id)
	if res.Intent != llm.IntentCancel {
		t.Fatalf("expected CANCEL intent, got %s", res.Intent)
	}
	if store.Get(id) != nil {
		t.Fatalf("cancelled scenario session must be removed")
	}
}

func TestHandleChatManifestCompletionEndsSession(t *testing.T) {
	path := writeTemplate(t, "host: {{ $serverHostDB1 }}\n")
	search := &fakeSearcher{hits: []index.Hit{{Source: path, Distance: 0.1}}}
	engine, store := newTestEngine(newFakeOracle(), search)

	res := engine.StartFromQuery(context.Background(), "istio with postgres", "")

	final := engine.HandleChat(context.Background(), "db.internal", res.SessionID)
	if final.SessionID != "" {
		t.Fatalf("finished session must not be echoed back: %q", final.SessionID)
	}
	if !strings.Contains(final.Reply, "host: db.internal") {
		t.Fatalf("final reply missing rendered manifest: %q", final.Reply)
	}
	if store.Get(res.SessionID) != nil {
		t.Fatalf("finished session must be removed from the store")
	}
}

// copyStore returns deep copies from Get, the way the durable backend
// deserializes a fresh State per call. Mutations only stick via Save.
type copyStore struct {
	*session.MemoryStore
}

func (s *copyStore) Get(id string) *session.State {
	state := s.MemoryStore.Get(id)
	if state == nil {
		return nil
	}
	clone := *state
	clone.CollectedMessages = append([]string(nil), state.CollectedMessages...)
	clone.RemainingPlaceholders = append([]string(nil), state.RemainingPlaceholders...)
	if state.FilledValues != nil {
		clone.FilledValues = make(map[string]string, len(state.FilledValues))
		for k, v := range state.FilledValues {
			clone.FilledValues[k] = v
		}
	}
	return &clone
}

func TestScenarioMessageSurvivesFailedRetrieval(t *testing.T) {
	oracle := newFakeOracle()
	oracle.specificity = llm.Specificity{IsSpecific: true, RephrasedQuery: "istio with postgres"}
	store := &copyStore{session.NewMemoryStore()}
	engine := NewEngine(oracle, &fakeSearcher{err: errors.New("index down")}, store, 0.4)

	id := store.Create(session.NewAskScenario("I need an integration"), "")

	res := engine.HandleChat(context.Background(), "istio with postgres please", id)
	if res.Reply != msgNoManifestFound {
		t.Fatalf("expected not-found reply, got %q", res.Reply)
	}

	state := store.MemoryStore.Get(id)
	if state == nil || state.Mode != session.ModeAskScenario {
		t.Fatalf("session must stay ASK_SCENARIO, got %+v", state)
	}
	if got := len(state.CollectedMessages); got != 2 {
		t.Fatalf("appended message must be persisted, have %d messages", got)
	}
}

// endRecorder tracks which session ids were explicitly ended.
type endRecorder struct {
	*session.MemoryStore
	ended []string
}

func (s *endRecorder) End(id string) {
	s.ended = append(s.ended, id)
	s.MemoryStore.End(id)
}

func TestHandleChatRestartReleasesDeadSessionID(t *testing.T) {
	oracle := newFakeOracle()
	store := &endRecorder{MemoryStore: session.NewMemoryStore()}
	engine := NewEngine(oracle, &fakeSearcher{}, store, 0.4)

	engine.HandleChat(context.Background(), "hello", "gone")

	released := false
	for _, id := range store.ended {
		if id == "gone" {
			released = true
		}
	}
	if !released {
		t.Fatalf("dead session id must be ended so its turn lock is dropped, ended=%v", store.ended)
	}
}

func TestHandleChatUnknownSessionRestarts(t *testing.T) {
	oracle := newFakeOracle()
	oracle.invokeReply = "fresh start"
	engine, _ := newTestEngine(oracle, &fakeSearcher{})

	res := engine.HandleChat(context.Background(), "hello", "gone")
	if res.SessionID != "" {
		t.Fatalf("restart must drop the stale session id, got %q", res.SessionID)
	}
	if res.Reply != "fresh start" {
		t.Fatalf("expected the restarted turn to be routed, got %q", res.Reply)
	}
}
