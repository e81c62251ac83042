// Package session holds per-conversation state and the stores that own it.
package session

import "time"

// Mode is the conversation phase a session is in.
type Mode string

const (
	// ModeAskScenario collects clarifying messages until the request is
	// specific enough to search the manifest corpus.
	ModeAskScenario Mode = "ASK_SCENARIO"
	// ModeManifest fills the selected template's placeholders one per turn.
	ModeManifest Mode = "MANIFEST"
)

// State is one in-flight conversation. The store exclusively owns all
// instances; every turn re-fetches by identifier.
type State struct {
	Mode Mode `json:"mode"`

	// ASK_SCENARIO: raw user utterances, append-only.
	CollectedMessages []string `json:"collected_messages,omitempty"`

	// MANIFEST: set once by the selection flow, immutable afterward.
	SourceFile      string `json:"source_file,omitempty"`
	OriginalDocText string `json:"original_doc_text,omitempty"`

	// RemainingPlaceholders is a FIFO queue: the engine pops from the front.
	RemainingPlaceholders []string          `json:"remaining_placeholders,omitempty"`
	FilledValues          map[string]string `json:"filled_values,omitempty"`
	CurrentPlaceholder    string            `json:"current_placeholder,omitempty"`

	// UpdatedAt is stamped by the store on create/save; the reaper ends
	// sessions idle beyond the configured TTL.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// NewAskScenario returns a fresh clarification-phase session seeded with
// the user's first message.
func NewAskScenario(firstMessage string) *State {
	return &State{
		Mode:              ModeAskScenario,
		CollectedMessages: []string{firstMessage},
	}
}

// NewManifest returns a fill-phase session for the given template.
// Placeholders must already be sorted; the first becomes current and the
// rest form the remaining queue.
func NewManifest(sourceFile, docText string, placeholders []string) *State {
	s := &State{
		Mode:            ModeManifest,
		SourceFile:      sourceFile,
		OriginalDocText: docText,
		FilledValues:    make(map[string]string),
	}
	if len(placeholders) > 0 {
		s.CurrentPlaceholder = placeholders[0]
		s.RemainingPlaceholders = append([]string(nil), placeholders[1:]...)
	}
	return s
}

// PopNext advances the placeholder queue: the front of the remaining
// list becomes current. Returns false when the queue is empty, in which
// case current is cleared (terminal condition for rendering).
func (s *State) PopNext() (string, bool) {
	if len(s.RemainingPlaceholders) == 0 {
		s.CurrentPlaceholder = ""
		return "", false
	}
	next := s.RemainingPlaceholders[0]
	s.RemainingPlaceholders = s.RemainingPlaceholders[1:]
	s.CurrentPlaceholder = next
	return next, true
}

// Outstanding returns the unfilled placeholder names, current first.
func (s *State) Outstanding() []string {
	var names []string
	if s.CurrentPlaceholder != "" {
		names = append(names, s.CurrentPlaceholder)
	}
	return append(names, s.RemainingPlaceholders...)
}

// Progress returns how many placeholders are filled and the total count.
func (s *State) Progress() (filled, total int) {
	filled = len(s.FilledValues)
	total = filled + len(s.RemainingPlaceholders)
	if s.CurrentPlaceholder != "" {
		total++
	}
	return filled, total
}
