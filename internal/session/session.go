package session

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/protkit/internal/errors"
	"github.com/hpungsan/protkit/internal/protparam"
	"github.com/hpungsan/protkit/internal/tasks"
)

// DefaultName is the session used when none is given.
const DefaultName = "default"

// MaxNameLen bounds session names.
const MaxNameLen = 64

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeName trims, lowercases and collapses internal whitespace.
// An empty result maps to DefaultName.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = whitespaceRegex.ReplaceAllString(s, " ")
	if s == "" {
		return DefaultName
	}
	return s
}

// SlotAnalysis is the property result for one slot.
type SlotAnalysis struct {
	Slot      int               `json:"slot"`
	Accession string            `json:"accession,omitempty"`
	Result    protparam.Result  `json:"result"`
	Classes   protparam.Classes `json:"classes"`
	Band      string            `json:"hydropathy"`
}

// SkippedSlot records why a slot was left out of an analysis.
type SkippedSlot struct {
	Slot   int    `json:"slot"`
	Reason string `json:"reason"`
}

// Analysis is the last combined analysis of a session.
type Analysis struct {
	Combined   *SlotAnalysis  `json:"combined,omitempty"`
	Individual []SlotAnalysis `json:"individual"`
	Skipped    []SkippedSlot  `json:"skipped,omitempty"`
	At         time.Time      `json:"at"`
}

// State is the whole application state of one session. Handlers receive it
// explicitly and persist it at the end of each interaction cycle.
type State struct {
	ID        string
	Name      string
	Sequences []string
	Tasks     *tasks.Tracker
	Analysis  *Analysis
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a session with one empty slot.
func New(name string) *State {
	now := time.Now()
	return &State{
		ID:        generateULID(now),
		Name:      NormalizeName(name),
		Sequences: []string{""},
		Tasks:     tasks.NewTracker(1),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ValidateName checks a raw session name.
func ValidateName(raw string) error {
	if len(NormalizeName(raw)) > MaxNameLen {
		return errors.NewInvalidRequest(fmt.Sprintf("session name exceeds %d characters", MaxNameLen))
	}
	return nil
}

// Sync pads the tracker to the number of slots.
func (s *State) Sync() {
	if s.Tasks == nil {
		s.Tasks = tasks.NewTracker(0)
	}
	if len(s.Sequences) == 0 {
		s.Sequences = []string{""}
	}
	s.Tasks.Ensure(len(s.Sequences))
}

func (s *State) checkSlot(i int) error {
	if i < 0 || i >= len(s.Sequences) {
		return errors.NewInvalidRequest(fmt.Sprintf("slot index %d out of range [0, %d)", i, len(s.Sequences)))
	}
	return nil
}

// AddSequence appends raw as a new slot and returns its index.
// The first slot is reused while it is still empty.
func (s *State) AddSequence(raw string) int {
	s.Sync()
	if len(s.Sequences) == 1 && strings.TrimSpace(s.Sequences[0]) == "" {
		s.Sequences[0] = raw
		s.Touch()
		return 0
	}
	s.Sequences = append(s.Sequences, raw)
	s.Tasks.Ensure(len(s.Sequences))
	s.Touch()
	return len(s.Sequences) - 1
}

// AppendEmpty adds an empty slot and returns its index.
func (s *State) AppendEmpty() int {
	s.Sync()
	s.Sequences = append(s.Sequences, "")
	s.Tasks.Ensure(len(s.Sequences))
	s.Touch()
	return len(s.Sequences) - 1
}

// SetSequence replaces the input of slot i.
func (s *State) SetSequence(i int, raw string) error {
	s.Sync()
	if err := s.checkSlot(i); err != nil {
		return err
	}
	s.Sequences[i] = raw
	s.Touch()
	return nil
}

// RemoveSequence deletes slot i and its task. Slot 0 cannot be removed;
// higher slots shift down by one.
func (s *State) RemoveSequence(i int) error {
	s.Sync()
	if err := s.checkSlot(i); err != nil {
		return err
	}
	if i == 0 {
		return errors.NewInvalidRequest("the first slot cannot be removed")
	}
	s.Sequences = append(s.Sequences[:i], s.Sequences[i+1:]...)
	if err := s.Tasks.Remove(i); err != nil {
		return err
	}
	s.Touch()
	return nil
}

// Clear resets the session to one empty slot and drops the last analysis.
func (s *State) Clear() {
	s.Sequences = []string{""}
	s.Tasks = tasks.NewTracker(1)
	s.Analysis = nil
	s.Touch()
}

// NonEmptySlots returns the indices of slots with input.
func (s *State) NonEmptySlots() []int {
	var idx []int
	for i, raw := range s.Sequences {
		if strings.TrimSpace(raw) != "" {
			idx = append(idx, i)
		}
	}
	return idx
}

// Touch marks the session as modified.
func (s *State) Touch() {
	s.UpdatedAt = time.Now()
}

// generateULID generates a new ULID.
func generateULID(now time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
