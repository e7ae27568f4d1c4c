// Package session holds the per-requester input flow and the registry that
// keeps at most one live session per requester.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/mohammad-safakhou/tuvi/internal/analysis"
	"github.com/mohammad-safakhou/tuvi/internal/chart"
)

// Session is the in-memory conversation with one requester. It is never
// persisted.
type Session struct {
	id          string
	requesterID int64
	createdAt   time.Time

	mu          sync.Mutex
	state       State
	artifact    *chart.Artifact
	displayPath string
	analysis    analysis.Result
	inFlight    bool
	lastActive  time.Time
	now         func() time.Time
}

func newSession(id string, requesterID int64, now func() time.Time) *Session {
	t := now()
	return &Session{
		id:          id,
		requesterID: requesterID,
		createdAt:   t,
		state:       AwaitingDate{},
		lastActive:  t,
		now:         now,
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) RequesterID() int64   { return s.requesterID }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func unexpected(st State, input string) error {
	return fmt.Errorf("%s in state %s: %w", input, st.Name(), chart.ErrUnexpectedInput)
}

// SubmitDate accepts D/M/YYYY text while awaiting the date. The state is left
// untouched on any error.
func (s *Session) SubmitDate(text string) (chart.BirthDate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.(AwaitingDate); !ok {
		return chart.BirthDate{}, unexpected(s.state, "date")
	}
	d, err := chart.ParseDate(text)
	if err != nil {
		return chart.BirthDate{}, err
	}
	s.state = AwaitingTime{Date: d}
	s.lastActive = s.now()
	return d, nil
}

// SubmitSlot accepts one of the thirteen birth slot tokens.
func (s *Session) SubmitSlot(token string) (chart.BirthSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state.(AwaitingTime)
	if !ok {
		return 0, unexpected(s.state, "birth slot")
	}
	slot, err := chart.ParseSlot(token)
	if err != nil {
		return 0, err
	}
	s.state = AwaitingSex{Date: st.Date, Slot: slot}
	s.lastActive = s.now()
	return slot, nil
}

// SubmitSex completes the input. The returned fingerprint is what the caller
// acquires.
func (s *Session) SubmitSex(token string) (chart.Fingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state.(AwaitingSex)
	if !ok {
		return chart.Fingerprint{}, unexpected(s.state, "sex")
	}
	sex, err := chart.ParseSex(token)
	if err != nil {
		return chart.Fingerprint{}, err
	}
	fp, err := chart.NewFingerprint(s.requesterID, st.Date, st.Slot, sex)
	if err != nil {
		return chart.Fingerprint{}, err
	}
	s.state = Ready{Fingerprint: fp}
	s.lastActive = s.now()
	return fp, nil
}

// Cancel moves any non-terminal state to Cancelled.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() {
		return unexpected(s.state, "cancel")
	}
	s.state = Cancelled{}
	s.lastActive = s.now()
	return nil
}

// Load puts a finished chart into the session, as when a past chart is
// viewed. Any earlier analysis is dropped.
func (s *Session) Load(a chart.Artifact, displayPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Ready{Fingerprint: a.Fingerprint}
	s.setArtifact(a, displayPath)
}

// SetArtifact records the chart produced for the Ready fingerprint.
func (s *Session) SetArtifact(a chart.Artifact, displayPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setArtifact(a, displayPath)
}

func (s *Session) setArtifact(a chart.Artifact, displayPath string) {
	s.artifact = &a
	if displayPath == "" {
		displayPath = a.Path
	}
	s.displayPath = displayPath
	s.analysis = nil
	s.lastActive = s.now()
}

// Artifact returns the chart and the image path to show or analyse. The two
// paths differ when the chart was kept as a raw page and rendered afterwards.
func (s *Session) Artifact() (chart.Artifact, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifact == nil {
		return chart.Artifact{}, "", false
	}
	return *s.artifact, s.displayPath, true
}

func (s *Session) SetAnalysis(r analysis.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysis = r
	s.lastActive = s.now()
}

func (s *Session) Analysis() (analysis.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analysis, s.analysis != nil
}
