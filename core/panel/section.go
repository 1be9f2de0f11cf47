// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package panel

import "fmt"

// Phase is the state of one section of the panel
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhasePending Phase = "pending"
	PhaseSuccess Phase = "success"
	PhaseFailure Phase = "failure"
)

// transitions lists the legal successors of every phase
var transitions = map[Phase][]Phase{
	PhaseIdle:    {PhasePending},
	PhasePending: {PhaseSuccess, PhaseFailure, PhaseIdle},
	PhaseSuccess: {PhaseIdle},
	PhaseFailure: {PhaseIdle},
}

// CanTransition returns true if a section may move from one phase to the other
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Section is the view state of one section: its phase and the feedback line
type Section struct {
	Phase    Phase
	Feedback string

	// pending counts the operations in flight
	pending int
}

func (s *Section) transition(to Phase) {
	from := s.Phase
	if from == "" {
		from = PhaseIdle
	}
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("illegal section transition from %s to %s", from, to))
	}
	s.Phase = to
}

// start moves the section to pending and clears the feedback
func (s *Section) start() {
	s.pending++
	s.Feedback = ""
	switch s.Phase {
	case PhasePending:
		return
	case PhaseSuccess, PhaseFailure:
		s.transition(PhaseIdle)
	}
	s.transition(PhasePending)
}

// finish ends an operation in phase to with the feedback. If a concurrent operation
// finished first, the section passes through idle and pending again, the last response wins.
func (s *Section) finish(to Phase, feedback string) {
	if s.pending > 0 {
		s.pending--
	}
	if s.Phase != PhasePending {
		if s.Phase != PhaseIdle && s.Phase != "" {
			s.transition(PhaseIdle)
		}
		s.transition(PhasePending)
	}
	s.transition(to)
	s.Feedback = feedback
}

// Busy returns true while an operation of the section is in flight
func (s *Section) Busy() bool {
	return s.pending > 0
}
