package domain

import (
	"maps"
	"slices"
)

// AssignmentState is the explicit state of a peer-assignment session for
// one scope (a course or a single group). It uses copy-on-write semantics:
// every With method returns a new AssignmentState and leaves the receiver
// unchanged, so a state value can be shared freely between callers.
type AssignmentState struct {
	scope    string
	students []ParticipantID
	graph    PeerGraph
}

// NewAssignmentState creates a state for scope with the given students and
// no assignments.
func NewAssignmentState(scope string, students []ParticipantID) AssignmentState {
	return AssignmentState{
		scope:    scope,
		students: slices.Clone(students),
		graph:    PeerGraph{},
	}
}

// NewRosterState creates a state for scope from a mixed roster. Only
// students take part in peer review; teachers and duplicates are dropped.
func NewRosterState(scope string, roster []Participant) AssignmentState {
	return AssignmentState{
		scope:    scope,
		students: Students(roster),
		graph:    PeerGraph{},
	}
}

// Scope returns the scope identifier.
func (s AssignmentState) Scope() string { return s.scope }

// Students returns a copy of the students in the scope.
func (s AssignmentState) Students() []ParticipantID { return slices.Clone(s.students) }

// Graph returns a deep copy of the current peer graph.
func (s AssignmentState) Graph() PeerGraph { return s.graph.Clone() }

// WithStudents returns a new state with the student list replaced. The
// graph is kept; callers are expected to re-randomize afterwards.
func (s AssignmentState) WithStudents(students []ParticipantID) AssignmentState {
	return AssignmentState{
		scope:    s.scope,
		students: slices.Clone(students),
		graph:    s.graph.Clone(),
	}
}

// WithGraph returns a new state whose graph is replaced wholesale by g.
func (s AssignmentState) WithGraph(g PeerGraph) AssignmentState {
	return AssignmentState{
		scope:    s.scope,
		students: slices.Clone(s.students),
		graph:    g.Clone(),
	}
}

// ReviewersOf returns the reviewers assigned to reviewee, sorted.
func (s AssignmentState) ReviewersOf(reviewee ParticipantID) []ParticipantID {
	var reviewers []ParticipantID
	for _, reviewer := range slices.Sorted(maps.Keys(s.graph)) {
		if s.graph.HasEdge(reviewer, reviewee) {
			reviewers = append(reviewers, reviewer)
		}
	}
	return reviewers
}
