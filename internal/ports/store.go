// Package ports defines the core interfaces that form the contract between
// the grading engine and its external collaborators: the grade store, the
// grade-book ledger and the completion tracker.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"

	"github.com/ahrav/go-peergrade/internal/domain"
)

// GradeSource reads the grades that feed an aggregation.
type GradeSource interface {
	// FetchGrades returns every grade whose subject is student within area.
	// Ungraded slots are returned with an ungraded score. The slice must
	// reflect a single consistent snapshot of the store.
	FetchGrades(ctx context.Context, student domain.ParticipantID, area domain.GradingArea) ([]domain.Grade, error)
}

// SnapshotGradeSource is implemented by sources that can read every rater
// type of one timing in a single consistent snapshot. Aggregation prefers it
// over per-area FetchGrades calls when available.
type SnapshotGradeSource interface {
	FetchTimingGrades(ctx context.Context, student domain.ParticipantID, timing domain.Timing) (map[domain.RaterType][]domain.Grade, error)
}

// GradeWriter records grading events.
type GradeWriter interface {
	// UpsertGrade lazily creates the grade item for the submission's
	// (area, subject, rater) triple and atomically replaces its grade.
	// It returns the grade item the grade is attached to.
	UpsertGrade(ctx context.Context, sub domain.Submission) (domain.GradeItem, error)
}

// AggregateStore persists aggregation results.
type AggregateStore interface {
	// FetchAggregatedGrade returns the stored record for (student, timing).
	// It returns an error wrapping domain.ErrNotFound when none exists.
	FetchAggregatedGrade(ctx context.Context, student domain.ParticipantID, timing domain.Timing) (domain.AggregatedGrade, error)

	// UpsertAggregatedGrade atomically replaces the record for the
	// record's (student, timing).
	UpsertAggregatedGrade(ctx context.Context, record domain.AggregatedGrade) error
}

// PeerGraphStore persists peer graphs per scope.
type PeerGraphStore interface {
	// FetchPeerGraph returns the current graph for scope. A scope that
	// was never randomized yields an empty graph.
	FetchPeerGraph(ctx context.Context, scopeID string) (domain.PeerGraph, error)

	// UpsertPeerGraph atomically replaces the graph for scope. Grade items
	// and grades tied to edges that are not part of graph are deleted in
	// the same transaction.
	UpsertPeerGraph(ctx context.Context, scopeID string, graph domain.PeerGraph) error
}

// Gradebook forwards aggregated scores to an external grade-book ledger.
type Gradebook interface {
	// PushGradebookScore records rawScore for student. Failures are the
	// collaborator's concern; callers log and continue.
	PushGradebookScore(ctx context.Context, student domain.ParticipantID, rawScore float64) error
}

// CompletionTracker marks activities complete for students.
type CompletionTracker interface {
	// MarkComplete marks the activity complete for student. It is
	// idempotent.
	MarkComplete(ctx context.Context, student domain.ParticipantID) error
}

// RubricFillingSource reads rubric fillings for training attempts.
type RubricFillingSource interface {
	// FetchRubricFilling returns the filling stored under attemptRef. An
	// attempt with no selections yields an empty filling, not an error.
	FetchRubricFilling(ctx context.Context, attemptRef string) (domain.RubricFilling, error)
}

// GradeStore is the full store surface used by the engine.
type GradeStore interface {
	GradeSource
	GradeWriter
	AggregateStore
	PeerGraphStore
	RubricFillingSource
}
