// Package testutils provides in-memory collaborators for exercising the
// grading engine without a database.
package testutils

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ahrav/go-peergrade/internal/domain"
	"github.com/ahrav/go-peergrade/internal/ports"
)

var (
	_ ports.GradeStore          = (*MemStore)(nil)
	_ ports.SnapshotGradeSource = (*MemStore)(nil)
	_ ports.Gradebook           = (*MemStore)(nil)
	_ ports.CompletionTracker   = (*MemStore)(nil)
)

// GradebookPush records one call to PushGradebookScore.
type GradebookPush struct {
	Student domain.ParticipantID
	Score   float64
}

// MemStore is a mutex-guarded in-memory implementation of every store port.
// Setting one of the Err fields makes the matching operation fail.
type MemStore struct {
	mu sync.Mutex

	items      map[itemKey]domain.GradeItem
	grades     map[string]domain.Grade
	aggregates map[aggKey]domain.AggregatedGrade
	graphs     map[string]domain.PeerGraph
	fillings   map[string]domain.RubricFilling
	pushes     []GradebookPush
	completed  map[domain.ParticipantID]int
	seq        int

	// FetchErr fails FetchGrades and FetchTimingGrades.
	FetchErr error
	// UpsertErr fails UpsertAggregatedGrade.
	UpsertErr error
	// GradebookErr fails PushGradebookScore after recording the push.
	GradebookErr error
	// CompletionErr fails MarkComplete.
	CompletionErr error

	// Now stamps grade updates. Defaults to a fixed instant.
	Now func() time.Time
}

type itemKey struct {
	area    domain.GradingArea
	subject domain.ParticipantID
	rater   domain.ParticipantID
}

type aggKey struct {
	student domain.ParticipantID
	timing  domain.Timing
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		items:      make(map[itemKey]domain.GradeItem),
		grades:     make(map[string]domain.Grade),
		aggregates: make(map[aggKey]domain.AggregatedGrade),
		graphs:     make(map[string]domain.PeerGraph),
		fillings:   make(map[string]domain.RubricFilling),
		completed:  make(map[domain.ParticipantID]int),
		Now:        func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

// UpsertGrade creates the grade item on first use and replaces its grade.
func (m *MemStore) UpsertGrade(_ context.Context, sub domain.Submission) (domain.GradeItem, error) {
	if err := sub.Validate(); err != nil {
		return domain.GradeItem{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := itemKey{area: sub.Area, subject: sub.Subject, rater: sub.Rater}
	item, ok := m.items[key]
	if !ok {
		m.seq++
		item = domain.GradeItem{
			ID:      fmt.Sprintf("item-%d", m.seq),
			Area:    sub.Area,
			Subject: sub.Subject,
			Rater:   sub.Rater,
		}
		m.items[key] = item
	}
	m.grades[item.ID] = domain.Grade{
		ItemID:    item.ID,
		Rater:     sub.Rater,
		Score:     sub.Score,
		Comment:   sub.Comment,
		UpdatedAt: m.Now(),
	}
	return item, nil
}

// SetGrade is a shorthand for UpsertGrade in tests. A negative raw score
// stores an ungraded slot.
func (m *MemStore) SetGrade(timing domain.Timing, rt domain.RaterType, subject, rater domain.ParticipantID, raw float64) {
	_, err := m.UpsertGrade(context.Background(), domain.Submission{
		Area:    domain.GradingArea{Timing: timing, RaterType: rt},
		Subject: subject,
		Rater:   rater,
		Score:   domain.ScoreFromRaw(raw),
	})
	if err != nil {
		panic(err)
	}
}

// FetchGrades returns the grades for student in area, ordered by item id.
func (m *MemStore) FetchGrades(_ context.Context, student domain.ParticipantID, area domain.GradingArea) ([]domain.Grade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	return m.gradesLocked(student, area), nil
}

// FetchTimingGrades returns every rater type's grades for (student, timing)
// under one lock acquisition.
func (m *MemStore) FetchTimingGrades(_ context.Context, student domain.ParticipantID, timing domain.Timing) (map[domain.RaterType][]domain.Grade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	out := make(map[domain.RaterType][]domain.Grade, len(domain.AggregatedRaterTypes))
	for _, rt := range domain.AggregatedRaterTypes {
		out[rt] = m.gradesLocked(student, domain.GradingArea{Timing: timing, RaterType: rt})
	}
	return out, nil
}

func (m *MemStore) gradesLocked(student domain.ParticipantID, area domain.GradingArea) []domain.Grade {
	var out []domain.Grade
	for key, item := range m.items {
		if key.subject != student || key.area != area {
			continue
		}
		if g, ok := m.grades[item.ID]; ok {
			out = append(out, g)
		}
	}
	slices.SortFunc(out, func(a, b domain.Grade) int {
		switch {
		case a.ItemID < b.ItemID:
			return -1
		case a.ItemID > b.ItemID:
			return 1
		}
		return 0
	})
	return out
}

// FetchAggregatedGrade returns the stored record or an error wrapping
// domain.ErrNotFound.
func (m *MemStore) FetchAggregatedGrade(_ context.Context, student domain.ParticipantID, timing domain.Timing) (domain.AggregatedGrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.aggregates[aggKey{student, timing}]
	if !ok {
		return domain.AggregatedGrade{}, ports.NewStoreError("FetchAggregatedGrade", string(student)+"/"+string(timing), domain.ErrNotFound)
	}
	return rec, nil
}

// UpsertAggregatedGrade replaces the record for (student, timing).
func (m *MemStore) UpsertAggregatedGrade(_ context.Context, rec domain.AggregatedGrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	m.aggregates[aggKey{rec.Student, rec.Timing}] = rec
	return nil
}

// FetchPeerGraph returns a copy of the graph for scope.
func (m *MemStore) FetchPeerGraph(_ context.Context, scopeID string) (domain.PeerGraph, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.graphs[scopeID]; ok {
		return g.Clone(), nil
	}
	return domain.PeerGraph{}, nil
}

// UpsertPeerGraph replaces the graph for scope and deletes peer grade items
// whose (rater, subject) edge is no longer present.
func (m *MemStore) UpsertPeerGraph(_ context.Context, scopeID string, graph domain.PeerGraph) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.graphs[scopeID]
	for _, e := range domain.RemovedEdges(prev, graph) {
		if m.sharedEdgeLocked(scopeID, e) {
			continue
		}
		for key, item := range m.items {
			if key.area.RaterType == domain.RaterPeer && key.rater == e.Reviewer && key.subject == e.Reviewee {
				delete(m.grades, item.ID)
				delete(m.items, key)
			}
		}
	}
	m.graphs[scopeID] = graph.Clone()
	return nil
}

func (m *MemStore) sharedEdgeLocked(scopeID string, e domain.PeerEdge) bool {
	for scope, g := range m.graphs {
		if scope != scopeID && g.HasEdge(e.Reviewer, e.Reviewee) {
			return true
		}
	}
	return false
}

// SetFilling stores a rubric filling under ref.
func (m *MemStore) SetFilling(ref string, f domain.RubricFilling) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fillings[ref] = f
}

// FetchRubricFilling returns the filling under ref, empty when absent.
func (m *MemStore) FetchRubricFilling(_ context.Context, ref string) (domain.RubricFilling, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fillings[ref]
	if !ok {
		return domain.RubricFilling{}, nil
	}
	out := make(domain.RubricFilling, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out, nil
}

// PushGradebookScore records the push.
func (m *MemStore) PushGradebookScore(_ context.Context, student domain.ParticipantID, raw float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = append(m.pushes, GradebookPush{Student: student, Score: raw})
	return m.GradebookErr
}

// MarkComplete records a completion.
func (m *MemStore) MarkComplete(_ context.Context, student domain.ParticipantID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CompletionErr != nil {
		return m.CompletionErr
	}
	m.completed[student]++
	return nil
}

// Pushes returns the recorded grade-book pushes.
func (m *MemStore) Pushes() []GradebookPush {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.pushes)
}

// Completed reports whether MarkComplete succeeded for student.
func (m *MemStore) Completed(student domain.ParticipantID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed[student] > 0
}

// ItemCount returns the number of grade items.
func (m *MemStore) ItemCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// GradeOnly wraps a store so that only the GradeSource surface is visible,
// forcing per-area fetches.
type GradeOnly struct {
	Source ports.GradeSource
}

// FetchGrades delegates to the wrapped source.
func (g GradeOnly) FetchGrades(ctx context.Context, student domain.ParticipantID, area domain.GradingArea) ([]domain.Grade, error) {
	return g.Source.FetchGrades(ctx, student, area)
}
