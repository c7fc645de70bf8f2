package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ahrav/go-peergrade/internal/domain"
	"github.com/ahrav/go-peergrade/internal/ports"
)

var (
	_ ports.GradeStore          = (*Store)(nil)
	_ ports.SnapshotGradeSource = (*Store)(nil)
	_ ports.Gradebook           = (*Store)(nil)
	_ ports.CompletionTracker   = (*Store)(nil)
)

// Store implements every store port on top of a *sql.DB. Queries use $N
// placeholders, which both modernc sqlite and pgx accept.
type Store struct {
	db     *sql.DB
	driver Driver
	logger *zap.Logger
	now    func() time.Time
}

// New wraps an already-migrated database.
func New(db *sql.DB, driver Driver, opts ...Option) *Store {
	s := &Store{
		db:     db,
		driver: driver,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func gradeKey(student domain.ParticipantID, timing domain.Timing) string {
	return string(student) + "/" + string(timing)
}

// UpsertGrade creates the grade item for the submission on first use and
// replaces its grade, both in one transaction.
func (s *Store) UpsertGrade(ctx context.Context, sub domain.Submission) (domain.GradeItem, error) {
	if err := sub.Validate(); err != nil {
		return domain.GradeItem{}, err
	}
	item := domain.GradeItem{Area: sub.Area, Subject: sub.Subject, Rater: sub.Rater}
	key := sub.Area.String() + "/" + string(sub.Subject) + "/" + string(sub.Rater)

	err := WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO grade_items (id, timing, rater_type, subject, rater)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (timing, rater_type, subject, rater) DO NOTHING`,
			uuid.NewString(), string(sub.Area.Timing), string(sub.Area.RaterType),
			string(sub.Subject), string(sub.Rater)); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `
SELECT id FROM grade_items
WHERE timing = $1 AND rater_type = $2 AND subject = $3 AND rater = $4`,
			string(sub.Area.Timing), string(sub.Area.RaterType),
			string(sub.Subject), string(sub.Rater)).Scan(&item.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO grades (item_id, rater, score, comment, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (item_id) DO UPDATE SET
  rater = EXCLUDED.rater,
  score = EXCLUDED.score,
  comment = EXCLUDED.comment,
  updated_at = EXCLUDED.updated_at`,
			item.ID, string(sub.Rater), nullScore(sub.Score), sub.Comment, s.now().UTC().UnixMilli())
		return err
	})
	if err != nil {
		return domain.GradeItem{}, ports.NewStoreError("UpsertGrade", key, err)
	}
	return item, nil
}

const selectGrades = `
SELECT gi.rater_type, g.item_id, g.rater, g.score, g.comment, g.updated_at
FROM grades g
JOIN grade_items gi ON gi.id = g.item_id
WHERE gi.subject = $1 AND gi.timing = $2`

// FetchGrades returns the grades for student in area ordered by item id.
func (s *Store) FetchGrades(ctx context.Context, student domain.ParticipantID, area domain.GradingArea) ([]domain.Grade, error) {
	byType, err := s.queryGrades(ctx, selectGrades+` AND gi.rater_type = $3 ORDER BY g.item_id`,
		string(student), string(area.Timing), string(area.RaterType))
	if err != nil {
		return nil, ports.NewStoreError("FetchGrades", gradeKey(student, area.Timing), err)
	}
	return byType[area.RaterType], nil
}

// FetchTimingGrades reads every rater type's grades for (student, timing) in
// a single statement, so the result is one consistent snapshot.
func (s *Store) FetchTimingGrades(ctx context.Context, student domain.ParticipantID, timing domain.Timing) (map[domain.RaterType][]domain.Grade, error) {
	byType, err := s.queryGrades(ctx, selectGrades+` ORDER BY gi.rater_type, g.item_id`,
		string(student), string(timing))
	if err != nil {
		return nil, ports.NewStoreError("FetchTimingGrades", gradeKey(student, timing), err)
	}
	return byType, nil
}

func (s *Store) queryGrades(ctx context.Context, query string, args ...any) (map[domain.RaterType][]domain.Grade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.RaterType][]domain.Grade)
	for rows.Next() {
		var (
			rt, itemID, rater, comment string
			score                      sql.NullFloat64
			updated                    int64
		)
		if err := rows.Scan(&rt, &itemID, &rater, &score, &comment, &updated); err != nil {
			return nil, err
		}
		out[domain.RaterType(rt)] = append(out[domain.RaterType(rt)], domain.Grade{
			ItemID:    itemID,
			Rater:     domain.ParticipantID(rater),
			Score:     scoreFromNull(score),
			Comment:   comment,
			UpdatedAt: time.UnixMilli(updated).UTC(),
		})
	}
	return out, rows.Err()
}

// FetchAggregatedGrade returns the stored record for (student, timing) or an
// error wrapping domain.ErrNotFound.
func (s *Store) FetchAggregatedGrade(ctx context.Context, student domain.ParticipantID, timing domain.Timing) (domain.AggregatedGrade, error) {
	var (
		composites          string
		weighted, final     sql.NullFloat64
		fairness, selfBonus float64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT composites, weighted_total, fairness_bonus, self_fairness_bonus, final_score
FROM aggregated_grades
WHERE student = $1 AND timing = $2`,
		string(student), string(timing)).Scan(&composites, &weighted, &fairness, &selfBonus, &final)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AggregatedGrade{}, ports.NewStoreError("FetchAggregatedGrade", gradeKey(student, timing), domain.ErrNotFound)
	}
	if err != nil {
		return domain.AggregatedGrade{}, ports.NewStoreError("FetchAggregatedGrade", gradeKey(student, timing), err)
	}

	rec := domain.NewAggregatedGrade(student, timing)
	if err := json.Unmarshal([]byte(composites), &rec.Composites); err != nil {
		return domain.AggregatedGrade{}, ports.NewStoreError("FetchAggregatedGrade", gradeKey(student, timing),
			fmt.Errorf("decode composites: %w", err))
	}
	rec.WeightedTotal = scoreFromNull(weighted)
	rec.FairnessBonus = fairness
	rec.SelfFairnessBonus = selfBonus
	rec.FinalScore = scoreFromNull(final)
	return rec, nil
}

// UpsertAggregatedGrade replaces the record for (student, timing).
func (s *Store) UpsertAggregatedGrade(ctx context.Context, rec domain.AggregatedGrade) error {
	key := gradeKey(rec.Student, rec.Timing)
	composites, err := json.Marshal(rec.Composites)
	if err != nil {
		return ports.NewStoreError("UpsertAggregatedGrade", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO aggregated_grades
  (student, timing, composites, weighted_total, fairness_bonus, self_fairness_bonus, final_score, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (student, timing) DO UPDATE SET
  composites = EXCLUDED.composites,
  weighted_total = EXCLUDED.weighted_total,
  fairness_bonus = EXCLUDED.fairness_bonus,
  self_fairness_bonus = EXCLUDED.self_fairness_bonus,
  final_score = EXCLUDED.final_score,
  updated_at = EXCLUDED.updated_at`,
		string(rec.Student), string(rec.Timing), string(composites),
		nullScore(rec.WeightedTotal), rec.FairnessBonus, rec.SelfFairnessBonus,
		nullScore(rec.FinalScore), s.now().UTC().UnixMilli())
	if err != nil {
		return ports.NewStoreError("UpsertAggregatedGrade", key, err)
	}
	return nil
}

// FetchPeerGraph returns the graph stored for scope. Members without edges
// appear with an empty peer list.
func (s *Store) FetchPeerGraph(ctx context.Context, scopeID string) (domain.PeerGraph, error) {
	g, err := readGraph(ctx, s.db, scopeID)
	if err != nil {
		return nil, ports.NewStoreError("FetchPeerGraph", scopeID, err)
	}
	return g, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func readGraph(ctx context.Context, q querier, scopeID string) (domain.PeerGraph, error) {
	g := domain.PeerGraph{}

	members, err := q.QueryContext(ctx,
		`SELECT participant FROM peer_members WHERE scope_id = $1`, scopeID)
	if err != nil {
		return nil, err
	}
	for members.Next() {
		var p string
		if err := members.Scan(&p); err != nil {
			members.Close()
			return nil, err
		}
		g[domain.ParticipantID(p)] = []domain.ParticipantID{}
	}
	if err := members.Err(); err != nil {
		members.Close()
		return nil, err
	}
	members.Close()

	edges, err := q.QueryContext(ctx,
		`SELECT reviewer, reviewee FROM peer_edges WHERE scope_id = $1 ORDER BY reviewer, reviewee`, scopeID)
	if err != nil {
		return nil, err
	}
	defer edges.Close()
	for edges.Next() {
		var reviewer, reviewee string
		if err := edges.Scan(&reviewer, &reviewee); err != nil {
			return nil, err
		}
		r := domain.ParticipantID(reviewer)
		g[r] = append(g[r], domain.ParticipantID(reviewee))
	}
	return g, edges.Err()
}

// UpsertPeerGraph replaces the graph for scope. Peer grade items, and their
// grades, for edges that disappear are deleted in the same transaction
// unless another scope still holds the same edge.
func (s *Store) UpsertPeerGraph(ctx context.Context, scopeID string, graph domain.PeerGraph) error {
	if err := graph.Validate(); err != nil {
		return err
	}
	var removed int
	err := WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		prev, err := readGraph(ctx, tx, scopeID)
		if err != nil {
			return err
		}
		for _, e := range domain.RemovedEdges(prev, graph) {
			var shared bool
			if err := tx.QueryRowContext(ctx, `
SELECT EXISTS (SELECT 1 FROM peer_edges WHERE scope_id <> $1 AND reviewer = $2 AND reviewee = $3)`,
				scopeID, string(e.Reviewer), string(e.Reviewee)).Scan(&shared); err != nil {
				return err
			}
			if shared {
				continue
			}
			removed++
			if _, err := tx.ExecContext(ctx, `
DELETE FROM grades WHERE item_id IN (
  SELECT id FROM grade_items WHERE rater_type = $1 AND rater = $2 AND subject = $3)`,
				string(domain.RaterPeer), string(e.Reviewer), string(e.Reviewee)); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
DELETE FROM grade_items WHERE rater_type = $1 AND rater = $2 AND subject = $3`,
				string(domain.RaterPeer), string(e.Reviewer), string(e.Reviewee)); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM peer_edges WHERE scope_id = $1`, scopeID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM peer_members WHERE scope_id = $1`, scopeID); err != nil {
			return err
		}

		reviewers := make([]domain.ParticipantID, 0, len(graph))
		for r := range graph {
			reviewers = append(reviewers, r)
		}
		slices.Sort(reviewers)
		for _, r := range reviewers {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO peer_members (scope_id, participant) VALUES ($1, $2)`, scopeID, string(r)); err != nil {
				return err
			}
			for _, peer := range graph[r] {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO peer_edges (scope_id, reviewer, reviewee) VALUES ($1, $2, $3)`,
					scopeID, string(r), string(peer)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return ports.NewStoreError("UpsertPeerGraph", scopeID, err)
	}
	s.logger.Debug("peer graph stored",
		zap.String("scope", scopeID),
		zap.Int("members", len(graph)),
		zap.Int("removed_edges", removed))
	return nil
}

// SaveRubricFilling replaces the filling stored under attemptRef.
func (s *Store) SaveRubricFilling(ctx context.Context, attemptRef string, filling domain.RubricFilling) error {
	err := WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM rubric_fillings WHERE attempt_ref = $1`, attemptRef); err != nil {
			return err
		}
		for crit, level := range filling {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO rubric_fillings (attempt_ref, criterion_id, level_id) VALUES ($1, $2, $3)`,
				attemptRef, string(crit), string(level)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ports.NewStoreError("SaveRubricFilling", attemptRef, err)
	}
	return nil
}

// FetchRubricFilling returns the filling stored under attemptRef. An unknown
// attempt yields an empty filling.
func (s *Store) FetchRubricFilling(ctx context.Context, attemptRef string) (domain.RubricFilling, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT criterion_id, level_id FROM rubric_fillings WHERE attempt_ref = $1`, attemptRef)
	if err != nil {
		return nil, ports.NewStoreError("FetchRubricFilling", attemptRef, err)
	}
	defer rows.Close()

	out := domain.RubricFilling{}
	for rows.Next() {
		var crit, level string
		if err := rows.Scan(&crit, &level); err != nil {
			return nil, ports.NewStoreError("FetchRubricFilling", attemptRef, err)
		}
		out[domain.CriterionID(crit)] = domain.LevelID(level)
	}
	if err := rows.Err(); err != nil {
		return nil, ports.NewStoreError("FetchRubricFilling", attemptRef, err)
	}
	return out, nil
}

// PushGradebookScore appends rawScore to the local grade-book ledger.
func (s *Store) PushGradebookScore(ctx context.Context, student domain.ParticipantID, rawScore float64) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO gradebook_ledger (student, raw_score, pushed_at) VALUES ($1, $2, $3)`,
		string(student), rawScore, s.now().UTC().UnixMilli()); err != nil {
		return ports.NewStoreError("PushGradebookScore", string(student), err)
	}
	return nil
}

// LedgerEntry is one row of the local grade-book ledger.
type LedgerEntry struct {
	Student  domain.ParticipantID `json:"student"`
	RawScore float64              `json:"raw_score"`
	PushedAt time.Time            `json:"pushed_at"`
}

// Ledger returns the ledger entries for student, oldest first.
func (s *Store) Ledger(ctx context.Context, student domain.ParticipantID) ([]LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT raw_score, pushed_at FROM gradebook_ledger WHERE student = $1 ORDER BY id`, string(student))
	if err != nil {
		return nil, ports.NewStoreError("Ledger", string(student), err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var (
			raw    float64
			pushed int64
		)
		if err := rows.Scan(&raw, &pushed); err != nil {
			return nil, ports.NewStoreError("Ledger", string(student), err)
		}
		out = append(out, LedgerEntry{Student: student, RawScore: raw, PushedAt: time.UnixMilli(pushed).UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, ports.NewStoreError("Ledger", string(student), err)
	}
	return out, nil
}

// MarkComplete records completion for student. Repeated calls keep the
// first completion time.
func (s *Store) MarkComplete(ctx context.Context, student domain.ParticipantID) error {
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO completions (student, completed_at) VALUES ($1, $2)
ON CONFLICT (student) DO NOTHING`,
		string(student), s.now().UTC().UnixMilli()); err != nil {
		return ports.NewStoreError("MarkComplete", string(student), err)
	}
	return nil
}

// Completed reports whether student has been marked complete.
func (s *Store) Completed(ctx context.Context, student domain.ParticipantID) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM completions WHERE student = $1`, string(student)).Scan(&n); err != nil {
		return false, ports.NewStoreError("Completed", string(student), err)
	}
	return n > 0, nil
}

func nullScore(s domain.Score) sql.NullFloat64 {
	v, ok := s.Value()
	return sql.NullFloat64{Float64: v, Valid: ok}
}

func scoreFromNull(v sql.NullFloat64) domain.Score {
	if !v.Valid {
		return domain.Ungraded()
	}
	return domain.NewScore(v.Float64)
}
