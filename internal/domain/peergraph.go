package domain

import (
	"fmt"
	"slices"
)

// PeerEdge is an ordered (reviewer, reviewee) pair.
type PeerEdge struct {
	Reviewer ParticipantID `json:"reviewer"`
	Reviewee ParticipantID `json:"reviewee"`
}

// PeerGraph maps each reviewer to the reviewees assigned to them. A graph
// is replaced wholesale on every randomization; it is never patched.
type PeerGraph map[ParticipantID][]ParticipantID

// Peers returns the reviewees assigned to reviewer.
func (g PeerGraph) Peers(reviewer ParticipantID) []ParticipantID { return g[reviewer] }

// OutDegree returns how many reviewees reviewer has.
func (g PeerGraph) OutDegree(reviewer ParticipantID) int { return len(g[reviewer]) }

// Edges returns every edge sorted by reviewer then reviewee.
func (g PeerGraph) Edges() []PeerEdge {
	edges := make([]PeerEdge, 0, len(g))
	for reviewer, reviewees := range g {
		for _, reviewee := range reviewees {
			edges = append(edges, PeerEdge{Reviewer: reviewer, Reviewee: reviewee})
		}
	}
	slices.SortFunc(edges, compareEdges)
	return edges
}

// HasEdge reports whether reviewer reviews reviewee.
func (g PeerGraph) HasEdge(reviewer, reviewee ParticipantID) bool {
	return slices.Contains(g[reviewer], reviewee)
}

// Clone returns a deep copy of the graph.
func (g PeerGraph) Clone() PeerGraph {
	if g == nil {
		return nil
	}
	out := make(PeerGraph, len(g))
	for k, v := range g {
		out[k] = slices.Clone(v)
	}
	return out
}

// Validate checks the structural invariants: no self-edges and no
// duplicate reviewees per reviewer.
func (g PeerGraph) Validate() error {
	for reviewer, reviewees := range g {
		seen := make(map[ParticipantID]struct{}, len(reviewees))
		for _, reviewee := range reviewees {
			if reviewee == reviewer {
				return fmt.Errorf("peer graph: self-edge on %s", reviewer)
			}
			if _, dup := seen[reviewee]; dup {
				return fmt.Errorf("peer graph: duplicate edge %s -> %s", reviewer, reviewee)
			}
			seen[reviewee] = struct{}{}
		}
	}
	return nil
}

// RemovedEdges returns the edges present in prev but absent from next,
// sorted. These are the edges whose grade items must be revoked.
func RemovedEdges(prev, next PeerGraph) []PeerEdge {
	var removed []PeerEdge
	for _, e := range prev.Edges() {
		if !next.HasEdge(e.Reviewer, e.Reviewee) {
			removed = append(removed, e)
		}
	}
	return removed
}

func compareEdges(a, b PeerEdge) int {
	if a.Reviewer != b.Reviewer {
		if a.Reviewer < b.Reviewer {
			return -1
		}
		return 1
	}
	switch {
	case a.Reviewee < b.Reviewee:
		return -1
	case a.Reviewee > b.Reviewee:
		return 1
	}
	return 0
}
