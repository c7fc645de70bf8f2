package grading

import (
	"slices"

	"go.uber.org/zap"

	"github.com/ahrav/go-peergrade/internal/domain"
)

// PeerGraphBuilder produces randomized, degree-bounded review assignments.
//
// For a population P and peer count k:
//   - unlimited, or |P| <= k: every participant reviews every other
//     participant. No randomness is involved.
//   - otherwise: k shuffled rounds each give every participant still short
//     of k edges one peer that has not yet been picked in that round,
//     spreading in-degree. A repair pass then tops up anyone left short
//     from all remaining eligible peers.
//
// Reciprocal pairs and balanced in-degree are not guaranteed. A shortfall
// left after the repair pass is logged and counted, never returned as an
// error.
//
// The builder is safe for concurrent use; the random source is serialized.
type PeerGraphBuilder struct {
	ambient
}

// NewPeerGraphBuilder creates a builder. Without WithRand the builder draws
// from a freshly seeded PCG source.
func NewPeerGraphBuilder(opts ...Option) *PeerGraphBuilder {
	return &PeerGraphBuilder{ambient: newAmbient(opts)}
}

// Build assigns up to count reviewees to every participant. Duplicate ids
// are collapsed, keeping first occurrence order. Every participant appears
// as a key of the returned graph, with its reviewees sorted.
//
// Returns an error wrapping domain.ErrContractViolation for a negative count.
func (b *PeerGraphBuilder) Build(participants []domain.ParticipantID, count domain.PeerCount) (domain.PeerGraph, error) {
	if err := count.Validate(); err != nil {
		return nil, err
	}

	population := dedupe(participants)
	if len(population) == 0 {
		return domain.PeerGraph{}, nil
	}

	if count.Unlimited() || len(population) <= count.N() {
		return saturated(population), nil
	}

	graph := b.balanced(population, count.N())
	for p, peers := range graph {
		slices.Sort(peers)
		graph[p] = peers
	}
	return graph, nil
}

func (b *PeerGraphBuilder) balanced(population []domain.ParticipantID, k int) domain.PeerGraph {
	pool := slices.Clone(population)
	b.rng.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	graph := make(domain.PeerGraph, len(pool))
	assigned := make(map[domain.ParticipantID]map[domain.ParticipantID]struct{}, len(pool))
	for _, p := range pool {
		graph[p] = make([]domain.ParticipantID, 0, k)
		assigned[p] = make(map[domain.ParticipantID]struct{}, k)
	}

	assign := func(reviewer, reviewee domain.ParticipantID) {
		graph[reviewer] = append(graph[reviewer], reviewee)
		assigned[reviewer][reviewee] = struct{}{}
	}
	eligible := func(reviewer, candidate domain.ParticipantID) bool {
		if candidate == reviewer {
			return false
		}
		_, taken := assigned[reviewer][candidate]
		return !taken
	}

	candidates := make([]domain.ParticipantID, 0, len(pool))
	for range k {
		short := make([]domain.ParticipantID, 0, len(pool))
		for _, p := range pool {
			if len(graph[p]) < k {
				short = append(short, p)
			}
		}
		b.rng.shuffle(len(short), func(i, j int) { short[i], short[j] = short[j], short[i] })

		pickedThisRound := make(map[domain.ParticipantID]struct{}, len(short))
		for _, reviewer := range short {
			candidates = candidates[:0]
			for _, c := range pool {
				if _, picked := pickedThisRound[c]; picked {
					continue
				}
				if eligible(reviewer, c) {
					candidates = append(candidates, c)
				}
			}
			if len(candidates) == 0 {
				continue
			}
			pick := candidates[b.rng.intN(len(candidates))]
			pickedThisRound[pick] = struct{}{}
			assign(reviewer, pick)
		}
	}

	// Repair pass.
	for _, reviewer := range pool {
		for len(graph[reviewer]) < k {
			candidates = candidates[:0]
			for _, c := range pool {
				if eligible(reviewer, c) {
					candidates = append(candidates, c)
				}
			}
			if len(candidates) == 0 {
				b.logger.Warn("peer assignment shortfall",
					zap.String("reviewer", string(reviewer)),
					zap.Int("assigned", len(graph[reviewer])),
					zap.Int("requested", k),
				)
				b.metrics.RecordCounter(MetricPeerShortfall, float64(k-len(graph[reviewer])), nil)
				break
			}
			assign(reviewer, candidates[b.rng.intN(len(candidates))])
		}
	}

	b.logger.Debug("peer graph built",
		zap.Int("participants", len(pool)),
		zap.Int("peer_count", k),
	)
	return graph
}

// saturated returns the complete graph over population minus self-loops.
func saturated(population []domain.ParticipantID) domain.PeerGraph {
	sorted := slices.Clone(population)
	slices.Sort(sorted)

	graph := make(domain.PeerGraph, len(sorted))
	for _, reviewer := range sorted {
		peers := make([]domain.ParticipantID, 0, len(sorted)-1)
		for _, reviewee := range sorted {
			if reviewee != reviewer {
				peers = append(peers, reviewee)
			}
		}
		graph[reviewer] = peers
	}
	return graph
}

func dedupe(ids []domain.ParticipantID) []domain.ParticipantID {
	seen := make(map[domain.ParticipantID]struct{}, len(ids))
	out := make([]domain.ParticipantID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
