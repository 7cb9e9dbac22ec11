package engine

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"parkgate/internal/domain/gate"
	"parkgate/internal/plate"
)

// Match is the outcome of resolving one raw observation against the
// candidate index.
type Match struct {
	Identity   gate.VehicleIdentity
	Normalized string
	IsNew      bool
	Score      float64
	// Ambiguous is set when two or more candidates tied at the top fuzzy
	// score. The recency tie-break already decided the winner; the flag is
	// carried onto the raw log row for audit.
	Ambiguous bool
}

// Resolver maps raw observations to tracked vehicle identities. Exact
// canonical-text matches short-circuit at score 1.0; otherwise the best
// fuzzy candidate at or above the similarity threshold wins, with ties
// broken by most-recently-seen.
type Resolver struct {
	idx       *identityIndex
	threshold float64
	minDigits int
	horizon   time.Duration
	log       zerolog.Logger
}

func NewResolver(idx *identityIndex, threshold float64, minDigits int, horizon time.Duration, log zerolog.Logger) *Resolver {
	return &Resolver{
		idx:       idx,
		threshold: threshold,
		minDigits: minDigits,
		horizon:   horizon,
		log:       log,
	}
}

func (r *Resolver) Resolve(ev gate.RawDetectionEvent, now time.Time) (Match, error) {
	normalized := plate.Normalize(ev.PlateText)
	if !plate.MatchesKnownFormat(normalized) && plate.DigitCount(normalized) < r.minDigits {
		return Match{Normalized: normalized}, fmt.Errorf("%w: %q matches no known format and has fewer than %d digits",
			gate.ErrValidation, ev.PlateText, r.minDigits)
	}

	cands := r.idx.candidates(now.Add(-r.horizon))

	// Exact canonical match wins outright; if several identities carry the
	// same canonical text the freshest one is taken.
	var exact *gate.VehicleIdentity
	for i := range cands {
		c := cands[i]
		if c.CanonicalPlate != normalized {
			continue
		}
		if exact == nil || c.LastSeenAt.After(exact.LastSeenAt) {
			exact = &cands[i]
		}
	}
	if exact != nil {
		return Match{Identity: *exact, Normalized: normalized, Score: 1.0}, nil
	}

	var (
		best      *gate.VehicleIdentity
		bestScore float64
		ambiguous bool
	)
	for i := range cands {
		score := plate.Similarity(normalized, cands[i].CanonicalPlate)
		switch {
		case best == nil || score > bestScore:
			best = &cands[i]
			bestScore = score
			ambiguous = false
		case score == bestScore:
			ambiguous = true
			// Recency wins over identity ordering: the freshest candidate
			// is more likely the same physical pass.
			if cands[i].LastSeenAt.After(best.LastSeenAt) {
				best = &cands[i]
			}
		}
	}

	if best != nil && bestScore >= r.threshold {
		if ambiguous {
			r.log.Warn().
				Err(gate.ErrAmbiguousMatch).
				Str("plate", normalized).
				Str("identity_id", best.ID.String()).
				Float64("score", bestScore).
				Msg("ambiguous fuzzy match resolved by recency")
		}
		return Match{Identity: *best, Normalized: normalized, Score: bestScore, Ambiguous: ambiguous}, nil
	}

	return Match{Normalized: normalized, IsNew: true}, nil
}
