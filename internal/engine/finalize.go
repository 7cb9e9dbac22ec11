package engine

import (
	"time"

	"parkgate/internal/domain/gate"
)

// resolvedEvent is a raw observation after identity resolution, on its way
// through an identity lane.
type resolvedEvent struct {
	raw   gate.RawDetectionEvent
	match Match
}

type finalizeDecision int

const (
	finalizeNow finalizeDecision = iota
	bufferObservation
)

// Finalizer decides whether a resolved observation becomes a toggle
// immediately or waits out the pass window with its siblings. A vehicle
// driving past several frames produces several observations of one physical
// pass; only one of them may ever be promoted.
type Finalizer struct {
	ImmediateThreshold float64
	Window             time.Duration
}

func (f Finalizer) Decide(confidence float64) finalizeDecision {
	if confidence >= f.ImmediateThreshold {
		return finalizeNow
	}
	return bufferObservation
}

// pickWinner selects the observation to promote out of a pass buffer:
// highest confidence, ties broken by earliest timestamp. The buffer must be
// non-empty.
func pickWinner(buf []resolvedEvent) int {
	winner := 0
	for i := 1; i < len(buf); i++ {
		cur, best := buf[i].raw, buf[winner].raw
		if cur.Confidence > best.Confidence ||
			(cur.Confidence == best.Confidence && cur.CapturedAt.Before(best.CapturedAt)) {
			winner = i
		}
	}
	return winner
}
