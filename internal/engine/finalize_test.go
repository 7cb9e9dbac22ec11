package engine

import (
	"testing"
	"time"

	"parkgate/internal/domain/gate"
)

func TestFinalizerDecide(t *testing.T) {
	t.Parallel()

	f := Finalizer{ImmediateThreshold: 0.95, Window: 3 * time.Second}

	if f.Decide(0.97) != finalizeNow {
		t.Fatal("0.97 must finalize immediately")
	}
	if f.Decide(0.95) != finalizeNow {
		t.Fatal("threshold is inclusive")
	}
	if f.Decide(0.94) != bufferObservation {
		t.Fatal("0.94 must be buffered")
	}
}

func TestPickWinnerHighestConfidence(t *testing.T) {
	t.Parallel()

	t0 := time.Now()
	buf := []resolvedEvent{
		{raw: gate.RawDetectionEvent{Confidence: 0.6, CapturedAt: t0}},
		{raw: gate.RawDetectionEvent{Confidence: 0.9, CapturedAt: t0.Add(time.Second)}},
		{raw: gate.RawDetectionEvent{Confidence: 0.7, CapturedAt: t0.Add(2 * time.Second)}},
	}
	if got := pickWinner(buf); got != 1 {
		t.Fatalf("pickWinner=%d want 1", got)
	}
}

func TestPickWinnerTieGoesToEarliest(t *testing.T) {
	t.Parallel()

	t0 := time.Now()
	buf := []resolvedEvent{
		{raw: gate.RawDetectionEvent{Confidence: 0.8, CapturedAt: t0.Add(time.Second)}},
		{raw: gate.RawDetectionEvent{Confidence: 0.8, CapturedAt: t0}},
	}
	if got := pickWinner(buf); got != 1 {
		t.Fatalf("pickWinner=%d want earliest of the tie", got)
	}
}
