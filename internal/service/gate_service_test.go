package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"parkgate/internal/domain/gate"
)

// Validation failures must be rejected before the event reaches the engine,
// so a service with no engine behind it is enough to exercise them.
func TestIngestDetectionRejectsBadInput(t *testing.T) {
	t.Parallel()

	s := NewGateService(nil, nil, nil, zerolog.Nop())

	cases := []struct {
		name string
		ev   gate.RawDetectionEvent
	}{
		{"missing camera", gate.RawDetectionEvent{PlateText: "BA12PA3456", Confidence: 0.9}},
		{"missing plate", gate.RawDetectionEvent{CameraID: "cam-1", Confidence: 0.9}},
		{"confidence above one", gate.RawDetectionEvent{CameraID: "cam-1", PlateText: "BA12PA3456", Confidence: 1.2}},
		{"negative confidence", gate.RawDetectionEvent{CameraID: "cam-1", PlateText: "BA12PA3456", Confidence: -0.1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := s.IngestDetection(context.Background(), tc.ev)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestFindSessionsRejectsBadFilters(t *testing.T) {
	t.Parallel()

	s := NewGateService(nil, nil, nil, zerolog.Nop())
	str := func(v string) *string { return &v }

	cases := []struct {
		name     string
		status   *string
		identity *string
		from, to *string
	}{
		{name: "unknown status", status: str("PAUSED")},
		{name: "bad identity id", identity: str("not-a-uuid")},
		{name: "bad from time", from: str("yesterday")},
		{name: "bad to time", to: str("2026-13-01")},
		{name: "inverted range", from: str("2026-08-02T00:00:00Z"), to: str("2026-08-01T00:00:00Z")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := s.FindSessions(context.Background(), tc.status, tc.identity, tc.from, tc.to, 10, 0)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestFindIdentitiesRequiresQuery(t *testing.T) {
	t.Parallel()

	s := NewGateService(nil, nil, nil, zerolog.Nop())
	if _, err := s.FindIdentities("", true); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestParseTimeRange(t *testing.T) {
	t.Parallel()

	str := func(v string) *string { return &v }

	from, to, err := parseTimeRange(str("2026-08-01T10:00:00Z"), str("2026-08-01T12:00:00Z"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if from == nil || to == nil {
		t.Fatal("expected both bounds parsed")
	}
	if !to.After(*from) {
		t.Fatalf("expected ordered range, got %v .. %v", from, to)
	}

	from, to, err = parseTimeRange(nil, nil)
	if err != nil || from != nil || to != nil {
		t.Fatalf("expected open range, got %v %v %v", from, to, err)
	}
}
