package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parkgate/internal/domain/gate"
	"parkgate/internal/engine"
	"parkgate/internal/repository"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// GateService sits between the HTTP surface and the engine/repository pair:
// ingest goes to the engine, reads go to the in-memory index first and the
// repository for everything session-shaped.
type GateService struct {
	engine *engine.Engine
	repo   *repository.GateRepository
	retry  *engine.RetryingStore
	log    zerolog.Logger
}

func NewGateService(eng *engine.Engine, repo *repository.GateRepository, retry *engine.RetryingStore, log zerolog.Logger) *GateService {
	return &GateService{
		engine: eng,
		repo:   repo,
		retry:  retry,
		log:    log,
	}
}

func (s *GateService) IngestDetection(ctx context.Context, ev gate.RawDetectionEvent) (*gate.IngestAck, error) {
	if ev.CameraID == "" {
		return nil, fmt.Errorf("%w: camera_id is required", ErrInvalidInput)
	}
	if ev.PlateText == "" {
		return nil, fmt.Errorf("%w: plate_text is required", ErrInvalidInput)
	}
	if ev.Confidence < 0 || ev.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence must be in [0,1]", ErrInvalidInput)
	}
	if ev.CapturedAt.IsZero() {
		ev.CapturedAt = time.Now()
	}

	ack, err := s.engine.Submit(ctx, ev)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("camera_id", ev.CameraID).
			Str("plate", ev.PlateText).
			Msg("failed to submit detection")
		return nil, fmt.Errorf("failed to submit detection: %w", err)
	}

	s.log.Debug().
		Str("event_id", ack.EventID.String()).
		Str("camera_id", ev.CameraID).
		Str("plate", ev.PlateText).
		Float64("confidence", ev.Confidence).
		Time("captured_at", ev.CapturedAt).
		Msg("detection accepted")
	return &ack, nil
}

func (s *GateService) IdentityStatus(ctx context.Context, id uuid.UUID) (*gate.IdentityStatus, error) {
	if st, ok := s.engine.Status(id); ok {
		return &st, nil
	}

	// Not in the live index: the identity may predate the recency horizon.
	ident, err := s.repo.GetIdentity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if ident == nil {
		return nil, fmt.Errorf("%w: identity %s", ErrNotFound, id)
	}
	st := gate.IdentityStatus{
		IdentityID:     ident.ID,
		CanonicalPlate: ident.CanonicalPlate,
		State:          ident.State,
		LastSeenAt:     ident.LastSeenAt,
	}
	if !ident.LastToggleAt.IsZero() {
		t := ident.LastToggleAt
		st.LastToggleAt = &t
	}
	return &st, nil
}

func (s *GateService) FindIdentities(plateQuery string, fuzzy bool) ([]gate.IdentityStatus, error) {
	if plateQuery == "" {
		return nil, fmt.Errorf("%w: plate query cannot be empty", ErrInvalidInput)
	}
	return s.engine.LookupByPlate(plateQuery, fuzzy), nil
}

func (s *GateService) FindSessions(ctx context.Context, status *string, identityID *string, from, to *string, limit, offset int) ([]gate.Session, error) {
	var st *gate.SessionStatus
	if status != nil && *status != "" {
		switch parsed := gate.SessionStatus(*status); parsed {
		case gate.SessionOpen, gate.SessionCompleted, gate.SessionOrphaned:
			st = &parsed
		default:
			return nil, fmt.Errorf("%w: unknown session status %q", ErrInvalidInput, *status)
		}
	}

	var ident *uuid.UUID
	if identityID != nil && *identityID != "" {
		parsed, err := uuid.Parse(*identityID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid identity id", ErrInvalidInput)
		}
		ident = &parsed
	}

	fromTime, toTime, err := parseTimeRange(from, to)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	sessions, err := s.repo.FindSessions(ctx, st, ident, fromTime, toTime, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to find sessions: %w", err)
	}
	return sessions, nil
}

func (s *GateService) ToggleHistory(ctx context.Context, identityID uuid.UUID, limit int) ([]gate.ToggleEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	toggles, err := s.repo.FindTogglesForIdentity(ctx, identityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load toggle history: %w", err)
	}
	return toggles, nil
}

// RunSweep triggers an orphan sweep outside the regular schedule.
func (s *GateService) RunSweep(ctx context.Context) (int64, error) {
	n, err := s.engine.Sweep(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("manual orphan sweep failed")
		return 0, err
	}
	s.log.Info().Int64("orphaned", n).Msg("manual orphan sweep completed")
	return n, nil
}

// DrainRetryQueue replays spilled persistence writes.
func (s *GateService) DrainRetryQueue(ctx context.Context) (int, error) {
	replayed, err := s.retry.Drain(ctx)
	if replayed > 0 {
		s.log.Info().Int("replayed", replayed).Msg("retry queue drained")
	}
	if err != nil {
		s.log.Error().Err(err).Msg("retry queue drain incomplete")
	}
	return replayed, err
}

func (s *GateService) CameraDropCounts() map[string]uint64 {
	return s.engine.DropCounts()
}

func parseTimeRange(from, to *string) (*time.Time, *time.Time, error) {
	var fromTime, toTime *time.Time
	if from != nil && *from != "" {
		t, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: invalid from time format", ErrInvalidInput)
		}
		fromTime = &t
	}
	if to != nil && *to != "" {
		t, err := time.Parse(time.RFC3339, *to)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: invalid to time format", ErrInvalidInput)
		}
		toTime = &t
	}
	if fromTime != nil && toTime != nil && toTime.Before(*fromTime) {
		return nil, nil, fmt.Errorf("%w: to precedes from", ErrInvalidInput)
	}
	return fromTime, toTime, nil
}
