package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"parkgate/internal/domain/gate"
	"parkgate/internal/plate"
)

var ErrStopped = errors.New("engine stopped")

// Config carries every behavior-affecting knob of the engine.
type Config struct {
	Cooldown                       time.Duration
	ExitSimilarityThreshold        float64
	ImmediateFinalizationThreshold float64
	BufferWindow                   time.Duration
	OrphanHorizon                  time.Duration
	RecencyHorizon                 time.Duration
	MinPlateDigits                 int
	CameraQueueSize                int
	DropOldestOnFullQueue          bool
	SweepInterval                  time.Duration
	Fees                           FeeSchedule
}

// cameraSource is one producer's bounded queue plus its drop counter.
type cameraSource struct {
	queue chan gate.RawDetectionEvent
	drops atomic.Uint64
}

// Engine fans raw detection events from concurrent camera sources into
// per-identity serialized lanes and turns them into toggles and sessions.
//
// Events flow: camera queue -> router (resolution, single goroutine) ->
// identity lane (finalization, toggle machine, ledger, commit). Cross-identity
// work runs in parallel; everything for one identity is linearized.
type Engine struct {
	cfg      Config
	store    Store
	idx      *identityIndex
	resolver *Resolver
	log      zerolog.Logger

	mu      sync.Mutex
	sources map[string]*cameraSource
	lanes   map[uuid.UUID]*lane
	stopped bool

	routed chan gate.RawDetectionEvent
	g      *errgroup.Group
	runCtx context.Context
	cancel context.CancelFunc
}

func New(cfg Config, store Store, log zerolog.Logger) *Engine {
	idx := newIdentityIndex()
	return &Engine{
		cfg:      cfg,
		store:    store,
		idx:      idx,
		resolver: NewResolver(idx, cfg.ExitSimilarityThreshold, cfg.MinPlateDigits, cfg.RecencyHorizon, log),
		log:      log,
		sources:  make(map[string]*cameraSource),
		lanes:    make(map[uuid.UUID]*lane),
		routed:   make(chan gate.RawDetectionEvent, cfg.CameraQueueSize),
	}
}

// Start warms the candidate index from storage and launches the router and
// the orphan sweeper. It does not block.
func (e *Engine) Start(ctx context.Context) error {
	idents, err := e.store.RecentIdentities(ctx, time.Now().Add(-e.cfg.RecencyHorizon))
	if err != nil {
		return fmt.Errorf("warming identity index: %w", err)
	}
	for _, ident := range idents {
		e.idx.put(ident)
	}
	e.log.Info().Int("identities", len(idents)).Msg("identity index warmed")

	e.runCtx, e.cancel = context.WithCancel(context.Background())
	e.g, _ = errgroup.WithContext(e.runCtx)
	e.g.Go(func() error { return e.runRouter(e.runCtx) })
	if e.cfg.SweepInterval > 0 {
		e.g.Go(func() error { return e.runSweeper(e.runCtx) })
	}
	return nil
}

// Stop shuts the pipeline down. Pending pass buffers are flushed with their
// best available observation before lanes exit.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	e.cancel()
	return e.g.Wait()
}

// Submit accepts one raw observation from a camera source. A full queue
// either blocks the producer or sheds the oldest queued event, per
// configuration; shed events are raw-logged, never silently lost.
func (e *Engine) Submit(ctx context.Context, ev gate.RawDetectionEvent) (gate.IngestAck, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CapturedAt.IsZero() {
		ev.CapturedAt = time.Now()
	}

	e.mu.Lock()
	if e.stopped || e.g == nil {
		e.mu.Unlock()
		return gate.IngestAck{EventID: ev.ID}, ErrStopped
	}
	src := e.sources[ev.CameraID]
	if src == nil {
		src = &cameraSource{queue: make(chan gate.RawDetectionEvent, e.cfg.CameraQueueSize)}
		e.sources[ev.CameraID] = src
		pump := src
		e.g.Go(func() error { return e.runPump(e.runCtx, pump) })
	}
	e.mu.Unlock()

	if e.cfg.DropOldestOnFullQueue {
		for {
			select {
			case src.queue <- ev:
				return gate.IngestAck{EventID: ev.ID, Accepted: true}, nil
			default:
			}
			select {
			case dropped := <-src.queue:
				src.drops.Add(1)
				e.recordDrop(ctx, dropped)
			default:
			}
		}
	}

	select {
	case src.queue <- ev:
		return gate.IngestAck{EventID: ev.ID, Accepted: true}, nil
	case <-ctx.Done():
		return gate.IngestAck{EventID: ev.ID}, ctx.Err()
	}
}

func (e *Engine) recordDrop(ctx context.Context, ev gate.RawDetectionEvent) {
	e.log.Warn().
		Str("camera_id", ev.CameraID).
		Str("plate", ev.PlateText).
		Msg("camera queue full, oldest event shed")
	rec := RawRecord{Event: ev, Outcome: gate.OutcomeDropped, Note: "camera queue full"}
	if err := e.store.AppendRaw(ctx, rec); err != nil {
		e.log.Error().Err(err).Str("event_id", ev.ID.String()).Msg("raw log append for shed event failed")
	}
}

func (e *Engine) runPump(ctx context.Context, src *cameraSource) error {
	for {
		select {
		case <-ctx.Done():
			e.drainQueue(ctx, src.queue)
			return nil
		case ev := <-src.queue:
			select {
			case e.routed <- ev:
			case <-ctx.Done():
				e.recordDrop(context.WithoutCancel(ctx), ev)
				e.drainQueue(ctx, src.queue)
				return nil
			}
		}
	}
}

// drainQueue records whatever a shutdown left behind; drops are never
// silent.
func (e *Engine) drainQueue(ctx context.Context, queue chan gate.RawDetectionEvent) {
	for {
		select {
		case ev := <-queue:
			e.recordDrop(context.WithoutCancel(ctx), ev)
		default:
			return
		}
	}
}

// runRouter resolves identities on a single goroutine so that candidate
// reads always reflect the latest committed state of any identity an event
// might fuzzy-match against, and so new identities are never created twice.
func (e *Engine) runRouter(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.drainQueue(ctx, e.routed)
			return nil
		case ev := <-e.routed:
			e.route(ctx, ev)
		}
	}
}

func (e *Engine) route(ctx context.Context, ev gate.RawDetectionEvent) {
	match, err := e.resolver.Resolve(ev, ev.CapturedAt)
	if err != nil {
		e.log.Debug().
			Err(err).
			Str("camera_id", ev.CameraID).
			Str("plate", ev.PlateText).
			Msg("observation failed validation")
		rec := RawRecord{Event: ev, Outcome: gate.OutcomeInvalid, Note: err.Error()}
		if appendErr := e.store.AppendRaw(ctx, rec); appendErr != nil {
			e.log.Error().Err(appendErr).Str("event_id", ev.ID.String()).Msg("raw log append for invalid event failed")
		}
		return
	}

	if match.IsNew {
		ident := gate.VehicleIdentity{
			ID:             uuid.New(),
			CanonicalPlate: match.Normalized,
			BestConfidence: ev.Confidence,
			State:          gate.StateOutside,
			LastSeenAt:     ev.CapturedAt,
			CreatedAt:      time.Now(),
		}
		e.idx.put(ident)
		if err := e.store.UpsertIdentity(ctx, ident); err != nil {
			e.log.Error().Err(err).Str("identity_id", ident.ID.String()).Msg("identity upsert failed")
		}
		e.log.Info().
			Str("identity_id", ident.ID.String()).
			Str("plate", ident.CanonicalPlate).
			Msg("new vehicle identity")
		match.Identity = ident
	} else {
		e.idx.update(match.Identity.ID, func(cur *gate.VehicleIdentity) {
			if ev.CapturedAt.After(cur.LastSeenAt) {
				cur.LastSeenAt = ev.CapturedAt
			}
		})
	}

	ln := e.laneFor(match.Identity.ID)
	msg := laneMsg{ev: &resolvedEvent{raw: ev, match: match}}
	select {
	case ln.mailbox <- msg:
		return
	default:
	}
	select {
	case ln.mailbox <- msg:
	case <-ctx.Done():
		// Lanes drain their mailboxes on shutdown, so an undeliverable
		// event here is recorded rather than vanished.
		e.recordDrop(context.WithoutCancel(ctx), ev)
	}
}

func (e *Engine) laneFor(identityID uuid.UUID) *lane {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ln, ok := e.lanes[identityID]; ok {
		return ln
	}
	ln := newLane(identityID, e.store, e.idx, Finalizer{
		ImmediateThreshold: e.cfg.ImmediateFinalizationThreshold,
		Window:             e.cfg.BufferWindow,
	}, e.cfg.Fees, e.cfg.Cooldown, e.log)
	e.lanes[identityID] = ln
	e.g.Go(func() error { return ln.run(e.runCtx) })
	return ln
}

func (e *Engine) runSweeper(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil {
				e.log.Error().Err(err).Msg("orphan sweep failed")
			}
		}
	}
}

// Sweep marks sessions open past the orphan horizon. Live lanes orphan
// their own session through the mailbox first, then storage catches rows no
// lane currently owns (restart leftovers).
func (e *Engine) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-e.cfg.OrphanHorizon)

	e.mu.Lock()
	lanes := make([]*lane, 0, len(e.lanes))
	for _, ln := range e.lanes {
		lanes = append(lanes, ln)
	}
	e.mu.Unlock()

	for _, ln := range lanes {
		select {
		case ln.mailbox <- laneMsg{sweepBefore: cutoff}:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	n, err := e.store.SweepOrphans(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.Info().Int64("orphaned", n).Msg("orphan sweep completed")
	}
	return n, nil
}

// Status reports where one identity currently stands.
func (e *Engine) Status(identityID uuid.UUID) (gate.IdentityStatus, bool) {
	ident, ok := e.idx.get(identityID)
	if !ok {
		return gate.IdentityStatus{}, false
	}
	return statusOf(ident), true
}

// LookupByPlate finds identities by exact normalized text, or by similarity
// at or above the resolver threshold when fuzzy is set. Results are ordered
// most-recently-seen first.
func (e *Engine) LookupByPlate(text string, fuzzy bool) []gate.IdentityStatus {
	normalized := plate.Normalize(text)
	var out []gate.IdentityStatus
	for _, ident := range e.idx.all() {
		if ident.CanonicalPlate == normalized {
			out = append(out, statusOf(ident))
			continue
		}
		if fuzzy && plate.Similarity(normalized, ident.CanonicalPlate) >= e.cfg.ExitSimilarityThreshold {
			out = append(out, statusOf(ident))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	return out
}

// DropCounts exposes per-camera shed counters.
func (e *Engine) DropCounts() map[string]uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]uint64, len(e.sources))
	for id, src := range e.sources {
		out[id] = src.drops.Load()
	}
	return out
}

func statusOf(ident gate.VehicleIdentity) gate.IdentityStatus {
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
	return st
}
