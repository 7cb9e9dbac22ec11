package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parkgate/internal/domain/gate"
	"parkgate/internal/plate"
)

// laneMsg is either a resolved observation or a sweep instruction. Both go
// through the mailbox so everything touching one identity stays serialized.
type laneMsg struct {
	ev          *resolvedEvent
	sweepBefore time.Time
}

// lane owns all state transitions for one identity: finalization buffering,
// the toggle state machine, session pairing and the persistence commit. One
// goroutine per lane; nothing else may mutate this identity's toggle state.
type lane struct {
	identityID uuid.UUID
	mailbox    chan laneMsg

	store    Store
	idx      *identityIndex
	fin      Finalizer
	fees     FeeSchedule
	cooldown time.Duration
	log      zerolog.Logger

	buf        []resolvedEvent
	timer      *time.Timer
	open       *gate.Session
	openLoaded bool
}

func newLane(identityID uuid.UUID, store Store, idx *identityIndex, fin Finalizer, fees FeeSchedule, cooldown time.Duration, log zerolog.Logger) *lane {
	return &lane{
		identityID: identityID,
		mailbox:    make(chan laneMsg, 16),
		store:      store,
		idx:        idx,
		fin:        fin,
		fees:       fees,
		cooldown:   cooldown,
		log:        log.With().Str("identity_id", identityID.String()).Logger(),
	}
}

func (l *lane) run(ctx context.Context) error {
	defer l.stopTimer()

	for {
		var timerC <-chan time.Time
		if l.timer != nil {
			timerC = l.timer.C
		}

		select {
		case <-ctx.Done():
			// Shutdown flushes with the best available observation rather
			// than discarding silently.
			l.drainMailbox()
			l.flush(context.WithoutCancel(ctx))
			return nil
		case msg := <-l.mailbox:
			if !msg.sweepBefore.IsZero() {
				l.sweep(ctx, msg.sweepBefore)
				continue
			}
			l.handle(ctx, *msg.ev)
		case <-timerC:
			l.timer = nil
			l.flush(ctx)
		}
	}
}

func (l *lane) drainMailbox() {
	for {
		select {
		case msg := <-l.mailbox:
			if msg.ev != nil {
				l.buf = append(l.buf, *msg.ev)
			}
		default:
			return
		}
	}
}

func (l *lane) handle(ctx context.Context, ev resolvedEvent) {
	l.buf = append(l.buf, ev)

	if l.fin.Decide(ev.raw.Confidence) == finalizeNow {
		l.stopTimer()
		l.flush(ctx)
		return
	}

	if l.timer == nil {
		l.timer = time.NewTimer(l.fin.Window)
	}
	l.log.Debug().
		Str("plate", ev.match.Normalized).
		Float64("confidence", ev.raw.Confidence).
		Int("buffered", len(l.buf)).
		Msg("observation buffered for pass window")
}

// flush closes the pass window: the single best observation is pushed into
// the toggle machine and the rest are raw-logged as buffered siblings.
func (l *lane) flush(ctx context.Context) {
	if len(l.buf) == 0 {
		return
	}
	buf := l.buf
	l.buf = nil
	l.stopTimer()

	winner := pickWinner(buf)
	for i, ev := range buf {
		if i == winner {
			continue
		}
		l.appendRaw(ctx, rawRecordFor(ev, gate.OutcomeBuffered, "lost pass window to higher confidence sibling"))
	}
	l.promote(ctx, buf[winner])
}

func (l *lane) promote(ctx context.Context, ev resolvedEvent) {
	ident, ok := l.idx.get(l.identityID)
	if !ok {
		// The router created the identity before dispatching to this lane.
		l.log.Error().Msg("identity missing from index, dropping observation")
		l.appendRaw(ctx, rawRecordFor(ev, gate.OutcomeInvalid, "identity missing from index"))
		return
	}

	decision, mode, err := decideToggle(ident, ev.raw.CapturedAt, l.cooldown)
	switch decision {
	case decideLate:
		l.log.Debug().Err(err).Time("captured_at", ev.raw.CapturedAt).Msg("late observation rejected")
		l.appendRaw(ctx, rawRecordFor(ev, gate.OutcomeLate, err.Error()))
		return
	case decideDuplicate:
		l.log.Debug().
			Time("captured_at", ev.raw.CapturedAt).
			Time("last_toggle_at", ident.LastToggleAt).
			Msg("observation inside cooldown window discarded")
		l.appendRaw(ctx, rawRecordFor(ev, gate.OutcomeDuplicate, "inside toggle cooldown"))
		return
	}

	if !l.openLoaded {
		open, err := l.store.OpenSession(ctx, l.identityID)
		if err != nil {
			l.log.Error().Err(err).Msg("loading open session failed")
		} else {
			l.open = open
			l.openLoaded = true
		}
	}

	toggle := gate.ToggleEvent{
		ID:         uuid.New(),
		IdentityID: l.identityID,
		Mode:       mode,
		CapturedAt: ev.raw.CapturedAt,
		RawRef:     ev.raw.ID,
		Confidence: ev.raw.Confidence,
	}

	next := applyToggle(ident, mode, ev.raw.CapturedAt)
	// A higher-confidence read of a valid plate revises the canonical text.
	if ev.raw.Confidence > next.BestConfidence {
		if plate.MatchesKnownFormat(ev.match.Normalized) {
			next.CanonicalPlate = ev.match.Normalized
		}
		next.BestConfidence = ev.raw.Confidence
	}

	res := applyToLedger(l.open, toggle, l.fees)
	if res.Orphaned != nil {
		l.log.Warn().
			Str("session_id", res.Orphaned.ID.String()).
			Msg("double ENTRY reached the ledger, orphaning previous open session")
	}

	tr := Transition{
		Raw:      rawRecordFor(ev, gate.OutcomePromoted, ""),
		Toggle:   toggle,
		Identity: next,
		Session:  res.Session,
		Orphaned: res.Orphaned,
	}
	if err := l.store.CommitTransition(ctx, tr); err != nil {
		// The retrying store has already spilled the transition; the lane
		// keeps going so one storage incident never stalls the pipeline.
		l.log.Error().Err(err).Str("toggle_id", toggle.ID.String()).Msg("transition commit failed")
	}

	if res.Session.Status == gate.SessionOpen {
		open := res.Session
		l.open = &open
	} else {
		l.open = nil
	}
	l.openLoaded = true

	l.idx.update(l.identityID, func(cur *gate.VehicleIdentity) {
		cur.State = next.State
		cur.LastToggleAt = next.LastToggleAt
		cur.CanonicalPlate = next.CanonicalPlate
		cur.BestConfidence = next.BestConfidence
		if next.LastSeenAt.After(cur.LastSeenAt) {
			cur.LastSeenAt = next.LastSeenAt
		}
	})

	evt := l.log.Info().
		Str("toggle_mode", string(mode)).
		Str("plate", next.CanonicalPlate).
		Float64("confidence", ev.raw.Confidence).
		Time("captured_at", ev.raw.CapturedAt).
		Str("session_id", res.Session.ID.String())
	if res.Session.DurationMinutes != nil {
		evt = evt.Int("duration_minutes", *res.Session.DurationMinutes)
	}
	if res.Session.Fee != nil {
		evt = evt.Float64("fee", *res.Session.Fee)
	}
	evt.Msg("toggle committed")
}

func (l *lane) sweep(ctx context.Context, before time.Time) {
	if l.open == nil || l.open.EnteredAt == nil || !l.open.EnteredAt.Before(before) {
		return
	}
	if err := l.store.MarkSessionOrphaned(ctx, l.open.ID); err != nil {
		l.log.Error().Err(err).Str("session_id", l.open.ID.String()).Msg("orphaning stale session failed")
		return
	}
	l.log.Warn().
		Str("session_id", l.open.ID.String()).
		Time("entered_at", *l.open.EnteredAt).
		Msg("open session exceeded horizon, marked orphaned")
	l.open = nil
}

func (l *lane) appendRaw(ctx context.Context, rec RawRecord) {
	if err := l.store.AppendRaw(ctx, rec); err != nil {
		l.log.Error().Err(err).Str("event_id", rec.Event.ID.String()).Msg("raw log append failed")
	}
}

func (l *lane) stopTimer() {
	if l.timer == nil {
		return
	}
	if !l.timer.Stop() {
		select {
		case <-l.timer.C:
		default:
		}
	}
	l.timer = nil
}

func rawRecordFor(ev resolvedEvent, outcome gate.Outcome, note string) RawRecord {
	rec := RawRecord{
		Event:     ev.raw,
		Outcome:   outcome,
		Ambiguous: ev.match.Ambiguous,
		Note:      note,
	}
	if ev.match.Identity.ID != uuid.Nil {
		id := ev.match.Identity.ID
		rec.IdentityID = &id
		score := ev.match.Score
		rec.Similarity = &score
	}
	return rec
}
