package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parkgate/internal/domain/gate"
)

// RetryingStore wraps the persistence collaborator with bounded backoff.
// Writes that exhaust their retries land in a durable spill file instead of
// being lost; storage failure is the only condition surfaced to the
// operator, and it never blocks the pipeline.
type RetryingStore struct {
	inner    Store
	attempts int
	backoff  time.Duration
	spill    *Spill
	log      zerolog.Logger
}

func NewRetryingStore(inner Store, attempts int, backoff time.Duration, spill *Spill, log zerolog.Logger) *RetryingStore {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryingStore{inner: inner, attempts: attempts, backoff: backoff, spill: spill, log: log}
}

func (s *RetryingStore) AppendRaw(ctx context.Context, rec RawRecord) error {
	err := s.retry(ctx, "append raw", func() error { return s.inner.AppendRaw(ctx, rec) })
	if err == nil {
		return nil
	}
	return s.spillWrite(spillRecord{Kind: spillRaw, Raw: &rec}, err)
}

func (s *RetryingStore) CommitTransition(ctx context.Context, tr Transition) error {
	err := s.retry(ctx, "commit transition", func() error { return s.inner.CommitTransition(ctx, tr) })
	if err == nil {
		return nil
	}
	return s.spillWrite(spillRecord{Kind: spillTransition, Transition: &tr}, err)
}

func (s *RetryingStore) UpsertIdentity(ctx context.Context, ident gate.VehicleIdentity) error {
	err := s.retry(ctx, "upsert identity", func() error { return s.inner.UpsertIdentity(ctx, ident) })
	if err == nil {
		return nil
	}
	return s.spillWrite(spillRecord{Kind: spillIdentity, Identity: &ident}, err)
}

func (s *RetryingStore) OpenSession(ctx context.Context, identityID uuid.UUID) (*gate.Session, error) {
	return s.inner.OpenSession(ctx, identityID)
}

func (s *RetryingStore) MarkSessionOrphaned(ctx context.Context, sessionID uuid.UUID) error {
	return s.retry(ctx, "orphan session", func() error { return s.inner.MarkSessionOrphaned(ctx, sessionID) })
}

func (s *RetryingStore) SweepOrphans(ctx context.Context, openedBefore time.Time) (int64, error) {
	return s.inner.SweepOrphans(ctx, openedBefore)
}

func (s *RetryingStore) RecentIdentities(ctx context.Context, seenSince time.Time) ([]gate.VehicleIdentity, error) {
	return s.inner.RecentIdentities(ctx, seenSince)
}

// Drain replays spilled writes against the underlying store.
func (s *RetryingStore) Drain(ctx context.Context) (int, error) {
	if s.spill == nil {
		return 0, nil
	}
	return s.spill.Drain(ctx, s.inner)
}

func (s *RetryingStore) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		s.log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("storage write failed")
		if attempt == s.attempts {
			break
		}
		select {
		case <-time.After(s.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", gate.ErrPersistence, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", gate.ErrPersistence, op, err)
}

func (s *RetryingStore) spillWrite(rec spillRecord, cause error) error {
	if s.spill == nil {
		return cause
	}
	if err := s.spill.Append(rec); err != nil {
		s.log.Error().Err(err).Msg("spill append failed, write lost")
		return cause
	}
	s.log.Error().Err(cause).Str("kind", string(rec.Kind)).Msg("write spilled to retry queue")
	return cause
}

type spillKind string

const (
	spillRaw        spillKind = "raw"
	spillTransition spillKind = "transition"
	spillIdentity   spillKind = "identity"
)

type spillRecord struct {
	Kind       spillKind             `json:"kind"`
	Raw        *RawRecord            `json:"raw,omitempty"`
	Transition *Transition           `json:"transition,omitempty"`
	Identity   *gate.VehicleIdentity `json:"identity,omitempty"`
}

// Spill is an append-only JSONL file holding writes the store refused after
// all retries. It is deliberately file-backed: when the storage collaborator
// is down, a storage-backed queue cannot hold anything.
type Spill struct {
	mu   sync.Mutex
	path string
}

func NewSpill(path string) *Spill {
	return &Spill{path: path}
}

func (s *Spill) Append(rec spillRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open spill: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("encode spill record: %w", err)
	}
	return f.Sync()
}

// Drain replays every spilled record in order. Records that replay cleanly
// are removed; the remainder is kept for the next drain.
func (s *Spill) Drain(ctx context.Context, store Store) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open spill: %w", err)
	}

	var records []spillRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec spillRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			f.Close()
			return 0, fmt.Errorf("corrupt spill record: %w", err)
		}
		records = append(records, rec)
	}
	f.Close()
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read spill: %w", err)
	}

	replayed := 0
	var remaining []spillRecord
	var firstErr error
	for _, rec := range records {
		if firstErr != nil {
			remaining = append(remaining, rec)
			continue
		}
		if err := replay(ctx, store, rec); err != nil {
			firstErr = err
			remaining = append(remaining, rec)
			continue
		}
		replayed++
	}

	if err := s.rewrite(remaining); err != nil {
		return replayed, err
	}
	return replayed, firstErr
}

func (s *Spill) rewrite(records []spillRecord) error {
	if len(records) == 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove drained spill: %w", err)
		}
		return nil
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open spill tmp: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			f.Close()
			return fmt.Errorf("rewrite spill: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync spill tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close spill tmp: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func replay(ctx context.Context, store Store, rec spillRecord) error {
	switch rec.Kind {
	case spillRaw:
		if rec.Raw == nil {
			return nil
		}
		return store.AppendRaw(ctx, *rec.Raw)
	case spillTransition:
		if rec.Transition == nil {
			return nil
		}
		return store.CommitTransition(ctx, *rec.Transition)
	case spillIdentity:
		if rec.Identity == nil {
			return nil
		}
		return store.UpsertIdentity(ctx, *rec.Identity)
	default:
		return fmt.Errorf("unknown spill kind %q", rec.Kind)
	}
}
