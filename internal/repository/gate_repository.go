package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"parkgate/internal/domain/gate"
	"parkgate/internal/engine"
)

// GateRepository persists the engine's output in Postgres. It implements the
// engine's Store contract and the query surface the service layer reads.
type GateRepository struct {
	db *gorm.DB
}

func NewGateRepository(db *gorm.DB) *GateRepository {
	return &GateRepository{db: db}
}

type VehicleIdentity struct {
	ID             uuid.UUID `gorm:"primaryKey;type:uuid"`
	CanonicalPlate string    `gorm:"not null;index"`
	BestConfidence float64
	State          string `gorm:"not null"`
	LastToggleAt   *time.Time
	LastSeenAt     time.Time `gorm:"not null;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type RawLog struct {
	ID         int64     `gorm:"primaryKey"`
	EventID    uuid.UUID `gorm:"type:uuid;not null;index"`
	CameraID   string    `gorm:"not null;index"`
	FrameID    string    `gorm:"not null"`
	PlateText  string    `gorm:"not null;index"`
	Confidence float64   `gorm:"not null"`
	CapturedAt time.Time `gorm:"not null;index"`
	BboxX      float64
	BboxY      float64
	BboxW      float64
	BboxH      float64
	ImageRef   *string
	RawPayload datatypes.JSON `gorm:"type:jsonb"`
	Outcome    string         `gorm:"not null;index"`
	IdentityID *uuid.UUID     `gorm:"type:uuid"`
	Similarity *float64
	Ambiguous  bool
	Note       *string
	CreatedAt  time.Time
}

type ToggleEvent struct {
	ID         uuid.UUID `gorm:"primaryKey;type:uuid"`
	IdentityID uuid.UUID `gorm:"type:uuid;not null;index"`
	Mode       string    `gorm:"not null"`
	CapturedAt time.Time `gorm:"not null;index"`
	RawRef     uuid.UUID `gorm:"type:uuid;not null"`
	Confidence float64
	CreatedAt  time.Time
}

type Session struct {
	ID              uuid.UUID `gorm:"primaryKey;type:uuid"`
	IdentityID      uuid.UUID `gorm:"type:uuid;not null;index"`
	Status          string    `gorm:"not null;index"`
	EntryRef        *uuid.UUID `gorm:"type:uuid"`
	ExitRef         *uuid.UUID `gorm:"type:uuid"`
	EnteredAt       *time.Time `gorm:"index"`
	ExitedAt        *time.Time
	DurationMinutes *int
	Fee             *float64
	NeedsReconcile  bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r *GateRepository) AppendRaw(ctx context.Context, rec engine.RawRecord) error {
	row, err := rawLogRow(rec)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(row).Error
}

// CommitTransition writes one identity's transition as a single atomic unit:
// the promoting raw row, the toggle row, the identity snapshot and the
// session change all land in the same transaction.
func (r *GateRepository) CommitTransition(ctx context.Context, tr engine.Transition) error {
	rawRow, err := rawLogRow(tr.Raw)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rawRow).Error; err != nil {
			return fmt.Errorf("append raw log: %w", err)
		}

		toggle := ToggleEvent{
			ID:         tr.Toggle.ID,
			IdentityID: tr.Toggle.IdentityID,
			Mode:       string(tr.Toggle.Mode),
			CapturedAt: tr.Toggle.CapturedAt,
			RawRef:     tr.Toggle.RawRef,
			Confidence: tr.Toggle.Confidence,
			CreatedAt:  time.Now(),
		}
		if err := tx.Create(&toggle).Error; err != nil {
			return fmt.Errorf("append toggle event: %w", err)
		}

		if err := upsertIdentity(tx, tr.Identity); err != nil {
			return fmt.Errorf("upsert identity: %w", err)
		}

		if err := upsertSession(tx, tr.Session); err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		if tr.Orphaned != nil {
			if err := upsertSession(tx, *tr.Orphaned); err != nil {
				return fmt.Errorf("orphan previous session: %w", err)
			}
		}
		return nil
	})
}

func (r *GateRepository) UpsertIdentity(ctx context.Context, ident gate.VehicleIdentity) error {
	return upsertIdentity(r.db.WithContext(ctx), ident)
}

func (r *GateRepository) OpenSession(ctx context.Context, identityID uuid.UUID) (*gate.Session, error) {
	var row Session
	err := r.db.WithContext(ctx).
		Where("identity_id = ? AND status = ?", identityID, string(gate.SessionOpen)).
		Order("entered_at DESC").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s := sessionFromRow(row)
	return &s, nil
}

func (r *GateRepository) MarkSessionOrphaned(ctx context.Context, sessionID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{"status": string(gate.SessionOrphaned), "updated_at": time.Now()}).Error
}

func (r *GateRepository) SweepOrphans(ctx context.Context, openedBefore time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&Session{}).
		Where("status = ? AND entered_at < ?", string(gate.SessionOpen), openedBefore).
		Updates(map[string]interface{}{"status": string(gate.SessionOrphaned), "updated_at": time.Now()})
	return res.RowsAffected, res.Error
}

func (r *GateRepository) RecentIdentities(ctx context.Context, seenSince time.Time) ([]gate.VehicleIdentity, error) {
	var rows []VehicleIdentity
	err := r.db.WithContext(ctx).
		Where("last_seen_at >= ?", seenSince).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]gate.VehicleIdentity, 0, len(rows))
	for _, row := range rows {
		out = append(out, identityFromRow(row))
	}
	return out, nil
}

func (r *GateRepository) GetIdentity(ctx context.Context, id uuid.UUID) (*gate.VehicleIdentity, error) {
	var row VehicleIdentity
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ident := identityFromRow(row)
	return &ident, nil
}

func (r *GateRepository) FindSessions(ctx context.Context, status *gate.SessionStatus, identityID *uuid.UUID, from, to *time.Time, limit, offset int) ([]gate.Session, error) {
	query := r.db.WithContext(ctx).Model(&Session{})

	if status != nil {
		query = query.Where("status = ?", string(*status))
	}
	if identityID != nil {
		query = query.Where("identity_id = ?", *identityID)
	}
	if from != nil {
		query = query.Where("entered_at >= ? OR (entered_at IS NULL AND exited_at >= ?)", *from, *from)
	}
	if to != nil {
		query = query.Where("entered_at <= ? OR (entered_at IS NULL AND exited_at <= ?)", *to, *to)
	}

	query = query.Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []Session
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]gate.Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, sessionFromRow(row))
	}
	return out, nil
}

func (r *GateRepository) FindTogglesForIdentity(ctx context.Context, identityID uuid.UUID, limit int) ([]gate.ToggleEvent, error) {
	query := r.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Order("captured_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []ToggleEvent
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]gate.ToggleEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, gate.ToggleEvent{
			ID:         row.ID,
			IdentityID: row.IdentityID,
			Mode:       gate.ToggleMode(row.Mode),
			CapturedAt: row.CapturedAt,
			RawRef:     row.RawRef,
			Confidence: row.Confidence,
		})
	}
	return out, nil
}

func upsertIdentity(tx *gorm.DB, ident gate.VehicleIdentity) error {
	row := VehicleIdentity{
		ID:             ident.ID,
		CanonicalPlate: ident.CanonicalPlate,
		BestConfidence: ident.BestConfidence,
		State:          string(ident.State),
		LastSeenAt:     ident.LastSeenAt,
		CreatedAt:      ident.CreatedAt,
		UpdatedAt:      time.Now(),
	}
	if !ident.LastToggleAt.IsZero() {
		t := ident.LastToggleAt
		row.LastToggleAt = &t
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func upsertSession(tx *gorm.DB, s gate.Session) error {
	row := Session{
		ID:              s.ID,
		IdentityID:      s.IdentityID,
		Status:          string(s.Status),
		EntryRef:        s.EntryRef,
		ExitRef:         s.ExitRef,
		EnteredAt:       s.EnteredAt,
		ExitedAt:        s.ExitedAt,
		DurationMinutes: s.DurationMinutes,
		Fee:             s.Fee,
		NeedsReconcile:  s.NeedsReconcile,
		UpdatedAt:       time.Now(),
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func rawLogRow(rec engine.RawRecord) (*RawLog, error) {
	row := &RawLog{
		EventID:    rec.Event.ID,
		CameraID:   rec.Event.CameraID,
		FrameID:    rec.Event.FrameID,
		PlateText:  rec.Event.PlateText,
		Confidence: rec.Event.Confidence,
		CapturedAt: rec.Event.CapturedAt,
		BboxX:      rec.Event.BBox.X,
		BboxY:      rec.Event.BBox.Y,
		BboxW:      rec.Event.BBox.W,
		BboxH:      rec.Event.BBox.H,
		Outcome:    string(rec.Outcome),
		IdentityID: rec.IdentityID,
		Similarity: rec.Similarity,
		Ambiguous:  rec.Ambiguous,
		CreatedAt:  time.Now(),
	}
	if rec.Event.ImageRef != "" {
		ref := rec.Event.ImageRef
		row.ImageRef = &ref
	}
	if rec.Note != "" {
		note := rec.Note
		row.Note = &note
	}
	if len(rec.Event.RawPayload) > 0 {
		payload, err := json.Marshal(rec.Event.RawPayload)
		if err != nil {
			return nil, fmt.Errorf("marshal raw payload: %w", err)
		}
		row.RawPayload = datatypes.JSON(payload)
	}
	return row, nil
}

func identityFromRow(row VehicleIdentity) gate.VehicleIdentity {
	ident := gate.VehicleIdentity{
		ID:             row.ID,
		CanonicalPlate: row.CanonicalPlate,
		BestConfidence: row.BestConfidence,
		State:          gate.VehicleState(row.State),
		LastSeenAt:     row.LastSeenAt,
		CreatedAt:      row.CreatedAt,
	}
	if row.LastToggleAt != nil {
		ident.LastToggleAt = *row.LastToggleAt
	}
	return ident
}

func sessionFromRow(row Session) gate.Session {
	return gate.Session{
		ID:              row.ID,
		IdentityID:      row.IdentityID,
		Status:          gate.SessionStatus(row.Status),
		EntryRef:        row.EntryRef,
		ExitRef:         row.ExitRef,
		EnteredAt:       row.EnteredAt,
		ExitedAt:        row.ExitedAt,
		DurationMinutes: row.DurationMinutes,
		Fee:             row.Fee,
		NeedsReconcile:  row.NeedsReconcile,
	}
}
