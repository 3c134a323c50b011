package stepup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Anvoria/backoffice/internal/database"
)

// GrantRecord is the durable representation of a step-up grant
type GrantRecord struct {
	database.BaseModel

	AdminID         uuid.UUID `gorm:"column:admin_id;type:uuid;not null;uniqueIndex:idx_grants_triple"`
	SessionID       uuid.UUID `gorm:"column:session_id;type:uuid;not null;uniqueIndex:idx_grants_triple"`
	Scope           string    `gorm:"column:scope;size:64;not null;uniqueIndex:idx_grants_triple"`
	RiskContextHash string    `gorm:"column:risk_context_hash;type:text"`
	IssuedAt        time.Time `gorm:"column:issued_at;not null"`
	ExpiresAt       time.Time `gorm:"column:expires_at;not null;index"`
	SingleUse       bool      `gorm:"column:single_use;default:false"`
	ContextSnapshot string    `gorm:"column:context_snapshot;type:text"`
}

func (GrantRecord) TableName() string {
	return "step_up_grants"
}

func (r *GrantRecord) toGrant() (*Grant, error) {
	g := &Grant{
		AdminID:         r.AdminID,
		SessionID:       r.SessionID,
		Scope:           Scope(r.Scope),
		RiskContextHash: r.RiskContextHash,
		IssuedAt:        r.IssuedAt,
		ExpiresAt:       r.ExpiresAt,
		SingleUse:       r.SingleUse,
	}
	if r.ContextSnapshot != "" {
		if err := json.Unmarshal([]byte(r.ContextSnapshot), &g.ContextSnapshot); err != nil {
			return nil, fmt.Errorf("corrupt grant context snapshot: %w", err)
		}
	}
	return g, nil
}

// GormStore is the durable grant backend
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a durable grant store
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Save upserts the grant on its (admin, session, scope) key. A later
// issuance overwrites issued/expiry/risk-hash/snapshot of the previous one.
func (s *GormStore) Save(ctx context.Context, grant *Grant) error {
	if grant.Expired(time.Now().UTC()) {
		return nil
	}

	snapshot := ""
	if len(grant.ContextSnapshot) > 0 {
		data, err := json.Marshal(grant.ContextSnapshot)
		if err != nil {
			return fmt.Errorf("failed to encode grant context snapshot: %w", err)
		}
		snapshot = string(data)
	}

	rec := &GrantRecord{
		AdminID:         grant.AdminID,
		SessionID:       grant.SessionID,
		Scope:           string(grant.Scope),
		RiskContextHash: grant.RiskContextHash,
		IssuedAt:        grant.IssuedAt,
		ExpiresAt:       grant.ExpiresAt,
		SingleUse:       grant.SingleUse,
		ContextSnapshot: snapshot,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "admin_id"}, {Name: "session_id"}, {Name: "scope"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"risk_context_hash", "issued_at", "expires_at", "single_use", "context_snapshot", "updated_at",
		}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Find returns the live grant for the triple, or nil when absent or expired
func (s *GormStore) Find(ctx context.Context, adminID, sessionID uuid.UUID, scope Scope) (*Grant, error) {
	var rec GrantRecord
	err := s.db.WithContext(ctx).
		Where("admin_id = ? AND session_id = ? AND scope = ? AND expires_at > ?",
			adminID, sessionID, string(scope), time.Now().UTC()).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rec.toGrant()
}

// Consume returns the live grant and deletes it inside the same transaction
// when it is single-use. The row lock makes concurrent consumers of one
// single-use grant serialize; only the first sees it.
func (s *GormStore) Consume(ctx context.Context, adminID, sessionID uuid.UUID, scope Scope) (*Grant, error) {
	var grant *Grant

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec GrantRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("admin_id = ? AND session_id = ? AND scope = ? AND expires_at > ?",
				adminID, sessionID, string(scope), time.Now().UTC()).
			First(&rec).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		g, err := rec.toGrant()
		if err != nil {
			return err
		}
		grant = g

		if rec.SingleUse {
			return tx.Delete(&GrantRecord{}, "id = ?", rec.ID).Error
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return grant, nil
}

// Revoke deletes the grant for the triple
func (s *GormStore) Revoke(ctx context.Context, adminID, sessionID uuid.UUID, scope Scope) error {
	err := s.db.WithContext(ctx).
		Where("admin_id = ? AND session_id = ? AND scope = ?", adminID, sessionID, string(scope)).
		Delete(&GrantRecord{}).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeSession deletes every grant bound to the session
func (s *GormStore) RevokeSession(ctx context.Context, adminID, sessionID uuid.UUID) error {
	err := s.db.WithContext(ctx).
		Where("admin_id = ? AND session_id = ?", adminID, sessionID).
		Delete(&GrantRecord{}).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeAll deletes every grant owned by the admin
func (s *GormStore) RevokeAll(ctx context.Context, adminID uuid.UUID) error {
	err := s.db.WithContext(ctx).
		Where("admin_id = ?", adminID).
		Delete(&GrantRecord{}).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
