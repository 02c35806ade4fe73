// Package drafts persists in-progress wizard state, one active draft per
// (account, program, registration kind).
package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lojf/academy/internal/apperr"
	"github.com/lojf/academy/internal/identity"
	"github.com/lojf/academy/internal/models"
)

// Data is the wizard snapshot: the head participant and any family members.
type Data struct {
	Head    map[string]interface{}   `json:"head"`
	Members []map[string]interface{} `json:"members"`
}

type Draft struct {
	ID           uint      `json:"id"`
	ProgramID    uint      `json:"program_id"`
	ProgramTitle string    `json:"program_title"`
	Kind         string    `json:"registration_kind"`
	Data         Data      `json:"draft_data"`
	FamilySize   *int      `json:"family_size,omitempty"`
	PlanID       *uint     `json:"plan_id,omitempty"`
	LastEditedAt time.Time `json:"last_edited_at"`
}

type UpsertInput struct {
	ProgramID  uint
	Kind       string
	Data       Data
	FamilySize *int
	PlanID     *uint
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithTx returns a Store bound to an open transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, now: s.now}
}

func validKind(k string) bool {
	switch k {
	case models.RegIndividual, models.RegFamilyHead, models.RegFamilyMember:
		return true
	}
	return false
}

func encode(d Data) (string, error) {
	if d.Head == nil {
		d.Head = map[string]interface{}{}
	}
	if d.Members == nil {
		d.Members = []map[string]interface{}{}
	}
	b, err := json.Marshal(d)
	return string(b), err
}

// Decode parses a stored snapshot. Unreadable input yields an empty snapshot.
func Decode(raw string) Data {
	var d Data
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &d)
	}
	if d.Head == nil {
		d.Head = map[string]interface{}{}
	}
	return d
}

// Upsert replaces the snapshot of the active draft for the triple, or creates one.
func (s *Store) Upsert(ctx context.Context, p identity.Principal, in UpsertInput) (uint, error) {
	if p.AccountID == "" {
		return 0, apperr.ErrUnauthorized
	}
	if in.ProgramID == 0 || !validKind(in.Kind) {
		return 0, fmt.Errorf("%w: program and registration kind are required", apperr.ErrInvalid)
	}
	raw, err := encode(in.Data)
	if err != nil {
		return 0, fmt.Errorf("%w: draft data: %v", apperr.ErrInvalid, err)
	}
	now := s.now()

	var id uint
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Registration
		err := tx.Where("user_id = ? AND program_id = ? AND registration_kind = ? AND is_draft = ?",
			p.AccountID, in.ProgramID, in.Kind, true).
			Order("id").First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			pid := in.ProgramID
			row = models.Registration{
				UserID:           p.AccountID,
				UserEmail:        p.Email,
				UserName:         p.Name,
				Kind:             models.KindProgram,
				RegistrationKind: in.Kind,
				ProgramID:        &pid,
				PlanID:           in.PlanID,
				FamilySize:       in.FamilySize,
				DraftData:        raw,
				IsDraft:          true,
				Status:           models.StatusPending,
				ParticipantCount: 1,
				LastEditedAt:     &now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			updates := map[string]interface{}{
				"draft_data":     raw,
				"last_edited_at": now,
			}
			if in.FamilySize != nil {
				updates["family_size"] = *in.FamilySize
			}
			if in.PlanID != nil {
				updates["plan_id"] = *in.PlanID
			}
			if p.Email != "" {
				updates["user_email"] = p.Email
			}
			if err := tx.Model(&row).Updates(updates).Error; err != nil {
				return err
			}
		}
		id = row.ID
		return nil
	})
	return id, err
}

// List returns the principal's active drafts, most recently edited first.
func (s *Store) List(ctx context.Context, p identity.Principal) ([]Draft, error) {
	out := []Draft{}
	if p.AccountID == "" {
		return out, nil
	}
	var rows []models.Registration
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_draft = ?", p.AccountID, true).
		Order("last_edited_at DESC, id DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return out, nil
	}

	ids := make([]uint, 0, len(rows))
	for _, r := range rows {
		if r.ProgramID != nil {
			ids = append(ids, *r.ProgramID)
		}
	}
	titles := map[uint]string{}
	var programs []models.Program
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&programs).Error; err != nil {
		return nil, err
	}
	for _, pr := range programs {
		titles[pr.ID] = pr.Title
	}

	for _, r := range rows {
		d := toDraft(r)
		d.ProgramTitle = titles[d.ProgramID]
		out = append(out, d)
	}
	return out, nil
}

// Get returns the active draft for resume.
func (s *Store) Get(ctx context.Context, p identity.Principal, programID uint, kind string) (*Draft, error) {
	if p.AccountID == "" {
		return nil, apperr.ErrUnauthorized
	}
	var row models.Registration
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND program_id = ? AND registration_kind = ? AND is_draft = ?",
			p.AccountID, programID, kind, true).
		Order("id").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("draft for program %d: %w", programID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	d := toDraft(row)
	return &d, nil
}

// Finalize copies draft_data into form_data and closes the draft. A second call fails.
func (s *Store) Finalize(ctx context.Context, p identity.Principal, id uint) (uint, error) {
	if p.AccountID == "" {
		return 0, apperr.ErrUnauthorized
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Registration
		err := tx.Where("id = ? AND user_id = ?", id, p.AccountID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("draft %d: %w", id, apperr.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if !row.IsDraft {
			return fmt.Errorf("draft %d already finalized: %w", id, apperr.ErrConflict)
		}
		res := tx.Model(&models.Registration{}).
			Where("id = ? AND is_draft = ?", id, true).
			Updates(map[string]interface{}{
				"form_data": row.DraftData,
				"is_draft":  false,
				"status":    models.StatusSubmitted,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("draft %d already finalized: %w", id, apperr.ErrConflict)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Delete removes a draft. Finalized rows are refused with Conflict.
func (s *Store) Delete(ctx context.Context, p identity.Principal, id uint) error {
	if p.AccountID == "" {
		return apperr.ErrUnauthorized
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Registration
		err := tx.Where("id = ? AND user_id = ?", id, p.AccountID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("draft %d: %w", id, apperr.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if !row.IsDraft {
			return fmt.Errorf("registration %d is not a draft: %w", id, apperr.ErrConflict)
		}
		return tx.Delete(&models.Registration{}, id).Error
	})
}

func toDraft(r models.Registration) Draft {
	d := Draft{
		ID:         r.ID,
		Kind:       r.RegistrationKind,
		Data:       Decode(r.DraftData),
		FamilySize: r.FamilySize,
		PlanID:     r.PlanID,
	}
	if r.ProgramID != nil {
		d.ProgramID = *r.ProgramID
	}
	if r.LastEditedAt != nil {
		d.LastEditedAt = *r.LastEditedAt
	}
	return d
}
