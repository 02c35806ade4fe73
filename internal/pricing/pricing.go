// Package pricing is the single source of truth for what an enrollment costs.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gorm.io/gorm"

	"github.com/lojf/academy/internal/apperr"
	"github.com/lojf/academy/internal/metrics"
	"github.com/lojf/academy/internal/models"
)

// DefaultFamilyDiscount applies to family plans with more than one participant.
const DefaultFamilyDiscount = 0.05

// Entity is a priced offering.
type Entity struct {
	Kind string // program | skill
	ID   uint
}

func (e Entity) String() string { return fmt.Sprintf("%s %d", e.Kind, e.ID) }

type Quote struct {
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	PlanType     string `json:"plan_type"`
	Participants int    `json:"participant_count"`
}

type Engine struct {
	db       *gorm.DB
	discount float64
}

func NewEngine(db *gorm.DB, familyDiscount float64) *Engine {
	if familyDiscount < 0 || familyDiscount >= 1 {
		familyDiscount = DefaultFamilyDiscount
	}
	return &Engine{db: db, discount: familyDiscount}
}

// WithTx returns an Engine reading through an open transaction.
func (e *Engine) WithTx(tx *gorm.DB) *Engine {
	return &Engine{db: tx, discount: e.discount}
}

// PriceFor resolves the authoritative amount. Family plans with more than one participant
// are charged round(individual × count × (1 − discount)).
func (e *Engine) PriceFor(ctx context.Context, planType string, ent Entity, participants int) (Quote, error) {
	q, err := e.priceFor(ctx, planType, ent, participants)
	switch {
	case err == nil:
		metrics.PriceResolutions.WithLabelValues("ok").Inc()
	case errors.Is(err, apperr.ErrPlanNotFound):
		metrics.PriceResolutions.WithLabelValues("plan_not_found").Inc()
	default:
		metrics.PriceResolutions.WithLabelValues("error").Inc()
	}
	return q, err
}

func (e *Engine) priceFor(ctx context.Context, planType string, ent Entity, participants int) (Quote, error) {
	if ent.Kind != models.KindProgram && ent.Kind != models.KindSkill {
		return Quote{}, fmt.Errorf("%w: %s is not a priced offering", apperr.ErrInvalid, ent.Kind)
	}
	if participants < 1 {
		participants = 1
	}

	ind, err := e.individual(ctx, ent)
	if err != nil {
		return Quote{}, err
	}

	q := Quote{Amount: ind.Amount, Currency: ind.Currency, PlanType: planType, Participants: participants}
	switch planType {
	case models.PlanIndividual:
		q.Participants = 1
	case models.PlanFamily:
		if participants > 1 {
			q.Amount = int64(math.Round(float64(ind.Amount) * float64(participants) * (1 - e.discount)))
		}
	default:
		return Quote{}, fmt.Errorf("%w: unknown plan type %q", apperr.ErrInvalid, planType)
	}
	return q, nil
}

func (e *Engine) individual(ctx context.Context, ent Entity) (*models.PlanPrice, error) {
	var row models.PlanPrice
	err := e.db.WithContext(ctx).
		Where("entity_kind = ? AND entity_id = ? AND plan_type = ?", ent.Kind, ent.ID, models.PlanIndividual).
		Order("participant_bucket ASC, id ASC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", ent, apperr.ErrPlanNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Plan resolves a plan row for the entity. A zero planID picks the individual plan.
func (e *Engine) Plan(ctx context.Context, ent Entity, planID uint) (*models.PlanPrice, error) {
	if planID == 0 {
		return e.individual(ctx, ent)
	}
	var row models.PlanPrice
	err := e.db.WithContext(ctx).
		Where("id = ? AND entity_kind = ? AND entity_id = ?", planID, ent.Kind, ent.ID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("plan %d for %s: %w", planID, ent, apperr.ErrPlanNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Plans lists every plan configured for the entity.
func (e *Engine) Plans(ctx context.Context, ent Entity) ([]models.PlanPrice, error) {
	var rows []models.PlanPrice
	err := e.db.WithContext(ctx).
		Where("entity_kind = ? AND entity_id = ?", ent.Kind, ent.ID).
		Order("plan_type, participant_bucket").
		Find(&rows).Error
	return rows, err
}
