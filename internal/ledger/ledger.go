// Package ledger keeps the canonical payment-intent records. At most one
// pending intent exists per (account-or-email, kind, offering); creation finds
// and reuses it.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/lojf/academy/internal/apperr"
	"github.com/lojf/academy/internal/identity"
	"github.com/lojf/academy/internal/metrics"
	"github.com/lojf/academy/internal/models"
	"github.com/lojf/academy/internal/pricing"
)

// DefaultCurrency is used for donations that do not name one.
const DefaultCurrency = "NGN"

// Pricer resolves authoritative prices.
type Pricer interface {
	PriceFor(ctx context.Context, planType string, ent pricing.Entity, participants int) (pricing.Quote, error)
}

type Intent struct {
	ID               uint                   `json:"id"`
	UserID           string                 `json:"user_id,omitempty"`
	UserEmail        string                 `json:"user_email,omitempty"`
	UserName         string                 `json:"user_name,omitempty"`
	Kind             string                 `json:"kind"`
	EntityID         uint                   `json:"entity_id,omitempty"`
	PlanType         string                 `json:"plan_type,omitempty"`
	Amount           int64                  `json:"amount"`
	Currency         string                 `json:"currency"`
	Status           string                 `json:"status"`
	ParticipantCount int                    `json:"participant_count"`
	TxRef            string                 `json:"tx_ref,omitempty"`
	Form             map[string]interface{} `json:"form,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// Priced reports whether the intent's amount comes from the pricing engine.
func (i Intent) Priced() bool {
	return i.Kind == models.KindProgram || i.Kind == models.KindSkill
}

type CreateInput struct {
	Kind         string
	EntityID     uint
	PlanType     string // individual | family; priced kinds only
	Form         map[string]interface{}
	Participants int
	Amount       int64 // donation and other only
	Currency     string
}

type Ledger struct {
	db     *gorm.DB
	pricer Pricer
	now    func() time.Time
}

func New(db *gorm.DB, pricer Pricer) *Ledger {
	return &Ledger{db: db, pricer: pricer, now: time.Now}
}

// WithTx binds the ledger, and its pricer when it supports it, to an open transaction.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	p := l.pricer
	if e, ok := p.(*pricing.Engine); ok {
		p = e.WithTx(tx)
	}
	return &Ledger{db: tx, pricer: p, now: l.now}
}

func entityColumn(kind string) string {
	switch kind {
	case models.KindProgram:
		return "program_id"
	case models.KindSkill:
		return "skill_id"
	}
	return ""
}

func regKindFor(planType string) string {
	if planType == models.PlanFamily {
		return models.RegFamilyHead
	}
	return models.RegIndividual
}

func planTypeFor(regKind string) string {
	if regKind == models.RegFamilyHead || regKind == models.RegFamilyMember {
		return models.PlanFamily
	}
	return models.PlanIndividual
}

func formEmail(form map[string]interface{}) string {
	if s, ok := form["email"].(string); ok {
		if e, valid := identity.NormEmail(s); valid {
			return e
		}
	}
	if head, ok := form["head"].(map[string]interface{}); ok {
		if s, ok := head["email"].(string); ok {
			if e, valid := identity.NormEmail(s); valid {
				return e
			}
		}
	}
	return ""
}

func formName(form map[string]interface{}) string {
	if s, ok := form["name"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	if head, ok := form["head"].(map[string]interface{}); ok {
		if s, ok := head["name"].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// CreateOrReuse returns the pending intent for the caller and offering, creating it when
// none exists. The bool reports reuse.
func (l *Ledger) CreateOrReuse(ctx context.Context, p identity.Principal, in CreateInput) (Intent, bool, error) {
	switch in.Kind {
	case models.KindProgram, models.KindSkill:
		if in.EntityID == 0 {
			return Intent{}, false, fmt.Errorf("%w: %s id is required", apperr.ErrInvalid, in.Kind)
		}
		if in.PlanType == "" {
			in.PlanType = models.PlanIndividual
		}
	case models.KindDonation, models.KindOther:
		if in.Amount <= 0 {
			return Intent{}, false, fmt.Errorf("%w: amount must be positive", apperr.ErrInvalid)
		}
		if in.Currency == "" {
			in.Currency = DefaultCurrency
		}
		in.EntityID = 0
	default:
		return Intent{}, false, fmt.Errorf("%w: unknown kind %q", apperr.ErrInvalid, in.Kind)
	}
	if in.Participants < 1 {
		in.Participants = 1
	}

	email := p.Email
	if email == "" {
		email = formEmail(in.Form)
	}
	if p.AccountID == "" && email == "" {
		return Intent{}, false, fmt.Errorf("%w: an account or email is required", apperr.ErrUnauthorized)
	}
	name := p.Name
	if name == "" {
		name = formName(in.Form)
	}

	amount, currency := in.Amount, in.Currency
	if in.Kind == models.KindProgram || in.Kind == models.KindSkill {
		q, err := l.pricer.PriceFor(ctx, in.PlanType, pricing.Entity{Kind: in.Kind, ID: in.EntityID}, in.Participants)
		if err != nil {
			return Intent{}, false, err
		}
		amount, currency = q.Amount, q.Currency
	}

	var (
		row    models.Registration
		reused bool
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := findPending(tx, p.AccountID, email, in)
		if err != nil {
			return err
		}
		if found != nil {
			reused = true
			row = *found
			merged := decodeForm(row.FormData)
			for k, v := range in.Form {
				merged[k] = v
			}
			raw, err := json.Marshal(merged)
			if err != nil {
				return err
			}
			updates := map[string]interface{}{
				"form_data":         string(raw),
				"amount":            amount,
				"currency":          currency,
				"participant_count": in.Participants,
				"registration_kind": regKindFor(in.PlanType),
			}
			if row.UserID == "" && p.AccountID != "" {
				updates["user_id"] = p.AccountID
			}
			if email != "" {
				updates["user_email"] = email
			}
			if name != "" {
				updates["user_name"] = name
			}
			if err := tx.Model(&row).Updates(updates).Error; err != nil {
				return err
			}
			return tx.First(&row, row.ID).Error
		}

		raw, err := json.Marshal(nonNil(in.Form))
		if err != nil {
			return err
		}
		row = models.Registration{
			UserID:           p.AccountID,
			UserEmail:        email,
			UserName:         name,
			Kind:             in.Kind,
			RegistrationKind: regKindFor(in.PlanType),
			FormData:         string(raw),
			Status:           models.StatusPending,
			Amount:           amount,
			Currency:         currency,
			ParticipantCount: in.Participants,
		}
		if id := in.EntityID; id != 0 {
			if in.Kind == models.KindProgram {
				row.ProgramID = &id
			} else {
				row.SkillID = &id
			}
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return Intent{}, false, err
	}

	outcome := "created"
	if reused {
		outcome = "reused"
	}
	metrics.IntentsWritten.WithLabelValues(in.Kind, outcome).Inc()
	return toIntent(row), reused, nil
}

func findPending(tx *gorm.DB, accountID, email string, in CreateInput) (*models.Registration, error) {
	scope := func(q *gorm.DB) *gorm.DB {
		q = q.Where("kind = ? AND status = ? AND is_draft = ?", in.Kind, models.StatusPending, false)
		if col := entityColumn(in.Kind); col != "" {
			return q.Where(col+" = ?", in.EntityID)
		}
		return q
	}

	var row models.Registration
	if accountID != "" {
		err := tx.Scopes(scope).Where("user_id = ?", accountID).Order("id").First(&row).Error
		if err == nil {
			return &row, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if email != "" {
		q := tx.Scopes(scope).Where("user_email = ?", email)
		if accountID != "" {
			// an email match owned by a different account is not ours to reuse
			q = q.Where("(user_id = '' OR user_id IS NULL OR user_id = ?)", accountID)
		}
		err := q.Order("id").First(&row).Error
		if err == nil {
			return &row, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// Get returns one intent. Drafts are not intents.
func (l *Ledger) Get(ctx context.Context, id uint) (Intent, error) {
	row, err := l.load(ctx, l.db, id)
	if err != nil {
		return Intent{}, err
	}
	return toIntent(*row), nil
}

func (l *Ledger) load(ctx context.Context, db *gorm.DB, id uint) (*models.Registration, error) {
	var row models.Registration
	err := db.WithContext(ctx).Where("id = ? AND is_draft = ?", id, false).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("intent %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// MarkPaid moves a pending intent to paid.
func (l *Ledger) MarkPaid(ctx context.Context, id uint) error {
	now := l.now()
	return l.transition(ctx, id, models.StatusPaid, []string{models.StatusPending},
		map[string]interface{}{"status": models.StatusPaid, "paid_at": now})
}

// MarkRefunded accepts pending or paid intents. Nothing leaves refunded.
func (l *Ledger) MarkRefunded(ctx context.Context, id uint) error {
	return l.transition(ctx, id, models.StatusRefunded, []string{models.StatusPending, models.StatusPaid},
		map[string]interface{}{"status": models.StatusRefunded})
}

func (l *Ledger) transition(ctx context.Context, id uint, to string, from []string, updates map[string]interface{}) error {
	res := l.db.WithContext(ctx).Model(&models.Registration{}).
		Where("id = ? AND is_draft = ? AND status IN ?", id, false, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		row, err := l.load(ctx, l.db, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("intent %d is %s, cannot become %s: %w", id, row.Status, to, apperr.ErrConflict)
	}
	metrics.IntentTransitions.WithLabelValues(to).Inc()
	return nil
}

// Reprice re-resolves and persists the amount of a pending priced intent.
func (l *Ledger) Reprice(ctx context.Context, id uint) (Intent, error) {
	row, err := l.load(ctx, l.db, id)
	if err != nil {
		return Intent{}, err
	}
	in := toIntent(*row)
	if !in.Priced() || row.Status != models.StatusPending {
		return in, nil
	}
	q, err := l.pricer.PriceFor(ctx, in.PlanType, pricing.Entity{Kind: in.Kind, ID: in.EntityID}, in.ParticipantCount)
	if err != nil {
		return Intent{}, err
	}
	if q.Amount != row.Amount || q.Currency != row.Currency {
		if err := l.db.WithContext(ctx).Model(row).
			Updates(map[string]interface{}{"amount": q.Amount, "currency": q.Currency}).Error; err != nil {
			return Intent{}, err
		}
	}
	in.Amount, in.Currency = q.Amount, q.Currency
	return in, nil
}

// AttachTxRef records the gateway transaction reference on a pending intent.
func (l *Ledger) AttachTxRef(ctx context.Context, id uint, txRef string) error {
	if strings.TrimSpace(txRef) == "" {
		return fmt.Errorf("%w: empty tx_ref", apperr.ErrInvalid)
	}
	res := l.db.WithContext(ctx).Model(&models.Registration{}).
		Where("id = ? AND is_draft = ? AND status = ?", id, false, models.StatusPending).
		Update("tx_ref", txRef)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		row, err := l.load(ctx, l.db, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("intent %d is %s: %w", id, row.Status, apperr.ErrConflict)
	}
	return nil
}

// ListPaid returns every paid intent ordered by (created_at, id).
func (l *Ledger) ListPaid(ctx context.Context) ([]Intent, error) {
	var rows []models.Registration
	if err := l.db.WithContext(ctx).
		Where("status = ? AND is_draft = ?", models.StatusPaid, false).
		Order("created_at, id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Intent, len(rows))
	for i, r := range rows {
		out[i] = toIntent(r)
	}
	return out, nil
}

func toIntent(r models.Registration) Intent {
	in := Intent{
		ID:               r.ID,
		UserID:           r.UserID,
		UserEmail:        r.UserEmail,
		UserName:         r.UserName,
		Kind:             r.Kind,
		EntityID:         r.EntityID(),
		Amount:           r.Amount,
		Currency:         r.Currency,
		Status:           r.Status,
		ParticipantCount: r.ParticipantCount,
		Form:             decodeForm(r.FormData),
		CreatedAt:        r.CreatedAt,
	}
	if in.Priced() {
		in.PlanType = planTypeFor(r.RegistrationKind)
	}
	if r.TxRef != nil {
		in.TxRef = *r.TxRef
	}
	return in
}

func decodeForm(raw string) map[string]interface{} {
	m := map[string]interface{}{}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &m)
	}
	if m == nil {
		m = map[string]interface{}{}
	}
	return m
}

func nonNil(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
