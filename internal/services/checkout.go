// Package services ties the draft store, pricing, ledger, token guard and
// gateway into the enrollment and payment flows.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lojf/academy/internal/apperr"
	"github.com/lojf/academy/internal/drafts"
	"github.com/lojf/academy/internal/formschema"
	"github.com/lojf/academy/internal/gateway"
	"github.com/lojf/academy/internal/identity"
	"github.com/lojf/academy/internal/ledger"
	"github.com/lojf/academy/internal/logger"
	"github.com/lojf/academy/internal/metrics"
	"github.com/lojf/academy/internal/models"
	"github.com/lojf/academy/internal/pricing"
	"github.com/lojf/academy/internal/token"
	"github.com/lojf/academy/internal/wizard"
)

// ErrEmailRequired is returned by Initiate when neither the intent nor the form carries an email.
var ErrEmailRequired = fmt.Errorf("%w: an email is required to pay", apperr.ErrInvalid)

// LinkCreator is the payment gateway as seen by checkout.
type LinkCreator interface {
	CreatePaymentLink(ctx context.Context, req gateway.LinkRequest) (string, error)
}

type Deps struct {
	DB          *gorm.DB
	Drafts      *drafts.Store
	Ledger      *ledger.Ledger
	Pricing     *pricing.Engine
	Schemas     *formschema.Store
	Guard       *token.Guard
	Gateway     LinkCreator
	RedirectURL string // where the gateway sends the payer afterwards
	Logger      logger.Logger
}

// Checkout implements wizard.Backend and the payment hand-off steps.
type Checkout struct {
	db          *gorm.DB
	drafts      *drafts.Store
	ledger      *ledger.Ledger
	pricing     *pricing.Engine
	schemas     *formschema.Store
	guard       *token.Guard
	gateway     LinkCreator
	redirectURL string
	log         logger.Logger
	newTxRef    func() string
}

var _ wizard.Backend = (*Checkout)(nil)

func NewCheckout(d Deps) *Checkout {
	if d.Logger == nil {
		d.Logger = logger.NewNoOpLogger()
	}
	return &Checkout{
		db:          d.DB,
		drafts:      d.Drafts,
		ledger:      d.Ledger,
		pricing:     d.Pricing,
		schemas:     d.Schemas,
		guard:       d.Guard,
		gateway:     d.Gateway,
		redirectURL: d.RedirectURL,
		log:         d.Logger,
		newTxRef:    func() string { return "ACAD-" + uuid.NewString() },
	}
}

func (c *Checkout) Plan(ctx context.Context, programID uint, planType string, planID uint) (wizard.Plan, error) {
	ent := pricing.Entity{Kind: models.KindProgram, ID: programID}
	row, err := c.pricing.Plan(ctx, ent, planID)
	if err != nil {
		return wizard.Plan{}, err
	}
	return wizard.Plan{ID: row.ID, Type: planType, Amount: row.Amount, Currency: row.Currency}, nil
}

func (c *Checkout) Schema(ctx context.Context, programID uint, planType string) (*formschema.Schema, error) {
	return c.schemas.Get(ctx, programID, planType)
}

func (c *Checkout) LoadDraft(ctx context.Context, p identity.Principal, programID uint, kind string) (*drafts.Draft, error) {
	return c.drafts.Get(ctx, p, programID, kind)
}

func (c *Checkout) SaveDraft(ctx context.Context, p identity.Principal, in drafts.UpsertInput) (uint, error) {
	return c.drafts.Upsert(ctx, p, in)
}

// Complete finalizes the run and creates or refreshes its payment intent in one
// transaction, then seals a review token. On any failure the draft stays a draft.
func (c *Checkout) Complete(ctx context.Context, p identity.Principal, req wizard.CompleteRequest) (wizard.Result, error) {
	if p.AccountID == "" {
		return wizard.Result{}, apperr.ErrUnauthorized
	}
	planType := req.PlanType
	if planType == "" {
		planType = models.PlanIndividual
	}
	participants := 1
	if planType == models.PlanFamily {
		participants = req.FamilySize
	}
	kind := req.Kind
	if kind == "" {
		kind = regKind(planType)
	}

	var (
		res    wizard.Result
		intent ledger.Intent
	)
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ds := c.drafts.WithTx(tx)
		size := req.FamilySize
		id, err := ds.Upsert(ctx, p, drafts.UpsertInput{
			ProgramID:  req.ProgramID,
			Kind:       kind,
			Data:       req.Data,
			FamilySize: &size,
			PlanID:     req.PlanID,
		})
		if err != nil {
			return err
		}
		regID, err := ds.Finalize(ctx, p, id)
		if err != nil {
			return err
		}

		form := map[string]interface{}{
			"head":            req.Data.Head,
			"members":         req.Data.Members,
			"registration_id": regID,
		}
		intent, _, err = c.ledger.WithTx(tx).CreateOrReuse(ctx, p, ledger.CreateInput{
			Kind:         models.KindProgram,
			EntityID:     req.ProgramID,
			PlanType:     planType,
			Form:         form,
			Participants: participants,
		})
		if err != nil {
			return err
		}
		res.RegistrationID = regID
		return nil
	})
	if err != nil {
		return wizard.Result{}, err
	}
	metrics.DraftsFinalized.Inc()

	tok, err := c.seal(ctx, intent)
	if err != nil {
		return wizard.Result{}, err
	}
	res.IntentID = intent.ID
	res.Amount = intent.Amount
	res.Currency = intent.Currency
	res.RedirectURL = ReviewPath(tok)
	c.log.Info("registration completed", map[string]interface{}{
		"registration_id": res.RegistrationID, "intent_id": intent.ID, "amount": intent.Amount,
	})
	return res, nil
}

// FinalizeDraft closes a draft without creating an intent.
func (c *Checkout) FinalizeDraft(ctx context.Context, p identity.Principal, id uint) (uint, error) {
	regID, err := c.drafts.Finalize(ctx, p, id)
	if err == nil {
		metrics.DraftsFinalized.Inc()
	}
	return regID, err
}

func regKind(planType string) string {
	if planType == models.PlanFamily {
		return models.RegFamilyHead
	}
	return models.RegIndividual
}

// ReviewPath is the review page URL carrying only the token.
func ReviewPath(tok string) string {
	return "/payments/review?token=" + url.QueryEscape(tok)
}

// CreateIntent creates or reuses a pending intent for the caller.
func (c *Checkout) CreateIntent(ctx context.Context, p identity.Principal, in ledger.CreateInput) (ledger.Intent, bool, error) {
	return c.ledger.CreateOrReuse(ctx, p, in)
}

func (c *Checkout) owns(p identity.Principal, in ledger.Intent) bool {
	if p.AccountID != "" && in.UserID == p.AccountID {
		return true
	}
	return in.UserID == "" && p.Email != "" && strings.EqualFold(in.UserEmail, p.Email)
}

// Summary re-prices the caller's intent and seals a review token for it.
func (c *Checkout) Summary(ctx context.Context, p identity.Principal, intentID uint) (string, error) {
	in, err := c.ledger.Get(ctx, intentID)
	if err != nil {
		return "", err
	}
	if !c.owns(p, in) {
		return "", fmt.Errorf("intent %d: %w", intentID, apperr.ErrNotFound)
	}
	if in.Status != models.StatusPending {
		return "", fmt.Errorf("intent %d is %s: %w", intentID, in.Status, apperr.ErrConflict)
	}
	if in, err = c.ledger.Reprice(ctx, intentID); err != nil {
		return "", err
	}
	return c.seal(ctx, in)
}

func (c *Checkout) seal(ctx context.Context, in ledger.Intent) (string, error) {
	return c.guard.Seal(token.Payload{
		IntentID:         in.ID,
		Name:             in.UserName,
		Email:            in.UserEmail,
		Kind:             in.Kind,
		Description:      c.describe(ctx, in.Kind, in.EntityID, in.PlanType),
		EntityID:         in.EntityID,
		PlanType:         in.PlanType,
		ParticipantCount: in.ParticipantCount,
		HintAmount:       in.Amount,
		HintCurrency:     in.Currency,
	})
}

func (c *Checkout) describe(ctx context.Context, kind string, id uint, planType string) string {
	var title string
	switch kind {
	case models.KindProgram:
		var p models.Program
		if err := c.db.WithContext(ctx).First(&p, id).Error; err == nil {
			title = p.Title
		}
	case models.KindSkill:
		var s models.Skill
		if err := c.db.WithContext(ctx).First(&s, id).Error; err == nil {
			title = s.Title
		}
	case models.KindDonation:
		return "Donation"
	}
	if title == "" && kind != "" {
		title = strings.ToUpper(kind[:1]) + kind[1:]
	}
	if planType == models.PlanFamily {
		return title + " (family)"
	}
	return title
}

// Review is what the review page shows. Amount comes from the pricing engine, not the token.
type Review struct {
	Token    string
	Payload  token.Payload
	Amount   int64
	Currency string
}

// Review opens the token and re-resolves the price.
func (c *Checkout) Review(ctx context.Context, tok string) (Review, error) {
	pl, err := c.guard.Open(tok)
	if err != nil {
		return Review{}, err
	}
	in, err := c.ledger.Get(ctx, pl.IntentID)
	if err != nil {
		return Review{}, err
	}
	if in.Status != models.StatusPending {
		return Review{}, fmt.Errorf("intent %d is %s: %w", in.ID, in.Status, apperr.ErrConflict)
	}
	amount, currency, err := c.quote(ctx, pl.Kind, pl.EntityID, pl.PlanType, pl.ParticipantCount, in)
	if err != nil {
		return Review{}, err
	}
	return Review{Token: tok, Payload: pl, Amount: amount, Currency: currency}, nil
}

func (c *Checkout) quote(ctx context.Context, kind string, entityID uint, planType string, n int, in ledger.Intent) (int64, string, error) {
	if kind != models.KindProgram && kind != models.KindSkill {
		return in.Amount, in.Currency, nil
	}
	if planType == "" {
		planType = models.PlanIndividual
	}
	q, err := c.pricing.PriceFor(ctx, planType, pricing.Entity{Kind: kind, ID: entityID}, n)
	if err != nil {
		return 0, "", err
	}
	return q.Amount, q.Currency, nil
}

// InitiateInput mirrors the review form's plain fields.
type InitiateInput struct {
	IntentID         uint
	Kind             string
	EntityID         uint
	PlanType         string
	ParticipantCount int
	Name             string
	Email            string
	Description      string
}

// Initiate re-resolves the price a final time, records a tx_ref and returns the gateway link.
func (c *Checkout) Initiate(ctx context.Context, in InitiateInput) (string, error) {
	intent, err := c.ledger.Get(ctx, in.IntentID)
	if err != nil {
		return "", err
	}
	if intent.Status != models.StatusPending {
		return "", fmt.Errorf("intent %d is %s: %w", intent.ID, intent.Status, apperr.ErrConflict)
	}
	if in.Kind != intent.Kind || (intent.Priced() && in.EntityID != intent.EntityID) {
		return "", fmt.Errorf("%w: form does not match intent %d", apperr.ErrInvalid, intent.ID)
	}
	if intent, err = c.ledger.Reprice(ctx, intent.ID); err != nil {
		return "", err
	}

	email := intent.UserEmail
	if email == "" {
		if e, ok := identity.NormEmail(in.Email); ok {
			email = e
		}
	}
	if email == "" {
		return "", ErrEmailRequired
	}
	name := intent.UserName
	if name == "" {
		name = strings.TrimSpace(in.Name)
	}

	ref := c.newTxRef()
	if err := c.ledger.AttachTxRef(ctx, intent.ID, ref); err != nil {
		return "", err
	}
	link, err := c.gateway.CreatePaymentLink(ctx, gateway.LinkRequest{
		TxRef:       ref,
		Amount:      intent.Amount,
		Currency:    intent.Currency,
		RedirectURL: c.redirectURL,
		Customer:    gateway.Customer{Email: email, Name: name},
		Customizations: gateway.Customization{
			Title:       "Academy enrollment",
			Description: c.describe(ctx, intent.Kind, intent.EntityID, intent.PlanType),
		},
		Meta: map[string]any{"intent_id": intent.ID},
	})
	if err != nil {
		c.log.WithError(err).Error("payment link failed", map[string]interface{}{"intent_id": intent.ID, "tx_ref": ref})
		return "", err
	}
	c.log.Info("payment initiated", map[string]interface{}{"intent_id": intent.ID, "tx_ref": ref, "amount": intent.Amount})
	return link, nil
}

// IsGatewayError reports whether err came from the payment provider.
func IsGatewayError(err error) bool {
	return errors.Is(err, gateway.ErrRejected) || errors.Is(err, gateway.ErrUnavailable)
}
