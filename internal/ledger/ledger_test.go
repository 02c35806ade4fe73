package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lojf/academy/internal/apperr"
	"github.com/lojf/academy/internal/db/dbtest"
	"github.com/lojf/academy/internal/identity"
	"github.com/lojf/academy/internal/models"
	"github.com/lojf/academy/internal/pricing"
)

func setup(t *testing.T) (*Ledger, *gorm.DB) {
	t.Helper()
	gdb := dbtest.Open(t)
	require.NoError(t, gdb.Create(&models.PlanPrice{
		EntityKind: models.KindProgram, EntityID: 1, PlanType: models.PlanIndividual, Amount: 20000, Currency: "NGN",
	}).Error)
	return New(gdb, pricing.NewEngine(gdb, pricing.DefaultFamilyDiscount)), gdb
}

func TestCreateOrReuse_SameIntentTwice(t *testing.T) {
	l, gdb := setup(t)
	ctx := context.Background()
	p := identity.Principal{AccountID: "u1", Email: "ada@example.com"}

	first, reused, err := l.CreateOrReuse(ctx, p, CreateInput{
		Kind: models.KindProgram, EntityID: 1, Form: map[string]interface{}{"name": "Ada", "school": "A"},
	})
	require.NoError(t, err)
	assert.False(t, reused)
	assert.EqualValues(t, 20000, first.Amount)
	assert.Equal(t, models.StatusPending, first.Status)

	second, reused, err := l.CreateOrReuse(ctx, p, CreateInput{
		Kind: models.KindProgram, EntityID: 1, PlanType: models.PlanFamily, Participants: 3,
		Form: map[string]interface{}{"school": "B"},
	})
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, first.ID, second.ID)
	assert.EqualValues(t, 57000, second.Amount)
	assert.Equal(t, models.PlanFamily, second.PlanType)
	assert.Equal(t, "Ada", second.Form["name"], "snapshot is merged, not replaced")
	assert.Equal(t, "B", second.Form["school"])

	var count int64
	gdb.Model(&models.Registration{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestCreateOrReuse_EmailFallback(t *testing.T) {
	l, _ := setup(t)
	ctx := context.Background()

	anon, _, err := l.CreateOrReuse(ctx, identity.Principal{}, CreateInput{
		Kind: models.KindProgram, EntityID: 1, Form: map[string]interface{}{"head": map[string]interface{}{"email": "Ada@Example.com"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", anon.UserEmail)

	// the account signs in later with the same email and adopts the row
	later, reused, err := l.CreateOrReuse(ctx, identity.Principal{AccountID: "u1", Email: "ada@example.com"}, CreateInput{
		Kind: models.KindProgram, EntityID: 1,
	})
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, anon.ID, later.ID)
	assert.Equal(t, "u1", later.UserID)

	// a different account with the same email does not take it over
	other, reused, err := l.CreateOrReuse(ctx, identity.Principal{AccountID: "u2", Email: "ada@example.com"}, CreateInput{
		Kind: models.KindProgram, EntityID: 1,
	})
	require.NoError(t, err)
	assert.False(t, reused)
	assert.NotEqual(t, anon.ID, other.ID)
}

func TestCreateOrReuse_Validation(t *testing.T) {
	l, _ := setup(t)
	ctx := context.Background()
	p := identity.Principal{AccountID: "u1"}

	_, _, err := l.CreateOrReuse(ctx, p, CreateInput{Kind: models.KindProgram, EntityID: 2})
	assert.ErrorIs(t, err, apperr.ErrPlanNotFound)

	_, _, err = l.CreateOrReuse(ctx, p, CreateInput{Kind: models.KindDonation})
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	_, _, err = l.CreateOrReuse(ctx, p, CreateInput{Kind: "raffle"})
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	_, _, err = l.CreateOrReuse(ctx, identity.Principal{}, CreateInput{Kind: models.KindDonation, Amount: 100})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	don, _, err := l.CreateOrReuse(ctx, p, CreateInput{Kind: models.KindDonation, Amount: 5000})
	require.NoError(t, err)
	assert.EqualValues(t, 5000, don.Amount)
	assert.Equal(t, DefaultCurrency, don.Currency)
}

func TestTransitions(t *testing.T) {
	l, _ := setup(t)
	ctx := context.Background()
	p := identity.Principal{AccountID: "u1"}

	in, _, err := l.CreateOrReuse(ctx, p, CreateInput{Kind: models.KindProgram, EntityID: 1})
	require.NoError(t, err)

	require.NoError(t, l.MarkPaid(ctx, in.ID))
	assert.ErrorIs(t, l.MarkPaid(ctx, in.ID), apperr.ErrConflict)
	require.NoError(t, l.MarkRefunded(ctx, in.ID))
	assert.ErrorIs(t, l.MarkRefunded(ctx, in.ID), apperr.ErrConflict)
	assert.ErrorIs(t, l.MarkPaid(ctx, in.ID), apperr.ErrConflict)
	assert.ErrorIs(t, l.MarkPaid(ctx, 404), apperr.ErrNotFound)

	got, err := l.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefunded, got.Status)

	// a fresh pending intent can be refunded directly
	next, reused, err := l.CreateOrReuse(ctx, p, CreateInput{Kind: models.KindProgram, EntityID: 1})
	require.NoError(t, err)
	assert.False(t, reused, "refunded intents are not reused")
	require.NoError(t, l.MarkRefunded(ctx, next.ID))
}

func TestReprice_UsesCurrentPlanTable(t *testing.T) {
	l, gdb := setup(t)
	ctx := context.Background()

	in, _, err := l.CreateOrReuse(ctx, identity.Principal{AccountID: "u1"}, CreateInput{Kind: models.KindProgram, EntityID: 1})
	require.NoError(t, err)

	require.NoError(t, gdb.Model(&models.PlanPrice{}).Where("entity_id = ?", 1).Update("amount", 25000).Error)
	// a client-side edit of the stored amount is overwritten too
	require.NoError(t, gdb.Model(&models.Registration{}).Where("id = ?", in.ID).Update("amount", 1).Error)

	got, err := l.Reprice(ctx, in.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 25000, got.Amount)

	stored, err := l.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 25000, stored.Amount)
}

func TestAttachTxRefAndListPaid(t *testing.T) {
	l, _ := setup(t)
	ctx := context.Background()

	a, _, err := l.CreateOrReuse(ctx, identity.Principal{AccountID: "u1"}, CreateInput{Kind: models.KindProgram, EntityID: 1})
	require.NoError(t, err)
	b, _, err := l.CreateOrReuse(ctx, identity.Principal{Email: "b@example.com"}, CreateInput{Kind: models.KindDonation, Amount: 10})
	require.NoError(t, err)

	require.NoError(t, l.AttachTxRef(ctx, a.ID, "tx-1"))
	assert.ErrorIs(t, l.AttachTxRef(ctx, a.ID, " "), apperr.ErrInvalid)
	require.NoError(t, l.MarkPaid(ctx, a.ID))
	require.NoError(t, l.MarkPaid(ctx, b.ID))
	assert.ErrorIs(t, l.AttachTxRef(ctx, a.ID, "tx-2"), apperr.ErrConflict)

	paid, err := l.ListPaid(ctx)
	require.NoError(t, err)
	require.Len(t, paid, 2)
	assert.Equal(t, a.ID, paid[0].ID)
	assert.Equal(t, "tx-1", paid[0].TxRef)
	assert.Equal(t, "b@example.com", paid[1].UserEmail)
}
