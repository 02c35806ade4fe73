package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lojf/academy/internal/config"
	"github.com/lojf/academy/internal/db/dbtest"
	"github.com/lojf/academy/internal/drafts"
	"github.com/lojf/academy/internal/formschema"
	"github.com/lojf/academy/internal/gateway"
	"github.com/lojf/academy/internal/ledger"
	"github.com/lojf/academy/internal/logger"
	"github.com/lojf/academy/internal/models"
	"github.com/lojf/academy/internal/pricing"
	"github.com/lojf/academy/internal/reconcile"
	"github.com/lojf/academy/internal/services"
	"github.com/lojf/academy/internal/token"
	"github.com/lojf/academy/internal/wizard"
)

const adminToken = "admin-test-token"

const nameOnly = `{"title":"Robotics","fields":[{"id":"name","type":"short-text","label":"Name","required":true}]}`

type idleTimer struct{}

func (idleTimer) Stop() bool { return true }

type recordingGateway struct {
	mu   sync.Mutex
	reqs []gateway.LinkRequest
	fail bool
}

func (g *recordingGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req gateway.LinkRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	fail := g.fail
	g.mu.Unlock()
	if fail {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"error","message":"down"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"success","data":{"link":"https://pay.example/` + req.TxRef + `"}}`))
}

type harness struct {
	db      *gorm.DB
	handler http.Handler
	gw      *recordingGateway
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb := dbtest.Open(t)
	log := logger.NewTestLogger(t)

	require.NoError(t, gdb.Create(&models.Program{ID: 1, Title: "Robotics"}).Error)
	require.NoError(t, gdb.Create(&models.PlanPrice{
		EntityKind: models.KindProgram, EntityID: 1, PlanType: models.PlanIndividual, Amount: 20000, Currency: "NGN",
	}).Error)

	schemas := formschema.NewStore(gdb, nil, 0, log)
	for _, pt := range []string{models.PlanIndividual, models.PlanFamily} {
		sch, err := formschema.Parse([]byte(nameOnly))
		require.NoError(t, err)
		require.NoError(t, schemas.Put(context.Background(), 1, pt, sch))
	}

	gw := &recordingGateway{}
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	guard, err := token.NewGuard(strings.Repeat("k", 32), time.Hour)
	require.NoError(t, err)

	engine := pricing.NewEngine(gdb, 0.05)
	store := drafts.NewStore(gdb)
	intents := ledger.New(gdb, engine)
	checkout := services.NewCheckout(services.Deps{
		DB:          gdb,
		Drafts:      store,
		Ledger:      intents,
		Pricing:     engine,
		Schemas:     schemas,
		Guard:       guard,
		Gateway:     gateway.NewClient(srv.URL, "sk_test", time.Second),
		RedirectURL: "https://academy.example/payments/complete",
		Logger:      log,
	})
	wizards := wizard.NewRegistry(checkout, wizard.Options{
		Logger:    log,
		AfterFunc: func(time.Duration, func()) wizard.Timer { return idleTimer{} },
	})

	h := Router(Deps{
		DB:       gdb,
		Checkout: checkout,
		Drafts:   store,
		Ledger:   intents,
		Schemas:  schemas,
		Reporter: reconcile.NewReporter(intents, log),
		Wizards:  wizards,
		Identity: config.IdentityConfig{
			AccountHeader: "X-Account-Id",
			EmailHeader:   "X-Account-Email",
			NameHeader:    "X-Account-Name",
		},
		AdminToken: adminToken,
		BaseURL:    "https://academy.example",
		Logger:     log,
	})
	return &harness{db: gdb, handler: h, gw: gw}
}

type who struct{ account, email, name string }

var ada = who{"u1", "ada@example.com", "Ada"}

func (h *harness) do(t *testing.T, as who, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		if strings.HasPrefix(body, "{") {
			req.Header.Set("Content-Type", "application/json")
		} else {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if as.account != "" {
		req.Header.Set("X-Account-Id", as.account)
	}
	if as.email != "" {
		req.Header.Set("X-Account-Email", as.email)
	}
	if as.name != "" {
		req.Header.Set("X-Account-Name", as.name)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) admin(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func reviewToken(t *testing.T, redirect string) string {
	t.Helper()
	u, err := url.Parse(redirect)
	require.NoError(t, err)
	require.Equal(t, "/payments/review", u.Path)
	tok := u.Query().Get("token")
	require.NotEmpty(t, tok)
	return tok
}

func TestRouterHealthz(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, who{}, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = h.do(t, who{}, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDrafts_UpsertListFinalize(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, who{}, http.MethodGet, "/drafts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["drafts"])

	rec = h.do(t, who{}, http.MethodPost, "/drafts", `{"program_id":1,"registration_kind":"individual","draft_data":{}}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decode(t, rec)["code"])

	first := `{"program_id":1,"registration_kind":"individual","draft_data":{"head":{"name":"A"},"members":[]}}`
	second := `{"program_id":1,"registration_kind":"individual","draft_data":{"head":{"name":"Ada"},"members":[]}}`
	rec = h.do(t, ada, http.MethodPost, "/drafts", first)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decode(t, rec)["id"]
	rec = h.do(t, ada, http.MethodPost, "/drafts", second)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode(t, rec)["id"])

	rec = h.do(t, ada, http.MethodGet, "/drafts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["drafts"].([]any)
	require.Len(t, list, 1)
	d := list[0].(map[string]any)
	assert.Equal(t, "Robotics", d["program_title"])
	assert.Equal(t, "Ada", d["draft_data"].(map[string]any)["head"].(map[string]any)["name"])

	idStr := strconv.Itoa(int(id.(float64)))
	rec = h.do(t, ada, http.MethodPut, "/drafts", `{"id":`+idStr+`}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, ada, http.MethodPut, "/drafts", `{"id":`+idStr+`}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, ada, http.MethodDelete, "/drafts?id="+idStr, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, who{account: "u2"}, http.MethodPut, "/drafts", `{"id":`+idStr+`}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDrafts_Delete(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, ada, http.MethodPost, "/drafts", `{"program_id":1,"registration_kind":"family-head","draft_data":{"head":{},"members":[]}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	idStr := strconv.Itoa(int(decode(t, rec)["id"].(float64)))

	rec = h.do(t, ada, http.MethodDelete, "/drafts?id="+idStr, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(t, ada, http.MethodDelete, "/drafts?id="+idStr, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = h.do(t, ada, http.MethodDelete, "/drafts?id=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgramSchema(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, who{}, http.MethodGet, "/programs/1/schema?plan=family", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "family", body["plan_type"])
	assert.Len(t, body["pages"].([]any), 1)

	rec = h.do(t, who{}, http.MethodGet, "/programs/9/schema", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompleteReviewInitiate(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, ada, http.MethodPost, "/registrations/complete", `{
		"program_id": 1, "registration_kind": "family-head", "plan_type": "family", "family_size": 3,
		"draft_data": {"head": {"name": "Ada"}, "members": [{"name": "Byron"}, {"name": "Clara"}]}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode(t, rec)
	assert.EqualValues(t, 57000, res["amount"])
	tok := reviewToken(t, res["redirect_url"].(string))

	rec = h.do(t, who{}, http.MethodGet, "/payments/review?token="+url.QueryEscape(tok), "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := rec.Body.String()
	assert.Contains(t, page, "Robotics (family)")
	assert.Contains(t, page, "NGN 57,000")

	rec = h.do(t, who{}, http.MethodGet, "/payments/review/qr.png?token="+url.QueryEscape(tok), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	form := url.Values{
		"token":             {tok},
		"intent_id":         {strconv.Itoa(int(res["intent_id"].(float64)))},
		"kind":              {"program"},
		"entity_id":         {"1"},
		"plan_type":         {"family"},
		"participant_count": {"3"},
		"name":              {"Ada"},
		"email":             {"ada@example.com"},
	}
	rec = h.do(t, who{}, http.MethodPost, "/payments/initiate", form.Encode())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `href="https://pay.example/ACAD-`)

	require.Len(t, h.gw.reqs, 1)
	assert.EqualValues(t, 57000, h.gw.reqs[0].Amount)
	assert.Equal(t, "ada@example.com", h.gw.reqs[0].Customer.Email)

	var reg models.Registration
	require.NoError(t, h.db.First(&reg, uint(res["intent_id"].(float64))).Error)
	require.NotNil(t, reg.TxRef)
	assert.Equal(t, h.gw.reqs[0].TxRef, *reg.TxRef)
}

func TestInitiate_GatewayDownReturnsToReview(t *testing.T) {
	h := newHarness(t)
	h.gw.fail = true

	rec := h.do(t, ada, http.MethodPost, "/registrations/complete", `{
		"program_id": 1, "plan_type": "individual", "family_size": 1,
		"draft_data": {"head": {"name": "Ada"}, "members": []}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode(t, rec)
	tok := reviewToken(t, res["redirect_url"].(string))

	form := url.Values{
		"token":     {tok},
		"intent_id": {strconv.Itoa(int(res["intent_id"].(float64)))},
		"kind":      {"program"},
		"entity_id": {"1"},
	}
	rec = h.do(t, who{}, http.MethodPost, "/payments/initiate", form.Encode())
	require.Equal(t, http.StatusSeeOther, rec.Code)
	loc := rec.Header().Get("Location")
	assert.Contains(t, loc, "error=gateway_unavailable")

	rec = h.do(t, who{}, http.MethodGet, loc, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "could not be reached")
}

func TestReview_TamperedToken(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, who{}, http.MethodGet, "/payments/review?token=abc.def", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid or has expired")

	rec = h.do(t, who{}, http.MethodGet, "/payments/review/qr.png?token=abc.def", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntentsAndSummary_EmailOnly(t *testing.T) {
	h := newHarness(t)
	donor := who{email: "grace@example.com", name: "Grace"}

	rec := h.do(t, who{}, http.MethodPost, "/payments/intents", `{"kind":"donation","amount":5000}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, donor, http.MethodPost, "/payments/intents", `{"kind":"donation","amount":5000}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode(t, rec)
	assert.Equal(t, "NGN", first["currency"])
	assert.Equal(t, false, first["reused"])

	rec = h.do(t, donor, http.MethodPost, "/payments/intents", `{"kind":"donation","amount":7000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode(t, rec)
	assert.Equal(t, first["id"], again["id"])
	assert.EqualValues(t, 7000, again["amount"])

	id := strconv.Itoa(int(first["id"].(float64)))
	rec = h.do(t, donor, http.MethodPost, "/payments/summary", "intent_id="+id)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	reviewToken(t, rec.Header().Get("Location"))

	rec = h.do(t, who{email: "mallory@example.com"}, http.MethodPost, "/payments/summary", "intent_id="+id)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_TransitionsAndReport(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, ada, http.MethodPost, "/registrations/complete", `{
		"program_id": 1, "plan_type": "individual", "family_size": 1,
		"draft_data": {"head": {"name": "Ada"}, "members": []}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := strconv.Itoa(int(decode(t, rec)["intent_id"].(float64)))

	rec = h.do(t, ada, http.MethodPost, "/admin/intents/"+id+"/paid", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.admin(t, http.MethodPost, "/admin/intents/"+id+"/paid")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "paid", decode(t, rec)["status"])

	rec = h.admin(t, http.MethodPost, "/admin/intents/"+id+"/paid")
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = h.admin(t, http.MethodPost, "/admin/intents/999/paid")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.admin(t, http.MethodGet, "/admin/registrants")
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decode(t, rec)["groups"].([]any)
	require.Len(t, groups, 1)
	g := groups[0].(map[string]any)
	assert.Equal(t, "id:u1", g["key"])
	assert.EqualValues(t, 1, g["count"])
	assert.EqualValues(t, 20000, g["totals"].(map[string]any)["NGN"])

	rec = h.admin(t, http.MethodPost, "/admin/intents/"+id+"/refunded")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "refunded", decode(t, rec)["status"])
}

func TestWizard_IndividualRunOverHTTP(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, ada, http.MethodGet, "/programs/1/wizard", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, ada, http.MethodPost, "/programs/1/wizard/plan", `{"plan_type":"individual"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "filling_head", decode(t, rec)["state"])

	rec = h.do(t, ada, http.MethodPost, "/programs/1/wizard/submit", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["fields"], "name")

	rec = h.do(t, ada, http.MethodPatch, "/programs/1/wizard/answers", `{"answers":{"name":"Ada"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["dirty"])

	rec = h.do(t, ada, http.MethodPost, "/programs/1/wizard/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["dirty"])

	rec = h.do(t, ada, http.MethodPost, "/programs/1/wizard/submit", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode(t, rec)
	assert.Equal(t, "completed", view["state"])
	result := view["result"].(map[string]any)
	assert.EqualValues(t, 20000, result["amount"])
	reviewToken(t, result["redirect_url"].(string))

	var n int64
	require.NoError(t, h.db.Model(&models.Registration{}).Where("is_draft = ?", true).Count(&n).Error)
	assert.Zero(t, n)

	rec = h.do(t, ada, http.MethodPatch, "/programs/1/wizard/answers", `{"answers":{"name":"Late"}}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", decode(t, rec)["code"])

	rec = h.do(t, ada, http.MethodDelete, "/programs/1/wizard", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestWizard_ResumeAndMissingPlan(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.Create(&models.Program{ID: 2, Title: "Unpriced"}).Error)

	rec := h.do(t, ada, http.MethodPost, "/programs/2/wizard/plan", `{"plan_type":"individual"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "PLAN_NOT_FOUND", decode(t, rec)["code"])

	rec = h.do(t, ada, http.MethodPost, "/drafts", `{"program_id":1,"registration_kind":"family-head","family_size":4,
		"draft_data":{"head":{"name":"Ada"},"members":[{"name":"B"},{"name":"C"}]}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, ada, http.MethodPost, "/programs/1/wizard/resume", `{"registration_kind":"family-head"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode(t, rec)
	assert.Equal(t, "filling_member", view["state"])
	assert.EqualValues(t, 1, view["remaining"])
	assert.EqualValues(t, 2, view["members_saved"])
}
