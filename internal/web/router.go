package web

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/lojf/academy/internal/config"
	"github.com/lojf/academy/internal/drafts"
	"github.com/lojf/academy/internal/formschema"
	"github.com/lojf/academy/internal/handlers"
	"github.com/lojf/academy/internal/ledger"
	"github.com/lojf/academy/internal/logger"
	"github.com/lojf/academy/internal/reconcile"
	"github.com/lojf/academy/internal/services"
	"github.com/lojf/academy/internal/wizard"
)

//go:embed templates
var templateFS embed.FS

// Deps are the components the HTTP surface is wired to.
type Deps struct {
	DB         *gorm.DB
	Checkout   *services.Checkout
	Drafts     *drafts.Store
	Ledger     *ledger.Ledger
	Schemas    *formschema.Store
	Reporter   *reconcile.Reporter
	Wizards    *wizard.Registry
	Identity   config.IdentityConfig
	AdminToken string
	BaseURL    string
	Logger     logger.Logger
}

func Router(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(handlers.Identify(d.Identity))

	tmpl := mustParseTemplates()

	r.Get("/healthz", handlers.Health(d.DB))
	r.Handle("/metrics", promhttp.Handler())

	// Anonymous callers get an empty list.
	r.Get("/drafts", handlers.ListDrafts(d.Drafts, log))

	// Writing drafts and the wizard need an account; the identity provider supplies it.
	r.Group(func(ar chi.Router) {
		ar.Use(handlers.RequireAccount)

		ar.Post("/drafts", handlers.SaveDraft(d.Drafts, log))
		ar.Put("/drafts", handlers.FinalizeDraft(d.Checkout, log))
		ar.Delete("/drafts", handlers.DeleteDraft(d.Drafts, log))

		ar.Post("/registrations/complete", handlers.CompleteRegistration(d.Checkout, log))

		wz := handlers.NewWizard(d.Wizards, log)
		ar.Route("/programs/{id}/wizard", func(wr chi.Router) {
			wr.Get("/", wz.Show)
			wr.Delete("/", wz.Close)
			wr.Post("/plan", wz.ChoosePlan)
			wr.Post("/resume", wz.Resume)
			wr.Patch("/answers", wz.Answer)
			wr.Post("/submit", wz.Submit)
			wr.Post("/pause", wz.Pause)
		})
	})

	r.Get("/programs/{id}/schema", handlers.ProgramSchema(d.Schemas, log))

	// Payments accept an email-only principal as well.
	r.Route("/payments", func(pr chi.Router) {
		pr.With(handlers.RequireIdentity).Post("/intents", handlers.CreateIntent(d.Checkout, log))
		pr.With(handlers.RequireIdentity).Post("/summary", handlers.PaymentSummary(d.Checkout, log))

		// The review token is the credential here, so the page works when opened on another device.
		pr.Get("/review", handlers.PaymentReview(d.Checkout, tmpl, log))
		pr.Get("/review/qr.png", handlers.ReviewQR(d.Checkout, d.BaseURL, log))
		pr.Post("/initiate", handlers.PaymentInitiate(d.Checkout, tmpl, log))
		pr.Get("/complete", handlers.PaymentReturn(tmpl, log))
	})

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(handlers.RequireAdmin(d.AdminToken))
		ar.Post("/intents/{id}/paid", handlers.AdminMarkPaid(d.Ledger, log))
		ar.Post("/intents/{id}/refunded", handlers.AdminMarkRefunded(d.Ledger, log))
		ar.Get("/registrants", handlers.AdminRegistrants(d.Reporter, log))
	})

	return r
}

func mustParseTemplates() *template.Template {
	funcs := template.FuncMap{
		"year": func() string { return time.Now().Format("2006") },
	}
	p := template.New("").Funcs(funcs)
	p = template.Must(p.ParseFS(templateFS, "templates/partials/*.tmpl"))
	p = template.Must(p.ParseFS(templateFS, "templates/pages/*.tmpl"))
	return p
}

// requestLogger writes one structured line per request.
func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request", map[string]interface{}{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      ww.Status(),
					"bytes":       ww.BytesWritten(),
					"duration_ms": time.Since(start).Milliseconds(),
					"request_id":  middleware.GetReqID(r.Context()),
				})
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
