package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lojf/academy/internal/config"
	"github.com/lojf/academy/internal/db"
	"github.com/lojf/academy/internal/drafts"
	"github.com/lojf/academy/internal/formschema"
	"github.com/lojf/academy/internal/gateway"
	"github.com/lojf/academy/internal/identity"
	"github.com/lojf/academy/internal/ledger"
	"github.com/lojf/academy/internal/logger"
	"github.com/lojf/academy/internal/pricing"
	"github.com/lojf/academy/internal/reconcile"
	"github.com/lojf/academy/internal/services"
	"github.com/lojf/academy/internal/token"
	"github.com/lojf/academy/internal/web"
	"github.com/lojf/academy/internal/wizard"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("info", "console")
		boot.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	if !identity.SetCountryCode(cfg.Identity.PhoneCountryCode) {
		log.Warn("ignoring bad phone country code", map[string]interface{}{
			"value": cfg.Identity.PhoneCountryCode, "using": identity.CountryCode(),
		})
	}

	if err := db.Init(cfg.Database, log); err != nil {
		zapLog.Fatal("db init failed", zap.Error(err))
	}
	conn := db.Conn()

	var cache *redis.Client
	if cfg.Redis.Address != "" {
		cache = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer cache.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := cache.Ping(pingCtx).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable, schema reads go to the database", map[string]interface{}{"address": cfg.Redis.Address})
		}
		cancel()
	}

	guard, err := token.NewGuard(cfg.Token.Secret, time.Duration(cfg.Token.TTL)*time.Second)
	if err != nil {
		zapLog.Fatal("token guard", zap.Error(err))
	}

	engine := pricing.NewEngine(conn, cfg.Pricing.FamilyDiscount)
	draftStore := drafts.NewStore(conn)
	intents := ledger.New(conn, engine)
	schemas := formschema.NewStore(conn, cache, time.Duration(cfg.Redis.SchemaTTL)*time.Second, log)

	checkout := services.NewCheckout(services.Deps{
		DB:          conn,
		Drafts:      draftStore,
		Ledger:      intents,
		Pricing:     engine,
		Schemas:     schemas,
		Guard:       guard,
		Gateway:     gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey, config.GetDuration(cfg.Gateway.Timeout)),
		RedirectURL: cfg.Gateway.RedirectURL,
		Logger:      log,
	})
	wizards := wizard.NewRegistry(checkout, wizard.Options{
		AutosaveDelay: config.GetDuration(cfg.Wizard.AutosaveDelay),
		Logger:        log,
	})
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	wizards.StartSweeper(sweepCtx,
		time.Duration(cfg.Wizard.SweepInterval)*time.Second,
		time.Duration(cfg.Wizard.SessionIdle)*time.Second)

	r := web.Router(web.Deps{
		DB:         conn,
		Checkout:   checkout,
		Drafts:     draftStore,
		Ledger:     intents,
		Schemas:    schemas,
		Reporter:   reconcile.NewReporter(intents, log),
		Wizards:    wizards,
		Identity:   cfg.Identity,
		AdminToken: cfg.Admin.Token,
		BaseURL:    cfg.App.BaseURL,
		Logger:     log,
	})

	srv := &http.Server{
		Addr:         cfg.App.Addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("academy listening", map[string]interface{}{"addr": cfg.App.Addr, "env": cfg.App.Environment})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("graceful shutdown failed", nil)
	}
	stopSweep()
	// unsaved wizard edits get one last write
	wizards.FlushAll(ctx)
	log.Info("server stopped", nil)
}
