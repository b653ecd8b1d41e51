package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voip-billing/internal/alerts"
	"voip-billing/internal/auth"
	"voip-billing/internal/billing"
	"voip-billing/internal/calls"
	"voip-billing/internal/config"
	"voip-billing/internal/dids"
	"voip-billing/internal/httpapi"
	"voip-billing/internal/ledger"
	"voip-billing/internal/monitor"
	"voip-billing/internal/rates"
	"voip-billing/internal/rating"
	"voip-billing/internal/telephony"
	"voip-billing/pkg/logger"
	"voip-billing/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const rateReloadInterval = 5 * time.Minute

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Rate table: Postgres is the source of truth, lookups run against an
	// in-memory snapshot refreshed in the background.
	rateRepo := rates.NewMemoryRepo()
	n, err := rates.Reload(rootCtx, db, rateRepo)
	if err != nil {
		log.Error("rate table load failed", "err", err)
		os.Exit(1)
	}
	log.Info("rate table loaded", "rules", n)
	go reloadRatesLoop(rootCtx, db, rateRepo, logger.Component(log, "rates"))

	ratingCfg, err := buildRatingConfig(cfg.Rating)
	if err != nil {
		log.Error("rating config invalid", "err", err)
		os.Exit(1)
	}
	calc, err := rating.NewCalculator(ratingCfg)
	if err != nil {
		log.Error("calculator init failed", "err", err)
		os.Exit(1)
	}

	ledgerSvc := ledger.NewService(ledger.NewPostgresStore(db))
	sessions := calls.NewMemoryRepo()
	alertSvc := alerts.NewService(alerts.NewMemoryRepo())
	rateSvc := rates.NewService(rateRepo)

	ctl := telephony.NewAsteriskClient(
		cfg.Asterisk.ARIBaseURL,
		cfg.Asterisk.ARIUsername,
		cfg.Asterisk.ARIPassword,
		cfg.Asterisk.Timeout,
	)

	var limiter monitor.SlotLimiter
	if cfg.Billing.MaxCallsPerAccount > 0 {
		limiter = monitor.NewRedisSlotLimiter(rdb, cfg.Billing.MaxCallsPerAccount, 0)
	}

	mgr := monitor.NewManager(rateSvc, calc, ledgerSvc, sessions, ctl, alertSvc, limiter, monitor.Config{
		BalanceCheckInterval:       cfg.Billing.BalanceCheckInterval,
		GracePeriod:                cfg.Billing.GracePeriod,
		AutoTerminateOnZeroBalance: cfg.Billing.AutoTerminateOnZeroBalance,
		TerminateRetries:           cfg.Billing.TerminateRetries,
	}, logger.Component(log, "monitor"))

	didSvc := dids.NewService(dids.NewMemoryRepo(), ledgerSvc, alertSvc, dids.Config{
		MinRefund: cfg.DID.MinRefund,
	}, logger.Component(log, "dids"))
	go renewalLoop(rootCtx, didSvc, cfg.DID.RenewalInterval, logger.Component(log, "dids"))

	billingSvc := billing.NewService(rateSvc, calc, ledgerSvc, sessions, log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{Auth: authManager, Billing: billingSvc, Ledger: ledgerSvc}
	events := httpapi.CallEvents{Monitor: mgr}
	registerRoutes(r, h, events, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Watchers finish their in-flight reconciliation before we exit.
	mgr.Stop()
}

func buildRatingConfig(c config.RatingConfig) (rating.Config, error) {
	out := rating.DefaultConfig()
	out.PrecisionDecimals = int32(c.PrecisionDecimals)

	mode, err := rating.ParseRoundingMode(c.Rounding)
	if err != nil {
		return rating.Config{}, err
	}
	out.Rounding = mode

	if c.PeakBand != "" {
		band, err := rating.ParseTimeband(c.PeakBand)
		if err != nil {
			return rating.Config{}, err
		}
		out.PeakBand = band
	}
	if c.PeakDays != "" {
		mask, err := rating.ParseWeekdayMask(c.PeakDays)
		if err != nil {
			return rating.Config{}, err
		}
		out.PeakDays = mask
	}

	out.PeakMultiplier = c.PeakMultiplier
	out.WeekendMultiplier = c.WeekendMultiplier
	out.HolidayMultiplier = c.HolidayMultiplier

	if len(c.Holidays) > 0 {
		out.Holidays = make(map[string]struct{}, len(c.Holidays))
		for _, d := range c.Holidays {
			out.Holidays[d] = struct{}{}
		}
	}
	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return rating.Config{}, err
		}
		out.Location = loc
	}
	return out, nil
}

// reloadRatesLoop refreshes the in-memory rate snapshot so prefix and price
// changes land without a restart. New calls pick up the new snapshot; live
// calls keep the rate they resolved at admission.
func reloadRatesLoop(ctx context.Context, db *sql.DB, repo *rates.MemoryRepo, log *slog.Logger) {
	ticker := time.NewTicker(rateReloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := rates.Reload(ctx, db, repo)
			if err != nil {
				log.Error("rate table reload failed", "err", err)
				continue
			}
			log.Debug("rate table reloaded", "rules", n)
		}
	}
}

// renewalLoop runs the recurring DID billing sweep.
func renewalLoop(ctx context.Context, svc *dids.Service, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewed, failed, err := svc.RenewDue(ctx, time.Now().UTC())
			if err != nil {
				log.Error("did renewal sweep failed", "err", err)
				continue
			}
			if renewed > 0 || failed > 0 {
				log.Info("did renewal sweep", "renewed", renewed, "failed", failed)
			}
		}
	}
}
