package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/lottery-ticket-reservation/internal/config"
	"github.com/iliyamo/lottery-ticket-reservation/internal/database"
	"github.com/iliyamo/lottery-ticket-reservation/internal/handler"
	"github.com/iliyamo/lottery-ticket-reservation/internal/logging"
	"github.com/iliyamo/lottery-ticket-reservation/internal/middleware"
	"github.com/iliyamo/lottery-ticket-reservation/internal/queue"
	"github.com/iliyamo/lottery-ticket-reservation/internal/repository"
	"github.com/iliyamo/lottery-ticket-reservation/internal/router"
	"github.com/iliyamo/lottery-ticket-reservation/internal/service"
	"github.com/iliyamo/lottery-ticket-reservation/internal/session"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logrus.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()
	if err := database.EnsureSchema(ctx, db); err != nil {
		logrus.WithError(err).Fatal("schema setup failed")
	}

	store := repository.NewMySQLStore(db)
	users := repository.NewUserRepo(store.DB())
	tokens := repository.NewTokenRepo(store.DB())

	rdb := config.NewRedisClient()
	var sessions session.Store = session.NewMemoryStore()
	if rdb != nil {
		defer rdb.Close()
		sessions = session.NewRedisStore(rdb, cfg.SessionTTL)
	}

	var audit service.AuditPublisher = service.NopPublisher{}
	if cfg.AuditEnabled {
		pub := service.NewAMQPPublisher(cfg.AMQPURL, cfg.AuditQueue)
		defer pub.Close()
		audit = pub
	}

	orders := service.NewOrderManager(store, service.Options{
		HoldTTL:   cfg.HoldTTL,
		ReviewTTL: cfg.ReviewTTL,
		PriceEach: cfg.PriceEach,
		PageSize:  cfg.PageSize,
		Audit:     audit,
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLogger())
	router.Register(e, router.Handlers{
		Health:  handler.Health(db),
		Auth:    handler.NewAuthHandler(cfg, users, tokens, sessions),
		Cart:    handler.NewCartHandler(orders, sessions),
		Orders:  handler.NewOrderHandler(orders),
		Tickets: handler.NewTicketHandler(orders),
		Users:   handler.NewUserAdminHandler(users, cfg.PageSize, cfg.BcryptCost),
	}, cfg.JWTSecret, middleware.RateLimit(config.LoadRateLimitConfig(), rdb))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := ":" + cfg.Port
		logrus.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if cfg.PruneEnabled {
		pruner := service.NewPruner(store, cfg.PruneInterval, nil, audit)
		g.Go(func() error { return pruner.Run(ctx) })
	}

	if cfg.AuditEnabled && cfg.AuditConsumerEnabled {
		consumer := queue.AuditConsumer{URL: cfg.AMQPURL, Queue: cfg.AuditQueue, LogPath: cfg.AuditLogPath}
		g.Go(func() error { return consumer.Run(ctx) })
	}

	if err := g.Wait(); err != nil {
		logrus.WithError(err).Fatal("server stopped")
	}
	logrus.Info("shutdown complete")
}
