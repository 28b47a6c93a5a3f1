package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ykvlv/fin-assistant-bot/internal/config"
	"github.com/ykvlv/fin-assistant-bot/internal/metrics"
	"github.com/ykvlv/fin-assistant-bot/internal/scheduler"
	"github.com/ykvlv/fin-assistant-bot/internal/store"
	"github.com/ykvlv/fin-assistant-bot/internal/telegram"
)

type App struct {
	cfg      config.Config
	log      *zap.Logger
	bot      *tgbotapi.BotAPI
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	httpSrv  *http.Server
	repo     *store.SQLiteRepo
	pipeline *Pipeline
	router   *telegram.Router
	sched    *scheduler.Scheduler
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &App{cfg: cfg, log: log, bot: bot, registry: reg, metrics: metrics.New(reg)}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting fin-assistant-bot",
		zap.String("bot", a.bot.Self.UserName),
		zap.String("http", a.cfg.HTTPAddr),
	)

	// Open SQLite and run migrations.
	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		a.log.Error("open sqlite failed", zap.Error(err))
		return err
	}
	a.repo = repo
	defer func() { _ = a.repo.Close() }()
	a.log.Info("sqlite ready", zap.String("path", a.cfg.DBPath))

	a.pipeline, err = NewPipeline(ctx, a.cfg, a.log, a.metrics)
	if err != nil {
		a.log.Error("ideas pipeline init failed", zap.Error(err))
		return err
	}
	defer func() { _ = a.pipeline.Close() }()

	planner := scheduler.NewPlanner(a.repo, a.log.Named("planner"))
	a.router = telegram.NewRouter(a.bot, a.log.Named("telegram"), a.repo, planner, a.pipeline.Service, a.cfg.DefaultTZ)
	a.sched = scheduler.New(a.repo, planner, a.router, a.pipeline.Service, a.log.Named("scheduler"), a.metrics, scheduler.Options{
		Interval:    a.cfg.TickInterval,
		Workers:     a.cfg.SchedulerWorkers,
		Batch:       a.cfg.SchedulerBatch,
		RetryBase:   a.cfg.RetryBase,
		RetryMax:    a.cfg.RetryMax,
		MaxAttempts: a.cfg.MaxSendAttempts,
	})

	a.httpSrv = &http.Server{
		Addr:         a.cfg.HTTPAddr,
		Handler:      newOpsHandler(a.repo, a.registry),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.sched.Run(ctx)
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updCh := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")
			a.bot.StopReceivingUpdates()

			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := a.httpSrv.Shutdown(shCtx)
			cancel()
			if err != nil {
				a.log.Warn("http server shutdown error", zap.Error(err))
			}
			wg.Wait()
			a.router.Wait()
			return nil

		case upd := <-updCh:
			a.router.HandleUpdate(ctx, upd)
		}
	}
}
