package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ducminhle1904/crypto-signal-bot/cmd/common"
	"github.com/ducminhle1904/crypto-signal-bot/internal/config"
	boterrors "github.com/ducminhle1904/crypto-signal-bot/internal/errors"
	"github.com/ducminhle1904/crypto-signal-bot/internal/events"
	"github.com/ducminhle1904/crypto-signal-bot/internal/exchange"
	"github.com/ducminhle1904/crypto-signal-bot/internal/exchange/adapters"
	"github.com/ducminhle1904/crypto-signal-bot/internal/exchange/paper"
	"github.com/ducminhle1904/crypto-signal-bot/internal/execution"
	"github.com/ducminhle1904/crypto-signal-bot/internal/intake"
	"github.com/ducminhle1904/crypto-signal-bot/internal/integrator"
	"github.com/ducminhle1904/crypto-signal-bot/internal/logger"
	"github.com/ducminhle1904/crypto-signal-bot/internal/monitoring"
	"github.com/ducminhle1904/crypto-signal-bot/internal/notifications"
	"github.com/ducminhle1904/crypto-signal-bot/internal/pipeline"
	"github.com/ducminhle1904/crypto-signal-bot/internal/risk"
	"github.com/ducminhle1904/crypto-signal-bot/internal/signals"
	"github.com/ducminhle1904/crypto-signal-bot/internal/store"
	"github.com/ducminhle1904/crypto-signal-bot/pkg/reporting"
)

// app owns every long-lived component of a run
type app struct {
	cfg *config.Config
	log zerolog.Logger

	gateway   exchange.Gateway
	paper     *paper.Exchange // set in dry-run mode
	health    *monitoring.HealthChecker
	risk      *risk.Manager
	executor  *execution.Executor
	store     *store.Store
	publisher *events.Publisher
	notifier  notifications.Notifier
	pipeline  *pipeline.Pipeline
	runner    *pipeline.Runner
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, log: logger.Component("app")}

	gw, err := adapters.NewFactory().CreateExchange(cfg.Exchange)
	if err != nil {
		return nil, boterrors.WrapError(err, boterrors.ErrorCategoryConfiguration, "app", "create_exchange")
	}
	a.gateway = gw
	if p, ok := gw.(*paper.Exchange); ok {
		a.paper = p
	}

	balance := cfg.Account.InitialBalance
	if balance <= 0 {
		callCtx, cancel := context.WithTimeout(ctx, cfg.Execution.CallTimeout())
		balance, err = gw.FetchBalance(callCtx, cfg.Account.QuoteAsset)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s balance: %w", cfg.Account.QuoteAsset, err)
		}
	}
	if balance <= 0 {
		return nil, boterrors.NewBalanceInsufficientError("app", "initial_balance",
			fmt.Sprintf("no %s available to trade", cfg.Account.QuoteAsset))
	}

	a.health = monitoring.NewHealthChecker(cfg.Monitoring.StaleAfter())
	a.risk = risk.NewManager(cfg.Risk, balance)
	a.executor, err = execution.NewExecutor(gw, cfg.Execution, execution.WithHealth(a.health))
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Integrator: integrator.New(cfg.Integrator, signals.NewValidator(cfg.Signals)),
		Risk:       a.risk,
		Executor:   a.executor,
		Health:     a.health,
	}

	if cfg.Store.Enabled {
		if a.store, err = store.Open(cfg.Store); err != nil {
			a.close()
			return nil, err
		}
		deps.Recorder = a.store
	}
	if cfg.Events.Enabled {
		if a.publisher, err = events.Connect(cfg.Events); err != nil {
			a.close()
			return nil, err
		}
		deps.Events = a.publisher
	}
	a.notifier = notifications.New(cfg.Notifications)
	deps.Notifier = a.notifier

	a.pipeline = pipeline.New(deps, cfg.Pipeline)
	if a.runner, err = pipeline.NewRunner(a.pipeline, cfg.Pipeline.Workers); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// submit hands one decoded signal to the runner. In dry-run mode the paper
// book follows the signal's entry price so market entries can fill.
func (a *app) submit(ctx context.Context, req pipeline.Request) error {
	if a.paper != nil && req.EntryPrice > 0 {
		a.paper.SetPrice(req.Symbol, req.EntryPrice)
	}
	if req.EntryPrice > 0 {
		a.pipeline.MarkPrice(ctx, req.Symbol, req.EntryPrice)
	}
	return a.runner.Submit(ctx, req, a.logDecision)
}

func (a *app) logDecision(d *pipeline.Decision, err error) {
	if d == nil {
		a.log.Error().Err(err).Msg("evaluation aborted")
		return
	}
	ev := a.log.Info()
	if err != nil && !boterrors.IsCategory(err, boterrors.ErrorCategoryRiskRejected) {
		ev = a.log.Warn().Err(err)
	}
	ev = ev.Str("symbol", d.Symbol).Str("stage", string(d.Stage)).Str("outcome", string(d.Outcome))
	if d.Reason != "" {
		ev = ev.Str("reason", d.Reason)
	}
	if d.Order != nil {
		ev = ev.Str("order_id", d.Order.ID).Str("protection", string(d.Order.Protection))
	}
	ev.Msg("decision")
}

// run serves until ctx ends. With once set and a signal file configured it
// returns after the file is processed and one monitor pass has settled orders.
func (a *app) run(ctx context.Context, once bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if a.cfg.Monitoring.Addr != "" {
		srv := monitoring.NewServer(a.cfg.Monitoring.Addr, a.health)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				a.log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.executor.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error().Err(err).Msg("order monitor stopped")
		}
	}()
	defer wg.Wait()
	defer cancel()

	switch {
	case a.cfg.Intake.File != "":
		st, err := intake.ReadFile(ctx, a.cfg.Intake.File, a.submit)
		if err != nil {
			return fmt.Errorf("failed to read signals: %w", err)
		}
		a.runner.Wait()
		a.executor.PollOnce(ctx)
		a.log.Info().Int("accepted", st.Accepted).Int("invalid", st.Invalid).Msg("signal file done")
		if once {
			return nil
		}
	case a.cfg.Intake.Kafka.Enabled:
		consumer, err := intake.NewConsumer(a.cfg.Intake.Kafka, a.submit)
		if err != nil {
			return err
		}
		defer consumer.Close()
		if err := consumer.Start(ctx); err != nil {
			return err
		}
	default:
		a.log.Warn().Msg("no signal intake configured, only monitoring open orders")
	}

	<-ctx.Done()
	a.log.Info().Msg("shutdown signal received")
	return nil
}

// close releases components in reverse dependency order
func (a *app) close() {
	if a.runner != nil {
		a.runner.Close()
	}
	if a.executor != nil {
		a.executor.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close event publisher")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		}
	}
}

func (a *app) printStartupInfo(w io.Writer) {
	intakeSource := "none"
	switch {
	case a.cfg.Intake.File != "":
		intakeSource = "file " + a.cfg.Intake.File
	case a.cfg.Intake.Kafka.Enabled:
		intakeSource = "kafka " + a.cfg.Intake.Kafka.Topic
	}
	stats := a.risk.PortfolioStats()
	reporting.PrintKeyValues(w, "BOT INITIALIZATION", [][2]string{
		{"Version", common.GetFullVersion()},
		{"Exchange", a.gateway.Name()},
		{"Balance", fmt.Sprintf("%.2f %s", stats.Balance, a.cfg.Account.QuoteAsset)},
		{"Max risk/trade", fmt.Sprintf("%.2f%%", a.cfg.Risk.MaxRiskPerTrade*100)},
		{"Max positions", fmt.Sprintf("%d", a.cfg.Risk.MaxPositions)},
		{"Entry type", string(a.cfg.Pipeline.OrderType)},
		{"Intake", intakeSource},
		{"Store", storeLabel(a.cfg.Store)},
		{"Poll interval", a.cfg.Execution.PollInterval().String()},
		{"Started", time.Now().Format(logger.TimeFormat)},
	})
}

func storeLabel(cfg store.Config) string {
	if !cfg.Enabled {
		return "disabled"
	}
	return cfg.Driver + " " + cfg.DSN
}
