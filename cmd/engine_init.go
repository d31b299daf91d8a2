package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/dedupe"
	"github.com/sells-group/outreach-engine/internal/executor"
	"github.com/sells-group/outreach-engine/internal/reconcile"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/scheduler"
	"github.com/sells-group/outreach-engine/internal/score"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/pkg/hunter"
	"github.com/sells-group/outreach-engine/pkg/mailer"
)

// engineEnv holds the initialized store and pipeline components shared
// by the run/serve/enroll commands.
type engineEnv struct {
	Store     store.Store
	Dedupe    *dedupe.Index
	Scheduler *scheduler.Scheduler
	Executor  *executor.Executor
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "outreach.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine sets up the store, reconciler, dedupe index, adapters, and
// the scheduler/executor pair. Callers should defer env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	scoreCfg := score.DefaultConfig()
	scoreCfg.Decay.HalfLifeDays = cfg.Score.HalfLifeDays
	scoreCfg.Decay.Floor = cfg.Score.DecayFloor
	scorer := score.New(scoreCfg)

	reconciler := reconcile.New(cfg.Sources.Priority, scorer)
	index := dedupe.NewIndex(st, reconciler)

	registry := executor.NewRegistry()
	if cfg.SMTP.Host != "" {
		registry.RegisterSender("email", mailer.New(mailer.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
		}))
	} else {
		zap.L().Warn("OUTREACH_SMTP_HOST not set, email sends will be recorded only")
		registry.RegisterSender("email", mailer.NewRecorder())
	}
	if cfg.Hunter.Key != "" {
		client := hunter.NewClient(cfg.Hunter.Key, hunter.WithBaseURL(cfg.Hunter.BaseURL))
		registry.RegisterEnricher(hunter.NewEnricher(client))
	} else {
		zap.L().Debug("OUTREACH_HUNTER_KEY not set, enrichment steps will fail")
	}

	limiters := executor.NewChannelLimiters(cfg.RateConfigs(), executor.RateConfig{})
	breakers := resilience.NewChannelBreakers(resilience.CircuitConfig{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		ResetTimeout:     time.Duration(cfg.Circuit.ResetTimeoutSecs) * time.Second,
	})
	backoff := resilience.NewBackoff(resilience.BackoffConfig{
		MaxAttempts:    cfg.Backoff.MaxAttempts,
		InitialBackoff: time.Duration(cfg.Backoff.InitialBackoffSecs) * time.Second,
		MaxBackoff:     time.Duration(cfg.Backoff.MaxBackoffSecs) * time.Second,
		Multiplier:     cfg.Backoff.Multiplier,
		JitterFraction: cfg.Backoff.JitterFraction,
	})

	exec := executor.New(st, registry, limiters, breakers, backoff, index,
		time.Duration(cfg.Scheduler.StepTimeoutSecs)*time.Second)

	sched := scheduler.New(st, exec, scheduler.Config{
		PollInterval: time.Duration(cfg.Scheduler.PollIntervalSecs) * time.Second,
		BatchSize:    cfg.Scheduler.BatchSize,
		Workers:      cfg.Scheduler.Workers,
		StopFields:   cfg.Scheduler.StopFields,
		ClaimLease:   time.Duration(cfg.Scheduler.ClaimLeaseSecs) * time.Second,
	})

	return &engineEnv{
		Store:     st,
		Dedupe:    index,
		Scheduler: sched,
		Executor:  exec,
	}, nil
}
