package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/topolens/verity/internal/accuracy"
	"github.com/topolens/verity/internal/calibration"
	"github.com/topolens/verity/internal/config"
	"github.com/topolens/verity/internal/decay"
	"github.com/topolens/verity/internal/fusion"
	"github.com/topolens/verity/internal/ledger"
	"github.com/topolens/verity/internal/locks"
	"github.com/topolens/verity/internal/source"
	"github.com/topolens/verity/internal/store"
)

// env wires the engines every command runs against.
type env struct {
	Store       store.Store
	Fusion      *fusion.Engine
	Decay       *decay.Engine
	Ledger      *ledger.Ledger
	Health      source.HealthSource
	Accuracy    *accuracy.Calculator
	Calibration *calibration.Engine
}

func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	registry := source.NewRegistryFromConfig(cfg.Sources)
	lk := locks.NewPerKey()

	return &env{
		Store:       st,
		Fusion:      fusion.NewEngine(st, registry, cfg.Fusion, lk),
		Decay:       decay.New(st, cfg.Fusion, cfg.Decay, lk),
		Ledger:      ledger.New(st, cfg.Validation),
		Health:      source.NewHealthSource(cfg.Health),
		Accuracy:    accuracy.NewCalculator(st),
		Calibration: calibration.New(st, cfg.Calibration),
	}, nil
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func openStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "sqlite", "":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "store ping")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "store migrate")
	}
	return st, nil
}

func fusionConfig(policyPath string) (config.FusionConfig, error) {
	if policyPath == "" {
		return cfg.Fusion, nil
	}
	return fusion.LoadPolicy(policyPath, cfg.Fusion)
}
