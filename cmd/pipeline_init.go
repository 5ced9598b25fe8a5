package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/billscan/billscan/internal/artifact"
	"github.com/billscan/billscan/internal/calibrate"
	"github.com/billscan/billscan/internal/candidate"
	"github.com/billscan/billscan/internal/engine"
	"github.com/billscan/billscan/internal/pipeline"
	"github.com/billscan/billscan/internal/rules"
	"github.com/billscan/billscan/internal/store"
)

const flushTimeout = 10 * time.Second

// pipelineEnv holds the initialized store, engines, and pipeline needed by
// the process/batch/serve commands.
type pipelineEnv struct {
	Store      store.Store
	Pipeline   *pipeline.Pipeline
	Calibrator *calibrate.Calibrator
	Rules      *rules.Engine // may be nil
}

// Close flushes pending calibration points and releases resources.
func (pe *pipelineEnv) Close() {
	if pe.Calibrator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := pe.Calibrator.Flush(ctx); err != nil {
			zap.L().Warn("flush calibration points", zap.Error(err))
		}
	}
	if pe.Rules != nil {
		_ = pe.Rules.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "billscan.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, artifact store, recognition engine,
// calibrator, rules, and profiles. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	arts, err := artifact.NewFSStore(cfg.Artifacts.Dir)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	eng, err := engine.New(cfg.Engine)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	profiles, err := pipeline.LoadProfiles(cfg.Profiles.Path)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	cal := calibrate.New(cfg.Calibration, st)
	if err := cal.Load(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	// Rules are optional: a missing rules file disables rule evaluation but
	// never blocks the pipeline.
	var ruleEngine *rules.Engine
	if cfg.Rules.Path != "" {
		if _, statErr := os.Stat(cfg.Rules.Path); statErr == nil {
			ruleEngine, err = rules.NewEngine(cfg.Rules)
			if err != nil {
				_ = st.Close()
				return nil, err
			}
		} else {
			zap.L().Warn("rules file not found, rule evaluation disabled",
				zap.String("path", cfg.Rules.Path))
		}
	}

	dicts, err := loadDictionaries()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	p := pipeline.New(cfg, pipeline.Deps{
		Artifacts:  arts,
		Store:      st,
		Engine:     eng,
		Calibrator: cal,
		Rules:      ruleEngine,
		Profiles:   profiles,
		Dicts:      dicts,
	})

	return &pipelineEnv{Store: st, Pipeline: p, Calibrator: cal, Rules: ruleEngine}, nil
}

// loadDictionaries reads the global dictionary plus one per-vendor override
// dictionary per YAML file in the vendor directory, keyed by file basename.
func loadDictionaries() (*candidate.DictionarySet, error) {
	set := &candidate.DictionarySet{ByVendor: make(map[string]candidate.Dictionary)}

	if cfg.Candidates.GlobalDictPath != "" {
		d, err := candidate.LoadDictionary(cfg.Candidates.GlobalDictPath)
		if err != nil {
			return nil, err
		}
		set.Global = d
	}

	if cfg.Candidates.VendorDictDir != "" {
		entries, err := os.ReadDir(cfg.Candidates.VendorDictDir)
		if err != nil {
			if os.IsNotExist(err) {
				return set, nil
			}
			return nil, eris.Wrapf(err, "read vendor dictionary dir %s", cfg.Candidates.VendorDictDir)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".yaml") {
				continue
			}
			d, err := candidate.LoadDictionary(filepath.Join(cfg.Candidates.VendorDictDir, name))
			if err != nil {
				return nil, err
			}
			set.ByVendor[strings.TrimSuffix(name, ".yaml")] = d
		}
	}

	return set, nil
}
