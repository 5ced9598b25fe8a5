package rules

import (
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/expr-lang/expr"
	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/billscan/billscan/internal/config"
)

const reloadDebounce = 250 * time.Millisecond

// Engine holds the active compiled ruleset and optionally watches the rule
// file, swapping in a new set when it changes. A reload that fails to parse
// or compile keeps the previous set active.
type Engine struct {
	cfg     config.RulesConfig
	set     atomic.Pointer[Set]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewEngine loads and compiles the rule file and, when hot reload is
// enabled, starts watching it.
func NewEngine(cfg config.RulesConfig) (*Engine, error) {
	set, err := LoadSet(cfg.Path)
	if err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, done: make(chan struct{})}
	e.set.Store(set)

	if cfg.HotReload {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, eris.Wrap(err, "rules: create watcher")
		}
		// Watch the directory: editors replace files on save, which drops
		// a watch on the file itself.
		if err := w.Add(filepath.Dir(cfg.Path)); err != nil {
			w.Close()
			return nil, eris.Wrapf(err, "rules: watch %s", filepath.Dir(cfg.Path))
		}
		e.watcher = w
		go e.watch()
	}
	return e, nil
}

// Active returns the current ruleset.
func (e *Engine) Active() *Set { return e.set.Load() }

// Close stops the file watcher.
func (e *Engine) Close() error {
	close(e.done)
	if e.watcher != nil {
		return e.watcher.Close()
	}
	return nil
}

func (e *Engine) watch() {
	var pending *time.Timer
	target := filepath.Clean(e.cfg.Path)
	for {
		select {
		case <-e.done:
			return
		case ev, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Debounce: editors fire several events per save.
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDebounce, e.reload)
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			zap.L().Warn("rule watcher error", zap.Error(err))
		}
	}
}

func (e *Engine) reload() {
	set, err := LoadSet(e.cfg.Path)
	if err != nil {
		zap.L().Error("rule reload failed, keeping previous set", zap.Error(err))
		return
	}
	e.set.Store(set)
	zap.L().Info("rules reloaded",
		zap.String("path", e.cfg.Path),
		zap.Int("rules", len(set.Rules)))
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadSet parses and compiles the YAML rule file. Expr rules compile once
// here; a compile failure rejects the whole file.
func LoadSet(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read %s", path)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, eris.Wrapf(err, "rules: parse %s", path)
	}

	for i := range rf.Rules {
		r := &rf.Rules[i]
		if r.Name == "" {
			return nil, eris.Errorf("rules: rule %d has no name", i)
		}
		switch r.Kind {
		case KindArithmeticBalance, KindDateNotFuture, KindRequiredPresent:
		case KindFieldFormat:
			if r.Field == "" || r.Pattern == "" {
				return nil, eris.Errorf("rules: %s needs field and pattern", r.Name)
			}
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, eris.Wrapf(err, "rules: %s pattern", r.Name)
			}
			r.re = re
		case KindExpr:
			if r.Expr == "" {
				return nil, eris.Errorf("rules: %s needs an expression", r.Name)
			}
			program, err := expr.Compile(r.Expr, expr.AllowUndefinedVariables())
			if err != nil {
				return nil, eris.Wrapf(err, "rules: %s compile", r.Name)
			}
			r.program = program
		default:
			return nil, eris.Errorf("rules: %s has unknown kind %q", r.Name, r.Kind)
		}
	}
	return &Set{Rules: rf.Rules}, nil
}
