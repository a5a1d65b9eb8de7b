package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Source yields the interpreter to use for the next request.
type Source interface {
	Current() *Interpreter
}

// Current lets a fixed Interpreter act as its own Source.
func (i *Interpreter) Current() *Interpreter {
	if i == nil {
		return DefaultInterpreter()
	}
	return i
}

// RuleSet holds the interpreter built from a rule pack file and swaps it when the
// file changes. A failed reload keeps the previous interpreter.
type RuleSet struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[Interpreter]
}

// NewRuleSet loads the rule pack at path. The initial load must succeed.
func NewRuleSet(path string, logger *slog.Logger) (*RuleSet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rs := &RuleSet{path: path, logger: logger}
	if err := rs.Reload(); err != nil {
		return nil, err
	}
	return rs, nil
}

// Current returns the active interpreter.
func (rs *RuleSet) Current() *Interpreter {
	return rs.current.Load()
}

// Reload re-reads the rule pack and swaps it in on success.
func (rs *RuleSet) Reload() error {
	interp, err := NewInterpreter(rs.path, rs.logger)
	if err != nil {
		return err
	}
	rs.current.Store(interp)
	return nil
}

// Watch reloads the rule pack whenever its file is written, created or renamed
// into place, until ctx is done. The parent directory is watched so editors that
// replace the file atomically are picked up.
func (rs *RuleSet) Watch(ctx context.Context) error {
	if rs.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rule pack watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(rs.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch rule pack directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := rs.Reload(); err != nil {
				rs.logger.Warn("rule pack reload failed; keeping previous rules", slog.String("path", rs.path), slog.Any("error", err))
				continue
			}
			rs.logger.Info("rule pack reloaded", slog.String("path", rs.path))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			rs.logger.Warn("rule pack watcher error", slog.Any("error", err))
		}
	}
}
