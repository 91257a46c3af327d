// Package logging holds the process-wide zap logger. Packages log through
// L() with a bracketed component prefix, e.g. L().Infof("[Node] ...").
package logging

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	mu   sync.RWMutex
	base = zap.NewNop().Sugar()
)

// Init builds the logger for the given level and installs it globally.
// "debug" selects the development encoder; anything else uses the JSON
// production encoder at that level (default info).
func Init(level string) (*zap.SugaredLogger, error) {
	level = strings.ToLower(strings.TrimSpace(level))

	var (
		logger *zap.Logger
		err    error
	)
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		if level != "" {
			lvl, perr := zap.ParseAtomicLevel(level)
			if perr != nil {
				return nil, perr
			}
			cfg.Level = lvl
		}
		logger, err = cfg.Build()
	}
	if err != nil {
		return nil, err
	}

	s := logger.Sugar()
	Set(s)
	return s, nil
}

// Set replaces the global logger. Tests use it to install zaptest loggers.
func Set(s *zap.SugaredLogger) {
	mu.Lock()
	base = s
	mu.Unlock()
}

// L returns the global logger; a no-op logger until Init or Set is called.
func L() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Sync flushes buffered entries.
func Sync() {
	_ = L().Sync()
}
