package factory

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"Go2NetKPI/internal/config"
	"Go2NetKPI/internal/logger"
	"Go2NetKPI/internal/model"
)

// RunInfo describes the run a mirror writer is created for.
type RunInfo struct {
	ID       string
	Extended bool
}

// WriterFactory creates a mirror writer from its configuration.
type WriterFactory func(def config.MirrorDef, run RunInfo) (model.Writer, error)

var (
	mu sync.RWMutex
	// registry holds the mapping of mirror types to their factory functions.
	registry = make(map[string]WriterFactory)
)

// RegisterWriter registers a new mirror type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("mirror type '%s' already registered", name))
	}
	registry[name] = factory
}

// Registered reports whether a mirror type is known.
func Registered(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := registry[name]
	return ok
}

// Create builds a writer for every enabled mirror in cfg. On error the
// writers created so far are closed.
func Create(cfg *config.Config, run RunInfo) ([]model.Writer, error) {
	var writers []model.Writer

	for _, def := range cfg.Mirrors {
		if !def.Enabled {
			logger.Debugf("Factory: mirror '%s' disabled, skipping", def.Type)
			continue
		}
		logger.Infof("Factory: creating mirror writer of type '%s'", def.Type)

		mu.RLock()
		factory, ok := registry[def.Type]
		mu.RUnlock()
		if !ok {
			closeAll(writers)
			return nil, errors.Errorf("unknown mirror type: '%s'", def.Type)
		}

		w, err := factory(def, run)
		if err != nil {
			closeAll(writers)
			return nil, errors.Wrapf(err, "error creating mirror type '%s'", def.Type)
		}
		writers = append(writers, w)
	}

	return writers, nil
}

func closeAll(writers []model.Writer) {
	for _, w := range writers {
		if err := w.Close(); err != nil {
			logger.Warnf("Factory: closing %s: %v", w.Name(), err)
		}
	}
}
