package component

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/veesix-networks/dpsync/pkg/logger"
)

// Orchestrator starts components in registration order and stops them in
// reverse. A failed start stops whatever already came up.
type Orchestrator struct {
	mu         sync.Mutex
	components []Component
	started    int
}

func NewOrchestrator() *Orchestrator {
	return &Orchestrator{}
}

func (o *Orchestrator) Register(comp Component) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.components = append(o.components, comp)
}

func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	log := logger.Get(logger.Main)
	for _, comp := range o.components[o.started:] {
		if err := comp.Start(ctx); err != nil {
			startErr := fmt.Errorf("failed to start %s: %w", comp.Name(), err)
			if stopErr := o.stopLocked(ctx); stopErr != nil {
				return errors.Join(startErr, stopErr)
			}
			return startErr
		}
		o.started++
		log.Debug("Component started", "component", comp.Name())
	}
	return nil
}

// Stop stops every started component, carrying on past failures.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopLocked(ctx)
}

func (o *Orchestrator) stopLocked(ctx context.Context) error {
	log := logger.Get(logger.Main)

	var errs []error
	for ; o.started > 0; o.started-- {
		comp := o.components[o.started-1]
		if err := comp.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", comp.Name(), err))
			continue
		}
		log.Debug("Component stopped", "component", comp.Name())
	}
	return errors.Join(errs...)
}
