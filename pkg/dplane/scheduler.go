package dplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/veesix-networks/dpsync/pkg/component"
	"github.com/veesix-networks/dpsync/pkg/logger"
)

type stage struct {
	provider Provider
	queue    *Queue
}

// Scheduler runs registered providers as a pipeline ordered by priority. An
// operation submitted to the scheduler visits every provider once; the last
// provider's verdict is handed to the results callback.
type Scheduler struct {
	*component.Base

	logger  *slog.Logger
	limit   int
	wake    chan struct{}
	results func(*Operation)
	seq     atomic.Uint64

	mu     sync.RWMutex
	stages []*stage
}

func NewScheduler(workLimit int, results func(*Operation)) *Scheduler {
	return &Scheduler{
		Base:    component.NewBase("dplane"),
		logger:  logger.Get(logger.Dplane),
		limit:   workLimit,
		wake:    make(chan struct{}, 1),
		results: results,
	}
}

func (s *Scheduler) Register(p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &stage{provider: p}
	st.queue = newQueue(s.limit, s.wake, func(op *Operation) { s.forward(st, op) })
	s.stages = append(s.stages, st)
	sort.SliceStable(s.stages, func(i, j int) bool {
		return s.stages[i].provider.Priority() < s.stages[j].provider.Priority()
	})

	s.logger.Info("Registered dataplane provider", "provider", p.Name(), "priority", p.Priority().String())
}

// Submit assigns the next sequence number to a new operation and queues it at
// the head of the pipeline.
func (s *Scheduler) Submit(kind OpKind, operand Operand) (*Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.stages) == 0 {
		return nil, errors.New("no dataplane provider registered")
	}
	op := &Operation{
		Seq:     s.seq.Add(1),
		Kind:    kind,
		Operand: operand,
	}
	s.stages[0].queue.Push(op)
	return op, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.StartContext(ctx)

	s.mu.RLock()
	stages := append([]*stage(nil), s.stages...)
	s.mu.RUnlock()

	for _, st := range stages {
		if err := st.provider.Start(s.Ctx); err != nil {
			return fmt.Errorf("start provider %s: %w", st.provider.Name(), err)
		}
	}

	s.Go(s.run)
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.StopContext()

	s.mu.RLock()
	stages := append([]*stage(nil), s.stages...)
	s.mu.RUnlock()

	var errs []error
	for i := len(stages) - 1; i >= 0; i-- {
		if err := stages[i].provider.Finish(ctx); err != nil {
			errs = append(errs, fmt.Errorf("finish provider %s: %w", stages[i].provider.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) run() {
	for {
		select {
		case <-s.Ctx.Done():
			return
		case <-s.wake:
			s.processAll()
		}
	}
}

func (s *Scheduler) processAll() {
	s.mu.RLock()
	stages := append([]*stage(nil), s.stages...)
	s.mu.RUnlock()

	for _, st := range stages {
		if st.queue.Len() == 0 {
			continue
		}
		if err := st.provider.Process(s.Ctx, st.queue); err != nil {
			s.logger.Warn("Provider processing failed", "provider", st.provider.Name(), "error", err)
		}
	}
}

func (s *Scheduler) forward(from *stage, op *Operation) {
	s.mu.RLock()
	var next *stage
	for i, st := range s.stages {
		if st == from && i+1 < len(s.stages) {
			next = s.stages[i+1]
			break
		}
	}
	s.mu.RUnlock()

	if next != nil {
		next.queue.Push(op)
		return
	}
	if s.results != nil {
		s.results(op)
	}
}
