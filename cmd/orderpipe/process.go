package main

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

/*
process tracks what run started:
  - goroutines that must exit before shutdown completes
  - stop hooks, run in reverse order once the context ends
  - closers for clients and files, run after every goroutine returned
*/
type process struct {
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	wg      sync.WaitGroup
	once    sync.Once
	errs    chan error
	stops   []func()
	closers []func() error
}

func newProcess(parent context.Context, log *zap.Logger) *process {
	ctx, cancel := context.WithCancel(parent)
	return &process{log: log, ctx: ctx, cancel: cancel, errs: make(chan error, 16)}
}

func (p *process) goRun(name string, fn func(ctx context.Context) error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := fn(p.ctx); err != nil {
			select {
			case p.errs <- fmt.Errorf("%s: %w", name, err):
			default:
			}
		}
	}()
}

func (p *process) onStop(fn func()) { p.stops = append(p.stops, fn) }

func (p *process) onClose(fn func() error) { p.closers = append(p.closers, fn) }

// wait blocks until ctx ends or a component fails, then stops everything.
func (p *process) wait(ctx context.Context) error {
	var err error
	select {
	case <-ctx.Done():
		p.log.Info("shutting down")
	case err = <-p.errs:
		p.log.Error("component failed, shutting down", zap.Error(err))
	}

	p.shutdown()
	return err
}

func (p *process) shutdown() {
	p.once.Do(func() {
		p.cancel()
		for i := len(p.stops) - 1; i >= 0; i-- {
			p.stops[i]()
		}
	})
}

// close stops anything still running, waits for every goroutine and only
// then releases clients, so no handler touches a closed client.
func (p *process) close() {
	p.shutdown()
	p.wg.Wait()
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			p.log.Warn("close failed", zap.Error(err))
		}
	}
	p.closers = nil
}
