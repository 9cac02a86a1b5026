/*
 *     Copyright 2020 The Dragonfly Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

//go:generate mockgen -destination mocks/gc_mock.go -source gc.go -package mocks

package gc

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Task is a periodic maintenance job, like sweeping expired metrics.
type Task interface {
	// RunGC runs the task until done or ctx expires.
	RunGC(ctx context.Context) error
}

// GC is the interface used for running maintenance tasks periodically.
type GC interface {
	// Add adds GC task.
	Add(string, Task)

	// Run runs the GC task synchronously.
	Run(context.Context, string) error

	// RunAll runs all registered GC tasks synchronously.
	RunAll(context.Context)

	// Serve runs the GC tasks every interval.
	Serve()

	// Stop stops running the GC tasks.
	Stop()
}

type gc struct {
	tasks    *sync.Map
	interval time.Duration
	timeout  time.Duration
	logger   Logger
	done     chan struct{}
	stopOnce sync.Once
}

// Option is a functional option for configuring the GC.
type Option func(g *gc)

// WithInterval set the interval for GC collection.
func WithInterval(interval time.Duration) Option {
	return func(g *gc) {
		g.interval = interval
	}
}

// WithTimeout set the timeout for GC collection.
func WithTimeout(timeout time.Duration) Option {
	return func(g *gc) {
		g.timeout = timeout
	}
}

// WithLogger set the logger for GC.
func WithLogger(logger Logger) Option {
	return func(g *gc) {
		g.logger = logger
	}
}

// New returns a new GC instance.
func New(options ...Option) (GC, error) {
	g := &gc{
		tasks:  &sync.Map{},
		done:   make(chan struct{}),
		logger: &gcLogger{},
	}

	for _, opt := range options {
		opt(g)
	}

	if err := g.validate(); err != nil {
		return nil, err
	}

	return g, nil
}

func (g *gc) Add(k string, t Task) {
	g.tasks.Store(k, t)
}

func (g *gc) Run(ctx context.Context, k string) error {
	v, ok := g.tasks.Load(k)
	if !ok {
		return errors.New("can not find the task")
	}

	return g.run(ctx, k, v.(Task))
}

func (g *gc) RunAll(ctx context.Context) {
	g.runAll(ctx)
}

func (g *gc) Serve() {
	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		tick := time.NewTicker(g.interval)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				g.runAll(ctx)
			case <-g.done:
				g.logger.Infof("GC stop")
				return
			}
		}
	}()
}

func (g *gc) Stop() {
	g.stopOnce.Do(func() {
		close(g.done)
	})
}

func (g *gc) validate() error {
	if g.interval <= 0 {
		return errors.New("interval value is greater than 0")
	}

	if g.timeout >= g.interval {
		return errors.New("timeout value needs to be less than the interval value")
	}

	return nil
}

func (g *gc) runAll(ctx context.Context) {
	var wg sync.WaitGroup
	g.tasks.Range(func(k, v any) bool {
		wg.Add(1)
		go func(k string, t Task) {
			defer wg.Done()
			if err := g.run(ctx, k, t); err != nil {
				g.logger.Errorf("%s GC error: %v", k, err)
			}
		}(k.(string), v.(Task))
		return true
	})
	wg.Wait()
}

func (g *gc) run(ctx context.Context, k string, t Task) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	g.logger.Infof("%s GC start", k)
	if err := t.RunGC(ctx); err != nil {
		return err
	}

	g.logger.Infof("%s GC done", k)
	return nil
}
