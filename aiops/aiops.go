/*
 *     Copyright 2023 The Dragonfly Authors
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

package aiops

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"

	"d7y.io/aiops/aiops/artifact"
	"d7y.io/aiops/aiops/config"
	"d7y.io/aiops/aiops/database"
	"d7y.io/aiops/aiops/metrics"
	"d7y.io/aiops/aiops/metricstore"
	"d7y.io/aiops/aiops/registry"
	"d7y.io/aiops/aiops/serving"
	"d7y.io/aiops/aiops/tracker"
	"d7y.io/aiops/aiops/training"
	logger "d7y.io/aiops/internal/dflog"
	"d7y.io/aiops/pkg/dfpath"
	"d7y.io/aiops/pkg/gc"
)

type Server struct {
	// Server configuration.
	config *config.Config

	// Database of tracker and registry.
	database *database.Database

	// Metrics store.
	store metricstore.Store

	// Artifact store.
	artifacts artifact.Store

	// Experiment tracker.
	tracker tracker.Tracker

	// Model registry.
	registry registry.Registry

	// Training pipeline.
	training training.Pipeline

	// Serving service.
	serving serving.Service

	// Metrics server.
	metricsServer *http.Server

	// GC server.
	gc gc.GC

	done     chan struct{}
	stopOnce sync.Once
}

func New(ctx context.Context, cfg *config.Config, d dfpath.Dfpath) (*Server, error) {
	s := &Server{config: cfg, done: make(chan struct{})}

	// Initialize database.
	if cfg.Database.Type == config.DatabaseTypeSqlite && cfg.Database.Sqlite.Path == "" {
		cfg.Database.Sqlite.Path = filepath.Join(d.DataDir(), config.DefaultSqliteFilename)
	}

	db, err := database.New(cfg)
	if err != nil {
		return nil, err
	}
	s.database = db

	// Initialize metrics store.
	s.store, err = metricstore.New(d.MetricsDir(),
		metricstore.WithRawRetention(cfg.Metrics.Retention.Raw),
		metricstore.WithAggregateRetention(cfg.Metrics.Retention.Aggregate),
	)
	if err != nil {
		return nil, err
	}

	// Initialize tracker and registry.
	s.tracker = tracker.New(db.DB)
	s.registry = registry.New(db.DB, s.tracker)

	// Initialize artifact store, registered versions and runs pin their artifacts.
	s.artifacts, err = artifact.New(d.ArtifactDir(), artifact.WithReferenceChecker(s.registry))
	if err != nil {
		return nil, err
	}

	// Initialize training pipeline.
	s.training, err = training.New(cfg, s.store, s.artifacts, s.tracker, s.registry)
	if err != nil {
		return nil, err
	}

	// Initialize serving service.
	s.serving = serving.New(cfg, s.registry, s.artifacts, s.store)

	// Initialize GC.
	s.gc, err = gc.New(
		gc.WithLogger(logger.GCLogger),
		gc.WithInterval(cfg.GC.Interval),
		gc.WithTimeout(cfg.GC.Timeout),
	)
	if err != nil {
		return nil, err
	}
	s.gc.Add(metricstore.RetentionGCID, metricstore.NewRetentionTask(s.store))
	s.gc.Add(metricstore.RollupFlushGCID, metricstore.NewFlushTask(s.store))

	// Initialize metrics.
	if cfg.Prometheus.Enable {
		s.metricsServer = metrics.New(&cfg.Prometheus)
	}

	return s, nil
}

// Store returns the metrics store.
func (s *Server) Store() metricstore.Store {
	return s.store
}

// Training returns the training pipeline.
func (s *Server) Training() training.Pipeline {
	return s.training
}

// Serving returns the serving service.
func (s *Server) Serving() serving.Service {
	return s.serving
}

// Registry returns the model registry.
func (s *Server) Registry() registry.Registry {
	return s.registry
}

// GC returns the maintenance tasks.
func (s *Server) GC() gc.GC {
	return s.gc
}

// Serve starts maintenance and the metrics server, and blocks until Stop.
func (s *Server) Serve() error {
	// Serve GC.
	s.gc.Serve()
	logger.Info("gc start successfully")

	// Started metrics server.
	if s.metricsServer != nil {
		go func() {
			logger.Infof("started metrics server at %s", s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); err != nil {
				if err == http.ErrServerClosed {
					return
				}

				logger.Fatalf("metrics server closed unexpect: %s", err.Error())
			}
		}()
	}

	<-s.done
	return nil
}

func (s *Server) Stop() {
	s.stopOnce.Do(s.stop)
}

func (s *Server) stop() {
	defer close(s.done)

	// Stop GC.
	s.gc.Stop()
	logger.Info("gc closed")

	// Stop metrics server.
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(context.Background()); err != nil {
			logger.Errorf("metrics server failed to stop: %s", err.Error())
		}
		logger.Info("metrics server closed under request")
	}

	s.Close()
}

// Close drains serving write-backs and releases the stores without touching
// the background servers.
func (s *Server) Close() {
	s.serving.Stop()
	logger.Info("serving closed")

	if err := s.store.Close(); err != nil {
		logger.Errorf("metrics store failed to close: %s", err.Error())
	}
	logger.Info("metrics store closed")

	if err := s.database.Close(); err != nil {
		logger.Errorf("database failed to close: %s", err.Error())
	}
	logger.Info("database closed")
}
