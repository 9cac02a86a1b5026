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

//go:generate mockgen -destination mocks/training_mock.go -source training.go -package mocks

package training

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shirou/gopsutil/v3/cpu"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"d7y.io/aiops/aiops/artifact"
	"d7y.io/aiops/aiops/config"
	"d7y.io/aiops/aiops/metrics"
	"d7y.io/aiops/aiops/metricstore"
	"d7y.io/aiops/aiops/model"
	"d7y.io/aiops/aiops/models"
	"d7y.io/aiops/aiops/registry"
	"d7y.io/aiops/aiops/tracker"
	"d7y.io/aiops/internal/dferrors"
	logger "d7y.io/aiops/internal/dflog"
	dfsync "d7y.io/aiops/pkg/sync"
)

const (
	// TagName is the run tag holding the model name.
	TagName = "name"

	// TagStep is the run tag holding the step a failed run stopped in.
	TagStep = "step"

	// MetricTrainRows is the number of rows the model was fitted on.
	MetricTrainRows = "train_rows"

	// MetricValidationRows is the number of rows the model was evaluated on.
	MetricValidationRows = "validation_rows"

	// finalizeTimeout bounds finalizing a failed run after its context expired.
	finalizeTimeout = 10 * time.Second
)

var tracer = otel.Tracer("aiops-training")

var validate = validator.New()

// Request is one training invocation.
type Request struct {
	// Kind is the model kind to train.
	Kind model.Kind `validate:"required"`

	// Name is the registered model name, runs are serialized per name.
	Name string `validate:"required,max=256"`

	// Experiment groups runs, it defaults to Name.
	Experiment string `validate:"max=256"`

	// Source filters the training rows by source, empty means all sources.
	Source string

	// Since is the inclusive lower bound of the training window.
	Since time.Time `validate:"required"`

	// Until is the exclusive upper bound of the training window.
	Until time.Time `validate:"required,gtfield=Since"`

	// Hyperparameters overlay the defaults.
	Hyperparameters map[string]string

	// AutoRegister registers a new version of Name on success.
	AutoRegister bool
}

// Result is the outcome of a training invocation.
type Result struct {
	// RunID is set as soon as the run is opened, failed runs included.
	RunID string `yaml:"run_id"`

	// Status is the terminal run status.
	Status string `yaml:"status"`

	// Version is the registered version, zero when not registered.
	Version int `yaml:"version,omitempty"`

	// Metrics are the evaluation metrics of succeeded runs.
	Metrics map[string]float64 `yaml:"metrics,omitempty"`

	// ArtifactDigest is the digest of the persisted model.
	ArtifactDigest string `yaml:"artifact_digest,omitempty"`
}

// Pipeline trains models and records the runs.
type Pipeline interface {
	// Train runs one training invocation on the worker pool.
	Train(ctx context.Context, req *Request) (*Result, error)
}

type pipeline struct {
	config    *config.Config
	store     metricstore.Store
	artifacts artifact.Store
	tracker   tracker.Tracker
	registry  registry.Registry

	// workers bounds concurrent fits.
	workers *semaphore.Weighted

	// names serializes runs per model name.
	names *dfsync.Kmutex[string]
}

// New returns a pipeline whose pool size is the configured workers or
// the number of physical cores minus one.
func New(cfg *config.Config, store metricstore.Store, artifacts artifact.Store, t tracker.Tracker, r registry.Registry) (Pipeline, error) {
	workers := cfg.Training.Workers
	if workers <= 0 {
		cores, err := cpu.Counts(false)
		if err != nil {
			return nil, err
		}

		workers = cores - 1
	}

	if workers < 1 {
		workers = 1
	}

	logger.TrainLogger.Infof("training pool has %d workers", workers)
	return &pipeline{
		config:    cfg,
		store:     store,
		artifacts: artifacts,
		tracker:   t,
		registry:  r,
		workers:   semaphore.NewWeighted(int64(workers)),
		names:     dfsync.NewKmutex[string](),
	}, nil
}

func (p *pipeline) Train(ctx context.Context, req *Request) (*Result, error) {
	if err := validate.Struct(req); err != nil {
		return nil, dferrors.Wrap(dferrors.KindInvalidArgument, err, "invalid training request")
	}

	if _, err := model.ParseKind(string(req.Kind)); err != nil {
		return nil, err
	}

	params, err := p.defaults().Overlay(req.Hyperparameters)
	if err != nil {
		return nil, err
	}

	if err := p.names.Lock(ctx, req.Name); err != nil {
		return nil, dferrors.Wrapf(dferrors.KindDeadlineExceeded, err, "wait for model %s", req.Name)
	}
	defer p.names.Unlock(req.Name)

	if err := p.workers.Acquire(ctx, 1); err != nil {
		return nil, dferrors.Wrap(dferrors.KindDeadlineExceeded, err, "wait for training worker")
	}
	defer p.workers.Release(1)

	ctx, span := tracer.Start(ctx, config.SpanTrain, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(config.AttributeModelName.String(req.Name))
	span.SetAttributes(config.AttributeModelKind.String(string(req.Kind)))

	experiment := req.Experiment
	if experiment == "" {
		experiment = req.Name
	}

	runID, err := p.tracker.StartRun(ctx, experiment, map[string]string{
		metricstore.LabelModelKind: string(req.Kind),
		TagName:                    req.Name,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(config.AttributeRunID.String(runID))

	start := time.Now()
	log := logger.WithRun(runID, req.Name)
	log.Infof("training %s over [%s, %s)", req.Kind, req.Since.Format(time.RFC3339), req.Until.Format(time.RFC3339))

	r := &run{
		pipeline: p,
		req:      req,
		params:   params,
		id:       runID,
		steps:    newStepFSM(),
		result:   &Result{RunID: runID},
	}

	if err := r.execute(ctx); err != nil {
		r.fail(ctx, err)
		metrics.TrainingCount.WithLabelValues(string(req.Kind), r.result.Status).Inc()
		span.SetAttributes(config.AttributeRunStatus.String(r.result.Status))
		span.RecordError(err)
		log.Errorf("training failed in step %s: %s", r.failedStep, err.Error())
		return r.result, err
	}

	metrics.TrainingCount.WithLabelValues(string(req.Kind), models.RunStatusSucceeded).Inc()
	metrics.TrainingDuration.WithLabelValues(string(req.Kind)).Observe(time.Since(start).Seconds())
	span.SetAttributes(config.AttributeRunStatus.String(models.RunStatusSucceeded))

	if !req.AutoRegister {
		log.Infof("training succeeded in %s", time.Since(start))
		return r.result, nil
	}

	version, err := p.registry.Register(ctx, req.Name, runID, nil)
	if err != nil {
		span.RecordError(err)
		log.Errorf("register failed: %s", err.Error())
		return r.result, err
	}

	r.result.Version = version
	span.SetAttributes(config.AttributeModelVersion.Int(version))
	log.Infof("training succeeded in %s, registered version %d", time.Since(start), version)
	return r.result, nil
}

// defaults are the model defaults with the configured anomaly settings.
func (p *pipeline) defaults() model.Hyperparameters {
	params := model.DefaultHyperparameters()
	params.ThresholdSigma = p.config.Anomaly.ThresholdSigma
	params.WindowSize = p.config.Anomaly.WindowSize
	return params
}

// minRows is the minimum dataset size of kind.
func (p *pipeline) minRows(kind model.Kind) int {
	switch kind {
	case model.KindRegressor:
		return p.config.Training.MinRows.Regressor
	case model.KindAnomalyScorer:
		return p.config.Training.MinRows.Anomaly
	default:
		return p.config.Training.MinRows.Classifier
	}
}
