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

//go:generate mockgen -destination mocks/serving_mock.go -source serving.go -package mocks

package serving

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/golang/groupcache/singleflight"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"

	"d7y.io/aiops/aiops/artifact"
	"d7y.io/aiops/aiops/config"
	"d7y.io/aiops/aiops/metrics"
	"d7y.io/aiops/aiops/metricstore"
	"d7y.io/aiops/aiops/model"
	"d7y.io/aiops/aiops/models"
	"d7y.io/aiops/aiops/registry"
	"d7y.io/aiops/internal/dferrors"
	logger "d7y.io/aiops/internal/dflog"
)

var tracer = otel.Tracer("aiops-serving")

// Prediction is a model prediction with its provenance.
type Prediction struct {
	*model.Prediction

	// Name is the registered model name.
	Name string

	// Version is the serving version, zero for heuristic fallbacks.
	Version int

	// RunID is the run the serving version was trained in.
	RunID string
}

// Service is the inference entrypoint.
type Service interface {
	// Predict runs input through the production version of name.
	Predict(ctx context.Context, name string, input model.Input) (*Prediction, error)

	// Stop waits for pending write-backs and rejects new predictions.
	Stop()
}

// cacheKey identifies a loaded model.
type cacheKey struct {
	name    string
	version int
}

type service struct {
	config    *config.Config
	registry  registry.Registry
	artifacts artifact.Store
	store     metricstore.Store

	// production maps a name to its last seen production version and is
	// replaced as a whole on change.
	production atomic.Value

	// productionMu serializes writers of production.
	productionMu sync.Mutex

	cacheMu sync.Mutex
	cache   *lru.Cache

	// loads collapses concurrent loads of one version.
	loads singleflight.Group

	writebacks sync.WaitGroup
	closed     *atomic.Bool
}

// New returns a serving service.
func New(cfg *config.Config, r registry.Registry, artifacts artifact.Store, store metricstore.Store) Service {
	s := &service{
		config:    cfg,
		registry:  r,
		artifacts: artifacts,
		store:     store,
		cache:     lru.New(cfg.Serving.Cache.Capacity),
		closed:    atomic.NewBool(false),
	}
	s.production.Store(map[string]int{})

	s.cache.OnEvicted = func(key lru.Key, value any) {
		k := key.(cacheKey)
		logger.WithModel(k.name, k.version).Debugf("loaded model evicted")
	}

	return s
}

func (s *service) Predict(ctx context.Context, name string, input model.Input) (*Prediction, error) {
	if s.closed.Load() {
		return nil, dferrors.New(dferrors.KindStoreUnavailable, "serving is stopped")
	}

	ctx, span := tracer.Start(ctx, config.SpanPredict, trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(config.AttributeModelName.String(name))

	prediction, err := s.predict(ctx, name, input)
	if err != nil {
		span.RecordError(err)
		metrics.PredictionFailureCount.WithLabelValues(string(dferrors.KindOf(err))).Inc()
		return nil, err
	}

	span.SetAttributes(config.AttributeModelKind.String(string(prediction.Kind)))
	span.SetAttributes(config.AttributeModelMode.String(string(prediction.Mode)))
	span.SetAttributes(config.AttributeModelVersion.Int(prediction.Version))
	metrics.PredictionCount.WithLabelValues(string(prediction.Kind), string(prediction.Mode)).Inc()

	s.writeback(prediction)
	return prediction, nil
}

func (s *service) predict(ctx context.Context, name string, input model.Input) (*Prediction, error) {
	mv, err := s.registry.Latest(ctx, name, models.StageProduction)
	if err != nil {
		if dferrors.IsKind(err, dferrors.KindNotFound) {
			return s.fallback(ctx, name, input)
		}

		return nil, err
	}

	s.observeProduction(name, mv.Version)

	if !mv.Healthy() {
		return nil, dferrors.Newf(dferrors.KindIncompatibleArtifact, "model %s version %d is marked %s: %s", name, mv.Version, models.HealthUnhealthy, mv.Tags[registry.TagUnhealthyReason])
	}

	m, err := s.load(ctx, mv)
	if err != nil {
		return nil, err
	}

	p, err := m.Predict(input)
	if err != nil {
		return nil, err
	}

	return &Prediction{
		Prediction: p,
		Name:       name,
		Version:    mv.Version,
		RunID:      mv.RunID,
	}, nil
}

// fallback answers in heuristic mode with the registered kind or the input kind.
func (s *service) fallback(ctx context.Context, name string, input model.Input) (*Prediction, error) {
	if !s.config.Serving.AllowHeuristicFallback || input.Strict {
		return nil, dferrors.Newf(dferrors.KindNoProductionModel, "model %s has no production version", name)
	}

	kind := input.Kind
	registered, err := s.registry.GetModel(ctx, name)
	switch {
	case err == nil:
		kind = model.Kind(registered.Kind)
	case !dferrors.IsKind(err, dferrors.KindNotFound):
		return nil, err
	}

	if kind == "" {
		return nil, dferrors.Newf(dferrors.KindNoProductionModel, "model %s has no production version and no known kind", name)
	}

	m, err := model.New(kind, s.defaults())
	if err != nil {
		return nil, err
	}

	p, err := m.Predict(input)
	if err != nil {
		return nil, err
	}

	logger.ServeLogger.Debugf("model %s has no production version, answered by %s heuristic", name, kind)
	return &Prediction{Prediction: p, Name: name}, nil
}

// observeProduction drops the cached models of name when its production version changed.
func (s *service) observeProduction(name string, version int) {
	if current, ok := s.production.Load().(map[string]int)[name]; ok && current == version {
		return
	}

	s.productionMu.Lock()
	defer s.productionMu.Unlock()

	previous := s.production.Load().(map[string]int)
	current, ok := previous[name]
	if ok && current == version {
		return
	}

	next := make(map[string]int, len(previous)+1)
	for k, v := range previous {
		next[k] = v
	}
	next[name] = version
	s.production.Store(next)

	if ok {
		s.cacheMu.Lock()
		s.cache.Remove(cacheKey{name: name, version: current})
		s.cacheMu.Unlock()
		logger.WithModel(name, version).Infof("production changed from version %d", current)
	}
}

// load returns the cached model of mv or loads it from the artifact store.
// Failed loads are never cached.
func (s *service) load(ctx context.Context, mv *models.ModelVersion) (model.Model, error) {
	key := cacheKey{name: mv.Name, version: mv.Version}
	s.cacheMu.Lock()
	cached, ok := s.cache.Get(key)
	s.cacheMu.Unlock()
	if ok {
		metrics.ModelCacheHitCount.Inc()
		return cached.(model.Model), nil
	}
	metrics.ModelCacheMissCount.Inc()

	v, err := s.loads.Do(fmt.Sprintf("%s/%d", mv.Name, mv.Version), func() (any, error) {
		s.cacheMu.Lock()
		cached, ok := s.cache.Get(key)
		s.cacheMu.Unlock()
		if ok {
			return cached, nil
		}

		ctx, span := tracer.Start(ctx, config.SpanLoadModel)
		defer span.End()

		m, err := s.loadArtifact(ctx, mv)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		s.cacheMu.Lock()
		s.cache.Add(key, m)
		s.cacheMu.Unlock()
		return m, nil
	})
	if err != nil {
		metrics.ArtifactLoadFailureCount.WithLabelValues(string(dferrors.KindOf(err))).Inc()
		return nil, err
	}

	return v.(model.Model), nil
}

func (s *service) loadArtifact(ctx context.Context, mv *models.ModelVersion) (model.Model, error) {
	log := logger.WithModel(mv.Name, mv.Version)
	data, manifest, err := s.artifacts.Get(ctx, mv.ArtifactDigest)
	if err != nil {
		if dferrors.IsKind(err, dferrors.KindDigestMismatch) {
			err = dferrors.Wrapf(dferrors.KindIncompatibleArtifact, err, "artifact of model %s version %d", mv.Name, mv.Version)
			s.markUnhealthy(ctx, mv, err)
		}

		return nil, err
	}

	kind, err := model.ParseKind(mv.Kind)
	if err != nil {
		return nil, dferrors.Wrapf(dferrors.KindIncompatibleArtifact, err, "model %s version %d", mv.Name, mv.Version)
	}

	m, err := model.New(kind, s.defaults())
	if err != nil {
		return nil, err
	}

	if err := m.Load(data, *manifest); err != nil {
		if !dferrors.IsKind(err, dferrors.KindIncompatibleArtifact) {
			err = dferrors.Wrapf(dferrors.KindIncompatibleArtifact, err, "load model %s version %d", mv.Name, mv.Version)
		}

		s.markUnhealthy(ctx, mv, err)
		return nil, err
	}

	log.Infof("loaded artifact %s", mv.ArtifactDigest)
	return m, nil
}

// markUnhealthy tags a corrupted version, its stage and digest are kept.
func (s *service) markUnhealthy(ctx context.Context, mv *models.ModelVersion, cause error) {
	logger.WithModel(mv.Name, mv.Version).Errorf("artifact %s is unusable: %s", mv.ArtifactDigest, cause.Error())
	if err := s.registry.MarkUnhealthy(ctx, mv.Name, mv.Version, string(dferrors.KindOf(cause))); err != nil {
		logger.WithModel(mv.Name, mv.Version).Warnf("mark unhealthy failed: %s", err.Error())
	}
}

// writeback appends the prediction to the prediction stream in the background.
func (s *service) writeback(p *Prediction) {
	sample := metricstore.Sample{
		Timestamp: time.Now().UTC(),
		Source:    p.Name,
		Fields: map[string]float64{
			metricstore.FieldScore: p.Score,
		},
		Labels: map[string]string{
			metricstore.LabelMode:      string(p.Mode),
			metricstore.LabelModelKind: string(p.Kind),
			metricstore.LabelSeverity:  p.Severity,
		},
	}

	if p.Class != "" {
		sample.Labels[metricstore.LabelClass] = p.Class
	}

	if index := p.ClassIndex(classes(p.Kind)); index >= 0 {
		sample.Fields[metricstore.FieldClass] = float64(index)
	}

	if p.Version > 0 {
		sample.Labels[metricstore.LabelRunID] = p.RunID
		sample.Labels[metricstore.LabelVersion] = strconv.Itoa(p.Version)
	}

	s.writebacks.Add(1)
	go func() {
		defer s.writebacks.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Serving.WritebackTimeout)
		defer cancel()

		if _, err := s.store.Ingest(ctx, metricstore.StreamPrediction, []metricstore.Sample{sample}); err != nil {
			logger.ServeLogger.Warnf("write back prediction of %s failed: %s", p.Name, err.Error())
		}
	}()
}

func (s *service) Stop() {
	s.closed.Store(true)
	s.writebacks.Wait()
}

// defaults are the model defaults with the configured anomaly settings.
func (s *service) defaults() model.Hyperparameters {
	params := model.DefaultHyperparameters()
	params.ThresholdSigma = s.config.Anomaly.ThresholdSigma
	params.WindowSize = s.config.Anomaly.WindowSize
	return params
}

// classes returns the declared classes of classifier kinds.
func classes(kind model.Kind) []string {
	switch kind {
	case model.KindSequenceClassifier:
		return model.FailureClasses
	case model.KindMulticlassClassifier:
		return model.ThreatClasses
	default:
		return nil
	}
}
