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

package serving

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"d7y.io/aiops/aiops/artifact"
	"d7y.io/aiops/aiops/artifact/mocks"
	"d7y.io/aiops/aiops/config"
	"d7y.io/aiops/aiops/database"
	"d7y.io/aiops/aiops/metricstore"
	"d7y.io/aiops/aiops/model"
	"d7y.io/aiops/aiops/models"
	"d7y.io/aiops/aiops/registry"
	"d7y.io/aiops/aiops/tracker"
	"d7y.io/aiops/aiops/training"
	"d7y.io/aiops/internal/dferrors"
	"d7y.io/aiops/pkg/digest"
)

type testEnv struct {
	config       *config.Config
	store        metricstore.Store
	artifactsDir string
	artifacts    artifact.Store
	tracker      tracker.Tracker
	registry     registry.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	cfg := config.New()
	cfg.Database.Type = config.DatabaseTypeSqlite
	cfg.Database.Sqlite.Path = filepath.Join(t.TempDir(), config.DefaultSqliteFilename)
	cfg.Training.Workers = 1

	db, err := database.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := metricstore.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tr := tracker.New(db.DB)
	r := registry.New(db.DB, tr)
	dir := t.TempDir()
	artifacts, err := artifact.New(dir, artifact.WithReferenceChecker(r))
	require.NoError(t, err)

	return &testEnv{
		config:       cfg,
		store:        store,
		artifactsDir: dir,
		artifacts:    artifacts,
		tracker:      tr,
		registry:     r,
	}
}

// promote trains kind on the stored window and moves the new version to production.
func (e *testEnv) promote(t *testing.T, kind model.Kind, name string, since, until time.Time, params map[string]string) int {
	ctx := context.Background()
	p, err := training.New(e.config, e.store, e.artifacts, e.tracker, e.registry)
	require.NoError(t, err)

	result, err := p.Train(ctx, &training.Request{
		Kind:            kind,
		Name:            name,
		Source:          "svc-a",
		Since:           since,
		Until:           until,
		Hyperparameters: params,
		AutoRegister:    true,
	})
	require.NoError(t, err)

	for _, stage := range []string{models.StageStaging, models.StageProduction} {
		_, err := e.registry.Transition(ctx, name, result.Version, stage)
		require.NoError(t, err)
	}

	return result.Version
}

// ingestRising writes hourly samples of svc-a with load rising from 40% to 92% cpu.
func (e *testEnv) ingestRising(t *testing.T, start time.Time, hours int) {
	samples := make([]metricstore.Sample, hours)
	for i := range samples {
		progress := float64(i) / float64(hours-1)
		samples[i] = metricstore.Sample{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Source:    "svc-a",
			Fields: map[string]float64{
				metricstore.FieldCPUUsage:         40 + 52*progress,
				metricstore.FieldMemoryUsage:      50 + 42*progress,
				metricstore.FieldDiskIO:           20 + 30*progress,
				metricstore.FieldNetworkTraffic:   30 + 20*progress,
				metricstore.FieldErrorRate:        0.5 + 7.5*progress,
				metricstore.FieldResponseTime:     200 + 900*progress,
				metricstore.FieldRequestRate:      100 + 50*progress,
				metricstore.FieldStorageUsage:     40 + 20*progress,
				metricstore.FieldUserCount:        1000 + 500*progress,
				metricstore.FieldTransactionCount: 500 + 250*progress,
			},
		}
	}

	written, err := e.store.Ingest(context.Background(), metricstore.StreamInfraMetrics, samples)
	require.NoError(t, err)
	require.Equal(t, hours, written)
}

func (e *testEnv) predictions(t *testing.T, name string) []metricstore.Sample {
	samples, err := e.store.QueryRange(context.Background(), metricstore.Query{
		Source: name,
		Kind:   metricstore.StreamPrediction,
		Since:  time.Now().Add(-time.Hour),
		Until:  time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return samples
}

func records(samples []metricstore.Sample) []model.Record {
	sequence := make([]model.Record, len(samples))
	for i, sample := range samples {
		sequence[i] = model.Record(sample.Fields)
	}

	return sequence
}

func TestService_HappyPath(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	until := time.Now().UTC().Truncate(time.Hour)
	since := until.Add(-30 * 24 * time.Hour)
	env.ingestRising(t, since, 30*24)

	version := env.promote(t, model.KindSequenceClassifier, "failure-predictor-v1", since, until, map[string]string{"window_length": "12", "epochs": "80"})

	last, err := env.store.QueryRange(ctx, metricstore.Query{
		Source: "svc-a",
		Kind:   metricstore.StreamInfraMetrics,
		Since:  until.Add(-24 * time.Hour),
		Until:  until,
	})
	require.NoError(t, err)
	require.Len(t, last, 24)

	s := New(env.config, env.registry, env.artifacts, env.store)
	p, err := s.Predict(ctx, "failure-predictor-v1", model.Input{Sequence: records(last), Timestamp: until})
	require.NoError(t, err)

	assert := assert.New(t)
	assert.Equal(model.ModeTrained, p.Mode)
	assert.Equal(version, p.Version)
	assert.GreaterOrEqual(p.Score, 0.6)
	assert.Contains([]string{metricstore.SeverityHigh, metricstore.SeverityCritical}, p.Severity)

	s.Stop()
	written := env.predictions(t, "failure-predictor-v1")
	require.Len(t, written, 1)
	assert.Equal(p.Score, written[0].Fields[metricstore.FieldScore])
	assert.Equal(string(model.ModeTrained), written[0].Labels[metricstore.LabelMode])
	assert.Equal("1", written[0].Labels[metricstore.LabelVersion])
	assert.Equal(p.RunID, written[0].Labels[metricstore.LabelRunID])
	assert.Contains(written[0].Fields, metricstore.FieldClass)
}

func TestService_HeuristicFallback(t *testing.T) {
	overloaded := []model.Record{}
	for i := 0; i < 6; i++ {
		overloaded = append(overloaded, model.Record{
			metricstore.FieldCPUUsage:    90,
			metricstore.FieldMemoryUsage: 92,
			metricstore.FieldErrorRate:   8,
		})
	}

	tests := []struct {
		name   string
		config func(cfg *config.Config)
		input  model.Input
		expect func(t *testing.T, env *testEnv, p *Prediction, err error)
	}{
		{
			name:   "fallback by kind hint",
			config: func(cfg *config.Config) {},
			input:  model.Input{Kind: model.KindSequenceClassifier, Sequence: overloaded},
			expect: func(t *testing.T, env *testEnv, p *Prediction, err error) {
				assert := assert.New(t)
				require.NoError(t, err)
				assert.Equal(model.ModeHeuristic, p.Mode)
				assert.GreaterOrEqual(p.Score, 0.85)
				assert.Equal(metricstore.SeverityCritical, p.Severity)
				assert.Zero(p.Version)

				written := env.predictions(t, "failure-predictor-v1")
				require.Len(t, written, 1)
				assert.Equal(string(model.ModeHeuristic), written[0].Labels[metricstore.LabelMode])
				assert.Equal(metricstore.SeverityCritical, written[0].Labels[metricstore.LabelSeverity])
				assert.NotContains(written[0].Labels, metricstore.LabelVersion)
			},
		},
		{
			name:   "fallback disabled",
			config: func(cfg *config.Config) { cfg.Serving.AllowHeuristicFallback = false },
			input:  model.Input{Kind: model.KindSequenceClassifier, Sequence: overloaded},
			expect: func(t *testing.T, env *testEnv, p *Prediction, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindNoProductionModel))
				assert.Empty(t, env.predictions(t, "failure-predictor-v1"))
			},
		},
		{
			name:   "strict input",
			config: func(cfg *config.Config) {},
			input:  model.Input{Kind: model.KindSequenceClassifier, Sequence: overloaded, Strict: true},
			expect: func(t *testing.T, env *testEnv, p *Prediction, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindNoProductionModel))
			},
		},
		{
			name:   "unknown kind",
			config: func(cfg *config.Config) {},
			input:  model.Input{Sequence: overloaded},
			expect: func(t *testing.T, env *testEnv, p *Prediction, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindNoProductionModel))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			tc.config(env.config)
			s := New(env.config, env.registry, env.artifacts, env.store)
			p, err := s.Predict(context.Background(), "failure-predictor-v1", tc.input)
			s.Stop()
			tc.expect(t, env, p, err)
		})
	}
}

func TestService_FallbackRegisteredKind(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// A registered model without a production version falls back to its own kind.
	runID, err := env.tracker.StartRun(ctx, "exp", map[string]string{metricstore.LabelModelKind: string(model.KindAnomalyScorer)})
	require.NoError(t, err)
	require.NoError(t, env.tracker.LogArtifact(ctx, runID, "sha256:"+digest.SHA256FromStrings("anomaly")))
	require.NoError(t, env.tracker.Finalize(ctx, runID, models.RunStatusSucceeded))
	_, err = env.registry.Register(ctx, "anomaly-detector-v1", runID, nil)
	require.NoError(t, err)

	s := New(env.config, env.registry, env.artifacts, env.store)
	defer s.Stop()

	p, err := s.Predict(ctx, "anomaly-detector-v1", model.Input{
		Kind:   model.KindSequenceClassifier,
		Record: model.Record{metricstore.FieldCPUUsage: 50},
	})
	require.NoError(t, err)
	assert.Equal(t, model.KindAnomalyScorer, p.Kind)
	assert.Equal(t, model.ModeHeuristic, p.Mode)
}

func TestService_ArtifactIntegrity(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	until := time.Now().UTC().Truncate(time.Hour)
	since := until.Add(-10 * 24 * time.Hour)
	env.ingestRising(t, since, 10*24)

	version := env.promote(t, model.KindRegressor, "capacity-forecaster-v1", since, until, map[string]string{"rounds": "50"})
	before, err := env.registry.GetVersion(ctx, "capacity-forecaster-v1", version)
	require.NoError(t, err)

	// Flip one byte of the stored blob.
	blob := filepath.Join(env.artifactsDir, artifact.BlobsDir, digest.Filename(before.ArtifactDigest))
	data, err := os.ReadFile(blob)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(blob, data, 0600))

	s := New(env.config, env.registry, env.artifacts, env.store).(*service)
	input := model.Input{Record: model.Record{metricstore.FieldCPUUsage: 70}, Timestamp: until}
	_, err = s.Predict(ctx, "capacity-forecaster-v1", input)

	assert := assert.New(t)
	assert.True(dferrors.IsKind(err, dferrors.KindIncompatibleArtifact), err)
	assert.Equal(0, s.cache.Len())

	after, err := env.registry.GetVersion(ctx, "capacity-forecaster-v1", version)
	require.NoError(t, err)
	assert.Equal(before.Stage, after.Stage)
	assert.Equal(before.ArtifactDigest, after.ArtifactDigest)
	assert.False(after.Healthy())

	// Unhealthy versions are refused until an operator clears them.
	_, err = s.Predict(ctx, "capacity-forecaster-v1", input)
	assert.True(dferrors.IsKind(err, dferrors.KindIncompatibleArtifact))

	s.Stop()
	assert.Empty(env.predictions(t, "capacity-forecaster-v1"))
}

// fittedAnomaly returns the saved bytes and manifest of a fitted anomaly scorer.
func fittedAnomaly(t *testing.T) ([]byte, artifact.Manifest) {
	dataset := &metricstore.Dataset{
		Kind:     metricstore.StreamInfraMetrics,
		Features: model.AnomalyFeatures,
	}

	start := time.Now().Add(-time.Hour)
	for i := 0; i < 20; i++ {
		dataset.Timestamps = append(dataset.Timestamps, start.Add(time.Duration(i)*time.Minute))
		dataset.Sources = append(dataset.Sources, "svc-a")
		dataset.X = append(dataset.X, []float64{50 + float64(i%5), 60, 1, 200})
	}

	m := model.NewAnomalyScorer(model.DefaultHyperparameters())
	require.NoError(t, m.Fit(context.Background(), dataset))
	data, manifest, err := m.Save()
	require.NoError(t, err)
	return data, manifest
}

func TestService_Cache(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	data, manifest := fittedAnomaly(t)

	digests := []string{digest.FromBytes(data), "sha256:" + digest.SHA256FromStrings("v2")}
	for _, d := range digests {
		runID, err := env.tracker.StartRun(ctx, "exp", map[string]string{metricstore.LabelModelKind: string(model.KindAnomalyScorer)})
		require.NoError(t, err)
		require.NoError(t, env.tracker.LogArtifact(ctx, runID, d))
		require.NoError(t, env.tracker.Finalize(ctx, runID, models.RunStatusSucceeded))

		version, err := env.registry.Register(ctx, "anomaly-detector-v1", runID, nil)
		require.NoError(t, err)
		_, err = env.registry.Transition(ctx, "anomaly-detector-v1", version, models.StageStaging)
		require.NoError(t, err)
	}

	ctl := gomock.NewController(t)
	defer ctl.Finish()
	artifacts := mocks.NewMockStore(ctl)
	gomock.InOrder(
		artifacts.EXPECT().Get(gomock.Any(), digests[0]).Return(data, &manifest, nil).Times(1),
		artifacts.EXPECT().Get(gomock.Any(), digests[1]).Return(data, &manifest, nil).Times(1),
	)

	_, err := env.registry.Transition(ctx, "anomaly-detector-v1", 1, models.StageProduction)
	require.NoError(t, err)

	s := New(env.config, env.registry, artifacts, env.store).(*service)
	input := model.Input{Record: model.Record{metricstore.FieldCPUUsage: 52}}

	// Concurrent misses load the version once.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := s.Predict(ctx, "anomaly-detector-v1", input)
			if assert.NoError(t, err) {
				assert.Equal(t, model.ModeTrained, p.Mode)
				assert.Equal(t, 1, p.Version)
			}
		}()
	}
	wg.Wait()

	assert := assert.New(t)
	_, ok := s.cache.Get(cacheKey{name: "anomaly-detector-v1", version: 1})
	assert.True(ok)

	_, err = env.registry.Transition(ctx, "anomaly-detector-v1", 2, models.StageProduction)
	require.NoError(t, err)

	p, err := s.Predict(ctx, "anomaly-detector-v1", input)
	require.NoError(t, err)
	assert.Equal(2, p.Version)

	_, ok = s.cache.Get(cacheKey{name: "anomaly-detector-v1", version: 1})
	assert.False(ok)
	_, ok = s.cache.Get(cacheKey{name: "anomaly-detector-v1", version: 2})
	assert.True(ok)

	s.Stop()
	assert.Len(env.predictions(t, "anomaly-detector-v1"), 9)

	_, err = s.Predict(ctx, "anomaly-detector-v1", input)
	assert.True(dferrors.IsKind(err, dferrors.KindStoreUnavailable))
}
