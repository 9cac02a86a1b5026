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

package model

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"d7y.io/aiops/aiops/metricstore"
	"d7y.io/aiops/internal/dferrors"
)

func infraRecord(cpu, memory, errorRate float64) Record {
	return Record{
		metricstore.FieldCPUUsage:       cpu,
		metricstore.FieldMemoryUsage:    memory,
		metricstore.FieldDiskIO:         30,
		metricstore.FieldNetworkTraffic: 40,
		metricstore.FieldErrorRate:      errorRate,
		metricstore.FieldResponseTime:   200,
		metricstore.FieldRequestRate:    100,
	}
}

// risingDataset is one source whose load climbs past the failure thresholds.
func risingDataset(n int) *metricstore.Dataset {
	dataset := &metricstore.Dataset{
		Kind:     metricstore.StreamInfraMetrics,
		Features: FailureFeatures,
	}

	for i := 0; i < n; i++ {
		progress := float64(i) / float64(n)
		record := infraRecord(40+55*progress, 50+45*progress, 1+8*progress)
		row := make([]float64, len(FailureFeatures))
		for j, field := range FailureFeatures {
			row[j] = record[field]
		}

		dataset.Timestamps = append(dataset.Timestamps, baseTime.Add(time.Duration(i)*time.Hour))
		dataset.Sources = append(dataset.Sources, "node-1")
		dataset.X = append(dataset.X, row)
	}

	return dataset
}

func TestFailurePredictor_Heuristic(t *testing.T) {
	tests := []struct {
		name     string
		sequence []Record
		expect   func(t *testing.T, p *Prediction)
	}{
		{
			name: "overloaded node",
			sequence: []Record{
				infraRecord(90, 92, 8), infraRecord(90, 92, 8), infraRecord(90, 92, 8),
				infraRecord(90, 92, 8), infraRecord(90, 92, 8), infraRecord(90, 92, 8),
			},
			expect: func(t *testing.T, p *Prediction) {
				assert := assert.New(t)
				assert.Equal(ModeHeuristic, p.Mode)
				assert.GreaterOrEqual(p.Score, 0.85)
				assert.Equal(metricstore.SeverityCritical, p.Severity)
				assert.Equal(ClassWillFailSoon, p.Class)
				assert.Equal(12, p.Failure.TimeToFailureHours)
				assert.Equal(baseTime.Add(12*time.Hour), p.Failure.PredictedFailureAt)
				assert.Len(p.Failure.RootCauses, 3)
				assert.Contains(p.Failure.AffectedComponents, "compute")
				assert.Contains(p.Failure.AffectedComponents, "application")
				assert.Contains(p.Failure.Recommendations, "scale up resources immediately")
			},
		},
		{
			name:     "healthy node",
			sequence: []Record{infraRecord(30, 40, 0.5)},
			expect: func(t *testing.T, p *Prediction) {
				assert := assert.New(t)
				assert.Equal(ModeHeuristic, p.Mode)
				assert.Less(p.Score, 0.1)
				assert.Equal(metricstore.SeverityLow, p.Severity)
				assert.Equal(ClassStable, p.Class)
				assert.Equal([]string{"no specific issues detected"}, p.Failure.RootCauses)
				assert.Equal(48, p.Failure.TimeToFailureHours)
			},
		},
		{
			name: "only the recent records count",
			sequence: []Record{
				infraRecord(99, 99, 20), infraRecord(30, 40, 1), infraRecord(30, 40, 1), infraRecord(30, 40, 1),
				infraRecord(30, 40, 1), infraRecord(30, 40, 1), infraRecord(30, 40, 1),
			},
			expect: func(t *testing.T, p *Prediction) {
				assert.Equal(t, ClassStable, p.Class)
			},
		},
		{
			name: "empty sequence",
			expect: func(t *testing.T, p *Prediction) {
				assert := assert.New(t)
				assert.InDelta(0.1, p.Score, 1e-6)
				assert.Equal([]string{"insufficient data for prediction"}, p.Failure.RootCauses)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFailurePredictor(testHyperparameters())
			p, err := f.Predict(Input{Sequence: tc.sequence, Timestamp: baseTime})
			require.NoError(t, err)

			var sum float64
			for _, v := range p.Probabilities {
				sum += v
			}
			assert.InDelta(t, 1, sum, 1e-6)
			tc.expect(t, p)
		})
	}
}

func TestFailurePredictor_PredictInvalid(t *testing.T) {
	assert := assert.New(t)
	f := NewFailurePredictor(testHyperparameters())

	_, err := f.Predict(Input{Record: infraRecord(90, 92, 8), Strict: true})
	assert.True(dferrors.IsKind(err, dferrors.KindInvalidArgument))

	_, err = f.Predict(Input{Record: infraRecord(math.NaN(), 92, 8)})
	assert.True(dferrors.IsKind(err, dferrors.KindSchemaMismatch))

	// A single record is a one record sequence.
	p, err := f.Predict(Input{Record: infraRecord(90, 92, 8)})
	assert.NoError(err)
	assert.Equal(ClassWillFailSoon, p.Class)
}

func TestFailurePredictor_Fit(t *testing.T) {
	ctx := context.Background()
	f := NewFailurePredictor(testHyperparameters())
	require.NoError(t, f.Fit(ctx, risingDataset(60)))
	assert := assert.New(t)
	assert.True(f.Fitted())

	sequence := []Record{infraRecord(70, 80, 3), infraRecord(75, 82, 4), infraRecord(80, 85, 5)}
	p, err := f.Predict(Input{Sequence: sequence, Timestamp: baseTime})
	require.NoError(t, err)
	assert.Equal(ModeTrained, p.Mode)
	assert.GreaterOrEqual(p.Score, MinProbability)
	assert.LessOrEqual(p.Score, MaxProbability)
	assert.InDelta(1, p.Probabilities[ClassStable]+p.Probabilities[ClassWillFailSoon], 1e-6)

	_, err = f.Predict(Input{})
	assert.True(dferrors.IsKind(err, dferrors.KindSchemaMismatch))

	_, err = f.Predict(Input{Sequence: []Record{infraRecord(70, 80, 3), {metricstore.FieldErrorRate: 3}}})
	assert.True(dferrors.IsKind(err, dferrors.KindSchemaMismatch))

	_, err = f.Predict(Input{Record: Record{metricstore.FieldFailedAuthCount: 50}})
	assert.True(dferrors.IsKind(err, dferrors.KindSchemaMismatch))

	metrics, err := f.Evaluate(ctx, risingDataset(30))
	require.NoError(t, err)
	for _, name := range []string{MetricAccuracy, MetricPrecision, MetricRecall, MetricAUC} {
		assert.Contains(metrics, name)
		assert.GreaterOrEqual(metrics[name], 0.0)
		assert.LessOrEqual(metrics[name], 1.0)
	}

	data, manifest, err := f.Save()
	require.NoError(t, err)
	assert.Equal(string(KindSequenceClassifier), manifest.ModelKind)
	assert.Equal(FormatJSON, manifest.Format)
	assert.Equal(f.DeclaredSchema().Digest(), manifest.SchemaDigest)

	loaded := NewFailurePredictor(DefaultHyperparameters())
	require.NoError(t, loaded.Load(data, manifest))
	assert.Equal(6, loaded.DeclaredSchema().Features.SequenceLength)

	reloaded, err := loaded.Predict(Input{Sequence: sequence, Timestamp: baseTime})
	require.NoError(t, err)
	assert.Equal(p.Score, reloaded.Score)
	assert.Equal(p.Probabilities, reloaded.Probabilities)
}

func TestFailurePredictor_FitInvalid(t *testing.T) {
	tests := []struct {
		name    string
		dataset func() *metricstore.Dataset
		kind    dferrors.Kind
	}{
		{
			name: "wrong features",
			dataset: func() *metricstore.Dataset {
				return &metricstore.Dataset{Features: AnomalyFeatures}
			},
			kind: dferrors.KindSchemaMismatch,
		},
		{
			name: "unknown label",
			dataset: func() *metricstore.Dataset {
				dataset := risingDataset(10)
				dataset.Label = "status"
				for range dataset.X {
					dataset.Labels = append(dataset.Labels, "exploded")
				}
				return dataset
			},
			kind: dferrors.KindSchemaMismatch,
		},
		{
			name: "single row",
			dataset: func() *metricstore.Dataset {
				return risingDataset(1)
			},
			kind: dferrors.KindInsufficientData,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFailurePredictor(testHyperparameters())
			err := f.Fit(context.Background(), tc.dataset())
			assert.True(t, dferrors.IsKind(err, tc.kind), err)
			assert.False(t, f.Fitted())
		})
	}
}

func TestFailurePredictor_Pad(t *testing.T) {
	assert := assert.New(t)
	assert.Equal([][]float64{{1}, {2}, {2}, {2}}, pad([][]float64{{1}, {2}}, 4))
	assert.Equal([][]float64{{3}, {4}, {5}}, pad([][]float64{{1}, {2}, {3}, {4}, {5}}, 3))
	assert.Equal([][]float64{{1}, {2}}, pad([][]float64{{1}, {2}}, 2))
}

func TestFailurePredictor_ParseLabel(t *testing.T) {
	assert := assert.New(t)
	for value, expect := range map[string]bool{ClassWillFailSoon: true, ClassStable: false, "1": true, "0": false, "0.7": true} {
		positive, err := parseFailureLabel(value)
		assert.NoError(err)
		assert.Equal(expect, positive, value)
	}
}
