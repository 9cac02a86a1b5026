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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"d7y.io/aiops/aiops/metricstore"
	"d7y.io/aiops/internal/dferrors"
)

// anomalyDataset holds fifty cpu samples at low followed by fifty at high.
func anomalyDataset(low, high float64) *metricstore.Dataset {
	dataset := &metricstore.Dataset{
		Kind:     metricstore.StreamInfraMetrics,
		Features: AnomalyFeatures,
	}

	for i := 0; i < 100; i++ {
		cpu := low
		if i >= 50 {
			cpu = high
		}

		dataset.Timestamps = append(dataset.Timestamps, baseTime.Add(time.Duration(i)*time.Minute))
		dataset.Sources = append(dataset.Sources, "node-1")
		dataset.X = append(dataset.X, []float64{cpu, 50, 1, 100})
	}

	return dataset
}

func TestAnomalyScorer_Predict(t *testing.T) {
	tests := []struct {
		name   string
		record Record
		expect func(t *testing.T, p *Prediction)
	}{
		{
			name:   "cpu spike",
			record: Record{metricstore.FieldCPUUsage: 81},
			expect: func(t *testing.T, p *Prediction) {
				assert := assert.New(t)
				assert.InDelta(3.1, p.Anomaly.ZScores[metricstore.FieldCPUUsage], 1e-9)
				assert.InDelta(3.1, p.Score, 1e-9)
				assert.True(p.Anomaly.Anomalous)
				assert.Equal(metricstore.SeverityMedium, p.Severity)
				assert.Equal(Baseline{Mean: 50, Std: 10, Count: 100}, p.Anomaly.Baselines[metricstore.FieldCPUUsage])
				require.NotNil(t, p.Anomaly.RootCause)
				assert.Equal(metricstore.FieldCPUUsage, p.Anomaly.RootCause.Metric)
				require.Len(t, p.Anomaly.Remediation, 1)
				assert.Equal(metricstore.FieldCPUUsage, p.Anomaly.Remediation[0].Metric)
				assert.Equal(metricstore.SeverityMedium, p.Anomaly.Remediation[0].Priority)
			},
		},
		{
			name:   "within baseline",
			record: Record{metricstore.FieldCPUUsage: 55},
			expect: func(t *testing.T, p *Prediction) {
				assert := assert.New(t)
				assert.InDelta(0.5, p.Score, 1e-9)
				assert.False(p.Anomaly.Anomalous)
				assert.Equal(metricstore.SeverityLow, p.Severity)
				assert.Nil(p.Anomaly.RootCause)
				assert.Empty(p.Anomaly.Remediation)
			},
		},
		{
			name:   "constant baseline scores zero",
			record: Record{metricstore.FieldMemoryUsage: 99},
			expect: func(t *testing.T, p *Prediction) {
				assert := assert.New(t)
				assert.Zero(p.Anomaly.ZScores[metricstore.FieldMemoryUsage])
				assert.False(p.Anomaly.Anomalous)
			},
		},
		{
			name:   "unknown metric scores zero",
			record: Record{"gpu_usage": 99},
			expect: func(t *testing.T, p *Prediction) {
				assert := assert.New(t)
				assert.Zero(p.Score)
				assert.Equal(Baseline{}, p.Anomaly.Baselines["gpu_usage"])
			},
		},
		{
			name:   "score is the mean absolute z-score",
			record: Record{metricstore.FieldCPUUsage: 20, metricstore.FieldMemoryUsage: 50},
			expect: func(t *testing.T, p *Prediction) {
				assert := assert.New(t)
				assert.InDelta(-3, p.Anomaly.ZScores[metricstore.FieldCPUUsage], 1e-9)
				assert.InDelta(1.5, p.Score, 1e-9)
				assert.False(p.Anomaly.Anomalous)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := NewAnomalyScorer(testHyperparameters())
			require.NoError(t, a.Fit(context.Background(), anomalyDataset(40, 60)))

			p, err := a.Predict(Input{Record: tc.record})
			require.NoError(t, err)
			assert.Equal(t, ModeTrained, p.Mode)
			assert.Equal(t, 3.0, p.Anomaly.Threshold)
			tc.expect(t, p)

			// Predict never moves the baseline.
			again, err := a.Predict(Input{Record: tc.record})
			require.NoError(t, err)
			assert.Equal(t, p.Score, again.Score)
		})
	}
}

func TestAnomalyScorer_Observe(t *testing.T) {
	assert := assert.New(t)
	params := testHyperparameters()
	params.WindowSize = 3
	a := NewAnomalyScorer(params)

	require.NoError(t, a.Observe(Record{metricstore.FieldCPUUsage: 1}))
	p, err := a.Predict(Input{Record: Record{metricstore.FieldCPUUsage: 100}})
	require.NoError(t, err)
	assert.Equal(ModeHeuristic, p.Mode)
	assert.Zero(p.Score)

	for _, v := range []float64{2, 3, 4} {
		require.NoError(t, a.Observe(Record{metricstore.FieldCPUUsage: v}))
	}

	p, err = a.Predict(Input{Record: Record{metricstore.FieldCPUUsage: 3}})
	require.NoError(t, err)
	baseline := p.Anomaly.Baselines[metricstore.FieldCPUUsage]
	assert.Equal(3, baseline.Count)
	assert.InDelta(3, baseline.Mean, 1e-9)
	assert.Zero(p.Score)

	_, err = a.Predict(Input{Record: Record{metricstore.FieldCPUUsage: 3}, Strict: true})
	assert.True(dferrors.IsKind(err, dferrors.KindInvalidArgument))
}

func TestAnomalyScorer_Concurrent(t *testing.T) {
	a := NewAnomalyScorer(testHyperparameters())
	require.NoError(t, a.Fit(context.Background(), anomalyDataset(40, 60)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, a.Observe(Record{metricstore.FieldCPUUsage: float64(40 + i)}))
		}(i)
		go func() {
			defer wg.Done()
			_, err := a.Predict(Input{Record: Record{metricstore.FieldCPUUsage: 50}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := a.Predict(Input{Record: Record{metricstore.FieldCPUUsage: 50}})
	require.NoError(t, err)
	assert.Equal(t, 100, p.Anomaly.Baselines[metricstore.FieldCPUUsage].Count)
}

func TestAnomalyScorer_Evaluate(t *testing.T) {
	assert := assert.New(t)
	a := NewAnomalyScorer(testHyperparameters())

	_, err := a.Evaluate(context.Background(), anomalyDataset(40, 60))
	assert.True(dferrors.IsKind(err, dferrors.KindInvalidArgument))

	require.NoError(t, a.Fit(context.Background(), anomalyDataset(40, 60)))
	metrics, err := a.Evaluate(context.Background(), anomalyDataset(50, 200))
	require.NoError(t, err)
	assert.InDelta(50, metrics[metricstore.FieldCPUUsage+"_mean"], 1e-9)
	assert.InDelta(10, metrics[metricstore.FieldCPUUsage+"_std"], 1e-9)
	assert.InDelta(0.5, metrics[MetricAnomalyRate], 1e-9)
}

func TestAnomalyScorer_SaveLoad(t *testing.T) {
	assert := assert.New(t)
	a := NewAnomalyScorer(testHyperparameters())
	require.NoError(t, a.Fit(context.Background(), anomalyDataset(40, 60)))

	data, manifest, err := a.Save()
	require.NoError(t, err)
	assert.Equal(string(KindAnomalyScorer), manifest.ModelKind)

	params := testHyperparameters()
	params.ThresholdSigma = 2
	loaded := NewAnomalyScorer(params)
	require.NoError(t, loaded.Load(data, manifest))
	assert.True(loaded.Fitted())

	p, err := loaded.Predict(Input{Record: Record{metricstore.FieldCPUUsage: 75}})
	require.NoError(t, err)
	assert.InDelta(2.5, p.Score, 1e-9)
	assert.Equal(2.0, p.Anomaly.Threshold)
	assert.True(p.Anomaly.Anomalous)
}
