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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"d7y.io/aiops/aiops/artifact"
	"d7y.io/aiops/aiops/metricstore"
	"d7y.io/aiops/internal/dferrors"
)

var baseTime = time.Date(2023, 1, 10, 12, 0, 0, 0, time.UTC)

func testHyperparameters() Hyperparameters {
	params := DefaultHyperparameters()
	params.Epochs = 5
	params.WindowLength = 6
	params.Trees = 30
	params.Rounds = 40
	params.WindowSize = 100
	return params
}

func TestModel_ParseKind(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		expect func(t *testing.T, kind Kind, err error)
	}{
		{
			name:  "known kind",
			value: "regressor",
			expect: func(t *testing.T, kind Kind, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal(KindRegressor, kind)
			},
		},
		{
			name:  "unknown kind",
			value: "perceptron",
			expect: func(t *testing.T, kind Kind, err error) {
				assert := assert.New(t)
				assert.True(dferrors.IsKind(err, dferrors.KindInvalidArgument))
				assert.Empty(kind)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			kind, err := ParseKind(tc.value)
			tc.expect(t, kind, err)
		})
	}
}

func TestModel_New(t *testing.T) {
	for _, kind := range Kinds {
		t.Run(string(kind), func(t *testing.T) {
			assert := assert.New(t)
			m, err := New(kind, DefaultHyperparameters())
			assert.NoError(err)
			assert.Equal(kind, m.Kind())
			assert.False(m.Fitted())
			assert.NotEmpty(m.DeclaredSchema().Features.Fields)
			assert.Equal(metricstore.StreamInfraMetrics == m.DeclaredSchema().Features.Stream, kind != KindMulticlassClassifier)
		})
	}

	_, err := New("perceptron", DefaultHyperparameters())
	assert.True(t, dferrors.IsKind(err, dferrors.KindInvalidArgument))
}

func TestModel_SaveUnfitted(t *testing.T) {
	for _, kind := range Kinds {
		t.Run(string(kind), func(t *testing.T) {
			m, err := New(kind, DefaultHyperparameters())
			require.NoError(t, err)

			_, _, err = m.Save()
			assert.True(t, dferrors.IsKind(err, dferrors.KindInvalidArgument))
		})
	}
}

func TestModel_LoadIncompatible(t *testing.T) {
	scorer := NewAnomalyScorer(testHyperparameters())
	require.NoError(t, scorer.Fit(context.Background(), anomalyDataset(40, 60)))
	data, manifest, err := scorer.Save()
	require.NoError(t, err)

	tests := []struct {
		name     string
		model    Model
		data     []byte
		manifest func(m artifact.Manifest) artifact.Manifest
	}{
		{
			name:     "wrong kind",
			model:    NewCapacityForecaster(testHyperparameters()),
			data:     data,
			manifest: func(m artifact.Manifest) artifact.Manifest { return m },
		},
		{
			name:  "wrong format",
			model: NewAnomalyScorer(testHyperparameters()),
			data:  data,
			manifest: func(m artifact.Manifest) artifact.Manifest {
				m.Format = "pickle"
				return m
			},
		},
		{
			name:  "wrong schema digest",
			model: NewAnomalyScorer(testHyperparameters()),
			data:  data,
			manifest: func(m artifact.Manifest) artifact.Manifest {
				m.SchemaDigest = threatSchema.Digest()
				return m
			},
		},
		{
			name:     "corrupt payload",
			model:    NewAnomalyScorer(testHyperparameters()),
			data:     []byte("{"),
			manifest: func(m artifact.Manifest) artifact.Manifest { return m },
		},
		{
			name:     "malformed state",
			model:    NewAnomalyScorer(testHyperparameters()),
			data:     []byte(`{"windows":{},"window_size":0}`),
			manifest: func(m artifact.Manifest) artifact.Manifest { return m },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)
			err := tc.model.Load(tc.data, tc.manifest(manifest))
			assert.True(dferrors.IsKind(err, dferrors.KindIncompatibleArtifact), err)
			assert.False(tc.model.Fitted())
		})
	}
}

func TestSchema_Digest(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(failureSchema(24).Digest(), failureSchema(24).Digest())
	assert.NotEqual(failureSchema(24).Digest(), failureSchema(12).Digest())
	assert.NotEqual(threatSchema.Digest(), capacitySchema.Digest())
	assert.Regexp("^sha256:[0-9a-f]{64}$", anomalySchema.Digest())
}

func TestSchema_CheckFeatures(t *testing.T) {
	assert := assert.New(t)
	assert.True(dferrors.IsKind(anomalySchema.checkFeatures(nil), dferrors.KindInsufficientData))
	assert.True(dferrors.IsKind(anomalySchema.checkFeatures(&metricstore.Dataset{Features: FailureFeatures}), dferrors.KindSchemaMismatch))
	assert.True(dferrors.IsKind(anomalySchema.checkFeatures(&metricstore.Dataset{
		Features: []string{metricstore.FieldMemoryUsage, metricstore.FieldCPUUsage, metricstore.FieldErrorRate, metricstore.FieldResponseTime},
	}), dferrors.KindSchemaMismatch))
	assert.NoError(anomalySchema.checkFeatures(&metricstore.Dataset{Features: AnomalyFeatures}))
}

func TestSchema_CheckRecord(t *testing.T) {
	tests := []struct {
		name   string
		schema Schema
		record Record
		expect func(t *testing.T, err error)
	}{
		{
			name:   "all fields",
			schema: threatSchema,
			record: securityRecord(nil),
			expect: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:   "optional fields absent",
			schema: capacitySchema,
			record: Record{metricstore.FieldCPUUsage: 60},
			expect: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:   "required field absent",
			schema: capacitySchema,
			record: Record{metricstore.FieldMemoryUsage: 60},
			expect: func(t *testing.T, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindSchemaMismatch), err)
				assert.ErrorContains(t, err, metricstore.FieldCPUUsage)
			},
		},
		{
			name:   "no declared field",
			schema: anomalySchema,
			record: Record{"gpu_usage": 99},
			expect: func(t *testing.T, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindSchemaMismatch), err)
			},
		},
		{
			name:   "empty record",
			schema: anomalySchema,
			record: Record{},
			expect: func(t *testing.T, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindSchemaMismatch), err)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.expect(t, tc.schema.checkRecord(tc.record))
		})
	}
}
