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
	"testing"

	"github.com/stretchr/testify/assert"

	"d7y.io/aiops/internal/dferrors"
)

func TestHyperparameters_Decode(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
		expect func(t *testing.T, h Hyperparameters, err error)
	}{
		{
			name: "defaults",
			expect: func(t *testing.T, h Hyperparameters, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal(DefaultHyperparameters(), h)
			},
		},
		{
			name:   "overlay",
			params: map[string]string{"epochs": "3", "learning_rate": "0.1", "threshold_sigma": "2.5"},
			expect: func(t *testing.T, h Hyperparameters, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal(3, h.Epochs)
				assert.Equal(0.1, h.LearningRate)
				assert.Equal(2.5, h.ThresholdSigma)
				assert.Equal(DefaultHyperparameters().Trees, h.Trees)
			},
		},
		{
			name:   "unknown key",
			params: map[string]string{"momentum": "0.9"},
			expect: func(t *testing.T, h Hyperparameters, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindInvalidArgument))
			},
		},
		{
			name:   "not a number",
			params: map[string]string{"epochs": "many"},
			expect: func(t *testing.T, h Hyperparameters, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindInvalidArgument))
			},
		},
		{
			name:   "out of range",
			params: map[string]string{"dropout": "1.5"},
			expect: func(t *testing.T, h Hyperparameters, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindInvalidArgument))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, err := DecodeHyperparameters(tc.params)
			tc.expect(t, h, err)
		})
	}
}

func TestHyperparameters_Params(t *testing.T) {
	h := DefaultHyperparameters()
	h.Epochs = 7

	decoded, err := DecodeHyperparameters(h.Params())
	assert.NoError(t, err)
	assert.Equal(t, h, decoded)
}
