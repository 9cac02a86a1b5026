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
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"d7y.io/aiops/internal/dferrors"
)

// Hyperparameters tune training. Fields unused by a kind are ignored by it.
type Hyperparameters struct {
	// Seed makes training deterministic.
	Seed int64 `mapstructure:"seed" json:"seed"`

	// Epochs of the failure predictor.
	Epochs int `mapstructure:"epochs" json:"epochs" validate:"gte=1,lte=1000"`

	// LearningRate of the failure predictor.
	LearningRate float64 `mapstructure:"learning_rate" json:"learning_rate" validate:"gt=0,lte=1"`

	// BatchSize of the failure predictor.
	BatchSize int `mapstructure:"batch_size" json:"batch_size" validate:"gte=1,lte=4096"`

	// HiddenSize is the recurrent layer width.
	HiddenSize int `mapstructure:"hidden_size" json:"hidden_size" validate:"gte=1,lte=256"`

	// DenseSize is the dense layer width.
	DenseSize int `mapstructure:"dense_size" json:"dense_size" validate:"gte=1,lte=256"`

	// Dropout of the dense layer.
	Dropout float64 `mapstructure:"dropout" json:"dropout" validate:"gte=0,lt=1"`

	// WindowLength is the sequence length of the failure predictor.
	WindowLength int `mapstructure:"window_length" json:"window_length" validate:"gte=1,lte=720"`

	// Trees of the threat detector forest.
	Trees int `mapstructure:"trees" json:"trees" validate:"gte=1,lte=1000"`

	// MaxDepth of every tree.
	MaxDepth int `mapstructure:"max_depth" json:"max_depth" validate:"gte=1,lte=64"`

	// MinLeaf is the minimum number of rows per leaf.
	MinLeaf int `mapstructure:"min_leaf" json:"min_leaf" validate:"gte=1"`

	// Rounds is the maximum number of boosting rounds.
	Rounds int `mapstructure:"rounds" json:"rounds" validate:"gte=1,lte=5000"`

	// Shrinkage is the boosting learning rate.
	Shrinkage float64 `mapstructure:"shrinkage" json:"shrinkage" validate:"gt=0,lte=1"`

	// BoostingDepth is the depth of every boosted tree.
	BoostingDepth int `mapstructure:"boosting_depth" json:"boosting_depth" validate:"gte=1,lte=16"`

	// Subsample is the row fraction of every boosting round.
	Subsample float64 `mapstructure:"subsample" json:"subsample" validate:"gt=0,lte=1"`

	// EarlyStoppingRounds stops boosting after rounds without improvement.
	EarlyStoppingRounds int `mapstructure:"early_stopping_rounds" json:"early_stopping_rounds" validate:"gte=1"`

	// ThresholdSigma is the anomalous z-score.
	ThresholdSigma float64 `mapstructure:"threshold_sigma" json:"threshold_sigma" validate:"gt=0"`

	// WindowSize is the anomaly baseline length.
	WindowSize int `mapstructure:"window_size" json:"window_size" validate:"gte=2,lte=100000"`
}

// DefaultHyperparameters returns the defaults shared by every kind.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		Seed:                42,
		Epochs:              40,
		LearningRate:        0.01,
		BatchSize:           32,
		HiddenSize:          16,
		DenseSize:           8,
		Dropout:             0.3,
		WindowLength:        24,
		Trees:               50,
		MaxDepth:            8,
		MinLeaf:             1,
		Rounds:              300,
		Shrinkage:           0.05,
		BoostingDepth:       4,
		Subsample:           0.8,
		EarlyStoppingRounds: 20,
		ThresholdSigma:      3.0,
		WindowSize:          100,
	}
}

var validate = validator.New()

// DecodeHyperparameters overlays string parameters on the defaults and validates them.
func DecodeHyperparameters(params map[string]string) (Hyperparameters, error) {
	return DefaultHyperparameters().Overlay(params)
}

// Overlay decodes string parameters on top of h and validates the result.
func (h Hyperparameters) Overlay(params map[string]string) (Hyperparameters, error) {
	if len(params) > 0 {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			ErrorUnused:      true,
			Result:           &h,
		})
		if err != nil {
			return Hyperparameters{}, dferrors.Wrap(dferrors.KindInvalidArgument, err, "build hyperparameter decoder")
		}

		if err := decoder.Decode(params); err != nil {
			return Hyperparameters{}, dferrors.Wrap(dferrors.KindInvalidArgument, err, "decode hyperparameters")
		}
	}

	if err := h.Validate(); err != nil {
		return Hyperparameters{}, err
	}

	return h, nil
}

// Validate checks every bound.
func (h Hyperparameters) Validate() error {
	if err := validate.Struct(h); err != nil {
		return dferrors.Wrap(dferrors.KindInvalidArgument, err, "invalid hyperparameters")
	}

	return nil
}

// Params renders the effective hyperparameters for tracking.
func (h Hyperparameters) Params() map[string]string {
	return map[string]string{
		"seed":                  strconv.FormatInt(h.Seed, 10),
		"epochs":                strconv.Itoa(h.Epochs),
		"learning_rate":         strconv.FormatFloat(h.LearningRate, 'g', -1, 64),
		"batch_size":            strconv.Itoa(h.BatchSize),
		"hidden_size":           strconv.Itoa(h.HiddenSize),
		"dense_size":            strconv.Itoa(h.DenseSize),
		"dropout":               strconv.FormatFloat(h.Dropout, 'g', -1, 64),
		"window_length":         strconv.Itoa(h.WindowLength),
		"trees":                 strconv.Itoa(h.Trees),
		"max_depth":             strconv.Itoa(h.MaxDepth),
		"min_leaf":              strconv.Itoa(h.MinLeaf),
		"rounds":                strconv.Itoa(h.Rounds),
		"shrinkage":             strconv.FormatFloat(h.Shrinkage, 'g', -1, 64),
		"boosting_depth":        strconv.Itoa(h.BoostingDepth),
		"subsample":             strconv.FormatFloat(h.Subsample, 'g', -1, 64),
		"early_stopping_rounds": strconv.Itoa(h.EarlyStoppingRounds),
		"threshold_sigma":       strconv.FormatFloat(h.ThresholdSigma, 'g', -1, 64),
		"window_size":           strconv.Itoa(h.WindowSize),
	}
}
