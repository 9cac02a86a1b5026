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

//go:generate mockgen -destination mocks/model_mock.go -source model.go -package mocks

package model

import (
	"context"
	"encoding/json"
	"time"

	"d7y.io/aiops/aiops/artifact"
	"d7y.io/aiops/aiops/metricstore"
	"d7y.io/aiops/internal/dferrors"
	"d7y.io/aiops/version"
)

// Kind is the kind of a model.
type Kind string

const (
	// KindSequenceClassifier predicts failures from a window of records.
	KindSequenceClassifier Kind = "sequence-classifier"

	// KindMulticlassClassifier classifies threats from one record.
	KindMulticlassClassifier Kind = "multiclass-classifier"

	// KindRegressor forecasts capacity usage.
	KindRegressor Kind = "regressor"

	// KindAnomalyScorer scores deviations from a sliding baseline.
	KindAnomalyScorer Kind = "anomaly-scorer"
)

// Kinds lists every model kind.
var Kinds = []Kind{KindSequenceClassifier, KindMulticlassClassifier, KindRegressor, KindAnomalyScorer}

// ParseKind converts s into a known model kind.
func ParseKind(s string) (Kind, error) {
	for _, kind := range Kinds {
		if string(kind) == s {
			return kind, nil
		}
	}

	return "", dferrors.Newf(dferrors.KindInvalidArgument, "unknown model kind %q", s)
}

// Mode tells whether a prediction came from fitted weights.
type Mode string

const (
	ModeTrained   Mode = "trained"
	ModeHeuristic Mode = "heuristic"
)

// FormatJSON is the serialization format of every model.
const FormatJSON = "json/v1"

// Record maps a field name to its value.
type Record map[string]float64

// Input is a single inference request.
type Input struct {
	// Kind optionally names the model kind the input is meant for.
	Kind Kind

	// Record is the feature record of record based models.
	Record Record

	// Sequence is the time ordered records of sequence classifiers.
	Sequence []Record

	// Timestamp is the time the input refers to, zero means now.
	Timestamp time.Time

	// Horizon is the number of days to forecast.
	Horizon int

	// Strict disables the heuristic fallback of unfitted models.
	Strict bool
}

// Prediction is the structured output of every model kind.
type Prediction struct {
	Kind Kind
	Mode Mode

	// Score is the headline value: the positive class probability of
	// binary classifiers, the chosen class probability of multiclass
	// classifiers, the first forecast day or the overall anomaly score.
	Score float64

	// Severity is one of critical, high, medium or low.
	Severity string

	// Class is the chosen class of classifiers.
	Class string

	// Probabilities is the per class probability of classifiers.
	Probabilities map[string]float64

	Failure  *FailureDetails
	Threat   *ThreatDetails
	Forecast *Forecast
	Anomaly  *AnomalyResult
}

// ClassIndex returns the position of the chosen class in classes, or -1.
func (p *Prediction) ClassIndex(classes []string) int {
	for i, class := range classes {
		if class == p.Class {
			return i
		}
	}

	return -1
}

// Model is the uniform contract of every model kind.
type Model interface {
	// Kind returns the model kind.
	Kind() Kind

	// DeclaredSchema returns the feature and output schema.
	DeclaredSchema() Schema

	// Fitted reports whether weights were fitted or loaded.
	Fitted() bool

	// Fit trains the model on the dataset.
	Fit(ctx context.Context, dataset *metricstore.Dataset) error

	// Evaluate scores a fitted model on a validation dataset.
	Evaluate(ctx context.Context, dataset *metricstore.Dataset) (map[string]float64, error)

	// Predict runs inference, falling back to the heuristic when unfitted and not strict.
	Predict(input Input) (*Prediction, error)

	// Save serializes the fitted model.
	Save() ([]byte, artifact.Manifest, error)

	// Load restores a model saved by the same kind and schema.
	Load(data []byte, manifest artifact.Manifest) error
}

// Preparer is implemented by models that derive their training rows
// from the raw dataset before it is split.
type Preparer interface {
	Prepare(dataset *metricstore.Dataset) (*metricstore.Dataset, error)
}

// New returns an unfitted model of kind.
func New(kind Kind, params Hyperparameters) (Model, error) {
	switch kind {
	case KindSequenceClassifier:
		return NewFailurePredictor(params), nil
	case KindMulticlassClassifier:
		return NewThreatDetector(params), nil
	case KindRegressor:
		return NewCapacityForecaster(params), nil
	case KindAnomalyScorer:
		return NewAnomalyScorer(params), nil
	default:
		return nil, dferrors.Newf(dferrors.KindInvalidArgument, "unknown model kind %q", kind)
	}
}

// save encodes state and builds the manifest of a model.
func save(kind Kind, fitted bool, schema Schema, state any) ([]byte, artifact.Manifest, error) {
	if !fitted {
		return nil, artifact.Manifest{}, dferrors.New(dferrors.KindInvalidArgument, "model is not fitted")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return nil, artifact.Manifest{}, dferrors.Wrap(dferrors.KindInvalidArgument, err, "encode model")
	}

	return data, artifact.Manifest{
		Format:         FormatJSON,
		ModelKind:      string(kind),
		SchemaDigest:   schema.Digest(),
		LibraryVersion: version.GitVersion,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// load checks the manifest against kind, decodes the state and compares
// the schema digest of the decoded model.
func load(kind Kind, data []byte, manifest artifact.Manifest, state any, schema func() Schema) error {
	if manifest.ModelKind != string(kind) {
		return dferrors.Newf(dferrors.KindIncompatibleArtifact, "artifact holds a %s, not a %s", manifest.ModelKind, kind)
	}

	if manifest.Format != FormatJSON {
		return dferrors.Newf(dferrors.KindIncompatibleArtifact, "unsupported artifact format %q", manifest.Format)
	}

	if err := json.Unmarshal(data, state); err != nil {
		return dferrors.Wrap(dferrors.KindIncompatibleArtifact, err, "decode model")
	}

	if d := schema().Digest(); manifest.SchemaDigest != d {
		return dferrors.Newf(dferrors.KindIncompatibleArtifact, "schema digest %s does not match %s", manifest.SchemaDigest, d)
	}

	return nil
}

// unfitted returns the error of a strict prediction on an unfitted model.
func unfitted(kind Kind) error {
	return dferrors.Newf(dferrors.KindInvalidArgument, "%s is not fitted and heuristic fallback is disabled", kind)
}
