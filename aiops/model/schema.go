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
	"encoding/json"

	"d7y.io/aiops/aiops/metricstore"
	"d7y.io/aiops/internal/dferrors"
	"d7y.io/aiops/pkg/digest"
)

// FeatureSchema declares the input of a model.
type FeatureSchema struct {
	// Stream is the stream kind the features are read from.
	Stream metricstore.StreamKind `json:"stream"`

	// Fields are the ordered feature names.
	Fields []string `json:"fields"`

	// Required are the fields every inference record must carry,
	// the remaining fields are optional and read as zero when absent.
	Required []string `json:"required,omitempty"`

	// SequenceLength is the window length of sequence inputs, zero otherwise.
	SequenceLength int `json:"sequence_length,omitempty"`
}

// OutputSchema declares the output of a model.
type OutputSchema struct {
	// Classes are the class labels of classifiers.
	Classes []string `json:"classes,omitempty"`

	// Target is the target field of regressors.
	Target string `json:"target,omitempty"`

	// ScoreMin and ScoreMax bound the score of anomaly scorers.
	ScoreMin float64 `json:"score_min,omitempty"`
	ScoreMax float64 `json:"score_max,omitempty"`
}

// Schema is the declared schema of a model.
type Schema struct {
	Features FeatureSchema `json:"features"`
	Output   OutputSchema  `json:"output"`
}

// Digest identifies the schema, so artifacts of another schema are rejected on load.
func (s Schema) Digest() string {
	raw, err := json.Marshal(s)
	if err != nil {
		return ""
	}

	return string(digest.AlgorithmSHA256) + ":" + digest.SHA256FromStrings(string(raw))
}

// checkFeatures rejects datasets whose columns differ from the declared fields.
func (s Schema) checkFeatures(dataset *metricstore.Dataset) error {
	if dataset == nil {
		return dferrors.New(dferrors.KindInsufficientData, "dataset is empty")
	}

	if len(dataset.Features) != len(s.Features.Fields) {
		return dferrors.Newf(dferrors.KindSchemaMismatch, "dataset has %d features, expected %d", len(dataset.Features), len(s.Features.Fields))
	}

	for i, field := range s.Features.Fields {
		if dataset.Features[i] != field {
			return dferrors.Newf(dferrors.KindSchemaMismatch, "dataset feature %d is %s, expected %s", i, dataset.Features[i], field)
		}
	}

	return nil
}

// checkRecord rejects records that carry none of the declared fields
// or miss a required one.
func (s Schema) checkRecord(record Record) error {
	for _, field := range s.Features.Required {
		if _, ok := record[field]; !ok {
			return dferrors.Newf(dferrors.KindSchemaMismatch, "missing required field %s", field)
		}
	}

	for _, field := range s.Features.Fields {
		if _, ok := record[field]; ok {
			return nil
		}
	}

	return dferrors.Newf(dferrors.KindSchemaMismatch, "record has none of the fields %v", s.Features.Fields)
}

// checkSequence applies checkRecord to every record of a sequence.
func (s Schema) checkSequence(sequence []Record) error {
	for i, record := range sequence {
		if err := s.checkRecord(record); err != nil {
			return dferrors.Wrapf(dferrors.KindSchemaMismatch, err, "record %d", i)
		}
	}

	return nil
}

// vector orders a record by the declared fields, absent optional fields are zero.
func (s Schema) vector(record Record) []float64 {
	row := make([]float64, len(s.Features.Fields))
	for i, field := range s.Features.Fields {
		row[i] = record[field]
	}

	return row
}

// FailureFeatures are the features of the failure predictor.
var FailureFeatures = []string{
	metricstore.FieldCPUUsage,
	metricstore.FieldMemoryUsage,
	metricstore.FieldDiskIO,
	metricstore.FieldNetworkTraffic,
	metricstore.FieldErrorRate,
	metricstore.FieldResponseTime,
	metricstore.FieldRequestRate,
}

// ThreatFeatures are the features of the threat detector.
var ThreatFeatures = []string{
	metricstore.FieldFailedAuthCount,
	metricstore.FieldRequestRate,
	metricstore.FieldUniqueIPs,
	metricstore.FieldAvgPayloadSize,
	metricstore.FieldPortScanScore,
	metricstore.FieldSQLInjectionScore,
	metricstore.FieldXSSScore,
	metricstore.FieldGeographicEntropy,
	metricstore.FieldTimeAnomalyScore,
	metricstore.FieldFileAccessRate,
	metricstore.FieldPrivilegeEscalationScore,
	metricstore.FieldDataTransferRate,
}

// CapacityFeatures are the snapshot features of the capacity forecaster.
var CapacityFeatures = []string{
	metricstore.FieldCPUUsage,
	metricstore.FieldMemoryUsage,
	metricstore.FieldStorageUsage,
	metricstore.FieldRequestRate,
	metricstore.FieldUserCount,
	metricstore.FieldTransactionCount,
}

// AnomalyFeatures are the metrics the anomaly scorer baselines.
var AnomalyFeatures = []string{
	metricstore.FieldCPUUsage,
	metricstore.FieldMemoryUsage,
	metricstore.FieldErrorRate,
	metricstore.FieldResponseTime,
}
