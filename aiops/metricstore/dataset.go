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

package metricstore

import (
	"context"
	"strconv"
	"time"

	"d7y.io/aiops/internal/dferrors"
)

// DatasetQuery describes a training view.
type DatasetQuery struct {
	// Source filters by source, empty means all sources.
	Source string

	// Kind is the stream kind.
	Kind StreamKind

	// Since is the inclusive lower bound.
	Since time.Time

	// Until is the exclusive upper bound.
	Until time.Time

	// Features are the ordered numeric fields of each row.
	Features []string

	// Label is an optional label name, looked up in labels and then in fields.
	Label string
}

// Dataset is a materialized training view, rows are ordered by time.
type Dataset struct {
	Kind       StreamKind
	Features   []string
	Label      string
	Timestamps []time.Time
	Sources    []string
	X          [][]float64
	Labels     []string
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.X)
}

// Slice returns rows [start, end) sharing the underlying arrays.
func (d *Dataset) Slice(start, end int) *Dataset {
	sliced := &Dataset{
		Kind:       d.Kind,
		Features:   d.Features,
		Label:      d.Label,
		Timestamps: d.Timestamps[start:end],
		Sources:    d.Sources[start:end],
		X:          d.X[start:end],
	}

	if d.Labels != nil {
		sliced.Labels = d.Labels[start:end]
	}

	return sliced
}

// Select returns the rows at indexes in order.
func (d *Dataset) Select(indexes []int) *Dataset {
	selected := &Dataset{
		Kind:     d.Kind,
		Features: d.Features,
		Label:    d.Label,
	}

	for _, i := range indexes {
		selected.Timestamps = append(selected.Timestamps, d.Timestamps[i])
		selected.Sources = append(selected.Sources, d.Sources[i])
		selected.X = append(selected.X, d.X[i])
		if d.Labels != nil {
			selected.Labels = append(selected.Labels, d.Labels[i])
		}
	}

	return selected
}

// Dataset materializes a training view. Rows missing a feature or the label are skipped.
func (s *store) Dataset(ctx context.Context, query DatasetQuery) (*Dataset, error) {
	schema, ok := s.schemas[query.Kind]
	if !ok {
		return nil, dferrors.Newf(dferrors.KindSchemaMismatch, "unknown stream kind %s", query.Kind)
	}

	if len(query.Features) == 0 {
		return nil, dferrors.New(dferrors.KindSchemaMismatch, "dataset requires at least one feature")
	}

	for _, feature := range query.Features {
		if !schema.Declares(feature) {
			return nil, dferrors.Newf(dferrors.KindSchemaMismatch, "feature %s is not declared by %s", feature, query.Kind)
		}
	}

	samples, err := s.scan(ctx, query.Kind, query.Source, query.Since, query.Until, nil, time.Now())
	if err != nil {
		return nil, err
	}

	dataset := &Dataset{
		Kind:     query.Kind,
		Features: query.Features,
		Label:    query.Label,
	}
	if query.Label != "" {
		dataset.Labels = []string{}
	}

	for _, sample := range samples {
		row, ok := featureRow(sample, query.Features)
		if !ok {
			continue
		}

		if query.Label != "" {
			label, ok := labelOf(sample, query.Label)
			if !ok {
				continue
			}

			dataset.Labels = append(dataset.Labels, label)
		}

		dataset.Timestamps = append(dataset.Timestamps, sample.Timestamp)
		dataset.Sources = append(dataset.Sources, sample.Source)
		dataset.X = append(dataset.X, row)
	}

	return dataset, nil
}

func featureRow(sample Sample, features []string) ([]float64, bool) {
	row := make([]float64, len(features))
	for i, feature := range features {
		value, ok := sample.Fields[feature]
		if !ok {
			return nil, false
		}

		row[i] = value
	}

	return row, true
}

func labelOf(sample Sample, name string) (string, bool) {
	if label, ok := sample.Labels[name]; ok {
		return label, true
	}

	if value, ok := sample.Fields[name]; ok {
		return strconv.FormatFloat(value, 'f', -1, 64), true
	}

	return "", false
}
