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
	"fmt"
	"time"
)

// StreamKind is a typed logical namespace of samples.
type StreamKind string

const (
	StreamInfraMetrics    StreamKind = "infra-metrics"
	StreamSecurityMetrics StreamKind = "security-metrics"
	StreamPrediction      StreamKind = "prediction"
	StreamDetection       StreamKind = "detection"
	StreamForecast        StreamKind = "forecast"
	StreamAnomaly         StreamKind = "anomaly"
	StreamRemediation     StreamKind = "remediation"
)

// StreamKinds lists every stream kind.
var StreamKinds = []StreamKind{
	StreamInfraMetrics,
	StreamSecurityMetrics,
	StreamPrediction,
	StreamDetection,
	StreamForecast,
	StreamAnomaly,
	StreamRemediation,
}

// ParseStreamKind converts s into a known stream kind.
func ParseStreamKind(s string) (StreamKind, error) {
	for _, kind := range StreamKinds {
		if string(kind) == s {
			return kind, nil
		}
	}

	return "", fmt.Errorf("unknown stream kind %q", s)
}

// Sample is one observation. Samples are immutable once ingested.
type Sample struct {
	// Timestamp is the wall-clock time of the observation in UTC.
	Timestamp time.Time

	// Source identifies the emitter, like a service name.
	Source string

	// Fields are the numeric values.
	Fields map[string]float64

	// Labels are the string values.
	Labels map[string]string
}

// Query selects samples of one stream kind in [Since, Until).
type Query struct {
	// Source filters by source, empty means all sources.
	Source string

	// Kind is the stream kind.
	Kind StreamKind

	// Since is the inclusive lower bound.
	Since time.Time

	// Until is the exclusive upper bound.
	Until time.Time

	// Fields to return, empty means all fields.
	Fields []string
}

// Aggregate is the windowed statistic of one field.
type Aggregate struct {
	// Count is the number of samples in the window.
	Count int64

	// Mean of the values.
	Mean float64

	// Max of the values.
	Max float64

	// Last is the value with the latest timestamp.
	Last float64

	// Std is the population standard deviation.
	Std float64

	// LastTimestamp is the timestamp of Last.
	LastTimestamp time.Time
}

// SweepResult reports what sweep_expired removed.
type SweepResult struct {
	// RawRows is the number of raw samples removed.
	RawRows int

	// Buckets is the number of rollup buckets removed.
	Buckets int
}

// HealthSummary is the one-hour health view of a service.
type HealthSummary struct {
	Source                 string
	AvgCPU                 float64
	MaxCPU                 float64
	AvgMemory              float64
	MaxMemory              float64
	AvgErrorRate           float64
	Samples                int64
	CriticalPredictions24h int
	CriticalThreats24h     int
}
