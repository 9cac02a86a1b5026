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
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/gammazero/deque"
	"github.com/montanaflynn/stats"
	"golang.org/x/exp/maps"

	"d7y.io/aiops/aiops/artifact"
	"d7y.io/aiops/aiops/metricstore"
	"d7y.io/aiops/internal/dferrors"
)

// MetricAnomalyRate is the fraction of validation rows scored anomalous.
const MetricAnomalyRate = "anomaly_rate"

// Baseline is the sliding window statistics of one metric.
type Baseline struct {
	Mean  float64
	Std   float64
	Count int
}

// AnomalyRootCause names the most deviating metric.
type AnomalyRootCause struct {
	Metric          string
	Cause           string
	PossibleReasons []string
	Correlated      []string
}

// Remediation is a suggested action for one anomalous metric.
type Remediation struct {
	Metric   string
	Action   string
	Priority string
	Steps    []string
}

// AnomalyResult is the outcome of scoring one record.
type AnomalyResult struct {
	Score       float64
	Anomalous   bool
	Threshold   float64
	ZScores     map[string]float64
	Baselines   map[string]Baseline
	RootCause   *AnomalyRootCause
	Remediation []Remediation
}

type anomalyState struct {
	Windows    map[string][]float64 `json:"windows"`
	WindowSize int                  `json:"window_size"`
	Threshold  float64              `json:"threshold"`
}

// AnomalyScorer scores records by z-score against a sliding window per metric.
type AnomalyScorer struct {
	threshold  float64
	windowSize int

	mu      sync.RWMutex
	windows map[string]*deque.Deque[float64]
	fitted  bool
}

// NewAnomalyScorer returns an anomaly scorer without baselines.
func NewAnomalyScorer(params Hyperparameters) *AnomalyScorer {
	return &AnomalyScorer{
		threshold:  params.ThresholdSigma,
		windowSize: params.WindowSize,
		windows:    make(map[string]*deque.Deque[float64]),
	}
}

// ScoreMax zero leaves the score unbounded above.
var anomalySchema = Schema{
	Features: FeatureSchema{
		Stream: metricstore.StreamInfraMetrics,
		Fields: AnomalyFeatures,
	},
	Output: OutputSchema{ScoreMin: 0},
}

func (a *AnomalyScorer) Kind() Kind {
	return KindAnomalyScorer
}

func (a *AnomalyScorer) DeclaredSchema() Schema {
	return anomalySchema
}

func (a *AnomalyScorer) Fitted() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.fitted
}

// Fit replaces the baselines with the dataset rows in time order.
func (a *AnomalyScorer) Fit(ctx context.Context, dataset *metricstore.Dataset) error {
	if err := anomalySchema.checkFeatures(dataset); err != nil {
		return err
	}

	if dataset.Len() == 0 {
		return dferrors.New(dferrors.KindInsufficientData, "dataset is empty")
	}

	if err := dferrors.FromContext(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.windows = make(map[string]*deque.Deque[float64])
	for _, row := range dataset.X {
		for i, field := range dataset.Features {
			a.push(field, row[i])
		}
	}
	a.fitted = true

	return nil
}

// Observe admits a record into the baselines.
func (a *AnomalyScorer) Observe(record Record) error {
	if err := checkRecords([]Record{record}); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, metric := range sortedMetrics(record) {
		a.push(metric, record[metric])
	}

	return nil
}

func (a *AnomalyScorer) push(metric string, v float64) {
	window, ok := a.windows[metric]
	if !ok {
		window = deque.New[float64]()
		a.windows[metric] = window
	}

	window.PushBack(v)
	for window.Len() > a.windowSize {
		window.PopFront()
	}
}

// Evaluate reports the baseline mean and std per metric and the anomalous fraction of dataset.
func (a *AnomalyScorer) Evaluate(ctx context.Context, dataset *metricstore.Dataset) (map[string]float64, error) {
	if !a.Fitted() {
		return nil, dferrors.New(dferrors.KindInvalidArgument, "model is not fitted")
	}

	if err := anomalySchema.checkFeatures(dataset); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	metrics := make(map[string]float64)
	for _, field := range AnomalyFeatures {
		baseline := a.baseline(field)
		metrics[field+"_mean"] = baseline.Mean
		metrics[field+"_std"] = baseline.Std
	}

	var anomalous int
	for _, row := range dataset.X {
		if err := dferrors.FromContext(ctx); err != nil {
			return nil, err
		}

		record := make(Record, len(dataset.Features))
		for i, field := range dataset.Features {
			record[field] = row[i]
		}

		if a.score(record).Anomalous {
			anomalous++
		}
	}

	metrics[MetricAnomalyRate] = 0
	if dataset.Len() > 0 {
		metrics[MetricAnomalyRate] = float64(anomalous) / float64(dataset.Len())
	}

	return metrics, nil
}

// Predict scores the record without admitting it into the baselines.
func (a *AnomalyScorer) Predict(input Input) (*Prediction, error) {
	if err := checkRecords([]Record{input.Record}); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	mode := ModeTrained
	if !a.fitted {
		if input.Strict {
			return nil, unfitted(a.Kind())
		}
		mode = ModeHeuristic
	}

	result := a.score(input.Record)
	return &Prediction{
		Kind:     KindAnomalyScorer,
		Mode:     mode,
		Score:    result.Score,
		Severity: severityFromScore(result.Score),
		Anomaly:  result,
	}, nil
}

// score computes z-scores against the current windows, callers hold the lock.
func (a *AnomalyScorer) score(record Record) *AnomalyResult {
	result := &AnomalyResult{
		Threshold: a.threshold,
		ZScores:   make(map[string]float64, len(record)),
		Baselines: make(map[string]Baseline, len(record)),
	}

	metrics := sortedMetrics(record)
	var sum float64
	for _, metric := range metrics {
		baseline := a.baseline(metric)
		z := 0.0
		if baseline.Count >= 2 && baseline.Std > 0 {
			z = (record[metric] - baseline.Mean) / baseline.Std
		}

		result.ZScores[metric] = z
		result.Baselines[metric] = baseline
		sum += math.Abs(z)
	}

	if len(metrics) > 0 {
		result.Score = sum / float64(len(metrics))
	}

	result.Anomalous = result.Score >= a.threshold
	if result.Anomalous {
		result.RootCause, result.Remediation = a.explain(result.ZScores)
	}

	return result
}

func (a *AnomalyScorer) baseline(metric string) Baseline {
	window, ok := a.windows[metric]
	if !ok || window.Len() == 0 {
		return Baseline{}
	}

	values := make([]float64, window.Len())
	for i := 0; i < window.Len(); i++ {
		values[i] = window.At(i)
	}

	mean, _ := stats.Mean(values)
	std, _ := stats.StandardDeviationPopulation(values)
	return Baseline{Mean: mean, Std: std, Count: len(values)}
}

// explain ranks metrics by |z| and suggests remediation for those above threshold.
func (a *AnomalyScorer) explain(zscores map[string]float64) (*AnomalyRootCause, []Remediation) {
	metrics := maps.Keys(zscores)
	sort.Slice(metrics, func(i, j int) bool {
		zi, zj := math.Abs(zscores[metrics[i]]), math.Abs(zscores[metrics[j]])
		if zi != zj {
			return zi > zj
		}

		return metrics[i] < metrics[j]
	})

	primary := metrics[0]
	cause, ok := anomalyCauses[primary]
	if !ok {
		cause = AnomalyRootCause{
			Cause:           fmt.Sprintf("unusual %s pattern", primary),
			PossibleReasons: []string{"system behavior deviation detected"},
		}
	}
	cause.Metric = primary

	for _, metric := range metrics[1:] {
		if len(cause.Correlated) == 2 {
			break
		}
		cause.Correlated = append(cause.Correlated, metric)
	}

	var remediation []Remediation
	for _, metric := range metrics {
		z := math.Abs(zscores[metric])
		if z < a.threshold {
			continue
		}

		r, ok := anomalyRemediation[metric]
		if !ok {
			r = Remediation{
				Action: "investigate_metric",
				Steps:  []string{fmt.Sprintf("review %s trends", metric), "check for system changes", "analyze related metrics"},
			}
		}

		r.Metric = metric
		r.Priority = severityFromScore(z)
		if metric == metricstore.FieldErrorRate {
			r.Priority = metricstore.SeverityHigh
		}
		remediation = append(remediation, r)
	}

	return &cause, remediation
}

func (a *AnomalyScorer) Save() ([]byte, artifact.Manifest, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	state := anomalyState{
		Windows:    make(map[string][]float64, len(a.windows)),
		WindowSize: a.windowSize,
		Threshold:  a.threshold,
	}
	for metric, window := range a.windows {
		values := make([]float64, window.Len())
		for i := range values {
			values[i] = window.At(i)
		}
		state.Windows[metric] = values
	}

	return save(a.Kind(), a.fitted, a.DeclaredSchema(), state)
}

// Load restores the baselines, the threshold stays the one the scorer was built with.
func (a *AnomalyScorer) Load(data []byte, manifest artifact.Manifest) error {
	var state anomalyState
	if err := load(a.Kind(), data, manifest, &state, a.DeclaredSchema); err != nil {
		return err
	}

	if state.WindowSize < 2 {
		return dferrors.New(dferrors.KindIncompatibleArtifact, "anomaly scorer state is malformed")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.windowSize = state.WindowSize
	a.windows = make(map[string]*deque.Deque[float64], len(state.Windows))
	for metric, values := range state.Windows {
		for _, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return dferrors.Newf(dferrors.KindIncompatibleArtifact, "baseline of %s holds a non finite value", metric)
			}
			a.push(metric, v)
		}
	}
	a.fitted = true

	return nil
}

func sortedMetrics(record Record) []string {
	metrics := maps.Keys(record)
	sort.Strings(metrics)
	return metrics
}

var anomalyCauses = map[string]AnomalyRootCause{
	metricstore.FieldCPUUsage: {
		Cause: "high cpu utilization",
		PossibleReasons: []string{
			"infinite loop or inefficient algorithm",
			"resource intensive process running",
			"insufficient cpu capacity",
		},
	},
	metricstore.FieldMemoryUsage: {
		Cause: "high memory consumption",
		PossibleReasons: []string{
			"memory leak in application",
			"large dataset loaded in memory",
			"insufficient memory allocation",
		},
	},
	metricstore.FieldErrorRate: {
		Cause: "elevated error rate",
		PossibleReasons: []string{
			"application bug or exception",
			"database connection issues",
			"external service failure",
		},
	},
	metricstore.FieldResponseTime: {
		Cause: "increased response time",
		PossibleReasons: []string{
			"slow database queries",
			"network latency",
			"resource contention",
		},
	},
}

var anomalyRemediation = map[string]Remediation{
	metricstore.FieldCPUUsage: {
		Action: "investigate_cpu",
		Steps:  []string{"check top processes consuming cpu", "review recent deployments", "consider horizontal scaling"},
	},
	metricstore.FieldMemoryUsage: {
		Action: "investigate_memory",
		Steps:  []string{"check for memory leaks", "analyze heap profiles", "consider adding more memory"},
	},
	metricstore.FieldErrorRate: {
		Action: "investigate_errors",
		Steps:  []string{"review application logs", "check database connectivity", "roll back recent changes if needed"},
	},
	metricstore.FieldResponseTime: {
		Action: "optimize_performance",
		Steps:  []string{"analyze slow queries", "check network latency", "review caching effectiveness"},
	},
}
