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
	"math/rand"
	"strconv"
	"time"

	"d7y.io/aiops/aiops/artifact"
	"d7y.io/aiops/aiops/metricstore"
	"d7y.io/aiops/internal/dferrors"
	logger "d7y.io/aiops/internal/dflog"
)

const (
	// ClassStable is the negative class of the failure predictor.
	ClassStable = "stable"

	// ClassWillFailSoon is the positive class of the failure predictor.
	ClassWillFailSoon = "will-fail-soon"

	// failureLookahead is the number of records a weak label looks ahead.
	failureLookahead = 24

	// heuristicRecent is the number of recent records the heuristic averages.
	heuristicRecent = 6
)

// FailureClasses are the classes of the failure predictor.
var FailureClasses = []string{ClassStable, ClassWillFailSoon}

// FailureDetails explains a failure prediction.
type FailureDetails struct {
	Probability        float64
	TimeToFailureHours int
	PredictedFailureAt time.Time
	RootCauses         []string
	AffectedComponents []string
	Recommendations    []string
}

type failureState struct {
	Network *rnn      `json:"network"`
	Mean    []float64 `json:"mean"`
	Std     []float64 `json:"std"`
	Window  int       `json:"window"`
}

// FailurePredictor classifies a window of infrastructure records as stable or will-fail-soon.
type FailurePredictor struct {
	params Hyperparameters
	state  failureState
	fitted bool
}

// NewFailurePredictor returns an unfitted failure predictor.
func NewFailurePredictor(params Hyperparameters) *FailurePredictor {
	return &FailurePredictor{
		params: params,
		state:  failureState{Window: params.WindowLength},
	}
}

func failureSchema(window int) Schema {
	return Schema{
		Features: FeatureSchema{
			Stream:         metricstore.StreamInfraMetrics,
			Fields:         FailureFeatures,
			Required:       []string{metricstore.FieldCPUUsage, metricstore.FieldMemoryUsage},
			SequenceLength: window,
		},
		Output: OutputSchema{Classes: FailureClasses},
	}
}

func (f *FailurePredictor) Kind() Kind {
	return KindSequenceClassifier
}

func (f *FailurePredictor) DeclaredSchema() Schema {
	return failureSchema(f.state.Window)
}

func (f *FailurePredictor) Fitted() bool {
	return f.fitted
}

// Fit trains the recurrent network on windows built per source.
func (f *FailurePredictor) Fit(ctx context.Context, dataset *metricstore.Dataset) error {
	schema := f.DeclaredSchema()
	if err := schema.checkFeatures(dataset); err != nil {
		return err
	}

	mean, std := columnStats(dataset.X)
	samples, err := f.samples(dataset, mean, std)
	if err != nil {
		return err
	}

	var positives float64
	for _, sample := range samples {
		positives += sample.label
	}

	// Balanced class weights.
	total := float64(len(samples))
	for i := range samples {
		samples[i].weight = 1
		if positives > 0 && positives < total {
			if samples[i].label == 1 {
				samples[i].weight = total / (2 * positives)
			} else {
				samples[i].weight = total / (2 * (total - positives))
			}
		}
	}

	rng := rand.New(rand.NewSource(f.params.Seed))
	network := newRNN(len(schema.Features.Fields), f.params.HiddenSize, f.params.DenseSize, rng)
	loss, err := network.fit(ctx, samples, f.params, rng)
	if err != nil {
		return err
	}

	f.state = failureState{
		Network: network,
		Mean:    mean,
		Std:     std,
		Window:  f.state.Window,
	}
	f.fitted = true

	logger.TrainLogger.Debugf("failure predictor fitted on %d windows with %.0f positives, loss %.4f", len(samples), positives, loss)
	return nil
}

// samples builds normalized windows and labels from dataset.
func (f *FailurePredictor) samples(dataset *metricstore.Dataset, mean, std []float64) ([]sequenceSample, error) {
	explicit := dataset.Label != "" && len(dataset.Labels) == dataset.Len()

	var samples []sequenceSample
	for _, rows := range groupBySource(dataset) {
		last := len(rows) - 1
		if explicit {
			last = len(rows)
		}

		for i := 0; i < last; i++ {
			start := i - f.state.Window + 1
			if start < 0 {
				start = 0
			}

			window := make([][]float64, 0, i-start+1)
			for _, row := range rows[start : i+1] {
				window = append(window, dataset.X[row])
			}

			var label float64
			if explicit {
				positive, err := parseFailureLabel(dataset.Labels[rows[i]])
				if err != nil {
					return nil, err
				}

				if positive {
					label = 1
				}
			} else {
				end := i + 1 + failureLookahead
				if end > len(rows) {
					end = len(rows)
				}

				for _, row := range rows[i+1 : end] {
					if failing(dataset.X[row]) {
						label = 1
						break
					}
				}
			}

			samples = append(samples, sequenceSample{
				steps: normalizeSteps(pad(window, f.state.Window), mean, std),
				label: label,
			})
		}
	}

	if len(samples) == 0 {
		return nil, dferrors.New(dferrors.KindInsufficientData, "no windows could be built from the dataset")
	}

	return samples, nil
}

// Evaluate reports accuracy, precision, recall and AUC of the positive class.
func (f *FailurePredictor) Evaluate(ctx context.Context, dataset *metricstore.Dataset) (map[string]float64, error) {
	if !f.fitted {
		return nil, dferrors.New(dferrors.KindInvalidArgument, "model is not fitted")
	}

	if err := f.DeclaredSchema().checkFeatures(dataset); err != nil {
		return nil, err
	}

	samples, err := f.samples(dataset, f.state.Mean, f.state.Std)
	if err != nil {
		return nil, err
	}

	var (
		actual    = make([]string, len(samples))
		predicted = make([]string, len(samples))
		scores    = make([]float64, len(samples))
	)
	for i, sample := range samples {
		if err := dferrors.FromContext(ctx); err != nil {
			return nil, err
		}

		scores[i] = f.state.Network.run(sample.steps, 0, nil).output
		actual[i] = failureClass(sample.label)
		predicted[i] = ClassStable
		if scores[i] >= 0.5 {
			predicted[i] = ClassWillFailSoon
		}
	}

	return binaryMetrics(actual, predicted, scores, ClassWillFailSoon), nil
}

// Predict scores the input sequence, a single record is a one record sequence.
func (f *FailurePredictor) Predict(input Input) (*Prediction, error) {
	sequence := input.Sequence
	if len(sequence) == 0 && input.Record != nil {
		sequence = []Record{input.Record}
	}

	if err := checkRecords(sequence); err != nil {
		return nil, err
	}

	timestamp := input.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	if !f.fitted {
		if input.Strict {
			return nil, unfitted(f.Kind())
		}

		return f.heuristic(sequence, timestamp), nil
	}

	if len(sequence) == 0 {
		return nil, dferrors.New(dferrors.KindSchemaMismatch, "sequence is empty")
	}

	schema := f.DeclaredSchema()
	if err := schema.checkSequence(sequence); err != nil {
		return nil, err
	}

	window := make([][]float64, 0, len(sequence))
	for _, record := range sequence {
		window = append(window, schema.vector(record))
	}

	steps := normalizeSteps(pad(window, f.state.Window), f.state.Mean, f.state.Std)
	probability := f.state.Network.run(steps, 0, nil).output
	return failurePrediction(ModeTrained, probability, sequence, timestamp), nil
}

// heuristic is a weighted threshold sum over the mean of the most recent records.
func (f *FailurePredictor) heuristic(sequence []Record, timestamp time.Time) *Prediction {
	if len(sequence) == 0 {
		prediction := failurePrediction(ModeHeuristic, 0.1, nil, timestamp)
		prediction.Failure.RootCauses = []string{"insufficient data for prediction"}
		prediction.Failure.Recommendations = []string{"collect more metrics data"}
		return prediction
	}

	recent := sequence
	if len(recent) > heuristicRecent {
		recent = recent[len(recent)-heuristicRecent:]
	}

	var cpu, memory, errorRate float64
	for _, record := range recent {
		cpu += record[metricstore.FieldCPUUsage]
		memory += record[metricstore.FieldMemoryUsage]
		errorRate += record[metricstore.FieldErrorRate]
	}

	n := float64(len(recent))
	cpu, memory, errorRate = cpu/n, memory/n, errorRate/n

	var score float64
	if cpu > 80 {
		score += 0.3
	}

	if memory > 85 {
		score += 0.3
	}

	if errorRate > 5 {
		score += 0.4
	}

	return failurePrediction(ModeHeuristic, math.Min(score, 0.95), sequence, timestamp)
}

func (f *FailurePredictor) Save() ([]byte, artifact.Manifest, error) {
	return save(f.Kind(), f.fitted, f.DeclaredSchema(), f.state)
}

func (f *FailurePredictor) Load(data []byte, manifest artifact.Manifest) error {
	var state failureState
	if err := load(f.Kind(), data, manifest, &state, func() Schema { return failureSchema(state.Window) }); err != nil {
		return err
	}

	inputs := len(FailureFeatures)
	if state.Network == nil || !state.Network.valid() || state.Network.Inputs != inputs ||
		len(state.Mean) != inputs || len(state.Std) != inputs || state.Window < 1 {
		return dferrors.New(dferrors.KindIncompatibleArtifact, "failure predictor state is malformed")
	}

	f.state = state
	f.fitted = true
	return nil
}

func failurePrediction(mode Mode, probability float64, sequence []Record, timestamp time.Time) *Prediction {
	probabilities := probabilityMap(FailureClasses, []float64{1 - probability, probability})
	probability = probabilities[ClassWillFailSoon]

	class := ClassStable
	if probability >= 0.5 {
		class = ClassWillFailSoon
	}

	severity := severityFromProbability(probability)
	hours := timeToFailureHours(probability)

	var latest Record
	if len(sequence) > 0 {
		latest = sequence[len(sequence)-1]
	}

	causes := failureRootCauses(latest)
	return &Prediction{
		Kind:          KindSequenceClassifier,
		Mode:          mode,
		Score:         probability,
		Severity:      severity,
		Class:         class,
		Probabilities: probabilities,
		Failure: &FailureDetails{
			Probability:        probability,
			TimeToFailureHours: hours,
			PredictedFailureAt: timestamp.Add(time.Duration(hours) * time.Hour),
			RootCauses:         causes,
			AffectedComponents: affectedComponents(latest),
			Recommendations:    failureRecommendations(severity, latest),
		},
	}
}

func timeToFailureHours(probability float64) int {
	switch {
	case probability >= 0.8:
		return 12
	case probability >= 0.6:
		return 24
	default:
		return 48
	}
}

func failureRootCauses(record Record) []string {
	var causes []string
	if v := record[metricstore.FieldCPUUsage]; v > 80 {
		causes = append(causes, fmt.Sprintf("high cpu usage: %.1f%%", v))
	}

	if v := record[metricstore.FieldMemoryUsage]; v > 85 {
		causes = append(causes, fmt.Sprintf("high memory usage: %.1f%%", v))
	}

	if v := record[metricstore.FieldErrorRate]; v > 5 {
		causes = append(causes, fmt.Sprintf("elevated error rate: %.1f errors/min", v))
	}

	if v := record[metricstore.FieldResponseTime]; v > 1000 {
		causes = append(causes, fmt.Sprintf("slow response time: %.0fms", v))
	}

	if v := record[metricstore.FieldDiskIO]; v > 80 {
		causes = append(causes, fmt.Sprintf("disk io saturation: %.1f%%", v))
	}

	if len(causes) == 0 {
		return []string{"no specific issues detected"}
	}

	return causes
}

func affectedComponents(record Record) []string {
	var components []string
	if record[metricstore.FieldCPUUsage] > 70 || record[metricstore.FieldMemoryUsage] > 80 {
		components = append(components, "compute")
	}

	if record[metricstore.FieldNetworkTraffic] > 80 {
		components = append(components, "network")
	}

	if record[metricstore.FieldErrorRate] > 5 || record[metricstore.FieldResponseTime] > 1000 {
		components = append(components, "application")
	}

	return components
}

func failureRecommendations(severity string, record Record) []string {
	var recommendations []string
	switch severity {
	case metricstore.SeverityCritical, metricstore.SeverityHigh:
		recommendations = append(recommendations,
			"scale up resources immediately",
			"enable auto-scaling if not already active",
			"alert the on-call team",
		)
	case metricstore.SeverityMedium:
		recommendations = append(recommendations,
			"review and optimize resource allocation",
			"schedule a maintenance window",
		)
	default:
		recommendations = append(recommendations, "continue monitoring")
	}

	if record[metricstore.FieldCPUUsage] > 80 {
		recommendations = append(recommendations, "optimize cpu intensive operations", "consider horizontal scaling")
	}

	if record[metricstore.FieldMemoryUsage] > 85 {
		recommendations = append(recommendations, "investigate memory leaks", "increase memory allocation")
	}

	if record[metricstore.FieldErrorRate] > 5 {
		recommendations = append(recommendations, "review application logs for error patterns")
	}

	return recommendations
}

// failing reports whether a raw record crosses a failure threshold.
func failing(row []float64) bool {
	// Indexes follow FailureFeatures.
	return row[0] > 80 || row[1] > 85 || row[4] > 5
}

func failureClass(label float64) string {
	if label == 1 {
		return ClassWillFailSoon
	}

	return ClassStable
}

func parseFailureLabel(value string) (bool, error) {
	switch value {
	case ClassWillFailSoon:
		return true, nil
	case ClassStable:
		return false, nil
	}

	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false, dferrors.Newf(dferrors.KindSchemaMismatch, "unknown failure label %q", value)
	}

	return v >= 0.5, nil
}

// pad keeps the last n rows and right-pads shorter windows with the last row.
func pad(window [][]float64, n int) [][]float64 {
	if len(window) > n {
		return window[len(window)-n:]
	}

	padded := make([][]float64, 0, n)
	padded = append(padded, window...)
	for len(padded) < n {
		padded = append(padded, window[len(window)-1])
	}

	return padded
}

func normalizeSteps(steps [][]float64, mean, std []float64) [][]float64 {
	out := make([][]float64, len(steps))
	for t, step := range steps {
		out[t] = make([]float64, len(step))
		for j, v := range step {
			out[t][j] = (v - mean[j]) / std[j]
		}
	}

	return out
}

// columnStats returns per column mean and population std, a near zero std becomes one.
func columnStats(x [][]float64) ([]float64, []float64) {
	if len(x) == 0 {
		return nil, nil
	}

	cols := len(x[0])
	mean := make([]float64, cols)
	std := make([]float64, cols)
	for _, row := range x {
		for j, v := range row {
			mean[j] += v
		}
	}

	n := float64(len(x))
	for j := range mean {
		mean[j] /= n
	}

	for _, row := range x {
		for j, v := range row {
			std[j] += (v - mean[j]) * (v - mean[j])
		}
	}

	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
		if std[j] < 1e-9 {
			std[j] = 1
		}
	}

	return mean, std
}

// groupBySource returns row indexes per source in dataset order.
func groupBySource(dataset *metricstore.Dataset) [][]int {
	index := make(map[string]int)
	var groups [][]int
	for i := 0; i < dataset.Len(); i++ {
		source := ""
		if i < len(dataset.Sources) {
			source = dataset.Sources[i]
		}

		g, ok := index[source]
		if !ok {
			g = len(groups)
			index[source] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}

	return groups
}

// checkRecords rejects values that are not finite.
func checkRecords(records []Record) error {
	for _, record := range records {
		for field, v := range record {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return dferrors.Newf(dferrors.KindSchemaMismatch, "field %s is not a finite number", field)
			}
		}
	}

	return nil
}
