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
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/sjwhitworth/golearn/base"
	"golang.org/x/exp/slices"

	"d7y.io/aiops/aiops/artifact"
	"d7y.io/aiops/aiops/metricstore"
	"d7y.io/aiops/internal/dferrors"
	logger "d7y.io/aiops/internal/dflog"
)

const (
	// CapacityTarget is the regression target, cpu usage one day ahead.
	CapacityTarget = "cpu_usage_24h"

	// Record keys that carry growth rates into a forecast.
	FieldGrowthRate7d  = "growth_rate_7d"
	FieldGrowthRate30d = "growth_rate_30d"

	DefaultGrowthRate7d  = 0.05
	DefaultGrowthRate30d = 0.10

	// DefaultHorizon is the number of forecast days when the input sets none.
	DefaultHorizon = 7

	// MaxHorizon bounds the number of forecast days.
	MaxHorizon = 365

	CapacityThreshold = 80.0
	CapacityCritical  = 95.0

	// Recommendation tiers.
	RecommendationImmediate = "immediate_scaling"
	RecommendationProactive = "proactive_scaling"
	RecommendationPlan      = "plan_scaling"
	RecommendationMonitor   = "monitor"

	targetLag       = 24 * time.Hour
	targetTolerance = 12 * time.Hour
	day             = 24 * time.Hour

	trainedConfidence   = 0.95
	heuristicConfidence = 0.65
)

// CapacityDerivedFeatures are the columns the boosted trees are fitted on.
var CapacityDerivedFeatures = append(append([]string(nil), CapacityFeatures...),
	"hour_of_day",
	"day_of_week",
	"day_of_month",
	"is_weekend",
	"is_business_hours",
	FieldGrowthRate7d,
	FieldGrowthRate30d,
	"seasonal_factor",
	"trend_factor",
)

var scaleFactors = map[string]float64{
	RecommendationImmediate: 2.0,
	RecommendationProactive: 1.5,
	RecommendationPlan:      1.3,
	RecommendationMonitor:   1.0,
}

// ForecastDay is the forecast of one day.
type ForecastDay struct {
	Day       int
	Timestamp time.Time
	Predicted float64
	Lower     float64
	Upper     float64
}

// Forecast is a capacity forecast over the horizon.
type Forecast struct {
	Target string
	Days   []ForecastDay
	Max    float64
	Avg    float64

	// DaysToThreshold is the first day above CapacityThreshold, zero if none.
	DaysToThreshold int

	// DaysToCritical is the first day above CapacityCritical, zero if none.
	DaysToCritical int

	Recommendation string
	ScaleFactor    float64
	Confidence     float64
	GrowthRate7d   float64
	GrowthRate30d  float64
	TrendFactor    float64
}

type capacityState struct {
	Booster *booster `json:"booster"`
	Spread  float64  `json:"spread"`
}

// CapacityForecaster forecasts cpu usage day by day.
type CapacityForecaster struct {
	params Hyperparameters
	state  capacityState
	fitted bool
}

// NewCapacityForecaster returns an unfitted capacity forecaster.
func NewCapacityForecaster(params Hyperparameters) *CapacityForecaster {
	return &CapacityForecaster{params: params}
}

var capacitySchema = Schema{
	Features: FeatureSchema{
		Stream:   metricstore.StreamInfraMetrics,
		Fields:   CapacityFeatures,
		Required: []string{metricstore.FieldCPUUsage},
	},
	Output: OutputSchema{Target: CapacityTarget},
}

func (c *CapacityForecaster) Kind() Kind {
	return KindRegressor
}

func (c *CapacityForecaster) DeclaredSchema() Schema {
	return capacitySchema
}

func (c *CapacityForecaster) Fitted() bool {
	return c.fitted
}

// Prepare derives time and growth features and the one day ahead target
// from raw infrastructure rows. Rows without a target are dropped.
func (c *CapacityForecaster) Prepare(dataset *metricstore.Dataset) (*metricstore.Dataset, error) {
	if err := capacitySchema.checkFeatures(dataset); err != nil {
		return nil, err
	}

	prepared := &metricstore.Dataset{
		Kind:     dataset.Kind,
		Features: CapacityDerivedFeatures,
		Label:    CapacityTarget,
		Labels:   []string{},
	}

	for _, rows := range groupBySource(dataset) {
		timestamps := make([]time.Time, len(rows))
		for i, row := range rows {
			timestamps[i] = dataset.Timestamps[row]
		}

		for i, row := range rows {
			t := timestamps[i]
			j := sort.Search(len(timestamps), func(k int) bool { return !timestamps[k].Before(t.Add(targetLag)) })
			if j >= len(timestamps) || timestamps[j].After(t.Add(targetLag+targetTolerance)) {
				continue
			}

			record := capacityRecord(dataset.X[row])
			record[FieldGrowthRate7d] = growthRate(dataset, rows, timestamps, i, 7*day, DefaultGrowthRate7d)
			record[FieldGrowthRate30d] = growthRate(dataset, rows, timestamps, i, 30*day, DefaultGrowthRate30d)

			target := dataset.X[rows[j]][0]
			prepared.Timestamps = append(prepared.Timestamps, t)
			prepared.Sources = append(prepared.Sources, dataset.Sources[row])
			prepared.X = append(prepared.X, capacityFeatures(record, t))
			prepared.Labels = append(prepared.Labels, strconv.FormatFloat(target, 'f', -1, 64))
		}
	}

	sortByTime(prepared)
	return prepared, nil
}

// Fit boosts regression trees, holding out the latest tenth for early stopping.
func (c *CapacityForecaster) Fit(ctx context.Context, dataset *metricstore.Dataset) error {
	grid, err := c.grid(dataset)
	if err != nil {
		return err
	}

	_, n := grid.Size()
	if n < 2*boostingMinLeaf {
		return dferrors.Newf(dferrors.KindInsufficientData, "capacity forecaster requires %d rows with a target, got %d", 2*boostingMinLeaf, n)
	}

	split := n
	if n >= 20 {
		split = n - n/10
	}

	train, valid := splitGrid(grid, split)
	b, err := fitBooster(ctx, train, valid, boostConfig{
		rounds:        c.params.Rounds,
		depth:         c.params.BoostingDepth,
		shrinkage:     c.params.Shrinkage,
		subsample:     c.params.Subsample,
		earlyStopping: c.params.EarlyStoppingRounds,
		seed:          c.params.Seed,
	})
	if err != nil {
		return err
	}

	predicted, err := b.predictGrid(ctx, grid)
	if err != nil {
		return err
	}

	_, y, err := gridRows(grid)
	if err != nil {
		return dferrors.Wrap(dferrors.KindSchemaMismatch, err, "read training grid")
	}

	residuals := make([]float64, len(y))
	for i := range y {
		residuals[i] = y[i] - predicted[i]
	}

	spread, err := stats.StandardDeviationPopulation(residuals)
	if err != nil {
		return dferrors.Wrap(dferrors.KindNumericalNonconvergence, err, "residual spread")
	}

	if math.IsNaN(spread) || math.IsInf(spread, 0) {
		return dferrors.New(dferrors.KindNumericalNonconvergence, "residual spread is not finite")
	}

	c.state = capacityState{Booster: b, Spread: spread}
	c.fitted = true

	logger.TrainLogger.Debugf("capacity forecaster fitted %d trees on %d rows, residual spread %.4f", len(b.Trees), n, spread)
	return nil
}

// grid accepts raw or prepared datasets and lays the derived rows out as
// a golearn instance grid with the target as class attribute.
func (c *CapacityForecaster) grid(dataset *metricstore.Dataset) (*base.DenseInstances, error) {
	if dataset == nil {
		return nil, dferrors.New(dferrors.KindInsufficientData, "dataset is empty")
	}

	if !slices.Equal(dataset.Features, CapacityDerivedFeatures) {
		prepared, err := c.Prepare(dataset)
		if err != nil {
			return nil, err
		}
		dataset = prepared
	}

	y := make([]float64, len(dataset.Labels))
	for i, label := range dataset.Labels {
		v, err := strconv.ParseFloat(label, 64)
		if err != nil {
			return nil, dferrors.Wrapf(dferrors.KindSchemaMismatch, err, "target %q is not a number", label)
		}
		y[i] = v
	}

	if len(y) != dataset.Len() {
		return nil, dferrors.New(dferrors.KindSchemaMismatch, "capacity dataset requires a target per row")
	}

	grid, err := newGrid(CapacityDerivedFeatures, CapacityTarget, dataset.X, y)
	if err != nil {
		return nil, dferrors.Wrap(dferrors.KindSchemaMismatch, err, "build training grid")
	}

	return grid, nil
}

// Evaluate reports r2, rmse and mae of one day ahead predictions.
func (c *CapacityForecaster) Evaluate(ctx context.Context, dataset *metricstore.Dataset) (map[string]float64, error) {
	if !c.fitted {
		return nil, dferrors.New(dferrors.KindInvalidArgument, "model is not fitted")
	}

	grid, err := c.grid(dataset)
	if err != nil {
		return nil, err
	}

	if _, n := grid.Size(); n == 0 {
		return nil, dferrors.New(dferrors.KindInsufficientData, "validation dataset has no rows with a target")
	}

	predicted, err := c.state.Booster.predictGrid(ctx, grid)
	if err != nil {
		return nil, err
	}

	_, y, err := gridRows(grid)
	if err != nil {
		return nil, dferrors.Wrap(dferrors.KindSchemaMismatch, err, "read validation grid")
	}

	return regressionMetrics(y, predicted), nil
}

// Predict forecasts each day of the horizon, feeding every day into the next.
func (c *CapacityForecaster) Predict(input Input) (*Prediction, error) {
	if err := checkRecords([]Record{input.Record}); err != nil {
		return nil, err
	}

	horizon := input.Horizon
	if horizon <= 0 {
		horizon = DefaultHorizon
	}

	if horizon > MaxHorizon {
		return nil, dferrors.Newf(dferrors.KindInvalidArgument, "horizon %d exceeds %d days", horizon, MaxHorizon)
	}

	timestamp := input.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	timestamp = timestamp.UTC()

	record := Record{}
	for k, v := range input.Record {
		record[k] = v
	}

	g7, ok := record[FieldGrowthRate7d]
	if !ok {
		g7 = DefaultGrowthRate7d
		record[FieldGrowthRate7d] = g7
	}

	g30, ok := record[FieldGrowthRate30d]
	if !ok {
		g30 = DefaultGrowthRate30d
		record[FieldGrowthRate30d] = g30
	}

	if !c.fitted {
		if input.Strict {
			return nil, unfitted(c.Kind())
		}

		return c.heuristic(record, timestamp, horizon, g7, g30), nil
	}

	if err := capacitySchema.checkRecord(input.Record); err != nil {
		return nil, err
	}

	days := make([]ForecastDay, 0, horizon)
	for d := 1; d <= horizon; d++ {
		at := timestamp.Add(time.Duration(d-1) * day)
		predicted := clampUsage(c.state.Booster.predict(capacityFeatures(record, at)))
		ci := 1.96 * c.state.Spread * math.Sqrt(float64(d))
		days = append(days, ForecastDay{
			Day:       d,
			Timestamp: at.Add(day),
			Predicted: predicted,
			Lower:     clampUsage(predicted - ci),
			Upper:     clampUsage(predicted + ci),
		})

		record[metricstore.FieldCPUUsage] = predicted
	}

	return forecastPrediction(ModeTrained, days, trainedConfidence, g7, g30), nil
}

// heuristic extrapolates the 7 day growth rate linearly with a seasonal factor.
func (c *CapacityForecaster) heuristic(record Record, timestamp time.Time, horizon int, g7, g30 float64) *Prediction {
	cpu, ok := record[metricstore.FieldCPUUsage]
	if !ok {
		cpu = 50
	}

	days := make([]ForecastDay, 0, horizon)
	for d := 1; d <= horizon; d++ {
		at := timestamp.Add(time.Duration(d) * day)
		predicted := clampUsage(cpu * (1 + g7*float64(d)/7) * seasonalFactor(at))
		ci := 0.1 * predicted * math.Sqrt(float64(d))
		days = append(days, ForecastDay{
			Day:       d,
			Timestamp: at,
			Predicted: predicted,
			Lower:     clampUsage(predicted - ci),
			Upper:     clampUsage(predicted + ci),
		})
	}

	return forecastPrediction(ModeHeuristic, days, heuristicConfidence, g7, g30)
}

func (c *CapacityForecaster) Save() ([]byte, artifact.Manifest, error) {
	return save(c.Kind(), c.fitted, c.DeclaredSchema(), c.state)
}

func (c *CapacityForecaster) Load(data []byte, manifest artifact.Manifest) error {
	var state capacityState
	if err := load(c.Kind(), data, manifest, &state, c.DeclaredSchema); err != nil {
		return err
	}

	if state.Booster == nil || !state.Booster.valid() || state.Booster.Features != len(CapacityDerivedFeatures) {
		return dferrors.New(dferrors.KindIncompatibleArtifact, "capacity forecaster state is malformed")
	}

	c.state = state
	c.fitted = true
	return nil
}

func forecastPrediction(mode Mode, days []ForecastDay, confidence, g7, g30 float64) *Prediction {
	forecast := &Forecast{
		Target:        CapacityTarget,
		Days:          days,
		Confidence:    confidence,
		GrowthRate7d:  g7,
		GrowthRate30d: g30,
		TrendFactor:   trendFactor(g7, g30),
	}

	var sum float64
	for _, d := range days {
		sum += d.Predicted
		forecast.Max = math.Max(forecast.Max, d.Predicted)
		if forecast.DaysToThreshold == 0 && d.Predicted > CapacityThreshold {
			forecast.DaysToThreshold = d.Day
		}

		if forecast.DaysToCritical == 0 && d.Predicted > CapacityCritical {
			forecast.DaysToCritical = d.Day
		}
	}
	forecast.Avg = sum / float64(len(days))

	severity := metricstore.SeverityLow
	switch {
	case forecast.DaysToCritical > 0 || (forecast.DaysToThreshold > 0 && forecast.DaysToThreshold <= 3):
		forecast.Recommendation = RecommendationImmediate
		severity = metricstore.SeverityCritical
	case forecast.DaysToThreshold > 0:
		forecast.Recommendation = RecommendationProactive
		severity = metricstore.SeverityHigh
	case forecast.Max > 70:
		forecast.Recommendation = RecommendationPlan
		severity = metricstore.SeverityMedium
	default:
		forecast.Recommendation = RecommendationMonitor
	}
	forecast.ScaleFactor = scaleFactors[forecast.Recommendation]

	return &Prediction{
		Kind:     KindRegressor,
		Mode:     mode,
		Score:    days[0].Predicted,
		Severity: severity,
		Forecast: forecast,
	}
}

// capacityFeatures lays out record at t in CapacityDerivedFeatures order.
func capacityFeatures(record Record, t time.Time) []float64 {
	t = t.UTC()
	hour := t.Hour()
	weekday := (int(t.Weekday()) + 6) % 7
	g7, g30 := record[FieldGrowthRate7d], record[FieldGrowthRate30d]

	x := capacitySchema.vector(record)
	return append(x,
		float64(hour),
		float64(weekday),
		float64(t.Day()),
		indicator(weekday >= 5),
		indicator(hour >= 9 && hour <= 17),
		g7,
		g30,
		seasonalFactor(t),
		trendFactor(g7, g30),
	)
}

// seasonalFactor is lower on weekends, higher in business hours and lower at night.
func seasonalFactor(t time.Time) float64 {
	t = t.UTC()
	factor := 1.0
	if weekday := (int(t.Weekday()) + 6) % 7; weekday >= 5 {
		factor = 0.7
	}

	switch hour := t.Hour(); {
	case hour >= 9 && hour <= 17:
		factor *= 1.2
	case hour <= 6:
		factor *= 0.6
	}

	return factor
}

func trendFactor(g7, g30 float64) float64 {
	return 0.7*g7 + 0.3*g30
}

func capacityRecord(row []float64) Record {
	record := make(Record, len(CapacityFeatures))
	for i, field := range CapacityFeatures {
		record[field] = row[i]
	}

	return record
}

// growthRate compares cpu usage with the latest row at least period earlier.
func growthRate(dataset *metricstore.Dataset, rows []int, timestamps []time.Time, i int, period time.Duration, fallback float64) float64 {
	cutoff := timestamps[i].Add(-period)
	j := sort.Search(i+1, func(k int) bool { return timestamps[k].After(cutoff) }) - 1
	if j < 0 {
		return fallback
	}

	previous := dataset.X[rows[j]][0]
	if previous <= 0 {
		return fallback
	}

	return dataset.X[rows[i]][0]/previous - 1
}

func sortByTime(dataset *metricstore.Dataset) {
	indexes := make([]int, dataset.Len())
	for i := range indexes {
		indexes[i] = i
	}

	sort.SliceStable(indexes, func(i, j int) bool {
		return dataset.Timestamps[indexes[i]].Before(dataset.Timestamps[indexes[j]])
	})

	sorted := dataset.Select(indexes)
	dataset.Timestamps, dataset.Sources, dataset.X, dataset.Labels = sorted.Timestamps, sorted.Sources, sorted.X, sorted.Labels
	if dataset.Labels == nil {
		dataset.Labels = []string{}
	}
}

func clampUsage(v float64) float64 {
	return math.Min(math.Max(v, 0), 100)
}

func indicator(b bool) float64 {
	if b {
		return 1
	}

	return 0
}
