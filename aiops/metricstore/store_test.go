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
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"d7y.io/aiops/internal/dferrors"
)

var baseTime = time.Date(2023, 1, 10, 0, 0, 0, 0, time.UTC)

func infraSample(source string, ts time.Time, cpu, memory float64) Sample {
	return Sample{
		Timestamp: ts,
		Source:    source,
		Fields: map[string]float64{
			FieldCPUUsage:    cpu,
			FieldMemoryUsage: memory,
		},
	}
}

func newTestStore(t *testing.T, options ...Option) (Store, string) {
	dir := t.TempDir()
	s, err := New(dir, options...)
	require.NoError(t, err)
	return s, dir
}

func TestStore_New(t *testing.T) {
	s, dir := newTestStore(t)
	assert := assert.New(t)
	assert.NotNil(s)
	for _, kind := range StreamKinds {
		assert.DirExists(filepath.Join(dir, RawDir, string(kind)))
	}
}

func TestStore_Ingest(t *testing.T) {
	tests := []struct {
		name    string
		kind    StreamKind
		samples []Sample
		expect  func(t *testing.T, s Store, n int, err error)
	}{
		{
			name: "ingest valid samples",
			kind: StreamInfraMetrics,
			samples: []Sample{
				infraSample("svc-a", baseTime, 40, 50),
				infraSample("svc-a", baseTime.Add(time.Minute), 41, 51),
			},
			expect: func(t *testing.T, s Store, n int, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal(2, n)

				samples, err := s.QueryRange(context.Background(), Query{
					Kind:  StreamInfraMetrics,
					Since: baseTime,
					Until: baseTime.Add(time.Hour),
				})
				assert.NoError(err)
				assert.Len(samples, 2)
				assert.Equal(41.0, samples[1].Fields[FieldCPUUsage])
			},
		},
		{
			name: "missing required field keeps the prefix",
			kind: StreamInfraMetrics,
			samples: []Sample{
				infraSample("svc-a", baseTime, 40, 50),
				{Timestamp: baseTime.Add(time.Minute), Source: "svc-a", Fields: map[string]float64{FieldCPUUsage: 40}},
				infraSample("svc-a", baseTime.Add(2*time.Minute), 42, 52),
			},
			expect: func(t *testing.T, s Store, n int, err error) {
				assert := assert.New(t)
				assert.True(dferrors.IsKind(err, dferrors.KindSchemaMismatch))
				assert.Equal(1, n)

				samples, err := s.QueryRange(context.Background(), Query{
					Kind:  StreamInfraMetrics,
					Since: baseTime,
					Until: baseTime.Add(time.Hour),
				})
				assert.NoError(err)
				assert.Len(samples, 1)
			},
		},
		{
			name: "undeclared field",
			kind: StreamPrediction,
			samples: []Sample{
				{Timestamp: baseTime, Source: "model", Fields: map[string]float64{FieldScore: 0.5, "foo": 1}},
			},
			expect: func(t *testing.T, s Store, n int, err error) {
				assert := assert.New(t)
				assert.True(dferrors.IsKind(err, dferrors.KindSchemaMismatch))
				assert.Equal(0, n)
			},
		},
		{
			name: "timestamps out of order",
			kind: StreamInfraMetrics,
			samples: []Sample{
				infraSample("svc-a", baseTime.Add(time.Minute), 40, 50),
				infraSample("svc-a", baseTime, 40, 50),
			},
			expect: func(t *testing.T, s Store, n int, err error) {
				assert := assert.New(t)
				assert.True(dferrors.IsKind(err, dferrors.KindSchemaMismatch))
				assert.Equal(1, n)
			},
		},
		{
			name: "missing source",
			kind: StreamInfraMetrics,
			samples: []Sample{
				infraSample("", baseTime, 40, 50),
			},
			expect: func(t *testing.T, s Store, n int, err error) {
				assert := assert.New(t)
				assert.True(dferrors.IsKind(err, dferrors.KindSchemaMismatch))
				assert.Equal(0, n)
			},
		},
		{
			name: "unknown stream kind",
			kind: StreamKind("foo"),
			samples: []Sample{
				infraSample("svc-a", baseTime, 40, 50),
			},
			expect: func(t *testing.T, s Store, n int, err error) {
				assert := assert.New(t)
				assert.True(dferrors.IsKind(err, dferrors.KindSchemaMismatch))
				assert.Equal(0, n)
			},
		},
		{
			name: "remediation without fields",
			kind: StreamRemediation,
			samples: []Sample{
				{Timestamp: baseTime, Source: "svc-a", Labels: map[string]string{"action": "restart"}},
			},
			expect: func(t *testing.T, s Store, n int, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal(1, n)

				samples, err := s.QueryRange(context.Background(), Query{
					Kind:  StreamRemediation,
					Since: baseTime,
					Until: baseTime.Add(time.Second),
				})
				assert.NoError(err)
				assert.Len(samples, 1)
				assert.Equal("restart", samples[0].Labels["action"])
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			n, err := s.Ingest(context.Background(), tc.kind, tc.samples)
			tc.expect(t, s, n, err)
		})
	}
}

func TestStore_IngestCanceled(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := s.Ingest(ctx, StreamInfraMetrics, []Sample{infraSample("svc-a", baseTime, 40, 50)})
	assert.Equal(t, 0, n)
	assert.True(t, dferrors.IsKind(err, dferrors.KindDeadlineExceeded))
}

func TestStore_IngestClosed(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.Ingest(context.Background(), StreamInfraMetrics, []Sample{infraSample("svc-a", baseTime, 40, 50)})
	assert.True(t, dferrors.IsKind(err, dferrors.KindStoreUnavailable))
}

func TestStore_QueryRange(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Ingest(ctx, StreamInfraMetrics, []Sample{
		infraSample("svc-a", baseTime.Add(23*time.Hour), 10, 10),
		infraSample("svc-b", baseTime.Add(23*time.Hour+30*time.Minute), 20, 20),
		infraSample("svc-a", baseTime.Add(25*time.Hour), 30, 30),
		infraSample("svc-a", baseTime.Add(26*time.Hour), 40, 40),
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		query  Query
		expect func(t *testing.T, samples []Sample, err error)
	}{
		{
			name:  "all sources across days",
			query: Query{Kind: StreamInfraMetrics, Since: baseTime, Until: baseTime.Add(48 * time.Hour)},
			expect: func(t *testing.T, samples []Sample, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Len(samples, 4)
				for i := 1; i < len(samples); i++ {
					assert.False(samples[i].Timestamp.Before(samples[i-1].Timestamp))
				}
			},
		},
		{
			name:  "one source",
			query: Query{Source: "svc-a", Kind: StreamInfraMetrics, Since: baseTime, Until: baseTime.Add(48 * time.Hour)},
			expect: func(t *testing.T, samples []Sample, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Len(samples, 3)
				for _, sample := range samples {
					assert.Equal("svc-a", sample.Source)
				}
			},
		},
		{
			name:  "until is exclusive",
			query: Query{Kind: StreamInfraMetrics, Since: baseTime.Add(23 * time.Hour), Until: baseTime.Add(26 * time.Hour)},
			expect: func(t *testing.T, samples []Sample, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Len(samples, 3)
				assert.Equal(baseTime.Add(23*time.Hour), samples[0].Timestamp)
			},
		},
		{
			name:  "requested fields only",
			query: Query{Kind: StreamInfraMetrics, Since: baseTime, Until: baseTime.Add(48 * time.Hour), Fields: []string{FieldCPUUsage}},
			expect: func(t *testing.T, samples []Sample, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Len(samples, 4)
				for _, sample := range samples {
					assert.Len(sample.Fields, 1)
					assert.Contains(sample.Fields, FieldCPUUsage)
				}
			},
		},
		{
			name:  "empty window",
			query: Query{Kind: StreamInfraMetrics, Since: baseTime.Add(time.Hour), Until: baseTime},
			expect: func(t *testing.T, samples []Sample, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Empty(samples)
			},
		},
		{
			name:  "window without partitions",
			query: Query{Kind: StreamForecast, Since: baseTime, Until: baseTime.Add(72 * time.Hour)},
			expect: func(t *testing.T, samples []Sample, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Empty(samples)
			},
		},
		{
			name:  "unknown stream kind",
			query: Query{Kind: StreamKind("foo"), Since: baseTime, Until: baseTime.Add(time.Hour)},
			expect: func(t *testing.T, samples []Sample, err error) {
				assert := assert.New(t)
				assert.True(dferrors.IsKind(err, dferrors.KindSchemaMismatch))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			samples, err := s.QueryRange(ctx, tc.query)
			tc.expect(t, samples, err)
		})
	}
}

func TestStore_QueryRangeCorruptedPartition(t *testing.T) {
	s, dir := newTestStore(t)
	path := filepath.Join(dir, RawDir, string(StreamInfraMetrics), partitionName(dayOf(baseTime)))
	require.NoError(t, os.WriteFile(path, []byte("not,a\nvalid\"row\n"), 0600))

	_, err := s.QueryRange(context.Background(), Query{Kind: StreamInfraMetrics, Since: baseTime, Until: baseTime.Add(time.Hour)})
	assert.True(t, dferrors.IsKind(err, dferrors.KindStoreUnavailable))
}

// expectedAggregate scans values the plain way.
func expectedAggregate(samples []Sample, field string, since, until time.Time) Aggregate {
	var (
		result Aggregate
		sum    float64
		values []float64
	)
	for _, sample := range samples {
		if sample.Timestamp.Before(since) || !sample.Timestamp.Before(until) {
			continue
		}

		value := sample.Fields[field]
		if len(values) == 0 || value > result.Max {
			result.Max = value
		}
		values = append(values, value)
		sum += value
		result.Last = value
		result.LastTimestamp = sample.Timestamp
	}

	result.Count = int64(len(values))
	if result.Count == 0 {
		return Aggregate{}
	}

	result.Mean = sum / float64(result.Count)
	var squares float64
	for _, value := range values {
		squares += (value - result.Mean) * (value - result.Mean)
	}
	result.Std = math.Sqrt(squares / float64(result.Count))
	return result
}

func assertAggregate(t *testing.T, expected, actual Aggregate) {
	assert := assert.New(t)
	assert.Equal(expected.Count, actual.Count)
	assert.InDelta(expected.Mean, actual.Mean, 1e-9)
	assert.Equal(expected.Max, actual.Max)
	assert.Equal(expected.Last, actual.Last)
	assert.InDelta(expected.Std, actual.Std, 1e-6)
	assert.True(expected.LastTimestamp.Equal(actual.LastTimestamp))
}

func TestStore_Aggregate(t *testing.T) {
	var samples []Sample
	for i := 0; i < 200; i++ {
		samples = append(samples, infraSample("svc-a", baseTime.Add(time.Duration(i)*7*time.Second), float64(i%17)*3.5+10, 50))
	}

	coldSchemas := DefaultSchemas()
	infra := coldSchemas[StreamInfraMetrics]
	infra.Hot = nil
	coldSchemas[StreamInfraMetrics] = infra

	hot, _ := newTestStore(t)
	cold, _ := newTestStore(t, WithSchemas(coldSchemas))
	for _, s := range []Store{hot, cold} {
		n, err := s.Ingest(context.Background(), StreamInfraMetrics, samples)
		require.NoError(t, err)
		require.Equal(t, len(samples), n)
	}

	tests := []struct {
		name   string
		window time.Duration
		until  time.Time
	}{
		{
			name:   "partial minutes on both edges",
			window: 15*time.Minute + 29*time.Second,
			until:  baseTime.Add(20*time.Minute + 13*time.Second),
		},
		{
			name:   "aligned minutes",
			window: 10 * time.Minute,
			until:  baseTime.Add(15 * time.Minute),
		},
		{
			name:   "window inside one minute",
			window: 40 * time.Second,
			until:  baseTime.Add(5*time.Minute + 50*time.Second),
		},
		{
			name:   "window covering every sample",
			window: 2 * time.Hour,
			until:  baseTime.Add(time.Hour),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expected := expectedAggregate(samples, FieldCPUUsage, tc.until.Add(-tc.window), tc.until)
			for _, s := range []Store{hot, cold} {
				actual, err := s.Aggregate(context.Background(), "svc-a", StreamInfraMetrics, FieldCPUUsage, tc.window, tc.until)
				require.NoError(t, err)
				assertAggregate(t, expected, actual)
			}
		})
	}
}

func TestStore_AggregateEmptyWindow(t *testing.T) {
	s, _ := newTestStore(t)
	aggregate, err := s.Aggregate(context.Background(), "svc-a", StreamInfraMetrics, FieldCPUUsage, time.Hour, baseTime)
	assert := assert.New(t)
	assert.NoError(err)
	assert.Equal(Aggregate{}, aggregate)
}

func TestStore_AggregateInvalid(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	assert := assert.New(t)

	_, err := s.Aggregate(ctx, "svc-a", StreamInfraMetrics, "foo", time.Hour, baseTime)
	assert.True(dferrors.IsKind(err, dferrors.KindSchemaMismatch))

	_, err = s.Aggregate(ctx, "svc-a", StreamInfraMetrics, FieldCPUUsage, 0, baseTime)
	assert.True(dferrors.IsKind(err, dferrors.KindInvalidArgument))
}

func TestStore_AggregateNonHotField(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Ingest(ctx, StreamPrediction, []Sample{
		{Timestamp: baseTime, Source: "model", Fields: map[string]float64{FieldScore: 0.2}},
		{Timestamp: baseTime.Add(time.Minute), Source: "model", Fields: map[string]float64{FieldScore: 0.6}},
	})
	require.NoError(t, err)

	aggregate, err := s.Aggregate(ctx, "model", StreamPrediction, FieldScore, time.Hour, baseTime.Add(time.Hour))
	assert := assert.New(t)
	assert.NoError(err)
	assert.Equal(int64(2), aggregate.Count)
	assert.InDelta(0.4, aggregate.Mean, 1e-9)
	assert.Equal(0.6, aggregate.Max)
	assert.Equal(0.6, aggregate.Last)
	assert.InDelta(0.2, aggregate.Std, 1e-9)
}

func TestStore_Restart(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	var samples []Sample
	for i := 0; i < 120; i++ {
		samples = append(samples, infraSample("svc-a", baseTime.Add(time.Duration(i)*13*time.Second), float64(i%11)+40, 60))
	}
	_, err = s.Ingest(context.Background(), StreamInfraMetrics, samples)
	require.NoError(t, err)

	until := baseTime.Add(20 * time.Minute)
	before, err := s.Aggregate(context.Background(), "svc-a", StreamInfraMetrics, FieldCPUUsage, 20*time.Minute, until)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.FileExists(t, filepath.Join(dir, RollupDir, string(StreamInfraMetrics), partitionName(dayOf(baseTime))))

	reopened, err := New(dir)
	require.NoError(t, err)
	after, err := reopened.Aggregate(context.Background(), "svc-a", StreamInfraMetrics, FieldCPUUsage, 20*time.Minute, until)
	require.NoError(t, err)
	assertAggregate(t, before, after)

	queried, err := reopened.QueryRange(context.Background(), Query{Kind: StreamInfraMetrics, Since: baseTime, Until: until})
	require.NoError(t, err)
	assert.Len(t, queried, len(samples))
}

func TestStore_SweepExpired(t *testing.T) {
	now := time.Date(2023, 1, 20, 12, 0, 0, 0, time.UTC)
	var samples []Sample
	for day := 10; day <= 12; day++ {
		samples = append(samples, infraSample("svc-a", time.Date(2023, 1, day, 12, 0, 0, 0, time.UTC), 50, 50))
	}
	for _, hour := range []int{6, 12, 18} {
		samples = append(samples, infraSample("svc-a", time.Date(2023, 1, 13, hour, 0, 0, 0, time.UTC), 50, 50))
	}
	for day := 14; day <= 20; day++ {
		samples = append(samples, infraSample("svc-a", time.Date(2023, 1, day, 12, 0, 0, 0, time.UTC), 50, 50))
	}

	tests := []struct {
		name    string
		options []Option
		expect  func(t *testing.T, s Store, dir string, result SweepResult, err error)
	}{
		{
			name:    "raw retention with unbounded aggregates",
			options: []Option{WithRawRetention(7 * 24 * time.Hour)},
			expect: func(t *testing.T, s Store, dir string, result SweepResult, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal(4, result.RawRows)
				assert.Equal(0, result.Buckets)
				assert.NoFileExists(filepath.Join(dir, RawDir, string(StreamInfraMetrics), "2023-01-12.csv"))
				assert.FileExists(filepath.Join(dir, RawDir, string(StreamInfraMetrics), "2023-01-13.csv"))

				remaining, err := s.QueryRange(context.Background(), Query{Kind: StreamInfraMetrics, Since: samples[0].Timestamp, Until: now.Add(time.Hour)})
				assert.NoError(err)
				assert.Len(remaining, 9)
				assert.Equal(time.Date(2023, 1, 13, 12, 0, 0, 0, time.UTC), remaining[0].Timestamp)

				aggregate, err := s.Aggregate(context.Background(), "svc-a", StreamInfraMetrics, FieldCPUUsage, 3*time.Hour, time.Date(2023, 1, 10, 14, 0, 0, 0, time.UTC))
				assert.NoError(err)
				assert.Equal(int64(1), aggregate.Count)
			},
		},
		{
			name:    "bounded aggregates",
			options: []Option{WithRawRetention(7 * 24 * time.Hour), WithAggregateRetention(24 * time.Hour)},
			expect: func(t *testing.T, s Store, dir string, result SweepResult, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal(4, result.RawRows)
				assert.Equal(22, result.Buckets)

				aggregate, err := s.Aggregate(context.Background(), "svc-a", StreamInfraMetrics, FieldCPUUsage, 3*time.Hour, time.Date(2023, 1, 10, 14, 0, 0, 0, time.UTC))
				assert.NoError(err)
				assert.Equal(int64(0), aggregate.Count)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, dir := newTestStore(t, tc.options...)
			_, err := s.Ingest(context.Background(), StreamInfraMetrics, samples)
			require.NoError(t, err)

			result, err := s.SweepExpired(context.Background(), now)
			tc.expect(t, s, dir, result, err)
		})
	}
}

func TestStore_Dataset(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	withError := infraSample("svc-a", baseTime.Add(time.Minute), 41, 51)
	withError.Fields[FieldErrorRate] = 2
	withError.Labels = map[string]string{"outcome": "stable"}
	withoutError := infraSample("svc-a", baseTime.Add(2*time.Minute), 42, 52)
	other := infraSample("svc-b", baseTime.Add(3*time.Minute), 43, 53)
	other.Fields[FieldErrorRate] = 3
	other.Labels = map[string]string{"outcome": "failing"}

	_, err := s.Ingest(ctx, StreamInfraMetrics, []Sample{withError, withoutError, other})
	require.NoError(t, err)

	tests := []struct {
		name   string
		query  DatasetQuery
		expect func(t *testing.T, dataset *Dataset, err error)
	}{
		{
			name: "rows missing a feature are skipped",
			query: DatasetQuery{
				Kind:     StreamInfraMetrics,
				Since:    baseTime,
				Until:    baseTime.Add(time.Hour),
				Features: []string{FieldCPUUsage, FieldErrorRate},
				Label:    "outcome",
			},
			expect: func(t *testing.T, dataset *Dataset, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal(2, dataset.Len())
				assert.Equal([]float64{41, 2}, dataset.X[0])
				assert.Equal([]string{"stable", "failing"}, dataset.Labels)
				assert.Equal([]string{"svc-a", "svc-b"}, dataset.Sources)

				sliced := dataset.Slice(1, 2)
				assert.Equal(1, sliced.Len())
				assert.Equal("failing", sliced.Labels[0])

				selected := dataset.Select([]int{1, 0})
				assert.Equal("svc-b", selected.Sources[0])
			},
		},
		{
			name: "one source",
			query: DatasetQuery{
				Source:   "svc-a",
				Kind:     StreamInfraMetrics,
				Since:    baseTime,
				Until:    baseTime.Add(time.Hour),
				Features: []string{FieldCPUUsage, FieldMemoryUsage},
			},
			expect: func(t *testing.T, dataset *Dataset, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal(2, dataset.Len())
				assert.Nil(dataset.Labels)
			},
		},
		{
			name: "undeclared feature",
			query: DatasetQuery{
				Kind:     StreamInfraMetrics,
				Since:    baseTime,
				Until:    baseTime.Add(time.Hour),
				Features: []string{"foo"},
			},
			expect: func(t *testing.T, dataset *Dataset, err error) {
				assert := assert.New(t)
				assert.True(dferrors.IsKind(err, dferrors.KindSchemaMismatch))
			},
		},
		{
			name: "no features",
			query: DatasetQuery{
				Kind:  StreamInfraMetrics,
				Since: baseTime,
				Until: baseTime.Add(time.Hour),
			},
			expect: func(t *testing.T, dataset *Dataset, err error) {
				assert := assert.New(t)
				assert.True(dferrors.IsKind(err, dferrors.KindSchemaMismatch))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dataset, err := s.Dataset(ctx, tc.query)
			tc.expect(t, dataset, err)
		})
	}
}

func TestStore_HealthSummary(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := baseTime.Add(12*time.Hour + 30*time.Second)

	first := infraSample("svc-a", now.Add(-30*time.Minute), 50, 60)
	first.Fields[FieldErrorRate] = 1
	second := infraSample("svc-a", now.Add(-10*time.Minute), 70, 80)
	second.Fields[FieldErrorRate] = 3
	stale := infraSample("svc-a", now.Add(-2*time.Hour), 99, 99)
	_, err := s.Ingest(ctx, StreamInfraMetrics, []Sample{stale, first, second, infraSample("svc-b", now.Add(-time.Minute), 10, 10)})
	require.NoError(t, err)

	_, err = s.Ingest(ctx, StreamPrediction, []Sample{
		{Timestamp: now.Add(-3 * time.Hour), Source: "failure-predictor", Fields: map[string]float64{FieldScore: 0.9}, Labels: map[string]string{LabelSeverity: SeverityCritical, LabelService: "svc-a"}},
		{Timestamp: now.Add(-2 * time.Hour), Source: "failure-predictor", Fields: map[string]float64{FieldScore: 0.9}, Labels: map[string]string{LabelSeverity: SeverityCritical, LabelService: "svc-b"}},
		{Timestamp: now.Add(-time.Hour), Source: "svc-a", Fields: map[string]float64{FieldScore: 0.5}, Labels: map[string]string{LabelSeverity: SeverityMedium}},
	})
	require.NoError(t, err)

	_, err = s.Ingest(ctx, StreamDetection, []Sample{
		{Timestamp: now.Add(-48 * time.Hour), Source: "svc-a", Fields: map[string]float64{FieldConfidence: 0.9}, Labels: map[string]string{LabelSeverity: SeverityCritical}},
		{Timestamp: now.Add(-5 * time.Hour), Source: "svc-a", Fields: map[string]float64{FieldConfidence: 0.9}, Labels: map[string]string{LabelSeverity: SeverityCritical}},
		{Timestamp: now.Add(-4 * time.Hour), Source: "svc-a", Fields: map[string]float64{FieldConfidence: 0.7}, Labels: map[string]string{LabelSeverity: SeverityHigh}},
	})
	require.NoError(t, err)

	summary, err := s.HealthSummary(ctx, "svc-a", now)
	assert := assert.New(t)
	assert.NoError(err)
	assert.Equal("svc-a", summary.Source)
	assert.InDelta(60, summary.AvgCPU, 1e-9)
	assert.Equal(70.0, summary.MaxCPU)
	assert.InDelta(70, summary.AvgMemory, 1e-9)
	assert.Equal(80.0, summary.MaxMemory)
	assert.InDelta(2, summary.AvgErrorRate, 1e-9)
	assert.Equal(int64(2), summary.Samples)
	assert.Equal(1, summary.CriticalPredictions24h)
	assert.Equal(1, summary.CriticalThreats24h)
}
