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

//go:generate mockgen -destination mocks/store_mock.go -source store.go -package mocks

package metricstore

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/atomic"

	"d7y.io/aiops/aiops/metrics"
	"d7y.io/aiops/internal/dferrors"
	logger "d7y.io/aiops/internal/dflog"
)

const (
	// RawDir is the directory of raw partitions.
	RawDir = "raw"

	// RollupDir is the directory of rollup partitions.
	RollupDir = "rollup"

	// CSVFileExt is extension of file name.
	CSVFileExt = "csv"

	// dayLayout is the layout of partition days.
	dayLayout = "2006-01-02"
)

// Store is the interface used for the time-series metrics store.
type Store interface {
	// Ingest writes samples of one stream kind and returns how many were written.
	// A failed batch leaves the written prefix in place.
	Ingest(ctx context.Context, kind StreamKind, samples []Sample) (int, error)

	// QueryRange returns samples in [since, until) ordered by timestamp ascending.
	QueryRange(ctx context.Context, query Query) ([]Sample, error)

	// Aggregate returns the statistics of field over the window ending at until.
	Aggregate(ctx context.Context, source string, kind StreamKind, field string, window time.Duration, until time.Time) (Aggregate, error)

	// Dataset materializes a training view.
	Dataset(ctx context.Context, query DatasetQuery) (*Dataset, error)

	// HealthSummary returns the recent health of a service.
	HealthSummary(ctx context.Context, source string, now time.Time) (*HealthSummary, error)

	// SweepExpired removes samples and buckets older than the retention policy.
	SweepExpired(ctx context.Context, now time.Time) (SweepResult, error)

	// Flush writes pending rollups to disk.
	Flush(ctx context.Context) error

	// Close flushes and closes the store.
	Close() error
}

type store struct {
	baseDir            string
	schemas            map[StreamKind]Schema
	rawRetention       time.Duration
	aggregateRetention time.Duration
	locks              cmap.ConcurrentMap[*sync.RWMutex]
	rollups            *rollups
	closed             *atomic.Bool
}

// Option is a functional option for configuring the store.
type Option func(s *store)

// WithRawRetention sets the max age of raw samples.
func WithRawRetention(retention time.Duration) Option {
	return func(s *store) {
		s.rawRetention = retention
	}
}

// WithAggregateRetention sets the max age of rollup buckets, zero keeps them forever.
func WithAggregateRetention(retention time.Duration) Option {
	return func(s *store) {
		s.aggregateRetention = retention
	}
}

// WithSchemas replaces the stream kind schemas.
func WithSchemas(schemas map[StreamKind]Schema) Option {
	return func(s *store) {
		s.schemas = schemas
	}
}

// New opens the store under baseDir and rebuilds rollups from disk.
func New(baseDir string, options ...Option) (Store, error) {
	s := &store{
		baseDir:      baseDir,
		schemas:      DefaultSchemas(),
		rawRetention: 7 * 24 * time.Hour,
		locks:        cmap.New[*sync.RWMutex](),
		rollups:      newRollups(filepath.Join(baseDir, RollupDir)),
		closed:       atomic.NewBool(false),
	}

	for _, opt := range options {
		opt(s)
	}

	for kind := range s.schemas {
		if err := os.MkdirAll(s.rawDir(kind), 0700); err != nil {
			return nil, dferrors.Wrap(dferrors.KindStoreUnavailable, err, "create partition directory")
		}

		if err := s.rollups.load(kind); err != nil {
			return nil, dferrors.Wrap(dferrors.KindStoreUnavailable, err, "load rollups")
		}

		if err := s.rebuildRollups(kind); err != nil {
			return nil, dferrors.Wrap(dferrors.KindStoreUnavailable, err, "rebuild rollups")
		}
	}

	return s, nil
}

// Ingest writes samples of one stream kind and returns how many were written.
func (s *store) Ingest(ctx context.Context, kind StreamKind, samples []Sample) (int, error) {
	n, err := s.ingest(ctx, kind, samples)
	metrics.IngestRowsCount.WithLabelValues(string(kind)).Add(float64(n))
	if err != nil {
		metrics.IngestFailureCount.WithLabelValues(string(kind), string(dferrors.KindOf(err))).Inc()
		logger.WithStream(string(kind), "").Warnf("ingest stopped after %d of %d samples: %s", n, len(samples), err.Error())
	}

	return n, err
}

func (s *store) ingest(ctx context.Context, kind StreamKind, samples []Sample) (int, error) {
	if s.closed.Load() {
		return 0, dferrors.New(dferrors.KindStoreUnavailable, "store is closed")
	}

	schema, ok := s.schemas[kind]
	if !ok {
		return 0, dferrors.Newf(dferrors.KindSchemaMismatch, "unknown stream kind %s", kind)
	}

	var (
		written  int
		previous time.Time
		file     *os.File
		openDay  string
		unlock   func()
	)

	release := func() {
		if file != nil {
			file.Close()
			file = nil
		}

		if unlock != nil {
			unlock()
			unlock = nil
		}
	}
	defer release()

	now := time.Now().UTC()
	for i, sample := range samples {
		if err := dferrors.FromContext(ctx); err != nil {
			return written, err
		}

		if sample.Timestamp.IsZero() {
			sample.Timestamp = now
		}
		sample.Timestamp = sample.Timestamp.UTC()

		if i > 0 && sample.Timestamp.Before(previous) {
			return written, dferrors.Newf(dferrors.KindSchemaMismatch, "sample %d is older than its predecessor", i)
		}
		previous = sample.Timestamp

		if sample.Source == "" {
			return written, dferrors.Newf(dferrors.KindSchemaMismatch, "sample %d has no source", i)
		}

		if err := schema.Validate(sample); err != nil {
			return written, err
		}

		rec, err := newRecord(sample, time.Now())
		if err != nil {
			return written, dferrors.Wrapf(dferrors.KindSchemaMismatch, err, "encode sample %d", i)
		}

		data, err := encodeRecords([]*record{rec})
		if err != nil {
			return written, dferrors.Wrapf(dferrors.KindSchemaMismatch, err, "encode sample %d", i)
		}

		day := dayOf(sample.Timestamp)
		if file == nil || day != openDay {
			release()

			mu := s.partitionLock(kind, day)
			mu.Lock()
			unlock = mu.Unlock

			file, err = os.OpenFile(s.partitionFilename(kind, day), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
			if err != nil {
				return written, dferrors.Wrap(dferrors.KindStoreUnavailable, err, "open partition")
			}
			openDay = day
		}

		// One write per row keeps a failed batch equivalent to a prefix.
		if _, err := file.Write(data); err != nil {
			return written, dferrors.Wrap(dferrors.KindStoreUnavailable, err, "append sample")
		}

		s.rollups.observe(kind, schema, sample)
		written++
	}

	return written, nil
}

// QueryRange returns samples in [since, until) ordered by timestamp ascending.
func (s *store) QueryRange(ctx context.Context, query Query) ([]Sample, error) {
	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues(string(query.Kind)).Observe(time.Since(start).Seconds())
	}()

	if _, ok := s.schemas[query.Kind]; !ok {
		return nil, dferrors.Newf(dferrors.KindSchemaMismatch, "unknown stream kind %s", query.Kind)
	}

	return s.scan(ctx, query.Kind, query.Source, query.Since, query.Until, query.Fields, start)
}

// scan reads samples visible as of snapshot from every partition overlapping [since, until).
func (s *store) scan(ctx context.Context, kind StreamKind, source string, since, until time.Time, fields []string, snapshot time.Time) ([]Sample, error) {
	since, until = since.UTC(), until.UTC()
	if !since.Before(until) {
		return []Sample{}, nil
	}

	samples := []Sample{}
	for day := since.Truncate(24 * time.Hour); day.Before(until); day = day.Add(24 * time.Hour) {
		if err := dferrors.FromContext(ctx); err != nil {
			return nil, err
		}

		records, err := s.readPartition(kind, dayOf(day))
		if err != nil {
			return nil, dferrors.Wrap(dferrors.KindStoreUnavailable, err, "read partition")
		}

		for _, rec := range records {
			if rec.IngestedAt > snapshot.UnixNano() {
				continue
			}

			if source != "" && rec.Source != source {
				continue
			}

			ts := rec.time()
			if ts.Before(since) || !ts.Before(until) {
				continue
			}

			sample, err := rec.sample()
			if err != nil {
				return nil, dferrors.Wrap(dferrors.KindStoreUnavailable, err, "decode sample")
			}

			if len(fields) > 0 {
				projected := make(map[string]float64, len(fields))
				for _, field := range fields {
					if value, ok := sample.Fields[field]; ok {
						projected[field] = value
					}
				}
				sample.Fields = projected
			}

			samples = append(samples, sample)
		}
	}

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})

	return samples, nil
}

// Aggregate returns the statistics of field over [until-window, until).
func (s *store) Aggregate(ctx context.Context, source string, kind StreamKind, field string, window time.Duration, until time.Time) (Aggregate, error) {
	schema, ok := s.schemas[kind]
	if !ok {
		return Aggregate{}, dferrors.Newf(dferrors.KindSchemaMismatch, "unknown stream kind %s", kind)
	}

	if !schema.Declares(field) {
		return Aggregate{}, dferrors.Newf(dferrors.KindSchemaMismatch, "undeclared field %s", field)
	}

	if window <= 0 {
		return Aggregate{}, dferrors.Newf(dferrors.KindInvalidArgument, "window must be positive, got %s", window)
	}

	until = until.UTC()
	since := until.Add(-window)
	snapshot := time.Now()

	// Full minutes come from rollups, partial edge minutes from raw partitions.
	if schema.IsHot(field) {
		firstMinute := since.Truncate(time.Minute)
		if firstMinute.Before(since) {
			firstMinute = firstMinute.Add(time.Minute)
		}
		lastMinute := until.Truncate(time.Minute)

		if firstMinute.Before(lastMinute) {
			head, err := s.rawBucket(ctx, kind, source, field, since, firstMinute, snapshot)
			if err != nil {
				return Aggregate{}, err
			}

			result := head
			result.merge(s.rollups.collect(kind, source, field, firstMinute, lastMinute))

			tail, err := s.rawBucket(ctx, kind, source, field, lastMinute, until, snapshot)
			if err != nil {
				return Aggregate{}, err
			}
			result.merge(tail)

			return result.aggregate(), nil
		}
	}

	samples, err := s.scan(ctx, kind, source, since, until, []string{field}, snapshot)
	if err != nil {
		return Aggregate{}, err
	}

	var (
		values []float64
		last   *Sample
	)
	for i := range samples {
		value, ok := samples[i].Fields[field]
		if !ok {
			continue
		}

		values = append(values, value)
		last = &samples[i]
	}

	if len(values) == 0 {
		return Aggregate{}, nil
	}

	mean, _ := stats.Mean(values)
	maxValue, _ := stats.Max(values)
	std, _ := stats.StandardDeviationPopulation(values)
	return Aggregate{
		Count:         int64(len(values)),
		Mean:          mean,
		Max:           maxValue,
		Last:          last.Fields[field],
		Std:           std,
		LastTimestamp: last.Timestamp,
	}, nil
}

func (s *store) rawBucket(ctx context.Context, kind StreamKind, source, field string, since, until time.Time, snapshot time.Time) (*bucket, error) {
	result := &bucket{}
	samples, err := s.scan(ctx, kind, source, since, until, []string{field}, snapshot)
	if err != nil {
		return nil, err
	}

	for _, sample := range samples {
		if value, ok := sample.Fields[field]; ok {
			result.add(sample.Timestamp, value)
		}
	}

	return result, nil
}

// Flush writes pending rollups to disk.
func (s *store) Flush(ctx context.Context) error {
	if err := dferrors.FromContext(ctx); err != nil {
		return err
	}

	if err := s.rollups.flush(); err != nil {
		return dferrors.Wrap(dferrors.KindStoreUnavailable, err, "flush rollups")
	}

	return nil
}

// Close flushes and closes the store.
func (s *store) Close() error {
	if !s.closed.CAS(false, true) {
		return nil
	}

	return s.Flush(context.Background())
}

func (s *store) rebuildRollups(kind StreamKind) error {
	entries, err := os.ReadDir(s.rawDir(kind))
	if err != nil {
		return err
	}

	for _, entry := range entries {
		day, ok := parsePartitionName(entry.Name())
		if !ok {
			continue
		}

		records, err := s.readPartition(kind, day)
		if err != nil {
			return err
		}

		if err := s.rollups.rebuild(kind, s.schemas[kind], day, records); err != nil {
			return err
		}
	}

	return nil
}

func (s *store) readPartition(kind StreamKind, day string) ([]*record, error) {
	mu := s.partitionLock(kind, day)
	mu.RLock()
	defer mu.RUnlock()

	return readRecords(s.partitionFilename(kind, day))
}

func (s *store) partitionLock(kind StreamKind, day string) *sync.RWMutex {
	key := string(kind) + "/" + day
	s.locks.SetIfAbsent(key, &sync.RWMutex{})
	mu, _ := s.locks.Get(key)
	return mu
}

func (s *store) rawDir(kind StreamKind) string {
	return filepath.Join(s.baseDir, RawDir, string(kind))
}

func (s *store) partitionFilename(kind StreamKind, day string) string {
	return filepath.Join(s.rawDir(kind), partitionName(day))
}

func dayOf(ts time.Time) string {
	return ts.UTC().Format(dayLayout)
}

func partitionName(day string) string {
	return day + "." + CSVFileExt
}

func parsePartitionName(name string) (string, bool) {
	day := strings.TrimSuffix(name, "."+CSVFileExt)
	if day == name {
		return "", false
	}

	if _, err := time.Parse(dayLayout, day); err != nil {
		return "", false
	}

	return day, true
}
