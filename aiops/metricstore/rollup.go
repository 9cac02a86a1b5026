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
	"bytes"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// bucket accumulates the samples of one field over one minute.
type bucket struct {
	Count         int64
	Sum           float64
	SumSquares    float64
	Max           float64
	Last          float64
	LastTimestamp time.Time
}

func (b *bucket) add(ts time.Time, value float64) {
	if b.Count == 0 || value > b.Max {
		b.Max = value
	}

	if b.Count == 0 || !ts.Before(b.LastTimestamp) {
		b.Last = value
		b.LastTimestamp = ts
	}

	b.Count++
	b.Sum += value
	b.SumSquares += value * value
}

func (b *bucket) merge(other *bucket) {
	if other.Count == 0 {
		return
	}

	if b.Count == 0 || other.Max > b.Max {
		b.Max = other.Max
	}

	if b.Count == 0 || !other.LastTimestamp.Before(b.LastTimestamp) {
		b.Last = other.Last
		b.LastTimestamp = other.LastTimestamp
	}

	b.Count += other.Count
	b.Sum += other.Sum
	b.SumSquares += other.SumSquares
}

func (b *bucket) aggregate() Aggregate {
	if b.Count == 0 {
		return Aggregate{}
	}

	n := float64(b.Count)
	mean := b.Sum / n
	return Aggregate{
		Count:         b.Count,
		Mean:          mean,
		Max:           b.Max,
		Last:          b.Last,
		Std:           math.Sqrt(math.Max(0, b.SumSquares/n-mean*mean)),
		LastTimestamp: b.LastTimestamp,
	}
}

type bucketKey struct {
	source string
	field  string
	minute int64
}

type dayKey struct {
	kind StreamKind
	day  string
}

// rollupRecord is one csv row of a rollup file.
type rollupRecord struct {
	Source        string  `csv:"source"`
	Field         string  `csv:"field"`
	Minute        int64   `csv:"minute"`
	Count         int64   `csv:"count"`
	Sum           float64 `csv:"sum"`
	SumSquares    float64 `csv:"sum_squares"`
	Max           float64 `csv:"max"`
	Last          float64 `csv:"last"`
	LastTimestamp int64   `csv:"last_timestamp"`
}

// rollups holds the 1-minute buckets of hot fields, grouped by stream kind and day.
type rollups struct {
	dir   string
	mu    sync.RWMutex
	days  map[dayKey]map[bucketKey]*bucket
	dirty map[dayKey]struct{}
}

func newRollups(dir string) *rollups {
	return &rollups{
		dir:   dir,
		days:  map[dayKey]map[bucketKey]*bucket{},
		dirty: map[dayKey]struct{}{},
	}
}

func minuteOf(ts time.Time) int64 {
	return ts.Truncate(time.Minute).Unix()
}

// observe adds the hot fields of a sample.
func (r *rollups) observe(kind StreamKind, schema Schema, sample Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dk := dayKey{kind: kind, day: dayOf(sample.Timestamp)}
	buckets, ok := r.days[dk]
	if !ok {
		buckets = map[bucketKey]*bucket{}
		r.days[dk] = buckets
	}

	for field, value := range sample.Fields {
		if !schema.IsHot(field) {
			continue
		}

		bk := bucketKey{source: sample.Source, field: field, minute: minuteOf(sample.Timestamp)}
		b, ok := buckets[bk]
		if !ok {
			b = &bucket{}
			buckets[bk] = b
		}

		b.add(sample.Timestamp, value)
	}

	r.dirty[dk] = struct{}{}
}

// collect merges the buckets of field whose minute lies in [from, to).
func (r *rollups) collect(kind StreamKind, source, field string, from, to time.Time) *bucket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := &bucket{}
	fromMinute, toMinute := from.Unix(), to.Unix()
	for day := from.Truncate(24 * time.Hour); day.Before(to); day = day.Add(24 * time.Hour) {
		buckets, ok := r.days[dayKey{kind: kind, day: dayOf(day)}]
		if !ok {
			continue
		}

		// Merge in minute order so the last value follows time.
		var keys []bucketKey
		for bk := range buckets {
			if bk.field != field || bk.minute < fromMinute || bk.minute >= toMinute {
				continue
			}

			if source != "" && bk.source != source {
				continue
			}

			keys = append(keys, bk)
		}

		slices.SortFunc(keys, func(a, b bucketKey) bool {
			if a.minute != b.minute {
				return a.minute < b.minute
			}

			return a.source < b.source
		})

		for _, bk := range keys {
			result.merge(buckets[bk])
		}
	}

	return result
}

// rebuild replaces every bucket of the day that the raw records cover.
func (r *rollups) rebuild(kind StreamKind, schema Schema, day string, records []*record) error {
	fresh := map[bucketKey]*bucket{}
	for _, rec := range records {
		sample, err := rec.sample()
		if err != nil {
			return err
		}

		for field, value := range sample.Fields {
			if !schema.IsHot(field) {
				continue
			}

			bk := bucketKey{source: sample.Source, field: field, minute: minuteOf(sample.Timestamp)}
			b, ok := fresh[bk]
			if !ok {
				b = &bucket{}
				fresh[bk] = b
			}

			b.add(sample.Timestamp, value)
		}
	}

	if len(fresh) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dk := dayKey{kind: kind, day: day}
	buckets, ok := r.days[dk]
	if !ok {
		buckets = map[bucketKey]*bucket{}
		r.days[dk] = buckets
	}

	for bk, b := range fresh {
		buckets[bk] = b
	}

	r.dirty[dk] = struct{}{}
	return nil
}

// expire drops every bucket older than cutoff and returns how many were dropped.
func (r *rollups) expire(cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		removed int
		errs    *multierror.Error
	)
	cutoffMinute := cutoff.Unix()
	for dk, buckets := range r.days {
		for bk := range buckets {
			if bk.minute < cutoffMinute {
				delete(buckets, bk)
				removed++
			}
		}

		if len(buckets) > 0 {
			r.dirty[dk] = struct{}{}
			continue
		}

		delete(r.days, dk)
		delete(r.dirty, dk)
		if err := os.Remove(r.filename(dk)); err != nil && !os.IsNotExist(err) {
			errs = multierror.Append(errs, err)
		}
	}

	return removed, errs.ErrorOrNil()
}

// flush writes every dirty day to its rollup file.
func (r *rollups) flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs *multierror.Error
	for dk := range r.dirty {
		buckets := r.days[dk]
		keys := maps.Keys(buckets)
		slices.SortFunc(keys, func(a, b bucketKey) bool {
			if a.minute != b.minute {
				return a.minute < b.minute
			}

			if a.source != b.source {
				return a.source < b.source
			}

			return a.field < b.field
		})

		rows := make([]*rollupRecord, 0, len(keys))
		for _, bk := range keys {
			b := buckets[bk]
			rows = append(rows, &rollupRecord{
				Source:        bk.source,
				Field:         bk.field,
				Minute:        bk.minute,
				Count:         b.Count,
				Sum:           b.Sum,
				SumSquares:    b.SumSquares,
				Max:           b.Max,
				Last:          b.Last,
				LastTimestamp: b.LastTimestamp.UnixNano(),
			})
		}

		if err := os.MkdirAll(filepath.Dir(r.filename(dk)), 0700); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}

		var buf bytes.Buffer
		if len(rows) > 0 {
			if err := gocsv.MarshalWithoutHeaders(rows, &buf); err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
		}

		if err := writeFileAtomic(r.filename(dk), buf.Bytes()); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}

		delete(r.dirty, dk)
	}

	return errs.ErrorOrNil()
}

// load reads every rollup file of kind from disk.
func (r *rollups) load(kind StreamKind) error {
	entries, err := os.ReadDir(filepath.Join(r.dir, string(kind)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range entries {
		day, ok := parsePartitionName(entry.Name())
		if !ok {
			continue
		}

		rows, err := readRollupRecords(filepath.Join(r.dir, string(kind), entry.Name()))
		if err != nil {
			return err
		}

		buckets := map[bucketKey]*bucket{}
		for _, row := range rows {
			buckets[bucketKey{source: row.Source, field: row.Field, minute: row.Minute}] = &bucket{
				Count:         row.Count,
				Sum:           row.Sum,
				SumSquares:    row.SumSquares,
				Max:           row.Max,
				Last:          row.Last,
				LastTimestamp: time.Unix(0, row.LastTimestamp).UTC(),
			}
		}

		if len(buckets) > 0 {
			r.days[dayKey{kind: kind, day: day}] = buckets
		}
	}

	return nil
}

func (r *rollups) filename(dk dayKey) string {
	return filepath.Join(r.dir, string(dk.kind), partitionName(dk.day))
}

func readRollupRecords(path string) ([]*rollupRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if info.Size() == 0 {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var rows []*rollupRecord
	if err := gocsv.UnmarshalWithoutHeaders(file, &rows); err != nil {
		if err == gocsv.ErrEmptyCSVFile {
			return nil, nil
		}

		return nil, err
	}

	return rows, nil
}
