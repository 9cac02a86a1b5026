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
	"os"
	"time"

	"github.com/hashicorp/go-multierror"

	"d7y.io/aiops/aiops/metrics"
	"d7y.io/aiops/internal/dferrors"
	logger "d7y.io/aiops/internal/dflog"
)

// SweepExpired removes raw samples older than the raw retention and,
// when an aggregate retention is set, rollup buckets older than it.
func (s *store) SweepExpired(ctx context.Context, now time.Time) (SweepResult, error) {
	var (
		result SweepResult
		errs   *multierror.Error
	)

	now = now.UTC()
	if s.rawRetention > 0 {
		cutoff := now.Add(-s.rawRetention)
		for kind := range s.schemas {
			if err := dferrors.FromContext(ctx); err != nil {
				return result, err
			}

			n, err := s.sweepKind(kind, cutoff)
			result.RawRows += n
			metrics.SweptRowsCount.WithLabelValues(string(kind)).Add(float64(n))
			if err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}

	if s.aggregateRetention > 0 {
		n, err := s.rollups.expire(now.Add(-s.aggregateRetention))
		result.Buckets = n
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return result, dferrors.Wrap(dferrors.KindStoreUnavailable, err, "sweep expired samples")
	}

	logger.StoreLogger.Infof("swept %d raw samples and %d buckets", result.RawRows, result.Buckets)
	return result, nil
}

// sweepKind removes whole expired days and rewrites the day containing cutoff.
func (s *store) sweepKind(kind StreamKind, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.rawDir(kind))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, err
	}

	var (
		removed int
		errs    *multierror.Error
	)
	for _, entry := range entries {
		day, ok := parsePartitionName(entry.Name())
		if !ok {
			continue
		}

		start, _ := time.Parse(dayLayout, day)
		if !start.Before(cutoff) {
			continue
		}

		n, err := s.sweepPartition(kind, day, cutoff, !start.Add(24*time.Hour).After(cutoff))
		removed += n
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return removed, errs.ErrorOrNil()
}

func (s *store) sweepPartition(kind StreamKind, day string, cutoff time.Time, whole bool) (int, error) {
	mu := s.partitionLock(kind, day)
	mu.Lock()
	defer mu.Unlock()

	filename := s.partitionFilename(kind, day)
	records, err := readRecords(filename)
	if err != nil {
		return 0, err
	}

	if whole {
		if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
			return 0, err
		}

		return len(records), nil
	}

	var kept []*record
	for _, rec := range records {
		if !rec.time().Before(cutoff) {
			kept = append(kept, rec)
		}
	}

	if len(kept) == len(records) {
		return 0, nil
	}

	var data []byte
	if len(kept) > 0 {
		if data, err = encodeRecords(kept); err != nil {
			return 0, err
		}
	}

	if err := writeFileAtomic(filename, data); err != nil {
		return 0, err
	}

	return len(records) - len(kept), nil
}
