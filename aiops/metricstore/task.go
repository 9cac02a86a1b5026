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
	"time"

	"d7y.io/aiops/pkg/gc"
)

const (
	// RetentionGCID is the gc id of the retention sweep.
	RetentionGCID = "metrics-retention"

	// RollupFlushGCID is the gc id of the rollup flush.
	RollupFlushGCID = "rollup-flush"
)

type retentionTask struct {
	store Store
}

// NewRetentionTask returns a gc task that sweeps expired samples.
func NewRetentionTask(store Store) gc.Task {
	return &retentionTask{store: store}
}

func (t *retentionTask) RunGC(ctx context.Context) error {
	_, err := t.store.SweepExpired(ctx, time.Now())
	return err
}

type flushTask struct {
	store Store
}

// NewFlushTask returns a gc task that persists pending rollups.
func NewFlushTask(store Store) gc.Task {
	return &flushTask{store: store}
}

func (t *flushTask) RunGC(ctx context.Context) error {
	return t.store.Flush(ctx)
}
