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

//go:generate mockgen -destination mocks/tracker_mock.go -source tracker.go -package mocks

package tracker

import (
	"context"
	"errors"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"d7y.io/aiops/aiops/models"
	"d7y.io/aiops/internal/dferrors"
	logger "d7y.io/aiops/internal/dflog"
	"d7y.io/aiops/pkg/digest"
	dfsync "d7y.io/aiops/pkg/sync"
)

const (
	// TagReason is the diagnostic tag of failed runs.
	TagReason = "reason"

	// TagError is the error message of failed runs.
	TagError = "error"
)

// MetricPoint is one logged value of a metric.
type MetricPoint struct {
	Step      int64
	Value     float64
	Timestamp time.Time
}

// Run is the summary of a training run.
type Run struct {
	ID             string
	Experiment     string
	Status         string
	ArtifactDigest string
	Params         map[string]string

	// Metrics holds the last logged value of every metric.
	Metrics map[string]float64

	// History holds every logged value of every metric in step order.
	History map[string][]MetricPoint

	Tags       map[string]string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Tracker records training runs.
type Tracker interface {
	// StartRun opens a running run under experiment.
	StartRun(ctx context.Context, experiment string, tags map[string]string) (string, error)

	// LogParams records parameters, a parameter is logged at most once.
	LogParams(ctx context.Context, runID string, params map[string]string) error

	// LogMetrics appends a step to the history of every metric.
	LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error

	// LogArtifact records the artifact digest of the run, at most once.
	LogArtifact(ctx context.Context, runID string, digest string) error

	// SetTags sets tags of a running run.
	SetTags(ctx context.Context, runID string, tags map[string]string) error

	// Finalize moves the run to a terminal status.
	Finalize(ctx context.Context, runID string, status string) error

	// GetRun returns the run summary with full metric history.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// SearchRuns returns runs of experiment matching filter sorted by orderBy.
	SearchRuns(ctx context.Context, experiment string, filter string, orderBy string, limit int) ([]*Run, error)

	// BestRun returns the run with the highest value of metric.
	BestRun(ctx context.Context, experiment string, filter string, metric string) (*Run, error)
}

type tracker struct {
	db *gorm.DB

	// runs serializes operations per run id.
	runs *dfsync.Kmutex[string]
}

// New returns a tracker backed by db.
func New(db *gorm.DB) Tracker {
	return &tracker{
		db:   db,
		runs: dfsync.NewKmutex[string](),
	}
}

func (t *tracker) StartRun(ctx context.Context, experiment string, tags map[string]string) (string, error) {
	if experiment == "" {
		return "", dferrors.New(dferrors.KindInvalidArgument, "experiment is required")
	}

	runID := uuid.NewString()
	if err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models.Run{
			RunID:      runID,
			Experiment: experiment,
			Status:     models.RunStatusRunning,
		}).Error; err != nil {
			return err
		}

		return upsertTags(tx, runID, tags)
	}); err != nil {
		return "", storeError(ctx, err)
	}

	logger.WithRun(runID, experiment).Infof("run started")
	return runID, nil
}

func (t *tracker) LogParams(ctx context.Context, runID string, params map[string]string) error {
	return t.withRunningRun(ctx, runID, func(tx *gorm.DB, run *models.Run) error {
		var existing []models.RunParam
		if err := tx.Where("run_id = ? AND name IN ?", runID, maps.Keys(params)).Find(&existing).Error; err != nil {
			return err
		}

		if len(existing) > 0 {
			return dferrors.Newf(dferrors.KindInvalidArgument, "param %s of run %s is already logged", existing[0].Name, runID)
		}

		rows := make([]models.RunParam, 0, len(params))
		for _, name := range sortedKeys(params) {
			rows = append(rows, models.RunParam{RunID: runID, Name: name, Value: params[name]})
		}

		if len(rows) == 0 {
			return nil
		}

		return tx.Create(&rows).Error
	})
}

func (t *tracker) LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error {
	return t.withRunningRun(ctx, runID, func(tx *gorm.DB, run *models.Run) error {
		now := time.Now().UTC()
		rows := make([]models.RunMetric, 0, len(metrics))
		for _, name := range sortedKeys(metrics) {
			var step int64
			if err := tx.Model(&models.RunMetric{}).
				Select("COALESCE(MAX(step), -1) + 1").
				Where("run_id = ? AND name = ?", runID, name).
				Scan(&step).Error; err != nil {
				return err
			}

			rows = append(rows, models.RunMetric{
				RunID:     runID,
				Name:      name,
				Step:      step,
				Value:     metrics[name],
				Timestamp: now,
			})
		}

		if len(rows) == 0 {
			return nil
		}

		return tx.Create(&rows).Error
	})
}

func (t *tracker) LogArtifact(ctx context.Context, runID string, d string) error {
	if err := digest.Validate(d); err != nil {
		return dferrors.Wrapf(dferrors.KindInvalidArgument, err, "invalid artifact digest %q", d)
	}

	return t.withRunningRun(ctx, runID, func(tx *gorm.DB, run *models.Run) error {
		if run.ArtifactDigest == d {
			return nil
		}

		if run.ArtifactDigest != "" {
			return dferrors.Newf(dferrors.KindInvalidArgument, "run %s already has artifact %s", runID, run.ArtifactDigest)
		}

		return tx.Model(run).Update("artifact_digest", d).Error
	})
}

func (t *tracker) SetTags(ctx context.Context, runID string, tags map[string]string) error {
	return t.withRunningRun(ctx, runID, func(tx *gorm.DB, run *models.Run) error {
		return upsertTags(tx, runID, tags)
	})
}

func (t *tracker) Finalize(ctx context.Context, runID string, status string) error {
	switch status {
	case models.RunStatusSucceeded, models.RunStatusFailed, models.RunStatusAborted:
	default:
		return dferrors.Newf(dferrors.KindInvalidArgument, "status %q is not terminal", status)
	}

	err := t.withRun(ctx, runID, func(tx *gorm.DB, run *models.Run) error {
		if run.Status != models.RunStatusRunning {
			return dferrors.Newf(dferrors.KindIllegalTransition, "run %s is already %s", runID, run.Status)
		}

		now := time.Now().UTC()
		return tx.Model(run).Updates(map[string]any{
			"status":      status,
			"finished_at": &now,
		}).Error
	})
	if err != nil {
		return err
	}

	logger.WithRun(runID, "").Infof("run finalized as %s", status)
	return nil
}

func (t *tracker) GetRun(ctx context.Context, runID string) (*Run, error) {
	db := t.db.WithContext(ctx)
	run := models.Run{}
	if err := db.Where("run_id = ?", runID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dferrors.Newf(dferrors.KindNotFound, "run %s not found", runID)
		}

		return nil, storeError(ctx, err)
	}

	runs, err := t.summaries(db, []models.Run{run}, true)
	if err != nil {
		return nil, storeError(ctx, err)
	}

	return runs[0], nil
}

func (t *tracker) SearchRuns(ctx context.Context, experiment string, filter string, orderBy string, limit int) ([]*Run, error) {
	f, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}

	order, err := ParseOrder(orderBy)
	if err != nil {
		return nil, err
	}

	if limit < 0 {
		return nil, dferrors.Newf(dferrors.KindInvalidFilter, "limit %d is negative", limit)
	}

	db := t.db.WithContext(ctx)
	var rows []models.Run
	if err := db.Where(&models.Run{Experiment: experiment}).Order("id").Find(&rows).Error; err != nil {
		return nil, storeError(ctx, err)
	}

	runs, err := t.summaries(db, rows, false)
	if err != nil {
		return nil, storeError(ctx, err)
	}

	matched := make([]*Run, 0, len(runs))
	for _, run := range runs {
		if f.Match(run) {
			matched = append(matched, run)
		}
	}

	if order != nil {
		// Runs without the metric sort last.
		sort.SliceStable(matched, func(i, j int) bool {
			vi, oki := matched[i].Metrics[order.Metric]
			vj, okj := matched[j].Metrics[order.Metric]
			if oki != okj {
				return oki
			}

			if order.Descending {
				return vi > vj
			}
			return vi < vj
		})
	}

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

func (t *tracker) BestRun(ctx context.Context, experiment string, filter string, metric string) (*Run, error) {
	runs, err := t.SearchRuns(ctx, experiment, filter, metric+" DESC", 0)
	if err != nil {
		return nil, err
	}

	if len(runs) == 0 {
		return nil, dferrors.Newf(dferrors.KindNotFound, "no run of %s matches", experiment)
	}

	if _, ok := runs[0].Metrics[metric]; !ok {
		return nil, dferrors.Newf(dferrors.KindNotFound, "no run of %s logged %s", experiment, metric)
	}

	return runs[0], nil
}

// withRun runs fn in a transaction holding the run lock.
func (t *tracker) withRun(ctx context.Context, runID string, fn func(tx *gorm.DB, run *models.Run) error) error {
	if err := t.runs.Lock(ctx, runID); err != nil {
		return dferrors.Wrapf(dferrors.KindDeadlineExceeded, err, "wait for run %s", runID)
	}
	defer t.runs.Unlock(runID)

	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run := models.Run{}
		if err := tx.Where("run_id = ?", runID).First(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return dferrors.Newf(dferrors.KindNotFound, "run %s not found", runID)
			}

			return err
		}

		return fn(tx, &run)
	})
	if err != nil && dferrors.KindOf(err) == dferrors.KindUnknown {
		return storeError(ctx, err)
	}

	return err
}

// withRunningRun is withRun rejecting finalized runs.
func (t *tracker) withRunningRun(ctx context.Context, runID string, fn func(tx *gorm.DB, run *models.Run) error) error {
	return t.withRun(ctx, runID, func(tx *gorm.DB, run *models.Run) error {
		if run.Status != models.RunStatusRunning {
			return dferrors.Newf(dferrors.KindInvalidArgument, "run %s is finalized as %s", runID, run.Status)
		}

		return fn(tx, run)
	})
}

// summaries loads params, tags and metrics of rows in three queries.
func (t *tracker) summaries(db *gorm.DB, rows []models.Run, history bool) ([]*Run, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	runs := make([]*Run, len(rows))
	index := make(map[string]*Run, len(rows))
	for i, row := range rows {
		ids[i] = row.RunID
		runs[i] = &Run{
			ID:             row.RunID,
			Experiment:     row.Experiment,
			Status:         row.Status,
			ArtifactDigest: row.ArtifactDigest,
			Params:         map[string]string{},
			Metrics:        map[string]float64{},
			Tags:           map[string]string{},
			StartedAt:      row.CreatedAt,
			FinishedAt:     row.FinishedAt,
		}
		if history {
			runs[i].History = map[string][]MetricPoint{}
		}
		index[row.RunID] = runs[i]
	}

	var params []models.RunParam
	if err := db.Where("run_id IN ?", ids).Find(&params).Error; err != nil {
		return nil, err
	}

	for _, p := range params {
		index[p.RunID].Params[p.Name] = p.Value
	}

	var tags []models.RunTag
	if err := db.Where("run_id IN ?", ids).Find(&tags).Error; err != nil {
		return nil, err
	}

	for _, tag := range tags {
		index[tag.RunID].Tags[tag.Name] = tag.Value
	}

	var metrics []models.RunMetric
	if err := db.Where("run_id IN ?", ids).Order("run_id, name, step").Find(&metrics).Error; err != nil {
		return nil, err
	}

	for _, m := range metrics {
		run := index[m.RunID]
		run.Metrics[m.Name] = m.Value
		if history {
			run.History[m.Name] = append(run.History[m.Name], MetricPoint{Step: m.Step, Value: m.Value, Timestamp: m.Timestamp})
		}
	}

	return runs, nil
}

func upsertTags(tx *gorm.DB, runID string, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}

	rows := make([]models.RunTag, 0, len(tags))
	for _, name := range sortedKeys(tags) {
		rows = append(rows, models.RunTag{RunID: runID, Name: name, Value: truncate(tags[name], models.MaxValueLength)})
	}

	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rows).Error
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	return string([]rune(s)[:n])
}

// storeError classifies a database error.
func storeError(ctx context.Context, err error) error {
	if ctxErr := dferrors.FromContext(ctx); ctxErr != nil {
		return ctxErr
	}

	return dferrors.Wrap(dferrors.KindStoreUnavailable, err, "tracker database")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	sort.Strings(keys)
	return keys
}
