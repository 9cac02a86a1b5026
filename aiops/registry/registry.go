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

//go:generate mockgen -destination mocks/registry_mock.go -source registry.go -package mocks

package registry

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"d7y.io/aiops/aiops/metricstore"
	"d7y.io/aiops/aiops/model"
	"d7y.io/aiops/aiops/models"
	"d7y.io/aiops/aiops/tracker"
	"d7y.io/aiops/internal/dferrors"
	logger "d7y.io/aiops/internal/dflog"
	dfsync "d7y.io/aiops/pkg/sync"
)

// TagUnhealthyReason records why a version was marked unhealthy.
const TagUnhealthyReason = "unhealthy_reason"

// Registry names model identities and manages the lifecycle of their versions.
type Registry interface {
	// Register allocates the next version of name from a succeeded run.
	Register(ctx context.Context, name string, runID string, tags map[string]string) (int, error)

	// Transition moves a version to stage, demoting the previous production version.
	Transition(ctx context.Context, name string, version int, stage string) (*models.ModelVersion, error)

	// Latest returns the highest version of name in stage.
	Latest(ctx context.Context, name string, stage string) (*models.ModelVersion, error)

	// GetVersion returns one version of name.
	GetVersion(ctx context.Context, name string, version int) (*models.ModelVersion, error)

	// ListVersions returns every version of name in version order.
	ListVersions(ctx context.Context, name string) ([]models.ModelVersion, error)

	// GetModel returns the registered model of name.
	GetModel(ctx context.Context, name string) (*models.RegisteredModel, error)

	// MarkUnhealthy tags a corrupted version without touching its stage or digest.
	MarkUnhealthy(ctx context.Context, name string, version int, reason string) error

	// MarkHealthy clears the unhealthy tag of a version.
	MarkHealthy(ctx context.Context, name string, version int) error

	// IsReferenced reports whether a run or a version points at digest.
	IsReferenced(ctx context.Context, digest string) (bool, error)
}

type registry struct {
	db      *gorm.DB
	tracker tracker.Tracker

	// names serializes writes per model name.
	names *dfsync.Kmutex[string]
}

// New returns a registry backed by db that reads runs from t.
func New(db *gorm.DB, t tracker.Tracker) Registry {
	return &registry{
		db:      db,
		tracker: t,
		names:   dfsync.NewKmutex[string](),
	}
}

func (r *registry) Register(ctx context.Context, name string, runID string, tags map[string]string) (int, error) {
	if name == "" {
		return 0, dferrors.New(dferrors.KindInvalidArgument, "model name is required")
	}

	// The run is read outside the transaction, finalized runs never change.
	run, err := r.tracker.GetRun(ctx, runID)
	if err != nil {
		return 0, err
	}

	if run.Status != models.RunStatusSucceeded {
		return 0, dferrors.Newf(dferrors.KindRunNotFinalized, "run %s is %s, not %s", runID, run.Status, models.RunStatusSucceeded)
	}

	if run.ArtifactDigest == "" {
		return 0, dferrors.Newf(dferrors.KindNoArtifact, "run %s has no artifact", runID)
	}

	kind, err := model.ParseKind(run.Tags[metricstore.LabelModelKind])
	if err != nil {
		return 0, dferrors.Wrapf(dferrors.KindInvalidArgument, err, "run %s", runID)
	}

	var version models.ModelVersion
	if err := r.withName(ctx, name, func(tx *gorm.DB) error {
		registered := models.RegisteredModel{}
		if err := tx.Where("name = ?", name).
			Attrs(models.RegisteredModel{Name: name, Kind: string(kind)}).
			FirstOrCreate(&registered).Error; err != nil {
			return err
		}

		var latest int
		if err := tx.Model(&models.ModelVersion{}).
			Select("COALESCE(MAX(version), 0)").
			Where("name = ?", name).
			Scan(&latest).Error; err != nil {
			return err
		}

		versionTags := models.Tags(tags).Clone()
		versionTags[metricstore.LabelRunID] = runID
		version = models.ModelVersion{
			Name:           name,
			Version:        latest + 1,
			Stage:          models.StageCandidate,
			Kind:           string(kind),
			RunID:          runID,
			ArtifactDigest: run.ArtifactDigest,
			Tags:           versionTags,
		}

		return tx.Create(&version).Error
	}); err != nil {
		return 0, err
	}

	logger.WithModel(name, version.Version).Infof("registered from run %s with artifact %s", runID, run.ArtifactDigest)
	return version.Version, nil
}

func (r *registry) Transition(ctx context.Context, name string, version int, stage string) (*models.ModelVersion, error) {
	if !ValidStage(stage) {
		return nil, dferrors.Newf(dferrors.KindIllegalTransition, "unknown stage %q", stage)
	}

	var (
		target  models.ModelVersion
		demoted *models.ModelVersion
	)
	if err := r.withName(ctx, name, func(tx *gorm.DB) error {
		if err := first(tx, &target, name, version); err != nil {
			return err
		}

		next, err := transitionStage(target.Stage, stage)
		if err != nil {
			return dferrors.Wrapf(dferrors.KindIllegalTransition, err, "model %s version %d", name, version)
		}

		var production *string
		if next == models.StageProduction {
			// Demote first, the unique index admits one production row per name.
			current := models.ModelVersion{}
			err := tx.Where("name = ? AND stage = ?", name, models.StageProduction).First(&current).Error
			switch {
			case err == nil:
				if err := tx.Model(&current).Updates(map[string]any{
					"stage":      models.StageArchived,
					"production": nil,
				}).Error; err != nil {
					return err
				}
				demoted = &current
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}

			production = &target.Name
		}

		if err := tx.Model(&target).Updates(map[string]any{
			"stage":      next,
			"production": production,
		}).Error; err != nil {
			return err
		}

		target.Stage, target.Production = next, production
		return nil
	}); err != nil {
		return nil, err
	}

	if demoted != nil {
		logger.WithModel(name, demoted.Version).Infof("demoted to %s", models.StageArchived)
	}

	logger.WithModel(name, version).Infof("transitioned to %s", stage)
	return &target, nil
}

func (r *registry) Latest(ctx context.Context, name string, stage string) (*models.ModelVersion, error) {
	if !ValidStage(stage) {
		return nil, dferrors.Newf(dferrors.KindInvalidArgument, "unknown stage %q", stage)
	}

	version := models.ModelVersion{}
	if err := r.db.WithContext(ctx).
		Where("name = ? AND stage = ?", name, stage).
		Order("version DESC").
		First(&version).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dferrors.Newf(dferrors.KindNotFound, "model %s has no %s version", name, stage)
		}

		return nil, storeError(ctx, err)
	}

	return &version, nil
}

func (r *registry) GetVersion(ctx context.Context, name string, version int) (*models.ModelVersion, error) {
	mv := models.ModelVersion{}
	if err := first(r.db.WithContext(ctx), &mv, name, version); err != nil {
		if dferrors.KindOf(err) == dferrors.KindUnknown {
			return nil, storeError(ctx, err)
		}

		return nil, err
	}

	return &mv, nil
}

func (r *registry) ListVersions(ctx context.Context, name string) ([]models.ModelVersion, error) {
	if _, err := r.GetModel(ctx, name); err != nil {
		return nil, err
	}

	var versions []models.ModelVersion
	if err := r.db.WithContext(ctx).Where("name = ?", name).Order("version").Find(&versions).Error; err != nil {
		return nil, storeError(ctx, err)
	}

	return versions, nil
}

func (r *registry) GetModel(ctx context.Context, name string) (*models.RegisteredModel, error) {
	registered := models.RegisteredModel{}
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&registered).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dferrors.Newf(dferrors.KindNotFound, "model %s not found", name)
		}

		return nil, storeError(ctx, err)
	}

	return &registered, nil
}

func (r *registry) MarkUnhealthy(ctx context.Context, name string, version int, reason string) error {
	if err := r.updateTags(ctx, name, version, func(tags models.Tags) {
		tags[models.TagHealth] = models.HealthUnhealthy
		tags[TagUnhealthyReason] = reason
	}); err != nil {
		return err
	}

	logger.WithModel(name, version).Warnf("marked %s: %s", models.HealthUnhealthy, reason)
	return nil
}

func (r *registry) MarkHealthy(ctx context.Context, name string, version int) error {
	return r.updateTags(ctx, name, version, func(tags models.Tags) {
		delete(tags, models.TagHealth)
		delete(tags, TagUnhealthyReason)
	})
}

func (r *registry) IsReferenced(ctx context.Context, digest string) (bool, error) {
	db := r.db.WithContext(ctx)

	var versions int64
	if err := db.Model(&models.ModelVersion{}).Where("artifact_digest = ?", digest).Count(&versions).Error; err != nil {
		return false, storeError(ctx, err)
	}

	if versions > 0 {
		return true, nil
	}

	var runs int64
	if err := db.Model(&models.Run{}).Where("artifact_digest = ?", digest).Count(&runs).Error; err != nil {
		return false, storeError(ctx, err)
	}

	return runs > 0, nil
}

func (r *registry) updateTags(ctx context.Context, name string, version int, update func(models.Tags)) error {
	return r.withName(ctx, name, func(tx *gorm.DB) error {
		mv := models.ModelVersion{}
		if err := first(tx, &mv, name, version); err != nil {
			return err
		}

		tags := mv.Tags.Clone()
		update(tags)
		return tx.Model(&mv).Update("tags", tags).Error
	})
}

// withName runs fn in a transaction holding the name lock.
func (r *registry) withName(ctx context.Context, name string, fn func(tx *gorm.DB) error) error {
	if err := r.names.Lock(ctx, name); err != nil {
		return dferrors.Wrapf(dferrors.KindDeadlineExceeded, err, "wait for model %s", name)
	}
	defer r.names.Unlock(name)

	err := r.db.WithContext(ctx).Transaction(fn)
	if err != nil && dferrors.KindOf(err) == dferrors.KindUnknown {
		return storeError(ctx, err)
	}

	return err
}

func first(db *gorm.DB, mv *models.ModelVersion, name string, version int) error {
	if err := db.Where("name = ? AND version = ?", name, version).First(mv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dferrors.Newf(dferrors.KindNotFound, "model %s version %d not found", name, version)
		}

		return err
	}

	return nil
}

func storeError(ctx context.Context, err error) error {
	if ctxErr := dferrors.FromContext(ctx); ctxErr != nil {
		return ctxErr
	}

	return dferrors.Wrap(dferrors.KindStoreUnavailable, err, "registry database")
}
