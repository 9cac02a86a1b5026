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

package registry

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"gorm.io/gorm"

	"d7y.io/aiops/aiops/config"
	"d7y.io/aiops/aiops/database"
	"d7y.io/aiops/aiops/metricstore"
	"d7y.io/aiops/aiops/model"
	"d7y.io/aiops/aiops/models"
	"d7y.io/aiops/aiops/tracker"
	"d7y.io/aiops/aiops/tracker/mocks"
	"d7y.io/aiops/internal/dferrors"
	"d7y.io/aiops/pkg/digest"
)

var mockDigest = "sha256:" + digest.SHA256FromStrings("threat-detector")

func newTestDB(t *testing.T) *gorm.DB {
	cfg := config.New()
	cfg.Database.Type = config.DatabaseTypeSqlite
	cfg.Database.Sqlite.Path = filepath.Join(t.TempDir(), config.DefaultSqliteFilename)

	db, err := database.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db.DB
}

// succeededRun opens and finalizes a run carrying an artifact.
func succeededRun(t *testing.T, tr tracker.Tracker, kind model.Kind, d string) string {
	ctx := context.Background()
	runID, err := tr.StartRun(ctx, "exp", map[string]string{metricstore.LabelModelKind: string(kind)})
	require.NoError(t, err)
	require.NoError(t, tr.LogArtifact(ctx, runID, d))
	require.NoError(t, tr.Finalize(ctx, runID, models.RunStatusSucceeded))
	return runID
}

func newTestRegistry(t *testing.T) (Registry, tracker.Tracker) {
	db := newTestDB(t)
	tr := tracker.New(db)
	return New(db, tr), tr
}

func TestRegistry_Register(t *testing.T) {
	ctx := context.Background()
	r, tr := newTestRegistry(t)
	runID := succeededRun(t, tr, model.KindMulticlassClassifier, mockDigest)

	assert := assert.New(t)
	v1, err := r.Register(ctx, "threat-detector-v1", runID, map[string]string{"owner": "secops"})
	require.NoError(t, err)
	assert.Equal(1, v1)

	// Registering the same run twice yields a new version.
	v2, err := r.Register(ctx, "threat-detector-v1", runID, nil)
	require.NoError(t, err)
	assert.Equal(2, v2)

	mv, err := r.GetVersion(ctx, "threat-detector-v1", 1)
	require.NoError(t, err)
	assert.Equal(models.StageCandidate, mv.Stage)
	assert.Equal(mockDigest, mv.ArtifactDigest)
	assert.Equal(runID, mv.RunID)
	assert.Equal(string(model.KindMulticlassClassifier), mv.Kind)
	assert.Equal("secops", mv.Tags["owner"])
	assert.Equal(runID, mv.Tags[metricstore.LabelRunID])
	assert.True(mv.Healthy())
	assert.Nil(mv.Production)

	registered, err := r.GetModel(ctx, "threat-detector-v1")
	require.NoError(t, err)
	assert.Equal(string(model.KindMulticlassClassifier), registered.Kind)

	versions, err := r.ListVersions(ctx, "threat-detector-v1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(1, versions[0].Version)
	assert.Equal(2, versions[1].Version)

	_, err = r.ListVersions(ctx, "unknown")
	assert.True(dferrors.IsKind(err, dferrors.KindNotFound))
}

func TestRegistry_RegisterInvalidRun(t *testing.T) {
	tests := []struct {
		name   string
		mock   func(m *mocks.MockTrackerMockRecorder)
		expect func(t *testing.T, version int, err error)
	}{
		{
			name: "run is running",
			mock: func(m *mocks.MockTrackerMockRecorder) {
				m.GetRun(gomock.Any(), "foo").Return(&tracker.Run{ID: "foo", Status: models.RunStatusRunning}, nil).Times(1)
			},
			expect: func(t *testing.T, version int, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindRunNotFinalized))
			},
		},
		{
			name: "run failed",
			mock: func(m *mocks.MockTrackerMockRecorder) {
				m.GetRun(gomock.Any(), "foo").Return(&tracker.Run{ID: "foo", Status: models.RunStatusFailed, ArtifactDigest: mockDigest}, nil).Times(1)
			},
			expect: func(t *testing.T, version int, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindRunNotFinalized))
			},
		},
		{
			name: "run has no artifact",
			mock: func(m *mocks.MockTrackerMockRecorder) {
				m.GetRun(gomock.Any(), "foo").Return(&tracker.Run{ID: "foo", Status: models.RunStatusSucceeded}, nil).Times(1)
			},
			expect: func(t *testing.T, version int, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindNoArtifact))
			},
		},
		{
			name: "run has no model kind",
			mock: func(m *mocks.MockTrackerMockRecorder) {
				m.GetRun(gomock.Any(), "foo").Return(&tracker.Run{ID: "foo", Status: models.RunStatusSucceeded, ArtifactDigest: mockDigest}, nil).Times(1)
			},
			expect: func(t *testing.T, version int, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindInvalidArgument))
			},
		},
		{
			name: "run not found",
			mock: func(m *mocks.MockTrackerMockRecorder) {
				m.GetRun(gomock.Any(), "foo").Return(nil, dferrors.New(dferrors.KindNotFound, "run foo not found")).Times(1)
			},
			expect: func(t *testing.T, version int, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindNotFound))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctl := gomock.NewController(t)
			defer ctl.Finish()
			tr := mocks.NewMockTracker(ctl)
			tc.mock(tr.EXPECT())

			r := New(newTestDB(t), tr)
			version, err := r.Register(context.Background(), "threat-detector-v1", "foo", nil)
			tc.expect(t, version, err)

			_, err = r.GetModel(context.Background(), "threat-detector-v1")
			assert.True(t, dferrors.IsKind(err, dferrors.KindNotFound))
		})
	}
}

func TestRegistry_Transition(t *testing.T) {
	tests := []struct {
		name   string
		path   []string
		target string
		expect func(t *testing.T, mv *models.ModelVersion, err error)
	}{
		{
			name:   "candidate to staging",
			target: models.StageStaging,
			expect: func(t *testing.T, mv *models.ModelVersion, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal(models.StageStaging, mv.Stage)
			},
		},
		{
			name:   "candidate to production",
			target: models.StageProduction,
			expect: func(t *testing.T, mv *models.ModelVersion, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindIllegalTransition))
			},
		},
		{
			name:   "candidate to archived",
			target: models.StageArchived,
			expect: func(t *testing.T, mv *models.ModelVersion, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindIllegalTransition))
			},
		},
		{
			name:   "staging to production",
			path:   []string{models.StageStaging},
			target: models.StageProduction,
			expect: func(t *testing.T, mv *models.ModelVersion, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal(models.StageProduction, mv.Stage)
				require.NotNil(t, mv.Production)
				assert.Equal(mv.Name, *mv.Production)
			},
		},
		{
			name:   "staging to archived",
			path:   []string{models.StageStaging},
			target: models.StageArchived,
			expect: func(t *testing.T, mv *models.ModelVersion, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal(models.StageArchived, mv.Stage)
			},
		},
		{
			name:   "production to archived",
			path:   []string{models.StageStaging, models.StageProduction},
			target: models.StageArchived,
			expect: func(t *testing.T, mv *models.ModelVersion, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal(models.StageArchived, mv.Stage)
				assert.Nil(mv.Production)
			},
		},
		{
			name:   "archived is terminal",
			path:   []string{models.StageStaging, models.StageArchived},
			target: models.StageStaging,
			expect: func(t *testing.T, mv *models.ModelVersion, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindIllegalTransition))
			},
		},
		{
			name:   "production to candidate",
			path:   []string{models.StageStaging, models.StageProduction},
			target: models.StageCandidate,
			expect: func(t *testing.T, mv *models.ModelVersion, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindIllegalTransition))
			},
		},
		{
			name:   "unknown stage",
			target: "canary",
			expect: func(t *testing.T, mv *models.ModelVersion, err error) {
				assert.True(t, dferrors.IsKind(err, dferrors.KindIllegalTransition))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			r, tr := newTestRegistry(t)
			version, err := r.Register(ctx, "threat-detector-v1", succeededRun(t, tr, model.KindMulticlassClassifier, mockDigest), nil)
			require.NoError(t, err)

			for _, stage := range tc.path {
				_, err := r.Transition(ctx, "threat-detector-v1", version, stage)
				require.NoError(t, err)
			}

			before, err := r.GetVersion(ctx, "threat-detector-v1", version)
			require.NoError(t, err)

			mv, err := r.Transition(ctx, "threat-detector-v1", version, tc.target)
			tc.expect(t, mv, err)

			// Rejected transitions leave the version untouched.
			if err != nil {
				after, err := r.GetVersion(ctx, "threat-detector-v1", version)
				require.NoError(t, err)
				assert.Equal(t, before.Stage, after.Stage)
			}
		})
	}

	_, err := New(newTestDB(t), nil).Transition(context.Background(), "unknown", 1, models.StageStaging)
	assert.True(t, dferrors.IsKind(err, dferrors.KindNotFound))
}

func TestRegistry_ProductionInvariant(t *testing.T) {
	ctx := context.Background()
	r, tr := newTestRegistry(t)
	runID := succeededRun(t, tr, model.KindMulticlassClassifier, mockDigest)

	for i := 0; i < 2; i++ {
		version, err := r.Register(ctx, "threat-detector-v1", runID, nil)
		require.NoError(t, err)
		_, err = r.Transition(ctx, "threat-detector-v1", version, models.StageStaging)
		require.NoError(t, err)
	}

	var (
		done       = make(chan struct{})
		wg         sync.WaitGroup
		violations = atomic.NewInt32(0)
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				versions, err := r.ListVersions(ctx, "threat-detector-v1")
				if err != nil {
					violations.Inc()
					continue
				}

				var production int
				for _, v := range versions {
					if v.Stage == models.StageProduction {
						production++
					}
				}

				if production > 1 {
					violations.Inc()
				}
			}
		}()
	}

	_, err := r.Transition(ctx, "threat-detector-v1", 1, models.StageProduction)
	require.NoError(t, err)
	_, err = r.Transition(ctx, "threat-detector-v1", 2, models.StageProduction)
	require.NoError(t, err)
	close(done)
	wg.Wait()

	assert := assert.New(t)
	assert.Equal(int32(0), violations.Load())

	v1, err := r.GetVersion(ctx, "threat-detector-v1", 1)
	require.NoError(t, err)
	assert.Equal(models.StageArchived, v1.Stage)
	assert.Nil(v1.Production)

	v2, err := r.GetVersion(ctx, "threat-detector-v1", 2)
	require.NoError(t, err)
	assert.Equal(models.StageProduction, v2.Stage)

	latest, err := r.Latest(ctx, "threat-detector-v1", models.StageProduction)
	require.NoError(t, err)
	assert.Equal(2, latest.Version)

	_, err = r.Latest(ctx, "threat-detector-v1", models.StageStaging)
	assert.True(dferrors.IsKind(err, dferrors.KindNotFound))

	_, err = r.Latest(ctx, "threat-detector-v1", "canary")
	assert.True(dferrors.IsKind(err, dferrors.KindInvalidArgument))
}

func TestRegistry_ConcurrentPromotion(t *testing.T) {
	ctx := context.Background()
	r, tr := newTestRegistry(t)
	runID := succeededRun(t, tr, model.KindRegressor, mockDigest)

	const n = 4
	for i := 0; i < n; i++ {
		version, err := r.Register(ctx, "capacity-forecaster-v1", runID, nil)
		require.NoError(t, err)
		_, err = r.Transition(ctx, "capacity-forecaster-v1", version, models.StageStaging)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(version int) {
			defer wg.Done()
			_, err := r.Transition(ctx, "capacity-forecaster-v1", version, models.StageProduction)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	versions, err := r.ListVersions(ctx, "capacity-forecaster-v1")
	require.NoError(t, err)

	var production, archived int
	for _, v := range versions {
		switch v.Stage {
		case models.StageProduction:
			production++
		case models.StageArchived:
			archived++
		}
	}

	assert.Equal(t, 1, production)
	assert.Equal(t, n-1, archived)
}

func TestRegistry_Health(t *testing.T) {
	ctx := context.Background()
	r, tr := newTestRegistry(t)
	version, err := r.Register(ctx, "capacity-forecaster-v1", succeededRun(t, tr, model.KindRegressor, mockDigest), nil)
	require.NoError(t, err)

	assert := assert.New(t)
	assert.NoError(r.MarkUnhealthy(ctx, "capacity-forecaster-v1", version, "digest mismatch"))

	mv, err := r.GetVersion(ctx, "capacity-forecaster-v1", version)
	require.NoError(t, err)
	assert.False(mv.Healthy())
	assert.Equal("digest mismatch", mv.Tags[TagUnhealthyReason])
	assert.Equal(models.StageCandidate, mv.Stage)
	assert.Equal(mockDigest, mv.ArtifactDigest)

	assert.NoError(r.MarkHealthy(ctx, "capacity-forecaster-v1", version))
	mv, err = r.GetVersion(ctx, "capacity-forecaster-v1", version)
	require.NoError(t, err)
	assert.True(mv.Healthy())
	assert.NotContains(mv.Tags, TagUnhealthyReason)

	assert.True(dferrors.IsKind(r.MarkUnhealthy(ctx, "capacity-forecaster-v1", 9, "foo"), dferrors.KindNotFound))
}

func TestRegistry_IsReferenced(t *testing.T) {
	ctx := context.Background()
	r, tr := newTestRegistry(t)

	assert := assert.New(t)
	referenced, err := r.IsReferenced(ctx, mockDigest)
	assert.NoError(err)
	assert.False(referenced)

	runID := succeededRun(t, tr, model.KindRegressor, mockDigest)
	referenced, err = r.IsReferenced(ctx, mockDigest)
	assert.NoError(err)
	assert.True(referenced)

	_, err = r.Register(ctx, "capacity-forecaster-v1", runID, nil)
	require.NoError(t, err)
	referenced, err = r.IsReferenced(ctx, mockDigest)
	assert.NoError(err)
	assert.True(referenced)
}
