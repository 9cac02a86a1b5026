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

package models

const (
	// StageCandidate is the stage of a newly registered version.
	StageCandidate = "candidate"

	// StageStaging is the stage of a version under validation.
	StageStaging = "staging"

	// StageProduction is the stage of the serving version.
	StageProduction = "production"

	// StageArchived is the terminal stage.
	StageArchived = "archived"
)

const (
	// TagHealth marks corrupted versions.
	TagHealth = "health"

	// HealthUnhealthy is the value of TagHealth on corrupted versions.
	HealthUnhealthy = "unhealthy"
)

type RegisteredModel struct {
	BaseModel
	Name string `gorm:"column:name;type:varchar(256);uniqueIndex:uk_registered_model_name;not null;comment:model name" json:"name"`
	Kind string `gorm:"column:kind;type:varchar(64);not null;comment:model kind of the first registration" json:"kind"`
}

type ModelVersion struct {
	BaseModel
	Name           string `gorm:"column:name;type:varchar(256);uniqueIndex:uk_model_version;not null;comment:model name" json:"name"`
	Version        int    `gorm:"column:version;uniqueIndex:uk_model_version;not null;comment:version" json:"version"`
	Stage          string `gorm:"column:stage;type:varchar(32);not null;default:'candidate';comment:lifecycle stage" json:"stage"`
	Kind           string `gorm:"column:kind;type:varchar(64);not null;comment:model kind" json:"kind"`
	RunID          string `gorm:"column:run_id;type:varchar(36);index:idx_model_version_run;not null;comment:source run id" json:"run_id"`
	ArtifactDigest string `gorm:"column:artifact_digest;type:varchar(80);index:idx_model_version_digest;not null;comment:artifact digest" json:"artifact_digest"`
	Tags           Tags   `gorm:"column:tags;comment:version tags" json:"tags"`

	// Production holds the name while the version is in production and is
	// null otherwise, so the unique index admits one production version per name.
	Production *string `gorm:"column:production;type:varchar(256);uniqueIndex:uk_model_version_production;comment:production name" json:"-"`
}

// Healthy reports whether the version is not marked unhealthy.
func (v *ModelVersion) Healthy() bool {
	return v.Tags[TagHealth] != HealthUnhealthy
}
