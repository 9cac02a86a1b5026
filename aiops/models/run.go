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

import "time"

const (
	// RunStatusRunning is the status of an open run.
	RunStatusRunning = "running"

	// RunStatusSucceeded is the terminal status of a successful run.
	RunStatusSucceeded = "succeeded"

	// RunStatusFailed is the terminal status of a failed run.
	RunStatusFailed = "failed"

	// RunStatusAborted is the terminal status of a run canceled before it completed.
	RunStatusAborted = "aborted"
)

// MaxValueLength is the length in characters of param and tag values.
const MaxValueLength = 1024

type Run struct {
	BaseModel
	RunID          string     `gorm:"column:run_id;type:varchar(36);uniqueIndex:uk_run_id;not null;comment:run id" json:"run_id"`
	Experiment     string     `gorm:"column:experiment;type:varchar(256);index:idx_run_experiment;not null;comment:experiment name" json:"experiment"`
	Status         string     `gorm:"column:status;type:varchar(32);not null;default:'running';comment:run status" json:"status"`
	ArtifactDigest string     `gorm:"column:artifact_digest;type:varchar(80);comment:artifact digest" json:"artifact_digest"`
	FinishedAt     *time.Time `gorm:"column:finished_at;comment:finished at" json:"finished_at"`
}

type RunParam struct {
	BaseModel
	RunID string `gorm:"column:run_id;type:varchar(36);uniqueIndex:uk_run_param;not null;comment:run id" json:"run_id"`
	Name  string `gorm:"column:name;type:varchar(256);uniqueIndex:uk_run_param;not null;comment:parameter name" json:"name"`
	Value string `gorm:"column:value;type:varchar(1024);comment:parameter value" json:"value"`
}

type RunMetric struct {
	BaseModel
	RunID     string    `gorm:"column:run_id;type:varchar(36);uniqueIndex:uk_run_metric;not null;comment:run id" json:"run_id"`
	Name      string    `gorm:"column:name;type:varchar(256);uniqueIndex:uk_run_metric;not null;comment:metric name" json:"name"`
	Step      int64     `gorm:"column:step;uniqueIndex:uk_run_metric;not null;comment:monotone step" json:"step"`
	Value     float64   `gorm:"column:value;comment:metric value" json:"value"`
	Timestamp time.Time `gorm:"column:timestamp;comment:logged at" json:"timestamp"`
}

type RunTag struct {
	BaseModel
	RunID string `gorm:"column:run_id;type:varchar(36);uniqueIndex:uk_run_tag;not null;comment:run id" json:"run_id"`
	Name  string `gorm:"column:name;type:varchar(256);uniqueIndex:uk_run_tag;not null;comment:tag name" json:"name"`
	Value string `gorm:"column:value;type:varchar(1024);comment:tag value" json:"value"`
}
