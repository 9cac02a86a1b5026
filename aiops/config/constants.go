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

package config

import (
	"time"
)

const (
	// DefaultRetentionRaw is default max age of raw metric samples.
	DefaultRetentionRaw = 7 * 24 * time.Hour

	// DefaultRetentionAggregate is default max age of 1-minute rollups, zero means unbounded.
	DefaultRetentionAggregate = time.Duration(0)
)

const (
	// DefaultMinRowsClassifier is default minimum rows for classifier fit.
	DefaultMinRowsClassifier = 100

	// DefaultMinRowsRegressor is default minimum rows for regressor fit.
	DefaultMinRowsRegressor = 100

	// DefaultMinRowsAnomaly is default minimum rows for anomaly baselines.
	DefaultMinRowsAnomaly = 10

	// DefaultTrainingWorkers means physical cores minus one.
	DefaultTrainingWorkers = 0
)

const (
	// DefaultServingCacheCapacity is default loaded-model cache capacity.
	DefaultServingCacheCapacity = 8

	// DefaultServingAllowHeuristicFallback is default value of allow_heuristic_fallback.
	DefaultServingAllowHeuristicFallback = true

	// DefaultServingWritebackTimeout is default timeout of prediction write-back.
	DefaultServingWritebackTimeout = 5 * time.Second
)

const (
	// DefaultAnomalyThresholdSigma is default z-score anomalous threshold.
	DefaultAnomalyThresholdSigma = 3.0

	// DefaultAnomalyWindowSize is default number of baseline values per metric.
	DefaultAnomalyWindowSize = 100
)

const (
	// DefaultGCInterval is default interval of maintenance tasks.
	DefaultGCInterval = 10 * time.Minute

	// DefaultGCTimeout is default timeout of a single maintenance task.
	DefaultGCTimeout = 5 * time.Minute
)

const (
	// DefaultPrometheusAddr is default address for metrics server.
	DefaultPrometheusAddr = ":8000"
)

const (
	// DatabaseTypeMysql is the mysql database.
	DatabaseTypeMysql = "mysql"

	// DatabaseTypePostgres is the postgres database.
	DatabaseTypePostgres = "postgres"

	// DatabaseTypeSqlite is the embedded sqlite database.
	DatabaseTypeSqlite = "sqlite"

	// DefaultSqliteFilename is default sqlite file under the data directory.
	DefaultSqliteFilename = "aiops.db"

	// DefaultMysqlPort is default port of mysql.
	DefaultMysqlPort = 3306

	// DefaultPostgresPort is default port of postgres.
	DefaultPostgresPort = 5432
)

const (
	// DefaultLogRotateMaxSize is default size in megabytes before rotation.
	DefaultLogRotateMaxSize = 1024

	// DefaultLogRotateMaxAge is default number of days to retain old log files.
	DefaultLogRotateMaxAge = 7

	// DefaultLogRotateMaxBackups is default number of old log files to keep.
	DefaultLogRotateMaxBackups = 20
)
