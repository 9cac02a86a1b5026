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

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"d7y.io/aiops/aiops/config"
	"d7y.io/aiops/version"
)

const (
	// Namespace is the prometheus namespace of every collector.
	Namespace = "dragonfly"

	// Subsystem is the prometheus subsystem of every collector.
	Subsystem = "aiops"
)

// Variables declared for metrics.
var (
	IngestRowsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: Subsystem,
		Name:      "ingest_rows_total",
		Help:      "Counter of the number of ingested metric samples.",
	}, []string{"stream_kind"})

	IngestFailureCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: Subsystem,
		Name:      "ingest_failure_total",
		Help:      "Counter of the number of failed ingest calls.",
	}, []string{"stream_kind", "kind"})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: Subsystem,
		Name:      "query_duration_seconds",
		Help:      "Histogram of the time spent on range queries.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"stream_kind"})

	SweptRowsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: Subsystem,
		Name:      "swept_rows_total",
		Help:      "Counter of the number of expired samples removed.",
	}, []string{"stream_kind"})

	TrainingCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: Subsystem,
		Name:      "training_total",
		Help:      "Counter of the number of finalized training runs.",
	}, []string{"model_kind", "status"})

	TrainingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: Subsystem,
		Name:      "training_duration_seconds",
		Help:      "Histogram of the time spent on training runs.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
	}, []string{"model_kind"})

	PredictionCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: Subsystem,
		Name:      "prediction_total",
		Help:      "Counter of the number of served predictions.",
	}, []string{"model_kind", "mode"})

	PredictionFailureCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: Subsystem,
		Name:      "prediction_failure_total",
		Help:      "Counter of the number of failed predictions.",
	}, []string{"kind"})

	ModelCacheHitCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: Subsystem,
		Name:      "model_cache_hit_total",
		Help:      "Counter of the number of loaded-model cache hits.",
	})

	ModelCacheMissCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: Subsystem,
		Name:      "model_cache_miss_total",
		Help:      "Counter of the number of loaded-model cache misses.",
	})

	ArtifactLoadFailureCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: Subsystem,
		Name:      "artifact_load_failure_total",
		Help:      "Counter of the number of failed artifact loads.",
	}, []string{"kind"})

	VersionGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: Subsystem,
		Name:      "version",
		Help:      "Version info of the service.",
	}, []string{"major", "minor", "git_version", "git_commit", "platform", "build_time", "go_version"})
)

// New returns the metrics http server.
func New(cfg *config.PrometheusConfig) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	VersionGauge.WithLabelValues(version.Major, version.Minor, version.GitVersion, version.GitCommit, version.Platform, version.BuildTime, version.GoVersion).Set(1)
	return &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
}
