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
)

const (
	healthWindow   = time.Hour
	incidentWindow = 24 * time.Hour
)

// LabelService names the service a prediction or detection refers to.
const LabelService = "service"

// HealthSummary returns the last hour of infra metrics and the last day of critical findings for source.
func (s *store) HealthSummary(ctx context.Context, source string, now time.Time) (*HealthSummary, error) {
	summary := &HealthSummary{Source: source}

	cpu, err := s.Aggregate(ctx, source, StreamInfraMetrics, FieldCPUUsage, healthWindow, now)
	if err != nil {
		return nil, err
	}
	summary.AvgCPU, summary.MaxCPU, summary.Samples = cpu.Mean, cpu.Max, cpu.Count

	memory, err := s.Aggregate(ctx, source, StreamInfraMetrics, FieldMemoryUsage, healthWindow, now)
	if err != nil {
		return nil, err
	}
	summary.AvgMemory, summary.MaxMemory = memory.Mean, memory.Max

	errorRate, err := s.Aggregate(ctx, source, StreamInfraMetrics, FieldErrorRate, healthWindow, now)
	if err != nil {
		return nil, err
	}
	summary.AvgErrorRate = errorRate.Mean

	if summary.CriticalPredictions24h, err = s.countCritical(ctx, StreamPrediction, source, now); err != nil {
		return nil, err
	}

	if summary.CriticalThreats24h, err = s.countCritical(ctx, StreamDetection, source, now); err != nil {
		return nil, err
	}

	return summary, nil
}

// countCritical counts critical samples emitted by source or labeled with it as service.
func (s *store) countCritical(ctx context.Context, kind StreamKind, source string, now time.Time) (int, error) {
	samples, err := s.QueryRange(ctx, Query{
		Kind:   kind,
		Since:  now.Add(-incidentWindow),
		Until:  now,
		Fields: []string{},
	})
	if err != nil {
		return 0, err
	}

	var count int
	for _, sample := range samples {
		if sample.Labels[LabelSeverity] != SeverityCritical {
			continue
		}

		if sample.Source == source || sample.Labels[LabelService] == source {
			count++
		}
	}

	return count, nil
}
