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

package model

import (
	"math"

	"d7y.io/aiops/aiops/metricstore"
)

const (
	// MinProbability is the lowest probability of any class.
	MinProbability = 1e-9

	// MaxProbability is the highest probability of any class.
	MaxProbability = 1 - 1e-9
)

// clampProbabilities bounds every element to [MinProbability, MaxProbability]
// and renormalizes to a sum of one.
func clampProbabilities(p []float64) []float64 {
	n := float64(len(p))
	if n == 0 {
		return nil
	}

	out := make([]float64, len(p))
	var sum float64
	for i, v := range p {
		if math.IsNaN(v) {
			v = 0
		}

		out[i] = math.Min(math.Max(v, MinProbability), MaxProbability)
		sum += out[i]
	}

	// Mixing with the uniform distribution keeps the bounds after normalization.
	eps := 2 * MinProbability
	for i := range out {
		out[i] = (1-n*eps)*out[i]/sum + eps
	}

	return out
}

// probabilityMap pairs classes with clamped probabilities.
func probabilityMap(classes []string, p []float64) map[string]float64 {
	clamped := clampProbabilities(p)
	m := make(map[string]float64, len(classes))
	for i, class := range classes {
		m[class] = clamped[i]
	}

	return m
}

// argmax returns the first index of the largest element.
func argmax(p []float64) int {
	best := 0
	for i := range p {
		if p[i] > p[best] {
			best = i
		}
	}

	return best
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}

	e := math.Exp(x)
	return e / (1 + e)
}

// severityFromProbability maps a failure probability to a severity.
func severityFromProbability(p float64) string {
	switch {
	case p >= 0.8:
		return metricstore.SeverityCritical
	case p >= 0.6:
		return metricstore.SeverityHigh
	case p >= 0.4:
		return metricstore.SeverityMedium
	default:
		return metricstore.SeverityLow
	}
}

// severityFromScore maps an anomaly score to a severity.
func severityFromScore(score float64) string {
	switch {
	case score >= 5:
		return metricstore.SeverityCritical
	case score >= 4:
		return metricstore.SeverityHigh
	case score >= 3:
		return metricstore.SeverityMedium
	default:
		return metricstore.SeverityLow
	}
}
