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
	"math"

	"d7y.io/aiops/internal/dferrors"
)

// Infra metrics fields.
const (
	FieldCPUUsage         = "cpu_usage"
	FieldMemoryUsage      = "memory_usage"
	FieldDiskIO           = "disk_io"
	FieldNetworkTraffic   = "network_traffic"
	FieldErrorRate        = "error_rate"
	FieldResponseTime     = "response_time"
	FieldRequestRate      = "request_rate"
	FieldStorageUsage     = "storage_usage"
	FieldUserCount        = "user_count"
	FieldTransactionCount = "transaction_count"
)

// Security metrics fields.
const (
	FieldFailedAuthCount          = "failed_auth_count"
	FieldUniqueIPs                = "unique_ips"
	FieldAvgPayloadSize           = "avg_payload_size"
	FieldPortScanScore            = "port_scan_score"
	FieldSQLInjectionScore        = "sql_injection_score"
	FieldXSSScore                 = "xss_score"
	FieldGeographicEntropy        = "geographic_entropy"
	FieldTimeAnomalyScore         = "time_anomaly_score"
	FieldFileAccessRate           = "file_access_rate"
	FieldPrivilegeEscalationScore = "privilege_escalation_score"
	FieldDataTransferRate         = "data_transfer_rate"
)

// Output stream fields.
const (
	FieldScore          = "score"
	FieldClass          = "class"
	FieldConfidence     = "confidence"
	FieldPredictedUsage = "predicted_usage"
	FieldLower          = "lower"
	FieldUpper          = "upper"
	FieldZScore         = "zscore"
	FieldDuration       = "duration_seconds"
	FieldSuccess        = "success"
)

// Well known labels.
const (
	LabelSeverity   = "severity"
	LabelThreatType = "threat_type"
	LabelMode       = "mode"
	LabelRunID      = "run_id"
	LabelVersion    = "version"
	LabelClass      = "class"
	LabelModelKind  = "model_kind"
)

// Severity label values.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Schema declares the fields of a stream kind. Undeclared fields are rejected.
type Schema struct {
	// Required fields must be present on every sample.
	Required []string

	// Optional fields may be present.
	Optional []string

	// Hot fields are rolled up into 1-minute buckets.
	Hot []string
}

// Declares reports whether field belongs to the schema.
func (s Schema) Declares(field string) bool {
	return contains(s.Required, field) || contains(s.Optional, field)
}

// IsHot reports whether field is materialized in rollups.
func (s Schema) IsHot(field string) bool {
	return contains(s.Hot, field)
}

// Validate checks the sample against the schema.
func (s Schema) Validate(sample Sample) error {
	for _, field := range s.Required {
		if _, ok := sample.Fields[field]; !ok {
			return dferrors.Newf(dferrors.KindSchemaMismatch, "missing required field %s", field)
		}
	}

	for field, value := range sample.Fields {
		if !s.Declares(field) {
			return dferrors.Newf(dferrors.KindSchemaMismatch, "undeclared field %s", field)
		}

		if math.IsNaN(value) || math.IsInf(value, 0) {
			return dferrors.Newf(dferrors.KindSchemaMismatch, "field %s is not finite", field)
		}
	}

	return nil
}

// DefaultSchemas returns the schema of every stream kind.
func DefaultSchemas() map[StreamKind]Schema {
	infraOptional := []string{
		FieldDiskIO, FieldNetworkTraffic, FieldErrorRate, FieldResponseTime,
		FieldRequestRate, FieldStorageUsage, FieldUserCount, FieldTransactionCount,
	}

	securityOptional := []string{
		FieldUniqueIPs, FieldAvgPayloadSize, FieldPortScanScore, FieldSQLInjectionScore,
		FieldXSSScore, FieldGeographicEntropy, FieldTimeAnomalyScore, FieldFileAccessRate,
		FieldPrivilegeEscalationScore, FieldDataTransferRate,
	}

	return map[StreamKind]Schema{
		StreamInfraMetrics: {
			Required: []string{FieldCPUUsage, FieldMemoryUsage},
			Optional: infraOptional,
			Hot:      append([]string{FieldCPUUsage, FieldMemoryUsage}, infraOptional...),
		},
		StreamSecurityMetrics: {
			Required: []string{FieldRequestRate, FieldFailedAuthCount},
			Optional: securityOptional,
			Hot:      []string{FieldRequestRate, FieldFailedAuthCount},
		},
		StreamPrediction: {
			Required: []string{FieldScore},
			Optional: []string{FieldClass},
		},
		StreamDetection: {
			Required: []string{FieldConfidence},
			Optional: []string{FieldScore},
		},
		StreamForecast: {
			Required: []string{FieldPredictedUsage},
			Optional: []string{FieldLower, FieldUpper},
		},
		StreamAnomaly: {
			Required: []string{FieldScore},
			Optional: []string{FieldZScore},
		},
		StreamRemediation: {
			Optional: []string{FieldDuration, FieldSuccess},
		},
	}
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}

	return false
}
