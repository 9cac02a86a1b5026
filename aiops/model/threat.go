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
	"context"
	"fmt"

	"d7y.io/aiops/aiops/artifact"
	"d7y.io/aiops/aiops/metricstore"
	"d7y.io/aiops/internal/dferrors"
	logger "d7y.io/aiops/internal/dflog"
)

// Threat classes.
const (
	ThreatNormal              = "normal"
	ThreatUnauthorizedAccess  = "unauthorized_access"
	ThreatDDoS                = "ddos_attack"
	ThreatDataExfiltration    = "data_exfiltration"
	ThreatPrivilegeEscalation = "privilege_escalation"
	ThreatMalware             = "malware_activity"
	ThreatBruteForce          = "brute_force"
	ThreatSQLInjection        = "sql_injection"
	ThreatXSS                 = "xss_attack"
	ThreatPortScanning        = "port_scanning"
)

// ThreatClasses are the classes of the threat detector, normal first.
var ThreatClasses = []string{
	ThreatNormal,
	ThreatUnauthorizedAccess,
	ThreatDDoS,
	ThreatDataExfiltration,
	ThreatPrivilegeEscalation,
	ThreatMalware,
	ThreatBruteForce,
	ThreatSQLInjection,
	ThreatXSS,
	ThreatPortScanning,
}

const (
	heuristicThreatConfidence = 0.7
	heuristicNormalConfidence = 0.9
)

// ThreatDetails explains a threat classification.
type ThreatDetails struct {
	ThreatType         string
	Detected           bool
	Confidence         float64
	Indicators         []string
	RecommendedActions []string
}

type threatState struct {
	Forest *forest `json:"forest"`
}

// ThreatDetector classifies a security record into a threat class.
type ThreatDetector struct {
	params Hyperparameters
	state  threatState
	fitted bool
}

// NewThreatDetector returns an unfitted threat detector.
func NewThreatDetector(params Hyperparameters) *ThreatDetector {
	return &ThreatDetector{params: params}
}

var threatSchema = Schema{
	Features: FeatureSchema{
		Stream:   metricstore.StreamSecurityMetrics,
		Fields:   ThreatFeatures,
		Required: []string{metricstore.FieldFailedAuthCount, metricstore.FieldRequestRate},
	},
	Output: OutputSchema{Classes: ThreatClasses},
}

func (d *ThreatDetector) Kind() Kind {
	return KindMulticlassClassifier
}

func (d *ThreatDetector) DeclaredSchema() Schema {
	return threatSchema
}

func (d *ThreatDetector) Fitted() bool {
	return d.fitted
}

// Fit grows a class reweighted random forest.
func (d *ThreatDetector) Fit(ctx context.Context, dataset *metricstore.Dataset) error {
	if err := threatSchema.checkFeatures(dataset); err != nil {
		return err
	}

	y, err := threatLabels(dataset)
	if err != nil {
		return err
	}

	if len(y) == 0 {
		return dferrors.New(dferrors.KindInsufficientData, "dataset is empty")
	}

	counts := make([]float64, len(ThreatClasses))
	for _, c := range y {
		counts[c]++
	}

	var present float64
	for _, count := range counts {
		if count > 0 {
			present++
		}
	}

	weights := make([]float64, len(y))
	for i, c := range y {
		weights[i] = float64(len(y)) / (present * counts[c])
	}

	f, err := fitForest(ctx, dataset.X, y, weights, len(ThreatClasses), forestConfig{
		trees:    d.params.Trees,
		maxDepth: d.params.MaxDepth,
		minLeaf:  d.params.MinLeaf,
		seed:     d.params.Seed,
	})
	if err != nil {
		return err
	}

	d.state = threatState{Forest: f}
	d.fitted = true

	logger.TrainLogger.Debugf("threat detector fitted %d trees on %d rows of %.0f classes", len(f.Trees), len(y), present)
	return nil
}

// Evaluate reports accuracy, macro precision, macro recall and macro one-vs-rest AUC.
func (d *ThreatDetector) Evaluate(ctx context.Context, dataset *metricstore.Dataset) (map[string]float64, error) {
	if !d.fitted {
		return nil, dferrors.New(dferrors.KindInvalidArgument, "model is not fitted")
	}

	if err := threatSchema.checkFeatures(dataset); err != nil {
		return nil, err
	}

	y, err := threatLabels(dataset)
	if err != nil {
		return nil, err
	}

	if len(y) == 0 {
		return nil, dferrors.New(dferrors.KindInsufficientData, "validation dataset is empty")
	}

	var (
		actual        = make([]string, len(y))
		predicted     = make([]string, len(y))
		probabilities = make([][]float64, len(y))
	)
	for i, row := range dataset.X {
		if err := dferrors.FromContext(ctx); err != nil {
			return nil, err
		}

		probabilities[i] = clampProbabilities(d.state.Forest.predict(row))
		actual[i] = ThreatClasses[y[i]]
		predicted[i] = ThreatClasses[argmax(probabilities[i])]
	}

	return multiclassMetrics(actual, predicted, probabilities, ThreatClasses), nil
}

func (d *ThreatDetector) Predict(input Input) (*Prediction, error) {
	if err := checkRecords([]Record{input.Record}); err != nil {
		return nil, err
	}

	if !d.fitted {
		if input.Strict {
			return nil, unfitted(d.Kind())
		}

		return d.heuristic(input.Record), nil
	}

	if err := threatSchema.checkRecord(input.Record); err != nil {
		return nil, err
	}

	p := d.state.Forest.predict(threatSchema.vector(input.Record))
	return threatPrediction(ModeTrained, p, input.Record), nil
}

// heuristic is an ordered rule cascade, the first matching rule wins.
func (d *ThreatDetector) heuristic(record Record) *Prediction {
	class := ThreatNormal
	switch {
	case record[metricstore.FieldFailedAuthCount] > 10:
		class = ThreatBruteForce
	case record[metricstore.FieldRequestRate] > 1000:
		class = ThreatDDoS
	case record[metricstore.FieldSQLInjectionScore] > 0.7:
		class = ThreatSQLInjection
	case record[metricstore.FieldXSSScore] > 0.7:
		class = ThreatXSS
	case record[metricstore.FieldDataTransferRate] > 100:
		class = ThreatDataExfiltration
	case record[metricstore.FieldPortScanScore] > 0.8:
		class = ThreatPortScanning
	case record[metricstore.FieldPrivilegeEscalationScore] > 0.7:
		class = ThreatPrivilegeEscalation
	}

	confidence := heuristicThreatConfidence
	if class == ThreatNormal {
		confidence = heuristicNormalConfidence
	}

	p := make([]float64, len(ThreatClasses))
	for i, c := range ThreatClasses {
		if c == class {
			p[i] = confidence
		} else {
			p[i] = (1 - confidence) / float64(len(ThreatClasses)-1)
		}
	}

	return threatPrediction(ModeHeuristic, p, record)
}

func (d *ThreatDetector) Save() ([]byte, artifact.Manifest, error) {
	return save(d.Kind(), d.fitted, d.DeclaredSchema(), d.state)
}

func (d *ThreatDetector) Load(data []byte, manifest artifact.Manifest) error {
	var state threatState
	if err := load(d.Kind(), data, manifest, &state, d.DeclaredSchema); err != nil {
		return err
	}

	if state.Forest == nil || !state.Forest.valid() || state.Forest.Classes != len(ThreatClasses) ||
		state.Forest.Features != len(ThreatFeatures) {
		return dferrors.New(dferrors.KindIncompatibleArtifact, "threat detector state is malformed")
	}

	d.state = state
	d.fitted = true
	return nil
}

func threatPrediction(mode Mode, p []float64, record Record) *Prediction {
	probabilities := probabilityMap(ThreatClasses, p)
	class := ThreatClasses[argmax(p)]
	confidence := probabilities[class]

	return &Prediction{
		Kind:          KindMulticlassClassifier,
		Mode:          mode,
		Score:         confidence,
		Severity:      ThreatSeverity(class),
		Class:         class,
		Probabilities: probabilities,
		Threat: &ThreatDetails{
			ThreatType:         class,
			Detected:           class != ThreatNormal,
			Confidence:         confidence,
			Indicators:         threatIndicators(record),
			RecommendedActions: threatActions(class),
		},
	}
}

// ThreatSeverity is tied to the class, not the probability.
func ThreatSeverity(class string) string {
	switch class {
	case ThreatNormal:
		return metricstore.SeverityLow
	case ThreatDDoS, ThreatDataExfiltration, ThreatPrivilegeEscalation:
		return metricstore.SeverityCritical
	case ThreatSQLInjection, ThreatXSS, ThreatMalware, ThreatBruteForce:
		return metricstore.SeverityHigh
	default:
		return metricstore.SeverityMedium
	}
}

func threatIndicators(record Record) []string {
	var indicators []string
	if v := record[metricstore.FieldFailedAuthCount]; v > 10 {
		indicators = append(indicators, fmt.Sprintf("high failed authentication: %.0f attempts", v))
	}

	if v := record[metricstore.FieldRequestRate]; v > 500 {
		indicators = append(indicators, fmt.Sprintf("elevated request rate: %.0f req/s", v))
	}

	if v := record[metricstore.FieldSQLInjectionScore]; v > 0.7 {
		indicators = append(indicators, fmt.Sprintf("sql injection patterns detected (score: %.2f)", v))
	}

	if v := record[metricstore.FieldXSSScore]; v > 0.7 {
		indicators = append(indicators, fmt.Sprintf("xss patterns detected (score: %.2f)", v))
	}

	if v := record[metricstore.FieldPortScanScore]; v > 0.7 {
		indicators = append(indicators, fmt.Sprintf("port scanning activity (score: %.2f)", v))
	}

	if v := record[metricstore.FieldDataTransferRate]; v > 50 {
		indicators = append(indicators, fmt.Sprintf("high data transfer: %.1f MB/s", v))
	}

	if v := record[metricstore.FieldPrivilegeEscalationScore]; v > 0.7 {
		indicators = append(indicators, fmt.Sprintf("privilege escalation attempts (score: %.2f)", v))
	}

	if len(indicators) == 0 {
		return []string{"normal activity patterns"}
	}

	return indicators
}

var threatActionsByClass = map[string][]string{
	ThreatBruteForce: {
		"enable rate limiting on authentication endpoints",
		"require a captcha after failed attempts",
		"block suspicious ip addresses",
	},
	ThreatDDoS: {
		"enable ddos protection",
		"apply rate limiting",
		"scale infrastructure to absorb the load",
	},
	ThreatSQLInjection: {
		"block malicious requests",
		"use prepared statements",
		"enable waf rules for sql injection",
	},
	ThreatXSS: {
		"sanitize user inputs",
		"enforce a content security policy",
	},
	ThreatDataExfiltration: {
		"block suspicious data transfers",
		"review access logs",
		"enable data loss prevention",
	},
	ThreatPrivilegeEscalation: {
		"revoke elevated privileges",
		"audit recent privilege changes",
	},
	ThreatUnauthorizedAccess: {
		"block unauthorized ips",
		"force a password reset for affected accounts",
		"enable mfa",
	},
	ThreatMalware: {
		"isolate affected systems",
		"run a malware scan",
		"restore from a clean backup if needed",
	},
	ThreatPortScanning: {
		"block the scanning source",
		"close unused ports",
	},
}

func threatActions(class string) []string {
	if class == ThreatNormal {
		return []string{"continue monitoring"}
	}

	actions := append([]string(nil), threatActionsByClass[class]...)
	return append(actions, "alert the security team")
}

func threatLabels(dataset *metricstore.Dataset) ([]int, error) {
	if dataset.Label == "" || len(dataset.Labels) != dataset.Len() {
		return nil, dferrors.New(dferrors.KindSchemaMismatch, "threat detector requires a labeled dataset")
	}

	index := make(map[string]int, len(ThreatClasses))
	for i, class := range ThreatClasses {
		index[class] = i
	}

	y := make([]int, len(dataset.Labels))
	for i, label := range dataset.Labels {
		c, ok := index[label]
		if !ok {
			return nil, dferrors.Newf(dferrors.KindSchemaMismatch, "unknown threat class %q", label)
		}
		y[i] = c
	}

	return y, nil
}
