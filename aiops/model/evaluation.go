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
	"sort"

	"github.com/sjwhitworth/golearn/evaluation"
)

const (
	MetricAccuracy  = "accuracy"
	MetricPrecision = "precision"
	MetricRecall    = "recall"
	MetricAUC       = "auc"
	MetricR2        = "r2"
	MetricRMSE      = "rmse"
	MetricMAE       = "mae"
)

// confusionMatrix counts actual against predicted classes.
func confusionMatrix(actual, predicted []string) evaluation.ConfusionMatrix {
	cm := make(evaluation.ConfusionMatrix)
	for i := range actual {
		if _, ok := cm[actual[i]]; !ok {
			cm[actual[i]] = make(map[string]int)
		}

		cm[actual[i]][predicted[i]]++
	}

	return cm
}

// binaryMetrics scores a binary classifier, scores are positive class probabilities.
func binaryMetrics(actual, predicted []string, scores []float64, positive string) map[string]float64 {
	cm := confusionMatrix(actual, predicted)
	labels := make([]bool, len(actual))
	for i := range actual {
		labels[i] = actual[i] == positive
	}

	return map[string]float64{
		MetricAccuracy:  finite(evaluation.GetAccuracy(cm)),
		MetricPrecision: precision(cm, positive),
		MetricRecall:    recall(cm, positive),
		MetricAUC:       auc(labels, scores),
	}
}

// multiclassMetrics scores a multiclass classifier with macro averages,
// probabilities are indexed like classes.
func multiclassMetrics(actual, predicted []string, probabilities [][]float64, classes []string) map[string]float64 {
	cm := confusionMatrix(actual, predicted)

	var (
		precisions, recalls, aucs float64
		present, ranked           int
	)
	for i, class := range classes {
		if _, ok := cm[class]; !ok {
			continue
		}

		present++
		precisions += precision(cm, class)
		recalls += recall(cm, class)

		labels := make([]bool, len(actual))
		scores := make([]float64, len(actual))
		var positives int
		for j := range actual {
			labels[j] = actual[j] == class
			scores[j] = probabilities[j][i]
			if labels[j] {
				positives++
			}
		}

		if positives < len(actual) {
			aucs += auc(labels, scores)
			ranked++
		}
	}

	metrics := map[string]float64{
		MetricAccuracy: finite(evaluation.GetAccuracy(cm)),
		MetricAUC:      0.5,
	}
	if present > 0 {
		metrics[MetricPrecision] = precisions / float64(present)
		metrics[MetricRecall] = recalls / float64(present)
	}

	if ranked > 0 {
		metrics[MetricAUC] = aucs / float64(ranked)
	}

	return metrics
}

func precision(cm evaluation.ConfusionMatrix, class string) float64 {
	var predicted int
	for _, row := range cm {
		predicted += row[class]
	}

	if predicted == 0 {
		return 0
	}

	return finite(evaluation.GetPrecision(class, cm))
}

func recall(cm evaluation.ConfusionMatrix, class string) float64 {
	row, ok := cm[class]
	if !ok || len(row) == 0 {
		return 0
	}

	return finite(evaluation.GetRecall(class, cm))
}

// auc is the area under the ROC curve by rank statistics, 0.5 when only one class is present.
func auc(labels []bool, scores []float64) float64 {
	type pair struct {
		score    float64
		positive bool
	}

	pairs := make([]pair, len(labels))
	var positives, negatives float64
	for i := range labels {
		pairs[i] = pair{scores[i], labels[i]}
		if labels[i] {
			positives++
		} else {
			negatives++
		}
	}

	if positives == 0 || negatives == 0 {
		return 0.5
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })

	// Tied scores share their average rank.
	var rankSum float64
	for i := 0; i < len(pairs); {
		j := i
		for j < len(pairs) && pairs[j].score == pairs[i].score {
			j++
		}

		rank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			if pairs[k].positive {
				rankSum += rank
			}
		}
		i = j
	}

	return (rankSum - positives*(positives+1)/2) / (positives * negatives)
}

// regressionMetrics returns r2, rmse and mae.
func regressionMetrics(actual, predicted []float64) map[string]float64 {
	n := float64(len(actual))
	if n == 0 {
		return map[string]float64{MetricR2: 0, MetricRMSE: 0, MetricMAE: 0}
	}

	var maeSum, mseSum, mean, tssSum float64
	for i := range actual {
		maeSum += math.Abs(actual[i] - predicted[i])
		mseSum += math.Pow(actual[i]-predicted[i], 2)
		mean += actual[i]
	}

	mean /= n
	for i := range actual {
		tssSum += math.Pow(actual[i]-mean, 2)
	}

	r2 := 0.0
	if tssSum > 0 {
		r2 = 1 - mseSum/tssSum
	}

	return map[string]float64{
		MetricR2:   r2,
		MetricRMSE: math.Sqrt(mseSum / n),
		MetricMAE:  maeSum / n,
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}

	return v
}
