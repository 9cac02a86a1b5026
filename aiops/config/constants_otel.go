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

import "go.opentelemetry.io/otel/attribute"

const (
	AttributeModelName    = attribute.Key("d7y.aiops.model.name")
	AttributeModelKind    = attribute.Key("d7y.aiops.model.kind")
	AttributeModelVersion = attribute.Key("d7y.aiops.model.version")
	AttributeModelMode    = attribute.Key("d7y.aiops.model.mode")
	AttributeRunID        = attribute.Key("d7y.aiops.run.id")
	AttributeRunStatus    = attribute.Key("d7y.aiops.run.status")
	AttributeDatasetRows  = attribute.Key("d7y.aiops.dataset.rows")
	AttributeCacheHit     = attribute.Key("d7y.aiops.cache.hit")

	SpanTrain         = "train"
	SpanTrainDataset  = "train-dataset"
	SpanTrainFit      = "train-fit"
	SpanTrainEvaluate = "train-evaluate"
	SpanTrainPersist  = "train-persist"
	SpanPredict       = "predict"
	SpanLoadModel     = "load-model"
)
