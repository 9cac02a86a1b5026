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

package training

import (
	"math/rand"
	"sort"

	"d7y.io/aiops/aiops/metricstore"
)

// trainFraction is the share of rows used for fitting.
const trainFraction = 0.8

// splitOrdered keeps time order, the newest rows validate.
func splitOrdered(dataset *metricstore.Dataset) (*metricstore.Dataset, *metricstore.Dataset) {
	n := dataset.Len()
	cut := int(float64(n) * trainFraction)
	if cut < 1 {
		cut = 1
	}

	if cut >= n && n > 1 {
		cut = n - 1
	}

	return dataset.Slice(0, cut), dataset.Slice(cut, n)
}

// splitStratified shuffles every class with seed and keeps the train
// fraction of each class, so rare classes appear on both sides.
func splitStratified(dataset *metricstore.Dataset, seed int64) (*metricstore.Dataset, *metricstore.Dataset) {
	classes := make(map[string][]int)
	for i, label := range dataset.Labels {
		classes[label] = append(classes[label], i)
	}

	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	sort.Strings(names)

	rng := rand.New(rand.NewSource(seed))
	var train, valid []int
	for _, name := range names {
		rows := classes[name]
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

		cut := int(float64(len(rows)) * trainFraction)
		if cut == 0 {
			cut = 1
		}

		train = append(train, rows[:cut]...)
		valid = append(valid, rows[cut:]...)
	}

	// Rows stay in time order within each side.
	sort.Ints(train)
	sort.Ints(valid)
	return dataset.Select(train), dataset.Select(valid)
}
