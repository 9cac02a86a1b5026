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
	"math"
	"math/rand"
	"sort"

	"github.com/sjwhitworth/golearn/base"

	"d7y.io/aiops/internal/dferrors"
)

// boostingMinLeaf is the minimum number of rows per boosted leaf.
const boostingMinLeaf = 3

// booster is a gradient boosted ensemble of regression trees under squared loss.
type booster struct {
	Base      float64 `json:"base"`
	Shrinkage float64 `json:"shrinkage"`
	Features  int     `json:"features"`
	Trees     []tree  `json:"trees"`
}

type boostConfig struct {
	rounds        int
	depth         int
	shrinkage     float64
	subsample     float64
	earlyStopping int
	seed          int64
}

// fitBooster boosts on the train grid and stops early when the error
// on the validation grid stops improving.
func fitBooster(ctx context.Context, train, valid base.FixedDataGrid, cfg boostConfig) (*booster, error) {
	x, y, err := gridRows(train)
	if err != nil {
		return nil, dferrors.Wrap(dferrors.KindSchemaMismatch, err, "read training grid")
	}

	validX, validY, err := gridRows(valid)
	if err != nil {
		return nil, dferrors.Wrap(dferrors.KindSchemaMismatch, err, "read validation grid")
	}

	if len(y) == 0 {
		return nil, dferrors.New(dferrors.KindInsufficientData, "training grid is empty")
	}

	var mean float64
	for _, v := range y {
		mean += v
	}
	mean /= float64(len(y))

	b := &booster{
		Base:      mean,
		Shrinkage: cfg.shrinkage,
		Features:  len(x[0]),
	}

	rng := rand.New(rand.NewSource(cfg.seed))
	current := make([]float64, len(y))
	for i := range current {
		current[i] = mean
	}

	validCurrent := make([]float64, len(validY))
	for i := range validCurrent {
		validCurrent[i] = mean
	}

	var (
		bestError  = math.Inf(1)
		bestRounds int
		stale      int
	)
	residuals := make([]float64, len(y))
	for round := 0; round < cfg.rounds; round++ {
		if err := dferrors.FromContext(ctx); err != nil {
			return nil, err
		}

		for i := range y {
			residuals[i] = y[i] - current[i]
		}

		rows := make([]int, 0, len(y))
		for i := range y {
			if rng.Float64() < cfg.subsample {
				rows = append(rows, i)
			}
		}

		if len(rows) < 2*boostingMinLeaf {
			rows = rows[:0]
			for i := range y {
				rows = append(rows, i)
			}
		}

		builder := &regressionBuilder{x: x, y: residuals, maxDepth: cfg.depth}
		builder.grow(rows, 0)
		t := tree{Nodes: builder.nodes}
		b.Trees = append(b.Trees, t)

		for i := range current {
			current[i] += cfg.shrinkage * t.leaf(x[i]).Value
		}

		for i := range validCurrent {
			validCurrent[i] += cfg.shrinkage * t.leaf(validX[i]).Value
		}

		if math.IsNaN(current[0]) || math.IsInf(current[0], 0) {
			return nil, dferrors.Newf(dferrors.KindNumericalNonconvergence, "boosting diverged in round %d", round)
		}

		if len(validY) == 0 {
			continue
		}

		if e := rmse(validY, validCurrent); e < bestError {
			bestError = e
			bestRounds = len(b.Trees)
			stale = 0
		} else {
			stale++
			if stale >= cfg.earlyStopping {
				break
			}
		}
	}

	if len(validY) > 0 {
		b.Trees = b.Trees[:bestRounds]
	}

	return b, nil
}

func (b *booster) predict(x []float64) float64 {
	v := b.Base
	for i := range b.Trees {
		v += b.Shrinkage * b.Trees[i].leaf(x).Value
	}

	return v
}

func (b *booster) valid() bool {
	if b.Features < 1 || math.IsNaN(b.Base) {
		return false
	}

	for i := range b.Trees {
		if !b.Trees[i].valid(b.Features, 0) {
			return false
		}
	}

	return true
}

type regressionBuilder struct {
	x        [][]float64
	y        []float64
	maxDepth int
	nodes    []node
}

// grow appends the subtree of rows and returns its index.
func (b *regressionBuilder) grow(rows []int, depth int) int {
	index := len(b.nodes)
	b.nodes = append(b.nodes, node{Left: -1, Right: -1})

	var sum float64
	for _, row := range rows {
		sum += b.y[row]
	}
	b.nodes[index].Value = sum / float64(len(rows))

	if depth >= b.maxDepth || len(rows) < 2*boostingMinLeaf {
		return index
	}

	feature, threshold, ok := b.split(rows, sum)
	if !ok {
		return index
	}

	var left, right []int
	for _, row := range rows {
		if b.x[row][feature] <= threshold {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[index].Feature = feature
	b.nodes[index].Threshold = threshold
	b.nodes[index].Left = l
	b.nodes[index].Right = r
	return index
}

// split maximizes the squared error reduction over every feature.
func (b *regressionBuilder) split(rows []int, total float64) (int, float64, bool) {
	n := float64(len(rows))
	baseline := total * total / n

	var (
		bestFeature   int
		bestThreshold float64
		bestGain      = 1e-12
		found         bool
	)

	sorted := make([]int, len(rows))
	for feature := 0; feature < len(b.x[0]); feature++ {
		copy(sorted, rows)
		sort.SliceStable(sorted, func(i, j int) bool { return b.x[sorted[i]][feature] < b.x[sorted[j]][feature] })

		var left float64
		for i := 0; i < len(sorted)-1; i++ {
			left += b.y[sorted[i]]
			current, next := b.x[sorted[i]][feature], b.x[sorted[i+1]][feature]
			nl, nr := float64(i+1), n-float64(i+1)
			if current == next || i+1 < boostingMinLeaf || len(sorted)-i-1 < boostingMinLeaf {
				continue
			}

			right := total - left
			if gain := left*left/nl + right*right/nr - baseline; gain > bestGain {
				bestGain = gain
				bestFeature = feature
				bestThreshold = (current + next) / 2
				found = true
			}
		}
	}

	return bestFeature, bestThreshold, found
}

func rmse(actual, predicted []float64) float64 {
	var sum float64
	for i := range actual {
		sum += (actual[i] - predicted[i]) * (actual[i] - predicted[i])
	}

	return math.Sqrt(sum / float64(len(actual)))
}

// newGrid lays out rows as a golearn instance grid with target as class attribute.
func newGrid(features []string, target string, x [][]float64, y []float64) (*base.DenseInstances, error) {
	grid := base.NewDenseInstances()
	attributes := make([]base.Attribute, 0, len(features)+1)
	for _, feature := range features {
		attribute := base.NewFloatAttribute(feature)
		grid.AddAttribute(attribute)
		attributes = append(attributes, attribute)
	}

	class := base.NewFloatAttribute(target)
	grid.AddAttribute(class)
	if err := grid.AddClassAttribute(class); err != nil {
		return nil, err
	}
	attributes = append(attributes, class)

	specs := make([]base.AttributeSpec, len(attributes))
	for i, attribute := range attributes {
		spec, err := grid.GetAttribute(attribute)
		if err != nil {
			return nil, err
		}
		specs[i] = spec
	}

	if len(x) == 0 {
		return grid, nil
	}

	if err := grid.Extend(len(x)); err != nil {
		return nil, err
	}

	for row := range x {
		for i, v := range x[row] {
			grid.Set(specs[i], row, base.PackFloatToBytes(v))
		}
		grid.Set(specs[len(features)], row, base.PackFloatToBytes(y[row]))
	}

	return grid, nil
}

// splitGrid cuts grid into the first n rows and the rest without copying.
func splitGrid(grid base.FixedDataGrid, n int) (base.FixedDataGrid, base.FixedDataGrid) {
	_, rows := grid.Size()
	head := make([]int, 0, n)
	tail := make([]int, 0, rows-n)
	for row := 0; row < rows; row++ {
		if row < n {
			head = append(head, row)
		} else {
			tail = append(tail, row)
		}
	}

	attributes := grid.AllAttributes()
	return base.NewInstancesViewFromVisible(grid, head, attributes), base.NewInstancesViewFromVisible(grid, tail, attributes)
}

// gridRows reads the feature rows and the class column of grid.
func gridRows(grid base.FixedDataGrid) ([][]float64, []float64, error) {
	features := base.NonClassAttributes(grid)
	classes := grid.AllClassAttributes()
	if len(classes) != 1 {
		return nil, nil, dferrors.Newf(dferrors.KindSchemaMismatch, "grid has %d class attributes", len(classes))
	}

	attributes := make([]base.Attribute, 0, len(features)+1)
	attributes = append(attributes, features...)
	attributes = append(attributes, classes[0])

	_, rows := grid.Size()
	x := make([][]float64, 0, rows)
	y := make([]float64, 0, rows)
	err := grid.MapOverRows(base.ResolveAttributes(grid, attributes), func(row [][]byte, i int) (bool, error) {
		values := make([]float64, len(features))
		for j := range values {
			values[j] = base.UnpackBytesToFloat(row[j])
		}

		x = append(x, values)
		y = append(y, base.UnpackBytesToFloat(row[len(features)]))
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}

	return x, y, nil
}

// predictGrid runs the booster over every row of grid.
func (b *booster) predictGrid(ctx context.Context, grid base.FixedDataGrid) ([]float64, error) {
	features := base.NonClassAttributes(grid)
	if len(features) != b.Features {
		return nil, dferrors.Newf(dferrors.KindSchemaMismatch, "grid has %d features, expected %d", len(features), b.Features)
	}

	_, rows := grid.Size()
	predicted := make([]float64, rows)
	x := make([]float64, len(features))
	err := grid.MapOverRows(base.ResolveAttributes(grid, features), func(row [][]byte, i int) (bool, error) {
		if err := dferrors.FromContext(ctx); err != nil {
			return false, err
		}

		for j, v := range row {
			x[j] = base.UnpackBytesToFloat(v)
		}

		predicted[i] = b.predict(x)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return predicted, nil
}
