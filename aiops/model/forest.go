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

	"golang.org/x/sync/errgroup"

	"d7y.io/aiops/internal/dferrors"
)

// node is a decision tree node, leaves have Left == -1.
// Classification leaves hold a class distribution, regression leaves a value.
type node struct {
	Feature      int       `json:"feature"`
	Threshold    float64   `json:"threshold"`
	Left         int       `json:"left"`
	Right        int       `json:"right"`
	Distribution []float64 `json:"distribution,omitempty"`
	Value        float64   `json:"value"`
}

type tree struct {
	Nodes []node `json:"nodes"`
}

// leaf walks x down to its leaf.
func (t *tree) leaf(x []float64) *node {
	i := 0
	for t.Nodes[i].Left != -1 {
		n := &t.Nodes[i]
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}

	return &t.Nodes[i]
}

// valid reports whether every child index is in range and leaves have the expected arity.
func (t *tree) valid(features, classes int) bool {
	if len(t.Nodes) == 0 {
		return false
	}

	for i, n := range t.Nodes {
		if n.Left == -1 {
			if classes > 0 && len(n.Distribution) != classes {
				return false
			}
			continue
		}

		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) ||
			n.Feature < 0 || n.Feature >= features {
			return false
		}
	}

	return true
}

// forest is a random forest of Gini trees over weighted rows.
type forest struct {
	Classes  int    `json:"classes"`
	Features int    `json:"features"`
	Trees    []tree `json:"trees"`
}

type forestConfig struct {
	trees    int
	maxDepth int
	minLeaf  int
	seed     int64
}

// fitForest grows trees in parallel, every tree from its own bootstrap sample.
func fitForest(ctx context.Context, x [][]float64, y []int, weights []float64, classes int, cfg forestConfig) (*forest, error) {
	features := len(x[0])
	mtry := int(math.Ceil(math.Sqrt(float64(features))))
	f := &forest{
		Classes:  classes,
		Features: features,
		Trees:    make([]tree, cfg.trees),
	}

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.trees; i++ {
		i := i
		eg.Go(func() error {
			if err := dferrors.FromContext(ctx); err != nil {
				return err
			}

			rng := rand.New(rand.NewSource(cfg.seed + int64(i)))
			rows := make([]int, len(x))
			for j := range rows {
				rows[j] = rng.Intn(len(x))
			}

			b := &classificationBuilder{
				x:        x,
				y:        y,
				weights:  weights,
				classes:  classes,
				mtry:     mtry,
				maxDepth: cfg.maxDepth,
				minLeaf:  cfg.minLeaf,
				rng:      rng,
			}
			b.grow(rows, 0)
			f.Trees[i] = tree{Nodes: b.nodes}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return f, nil
}

// predict averages the leaf distributions of every tree.
func (f *forest) predict(x []float64) []float64 {
	p := make([]float64, f.Classes)
	for i := range f.Trees {
		for c, v := range f.Trees[i].leaf(x).Distribution {
			p[c] += v
		}
	}

	for c := range p {
		p[c] /= float64(len(f.Trees))
	}

	return p
}

func (f *forest) valid() bool {
	if f.Classes < 2 || f.Features < 1 || len(f.Trees) == 0 {
		return false
	}

	for i := range f.Trees {
		if !f.Trees[i].valid(f.Features, f.Classes) {
			return false
		}
	}

	return true
}

type classificationBuilder struct {
	x        [][]float64
	y        []int
	weights  []float64
	classes  int
	mtry     int
	maxDepth int
	minLeaf  int
	rng      *rand.Rand
	nodes    []node
}

// grow appends the subtree of rows and returns its index.
func (b *classificationBuilder) grow(rows []int, depth int) int {
	index := len(b.nodes)
	b.nodes = append(b.nodes, node{Left: -1, Right: -1})

	distribution := b.distribution(rows)
	if depth >= b.maxDepth || len(rows) < 2*b.minLeaf || gini(distribution) == 0 {
		b.nodes[index].Distribution = normalize(distribution)
		return index
	}

	feature, threshold, ok := b.split(rows, distribution)
	if !ok {
		b.nodes[index].Distribution = normalize(distribution)
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

// split finds the weighted Gini best split over a random feature subset.
func (b *classificationBuilder) split(rows []int, total []float64) (int, float64, bool) {
	var (
		bestFeature   int
		bestThreshold float64
		bestScore     = math.Inf(1)
		found         bool
	)

	var totalWeight float64
	for _, w := range total {
		totalWeight += w
	}

	sorted := make([]int, len(rows))
	for _, feature := range b.rng.Perm(len(b.x[0]))[:b.mtry] {
		copy(sorted, rows)
		sort.SliceStable(sorted, func(i, j int) bool { return b.x[sorted[i]][feature] < b.x[sorted[j]][feature] })

		left := make([]float64, b.classes)
		right := append([]float64(nil), total...)
		var leftWeight float64
		for i := 0; i < len(sorted)-1; i++ {
			row := sorted[i]
			w := b.weights[row]
			left[b.y[row]] += w
			right[b.y[row]] -= w
			leftWeight += w

			current, next := b.x[row][feature], b.x[sorted[i+1]][feature]
			if current == next || i+1 < b.minLeaf || len(sorted)-i-1 < b.minLeaf {
				continue
			}

			score := leftWeight*gini(left) + (totalWeight-leftWeight)*gini(right)
			if score < bestScore {
				bestScore = score
				bestFeature = feature
				bestThreshold = (current + next) / 2
				found = true
			}
		}
	}

	if !found || bestScore >= totalWeight*gini(total) {
		return 0, 0, false
	}

	return bestFeature, bestThreshold, true
}

func (b *classificationBuilder) distribution(rows []int) []float64 {
	d := make([]float64, b.classes)
	for _, row := range rows {
		d[b.y[row]] += b.weights[row]
	}

	return d
}

func gini(distribution []float64) float64 {
	var total float64
	for _, v := range distribution {
		total += v
	}

	if total <= 0 {
		return 0
	}

	impurity := 1.0
	for _, v := range distribution {
		p := v / total
		impurity -= p * p
	}

	return impurity
}

func normalize(distribution []float64) []float64 {
	var total float64
	for _, v := range distribution {
		total += v
	}

	out := make([]float64, len(distribution))
	for i, v := range distribution {
		if total > 0 {
			out[i] = v / total
		} else {
			out[i] = 1 / float64(len(distribution))
		}
	}

	return out
}
