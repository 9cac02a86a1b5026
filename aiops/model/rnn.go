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

	"d7y.io/aiops/internal/dferrors"
)

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8

	// maxGradientNorm clips the global gradient norm.
	maxGradientNorm = 5.0
)

// rnn is an Elman recurrent layer followed by a dense tanh layer with
// dropout and a sigmoid output. Parameters live in one flat slice:
// Wx[H*F] Wh[H*H] bh[H] Wd[D*H] bd[D] wo[D] bo.
type rnn struct {
	Inputs int       `json:"inputs"`
	Hidden int       `json:"hidden"`
	Dense  int       `json:"dense"`
	Params []float64 `json:"params"`
}

// sequenceSample is one normalized window and its binary label.
type sequenceSample struct {
	steps  [][]float64
	label  float64
	weight float64
}

func newRNN(inputs, hidden, dense int, rng *rand.Rand) *rnn {
	n := &rnn{Inputs: inputs, Hidden: hidden, Dense: dense}
	n.Params = make([]float64, n.size())

	// Xavier uniform initialization per weight matrix, biases start at zero.
	initialize := func(offset, rows, cols int) {
		limit := math.Sqrt(6 / float64(rows+cols))
		for i := 0; i < rows*cols; i++ {
			n.Params[offset+i] = (rng.Float64()*2 - 1) * limit
		}
	}
	initialize(n.wx(), hidden, inputs)
	initialize(n.wh(), hidden, hidden)
	initialize(n.wd(), dense, hidden)
	initialize(n.wo(), 1, dense)

	return n
}

func (n *rnn) wx() int { return 0 }
func (n *rnn) wh() int { return n.Hidden * n.Inputs }
func (n *rnn) bh() int { return n.wh() + n.Hidden*n.Hidden }
func (n *rnn) wd() int { return n.bh() + n.Hidden }
func (n *rnn) bd() int { return n.wd() + n.Dense*n.Hidden }
func (n *rnn) wo() int { return n.bd() + n.Dense }
func (n *rnn) bo() int { return n.wo() + n.Dense }

func (n *rnn) size() int {
	return n.bo() + 1
}

// valid reports whether the parameter vector matches the layer sizes.
func (n *rnn) valid() bool {
	return n.Inputs > 0 && n.Hidden > 0 && n.Dense > 0 && len(n.Params) == n.size()
}

// forward keeps the activations needed by backward.
type forward struct {
	hidden [][]float64
	dense  []float64
	mask   []float64
	output float64
}

// run computes the output probability of steps. A nil rng disables dropout.
func (n *rnn) run(steps [][]float64, dropout float64, rng *rand.Rand) *forward {
	p := n.Params
	f := &forward{hidden: make([][]float64, len(steps)+1)}
	f.hidden[0] = make([]float64, n.Hidden)

	for t, x := range steps {
		prev := f.hidden[t]
		h := make([]float64, n.Hidden)
		for i := 0; i < n.Hidden; i++ {
			sum := p[n.bh()+i]
			row := n.wx() + i*n.Inputs
			for j := 0; j < n.Inputs; j++ {
				sum += p[row+j] * x[j]
			}

			row = n.wh() + i*n.Hidden
			for j := 0; j < n.Hidden; j++ {
				sum += p[row+j] * prev[j]
			}
			h[i] = math.Tanh(sum)
		}
		f.hidden[t+1] = h
	}

	last := f.hidden[len(steps)]
	f.dense = make([]float64, n.Dense)
	f.mask = make([]float64, n.Dense)
	z := p[n.bo()]
	for i := 0; i < n.Dense; i++ {
		sum := p[n.bd()+i]
		row := n.wd() + i*n.Hidden
		for j := 0; j < n.Hidden; j++ {
			sum += p[row+j] * last[j]
		}
		f.dense[i] = math.Tanh(sum)

		f.mask[i] = 1
		if rng != nil && dropout > 0 {
			if rng.Float64() < dropout {
				f.mask[i] = 0
			} else {
				f.mask[i] = 1 / (1 - dropout)
			}
		}

		z += p[n.wo()+i] * f.dense[i] * f.mask[i]
	}
	f.output = sigmoid(z)

	return f
}

// backward accumulates the gradient of the weighted cross entropy into grad.
func (n *rnn) backward(steps [][]float64, f *forward, label, weight float64, grad []float64) {
	p := n.Params
	dz := weight * (f.output - label)

	grad[n.bo()] += dz
	last := f.hidden[len(steps)]
	dh := make([]float64, n.Hidden)
	for i := 0; i < n.Dense; i++ {
		grad[n.wo()+i] += dz * f.dense[i] * f.mask[i]

		dpre := dz * p[n.wo()+i] * f.mask[i] * (1 - f.dense[i]*f.dense[i])
		grad[n.bd()+i] += dpre
		row := n.wd() + i*n.Hidden
		for j := 0; j < n.Hidden; j++ {
			grad[row+j] += dpre * last[j]
			dh[j] += dpre * p[row+j]
		}
	}

	for t := len(steps) - 1; t >= 0; t-- {
		h := f.hidden[t+1]
		prev := f.hidden[t]
		next := make([]float64, n.Hidden)
		for i := 0; i < n.Hidden; i++ {
			dpre := dh[i] * (1 - h[i]*h[i])
			grad[n.bh()+i] += dpre

			row := n.wx() + i*n.Inputs
			for j := 0; j < n.Inputs; j++ {
				grad[row+j] += dpre * steps[t][j]
			}

			row = n.wh() + i*n.Hidden
			for j := 0; j < n.Hidden; j++ {
				grad[row+j] += dpre * prev[j]
				next[j] += dpre * p[row+j]
			}
		}
		dh = next
	}
}

// fit runs minibatch Adam over samples, checking ctx between epochs.
func (n *rnn) fit(ctx context.Context, samples []sequenceSample, params Hyperparameters, rng *rand.Rand) (float64, error) {
	var (
		m    = make([]float64, len(n.Params))
		v    = make([]float64, len(n.Params))
		grad = make([]float64, len(n.Params))
		step int
		loss float64
	)

	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < params.Epochs; epoch++ {
		if err := dferrors.FromContext(ctx); err != nil {
			return 0, err
		}

		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		loss = 0
		for start := 0; start < len(order); start += params.BatchSize {
			end := start + params.BatchSize
			if end > len(order) {
				end = len(order)
			}

			for i := range grad {
				grad[i] = 0
			}

			for _, idx := range order[start:end] {
				sample := samples[idx]
				f := n.run(sample.steps, params.Dropout, rng)
				loss += crossEntropy(f.output, sample.label, sample.weight)
				n.backward(sample.steps, f, sample.label, sample.weight, grad)
			}

			scale := 1 / float64(end-start)
			var norm float64
			for i := range grad {
				grad[i] *= scale
				norm += grad[i] * grad[i]
			}

			norm = math.Sqrt(norm)
			if math.IsNaN(norm) || math.IsInf(norm, 0) {
				return 0, dferrors.Newf(dferrors.KindNumericalNonconvergence, "gradient diverged in epoch %d", epoch)
			}

			if norm > maxGradientNorm {
				for i := range grad {
					grad[i] *= maxGradientNorm / norm
				}
			}

			step++
			correction1 := 1 - math.Pow(adamBeta1, float64(step))
			correction2 := 1 - math.Pow(adamBeta2, float64(step))
			for i := range n.Params {
				m[i] = adamBeta1*m[i] + (1-adamBeta1)*grad[i]
				v[i] = adamBeta2*v[i] + (1-adamBeta2)*grad[i]*grad[i]
				n.Params[i] -= params.LearningRate * (m[i] / correction1) / (math.Sqrt(v[i]/correction2) + adamEpsilon)
			}
		}

		loss /= float64(len(samples))
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return 0, dferrors.Newf(dferrors.KindNumericalNonconvergence, "loss diverged in epoch %d", epoch)
		}
	}

	return loss, nil
}

func crossEntropy(p, label, weight float64) float64 {
	p = math.Min(math.Max(p, MinProbability), MaxProbability)
	return -weight * (label*math.Log(p) + (1-label)*math.Log(1-p))
}
