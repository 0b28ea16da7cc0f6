// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sampler implements top-k/top-p (nucleus) sampling over a logits
// vector, used by the generation driver and any integrated backend that
// wants to turn a forward step's logits into a token index.
package sampler

import (
	"math"
	"math/rand"
	"sort"
)

const minTemperature = 1e-4
const epsilon = 1e-9

type indexedProb struct {
	index int
	value float32
}

// Sample picks a token index from logits using temperature-scaled top-k /
// top-p sampling. Given the same logits, topK, topP, temperature, and a
// non-nil seed, two calls always return the same index.
//
// An empty logits slice returns 0.
func Sample(logits []float32, topK int, topP float32, temperature float32, seed *uint64) int {
	if len(logits) == 0 {
		return 0
	}

	temp := temperature
	if temp < minTemperature {
		temp = minTemperature
	}

	scaled := make([]indexedProb, len(logits))
	for i, l := range logits {
		scaled[i] = indexedProb{index: i, value: l / temp}
	}
	sort.SliceStable(scaled, func(i, j int) bool { return scaled[i].value > scaled[j].value })

	cutoff := len(scaled)
	if topK > 0 && topK < cutoff {
		cutoff = topK
	}
	fallbackIndex := scaled[0].index

	probs := make([]indexedProb, cutoff)
	var sum float32
	for i := 0; i < cutoff; i++ {
		p := float32(math.Exp(float64(scaled[i].value)))
		probs[i] = indexedProb{index: scaled[i].index, value: p}
		sum += p
	}
	normalize(probs, sum)

	if topP < 1.0 {
		sort.SliceStable(probs, func(i, j int) bool { return probs[i].value > probs[j].value })
		var acc float32
		keep := 0
		for _, p := range probs {
			acc += p.value
			keep++
			if acc >= topP {
				break
			}
		}
		probs = probs[:keep]
		var z float32
		for _, p := range probs {
			z += p.value
		}
		normalize(probs, z)
	}

	r := drawUniform(seed)
	var acc float32
	for _, p := range probs {
		acc += p.value
		if r <= acc {
			return p.index
		}
	}
	// Numerical degeneracy (rounding left acc < 1): fall back to argmax.
	return fallbackIndex
}

func normalize(probs []indexedProb, sum float32) {
	denom := sum
	if denom < epsilon {
		denom = epsilon
	}
	for i := range probs {
		probs[i].value /= denom
	}
}

// drawUniform returns a value in [0, 1). A supplied seed makes the draw,
// and therefore the whole sample, deterministic.
func drawUniform(seed *uint64) float32 {
	var src rand.Source
	if seed != nil {
		src = rand.NewSource(int64(*seed))
	} else {
		src = rand.NewSource(defaultSeed())
	}
	return rand.New(src).Float32()
}
