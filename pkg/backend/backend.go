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

// Package backend defines the capability contract the scheduler consumes
// to execute a model. Any type satisfying Backend is substitutable; the
// scheduler never imports a concrete implementation.
package backend

// LoadParams configures a model load: context window size and how many
// layers to place on an accelerator device.
type LoadParams struct {
	ContextSize  int
	DeviceLayers int
}

// ModelHandle is an opaque reference to a loaded model.
type ModelHandle struct {
	Path string
}

// SequenceState is the mutable per-sequence state a forward step advances.
type SequenceState struct {
	Tokens []int32
}

// ForwardOutput is the result of a forward step. Logits and NextToken are
// optional: a backend that does not expose logits leaves Logits nil, and
// HasNextToken distinguishes "no token produced" from a genuine token 0.
type ForwardOutput struct {
	Logits       []float32
	NextToken    int32
	HasNextToken bool
}

// KVStats is an opaque snapshot of a backend's own KV usage, independent
// of the paged KV manager's accounting.
type KVStats struct {
	UsedBlocks     int64
	CapacityBlocks int64
}

// Backend is the capability set the scheduler depends on. Implementations
// must be safe to call concurrently from any worker goroutine.
type Backend interface {
	LoadModel(path string, params LoadParams) (ModelHandle, error)
	Tokenize(text string) ([]int32, error)
	Detokenize(tokens []int32) (string, error)
	Forward(states []SequenceState) (ForwardOutput, error)
	KVUsage() KVStats
}
