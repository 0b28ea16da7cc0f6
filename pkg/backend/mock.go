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

package backend

import "fmt"

// Mock is the canonical no-model Backend: tokenize treats each byte as one
// token id, and detokenize is its exact inverse. It is used by tests and
// by any deployment that has not been pointed at a real model file.
type Mock struct{}

// NewMock constructs a Mock backend.
func NewMock() *Mock { return &Mock{} }

var _ Backend = (*Mock)(nil)

// LoadModel succeeds for any non-empty path; the mock does not read the
// file.
func (m *Mock) LoadModel(path string, _ LoadParams) (ModelHandle, error) {
	if path == "" {
		return ModelHandle{}, fmt.Errorf("backend: mock load requires a non-empty path")
	}
	return ModelHandle{Path: path}, nil
}

// Tokenize maps each input byte to a token id equal to its byte value.
func (m *Mock) Tokenize(text string) ([]int32, error) {
	raw := []byte(text)
	tokens := make([]int32, len(raw))
	for i, b := range raw {
		tokens[i] = int32(b)
	}
	return tokens, nil
}

// Detokenize is the exact inverse of Tokenize. Token ids outside the byte
// range are truncated, which can produce invalid UTF-8; decoding is lossy
// in that case, per the backend contract.
func (m *Mock) Detokenize(tokens []int32) (string, error) {
	raw := make([]byte, len(tokens))
	for i, t := range tokens {
		raw[i] = byte(t)
	}
	return string(raw), nil
}

// Forward is a no-op: the mock never advances real model state.
func (m *Mock) Forward(_ []SequenceState) (ForwardOutput, error) {
	return ForwardOutput{}, nil
}

// KVUsage always reports zero usage for the mock.
func (m *Mock) KVUsage() KVStats {
	return KVStats{}
}
