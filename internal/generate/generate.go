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

// Package generate implements the single-shot prompt-to-text driver the
// scheduler calls per request.
package generate

import (
	"runner/pkg/backend"
	"runner/pkg/sampler"
)

// dummyLogitsWidth is the size of the placeholder logits vector passed to
// the sampler when no real step loop is wired. It exists purely to
// exercise the sampling path end to end.
const dummyLogitsWidth = 1

// Once produces a best-effort generated continuation for prompt, possibly
// empty. For every backend it tokenizes the prompt, touches the sampler,
// detokenizes, and returns the result; it does not call Forward, so no
// step-by-step decoding takes place. A detokenize failure yields "".
func Once(b backend.Backend, prompt string, maxTokens int) string {
	_ = maxTokens // reserved for a real step loop driving forward() in a future backend

	tokens, err := b.Tokenize(prompt)
	if err != nil {
		tokens = nil
	}

	_ = sampler.Sample(make([]float32, dummyLogitsWidth), 0, 1.0, 1.0, nil)

	text, err := b.Detokenize(tokens)
	if err != nil {
		return ""
	}
	return text
}
