// Copyright 2025 TierFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package router

import (
	"math"
	"strings"
	"unicode/utf8"

	"tierflow/platform/config"
)

// Extractor turns a request into a FeatureVector. Extraction is a pure
// function of the payload and the router configuration, so repeated
// calls on the same input always yield the same vector.
//
// payload_length, token_estimate, structural_depth, question_count and
// code_block_count are monotonic: growing the underlying signal never
// shrinks the feature value. vocabulary_ratio is a density signal and
// carries no monotonicity guarantee.
type Extractor struct{}

// NewExtractor returns a stateless feature extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract validates the request and computes its feature vector.
// The only failure mode is MalformedInputError.
func (x *Extractor) Extract(req *Request, cfg config.RouterConfig) (FeatureVector, error) {
	var fv FeatureVector

	if req == nil {
		return fv, &MalformedInputError{Field: "request", Reason: "nil request"}
	}
	if req.TenantID == "" {
		return fv, &MalformedInputError{Field: "tenant_id", Reason: "missing"}
	}
	if req.UserID == "" {
		return fv, &MalformedInputError{Field: "user_id", Reason: "missing"}
	}
	if req.Payload == "" {
		return fv, &MalformedInputError{Field: "payload", Reason: "empty"}
	}
	if !utf8.ValidString(req.Payload) {
		return fv, &MalformedInputError{Field: "payload", Reason: "invalid UTF-8"}
	}
	if cfg.MaxPayloadBytes > 0 && len(req.Payload) > cfg.MaxPayloadBytes {
		return fv, &MalformedInputError{Field: "payload", Reason: "exceeds size limit"}
	}

	payload := req.Payload
	words := strings.Fields(payload)

	fv.PayloadLength = math.Log1p(float64(len(payload)))
	// Rough 0.75 words-per-token heuristic shared with usage metering.
	fv.TokenEstimate = math.Log1p(float64(len(words)) / 0.75)
	fv.StructuralDepth = float64(maxNestingDepth(payload))
	fv.QuestionCount = float64(strings.Count(payload, "?"))
	fv.CodeBlockCount = float64(strings.Count(payload, "```") / 2)

	if len(words) > 0 {
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			unique[strings.ToLower(w)] = struct{}{}
		}
		fv.VocabularyRatio = float64(len(unique)) / float64(len(words))
	}

	return fv, nil
}

// maxNestingDepth measures the deepest brace/bracket nesting in the
// payload. Unbalanced closers are ignored rather than rejected since
// free-form prose legitimately contains them.
func maxNestingDepth(s string) int {
	depth, max := 0, 0
	for _, r := range s {
		switch r {
		case '{', '[', '(':
			depth++
			if depth > max {
				max = depth
			}
		case '}', ']', ')':
			if depth > 0 {
				depth--
			}
		}
	}
	return max
}
