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

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tierflow/platform/resilience"
)

type stubBedrock struct {
	body []byte
	err  error
	got  *bedrockruntime.InvokeModelInput
}

func (s *stubBedrock) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	s.got = in
	if s.err != nil {
		return nil, s.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: s.body}, nil
}

func newBedrockTool(stub *stubBedrock) *BedrockTool {
	return &BedrockTool{
		name:   "model-cheap",
		model:  "anthropic.claude-3-haiku-20240307-v1:0",
		region: "us-east-1",
		client: stub,
	}
}

func TestBedrockToolInvoke(t *testing.T) {
	stub := &stubBedrock{body: []byte(`{
		"content": [{"text": "4"}],
		"usage": {"input_tokens": 12, "output_tokens": 3}
	}`)}
	tool := newBedrockTool(stub)

	out, err := tool.Invoke(context.Background(), []byte(`{"prompt": "what is 2+2?"}`))
	require.NoError(t, err)

	var resp ModelResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, "4", resp.Output)
	assert.Equal(t, 12, resp.PromptTokens)
	assert.Equal(t, 3, resp.CompletionTokens)

	require.NotNil(t, stub.got)
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", *stub.got.ModelId)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(stub.got.Body, &body))
	assert.Equal(t, "bedrock-2023-05-31", body["anthropic_version"])
	assert.EqualValues(t, defaultBedrockMaxTokens, body["max_tokens"])
}

func TestBedrockToolErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"throttling is transient", errors.New("ThrottlingException: too many requests"), true},
		{"service fault is transient", errors.New("ServiceUnavailableException"), true},
		{"validation is permanent", errors.New("ValidationException: malformed body"), false},
		{"access denied is permanent", errors.New("AccessDeniedException"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := newBedrockTool(&stubBedrock{err: tt.err})
			_, err := tool.Invoke(context.Background(), []byte(`{"prompt": "hi"}`))
			require.Error(t, err)
			assert.Equal(t, tt.retryable, resilience.IsRetryable(err))
		})
	}
}

func TestBedrockToolRejectsEmptyPrompt(t *testing.T) {
	tool := newBedrockTool(&stubBedrock{})
	_, err := tool.Invoke(context.Background(), []byte(`{}`))
	require.Error(t, err)
	assert.False(t, resilience.IsRetryable(err))
}
