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
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"tierflow/platform/config"
	"tierflow/platform/resilience"
)

const (
	defaultBedrockMaxTokens   = 1024
	defaultBedrockTemperature = 0.7
)

// bedrockInvoker is the slice of the Bedrock runtime client the tool
// uses; tests substitute a stub.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, opts ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// modelRequest is the payload for a bedrock tool call.
type modelRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// ModelResponse is what a bedrock tool returns to the router and saga
// layers.
type ModelResponse struct {
	Output           string  `json:"output"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Confidence       float64 `json:"confidence"`
}

// BedrockTool invokes one Anthropic-family model hosted on AWS Bedrock.
type BedrockTool struct {
	name   string
	model  string
	region string
	client bedrockInvoker
}

// NewBedrockTool builds a Bedrock adapter using the default AWS
// credential chain for cfg.Region.
func NewBedrockTool(ctx context.Context, cfg config.ToolConfig) (*BedrockTool, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("bedrock tool requires a model")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &BedrockTool{
		name:   cfg.Name,
		model:  cfg.Model,
		region: region,
		client: bedrockruntime.NewFromConfig(awsCfg),
	}, nil
}

func (t *BedrockTool) Name() string { return t.name }
func (t *BedrockTool) Type() string { return "bedrock" }

func (t *BedrockTool) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	var req modelRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, resilience.NewNonRetryable(t.name, 400, fmt.Errorf("invalid payload: %w", err))
	}
	if req.Prompt == "" {
		return nil, resilience.NewNonRetryable(t.name, 400, fmt.Errorf("prompt is required"))
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultBedrockMaxTokens
	}
	if req.Temperature <= 0 {
		req.Temperature = defaultBedrockTemperature
	}

	body, err := json.Marshal(map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        req.MaxTokens,
		"temperature":       req.Temperature,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	})
	if err != nil {
		return nil, resilience.NewNonRetryable(t.name, 400, err)
	}

	output, err := t.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(t.model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, t.classify(err)
	}

	resp, err := parseAnthropicBody(output.Body)
	if err != nil {
		return nil, resilience.NewNonRetryable(t.name, 0, err)
	}
	return json.Marshal(resp)
}

// classify maps Bedrock API faults onto the retryability taxonomy.
// Throttling and service faults are transient; validation and access
// errors are not.
func (t *BedrockTool) classify(err error) error {
	msg := err.Error()
	for _, marker := range []string{"ValidationException", "AccessDenied", "ResourceNotFound"} {
		if strings.Contains(msg, marker) {
			return resilience.NewNonRetryable(t.name, 400, err)
		}
	}
	return resilience.NewRetryable(t.name, 503, err)
}

func parseAnthropicBody(body []byte) (*ModelResponse, error) {
	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model response: %w", err)
	}

	content := ""
	if len(resp.Content) > 0 {
		content = resp.Content[0].Text
	}
	return &ModelResponse{
		Output:           content,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		Confidence:       0.9,
	}, nil
}

func (t *BedrockTool) HealthCheck(context.Context) error { return nil }
func (t *BedrockTool) Close() error                      { return nil }
