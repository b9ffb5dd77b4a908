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

import "math"

// rawScoreBound rejects scores far outside the logit range a scorer can
// plausibly produce. Anything beyond it is treated as corrupt.
const rawScoreBound = 50.0

// Calibrator maps a raw confidence score to a calibrated probability
// using temperature-scaled sigmoid calibration.
type Calibrator struct{}

// NewCalibrator returns a stateless calibrator.
func NewCalibrator() *Calibrator {
	return &Calibrator{}
}

// Calibrate returns sigmoid(raw/temperature) in [0, 1].
//
// It fails closed: a NaN, infinite or out-of-range raw score, or a
// non-positive temperature, yields confidence 0 and a CalibrationError
// so the caller can escalate to the safest tier.
func (c *Calibrator) Calibrate(raw, temperature float64) (float64, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, &CalibrationError{RawScore: raw, Reason: "raw score is not finite"}
	}
	if raw < -rawScoreBound || raw > rawScoreBound {
		return 0, &CalibrationError{RawScore: raw, Reason: "raw score out of range"}
	}
	if temperature <= 0 || math.IsNaN(temperature) {
		return 0, &CalibrationError{RawScore: raw, Reason: "non-positive temperature"}
	}
	return 1.0 / (1.0 + math.Exp(-raw/temperature)), nil
}
