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

// Package router implements the adaptive tiered decision engine.
//
// Each request flows through feature extraction, confidence calibration
// and a bandit tier policy before being dispatched to a tier handler.
// A drift gate watches the realized misroute rate out of band and flips
// the policy into conservative mode when routing quality degrades.
package router
