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
	"math/rand"
	"sync"
	"time"

	"tierflow/platform/config"
)

// conservativeMargin is the extra capability demanded of an arm while
// the drift gate holds the policy in conservative mode.
const conservativeMargin = 0.15

// arm is one bandit arm with a Beta posterior over the tier's success
// capability. Alpha and Beta grow with cost-adjusted reward updates.
type arm struct {
	tier  Tier
	alpha float64
	beta  float64
	pulls int64
}

func (a *arm) mean() float64 {
	return a.alpha / (a.alpha + a.beta)
}

// Policy is a Thompson Sampling bandit over the three tiers.
//
// Selection samples each arm's capability from its posterior and picks
// the cheapest tier whose sampled capability covers the request's
// difficulty (one minus calibrated confidence). Exploration decays with
// traffic but never drops below the configured floor, and the cheap
// tier's selection share is held above its own floor.
type Policy struct {
	store *config.Store

	mu         sync.Mutex
	arms       [3]*arm
	selections [3]int64
	total      int64
	rng        *rand.Rand
}

// PolicyOption customizes a Policy.
type PolicyOption func(*Policy)

// WithSeed fixes the internal random source. Tests use this to make
// sampling deterministic.
func WithSeed(seed int64) PolicyOption {
	return func(p *Policy) {
		p.rng = rand.New(rand.NewSource(seed))
	}
}

// NewPolicy creates a tier policy reading its tunables from store.
//
// Priors encode the operating assumption that the cheap tier handles
// roughly the easiest 60% of traffic, mid the next 30% and expensive
// the hard tail. Live reward updates move the posteriors off these
// priors as evidence accumulates.
func NewPolicy(store *config.Store, opts ...PolicyOption) *Policy {
	p := &Policy{
		store: store,
		arms: [3]*arm{
			{tier: TierCheap, alpha: 65, beta: 35},
			{tier: TierMid, alpha: 95, beta: 5},
			{tier: TierExpensive, alpha: 99, beta: 1},
		},
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Select picks a tier for a request with the given calibrated
// confidence. It returns the tier and the arm index for bookkeeping.
// Reads of arm statistics may be slightly stale relative to concurrent
// Update calls; that staleness is acceptable.
func (p *Policy) Select(confidence float64, conservative bool) (Tier, int) {
	cfg := p.store.Snapshot().Router

	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.selectLocked(confidence, conservative, cfg)
	p.selections[idx]++
	p.total++
	return p.arms[idx].tier, idx
}

func (p *Policy) selectLocked(confidence float64, conservative bool, cfg config.RouterConfig) int {
	// Cheap floor: never let the cheap tier's share starve out.
	if p.total > 0 && cfg.CheapFloor > 0 {
		share := float64(p.selections[0]) / float64(p.total)
		if share < cfg.CheapFloor {
			return 0
		}
	}

	// Diminishing exploration with a hard non-zero floor.
	eps := cfg.InitialExploration / math.Sqrt(1+float64(p.total)/20)
	if eps < cfg.MinExploration {
		eps = cfg.MinExploration
	}
	if p.rng.Float64() < eps {
		return p.rng.Intn(len(p.arms))
	}

	difficulty := 1 - confidence
	if conservative {
		difficulty += conservativeMargin
	}

	// Cheapest arm whose sampled capability covers the difficulty.
	for i, a := range p.arms {
		theta := betaSample(p.rng, a.alpha, a.beta)
		if theta >= difficulty {
			return i
		}
	}
	return len(p.arms) - 1
}

// Update folds one observed outcome into the chosen arm's posterior.
// Reward is the success indicator minus the tier's normalized cost, so
// an expensive success still pulls the posterior up less than a cheap
// one. Update is called asynchronously once ground truth or a proxy
// signal arrives.
func (p *Policy) Update(tier Tier, success bool) {
	snap := p.store.Snapshot()

	reward := 0.0
	if success {
		reward = 1 - normalizedCost(snap, tier)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.arms {
		if a.tier == tier {
			a.alpha += reward
			a.beta += 1 - reward
			a.pulls++
			return
		}
	}
}

// normalizedCost scales a tier's completion price against the most
// expensive tier, yielding a value in [0, 1). The scale factor keeps
// cost from dominating the success signal.
func normalizedCost(snap *config.Snapshot, tier Tier) float64 {
	costs := snap.TierCosts
	max := 0
	for _, c := range costs {
		if c.CompletionCentsPer1K > max {
			max = c.CompletionCentsPer1K
		}
	}
	if max == 0 {
		return 0
	}
	c, ok := costs[string(tier)]
	if !ok {
		return 0
	}
	return 0.25 * float64(c.CompletionCentsPer1K) / float64(max)
}

// ArmStats is a read-only view of one arm for diagnostics.
type ArmStats struct {
	Tier          Tier    `json:"tier"`
	Alpha         float64 `json:"alpha"`
	Beta          float64 `json:"beta"`
	PosteriorMean float64 `json:"posterior_mean"`
	Pulls         int64   `json:"pulls"`
	Share         float64 `json:"share"`
}

// Stats returns a snapshot of all arm posteriors and selection shares.
func (p *Policy) Stats() []ArmStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ArmStats, 0, len(p.arms))
	for i, a := range p.arms {
		share := 0.0
		if p.total > 0 {
			share = float64(p.selections[i]) / float64(p.total)
		}
		out = append(out, ArmStats{
			Tier:          a.tier,
			Alpha:         a.alpha,
			Beta:          a.beta,
			PosteriorMean: a.mean(),
			Pulls:         a.pulls,
			Share:         share,
		})
	}
	return out
}

// betaSample draws from Beta(a, b) via two gamma draws.
func betaSample(rng *rand.Rand, a, b float64) float64 {
	x := gammaSample(rng, a)
	y := gammaSample(rng, b)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// gammaSample draws from Gamma(shape, 1) using Marsaglia-Tsang, with
// the standard boost for shape < 1.
func gammaSample(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		u := rng.Float64()
		return gammaSample(rng, shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
