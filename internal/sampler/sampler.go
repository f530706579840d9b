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

// Package sampler implements the Admission Sampler (spec.md §4.C): for each
// source and timeslice, decide how many events to draw and the timestamp
// each is assigned within the slice.
package sampler

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/simonge/edm4hep-timeslice/internal/xerrors"
)

// Placement selects how Frequency-Poisson mode spaces its arrivals.
type Placement int

const (
	UniformPlacement Placement = iota
	ExponentialTimeline
)

// Mode is one of the three admission strategies a source may configure.
type Mode int

const (
	Static Mode = iota
	FrequencyPoisson
	WeightedResampling
)

// Config is one source's admission-sampling parameters.
type Config struct {
	Mode Mode

	StaticEventsPerTimeslice int
	Frequency                float64 // events per nanosecond
	Placement                Placement

	// Weights holds every preloaded event's weight for WeightedResampling;
	// it is unused by the other two modes.
	Weights             []float64
	MaxResampleAttempts int

	UseBunchCrossing bool
	BunchPeriod      float64

	AttachToBeam bool
	BeamAngle    float64
	BeamSpeed    float64
	BeamSpread   float64

	AlreadyMerged bool
}

// Admission is the sampler's verdict for one source, one timeslice: how
// many events to read and, for WeightedResampling, which preloaded event
// indices to read them from (nil for the other two modes, which read the
// source sequentially).
type Admission struct {
	N       int
	T       []float64
	Indices []int
	Clamped bool // WeightedResampling only: N was reduced to fit the file
}

// Draw decides N and a per-event timestamp in [0, duration) for one source,
// one timeslice. Timestamps are raw: RefineTimestamp still needs to be
// applied per event before it reaches the Merger Engine.
func Draw(cfg Config, duration float64, rng *rand.Rand) (Admission, error) {
	if cfg.AlreadyMerged {
		// An already-merged source contributes exactly its next entry,
		// untouched: it is already a complete timeslice from a prior pass.
		return Admission{N: 1, T: []float64{0}}, nil
	}

	switch cfg.Mode {
	case Static:
		return drawStatic(cfg, duration, rng)
	case FrequencyPoisson:
		return drawFrequencyPoisson(cfg, duration, rng)
	case WeightedResampling:
		return drawWeightedResampling(cfg, duration, rng)
	default:
		return Admission{}, xerrors.Config("sampler: unrecognised admission mode %d", cfg.Mode)
	}
}

func drawStatic(cfg Config, duration float64, rng *rand.Rand) (Admission, error) {
	n := cfg.StaticEventsPerTimeslice
	if n <= 0 {
		return Admission{}, xerrors.Config("sampler: static mode requires a positive events-per-timeslice, got %d", n)
	}
	t := make([]float64, n)
	for i := range t {
		t[i] = rng.Float64() * duration
	}
	return Admission{N: n, T: t}, nil
}

func drawFrequencyPoisson(cfg Config, duration float64, rng *rand.Rand) (Admission, error) {
	if cfg.Frequency <= 0 {
		return Admission{}, xerrors.Config("sampler: frequency-Poisson mode requires a positive frequency, got %g", cfg.Frequency)
	}
	lambda := cfg.Frequency * duration

	if cfg.Placement == ExponentialTimeline {
		exp := distuv.Exponential{Rate: cfg.Frequency, Src: rng}
		var t []float64
		clock := 0.0
		for {
			clock += exp.Rand()
			if clock >= duration {
				break
			}
			t = append(t, clock)
		}
		if len(t) == 0 {
			t = []float64{rng.Float64() * duration}
		}
		return Admission{N: len(t), T: t}, nil
	}

	pois := distuv.Poisson{Lambda: lambda, Src: rng}
	n := int(pois.Rand())
	if n == 0 {
		n = 1
	}
	t := make([]float64, n)
	for i := range t {
		t[i] = rng.Float64() * duration
	}
	return Admission{N: n, T: t}, nil
}

func drawWeightedResampling(cfg Config, duration float64, rng *rand.Rand) (Admission, error) {
	if len(cfg.Weights) == 0 {
		return Admission{}, xerrors.Config("sampler: weighted-resampling mode requires preloaded event weights")
	}
	meanWeight := 0.0
	for _, w := range cfg.Weights {
		meanWeight += w
	}
	meanWeight /= float64(len(cfg.Weights))
	meanRate := meanWeight * 1e-9
	lambda := meanRate * duration

	maxAttempts := cfg.MaxResampleAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	pois := distuv.Poisson{Lambda: lambda, Src: rng}
	n := 0
	clamped := false
	for attempt := 0; attempt < maxAttempts; attempt++ {
		n = int(pois.Rand())
		if n <= len(cfg.Weights) {
			break
		}
		if attempt == maxAttempts-1 {
			n = len(cfg.Weights)
			clamped = true
		}
	}
	indices := make([]int, n)
	t := make([]float64, n)
	cumulative := cumulativeWeights(cfg.Weights)
	total := cumulative[len(cumulative)-1]
	for i := 0; i < n; i++ {
		indices[i] = weightedPick(cumulative, total, rng)
		t[i] = rng.Float64() * duration
	}

	return Admission{N: n, T: t, Indices: indices, Clamped: clamped}, nil
}

func cumulativeWeights(weights []float64) []float64 {
	out := make([]float64, len(weights))
	sum := 0.0
	for i, w := range weights {
		sum += w
		out[i] = sum
	}
	return out
}

// weightedPick draws one index with replacement, probability proportional
// to its weight, via inverse-CDF search over the precomputed cumulative sum.
func weightedPick(cumulative []float64, total float64, rng *rand.Rand) int {
	target := rng.Float64() * total
	lo, hi := 0, len(cumulative)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if cumulative[mid] < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// RefineTimestamp applies bunch-crossing discretisation and beam attachment
// to one raw draw from Draw. distance is the beam-line displacement of the
// event's leading primary particle (spec.md §4.C); pass 0 when beam
// attachment is disabled or no primary particle was found.
func RefineTimestamp(t float64, distance float64, cfg Config, rng *rand.Rand) float64 {
	if cfg.UseBunchCrossing && cfg.BunchPeriod > 0 {
		t = math.Floor(t/cfg.BunchPeriod) * cfg.BunchPeriod
	}
	if cfg.AttachToBeam {
		if cfg.BeamSpread > 0 {
			jitter := distuv.Normal{Mu: 0, Sigma: cfg.BeamSpread, Src: rng}
			t += jitter.Rand()
		}
		if cfg.BeamSpeed != 0 {
			t += distance / cfg.BeamSpeed
		}
	}
	return t
}

// BeamDistance computes the beam-line displacement used by beam attachment:
// d = z·cos(θ) + x·sin(θ) for the vertex (x, y, z) of an event's leading
// generatorStatus==1 particle.
func BeamDistance(x, z, beamAngle float64) float64 {
	return z*math.Cos(beamAngle) + x*math.Sin(beamAngle)
}
