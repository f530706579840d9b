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

// Package driver implements the single-threaded cooperative run loop of
// spec.md §4.D.5/§5: for every timeslice, sample admission for each source
// in declaration order, merge its admitted events, then flush. The Driver
// owns the one RNG every source's sampler draws from, so a run is fully
// reproducible from config plus seed.
package driver

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	xrand "golang.org/x/exp/rand"

	"github.com/simonge/edm4hep-timeslice/internal/config"
	"github.com/simonge/edm4hep-timeslice/internal/container"
	"github.com/simonge/edm4hep-timeslice/internal/log"
	"github.com/simonge/edm4hep-timeslice/internal/merger"
	"github.com/simonge/edm4hep-timeslice/internal/metrics"
	"github.com/simonge/edm4hep-timeslice/internal/model"
	"github.com/simonge/edm4hep-timeslice/internal/registry"
	"github.com/simonge/edm4hep-timeslice/internal/sampler"
	"github.com/simonge/edm4hep-timeslice/internal/sink"
	"github.com/simonge/edm4hep-timeslice/internal/source"
	"github.com/simonge/edm4hep-timeslice/internal/xerrors"
	"go.uber.org/zap"
)

// sourceState bundles everything the run loop needs per configured source,
// built once at startup so the hot loop never touches cfg again.
type sourceState struct {
	name    string
	src     *source.Source
	meta    merger.SourceMeta
	sampler sampler.Config
}

// Driver owns every open source, the merger engine, the sink, and the RNG
// for one run.
type Driver struct {
	cfg     *config.Config
	states  []*sourceState
	engine  *merger.Engine
	out     *sink.Sink
	rng     *xrand.Rand
	runID   string
}

// New opens every configured source (in declaration order), validates them,
// preloads weighted-resampling weight tables, and opens the output sink
// cloned from the first source's schema. The caller must call Close.
func New(ctx context.Context, cfg *config.Config) (*Driver, error) {
	names := cfg.SourceNames()
	if len(names) == 0 {
		return nil, xerrors.Config("no sources declared")
	}

	states := make([]*sourceState, 0, len(names))
	for i, name := range names {
		sc := cfg.Sources[name]
		src, err := source.Open(ctx, sc.SourceOpenConfig())
		if err != nil {
			return nil, err
		}

		var weights []float64
		samplerCfg := sc.SamplerConfig(nil)
		samplerCfg.BunchPeriod = cfg.BunchPeriod
		if samplerCfg.Mode == sampler.WeightedResampling {
			weights, err = src.PreloadWeights()
			if err != nil {
				return nil, err
			}
			samplerCfg.Weights = weights
		}

		states = append(states, &sourceState{
			name: name,
			src:  src,
			meta: merger.SourceMeta{
				Name:          name,
				Index:         int32(i),
				AlreadyMerged: sc.AlreadyMerged,
				StatusOffset:  sc.StatusOffset,
			},
			sampler: samplerCfg,
		})
	}

	schema := states[0].src.Schema()
	for _, st := range states[1:] {
		other := st.src.Schema()
		same := len(other.Names()) == len(schema.Names())
		for j, name := range schema.Names() {
			if !same {
				break
			}
			da, okA := schema.Get(name)
			db, okB := other.Get(name)
			same = other.Names()[j] == name && okA == okB && (!okA || da.Kind == db.Kind)
		}
		if !same {
			closeAll(states)
			return nil, xerrors.Schema("source %q: branch schema does not match source %q", st.name, states[0].name)
		}
	}
	engine := merger.NewEngine(schema)

	raw := states[0].src.RawBranches()
	treeName := states[0].src.TreeName()
	out, err := sink.Open(cfg.Output, treeName, schema, raw, container.CompressionDefault)
	if err != nil {
		closeAll(states)
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = systemSeed()
	}

	return &Driver{
		cfg:    cfg,
		states: states,
		engine: engine,
		out:    out,
		rng:    xrand.New(xrand.NewSource(uint64(seed))),
		runID:  uuid.NewString(),
	}, nil
}

func systemSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(buf[:]))
}

func closeAll(states []*sourceState) {
	for _, st := range states {
		_ = st.src.Close()
	}
}

// Run produces up to cfg.NEvents timeslices, halting early (without error)
// if a non-repeating source cannot supply the events its draw requires mid
// run (spec.md §4.D.5/§4.D.6: no partial timeslice is ever flushed). It
// returns the number of timeslices actually flushed.
func (d *Driver) Run(ctx context.Context) (uint32, error) {
	log.Info("starting run",
		zap.String("run_id", d.runID),
		zap.Int("sources", len(d.states)),
		zap.Int("nevents", d.cfg.NEvents),
		zap.Float64("duration", d.cfg.Duration),
		zap.String("output", d.cfg.Output))

	event := model.NewTimesliceBuffer(d.states[0].src.Schema().Names())

	var produced uint32
	for ts := int32(0); ts < int32(d.cfg.NEvents); ts++ {
		select {
		case <-ctx.Done():
			log.Info("run cancelled", zap.Int32("timeslices_produced", ts))
			return produced, nil
		default:
		}

		admissions := make([]sampler.Admission, len(d.states))
		halt := false
		for i, st := range d.states {
			a, err := sampler.Draw(st.sampler, d.cfg.Duration, d.rng)
			if err != nil {
				return produced, err
			}
			if !st.src.Available(int64(a.N)) {
				halt = true
				break
			}
			admissions[i] = a
		}
		if halt {
			log.Info("source exhausted without repeat-on-eof; halting cleanly",
				zap.Int32("timeslices_produced", ts))
			break
		}

		start := time.Now()
		d.engine.ClearBuffer()

		for i, st := range d.states {
			a := admissions[i]
			for j := 0; j < a.N; j++ {
				firstEver := false
				if err := st.src.Read(event); err != nil {
					return produced, err
				}
				firstEver = st.src.FirstReadEver()

				t := d.refineTimestamp(a.T[j], st, event)

				if err := d.engine.MergeEvent(st.meta, event, t, int32(j), weightFor(st, a, j), firstEver); err != nil {
					return produced, err
				}
				metrics.EventsAdmitted.WithLabelValues(st.name).Inc()
				if err := st.src.Advance(); err != nil {
					if xerrors.IsExhausted(err) {
						// The event just merged completes this timeslice;
						// exhaustion is only fatal for a *future* timeslice's
						// admission check above.
						continue
					}
					return produced, err
				}
			}
		}

		d.engine.EmitEventHeader(0, ts, float64(ts)*d.cfg.Duration)
		if err := d.out.Flush(d.engine.Buffer()); err != nil {
			return produced, err
		}
		metrics.TimeslicesProduced.Inc()
		metrics.MergeDuration.Observe(time.Since(start).Seconds())
		produced++

		if produced%10 == 0 {
			log.Info("progress", zap.Uint32("timeslices_produced", produced))
		}
	}

	log.Info("run complete", zap.String("run_id", d.runID), zap.Uint32("timeslices_produced", produced))
	return produced, nil
}

// weightFor returns the per-event weight a SubEventHeader should carry:
// the preloaded weight for WeightedResampling (indexed by the draw), or
// 1.0 for every other mode.
func weightFor(st *sourceState, a sampler.Admission, i int) float64 {
	if a.Indices == nil || i >= len(a.Indices) {
		return 1.0
	}
	idx := a.Indices[i]
	if idx < 0 || idx >= len(st.sampler.Weights) {
		return 1.0
	}
	return st.sampler.Weights[idx]
}

// refineTimestamp applies bunch-crossing and beam-attachment refinement to
// one raw admission timestamp (spec.md §4.C), reading the just-read event's
// vertex when beam attachment is enabled.
func (d *Driver) refineTimestamp(raw float64, st *sourceState, event *model.TimesliceBuffer) float64 {
	distance := 0.0
	if st.sampler.AttachToBeam {
		if x, z, ok := firstStatusOneVertex(event, st.src.Schema()); ok {
			distance = sampler.BeamDistance(x, z, st.sampler.BeamAngle)
		}
	}
	return sampler.RefineTimestamp(raw, distance, st.sampler, d.rng)
}

// firstStatusOneVertex scans every primary branch for the first
// generatorStatus == 1 record that also carries a beam-line vertex,
// returning its (x, z) coordinates.
func firstStatusOneVertex(event *model.TimesliceBuffer, schema *registry.Schema) (x, z float64, ok bool) {
	for _, name := range schema.Names() {
		desc, found := schema.Get(name)
		if !found || desc.Kind != model.KindPrimary {
			continue
		}
		layout := desc.Layout
		if layout.StatusField < 0 || layout.VertexXField < 0 || layout.VertexZField < 0 {
			continue
		}
		c, present := event.Get(name)
		if !present {
			continue
		}
		pv, isPrimary := c.(*model.PrimaryVector)
		if !isPrimary {
			continue
		}
		for _, rec := range pv.Records {
			if rec.Ints[layout.StatusField] == 1 {
				return float64(rec.Floats[layout.VertexXField]), float64(rec.Floats[layout.VertexZField]), true
			}
		}
	}
	return 0, 0, false
}

// Close releases every source and the output sink, aggregating the first
// error encountered.
func (d *Driver) Close() error {
	var first error
	for _, st := range d.states {
		if err := st.src.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := d.out.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// Summary returns a one-line human-readable end-of-run report (spec.md
// SUPPLEMENTED FEATURES #4).
func (d *Driver) Summary(produced uint32) string {
	timeslices, mergeCount, mergeSum := metrics.Snapshot()
	avg := 0.0
	if mergeCount > 0 {
		avg = mergeSum / float64(mergeCount)
	}
	return fmt.Sprintf("run %s: %d timeslices written to %s (metrics: %.0f produced, avg merge %.4fs)",
		d.runID, produced, d.cfg.Output, timeslices, avg)
}
