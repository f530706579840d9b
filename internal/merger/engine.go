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

package merger

import (
	"math"

	"github.com/simonge/edm4hep-timeslice/internal/model"
	"github.com/simonge/edm4hep-timeslice/internal/registry"
	"github.com/simonge/edm4hep-timeslice/internal/xerrors"
)

// SourceMeta is the per-source context the field-update decision table
// needs: nothing here changes between events of the same source within a
// run, so the Driver builds one SourceMeta per source at startup.
type SourceMeta struct {
	Name          string
	Index         int32
	AlreadyMerged bool
	StatusOffset  int32
}

// Engine owns the single growing output buffer a run's timeslices are
// assembled into, one admitted event at a time.
type Engine struct {
	schema *registry.Schema
	buffer *model.TimesliceBuffer
}

// NewEngine allocates an Engine with a fresh, empty output buffer shaped by
// schema. schema must be the one every source's own schema was already
// validated against (spec.md §3 schema stability).
func NewEngine(schema *registry.Schema) *Engine {
	return &Engine{schema: schema, buffer: NewBuffer(schema)}
}

// Buffer returns the engine's current output buffer, valid until the next
// ClearBuffer call.
func (e *Engine) Buffer() *model.TimesliceBuffer { return e.buffer }

// ClearBuffer truncates every collection to zero length, retaining
// capacity, readying the buffer for the next timeslice.
func (e *Engine) ClearBuffer() { e.buffer.Clear() }

// addOffset adds off to base, raising an ArithmeticError on overflow past
// the int32 range the index/reference fields are stored in (spec.md §7).
func addOffset(base, off int32) (int32, error) {
	sum := int64(base) + int64(off)
	if sum > math.MaxInt32 || sum < math.MinInt32 {
		return 0, xerrors.Arithmetic("index offset overflow: %d + %d exceeds int32 range", base, off)
	}
	return int32(sum), nil
}

// MergeEvent applies the field-update decision table (spec.md §4.D.2) to
// one already-read event buffer and concatenates every branch into the
// engine's output buffer by move. Every primary, reference, key and value
// collection of event is left truncated to zero, as is SubEventHeaders for
// an already-merged source; the EventHeader branch, and SubEventHeaders of a
// normal source, are left as they were read.
//
//   - timestamp is the refined T[i] the Admission Sampler drew for this event.
//   - eventNumberInSource/weight feed the SubEventHeader this call emits for
//     a normal source (ignored for an already-merged source, which instead
//     carries its own SubEventHeaders through).
//   - firstEventEver must be true only for the very first event this
//     source has ever produced, across the whole run (source.FirstReadEver()).
func (e *Engine) MergeEvent(meta SourceMeta, event *model.TimesliceBuffer, timestamp float64, eventNumberInSource int32, weight float64, firstEventEver bool) error {
	snapshot := e.buffer.Snapshot()

	for _, name := range e.schema.Names() {
		desc, ok := e.schema.Get(name)
		if !ok {
			continue
		}

		switch desc.Kind {
		case model.KindPrimary:
			if err := e.mergePrimary(desc, event, meta, timestamp, snapshot); err != nil {
				return err
			}
		case model.KindReference:
			if err := e.mergeReference(desc, event, meta, firstEventEver, snapshot); err != nil {
				return err
			}
		case model.KindKey:
			e.mergeKey(name, event)
		case model.KindValue:
			e.mergeValue(name, event)
		case model.KindHeader:
			if name == subEventHeadersBranch {
				if err := e.mergeSubEventHeaders(event, meta, timestamp, eventNumberInSource, weight, snapshot); err != nil {
					return err
				}
			}
			// eventHeaderBranch is emitted once per timeslice by EmitEventHeader,
			// not per admitted event.
		}
	}
	return nil
}

func (e *Engine) mergePrimary(desc *registry.BranchDescriptor, event *model.TimesliceBuffer, meta SourceMeta, timestamp float64, snapshot map[string]int32) error {
	c, ok := event.Get(desc.Name)
	if !ok {
		return nil
	}
	pv, ok := c.(*model.PrimaryVector)
	if !ok {
		return xerrors.Schema("branch %q: expected a primary vector in the event buffer", desc.Name)
	}

	for i := range pv.Records {
		rec := &pv.Records[i]
		if !meta.AlreadyMerged {
			if desc.Layout.TimeField >= 0 {
				rec.Floats[desc.Layout.TimeField] += float32(timestamp)
			}
			if desc.Layout.StatusField >= 0 {
				rec.Ints[desc.Layout.StatusField] += meta.StatusOffset
			}
		}
		for j, rule := range desc.References {
			off, ok := snapshot[rule.ReferenceBranch]
			if !ok {
				continue // reference branch absent from buffer: range is copied verbatim
			}
			begin, err := addOffset(rec.Ranges[j].Begin, off)
			if err != nil {
				return xerrors.Arithmetic("branch %q field %q begin: %v", desc.Name, rule.FieldName, err)
			}
			end, err := addOffset(rec.Ranges[j].End, off)
			if err != nil {
				return xerrors.Arithmetic("branch %q field %q end: %v", desc.Name, rule.FieldName, err)
			}
			rec.Ranges[j].Begin, rec.Ranges[j].End = begin, end
		}
	}

	out := e.buffer.Collections[desc.Name].(*model.PrimaryVector)
	out.AppendFrom(pv)
	return nil
}

func (e *Engine) mergeReference(desc *registry.BranchDescriptor, event *model.TimesliceBuffer, meta SourceMeta, firstEventEver bool, snapshot map[string]int32) error {
	c, ok := event.Get(desc.Name)
	if !ok {
		return nil
	}
	rv, ok := c.(*model.ReferenceVector)
	if !ok {
		return xerrors.Schema("branch %q: expected a reference vector in the event buffer", desc.Name)
	}

	// The first-ever event from an already-merged source seeds the output
	// buffer: its indices are already absolute, so shifting them would
	// double-offset (spec.md §4.D.2 tie-break rule).
	shift := !meta.AlreadyMerged || !firstEventEver
	if shift {
		off, ok := snapshot[desc.Target]
		if ok {
			for i := range rv.IDs {
				if rv.IDs[i].IsNull() {
					continue
				}
				idx, err := addOffset(rv.IDs[i].Index, off)
				if err != nil {
					return xerrors.Arithmetic("branch %q: %v", desc.Name, err)
				}
				rv.IDs[i].Index = idx
			}
		}
	}

	out := e.buffer.Collections[desc.Name].(*model.ReferenceVector)
	out.AppendFrom(rv)
	return nil
}

func (e *Engine) mergeKey(name string, event *model.TimesliceBuffer) {
	c, ok := event.Get(name)
	if !ok {
		return
	}
	kv, ok := c.(*model.KeyVector)
	if !ok {
		return
	}
	out := e.buffer.Collections[name].(*model.KeyVector)
	out.AppendFrom(kv)
}

func (e *Engine) mergeValue(name string, event *model.TimesliceBuffer) {
	c, ok := event.Get(name)
	if !ok {
		return
	}
	vv, ok := c.(*model.ValueVector)
	if !ok {
		return
	}
	out := e.buffer.Collections[name].(*model.ValueVector)
	out.AppendFrom(vv)
}

// mergeSubEventHeaders implements spec.md §4.D.4: a normal source
// contributes exactly one fresh SubEventHeader per admitted event; an
// already-merged source instead carries its own through, shifted so its
// embedded particle offsets stay valid once concatenated.
func (e *Engine) mergeSubEventHeaders(event *model.TimesliceBuffer, meta SourceMeta, timestamp float64, eventNumberInSource int32, weight float64, snapshot map[string]int32) error {
	out := e.buffer.Collections[subEventHeadersBranch].(*model.SubEventHeaderVector)

	if !meta.AlreadyMerged {
		out.Records = append(out.Records, model.SubEventHeaderRecord{
			EventNumberInSource: eventNumberInSource,
			SourceIndex:         meta.Index,
			ParticleOffset:      snapshot[mcParticlesBranch],
			TimeStamp:           timestamp,
			Weight:              weight,
		})
		return nil
	}

	c, ok := event.Get(subEventHeadersBranch)
	if !ok {
		return nil
	}
	sv, ok := c.(*model.SubEventHeaderVector)
	if !ok {
		return xerrors.Schema("branch %q: expected a sub-event-header vector in the event buffer", subEventHeadersBranch)
	}
	mcOffset := snapshot[mcParticlesBranch]
	for i := range sv.Records {
		rec := &sv.Records[i]
		po, err := addOffset(rec.ParticleOffset, mcOffset)
		if err != nil {
			return xerrors.Arithmetic("branch %q particle offset: %v", subEventHeadersBranch, err)
		}
		rec.ParticleOffset = po
		// Weight and TimeStamp carry through unshifted; only ParticleOffset
		// indexes back into MCParticles and needs the snapshot addition.
	}
	out.AppendFrom(sv)
	return nil
}

// EmitEventHeader appends the single EventHeader record for the timeslice
// currently accumulating in the buffer (spec.md §4.D.5).
func (e *Engine) EmitEventHeader(runNumber, eventNumber int32, timestamp float64) {
	hv := e.buffer.Collections[eventHeaderBranch].(*model.EventHeaderVector)
	hv.Records = append(hv.Records, model.EventHeaderRecord{
		RunNumber:   runNumber,
		EventNumber: eventNumber,
		TimeStamp:   timestamp,
	})
}
