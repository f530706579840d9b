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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonge/edm4hep-timeslice/internal/model"
	"github.com/simonge/edm4hep-timeslice/internal/registry"
	"github.com/simonge/edm4hep-timeslice/internal/xerrors"
)

func testSchema(t *testing.T) *registry.Schema {
	t.Helper()
	raw := []registry.RawBranch{
		{
			Name: "MCParticles",
			Kind: registry.RawPrimary,
			Fields: []registry.RawField{
				{Name: "PDG"},
				{Name: "generatorStatus"},
				{Name: "time", Float: true},
				{Name: "parents_begin"},
				{Name: "parents_end"},
			},
		},
		{Name: "_MCParticles_parents", Kind: registry.RawReference},
		{Name: "EventHeader", Kind: registry.RawHeader},
		{Name: "SubEventHeaders", Kind: registry.RawHeader},
	}
	schema, err := registry.Discover(raw)
	require.NoError(t, err)
	return schema
}

func oneParticleEvent(t *testing.T, schema *registry.Schema, status int32, rangeEnd int32) *model.TimesliceBuffer {
	t.Helper()
	buf := NewBuffer(schema)
	pv := buf.Collections["MCParticles"].(*model.PrimaryVector)
	pv.Records = append(pv.Records, model.PrimaryRecord{
		Ints:   []int32{211, status},
		Floats: []float32{0},
		Ranges: []model.Range{{Begin: 0, End: rangeEnd}},
	})
	refs := buf.Collections["_MCParticles_parents"].(*model.ReferenceVector)
	refs.IDs = append(refs.IDs, model.ObjectID{CollectionID: 0, Index: 0})
	return buf
}

func TestMergeEventNormalSourceAppliesTimeAndStatusAndRange(t *testing.T) {
	schema := testSchema(t)
	engine := NewEngine(schema)
	event := oneParticleEvent(t, schema, 1, 1)

	meta := SourceMeta{Name: "signal", Index: 0, StatusOffset: 100}
	require.NoError(t, engine.MergeEvent(meta, event, 5.0, 0, 1.0, true))

	out := engine.Buffer().Collections["MCParticles"].(*model.PrimaryVector)
	require.Len(t, out.Records, 1)
	assert.Equal(t, float32(5.0), out.Records[0].Floats[0])
	assert.Equal(t, int32(101), out.Records[0].Ints[1])
	assert.Equal(t, model.Range{Begin: 0, End: 1}, out.Records[0].Ranges[0])

	subs := engine.Buffer().Collections["SubEventHeaders"].(*model.SubEventHeaderVector)
	require.Len(t, subs.Records, 1)
	assert.Equal(t, int32(0), subs.Records[0].ParticleOffset)
	assert.Equal(t, 5.0, subs.Records[0].TimeStamp)
}

func TestMergeEventRangeAddAppliesRegardlessOfAlreadyMerged(t *testing.T) {
	schema := testSchema(t)
	engine := NewEngine(schema)

	// Seed the buffer with one particle so the second event's range offset
	// is nonzero and observable.
	seed := oneParticleEvent(t, schema, 1, 1)
	require.NoError(t, engine.MergeEvent(SourceMeta{Name: "seed"}, seed, 0, 0, 1.0, true))

	event := oneParticleEvent(t, schema, 1, 1)
	meta := SourceMeta{Name: "bg", AlreadyMerged: true, StatusOffset: 100}
	require.NoError(t, engine.MergeEvent(meta, event, 7.0, 0, 1.0, false))

	out := engine.Buffer().Collections["MCParticles"].(*model.PrimaryVector)
	require.Len(t, out.Records, 2)
	// Already-merged: time/status untouched even though timestamp=7 and
	// StatusOffset=100 were supplied, but range-add still shifts by the
	// snapshot taken before this event (1 parents reference already buffered).
	assert.Equal(t, float32(0), out.Records[1].Floats[0])
	assert.Equal(t, int32(1), out.Records[1].Ints[1])
	assert.Equal(t, model.Range{Begin: 1, End: 2}, out.Records[1].Ranges[0])
}

func TestMergeEventFirstEventFromAlreadyMergedSourceSkipsReferenceShift(t *testing.T) {
	schema := testSchema(t)
	engine := NewEngine(schema)

	seed := oneParticleEvent(t, schema, 1, 1)
	require.NoError(t, engine.MergeEvent(SourceMeta{Name: "seed"}, seed, 0, 0, 1.0, true))

	event := oneParticleEvent(t, schema, 1, 1)
	meta := SourceMeta{Name: "bg", AlreadyMerged: true}
	require.NoError(t, engine.MergeEvent(meta, event, 0, 0, 1.0, true)) // firstEventEver=true

	refs := engine.Buffer().Collections["_MCParticles_parents"].(*model.ReferenceVector)
	require.Len(t, refs.IDs, 2)
	assert.Equal(t, int32(0), refs.IDs[0].Index) // seed event's own reference
	assert.Equal(t, int32(0), refs.IDs[1].Index) // unshifted: first-ever event from already-merged source
}

func TestMergeEventSubsequentAlreadyMergedEventShiftsReference(t *testing.T) {
	schema := testSchema(t)
	engine := NewEngine(schema)

	seed := oneParticleEvent(t, schema, 1, 1)
	require.NoError(t, engine.MergeEvent(SourceMeta{Name: "seed"}, seed, 0, 0, 1.0, true))

	event := oneParticleEvent(t, schema, 1, 1)
	meta := SourceMeta{Name: "bg", AlreadyMerged: true}
	require.NoError(t, engine.MergeEvent(meta, event, 0, 0, 1.0, false)) // not the first-ever event

	refs := engine.Buffer().Collections["_MCParticles_parents"].(*model.ReferenceVector)
	require.Len(t, refs.IDs, 2)
	assert.Equal(t, int32(1), refs.IDs[1].Index)
}

func TestMergeEventNullReferenceNeverShifted(t *testing.T) {
	schema := testSchema(t)
	engine := NewEngine(schema)

	seed := oneParticleEvent(t, schema, 1, 1)
	require.NoError(t, engine.MergeEvent(SourceMeta{Name: "seed"}, seed, 0, 0, 1.0, true))

	event := NewBuffer(schema)
	pv := event.Collections["MCParticles"].(*model.PrimaryVector)
	pv.Records = append(pv.Records, model.PrimaryRecord{Ints: []int32{11, 1}, Floats: []float32{0}, Ranges: []model.Range{{Begin: 0, End: 0}}})
	refs := event.Collections["_MCParticles_parents"].(*model.ReferenceVector)
	refs.IDs = append(refs.IDs, model.ObjectID{CollectionID: model.NullCollectionID, Index: -1})

	require.NoError(t, engine.MergeEvent(SourceMeta{Name: "signal"}, event, 0, 1, 1.0, true))

	out := engine.Buffer().Collections["_MCParticles_parents"].(*model.ReferenceVector)
	assert.Equal(t, int32(-1), out.IDs[len(out.IDs)-1].Index)
}

func TestMergeEventArithmeticOverflowIsArithmeticError(t *testing.T) {
	schema := testSchema(t)
	engine := NewEngine(schema)

	event := NewBuffer(schema)
	pv := event.Collections["MCParticles"].(*model.PrimaryVector)
	pv.Records = append(pv.Records, model.PrimaryRecord{
		Ints:   []int32{11, 1},
		Floats: []float32{0},
		Ranges: []model.Range{{Begin: math.MaxInt32, End: math.MaxInt32}},
	})
	// Force a nonzero snapshot offset for the target collection.
	seed := oneParticleEvent(t, schema, 1, 1)
	require.NoError(t, engine.MergeEvent(SourceMeta{Name: "seed"}, seed, 0, 0, 1.0, true))

	err := engine.MergeEvent(SourceMeta{Name: "signal"}, event, 0, 1, 1.0, true)
	require.Error(t, err)
	assert.Equal(t, 4, xerrors.ExitCode(err))
}

func TestEventAfterMergeIsEmptiedForReuse(t *testing.T) {
	schema := testSchema(t)
	engine := NewEngine(schema)
	event := oneParticleEvent(t, schema, 1, 1)
	require.NoError(t, engine.MergeEvent(SourceMeta{Name: "signal"}, event, 0, 0, 1.0, true))
	assert.Equal(t, 0, event.Len("MCParticles"))
	assert.Equal(t, 0, event.Len("_MCParticles_parents"))
}

func TestEmitEventHeader(t *testing.T) {
	schema := testSchema(t)
	engine := NewEngine(schema)
	engine.EmitEventHeader(0, 3, 3.0)
	hv := engine.Buffer().Collections["EventHeader"].(*model.EventHeaderVector)
	require.Len(t, hv.Records, 1)
	assert.Equal(t, int32(3), hv.Records[0].EventNumber)
}
