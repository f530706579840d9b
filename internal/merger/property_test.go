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
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonge/edm4hep-timeslice/internal/model"
)

// TestIndexClosure asserts every non-null ObjectID the engine writes indexes
// within its target collection's bounds, across several merged events.
func TestIndexClosure(t *testing.T) {
	schema := testSchema(t)
	engine := NewEngine(schema)

	for i, status := range []int32{1, 1, 2} {
		event := oneParticleEvent(t, schema, status, 1)
		require.NoError(t, engine.MergeEvent(SourceMeta{Name: "signal"}, event, float64(i), int32(i), 1.0, i == 0))
	}

	particles := engine.Buffer().Collections["MCParticles"].(*model.PrimaryVector)
	refs := engine.Buffer().Collections["_MCParticles_parents"].(*model.ReferenceVector)
	for _, id := range refs.IDs {
		if id.IsNull() {
			continue
		}
		assert.GreaterOrEqual(t, id.Index, int32(0))
		assert.Less(t, int(id.Index), len(particles.Records))
	}
}

// TestRangeMonotonicity asserts every primary record's range field satisfies
// begin <= end <= len(companion reference vector).
func TestRangeMonotonicity(t *testing.T) {
	schema := testSchema(t)
	engine := NewEngine(schema)

	for i := 0; i < 3; i++ {
		event := oneParticleEvent(t, schema, 1, 1)
		require.NoError(t, engine.MergeEvent(SourceMeta{Name: "signal"}, event, float64(i), int32(i), 1.0, i == 0))
	}

	particles := engine.Buffer().Collections["MCParticles"].(*model.PrimaryVector)
	companion := engine.Buffer().Collections["_MCParticles_parents"].(*model.ReferenceVector)
	for _, rec := range particles.Records {
		for _, r := range rec.Ranges {
			assert.LessOrEqual(t, r.Begin, r.End)
			assert.LessOrEqual(t, int(r.End), len(companion.IDs))
		}
	}
}

// TestSchemaStability asserts the output buffer's branch set, after merging,
// is exactly the discovered schema's branch set.
func TestSchemaStability(t *testing.T) {
	schema := testSchema(t)
	engine := NewEngine(schema)

	event := oneParticleEvent(t, schema, 1, 1)
	require.NoError(t, engine.MergeEvent(SourceMeta{Name: "signal"}, event, 0, 0, 1.0, true))
	engine.EmitEventHeader(0, 0, 0)

	var got []string
	for name := range engine.Buffer().Collections {
		got = append(got, name)
	}
	sort.Strings(got)
	want := append([]string(nil), schema.Names()...)
	sort.Strings(want)
	assert.Equal(t, want, got)
}

// TestConcatenationCommutativity merges two independent events in both
// orders and asserts the resulting element sets agree under the induced
// permutation: per-element field values and reference targets match even
// though their positions differ.
func TestConcatenationCommutativity(t *testing.T) {
	schema := testSchema(t)

	forward := NewEngine(schema)
	e1 := oneParticleEvent(t, schema, 1, 1)
	e2 := oneParticleEvent(t, schema, 2, 1)
	require.NoError(t, forward.MergeEvent(SourceMeta{Name: "a"}, e1, 1.0, 0, 1.0, true))
	require.NoError(t, forward.MergeEvent(SourceMeta{Name: "b"}, e2, 2.0, 0, 1.0, true))

	reverse := NewEngine(schema)
	e2b := oneParticleEvent(t, schema, 2, 1)
	e1b := oneParticleEvent(t, schema, 1, 1)
	require.NoError(t, reverse.MergeEvent(SourceMeta{Name: "b"}, e2b, 2.0, 0, 1.0, true))
	require.NoError(t, reverse.MergeEvent(SourceMeta{Name: "a"}, e1b, 1.0, 0, 1.0, true))

	fwdStatuses := statusSet(forward.Buffer().Collections["MCParticles"].(*model.PrimaryVector))
	revStatuses := statusSet(reverse.Buffer().Collections["MCParticles"].(*model.PrimaryVector))
	assert.Equal(t, fwdStatuses, revStatuses)

	fwdTimes := timeSet(forward.Buffer().Collections["MCParticles"].(*model.PrimaryVector))
	revTimes := timeSet(reverse.Buffer().Collections["MCParticles"].(*model.PrimaryVector))
	assert.Equal(t, fwdTimes, revTimes)
}

func statusSet(v *model.PrimaryVector) []int32 {
	out := make([]int32, len(v.Records))
	for i, rec := range v.Records {
		out[i] = rec.Ints[1]
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func timeSet(v *model.PrimaryVector) []float32 {
	out := make([]float32, len(v.Records))
	for i, rec := range v.Records {
		out[i] = rec.Floats[0]
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TestRoundtrip: a single source, exactly one event merged with a zero
// timestamp addend and no status offset, produces output content identical
// to the input event (no shift has anything to apply against an empty
// buffer).
func TestRoundtrip(t *testing.T) {
	schema := testSchema(t)
	engine := NewEngine(schema)

	event := oneParticleEvent(t, schema, 1, 1)
	wantFloat := event.Collections["MCParticles"].(*model.PrimaryVector).Records[0].Floats[0]
	wantInts := append([]int32(nil), event.Collections["MCParticles"].(*model.PrimaryVector).Records[0].Ints...)
	wantRefs := append([]model.ObjectID(nil), event.Collections["_MCParticles_parents"].(*model.ReferenceVector).IDs...)

	require.NoError(t, engine.MergeEvent(SourceMeta{Name: "signal"}, event, 0, 0, 1.0, true))

	out := engine.Buffer().Collections["MCParticles"].(*model.PrimaryVector)
	require.Len(t, out.Records, 1)
	assert.Equal(t, wantFloat, out.Records[0].Floats[0])
	assert.Equal(t, wantInts, out.Records[0].Ints)

	refs := engine.Buffer().Collections["_MCParticles_parents"].(*model.ReferenceVector)
	assert.Equal(t, wantRefs, refs.IDs)
}

// TestAlreadyMergedIdempotence feeds one pass's output back in as an
// already-merged source (with firstEventEver=true, mirroring a fresh
// second-pass source) and asserts the content is unchanged: idempotence
// under re-merging the tool's own output.
func TestAlreadyMergedIdempotence(t *testing.T) {
	schema := testSchema(t)

	firstPass := NewEngine(schema)
	event := oneParticleEvent(t, schema, 1, 1)
	require.NoError(t, firstPass.MergeEvent(SourceMeta{Name: "signal"}, event, 3.0, 0, 1.0, true))
	firstPass.EmitEventHeader(0, 0, 3.0)

	firstOut := firstPass.Buffer()
	wantFloat := firstOut.Collections["MCParticles"].(*model.PrimaryVector).Records[0].Floats[0]
	wantRefs := append([]model.ObjectID(nil), firstOut.Collections["_MCParticles_parents"].(*model.ReferenceVector).IDs...)

	secondPass := NewEngine(schema)
	replay := NewBuffer(schema)
	replayParticles := replay.Collections["MCParticles"].(*model.PrimaryVector)
	replayParticles.Records = append(replayParticles.Records, firstOut.Collections["MCParticles"].(*model.PrimaryVector).Records...)
	replayRefs := replay.Collections["_MCParticles_parents"].(*model.ReferenceVector)
	replayRefs.IDs = append(replayRefs.IDs, firstOut.Collections["_MCParticles_parents"].(*model.ReferenceVector).IDs...)

	meta := SourceMeta{Name: "replay", AlreadyMerged: true}
	require.NoError(t, secondPass.MergeEvent(meta, replay, 0, 0, 1.0, true)) // firstEventEver: lone already-merged source

	out := secondPass.Buffer().Collections["MCParticles"].(*model.PrimaryVector)
	require.Len(t, out.Records, 1)
	assert.Equal(t, wantFloat, out.Records[0].Floats[0])

	refs := secondPass.Buffer().Collections["_MCParticles_parents"].(*model.ReferenceVector)
	assert.Equal(t, wantRefs, refs.IDs)
}
