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

package container

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonge/edm4hep-timeslice/internal/model"
	"github.com/simonge/edm4hep-timeslice/internal/registry"
)

func sampleRaw() []registry.RawBranch {
	return []registry.RawBranch{
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
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	raw := sampleRaw()
	schema, err := registry.Discover(raw)
	require.NoError(t, err)

	mc, _ := schema.Get("MCParticles")
	buf := model.NewTimesliceBuffer(schema.Names())
	pv := model.NewPrimaryVector(mc.Layout)
	pv.Records = append(pv.Records, model.PrimaryRecord{
		Ints:   []int32{211, 1},
		Floats: []float32{12.5},
		Ranges: []model.Range{{Begin: 0, End: 2}},
	})
	buf.Set("MCParticles", pv)

	refs := model.NewReferenceVector("MCParticles")
	refs.IDs = append(refs.IDs, model.ObjectID{CollectionID: 0, Index: 0}, model.ObjectID{CollectionID: 0, Index: 1})
	buf.Set("_MCParticles_parents", refs)

	var out bytes.Buffer
	w, err := NewWriter(&out, "events", schema, raw, CompressionNone)
	require.NoError(t, err)
	require.NoError(t, w.WriteEntry(buf))
	require.NoError(t, w.Close())

	rd, err := Open(&out)
	require.NoError(t, err)
	assert.Equal(t, "events", rd.TreeName())

	readBuf := model.NewTimesliceBuffer(rd.Schema().Names())
	require.NoError(t, rd.ReadEntry(readBuf))

	got, ok := readBuf.Get("MCParticles")
	require.True(t, ok)
	gotPV := got.(*model.PrimaryVector)
	require.Len(t, gotPV.Records, 1)
	assert.Equal(t, int32(211), gotPV.Records[0].Ints[0])
	assert.Equal(t, float32(12.5), gotPV.Records[0].Floats[0])
	assert.Equal(t, model.Range{Begin: 0, End: 2}, gotPV.Records[0].Ranges[0])

	gotRefs, ok := readBuf.Get("_MCParticles_parents")
	require.True(t, ok)
	assert.Len(t, gotRefs.(*model.ReferenceVector).IDs, 2)

	err = rd.ReadEntry(readBuf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriteReadRoundTripCompressed(t *testing.T) {
	raw := sampleRaw()
	schema, err := registry.Discover(raw)
	require.NoError(t, err)
	mc, _ := schema.Get("MCParticles")

	buf := model.NewTimesliceBuffer(schema.Names())
	pv := model.NewPrimaryVector(mc.Layout)
	pv.Records = append(pv.Records, model.PrimaryRecord{
		Ints:   []int32{11, 1},
		Floats: []float32{3.0},
		Ranges: []model.Range{{Begin: 0, End: 0}},
	})
	buf.Set("MCParticles", pv)
	buf.Set("_MCParticles_parents", model.NewReferenceVector("MCParticles"))

	var out bytes.Buffer
	w, err := NewWriter(&out, "events", schema, raw, CompressionBest)
	require.NoError(t, err)
	require.NoError(t, w.WriteEntry(buf))
	require.NoError(t, w.Close())

	rd, err := Open(&out)
	require.NoError(t, err)
	readBuf := model.NewTimesliceBuffer(rd.Schema().Names())
	require.NoError(t, rd.ReadEntry(readBuf))

	got := readBuf.Collections["MCParticles"].(*model.PrimaryVector)
	assert.Equal(t, int32(11), got.Records[0].Ints[0])
}
