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

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectIDIsNull(t *testing.T) {
	cases := []struct {
		name string
		id   ObjectID
		want bool
	}{
		{"zero is valid", ObjectID{CollectionID: 0, Index: 0}, false},
		{"sentinel collection", ObjectID{CollectionID: NullCollectionID, Index: 0}, true},
		{"negative index", ObjectID{CollectionID: 0, Index: -1}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.id.IsNull())
		})
	}
}

func TestPrimaryVectorAppendFromMoves(t *testing.T) {
	layout := &PrimaryLayout{
		FloatFields: []string{"time"},
		TimeField:   0,
		StatusField: -1,
	}
	dst := NewPrimaryVector(layout)
	src := NewPrimaryVector(layout)
	src.Records = append(src.Records, PrimaryRecord{Floats: []float32{1.5}})

	dst.AppendFrom(src)

	assert.Equal(t, 1, dst.Len())
	assert.Equal(t, 0, src.Len())
	got, ok := dst.Records[0].Time(layout)
	assert.True(t, ok)
	assert.Equal(t, float32(1.5), got)
}

func TestReferenceVectorAppendFromMoves(t *testing.T) {
	dst := NewReferenceVector("MCParticles")
	src := NewReferenceVector("MCParticles")
	src.IDs = append(src.IDs, ObjectID{CollectionID: 0, Index: 0})

	dst.AppendFrom(src)

	assert.Equal(t, 1, dst.Len())
	assert.Equal(t, 0, src.Len())
}

func TestValueVectorScalarDispatch(t *testing.T) {
	v := &ValueVector{Scalar: ScalarFloat}
	src := &ValueVector{Scalar: ScalarFloat, Floats: [][]float32{{1, 2}}}

	v.AppendFrom(src)

	assert.Equal(t, 1, v.Len())
	assert.Equal(t, 0, src.Len())
	assert.Equal(t, [][]float32{{1, 2}}, v.Floats)
}
