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

// Range is a (begin, end) pair delimiting a contiguous slice of a companion
// reference vector.
type Range struct {
	Begin int32
	End   int32
}

// PrimaryLayout describes, positionally, the int and float fields a
// PrimaryRecord carries and which of them are distinguished as time,
// status, or range. It is computed once per branch by the schema registry
// and shared by every PrimaryVector of that branch.
type PrimaryLayout struct {
	IntFields   []string
	FloatFields []string
	RangeFields []string // parallel to PrimaryVector.Ranges

	// TimeField indexes into FloatFields, or -1 if this record kind has no
	// time field.
	TimeField int
	// StatusField indexes into IntFields, or -1 if this record kind has no
	// generatorStatus field.
	StatusField int

	// VertexXField and VertexZField index into FloatFields, or -1 if this
	// record kind carries no beam-line vertex (internal/sampler's beam
	// attachment reads these two off the first generatorStatus==1 record of
	// an admitted event).
	VertexXField int
	VertexZField int
}

// PrimaryRecord is one flat element of a primary collection: a row of typed
// scalar fields plus zero or more range pairs. Field order is positional,
// defined by the owning PrimaryLayout.
type PrimaryRecord struct {
	Ints   []int32
	Floats []float32
	Ranges []Range
}

// Time returns the record's time field and whether it has one.
func (r PrimaryRecord) Time(layout *PrimaryLayout) (float32, bool) {
	if layout.TimeField < 0 {
		return 0, false
	}
	return r.Floats[layout.TimeField], true
}

// SetTime writes the record's time field in place; it is a no-op if the
// layout has no time field.
func (r *PrimaryRecord) SetTime(layout *PrimaryLayout, v float32) {
	if layout.TimeField < 0 {
		return
	}
	r.Floats[layout.TimeField] = v
}

// Status returns the record's generatorStatus field and whether it has one.
func (r PrimaryRecord) Status(layout *PrimaryLayout) (int32, bool) {
	if layout.StatusField < 0 {
		return 0, false
	}
	return r.Ints[layout.StatusField], true
}

// SetStatus writes the record's generatorStatus field in place; a no-op if
// the layout has none.
func (r *PrimaryRecord) SetStatus(layout *PrimaryLayout, v int32) {
	if layout.StatusField < 0 {
		return
	}
	r.Ints[layout.StatusField] = v
}

// PrimaryVector is a growable sequence of PrimaryRecord sharing one layout.
type PrimaryVector struct {
	Layout  *PrimaryLayout
	Records []PrimaryRecord
}

// NewPrimaryVector returns an empty vector bound to layout.
func NewPrimaryVector(layout *PrimaryLayout) *PrimaryVector {
	return &PrimaryVector{Layout: layout}
}

func (v *PrimaryVector) Kind() ElementKind { return KindPrimary }

func (v *PrimaryVector) Len() int { return len(v.Records) }

// Truncate shrinks the vector to n records, retaining capacity. n must not
// exceed the current length.
func (v *PrimaryVector) Truncate(n int) {
	v.Records = v.Records[:n]
}

// AppendFrom moves src's records onto v and empties src, retaining src's
// capacity for reuse by the next Source.read. This is the "concatenation by
// move" the Merger Engine relies on: after the call src.Records has length
// zero but the same backing array.
func (v *PrimaryVector) AppendFrom(src *PrimaryVector) {
	v.Records = append(v.Records, src.Records...)
	src.Records = src.Records[:0]
}
