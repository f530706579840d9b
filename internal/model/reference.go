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

// ReferenceVector is a vector of ObjectID, the backing storage of a branch
// named "_<Collection>_<field>".
type ReferenceVector struct {
	// Target is the collection name this reference points into, e.g.
	// "MCParticles" for "_MCParticles_parents". Resolved once at discovery.
	Target string
	IDs    []ObjectID
}

func NewReferenceVector(target string) *ReferenceVector {
	return &ReferenceVector{Target: target}
}

func (v *ReferenceVector) Kind() ElementKind { return KindReference }

func (v *ReferenceVector) Len() int { return len(v.IDs) }

func (v *ReferenceVector) Truncate(n int) {
	v.IDs = v.IDs[:n]
}

// AppendFrom moves src's IDs onto v, emptying src while retaining capacity.
func (v *ReferenceVector) AppendFrom(src *ReferenceVector) {
	v.IDs = append(v.IDs, src.IDs...)
	src.IDs = src.IDs[:0]
}
