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

// ScalarKind identifies which of the four GP scalar types a key/value pair
// of branches carries.
type ScalarKind int

const (
	ScalarInt ScalarKind = iota
	ScalarFloat
	ScalarDouble
	ScalarString
)

// KeyVector backs one of GPIntKeys/GPFloatKeys/GPDoubleKeys/GPStringKeys: a
// vector of parameter names, one per timeslice entry's parameter set.
type KeyVector struct {
	Scalar ScalarKind
	Keys   []string
}

func (v *KeyVector) Kind() ElementKind { return KindKey }
func (v *KeyVector) Len() int          { return len(v.Keys) }
func (v *KeyVector) Truncate(n int)    { v.Keys = v.Keys[:n] }

func (v *KeyVector) AppendFrom(src *KeyVector) {
	v.Keys = append(v.Keys, src.Keys...)
	src.Keys = src.Keys[:0]
}

// ValueVector backs one of GPIntValues/GPFloatValues/GPDoubleValues/
// GPStringValues: a vector of vectors of scalar, aligned positionally with
// the paired KeyVector's Keys. Exactly one of the typed slices is non-nil,
// selected by Scalar.
type ValueVector struct {
	Scalar ScalarKind

	Ints    [][]int32
	Floats  [][]float32
	Doubles [][]float64
	Strings [][]string
}

func (v *ValueVector) Kind() ElementKind { return KindValue }

func (v *ValueVector) Len() int {
	switch v.Scalar {
	case ScalarInt:
		return len(v.Ints)
	case ScalarFloat:
		return len(v.Floats)
	case ScalarDouble:
		return len(v.Doubles)
	case ScalarString:
		return len(v.Strings)
	default:
		return 0
	}
}

func (v *ValueVector) Truncate(n int) {
	switch v.Scalar {
	case ScalarInt:
		v.Ints = v.Ints[:n]
	case ScalarFloat:
		v.Floats = v.Floats[:n]
	case ScalarDouble:
		v.Doubles = v.Doubles[:n]
	case ScalarString:
		v.Strings = v.Strings[:n]
	}
}

func (v *ValueVector) AppendFrom(src *ValueVector) {
	switch v.Scalar {
	case ScalarInt:
		v.Ints = append(v.Ints, src.Ints...)
		src.Ints = src.Ints[:0]
	case ScalarFloat:
		v.Floats = append(v.Floats, src.Floats...)
		src.Floats = src.Floats[:0]
	case ScalarDouble:
		v.Doubles = append(v.Doubles, src.Doubles...)
		src.Doubles = src.Doubles[:0]
	case ScalarString:
		v.Strings = append(v.Strings, src.Strings...)
		src.Strings = src.Strings[:0]
	}
}
