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

// EventHeaderRecord identifies one timeslice: the "EventHeader" collection
// carries exactly one of these per output entry. The same branch, read from
// a raw (not yet merged) input file, carries one record per source event
// instead; Weight there is the event's EDM4hep generator weight, the real
// channel WeightedResampling draws from.
type EventHeaderRecord struct {
	RunNumber   int32
	EventNumber int32
	TimeStamp   float64
	Weight      float64
}

// EventHeaderVector backs the "EventHeader" branch.
type EventHeaderVector struct {
	Records []EventHeaderRecord
}

func (v *EventHeaderVector) Kind() ElementKind { return KindHeader }
func (v *EventHeaderVector) Len() int          { return len(v.Records) }
func (v *EventHeaderVector) Truncate(n int)    { v.Records = v.Records[:n] }

// SubEventHeaderRecord traces one admitted event back to its source: which
// event within the source it was, which source, where its MCParticles begin
// in the timeslice buffer, and the timestamp it was assigned.
type SubEventHeaderRecord struct {
	EventNumberInSource int32
	SourceIndex         int32
	ParticleOffset      int32
	TimeStamp           float64
	Weight              float64
}

// SubEventHeaderVector backs the "SubEventHeaders" branch.
type SubEventHeaderVector struct {
	Records []SubEventHeaderRecord
}

func (v *SubEventHeaderVector) Kind() ElementKind { return KindHeader }
func (v *SubEventHeaderVector) Len() int          { return len(v.Records) }
func (v *SubEventHeaderVector) Truncate(n int)    { v.Records = v.Records[:n] }

func (v *SubEventHeaderVector) AppendFrom(src *SubEventHeaderVector) {
	v.Records = append(v.Records, src.Records...)
	src.Records = src.Records[:0]
}
