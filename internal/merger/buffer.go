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

// Package merger implements the Merger Engine (spec.md §4.D): per-event
// offset snapshotting, the field-update decision table, and concatenation
// by move into one growing timeslice buffer.
package merger

import (
	"github.com/simonge/edm4hep-timeslice/internal/model"
	"github.com/simonge/edm4hep-timeslice/internal/registry"
)

// subEventHeadersBranch and eventHeaderBranch are the two fixed collection
// names the header kind can resolve to; every other branch name is
// schema-driven.
const (
	subEventHeadersBranch = "SubEventHeaders"
	eventHeaderBranch     = "EventHeader"
	mcParticlesBranch     = "MCParticles"
)

// NewBuffer allocates one concrete Collection per schema branch, matching
// each BranchDescriptor's element kind. It builds the Merger's own growing
// output buffer. Per-entry read slots are not built here: a container
// Reader installs fresh collections into the event buffer on every read.
func NewBuffer(schema *registry.Schema) *model.TimesliceBuffer {
	buf := model.NewTimesliceBuffer(schema.Names())
	for _, name := range schema.Names() {
		desc, ok := schema.Get(name)
		if !ok {
			continue
		}
		switch desc.Kind {
		case model.KindPrimary:
			buf.Set(name, model.NewPrimaryVector(desc.Layout))
		case model.KindReference:
			buf.Set(name, model.NewReferenceVector(desc.Target))
		case model.KindKey:
			buf.Set(name, &model.KeyVector{Scalar: desc.Scalar})
		case model.KindValue:
			buf.Set(name, &model.ValueVector{Scalar: desc.Scalar})
		case model.KindHeader:
			if name == subEventHeadersBranch {
				buf.Set(name, &model.SubEventHeaderVector{})
			} else {
				buf.Set(name, &model.EventHeaderVector{})
			}
		}
	}
	return buf
}
