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

// TimesliceBuffer holds, for every discovered branch name, a growing
// Collection of the branch's element kind. It serves two roles in this
// tree: as the Merger Engine's output accumulator (grown across many
// events, flushed once per timeslice) and, with the same shape, as a
// Source's per-entry read slots (overwritten by each read, drained by the
// Merger's move-append). Order is fixed at construction and is also the
// container write order.
type TimesliceBuffer struct {
	Order       []string
	Collections map[string]Collection
}

// NewTimesliceBuffer returns an empty buffer. Callers populate Collections
// for each name in order before use.
func NewTimesliceBuffer(order []string) *TimesliceBuffer {
	return &TimesliceBuffer{
		Order:       order,
		Collections: make(map[string]Collection, len(order)),
	}
}

func (b *TimesliceBuffer) Get(name string) (Collection, bool) {
	c, ok := b.Collections[name]
	return c, ok
}

func (b *TimesliceBuffer) Set(name string, c Collection) {
	b.Collections[name] = c
}

// Len returns the number of elements currently stored in branch name, or 0
// if the branch is unknown.
func (b *TimesliceBuffer) Len(name string) int {
	c, ok := b.Collections[name]
	if !ok {
		return 0
	}
	return c.Len()
}

// Clear truncates every collection to length zero, retaining their
// allocated capacity for the next timeslice.
func (b *TimesliceBuffer) Clear() {
	for _, name := range b.Order {
		if c, ok := b.Collections[name]; ok {
			c.Truncate(0)
		}
	}
}

// Snapshot returns the current length of every branch, the offsets that
// must be added to any index reference crossing into that branch while
// merging the next event (§4.D.1). It must be taken once before
// processing an event and held fixed for the duration of that event.
func (b *TimesliceBuffer) Snapshot() map[string]int32 {
	snap := make(map[string]int32, len(b.Order))
	for _, name := range b.Order {
		snap[name] = int32(b.Len(name))
	}
	return snap
}
