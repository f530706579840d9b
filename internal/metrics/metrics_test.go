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

package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotReflectsRecordedObservations(t *testing.T) {
	before, beforeCount, _ := Snapshot()

	TimeslicesProduced.Inc()
	EventsAdmitted.WithLabelValues("signal").Inc()
	MergeDuration.Observe(time.Millisecond.Seconds())

	after, afterCount, afterSum := Snapshot()
	assert.Equal(t, before+1, after)
	assert.Equal(t, beforeCount+1, afterCount)
	assert.Greater(t, afterSum, 0.0)
}
