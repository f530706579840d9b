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

package xerrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"config", Config("missing source %s", "a"), 1},
		{"schema", Schema("branch missing"), 3},
		{"io", IO("open failed"), 2},
		{"arithmetic", Arithmetic("overflow"), 4},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, ExitCode(c.err))
		})
	}
}

func TestExhaustionSignalIsNotTaxonomy(t *testing.T) {
	err := ExhaustionSignal()
	assert.True(t, IsExhausted(err))
	// Not part of the fatal taxonomy: the driver must special-case it
	// before calling ExitCode, which would otherwise report exit 1.
	assert.Equal(t, 1, ExitCode(err))
}

func TestWrapPreservesCategory(t *testing.T) {
	inner := IO("disk full")
	wrapped := WrapIO(inner, "flushing timeslice %d", 3)
	assert.Equal(t, 2, ExitCode(wrapped))
}
