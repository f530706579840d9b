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

// Package metrics registers the run's Prometheus collectors, in the
// teacher's CounterVec/Histogram registration style. A run is a single
// batch CLI invocation, not a scraped service, so the registry is exposed
// for the driver to dump at exit rather than served over HTTP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "timeslicemerger"

var (
	// TimeslicesProduced counts completed timeslices flushed to the sink.
	TimeslicesProduced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "timeslices_produced_total",
		Help:      "Number of timeslices flushed to the output container.",
	})

	// EventsAdmitted counts events admitted into a timeslice, per source.
	EventsAdmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_admitted_total",
		Help:      "Number of source events admitted into a timeslice.",
	}, []string{"source"})

	// MergeDuration observes the wall-clock cost of merging one timeslice.
	MergeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "merge_duration_seconds",
		Help:      "Time spent assembling one timeslice, merging through flush.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Registry is the run's private collector registry; the driver reports a
// snapshot from it in the final summary rather than exposing an HTTP
// endpoint, since a batch CLI process has no scrape target.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(TimeslicesProduced, EventsAdmitted, MergeDuration)
}

// Snapshot reads the current counter/histogram totals for the final run
// summary (internal/driver prints these rather than serving them, since a
// batch CLI process has no scrape target).
func Snapshot() (timeslices float64, mergeCount uint64, mergeSum float64) {
	var cm dto.Metric
	if err := TimeslicesProduced.Write(&cm); err == nil {
		timeslices = cm.GetCounter().GetValue()
	}

	var hm dto.Metric
	if err := MergeDuration.Write(&hm); err == nil {
		mergeCount = hm.GetHistogram().GetSampleCount()
		mergeSum = hm.GetHistogram().GetSampleSum()
	}
	return
}
