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

// Package config loads the CLI surface (spec.md §6.3): global run
// parameters plus a set of per-source declarations, from command-line
// flags and an optional YAML file. CLI flags take precedence over YAML;
// sources declared only in YAML are kept (§6.3 closing note). This mirrors
// the teacher's BaseTable/ComponentParam layering (viper instance plus a
// typed accessor pass) without the etcd hot-reload machinery, which has no
// place in a load-once batch CLI.
package config

import (
	"sort"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/simonge/edm4hep-timeslice/internal/sampler"
	"github.com/simonge/edm4hep-timeslice/internal/source"
	"github.com/simonge/edm4hep-timeslice/internal/xerrors"
)

// SourceConfig is one --source:NAME declaration, folding both the
// internal/source cursor config and the internal/sampler admission config
// under one name.
type SourceConfig struct {
	Name string

	InputFiles    []string
	AlreadyMerged bool
	RepeatOnEOF   bool
	TreeName      string
	StatusOffset  int32

	Frequency       float64
	StaticEvents    bool
	EventsPerSlice  int
	BunchCrossing   bool
	BeamAttachment  bool
	BeamSpeed       float64
	BeamSpread      float64
	BeamAngle       float64
}

// Config is the fully resolved run configuration: every global flag plus
// every declared source in a deterministic order (spec.md §6.4): sources
// from the YAML file first, sorted by name, then sources declared only on
// the CLI, in the order they first appear there.
type Config struct {
	Output         string
	NEvents        int
	Duration       float64
	BunchPeriod    float64
	Seed           int64

	order   []string
	Sources map[string]*SourceConfig
}

// SourceNames returns every declared source's name in the order described
// on Config.
func (c *Config) SourceNames() []string { return c.order }

// Load builds a Config from argv (excluding the program name) and, if
// --config names a YAML file, merges its `sources:` map underneath the CLI
// flags. CLI values always win; a source present only in YAML is kept.
func Load(argv []string) (*Config, error) {
	fs := pflag.NewFlagSet("timeslicemerger", pflag.ContinueOnError)

	output := fs.String("output", "", "output container path")
	nevents := fs.Int("nevents", 0, "number of timeslices to produce")
	duration := fs.Float64("duration", 0, "timeslice duration in nanoseconds")
	bunchPeriod := fs.Float64("bunch-period", 0, "accelerator bunch period in nanoseconds")
	seed := fs.Int64("seed", 0, "RNG seed (0 selects a system-entropy seed)")
	configFile := fs.String("config", "", "optional YAML file overriding/extending these flags")

	globalArgs, sourceFlags, err := splitSourceArgs(argv)
	if err != nil {
		return nil, err
	}

	if err := fs.Parse(globalArgs); err != nil {
		return nil, xerrors.Config("parsing command line: %v", err)
	}

	v := viper.New()
	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, xerrors.WrapConfig(err, "reading config file %q", *configFile)
		}
	}

	cfg := &Config{
		Output:      firstNonEmpty(*output, v.GetString("output")),
		NEvents:     firstNonZeroInt(*nevents, v.GetInt("nevents")),
		Duration:    firstNonZeroFloat(*duration, v.GetFloat64("duration")),
		BunchPeriod: firstNonZeroFloat(*bunchPeriod, v.GetFloat64("bunch-period")),
		Seed:        firstNonZeroInt64(*seed, v.GetInt64("seed")),
		Sources:     make(map[string]*SourceConfig),
	}

	yamlSources := v.GetStringMap("sources")
	yamlNames := make([]string, 0, len(yamlSources))
	for name := range yamlSources {
		yamlNames = append(yamlNames, name)
	}
	sort.Strings(yamlNames)
	for _, name := range yamlNames {
		cfg.addSource(name).mergeYAML(cast.ToStringMap(yamlSources[name]))
	}
	for _, name := range sourceFlags.order {
		cfg.addSource(name).mergeCLI(sourceFlags.flags[name])
	}

	if cfg.Output == "" {
		return nil, xerrors.Config("--output is required")
	}
	if cfg.NEvents <= 0 {
		return nil, xerrors.Config("--nevents must be positive")
	}
	if cfg.Duration <= 0 {
		return nil, xerrors.Config("--duration must be positive")
	}
	if len(cfg.Sources) == 0 {
		return nil, xerrors.Config("at least one --source:NAME must be declared")
	}
	return cfg, nil
}

func (c *Config) addSource(name string) *SourceConfig {
	if s, ok := c.Sources[name]; ok {
		return s
	}
	s := &SourceConfig{Name: name, EventsPerSlice: 1, BeamSpeed: 299.792458}
	c.Sources[name] = s
	c.order = append(c.order, name)
	return s
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstNonZeroInt(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func firstNonZeroInt64(a, b int64) int64 {
	if a != 0 {
		return a
	}
	return b
}

func firstNonZeroFloat(a, b float64) float64 {
	if a != 0 {
		return a
	}
	return b
}

// SourceOpenConfig returns the internal/source.Config this declaration maps
// to.
func (s *SourceConfig) SourceOpenConfig() source.Config {
	return source.Config{
		Name:          s.Name,
		Files:         s.InputFiles,
		AlreadyMerged: s.AlreadyMerged,
		RepeatOnEOF:   s.RepeatOnEOF,
	}
}

// SamplerConfig returns the internal/sampler.Config this declaration maps
// to. weights, when non-nil, is the preloaded per-event weight set a
// WeightedResampling source needs (internal/driver preloads it, since only
// the driver reads the source ahead of the sampling loop).
func (s *SourceConfig) SamplerConfig(weights []float64) sampler.Config {
	mode := sampler.FrequencyPoisson
	switch {
	case s.StaticEvents:
		mode = sampler.Static
	case s.Frequency <= 0:
		mode = sampler.WeightedResampling
	}
	placement := sampler.UniformPlacement
	if mode == sampler.FrequencyPoisson && s.BunchCrossing {
		placement = sampler.ExponentialTimeline
	}
	return sampler.Config{
		Mode:                     mode,
		StaticEventsPerTimeslice: s.EventsPerSlice,
		Frequency:                s.Frequency,
		Placement:                placement,
		Weights:                  weights,
		MaxResampleAttempts:      8,
		UseBunchCrossing:         s.BunchCrossing,
		BunchPeriod:              0, // set from Config.BunchPeriod by the driver
		AttachToBeam:             s.BeamAttachment,
		BeamAngle:                s.BeamAngle,
		BeamSpeed:                s.BeamSpeed,
		BeamSpread:               s.BeamSpread,
		AlreadyMerged:            s.AlreadyMerged,
	}
}

func (s *SourceConfig) mergeYAML(m map[string]interface{}) {
	if v, ok := m["input_files"]; ok {
		s.InputFiles = splitFiles(cast.ToString(v))
	}
	if v, ok := m["already_merged"]; ok {
		s.AlreadyMerged = cast.ToBool(v)
	}
	if v, ok := m["repeat_on_eof"]; ok {
		s.RepeatOnEOF = cast.ToBool(v)
	}
	if v, ok := m["tree_name"]; ok {
		s.TreeName = cast.ToString(v)
	}
	if v, ok := m["status_offset"]; ok {
		s.StatusOffset = cast.ToInt32(v)
	}
	if v, ok := m["frequency"]; ok {
		s.Frequency = cast.ToFloat64(v)
	}
	if v, ok := m["static_events"]; ok {
		s.StaticEvents = cast.ToBool(v)
	}
	if v, ok := m["events_per_slice"]; ok {
		s.EventsPerSlice = cast.ToInt(v)
	}
	if v, ok := m["bunch_crossing"]; ok {
		s.BunchCrossing = cast.ToBool(v)
	}
	if v, ok := m["beam_attachment"]; ok {
		s.BeamAttachment = cast.ToBool(v)
	}
	if v, ok := m["beam_speed"]; ok {
		s.BeamSpeed = cast.ToFloat64(v)
	}
	if v, ok := m["beam_spread"]; ok {
		s.BeamSpread = cast.ToFloat64(v)
	}
	if v, ok := m["beam_angle"]; ok {
		s.BeamAngle = cast.ToFloat64(v)
	}
}

// splitSourceArgs separates --source:NAME:key=value (or --source:NAME:key
// value) tokens, which pflag cannot register ahead of time since NAME is
// only known at parse time, from the fixed global flags pflag does handle.
// It returns the global-only argv and a name -> key -> value map.
func splitSourceArgs(argv []string) ([]string, *orderedSourceFlags, error) {
	global := make([]string, 0, len(argv))
	sources := newOrderedSourceFlags()

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		if !strings.HasPrefix(arg, "--source:") {
			global = append(global, arg)
			continue
		}
		rest := strings.TrimPrefix(arg, "--source:")
		var value string
		hasValue := false
		if eq := strings.IndexByte(rest, '='); eq >= 0 {
			value = rest[eq+1:]
			rest = rest[:eq]
			hasValue = true
		}
		parts := strings.SplitN(rest, ":", 2)
		name := parts[0]
		if name == "" {
			return nil, nil, xerrors.Config("malformed --source flag %q", arg)
		}
		sources.touch(name)
		if len(parts) == 1 {
			// Bare "--source:NAME" declares the source with no key; a
			// subsequent "--source:NAME:key value" still attaches to it.
			continue
		}
		if !hasValue && i+1 < len(argv) {
			i++
			value = argv[i]
		}
		sources.set(name, parts[1], value)
	}
	return global, sources, nil
}

// orderedSourceFlags collects --source:NAME:key flags keyed by name while
// preserving first-appearance order, so Config.SourceNames() reflects CLI
// declaration order (spec.md §6.4 deterministic output depends on a fixed,
// reproducible source iteration order).
type orderedSourceFlags struct {
	order []string
	flags map[string]map[string]string
}

func newOrderedSourceFlags() *orderedSourceFlags {
	return &orderedSourceFlags{flags: make(map[string]map[string]string)}
}

func (o *orderedSourceFlags) touch(name string) {
	if _, ok := o.flags[name]; !ok {
		o.flags[name] = make(map[string]string)
		o.order = append(o.order, name)
	}
}

func (o *orderedSourceFlags) set(name, key, value string) {
	o.touch(name)
	o.flags[name][key] = value
}

func (s *SourceConfig) mergeCLI(flags map[string]string) {
	m := make(map[string]interface{}, len(flags))
	for k, v := range flags {
		m[k] = v
	}
	s.mergeYAML(m)
}

func splitFiles(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
