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

// Package source wraps one configured input stream — possibly several
// files concatenated in listed order — behind the read/advance cursor the
// Admission Sampler and Merger Engine drive (spec.md §4.B).
package source

import (
	"context"
	"io"
	"os"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/simonge/edm4hep-timeslice/internal/container"
	"github.com/simonge/edm4hep-timeslice/internal/model"
	"github.com/simonge/edm4hep-timeslice/internal/registry"
	"github.com/simonge/edm4hep-timeslice/internal/xerrors"
)

// Config is the subset of a source's configuration the read/advance cursor
// needs. Admission-sampling parameters (rate, weight, mode) live in
// internal/sampler and are read from the same underlying config surface.
type Config struct {
	Name          string
	Files         []string
	AlreadyMerged bool
	RepeatOnEOF   bool
}

// file pairs an opened container.Reader with the file handle backing it, so
// Close can release both.
type file struct {
	handle *os.File
	reader *container.Reader
	start  int64 // first global entry index this file covers
	count  int64
}

// Source is one configured input stream: Config plus the cursor state the
// hot loop advances once per admitted (or skipped) event.
type Source struct {
	Config
	files  []*file
	total  int64
	schema *registry.Schema

	position  atomic.Int64
	exhausted atomic.Bool
	totalRead atomic.Int64 // monotonic count of read() calls, never wraps
}

// Open opens every file listed in cfg concurrently, validates they all
// declare the same schema, and returns a Source positioned at entry 0.
func Open(ctx context.Context, cfg Config) (*Source, error) {
	if len(cfg.Files) == 0 {
		return nil, xerrors.Config("source %q lists no input files", cfg.Name)
	}

	files := make([]*file, len(cfg.Files))
	g, _ := errgroup.WithContext(ctx)
	for i, path := range cfg.Files {
		i, path := i, path
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return xerrors.WrapIO(err, "opening source %q file %q", cfg.Name, path)
			}
			rd, err := container.Open(f)
			if err != nil {
				return xerrors.WrapIO(err, "reading source %q file %q", cfg.Name, path)
			}
			files[i] = &file{handle: f, reader: rd}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, f := range files {
			if f != nil {
				f.handle.Close()
			}
		}
		return nil, err
	}

	schema := files[0].reader.Schema()
	for i, f := range files[1:] {
		if err := schemasMatch(schema, f.reader.Schema()); err != nil {
			return nil, xerrors.WrapSchema(err, "source %q: file %q does not match file %q's schema",
				cfg.Name, cfg.Files[i+1], cfg.Files[0])
		}
	}

	var total int64
	for _, f := range files {
		count, err := countEntries(f)
		if err != nil {
			return nil, err
		}
		f.start = total
		f.count = count
		total += count
	}
	if total == 0 {
		return nil, xerrors.Config("source %q has no events across %d file(s)", cfg.Name, len(cfg.Files))
	}

	return &Source{Config: cfg, files: files, total: total, schema: schema}, nil
}

// countEntries drains a freshly opened reader once to learn its entry count
// (the container format carries no entry-count field in its header), then
// reopens it so playback starts from entry zero. Multi-pass cost is paid
// once at startup, outside the hot loop.
func countEntries(f *file) (int64, error) {
	var n int64
	scratch := model.NewTimesliceBuffer(f.reader.Schema().Names())
	for {
		if err := f.reader.ReadEntry(scratch); err != nil {
			if err == io.EOF {
				break
			}
			return 0, err
		}
		n++
	}
	if _, err := f.handle.Seek(0, io.SeekStart); err != nil {
		return 0, xerrors.WrapIO(err, "rewinding source file after entry count")
	}
	rd, err := container.Open(f.handle)
	if err != nil {
		return 0, xerrors.WrapIO(err, "reopening source file after entry count")
	}
	f.reader = rd
	return n, nil
}

// schemasMatch enforces schema stability across a source's files: the same
// branch names, in the same declared order, with the same element kind.
func schemasMatch(a, b *registry.Schema) error {
	an, bn := a.Names(), b.Names()
	if len(an) != len(bn) {
		return xerrors.Schema("branch count differs: %d vs %d", len(an), len(bn))
	}
	for i, name := range an {
		if bn[i] != name {
			return xerrors.Schema("branch order differs at position %d: %q vs %q", i, name, bn[i])
		}
		da, _ := a.Get(name)
		db, _ := b.Get(name)
		if da.Kind != db.Kind {
			return xerrors.Schema("branch %q kind differs: %s vs %s", name, da.Kind, db.Kind)
		}
	}
	return nil
}

// Schema returns this source's discovered branch schema.
func (s *Source) Schema() *registry.Schema { return s.schema }

// RawBranches returns the branch declarations as the first file's container
// header reported them, verbatim, so the Sink can clone them into the
// output container's own header.
func (s *Source) RawBranches() []registry.RawBranch { return s.files[0].reader.RawBranches() }

// TreeName returns the first file's tree/entry-set name.
func (s *Source) TreeName() string { return s.files[0].reader.TreeName() }

// Exhausted reports whether this source has run past its last entry with
// RepeatOnEOF disabled.
func (s *Source) Exhausted() bool { return s.exhausted.Load() }

// Available reports whether this source can supply n more events from its
// current cursor position without the driver halting mid-timeslice
// (spec.md §4.D.5/4.D.6). A RepeatOnEOF source can always supply more, since
// it wraps; otherwise the remaining entries must cover n.
func (s *Source) Available(n int64) bool {
	if s.exhausted.Load() {
		return false
	}
	if s.RepeatOnEOF {
		return true
	}
	return s.position.Load()+n <= s.total
}

// locate maps a global entry position to its file and the file-local index.
func (s *Source) locate(pos int64) (*file, int64) {
	for _, f := range s.files {
		if pos < f.start+f.count {
			return f, pos - f.start
		}
	}
	return nil, 0
}

// Read decodes the entry at the current cursor position into buf. It does
// not advance the cursor; call Advance separately once the caller has
// finished consuming buf, matching the Merger Engine's read-then-decide-
// then-advance control flow (spec.md §4.D).
func (s *Source) Read(buf *model.TimesliceBuffer) error {
	if s.exhausted.Load() {
		return xerrors.ExhaustionSignal()
	}
	pos := s.position.Load()
	f, local := s.locate(pos)
	if f == nil {
		return xerrors.IO("source %q: position %d out of range", s.Name, pos)
	}
	if local == 0 && pos != 0 {
		// Entering a new file in the concatenation: container.Reader has no
		// random access, so a rewind-to-file-start is required whenever the
		// cursor lands on a file boundary after a wraparound or seek.
		if err := rewindFile(f); err != nil {
			return err
		}
	}
	if err := f.reader.ReadEntry(buf); err != nil {
		return xerrors.WrapIO(err, "reading source %q entry %d", s.Name, pos)
	}
	s.totalRead.Inc()
	return nil
}

func rewindFile(f *file) error {
	if _, err := f.handle.Seek(0, io.SeekStart); err != nil {
		return xerrors.WrapIO(err, "rewinding source file")
	}
	rd, err := container.Open(f.handle)
	if err != nil {
		return xerrors.WrapIO(err, "reopening source file")
	}
	f.reader = rd
	return nil
}

// Advance moves the cursor to the next entry. At the end of the stream it
// either wraps to entry 0 (RepeatOnEOF) or marks the source exhausted and
// returns xerrors.ExhaustionSignal(), which the driver treats as "stop
// producing timeslices", not as an error (spec.md §4.B, §7).
func (s *Source) Advance() error {
	next := s.position.Inc()
	if next < s.total {
		return nil
	}
	if !s.RepeatOnEOF {
		s.exhausted.Store(true)
		return xerrors.ExhaustionSignal()
	}
	s.position.Store(0)
	return rewindAll(s)
}

func rewindAll(s *Source) error {
	for _, f := range s.files {
		if err := rewindFile(f); err != nil {
			return err
		}
	}
	return nil
}

// FirstReadEver reports whether the most recently completed Read was the
// very first one this source has ever performed, across every wraparound.
// The Merger Engine uses this to decide whether an already-merged source's
// first event skips reference-offset shifting (§9 Open Question 1).
func (s *Source) FirstReadEver() bool { return s.totalRead.Load() == 1 }

// PreloadWeights drains the entire source once to collect one weight per
// event for WeightedResampling (spec.md §4.C mode 3), then rewinds every
// file to its first entry; the cursor position itself is not changed, so
// it is called before the first Read. Weight comes from the event's own
// EventHeader record, the EDM4hep generator-weight channel every raw input
// event carries; a file with no EventHeader branch at all has no weight
// channel to read, so every event defaults to weight 1.0, degrading
// weighted resampling to plain uniform resampling for that source.
func (s *Source) PreloadWeights() ([]float64, error) {
	weights := make([]float64, 0, s.total)
	scratch := model.NewTimesliceBuffer(s.schema.Names())
	for _, f := range s.files {
		for {
			if err := f.reader.ReadEntry(scratch); err != nil {
				if err == io.EOF {
					break
				}
				return nil, xerrors.WrapIO(err, "preloading weights for source %q", s.Name)
			}
			weights = append(weights, weightOf(scratch))
			scratch.Clear()
		}
		if err := rewindFile(f); err != nil {
			return nil, err
		}
	}
	return weights, nil
}

func weightOf(buf *model.TimesliceBuffer) float64 {
	c, ok := buf.Get("EventHeader")
	if !ok {
		return 1.0
	}
	hv, ok := c.(*model.EventHeaderVector)
	if !ok || len(hv.Records) == 0 {
		return 1.0
	}
	return hv.Records[0].Weight
}

// Close releases every file handle backing this source, aggregating every
// failure rather than just the first: a multi-file source's handles are
// independent, and a caller tearing down after a run wants to know about
// all of them.
func (s *Source) Close() error {
	var err error
	for _, f := range s.files {
		if cerr := f.handle.Close(); cerr != nil {
			err = multierr.Append(err, xerrors.WrapIO(cerr, "closing source %q file", s.Name))
		}
	}
	return err
}
