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

// Package sink owns the output container: one flush per timeslice, a
// one-time schema clone from the first source, and an advisory file lock
// for the run's lifetime (spec.md §4.E).
package sink

import (
	"os"

	"github.com/gofrs/flock"

	"github.com/simonge/edm4hep-timeslice/internal/container"
	"github.com/simonge/edm4hep-timeslice/internal/model"
	"github.com/simonge/edm4hep-timeslice/internal/registry"
	"github.com/simonge/edm4hep-timeslice/internal/xerrors"
)

// Sink writes one timeslice per Flush call to a single output container.
type Sink struct {
	file  *os.File
	lock  *flock.Flock
	w     *container.Writer
	count uint32
}

// Open creates (or truncates) the output file at path, takes an advisory
// lock on a sibling ".lock" file for the run's lifetime, and writes the
// container header cloned from the first source's schema and raw branch
// declarations.
func Open(path string, treeName string, schema *registry.Schema, raw []registry.RawBranch, level container.CompressionLevel) (*Sink, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, xerrors.WrapIO(err, "acquiring output lock for %q", path)
	}
	if !locked {
		return nil, xerrors.IO("output path %q is already locked by another run", path)
	}

	f, err := os.Create(path)
	if err != nil {
		lock.Unlock()
		return nil, xerrors.WrapIO(err, "creating output container %q", path)
	}

	w, err := container.NewWriter(f, treeName, schema, raw, level)
	if err != nil {
		f.Close()
		lock.Unlock()
		return nil, err
	}

	return &Sink{file: f, lock: lock, w: w}, nil
}

// Flush writes buf as one timeslice entry and clears it, retaining
// capacity for the next timeslice (spec.md §4.E).
func (s *Sink) Flush(buf *model.TimesliceBuffer) error {
	if err := s.w.WriteEntry(buf); err != nil {
		return err
	}
	buf.Clear()
	s.count++
	return nil
}

// Count reports how many timeslices have been flushed so far.
func (s *Sink) Count() uint32 { return s.count }

// Close flushes the container's compressor, closes the output file, and
// releases the advisory lock. Safe to call once at the end of a run.
func (s *Sink) Close() error {
	werr := s.w.Close()
	cerr := s.file.Close()
	uerr := s.lock.Unlock()
	switch {
	case werr != nil:
		return xerrors.WrapIO(werr, "closing output container writer")
	case cerr != nil:
		return xerrors.WrapIO(cerr, "closing output container file")
	case uerr != nil:
		return xerrors.WrapIO(uerr, "releasing output lock")
	default:
		return nil
	}
}
