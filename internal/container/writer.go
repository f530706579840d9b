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

package container

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/simonge/edm4hep-timeslice/internal/model"
	"github.com/simonge/edm4hep-timeslice/internal/registry"
	"github.com/simonge/edm4hep-timeslice/internal/xerrors"
)

// Writer appends one timeslice entry at a time to an output container,
// writing the schema header exactly once. It is the Sink's only dependency
// on the on-disk format (spec.md §4.E).
type Writer struct {
	w        io.Writer
	schema   *registry.Schema
	rawOrder []registry.RawBranch
	level    CompressionLevel
	encoder  *zstd.Encoder
	entries  uint32
}

// NewWriter writes the header immediately (branches, names, compression
// level) and returns a Writer ready for WriteEntry calls. raw is the first
// source's pre-discovery branch list, cloned verbatim into the header so a
// reader never needs to re-run discovery to reopen this file.
func NewWriter(w io.Writer, treeName string, schema *registry.Schema, raw []registry.RawBranch, level CompressionLevel) (*Writer, error) {
	hdr := header{
		Version:     formatVersion,
		TreeName:    treeName,
		Compression: level,
		Branches:    toHeaderBranches(raw),
	}
	if err := writeUint32(w, magicNumber); err != nil {
		return nil, xerrors.WrapIO(err, "writing container magic number")
	}
	body, err := json.Marshal(hdr)
	if err != nil {
		return nil, xerrors.WrapIO(err, "encoding container header")
	}
	if err := writeUint32(w, uint32(len(body))); err != nil {
		return nil, xerrors.WrapIO(err, "writing container header length")
	}
	if _, err := w.Write(body); err != nil {
		return nil, xerrors.WrapIO(err, "writing container header body")
	}

	var enc *zstd.Encoder
	if level != CompressionNone {
		enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(level)))
		if err != nil {
			return nil, xerrors.WrapIO(err, "initialising zstd encoder")
		}
	}

	return &Writer{w: w, schema: schema, rawOrder: raw, level: level, encoder: enc}, nil
}

func zstdLevel(l CompressionLevel) zstd.EncoderLevel {
	switch l {
	case CompressionFast:
		return zstd.SpeedFastest
	case CompressionBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// WriteEntry serialises one timeslice buffer as a single entry. Branches are
// written in schema order, each as a length-prefixed frame. Frames carry no
// branch name: Reader decodes them in the order of the schema in the file
// header.
func (w *Writer) WriteEntry(buf *model.TimesliceBuffer) error {
	var body bytes.Buffer
	for _, name := range w.schema.Names() {
		desc, ok := w.schema.Get(name)
		if !ok {
			continue
		}
		c, ok := buf.Get(name)
		if !ok {
			return xerrors.Schema("timeslice buffer missing branch %q present in schema", name)
		}
		frame := newEntryBuffer()
		if err := encodeBranch(frame, desc, c); err != nil {
			return err
		}
		if err := writeUint32(&body, uint32(frame.Len())); err != nil {
			return xerrors.WrapIO(err, "writing frame length for branch %q", name)
		}
		if _, err := frame.WriteTo(&body); err != nil {
			return xerrors.WrapIO(err, "writing frame body for branch %q", name)
		}
	}

	payload := body.Bytes()
	if w.encoder != nil {
		payload = w.encoder.EncodeAll(payload, nil)
	}
	if err := writeUint32(w.w, uint32(len(payload))); err != nil {
		return xerrors.WrapIO(err, "writing entry length")
	}
	if _, err := w.w.Write(payload); err != nil {
		return xerrors.WrapIO(err, "writing entry body")
	}
	w.entries++
	return nil
}

// Close flushes the zstd encoder, if any. It does not close the underlying
// writer; ownership of the file handle stays with the caller.
func (w *Writer) Close() error {
	if w.encoder != nil {
		return w.encoder.Close()
	}
	return nil
}

// Entries reports how many timeslices have been written so far.
func (w *Writer) Entries() uint32 { return w.entries }
