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

// Reader sequentially reads entries from a container previously produced by
// Writer, or by an upstream simulation job using this same format. A Source
// owns one Reader per input file (spec.md §4.B).
type Reader struct {
	r        io.Reader
	schema   *registry.Schema
	raw      []registry.RawBranch
	treeName string
	decoder  *zstd.Decoder
}

// Open reads the magic number and header, runs schema discovery over the
// declared branches, and returns a Reader positioned at the first entry.
func Open(r io.Reader) (*Reader, error) {
	magic, err := readUint32(r)
	if err != nil {
		return nil, xerrors.WrapIO(err, "reading container magic number")
	}
	if magic != magicNumber {
		return nil, xerrors.IO("not an EDM4hep timeslice container (bad magic number)")
	}
	hdrLen, err := readUint32(r)
	if err != nil {
		return nil, xerrors.WrapIO(err, "reading container header length")
	}
	hdrBody := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, hdrBody); err != nil {
		return nil, xerrors.WrapIO(err, "reading container header body")
	}
	var hdr header
	if err := json.Unmarshal(hdrBody, &hdr); err != nil {
		return nil, xerrors.WrapIO(err, "decoding container header")
	}

	raw := fromHeaderBranches(hdr.Branches)
	schema, err := registry.Discover(raw)
	if err != nil {
		return nil, err
	}

	var dec *zstd.Decoder
	if hdr.Compression != CompressionNone {
		dec, err = zstd.NewReader(nil)
		if err != nil {
			return nil, xerrors.WrapIO(err, "initialising zstd decoder")
		}
	}

	return &Reader{r: r, schema: schema, raw: raw, treeName: hdr.TreeName, decoder: dec}, nil
}

// Schema returns the reader's discovered branch schema.
func (rd *Reader) Schema() *registry.Schema { return rd.schema }

// RawBranches returns the header's branch declarations verbatim, for a
// Writer that clones this source's schema into a new output container.
func (rd *Reader) RawBranches() []registry.RawBranch { return rd.raw }

// TreeName returns the logical tree/entry-set name carried in the header.
func (rd *Reader) TreeName() string { return rd.treeName }

// ReadEntry decodes the next entry into buf, replacing every collection buf
// currently holds. It returns io.EOF once the underlying reader is
// exhausted. internal/source only relies on this while counting entries and
// preloading weights; its Advance detects the end of the stream from the
// entry count instead.
func (rd *Reader) ReadEntry(buf *model.TimesliceBuffer) error {
	payloadLen, err := readUint32(rd.r)
	if err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return xerrors.WrapIO(err, "reading entry length")
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(rd.r, payload); err != nil {
		return xerrors.WrapIO(err, "reading entry body")
	}
	if rd.decoder != nil {
		payload, err = rd.decoder.DecodeAll(payload, nil)
		if err != nil {
			return xerrors.WrapIO(err, "decompressing entry body")
		}
	}

	body := bytes.NewReader(payload)
	for _, name := range rd.schema.Names() {
		desc, ok := rd.schema.Get(name)
		if !ok {
			continue
		}
		frameLen, err := readUint32(body)
		if err != nil {
			return xerrors.WrapIO(err, "reading frame length for branch %q", name)
		}
		frame := make([]byte, frameLen)
		if _, err := io.ReadFull(body, frame); err != nil {
			return xerrors.WrapIO(err, "reading frame body for branch %q", name)
		}
		c, err := decodeBranch(bytes.NewReader(frame), desc)
		if err != nil {
			return err
		}
		buf.Set(name, c)
	}
	return nil
}
