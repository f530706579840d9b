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

// Package container implements the opaque binary container spec.md treats
// as an external collaborator: a self-describing file of named typed
// branches, one entry per timeslice (or, on the input side, per event),
// with a metadata header enumerating the branch schema and optional
// per-entry compression.
package container

import (
	"encoding/binary"

	"github.com/simonge/edm4hep-timeslice/internal/model"
	"github.com/simonge/edm4hep-timeslice/internal/registry"
)

// magicNumber identifies this file as an EDM4hep timeslice container.
// Mirrors the role of the teacher's binlog MagicNumber: a fixed value
// checked before any header parsing is attempted.
const magicNumber uint32 = 0xED4EC0DE

// formatVersion allows the header layout to evolve without breaking the
// magic-number check.
const formatVersion uint32 = 1

var endian = binary.LittleEndian

// CompressionLevel controls zstd compression of each entry's payload.
// It is the "small enum in config" spec.md §4.E calls for.
type CompressionLevel int

const (
	CompressionNone CompressionLevel = iota
	CompressionFast
	CompressionDefault
	CompressionBest
)

// header is the on-disk, JSON-encoded schema description written once at
// the start of the file and cloned verbatim into the output container
// (spec.md §4.E "one-time copy of the first source's schema/metadata").
type header struct {
	Version     uint32             `json:"version"`
	TreeName    string             `json:"tree_name"`
	Compression CompressionLevel   `json:"compression"`
	Branches    []headerBranch     `json:"branches"`
}

type headerBranch struct {
	Name   string              `json:"name"`
	Kind   registry.RawElementKind `json:"kind"`
	Fields []headerField       `json:"fields,omitempty"`
	Scalar int                 `json:"scalar,omitempty"`
}

type headerField struct {
	Name  string `json:"name"`
	Float bool   `json:"float,omitempty"`
}

func toHeaderBranches(raw []registry.RawBranch) []headerBranch {
	out := make([]headerBranch, 0, len(raw))
	for _, b := range raw {
		hb := headerBranch{Name: b.Name, Kind: b.Kind, Scalar: int(b.Scalar)}
		for _, f := range b.Fields {
			hb.Fields = append(hb.Fields, headerField{Name: f.Name, Float: f.Float})
		}
		out = append(out, hb)
	}
	return out
}

func scalarFromInt(i int) model.ScalarKind { return model.ScalarKind(i) }

func fromHeaderBranches(hbs []headerBranch) []registry.RawBranch {
	out := make([]registry.RawBranch, 0, len(hbs))
	for _, hb := range hbs {
		rb := registry.RawBranch{Name: hb.Name, Kind: hb.Kind, Scalar: scalarFromInt(hb.Scalar)}
		for _, f := range hb.Fields {
			rb.Fields = append(rb.Fields, registry.RawField{Name: f.Name, Float: f.Float})
		}
		out = append(out, rb)
	}
	return out
}
