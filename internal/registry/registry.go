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

// Package registry discovers collection names, element kinds and
// one-to-many reference fields from a source's branch list, and classifies
// each branch into a category purely from its name and element shape —
// never from a hardcoded collection list. This is the "tagged dispatch"
// design note of the core: a Schema carries everything the Merger Engine
// needs to process a branch generically.
package registry

import (
	"sort"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/simonge/edm4hep-timeslice/internal/log"
	"github.com/simonge/edm4hep-timeslice/internal/model"
	"github.com/simonge/edm4hep-timeslice/internal/xerrors"
)

// RawElementKind is the shape a branch reports before registry
// classification folds begin/end field pairs into range fields and resolves
// reference targets. A container implementation produces these from its
// on-disk type information.
type RawElementKind int

const (
	RawPrimary RawElementKind = iota
	RawReference
	RawKey
	RawValue
	RawHeader
)

// RawField is one scalar field of a primary branch's element type, as
// reported by the container before range-folding.
type RawField struct {
	Name  string
	Float bool // false => int32 field
}

// RawBranch is one branch as enumerated from the first source's metadata.
type RawBranch struct {
	Name   string
	Kind   RawElementKind
	Fields []RawField       // only meaningful when Kind == RawPrimary
	Scalar model.ScalarKind // only meaningful when Kind == RawKey or RawValue
}

// Category is the spec's four-way branch classification, a coarser view
// than ElementKind: reference and header both map onto their own category,
// key and value both fall under "parameter".
type Category int

const (
	CategoryPrimary Category = iota
	CategoryReference
	CategoryParameter
	CategoryHeader
)

// ReferenceRule is one range field on a primary record: the field carries a
// (begin, end) pair indexing into the reference branch ReferenceBranch,
// whose elements in turn point at collection Target.
type ReferenceRule struct {
	FieldName       string // e.g. "parents"
	ReferenceBranch string // e.g. "_MCParticles_parents"
	Target          string // e.g. "MCParticles"
}

// BranchDescriptor is the registry's answer for one branch: its element
// kind, category, and — for primaries — the update rules the Merger Engine
// applies uniformly, with no per-collection-type code.
type BranchDescriptor struct {
	Name     string
	Kind     model.ElementKind
	Category Category

	// Primary-only:
	Layout     *model.PrimaryLayout
	References []ReferenceRule

	// Reference-only:
	Target string

	// Key/Value-only:
	Scalar     model.ScalarKind
	PairedWith string // the KeyVector name for a ValueVector branch, or vice versa
}

// Schema is the full discovery result: every branch the Merger must read,
// write and update, in discovery order (which becomes write order).
type Schema struct {
	Order    []string
	Branches map[string]*BranchDescriptor
}

func (s *Schema) Names() []string { return s.Order }

func (s *Schema) Get(name string) (*BranchDescriptor, bool) {
	d, ok := s.Branches[name]
	return d, ok
}

// referenceNamePattern splits "_<Collection>_<field>" into its two parts.
// Collection names are not expected to contain underscores (the EDM4hep
// naming convention this mirrors never produces them); the first remaining
// underscore is the split point, matching the original discovery code's
// "find the second underscore" rule.
func referenceNamePattern(name string) (collection, field string, ok bool) {
	if !strings.HasPrefix(name, "_") {
		return "", "", false
	}
	rest := name[1:]
	idx := strings.IndexByte(rest, '_')
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

var gpKeyBranches = map[string]model.ScalarKind{
	"GPIntKeys":    model.ScalarInt,
	"GPFloatKeys":  model.ScalarFloat,
	"GPDoubleKeys": model.ScalarDouble,
	"GPStringKeys": model.ScalarString,
}

var gpValueBranches = map[string]model.ScalarKind{
	"GPIntValues":    model.ScalarInt,
	"GPFloatValues":  model.ScalarFloat,
	"GPDoubleValues": model.ScalarDouble,
	"GPStringValues": model.ScalarString,
}

var gpKeyForValue = map[string]string{
	"GPIntValues":    "GPIntKeys",
	"GPFloatValues":  "GPFloatKeys",
	"GPDoubleValues": "GPDoubleKeys",
	"GPStringValues": "GPStringKeys",
}

var gpValueForKey = map[string]string{
	"GPIntKeys":    "GPIntValues",
	"GPFloatKeys":  "GPFloatValues",
	"GPDoubleKeys": "GPDoubleValues",
	"GPStringKeys": "GPStringValues",
}

// Discover walks the first source's branch list and returns the Schema
// every subsequent source must match exactly (schema stability, spec §3).
// Dangling references — a "_C_field" branch whose owning collection C is
// not itself a primary branch — are logged and skipped rather than
// treated as fatal, per §4.A.
func Discover(raw []RawBranch) (*Schema, error) {
	byName := make(map[string]RawBranch, len(raw))
	order := make([]string, 0, len(raw))
	for _, b := range raw {
		byName[b.Name] = b
		order = append(order, b.Name)
	}

	// Collect reference branches grouped by owning collection first, since
	// primary branches need them to build their update rules.
	refsByOwner := make(map[string][]string)
	for _, b := range raw {
		if b.Kind != RawReference {
			continue
		}
		owner, _, ok := referenceNamePattern(b.Name)
		if !ok {
			log.Warn("dangling reference branch: does not match the _<Collection>_<field> naming convention",
				zap.String("branch", b.Name))
			continue
		}
		if ownerBranch, present := byName[owner]; !present || ownerBranch.Kind != RawPrimary {
			log.Warn("dangling reference branch: owning collection is not a primary branch; ignoring",
				zap.String("branch", b.Name), zap.String("owner", owner))
			continue
		}
		refsByOwner[owner] = append(refsByOwner[owner], b.Name)
	}

	schema := &Schema{Order: order, Branches: make(map[string]*BranchDescriptor, len(raw))}

	for _, b := range raw {
		switch b.Kind {
		case RawPrimary:
			desc, err := describePrimary(b, byName, refsByOwner)
			if err != nil {
				return nil, err
			}
			schema.Branches[b.Name] = desc

		case RawReference:
			owner, field, ok := referenceNamePattern(b.Name)
			if !ok {
				continue // dangling, already warned above
			}
			schema.Branches[b.Name] = &BranchDescriptor{
				Name:     b.Name,
				Kind:     model.KindReference,
				Category: CategoryReference,
				Target:   resolveTarget(byName, owner, field),
			}

		case RawKey:
			scalar, known := gpKeyBranches[b.Name]
			if !known {
				return nil, xerrors.Schema("unclassifiable key branch %q", b.Name)
			}
			schema.Branches[b.Name] = &BranchDescriptor{
				Name:       b.Name,
				Kind:       model.KindKey,
				Category:   CategoryParameter,
				Scalar:     scalar,
				PairedWith: gpValueForKey[b.Name],
			}

		case RawValue:
			scalar, known := gpValueBranches[b.Name]
			if !known {
				return nil, xerrors.Schema("unclassifiable value branch %q", b.Name)
			}
			schema.Branches[b.Name] = &BranchDescriptor{
				Name:       b.Name,
				Kind:       model.KindValue,
				Category:   CategoryParameter,
				Scalar:     scalar,
				PairedWith: gpKeyForValue[b.Name],
			}

		case RawHeader:
			schema.Branches[b.Name] = &BranchDescriptor{
				Name:     b.Name,
				Kind:     model.KindHeader,
				Category: CategoryHeader,
			}

		default:
			return nil, xerrors.Schema("branch %q has an unrecognised element kind", b.Name)
		}
	}

	return schema, nil
}

// resolveTarget decides which collection a reference field's ObjectIDs
// point into. The default is the owning collection itself (parents and
// daughters of an MCParticle point at other MCParticles); the one named
// exception in the naming convention is the calorimeter contributions
// companion, where "_X_contributions" points into "XContributions" rather
// than X.
func resolveTarget(byName map[string]RawBranch, owner, field string) string {
	if field == "contributions" {
		companion := owner + "Contributions"
		if b, ok := byName[companion]; ok && b.Kind == RawPrimary {
			return companion
		}
	}
	return owner
}

// describePrimary folds a primary branch's raw int/float fields into a
// PrimaryLayout, identifying the time and generatorStatus fields by name
// and folding every "<field>_begin"/"<field>_end" int pair that has a
// matching reference branch into a Range field with its update rule.
func describePrimary(b RawBranch, byName map[string]RawBranch, refsByOwner map[string][]string) (*BranchDescriptor, error) {
	refFields := make(map[string]string) // field name -> reference branch name
	for _, refBranch := range refsByOwner[b.Name] {
		_, field, _ := referenceNamePattern(refBranch)
		refFields[field] = refBranch
	}

	rangeFieldNames := lo.Keys(refFields)
	sort.Strings(rangeFieldNames)

	layout := &model.PrimaryLayout{TimeField: -1, StatusField: -1, VertexXField: -1, VertexZField: -1}
	var rangeFields []string
	var references []ReferenceRule

	consumed := make(map[string]bool)
	for _, f := range b.Fields {
		if strings.HasSuffix(f.Name, "_begin") {
			prefix := strings.TrimSuffix(f.Name, "_begin")
			if _, isRangeField := refFields[prefix]; isRangeField && !f.Float {
				consumed[f.Name] = true
				continue // folded below, once, keyed by prefix
			}
		}
		if strings.HasSuffix(f.Name, "_end") {
			prefix := strings.TrimSuffix(f.Name, "_end")
			if _, isRangeField := refFields[prefix]; isRangeField && !f.Float {
				consumed[f.Name] = true
				continue
			}
		}
	}

	for _, prefix := range rangeFieldNames {
		beginName, endName := prefix+"_begin", prefix+"_end"
		if !consumed[beginName] || !consumed[endName] {
			continue // reference branch exists but record has no matching range pair
		}
		rangeFields = append(rangeFields, prefix)
		references = append(references, ReferenceRule{
			FieldName:       prefix,
			ReferenceBranch: refFields[prefix],
			Target:          resolveTarget(byName, b.Name, prefix),
		})
	}
	layout.RangeFields = rangeFields

	for _, f := range b.Fields {
		if consumed[f.Name] {
			continue
		}
		if f.Float {
			switch f.Name {
			case "time":
				layout.TimeField = len(layout.FloatFields)
			case "vertex_x":
				layout.VertexXField = len(layout.FloatFields)
			case "vertex_z":
				layout.VertexZField = len(layout.FloatFields)
			}
			layout.FloatFields = append(layout.FloatFields, f.Name)
		} else {
			if f.Name == "generatorStatus" {
				layout.StatusField = len(layout.IntFields)
			}
			layout.IntFields = append(layout.IntFields, f.Name)
		}
	}

	return &BranchDescriptor{
		Name:       b.Name,
		Kind:       model.KindPrimary,
		Category:   CategoryPrimary,
		Layout:     layout,
		References: references,
	}, nil
}
