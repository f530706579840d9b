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

// Package xerrors implements the merger's error taxonomy: each category
// carries the process exit code mandated for it, so the driver can map a
// returned error straight to os.Exit without re-deriving severity.
package xerrors

import (
	"github.com/cockroachdb/errors"
)

// Category distinguishes the four fatal taxonomy members. ExhaustionSignal
// is deliberately not a Category: it is not an error at all.
type Category int

const (
	CategoryConfig Category = iota + 1
	CategorySchema
	CategoryIO
	CategoryArithmetic
)

// ExitCode returns the process exit code mandated for c.
func (c Category) ExitCode() int {
	switch c {
	case CategoryConfig:
		return 1
	case CategoryIO:
		return 2
	case CategorySchema:
		return 3
	case CategoryArithmetic:
		return 4
	default:
		return 1
	}
}

func (c Category) String() string {
	switch c {
	case CategoryConfig:
		return "config"
	case CategorySchema:
		return "schema"
	case CategoryIO:
		return "io"
	case CategoryArithmetic:
		return "arithmetic"
	default:
		return "unknown"
	}
}

type taxonomyError struct {
	category Category
	err      error
}

func (e *taxonomyError) Error() string { return e.err.Error() }
func (e *taxonomyError) Cause() error  { return e.err }
func (e *taxonomyError) Unwrap() error { return e.err }

// Config wraps err as a ConfigError (exit 1): missing files, zero sources,
// contradictory flags.
func Config(format string, args ...interface{}) error {
	return &taxonomyError{category: CategoryConfig, err: errors.Newf(format, args...)}
}

// WrapConfig wraps an existing error as a ConfigError.
func WrapConfig(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &taxonomyError{category: CategoryConfig, err: errors.Wrapf(err, format, args...)}
}

// Schema wraps err as a SchemaError (exit 3): branch missing across
// sources, type mismatch, unclassifiable branch.
func Schema(format string, args ...interface{}) error {
	return &taxonomyError{category: CategorySchema, err: errors.Newf(format, args...)}
}

func WrapSchema(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &taxonomyError{category: CategorySchema, err: errors.Wrapf(err, format, args...)}
}

// IO wraps err as an IOError (exit 2): open/read/write failure.
func IO(format string, args ...interface{}) error {
	return &taxonomyError{category: CategoryIO, err: errors.Newf(format, args...)}
}

func WrapIO(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &taxonomyError{category: CategoryIO, err: errors.Wrapf(err, format, args...)}
}

// Arithmetic wraps err as an ArithmeticError (exit 4): offset overflow.
func Arithmetic(format string, args ...interface{}) error {
	return &taxonomyError{category: CategoryArithmetic, err: errors.Newf(format, args...)}
}

// exhaustionSignal is a sentinel, not a taxonomyError: a source ran out and
// repeat-on-eof is false. It halts the run cleanly after the last fully
// populated timeslice and must never reach the exit-code mapping below.
var exhaustionSignal = errors.New("source exhausted")

// ExhaustionSignal returns the sentinel that Source.advance returns when a
// source without repeat-on-eof runs past its last entry.
func ExhaustionSignal() error { return exhaustionSignal }

// IsExhausted reports whether err is (or wraps) the exhaustion sentinel.
func IsExhausted(err error) bool { return errors.Is(err, exhaustionSignal) }

// ExitCode inspects err and returns the process exit code it mandates, or 0
// if err is nil. A non-nil err that isn't one of the taxonomy categories
// (a programmer error slipping through) maps to 1, the same as ConfigError,
// since it is almost always a misconfiguration surfacing as a panic-free
// error from a library the config layer called into.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var te *taxonomyError
	if errors.As(err, &te) {
		return te.category.ExitCode()
	}
	return 1
}
