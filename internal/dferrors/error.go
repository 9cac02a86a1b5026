/*
 *     Copyright 2020 The Dragonfly Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package dferrors

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the stable, programmatic tag of an error.
type Kind string

// Caller-input errors.
const (
	KindSchemaMismatch    Kind = "schema-mismatch"
	KindInvalidFilter     Kind = "invalid-filter"
	KindIllegalTransition Kind = "illegal-transition"
	KindInvalidArgument   Kind = "invalid-argument"
)

// Insufficient-state errors.
const (
	KindNotFound          Kind = "not-found"
	KindNoProductionModel Kind = "no-production-model"
	KindNoArtifact        Kind = "no-artifact"
	KindRunNotFinalized   Kind = "run-not-finalized"
	KindInUse             Kind = "in-use"
)

// Training-intrinsic errors.
const (
	KindInsufficientData        Kind = "insufficient-data"
	KindNumericalNonconvergence Kind = "numerical-nonconvergence"
)

// Transient infrastructure errors.
const (
	KindStoreUnavailable    Kind = "store-unavailable"
	KindArtifactUnavailable Kind = "artifact-unavailable"
	KindDeadlineExceeded    Kind = "deadline-exceeded"
)

// Corruption errors.
const (
	KindIncompatibleArtifact Kind = "incompatible-artifact"
	KindDigestMismatch       Kind = "digest-mismatch"
)

// KindUnknown is returned by KindOf for errors without a kind.
const KindUnknown Kind = "unknown"

// Error carries a kind, a human readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s]%s: %v", e.Kind, e.Message, e.Err)
	}

	return fmt.Sprintf("[%s]%s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, msg string) *Error {
	return &Error{
		Kind:    kind,
		Message: msg,
	}
}

func Newf(kind Kind, format string, a ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, a...),
	}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{
		Kind:    kind,
		Message: msg,
		Err:     err,
	}
}

func Wrapf(kind Kind, err error, format string, a ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, a...),
		Err:     err,
	}
}

// KindOf returns the kind of the outermost tagged error in the chain.
// Context deadline and cancellation errors map to KindDeadlineExceeded.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindDeadlineExceeded
	}

	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// FromContext returns a deadline-exceeded error if ctx is done.
func FromContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Wrap(KindDeadlineExceeded, err, "operation abandoned")
	}

	return nil
}
