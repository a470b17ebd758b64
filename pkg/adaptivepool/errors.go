// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package adaptivepool

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidArgument is wrapped by all errors caused by arguments the caller can fix:
	// wrong rank, empty dimensions, unsupported layout or dtype, mismatched shapes.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInternal is wrapped by errors that a well-behaved caller can't trigger.
	ErrInternal = errors.New("internal error")
)

// IsInvalidArgument returns whether err was caused by an invalid argument.
func IsInvalidArgument(err error) bool { return errors.Is(err, ErrInvalidArgument) }

// IsInternal returns whether err is an internal error.
func IsInternal(err error) bool { return errors.Is(err, ErrInternal) }

// invalidArgumentf returns an error with a stack trace, whose message is prefixed by "invalid argument: ".
func invalidArgumentf(format string, args ...any) error {
	return errors.WithStack(fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...)))
}

// internalErrorf returns an error with a stack trace, whose message is prefixed by "internal error: ".
func internalErrorf(format string, args ...any) error {
	return errors.WithStack(fmt.Errorf("%w: %s", ErrInternal, fmt.Sprintf(format, args...)))
}
