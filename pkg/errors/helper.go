// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"fmt"

	"github.com/pingcap/errors"
)

// codeIndex maps RFC codes back to the registered errors, so an error that
// crossed a channel as data can be rebuilt on the receiving side.
var codeIndex = buildCodeIndex(
	ErrUnknown, ErrInvalidArgument, ErrEncodeFailed, ErrDecodeFailed,
	ErrDecodeConfigFile, ErrConfigUnknownItem, ErrKeyNotFound,
	ErrUnknownFunction, ErrHandlerFailed, ErrHandlerPanic, ErrHandlerRegistered,
	ErrOverloaded, ErrDuplicateJob, ErrRedispatchExhausted, ErrWorkerUnresponsive,
	ErrTimeout, ErrUnexpectedReply, ErrClientClosed,
	ErrInvalidAddress, ErrAddressInUse, ErrTransportClosed, ErrFrameTooLarge,
)

func buildCodeIndex(errs ...*errors.Error) map[errors.RFCErrorCode]*errors.Error {
	index := make(map[errors.RFCErrorCode]*errors.Error, len(errs))
	for _, e := range errs {
		index[e.RFCCode()] = e
	}
	return index
}

// WrapError generates a new error based on given `*errors.Error`, wraps the err
// as cause error.
// If given `err` is nil, returns a nil error, which a the different behavior
// against `Wrap` function in pingcap/errors.
func WrapError(rfcError *errors.Error, err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return rfcError.Wrap(err).GenWithStackByArgs(args...)
}

// Code returns the RFC code and the plain message of err. Errors that are not
// registered by this package are reported as ErrUnknown.
func Code(err error) (code string, msg string) {
	if rfcErr := findRFCError(err); rfcErr != nil {
		return string(rfcErr.RFCCode()), rfcErr.GetMsg()
	}
	return string(ErrUnknown.RFCCode()), err.Error()
}

// Is reports whether the outermost coded error in the chain of err has the
// code of rfcErr. Unlike `Equal` it does not look past the coded error into
// the cause attached by WrapError.
func Is(err error, rfcErr *errors.Error) bool {
	found := findRFCError(err)
	return found != nil && found.RFCCode() == rfcErr.RFCCode()
}

func findRFCError(err error) *errors.Error {
	for err != nil {
		if rfcErr, ok := err.(*errors.Error); ok {
			return rfcErr
		}
		switch e := err.(type) {
		case interface{ Unwrap() error }:
			err = e.Unwrap()
		case interface{ Cause() error }:
			err = e.Cause()
		default:
			return nil
		}
	}
	return nil
}

// FromCode rebuilds an error from the code and message produced by Code.
// The result satisfies `Equal` of the registered error with the same code.
func FromCode(code string, msg string) error {
	rfcErr, ok := codeIndex[errors.RFCErrorCode(code)]
	if !ok {
		return ErrUnknown.GenWithStackByArgs(fmt.Sprintf("%s: %s", code, msg))
	}
	return rfcErr.GenWithStack("%s", msg)
}

// IsRetryable reports whether the error is not raised by a caller mistake
// and the operation may succeed when attempted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, rfcErr := range []*errors.Error{
		ErrInvalidArgument, ErrInvalidAddress, ErrAddressInUse,
		ErrTransportClosed, ErrFrameTooLarge,
	} {
		if Is(err, rfcErr) {
			return false
		}
	}
	return true
}
