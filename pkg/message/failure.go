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

package message

import (
	jmerrors "github.com/pingcap/jobmesh/pkg/errors"
)

// Failure is an error carried as data inside a result or a cache reply.
type Failure struct {
	// Code is the RFC code of the error, e.g. "JOBMESH:ErrKeyNotFound".
	Code    string `msgpack:"code"`
	Message string `msgpack:"msg,omitempty"`
}

// NewFailure converts err into a Failure. Errors without a registered code
// are tagged as ErrUnknown.
func NewFailure(err error) *Failure {
	code, msg := jmerrors.Code(err)
	return &Failure{Code: code, Message: msg}
}

// Err rebuilds the coded error, so receivers may match it with Equal.
func (f *Failure) Err() error {
	return jmerrors.FromCode(f.Code, f.Message)
}

func (f *Failure) Error() string {
	return f.Err().Error()
}
