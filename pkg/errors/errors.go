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
	"github.com/pingcap/errors"
)

// all jobmesh errors
var (
	// general errors
	ErrUnknown = errors.Normalize(
		"unknown error: %s",
		errors.RFCCodeText("JOBMESH:ErrUnknown"),
	)
	ErrInvalidArgument = errors.Normalize(
		"invalid argument: %s",
		errors.RFCCodeText("JOBMESH:ErrInvalidArgument"),
	)
	ErrEncodeFailed = errors.Normalize(
		"encode failed: %s",
		errors.RFCCodeText("JOBMESH:ErrEncodeFailed"),
	)
	ErrDecodeFailed = errors.Normalize(
		"decode failed: %s",
		errors.RFCCodeText("JOBMESH:ErrDecodeFailed"),
	)
	ErrDecodeConfigFile = errors.Normalize(
		"decode config file failed",
		errors.RFCCodeText("JOBMESH:ErrDecodeConfigFile"),
	)
	ErrConfigUnknownItem = errors.Normalize(
		"config contains unknown configuration options: %s",
		errors.RFCCodeText("JOBMESH:ErrConfigUnknownItem"),
	)

	// cache errors
	ErrKeyNotFound = errors.Normalize(
		"key not found: %s",
		errors.RFCCodeText("JOBMESH:ErrKeyNotFound"),
	)

	// job execution errors, carried inside RESULT messages
	ErrUnknownFunction = errors.Normalize(
		"unknown function: %s",
		errors.RFCCodeText("JOBMESH:ErrUnknownFunction"),
	)
	ErrHandlerFailed = errors.Normalize(
		"handler %s failed: %s",
		errors.RFCCodeText("JOBMESH:ErrHandlerFailed"),
	)
	ErrHandlerPanic = errors.Normalize(
		"handler %s panicked: %v",
		errors.RFCCodeText("JOBMESH:ErrHandlerPanic"),
	)
	ErrHandlerRegistered = errors.Normalize(
		"handler already registered: %s",
		errors.RFCCodeText("JOBMESH:ErrHandlerRegistered"),
	)

	// master routing errors
	ErrOverloaded = errors.Normalize(
		"master is overloaded, backlog limit %d reached",
		errors.RFCCodeText("JOBMESH:ErrOverloaded"),
	)
	ErrDuplicateJob = errors.Normalize(
		"job with correlation id %s is already pending",
		errors.RFCCodeText("JOBMESH:ErrDuplicateJob"),
	)
	ErrRedispatchExhausted = errors.Normalize(
		"job %s was redispatched %d times without completing",
		errors.RFCCodeText("JOBMESH:ErrRedispatchExhausted"),
	)
	ErrWorkerUnresponsive = errors.Normalize(
		"worker %s is unresponsive",
		errors.RFCCodeText("JOBMESH:ErrWorkerUnresponsive"),
	)

	// client errors
	ErrTimeout = errors.Normalize(
		"timed out waiting for result of %s",
		errors.RFCCodeText("JOBMESH:ErrTimeout"),
	)
	ErrUnexpectedReply = errors.Normalize(
		"unexpected reply: %s",
		errors.RFCCodeText("JOBMESH:ErrUnexpectedReply"),
	)
	ErrClientClosed = errors.Normalize(
		"client is closed",
		errors.RFCCodeText("JOBMESH:ErrClientClosed"),
	)

	// transport errors
	ErrInvalidAddress = errors.Normalize(
		"invalid address: %s",
		errors.RFCCodeText("JOBMESH:ErrInvalidAddress"),
	)
	ErrAddressInUse = errors.Normalize(
		"address already in use: %s",
		errors.RFCCodeText("JOBMESH:ErrAddressInUse"),
	)
	ErrTransportClosed = errors.Normalize(
		"transport endpoint is closed",
		errors.RFCCodeText("JOBMESH:ErrTransportClosed"),
	)
	ErrFrameTooLarge = errors.Normalize(
		"frame of %d bytes exceeds the limit",
		errors.RFCCodeText("JOBMESH:ErrFrameTooLarge"),
	)
)
