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
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapError(t *testing.T) {
	t.Parallel()

	var (
		rfcErr    = ErrDecodeFailed
		err       = errors.New("test")
		testCases = []struct {
			err      error
			isNil    bool
			expected string
			args     []interface{}
		}{
			{nil, true, "", []interface{}{}},
			{err, false, "[JOBMESH:ErrDecodeFailed]decode failed: frame: test", []interface{}{"frame"}},
		}
	)
	for _, tc := range testCases {
		we := WrapError(rfcErr, tc.err, tc.args...)
		if tc.isNil {
			require.Nil(t, we)
		} else {
			require.NotNil(t, we)
			require.Equal(t, tc.expected, we.Error())
		}
	}
}

func TestCodeRoundTrip(t *testing.T) {
	t.Parallel()

	original := ErrKeyNotFound.GenWithStackByArgs("k1")
	code, msg := Code(original)
	require.Equal(t, "JOBMESH:ErrKeyNotFound", code)
	require.Equal(t, "key not found: k1", msg)

	rebuilt := FromCode(code, msg)
	require.True(t, ErrKeyNotFound.Equal(rebuilt))
	require.Equal(t, original.Error(), rebuilt.Error())
}

func TestCodeOfForeignError(t *testing.T) {
	t.Parallel()

	code, msg := Code(errors.New("boom"))
	require.Equal(t, "JOBMESH:ErrUnknown", code)
	require.Equal(t, "boom", msg)

	rebuilt := FromCode("OTHER:ErrSomething", "boom")
	require.True(t, ErrUnknown.Equal(rebuilt))
	require.Contains(t, rebuilt.Error(), "OTHER:ErrSomething")
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	require.False(t, IsRetryable(nil))
	require.False(t, IsRetryable(ErrInvalidAddress.GenWithStackByArgs("x")))
	require.False(t, IsRetryable(ErrTransportClosed.GenWithStackByArgs()))
	require.True(t, IsRetryable(errors.New("connection refused")))
}

func TestIsLooksAtOutermostCode(t *testing.T) {
	t.Parallel()

	cause := ErrTimeout.GenWithStackByArgs("s-1")
	wrapped := WrapError(ErrUnexpectedReply, cause, "cache")
	require.True(t, Is(wrapped, ErrUnexpectedReply))
	require.False(t, Is(wrapped, ErrTimeout))
	require.True(t, Is(errors.Trace(cause), ErrTimeout))
	require.False(t, Is(errors.New("plain"), ErrTimeout))
	require.False(t, Is(nil, ErrTimeout))

	code, _ := Code(wrapped)
	require.Equal(t, "JOBMESH:ErrUnexpectedReply", code)
	require.False(t, IsRetryable(WrapError(ErrInvalidAddress, errors.New("bad port"), "tcp://x")))
}
