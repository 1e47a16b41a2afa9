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
	"testing"
	"time"

	"github.com/pingcap/errors"
	jmerrors "github.com/pingcap/jobmesh/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeJob(t *testing.T) {
	t.Parallel()

	job := NewJob("s-1", "client", "echo", []byte("hello"))
	job.ReplyTo = "inproc://client-results"
	raw, err := Encode(job)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, job, decoded)
	require.NoError(t, decoded.Validate())
	require.False(t, decoded.Failed())
}

func TestResultCarriesFailure(t *testing.T) {
	t.Parallel()

	job := NewJob("s-2", "client", "missing", nil)
	result := NewResult(job, "worker-0", []byte("ignored"), jmerrors.ErrUnknownFunction.GenWithStackByArgs("missing"))
	require.Equal(t, "s-2", result.CorrelationID)
	require.Nil(t, result.Payload)

	decoded, err := Decode(MustEncode(result))
	require.NoError(t, err)
	require.True(t, decoded.Failed())
	require.Equal(t, "JOBMESH:ErrUnknownFunction", decoded.Error.Code)

	rebuilt := decoded.Err()
	require.True(t, jmerrors.ErrUnknownFunction.Equal(rebuilt))
	require.Contains(t, rebuilt.Error(), "unknown function: missing")
}

func TestForeignErrorBecomesUnknown(t *testing.T) {
	t.Parallel()

	f := NewFailure(errors.New("boom"))
	require.Equal(t, "JOBMESH:ErrUnknown", f.Code)
	require.True(t, jmerrors.ErrUnknown.Equal(f.Err()))
	require.Contains(t, f.Error(), "boom")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		msg   *Message
		valid bool
	}{
		{NewJob("c", "s", "fn", nil), true},
		{NewJob("", "s", "fn", nil), false},
		{NewJob("c", "s", "", nil), false},
		{&Message{Kind: KindResult, CorrelationID: "c"}, true},
		{&Message{Kind: KindResult}, false},
		{&Message{Kind: KindCacheSet, Payload: []byte("v")}, true},
		{&Message{Kind: KindCacheGet}, true},
		{&Message{Kind: KindCacheDelete}, true},
		{&Message{Kind: KindCacheDelete, Key: "k"}, true},
		{NewHeartbeat("w", "inproc://w"), true},
		{NewHeartbeat("", "inproc://w"), false},
		{&Message{Kind: Kind(99)}, false},
	}
	for i, cs := range cases {
		err := cs.msg.Validate()
		if cs.valid {
			require.NoError(t, err, "case %d", i)
		} else {
			require.True(t, jmerrors.ErrInvalidArgument.Equal(err), "case %d", i)
		}
	}
}

func TestDecodeGarbage(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte{0xc1})
	require.True(t, jmerrors.Is(err, jmerrors.ErrDecodeFailed))
	_, err = DecodeEvent([]byte{0xc1})
	require.True(t, jmerrors.Is(err, jmerrors.ErrDecodeFailed))
}

func TestEventRoundTrip(t *testing.T) {
	t.Parallel()

	ev := &Event{
		Stream:    StreamPerf,
		Component: "worker-1",
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Metric:    "job_duration_seconds",
		Value:     0.25,
	}
	raw, err := EncodeEvent(ev)
	require.NoError(t, err)
	decoded, err := DecodeEvent(raw)
	require.NoError(t, err)
	require.Equal(t, ev.Component, decoded.Component)
	require.Equal(t, ev.Metric, decoded.Metric)
	require.Equal(t, ev.Value, decoded.Value)
	require.True(t, ev.Timestamp.Equal(decoded.Timestamp))
	require.Equal(t, "perf", decoded.Stream.String())
}

func TestKindString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "job", KindJob.String())
	require.Equal(t, "kind(42)", Kind(42).String())
	require.True(t, KindCacheGet.IsCacheCommand())
	require.False(t, KindHeartbeat.IsCacheCommand())
}
