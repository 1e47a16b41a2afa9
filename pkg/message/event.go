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
	"time"

	jmerrors "github.com/pingcap/jobmesh/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Stream identifies one of the three monitoring channels.
type Stream uint8

// Monitoring streams.
const (
	StreamLog Stream = iota + 1
	StreamPerf
	StreamPing
)

func (s Stream) String() string {
	switch s {
	case StreamLog:
		return "log"
	case StreamPerf:
		return "perf"
	case StreamPing:
		return "ping"
	}
	return "unknown"
}

// Event is a sample published on a monitoring stream.
type Event struct {
	Stream    Stream    `msgpack:"stream" json:"stream"`
	Component string    `msgpack:"component" json:"component"`
	Timestamp time.Time `msgpack:"ts" json:"timestamp"`
	// Text is the formatted line of a log event.
	Text string `msgpack:"text,omitempty" json:"text,omitempty"`
	// Metric and Value form a performance sample.
	Metric string  `msgpack:"metric,omitempty" json:"metric,omitempty"`
	Value  float64 `msgpack:"value,omitempty" json:"value,omitempty"`
}

// EncodeEvent serializes a monitoring event.
func EncodeEvent(ev *Event) ([]byte, error) {
	raw, err := msgpack.Marshal(ev)
	if err != nil {
		return nil, jmerrors.WrapError(jmerrors.ErrEncodeFailed, err, "event")
	}
	return raw, nil
}

// DecodeEvent deserializes a monitoring event.
func DecodeEvent(data []byte) (*Event, error) {
	ev := &Event{}
	if err := msgpack.Unmarshal(data, ev); err != nil {
		return nil, jmerrors.WrapError(jmerrors.ErrDecodeFailed, err, "event")
	}
	return ev, nil
}
