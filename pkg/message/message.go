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
	"fmt"

	"github.com/pingcap/errors"
	jmerrors "github.com/pingcap/jobmesh/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Kind is the type of a Message.
type Kind uint8

// Kinds of messages carried over the data channels.
const (
	KindUnknown Kind = iota
	// KindJob is a unit of work sent by a client and forwarded to a worker.
	KindJob
	// KindResult is the outcome of a job, echoing its correlation id.
	KindResult
	// KindCacheSet stores Payload under Key, or under a generated key.
	KindCacheSet
	// KindCacheGet reads the value stored under Key.
	KindCacheGet
	// KindCacheDelete removes the value stored under Key.
	KindCacheDelete
	// KindHeartbeat is a liveness ping from a worker to the master.
	KindHeartbeat
)

var kindNames = map[Kind]string{
	KindUnknown:     "unknown",
	KindJob:         "job",
	KindResult:      "result",
	KindCacheSet:    "cache-set",
	KindCacheGet:    "cache-get",
	KindCacheDelete: "cache-delete",
	KindHeartbeat:   "heartbeat",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsCacheCommand returns whether the kind is served by the cache channel.
func (k Kind) IsCacheCommand() bool {
	return k == KindCacheSet || k == KindCacheGet || k == KindCacheDelete
}

// Message is the envelope of every frame on the data channels.
type Message struct {
	CorrelationID string `msgpack:"cid,omitempty"`
	Sender        string `msgpack:"sender,omitempty"`
	Kind          Kind   `msgpack:"kind"`
	Function      string `msgpack:"fn,omitempty"`
	Payload       []byte `msgpack:"payload,omitempty"`
	Key           string `msgpack:"key,omitempty"`
	// ReplyTo is the address the receiver should push the answer to. A job
	// carries the result address of its client, a heartbeat carries the job
	// address of its worker.
	ReplyTo string `msgpack:"reply-to,omitempty"`
	// Error tags a failed result or cache reply.
	Error *Failure `msgpack:"error,omitempty"`
}

// NewJob creates a job message.
func NewJob(cid, sender, function string, payload []byte) *Message {
	return &Message{
		CorrelationID: cid,
		Sender:        sender,
		Kind:          KindJob,
		Function:      function,
		Payload:       payload,
	}
}

// NewResult creates the result of job, echoing its correlation id. A non-nil
// err is carried as a Failure and the payload is dropped.
func NewResult(job *Message, sender string, payload []byte, err error) *Message {
	msg := &Message{
		CorrelationID: job.CorrelationID,
		Sender:        sender,
		Kind:          KindResult,
		Function:      job.Function,
	}
	if err != nil {
		msg.Error = NewFailure(err)
		return msg
	}
	msg.Payload = payload
	return msg
}

// NewHeartbeat creates a heartbeat from the worker listening on jobAddr.
func NewHeartbeat(sender, jobAddr string) *Message {
	return &Message{
		Sender:  sender,
		Kind:    KindHeartbeat,
		ReplyTo: jobAddr,
	}
}

// Failed returns whether the message carries a failure.
func (m *Message) Failed() bool {
	return m.Error != nil
}

// Err rebuilds the coded error carried by the message, nil when the
// message does not carry a failure.
func (m *Message) Err() error {
	if m.Error == nil {
		return nil
	}
	return m.Error.Err()
}

// Validate checks the fields required by the kind of the message.
func (m *Message) Validate() error {
	switch m.Kind {
	case KindJob:
		if m.CorrelationID == "" {
			return jmerrors.ErrInvalidArgument.GenWithStackByArgs("job without correlation id")
		}
		if m.Function == "" {
			return jmerrors.ErrInvalidArgument.GenWithStackByArgs("job without function name")
		}
	case KindResult:
		if m.CorrelationID == "" {
			return jmerrors.ErrInvalidArgument.GenWithStackByArgs("result without correlation id")
		}
	// No key is empty, so the store answers ErrKeyNotFound for an empty key.
	case KindCacheGet, KindCacheDelete, KindCacheSet:
	case KindHeartbeat:
		if m.Sender == "" {
			return jmerrors.ErrInvalidArgument.GenWithStackByArgs("heartbeat without sender")
		}
	default:
		return jmerrors.ErrInvalidArgument.GenWithStackByArgs(m.Kind.String())
	}
	return nil
}

// Encode serializes the message into MsgPack format.
func Encode(m *Message) ([]byte, error) {
	raw, err := msgpack.Marshal(m)
	if err != nil {
		return nil, jmerrors.WrapError(jmerrors.ErrEncodeFailed, err, "message")
	}
	return raw, nil
}

// Decode deserializes a message from a frame.
func Decode(data []byte) (*Message, error) {
	m := &Message{}
	if err := msgpack.Unmarshal(data, m); err != nil {
		return nil, jmerrors.WrapError(jmerrors.ErrDecodeFailed, err, "message")
	}
	return m, nil
}

// MustEncode is Encode for messages built by this process, it panics on
// failure.
func MustEncode(m *Message) []byte {
	raw, err := Encode(m)
	if err != nil {
		panic(errors.ErrorStack(err))
	}
	return raw
}
