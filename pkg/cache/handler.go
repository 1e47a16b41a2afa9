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

package cache

import (
	"context"

	"github.com/pingcap/jobmesh/pkg/errors"
	"github.com/pingcap/jobmesh/pkg/message"
	"github.com/pingcap/jobmesh/pkg/transport"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Apply performs the cache command carried by req and returns the reply.
// A set replies with the key, a get with the value in Payload and a delete
// with the deleted key. Failures are carried in the reply.
func (s *Store) Apply(req *message.Message, sender string) *message.Message {
	reply := &message.Message{
		CorrelationID: req.CorrelationID,
		Sender:        sender,
		Kind:          req.Kind,
	}
	if err := req.Validate(); err != nil {
		reply.Error = message.NewFailure(err)
		return reply
	}

	switch req.Kind {
	case message.KindCacheSet:
		reply.Key = s.Set(req.Payload, req.Key)
	case message.KindCacheGet:
		value, err := s.Get(req.Key)
		if err != nil {
			reply.Error = message.NewFailure(err)
			break
		}
		reply.Key = req.Key
		reply.Payload = value
	case message.KindCacheDelete:
		key, err := s.Delete(req.Key)
		if err != nil {
			reply.Error = message.NewFailure(err)
			break
		}
		reply.Key = key
	default:
		reply.Error = message.NewFailure(
			errors.ErrInvalidArgument.GenWithStackByArgs("not a cache command: " + req.Kind.String()))
	}
	return reply
}

// NewReplyHandler serves the cache commands arriving on a request/reply
// channel from store.
func NewReplyHandler(store *Store, sender string) transport.ReplyHandler {
	return func(_ context.Context, frame []byte) []byte {
		var reply *message.Message
		req, err := message.Decode(frame)
		if err != nil {
			log.Warn("failed to decode cache request", zap.Error(err))
			reply = &message.Message{Sender: sender, Error: message.NewFailure(err)}
		} else {
			reply = store.Apply(req, sender)
		}
		return message.MustEncode(reply)
	}
}
