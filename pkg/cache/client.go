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
	"fmt"

	"github.com/pingcap/jobmesh/pkg/errors"
	"github.com/pingcap/jobmesh/pkg/message"
	"github.com/pingcap/jobmesh/pkg/transport"
	"go.uber.org/atomic"
)

// Client issues cache commands to the master over a request/reply channel.
// Calls are serialized, each one blocks until the master replies.
type Client struct {
	requester transport.Requester
	sender    string
	seq       atomic.Uint64
}

// NewClient connects a cache client to the cache address of a master.
func NewClient(tp *transport.Transport, addr string, sender string) (*Client, error) {
	requester, err := tp.ConnectRequest(addr)
	if err != nil {
		return nil, err
	}
	return &Client{requester: requester, sender: sender}, nil
}

// Set stores value under key, or under a generated key when key is empty,
// and returns the key chosen by the master.
func (c *Client) Set(ctx context.Context, value []byte, key string) (string, error) {
	reply, err := c.do(ctx, &message.Message{
		Kind:    message.KindCacheSet,
		Payload: value,
		Key:     key,
	})
	if err != nil {
		return "", err
	}
	return reply.Key, nil
}

// Get returns the value stored under key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := c.do(ctx, &message.Message{
		Kind: message.KindCacheGet,
		Key:  key,
	})
	if err != nil {
		return nil, err
	}
	if reply.Payload == nil {
		return []byte{}, nil
	}
	return reply.Payload, nil
}

// Delete removes the value stored under key and returns the key.
func (c *Client) Delete(ctx context.Context, key string) (string, error) {
	reply, err := c.do(ctx, &message.Message{
		Kind: message.KindCacheDelete,
		Key:  key,
	})
	if err != nil {
		return "", err
	}
	return reply.Key, nil
}

// Close releases the request channel.
func (c *Client) Close() error {
	return c.requester.Close()
}

func (c *Client) do(ctx context.Context, req *message.Message) (*message.Message, error) {
	req.Sender = c.sender
	req.CorrelationID = fmt.Sprintf("%s-cache-%d", c.sender, c.seq.Inc())
	frame, err := message.Encode(req)
	if err != nil {
		return nil, err
	}

	raw, err := c.requester.Request(ctx, frame)
	if err != nil {
		return nil, err
	}
	reply, err := message.Decode(raw)
	if err != nil {
		return nil, err
	}
	if reply.Failed() {
		return nil, reply.Err()
	}
	if reply.CorrelationID != req.CorrelationID || reply.Kind != req.Kind {
		return nil, errors.ErrUnexpectedReply.GenWithStackByArgs(
			fmt.Sprintf("%s %s for %s %s", reply.Kind, reply.CorrelationID, req.Kind, req.CorrelationID))
	}
	return reply, nil
}
