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
	"testing"
	"time"

	"github.com/pingcap/jobmesh/pkg/errors"
	"github.com/pingcap/jobmesh/pkg/message"
	"github.com/pingcap/jobmesh/pkg/transport"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	t.Parallel()

	s := NewStore()
	reply := s.Apply(&message.Message{CorrelationID: "1", Kind: message.KindCacheSet, Payload: []byte("v")}, "master")
	require.False(t, reply.Failed())
	require.Equal(t, "1", reply.CorrelationID)
	require.Equal(t, "master", reply.Sender)
	key := reply.Key

	reply = s.Apply(&message.Message{CorrelationID: "2", Kind: message.KindCacheGet, Key: key}, "master")
	require.False(t, reply.Failed())
	require.Equal(t, []byte("v"), reply.Payload)

	reply = s.Apply(&message.Message{CorrelationID: "3", Kind: message.KindCacheDelete, Key: key}, "master")
	require.Equal(t, key, reply.Key)

	reply = s.Apply(&message.Message{CorrelationID: "4", Kind: message.KindCacheGet, Key: key}, "master")
	require.True(t, reply.Failed())
	require.True(t, errors.ErrKeyNotFound.Equal(reply.Err()))

	// An empty key is never stored.
	reply = s.Apply(&message.Message{CorrelationID: "5", Kind: message.KindCacheGet}, "master")
	require.True(t, errors.ErrKeyNotFound.Equal(reply.Err()))
	reply = s.Apply(&message.Message{CorrelationID: "5", Kind: message.KindCacheDelete}, "master")
	require.True(t, errors.ErrKeyNotFound.Equal(reply.Err()))

	reply = s.Apply(message.NewJob("6", "c", "echo", nil), "master")
	require.True(t, errors.ErrInvalidArgument.Equal(reply.Err()))
}

func TestReplyHandlerRejectsGarbage(t *testing.T) {
	t.Parallel()

	h := NewReplyHandler(NewStore(), "master")
	reply, err := message.Decode(h(context.Background(), []byte{0xc1}))
	require.NoError(t, err)
	require.True(t, errors.ErrDecodeFailed.Equal(reply.Err()))
}

func TestClientOverInproc(t *testing.T) {
	t.Parallel()

	hub := transport.NewHub()
	defer hub.Close()
	tp := transport.New(hub)

	replier, err := tp.BindReply("inproc://cache")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	serveCtx, serveCancel := context.WithCancel(ctx)
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = replier.Serve(serveCtx, NewReplyHandler(NewStore(), "master"))
	}()
	defer func() {
		serveCancel()
		<-served
		_ = replier.Close()
	}()

	cli, err := NewClient(tp, "inproc://cache", "client")
	require.NoError(t, err)
	defer cli.Close()

	k1, err := cli.Set(ctx, []byte("something"), "")
	require.NoError(t, err)
	require.NotEmpty(t, k1)
	k2, err := cli.Set(ctx, []byte("otherthing"), "otherkey")
	require.NoError(t, err)
	require.Equal(t, "otherkey", k2)

	v, err := cli.Get(ctx, k1)
	require.NoError(t, err)
	require.Equal(t, []byte("something"), v)
	v, err = cli.Get(ctx, k2)
	require.NoError(t, err)
	require.Equal(t, []byte("otherthing"), v)

	deleted, err := cli.Delete(ctx, k1)
	require.NoError(t, err)
	require.Equal(t, k1, deleted)
	deleted, err = cli.Delete(ctx, k2)
	require.NoError(t, err)
	require.Equal(t, k2, deleted)

	_, err = cli.Get(ctx, k1)
	require.True(t, errors.ErrKeyNotFound.Equal(err))
	_, err = cli.Get(ctx, k2)
	require.True(t, errors.ErrKeyNotFound.Equal(err))

	// empty values survive the round trip
	k3, err := cli.Set(ctx, nil, "")
	require.NoError(t, err)
	v, err = cli.Get(ctx, k3)
	require.NoError(t, err)
	require.Empty(t, v)
}
