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
	"sync"

	"github.com/google/uuid"
	"github.com/pingcap/jobmesh/pkg/errors"
	"go.uber.org/atomic"
)

// Stats is a snapshot of the counters of a Store.
type Stats struct {
	Entries int   `json:"entries"`
	Sets    int64 `json:"sets"`
	Gets    int64 `json:"gets"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Deletes int64 `json:"deletes"`
}

// Store is an in-memory key/value table. All operations are atomic with
// respect to each other.
type Store struct {
	mu      sync.RWMutex
	entries map[string][]byte

	// newKey generates keys for values stored without one.
	newKey func() string

	sets    atomic.Int64
	gets    atomic.Int64
	hits    atomic.Int64
	misses  atomic.Int64
	deletes atomic.Int64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string][]byte),
		newKey:  uuid.NewString,
	}
}

// Set stores value under key and returns the key. An empty key makes the
// store generate one that is not in use.
func (s *Store) Set(value []byte, key string) string {
	value = append(make([]byte, 0, len(value)), value...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if key == "" {
		for {
			key = s.newKey()
			if _, ok := s.entries[key]; !ok {
				break
			}
		}
	}
	s.entries[key] = value
	s.sets.Inc()
	return key
}

// Get returns the value stored under key.
func (s *Store) Get(key string) ([]byte, error) {
	s.gets.Inc()

	s.mu.RLock()
	value, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		s.misses.Inc()
		return nil, errors.ErrKeyNotFound.GenWithStackByArgs(key)
	}
	s.hits.Inc()
	return append(make([]byte, 0, len(value)), value...), nil
}

// Delete removes the value stored under key and returns the key.
func (s *Store) Delete(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return "", errors.ErrKeyNotFound.GenWithStackByArgs(key)
	}
	delete(s.entries, key)
	s.deletes.Inc()
	return key, nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	return Stats{
		Entries: s.Len(),
		Sets:    s.sets.Load(),
		Gets:    s.gets.Load(),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Deletes: s.deletes.Load(),
	}
}
