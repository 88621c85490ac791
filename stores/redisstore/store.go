/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package redisstore is a vcluster.OwnershipStore on redis.
//
// A category "c" with prefix "p" uses the keys
//
//	p:c:keys     set of the keys of the category
//	p:c:v:<key>  value of key
//	p:c:o:<key>  owner of key
package redisstore

import (
	"context"
	"errors"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/redis/go-redis/v9"
	"github.com/vogo/vcluster"
)

// DefaultPrefix prefixes every key written by the store.
const DefaultPrefix = "vcluster"

// Store keeps categories in redis.
type Store struct {
	client redis.UniversalClient
	prefix string
}

var (
	_ vcluster.OwnershipStore   = (*Store)(nil)
	_ vcluster.ConditionalStore = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New creates a store on client. The client stays owned by the caller.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to the redis server at addr.
func Dial(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return New(client, opts...), nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) indexKey(category string) string {
	return s.prefix + ":" + category + ":keys"
}

func (s *Store) valueKey(category, key string) string {
	return s.prefix + ":" + category + ":v:" + key
}

func (s *Store) ownerKey(category, key string) string {
	return s.prefix + ":" + category + ":o:" + key
}

func (s *Store) Get(ctx context.Context, category, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.valueKey(category, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, vcluster.ErrNotFound
	}
	return v, err
}

func (s *Store) Set(ctx context.Context, category, key string, value []byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.valueKey(category, key), value, 0)
		pipe.SAdd(ctx, s.indexKey(category), key)
		return nil
	})
	return err
}

func (s *Store) SetIfAbsent(ctx context.Context, category, key string, value []byte) (bool, error) {
	stored, err := s.client.SetNX(ctx, s.valueKey(category, key), value, 0).Result()
	if err != nil || !stored {
		return false, err
	}
	return true, s.client.SAdd(ctx, s.indexKey(category), key).Err()
}

func (s *Store) Remove(ctx context.Context, category, key string) ([]byte, error) {
	var old *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		old = pipe.GetDel(ctx, s.valueKey(category, key))
		pipe.SRem(ctx, s.indexKey(category), key)
		pipe.Del(ctx, s.ownerKey(category, key))
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, vcluster.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return old.Bytes()
}

func (s *Store) Keys(ctx context.Context, category string) (mapset.Set[string], error) {
	members, err := s.client.SMembers(ctx, s.indexKey(category)).Result()
	if err != nil {
		return nil, err
	}
	return mapset.NewThreadUnsafeSet(members...), nil
}

// GetWithOwnership claims key in a WATCH transaction over its value and owner.
func (s *Store) GetWithOwnership(ctx context.Context, category, key, owner string) ([]byte, string, error) {
	valueKey, ownerKey := s.valueKey(category, key), s.ownerKey(category, key)

	var (
		value    []byte
		previous string
	)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		holder, err := tx.Get(ctx, ownerKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		previous = holder
		if holder != "" && holder != owner {
			return vcluster.ErrOwnershipConflict
		}

		value, err = tx.Get(ctx, valueKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return vcluster.ErrNotFound
		}
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, ownerKey, owner, 0)
			return nil
		})
		return err
	}, valueKey, ownerKey)

	switch {
	case err == nil:
		return value, previous, nil
	case errors.Is(err, redis.TxFailedErr):
		// a concurrent claim or write touched the key
		return nil, "", vcluster.ErrOwnershipConflict
	case errors.Is(err, vcluster.ErrOwnershipConflict):
		return nil, previous, err
	default:
		return nil, "", err
	}
}

func (s *Store) ReleaseOwnership(ctx context.Context, category, key, owner string) error {
	ownerKey := s.ownerKey(category, key)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		holder, err := tx.Get(ctx, ownerKey).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil || holder != owner {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, ownerKey)
			return nil
		})
		return err
	}, ownerKey)
}
