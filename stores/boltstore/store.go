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

// Package boltstore is a durable, single-process vcluster.OwnershipStore on bbolt.
//
// Every category gets a nested bucket under the values bucket and one under
// the owners bucket.
package boltstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/vogo/vcluster"
	bbolt "go.etcd.io/bbolt"
	"go.uber.org/atomic"
)

const fileMode os.FileMode = 0o600

var (
	valuesBucket = []byte("values")
	ownersBucket = []byte("owners")

	defaultOptions = &bbolt.Options{Timeout: 5 * time.Second, NoGrowSync: true}

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("boltstore: store is closed")
)

// Store keeps categories in a bbolt file.
type Store struct {
	db     *bbolt.DB
	closed atomic.Bool
}

var (
	_ vcluster.OwnershipStore   = (*Store)(nil)
	_ vcluster.ConditionalStore = (*Store)(nil)
)

// Open opens or creates the store file at path.
func Open(path string) (*Store, error) {
	opts := *defaultOptions
	db, err := bbolt.Open(path, fileMode, &opts)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, e := tx.CreateBucketIfNotExists(valuesBucket); e != nil {
			return e
		}
		_, e := tx.CreateBucketIfNotExists(ownersBucket)
		return e
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore: init buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Path returns the file of the store.
func (s *Store) Path() string {
	return s.db.Path()
}

// Close closes the bbolt file.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, category, key string) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, ok := lookup(tx.Bucket(valuesBucket).Bucket([]byte(category)), key)
		if !ok {
			return vcluster.ErrNotFound
		}
		value = bytes.Clone(v)
		return nil
	})
	return value, err
}

func (s *Store) Set(ctx context.Context, category, key string, value []byte) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(valuesBucket).CreateBucketIfNotExists([]byte(category))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), nonNil(value))
	})
}

func (s *Store) SetIfAbsent(ctx context.Context, category, key string, value []byte) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}

	stored := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(valuesBucket).CreateBucketIfNotExists([]byte(category))
		if err != nil {
			return err
		}
		if _, ok := lookup(b, key); ok {
			return nil
		}
		stored = true
		return b.Put([]byte(key), nonNil(value))
	})
	return stored, err
}

func (s *Store) Remove(ctx context.Context, category, key string) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var old []byte
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(valuesBucket).Bucket([]byte(category))
		v, ok := lookup(b, key)
		if !ok {
			return vcluster.ErrNotFound
		}
		old = bytes.Clone(v)
		if err := b.Delete([]byte(key)); err != nil {
			return err
		}
		if owners := tx.Bucket(ownersBucket).Bucket([]byte(category)); owners != nil {
			return owners.Delete([]byte(key))
		}
		return nil
	})
	return old, err
}

func (s *Store) Keys(ctx context.Context, category string) (mapset.Set[string], error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	keys := mapset.NewThreadUnsafeSet[string]()
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(valuesBucket).Bucket([]byte(category))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys.Add(string(k))
			return nil
		})
	})
	return keys, err
}

// GetWithOwnership claims key for owner. bbolt serializes write
// transactions, which makes the claim atomic.
func (s *Store) GetWithOwnership(ctx context.Context, category, key, owner string) ([]byte, string, error) {
	if err := s.check(ctx); err != nil {
		return nil, "", err
	}

	var (
		value    []byte
		previous string
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		v, ok := lookup(tx.Bucket(valuesBucket).Bucket([]byte(category)), key)
		if !ok {
			return vcluster.ErrNotFound
		}

		owners, err := tx.Bucket(ownersBucket).CreateBucketIfNotExists([]byte(category))
		if err != nil {
			return err
		}
		previous = string(owners.Get([]byte(key)))
		if previous != "" && previous != owner {
			return vcluster.ErrOwnershipConflict
		}

		value = bytes.Clone(v)
		return owners.Put([]byte(key), []byte(owner))
	})
	if err != nil {
		if errors.Is(err, vcluster.ErrOwnershipConflict) {
			return nil, previous, err
		}
		return nil, "", err
	}
	return value, previous, nil
}

func (s *Store) ReleaseOwnership(ctx context.Context, category, key, owner string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		owners := tx.Bucket(ownersBucket).Bucket([]byte(category))
		if owners == nil || string(owners.Get([]byte(key))) != owner {
			return nil
		}
		return owners.Delete([]byte(key))
	})
}

// Owner returns the current owner of key.
func (s *Store) Owner(category, key string) (owner string, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		if owners := tx.Bucket(ownersBucket).Bucket([]byte(category)); owners != nil {
			owner = string(owners.Get([]byte(key)))
		}
		return nil
	})
	return owner, err
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// lookup finds key in b. Empty values are told apart from missing keys by
// the cursor position.
func lookup(b *bbolt.Bucket, key string) ([]byte, bool) {
	if b == nil {
		return nil, false
	}
	k, v := b.Cursor().Seek([]byte(key))
	if k == nil || !bytes.Equal(k, []byte(key)) {
		return nil, false
	}
	return v, true
}

func nonNil(value []byte) []byte {
	if value == nil {
		return []byte{}
	}
	return value
}
