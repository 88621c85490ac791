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

package node

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vogo/vcluster"
	"github.com/vogo/vcluster/brokers/inmemory"
	"github.com/vogo/vcluster/brokers/natsbroker"
	"github.com/vogo/vcluster/brokers/redisbroker"
	"github.com/vogo/vcluster/config"
	"github.com/vogo/vcluster/stores/boltstore"
	"github.com/vogo/vcluster/stores/memory"
	"github.com/vogo/vcluster/stores/olricstore"
	"github.com/vogo/vcluster/stores/redisstore"
	"go.uber.org/multierr"
)

// openStore connects the configured store. The returned func closes it.
func openStore(ctx context.Context, cfg config.StoreConfig) (vcluster.OwnershipStore, func() error, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		return memory.New(), func() error { return nil }, nil

	case config.StoreRedis:
		s, err := redisstore.Dial(ctx, cfg.Addr, redisstore.WithPrefix(cfg.Prefix))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.StoreBolt:
		s, err := boltstore.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.StoreOlric:
		s, err := olricstore.Dial(cfg.Addrs, olricstore.WithPrefix(cfg.Prefix))
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return s.Close(context.Background()) }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// openBroker connects the configured notification broker.
func openBroker(ctx context.Context, cfg config.BrokerConfig, name string) (vcluster.Broker, error) {
	switch cfg.Backend {
	case config.BrokerMemory:
		return inmemory.New(), nil

	case config.BrokerRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
		b, err := redisbroker.New(ctx, client, redisbroker.WithChannel(cfg.Channel))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &redisClientBroker{Broker: b, client: client}, nil

	case config.BrokerNATS:
		return natsbroker.Connect(cfg.Addr, name, natsbroker.WithSubject(cfg.Channel))

	default:
		return nil, fmt.Errorf("unknown broker backend %q", cfg.Backend)
	}
}

// redisClientBroker closes the redis client it was created with.
type redisClientBroker struct {
	*redisbroker.Broker
	client *redis.Client
}

func (b *redisClientBroker) Close() error {
	return multierr.Combine(b.Broker.Close(), b.client.Close())
}
