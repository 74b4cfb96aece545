/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/seatunnel/procd/internal/config"
)

// DefaultStateKey is the hash holding the latest message per process
const DefaultStateKey = "procd:state"

// NewRedisClient creates a traced Redis client and checks the connection
// NewRedisClient 创建带追踪的 Redis 客户端并检查连接
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConn,
		DialTimeout:  time.Duration(cfg.DialTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	})

	// 注入 OpenTelemetry 追踪
	if err := redisotel.InstrumentTracing(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("instrument redis tracing: %w", err)
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr(), err)
	}
	return client, nil
}

// RedisSink publishes each message on a channel and keeps the latest message
// per process in a hash
// RedisSink 在频道上发布每条消息，并在哈希中保存每个进程的最新消息
type RedisSink struct {
	client   redis.UniversalClient
	channel  string
	stateKey string
}

// NewRedisSink creates a RedisSink
func NewRedisSink(client redis.UniversalClient, channel, stateKey string) *RedisSink {
	if stateKey == "" {
		stateKey = DefaultStateKey
	}
	return &RedisSink{client: client, channel: channel, stateKey: stateKey}
}

// Deliver implements Sink with one pipelined round trip per batch
// Deliver 每个批次使用一次流水线请求
func (r *RedisSink) Deliver(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range msgs {
			payload, err := m.Payload()
			if err != nil {
				return err
			}
			pipe.Publish(ctx, r.channel, payload)
			pipe.HSet(ctx, r.stateKey, m.Name, payload)
		}
		return nil
	})
	return err
}

// Latest returns the latest message stored for name
// Latest 返回 name 对应的最新消息
func (r *RedisSink) Latest(ctx context.Context, name string) (string, error) {
	return r.client.HGet(ctx, r.stateKey, name).Result()
}
