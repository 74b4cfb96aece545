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

// Package reporter buffers items in a bounded cache and hands them to a flush
// function in batches, periodically or once a batch fills up. Report never
// blocks: when the cache is full the oldest item is dropped.
// reporter 包将条目缓存在有界队列中，并按批次定期或在批次满时交给刷新函数。
package reporter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Default configuration values
// 默认配置值
const (
	DefaultCacheSize     = 1000
	DefaultBatchSize     = 100
	DefaultFlushInterval = 10 * time.Second
)

// FlushFunc persists or forwards one batch
// FlushFunc 持久化或转发一个批次
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// Config configures a Reporter
// Config 配置 Reporter
type Config struct {
	CacheSize     int
	BatchSize     int
	FlushInterval time.Duration
}

// Reporter handles item caching and batch flushing
// Reporter 处理条目缓存和批量刷新
type Reporter[T any] struct {
	name   string
	flush  FlushFunc[T]
	logger *zap.Logger

	cacheSize     int
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	cache   []T
	dropped atomic.Uint64

	// flushMu serializes flushes so batches keep their order
	flushMu sync.Mutex

	kick     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Reporter; zero config fields take the defaults
// New 创建 Reporter，零值配置使用默认值
func New[T any](name string, flush FlushFunc[T], cfg Config, logger *zap.Logger) *Reporter[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > cfg.CacheSize {
		cfg.BatchSize = cfg.CacheSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	return &Reporter[T]{
		name:          name,
		flush:         flush,
		logger:        logger.With(zap.String("reporter", name)),
		cacheSize:     cfg.CacheSize,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		cache:         make([]T, 0, cfg.BatchSize),
		kick:          make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
}

// Start starts the periodic flush goroutine
// Start 启动定期刷新 goroutine
func (r *Reporter[T]) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.flushLoop(ctx)
}

// Stop stops the flush loop and flushes what is left
// Stop 停止刷新循环并刷新剩余条目
func (r *Reporter[T]) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
	return r.Flush(ctx)
}

func (r *Reporter[T]) flushLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.kick:
		}
		if err := r.Flush(ctx); err != nil {
			r.logger.Warn("flush failed, keeping items for retry", zap.Int("pending", r.Pending()), zap.Error(err))
		}
	}
}

// Report adds an item to the cache
// Report 将条目加入缓存
func (r *Reporter[T]) Report(item T) {
	r.mu.Lock()
	if len(r.cache) >= r.cacheSize {
		// Remove oldest item if cache is full / 缓存已满时移除最旧的条目
		r.cache = r.cache[1:]
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("cache full, dropping oldest items", zap.Int("cache_size", r.cacheSize))
		}
	}
	r.cache = append(r.cache, item)
	full := len(r.cache) >= r.batchSize
	r.mu.Unlock()

	if full {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// Flush hands every cached item to the flush function, batch by batch.
// A failed batch is put back in front of the cache.
// Flush 按批次刷新所有缓存条目，失败的批次放回缓存头部。
func (r *Reporter[T]) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	for {
		r.mu.Lock()
		n := len(r.cache)
		if n == 0 {
			r.mu.Unlock()
			return nil
		}
		if n > r.batchSize {
			n = r.batchSize
		}
		batch := make([]T, n)
		copy(batch, r.cache[:n])
		r.cache = r.cache[n:]
		r.mu.Unlock()

		if err := r.flush(ctx, batch); err != nil {
			r.requeue(batch)
			return err
		}
		r.logger.Debug("batch flushed", zap.Int("items", n))
	}
}

// requeue puts a failed batch back, keeping at most cacheSize newest items
func (r *Reporter[T]) requeue(batch []T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	merged := make([]T, 0, len(batch)+len(r.cache))
	merged = append(merged, batch...)
	merged = append(merged, r.cache...)
	if over := len(merged) - r.cacheSize; over > 0 {
		merged = merged[over:]
		r.dropped.Add(uint64(over))
	}
	r.cache = merged
}

// Pending returns the number of cached items
// Pending 返回缓存的条目数量
func (r *Reporter[T]) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// Dropped returns how many items were discarded because the cache was full
// Dropped 返回因缓存已满而丢弃的条目数量
func (r *Reporter[T]) Dropped() uint64 {
	return r.dropped.Load()
}
