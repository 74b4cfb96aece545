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

package journal

import (
	"context"
	"time"

	"github.com/seatunnel/procd/internal/process"
	"github.com/seatunnel/procd/internal/reporter"
	"go.uber.org/zap"
)

// Recorder observes supervisor transitions and writes them to the repository
// in batches, off the supervisor loop.
// Recorder 观察监管器的状态变化，并在循环之外批量写入仓库。
type Recorder struct {
	repo     *Repository
	reporter *reporter.Reporter[*Record]
}

// RecorderConfig configures the write buffer
// RecorderConfig 配置写入缓冲
type RecorderConfig struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

// NewRecorder creates a Recorder over repo. Call Start before use.
// NewRecorder 创建 Recorder，使用前需调用 Start。
func NewRecorder(repo *Repository, cfg RecorderConfig, logger *zap.Logger) *Recorder {
	rec := &Recorder{repo: repo}
	rec.reporter = reporter.New("journal", rec.write, reporter.Config{
		CacheSize:     cfg.QueueSize,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
	}, logger)
	return rec
}

// Observe queues a transition; it never blocks
// Observe 将状态变化加入队列，不会阻塞
func (r *Recorder) Observe(t process.Transition) {
	r.reporter.Report(FromTransition(t))
}

func (r *Recorder) write(ctx context.Context, batch []*Record) error {
	return r.repo.CreateBatch(ctx, batch)
}

// Start starts the background writer
func (r *Recorder) Start(ctx context.Context) {
	r.reporter.Start(ctx)
}

// Close flushes pending records and stops the writer
// Close 刷新剩余记录并停止写入
func (r *Recorder) Close(ctx context.Context) error {
	return r.reporter.Stop(ctx)
}

// Flush writes pending records now
func (r *Recorder) Flush(ctx context.Context) error {
	return r.reporter.Flush(ctx)
}

// Pending returns the number of records not yet written
func (r *Recorder) Pending() int {
	return r.reporter.Pending()
}

// Repository returns the underlying repository
func (r *Recorder) Repository() *Repository {
	return r.repo
}
