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

	"go.uber.org/zap"
)

// DefaultPruneInterval is how often retention runs when no interval is set
const DefaultPruneInterval = time.Hour

// StartRetention deletes records older than retention once immediately and
// then every interval, until ctx is done. The returned channel is closed when
// the loop has exited.
// StartRetention 立即并按周期删除超过保留时长的记录，直到 ctx 结束。
func (r *Repository) StartRetention(ctx context.Context, retention, interval time.Duration, logger *zap.Logger) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			r.pruneOlderThan(ctx, retention, logger)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return done
}

func (r *Repository) pruneOlderThan(ctx context.Context, retention time.Duration, logger *zap.Logger) {
	removed, err := r.Prune(ctx, time.Now().Add(-retention))
	switch {
	case err != nil && ctx.Err() == nil:
		logger.Warn("failed to prune journal", zap.Error(err))
	case removed > 0:
		logger.Info("journal pruned", zap.Int64("removed", removed), zap.Duration("retention", retention))
	}
}
