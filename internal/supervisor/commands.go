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

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seatunnel/procd/internal/health"
	"github.com/seatunnel/procd/internal/process"
	"github.com/seatunnel/procd/internal/registry"
	"go.uber.org/zap"
)

// StartAll starts every spec of the registry in declaration order. A spec
// that fails (port conflict, spawn error) does not prevent the others.
// StartAll 按声明顺序启动注册表中的所有定义，单个失败不影响其他定义。
func (s *Supervisor) StartAll(ctx context.Context) ([]Result, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var results []Result
	err := s.do(ctx, "start-all", func() {
		for _, spec := range s.registry.Specs() {
			results = append(results, s.startSpec(spec, ActionStarted))
		}
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("start-all finished", zap.Int("specs", len(results)), zap.Int("failed", CountFailed(results)))
	return results, nil
}

// Start starts one spec by name
// Start 按名称启动单个定义
func (s *Supervisor) Start(ctx context.Context, name string) (Result, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var res Result
	var opErr error
	err := s.do(ctx, "start", func() {
		spec, ok := s.registry.Get(name)
		if !ok {
			opErr = fmt.Errorf("%w: %s", ErrProcessNotFound, name)
			return
		}
		res = s.startSpec(spec, ActionStarted)
	})
	if err != nil {
		return Result{}, err
	}
	return res, opErr
}

// Stop gracefully stops one process, escalating to a forced kill after
// timeout (0 means the configured default). Stopping a process that is not
// running is a no-op. The handle is kept with state stopped.
// Stop 优雅停止单个进程，超时后强制终止；停止未运行的进程不做任何事。
func (s *Supervisor) Stop(ctx context.Context, name string, timeout time.Duration) (Result, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stopOne(ctx, name, timeout)
}

// stopOne stops one handle; the caller holds opMu
// stopOne 停止单个句柄，调用方持有 opMu
func (s *Supervisor) stopOne(ctx context.Context, name string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = s.stopTimeout
	}

	var wait <-chan Result
	var res Result
	var opErr error
	err := s.do(ctx, "stop", func() {
		e, ok := s.entries[name]
		if !ok {
			if _, known := s.registry.Get(name); known {
				res = Result{Name: name, Action: ActionUnchanged, State: process.StatePending}
				return
			}
			opErr = fmt.Errorf("%w: %s", ErrProcessNotFound, name)
			return
		}
		wait, res = s.beginStop(e, timeout)
	})
	if err != nil {
		return Result{}, err
	}
	if opErr != nil || wait == nil {
		return res, opErr
	}

	select {
	case res = <-wait:
	case <-ctx.Done():
		return Result{Name: name, Action: ActionFailed, State: process.StateStopping}, ctx.Err()
	case <-s.done:
		return Result{}, ErrNotRunning
	}
	if res.Escalated {
		s.logger.Warn("stop escalated to kill", zap.String("name", name), zap.Duration("timeout", timeout))
	}
	return res, nil
}

// StopAll stops every handle in reverse start order, then removes the handles.
// StopAll 按启动顺序的逆序停止所有句柄，然后移除句柄。
func (s *Supervisor) StopAll(ctx context.Context, timeout time.Duration) ([]Result, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var names []string
	if err := s.do(ctx, "stop-all", func() {
		names = s.reverseOrder(nil)
	}); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(names))
	for _, name := range names {
		res, err := s.stopOne(ctx, name, timeout)
		if err != nil {
			if errors.Is(err, ErrNotRunning) {
				return results, err
			}
			res = failedResult(name, res.State, err)
		}
		results = append(results, res)
	}

	err := s.do(ctx, "stop-all", func() {
		for _, name := range names {
			if e, ok := s.entries[name]; ok && !e.handle.State().Live() {
				s.removeEntry(name)
			}
		}
	})
	s.logger.Info("stop-all finished", zap.Int("stopped", len(results)), zap.Int("failed", CountFailed(results)))
	return results, err
}

// Restart stops the process if needed and starts it again. Backoff and the
// failed_permanently state are cleared; RestartCount is incremented.
// Restart 必要时先停止进程再重新启动，清除退避和永久失败状态，重启次数加一。
func (s *Supervisor) Restart(ctx context.Context, name string, timeout time.Duration) (Result, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var opErr error
	if err := s.do(ctx, "restart", func() {
		if _, ok := s.registry.Get(name); !ok {
			opErr = fmt.Errorf("%w: %s", ErrProcessNotFound, name)
		}
	}); err != nil {
		return Result{}, err
	}
	if opErr != nil {
		return Result{}, opErr
	}

	stopped, err := s.stopOne(ctx, name, timeout)
	if err != nil {
		return stopped, err
	}

	var res Result
	err = s.do(ctx, "restart", func() {
		spec, ok := s.registry.Get(name)
		if !ok {
			opErr = fmt.Errorf("%w: %s", ErrProcessNotFound, name)
			return
		}
		if e, exists := s.entries[name]; exists {
			e.handle.IncrementRestarts()
		}
		res = s.startSpec(spec, ActionRestarted)
		res.Escalated = stopped.Escalated
	})
	if err != nil {
		return Result{}, err
	}
	return res, opErr
}

// Reload applies a new registry: removed and changed specs are stopped in
// reverse start order, then added specs are started and changed specs are
// started again unless they were stopped or never started. Specs that only
// differ in policy or group are updated in place. It returns after every
// operation completed, with one result per affected spec.
// Reload 应用新的注册表，全部操作完成后返回每个受影响定义的结果。
func (s *Supervisor) Reload(ctx context.Context, next *registry.Registry) ([]Result, error) {
	if next == nil {
		return nil, errors.New("reload requires a registry")
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var diff registry.Diff
	var toStop []string
	resume := make(map[string]bool)
	if err := s.do(ctx, "reload", func() {
		diff = registry.Compare(s.registry, next)
		leaving := make(map[string]bool, len(diff.Removed)+len(diff.Changed))
		for _, spec := range diff.Removed {
			leaving[spec.Name] = true
		}
		for _, spec := range diff.Changed {
			leaving[spec.Name] = true
			// stopped or never started specs stay at rest
			// 已停止或从未启动的定义保持静止
			if e, ok := s.entries[spec.Name]; ok && e.handle.State() != process.StateStopped {
				resume[spec.Name] = true
			}
		}
		toStop = s.reverseOrder(func(name string) bool { return leaving[name] })
	}); err != nil {
		return nil, err
	}

	s.logger.Info("reload diff computed",
		zap.Int("added", len(diff.Added)),
		zap.Int("removed", len(diff.Removed)),
		zap.Int("changed", len(diff.Changed)),
		zap.Int("unchanged", len(diff.Unchanged)))

	results := make([]Result, 0, len(diff.Added)+len(diff.Removed)+len(diff.Changed))
	stopped := make(map[string]Result, len(toStop))
	for _, name := range toStop {
		res, err := s.stopOne(ctx, name, 0)
		if err != nil {
			if errors.Is(err, ErrNotRunning) {
				return results, err
			}
			res = failedResult(name, res.State, err)
		}
		stopped[name] = res
	}

	err := s.do(ctx, "reload", func() {
		for _, spec := range diff.Removed {
			res, ok := stopped[spec.Name]
			if !ok || res.Err == nil {
				s.removeEntry(spec.Name)
				res = Result{Name: spec.Name, Action: ActionRemoved, State: process.StateStopped, Escalated: res.Escalated}
			}
			results = append(results, res)
		}
		for _, spec := range diff.Changed {
			if res, ok := stopped[spec.Name]; ok && res.Err != nil {
				continue
			}
			s.removeEntry(spec.Name)
		}

		s.registry = next
		for _, spec := range diff.Unchanged {
			if e, ok := s.entries[spec.Name]; ok {
				if err := e.handle.AdoptSpec(spec); err != nil {
					s.logger.Warn("failed to update spec in place", zap.String("name", spec.Name), zap.Error(err))
				}
			}
		}

		for _, spec := range diff.Changed {
			if res, ok := stopped[spec.Name]; ok && res.Err != nil {
				results = append(results, res)
				continue
			}
			if !resume[spec.Name] {
				results = append(results, Result{Name: spec.Name, Action: ActionUnchanged, State: process.StatePending})
				continue
			}
			res := s.startSpec(spec, ActionRestarted)
			res.Escalated = stopped[spec.Name].Escalated
			results = append(results, res)
		}
		for _, spec := range diff.Added {
			results = append(results, s.startSpec(spec, ActionStarted))
		}
	})
	if err != nil {
		return results, err
	}

	s.logger.Info("reload finished", zap.Int("affected", len(results)), zap.Int("failed", CountFailed(results)))
	return results, nil
}

// Status returns a snapshot of every spec in registry order, followed by
// handles whose spec is no longer in the registry. It never mutates anything.
// Status 按注册表顺序返回所有定义的快照，不修改任何状态。
func (s *Supervisor) Status(ctx context.Context) ([]process.Info, error) {
	var infos []process.Info
	err := s.do(ctx, "status", func() {
		seen := make(map[string]bool, len(s.entries))
		for _, spec := range s.registry.Specs() {
			seen[spec.Name] = true
			if e, ok := s.entries[spec.Name]; ok {
				infos = append(infos, s.snapshot(e))
				continue
			}
			infos = append(infos, process.Info{
				Name:    spec.Name,
				Group:   spec.Group,
				State:   process.StatePending,
				Port:    spec.Port,
				Restart: string(spec.Restart),
			})
		}
		for _, name := range s.order {
			if !seen[name] {
				infos = append(infos, s.snapshot(s.entries[name]))
			}
		}
	})
	return infos, err
}

func (s *Supervisor) snapshot(e *entry) process.Info {
	info := e.handle.Snapshot()
	if info.State.Live() {
		info.Alive = health.Check(info.PID) == health.Alive
	}
	return info
}
