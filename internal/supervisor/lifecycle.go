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
	"errors"
	"fmt"
	"time"

	"github.com/seatunnel/procd/internal/health"
	"github.com/seatunnel/procd/internal/process"
	"github.com/seatunnel/procd/internal/registry"
	"github.com/seatunnel/procd/internal/restart"
	"go.uber.org/zap"
)

// Everything in this file runs on the decision loop.
// 本文件中的所有函数都在决策循环中执行。

// startSpec performs an explicit start. Spawn failures are reported, not retried.
// startSpec 执行显式启动，启动失败只上报不重试。
func (s *Supervisor) startSpec(spec registry.ProcessSpec, action Action) Result {
	e, exists := s.entries[spec.Name]
	if exists {
		switch state := e.handle.State(); {
		case state == process.StateRunning:
			return Result{Name: spec.Name, Action: ActionUnchanged, State: state, PID: e.handle.PID()}
		case state.Live() || state == process.StateStarting:
			return failedResult(spec.Name, state, fmt.Errorf("%s is %s", spec.Name, state))
		}
	}

	if err := s.claimPort(spec); err != nil {
		state := process.StatePending
		if exists {
			state = e.handle.State()
		}
		s.logger.Warn("port conflict", zap.String("name", spec.Name), zap.Int("port", spec.Port), zap.Error(err))
		return failedResult(spec.Name, state, err)
	}

	if !exists {
		e = s.newEntry(spec)
	}
	s.cancelRestart(e)
	s.restarter.Reset(spec.Name)

	if err := e.handle.Start(s.onExitFunc(spec.Name)); err != nil {
		s.ports.ReleaseOwner(spec.Name)
		return failedResult(spec.Name, e.handle.State(), err)
	}
	return Result{Name: spec.Name, Action: action, State: e.handle.State(), PID: e.handle.PID()}
}

// claimPort claims the spec port in the registrar and, when enabled, checks
// that no foreign program already listens on it
// claimPort 在登记器中占用端口，启用时还会检查是否被外部程序监听
func (s *Supervisor) claimPort(spec registry.ProcessSpec) error {
	if spec.Port == 0 {
		return nil
	}
	_, held := s.ports.Owner(spec.Port)
	if err := s.ports.Claim(spec.Port, spec.Name); err != nil {
		return err
	}
	if s.probePorts && !held && !health.Available(spec.Port) {
		s.ports.Release(spec.Port)
		return &health.PortConflictError{Port: spec.Port, Claimant: spec.Name}
	}
	return nil
}

// onExit applies an exit notification and evaluates the restart policy
// onExit 处理退出通知并评估重启策略
func (s *Supervisor) onExit(name string, exit process.Exit) {
	e, ok := s.entries[name]
	if !ok {
		return
	}
	h := e.handle
	wasStopping := h.State() == process.StateStopping
	ranFor := h.RanFor(exit.At)
	if !h.OnExit(exit) {
		return
	}

	if wasStopping {
		s.stopKillTimer(e)
		s.ports.ReleaseOwner(name)
		s.finishStop(e, ActionStopped)
		return
	}

	s.evaluate(e, exit.Failed(), ranFor)
}

// evaluate decides what follows an unexpected exit or a failed restart spawn
// evaluate 决定意外退出或重启失败之后的处理
func (s *Supervisor) evaluate(e *entry, failed bool, ranFor time.Duration) {
	spec := e.handle.Spec()
	decision := s.restarter.Evaluate(spec.Name, spec.Restart, failed, ranFor)

	switch decision.Verdict {
	case restart.VerdictRestart:
		e.restartGen++
		gen := e.restartGen
		name := spec.Name
		e.restartTimer = time.AfterFunc(decision.Delay, func() {
			s.post(Event{Kind: EventRestartDue, Name: name, Generation: gen})
		})
		s.logger.Info("restart scheduled",
			zap.String("name", name),
			zap.Duration("delay", decision.Delay),
			zap.Int("attempt", decision.Attempt),
			zap.Int("restarts_in_window", decision.InWindow))

	case restart.VerdictGiveUp:
		cfg := s.restarter.Config()
		reason := fmt.Sprintf("restarted %d times within %v", decision.InWindow, cfg.Window)
		e.handle.MarkFailedPermanently(reason)
		s.ports.ReleaseOwner(spec.Name)

	default:
		s.ports.ReleaseOwner(spec.Name)
	}
}

// onRestartDue performs a policy restart whose backoff elapsed
// onRestartDue 执行退避结束后的策略重启
func (s *Supervisor) onRestartDue(name string, gen uint64) {
	e, ok := s.entries[name]
	if !ok || gen != e.restartGen {
		return
	}
	e.restartTimer = nil

	h := e.handle
	if state := h.State(); state != process.StateCrashed && state != process.StateStopped {
		return
	}

	h.IncrementRestarts()
	if err := h.Start(s.onExitFunc(name)); err != nil {
		s.logger.Warn("restart failed", zap.String("name", name), zap.Error(err))
		// a failed spawn counts as a crash with exit code -1
		s.evaluate(e, true, 0)
	}
}

// onStopTimeout escalates to a forced kill
// onStopTimeout 升级为强制终止
func (s *Supervisor) onStopTimeout(name, runID string) {
	e, ok := s.entries[name]
	if !ok {
		return
	}
	h := e.handle
	if h.State() != process.StateStopping || h.RunID() != runID {
		return
	}
	e.killTimer = nil
	e.escalated = true
	s.logger.Warn("process ignored termination signal, killing",
		zap.String("name", name), zap.Int("pid", h.PID()), zap.Error(process.ErrStopTimeout))
	if err := h.Kill(); err != nil && !errors.Is(err, process.ErrNotRunning) {
		s.logger.Error("failed to kill process", zap.String("name", name), zap.Error(err))
	}
}

// beginStop starts stopping e and returns a channel receiving the result,
// or nil with an immediate result when nothing is running
// beginStop 开始停止 e，返回接收结果的通道；无运行进程时返回 nil 和即时结果
func (s *Supervisor) beginStop(e *entry, timeout time.Duration) (<-chan Result, Result) {
	h := e.handle
	name := h.Name()
	s.cancelRestart(e)

	switch h.State() {
	case process.StateRunning:
		e.escalated = false
		h.BeginStop()
		runID := h.RunID()
		e.killTimer = time.AfterFunc(timeout, func() {
			s.post(Event{Kind: EventStopTimeout, Name: name, RunID: runID})
		})
		return s.addWaiter(e), Result{}

	case process.StateStopping:
		return s.addWaiter(e), Result{}

	default:
		action := ActionUnchanged
		if h.Settle("stop requested") {
			action = ActionStopped
		}
		s.ports.ReleaseOwner(name)
		return nil, Result{Name: name, Action: action, State: h.State()}
	}
}

func (s *Supervisor) addWaiter(e *entry) <-chan Result {
	ch := make(chan Result, 1)
	e.waiters = append(e.waiters, ch)
	return ch
}

// finishStop answers every stop waiter
// finishStop 通知所有等待停止的调用者
func (s *Supervisor) finishStop(e *entry, action Action) {
	res := Result{Name: e.handle.Name(), Action: action, State: e.handle.State(), Escalated: e.escalated}
	for _, ch := range e.waiters {
		ch <- res
	}
	e.waiters = nil
	e.escalated = false
}

func (s *Supervisor) cancelRestart(e *entry) {
	e.restartGen++
	if e.restartTimer != nil {
		e.restartTimer.Stop()
		e.restartTimer = nil
	}
}

func (s *Supervisor) stopKillTimer(e *entry) {
	if e.killTimer != nil {
		e.killTimer.Stop()
		e.killTimer = nil
	}
}

// reverseOrder returns names in reverse start order
// reverseOrder 按启动顺序的逆序返回名称
func (s *Supervisor) reverseOrder(filter func(string) bool) []string {
	out := make([]string, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if filter == nil || filter(s.order[i]) {
			out = append(out, s.order[i])
		}
	}
	return out
}
