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

// Package supervisor owns the set of process handles and applies restart policy.
// supervisor 包持有进程句柄集合并执行重启策略。
//
// All state (handles, port claims, registry, start order) is mutated only by the
// decision loop started with Run. Exit notifications, restart timers, stop
// timeouts and control commands all arrive on one ordered queue.
// 所有状态只由 Run 启动的决策循环修改，退出通知、重启定时器、停止超时和控制命令
// 都通过同一个有序队列到达。
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seatunnel/procd/internal/health"
	"github.com/seatunnel/procd/internal/process"
	"github.com/seatunnel/procd/internal/registry"
	"github.com/seatunnel/procd/internal/restart"
	"go.uber.org/zap"
)

// Default configuration values
// 默认配置值
const (
	DefaultStopTimeout = 10 * time.Second
	DefaultEventBuffer = 256
)

// Observer receives every handle state transition from the loop. Implementations must not block.
// Observer 从循环接收每一次句柄状态变化，实现不得阻塞。
type Observer interface {
	Observe(process.Transition)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(process.Transition)

// Observe implements Observer
func (f ObserverFunc) Observe(t process.Transition) { f(t) }

// Options configures a Supervisor
// Options 配置 Supervisor
type Options struct {
	Logger      *zap.Logger
	Restart     restart.Config
	Logs        *process.LogSink
	StopTimeout time.Duration
	ProbePorts  bool // 启动前探测端口是否被外部程序占用 / Probe for foreign listeners before start
	EventBuffer int
	Observers   []Observer
}

// entry is the loop-owned bookkeeping around one handle
// entry 是循环持有的单个句柄的附加状态
type entry struct {
	handle *process.Handle

	restartTimer *time.Timer
	restartGen   uint64

	killTimer *time.Timer
	escalated bool
	waiters   []chan Result
}

// Supervisor runs the decision loop over a set of handles
// Supervisor 在一组句柄上运行决策循环
type Supervisor struct {
	logger      *zap.Logger
	logs        *process.LogSink
	observers   []Observer
	stopTimeout time.Duration
	probePorts  bool

	events  chan Event
	done    chan struct{}
	running atomic.Bool

	// owned by the loop / 由循环持有
	registry  *registry.Registry
	entries   map[string]*entry
	order     []string
	ports     *health.Registrar
	restarter *restart.Restarter

	// opMu serializes multi-step control operations
	// opMu 串行化多步骤控制操作
	opMu sync.Mutex
}

// New creates a Supervisor for reg. Call Run before issuing commands.
// New 为 reg 创建 Supervisor，发出命令前需调用 Run。
func New(reg *registry.Registry, opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	stopTimeout := opts.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Supervisor{
		logger:      logger,
		logs:        opts.Logs,
		observers:   opts.Observers,
		stopTimeout: stopTimeout,
		probePorts:  opts.ProbePorts,
		events:      make(chan Event, buffer),
		done:        make(chan struct{}),
		registry:    reg,
		entries:     make(map[string]*entry),
		ports:       health.NewRegistrar(),
		restarter:   restart.New(opts.Restart),
	}
}

// StopTimeout returns the default per-process stop timeout
// StopTimeout 返回默认的单进程停止超时
func (s *Supervisor) StopTimeout() time.Duration {
	return s.stopTimeout
}

// Run processes events until ctx is cancelled. Supervised processes are left
// alone; call StopAll first for a graceful shutdown.
// Run 处理事件直到 ctx 取消，不会终止被监管进程，优雅关闭需先调用 StopAll。
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)

	s.logger.Info("supervisor loop started", zap.Int("specs", s.registry.Len()))
	for {
		select {
		case <-ctx.Done():
			s.shutdownTimers()
			s.logger.Info("supervisor loop stopped")
			return nil
		case ev := <-s.events:
			s.dispatch(ev)
		}
	}
}

// dispatch handles one event on the loop
// dispatch 在循环中处理一个事件
func (s *Supervisor) dispatch(ev Event) {
	switch ev.Kind {
	case EventExit:
		s.onExit(ev.Name, ev.Exit)
	case EventRestartDue:
		s.onRestartDue(ev.Name, ev.Generation)
	case EventStopTimeout:
		s.onStopTimeout(ev.Name, ev.RunID)
	case EventCommand:
		ev.apply()
		close(ev.done)
	default:
		s.logger.Warn("unknown supervisor event", zap.String("kind", string(ev.Kind)))
	}
}

// post enqueues an event from a non-loop goroutine; dropped once the loop exited
// post 从非循环协程投递事件，循环退出后丢弃
func (s *Supervisor) post(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// do runs fn on the loop and waits for it to finish
// do 在循环中执行 fn 并等待完成
func (s *Supervisor) do(ctx context.Context, command string, fn func()) error {
	ev := Event{Kind: EventCommand, Command: command, apply: fn, done: make(chan struct{})}
	select {
	case s.events <- ev:
	case <-s.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ev.done:
		return nil
	case <-s.done:
		// the loop may have applied the command right before exiting
		select {
		case <-ev.done:
			return nil
		default:
			return ErrNotRunning
		}
	}
}

// observe fans a transition out to logging and observers
// observe 将状态变化分发给日志和观察者
func (s *Supervisor) observe(t process.Transition) {
	fields := []zap.Field{
		zap.String("name", t.Name),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.Int("pid", t.PID),
	}
	switch t.To {
	case process.StateCrashed:
		fields = append(fields, zap.Int("exit_code", t.ExitCode), zap.String("signal", t.Signal), zap.String("reason", t.Reason))
		s.logger.Warn("process crashed", fields...)
	case process.StateFailedPermanently:
		s.logger.Warn("process failed permanently", append(fields, zap.String("reason", t.Reason))...)
	default:
		s.logger.Info("process state changed", fields...)
	}

	for _, o := range s.observers {
		o.Observe(t)
	}
}

// newEntry creates the handle for spec and records it in start order
// newEntry 为 spec 创建句柄并记录启动顺序
func (s *Supervisor) newEntry(spec registry.ProcessSpec) *entry {
	e := &entry{
		handle: process.NewHandle(spec, process.Options{
			Logs:     s.logs,
			Observer: s.observe,
		}),
	}
	s.entries[spec.Name] = e
	s.order = append(s.order, spec.Name)
	return e
}

// removeEntry forgets a handle that is no longer live
// removeEntry 移除不再运行的句柄
func (s *Supervisor) removeEntry(name string) {
	e, ok := s.entries[name]
	if !ok {
		return
	}
	s.cancelRestart(e)
	s.stopKillTimer(e)
	if err := e.handle.Close(); err != nil {
		s.logger.Warn("failed to close process logs", zap.String("name", name), zap.Error(err))
	}
	s.ports.ReleaseOwner(name)
	s.restarter.Reset(name)
	delete(s.entries, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// onExitFunc returns the callback handed to Handle.Start
// onExitFunc 返回传给 Handle.Start 的回调
func (s *Supervisor) onExitFunc(name string) func(process.Exit) {
	return func(exit process.Exit) {
		s.post(Event{Kind: EventExit, Name: name, RunID: exit.RunID, Exit: exit})
	}
}

// shutdownTimers stops every pending timer when the loop exits
// shutdownTimers 在循环退出时停止所有待触发的定时器
func (s *Supervisor) shutdownTimers() {
	for _, e := range s.entries {
		s.cancelRestart(e)
		s.stopKillTimer(e)
	}
}
