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

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/seatunnel/procd/internal/registry"
)

// DefaultWaitDelay bounds how long Wait keeps copying output after the process exited
// DefaultWaitDelay 限制进程退出后 Wait 继续复制输出的时长
const DefaultWaitDelay = 2 * time.Second

// Observer receives every state transition. It is called synchronously and must not block.
// Observer 接收每一次状态变化，同步调用，不得阻塞。
type Observer func(Transition)

// Options configures a Handle
// Options 配置 Handle
type Options struct {
	Logs     *LogSink
	Observer Observer
	Now      func() time.Time
}

// Handle is the runtime representation of one spawned (or not yet spawned) process.
// All mutating methods are called by the single owner (the supervisor loop).
// Handle 是一个已启动（或尚未启动）进程的运行时表示，只由唯一所有者调用变更方法。
type Handle struct {
	spec     registry.ProcessSpec
	logs     *LogSink
	observer Observer
	now      func() time.Time

	state        State
	pid          int
	runID        string
	startedAt    time.Time
	restartCount int
	lastExitCode int
	lastSignal   string
	lastError    string

	stdout io.WriteCloser
	stderr io.WriteCloser

	// mu protects the fields above for snapshot readers
	// mu 为快照读取者保护以上字段
	mu sync.RWMutex
}

// NewHandle creates a pending handle for spec
// NewHandle 为 spec 创建处于 pending 状态的句柄
func NewHandle(spec registry.ProcessSpec, opts Options) *Handle {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Handle{
		spec:     spec.Clone(),
		logs:     opts.Logs,
		observer: opts.Observer,
		now:      now,
		state:    StatePending,
	}
}

// Name returns the spec name
func (h *Handle) Name() string { return h.spec.Name }

// Spec returns a copy of the spec
// Spec 返回定义的副本
func (h *Handle) Spec() registry.ProcessSpec {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.spec.Clone()
}

// AdoptSpec replaces the spec in place. Only fields that do not affect the
// running process (policy, group) may differ.
// AdoptSpec 原地替换定义，只允许不影响运行进程的字段（策略、分组）不同。
func (h *Handle) AdoptSpec(spec registry.ProcessSpec) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if spec.Name != h.spec.Name || !spec.RuntimeEqual(h.spec) {
		return fmt.Errorf("spec %q differs at runtime and cannot be adopted in place", spec.Name)
	}
	h.spec = spec.Clone()
	return nil
}

// State returns the current state
// State 返回当前状态
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// PID returns the OS process id, 0 when no process exists
// PID 返回操作系统进程号，不存在时为 0
func (h *Handle) PID() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pid
}

// RunID returns the id of the current or last run
// RunID 返回当前或上一次运行的标识
func (h *Handle) RunID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.runID
}

// RanFor returns how long the current or last run lasted at t
// RanFor 返回当前或上一次运行到 t 时刻的时长
func (h *Handle) RanFor(t time.Time) time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.startedAt.IsZero() {
		return 0
	}
	return t.Sub(h.startedAt)
}

// IncrementRestarts counts one restart of this handle
// IncrementRestarts 将重启次数加一
func (h *Handle) IncrementRestarts() {
	h.mu.Lock()
	h.restartCount++
	h.mu.Unlock()
}

// Start spawns the OS process. onExit is invoked exactly once from the wait
// goroutine when the spawned process ends. On failure the handle is crashed
// with LastExitCode -1 and a *SpawnError is returned.
// Start 启动操作系统进程，进程结束时等待协程恰好调用一次 onExit。
func (h *Handle) Start(onExit func(Exit)) error {
	h.mu.Lock()
	if !h.state.Startable() {
		state := h.state
		h.mu.Unlock()
		if state.Live() {
			return ErrAlreadyRunning
		}
		return fmt.Errorf("cannot start %s from state %s", h.spec.Name, state)
	}
	runID := uuid.NewString()
	h.runID = runID
	t := h.transitionLocked(StateStarting, "")
	h.mu.Unlock()
	h.emit(t)

	cmd, err := h.buildCommand()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		return h.spawnFailed(err)
	}

	h.mu.Lock()
	h.pid = cmd.Process.Pid
	h.startedAt = h.now()
	h.lastError = ""
	t = h.transitionLocked(StateRunning, "")
	h.mu.Unlock()
	h.emit(t)

	go func() {
		waitErr := cmd.Wait()
		onExit(exitFromWait(runID, cmd.ProcessState, waitErr, time.Now()))
	}()
	return nil
}

// buildCommand prepares the exec.Cmd for the current spec
// buildCommand 根据当前定义准备 exec.Cmd
func (h *Handle) buildCommand() (*exec.Cmd, error) {
	spec := h.spec
	if len(spec.Command) == 0 {
		return nil, &SpawnError{Name: spec.Name, Reason: SpawnNotFound, Err: errors.New("empty command")}
	}
	if spec.WorkingDir != "" {
		info, err := os.Stat(spec.WorkingDir)
		if err != nil {
			return nil, &SpawnError{Name: spec.Name, Reason: SpawnCwdMissing, Err: err}
		}
		if !info.IsDir() {
			return nil, &SpawnError{Name: spec.Name, Reason: SpawnCwdMissing, Err: fmt.Errorf("%s is not a directory", spec.WorkingDir)}
		}
	}

	if h.logs != nil && h.stdout == nil {
		stdout, stderr, err := h.logs.Open(spec.Name)
		if err != nil {
			return nil, &SpawnError{Name: spec.Name, Reason: SpawnOther, Err: err}
		}
		h.stdout, h.stderr = stdout, stderr
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkingDir
	cmd.Env = spec.Environ(os.Environ())
	if h.stdout != nil {
		cmd.Stdout = h.stdout
		cmd.Stderr = h.stderr
	}
	cmd.WaitDelay = DefaultWaitDelay
	setProcGroupAttr(cmd)
	return cmd, nil
}

// spawnFailed moves the handle to crashed and wraps err into a *SpawnError
// spawnFailed 将句柄置为 crashed 并把 err 包装为 *SpawnError
func (h *Handle) spawnFailed(err error) error {
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		spawnErr = &SpawnError{Name: h.spec.Name, Reason: classifySpawnError(err), Err: err}
	}

	h.mu.Lock()
	h.pid = 0
	h.lastExitCode = -1
	h.lastSignal = ""
	h.lastError = spawnErr.Error()
	t := h.transitionLocked(StateCrashed, spawnErr.Error())
	h.mu.Unlock()
	h.emit(t)
	return spawnErr
}

// BeginStop sends the graceful termination signal. It is a no-op returning
// false unless the handle is running.
// BeginStop 发送优雅终止信号，句柄未运行时不做任何事并返回 false。
func (h *Handle) BeginStop() bool {
	h.mu.Lock()
	if h.state != StateRunning {
		h.mu.Unlock()
		return false
	}
	pid := h.pid
	t := h.transitionLocked(StateStopping, "stop requested")
	h.mu.Unlock()
	h.emit(t)

	if err := terminateGroup(pid); err != nil {
		h.mu.Lock()
		h.lastError = fmt.Sprintf("failed to send termination signal: %v", err)
		h.mu.Unlock()
	}
	return true
}

// Kill forcefully terminates the process group
// Kill 强制终止进程组
func (h *Handle) Kill() error {
	h.mu.RLock()
	pid, live := h.pid, h.state.Live()
	h.mu.RUnlock()
	if !live || pid == 0 {
		return ErrNotRunning
	}
	return killGroup(pid)
}

// OnExit applies an exit reported by the wait goroutine. Exits of a previous
// run are ignored and reported as false.
// OnExit 处理等待协程上报的退出，过期运行的退出被忽略并返回 false。
func (h *Handle) OnExit(e Exit) bool {
	h.mu.Lock()
	if e.RunID != h.runID || !h.state.Live() {
		h.mu.Unlock()
		return false
	}

	next := StateStopped
	if h.state != StateStopping && e.Failed() {
		next = StateCrashed
	}
	h.lastExitCode = e.Code
	h.lastSignal = e.Signal
	reason := ""
	if e.Err != nil {
		h.lastError = e.Err.Error()
		reason = e.Err.Error()
	}
	t := h.transitionLocked(next, reason)
	h.pid = 0
	h.mu.Unlock()
	h.emit(t)
	return true
}

// MarkFailedPermanently moves a crashed or stopped handle to the terminal state
// MarkFailedPermanently 将 crashed 或 stopped 的句柄置为终止状态
func (h *Handle) MarkFailedPermanently(reason string) {
	h.mu.Lock()
	if h.state.Live() || h.state == StateFailedPermanently {
		h.mu.Unlock()
		return
	}
	h.lastError = reason
	t := h.transitionLocked(StateFailedPermanently, reason)
	h.mu.Unlock()
	h.emit(t)
}

// Settle moves a crashed handle to stopped when no restart will follow.
// Settle 在不会再重启时将 crashed 句柄置为 stopped。
func (h *Handle) Settle(reason string) bool {
	h.mu.Lock()
	if h.state != StateCrashed {
		h.mu.Unlock()
		return false
	}
	t := h.transitionLocked(StateStopped, reason)
	h.mu.Unlock()
	h.emit(t)
	return true
}

// Snapshot returns an immutable view of the handle
// Snapshot 返回句柄的不可变视图
func (h *Handle) Snapshot() Info {
	h.mu.RLock()
	defer h.mu.RUnlock()

	info := Info{
		Name:         h.spec.Name,
		Group:        h.spec.Group,
		State:        h.state,
		PID:          h.pid,
		Port:         h.spec.Port,
		Restart:      string(h.spec.Restart),
		RestartCount: h.restartCount,
		LastExitCode: h.lastExitCode,
		LastSignal:   h.lastSignal,
		LastError:    h.lastError,
		RunID:        h.runID,
		StartedAt:    h.startedAt,
	}
	if h.state.Live() && !h.startedAt.IsZero() {
		info.Uptime = h.now().Sub(h.startedAt)
	}
	return info
}

// Close releases the log writers. The handle must not be live.
// Close 释放日志写入器，句柄必须已不再运行。
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	if h.stdout != nil {
		errs = append(errs, h.stdout.Close())
	}
	if h.stderr != nil {
		errs = append(errs, h.stderr.Close())
	}
	h.stdout, h.stderr = nil, nil
	return errors.Join(errs...)
}

// transitionLocked changes state and builds the record; emit it after unlocking
// transitionLocked 修改状态并构建记录，解锁后再发出
func (h *Handle) transitionLocked(to State, reason string) Transition {
	t := Transition{
		Name:     h.spec.Name,
		Group:    h.spec.Group,
		RunID:    h.runID,
		From:     h.state,
		To:       to,
		PID:      h.pid,
		ExitCode: h.lastExitCode,
		Signal:   h.lastSignal,
		Reason:   reason,
		At:       h.now(),
	}
	h.state = to
	return t
}

func (h *Handle) emit(t Transition) {
	if h.observer != nil {
		h.observer(t)
	}
}

// exitFromWait converts the result of cmd.Wait into an Exit
// exitFromWait 将 cmd.Wait 的结果转换为 Exit
func exitFromWait(runID string, state *os.ProcessState, err error, at time.Time) Exit {
	e := Exit{RunID: runID, At: at}
	if state != nil {
		e.Code = state.ExitCode()
		e.Signal = exitSignal(state)
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		// non-zero exit or signal, already captured from the process state
	case errors.Is(err, exec.ErrWaitDelay):
		// output pipes were held open by a descendant; the process itself exited
	default:
		e.Err = err
		if state == nil {
			e.Code = -1
		}
	}
	return e
}
